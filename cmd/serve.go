package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"smartcommunity/config"
	"smartcommunity/face"
	"smartcommunity/feeds"
	"smartcommunity/schema"
	"smartcommunity/server"
	"smartcommunity/supervisor"
)

// Flags shared by every command that builds the feed registry
func feedFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "origins-file",
			Usage:   "TOML file adding or overriding feed origins",
			EnvVars: []string{"SMARTCOMMUNITY_ORIGINS_FILE"},
		},
		&cli.DurationFlag{
			Name:    "feed-timeout",
			Usage:   "Timeout of a single origin fetch, 0 disables it",
			EnvVars: []string{"SMARTCOMMUNITY_FEED_TIMEOUT"},
			Value:   feeds.DefaultTimeout,
		},
	}
}

func serveFlags() []cli.Flag {
	cwd, _ := os.Getwd()

	return append([]cli.Flag{
		&cli.StringFlag{
			Name:    "project-path",
			Usage:   "Root directory holding db, res and python",
			EnvVars: []string{"SMARTCOMMUNITY_PROJECT_PATH"},
			Value:   cwd,
		},
		&cli.IntFlag{
			Name:    "port",
			Usage:   "Port of the HTTP server",
			EnvVars: []string{"SMARTCOMMUNITY_PORT"},
			Value:   1337,
		},
		&cli.IntFlag{
			Name:    "db-port",
			Usage:   "Port of the local MongoDB",
			EnvVars: []string{"SMARTCOMMUNITY_DB_PORT"},
			Value:   2007,
		},
		&cli.BoolFlag{
			Name:    "no-mongod",
			Usage:   "Do not start MongoDB, use one that is already running",
			EnvVars: []string{"SMARTCOMMUNITY_NO_MONGOD"},
		},
		&cli.StringFlag{
			Name:    "mongod-path",
			Usage:   "Path of the mongod binary",
			EnvVars: []string{"SMARTCOMMUNITY_MONGOD_PATH"},
			Value:   "mongod",
		},
		&cli.StringFlag{
			Name:    "app-id",
			Usage:   "Application id of the BaaS app",
			EnvVars: []string{"SMARTCOMMUNITY_APP_ID"},
			Value:   "smartcommunity",
		},
		&cli.StringFlag{
			Name:    "app-name",
			Usage:   "Application name",
			EnvVars: []string{"SMARTCOMMUNITY_APP_NAME"},
			Value:   "Smart Community",
		},
		&cli.StringFlag{
			Name:    "api-path",
			Usage:   "Mount path of the BaaS API",
			EnvVars: []string{"SMARTCOMMUNITY_API_PATH"},
			Value:   "/api",
		},
		&cli.StringFlag{
			Name:    "dash-path",
			Usage:   "Mount path of the admin dashboard",
			EnvVars: []string{"SMARTCOMMUNITY_DASH_PATH"},
			Value:   "/dash",
		},
		&cli.StringFlag{
			Name:    "baas-upstream",
			Usage:   "URL of the BaaS server mounted at the api path",
			EnvVars: []string{"SMARTCOMMUNITY_BAAS_UPSTREAM"},
		},
		&cli.StringFlag{
			Name:    "dash-upstream",
			Usage:   "URL of the dashboard mounted at the dash path",
			EnvVars: []string{"SMARTCOMMUNITY_DASH_UPSTREAM"},
		},
		&cli.StringFlag{
			Name:    "app-path",
			Usage:   "Directory of the built web app, empty disables static hosting",
			EnvVars: []string{"SMARTCOMMUNITY_APP_PATH"},
		},
		&cli.StringFlag{
			Name:    "cors-origins",
			Usage:   "Comma separated list of allowed CORS origins",
			EnvVars: []string{"SMARTCOMMUNITY_CORS_ORIGINS"},
			Value:   "*",
		},
		&cli.StringFlag{
			Name:    "python-path",
			Usage:   "Python interpreter running the face detector",
			EnvVars: []string{"SMARTCOMMUNITY_PYTHON_PATH"},
			Value:   "python3",
		},
		&cli.StringFlag{
			Name:    "face-script",
			Usage:   "Face detection script, defaults to python/face/detection.py in the project path. The script is not shipped and must be installed there",
			EnvVars: []string{"SMARTCOMMUNITY_FACE_SCRIPT"},
		},
	}, feedFlags()...)
}

func configFromFlags(ctx *cli.Context) *config.Config {
	return &config.Config{
		ProjectPath:  ctx.String("project-path"),
		DatabasePort: ctx.Int("db-port"),
		ServerPort:   ctx.Int("port"),
		NoMongod:     ctx.Bool("no-mongod"),
		MongodPath:   ctx.String("mongod-path"),
		AppId:        ctx.String("app-id"),
		AppName:      ctx.String("app-name"),
		ApiPath:      ctx.String("api-path"),
		DashPath:     ctx.String("dash-path"),
		BaasUpstream: ctx.String("baas-upstream"),
		DashUpstream: ctx.String("dash-upstream"),
		AppPath:      ctx.String("app-path"),
		CorsOrigins:  ctx.String("cors-origins"),
		OriginsFile:  ctx.String("origins-file"),
		FeedTimeout:  ctx.Duration("feed-timeout"),
		PythonPath:   ctx.String("python-path"),
		FaceScript:   ctx.String("face-script"),
	}
}

func serveCmd() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Serve the smart community backend",
		Description: `Starts MongoDB and the HTTP server.

Writes the feed schema, starts the local MongoDB and waits until it accepts
connections, then serves the feed endpoints, the face detection bridge, the
BaaS and dashboard upstreams and the web app on one port.

The face detection script is not shipped with this binary. Install it at
python/face/detection.py below the project path or point --face-script at it;
without it /face answers detection requests with an error.`,
		Flags: serveFlags(),
		Action: func(ctx *cli.Context) error {
			cfg := configFromFlags(ctx)
			if err := cfg.Validate(); err != nil {
				return err
			}
			if err := cfg.EnsureDirs(); err != nil {
				return err
			}

			publisher, err := schema.New()
			if err != nil {
				return err
			}
			schemaPath, err := publisher.WriteFile(cfg.SchemaPath())
			if err != nil {
				return err
			}
			log.WithField("path", schemaPath).Info("Wrote feed schema")

			registry, err := config.LoadRegistry(cfg.OriginsFile)
			if err != nil {
				return err
			}

			sigCtx, stop := signal.NotifyContext(ctx.Context, os.Interrupt, syscall.SIGTERM)
			defer stop()

			mongod := supervisor.New(supervisor.Options{
				Binary:   cfg.MongodPath,
				DataDir:  cfg.DbPath(),
				Port:     cfg.DatabasePort,
				Disabled: cfg.NoMongod,
			})
			if err := mongod.Start(sigCtx); err != nil {
				return err
			}
			defer mongod.Stop()

			log.WithFields(log.Fields{
				"database": cfg.DatabaseURI(),
				"server":   cfg.ServerURL(),
			}).Info("Database ready")

			aggregator := feeds.NewAggregator(registry, feeds.NewHTTPFetcher(nil, ""), feeds.WithTimeout(cfg.FeedTimeout))
			if _, err := os.Stat(cfg.DetectionScript()); err != nil {
				log.WithField("script", cfg.DetectionScript()).Warn("Face detection script not found, detection requests will fail")
			}
			bridge := face.NewBridge(face.PythonSpawner{
				Python: cfg.PythonPath,
				Script: cfg.DetectionScript(),
			})

			app := server.Server(&server.ServerConfig{
				Config:     cfg,
				Aggregator: aggregator,
				Schema:     publisher,
				Bridge:     bridge,
			})

			listenErr := make(chan error, 1)
			go func() {
				log.WithFields(log.Fields{
					"port":    cfg.ServerPort,
					"origins": registry.Len(),
				}).Info("Starting server")
				listenErr <- app.Listen(fmt.Sprintf(":%d", cfg.ServerPort))
			}()

			var runErr error
			select {
			case <-sigCtx.Done():
				log.Info("Gracefully shutting down...")
			case <-mongod.Done():
				runErr = fmt.Errorf("mongod exited unexpectedly: %v", mongod.Err())
			case err := <-listenErr:
				runErr = fmt.Errorf("server stopped: %w", err)
			}

			if err := app.ShutdownWithTimeout(60 * time.Second); err != nil {
				log.Warnf("Failed to shut down server: %v", err)
			}
			log.Info("Done!")
			return runErr
		},
	}
}
