package cmd

import (
	"errors"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
)

func RootApp() *cli.App {
	return &cli.App{
		Name:  "smartcommunity",
		Usage: "Backend of the smart community app",
		Description: `Runs the smart community backend: supervises the local MongoDB
		process, aggregates news feeds from a set of known origins, bridges
		face detection clients to a python detector and hosts the web app.

		Flags can generally be set via environment variables, e.g.:

		--port => SMARTCOMMUNITY_PORT=1337
		--project-path => SMARTCOMMUNITY_PROJECT_PATH=/srv/smartcommunity

		A .env file in the working directory is loaded before flags are parsed.
		`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (trace, debug, info, warn, error)",
				EnvVars: []string{"SMARTCOMMUNITY_LOG_LEVEL"},
				Value:   "info",
			},
			&cli.StringFlag{
				Name:    "log-format",
				Usage:   "Log format (text or json)",
				EnvVars: []string{"SMARTCOMMUNITY_LOG_FORMAT"},
				Value:   "text",
			},
		},
		Before: func(ctx *cli.Context) error {
			level, err := log.ParseLevel(ctx.String("log-level"))
			if err != nil {
				return err
			}
			log.SetLevel(level)

			switch ctx.String("log-format") {
			case "json":
				log.SetFormatter(&log.JSONFormatter{})
			case "text":
				log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
			default:
				return errors.New("log format must be text or json")
			}
			return nil
		},
		Commands: []*cli.Command{
			serveCmd(),
			schemaCmd(),
			originsCmd(),
			fetchCmd(),
		},
		Action: func(ctx *cli.Context) error {
			// Show help if no command is specified
			return ctx.App.Run([]string{"", "help"})
		},
	}
}

// Execute loads .env and runs the app, exiting non-zero on error
func Execute() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Warnf("Failed to load .env file: %v", err)
	}

	if err := RootApp().Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
