package server

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cache"
	"github.com/gofiber/fiber/v2/middleware/compress"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/filesystem"
	"github.com/gofiber/fiber/v2/middleware/proxy"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	"smartcommunity/config"
	"smartcommunity/face"
	"smartcommunity/feeds"
	"smartcommunity/models"
	"smartcommunity/schema"
)

const jsonContentType = "application/json; charset=utf-8"

type ServerConfig struct {
	Config *config.Config

	// Aggregator serving /feed. Its registry backs /feed/origins.
	Aggregator *feeds.Aggregator

	Schema *schema.Publisher

	// Bridge serving /face. Nil leaves the endpoint unmounted.
	Bridge *face.Bridge
}

// Returns a fiber.App serving the feed endpoints, the face bridge, the
// upstream mounts and the web app
func Server(sc *ServerConfig) *fiber.App {
	cfg := sc.Config

	app := fiber.New(fiber.Config{
		AppName:               cfg.AppName,
		DisableStartupMessage: true,
	})

	// Middleware to track the latency of each request
	app.Use(func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		ip := c.Get("cf-connecting-ip")
		if ip == "" {
			ip = c.IP()
		}
		log.WithFields(log.Fields{
			"method":  c.Method(),
			"route":   c.Route().Path,
			"status":  c.Response().StatusCode(),
			"ip":      ip,
			"latency": time.Since(start),
		}).Info("Request")
		return err
	})

	app.Use(requestid.New(requestid.ConfigDefault))

	corsOrigins := cfg.CorsOrigins
	if corsOrigins == "" {
		corsOrigins = "*"
	}
	app.Use(cors.New(cors.Config{
		AllowOrigins: corsOrigins,
		AllowHeaders: "Origin, Content-Type, Accept, Cache-Control, " + face.HeaderAPIVersion,
	}))

	app.Use(compress.New(compress.Config{
		Next: func(c *fiber.Ctx) bool {
			return !strings.HasPrefix(c.Path(), "/feed")
		},
	}))

	// Origins and schema never change while the process runs
	app.Use(cache.New(cache.Config{
		Next: func(c *fiber.Ctx) bool {
			if c.Method() != fiber.MethodGet {
				return true
			}
			return c.Path() != "/feed/origins" && c.Path() != "/feed/schema"
		},
		Expiration: time.Hour,
	}))

	feed := app.Group("/feed")
	feed.Get("/origins", func(c *fiber.Ctx) error {
		return c.JSON(sc.Aggregator.Registry().Describe())
	})
	feed.Get("/schema", func(c *fiber.Ctx) error {
		c.Set(fiber.HeaderContentType, jsonContentType)
		return c.Send(sc.Schema.Bytes())
	})
	feed.Get("/", func(c *fiber.Ctx) error {
		return handleFeed(c, sc.Aggregator)
	})

	if sc.Bridge != nil {
		app.Get("/face", sc.Bridge.Upgrade, sc.Bridge.Handler())
	}

	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	mountUpstream(app, cfg.ApiPath, cfg.BaasUpstream, func(c *fiber.Ctx) error {
		if cfg.AppId != "" && c.Get("X-Parse-Application-Id") == "" {
			c.Request().Header.Set("X-Parse-Application-Id", cfg.AppId)
		}
		return nil
	})
	mountUpstream(app, cfg.DashPath, cfg.DashUpstream, nil)

	if cfg.AppPath != "" {
		// Serve the web app
		app.Use("/", filesystem.New(filesystem.Config{
			Browse: false,
			Index:  "index.html",
			Root:   http.Dir(cfg.AppPath),
		}))
	}

	return app
}

func handleFeed(c *fiber.Ctx, aggregator *feeds.Aggregator) error {
	var origins []models.FeedOrigin
	for _, raw := range c.Context().QueryArgs().PeekMulti("origin") {
		if origin := strings.TrimSpace(string(raw)); origin != "" {
			origins = append(origins, models.FeedOrigin(origin))
		}
	}

	page := 1
	if raw := c.Query("page"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			page = n
		} else {
			log.WithFields(log.Fields{
				"page":  raw,
				"error": err,
			}).Warn("Invalid page, using 1")
		}
	}

	if len(origins) == 0 {
		return c.Status(fiber.StatusBadRequest).SendString("No origin specified.")
	}

	// Pagination is accepted but the whole result set is always returned
	log.WithFields(log.Fields{
		"origins": origins,
		"page":    page,
	}).Info("Aggregate feed")

	result, err := aggregator.Aggregate(c.UserContext(), origins)
	if errors.Is(err, feeds.ErrNoOrigin) {
		return c.Status(fiber.StatusBadRequest).SendString("No origin specified.")
	}
	if err != nil {
		log.WithField("error", err).Error("Failed to aggregate feed")
		return fiber.ErrInternalServerError
	}
	return c.Status(fiber.StatusOK).JSON(result)
}

// mountUpstream forwards every request below prefix to upstream. Nothing is
// mounted when upstream is empty.
func mountUpstream(app *fiber.App, prefix, upstream string, modify fiber.Handler) {
	if prefix == "" {
		return
	}
	if upstream == "" {
		log.WithField("prefix", prefix).Info("No upstream configured, not mounting")
		return
	}

	log.WithFields(log.Fields{
		"prefix":   prefix,
		"upstream": upstream,
	}).Info("Mounting upstream")

	app.Use(prefix, proxy.Balancer(proxy.Config{
		Servers:       []string{upstream},
		ModifyRequest: modify,
		Timeout:       60 * time.Second,
	}))
}
