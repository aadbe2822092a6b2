// Package main provides the FlowPages relay server.
package main

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/dukex/flowpages/pkg/services"
	"github.com/dukex/flowpages/pkg/web"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/healthcheck"
	"github.com/gofiber/fiber/v3/middleware/logger"
)

type Relay struct {
	logger    *slog.Logger
	runs      *services.Runs
	token     string
	heartbeat time.Duration
	validate  *validator.Validate
}

func NewRelay(
	logger *slog.Logger,
	runs *services.Runs,
	token string,
	heartbeat time.Duration,
) *Relay {
	return &Relay{
		logger:    logger,
		runs:      runs,
		token:     token,
		heartbeat: heartbeat,
		validate:  validator.New(validator.WithRequiredStructEnabled()),
	}
}

func (r *Relay) App() *fiber.App {
	handlers := web.NewAPIHandlers(r.runs, r.validate, r.heartbeat, r.logger)

	app := fiber.New()
	app.Use(cors.New())
	app.Use(logger.New(logger.Config{
		DisableColors: true,
	}))

	app.Get(healthcheck.DefaultLivenessEndpoint, healthcheck.NewHealthChecker())
	app.Get(healthcheck.DefaultReadinessEndpoint, healthcheck.NewHealthChecker())

	app.Get("/", func(c fiber.Ctx) error {
		return c.SendString("FlowPages Relay")
	})

	web.Register(app, handlers, r.token)

	return app
}

// Start serves until ctx is cancelled.
func (r *Relay) Start(ctx context.Context, port int) error {
	app := r.App()

	go func() {
		<-ctx.Done()

		if err := app.Shutdown(); err != nil {
			r.logger.Error("Failed to shutdown relay", "error", err)
		}
	}()

	return app.Listen(":"+strconv.Itoa(port), fiber.ListenConfig{DisableStartupMessage: true})
}
