package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/dukex/flowpages/pkg/cmd"
	"github.com/dukex/flowpages/pkg/log"
	"github.com/dukex/flowpages/pkg/otelhelper"
	"github.com/dukex/flowpages/pkg/services"
	"github.com/dukex/flowpages/pkg/web"
	"github.com/joho/godotenv"
	cli "github.com/urfave/cli/v3"
)

const defaultPort = 9092

func main() {
	_ = godotenv.Load()

	command := &cli.Command{
		Name:                  "flowpages-relay",
		Usage:                 "Relay workflow runs between web pages and workflow webhooks",
		EnableShellCompletion: true,
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Port to run the relay on",
				Value:   defaultPort,
				Sources: cli.EnvVars("PORT"),
			},
			&cli.StringFlag{
				Name:    "database-url",
				Usage:   "Run store URL (a directory path, file://, redis:// or postgres://)",
				Value:   "./data/runs",
				Sources: cli.EnvVars("DATABASE_URL"),
			},
			&cli.StringFlag{
				Name:    "event-bus",
				Usage:   "Update bus type (gochannel, kafka)",
				Value:   "gochannel",
				Sources: cli.EnvVars("EVENT_BUS_TYPE"),
			},
			&cli.StringSliceFlag{
				Name:    "kafka-brokers",
				Usage:   "Kafka brokers for the kafka update bus",
				Sources: cli.EnvVars("KAFKA_BROKERS"),
			},
			&cli.StringFlag{
				Name:    "token",
				Usage:   "Static bearer token required on every route but the workflow callback",
				Sources: cli.EnvVars("FLOWPAGES_TOKEN"),
			},
			&cli.DurationFlag{
				Name:    "heartbeat",
				Usage:   "Interval between stream heartbeats",
				Value:   web.DefaultHeartbeat,
				Sources: cli.EnvVars("STREAM_HEARTBEAT"),
			},
			&cli.DurationFlag{
				Name:    "run-ttl",
				Usage:   "How long finished runs are kept",
				Value:   services.DefaultRunTTL,
				Sources: cli.EnvVars("RUN_TTL"),
			},
			&cli.StringFlag{
				Name:    "prune-schedule",
				Usage:   "Cron schedule for pruning finished runs",
				Value:   services.DefaultPruneSchedule,
				Sources: cli.EnvVars("PRUNE_SCHEDULE"),
			},
			&cli.BoolFlag{
				Name:    "echo-runner",
				Usage:   "Host an echo workflow at /workflows/:workflowId/webhook/",
				Sources: cli.EnvVars("ECHO_RUNNER"),
			},
			&cli.BoolFlag{
				Name:    "tracing",
				Usage:   "Export OTLP traces (configured by OTEL_EXPORTER_OTLP_* variables)",
				Sources: cli.EnvVars("TRACING_ENABLED"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "info",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
			&cli.StringFlag{
				Name:    "log-format",
				Usage:   "Log format (text, json)",
				Value:   "text",
				Sources: cli.EnvVars("LOG_FORMAT"),
			},
		},
		Action: run,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := command.Run(ctx, os.Args); err != nil {
		log.WithModule("relay").Error("Relay stopped", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, command *cli.Command) error {
	log.Setup(command.String("log-level"), command.String("log-format"))

	logger := log.WithModule("relay")

	logger.InfoContext(ctx, "Initializing FlowPages relay")

	if command.Bool("tracing") {
		tracerProvider, err := otelhelper.InitTracerProvider(ctx, "flowpages-relay")
		if err != nil {
			return fmt.Errorf("failed to initialize tracer: %w", err)
		}

		defer func() {
			if err := tracerProvider.Shutdown(context.Background()); err != nil {
				logger.Error("Failed to shutdown tracer provider", "error", err)
			}
		}()
	}

	persistence, err := cmd.NewPersistence(ctx, logger, command.String("database-url"))
	if err != nil {
		return err
	}

	defer func() {
		if err := persistence.Close(context.Background()); err != nil {
			logger.Error("Failed to close persistence", "error", err)
		}
	}()

	eventBus, err := cmd.NewEventBus(command.String("event-bus"), command.StringSlice("kafka-brokers"), logger)
	if err != nil {
		return err
	}

	defer func() {
		if err := eventBus.Close(); err != nil {
			logger.Error("Failed to close event bus", "error", err)
		}
	}()

	opts := services.RunsOptions{Logger: logger}
	if command.Bool("echo-runner") {
		opts.Runner = services.NewEchoRunner()
	}

	runs := services.NewRuns(persistence, eventBus, opts)
	if err := runs.Listen(ctx); err != nil {
		return fmt.Errorf("failed to subscribe to the update bus: %w", err)
	}

	pruner := services.NewPruner(runs, command.String("prune-schedule"), command.Duration("run-ttl"), logger)
	if err := pruner.Start(ctx); err != nil {
		return err
	}
	defer pruner.Stop()

	port := command.Int("port")

	logger.InfoContext(ctx, "Relay listening", "port", port, "auth", command.String("token") != "")

	return NewRelay(logger, runs, command.String("token"), command.Duration("heartbeat")).Start(ctx, port)
}
