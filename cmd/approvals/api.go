package main

import (
	"context"
	"errors"
	"log/slog"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/adaptor"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/healthcheck"
	"github.com/gofiber/fiber/v3/middleware/logger"
	"github.com/merchplan/approvals/pkg/persistence"
	"github.com/merchplan/approvals/pkg/sla"
	"github.com/merchplan/approvals/pkg/web"
	"github.com/merchplan/approvals/pkg/workflow"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	cli "github.com/urfave/cli/v3"
)

type API struct {
	logger      *slog.Logger
	persistence persistence.Persistence
	engine      *workflow.Engine
	checker     sla.Checker
	gatherer    prometheus.Gatherer
	validate    *validator.Validate
}

func NewAPI(
	logger *slog.Logger,
	persistence persistence.Persistence,
	engine *workflow.Engine,
	checker sla.Checker,
	gatherer prometheus.Gatherer,
) *API {
	return &API{
		logger:      logger,
		persistence: persistence,
		engine:      engine,
		checker:     checker,
		gatherer:    gatherer,
		validate:    validator.New(validator.WithRequiredStructEnabled()),
	}
}

func (a *API) App() *fiber.App {
	handlers := web.NewAPIHandlers(a.engine, a.checker, a.persistence, a.validate)

	app := fiber.New()
	app.Use(cors.New())
	app.Use(logger.New(logger.Config{
		DisableColors: true,
	}))

	app.Get(healthcheck.DefaultLivenessEndpoint, healthcheck.NewHealthChecker())
	app.Get(healthcheck.DefaultReadinessEndpoint, healthcheck.NewHealthChecker(healthcheck.Config{
		Probe: func(c fiber.Ctx) bool {
			return a.persistence.HealthCheck(c.Context()) == nil
		},
	}))
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(a.gatherer, promhttp.HandlerOpts{})))

	app.Get("/", func(c fiber.Ctx) error {
		return c.SendString("Approvals API")
	})

	handlers.Register(app)

	return app
}

// Start serves until ctx is cancelled.
func (a *API) Start(ctx context.Context, port int) error {
	app := a.App()

	errs := make(chan error, 1)

	go func() {
		errs <- app.Listen(":"+strconv.Itoa(port), fiber.ListenConfig{DisableStartupMessage: true})
	}()

	a.logger.InfoContext(ctx, "Approvals API listening", "port", port)

	select {
	case err := <-errs:
		return err
	case <-ctx.Done():
	}

	return app.ShutdownWithTimeout(10 * time.Second)
}

func APICommand() *cli.Command {
	return &cli.Command{
		Name:  "api",
		Usage: "Serve the approvals HTTP API",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Port to run the API server on",
				Value:   defaultPort,
				Sources: cli.EnvVars("PORT"),
			},
			&cli.BoolFlag{
				Name:    "with-sla-monitor",
				Usage:   "Also run the scheduled SLA monitor in this process",
				Sources: cli.EnvVars("WITH_SLA_MONITOR"),
			},
			slaScheduleFlag(),
			redisURLFlag(),
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			svc, err := newService(ctx, command, "api")
			if err != nil {
				return err
			}
			defer svc.Close(context.WithoutCancel(ctx))

			svc.logger.InfoContext(ctx, "Initializing Approvals API")

			if command.Bool("with-sla-monitor") {
				scheduler, err := newScheduler(command, svc)
				if err != nil {
					return err
				}

				if err := scheduler.Start(ctx); err != nil {
					return err
				}

				defer func() {
					if err := scheduler.Stop(context.WithoutCancel(ctx)); err != nil {
						svc.logger.ErrorContext(ctx, "Failed to stop SLA scheduler", "error", err)
					}
				}()
			}

			api := NewAPI(svc.logger, svc.persistence, svc.engine, svc.monitor, svc.gatherer)

			err = api.Start(ctx, command.Int("port"))
			if err != nil && !errors.Is(err, context.Canceled) {
				svc.logger.ErrorContext(ctx, "API server stopped", "error", err)

				return err
			}

			return nil
		},
	}
}
