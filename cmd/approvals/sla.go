package main

import (
	"context"
	"encoding/json"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/merchplan/approvals/pkg/cmd"
	"github.com/merchplan/approvals/pkg/sla"
	cli "github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"
)

func slaScheduleFlag() cli.Flag {
	return &cli.StringFlag{
		Name:    "sla-schedule",
		Usage:   "Cron schedule of the SLA scan",
		Value:   sla.DefaultSchedule,
		Sources: cli.EnvVars("SLA_SCHEDULE"),
	}
}

func redisURLFlag() cli.Flag {
	return &cli.StringFlag{
		Name:    "redis-url",
		Usage:   "Redis URL for the scan lease when several monitors run",
		Sources: cli.EnvVars("REDIS_URL"),
	}
}

func newScheduler(command *cli.Command, svc *service) (*sla.Scheduler, error) {
	l, err := cmd.NewLease(command.String("redis-url"), 5*time.Minute)
	if err != nil {
		return nil, err
	}

	return sla.NewScheduler(svc.monitor, command.String("sla-schedule"), l, svc.logger)
}

func SLAMonitorCommand() *cli.Command {
	return &cli.Command{
		Name:  "sla-monitor",
		Usage: "Scan for SLA breaches and upcoming deadlines on a schedule",
		Flags: []cli.Flag{
			slaScheduleFlag(),
			redisURLFlag(),
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			svc, err := newService(ctx, command, "sla_monitor")
			if err != nil {
				return err
			}
			defer svc.Close(context.WithoutCancel(ctx))

			scheduler, err := newScheduler(command, svc)
			if err != nil {
				return err
			}

			if err := scheduler.Start(ctx); err != nil {
				return err
			}

			<-ctx.Done()

			svc.logger.Info("Shutting down SLA monitor")

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			return scheduler.Stop(shutdownCtx)
		},
	}
}

func CheckSLACommand() *cli.Command {
	return &cli.Command{
		Name:  "check-sla",
		Usage: "Run one SLA scan and print the counts",
		Action: func(ctx context.Context, command *cli.Command) error {
			svc, err := newService(ctx, command, "sla_monitor")
			if err != nil {
				return err
			}
			defer svc.Close(ctx)

			result, err := svc.monitor.Check(ctx)

			encoder := json.NewEncoder(os.Stdout)
			encoder.SetIndent("", "  ")

			if encodeErr := encoder.Encode(result); encodeErr != nil {
				return encodeErr
			}

			return err
		},
	}
}

func DefinitionsCommand() *cli.Command {
	return &cli.Command{
		Name:  "definitions",
		Usage: "Print the workflow definitions catalog",
		Action: func(_ context.Context, command *cli.Command) error {
			registry, err := cmd.NewRegistry(command.String("definitions"))
			if err != nil {
				return err
			}

			encoder := yaml.NewEncoder(os.Stdout)
			encoder.SetIndent(2)

			if err := encoder.Encode(map[string]any{"workflows": registry.Definitions()}); err != nil {
				return err
			}

			return encoder.Close()
		},
	}
}
