// Command approvals serves the approval workflow API and runs the SLA monitor.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/merchplan/approvals/pkg/sla"
	cli "github.com/urfave/cli/v3"
)

const defaultPort = 9091

func main() {
	if err := newApp().Run(context.Background(), os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newApp() *cli.Command {
	return &cli.Command{
		Name:                  "approvals",
		Usage:                 "Multi-step approval workflows for merchandise planning",
		EnableShellCompletion: true,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "database-url",
				Usage:   "Database connection URL (postgres://, sqlite://, file://)",
				Sources: cli.EnvVars("DATABASE_URL"),
			},
			&cli.StringFlag{
				Name:    "event-bus",
				Usage:   "Event bus type (gochannel, kafka)",
				Value:   "gochannel",
				Sources: cli.EnvVars("EVENT_BUS_TYPE"),
			},
			&cli.StringFlag{
				Name:    "kafka-brokers",
				Usage:   "Comma separated Kafka brokers",
				Sources: cli.EnvVars("KAFKA_BROKERS"),
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
			&cli.StringFlag{
				Name:    "definitions",
				Usage:   "YAML workflow definitions file, the built-in catalog when empty",
				Sources: cli.EnvVars("WORKFLOW_DEFINITIONS"),
			},
			&cli.StringFlag{
				Name:    "directory",
				Usage:   "YAML file mapping roles to user ids",
				Sources: cli.EnvVars("ROLE_DIRECTORY"),
			},
			&cli.DurationFlag{
				Name:    "directory-ttl",
				Usage:   "How long resolved role members are cached, 0 disables caching",
				Value:   time.Minute,
				Sources: cli.EnvVars("ROLE_DIRECTORY_TTL"),
			},
			&cli.DurationFlag{
				Name:    "sla-warning-window",
				Usage:   "Warn about steps due within this window",
				Value:   sla.DefaultWarningWindow,
				Sources: cli.EnvVars("SLA_WARNING_WINDOW"),
			},
			&cli.BoolFlag{
				Name:    "tracing",
				Usage:   "Export OpenTelemetry traces over OTLP/HTTP",
				Sources: cli.EnvVars("OTEL_ENABLED"),
			},
		},
		Commands: []*cli.Command{
			APICommand(),
			SLAMonitorCommand(),
			CheckSLACommand(),
			DefinitionsCommand(),
		},
	}
}
