package main

import (
	"context"
	"testing"

	"github.com/merchplan/approvals/pkg/otelhelper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"
)

func TestNewService_ShutsDownTracerOnFailure(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{
			name: "unsupported database",
			args: []string{"--database-url", "bogus://nowhere"},
		},
		{
			name: "unsupported event bus",
			args: []string{"--database-url", "file://" + t.TempDir(), "--event-bus", "carrier-pigeon"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var shutdowns int

			previous := newTracer
			newTracer = func(context.Context, string) (trace.Tracer, otelhelper.ShutdownFunc, error) {
				return otelhelper.NoopTracer(), func(context.Context) error {
					shutdowns++

					return nil
				}, nil
			}

			t.Cleanup(func() { newTracer = previous })

			args := append([]string{"approvals", "--tracing", "--log-level", "error"}, tt.args...)
			args = append(args, "check-sla")

			err := newApp().Run(t.Context(), args)
			require.Error(t, err)

			assert.Equal(t, 1, shutdowns)
		})
	}
}
