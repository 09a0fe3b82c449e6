package log_test

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/merchplan/approvals/pkg/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewHandler_Levels(t *testing.T) {
	tests := []struct {
		level   string
		debug   bool
		info    bool
		warning bool
	}{
		{"debug", true, true, true},
		{"info", false, true, true},
		{"WARN", false, false, true},
		{"error", false, false, false},
		{"nonsense", false, true, true},
		{"", false, true, true},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			handler := log.NewHandler(&bytes.Buffer{}, tt.level, "text")

			assert.Equal(t, tt.debug, handler.Enabled(t.Context(), slog.LevelDebug))
			assert.Equal(t, tt.info, handler.Enabled(t.Context(), slog.LevelInfo))
			assert.Equal(t, tt.warning, handler.Enabled(t.Context(), slog.LevelWarn))
		})
	}
}

func TestNewHandler_JSON(t *testing.T) {
	var buf bytes.Buffer

	logger := slog.New(log.NewHandler(&buf, "info", "json"))
	logger.Info("Workflow created", "workflow_id", "wf-1")

	var record map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))

	assert.Equal(t, "Workflow created", record["msg"])
	assert.Equal(t, "wf-1", record["workflow_id"])
}

func TestNewHandler_Text(t *testing.T) {
	var buf bytes.Buffer

	logger := slog.New(log.NewHandler(&buf, "info", ""))
	logger.Info("Workflow created", "workflow_id", "wf-1")

	assert.Contains(t, buf.String(), "msg=\"Workflow created\"")
	assert.Contains(t, buf.String(), "workflow_id=wf-1")
}
