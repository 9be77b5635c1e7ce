package structlog

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func logLine(t *testing.T, buf *bytes.Buffer) map[string]interface{} {
	t.Helper()
	var m map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &m))
	return m
}

func TestLoggerEmitsJSONWithStandardFields(t *testing.T) {
	var buf bytes.Buffer
	logger := New("sentra-ingest", LevelInfo, &buf)

	logger.Info("event stored", Fields{"event_id": "evt-1"})

	line := logLine(t, &buf)
	assert.Equal(t, "INFO", line["level"])
	assert.Equal(t, "sentra-ingest", line["service"])
	assert.Equal(t, "event stored", line["message"])
	assert.Equal(t, "evt-1", line["event_id"])
	assert.NotEmpty(t, line["timestamp"])
}

func TestLoggerLevelThreshold(t *testing.T) {
	var buf bytes.Buffer
	logger := New("test", LevelWarn, &buf)

	logger.Debug("noise", nil)
	logger.Info("noise", nil)
	assert.Zero(t, buf.Len())

	logger.Warn("kept", nil)
	assert.NotZero(t, buf.Len())
}

func TestLoggerMasksSensitiveFields(t *testing.T) {
	var buf bytes.Buffer
	logger := New("test", LevelInfo, &buf)

	logger.Info("resolved tenant", Fields{"api_key": "sk-live-123", "tenant_id": "org-1"})

	line := logLine(t, &buf)
	assert.Equal(t, "MASKED", line["api_key"])
	assert.Equal(t, "org-1", line["tenant_id"])
}

func TestWithFieldsAttachesBaseFields(t *testing.T) {
	var buf bytes.Buffer
	logger := New("test", LevelInfo, &buf).WithFields(Fields{"component": "pipeline"})

	logger.Info("hello", nil)

	assert.Equal(t, "pipeline", logLine(t, &buf)["component"])
}

func TestWithContextAttachesCorrelationID(t *testing.T) {
	var buf bytes.Buffer
	logger := New("test", LevelInfo, &buf)
	ctx := ContextWithCorrelationID(context.Background(), "corr-42")

	logger.WithContext(ctx).Info("hello", nil)

	assert.Equal(t, "corr-42", logLine(t, &buf)["correlation_id"])
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, LevelDebug, ParseLevel("debug"))
	assert.Equal(t, LevelWarn, ParseLevel("WARN"))
	assert.Equal(t, LevelInfo, ParseLevel("bogus"))
}
