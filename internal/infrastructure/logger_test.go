package infrastructure

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"licensegate/internal/config"
)

func decodeLastLine(t *testing.T, data []byte) map[string]interface{} {
	t.Helper()
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(lines[len(lines)-1]), &entry))
	return entry
}

// TestNewLogger_File tests JSON output to a log file
func TestNewLogger_File(t *testing.T) {
	defer ResetLoggerForTesting()

	logFile := filepath.Join(t.TempDir(), "logs", "test.log")
	logger, err := NewLogger(config.LoggingConfig{
		Level:    "info",
		Output:   "file",
		FilePath: logFile,
	}, os.Stdout)
	require.NoError(t, err)

	logger.Info("test message", "key", "value")
	require.NoError(t, CloseLogFile())

	content, err := os.ReadFile(logFile)
	require.NoError(t, err)

	entry := decodeLastLine(t, content)
	assert.Equal(t, "test message", entry["msg"])
	assert.Equal(t, "value", entry["key"])
	assert.Equal(t, "INFO", entry["level"])
}

// TestNewLogger_EmptyFilePath tests that file output without a path fails
func TestNewLogger_EmptyFilePath(t *testing.T) {
	_, err := NewLogger(config.LoggingConfig{Output: "both"}, os.Stdout)
	require.Error(t, err)
}

// TestTraceIDInjection tests that trace IDs in context reach the record
func TestTraceIDInjection(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewLogger(config.LoggingConfig{Level: "debug", Output: "console"}, &buf)
	require.NoError(t, err)

	ctx := WithTraceID(context.Background(), "test-trace-123")
	logger.InfoContext(ctx, "test with trace")

	entry := decodeLastLine(t, buf.Bytes())
	assert.Equal(t, "test-trace-123", entry["trace_id"])
}

// TestParseLogLevel tests level parsing
func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		level    string
		expected string
	}{
		{"debug", "DEBUG"},
		{"info", "INFO"},
		{"warn", "WARN"},
		{"warning", "WARN"},
		{"error", "ERROR"},
		{"bogus", "INFO"},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			assert.Equal(t, tt.expected, parseLogLevel(tt.level).String())
		})
	}
}

// TestContextHelpers tests trace ID helpers
func TestContextHelpers(t *testing.T) {
	ctx := context.Background()
	assert.Empty(t, GetTraceID(ctx))

	ctx = EnsureTraceID(ctx)
	traceID := GetTraceID(ctx)
	assert.Len(t, traceID, 36)

	// EnsureTraceID keeps an existing ID
	assert.Equal(t, traceID, GetTraceID(EnsureTraceID(ctx)))
}

// TestInitializeLogger tests global logger initialization happens once
func TestInitializeLogger(t *testing.T) {
	ResetLoggerForTesting()
	defer ResetLoggerForTesting()

	first, err := InitializeLogger(config.LoggingConfig{Level: "info", Output: "discard"})
	require.NoError(t, err)
	second, err := InitializeLogger(config.LoggingConfig{Level: "debug", Output: "console"})
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Same(t, first, GetLogger())
}

// TestWithComponent tests component loggers
func TestWithComponent(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewLogger(config.LoggingConfig{Output: "console"}, &buf)
	require.NoError(t, err)

	WithError(WithComponent(logger, "license"), assert.AnError).Info("hello")

	entry := decodeLastLine(t, buf.Bytes())
	assert.Equal(t, "license", entry["component"])
	assert.Equal(t, assert.AnError.Error(), entry["error"])
}
