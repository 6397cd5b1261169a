package config

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeLogLevel(t *testing.T) {
	assert.Equal(t, LogLevelWarn, NormalizeLogLevel(" Warning "))
	assert.Equal(t, LogLevelInfo, NormalizeLogLevel("loud"))
}

func TestNormalize_RejectsUnknownLogging(t *testing.T) {
	cfg := Default()
	cfg.Logging.Level = "loud"
	require.Error(t, cfg.Normalize())

	cfg = Default()
	cfg.Logging.Format = "xml"
	require.Error(t, cfg.Normalize())

	cfg = Default()
	cfg.Logging = LoggingConfig{Level: " WARNING ", Format: ""}
	require.NoError(t, cfg.Normalize())
	assert.Equal(t, LogLevelWarn, cfg.Logging.Level)
	assert.Equal(t, LogFormatText, cfg.Logging.Format)
}

func TestNewLogger(t *testing.T) {
	t.Setenv("FRONTBUILD_LOG_LEVEL", "")

	var buf bytes.Buffer
	logger := NewLogger(&buf, LoggingConfig{Level: LogLevelWarn, Format: LogFormatJSON}, false)
	logger.Info("hidden")
	logger.Warn("shown", "stage", "compile")
	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.True(t, strings.HasPrefix(out, "{"), "json handler expected, got %q", out)
	assert.Contains(t, out, `"stage":"compile"`)

	buf.Reset()
	NewLogger(&buf, LoggingConfig{Level: LogLevelError}, true).Debug("verbose wins")
	assert.Contains(t, buf.String(), "verbose wins")
}

func TestNewLogger_EnvOverride(t *testing.T) {
	t.Setenv("FRONTBUILD_LOG_LEVEL", "debug")
	var buf bytes.Buffer
	NewLogger(&buf, LoggingConfig{Level: LogLevelError}, false).Debug("from env")
	assert.Contains(t, buf.String(), "from env")
}
