package errors

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassifiedError(t *testing.T) {
	t.Run("builder sets fields", func(t *testing.T) {
		err := NewError(CategoryConfig, "invalid configuration").
			WithSeverity(SeverityFatal).
			WithContext("file", "frontbuild.yaml").
			Build()

		assert.Equal(t, CategoryConfig, err.Category())
		assert.Equal(t, SeverityFatal, err.Severity())
		file, ok := err.Context().Get("file")
		require.True(t, ok)
		assert.Equal(t, "frontbuild.yaml", file)
		assert.Equal(t, "config: invalid configuration", err.Error())
	})

	t.Run("detected through wrapping", func(t *testing.T) {
		inner := WrapError(errors.New("exit status 2"), CategoryTransform, "compile failed").Build()
		wrapped := fmt.Errorf("stage compile: %w", inner)

		assert.True(t, IsClassified(wrapped))
		assert.True(t, HasCategory(wrapped, CategoryTransform))
		assert.False(t, HasCategory(errors.New("plain"), CategoryTransform))
		assert.Equal(t, "stage compile: transform: compile failed: exit status 2", wrapped.Error())
	})

	t.Run("sentinels match with errors.Is", func(t *testing.T) {
		sentinel := EventStoreError("append failed").Build()
		err := WrapError(errors.New("disk full"), CategoryEventStore, "append failed").Build()
		assert.ErrorIs(t, fmt.Errorf("record: %w", err), sentinel)
		assert.NotErrorIs(t, err, EventStoreError("query failed").Build())
	})

	t.Run("upstream is informational", func(t *testing.T) {
		err := UpstreamError("dependency compile failed").Build()
		assert.Equal(t, SeverityInfo, err.Severity())
	})

	t.Run("WithContext does not mutate original", func(t *testing.T) {
		base := BuildError("boom").Build()
		extended := base.WithContext("stage", "bundle")
		_, ok := base.Context().Get("stage")
		assert.False(t, ok)
		v, _ := extended.Context().Get("stage")
		assert.Equal(t, "bundle", v)
	})

	t.Run("built errors are independent of the builder", func(t *testing.T) {
		b := TransformError("x").WithContext("stage", "styles")
		first := b.Build()
		b.WithContext("stage", "markup")
		v, _ := first.Context().Get("stage")
		assert.Equal(t, "styles", v)
	})
}

func TestRetryStrategies(t *testing.T) {
	original := errors.New("connection refused")
	err := WrapError(original, CategoryNetwork, "publish failed").WithRetry(RetryBackoff).Build()
	assert.ErrorIs(t, err, original)
	assert.True(t, err.CanRetry())

	assert.True(t, NetworkError("nats down").Build().CanRetry())
	assert.True(t, TransformError("tsc failed").Build().CanRetry(), "a source change reruns the stage")
	assert.False(t, ConfigError("bad").Build().CanRetry())
	assert.False(t, InternalError("nil map").Build().CanRetry())
}

func TestCLIErrorAdapter_ExitCodeFor(t *testing.T) {
	adapter := NewCLIErrorAdapter(false, slog.Default())

	tests := []struct {
		name     string
		err      error
		expected int
	}{
		{"nil error", nil, 0},
		{"validation", ValidationError("unknown target").Build(), 2},
		{"config", ConfigError("bad config").Build(), 7},
		{"network", NetworkError("listen").Build(), 8},
		{"eventstore", EventStoreError("append").Build(), 8},
		{"internal", InternalError("panic").Build(), 10},
		{"transform", TransformError("tsc failed").Build(), 11},
		{"filesystem", FileSystemError("write failed").Build(), 11},
		{"runtime", RuntimeError("listen failed").Build(), 12},
		{"wrapped transform", fmt.Errorf("run: %w", TransformError("x").Build()), 11},
		{"unknown category", NewError("other", "x").Build(), 1},
		{"unclassified", errors.New("unknown"), 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, adapter.ExitCodeFor(tt.err))
		})
	}
}

func TestCLIErrorAdapter_FormatError(t *testing.T) {
	quiet := NewCLIErrorAdapter(false, nil)

	msg := quiet.FormatError(WrapError(errors.New("line 3"), CategoryTransform, "compile failed").Build())
	assert.Equal(t, "Error: compile failed: line 3", msg)
	assert.Contains(t, quiet.FormatError(InternalError("nil map").Build()), "use -v")
	assert.Equal(t, "Error: plain", quiet.FormatError(errors.New("plain")))

	verbose := NewCLIErrorAdapter(true, nil)
	assert.Equal(t, "Error: config: bad", verbose.FormatError(ConfigError("bad").Build()))
}

func TestCLIErrorAdapter_HandleError(t *testing.T) {
	var logs, out bytes.Buffer
	adapter := NewCLIErrorAdapter(false, slog.New(slog.NewTextHandler(&logs, nil)))
	adapter.out = &out
	code := -1
	adapter.exit = func(c int) { code = c }

	adapter.HandleError(ConfigError("missing paths.src").WithContext("file", "frontbuild.yaml").Build())

	assert.Equal(t, 7, code)
	assert.Contains(t, out.String(), "missing paths.src")
	assert.Contains(t, logs.String(), "file=frontbuild.yaml")

	code = -1
	adapter.HandleError(nil)
	assert.Equal(t, -1, code)
}
