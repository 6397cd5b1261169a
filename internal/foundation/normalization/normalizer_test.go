package normalization

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type level string

const (
	levelDebug level = "debug"
	levelInfo  level = "info"
	levelWarn  level = "warn"
)

func newLevels() *Normalizer[level] {
	return NewNormalizer(map[string]level{
		"debug":   levelDebug,
		"info":    levelInfo,
		"warn":    levelWarn,
		"Warning": levelWarn,
	}, levelInfo)
}

func TestNormalize(t *testing.T) {
	n := newLevels()
	tests := map[string]level{
		"debug":    levelDebug,
		"DEBUG":    levelDebug,
		"  warn  ": levelWarn,
		"warning":  levelWarn,
		"verbose":  levelInfo,
		"":         levelInfo,
	}
	for in, want := range tests {
		assert.Equal(t, want, n.Normalize(in), "input %q", in)
	}
}

func TestStrict(t *testing.T) {
	n := newLevels()

	v, err := n.Strict("Debug")
	require.NoError(t, err)
	assert.Equal(t, levelDebug, v)

	v, err = n.Strict(" ")
	require.NoError(t, err)
	assert.Equal(t, levelInfo, v)

	_, err = n.Strict("trace")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "debug, info, warn, warning")
}

func TestKeys(t *testing.T) {
	assert.Equal(t, []string{"debug", "info", "warn", "warning"}, newLevels().Keys())
}
