package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultEntries(t *testing.T) {
	entries := DefaultEntries()
	require.NotEmpty(t, entries)

	seen := make(map[string]bool)
	for _, e := range entries {
		assert.NoError(t, ValidateKey(e.Key), e.Key)
		assert.NotEmpty(t, e.Description, e.Key)
		assert.False(t, seen[e.Key], "duplicate key %s", e.Key)
		seen[e.Key] = true
	}

	for _, key := range []string{
		"workers", "queue_size", "debug", "log_level", "output_dir", "memory_limit_mb",
		"metrics.enabled", "metrics.addr",
		"stages.default_rotation", "stages.deskew_max_angle", "stages.content_threshold",
		"stages.margins.top", "stages.grayscale_output",
	} {
		assert.True(t, seen[key], "missing key %s", key)
	}
}

func TestDefaultValue(t *testing.T) {
	v, err := DefaultValue("stages.content_threshold")
	require.NoError(t, err)
	assert.Equal(t, 128, v)

	_, err = DefaultValue("nope")
	assert.ErrorIs(t, err, ErrNoDefault)
}
