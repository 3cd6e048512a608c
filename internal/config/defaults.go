package config

import (
	"errors"
	"fmt"
)

// ErrNoDefault is returned when no default value exists for a config key.
var ErrNoDefault = errors.New("no default exists")

// DefaultEntries returns every known configuration key with its default.
// The manager registers each one with viper so that environment variables
// and partial config files override individual keys.
func DefaultEntries() []Entry {
	cfg := DefaultConfig()
	return []Entry{
		// ===================
		// Processing
		// ===================
		{
			Key:         "workers",
			Value:       cfg.Workers,
			Description: "Worker goroutines processing pages (0 = one per CPU)",
		},
		{
			Key:         "queue_size",
			Value:       cfg.QueueSize,
			Description: "Submitted tasks the pool buffers (0 = 4 per worker)",
		},
		{
			Key:         "debug",
			Value:       cfg.Debug,
			Description: "Emit debug images for interactive runs",
		},
		{
			Key:         "output_dir",
			Value:       cfg.OutputDir,
			Description: "Directory output pages are written to (supports ${ENV_VAR})",
		},

		// ===================
		// Runtime
		// ===================
		{
			Key:         "log_level",
			Value:       cfg.LogLevel,
			Description: "Log level: debug, info, warn or error",
		},
		{
			Key:         "memory_limit_mb",
			Value:       cfg.MemoryLimitMB,
			Description: "Heap size that triggers cancelling all work (0 = unlimited)",
		},
		{
			Key:         "reserve_mb",
			Value:       cfg.ReserveMB,
			Description: "Emergency memory released when the heap limit is hit",
		},
		{
			Key:         "metrics.enabled",
			Value:       cfg.Metrics.Enabled,
			Description: "Serve Prometheus metrics while processing",
		},
		{
			Key:         "metrics.addr",
			Value:       cfg.Metrics.Addr,
			Description: "Listen address for the metrics endpoint",
		},

		// ===================
		// Stage defaults
		// ===================
		{
			Key:         "stages.default_rotation",
			Value:       cfg.Stages.DefaultRotation,
			Description: "Clockwise rotation applied to new images, in degrees",
		},
		{
			Key:         "stages.deskew_max_angle",
			Value:       cfg.Stages.DeskewMaxAngle,
			Description: "Largest skew angle searched by deskew, in degrees",
		},
		{
			Key:         "stages.content_threshold",
			Value:       cfg.Stages.ContentThreshold,
			Description: "Gray level below which a pixel counts as content",
		},
		{
			Key:         "stages.margins.top",
			Value:       cfg.Stages.Margins.Top,
			Description: "Top margin added around content, in pixels",
		},
		{
			Key:         "stages.margins.right",
			Value:       cfg.Stages.Margins.Right,
			Description: "Right margin added around content, in pixels",
		},
		{
			Key:         "stages.margins.bottom",
			Value:       cfg.Stages.Margins.Bottom,
			Description: "Bottom margin added around content, in pixels",
		},
		{
			Key:         "stages.margins.left",
			Value:       cfg.Stages.Margins.Left,
			Description: "Left margin added around content, in pixels",
		},
		{
			Key:         "stages.grayscale_output",
			Value:       cfg.Stages.GrayscaleOutput,
			Description: "Write output pages in grayscale",
		},
	}
}

// DefaultValue returns the default for a key.
func DefaultValue(key string) (any, error) {
	for _, e := range DefaultEntries() {
		if e.Key == key {
			return e.Value, nil
		}
	}
	return nil, fmt.Errorf("%w for key %q", ErrNoDefault, key)
}
