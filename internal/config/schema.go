package config

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/jackzampolin/pagetailor/internal/jobs"
	"github.com/jackzampolin/pagetailor/internal/metrics"
	"github.com/jackzampolin/pagetailor/internal/pipeline"
	"github.com/jackzampolin/pagetailor/internal/stages"
)

// Config holds pagetailor configuration.
// Stored at: ~/.pagetailor/config.yaml
type Config struct {
	Workers       int        `mapstructure:"workers" yaml:"workers"`       // 0 means one per CPU
	QueueSize     int        `mapstructure:"queue_size" yaml:"queue_size"` // 0 means 4 per worker
	Debug         bool       `mapstructure:"debug" yaml:"debug"`
	LogLevel      string     `mapstructure:"log_level" yaml:"log_level"`
	OutputDir     string     `mapstructure:"output_dir" yaml:"output_dir"` // supports ${ENV_VAR} syntax
	MemoryLimitMB int        `mapstructure:"memory_limit_mb" yaml:"memory_limit_mb"`
	ReserveMB     int        `mapstructure:"reserve_mb" yaml:"reserve_mb"`
	Metrics       MetricsCfg `mapstructure:"metrics" yaml:"metrics"`
	Stages        StagesCfg  `mapstructure:"stages" yaml:"stages"`
}

// MetricsCfg configures the Prometheus endpoint.
type MetricsCfg struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Addr    string `mapstructure:"addr" yaml:"addr"`
}

// StagesCfg holds the per-page defaults applied before processing.
type StagesCfg struct {
	DefaultRotation  int            `mapstructure:"default_rotation" yaml:"default_rotation"` // degrees clockwise
	DeskewMaxAngle   float64        `mapstructure:"deskew_max_angle" yaml:"deskew_max_angle"`
	ContentThreshold int            `mapstructure:"content_threshold" yaml:"content_threshold"` // 0-255
	Margins          stages.Margins `mapstructure:"margins" yaml:"margins"`
	GrayscaleOutput  bool           `mapstructure:"grayscale_output" yaml:"grayscale_output"`
}

// DefaultConfig returns configuration with sensible defaults.
func DefaultConfig() *Config {
	d := stages.DefaultDefaults()
	return &Config{
		LogLevel:      "info",
		OutputDir:     "out",
		MemoryLimitMB: 0,
		ReserveMB:     64,
		Metrics: MetricsCfg{
			Addr: "127.0.0.1:9464",
		},
		Stages: StagesCfg{
			DefaultRotation:  int(d.Rotation),
			DeskewMaxAngle:   d.DeskewMaxAngle,
			ContentThreshold: int(d.ContentThreshold),
			Margins:          d.Margins,
			GrayscaleOutput:  d.Grayscale,
		},
	}
}

// Validate checks value ranges.
func (c *Config) Validate() error {
	switch {
	case c.Workers < 0:
		return fmt.Errorf("%w: workers must not be negative", ErrInvalidConfig)
	case c.QueueSize < 0:
		return fmt.Errorf("%w: queue_size must not be negative", ErrInvalidConfig)
	case c.MemoryLimitMB < 0 || c.ReserveMB < 0:
		return fmt.Errorf("%w: memory sizes must not be negative", ErrInvalidConfig)
	case c.Stages.DefaultRotation%90 != 0:
		return fmt.Errorf("%w: stages.default_rotation must be a multiple of 90", ErrInvalidConfig)
	case c.Stages.DeskewMaxAngle < 0 || c.Stages.DeskewMaxAngle > 45:
		return fmt.Errorf("%w: stages.deskew_max_angle must be within 0-45", ErrInvalidConfig)
	case c.Stages.ContentThreshold < 1 || c.Stages.ContentThreshold > 255:
		return fmt.Errorf("%w: stages.content_threshold must be within 1-255", ErrInvalidConfig)
	}
	m := c.Stages.Margins
	if m.Top < 0 || m.Right < 0 || m.Bottom < 0 || m.Left < 0 {
		return fmt.Errorf("%w: margins must not be negative", ErrInvalidConfig)
	}
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		return err
	}
	return nil
}

// ParseLogLevel maps debug/info/warn/error to a slog level.
func ParseLogLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return slog.LevelInfo, fmt.Errorf("%w: log_level %q", ErrInvalidConfig, s)
	}
	return level, nil
}

// ResolvedOutputDir returns OutputDir with ${ENV_VAR} references expanded.
func (c *Config) ResolvedOutputDir() string {
	return ResolveEnvVars(c.OutputDir)
}

// ToStageDefaults converts the stage settings for stages.NewSet.
func (c *Config) ToStageDefaults() stages.Defaults {
	return stages.Defaults{
		Rotation:         pipeline.Rotation(c.Stages.DefaultRotation).Normalize(),
		DeskewMaxAngle:   c.Stages.DeskewMaxAngle,
		ContentThreshold: uint8(c.Stages.ContentThreshold),
		Margins:          c.Stages.Margins,
		Grayscale:        c.Stages.GrayscaleOutput,
	}
}

// ToPoolConfig converts the worker settings for jobs.NewPool.
func (c *Config) ToPoolConfig(logger *slog.Logger, recorder metrics.Recorder) jobs.PoolConfig {
	return jobs.PoolConfig{
		Name:      "pages",
		Logger:    logger,
		Recorder:  recorder,
		Workers:   c.Workers,
		QueueSize: c.QueueSize,
	}
}
