// Package svcctx carries the process-wide services through context so CLI
// commands and HTTP handlers extract only what they need.
package svcctx

import (
	"context"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/jackzampolin/pagetailor/internal/config"
	"github.com/jackzampolin/pagetailor/internal/home"
	"github.com/jackzampolin/pagetailor/internal/metrics"
)

// Services holds all core services that flow through context.
type Services struct {
	Logger      *slog.Logger
	Config      *config.Manager
	ConfigStore config.Store
	Home        *home.Dir
	Recorder    metrics.Recorder
	Registry    *prometheus.Registry
}

type servicesKey struct{}

// WithServices returns a new context with services attached.
func WithServices(ctx context.Context, s *Services) context.Context {
	return context.WithValue(ctx, servicesKey{}, s)
}

// ServicesFrom extracts the full Services struct from context.
// Returns nil if not present.
func ServicesFrom(ctx context.Context) *Services {
	s, _ := ctx.Value(servicesKey{}).(*Services)
	return s
}

// LoggerFrom extracts the logger from context, falling back to the default.
func LoggerFrom(ctx context.Context) *slog.Logger {
	if s := ServicesFrom(ctx); s != nil && s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}

// ConfigFrom extracts the config manager from context.
func ConfigFrom(ctx context.Context) *config.Manager {
	if s := ServicesFrom(ctx); s != nil {
		return s.Config
	}
	return nil
}

// ConfigStoreFrom extracts the config store from context.
func ConfigStoreFrom(ctx context.Context) config.Store {
	if s := ServicesFrom(ctx); s != nil {
		return s.ConfigStore
	}
	return nil
}

// HomeFrom extracts the home directory from context.
func HomeFrom(ctx context.Context) *home.Dir {
	if s := ServicesFrom(ctx); s != nil {
		return s.Home
	}
	return nil
}

// RecorderFrom extracts the metrics recorder from context. It never
// returns nil.
func RecorderFrom(ctx context.Context) metrics.Recorder {
	if s := ServicesFrom(ctx); s != nil {
		return metrics.OrNoop(s.Recorder)
	}
	return metrics.NoopRecorder{}
}

// RegistryFrom extracts the Prometheus registry from context.
func RegistryFrom(ctx context.Context) *prometheus.Registry {
	if s := ServicesFrom(ctx); s != nil {
		return s.Registry
	}
	return nil
}
