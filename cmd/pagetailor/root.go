package main

import (
	"log/slog"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/jackzampolin/pagetailor/internal/config"
	"github.com/jackzampolin/pagetailor/internal/home"
	"github.com/jackzampolin/pagetailor/internal/metrics"
	"github.com/jackzampolin/pagetailor/internal/output"
	"github.com/jackzampolin/pagetailor/internal/svcctx"
	"github.com/jackzampolin/pagetailor/version"
)

var (
	cfgFile      string
	homeDir      string
	outputFormat string
	logLevel     string

	printer *output.Printer
)

var rootCmd = &cobra.Command{
	Use:   "pagetailor",
	Short: "Scanned page cleanup pipeline",
	Long: `Pagetailor turns raw book scans into clean, uniformly laid out pages.

Every page passes through six stages:
  - fix-orientation: rotate scans upright
  - page-split:      split two-page spreads
  - deskew:          straighten each page
  - select-content:  find the content box
  - page-layout:     apply margins and a common page size
  - output:          write the finished page`,
	Version:       version.GitRelease,
	SilenceUsage:  true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		format, err := output.ParseFormat(outputFormat)
		if err != nil {
			return err
		}
		printer = output.New(format)

		svc, err := buildServices()
		if err != nil {
			return err
		}
		cmd.SetContext(svcctx.WithServices(cmd.Context(), svc))
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(
		&cfgFile, "config", "", "config file (default: ./config.yaml or ~/.pagetailor/config.yaml)",
	)
	rootCmd.PersistentFlags().StringVar(
		&homeDir, "home", "", "pagetailor home directory (default: ~/.pagetailor)",
	)
	rootCmd.PersistentFlags().StringVarP(
		&outputFormat, "output", "o", "yaml", "output format: yaml or json",
	)
	rootCmd.PersistentFlags().StringVar(
		&logLevel, "log-level", "", "log level override: debug, info, warn, error",
	)

	rootCmd.AddCommand(versionCmd)
}

// buildServices loads configuration and wires the process-wide services.
func buildServices() (*svcctx.Services, error) {
	h, err := home.New(homeDir)
	if err != nil {
		return nil, err
	}

	path := cfgFile
	if path == "" && h.ConfigExists() {
		path = h.ConfigPath()
	}
	mgr, err := config.NewManager(path, slog.Default())
	if err != nil {
		return nil, err
	}

	level := mgr.Get().LogLevel
	if logLevel != "" {
		level = logLevel
	}
	lvl, err := config.ParseLogLevel(level)
	if err != nil {
		return nil, err
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
	slog.SetDefault(logger)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	return &svcctx.Services{
		Logger:      logger,
		Config:      mgr,
		ConfigStore: config.NewStore(mgr),
		Home:        h,
		Recorder:    metrics.NewPrometheusRecorder(reg),
		Registry:    reg,
	}, nil
}
