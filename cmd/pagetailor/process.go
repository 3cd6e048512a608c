package main

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/pagetailor/internal/config"
	"github.com/jackzampolin/pagetailor/internal/export"
	"github.com/jackzampolin/pagetailor/internal/page"
	"github.com/jackzampolin/pagetailor/internal/pipeline"
	"github.com/jackzampolin/pagetailor/internal/server"
	"github.com/jackzampolin/pagetailor/internal/svcctx"
)

var errDrained = errors.New("processing stopped: memory reserve released")

var (
	processProject      string
	processName         string
	processStage        string
	processExport       string
	processAllowPartial bool
	processServe        bool
	processDebug        bool
)

var processCmd = &cobra.Command{
	Use:   "process [sources...]",
	Short: "Batch process every page up to a stage",
	Long: `Process runs every page of a project through the pipeline up to the
given stage and saves the project.

Sources may be directories of scans, image files or PDFs. Without
--project a new project named after the first source is created; with
--project an existing project is resumed and any sources are appended.

Stages after select-content need the content box of every page, so a
batch targeting page-layout or output first completes select-content.

Examples:
  pagetailor process ./scans
  pagetailor process book.pdf --stage output --export book-clean.pdf
  pagetailor process --project book --stage deskew --serve`,
	RunE: runProcess,
}

// ProcessSummary is printed when processing ends.
type ProcessSummary struct {
	Project   string            `json:"project" yaml:"project"`
	File      string            `json:"file" yaml:"file"`
	Stage     string            `json:"stage" yaml:"stage"`
	Pages     int               `json:"pages" yaml:"pages"`
	Processed int               `json:"processed" yaml:"processed"`
	Failed    map[string]string `json:"failed,omitempty" yaml:"failed,omitempty"`
	OutputDir string            `json:"output_dir" yaml:"output_dir"`
	Export    string            `json:"export,omitempty" yaml:"export,omitempty"`
}

// batchPlan returns the stages to batch in order. Page split runs over
// every image before later stages see the split pages, and select-content
// over every page before page layout, so the final page size is known.
func batchPlan(target pipeline.StageIndex) []pipeline.StageIndex {
	var plan []pipeline.StageIndex
	if target > pipeline.PageSplit {
		plan = append(plan, pipeline.PageSplit)
	}
	if target > pipeline.SelectContent {
		plan = append(plan, pipeline.SelectContent)
	}
	return append(plan, target)
}

func runProcess(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	target, err := pipeline.ParseStage(processStage)
	if err != nil {
		return err
	}
	if processExport != "" && target != pipeline.Output {
		return fmt.Errorf("--export requires --stage %s", pipeline.Output)
	}

	ws, err := openWorkspace(ctx, workspaceOptions{
		project: processProject,
		sources: args,
		name:    processName,
		debug:   processDebug,
	})
	if err != nil {
		return err
	}
	defer func() {
		if err := ws.close(); err != nil {
			ws.logger.Warn("session shutdown", "error", err)
		}
	}()

	mgr := svcctx.ConfigFrom(ctx)
	mgr.OnChange(func(c *config.Config) {
		if err := ws.session.SetDebug(ctx, c.Debug || processDebug); err != nil {
			ws.logger.Debug("config change not applied", "error", err)
		}
	})
	if mgr.ConfigFile() != "" {
		mgr.WatchConfig()
	}

	if processServe || ws.cfg.Metrics.Enabled {
		srv := server.New(server.Config{
			Addr: ws.cfg.Metrics.Addr,
			Status: func(ctx context.Context) (any, error) {
				return ws.session.Status(ctx)
			},
			Registry: svcctx.RegistryFrom(ctx),
			Services: svcctx.ServicesFrom(ctx),
			Logger:   ws.logger,
		})
		srvCtx, stopServer := context.WithCancel(ctx)
		defer stopServer()
		go func() {
			if err := srv.Start(srvCtx); err != nil {
				ws.logger.Warn("status server failed", "error", err)
			}
		}()
	}

	runErr := runBatches(ctx, ws, batchPlan(target))

	if err := ws.save(); err != nil {
		return fmt.Errorf("failed to save project: %w", err)
	}
	if runErr != nil {
		return runErr
	}

	processed, failed := ws.listener.summary()
	summary := ProcessSummary{
		Project:   ws.name,
		File:      ws.projectPath,
		Stage:     target.String(),
		Pages:     ws.pages.Sequence(target.View()).Len(),
		Processed: processed,
		Failed:    failed,
		OutputDir: ws.outputDir,
	}

	if processExport != "" {
		file := processExport
		if !filepath.IsAbs(file) && filepath.Dir(file) == "." {
			file = filepath.Join(ws.outputDir, file)
		}
		res, err := export.PDF(export.Request{
			Pages:        ws.pages.Sequence(page.PageView).IDs(),
			Outputs:      ws.set.Output.Cache(),
			File:         file,
			AllowPartial: processAllowPartial,
			Logger:       ws.logger,
		})
		if err != nil {
			return err
		}
		summary.Export = res.File
	}

	return printer.Print(summary)
}

// runBatches runs one batch per stage, waiting for each to finish. On
// interruption the running batch is stopped so the project can be saved.
func runBatches(ctx context.Context, ws *workspace, plan []pipeline.StageIndex) error {
	for _, stage := range plan {
		ws.listener.beginBatch()
		if err := ws.session.SelectStage(ctx, stage); err != nil {
			return err
		}
		if err := ws.session.StartBatch(ctx); err != nil {
			return err
		}
		select {
		case <-ws.listener.finished:
		case <-ws.listener.drained:
			return errDrained
		case <-ctx.Done():
			stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := ws.session.StopBatch(stopCtx); err != nil {
				ws.logger.Warn("failed to stop batch", "error", err)
			}
			return ctx.Err()
		}
	}
	return nil
}

func init() {
	processCmd.Flags().StringVarP(&processProject, "project", "p", "", "saved project name or file to resume")
	processCmd.Flags().StringVar(&processName, "name", "", "project name (default: derived from the first source)")
	processCmd.Flags().StringVarP(&processStage, "stage", "s", pipeline.Output.String(), "stage to process up to")
	processCmd.Flags().StringVar(&processExport, "export", "", "combine output pages into this PDF")
	processCmd.Flags().BoolVar(&processAllowPartial, "allow-partial", false, "export even if some pages have no output")
	processCmd.Flags().BoolVar(&processServe, "serve", false, "serve /status and /metrics while processing")
	processCmd.Flags().BoolVar(&processDebug, "debug", false, "write debug images")

	rootCmd.AddCommand(processCmd)
}
