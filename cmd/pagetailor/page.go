package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/disintegration/imaging"
	"github.com/spf13/cobra"

	"github.com/jackzampolin/pagetailor/internal/page"
	"github.com/jackzampolin/pagetailor/internal/pipeline"
	"github.com/jackzampolin/pagetailor/internal/session"
)

var (
	pageStage   string
	pageDebug   bool
	pageImage   string
	pageTimeout time.Duration
)

var pageCmd = &cobra.Command{
	Use:   "page <project> <page-id>",
	Short: "Process a single page interactively",
	Long: `Page selects one page of a saved project and runs it through the
pipeline up to the given stage, as an interactive editor would.

Page IDs have the form <image-path>#<index>:<single|left|right>, as shown
by "pagetailor pages list".

Examples:
  pagetailor page book /scans/p001.png#0:single --stage deskew --image p001.png
  pagetailor page book /scans/p014.png#0:left --debug`,
	Args: cobra.ExactArgs(2),
	RunE: runPage,
}

// PageResult describes one interactive result.
type PageResult struct {
	Page  string `json:"page" yaml:"page"`
	Stage string `json:"stage" yaml:"stage"`
	Error string `json:"error,omitempty" yaml:"error,omitempty"`
	Image string `json:"image,omitempty" yaml:"image,omitempty"`
	Debug int    `json:"debug_images,omitempty" yaml:"debug_images,omitempty"`
}

func runPage(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	id, err := page.ParseID(args[1])
	if err != nil {
		return err
	}

	ws, err := openWorkspace(ctx, workspaceOptions{project: args[0], debug: pageDebug})
	if err != nil {
		return err
	}
	defer func() {
		if err := ws.close(); err != nil {
			ws.logger.Warn("session shutdown", "error", err)
		}
	}()

	if pageStage != "" {
		stage, err := pipeline.ParseStage(pageStage)
		if err != nil {
			return err
		}
		if err := ws.session.SelectStage(ctx, stage); err != nil {
			return err
		}
	}

	// Results from the stage switch may still arrive; waitForResult skips
	// other pages.
	if err := ws.session.SelectPage(ctx, id); err != nil && !errors.Is(err, session.ErrOutputNotReady) {
		return err
	}

	res, err := waitForResult(ctx, ws, id)
	if err != nil {
		return err
	}

	out := PageResult{Page: res.Page.String(), Stage: res.Stage.String(), Debug: len(res.Debug)}
	if res.Failed() {
		out.Error = res.Err.Error()
	} else if pageImage != "" && res.Image != nil {
		if err := imaging.Save(res.Image, pageImage); err != nil {
			return fmt.Errorf("failed to save page image: %w", err)
		}
		out.Image = pageImage
	}

	if err := ws.save(); err != nil {
		return fmt.Errorf("failed to save project: %w", err)
	}
	return printer.Print(out)
}

func waitForResult(ctx context.Context, ws *workspace, id page.ID) (*pipeline.Result, error) {
	timeout := time.NewTimer(pageTimeout)
	defer timeout.Stop()
	for {
		select {
		case res := <-ws.listener.results:
			if res.Page == id {
				return res, nil
			}
		case <-ws.listener.drained:
			return nil, errDrained
		case <-timeout.C:
			return nil, fmt.Errorf("timed out waiting for %s", id)
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func init() {
	pageCmd.Flags().StringVarP(&pageStage, "stage", "s", "", "stage to process up to (default: the project's current stage)")
	pageCmd.Flags().BoolVar(&pageDebug, "debug", false, "write debug images")
	pageCmd.Flags().StringVar(&pageImage, "image", "", "save the resulting image to this file")
	pageCmd.Flags().DurationVar(&pageTimeout, "timeout", 5*time.Minute, "how long to wait for the result")

	rootCmd.AddCommand(pageCmd)
}
