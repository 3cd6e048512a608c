package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/pagetailor/internal/page"
	"github.com/jackzampolin/pagetailor/internal/pipeline"
)

var pagesStage string

var pagesCmd = &cobra.Command{
	Use:   "pages",
	Short: "List and edit the pages of a project",
}

// PageEntry is one row of "pages list".
type PageEntry struct {
	ID     string `json:"id" yaml:"id"`
	Width  int    `json:"width" yaml:"width"`
	Height int    `json:"height" yaml:"height"`
	State  string `json:"state" yaml:"state"`
}

var pagesListCmd = &cobra.Command{
	Use:   "list <project>",
	Short: "List pages and whether each is processed at the current stage",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withWorkspace(cmd, args[0], func(ctx context.Context, ws *workspace) error {
			st, err := ws.session.Snapshot(ctx)
			if err != nil {
				return err
			}
			thumbs, err := ws.session.Thumbnails(ctx)
			if err != nil {
				return err
			}
			seq := ws.pages.Sequence(st.Stage.View())
			list := make([]PageEntry, 0, seq.Len())
			for _, p := range seq.Pages() {
				list = append(list, PageEntry{
					ID:     p.ID.String(),
					Width:  p.Size.X,
					Height: p.Size.Y,
					State:  thumbs[p.ID].String(),
				})
			}
			return printer.Print(map[string]any{"stage": st.Stage.String(), "pages": list})
		}, false)
	},
}

var pagesRemoveCmd = &cobra.Command{
	Use:   "remove <project> <page-id>...",
	Short: "Remove pages from a project",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ids, err := parseIDs(args[1:])
		if err != nil {
			return err
		}
		return withWorkspace(cmd, args[0], func(ctx context.Context, ws *workspace) error {
			return ws.session.RemovePages(ctx, ids...)
		}, true)
	},
}

var pagesInvalidateCmd = &cobra.Command{
	Use:   "invalidate <project> <page-id>...",
	Short: "Discard computed results of a stage so they are recomputed",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		stage, err := pipeline.ParseStage(pagesStage)
		if err != nil {
			return err
		}
		ids, err := parseIDs(args[1:])
		if err != nil {
			return err
		}
		return withWorkspace(cmd, args[0], func(ctx context.Context, ws *workspace) error {
			return ws.session.InvalidatePages(ctx, stage, ids...)
		}, true)
	},
}

var pagesRotateCmd = &cobra.Command{
	Use:   "rotate <project> <page-id> <degrees>",
	Short: "Fix the rotation of a page's image",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := page.ParseID(args[1])
		if err != nil {
			return err
		}
		deg, err := strconv.Atoi(args[2])
		if err != nil || deg%90 != 0 {
			return fmt.Errorf("rotation must be a multiple of 90, got %q", args[2])
		}
		return withWorkspace(cmd, args[0], func(ctx context.Context, ws *workspace) error {
			ws.set.Orientation.SetRotation(id.Image, pipeline.Rotation(deg).Normalize())
			return ws.session.InvalidatePages(ctx, pipeline.FixOrientation, id)
		}, true)
	},
}

var pagesDeskewCmd = &cobra.Command{
	Use:   "deskew <project> <page-id> <degrees>",
	Short: "Fix the deskew angle of a page",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := page.ParseID(args[1])
		if err != nil {
			return err
		}
		angle, err := strconv.ParseFloat(args[2], 64)
		if err != nil {
			return fmt.Errorf("invalid angle %q: %w", args[2], err)
		}
		return withWorkspace(cmd, args[0], func(ctx context.Context, ws *workspace) error {
			ws.set.Deskew.SetAngle(id, angle)
			return ws.session.InvalidatePages(ctx, pipeline.Deskew, id)
		}, true)
	},
}

func parseIDs(args []string) ([]page.ID, error) {
	ids := make([]page.ID, 0, len(args))
	for _, a := range args {
		id, err := page.ParseID(a)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// withWorkspace opens a saved project, runs fn and optionally saves.
func withWorkspace(cmd *cobra.Command, ref string, fn func(context.Context, *workspace) error, save bool) error {
	ctx := cmd.Context()
	ws, err := openWorkspace(ctx, workspaceOptions{project: ref})
	if err != nil {
		return err
	}
	defer func() {
		if err := ws.close(); err != nil {
			ws.logger.Warn("session shutdown", "error", err)
		}
	}()
	if err := fn(ctx, ws); err != nil {
		return err
	}
	if save {
		return ws.save()
	}
	return nil
}

func init() {
	pagesInvalidateCmd.Flags().StringVarP(&pagesStage, "stage", "s", pipeline.FixOrientation.String(), "stage whose results are discarded")

	pagesCmd.AddCommand(pagesListCmd, pagesRemoveCmd, pagesInvalidateCmd, pagesRotateCmd, pagesDeskewCmd)
	rootCmd.AddCommand(pagesCmd)
}
