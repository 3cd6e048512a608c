package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jackzampolin/pagetailor/internal/config"
	"github.com/jackzampolin/pagetailor/internal/home"
	"github.com/jackzampolin/pagetailor/internal/ingest"
	"github.com/jackzampolin/pagetailor/internal/jobs"
	"github.com/jackzampolin/pagetailor/internal/page"
	"github.com/jackzampolin/pagetailor/internal/pipeline"
	"github.com/jackzampolin/pagetailor/internal/project"
	"github.com/jackzampolin/pagetailor/internal/reserve"
	"github.com/jackzampolin/pagetailor/internal/session"
	"github.com/jackzampolin/pagetailor/internal/stages"
	"github.com/jackzampolin/pagetailor/internal/svcctx"
)

// workspaceOptions select what a command works on.
type workspaceOptions struct {
	// project is a saved project name or file path.
	project string
	// sources start a new project when no saved one exists.
	sources []string
	// name overrides the derived project name.
	name string
	// debug forces debug images on.
	debug bool
}

// workspace is an opened project with a running session.
type workspace struct {
	name        string
	projectPath string
	outputDir   string
	debugDir    string

	cfg      *config.Config
	pages    *page.Pages
	set      *stages.Set
	pool     *jobs.Pool
	reserve  *reserve.Reserve
	session  *session.Session
	listener *progressListener
	logger   *slog.Logger

	stop    context.CancelFunc
	runDone chan error
}

func resolveProjectPath(h *home.Dir, ref string) string {
	if strings.HasSuffix(ref, ".yaml") || strings.ContainsRune(ref, filepath.Separator) {
		return ref
	}
	return h.ProjectPath(ref)
}

// openWorkspace loads or creates a project and starts its session. The
// session runs on its own context so a signal can still save the project.
func openWorkspace(ctx context.Context, opts workspaceOptions) (*workspace, error) {
	svc := svcctx.ServicesFrom(ctx)
	if svc == nil {
		return nil, errors.New("services not initialized")
	}
	h := svc.Home
	if err := h.EnsureExists(); err != nil {
		return nil, err
	}
	cfg := svc.Config.Get()
	logger := svc.Logger

	ws := &workspace{cfg: cfg, logger: logger, pages: page.NewPages()}

	var saved *project.File
	switch {
	case opts.project != "":
		ws.projectPath = resolveProjectPath(h, opts.project)
		if _, err := os.Stat(ws.projectPath); err == nil {
			f, err := project.Load(ws.projectPath)
			if err != nil {
				return nil, err
			}
			saved = f
		} else if len(opts.sources) == 0 {
			return nil, fmt.Errorf("project %s not found", ws.projectPath)
		}
	case len(opts.sources) == 0:
		return nil, errors.New("either a project or sources are required")
	}

	switch {
	case opts.name != "":
		ws.name = opts.name
	case saved != nil && saved.Name != "":
		ws.name = saved.Name
	case opts.project != "" && !strings.ContainsRune(opts.project, filepath.Separator):
		ws.name = strings.TrimSuffix(opts.project, home.ProjectExt)
	default:
		ws.name = home.ProjectName(opts.sources[0])
	}
	if ws.projectPath == "" {
		ws.projectPath = h.ProjectPath(ws.name)
	}

	switch {
	case saved != nil && saved.OutputDir != "":
		ws.outputDir = saved.OutputDir
	case cfg.OutputDir != "":
		ws.outputDir = filepath.Join(cfg.ResolvedOutputDir(), ws.name)
	default:
		ws.outputDir = h.OutputDir(ws.name)
	}
	ws.debugDir = h.DebugDir(ws.name)

	set, err := stages.NewSet(stages.SetConfig{
		OutputDir: ws.outputDir,
		Defaults:  cfg.ToStageDefaults(),
		OnLayout: func(id page.ImageID, n int) {
			ws.pages.SetLayout(id, n)
		},
		Logger:   logger,
		Recorder: svc.Recorder,
	})
	if err != nil {
		return nil, err
	}
	ws.set = set

	pos := project.Position{Stage: pipeline.FixOrientation, Debug: cfg.Debug}
	if saved != nil {
		if pos, err = saved.Apply(ws.pages, set); err != nil {
			return nil, err
		}
	}
	if saved == nil || len(opts.sources) > 0 {
		res, err := ingest.Ingest(ctx, ingest.Request{
			Sources:   opts.sources,
			RasterDir: h.RasterDir(ws.name),
			Logger:    logger,
		})
		if err != nil {
			return nil, err
		}
		res.AddTo(ws.pages)
		set.LoadDefaults(ws.pages.Sequence(page.ImageView).IDs())
	}
	if opts.debug {
		pos.Debug = true
	}

	ws.pool = jobs.NewPool(cfg.ToPoolConfig(logger, svc.Recorder))
	if cfg.ReserveMB > 0 {
		ws.reserve = reserve.New(cfg.ReserveMB<<20, logger)
	}
	ws.listener = newProgressListener(logger, ws.debugDir)

	ws.session, err = session.New(session.Config{
		Pages:    ws.pages,
		Stages:   set,
		Pool:     ws.pool,
		Loader:   ingest.NewFileLoader(logger),
		Listener: ws.listener,
		Reserve:  ws.reserve,
		Stage:    pos.Stage,
		Selected: pos.Selected,
		Debug:    pos.Debug,
		Logger:   logger,
		Recorder: svc.Recorder,
	})
	if err != nil {
		return nil, err
	}

	runCtx, stop := context.WithCancel(context.Background())
	ws.stop = stop
	ws.runDone = make(chan error, 1)
	go func() { ws.runDone <- ws.session.Run(runCtx) }()
	if ws.reserve != nil && cfg.MemoryLimitMB > 0 {
		go ws.reserve.Watch(runCtx, uint64(cfg.MemoryLimitMB)<<20, time.Second)
	}

	logger.Info("project opened",
		"name", ws.name,
		"images", ws.pages.NumImages(),
		"stage", pos.Stage.String(),
		"output_dir", ws.outputDir)
	return ws, nil
}

// save writes the project file with the session's current position. It
// does not use the command context so an interrupted run is still saved.
func (ws *workspace) save() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	st, err := ws.session.Snapshot(ctx)
	if err != nil {
		return err
	}
	f := project.Capture(ws.name, ws.outputDir, ws.pages, ws.set, st)
	if err := project.Save(ws.projectPath, f); err != nil {
		return err
	}
	ws.logger.Info("project saved", "path", ws.projectPath)
	return nil
}

// close stops the session and the worker pool.
func (ws *workspace) close() error {
	ws.stop()
	err := <-ws.runDone
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if shutdownErr := ws.pool.Shutdown(ctx); shutdownErr != nil && err == nil {
		err = shutdownErr
	}
	return err
}
