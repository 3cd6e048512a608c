package session

import (
	"log/slog"

	"github.com/jackzampolin/pagetailor/internal/page"
	"github.com/jackzampolin/pagetailor/internal/pipeline"
)

// Listener is told what the session did. All calls are made from the
// goroutine running Session.Run and must not call back into the session
// synchronously.
type Listener interface {
	// ApplyResult receives every delivered result, successful or failed.
	ApplyResult(res *pipeline.Result)

	// StageChanged reports a new current stage, including redirects to a
	// failing upstream stage.
	StageChanged(stage pipeline.StageIndex)

	// BatchFinished reports the end of a batch run and the page selected.
	BatchFinished(selected page.ID)

	// Drained reports that all work was cancelled at once.
	Drained()
}

// LogListener logs every event.
type LogListener struct {
	Logger *slog.Logger
}

func (l LogListener) logger() *slog.Logger {
	if l.Logger == nil {
		return slog.Default()
	}
	return l.Logger
}

func (l LogListener) ApplyResult(res *pipeline.Result) {
	if res.Failed() {
		l.logger().Warn("page failed", "page", res.Page.String(), "stage", res.Stage.String(), "error", res.Err)
		return
	}
	l.logger().Info("page processed", "page", res.Page.String(), "stage", res.Stage.String(), "debug_images", len(res.Debug))
}

func (l LogListener) StageChanged(stage pipeline.StageIndex) {
	l.logger().Info("stage changed", "stage", stage.String())
}

func (l LogListener) BatchFinished(selected page.ID) {
	l.logger().Info("batch finished", "selected", selected.String())
}

func (l LogListener) Drained() {
	l.logger().Warn("all processing cancelled")
}

var _ Listener = LogListener{}
