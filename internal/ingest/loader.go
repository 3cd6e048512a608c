package ingest

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io/fs"
	"log/slog"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/disintegration/imaging"

	"github.com/jackzampolin/pagetailor/internal/page"
)

// ErrMultiPageImage is returned for an image index other than zero; only the
// first frame of a file can be decoded.
var ErrMultiPageImage = errors.New("multi-page image files are not supported")

// FileLoader reads page source images from disk. Transient read failures,
// such as a scan still being written, are retried.
type FileLoader struct {
	Attempts uint
	Delay    time.Duration
	Logger   *slog.Logger
}

// NewFileLoader returns a loader with default retry settings.
func NewFileLoader(logger *slog.Logger) *FileLoader {
	if logger == nil {
		logger = slog.Default()
	}
	return &FileLoader{Attempts: 3, Delay: 200 * time.Millisecond, Logger: logger}
}

// Load decodes the source image of a page, applying any EXIF orientation.
func (l *FileLoader) Load(ctx context.Context, p page.Info) (image.Image, error) {
	if p.ID.Image.Index != 0 {
		return nil, fmt.Errorf("%w: %s", ErrMultiPageImage, p.ID.Image)
	}
	attempts := l.Attempts
	if attempts == 0 {
		attempts = 1
	}
	log := l.Logger
	if log == nil {
		log = slog.Default()
	}

	var img image.Image
	err := retry.Do(
		func() error {
			var err error
			img, err = imaging.Open(p.ID.Image.Path, imaging.AutoOrientation(true))
			return err
		},
		retry.Context(ctx),
		retry.Attempts(attempts),
		retry.Delay(l.Delay),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			return !errors.Is(err, fs.ErrNotExist)
		}),
		retry.OnRetry(func(n uint, err error) {
			log.Debug("retrying image load", "path", p.ID.Image.Path, "attempt", n+1, "error", err)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load %s: %w", p.ID.Image.Path, err)
	}
	return img, nil
}
