package pipeline

import (
	"fmt"
	"strings"

	"github.com/jackzampolin/pagetailor/internal/page"
)

// StageIndex is a position in the fixed stage order.
type StageIndex int

const (
	NoStage StageIndex = iota - 1
	FixOrientation
	PageSplit
	Deskew
	SelectContent
	PageLayout
	Output

	// NumStages is the number of pipeline stages.
	NumStages = int(Output) + 1
)

var stageNames = [NumStages]string{
	"fix-orientation",
	"page-split",
	"deskew",
	"select-content",
	"page-layout",
	"output",
}

func (s StageIndex) String() string {
	if !s.Valid() {
		return "none"
	}
	return stageNames[s]
}

// Valid reports whether s names one of the six stages.
func (s StageIndex) Valid() bool {
	return s >= FixOrientation && s <= Output
}

// View returns how pages are presented while s is the active stage.
// Splitting takes effect from deskew onward.
func (s StageIndex) View() page.View {
	if s < Deskew {
		return page.ImageView
	}
	return page.PageView
}

// ParseStage accepts a stage name ("deskew") or its index ("2").
func ParseStage(s string) (StageIndex, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	for i, name := range stageNames {
		if s == name || s == fmt.Sprint(i) {
			return StageIndex(i), nil
		}
	}
	return NoStage, fmt.Errorf("%w: %q", ErrInvalidStage, s)
}

// Rotation is a clockwise orthogonal rotation in degrees.
type Rotation int

const (
	Rotate0   Rotation = 0
	Rotate90  Rotation = 90
	Rotate180 Rotation = 180
	Rotate270 Rotation = 270
)

// Normalize maps any multiple of 90 into [0, 360).
func (r Rotation) Normalize() Rotation {
	n := (int(r)/90*90)%360 + 360
	return Rotation(n % 360)
}

// Mode distinguishes interactive single-page work from batch runs.
type Mode int

const (
	Interactive Mode = iota
	Batch
)

func (m Mode) String() string {
	if m == Batch {
		return "batch"
	}
	return "interactive"
}
