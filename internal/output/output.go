// Package output renders command results as YAML or JSON.
package output

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// Format selects how results are written.
type Format string

const (
	FormatYAML Format = "yaml"
	FormatJSON Format = "json"
)

// ParseFormat validates a --output flag value.
func ParseFormat(s string) (Format, error) {
	switch Format(s) {
	case FormatYAML, FormatJSON:
		return Format(s), nil
	case "":
		return FormatYAML, nil
	default:
		return "", fmt.Errorf("unknown output format %q: want yaml or json", s)
	}
}

// Printer writes values in one format.
type Printer struct {
	W      io.Writer
	Format Format
}

// New returns a printer writing to stdout.
func New(format Format) *Printer {
	return &Printer{W: os.Stdout, Format: format}
}

// Print encodes v.
func (p *Printer) Print(v any) error {
	return Write(p.W, p.Format, v)
}

// Write encodes v to w in the given format.
func Write(w io.Writer, format Format, v any) error {
	switch format {
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		defer enc.Close()
		return enc.Encode(v)
	default:
		return fmt.Errorf("unknown output format: %s", format)
	}
}
