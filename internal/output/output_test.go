package output

import (
	"bytes"
	"strings"
	"testing"
)

type sample struct {
	Name  string `json:"name" yaml:"name"`
	Pages int    `json:"pages" yaml:"pages"`
}

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in      string
		want    Format
		wantErr bool
	}{
		{"yaml", FormatYAML, false},
		{"json", FormatJSON, false},
		{"", FormatYAML, false},
		{"xml", "", true},
	}
	for _, tt := range tests {
		got, err := ParseFormat(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseFormat(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseFormat(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestWrite(t *testing.T) {
	v := sample{Name: "book", Pages: 3}

	var buf bytes.Buffer
	if err := Write(&buf, FormatJSON, v); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), `"pages": 3`) {
		t.Errorf("unexpected JSON: %s", buf.String())
	}

	buf.Reset()
	p := &Printer{W: &buf, Format: FormatYAML}
	if err := p.Print(v); err != nil {
		t.Fatal(err)
	}
	if buf.String() != "name: book\npages: 3\n" {
		t.Errorf("unexpected YAML: %q", buf.String())
	}

	if err := Write(&buf, Format("xml"), v); err == nil {
		t.Error("expected error for unknown format")
	}
}
