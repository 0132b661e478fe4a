// Package output renders command results as tables, JSON or YAML.
package output

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
	"gopkg.in/yaml.v3"
)

// Format represents the output format type.
type Format string

const (
	FormatTable Format = "table"
	FormatJSON  Format = "json"
	FormatYAML  Format = "yaml"
)

// ParseFormat parses a string into a Format. Empty selects the table format.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "table", "":
		return FormatTable, nil
	case "json":
		return FormatJSON, nil
	case "yaml", "yml":
		return FormatYAML, nil
	default:
		return "", fmt.Errorf("invalid output format: %q (valid: table, json, yaml)", s)
	}
}

// String returns the string representation of the format.
func (f Format) String() string {
	return string(f)
}

// Render writes data in format f. Tables are drawn from table; JSON and
// YAML encode data directly.
func Render(w io.Writer, f Format, data any, table TableRenderer) error {
	switch f {
	case FormatJSON:
		return PrintJSON(w, data)
	case FormatYAML:
		return PrintYAML(w, data)
	case FormatTable:
		return PrintTable(w, table)
	default:
		return fmt.Errorf("unknown format: %s", f)
	}
}

// PrintJSON writes data as indented JSON.
func PrintJSON(w io.Writer, data any) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(data)
}

// PrintYAML writes data as YAML.
func PrintYAML(w io.Writer, data any) error {
	encoder := yaml.NewEncoder(w)
	encoder.SetIndent(2)
	defer func() { _ = encoder.Close() }()
	return encoder.Encode(data)
}

// Printer writes status messages, colored when the writer is a terminal.
type Printer struct {
	out   io.Writer
	color bool
}

// NewPrinter creates a Printer. Color is only used when color is true and
// out is a terminal.
func NewPrinter(out io.Writer, color bool) *Printer {
	if f, ok := out.(*os.File); !ok || !isatty.IsTerminal(f.Fd()) {
		color = false
	}
	return &Printer{out: out, color: color}
}

// Success prints msg in green.
func (p *Printer) Success(msg string) {
	p.print("\033[32m", msg)
}

// Warning prints msg in yellow.
func (p *Printer) Warning(msg string) {
	p.print("\033[33m", msg)
}

func (p *Printer) print(code, msg string) {
	if p.color {
		_, _ = fmt.Fprintf(p.out, "%s%s\033[0m\n", code, msg)
		return
	}
	_, _ = fmt.Fprintln(p.out, msg)
}
