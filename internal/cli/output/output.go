// Package output renders CLI results as tables, JSON or YAML.
package output

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/marmos91/flashcache/internal/bytesize"
)

// Format is an output format selected with --output.
type Format string

const (
	FormatTable Format = "table"
	FormatJSON  Format = "json"
	FormatYAML  Format = "yaml"
)

// ParseFormat parses a --output value. Empty selects a table.
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

func (f Format) String() string { return string(f) }

// Printer writes results in one format.
type Printer struct {
	out    io.Writer
	format Format
}

func NewPrinter(out io.Writer, format Format) *Printer {
	return &Printer{out: out, format: format}
}

func (p *Printer) Format() Format { return p.format }

// Print writes data. Tables need a TableRenderer; anything else falls back
// to JSON.
func (p *Printer) Print(data any) error {
	switch p.format {
	case FormatJSON:
		return PrintJSON(p.out, data)
	case FormatYAML:
		return PrintYAML(p.out, data)
	default:
		if r, ok := data.(TableRenderer); ok {
			return PrintTable(p.out, r)
		}
		return PrintJSON(p.out, data)
	}
}

// Printf writes a message, in table mode only, so JSON and YAML stay
// machine readable.
func (p *Printer) Printf(format string, args ...any) {
	if p.format == FormatTable {
		_, _ = fmt.Fprintf(p.out, format, args...)
	}
}

// PrintJSON writes data as indented JSON.
func PrintJSON(w io.Writer, data any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(data)
}

// PrintYAML writes data as YAML.
func PrintYAML(w io.Writer, data any) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	defer func() { _ = enc.Close() }()
	return enc.Encode(data)
}

// Bytes formats n with a binary unit, e.g. "1.50MiB".
func Bytes(n uint64) string {
	return bytesize.ByteSize(n).String()
}

// Duration formats d as "3d 0h 30m 15s", dropping leading zero units.
// Sub-second durations keep Go's formatting.
func Duration(d time.Duration) string {
	if d < time.Second {
		return d.String()
	}
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	minutes := int(d.Minutes()) % 60
	seconds := int(d.Seconds()) % 60

	switch {
	case days > 0:
		return fmt.Sprintf("%dd %dh %dm %ds", days, hours, minutes, seconds)
	case hours > 0:
		return fmt.Sprintf("%dh %dm %ds", hours, minutes, seconds)
	case minutes > 0:
		return fmt.Sprintf("%dm %ds", minutes, seconds)
	}
	return fmt.Sprintf("%ds", seconds)
}

// Percent formats part/whole as "12.5%".
func Percent(part, whole uint64) string {
	if whole == 0 {
		return "0%"
	}
	return fmt.Sprintf("%.1f%%", float64(part)*100/float64(whole))
}
