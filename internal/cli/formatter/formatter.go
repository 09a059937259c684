// Package formatter renders CLI output as a table, JSON or CSV.
package formatter

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

// Format represents an output format type
type Format string

const (
	// FormatTable is the default table format
	FormatTable Format = "table"
	// FormatJSON outputs the raw response as JSON
	FormatJSON Format = "json"
	// FormatCSV outputs the table rows as CSV
	FormatCSV Format = "csv"
)

// ParseFormat maps a flag value to a Format, defaulting to table
func ParseFormat(s string) Format {
	switch strings.ToLower(s) {
	case "json":
		return FormatJSON
	case "csv":
		return FormatCSV
	default:
		return FormatTable
	}
}

// Table is a header row plus data rows
type Table struct {
	Headers []string
	Rows    [][]string
}

// Output writes tables in one format
type Output struct {
	format Format
	writer io.Writer
}

// New creates an Output
func New(w io.Writer, format Format) *Output {
	return &Output{format: format, writer: w}
}

// Render writes raw as JSON, or t as CSV or an aligned table
func (o *Output) Render(t Table, raw any) error {
	switch o.format {
	case FormatJSON:
		enc := json.NewEncoder(o.writer)
		enc.SetIndent("", "  ")
		if err := enc.Encode(raw); err != nil {
			return fmt.Errorf("failed to encode JSON: %w", err)
		}
		return nil
	case FormatCSV:
		return o.csv(t)
	default:
		o.table(t)
		return nil
	}
}

func (o *Output) csv(t Table) error {
	w := csv.NewWriter(o.writer)
	if err := w.Write(t.Headers); err != nil {
		return fmt.Errorf("failed to write CSV headers: %w", err)
	}
	if err := w.WriteAll(t.Rows); err != nil {
		return fmt.Errorf("failed to write CSV rows: %w", err)
	}
	return nil
}

func (o *Output) table(t Table) {
	if len(t.Headers) == 0 {
		return
	}

	widths := make([]int, len(t.Headers))
	for i, h := range t.Headers {
		widths[i] = len(h)
	}
	for _, row := range t.Rows {
		for i, cell := range row {
			if i < len(widths) {
				widths[i] = max(widths[i], len(cell))
			}
		}
	}

	o.row(t.Headers, widths)
	sep := make([]string, len(widths))
	for i, w := range widths {
		sep[i] = strings.Repeat("-", w)
	}
	_, _ = fmt.Fprintln(o.writer, strings.Join(sep, "-+-"))
	for _, row := range t.Rows {
		o.row(row, widths)
	}
}

func (o *Output) row(cells []string, widths []int) {
	padded := make([]string, len(cells))
	for i, cell := range cells {
		w := 10
		if i < len(widths) {
			w = widths[i]
		}
		padded[i] = fmt.Sprintf("%-*s", w, cell)
	}
	_, _ = fmt.Fprintln(o.writer, strings.TrimRight(strings.Join(padded, " | "), " "))
}

// Truncate shortens s to n runes, marking the cut with "..."
func Truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n || n < 4 {
		return s
	}
	return string(r[:n-3]) + "..."
}
