// Package formatting renders command output as a table, JSON or YAML.
package formatting

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	sbstrings "switchboard/pkg/strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"gopkg.in/yaml.v3"
)

// OutputFormat represents the desired output format
type OutputFormat string

const (
	FormatTable OutputFormat = "table"
	FormatJSON  OutputFormat = "json"
	FormatYAML  OutputFormat = "yaml"
)

// maxCellWidth truncates long cells in table output.
const maxCellWidth = 80

// ParseFormat validates a --output value. Empty means table.
func ParseFormat(s string) (OutputFormat, error) {
	switch OutputFormat(strings.ToLower(strings.TrimSpace(s))) {
	case "", FormatTable:
		return FormatTable, nil
	case FormatJSON:
		return FormatJSON, nil
	case FormatYAML:
		return FormatYAML, nil
	default:
		return "", fmt.Errorf("unsupported output format %q (supported: table, json, yaml)", s)
	}
}

// Table is a header row plus data rows.
type Table struct {
	Headers []string
	Rows    [][]string
	// Empty is printed instead of an empty table.
	Empty string
}

// Render writes data in the given format. Table output uses tbl; JSON and
// YAML marshal data.
func Render(w io.Writer, format OutputFormat, tbl Table, data interface{}) error {
	switch format {
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(data)
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(data); err != nil {
			return err
		}
		return enc.Close()
	default:
		return RenderTable(w, tbl)
	}
}

// RenderTable writes tbl with the rounded style and cyan headers.
func RenderTable(w io.Writer, tbl Table) error {
	if len(tbl.Rows) == 0 {
		msg := tbl.Empty
		if msg == "" {
			msg = "No items found"
		}
		_, err := fmt.Fprintln(w, text.FgYellow.Sprint(msg))
		return err
	}

	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleRounded)

	header := make(table.Row, len(tbl.Headers))
	for i, h := range tbl.Headers {
		header[i] = text.FgHiCyan.Sprint(strings.ToUpper(h))
	}
	t.AppendHeader(header)

	for _, r := range tbl.Rows {
		row := make(table.Row, len(r))
		for i, cell := range r {
			row[i] = sbstrings.TruncateDescription(cell, maxCellWidth)
		}
		t.AppendRow(row)
	}
	t.Render()
	return nil
}

// PrettyJSON formats any value as indented JSON, falling back to %v when
// it cannot be marshaled.
func PrettyJSON(v interface{}) string {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(b)
}
