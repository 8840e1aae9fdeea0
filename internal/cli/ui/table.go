package ui

import (
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/fatih/color"
)

// Table prints rows in aligned columns under a highlighted header.
type Table struct {
	headers []string
	rows    [][]string
	noColor bool
}

// NewTable creates a table with the given column headers.
func NewTable(noColor bool, headers ...string) *Table {
	return &Table{headers: headers, noColor: noColor}
}

// AddRow appends a row. Cells beyond the header count are dropped.
func (t *Table) AddRow(cells ...string) {
	if len(cells) > len(t.headers) {
		cells = cells[:len(t.headers)]
	}
	t.rows = append(t.rows, cells)
}

// Len returns the number of rows.
func (t *Table) Len() int { return len(t.rows) }

// Render writes the table to w.
func (t *Table) Render(w io.Writer) {
	if len(t.headers) == 0 {
		return
	}
	widths := make([]int, len(t.headers))
	for i, h := range t.headers {
		widths[i] = utf8.RuneCountInString(h)
	}
	for _, row := range t.rows {
		for i, cell := range row {
			widths[i] = max(widths[i], utf8.RuneCountInString(cell))
		}
	}

	head := color.New(color.Bold, color.FgCyan)
	rule := color.New(color.FgHiBlack)
	if t.noColor {
		head.DisableColor()
		rule.DisableColor()
	}

	last := len(t.headers) - 1
	for i, h := range t.headers {
		head.Fprint(w, cell(h, widths[i], i == last))
	}
	fmt.Fprintln(w)
	for i, width := range widths {
		rule.Fprint(w, cell(strings.Repeat("─", width), width, i == last))
	}
	fmt.Fprintln(w)
	for _, row := range t.rows {
		for i, c := range row {
			fmt.Fprint(w, cell(c, widths[i], i == len(row)-1))
		}
		fmt.Fprintln(w)
	}
}

// cell pads s to width plus the column gap; the last column is not padded.
func cell(s string, width int, last bool) string {
	if last {
		return s
	}
	if n := width - utf8.RuneCountInString(s); n > 0 {
		s += strings.Repeat(" ", n)
	}
	return s + "  "
}
