// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"io"
	"strconv"

	"github.com/charmbracelet/lipgloss"
	lgtable "github.com/charmbracelet/lipgloss/table"
	"github.com/muesli/termenv"
	"github.com/olekukonko/tablewriter"
)

var (
	titleStyle       = lipgloss.NewStyle().Bold(true).Padding(1, 0, 0, 2)
	headerRowStyle   = lipgloss.NewStyle().Reverse(true).Padding(0, 2, 0, 2).Align(lipgloss.Center)
	oddRowStyle      = lipgloss.NewStyle().Faint(false).PaddingLeft(1).PaddingRight(1)
	evenRowStyle     = lipgloss.NewStyle().Faint(true).PaddingLeft(1).PaddingRight(1)
	tableBorderColor = "#705090"
)

// report prints titled tables to a writer: styled with lipgloss on color terminals, and as plain
// ASCII tables (tablewriter) otherwise.
type report struct {
	w     io.Writer
	plain bool
}

func newReport(w io.Writer, output *termenv.Output) *report {
	plain := flagPlain
	if output == nil || output.EnvColorProfile() == termenv.Ascii {
		plain = true
	}
	return &report{w: w, plain: plain}
}

// Table prints a table with the given title and header. The first column is right aligned.
func (r *report) Table(title string, header []string, rows [][]string) {
	if r.plain {
		_, _ = fmt.Fprintf(r.w, "\n%s:\n", title)
		table := tablewriter.NewWriter(r.w)
		table.SetHeader(header)
		table.SetAutoFormatHeaders(false)
		table.SetAlignment(tablewriter.ALIGN_LEFT)
		table.AppendBulk(rows)
		table.Render()
		return
	}
	_, _ = fmt.Fprintln(r.w, titleStyle.Render(title))
	table := lgtable.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color(tableBorderColor))).
		Headers(header...).
		Rows(rows...).
		StyleFunc(func(row, col int) (s lipgloss.Style) {
			if row < 0 {
				return headerRowStyle
			}
			if row%2 == 0 {
				s = evenRowStyle
			} else {
				s = oddRowStyle
			}
			if col == 0 {
				s = s.Align(lipgloss.Right)
			}
			return
		})
	_, _ = fmt.Fprintln(r.w, table.Render())
}

// formatFloat prints v with the given number of significant digits.
func formatFloat(v float64, digits int) string {
	return strconv.FormatFloat(v, 'g', digits, 64)
}
