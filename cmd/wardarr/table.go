package main

import (
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

// column describes one table column. MaxWidth > 0 wraps longer cells,
// which keeps deep media paths from blowing out the terminal.
type column struct {
	Title    string
	Numeric  bool
	MaxWidth int
}

func renderTable(cols []column, rows [][]string) string {
	if len(cols) == 0 {
		return ""
	}

	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)

	header := make(table.Row, len(cols))
	configs := make([]table.ColumnConfig, len(cols))
	for i, c := range cols {
		header[i] = c.Title
		cfg := table.ColumnConfig{Number: i + 1, Align: text.AlignLeft, AlignHeader: text.AlignLeft}
		if c.Numeric {
			cfg.Align = text.AlignRight
		}
		if c.MaxWidth > 0 {
			cfg.WidthMax = c.MaxWidth
		}
		configs[i] = cfg
	}
	tw.AppendHeader(header)
	tw.SetColumnConfigs(configs)

	// Short rows are padded so every row spans all columns.
	for _, row := range rows {
		r := make(table.Row, len(cols))
		for i := range r {
			r[i] = ""
			if i < len(row) {
				r[i] = row[i]
			}
		}
		tw.AppendRow(r)
	}
	return tw.Render()
}
