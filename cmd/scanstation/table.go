package main

import (
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

type columnAlignment int

const (
	alignLeft columnAlignment = iota
	alignRight
)

// column is one table column. Numeric columns align right.
type column struct {
	header string
	align  columnAlignment
}

func col(header string) column { return column{header: header} }

func numCol(header string) column { return column{header: header, align: alignRight} }

// tableOptions adds an optional title above and footer below the rows.
type tableOptions struct {
	title  string
	footer []string
}

func renderTable(columns []column, rows [][]string, opts tableOptions) string {
	if len(columns) == 0 {
		return ""
	}

	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)
	tw.Style().Format.Header = text.FormatDefault
	tw.Style().Format.Footer = text.FormatDefault
	if opts.title != "" {
		tw.SetTitle(opts.title)
	}

	tw.AppendHeader(toRow(columns, func(i int) string { return columns[i].header }))
	for _, row := range rows {
		tw.AppendRow(toRow(columns, cell(row)))
	}
	if len(opts.footer) > 0 {
		tw.AppendFooter(toRow(columns, cell(opts.footer)))
	}

	configs := make([]table.ColumnConfig, 0, len(columns))
	for i, c := range columns {
		align := text.AlignLeft
		if c.align == alignRight {
			align = text.AlignRight
		}
		configs = append(configs, table.ColumnConfig{
			Number:      i + 1,
			Align:       align,
			AlignFooter: align,
			AlignHeader: text.AlignLeft,
		})
	}
	tw.SetColumnConfigs(configs)
	return tw.Render()
}

// cell returns the value at i, or "" past the end of a short row.
func cell(values []string) func(int) string {
	return func(i int) string {
		if i < len(values) {
			return values[i]
		}
		return ""
	}
}

func toRow(columns []column, value func(int) string) table.Row {
	row := make(table.Row, len(columns))
	for i := range columns {
		row[i] = value(i)
	}
	return row
}
