package transitqlctl

import (
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
)

func renderTable(w io.Writer, columns []string, rows [][]any) {
	if len(columns) == 0 {
		_, _ = fmt.Fprintln(w, "(0 rows)")
		return
	}

	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)

	header := make(table.Row, len(columns))
	for i, col := range columns {
		header[i] = col
	}
	t.AppendHeader(header)

	for _, row := range rows {
		tableRow := make(table.Row, len(row))
		for i, val := range row {
			tableRow[i] = formatValue(val)
		}
		t.AppendRow(tableRow)
	}

	t.Render()
	_, _ = fmt.Fprintf(w, "(%d rows)\n", len(rows))
}

func renderRuns(w io.Writer, runs []feedRun) {
	if len(runs) == 0 {
		_, _ = fmt.Fprintln(w, "no feed runs recorded")
		return
	}
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Run", "Status", "Started", "Files", "Rows", "Geometry", "Error"})
	for _, run := range runs {
		t.AppendRow(table.Row{run.RunID, run.Status, run.StartedAt, len(run.Files), totalRows(run.TableRows), run.Geometry, run.Error})
	}
	t.Render()
}

func renderRunDetail(w io.Writer, run feedRun) {
	_, _ = fmt.Fprintf(w, "run %s %s\n", run.RunID, run.Status)
	if run.ArchiveKey != "" {
		_, _ = fmt.Fprintf(w, "archived as %s\n", run.ArchiveKey)
	}

	tables := make([]string, 0, len(run.TableRows))
	for name := range run.TableRows {
		tables = append(tables, name)
	}
	sort.Strings(tables)

	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Table", "Rows"})
	for _, name := range tables {
		t.AppendRow(table.Row{name, run.TableRows[name]})
	}
	t.AppendFooter(table.Row{"total", totalRows(run.TableRows)})
	t.Render()
	if run.Geometry {
		_, _ = fmt.Fprintln(w, "stops geometry indexed")
	}
}

func renderAnswer(w io.Writer, answer chatAnswer) {
	_, _ = fmt.Fprintln(w, strings.TrimSpace(answer.Summary))
	_, _ = fmt.Fprintln(w)
	if answer.Query != "" {
		_, _ = fmt.Fprintln(w, strings.TrimSpace(answer.Query))
		_, _ = fmt.Fprintln(w)
	}

	rows := make([][]any, len(answer.Table))
	for i, record := range answer.Table {
		row := make([]any, len(answer.Columns))
		for j, col := range answer.Columns {
			row[j] = record[col]
		}
		rows[i] = row
	}
	renderTable(w, answer.Columns, rows)
	if answer.Partial {
		_, _ = fmt.Fprintf(w, "(showing %d of %d rows)\n", len(rows), answer.Total)
	}

	footer := fmt.Sprintf("model %s, %d attempt(s)", answer.Model, len(answer.Attempts))
	if answer.Verdict.Suspicious {
		footer += ", " + answer.Verdict.Raw
	}
	_, _ = fmt.Fprintln(w, footer)
}

func totalRows(counts map[string]int64) int64 {
	var total int64
	for _, n := range counts {
		total += n
	}
	return total
}

func formatValue(v any) string {
	if v == nil {
		return "NULL"
	}
	switch val := v.(type) {
	case string:
		return val
	case bool:
		return strconv.FormatBool(val)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	default:
		return fmt.Sprintf("%v", val)
	}
}
