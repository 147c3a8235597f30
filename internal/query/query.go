package query

import (
	"context"
	"time"
)

// Result holds at most the executor's row cap in Rows. TotalRows counts
// every row the statement produced, including those past the cap.
type Result struct {
	Columns   []string
	Rows      [][]any
	TotalRows int
	Truncated bool
	Duration  time.Duration
}

// Total is the full row count of the statement. Results built without a
// count fall back to len(Rows).
func (r Result) Total() int {
	if r.TotalRows > len(r.Rows) {
		return r.TotalRows
	}
	return len(r.Rows)
}

// Records returns the rows as column-keyed maps, in row order.
func (r Result) Records(limit int) []map[string]any {
	if limit < 0 || limit > len(r.Rows) {
		limit = len(r.Rows)
	}
	out := make([]map[string]any, 0, limit)
	for _, row := range r.Rows[:limit] {
		record := make(map[string]any, len(r.Columns))
		for i, column := range r.Columns {
			if i < len(row) {
				record[column] = row[i]
			}
		}
		out = append(out, record)
	}
	return out
}

// Head returns at most n rows without copying them.
func (r Result) Head(n int) [][]any {
	if n < 0 || n > len(r.Rows) {
		n = len(r.Rows)
	}
	return r.Rows[:n]
}

// Executor runs raw SQL against the loaded feed.
type Executor interface {
	Query(ctx context.Context, sqlText string) (Result, error)
}
