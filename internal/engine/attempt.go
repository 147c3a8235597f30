package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/hexops/gotextdiff"
	"github.com/hexops/gotextdiff/myers"
	"github.com/hexops/gotextdiff/span"

	"github.com/transitql/transitql/internal/llm"
	"github.com/transitql/transitql/internal/observability"
	"github.com/transitql/transitql/internal/prompt"
	"github.com/transitql/transitql/internal/query"
)

type Status string

const (
	StatusPending Status = "pending"
	StatusSuccess Status = "success"
	StatusError   Status = "error"
	StatusEmpty   Status = "empty"
)

// Origin names the prompt that produced an attempt's SQL.
type Origin string

const (
	OriginGenerated            Origin = "generated"
	OriginErrorCorrection      Origin = "error_correction"
	OriginEmptyCorrection      Origin = "empty_correction"
	OriginSuspiciousCorrection Origin = "suspicious_correction"
)

// Attempt is one execution of a candidate query.
type Attempt struct {
	Number   int    `json:"number"`
	SQL      string `json:"sql"`
	Origin   Origin `json:"origin"`
	Status   Status `json:"status"`
	Error    string `json:"error,omitempty"`
	RowCount int    `json:"row_count"`
	Diff     string `json:"diff,omitempty"`
}

// QueryError is returned when the final unguarded execution still fails.
// Err is the backend error of that last execution.
type QueryError struct {
	OriginalSQL string
	LastSQL     string
	Attempts    []Attempt
	Err         error
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("query failed after %d attempts: %v", len(e.Attempts), e.Err)
}

func (e *QueryError) Unwrap() error {
	return e.Err
}

// lineage accumulates attempts across the initial loop and the optional
// suspicious-answer cycle of one request.
type lineage struct {
	attempts []Attempt
}

func (l *lineage) record(sqlText string, origin Origin) *Attempt {
	attempt := Attempt{
		Number: len(l.attempts) + 1,
		SQL:    sqlText,
		Origin: origin,
		Status: StatusPending,
	}
	if n := len(l.attempts); n > 0 {
		attempt.Diff = unifiedDiff(l.attempts[n-1].SQL, sqlText)
	}
	l.attempts = append(l.attempts, attempt)
	return &l.attempts[len(l.attempts)-1]
}

func (l *lineage) first() string {
	if len(l.attempts) == 0 {
		return ""
	}
	return l.attempts[0].SQL
}

func (l *lineage) snapshot() []Attempt {
	return append([]Attempt(nil), l.attempts...)
}

// executeWithRetries runs sqlText up to MaxRetries times, asking the model
// for a corrected query after every failed or empty execution, then performs
// one last execution whose outcome is returned as is. Gateway failures end
// the loop immediately.
func (e *Engine) executeWithRetries(ctx context.Context, sel llm.Selection, schemaText, sqlText string, origin Origin, run *lineage) (query.Result, string, error) {
	logger := observability.LoggerFromContext(ctx, e.logger)
	for i := 0; i < e.cfg.MaxRetries; i++ {
		if err := ctx.Err(); err != nil {
			return query.Result{}, sqlText, err
		}
		result, err := e.execute(ctx, sqlText, origin, run)
		var correction prompt.Prompt
		switch {
		case err != nil:
			logger.InfoContext(ctx, "query failed, requesting correction",
				slog.Int("attempt", len(run.attempts)), slog.Any("error", err))
			correction = prompt.ErrorCorrection(schemaText, sqlText, err.Error())
			origin = OriginErrorCorrection
		case len(result.Rows) == 0:
			logger.InfoContext(ctx, "query returned no rows, requesting correction",
				slog.Int("attempt", len(run.attempts)))
			correction = prompt.EmptyResultCorrection(schemaText, sqlText)
			origin = OriginEmptyCorrection
		default:
			return result, sqlText, nil
		}
		corrected, err := e.correct(ctx, sel, correction)
		if err != nil {
			return query.Result{}, sqlText, err
		}
		sqlText = corrected
	}

	if err := ctx.Err(); err != nil {
		return query.Result{}, sqlText, err
	}
	result, err := e.execute(ctx, sqlText, origin, run)
	if err != nil {
		return query.Result{}, sqlText, &QueryError{
			OriginalSQL: run.first(),
			LastSQL:     sqlText,
			Attempts:    run.snapshot(),
			Err:         err,
		}
	}
	return result, sqlText, nil
}

func (e *Engine) execute(ctx context.Context, sqlText string, origin Origin, run *lineage) (query.Result, error) {
	attempt := run.record(sqlText, origin)
	result, err := e.executor.Query(ctx, sqlText)
	if err != nil {
		attempt.Status = StatusError
		attempt.Error = err.Error()
		observability.ObserveQueryAttempt("error")
		return query.Result{}, err
	}
	attempt.RowCount = result.Total()
	attempt.Status = StatusSuccess
	if len(result.Rows) == 0 {
		attempt.Status = StatusEmpty
	}
	observability.ObserveQueryAttempt("ok")
	return result, nil
}

func unifiedDiff(before, after string) string {
	if before == after {
		return ""
	}
	a := ensureTrailingNewline(before)
	b := ensureTrailingNewline(after)
	edits := myers.ComputeEdits(span.URIFromPath("query.sql"), a, b)
	return fmt.Sprint(gotextdiff.ToUnified("a/query.sql", "b/query.sql", a, edits))
}

func ensureTrailingNewline(value string) string {
	if strings.HasSuffix(value, "\n") {
		return value
	}
	return value + "\n"
}

// IsQueryError reports whether err carries query lineage.
func IsQueryError(err error) bool {
	var qe *QueryError
	return errors.As(err, &qe)
}
