package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/transitql/transitql/internal/query"
)

// Executor runs caller-supplied SQL inside a read-only transaction.
type Executor struct {
	db               *sql.DB
	statementTimeout time.Duration
	maxRows          int
}

type ExecutorOption func(*Executor)

func WithStatementTimeout(timeout time.Duration) ExecutorOption {
	return func(e *Executor) { e.statementTimeout = timeout }
}

func WithMaxRows(limit int) ExecutorOption {
	return func(e *Executor) { e.maxRows = limit }
}

func NewExecutor(db *sql.DB, opts ...ExecutorOption) *Executor {
	executor := &Executor{db: db}
	for _, opt := range opts {
		opt(executor)
	}
	return executor
}

var _ query.Executor = (*Executor)(nil)

// Query returns backend errors unwrapped so their text can be shown to the
// caller and fed back into query correction as-is.
func (e *Executor) Query(ctx context.Context, sqlText string) (query.Result, error) {
	start := time.Now()
	statement := stripTrailingSemicolons(sqlText)
	if statement == "" {
		return query.Result{}, errors.New("sql is required")
	}

	tx, err := e.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return query.Result{}, fmt.Errorf("begin read-only tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if e.statementTimeout > 0 {
		ms := strconv.FormatInt(e.statementTimeout.Milliseconds(), 10)
		if _, err := tx.ExecContext(ctx, `SELECT set_config('statement_timeout', $1, true)`, ms); err != nil {
			return query.Result{}, fmt.Errorf("set statement timeout: %w", err)
		}
	}

	rows, err := tx.QueryContext(ctx, statement)
	if err != nil {
		return query.Result{}, err
	}
	defer func() { _ = rows.Close() }()

	columns, err := rows.Columns()
	if err != nil {
		return query.Result{}, fmt.Errorf("read columns: %w", err)
	}
	numeric := numericColumns(rows)

	result := query.Result{Columns: columns, Rows: make([][]any, 0)}
	for rows.Next() {
		result.TotalRows++
		// Rows past the cap are counted but not scanned.
		if e.maxRows > 0 && len(result.Rows) >= e.maxRows {
			result.Truncated = true
			continue
		}
		values := make([]any, len(columns))
		pointers := make([]any, len(columns))
		for i := range values {
			pointers[i] = &values[i]
		}
		if err := rows.Scan(pointers...); err != nil {
			return query.Result{}, fmt.Errorf("scan row: %w", err)
		}
		result.Rows = append(result.Rows, normalizeValues(values, numeric))
	}
	if err := rows.Err(); err != nil {
		return query.Result{}, err
	}

	result.Duration = time.Since(start)
	return result, nil
}

func numericColumns(rows *sql.Rows) []bool {
	types, err := rows.ColumnTypes()
	if err != nil {
		return nil
	}
	numeric := make([]bool, len(types))
	for i, columnType := range types {
		numeric[i] = strings.EqualFold(columnType.DatabaseTypeName(), "NUMERIC")
	}
	return numeric
}

// normalizeValues makes row values JSON friendly. NUMERIC arrives as text
// and is converted to float64.
func normalizeValues(values []any, numeric []bool) []any {
	normalized := make([]any, len(values))
	for i, value := range values {
		if typed, ok := value.([]byte); ok {
			value = string(typed)
		}
		if i < len(numeric) && numeric[i] {
			if text, ok := value.(string); ok {
				if parsed, err := strconv.ParseFloat(text, 64); err == nil {
					value = parsed
				}
			}
		}
		normalized[i] = value
	}
	return normalized
}

func stripTrailingSemicolons(sqlText string) string {
	trimmed := strings.TrimSpace(sqlText)
	for strings.HasSuffix(trimmed, ";") {
		trimmed = strings.TrimSpace(strings.TrimSuffix(trimmed, ";"))
	}
	return trimmed
}
