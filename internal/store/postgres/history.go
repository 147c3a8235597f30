package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/transitql/transitql/internal/ingest"
)

// FeedHistory persists ingestion runs in feed_ingestion.
type FeedHistory struct {
	db *sql.DB
}

func NewFeedHistory(db *sql.DB) *FeedHistory {
	return &FeedHistory{db: db}
}

var _ ingest.HistoryStore = (*FeedHistory)(nil)

func (h *FeedHistory) RecordRun(ctx context.Context, run ingest.Run) error {
	files, err := json.Marshal(nonNilStrings(run.Files))
	if err != nil {
		return fmt.Errorf("marshal run files: %w", err)
	}
	tableRows := run.TableRows
	if tableRows == nil {
		tableRows = map[string]int64{}
	}
	rowsJSON, err := json.Marshal(tableRows)
	if err != nil {
		return fmt.Errorf("marshal run table rows: %w", err)
	}

	query := `
INSERT INTO feed_ingestion (run_id, status, started_at, finished_at, files, table_rows, geometry_indexed, archive_key, extent, error_message)
VALUES ($1, $2, $3, $4, $5::jsonb, $6::jsonb, $7, NULLIF($8, ''), NULLIF($9, ''), NULLIF($10, ''))`
	if _, err := h.db.ExecContext(ctx, query,
		run.RunID,
		string(run.Status),
		run.StartedAt,
		run.FinishedAt,
		string(files),
		string(rowsJSON),
		run.Geometry,
		run.ArchiveKey,
		run.Extent,
		run.Error,
	); err != nil {
		return fmt.Errorf("record ingestion run: %w", err)
	}
	return nil
}

func (h *FeedHistory) ListRuns(ctx context.Context, limit int) ([]ingest.Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := h.db.QueryContext(ctx, `
SELECT run_id, status, started_at, finished_at, files, table_rows, geometry_indexed,
       COALESCE(archive_key, ''), COALESCE(extent, ''), COALESCE(error_message, '')
FROM feed_ingestion
ORDER BY started_at DESC
LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list ingestion runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	runs := make([]ingest.Run, 0)
	for rows.Next() {
		var (
			run       ingest.Run
			status    string
			filesJSON []byte
			rowsJSON  []byte
		)
		if err := rows.Scan(
			&run.RunID,
			&status,
			&run.StartedAt,
			&run.FinishedAt,
			&filesJSON,
			&rowsJSON,
			&run.Geometry,
			&run.ArchiveKey,
			&run.Extent,
			&run.Error,
		); err != nil {
			return nil, fmt.Errorf("scan ingestion run: %w", err)
		}
		run.Status = ingest.Status(status)
		if err := json.Unmarshal(filesJSON, &run.Files); err != nil {
			return nil, fmt.Errorf("decode run files: %w", err)
		}
		if err := json.Unmarshal(rowsJSON, &run.TableRows); err != nil {
			return nil, fmt.Errorf("decode run table rows: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate ingestion runs: %w", err)
	}
	return runs, nil
}

func (h *FeedHistory) ClearArchiveKey(ctx context.Context, runID string) error {
	if _, err := h.db.ExecContext(ctx, `UPDATE feed_ingestion SET archive_key = NULL WHERE run_id = $1`, runID); err != nil {
		return fmt.Errorf("clear archive key: %w", err)
	}
	return nil
}

func nonNilStrings(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}
