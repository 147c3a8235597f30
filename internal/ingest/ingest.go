// Package ingest replaces the loaded GTFS feed with a newly uploaded one.
package ingest

import (
	"context"
	"time"

	"github.com/transitql/transitql/internal/gtfs"
)

type Status string

const (
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// Run is one ingestion attempt as recorded in the history table.
type Run struct {
	RunID      string           `json:"run_id"`
	Status     Status           `json:"status"`
	StartedAt  time.Time        `json:"started_at"`
	FinishedAt time.Time        `json:"finished_at"`
	Files      []string         `json:"files"`
	TableRows  map[string]int64 `json:"table_rows"`
	Geometry   bool             `json:"geometry_indexed"`
	ArchiveKey string           `json:"archive_key,omitempty"`
	Extent     string           `json:"extent,omitempty"`
	Error      string           `json:"error,omitempty"`
}

type LoadReport struct {
	TableRows map[string]int64
	Geometry  bool
}

// Loader swaps the parsed tables into the store. Either every table becomes
// visible or none does.
type Loader interface {
	Replace(ctx context.Context, tables []gtfs.Table) (LoadReport, error)
}

type HistoryStore interface {
	RecordRun(ctx context.Context, run Run) error
	ListRuns(ctx context.Context, limit int) ([]Run, error)
	ClearArchiveKey(ctx context.Context, runID string) error
}

type Result struct {
	Run    Run                `json:"run"`
	Tables []gtfs.TableSchema `json:"tables"`
}
