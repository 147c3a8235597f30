package ingest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/transitql/transitql/internal/gtfs"
	"github.com/transitql/transitql/internal/observability"
	"github.com/transitql/transitql/internal/storage"
)

// Service runs one ingestion at a time. Every file is parsed before the
// loader is called, so a malformed feed never touches the store.
type Service struct {
	loader       Loader
	history      HistoryStore
	archive      storage.ObjectStore
	keepArchives int
	maxExpanded  int64
	logger       *slog.Logger
	now          func() time.Time
	newID        func() string

	mu sync.Mutex
}

type Option func(*Service)

// WithArchive keeps uploaded archives in store, retaining the newest keep
// of them. keep <= 0 disables pruning.
func WithArchive(store storage.ObjectStore, keep int) Option {
	return func(s *Service) {
		s.archive = store
		s.keepArchives = keep
	}
}

// WithMaxUncompressedBytes bounds how far an uploaded archive may expand.
func WithMaxUncompressedBytes(n int64) Option {
	return func(s *Service) { s.maxExpanded = n }
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func WithIDGenerator(newID func() string) Option {
	return func(s *Service) { s.newID = newID }
}

func NewService(loader Loader, history HistoryStore, opts ...Option) (*Service, error) {
	if loader == nil {
		return nil, errors.New("loader is required")
	}
	if history == nil {
		return nil, errors.New("history store is required")
	}
	s := &Service{
		loader:  loader,
		history: history,
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		now:     time.Now,
		newID:   func() string { return uuid.NewString() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// IngestArchive reads a zipped feed and replaces the loaded tables with it.
// The raw bytes are archived after a successful swap.
func (s *Service) IngestArchive(ctx context.Context, data []byte) (Result, error) {
	feed, err := gtfs.ReadArchive(bytes.NewReader(data), int64(len(data)), s.maxExpanded)
	if err != nil {
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.fail(ctx, s.startRun(nil), err)
	}
	return s.ingest(ctx, feed, data)
}

// Ingest replaces the loaded tables with feed.
func (s *Service) Ingest(ctx context.Context, feed gtfs.Feed) (Result, error) {
	return s.ingest(ctx, feed, nil)
}

func (s *Service) Runs(ctx context.Context, limit int) ([]Run, error) {
	return s.history.ListRuns(ctx, limit)
}

func (s *Service) ingest(ctx context.Context, feed gtfs.Feed, raw []byte) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	run := s.startRun(feed.Files())
	if len(feed.Files()) == 0 {
		return s.fail(ctx, run, &gtfs.FileFormatError{Err: gtfs.ErrNoRecognizedFiles})
	}

	tables := make([]gtfs.Table, 0, len(feed))
	for _, name := range feed.Files() {
		table, err := gtfs.ParseTable(name, feed[name])
		if err != nil {
			return s.fail(ctx, run, err)
		}
		tables = append(tables, table)
	}

	report, err := s.loader.Replace(ctx, tables)
	if err != nil {
		return s.fail(ctx, run, fmt.Errorf("load feed: %w", err))
	}

	run.Status = StatusSucceeded
	run.TableRows = report.TableRows
	run.Geometry = report.Geometry
	run.Extent = feedExtent(tables)
	if raw != nil && s.archive != nil {
		key, err := s.storeArchive(ctx, run, raw)
		if err != nil {
			s.logger.WarnContext(ctx, "feed archive not stored", slog.String("run_id", run.RunID), slog.Any("error", err))
		} else {
			run.ArchiveKey = key
		}
	}
	run.FinishedAt = s.now().UTC()

	// The new feed is already live; a bookkeeping failure is logged only.
	if err := s.history.RecordRun(ctx, run); err != nil {
		s.logger.ErrorContext(ctx, "ingestion run not recorded", slog.String("run_id", run.RunID), slog.Any("error", err))
	}
	if run.ArchiveKey != "" {
		s.pruneArchives(ctx)
	}

	observability.ObserveFeedIngest(string(run.Status), run.FinishedAt.Sub(run.StartedAt), run.TableRows)
	s.logger.InfoContext(ctx, "feed ingested",
		slog.String("run_id", run.RunID),
		slog.Int("tables", len(tables)),
		slog.Bool("geometry_indexed", run.Geometry),
		slog.Duration("duration", run.FinishedAt.Sub(run.StartedAt)),
	)

	schemas := make([]gtfs.TableSchema, 0, len(tables))
	for _, table := range tables {
		schemas = append(schemas, table.Schema)
	}
	return Result{Run: run, Tables: schemas}, nil
}

func (s *Service) startRun(files []string) Run {
	return Run{
		RunID:     s.newID(),
		StartedAt: s.now().UTC(),
		Files:     files,
		TableRows: map[string]int64{},
	}
}

func (s *Service) fail(ctx context.Context, run Run, cause error) (Result, error) {
	run.Status = StatusFailed
	run.Error = cause.Error()
	run.FinishedAt = s.now().UTC()
	if err := s.history.RecordRun(ctx, run); err != nil {
		s.logger.ErrorContext(ctx, "failed ingestion run not recorded", slog.String("run_id", run.RunID), slog.Any("error", err))
	}
	observability.ObserveFeedIngest(string(run.Status), run.FinishedAt.Sub(run.StartedAt), nil)
	s.logger.WarnContext(ctx, "feed ingestion failed", slog.String("run_id", run.RunID), slog.Any("error", cause))
	return Result{Run: run}, cause
}

func (s *Service) storeArchive(ctx context.Context, run Run, raw []byte) (string, error) {
	key, err := storage.BuildFeedArchivePath(run.RunID, run.StartedAt)
	if err != nil {
		return "", err
	}
	info, err := s.archive.Put(ctx, key, bytes.NewReader(raw), int64(len(raw)), storage.PutOptions{
		ContentType: "application/zip",
		Metadata:    map[string]string{"run-id": run.RunID},
	})
	if err != nil {
		return "", err
	}
	if info.Key != "" {
		key = info.Key
	}
	return key, nil
}

// pruneArchives deletes archives beyond the newest keepArchives and clears
// their keys from the history table.
func (s *Service) pruneArchives(ctx context.Context) {
	if s.keepArchives <= 0 {
		return
	}
	items, err := s.archive.List(ctx, storage.FeedArchivePrefix)
	if err != nil {
		s.logger.WarnContext(ctx, "list feed archives", slog.Any("error", err))
		return
	}
	if len(items) <= s.keepArchives {
		return
	}

	pruned := 0
	for _, item := range items[s.keepArchives:] {
		if err := s.archive.Delete(ctx, item.Key); err != nil {
			s.logger.WarnContext(ctx, "delete feed archive", slog.String("key", item.Key), slog.Any("error", err))
			continue
		}
		pruned++
		if err := s.history.ClearArchiveKey(ctx, archiveRunID(item)); err != nil {
			s.logger.WarnContext(ctx, "clear archive key", slog.String("key", item.Key), slog.Any("error", err))
		}
	}
	observability.ObserveArchivesPruned(pruned)
}

func archiveRunID(item storage.ObjectInfo) string {
	for name, value := range item.Metadata {
		if strings.EqualFold(name, "run-id") {
			return value
		}
	}
	return strings.TrimSuffix(path.Base(item.Key), ".zip")
}
