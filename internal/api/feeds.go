package api

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path"
	"strconv"
	"strings"

	"github.com/transitql/transitql/internal/auth"
	"github.com/transitql/transitql/internal/config"
	"github.com/transitql/transitql/internal/gtfs"
	"github.com/transitql/transitql/internal/ingest"
	"github.com/transitql/transitql/internal/observability"
)

const (
	defaultFeedListLimit = 20
	maxFeedListLimit     = 200
	multipartOverhead    = 1 << 20
	multipartMemory      = 32 << 20
)

func handleUploadFeed(cfg config.Config, deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Feeds == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "INGEST_NOT_CONFIGURED", "feed ingestion is not configured", false, nil)
		return
	}
	if err := auth.CheckRole(r.Context(), auth.RoleFeedWriter); err != nil {
		writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", err.Error(), false, nil)
		return
	}

	maxBytes := int64(cfg.Ingest.MaxArchiveBytes)
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes+multipartOverhead)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeFeedTooLarge(r, w, maxBytes)
			return
		}
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_UPLOAD", "expected a multipart form with a \"file\" field", false, map[string]any{"details": err.Error()})
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_UPLOAD", "multipart field \"file\" is required", false, map[string]any{"details": err.Error()})
		return
	}
	defer func() { _ = file.Close() }()

	if !strings.EqualFold(path.Ext(header.Filename), ".zip") {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_FEED", "feed must be a .zip archive", false, map[string]any{"filename": header.Filename})
		return
	}
	if header.Size > maxBytes {
		writeFeedTooLarge(r, w, maxBytes)
		return
	}
	data, err := io.ReadAll(io.LimitReader(file, maxBytes+1))
	if err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_UPLOAD", "failed to read uploaded file", false, map[string]any{"details": err.Error()})
		return
	}
	if int64(len(data)) > maxBytes {
		writeFeedTooLarge(r, w, maxBytes)
		return
	}

	result, err := deps.Feeds.IngestArchive(r.Context(), data)
	if err != nil {
		if errors.Is(err, gtfs.ErrArchiveTooLarge) {
			limit := int64(cfg.Ingest.MaxUncompressedBytes)
			writeError(r.Context(), w, http.StatusRequestEntityTooLarge, "FEED_TOO_LARGE",
				fmt.Sprintf("feed archive expands beyond %d bytes", limit), false, map[string]any{"max_uncompressed_bytes": limit})
			return
		}
		var formatErr *gtfs.FileFormatError
		if errors.As(err, &formatErr) {
			writeError(r.Context(), w, http.StatusBadRequest, "INVALID_FEED", err.Error(), false, map[string]any{
				"file":   formatErr.File,
				"line":   formatErr.Line,
				"column": formatErr.Column,
			})
			return
		}
		if deps.Logger != nil {
			observability.LoggerFromContext(r.Context(), deps.Logger).ErrorContext(r.Context(), "feed ingestion failed", slog.Any("error", err))
		}
		writeError(r.Context(), w, http.StatusInternalServerError, "INGEST_FAILED", "feed ingestion failed", true, map[string]any{"details": err.Error()})
		return
	}

	writeJSON(w, http.StatusCreated, result)
}

func writeFeedTooLarge(r *http.Request, w http.ResponseWriter, maxBytes int64) {
	writeError(r.Context(), w, http.StatusRequestEntityTooLarge, "FEED_TOO_LARGE",
		fmt.Sprintf("feed archive exceeds %d bytes", maxBytes), false, map[string]any{"max_bytes": maxBytes})
}

func handleListFeeds(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Feeds == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "INGEST_NOT_CONFIGURED", "feed ingestion is not configured", false, nil)
		return
	}
	if err := auth.CheckRole(r.Context(), auth.RoleQueryReader); err != nil {
		writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", err.Error(), false, nil)
		return
	}

	limit := defaultFeedListLimit
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeError(r.Context(), w, http.StatusBadRequest, "INVALID_LIMIT", "limit must be a positive integer", false, map[string]any{"limit": raw})
			return
		}
		limit = min(parsed, maxFeedListLimit)
	}

	runs, err := deps.Feeds.Runs(r.Context(), limit)
	if err != nil {
		writeError(r.Context(), w, http.StatusInternalServerError, "HISTORY_ERROR", "failed to list feed ingestions", true, map[string]any{"details": err.Error()})
		return
	}
	if runs == nil {
		runs = []ingest.Run{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"feeds": runs})
}
