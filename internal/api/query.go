package api

import (
	"net/http"
	"strconv"

	"github.com/transitql/transitql/internal/auth"
	"github.com/transitql/transitql/internal/export"
	"github.com/transitql/transitql/internal/schema"
)

type queryRequest struct {
	Query  string `json:"query" validate:"required"`
	Format string `json:"format" validate:"omitempty,oneof=json parquet"`
}

type queryResponse struct {
	Columns   []string       `json:"columns"`
	Rows      [][]any        `json:"rows"`
	RowCount  int            `json:"row_count"`
	TotalRows int            `json:"total_rows"`
	Truncated bool           `json:"truncated"`
	Stats     map[string]any `json:"stats"`
}

func handleQuery(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Executor == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "QUERY_NOT_CONFIGURED", "query execution is not configured", false, nil)
		return
	}
	if err := auth.CheckRole(r.Context(), auth.RoleQueryReader); err != nil {
		writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", err.Error(), false, nil)
		return
	}

	var request queryRequest
	if code, details, ok := decodeAndValidate(r, &request); !ok {
		writeError(r.Context(), w, http.StatusBadRequest, code, "invalid query request body", false, details)
		return
	}

	result, err := deps.Executor.Query(r.Context(), request.Query)
	if err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "QUERY_EXECUTION_FAILED", err.Error(), false, map[string]any{"query": request.Query})
		return
	}

	if request.Format == "parquet" {
		encoded, err := export.EncodeParquet(result)
		if err != nil {
			writeError(r.Context(), w, http.StatusInternalServerError, "EXPORT_FAILED", "failed to encode parquet", false, map[string]any{"details": err.Error(), "query": request.Query})
			return
		}
		w.Header().Set("Content-Type", export.ParquetContentType)
		w.Header().Set("Content-Disposition", `attachment; filename="query.parquet"`)
		w.Header().Set("Content-Length", strconv.Itoa(len(encoded.Data)))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(encoded.Data)
		return
	}

	rows := result.Rows
	if rows == nil {
		rows = [][]any{}
	}
	writeJSON(w, http.StatusOK, queryResponse{
		Columns:   result.Columns,
		Rows:      rows,
		RowCount:  len(rows),
		TotalRows: result.Total(),
		Truncated: result.Truncated,
		Stats: map[string]any{
			"duration_ms": result.Duration.Milliseconds(),
		},
	})
}

func handleSchema(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Schema == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "SCHEMA_NOT_CONFIGURED", "schema catalog is not configured", false, nil)
		return
	}
	if err := auth.CheckRole(r.Context(), auth.RoleQueryReader); err != nil {
		writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", err.Error(), false, nil)
		return
	}

	tables, err := deps.Schema.Tables(r.Context())
	if err != nil {
		writeError(r.Context(), w, http.StatusInternalServerError, "SCHEMA_ERROR", "failed to read schema", true, map[string]any{"details": err.Error()})
		return
	}
	if tables == nil {
		tables = []schema.Table{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"schema": schema.RenderTables(tables),
		"tables": tables,
	})
}

func handleModels(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if err := auth.CheckRole(r.Context(), auth.RoleQueryReader); err != nil {
		writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", err.Error(), false, nil)
		return
	}
	models := []string{}
	if deps.Models != nil {
		models = append(models, deps.Models.Models()...)
	}
	writeJSON(w, http.StatusOK, models)
}
