package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/transitql/transitql/internal/auth"
	"github.com/transitql/transitql/internal/config"
	"github.com/transitql/transitql/internal/engine"
	"github.com/transitql/transitql/internal/llm"
	"github.com/transitql/transitql/internal/observability"
	"github.com/transitql/transitql/internal/query"
)

type chatRequest struct {
	Messages     []llm.Message `json:"messages" validate:"required,min=1,dive"`
	CompanyModel string        `json:"company_model"`
}

type chatResponse struct {
	Summary   string           `json:"summary"`
	Table     []map[string]any `json:"table"`
	Columns   []string         `json:"columns"`
	TotalRows int              `json:"total_rows"`
	Truncated bool             `json:"truncated"`
	Query     string           `json:"query"`
	Model     string           `json:"model"`
	Attempts  []engine.Attempt `json:"attempts"`
	Verdict   engine.Verdict   `json:"verdict"`
}

func handleChat(cfg config.Config, deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Engine == nil || deps.Models == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "CHAT_NOT_CONFIGURED", "no language model provider is configured", false, nil)
		return
	}
	if err := auth.CheckRole(r.Context(), auth.RoleQueryReader); err != nil {
		writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", err.Error(), false, nil)
		return
	}

	var request chatRequest
	if code, details, ok := decodeAndValidate(r, &request); !ok {
		writeError(r.Context(), w, http.StatusBadRequest, code, "invalid chat request body", false, details)
		return
	}

	raw := strings.TrimSpace(request.CompanyModel)
	if raw == "" {
		raw = cfg.LLM.DefaultModel
	}
	selection, err := llm.ParseSelection(raw)
	if err == nil {
		selection, err = deps.Models.Resolve(selection)
	}
	if err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "UNSUPPORTED_MODEL", err.Error(), false, map[string]any{
			"company_model": raw,
			"available":     deps.Models.Models(),
		})
		return
	}

	answer, err := deps.Engine.Ask(r.Context(), engine.Conversation{Messages: request.Messages, Selection: selection})
	if err != nil {
		writeChatError(r.Context(), deps.Logger, w, selection, err)
		return
	}

	columns := answer.Columns
	if columns == nil {
		columns = []string{}
	}
	table := query.Result{Columns: columns, Rows: answer.Rows}
	totalRows := answer.TotalRows
	if totalRows < len(answer.Rows) {
		totalRows = len(answer.Rows)
	}
	writeJSON(w, http.StatusOK, chatResponse{
		Summary:   answer.Summary,
		Table:     table.Records(-1),
		Columns:   columns,
		TotalRows: totalRows,
		Truncated: answer.Truncated,
		Query:     answer.Query,
		Model:     selection.String(),
		Attempts:  answer.Attempts,
		Verdict:   answer.Verdict,
	})
}

func writeChatError(ctx context.Context, logger *slog.Logger, w http.ResponseWriter, selection llm.Selection, err error) {
	var queryErr *engine.QueryError
	var gatewayErr *llm.GatewayError
	switch {
	case errors.Is(err, engine.ErrInvalidConversation):
		writeError(ctx, w, http.StatusBadRequest, "INVALID_CONVERSATION", err.Error(), false, nil)
	case errors.As(err, &queryErr):
		writeError(ctx, w, http.StatusBadRequest, "QUERY_EXECUTION_FAILED", queryErr.Err.Error(), false, map[string]any{
			"query":          queryErr.LastSQL,
			"original_query": queryErr.OriginalSQL,
			"attempts":       queryErr.Attempts,
		})
	case errors.As(err, &gatewayErr) && gatewayErr.Kind == llm.KindUnsupported:
		writeError(ctx, w, http.StatusBadRequest, "UNSUPPORTED_MODEL", err.Error(), false, map[string]any{"company_model": selection.String()})
	case errors.As(err, &gatewayErr):
		if logger != nil {
			observability.LoggerFromContext(ctx, logger).WarnContext(ctx, "language model call failed", slog.Any("error", err))
		}
		writeError(ctx, w, http.StatusBadGateway, "LLM_GATEWAY_FAILED", err.Error(), true, map[string]any{
			"provider": gatewayErr.Provider,
			"model":    gatewayErr.Model,
			"kind":     gatewayErr.Kind,
		})
	default:
		if logger != nil {
			observability.LoggerFromContext(ctx, logger).ErrorContext(ctx, "chat request failed", slog.Any("error", err))
		}
		writeError(ctx, w, http.StatusInternalServerError, "CHAT_FAILED", "failed to answer the question", true, map[string]any{"details": err.Error()})
	}
}
