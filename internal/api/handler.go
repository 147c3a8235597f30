package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/transitql/transitql/internal/config"
	"github.com/transitql/transitql/internal/engine"
	"github.com/transitql/transitql/internal/ingest"
	"github.com/transitql/transitql/internal/llm"
	"github.com/transitql/transitql/internal/observability"
	"github.com/transitql/transitql/internal/query"
	"github.com/transitql/transitql/internal/schema"
)

type ReadinessCheck func(ctx context.Context) error

type FeedIngestor interface {
	IngestArchive(ctx context.Context, data []byte) (ingest.Result, error)
	Runs(ctx context.Context, limit int) ([]ingest.Run, error)
}

type SchemaReader interface {
	Tables(ctx context.Context) ([]schema.Table, error)
}

type ModelRegistry interface {
	Models() []string
	Resolve(sel llm.Selection) (llm.Selection, error)
}

type QuestionAnswerer interface {
	Ask(ctx context.Context, conv engine.Conversation) (engine.Answer, error)
}

type Dependencies struct {
	Logger            *slog.Logger
	Readiness         ReadinessCheck
	AuthMiddleware    func(http.Handler) http.Handler
	DependencyTimeout time.Duration
	Feeds             FeedIngestor
	Schema            SchemaReader
	Executor          query.Executor
	Models            ModelRegistry
	Engine            QuestionAnswerer
}

var validate = validator.New(validator.WithRequiredStructEnabled())

func NewHandler(cfg config.Config, deps Dependencies) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /v1/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "service": cfg.Service.Name})
	})

	mux.HandleFunc("GET /v1/ready", func(w http.ResponseWriter, r *http.Request) {
		if deps.Readiness == nil {
			writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
			return
		}
		timeout := deps.DependencyTimeout
		if timeout <= 0 {
			timeout = 2 * time.Second
		}
		ctx, cancel := context.WithTimeout(r.Context(), timeout)
		defer cancel()
		if err := deps.Readiness(ctx); err != nil {
			writeError(r.Context(), w, http.StatusServiceUnavailable, "NOT_READY", err.Error(), true, nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
	})

	mux.Handle("GET /v1/metrics", promhttp.Handler())

	protected := http.NewServeMux()
	routes := map[string]http.HandlerFunc{
		"POST /v1/feeds": func(w http.ResponseWriter, r *http.Request) {
			handleUploadFeed(cfg, deps, w, r)
		},
		"GET /v1/feeds": func(w http.ResponseWriter, r *http.Request) {
			handleListFeeds(deps, w, r)
		},
		"GET /v1/schema": func(w http.ResponseWriter, r *http.Request) {
			handleSchema(deps, w, r)
		},
		"GET /v1/models": func(w http.ResponseWriter, r *http.Request) {
			handleModels(deps, w, r)
		},
		"POST /v1/query": func(w http.ResponseWriter, r *http.Request) {
			handleQuery(deps, w, r)
		},
		"POST /v1/chat": func(w http.ResponseWriter, r *http.Request) {
			handleChat(cfg, deps, w, r)
		},
	}
	for pattern, handler := range routes {
		protected.HandleFunc(pattern, handler)
	}

	var protectedHandler http.Handler = protected
	if cfg.Auth.Required {
		if deps.AuthMiddleware == nil {
			if deps.Logger != nil {
				deps.Logger.Error("auth required but auth middleware missing")
			}
			protectedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				writeError(r.Context(), w, http.StatusInternalServerError, "AUTH_MIDDLEWARE_MISSING", "auth middleware is required by configuration", false, nil)
			})
		} else {
			protectedHandler = deps.AuthMiddleware(protectedHandler)
		}
	}
	for pattern := range routes {
		mux.Handle(pattern, protectedHandler)
	}

	middlewares := []func(http.Handler) http.Handler{
		observability.TraceMiddleware,
		observability.MetricsMiddleware,
	}
	if deps.Logger != nil {
		middlewares = append(middlewares,
			observability.LoggingMiddleware(deps.Logger),
			observability.RecoverMiddleware(deps.Logger),
		)
	}
	return chain(mux, middlewares...)
}

func CombineReadinessChecks(checks ...ReadinessCheck) ReadinessCheck {
	filtered := make([]ReadinessCheck, 0, len(checks))
	for _, check := range checks {
		if check != nil {
			filtered = append(filtered, check)
		}
	}
	return func(ctx context.Context) error {
		for _, check := range filtered {
			if err := check(ctx); err != nil {
				return err
			}
		}
		return nil
	}
}

func chain(base http.Handler, middlewares ...func(http.Handler) http.Handler) http.Handler {
	wrapped := base
	for i := len(middlewares) - 1; i >= 0; i-- {
		wrapped = middlewares[i](wrapped)
	}
	return wrapped
}

func decodeAndValidate(r *http.Request, dst any) (string, map[string]any, bool) {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		return "INVALID_JSON", map[string]any{"details": err.Error()}, false
	}
	if err := validate.Struct(dst); err != nil {
		return "INVALID_REQUEST", map[string]any{"details": err.Error()}, false
	}
	return "", nil, true
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(ctx context.Context, w http.ResponseWriter, status int, code, message string, retryable bool, extra map[string]any) {
	writeJSON(w, status, map[string]any{
		"error_code": code,
		"message":    message,
		"retryable":  retryable,
		"context":    extra,
		"trace_id":   observability.TraceIDFromContext(ctx),
	})
}
