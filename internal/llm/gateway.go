package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/transitql/transitql/internal/observability"
)

// Gateway routes completion calls to registered adapters. Each call gets its
// own deadline and waits on the provider's rate limiter first.
type Gateway struct {
	adapters map[string]Adapter
	order    []string
	limiters map[string]*rate.Limiter
	timeout  time.Duration
	logger   *slog.Logger
}

type GatewayOption func(*Gateway)

func WithTimeout(timeout time.Duration) GatewayOption {
	return func(g *Gateway) { g.timeout = timeout }
}

// WithRateLimit gives every provider its own token bucket. perSecond <= 0
// disables limiting.
func WithRateLimit(perSecond float64, burst int) GatewayOption {
	return func(g *Gateway) {
		if perSecond <= 0 {
			g.limiters = nil
			return
		}
		if burst <= 0 {
			burst = 1
		}
		g.limiters = make(map[string]*rate.Limiter, len(g.order))
		for _, name := range g.order {
			g.limiters[name] = rate.NewLimiter(rate.Limit(perSecond), burst)
		}
	}
}

func WithGatewayLogger(logger *slog.Logger) GatewayOption {
	return func(g *Gateway) { g.logger = logger }
}

func NewGateway(adapters []Adapter, opts ...GatewayOption) (*Gateway, error) {
	g := &Gateway{
		adapters: make(map[string]Adapter, len(adapters)),
		timeout:  60 * time.Second,
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, adapter := range adapters {
		name := adapter.Name()
		if _, exists := g.adapters[name]; exists {
			return nil, fmt.Errorf("provider %q registered twice", name)
		}
		if len(adapter.Models()) == 0 {
			return nil, fmt.Errorf("provider %q has no models", name)
		}
		g.adapters[name] = adapter
		g.order = append(g.order, name)
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// Resolve checks sel against the registry and fills in the provider's first
// model when none is given.
func (g *Gateway) Resolve(sel Selection) (Selection, error) {
	adapter, ok := g.adapters[sel.Provider]
	if !ok {
		return Selection{}, &GatewayError{Provider: sel.Provider, Model: sel.Model, Kind: KindUnsupported, Err: fmt.Errorf("unsupported provider %q", sel.Provider)}
	}
	models := adapter.Models()
	if sel.Model == "" {
		return Selection{Provider: sel.Provider, Model: models[0]}, nil
	}
	if !slices.Contains(models, sel.Model) {
		return Selection{}, &GatewayError{Provider: sel.Provider, Model: sel.Model, Kind: KindUnsupported, Err: fmt.Errorf("unsupported model %q for %s", sel.Model, sel.Provider)}
	}
	return sel, nil
}

// Models lists every selectable "<provider> - <model>" pair.
func (g *Gateway) Models() []string {
	var out []string
	for _, name := range g.order {
		for _, model := range g.adapters[name].Models() {
			out = append(out, Selection{Provider: name, Model: model}.String())
		}
	}
	return out
}

func (g *Gateway) Complete(ctx context.Context, sel Selection, system string, messages []Message, maxTokens int) (string, error) {
	resolved, err := g.Resolve(sel)
	if err != nil {
		return "", err
	}
	adapter := g.adapters[resolved.Provider]
	purpose := purposeFromContext(ctx)
	logger := observability.LoggerFromContext(ctx, g.logger).With(
		slog.String("provider", resolved.Provider),
		slog.String("model", resolved.Model),
		slog.String("purpose", purpose),
	)

	if limiter := g.limiters[resolved.Provider]; limiter != nil {
		if err := limiter.Wait(ctx); err != nil {
			return "", g.wrap(resolved, KindRateLimited, err)
		}
	}

	callCtx := ctx
	if g.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	logger.DebugContext(ctx, "llm request", slog.String("system", system), slog.Any("messages", messages))
	start := time.Now()
	text, err := adapter.Complete(callCtx, resolved.Model, Request{System: system, Messages: messages, MaxTokens: maxTokens})
	if err == nil {
		text = stripFences(text)
		if text == "" {
			err = errEmptyResponse
		}
	}
	elapsed := time.Since(start)
	observability.ObserveLLMCall(resolved.Provider, purpose, err, elapsed)
	if err != nil {
		logger.WarnContext(ctx, "llm request failed", slog.Any("error", err), slog.Duration("elapsed", elapsed))
		return "", g.wrap(resolved, classify(callCtx, err), err)
	}
	logger.DebugContext(ctx, "llm response", slog.String("response", text), slog.Duration("elapsed", elapsed))
	return text, nil
}

func (g *Gateway) wrap(sel Selection, kind string, err error) error {
	return &GatewayError{Provider: sel.Provider, Model: sel.Model, Kind: kind, Err: err}
}

func classify(ctx context.Context, err error) string {
	var status *StatusError
	switch {
	case errors.Is(err, errEmptyResponse):
		return KindEmpty
	case errors.As(err, &status):
		return KindStatus
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded):
		return KindTimeout
	default:
		return KindTransport
	}
}

// stripFences removes a surrounding markdown code fence, whatever its
// language tag, and outer whitespace.
func stripFences(value string) string {
	trimmed := strings.TrimSpace(value)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}
	trimmed = strings.TrimPrefix(trimmed, "```")
	if newline := strings.IndexByte(trimmed, '\n'); newline >= 0 && !strings.ContainsAny(trimmed[:newline], " \t;(") {
		trimmed = trimmed[newline+1:]
	}
	trimmed = strings.TrimSuffix(strings.TrimSpace(trimmed), "```")
	return strings.TrimSpace(trimmed)
}
