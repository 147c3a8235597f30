// Package llm talks to hosted language models through one adapter per
// provider.
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

type Message struct {
	Role    string `json:"role" validate:"required,oneof=user assistant"`
	Content string `json:"content" validate:"required"`
}

// Selection names a provider and one of its models. It is carried per request.
type Selection struct {
	Provider string `json:"provider"`
	Model    string `json:"model"`
}

const selectionSeparator = " - "

func (s Selection) String() string {
	if s.Model == "" {
		return s.Provider
	}
	return s.Provider + selectionSeparator + s.Model
}

// ParseSelection accepts "<provider> - <model>" or a bare provider name.
func ParseSelection(raw string) (Selection, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Selection{}, errors.New("model selection is empty")
	}
	provider, model, _ := strings.Cut(raw, selectionSeparator)
	sel := Selection{Provider: strings.ToLower(strings.TrimSpace(provider)), Model: strings.TrimSpace(model)}
	if sel.Provider == "" {
		return Selection{}, fmt.Errorf("model selection %q has no provider", raw)
	}
	return sel, nil
}

// Request is one completion call as seen by an adapter.
type Request struct {
	System    string
	Messages  []Message
	MaxTokens int
}

// Adapter sends completion requests to one provider's API.
type Adapter interface {
	Name() string
	Models() []string
	Complete(ctx context.Context, model string, req Request) (string, error)
}

// Completer is the gateway surface the query engine depends on.
type Completer interface {
	Complete(ctx context.Context, sel Selection, system string, messages []Message, maxTokens int) (string, error)
}

type purposeKey struct{}

// WithPurpose labels calls made with ctx for metrics and logs.
func WithPurpose(ctx context.Context, purpose string) context.Context {
	return context.WithValue(ctx, purposeKey{}, purpose)
}

func purposeFromContext(ctx context.Context) string {
	if purpose, ok := ctx.Value(purposeKey{}).(string); ok && purpose != "" {
		return purpose
	}
	return "unspecified"
}
