package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const maxErrorBodyBytes = 2048

// AnthropicAdapter calls the Messages API with the system prompt as a
// top-level field.
type AnthropicAdapter struct {
	models []string
	client anthropic.Client
}

func NewAnthropicAdapter(baseURL, apiKey string, models []string, httpClient *http.Client) (*AnthropicAdapter, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, fmt.Errorf("anthropic api key is required")
	}
	if len(models) == 0 {
		return nil, fmt.Errorf("anthropic needs at least one model")
	}
	// Failed calls surface to the caller as they are; the gateway owns
	// rate limiting.
	opts := []option.RequestOption{
		option.WithAPIKey(strings.TrimSpace(apiKey)),
		option.WithMaxRetries(0),
	}
	if strings.TrimSpace(baseURL) != "" {
		opts = append(opts, option.WithBaseURL(strings.TrimRight(strings.TrimSpace(baseURL), "/")+"/"))
	}
	if httpClient != nil {
		opts = append(opts, option.WithHTTPClient(httpClient))
	}
	return &AnthropicAdapter{
		models: append([]string(nil), models...),
		client: anthropic.NewClient(opts...),
	}, nil
}

func (a *AnthropicAdapter) Name() string     { return "anthropic" }
func (a *AnthropicAdapter) Models() []string { return append([]string(nil), a.models...) }

func (a *AnthropicAdapter) Complete(ctx context.Context, model string, req Request) (string, error) {
	params := anthropic.MessageNewParams{
		Model:       anthropic.Model(model),
		MaxTokens:   int64(req.MaxTokens),
		Temperature: anthropic.Float(0),
		Messages:    make([]anthropic.MessageParam, 0, len(req.Messages)),
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}
	for _, msg := range req.Messages {
		block := anthropic.NewTextBlock(msg.Content)
		if msg.Role == RoleAssistant {
			params.Messages = append(params.Messages, anthropic.NewAssistantMessage(block))
			continue
		}
		params.Messages = append(params.Messages, anthropic.NewUserMessage(block))
	}

	resp, err := a.client.Messages.New(ctx, params)
	if err != nil {
		return "", mapAnthropicErr(err)
	}

	var text strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	if text.Len() == 0 {
		return "", errEmptyResponse
	}
	return text.String(), nil
}

func mapAnthropicErr(err error) error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) && apiErr.StatusCode >= 400 {
		body := apiErr.RawJSON()
		if body == "" {
			body = apiErr.Error()
		}
		return &StatusError{Code: apiErr.StatusCode, Body: truncate(body, maxErrorBodyBytes)}
	}
	return err
}

func truncate(value string, limit int) string {
	if len(value) <= limit {
		return value
	}
	return value[:limit] + "..."
}
