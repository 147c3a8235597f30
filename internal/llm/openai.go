package llm

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strings"

	"github.com/sashabaranov/go-openai"
)

// nearZeroTemperature stands in for zero: the client drops a zero
// temperature through omitempty and the provider default applies instead.
const nearZeroTemperature = math.SmallestNonzeroFloat32

// OpenAIAdapter serves any provider with an OpenAI-compatible chat
// completions API (OpenAI itself, Groq).
type OpenAIAdapter struct {
	name   string
	models []string
	client *openai.Client
}

func NewOpenAIAdapter(name, baseURL, apiKey string, models []string, httpClient *http.Client) (*OpenAIAdapter, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return nil, fmt.Errorf("provider name is required")
	}
	if strings.TrimSpace(apiKey) == "" {
		return nil, fmt.Errorf("%s api key is required", name)
	}
	if len(models) == 0 {
		return nil, fmt.Errorf("%s needs at least one model", name)
	}
	cfg := openai.DefaultConfig(strings.TrimSpace(apiKey))
	if strings.TrimSpace(baseURL) != "" {
		cfg.BaseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	}
	if httpClient != nil {
		cfg.HTTPClient = httpClient
	}
	return &OpenAIAdapter{
		name:   name,
		models: append([]string(nil), models...),
		client: openai.NewClientWithConfig(cfg),
	}, nil
}

func (o *OpenAIAdapter) Name() string     { return o.name }
func (o *OpenAIAdapter) Models() []string { return append([]string(nil), o.models...) }

func (o *OpenAIAdapter) Complete(ctx context.Context, model string, req Request) (string, error) {
	messages := make([]openai.ChatCompletionMessage, 0, len(req.Messages)+1)
	if req.System != "" {
		messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: req.System})
	}
	for _, msg := range req.Messages {
		messages = append(messages, openai.ChatCompletionMessage{Role: msg.Role, Content: msg.Content})
	}

	resp, err := o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       model,
		Messages:    messages,
		MaxTokens:   req.MaxTokens,
		Temperature: nearZeroTemperature,
	})
	if err != nil {
		return "", mapOpenAIErr(err)
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return "", errEmptyResponse
	}
	return resp.Choices[0].Message.Content, nil
}

func mapOpenAIErr(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) && apiErr.HTTPStatusCode >= 400 {
		return &StatusError{Code: apiErr.HTTPStatusCode, Body: apiErr.Message}
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode >= 400 {
		return &StatusError{Code: reqErr.HTTPStatusCode, Body: truncate(string(reqErr.Body), maxErrorBodyBytes)}
	}
	return err
}
