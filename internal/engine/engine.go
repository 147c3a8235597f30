// Package engine answers natural-language questions about the loaded feed by
// generating SQL with a language model, executing it, correcting it on
// failure and summarizing the result.
package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/transitql/transitql/internal/llm"
	"github.com/transitql/transitql/internal/observability"
	"github.com/transitql/transitql/internal/prompt"
	"github.com/transitql/transitql/internal/query"
)

// SchemaSource renders the live table layout embedded in every prompt.
type SchemaSource interface {
	Render(ctx context.Context) (string, error)
}

type Config struct {
	MaxRetries          int
	SummaryRows         int
	ValidationRows      int
	GenerationMaxTokens int
	SummaryMaxTokens    int
	ValidationMaxTokens int
}

func DefaultConfig() Config {
	return Config{
		MaxRetries:          3,
		SummaryRows:         10,
		ValidationRows:      20,
		GenerationMaxTokens: 1000,
		SummaryMaxTokens:    100,
		ValidationMaxTokens: 100,
	}
}

// Conversation is the chat history for one request plus the model that
// should answer it.
type Conversation struct {
	Messages  []llm.Message
	Selection llm.Selection
}

var ErrInvalidConversation = errors.New("invalid conversation")

func (c Conversation) Validate() error {
	if len(c.Messages) == 0 {
		return fmt.Errorf("%w: at least one message is required", ErrInvalidConversation)
	}
	last := c.Messages[len(c.Messages)-1]
	if last.Role != llm.RoleUser {
		return fmt.Errorf("%w: last message must come from the user", ErrInvalidConversation)
	}
	if strings.TrimSpace(last.Content) == "" {
		return fmt.Errorf("%w: last message is empty", ErrInvalidConversation)
	}
	return nil
}

// Question is the text of the final user message.
func (c Conversation) Question() string {
	if len(c.Messages) == 0 {
		return ""
	}
	return c.Messages[len(c.Messages)-1].Content
}

// Answer carries at most the executor's row cap in Rows; TotalRows is the
// full count and Truncated reports whether rows were dropped.
type Answer struct {
	Summary   string    `json:"summary"`
	Columns   []string  `json:"columns"`
	Rows      [][]any   `json:"rows"`
	TotalRows int       `json:"total_rows"`
	Truncated bool      `json:"truncated"`
	Query     string    `json:"query"`
	Attempts  []Attempt `json:"attempts"`
	Verdict   Verdict   `json:"verdict"`
}

type Engine struct {
	llm      llm.Completer
	executor query.Executor
	schema   SchemaSource
	cfg      Config
	logger   *slog.Logger
}

type Option func(*Engine)

func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

func New(completer llm.Completer, executor query.Executor, schema SchemaSource, cfg Config, opts ...Option) (*Engine, error) {
	if completer == nil || executor == nil || schema == nil {
		return nil, errors.New("engine needs a completer, an executor and a schema source")
	}
	if cfg.MaxRetries < 0 {
		return nil, fmt.Errorf("max retries must be >= 0, got %d", cfg.MaxRetries)
	}
	defaults := DefaultConfig()
	if cfg.SummaryRows <= 0 {
		cfg.SummaryRows = defaults.SummaryRows
	}
	if cfg.ValidationRows <= 0 {
		cfg.ValidationRows = defaults.ValidationRows
	}
	if cfg.GenerationMaxTokens <= 0 {
		cfg.GenerationMaxTokens = defaults.GenerationMaxTokens
	}
	if cfg.SummaryMaxTokens <= 0 {
		cfg.SummaryMaxTokens = defaults.SummaryMaxTokens
	}
	if cfg.ValidationMaxTokens <= 0 {
		cfg.ValidationMaxTokens = defaults.ValidationMaxTokens
	}
	e := &Engine{
		llm:      completer,
		executor: executor,
		schema:   schema,
		cfg:      cfg,
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Ask generates SQL for the last user message, runs the correction loop,
// then summarizes and validates the result. A suspicious verdict triggers
// one more correction cycle and a fresh summary; the second summary is not
// validated again.
func (e *Engine) Ask(ctx context.Context, conv Conversation) (Answer, error) {
	if err := conv.Validate(); err != nil {
		return Answer{}, err
	}
	schemaText, err := e.schema.Render(ctx)
	if err != nil {
		return Answer{}, fmt.Errorf("render schema: %w", err)
	}
	logger := observability.LoggerFromContext(ctx, e.logger).With(slog.String("model", conv.Selection.String()))

	generation := prompt.Generation(schemaText)
	generated, err := e.llm.Complete(llm.WithPurpose(ctx, "generate"), conv.Selection, generation.System, conv.Messages, e.cfg.GenerationMaxTokens)
	if err != nil {
		return Answer{}, err
	}
	logger.DebugContext(ctx, "generated query", slog.String("sql", generated))

	run := &lineage{}
	result, finalSQL, err := e.executeWithRetries(ctx, conv.Selection, schemaText, generated, OriginGenerated, run)
	if err != nil {
		return Answer{}, err
	}

	question := conv.Question()
	summary, err := e.Summarize(ctx, conv.Selection, question, result)
	if err != nil {
		return Answer{}, err
	}
	verdict, err := e.Validate(ctx, conv.Selection, summary, result)
	if err != nil {
		return Answer{}, err
	}
	observability.ObserveVerdict(verdict.label())

	if verdict.Suspicious {
		logger.InfoContext(ctx, "answer flagged as suspicious", slog.String("reason", verdict.Reason), slog.String("sql", finalSQL))
		correction := prompt.EmptyResultCorrection(schemaText, finalSQL)
		corrected, err := e.correct(ctx, conv.Selection, correction)
		if err != nil {
			return Answer{}, err
		}
		result, finalSQL, err = e.executeWithRetries(ctx, conv.Selection, schemaText, corrected, OriginSuspiciousCorrection, run)
		if err != nil {
			return Answer{}, err
		}
		summary, err = e.Summarize(ctx, conv.Selection, question, result)
		if err != nil {
			return Answer{}, err
		}
	}

	return Answer{
		Summary:   summary,
		Columns:   result.Columns,
		Rows:      result.Rows,
		TotalRows: result.Total(),
		Truncated: result.Truncated,
		Query:     finalSQL,
		Attempts:  run.attempts,
		Verdict:   verdict,
	}, nil
}

func (e *Engine) correct(ctx context.Context, sel llm.Selection, p prompt.Prompt) (string, error) {
	return e.llm.Complete(llm.WithPurpose(ctx, "correct"), sel, p.System,
		[]llm.Message{{Role: llm.RoleUser, Content: p.User}}, e.cfg.GenerationMaxTokens)
}
