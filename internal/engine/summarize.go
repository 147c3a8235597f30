package engine

import (
	"context"
	"strings"

	"github.com/transitql/transitql/internal/llm"
	"github.com/transitql/transitql/internal/prompt"
	"github.com/transitql/transitql/internal/query"
)

const suspiciousPrefix = "SUSPICIOUS"

// Verdict is the validator's plausibility judgement of a summary.
type Verdict struct {
	Raw        string `json:"raw"`
	Suspicious bool   `json:"suspicious"`
	Reason     string `json:"reason,omitempty"`
}

// ParseVerdict treats any text not starting with SUSPICIOUS as valid.
func ParseVerdict(raw string) Verdict {
	trimmed := strings.TrimSpace(raw)
	verdict := Verdict{Raw: trimmed}
	if !strings.HasPrefix(trimmed, suspiciousPrefix) {
		return verdict
	}
	verdict.Suspicious = true
	rest := strings.TrimPrefix(trimmed, suspiciousPrefix)
	verdict.Reason = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(rest), ":"))
	return verdict
}

func (v Verdict) label() string {
	switch {
	case v.Raw == "":
		return ""
	case v.Suspicious:
		return "suspicious"
	default:
		return "valid"
	}
}

// Summarize writes a short answer from the first SummaryRows rows. The total
// passed to the model is the full row count, also when the executor capped
// the returned rows.
func (e *Engine) Summarize(ctx context.Context, sel llm.Selection, question string, result query.Result) (string, error) {
	p, err := prompt.Summary(question, result.Columns, result.Head(e.cfg.SummaryRows), result.Total())
	if err != nil {
		return "", err
	}
	return e.llm.Complete(llm.WithPurpose(ctx, "summarize"), sel, p.System,
		[]llm.Message{{Role: llm.RoleUser, Content: p.User}}, e.cfg.SummaryMaxTokens)
}

func (e *Engine) Validate(ctx context.Context, sel llm.Selection, summary string, result query.Result) (Verdict, error) {
	p, err := prompt.Validation(summary, result.Columns, result.Head(e.cfg.ValidationRows))
	if err != nil {
		return Verdict{}, err
	}
	raw, err := e.llm.Complete(llm.WithPurpose(ctx, "validate"), sel, p.System,
		[]llm.Message{{Role: llm.RoleUser, Content: p.User}}, e.cfg.ValidationMaxTokens)
	if err != nil {
		return Verdict{}, err
	}
	return ParseVerdict(raw), nil
}
