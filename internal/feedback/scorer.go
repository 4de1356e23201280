package feedback

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/poirierunited/get-ahead-ai/internal/resilience"
	"github.com/poirierunited/get-ahead-ai/pkg/provider/llm"
)

// Scorer produces an [Evaluation] from a rendered prompt pair.
type Scorer interface {
	Score(ctx context.Context, prompt, system string) (*Evaluation, error)
}

// LLMScorer is a [Scorer] backed by an [llm.Provider] with structured output.
type LLMScorer struct {
	provider    llm.Provider
	breaker     *resilience.CircuitBreaker
	temperature float64
	maxTokens   int
	timeout     time.Duration
}

var _ Scorer = (*LLMScorer)(nil)

// ScorerOption configures an [LLMScorer].
type ScorerOption func(*LLMScorer)

// WithBreaker guards provider calls with cb.
func WithBreaker(cb *resilience.CircuitBreaker) ScorerOption {
	return func(s *LLMScorer) { s.breaker = cb }
}

// WithTemperature sets the sampling temperature.
func WithTemperature(t float64) ScorerOption {
	return func(s *LLMScorer) { s.temperature = t }
}

// WithMaxTokens caps the completion length.
func WithMaxTokens(n int) ScorerOption {
	return func(s *LLMScorer) { s.maxTokens = n }
}

// WithTimeout bounds a single provider call. Zero means no bound beyond the
// caller's context.
func WithTimeout(d time.Duration) ScorerOption {
	return func(s *LLMScorer) { s.timeout = d }
}

// NewLLMScorer returns a scorer using p.
func NewLLMScorer(p llm.Provider, opts ...ScorerOption) *LLMScorer {
	s := &LLMScorer{provider: p}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Score asks the model for an evaluation, parses it and checks it against the
// output contract. Provider failures count against the breaker; malformed
// output does not.
func (s *LLMScorer) Score(ctx context.Context, prompt, system string) (*Evaluation, error) {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	req := llm.CompletionRequest{
		SystemPrompt:   system,
		Messages:       []llm.Message{{Role: "user", Content: prompt}},
		Temperature:    s.temperature,
		MaxTokens:      s.maxTokens,
		ResponseSchema: EvaluationSchema(),
	}

	call := func() (*llm.CompletionResponse, error) { return s.provider.Complete(ctx, req) }
	var (
		resp *llm.CompletionResponse
		err  error
	)
	if s.breaker != nil {
		resp, err = resilience.Call(s.breaker, call)
	} else {
		resp, err = call()
	}
	if err != nil {
		return nil, fmt.Errorf("score with %s: %w", s.provider.Name(), err)
	}
	if resp == nil {
		return nil, fmt.Errorf("score with %s: empty response", s.provider.Name())
	}
	slog.Debug("scorer: completion received",
		"provider", s.provider.Name(),
		"finish_reason", resp.FinishReason,
		"prompt_tokens", resp.Usage.PromptTokens,
		"completion_tokens", resp.Usage.CompletionTokens,
	)

	ev, err := ParseEvaluation(resp.Content)
	if err != nil {
		return nil, fmt.Errorf("score with %s: %w", s.provider.Name(), err)
	}
	return ev, nil
}

// ParseEvaluation decodes a model reply into an [Evaluation] and validates
// it. A reply wrapped in a Markdown code fence is accepted. Category scores
// are returned in canonical order.
func ParseEvaluation(content string) (*Evaluation, error) {
	body := stripFence(content)
	if body == "" {
		return nil, errors.New("empty model output")
	}
	var ev Evaluation
	if err := json.Unmarshal([]byte(body), &ev); err != nil {
		return nil, fmt.Errorf("decode model output: %w", err)
	}
	if err := ValidateEvaluation(&ev); err != nil {
		return nil, fmt.Errorf("non-conforming model output: %w", err)
	}
	slices.SortFunc(ev.CategoryScores, func(a, b CategoryScore) int {
		return slices.Index(Categories, a.Name) - slices.Index(Categories, b.Name)
	})
	return &ev, nil
}

func stripFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

// EvaluationSchema returns the JSON schema of [Evaluation] in the strict
// subset accepted by structured-output APIs. Ranges and lengths are checked by
// [ValidateEvaluation] after decoding.
func EvaluationSchema() *llm.JSONSchema {
	names := make([]any, len(Categories))
	for i, c := range Categories {
		names[i] = string(c)
	}
	score := map[string]any{"type": "integer", "description": "0 to 100"}
	strList := map[string]any{"type": "array", "items": map[string]any{"type": "string"}}

	return &llm.JSONSchema{
		Name:        "interview_feedback",
		Description: "Structured evaluation of a mock interview transcript.",
		Strict:      true,
		Schema: map[string]any{
			"type":                 "object",
			"additionalProperties": false,
			"required":             []any{"totalScore", "categoryScores", "strengths", "areasForImprovement", "finalAssessment", "starEvaluation"},
			"properties": map[string]any{
				"totalScore": score,
				"categoryScores": map[string]any{
					"type":        "array",
					"description": "One entry per category, each category exactly once.",
					"items": map[string]any{
						"type":                 "object",
						"additionalProperties": false,
						"required":             []any{"name", "score", "comment"},
						"properties": map[string]any{
							"name":    map[string]any{"type": "string", "enum": names},
							"score":   score,
							"comment": map[string]any{"type": "string"},
						},
					},
				},
				"strengths":           strList,
				"areasForImprovement": strList,
				"finalAssessment":     map[string]any{"type": "string"},
				"starEvaluation": map[string]any{
					"type":                 []any{"object", "null"},
					"additionalProperties": false,
					"required":             []any{"overallScore", "comment", "missingElements", "improvedExamples"},
					"properties": map[string]any{
						"overallScore": score,
						"comment":      map[string]any{"type": "string"},
						"missingElements": map[string]any{
							"type":  "array",
							"items": map[string]any{"type": "string", "enum": []any{"S", "T", "A", "R"}},
						},
						"improvedExamples": strList,
					},
				},
			},
		},
	}
}
