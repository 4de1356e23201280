// Package gate implements the transcript quality gate: a pure, deterministic
// check deciding whether a finished conversation carries enough candidate
// speech to be worth sending to the scoring model.
//
// Checks run in a fixed precedence and stop at the first failure, so
// [Result.Reason] always names the earliest violated rule. Metrics are
// attached whatever the outcome.
package gate

import (
	"github.com/poirierunited/get-ahead-ai/internal/interview"
)

// Reason is a stable, machine-readable rejection code.
type Reason string

const (
	ReasonEmpty                     Reason = "empty"
	ReasonNoUserMessages            Reason = "no user messages"
	ReasonInsufficientParticipation Reason = "insufficient participation"
	ReasonResponsesTooShort         Reason = "responses too short"
	ReasonInsufficientContent       Reason = "insufficient content"
	ReasonGenericResponses          Reason = "generic responses"
	ReasonImbalancedConversation    Reason = "imbalanced conversation"
)

// Reasons lists every rejection code in check order.
var Reasons = []Reason{
	ReasonEmpty,
	ReasonNoUserMessages,
	ReasonInsufficientParticipation,
	ReasonResponsesTooShort,
	ReasonInsufficientContent,
	ReasonGenericResponses,
	ReasonImbalancedConversation,
}

// Describe returns a human-readable explanation of r.
func (r Reason) Describe() string {
	switch r {
	case ReasonEmpty:
		return "Transcript is empty"
	case ReasonNoUserMessages:
		return "No user messages found - possible microphone issue"
	case ReasonInsufficientParticipation:
		return "Insufficient user participation - fewer than 2 responses"
	case ReasonResponsesTooShort:
		return "User responses are too short on average"
	case ReasonInsufficientContent:
		return "Insufficient user content overall"
	case ReasonGenericResponses:
		return "Most user responses are generic or too brief"
	case ReasonImbalancedConversation:
		return "User spoke too little of the conversation"
	}
	return string(r)
}

// Metrics summarises candidate participation.
type Metrics struct {
	UserTurnCount         int     `json:"userMessageCount"`
	UserWordCount         int     `json:"userWordCount"`
	AverageUserTurnLength float64 `json:"averageUserMessageLength"`
	MeaningfulTurnCount   int     `json:"meaningfulMessageCount"`
	AssistantWordCount    int     `json:"assistantWordCount"`
	QuestionsAsked        int     `json:"questionsAsked"`
}

// Result is the outcome of [Gate.Validate].
type Result struct {
	Valid   bool    `json:"isValid"`
	Reason  Reason  `json:"reason,omitempty"`
	Metrics Metrics `json:"metrics"`
}

// Gate applies a [Config]. The zero value is not usable; build one with [New].
// A Gate is immutable and safe for concurrent use.
type Gate struct {
	cfg  Config
	acks TokenSet
}

// New returns a gate for cfg. Zero thresholds in cfg fall back to defaults.
func New(cfg Config) *Gate {
	cfg = cfg.withDefaults()
	return &Gate{cfg: cfg, acks: NewTokenSet(cfg.AllAcknowledgements()...)}
}

// Default returns a gate with [DefaultConfig].
func Default() *Gate { return New(DefaultConfig()) }

// Config returns the effective configuration.
func (g *Gate) Config() Config { return g.cfg }

// Validate checks turns against the configured thresholds. It performs no I/O
// and returns the same result for the same input.
func (g *Gate) Validate(turns []interview.Turn) Result {
	m := g.measure(turns)
	reject := func(r Reason) Result { return Result{Valid: false, Reason: r, Metrics: m} }

	switch {
	case len(turns) == 0:
		return reject(ReasonEmpty)
	case m.UserTurnCount == 0:
		return reject(ReasonNoUserMessages)
	case m.UserTurnCount < g.cfg.MinUserTurns:
		return reject(ReasonInsufficientParticipation)
	case m.AverageUserTurnLength < g.cfg.MinAverageWords:
		return reject(ReasonResponsesTooShort)
	case m.UserWordCount < g.cfg.MinTotalWords:
		return reject(ReasonInsufficientContent)
	}

	ratio := float64(m.MeaningfulTurnCount) / float64(m.UserTurnCount)
	if ratio < g.cfg.MinMeaningfulRatio || m.MeaningfulTurnCount < g.cfg.MinMeaningfulTurns {
		return reject(ReasonGenericResponses)
	}

	total := m.UserWordCount + m.AssistantWordCount
	if total > 0 && float64(m.UserWordCount)/float64(total) < g.cfg.MinUserShare {
		return reject(ReasonImbalancedConversation)
	}

	return Result{Valid: true, Metrics: m}
}

func (g *Gate) measure(turns []interview.Turn) Metrics {
	var m Metrics
	for _, t := range turns {
		switch t.Role {
		case interview.RoleUser:
			words := WordCount(t.Content)
			m.UserTurnCount++
			m.UserWordCount += words
			if IsMeaningful(t.Content, g.cfg.MinMeaningfulWords, g.acks) {
				m.MeaningfulTurnCount++
			}
		case interview.RoleAssistant:
			m.AssistantWordCount += WordCount(t.Content)
			if IsQuestion(t.Content) {
				m.QuestionsAsked++
			}
		}
	}
	if m.UserTurnCount > 0 {
		m.AverageUserTurnLength = float64(m.UserWordCount) / float64(m.UserTurnCount)
	}
	return m
}
