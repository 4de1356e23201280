package feedback

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/poirierunited/get-ahead-ai/internal/interview"
	"github.com/poirierunited/get-ahead-ai/internal/observe"
)

const validEvaluationJSON = `{
  "totalScore": 72,
  "categoryScores": [
    {"name": "Technical Knowledge", "score": 70, "comment": "Solid grasp of channels."},
    {"name": "Communication Skills", "score": 80, "comment": "Clear and structured."},
    {"name": "Problem Solving", "score": 65, "comment": "Reasonable approach."},
    {"name": "Cultural Fit", "score": 75, "comment": "Collaborative."},
    {"name": "Confidence and Clarity", "score": 70, "comment": "Steady delivery."}
  ],
  "strengths": ["Concise answers"],
  "areasForImprovement": ["Quantify results"],
  "finalAssessment": "Promising candidate.",
  "starEvaluation": {
    "overallScore": 60,
    "comment": "Results were often missing.",
    "missingElements": ["R"],
    "improvedExamples": ["In my last role I cut p99 latency by 40%."]
  }
}`

func sampleEvaluation() Evaluation {
	ev, err := ParseEvaluation(validEvaluationJSON)
	if err != nil {
		panic(err)
	}
	return *ev
}

func validTranscript() []interview.Turn {
	answer := strings.Repeat("I designed the ingestion service around bounded worker pools ", 2)
	return []interview.Turn{
		{Role: interview.RoleAssistant, Content: "Tell me about a system you built."},
		{Role: interview.RoleUser, Content: answer},
		{Role: interview.RoleAssistant, Content: "How did you handle backpressure?"},
		{Role: interview.RoleUser, Content: answer},
	}
}

// fakeLimiter admits the first max calls.
type fakeLimiter struct {
	mu    sync.Mutex
	max   int
	calls int
	keys  []string
	err   error
}

func (l *fakeLimiter) Limited(_ context.Context, key string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.keys = append(l.keys, key)
	if l.err != nil {
		return false, l.err
	}
	l.calls++
	return l.calls > l.max, nil
}

// stubScorer returns a fixed evaluation or error and records prompts.
type stubScorer struct {
	mu      sync.Mutex
	ev      Evaluation
	err     error
	prompts []string
	systems []string
}

func (s *stubScorer) Score(_ context.Context, prompt, system string) (*Evaluation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prompts = append(s.prompts, prompt)
	s.systems = append(s.systems, system)
	if s.err != nil {
		return nil, s.err
	}
	ev := s.ev
	return &ev, nil
}

func (s *stubScorer) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.prompts)
}

// failingStore fails every operation with err.
type failingStore struct{ err error }

func (f failingStore) Insert(context.Context, Feedback) (string, error) { return "", f.err }
func (f failingStore) Count(context.Context, Filter) (int, error)      { return 0, f.err }
func (f failingStore) Find(context.Context, Query) ([]Feedback, error) { return nil, f.err }
func (f failingStore) Get(context.Context, string) (*Feedback, error)  { return nil, f.err }

func testMetrics(t *testing.T) *observe.Metrics {
	t.Helper()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(sdkmetric.NewManualReader()))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m
}

// steppingClock advances one second per reading.
func steppingClock() func() time.Time {
	var mu sync.Mutex
	t := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		t = t.Add(time.Second)
		return t
	}
}

func seqIDs(prefix string) func() string {
	var mu sync.Mutex
	n := 0
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return fmt.Sprintf("%s-%d", prefix, n)
	}
}
