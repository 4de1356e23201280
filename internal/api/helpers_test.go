package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/poirierunited/get-ahead-ai/internal/feedback"
	"github.com/poirierunited/get-ahead-ai/internal/gate"
	"github.com/poirierunited/get-ahead-ai/internal/interview"
	"github.com/poirierunited/get-ahead-ai/internal/observe"
	"github.com/poirierunited/get-ahead-ai/internal/ratelimit"
	"github.com/poirierunited/get-ahead-ai/internal/session"
	"github.com/poirierunited/get-ahead-ai/pkg/provider/voice"
)

var t0 = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

func testMetrics(t *testing.T) *observe.Metrics {
	t.Helper()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(sdkmetric.NewManualReader()))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	require.NoError(t, err)
	return m
}

// stubScorer returns a fixed evaluation, or err when set.
type stubScorer struct {
	mu    sync.Mutex
	err   error
	calls int
}

func (s *stubScorer) Score(context.Context, string, string) (*feedback.Evaluation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return &feedback.Evaluation{
		TotalScore:          72,
		Strengths:           []string{"Clear structure"},
		AreasForImprovement: []string{"Quantify impact"},
		FinalAssessment:     "Solid answers overall.",
	}, nil
}

func (s *stubScorer) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func words(n int) string {
	return strings.TrimSpace(strings.Repeat("experience ", n))
}

// goodTranscript passes the default gate.
func goodTranscript() []interview.Turn {
	return []interview.Turn{
		{Role: interview.RoleAssistant, Content: "Tell me about yourself."},
		{Role: interview.RoleUser, Content: words(25)},
		{Role: interview.RoleAssistant, Content: "Describe a hard bug you fixed."},
		{Role: interview.RoleUser, Content: words(25)},
		{Role: interview.RoleAssistant, Content: "How did you verify the fix?"},
		{Role: interview.RoleUser, Content: words(25)},
	}
}

func testInterview() interview.Interview {
	return interview.Interview{
		ID:        "iv-1",
		Title:     "Backend engineer",
		UserID:    "u-1",
		Style:     interview.StyleTechnical,
		Questions: []string{"Tell me about yourself", "Describe a hard bug"},
		CreatedAt: t0,
	}
}

type env struct {
	srv      *httptest.Server
	scorer   *stubScorer
	repo     *interview.MemoryRepository
	voice    voice.Provider
	sessions *session.Registry
}

type envOption func(*Config)

func withVoice(p voice.Provider) envOption {
	return func(c *Config) { c.Voice = p }
}

func withFeedback(f FeedbackService) envOption {
	return func(c *Config) { c.Feedback = f }
}

// newEnv serves the API over a real pipeline backed by in-memory stores.
func newEnv(t *testing.T, opts ...envOption) *env {
	t.Helper()
	m := testMetrics(t)
	e := &env{
		scorer:   &stubScorer{},
		repo:     interview.NewMemoryRepository(testInterview()),
		sessions: session.NewRegistry(),
	}
	limiter := ratelimit.New(ratelimit.NewMemoryStore(time.Minute))
	pipeline := feedback.NewPipeline(feedback.NewMemoryStore(), e.scorer,
		feedback.WithRateLimiter(limiter),
		feedback.WithGate(gate.Default()),
		feedback.WithMetrics(m),
	)
	cfg := Config{
		Feedback:   pipeline,
		Interviews: e.repo,
		Machine:    func() *session.Machine { return session.NewMachine(gate.Default()) },
		Sessions:   e.sessions,
		Metrics:    m,
	}
	for _, o := range opts {
		o(&cfg)
	}
	e.voice = cfg.Voice
	e.srv = httptest.NewServer(New(cfg).Handler())
	t.Cleanup(e.srv.Close)
	return e
}

// do sends a request and decodes the JSON response into a generic map.
func (e *env) do(t *testing.T, method, path string, body any, header ...string) (int, map[string]any) {
	t.Helper()
	var rd *bytes.Reader
	switch b := body.(type) {
	case nil:
		rd = bytes.NewReader(nil)
	case string:
		rd = bytes.NewReader([]byte(b))
	default:
		data, err := json.Marshal(b)
		require.NoError(t, err)
		rd = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, e.srv.URL+path, rd)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	resp, err := e.srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, "application/json; charset=utf-8", resp.Header.Get("Content-Type"))
	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp.StatusCode, out
}

var errScoring = errors.New("model unavailable")
