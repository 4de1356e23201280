package app_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/poirierunited/get-ahead-ai/internal/app"
	"github.com/poirierunited/get-ahead-ai/internal/config"
	"github.com/poirierunited/get-ahead-ai/internal/interview"
	"github.com/poirierunited/get-ahead-ai/internal/observe"
	"github.com/poirierunited/get-ahead-ai/pkg/provider/llm"
	llmmock "github.com/poirierunited/get-ahead-ai/pkg/provider/llm/mock"
)

const baseYAML = `
providers:
  llm:
    name: mock
`

// testConfig parses yaml through the real loader.
func testConfig(t *testing.T, yaml string) *config.Config {
	t.Helper()
	cfg, err := config.LoadFromReader(strings.NewReader(yaml))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	return cfg
}

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

// newApp builds an App with a discarded log and isolated metrics.
func newApp(t *testing.T, cfg *config.Config, opts ...app.Option) (*app.App, *slog.LevelVar) {
	t.Helper()
	level := new(slog.LevelVar)
	level.Set(app.Level(cfg.Server.LogLevel))
	opts = append([]app.Option{
		app.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil)), level),
		app.WithMetrics(testMetrics(t)),
	}, opts...)
	a, err := app.New(context.Background(), cfg, opts...)
	if err != nil {
		t.Fatalf("New() returned error: %v", err)
	}
	t.Cleanup(func() { _ = a.Close() })
	return a, level
}

func words(n int) string {
	return strings.TrimSpace(strings.Repeat("experience ", n))
}

// feedbackBody is a submission that passes the default gate with three
// candidate answers.
func feedbackBody(interviewID string) string {
	turns := []interview.Turn{
		{Role: interview.RoleAssistant, Content: "Tell me about yourself."},
		{Role: interview.RoleUser, Content: words(25)},
		{Role: interview.RoleAssistant, Content: "Describe a hard bug you fixed."},
		{Role: interview.RoleUser, Content: words(25)},
		{Role: interview.RoleAssistant, Content: "How did you verify the fix?"},
		{Role: interview.RoleUser, Content: words(25)},
	}
	raw, _ := json.Marshal(map[string]any{
		"interviewId":     interviewID,
		"userId":          "u-1",
		"transcript":      turns,
		"durationSeconds": 120,
	})
	return string(raw)
}

type response struct {
	status int
	body   map[string]any
	raw    string
}

func do(t *testing.T, h http.Handler, method, path, body string) response {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	req.Header.Set("X-Forwarded-For", "203.0.113.7")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	res := response{status: rec.Code, raw: rec.Body.String()}
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		if err := json.Unmarshal(rec.Body.Bytes(), &res.body); err != nil {
			t.Fatalf("%s %s: decode JSON: %v", method, path, err)
		}
	}
	return res
}

func TestNew_LocalDefaults(t *testing.T) {
	t.Parallel()
	a, _ := newApp(t, testConfig(t, baseYAML))
	h := a.Handler()

	if got := do(t, h, "GET", "/healthz", ""); got.status != http.StatusOK {
		t.Errorf("healthz status = %d", got.status)
	}

	ready := do(t, h, "GET", "/readyz", "")
	if ready.status != http.StatusOK {
		t.Fatalf("readyz status = %d, body %s", ready.status, ready.raw)
	}
	checks, _ := ready.body["checks"].(map[string]any)
	if checks["breaker:scoring"] != "ok" {
		t.Errorf("readyz checks = %v", checks)
	}

	if got := do(t, h, "GET", "/metrics", ""); got.status != http.StatusOK {
		t.Errorf("metrics status = %d", got.status)
	}

	// No voice provider configured: the session endpoint is not mounted.
	if got := do(t, h, "GET", "/api/interviews/iv-1/session?userId=u-1", ""); got.status != http.StatusNotFound {
		t.Errorf("session status = %d, want 404", got.status)
	}
	if a.Machine() == nil {
		t.Error("Machine() returned nil")
	}
}

func TestFeedbackRoundTrip_MockModel(t *testing.T) {
	t.Parallel()
	a, _ := newApp(t, testConfig(t, baseYAML))
	h := a.Handler()

	created := do(t, h, "POST", "/en/api/feedback", feedbackBody("iv-1"))
	if created.status != http.StatusOK {
		t.Fatalf("create status = %d, body %s", created.status, created.raw)
	}
	id, _ := created.body["feedbackId"].(string)
	if id == "" {
		t.Fatalf("missing feedbackId in %s", created.raw)
	}

	latest := do(t, h, "GET", "/api/feedback?interviewId=iv-1&userId=u-1&latest=true", "")
	if latest.status != http.StatusOK {
		t.Fatalf("latest status = %d, body %s", latest.status, latest.raw)
	}
	fb, _ := latest.body["feedback"].(map[string]any)
	if fb["id"] != id {
		t.Errorf("latest id = %v, want %s", fb["id"], id)
	}
	if fb["totalScore"] != float64(70) {
		t.Errorf("totalScore = %v, want 70", fb["totalScore"])
	}
	if scores, _ := fb["categoryScores"].([]any); len(scores) != 5 {
		t.Errorf("got %d category scores, want 5", len(scores))
	}
}

func TestNew_UnknownProvider(t *testing.T) {
	t.Parallel()
	cfg := testConfig(t, baseYAML)
	cfg.Providers.LLM.Name = "nonexistent"

	_, err := app.New(context.Background(), cfg,
		app.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil)), new(slog.LevelVar)),
		app.WithMetrics(testMetrics(t)),
	)
	if !errors.Is(err, config.ErrProviderNotRegistered) {
		t.Fatalf("err = %v, want ErrProviderNotRegistered", err)
	}
	if !strings.Contains(err.Error(), "app: init scoring") {
		t.Errorf("err = %v, want init scoring prefix", err)
	}
}

func TestNew_LLMFallbacks(t *testing.T) {
	t.Parallel()
	cfg := testConfig(t, `
providers:
  llm:
    name: flaky
  llm_fallbacks:
    - name: mock
`)
	flaky := &llmmock.Provider{ProviderName: "flaky", CompleteErr: errors.New("upstream 503")}
	reg := config.NewRegistry()
	app.RegisterBuiltinProviders(reg)
	reg.RegisterLLM("flaky", func(config.ProviderEntry) (llm.Provider, error) { return flaky, nil })

	a, _ := newApp(t, cfg, app.WithRegistry(reg))

	created := do(t, a.Handler(), "POST", "/api/feedback", feedbackBody("iv-2"))
	if created.status != http.StatusOK {
		t.Fatalf("create status = %d, body %s", created.status, created.raw)
	}
	if n := len(flaky.Calls()); n != 1 {
		t.Errorf("primary called %d times, want 1", n)
	}
}

func TestNew_InterviewFixtures(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	fixtures := filepath.Join(dir, "interviews.yaml")
	if err := os.WriteFile(fixtures, []byte(`
interviews:
  - id: iv-fixture
    title: Backend engineer
    role: Backend Engineer
    style: technical
    questions: ["What is a goroutine?"]
    user_id: u-1
    created_at: 2026-05-01T12:00:00Z
`), 0o644); err != nil {
		t.Fatal(err)
	}
	feedbackFile := filepath.Join(dir, "feedback.jsonl")

	cfg := testConfig(t, baseYAML)
	cfg.Storage.InterviewsFile = fixtures
	cfg.Storage.FeedbackFile = feedbackFile
	a, _ := newApp(t, cfg)
	h := a.Handler()

	got := do(t, h, "GET", "/api/interviews/iv-fixture", "")
	if got.status != http.StatusOK {
		t.Fatalf("get interview status = %d, body %s", got.status, got.raw)
	}

	if created := do(t, h, "POST", "/api/feedback", feedbackBody("iv-fixture")); created.status != http.StatusOK {
		t.Fatalf("create status = %d, body %s", created.status, created.raw)
	}
	if info, err := os.Stat(feedbackFile); err != nil || info.Size() == 0 {
		t.Errorf("feedback file not written: %v", err)
	}
}

func TestNew_BadFixturesFile(t *testing.T) {
	t.Parallel()
	cfg := testConfig(t, baseYAML)
	cfg.Storage.InterviewsFile = filepath.Join(t.TempDir(), "absent.yaml")

	_, err := app.New(context.Background(), cfg,
		app.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil)), new(slog.LevelVar)),
		app.WithMetrics(testMetrics(t)),
	)
	if err == nil || !strings.Contains(err.Error(), "app: init storage") {
		t.Fatalf("err = %v, want init storage error", err)
	}
}

func TestNew_RateLimitFromConfig(t *testing.T) {
	t.Parallel()
	cfg := testConfig(t, baseYAML+`
rate_limit:
  max_requests: 1
  window: 1m
`)
	a, _ := newApp(t, cfg)
	h := a.Handler()

	if got := do(t, h, "POST", "/api/feedback", feedbackBody("iv-3")); got.status != http.StatusOK {
		t.Fatalf("first status = %d, body %s", got.status, got.raw)
	}
	got := do(t, h, "POST", "/api/feedback", feedbackBody("iv-3"))
	if got.status != http.StatusTooManyRequests {
		t.Fatalf("second status = %d, want 429", got.status)
	}
}

func TestReload_HotReloadableChanges(t *testing.T) {
	t.Parallel()
	old := testConfig(t, baseYAML)
	a, level := newApp(t, old)
	machineBefore := a.Machine()

	next := testConfig(t, baseYAML+`
server:
  log_level: debug
gate:
  min_user_turns: 4
session:
  routes:
    home: /{locale}/dashboard
`)
	a.Reload(old, next)

	if level.Level() != slog.LevelDebug {
		t.Errorf("level = %v, want debug", level.Level())
	}
	if a.Machine() == machineBefore {
		t.Error("route change did not rebuild the session machine")
	}

	// Three candidate answers no longer pass.
	got := do(t, a.Handler(), "POST", "/api/feedback", feedbackBody("iv-4"))
	if got.status != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422; body %s", got.status, got.raw)
	}
}

func TestReload_RestartOnlyChangeKeepsRules(t *testing.T) {
	t.Parallel()
	old := testConfig(t, baseYAML)
	a, level := newApp(t, old)
	machineBefore := a.Machine()

	next := testConfig(t, baseYAML+`
server:
  listen_addr: ":9999"
`)
	a.Reload(old, next)

	if a.Machine() != machineBefore {
		t.Error("restart-only change rebuilt the session machine")
	}
	if level.Level() != slog.LevelInfo {
		t.Errorf("level = %v, want info", level.Level())
	}
}

func TestServe_StopsOnCancel(t *testing.T) {
	t.Parallel()
	a, _ := newApp(t, testConfig(t, baseYAML))

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- a.Serve(ctx, ln) }()

	url := fmt.Sprintf("http://%s/healthz", ln.Addr())
	deadline := time.Now().Add(5 * time.Second)
	for {
		resp, err := http.Get(url)
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				t.Fatalf("healthz status = %d", resp.StatusCode)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("server never answered: %v", err)
		}
		time.Sleep(10 * time.Millisecond)
	}

	cancel()
	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("Serve() returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Serve() did not return within 5s after cancellation")
	}

	// Readiness flips to draining once shutdown starts.
	if got := do(t, a.Handler(), "GET", "/readyz", ""); got.status != http.StatusServiceUnavailable {
		t.Errorf("readyz after shutdown = %d, want 503", got.status)
	}
}

func TestNewLogger_Formats(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	level := new(slog.LevelVar)
	level.Set(slog.LevelWarn)

	log := app.NewLogger(&buf, config.LogFormatJSON, level)
	log.Info("hidden")
	log.Warn("shown", "k", "v")

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("expected one JSON record, got %q: %v", buf.String(), err)
	}
	if rec["msg"] != "shown" || rec["k"] != "v" {
		t.Errorf("record = %v", rec)
	}

	buf.Reset()
	level.Set(slog.LevelDebug)
	app.NewLogger(&buf, config.LogFormatText, level).Debug("now visible")
	if !strings.Contains(buf.String(), "msg=\"now visible\"") {
		t.Errorf("text output = %q", buf.String())
	}
}

func TestLevel(t *testing.T) {
	t.Parallel()
	for in, want := range map[config.LogLevel]slog.Level{
		config.LogDebug: slog.LevelDebug,
		config.LogInfo:  slog.LevelInfo,
		config.LogWarn:  slog.LevelWarn,
		config.LogError: slog.LevelError,
		"":              slog.LevelInfo,
	} {
		if got := app.Level(in); got != want {
			t.Errorf("Level(%q) = %v, want %v", in, got, want)
		}
	}
}
