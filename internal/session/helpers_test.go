package session

import (
	"context"
	"strings"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/poirierunited/get-ahead-ai/internal/gate"
	"github.com/poirierunited/get-ahead-ai/internal/interview"
	"github.com/poirierunited/get-ahead-ai/internal/observe"
)

var t0 = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

func words(n int) string {
	return strings.TrimSpace(strings.Repeat("experience ", n))
}

func testInterview() *interview.Interview {
	return &interview.Interview{
		ID:        "iv-1",
		UserID:    "u-1",
		Style:     interview.StyleTechnical,
		Questions: []string{"Tell me about yourself", "Describe a hard bug"},
	}
}

func newSnap(locale interview.Language) Snapshot {
	return NewSnapshot("s-1", testInterview(), "u-1", locale)
}

func newMachine() *Machine { return NewMachine(gate.Default()) }

// goodConversation is three substantial answers interleaved with short
// interviewer prompts.
func goodConversation() []TranscriptReceived {
	return []TranscriptReceived{
		{Role: interview.RoleAssistant, Text: "Tell me about yourself.", Final: true},
		{Role: interview.RoleUser, Text: words(25), Final: true},
		{Role: interview.RoleAssistant, Text: "Describe a hard bug you fixed.", Final: true},
		{Role: interview.RoleUser, Text: words(25), Final: true},
		{Role: interview.RoleAssistant, Text: "How did you verify the fix?", Final: true},
		{Role: interview.RoleUser, Text: words(25), Final: true},
	}
}

// apply feeds events through m, discarding effects.
func apply(m *Machine, s Snapshot, evs ...Event) Snapshot {
	for _, ev := range evs {
		s, _ = m.Transition(s, ev)
	}
	return s
}

// activeSnap returns a snapshot in the Active state started at t0.
func activeSnap(m *Machine, locale interview.Language) Snapshot {
	return apply(m, newSnap(locale), CallRequested{}, CallStarted{At: t0})
}

func withConversation(m *Machine, s Snapshot) Snapshot {
	for _, tr := range goodConversation() {
		s, _ = m.Transition(s, tr)
	}
	return s
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
