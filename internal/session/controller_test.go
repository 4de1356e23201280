package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/poirierunited/get-ahead-ai/internal/feedback"
	"github.com/poirierunited/get-ahead-ai/internal/interview"
	"github.com/poirierunited/get-ahead-ai/pkg/provider/voice"
	"github.com/poirierunited/get-ahead-ai/pkg/provider/voice/mock"
)

// recordingSubmitter counts submissions and answers with id or err.
type recordingSubmitter struct {
	mu    sync.Mutex
	reqs  []feedback.GenerateRequest
	ctxs  []context.Context
	id    string
	err   error
	block chan struct{}
}

func (r *recordingSubmitter) Submit(ctx context.Context, req feedback.GenerateRequest) (string, error) {
	r.mu.Lock()
	r.reqs = append(r.reqs, req)
	r.ctxs = append(r.ctxs, ctx)
	block := r.block
	r.mu.Unlock()
	if block != nil {
		<-block
	}
	return r.id, r.err
}

func (r *recordingSubmitter) calls() []feedback.GenerateRequest {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]feedback.GenerateRequest(nil), r.reqs...)
}

type harness struct {
	ctrl  *Controller
	ch    *mock.Channel
	sub   *recordingSubmitter
	nav   chan string
	errCh chan error
}

// startHarness runs a controller whose channel answers Start with
// call-start.
func startHarness(t *testing.T, ctx context.Context, sub *recordingSubmitter) *harness {
	t.Helper()
	ch := mock.NewChannel()
	ch.OnStart = func(c *mock.Channel) { c.Emit(voice.Event{Kind: voice.EventCallStart, At: t0}) }

	h := &harness{ch: ch, sub: sub, nav: make(chan string, 4), errCh: make(chan error, 1)}
	h.ctrl = NewController(newMachine(), ch, sub, newSnap(interview.English),
		WithMetrics(testMetrics(t)),
		WithObserver(ObserverFuncs{OnNavigate: func(p string) { h.nav <- p }}),
	)
	go func() { h.errCh <- h.ctrl.Run(ctx) }()
	return h
}

func (h *harness) waitState(t *testing.T, want State) {
	t.Helper()
	require.Eventually(t, func() bool { return h.ctrl.Snapshot().State == want },
		3*time.Second, 5*time.Millisecond, "state never reached %s", want)
}

func (h *harness) waitRun(t *testing.T) {
	t.Helper()
	select {
	case err := <-h.errCh:
		require.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not return")
	}
}

func (h *harness) converse() {
	for _, tr := range goodConversation() {
		h.ch.Emit(voice.Event{Kind: voice.EventTranscript, Role: string(tr.Role), Text: tr.Text, Final: true})
	}
}

func TestController_CompletedSession(t *testing.T) {
	t.Parallel()
	sub := &recordingSubmitter{id: "fb-1"}
	h := startHarness(t, context.Background(), sub)

	require.True(t, h.ctrl.Dispatch(CallRequested{}))
	h.waitState(t, Active)

	h.ch.Emit(voice.Event{Kind: voice.EventSpeechStart})
	h.ch.Emit(voice.Event{Kind: voice.EventTranscript, Role: voice.RoleUser, Text: "partial", Final: false})
	h.converse()
	h.ch.Emit(voice.Event{Kind: voice.EventSpeechEnd})
	h.ch.Emit(voice.Event{Kind: voice.EventCallEnd, At: t0.Add(3 * time.Minute)})

	h.waitRun(t)
	h.ctrl.Wait()

	assert.Equal(t, "/en/interview/iv-1/feedback/fb-1", <-h.nav)
	calls := sub.calls()
	require.Len(t, calls, 1)
	assert.Len(t, calls[0].Transcript, 6)
	assert.Equal(t, 180, calls[0].DurationSeconds)
	assert.Equal(t, 1, h.ch.StopCount(), "teardown stops the channel exactly once")

	starts := h.ch.StartCalls()
	require.Len(t, starts, 1)
	assert.Equal(t, "sarah", starts[0].Assistant.Voice)
}

func TestController_DisconnectSubmitsOnce(t *testing.T) {
	t.Parallel()
	sub := &recordingSubmitter{id: "fb-2"}
	h := startHarness(t, context.Background(), sub)

	h.ctrl.Dispatch(CallRequested{})
	h.waitState(t, Active)
	h.converse()
	require.Eventually(t, func() bool { return len(h.ctrl.Snapshot().Turns) == 6 }, 3*time.Second, 5*time.Millisecond)

	h.ctrl.Dispatch(UserDisconnected{At: t0.Add(time.Minute)})
	h.ch.Emit(voice.Event{Kind: voice.EventCallEnd})

	h.waitRun(t)
	h.ctrl.Wait()
	assert.Len(t, sub.calls(), 1)
	assert.Equal(t, 1, h.ch.StopCount())
}

func TestController_EndEarlyNeverSubmits(t *testing.T) {
	t.Parallel()
	sub := &recordingSubmitter{id: "unused"}
	h := startHarness(t, context.Background(), sub)

	h.ctrl.Dispatch(CallRequested{})
	h.waitState(t, Active)
	h.converse()
	h.ch.Emit(voice.Event{
		Kind: voice.EventFunctionInvoked,
		Name: EndEarlyTool,
		Args: []byte(`{"reason":"technical_issues"}`),
	})

	h.waitRun(t)
	h.ctrl.Wait()
	assert.Equal(t, "/en", <-h.nav)
	assert.Empty(t, sub.calls())
	snap := h.ctrl.Snapshot()
	assert.Equal(t, Cancelled, snap.State)
	assert.Equal(t, ReasonTechnicalIssues, snap.Reason)
	assert.Equal(t, 1, h.ch.StopCount())
}

func TestController_RejectedTranscriptGoesHome(t *testing.T) {
	t.Parallel()
	sub := &recordingSubmitter{id: "unused"}
	h := startHarness(t, context.Background(), sub)

	h.ctrl.Dispatch(CallRequested{})
	h.waitState(t, Active)
	h.ch.Emit(voice.Event{Kind: voice.EventTranscript, Role: voice.RoleUser, Text: "ok", Final: true})
	h.ch.Emit(voice.Event{Kind: voice.EventCallEnd})

	h.waitRun(t)
	assert.Equal(t, "/en", <-h.nav)
	assert.Empty(t, sub.calls())
}

func TestController_FailedSubmissionStillRoutes(t *testing.T) {
	t.Parallel()
	sub := &recordingSubmitter{err: feedback.GenerationFault(errors.New("model unavailable"))}
	h := startHarness(t, context.Background(), sub)

	h.ctrl.Dispatch(CallRequested{})
	h.waitState(t, Active)
	h.converse()
	h.ch.Emit(voice.Event{Kind: voice.EventCallEnd})

	h.waitRun(t)
	assert.Equal(t, "/en/interview/iv-1/feedback", <-h.nav)
}

func TestController_StreamCloseEndsCall(t *testing.T) {
	t.Parallel()
	sub := &recordingSubmitter{id: "fb-3"}
	h := startHarness(t, context.Background(), sub)

	h.ctrl.Dispatch(CallRequested{})
	h.waitState(t, Active)
	h.converse()
	h.ch.Close()

	h.waitRun(t)
	assert.Len(t, sub.calls(), 1)
}

func TestController_StartFailureAllowsRetry(t *testing.T) {
	t.Parallel()
	ch := mock.NewChannel()
	ch.StartErr = errors.New("dial refused")
	ctrl := NewController(newMachine(), ch, &recordingSubmitter{}, newSnap(interview.English),
		WithMetrics(testMetrics(t)))

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- ctrl.Run(ctx) }()

	ctrl.Dispatch(CallRequested{})
	require.Eventually(t, func() bool { return len(ch.StartCalls()) == 1 }, 3*time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return ctrl.Snapshot().State == Inactive }, 3*time.Second, 5*time.Millisecond)

	ctrl.Dispatch(CallRequested{})
	require.Eventually(t, func() bool { return len(ch.StartCalls()) == 2 }, 3*time.Second, 5*time.Millisecond)

	cancel()
	require.NoError(t, <-errCh)
	ctrl.Wait()
}

func TestController_TeardownOnCancel(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	h := startHarness(t, ctx, &recordingSubmitter{})

	h.ctrl.Dispatch(CallRequested{})
	h.waitState(t, Active)
	cancel()
	h.waitRun(t)

	h.ctrl.Teardown()
	assert.Equal(t, 1, h.ch.StopCount())
	assert.False(t, h.ctrl.Dispatch(CallRequested{}), "dispatch after exit reports false")
	assert.Error(t, h.ctrl.Run(context.Background()), "second Run is refused")
}

func TestController_SubmissionOutlivesTeardown(t *testing.T) {
	t.Parallel()
	release := make(chan struct{})
	sub := &recordingSubmitter{id: "fb-4", block: release}
	ctx, cancel := context.WithCancel(context.Background())
	h := startHarness(t, ctx, sub)

	h.ctrl.Dispatch(CallRequested{})
	h.waitState(t, Active)
	h.converse()
	h.ch.Emit(voice.Event{Kind: voice.EventCallEnd})
	h.waitState(t, GeneratingFeedback)
	require.Eventually(t, func() bool { return len(sub.calls()) == 1 }, 3*time.Second, 5*time.Millisecond)

	cancel()
	h.waitRun(t)
	close(release)
	h.ctrl.Wait()

	sub.mu.Lock()
	subCtx := sub.ctxs[0]
	sub.mu.Unlock()
	assert.NoError(t, subCtx.Err(), "submission context is detached from the session")
}

func TestController_ObserverSeesTransitions(t *testing.T) {
	t.Parallel()
	var mu sync.Mutex
	var states []State

	ch := mock.NewChannel()
	ch.OnStart = func(c *mock.Channel) { c.Emit(voice.Event{Kind: voice.EventCallStart}) }
	ctrl := NewController(newMachine(), ch, &recordingSubmitter{}, newSnap(interview.English),
		WithMetrics(testMetrics(t)),
		WithClock(func() time.Time { return t0 }),
		WithObserver(ObserverFuncs{OnChange: func(prev, next Snapshot) {
			if prev.State != next.State {
				mu.Lock()
				states = append(states, next.State)
				mu.Unlock()
			}
		}}),
	)
	errCh := make(chan error, 1)
	go func() { errCh <- ctrl.Run(context.Background()) }()

	ctrl.Dispatch(CallRequested{})
	require.Eventually(t, func() bool { return ctrl.Snapshot().State == Active }, 3*time.Second, 5*time.Millisecond)
	assert.Equal(t, t0, ctrl.Snapshot().StartedAt)
	ctrl.Dispatch(UserBackedOut{})
	require.NoError(t, <-errCh)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []State{Connecting, Active, CancelledByUser}, states)
}
