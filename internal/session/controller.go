package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/poirierunited/get-ahead-ai/internal/feedback"
	"github.com/poirierunited/get-ahead-ai/internal/observe"
	"github.com/poirierunited/get-ahead-ai/pkg/provider/voice"
)

// Submitter hands a finished transcript to the feedback pipeline and returns
// the stored feedback's identifier.
type Submitter interface {
	Submit(ctx context.Context, req feedback.GenerateRequest) (string, error)
}

// SubmitterFunc adapts a function to [Submitter].
type SubmitterFunc func(ctx context.Context, req feedback.GenerateRequest) (string, error)

// Submit calls f.
func (f SubmitterFunc) Submit(ctx context.Context, req feedback.GenerateRequest) (string, error) {
	return f(ctx, req)
}

// Observer is told about every applied event.
type Observer interface {
	// Changed is called after each transition with the old and new snapshot.
	Changed(prev, next Snapshot)

	// Navigate is called when the machine routes the user away.
	Navigate(path string)
}

// ObserverFuncs adapts optional callbacks to [Observer].
type ObserverFuncs struct {
	OnChange   func(prev, next Snapshot)
	OnNavigate func(path string)
}

// Changed calls OnChange if set.
func (o ObserverFuncs) Changed(prev, next Snapshot) {
	if o.OnChange != nil {
		o.OnChange(prev, next)
	}
}

// Navigate calls OnNavigate if set.
func (o ObserverFuncs) Navigate(path string) {
	if o.OnNavigate != nil {
		o.OnNavigate(path)
	}
}

// ControllerOption configures a [Controller].
type ControllerOption func(*Controller)

// WithObserver registers an observer.
func WithObserver(o Observer) ControllerOption {
	return func(c *Controller) { c.observer = o }
}

// WithMetrics sets the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) ControllerOption {
	return func(c *Controller) { c.metrics = m }
}

// WithLogger sets the logger. Defaults to [slog.Default].
func WithLogger(l *slog.Logger) ControllerOption {
	return func(c *Controller) { c.log = l }
}

// WithClock overrides the time source used to stamp user and channel
// events that carry no time of their own.
func WithClock(now func() time.Time) ControllerOption {
	return func(c *Controller) { c.now = now }
}

// Controller runs one session. Every event, whether it comes from the voice
// channel, the user or a finished submission, is applied on the goroutine
// that called [Controller.Run]. Channel start and feedback submission run
// in the background and report back through [Controller.Dispatch].
type Controller struct {
	machine   *Machine
	channel   voice.Channel
	submitter Submitter
	observer  Observer
	metrics   *observe.Metrics
	log       *slog.Logger
	now       func() time.Time

	inbox chan Event
	done  chan struct{}

	mu   sync.RWMutex
	snap Snapshot

	stopOnce sync.Once
	runOnce  sync.Once
	pending  sync.WaitGroup
}

// NewController returns a controller for snap, driving ch and submitting
// through sub.
func NewController(m *Machine, ch voice.Channel, sub Submitter, snap Snapshot, opts ...ControllerOption) *Controller {
	c := &Controller{
		machine:   m,
		channel:   ch,
		submitter: sub,
		observer:  ObserverFuncs{},
		log:       slog.Default(),
		now:       time.Now,
		inbox:     make(chan Event, 16),
		done:      make(chan struct{}),
		snap:      snap,
	}
	for _, o := range opts {
		o(c)
	}
	if c.metrics == nil {
		c.metrics = observe.DefaultMetrics()
	}
	c.log = c.log.With("session_id", snap.ID, "interview_id", snap.InterviewID, "user_id", snap.UserID)
	return c
}

// Snapshot returns the current snapshot. Safe for concurrent use.
func (c *Controller) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snap
}

// Dispatch queues ev for the run loop. It reports false once the loop has
// exited.
func (c *Controller) Dispatch(ev Event) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.inbox <- ev:
		return true
	case <-c.done:
		return false
	}
}

// Run applies events until the session routes the user away or ctx is
// cancelled, then tears the session down. Run may be called once; later
// calls return immediately.
func (c *Controller) Run(ctx context.Context) error {
	ran := false
	c.runOnce.Do(func() { ran = true })
	if !ran {
		return errors.New("session: controller already ran")
	}
	start := c.Snapshot()
	ctx, span := observe.StartSpan(ctx, "session.run",
		observe.WithInterview(start.InterviewID, start.UserID),
		trace.WithAttributes(observe.AttrSessionID.String(start.ID)),
	)
	defer func() {
		span.SetAttributes(attribute.String("getahead.final_state", c.Snapshot().State.String()))
		span.End()
	}()
	defer close(c.done)
	defer c.Teardown()
	defer func() {
		if c.Snapshot().State == Active {
			c.metrics.ActiveSessions.Add(context.WithoutCancel(ctx), -1)
		}
	}()

	events := c.channel.Events()
	for !c.Snapshot().Done() {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-c.inbox:
			c.apply(ctx, ev)
		case vev, ok := <-events:
			if !ok {
				// Streams that end without a call-end still end the call.
				events = nil
				c.apply(ctx, CallEnded{At: c.now()})
				continue
			}
			if ev := FromVoice(vev, c.now()); ev != nil {
				c.apply(ctx, ev)
			}
		}
	}
	return nil
}

// Teardown asks the channel to stop. Only the first call, or the first
// StopChannel effect, reaches the channel; its error is logged and dropped.
func (c *Controller) Teardown() {
	c.stopOnce.Do(func() {
		if err := c.channel.Stop(); err != nil {
			c.log.Debug("voice channel stop failed", "err", err)
		}
	})
}

// Wait blocks until background channel starts and feedback submissions have
// returned.
func (c *Controller) Wait() { c.pending.Wait() }

func (c *Controller) apply(ctx context.Context, ev Event) {
	c.mu.Lock()
	prev := c.snap
	next, effects := c.machine.Transition(prev, ev)
	c.snap = next
	c.mu.Unlock()

	if prev.State != next.State {
		c.metrics.RecordSessionTransition(ctx, prev.State.String(), next.State.String())
		switch {
		case next.State == Active:
			c.metrics.ActiveSessions.Add(ctx, 1)
		case prev.State == Active:
			c.metrics.ActiveSessions.Add(ctx, -1)
		}
		c.log.Debug("session transition", "from", prev.State, "to", next.State)
	}
	c.observer.Changed(prev, next)

	for _, eff := range effects {
		c.interpret(ctx, eff)
	}
}

func (c *Controller) interpret(ctx context.Context, eff Effect) {
	switch e := eff.(type) {
	case StartChannel:
		c.pending.Add(1)
		go func() {
			defer c.pending.Done()
			if err := c.channel.Start(ctx, e.Assistant, e.Variables); err != nil {
				c.Dispatch(StartFailed{Err: err})
			}
		}()

	case StopChannel:
		c.Teardown()

	case RequestFeedback:
		c.apply(ctx, FeedbackRequested{})

	case SubmitFeedback:
		// Navigation must not abort a submission already under way.
		subCtx := context.WithoutCancel(ctx)
		c.pending.Add(1)
		go func() {
			defer c.pending.Done()
			start := time.Now()
			id, err := c.submitter.Submit(subCtx, e.Request)
			if err != nil {
				c.log.Warn("feedback submission failed", "err", err, "elapsed", time.Since(start))
				c.Dispatch(FeedbackFailed{Err: err})
				return
			}
			c.log.Info("feedback submitted", "feedback_id", id, "elapsed", time.Since(start))
			c.Dispatch(FeedbackSucceeded{FeedbackID: id})
		}()

	case Navigate:
		c.log.Info("session routed", "path", e.Path, "state", c.Snapshot().State)
		c.observer.Navigate(e.Path)

	case ReportError:
		snap := c.Snapshot()
		if errors.Is(e.Err, ErrTranscriptRejected) && snap.Gate != nil {
			c.metrics.RecordGateRejection(ctx, string(snap.Gate.Reason))
			c.log.Info("transcript rejected", "reason", snap.Gate.Reason, "user_turns", snap.Gate.Metrics.UserTurnCount)
			return
		}
		c.log.Warn("session error", "err", e.Err, "state", snap.State)
	}
}
