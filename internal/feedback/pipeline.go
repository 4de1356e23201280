package feedback

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/poirierunited/get-ahead-ai/internal/gate"
	"github.com/poirierunited/get-ahead-ai/internal/interview"
	"github.com/poirierunited/get-ahead-ai/internal/observe"
	"github.com/poirierunited/get-ahead-ai/internal/ratelimit"
)

// RateLimiter is the admission check run before anything else.
// [*ratelimit.Limiter] satisfies it.
type RateLimiter interface {
	Limited(ctx context.Context, key string) (bool, error)
}

// TranscriptGate is the quality gate. [*gate.Gate] satisfies it.
type TranscriptGate interface {
	Validate(turns []interview.Turn) gate.Result
}

// Pipeline generates and persists feedback. It performs no retries: a
// failure is returned to the caller, and a resubmission is a new attempt.
//
// All methods are safe for concurrent use.
type Pipeline struct {
	store      Store
	scorer     Scorer
	limiter    RateLimiter
	gate       TranscriptGate
	templates  *TemplateSet
	serialized bool
	metrics    *observe.Metrics
	now        func() time.Time
	newID      func() string
}

// Option configures a [Pipeline].
type Option func(*Pipeline)

// WithRateLimiter installs the admission check. Without one every request is
// admitted.
func WithRateLimiter(l RateLimiter) Option {
	return func(p *Pipeline) { p.limiter = l }
}

// WithGate runs the quality gate right after request validation. Rejected
// transcripts fail with an invalid-transcript fault and never reach the
// scorer. Without a gate the caller is trusted to have applied it.
func WithGate(g TranscriptGate) Option {
	return func(p *Pipeline) { p.gate = g }
}

// WithTemplates sets the per-language prompt templates.
func WithTemplates(ts *TemplateSet) Option {
	return func(p *Pipeline) { p.templates = ts }
}

// WithSerializedNumbering computes the attempt number and inserts in one
// serialized step when the store implements [AtomicInserter].
func WithSerializedNumbering(on bool) Option {
	return func(p *Pipeline) { p.serialized = on }
}

// WithMetrics overrides [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) { p.now = now }
}

// WithIDGenerator overrides the random UUID used for new documents.
func WithIDGenerator(fn func() string) Option {
	return func(p *Pipeline) { p.newID = fn }
}

// NewPipeline returns a pipeline writing to store and scoring with scorer.
func NewPipeline(store Store, scorer Scorer, opts ...Option) *Pipeline {
	p := &Pipeline{
		store:  store,
		scorer: scorer,
		now:    time.Now,
		newID:  uuid.NewString,
	}
	for _, o := range opts {
		o(p)
	}
	if p.templates == nil {
		p.templates = NewTemplateSet(nil)
	}
	if p.metrics == nil {
		p.metrics = observe.DefaultMetrics()
	}
	return p
}

// Templates returns the active template set.
func (p *Pipeline) Templates() *TemplateSet { return p.templates }

// Generate runs the full sequence and returns the new feedback identifier.
// Errors are always a *[Fault].
func (p *Pipeline) Generate(ctx context.Context, req GenerateRequest) (string, error) {
	ctx, span := observe.StartSpan(ctx, "feedback.generate", observe.WithInterview(req.InterviewID, req.UserID))

	start := p.now()
	id, err := p.generate(ctx, &req)
	elapsed := p.now().Sub(start)

	outcome := "success"
	if err != nil {
		outcome = KindOf(err).Code()
	} else {
		span.SetAttributes(observe.AttrFeedbackID.String(id))
	}
	observe.FinishSpan(span, err, outcome)
	p.metrics.RecordFeedback(ctx, outcome, elapsed.Seconds())
	return id, err
}

func (p *Pipeline) generate(ctx context.Context, req *GenerateRequest) (string, error) {
	log := observe.Logger(ctx).With("interview_id", req.InterviewID, "user_id", req.UserID)
	start := p.now()

	if p.limiter != nil {
		key := req.ClientKey
		if key == "" {
			key = ratelimit.UnknownKey
		}
		limited, err := p.limiter.Limited(ctx, key)
		switch {
		case err != nil:
			log.Warn("feedback: rate limiter unavailable, admitting request", "client", key, "err", err)
		case limited:
			p.metrics.RecordRateLimited(ctx)
			log.Info("feedback: rate limited", "client", key)
			return "", RateLimitFault()
		}
	}

	if err := ValidateRequest(req); err != nil {
		return "", err
	}

	if p.gate != nil {
		if res := p.gate.Validate(req.Transcript); !res.Valid {
			p.metrics.RecordGateRejection(ctx, string(res.Reason))
			log.Info("feedback: transcript rejected", "reason", res.Reason, "user_turns", res.Metrics.UserTurnCount)
			return "", InvalidTranscriptFault(res.Reason.Describe(), res.Metrics)
		}
	}

	filter := Filter{InterviewID: req.InterviewID, UserID: req.UserID}
	inserter, useAtomic := p.store.(AtomicInserter)
	useAtomic = useAtomic && p.serialized

	attempt := 0
	if !useAtomic {
		n, err := p.store.Count(ctx, filter)
		if err != nil {
			log.Error("feedback: count attempts failed", "elapsed", p.now().Sub(start), "err", err)
			return "", PersistenceFault(err)
		}
		attempt = n + 1
	}

	lang := req.Language
	if lang == "" {
		lang = interview.English
	}
	tmpl := p.templates.For(lang)
	if req.PromptTemplate != "" {
		tmpl.Prompt = req.PromptTemplate
	}
	if req.SystemTemplate != "" {
		tmpl.System = req.SystemTemplate
	}
	transcript := FormatTranscript(req.Transcript)
	prompt := Render(tmpl.Prompt, transcript, lang)
	system := Render(tmpl.System, transcript, lang)

	llmStart := p.now()
	ev, err := p.scorer.Score(ctx, prompt, system)
	p.metrics.LLMDuration.Record(ctx, p.now().Sub(llmStart).Seconds())
	if err != nil {
		log.Error("feedback: generation failed",
			"attempt", attempt,
			"elapsed", p.now().Sub(start),
			"err", err,
		)
		return "", GenerationFault(err)
	}

	fb := Feedback{
		ID:              p.newID(),
		InterviewID:     req.InterviewID,
		UserID:          req.UserID,
		AttemptNumber:   attempt,
		DurationSeconds: req.DurationSeconds,
		CreatedAt:       p.now().UTC(),
		Evaluation:      *ev,
	}

	var id string
	if useAtomic {
		id, attempt, err = inserter.InsertNextAttempt(ctx, fb)
	} else {
		id, err = p.store.Insert(ctx, fb)
	}
	if err != nil {
		log.Error("feedback: persist failed",
			"attempt", attempt,
			"elapsed", p.now().Sub(start),
			"err", err,
		)
		return "", PersistenceFault(err)
	}

	log.Info("feedback: generated",
		"feedback_id", id,
		"attempt", attempt,
		"total_score", ev.TotalScore,
		"elapsed", p.now().Sub(start),
	)
	return id, nil
}

// Latest returns the newest feedback for the pair.
func (p *Pipeline) Latest(ctx context.Context, interviewID, userID string) (*Feedback, error) {
	items, err := p.find(ctx, interviewID, userID, 1)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, NotFoundFault("No feedback found for this interview")
	}
	return &items[0], nil
}

// List returns every feedback for the pair, newest first.
func (p *Pipeline) List(ctx context.Context, interviewID, userID string) ([]Feedback, error) {
	return p.find(ctx, interviewID, userID, 0)
}

func (p *Pipeline) find(ctx context.Context, interviewID, userID string, limit int) ([]Feedback, error) {
	if interviewID == "" || userID == "" {
		return nil, ValidationFault("interviewId and userId are required", nil)
	}
	items, err := p.store.Find(ctx, Query{Filter: Filter{InterviewID: interviewID, UserID: userID}, Limit: limit})
	if err != nil {
		slog.Error("feedback: find failed", "interview_id", interviewID, "user_id", userID, "err", err)
		return nil, PersistenceFault(err)
	}
	return items, nil
}

// Get returns one feedback document by identifier.
func (p *Pipeline) Get(ctx context.Context, id string) (*Feedback, error) {
	if id == "" {
		return nil, ValidationFault("feedbackId is required", nil)
	}
	fb, err := p.store.Get(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return nil, NotFoundFault("Feedback not found")
	}
	if err != nil {
		slog.Error("feedback: get failed", "feedback_id", id, "err", err)
		return nil, PersistenceFault(err)
	}
	return fb, nil
}
