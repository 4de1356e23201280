package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/poirierunited/get-ahead-ai/internal/feedback"
	"github.com/poirierunited/get-ahead-ai/internal/gate"
	"github.com/poirierunited/get-ahead-ai/internal/interview"
)

var (
	// ErrTranscriptRejected is reported when a finished call fails the
	// quality gate and no feedback is requested.
	ErrTranscriptRejected = errors.New("session: transcript rejected by quality gate")

	// ErrMissingUser is reported when a finished call has no user to file
	// feedback under.
	ErrMissingUser = errors.New("session: user id is missing")
)

// Validator is the quality gate as seen by the machine.
type Validator interface {
	Validate(turns []interview.Turn) gate.Result
}

// MachineOption configures a [Machine].
type MachineOption func(*Machine)

// WithPersonas replaces [DefaultPersonas].
func WithPersonas(p Personas) MachineOption {
	return func(m *Machine) { m.personas = p }
}

// WithRoutes replaces [DefaultRoutes]. Empty fields keep their defaults.
func WithRoutes(r Routes) MachineOption {
	return func(m *Machine) { m.routes = r.withDefaults() }
}

// WithMaxDuration caps the length of a call. Zero means no cap.
func WithMaxDuration(d time.Duration) MachineOption {
	return func(m *Machine) { m.maxDuration = d }
}

// Machine holds the transition rules. It is immutable and safe for
// concurrent use.
type Machine struct {
	gate        Validator
	personas    Personas
	routes      Routes
	maxDuration time.Duration
}

// NewMachine returns a machine that checks finished calls with v.
func NewMachine(v Validator, opts ...MachineOption) *Machine {
	m := &Machine{
		gate:     v,
		personas: DefaultPersonas(),
		routes:   DefaultRoutes(),
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Transition applies ev to s. It performs no I/O. Events that have no
// meaning in the current state leave the snapshot unchanged and produce no
// effects; so does every event once the snapshot is [Snapshot.Done].
func (m *Machine) Transition(s Snapshot, ev Event) (Snapshot, []Effect) {
	if s.Done() {
		return s, nil
	}
	switch s.State {
	case Inactive:
		return m.inactive(s, ev)
	case Connecting:
		return m.connecting(s, ev)
	case Active:
		return m.active(s, ev)
	case Finished:
		return m.finished(s, ev)
	case GeneratingFeedback:
		return m.generating(s, ev)
	}
	return s, nil
}

// ── Per-state handlers ─────────────────────────────────────────────────────────

func (m *Machine) inactive(s Snapshot, ev Event) (Snapshot, []Effect) {
	switch ev.(type) {
	case CallRequested:
		s.State = Connecting
		return s, []Effect{StartChannel{
			Assistant: m.personas.Assistant(s.Locale, s.Style, m.maxDuration),
			Variables: Variables(s.Questions),
		}}
	case UserBackedOut:
		return m.cancelByUser(s, false)
	}
	return s, nil
}

func (m *Machine) connecting(s Snapshot, ev Event) (Snapshot, []Effect) {
	switch e := ev.(type) {
	case CallStarted:
		s.State = Active
		s.StartedAt = e.At
		return s, nil
	case StartFailed:
		s.State = Inactive
		return s, []Effect{ReportError{Err: fmt.Errorf("session: start call: %w", e.Err)}}
	case CallEnded:
		// The call never came up.
		s.State = Inactive
		return s, []Effect{ReportError{Err: errors.New("session: call ended before it started")}}
	case ChannelFailed:
		return s, []Effect{ReportError{Err: e.Err}}
	case UserBackedOut:
		return m.cancelByUser(s, true)
	}
	return s, nil
}

func (m *Machine) active(s Snapshot, ev Event) (Snapshot, []Effect) {
	switch e := ev.(type) {
	case TranscriptReceived:
		text := strings.TrimSpace(e.Text)
		if !e.Final || text == "" || !e.Role.IsValid() {
			return s, nil
		}
		return s.withTurn(interview.Turn{Role: e.Role, Content: text}), nil
	case SpeechStarted:
		s.Speaking = true
		return s, nil
	case SpeechEnded:
		s.Speaking = false
		return s, nil
	case FunctionInvoked:
		if e.Name != EndEarlyTool {
			return s, nil
		}
		s.State = Cancelled
		s.Speaking = false
		s.Reason = parseReason(e.Args)
		s.Redirect = m.routes.home(s)
		return s, []Effect{StopChannel{}, Navigate{Path: s.Redirect}}
	case CallEnded:
		s = s.withDuration(e.At)
		s.State = Finished
		s.Speaking = false
		return s, []Effect{RequestFeedback{}}
	case UserDisconnected:
		s = s.withDuration(e.At)
		s.State = Finished
		s.Speaking = false
		return s, []Effect{StopChannel{}, RequestFeedback{}}
	case ChannelFailed:
		return s, []Effect{ReportError{Err: e.Err}}
	case UserBackedOut:
		return m.cancelByUser(s, true)
	}
	return s, nil
}

func (m *Machine) finished(s Snapshot, ev Event) (Snapshot, []Effect) {
	if _, ok := ev.(FeedbackRequested); !ok {
		return s, nil
	}

	if s.UserID == "" {
		s.Redirect = m.routes.home(s)
		return s, []Effect{ReportError{Err: ErrMissingUser}, Navigate{Path: s.Redirect}}
	}

	res := m.gate.Validate(s.Turns)
	s.Gate = &res
	if !res.Valid {
		s.Redirect = m.routes.home(s)
		return s, []Effect{
			ReportError{Err: fmt.Errorf("%w: %s", ErrTranscriptRejected, res.Reason)},
			Navigate{Path: s.Redirect},
		}
	}

	s.State = GeneratingFeedback
	return s, []Effect{SubmitFeedback{Request: feedback.GenerateRequest{
		InterviewID:     s.InterviewID,
		UserID:          s.UserID,
		Transcript:      slices.Clone(s.Turns),
		Language:        s.Locale,
		DurationSeconds: s.DurationSeconds,
	}}}
}

func (m *Machine) generating(s Snapshot, ev Event) (Snapshot, []Effect) {
	switch e := ev.(type) {
	case FeedbackSucceeded:
		s.FeedbackID = e.FeedbackID
		s.Redirect = m.routes.feedbackView(s)
		return s, []Effect{Navigate{Path: s.Redirect}}
	case FeedbackFailed:
		if feedback.IsInvalidTranscript(e.Err) {
			s.Redirect = m.routes.home(s)
		} else {
			s.Redirect = m.routes.feedbackList(s)
		}
		return s, []Effect{ReportError{Err: e.Err}, Navigate{Path: s.Redirect}}
	}
	return s, nil
}

func (m *Machine) cancelByUser(s Snapshot, live bool) (Snapshot, []Effect) {
	s.State = CancelledByUser
	s.Speaking = false
	s.Redirect = m.routes.home(s)
	if live {
		return s, []Effect{StopChannel{}, Navigate{Path: s.Redirect}}
	}
	return s, []Effect{Navigate{Path: s.Redirect}}
}

// parseReason extracts the termination code. Unknown or missing codes are
// recorded as empty.
func parseReason(args json.RawMessage) Reason {
	var p struct {
		Reason string `json:"reason"`
	}
	if len(args) == 0 || json.Unmarshal(args, &p) != nil {
		return ""
	}
	r := Reason(strings.TrimSpace(p.Reason))
	if !r.IsValid() {
		return ""
	}
	return r
}
