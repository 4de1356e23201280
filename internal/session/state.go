// Package session implements the interview session controller: a state
// machine that drives one live voice call, accumulates the finalized
// transcript and hands a completed call to the feedback pipeline.
//
// The machine is split in two layers. [Machine.Transition] is a pure function
// from a [Snapshot] and an [Event] to the next snapshot plus a list of
// [Effect] values. [Controller] owns the live voice channel, serialises every
// event through the machine on a single goroutine and interprets the effects
// (starting and stopping the channel, submitting feedback, navigating).
package session

import (
	"math"
	"slices"
	"time"

	"github.com/poirierunited/get-ahead-ai/internal/gate"
	"github.com/poirierunited/get-ahead-ai/internal/interview"
)

// State is the controller's position in the call lifecycle.
type State int

const (
	Inactive State = iota
	Connecting
	Active
	Finished
	Cancelled
	CancelledByUser
	GeneratingFeedback
)

// String returns the state's wire name, e.g. "cancelled-by-user".
func (s State) String() string {
	switch s {
	case Inactive:
		return "inactive"
	case Connecting:
		return "connecting"
	case Active:
		return "active"
	case Finished:
		return "finished"
	case Cancelled:
		return "cancelled"
	case CancelledByUser:
		return "cancelled-by-user"
	case GeneratingFeedback:
		return "generating-feedback"
	}
	return "unknown"
}

// Live reports whether a voice call may be running in state s.
func (s State) Live() bool { return s == Connecting || s == Active }

// Reason is the machine-readable code the voice model gives when it ends an
// interview early.
type Reason string

const (
	ReasonUserRequested   Reason = "user_requested"
	ReasonTechnicalIssues Reason = "technical_issues"
	ReasonNotInterested   Reason = "not_interested"
)

// Reasons lists the accepted early-termination codes.
var Reasons = []Reason{ReasonUserRequested, ReasonTechnicalIssues, ReasonNotInterested}

// IsValid reports whether r is one of [Reasons].
func (r Reason) IsValid() bool { return slices.Contains(Reasons, r) }

// Snapshot is the complete, immutable state of one session. Transition never
// modifies its input; slices are copied on write.
type Snapshot struct {
	ID          string
	InterviewID string
	UserID      string
	Locale      interview.Language
	Style       interview.Style
	Questions   []string

	State    State
	Turns    []interview.Turn
	Speaking bool

	StartedAt       time.Time
	DurationSeconds int

	// Reason is set when the voice model ended the call early.
	Reason Reason

	// Gate holds the quality-gate verdict once the call has finished.
	Gate *gate.Result

	FeedbackID string

	// Redirect is the destination the user was sent to. A snapshot with a
	// redirect is final.
	Redirect string
}

// NewSnapshot returns the initial snapshot for a call against iv.
func NewSnapshot(id string, iv *interview.Interview, userID string, locale interview.Language) Snapshot {
	return Snapshot{
		ID:          id,
		InterviewID: iv.ID,
		UserID:      userID,
		Locale:      locale,
		Style:       iv.EffectiveStyle(),
		Questions:   slices.Clone(iv.Questions),
		State:       Inactive,
	}
}

// Done reports whether the session has routed the user away.
func (s Snapshot) Done() bool { return s.Redirect != "" }

// LastTurn returns the most recent finalized turn, if any.
func (s Snapshot) LastTurn() (interview.Turn, bool) {
	if len(s.Turns) == 0 {
		return interview.Turn{}, false
	}
	return s.Turns[len(s.Turns)-1], true
}

func (s Snapshot) withTurn(t interview.Turn) Snapshot {
	s.Turns = append(slices.Clip(s.Turns), t)
	return s
}

func (s Snapshot) withDuration(end time.Time) Snapshot {
	if !s.StartedAt.IsZero() && end.After(s.StartedAt) {
		s.DurationSeconds = int(math.Round(end.Sub(s.StartedAt).Seconds()))
	}
	return s
}
