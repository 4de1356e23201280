package session

import (
	"encoding/json"
	"time"

	"github.com/poirierunited/get-ahead-ai/internal/feedback"
	"github.com/poirierunited/get-ahead-ai/internal/interview"
	"github.com/poirierunited/get-ahead-ai/pkg/provider/voice"
)

// Event is an input to [Machine.Transition]. The concrete types below are the
// complete set.
type Event interface{ isEvent() }

// ── User events ───────────────────────────────────────────────────────────────

// CallRequested is the user pressing "start".
type CallRequested struct{}

// UserDisconnected is the user ending a live call.
type UserDisconnected struct{ At time.Time }

// UserBackedOut is the user leaving the page while the session is open.
type UserBackedOut struct{}

// ── Channel events ────────────────────────────────────────────────────────────

// StartFailed reports that the voice channel could not be started.
type StartFailed struct{ Err error }

// CallStarted is the channel's call-start signal.
type CallStarted struct{ At time.Time }

// CallEnded is the channel's call-end signal.
type CallEnded struct{ At time.Time }

// SpeechStarted and SpeechEnded bracket assistant speech.
type (
	SpeechStarted struct{}
	SpeechEnded   struct{}
)

// TranscriptReceived carries one recognised speech fragment.
type TranscriptReceived struct {
	Role  interview.Role
	Text  string
	Final bool
}

// FunctionInvoked is a tool call issued by the voice model.
type FunctionInvoked struct {
	Name string
	Args json.RawMessage
}

// ChannelFailed is a non-fatal channel error.
type ChannelFailed struct{ Err error }

// ── Pipeline events ───────────────────────────────────────────────────────────

// FeedbackRequested asks a finished session to submit its transcript.
type FeedbackRequested struct{}

// FeedbackSucceeded carries the stored feedback's identifier.
type FeedbackSucceeded struct{ FeedbackID string }

// FeedbackFailed reports a failed submission.
type FeedbackFailed struct{ Err error }

func (CallRequested) isEvent()      {}
func (UserDisconnected) isEvent()   {}
func (UserBackedOut) isEvent()      {}
func (StartFailed) isEvent()        {}
func (CallStarted) isEvent()        {}
func (CallEnded) isEvent()          {}
func (SpeechStarted) isEvent()      {}
func (SpeechEnded) isEvent()        {}
func (TranscriptReceived) isEvent() {}
func (FunctionInvoked) isEvent()    {}
func (ChannelFailed) isEvent()      {}
func (FeedbackRequested) isEvent()  {}
func (FeedbackSucceeded) isEvent()  {}
func (FeedbackFailed) isEvent()     {}

// FromVoice translates a channel event. The zero time is replaced with now.
// It returns nil for events the machine has no use for.
func FromVoice(ev voice.Event, now time.Time) Event {
	at := ev.At
	if at.IsZero() {
		at = now
	}
	switch ev.Kind {
	case voice.EventCallStart:
		return CallStarted{At: at}
	case voice.EventCallEnd:
		return CallEnded{At: at}
	case voice.EventSpeechStart:
		return SpeechStarted{}
	case voice.EventSpeechEnd:
		return SpeechEnded{}
	case voice.EventTranscript:
		return TranscriptReceived{Role: interview.Role(ev.Role), Text: ev.Text, Final: ev.Final}
	case voice.EventFunctionInvoked:
		return FunctionInvoked{Name: ev.Name, Args: ev.Args}
	case voice.EventError:
		return ChannelFailed{Err: ev.Err}
	}
	return nil
}

// Effect is an instruction from the machine to the [Controller].
type Effect interface{ isEffect() }

// StartChannel starts the voice call.
type StartChannel struct {
	Assistant voice.Assistant
	Variables map[string]string
}

// StopChannel asks the voice channel to stop. Failures are ignored.
type StopChannel struct{}

// RequestFeedback makes the controller feed [FeedbackRequested] back into
// the machine.
type RequestFeedback struct{}

// SubmitFeedback hands the transcript to the feedback pipeline.
type SubmitFeedback struct{ Request feedback.GenerateRequest }

// Navigate routes the user to Path.
type Navigate struct{ Path string }

// ReportError surfaces a problem that does not change the flow.
type ReportError struct{ Err error }

func (StartChannel) isEffect()    {}
func (StopChannel) isEffect()     {}
func (RequestFeedback) isEffect() {}
func (SubmitFeedback) isEffect()  {}
func (Navigate) isEffect()        {}
func (ReportError) isEffect()     {}
