// Package voice defines the real-time voice channel the interview session
// runs over.
//
// A [Channel] is one live call: it is started with an interviewer [Assistant]
// configuration plus template variables, emits [Event] values describing the
// call (start, end, speech activity, transcript fragments, function
// invocations, errors), carries caller audio in and assistant audio out, and
// is stopped exactly once by its owner.
//
// Implementations must be safe for concurrent use.
package voice

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// EventKind identifies the type of an [Event].
type EventKind int

const (
	EventCallStart EventKind = iota + 1
	EventCallEnd
	EventSpeechStart
	EventSpeechEnd
	EventTranscript
	EventFunctionInvoked
	EventError
)

// String returns the kebab-case name of the kind.
func (k EventKind) String() string {
	switch k {
	case EventCallStart:
		return "call-start"
	case EventCallEnd:
		return "call-end"
	case EventSpeechStart:
		return "speech-start"
	case EventSpeechEnd:
		return "speech-end"
	case EventTranscript:
		return "transcript"
	case EventFunctionInvoked:
		return "function-invoked"
	case EventError:
		return "error"
	default:
		return fmt.Sprintf("EventKind(%d)", int(k))
	}
}

// Speaker roles carried by transcript events.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Event is one notification from a live [Channel].
type Event struct {
	Kind EventKind
	At   time.Time

	// Role and Text are set for EventTranscript. Final distinguishes a
	// finalized turn from an interim recognition fragment.
	Role  string
	Text  string
	Final bool

	// Name and Args are set for EventFunctionInvoked. Args is the raw JSON
	// argument object.
	Name string
	Args json.RawMessage

	// Err is set for EventError.
	Err error
}

// Tool is a function the voice model may invoke during the call.
type Tool struct {
	Name        string
	Description string
	// Parameters is a JSON Schema object describing the arguments.
	Parameters map[string]any
}

// Assistant configures the interviewer persona for one call.
type Assistant struct {
	// Name is the persona's display name.
	Name string

	// FirstMessage is spoken by the assistant as soon as the call connects.
	FirstMessage string

	// Voice is the voice identifier. Providers may map aliases to their own
	// voice catalogue.
	Voice string

	// Instructions is the system prompt. It may contain {{variable}}
	// placeholders filled from the variables passed to [Channel.Start].
	Instructions string

	// TranscriberModel and TranscriberLanguage configure recognition of the
	// caller's speech.
	TranscriberModel    string
	TranscriberLanguage string

	// Tools are offered to the model.
	Tools []Tool

	// EndCallTool names a tool whose invocation ends the call normally. The
	// channel reports it as EventCallEnd rather than EventFunctionInvoked.
	EndCallTool string

	// MaxDuration ends the call normally once elapsed. Zero means no limit.
	MaxDuration time.Duration
}

// Channel is one live voice call.
type Channel interface {
	// Start connects the call. It returns once the connection is established
	// or has failed; EventCallStart follows asynchronously.
	Start(ctx context.Context, a Assistant, vars map[string]string) error

	// Stop ends the call. It is safe to call more than once and before Start.
	Stop() error

	// Events returns the event stream. It is closed after the final
	// EventCallEnd once the call is over.
	Events() <-chan Event

	// SendAudio delivers a chunk of caller audio (PCM16, 24 kHz mono).
	SendAudio(chunk []byte) error

	// Audio returns assistant audio chunks in the same format. It is closed
	// together with Events.
	Audio() <-chan []byte
}

// Provider opens voice channels.
type Provider interface {
	// NewChannel returns an unstarted channel.
	NewChannel() Channel

	// Name returns a short identifier for logs.
	Name() string
}

// RenderVariables replaces every {{name}} in s with vars[name]. Placeholders
// without a value are left untouched.
func RenderVariables(s string, vars map[string]string) string {
	if len(vars) == 0 || !strings.Contains(s, "{{") {
		return s
	}
	pairs := make([]string, 0, 2*len(vars))
	for k, v := range vars {
		pairs = append(pairs, "{{"+k+"}}", v)
	}
	return strings.NewReplacer(pairs...).Replace(s)
}
