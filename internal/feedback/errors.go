package feedback

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies a pipeline failure.
type Kind int

const (
	KindUnknown Kind = iota
	KindValidation
	KindRateLimited
	KindGeneration
	KindPersistence
	KindNotFound
	KindInvalidTranscript
)

// Code is the stable machine-readable name of the kind, exposed to clients.
func (k Kind) Code() string {
	switch k {
	case KindValidation:
		return "ValidationError"
	case KindRateLimited:
		return "RateLimitError"
	case KindGeneration:
		return "GenerationError"
	case KindPersistence:
		return "PersistenceError"
	case KindNotFound:
		return "NotFoundError"
	case KindInvalidTranscript:
		return "InvalidTranscriptError"
	default:
		return "InternalError"
	}
}

// Status is the HTTP status code the kind maps to.
func (k Kind) Status() int {
	switch k {
	case KindValidation:
		return http.StatusBadRequest
	case KindRateLimited:
		return http.StatusTooManyRequests
	case KindNotFound:
		return http.StatusNotFound
	case KindInvalidTranscript:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// Opaque reports whether the fault's message and cause must be hidden from
// clients.
func (k Kind) Opaque() bool {
	return k == KindGeneration || k == KindPersistence || k == KindUnknown
}

// Fault is the typed error returned by the pipeline and the HTTP surface.
type Fault struct {
	Kind    Kind
	Message string
	// Details is optional structured context safe to show the client, such as
	// field-level validation issues or gate metrics.
	Details any
	Err     error
}

func (f *Fault) Error() string {
	msg := f.Message
	if msg == "" {
		msg = f.Kind.Code()
	}
	if f.Err != nil {
		return fmt.Sprintf("feedback: %s: %v", msg, f.Err)
	}
	return "feedback: " + msg
}

func (f *Fault) Unwrap() error { return f.Err }

// ValidationFault reports malformed or missing input.
func ValidationFault(msg string, details any) *Fault {
	return &Fault{Kind: KindValidation, Message: msg, Details: details}
}

// RateLimitFault reports that the caller exceeded the request budget.
func RateLimitFault() *Fault {
	return &Fault{Kind: KindRateLimited, Message: "Too many requests, please try again later"}
}

// GenerationFault wraps a scoring failure.
func GenerationFault(err error) *Fault {
	return &Fault{Kind: KindGeneration, Message: "Failed to generate feedback", Err: err}
}

// PersistenceFault wraps a store failure.
func PersistenceFault(err error) *Fault {
	return &Fault{Kind: KindPersistence, Message: "Failed to store feedback", Err: err}
}

// NotFoundFault reports a missing interview or feedback document.
func NotFoundFault(msg string) *Fault {
	return &Fault{Kind: KindNotFound, Message: msg}
}

// InvalidTranscriptFault reports a transcript rejected by the quality gate.
func InvalidTranscriptFault(reason string, metrics any) *Fault {
	return &Fault{Kind: KindInvalidTranscript, Message: reason, Details: metrics}
}

// KindOf returns the kind of the first [Fault] in err's chain, or
// [KindUnknown].
func KindOf(err error) Kind {
	var f *Fault
	if errors.As(err, &f) {
		return f.Kind
	}
	return KindUnknown
}

// IsInvalidTranscript reports whether err is a quality-gate rejection.
func IsInvalidTranscript(err error) bool {
	return KindOf(err) == KindInvalidTranscript
}
