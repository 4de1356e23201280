// Package api is the HTTP surface: feedback generation and retrieval, the
// interview catalogue, and the websocket that carries a live voice session.
//
// Every route is mounted twice, under /api and under /{locale}/api. The
// locale segment selects the conversation language; the bare prefix uses the
// configured default.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/poirierunited/get-ahead-ai/internal/feedback"
	"github.com/poirierunited/get-ahead-ai/internal/interview"
	"github.com/poirierunited/get-ahead-ai/internal/observe"
	"github.com/poirierunited/get-ahead-ai/internal/ratelimit"
	"github.com/poirierunited/get-ahead-ai/internal/session"
	"github.com/poirierunited/get-ahead-ai/pkg/provider/voice"
)

// FeedbackService generates and reads feedback. [*feedback.Pipeline]
// satisfies it.
type FeedbackService interface {
	Generate(ctx context.Context, req feedback.GenerateRequest) (string, error)
	Latest(ctx context.Context, interviewID, userID string) (*feedback.Feedback, error)
	List(ctx context.Context, interviewID, userID string) ([]feedback.Feedback, error)
	Get(ctx context.Context, id string) (*feedback.Feedback, error)
}

var _ FeedbackService = (*feedback.Pipeline)(nil)

// Config holds the server's collaborators. Feedback and Interviews are
// required; the session endpoint is mounted only when Voice is set.
type Config struct {
	Feedback   FeedbackService
	Interviews interview.Repository

	// Voice opens one channel per websocket session.
	Voice voice.Provider

	// Machine returns the state machine for a new session. It is called once
	// per session so reloaded personas and gate thresholds apply to the next
	// session without touching live ones.
	Machine func() *session.Machine

	// Submitter returns the submitter for a session opened by r. Defaults to
	// an in-process [session.PipelineSubmitter] over Feedback keyed by
	// ClientKey.
	Submitter func(r *http.Request) session.Submitter

	// Sessions tracks live sessions for shutdown. Optional.
	Sessions *session.Registry

	// ClientKey derives the rate-limit key. Defaults to [ratelimit.ClientKey].
	ClientKey func(r *http.Request) string

	// DefaultLocale applies to routes without a locale segment.
	DefaultLocale interview.Language

	// OriginPatterns lists the hosts allowed to open a session websocket
	// from a browser. Same-origin requests are always allowed.
	OriginPatterns []string

	Metrics *observe.Metrics
}

// Server serves the HTTP API.
type Server struct {
	cfg    Config
	router chi.Router
}

// New returns a server over cfg.
func New(cfg Config) *Server {
	if cfg.ClientKey == nil {
		cfg.ClientKey = ratelimit.ClientKey
	}
	if cfg.DefaultLocale == "" {
		cfg.DefaultLocale = interview.English
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}
	if cfg.Submitter == nil {
		cfg.Submitter = func(r *http.Request) session.Submitter {
			return session.PipelineSubmitter{Pipeline: cfg.Feedback, ClientKey: cfg.ClientKey(r)}
		}
	}
	s := &Server{cfg: cfg}
	s.router = s.routes()
	return s
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler { return s.router }

// Mount attaches the API under r. Used to share one router with the health
// and metrics endpoints.
func (s *Server) Mount(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(observe.Middleware(s.cfg.Metrics))
		r.Route("/api", s.apiRoutes)
		r.Route("/{locale}/api", s.apiRoutes)
	})
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	s.Mount(r)
	return r
}

func (s *Server) apiRoutes(r chi.Router) {
	r.Post("/feedback", s.handleCreateFeedback)
	r.Get("/feedback", s.handleFindFeedback)
	r.Get("/feedback/{feedbackID}", s.handleGetFeedback)

	r.Get("/interviews", s.handleListInterviews)
	r.Get("/interviews/{interviewID}", s.handleGetInterview)
	if s.cfg.Voice != nil && s.cfg.Machine != nil {
		r.Get("/interviews/{interviewID}/session", s.handleSession)
	}
}

// language returns the conversation language selected by the request path.
func (s *Server) language(r *http.Request) interview.Language {
	if loc := chi.URLParam(r, "locale"); loc != "" {
		return interview.ParseLocale(loc)
	}
	return s.cfg.DefaultLocale
}

// ── Responses ────────────────────────────────────────────────────────────────

type errorBody struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
	Details any    `json:"details,omitempty"`
}

// writeJSON encodes v as JSON with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("api: write response failed", "err", err)
	}
}

// writeError maps err onto the error body. Faults of opaque kinds carry only
// their code; anything that is not a [feedback.Fault] is reported as an
// internal error.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var f *feedback.Fault
	if !errors.As(err, &f) {
		f = &feedback.Fault{Kind: feedback.KindUnknown, Err: err}
	}
	body := errorBody{Error: f.Kind.Code()}
	if !f.Kind.Opaque() {
		body.Message = f.Message
		body.Details = f.Details
	}
	status := f.Kind.Status()
	if status >= http.StatusInternalServerError {
		observe.Logger(r.Context()).Error("api: request failed",
			"route", chi.RouteContext(r.Context()).RoutePattern(),
			"code", body.Error,
			"err", err,
		)
	}
	writeJSON(w, status, body)
}

// shutdownGrace bounds how long a closing session waits for its last
// messages to reach the client.
const shutdownGrace = 5 * time.Second
