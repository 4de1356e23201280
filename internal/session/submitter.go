package session

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/poirierunited/get-ahead-ai/internal/feedback"
	"github.com/poirierunited/get-ahead-ai/internal/interview"
)

// Generator is the in-process feedback pipeline.
type Generator interface {
	Generate(ctx context.Context, req feedback.GenerateRequest) (string, error)
}

// PipelineSubmitter submits straight to a [Generator], charging the request
// to ClientKey's rate-limit bucket.
type PipelineSubmitter struct {
	Pipeline  Generator
	ClientKey string
}

// Submit implements [Submitter].
func (s PipelineSubmitter) Submit(ctx context.Context, req feedback.GenerateRequest) (string, error) {
	req.ClientKey = s.ClientKey
	return s.Pipeline.Generate(ctx, req)
}

// HTTPSubmitter posts the transcript to a remote feedback endpoint.
type HTTPSubmitter struct {
	// BaseURL is the service root, e.g. "https://getahead.example.com".
	BaseURL string

	// Client defaults to a client with a two-minute timeout.
	Client *http.Client

	// ForwardedFor, when set, is sent as X-Forwarded-For so the remote
	// rate limiter charges the original caller.
	ForwardedFor string
}

type submitBody struct {
	InterviewID     string           `json:"interviewId"`
	UserID          string           `json:"userId"`
	Transcript      []interview.Turn `json:"transcript"`
	DurationSeconds int              `json:"durationSeconds"`
}

type submitResponse struct {
	Success    bool            `json:"success"`
	FeedbackID string          `json:"feedbackId"`
	Error      string          `json:"error"`
	Message    string          `json:"message"`
	Details    json.RawMessage `json:"details"`
}

var defaultSubmitClient = &http.Client{Timeout: 2 * time.Minute}

// Submit implements [Submitter]. A 422 InvalidTranscriptError answer is
// returned as a [feedback.Fault] of kind [feedback.KindInvalidTranscript].
func (s *HTTPSubmitter) Submit(ctx context.Context, req feedback.GenerateRequest) (string, error) {
	lang := req.Language
	if lang == "" {
		lang = interview.English
	}
	url := strings.TrimRight(s.BaseURL, "/") + "/" + string(lang) + "/api/feedback"

	body, err := json.Marshal(submitBody{
		InterviewID:     req.InterviewID,
		UserID:          req.UserID,
		Transcript:      req.Transcript,
		DurationSeconds: req.DurationSeconds,
	})
	if err != nil {
		return "", fmt.Errorf("session: submit: marshal: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("session: submit: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if s.ForwardedFor != "" {
		httpReq.Header.Set("X-Forwarded-For", s.ForwardedFor)
	}

	client := s.Client
	if client == nil {
		client = defaultSubmitClient
	}
	resp, err := client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("session: submit: %w", err)
	}
	defer resp.Body.Close()

	var out submitResponse
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("session: submit: read body: %w", err)
	}
	_ = json.Unmarshal(raw, &out)

	switch {
	case resp.StatusCode == http.StatusUnprocessableEntity && out.Error == feedback.KindInvalidTranscript.Code():
		return "", feedback.InvalidTranscriptFault(out.Message, out.Details)
	case resp.StatusCode >= 200 && resp.StatusCode < 300 && out.Success && out.FeedbackID != "":
		return out.FeedbackID, nil
	}
	code := out.Error
	if code == "" {
		code = http.StatusText(resp.StatusCode)
	}
	return "", fmt.Errorf("session: submit: status %d: %s", resp.StatusCode, code)
}
