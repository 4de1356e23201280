package api

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/poirierunited/get-ahead-ai/internal/feedback"
	"github.com/poirierunited/get-ahead-ai/internal/gate"
	"github.com/poirierunited/get-ahead-ai/internal/interview"
)

func validBody() map[string]any {
	return map[string]any{
		"interviewId":     "iv-1",
		"userId":          "u-1",
		"transcript":      goodTranscript(),
		"durationSeconds": 185,
	}
}

func TestCreateFeedback_RoundTrip(t *testing.T) {
	t.Parallel()
	e := newEnv(t)

	status, body := e.do(t, "POST", "/en/api/feedback", validBody())
	require.Equal(t, 200, status, body)
	assert.Equal(t, true, body["success"])
	id, _ := body["feedbackId"].(string)
	require.NotEmpty(t, id)

	status, body = e.do(t, "GET", "/en/api/feedback?interviewId=iv-1&userId=u-1&latest=true", nil)
	require.Equal(t, 200, status, body)
	assert.Equal(t, true, body["latest"])
	fb := body["feedback"].(map[string]any)
	assert.Equal(t, id, fb["id"])
	assert.EqualValues(t, 1, fb["attemptNumber"])
	assert.EqualValues(t, 185, fb["durationSeconds"])
	assert.EqualValues(t, 72, fb["totalScore"])

	status, body = e.do(t, "GET", "/api/feedback?interviewId=iv-1&userId=u-1", nil)
	require.Equal(t, 200, status, body)
	assert.EqualValues(t, 1, body["count"])
	assert.Len(t, body["feedbacks"], 1)

	status, body = e.do(t, "GET", "/api/feedback/"+id, nil)
	require.Equal(t, 200, status, body)
	assert.Equal(t, id, body["feedback"].(map[string]any)["id"])
	assert.Nil(t, body["latest"])
}

func TestCreateFeedback_AttemptsIncrease(t *testing.T) {
	t.Parallel()
	e := newEnv(t)

	for range 2 {
		status, body := e.do(t, "POST", "/api/feedback", validBody())
		require.Equal(t, 200, status, body)
	}
	_, body := e.do(t, "GET", "/api/feedback?interviewId=iv-1&userId=u-1&latest=true", nil)
	assert.EqualValues(t, 2, body["feedback"].(map[string]any)["attemptNumber"])
}

func TestCreateFeedback_LegacyUserField(t *testing.T) {
	t.Parallel()
	e := newEnv(t)

	b := validBody()
	delete(b, "userId")
	b["userid"] = "u-legacy"
	status, body := e.do(t, "POST", "/api/feedback", b)
	require.Equal(t, 200, status, body)

	_, body = e.do(t, "GET", "/api/feedback?interviewId=iv-1&userid=u-legacy", nil)
	assert.EqualValues(t, 1, body["count"])
}

func TestCreateFeedback_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		body       any
		wantStatus int
		wantCode   string
	}{
		{name: "malformed json", body: "{not json", wantStatus: 400, wantCode: "ValidationError"},
		{name: "missing fields", body: map[string]any{"transcript": goodTranscript()}, wantStatus: 400, wantCode: "ValidationError"},
		{name: "empty transcript", body: map[string]any{"interviewId": "iv-1", "userId": "u-1", "transcript": []any{}}, wantStatus: 400, wantCode: "ValidationError"},
		{
			name: "single answer",
			body: map[string]any{
				"interviewId": "iv-1",
				"userId":      "u-1",
				"transcript": []interview.Turn{
					{Role: interview.RoleAssistant, Content: "Tell me about yourself."},
					{Role: interview.RoleUser, Content: words(40)},
				},
			},
			wantStatus: 422,
			wantCode:   "InvalidTranscriptError",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			e := newEnv(t)
			status, body := e.do(t, "POST", "/api/feedback", tt.body)
			assert.Equal(t, tt.wantStatus, status)
			assert.Equal(t, false, body["success"])
			assert.Equal(t, tt.wantCode, body["error"])
			assert.NotEmpty(t, body["message"])
			assert.Zero(t, e.scorer.Calls())
		})
	}
}

func TestCreateFeedback_RejectedTranscriptCarriesMetrics(t *testing.T) {
	t.Parallel()
	e := newEnv(t)

	b := validBody()
	b["transcript"] = []interview.Turn{{Role: interview.RoleUser, Content: "hi"}}
	status, body := e.do(t, "POST", "/api/feedback", b)
	require.Equal(t, 422, status)
	assert.Equal(t, gate.ReasonInsufficientParticipation.Describe(), body["message"])
	details := body["details"].(map[string]any)
	assert.EqualValues(t, 1, details["userMessageCount"])
}

func TestCreateFeedback_RateLimitedPerClient(t *testing.T) {
	t.Parallel()
	e := newEnv(t)

	// Rejected bodies still count against the budget.
	for range 5 {
		status, _ := e.do(t, "POST", "/api/feedback", map[string]any{}, "X-Forwarded-For", "203.0.113.7")
		require.Equal(t, 400, status)
	}
	status, body := e.do(t, "POST", "/api/feedback", validBody(), "X-Forwarded-For", "203.0.113.7, 10.0.0.1")
	assert.Equal(t, 429, status)
	assert.Equal(t, "RateLimitError", body["error"])

	status, _ = e.do(t, "POST", "/api/feedback", validBody(), "X-Forwarded-For", "198.51.100.2")
	assert.Equal(t, 200, status)
}

func TestCreateFeedback_GenerationFailureIsOpaque(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	e.scorer.err = errScoring

	status, body := e.do(t, "POST", "/api/feedback", validBody())
	assert.Equal(t, 500, status)
	assert.Equal(t, "GenerationError", body["error"])
	assert.NotContains(t, body, "message")
	assert.NotContains(t, body, "details")

	_, body = e.do(t, "GET", "/api/feedback?interviewId=iv-1&userId=u-1", nil)
	assert.EqualValues(t, 0, body["count"])
	assert.Equal(t, []any{}, body["feedbacks"])
}

func TestFindFeedback_Errors(t *testing.T) {
	t.Parallel()
	e := newEnv(t)

	status, body := e.do(t, "GET", "/api/feedback?interviewId=iv-1", nil)
	assert.Equal(t, 400, status)
	assert.Equal(t, "interviewId and userId are required", body["message"])

	status, body = e.do(t, "GET", "/api/feedback?interviewId=iv-1&userId=u-1&latest=true", nil)
	assert.Equal(t, 404, status)
	assert.Equal(t, "NotFoundError", body["error"])

	status, body = e.do(t, "GET", "/api/feedback/missing", nil)
	assert.Equal(t, 404, status)
	assert.Equal(t, "Feedback not found", body["message"])
}

// recordingService captures the request handed to Generate.
type recordingService struct {
	FeedbackService
	mu  sync.Mutex
	req feedback.GenerateRequest
	ctx context.Context
}

func (s *recordingService) Generate(ctx context.Context, req feedback.GenerateRequest) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.req, s.ctx = req, ctx
	return "fb-rec", nil
}

func TestCreateFeedback_RequestShaping(t *testing.T) {
	t.Parallel()

	tests := []struct {
		path     string
		header   []string
		wantLang interview.Language
		wantKey  string
	}{
		{path: "/es/api/feedback", header: []string{"X-Real-IP", "192.0.2.9"}, wantLang: interview.Spanish, wantKey: "192.0.2.9"},
		{path: "/es-MX/api/feedback", wantLang: interview.Spanish, wantKey: "unknown"},
		{path: "/fr/api/feedback", wantLang: interview.English, wantKey: "unknown"},
		{path: "/api/feedback", header: []string{"X-Forwarded-For", "203.0.113.7, 10.0.0.1"}, wantLang: interview.English, wantKey: "203.0.113.7"},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			t.Parallel()
			svc := &recordingService{}
			e := newEnv(t, withFeedback(svc))

			status, body := e.do(t, "POST", tt.path, validBody(), tt.header...)
			require.Equal(t, 200, status, body)
			assert.Equal(t, "fb-rec", body["feedbackId"])

			svc.mu.Lock()
			defer svc.mu.Unlock()
			assert.Equal(t, tt.wantLang, svc.req.Language)
			assert.Equal(t, tt.wantKey, svc.req.ClientKey)
			assert.Equal(t, 185, svc.req.DurationSeconds)
			assert.Len(t, svc.req.Transcript, 6)
			// The generation outlives the request.
			assert.Nil(t, svc.ctx.Done())
		})
	}
}
