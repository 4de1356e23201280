package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/poirierunited/get-ahead-ai/internal/feedback"
	"github.com/poirierunited/get-ahead-ai/internal/interview"
)

// maxBodyBytes caps a feedback submission. A one-hour transcript is well
// under this.
const maxBodyBytes = 1 << 20

// createFeedbackRequest is the POST body. Older clients send the user as
// "userid".
type createFeedbackRequest struct {
	InterviewID     string           `json:"interviewId"`
	UserID          string           `json:"userId"`
	LegacyUserID    string           `json:"userid"`
	Transcript      []interview.Turn `json:"transcript"`
	DurationSeconds int              `json:"durationSeconds"`
}

type createFeedbackResponse struct {
	Success    bool   `json:"success"`
	FeedbackID string `json:"feedbackId"`
}

type feedbackResponse struct {
	Success  bool               `json:"success"`
	Feedback *feedback.Feedback `json:"feedback"`
	Latest   bool               `json:"latest,omitempty"`
}

type feedbackListResponse struct {
	Success   bool                `json:"success"`
	Feedbacks []feedback.Feedback `json:"feedbacks"`
	Count     int                 `json:"count"`
}

// handleCreateFeedback handles POST /feedback.
func (s *Server) handleCreateFeedback(w http.ResponseWriter, r *http.Request) {
	var body createFeedbackRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&body); err != nil {
		writeError(w, r, feedback.ValidationFault("Invalid JSON body", nil))
		return
	}
	userID := body.UserID
	if userID == "" {
		userID = body.LegacyUserID
	}

	req := feedback.GenerateRequest{
		InterviewID:     body.InterviewID,
		UserID:          userID,
		Transcript:      body.Transcript,
		Language:        s.language(r),
		DurationSeconds: body.DurationSeconds,
		ClientKey:       s.cfg.ClientKey(r),
	}

	// A client that navigates away must not abort a generation under way.
	id, err := s.cfg.Feedback.Generate(context.WithoutCancel(r.Context()), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, createFeedbackResponse{Success: true, FeedbackID: id})
}

// handleFindFeedback handles GET /feedback?interviewId=&userId=[&latest=true].
func (s *Server) handleFindFeedback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	interviewID, userID := q.Get("interviewId"), q.Get("userId")
	if userID == "" {
		userID = q.Get("userid")
	}

	if q.Get("latest") == "true" {
		fb, err := s.cfg.Feedback.Latest(r.Context(), interviewID, userID)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, feedbackResponse{Success: true, Feedback: fb, Latest: true})
		return
	}

	items, err := s.cfg.Feedback.List(r.Context(), interviewID, userID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if items == nil {
		items = []feedback.Feedback{}
	}
	writeJSON(w, http.StatusOK, feedbackListResponse{Success: true, Feedbacks: items, Count: len(items)})
}

// handleGetFeedback handles GET /feedback/{feedbackID}.
func (s *Server) handleGetFeedback(w http.ResponseWriter, r *http.Request) {
	fb, err := s.cfg.Feedback.Get(r.Context(), chi.URLParam(r, "feedbackID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, feedbackResponse{Success: true, Feedback: fb})
}
