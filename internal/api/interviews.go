package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/poirierunited/get-ahead-ai/internal/feedback"
	"github.com/poirierunited/get-ahead-ai/internal/interview"
)

type interviewResponse struct {
	Success   bool                 `json:"success"`
	Interview *interview.Interview `json:"interview"`
}

type interviewListResponse struct {
	Success    bool                  `json:"success"`
	Interviews []interview.Interview `json:"interviews"`
	Count      int                   `json:"count"`
}

// handleGetInterview handles GET /interviews/{interviewID}.
func (s *Server) handleGetInterview(w http.ResponseWriter, r *http.Request) {
	iv, err := s.lookupInterview(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, interviewResponse{Success: true, Interview: iv})
}

// handleListInterviews handles GET /interviews?userId=[&limit=].
func (s *Server) handleListInterviews(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	userID := q.Get("userId")
	if userID == "" {
		writeError(w, r, feedback.ValidationFault("userId is required", nil))
		return
	}
	limit := 0
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, r, feedback.ValidationFault("limit must be a non-negative integer", nil))
			return
		}
		limit = n
	}

	items, err := s.cfg.Interviews.ListByUser(r.Context(), userID, limit)
	if err != nil {
		writeError(w, r, feedback.PersistenceFault(err))
		return
	}
	if items == nil {
		items = []interview.Interview{}
	}
	writeJSON(w, http.StatusOK, interviewListResponse{Success: true, Interviews: items, Count: len(items)})
}

// lookupInterview loads the interview named by the route, mapping a miss to a
// not-found fault.
func (s *Server) lookupInterview(r *http.Request) (*interview.Interview, error) {
	iv, err := s.cfg.Interviews.Get(r.Context(), chi.URLParam(r, "interviewID"))
	if errors.Is(err, interview.ErrNotFound) {
		return nil, feedback.NotFoundFault("Interview not found")
	}
	if err != nil {
		return nil, feedback.PersistenceFault(err)
	}
	return iv, nil
}
