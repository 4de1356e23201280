package feedback

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/google/uuid"
)

// MemoryStore is an in-process [Store]. It is used in tests and when no
// database is configured.
type MemoryStore struct {
	mu   sync.RWMutex
	docs []Feedback
	byID map[string]int
}

var (
	_ Store          = (*MemoryStore)(nil)
	_ AtomicInserter = (*MemoryStore)(nil)
)

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byID: make(map[string]int)}
}

// Insert implements [Store].
func (s *MemoryStore) Insert(_ context.Context, fb Feedback) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insertLocked(fb)
}

func (s *MemoryStore) insertLocked(fb Feedback) (string, error) {
	if fb.ID == "" {
		fb.ID = uuid.NewString()
	}
	if _, dup := s.byID[fb.ID]; dup {
		return "", fmt.Errorf("feedback: memory store: duplicate id %q", fb.ID)
	}
	s.byID[fb.ID] = len(s.docs)
	s.docs = append(s.docs, cloneFeedback(fb))
	return fb.ID, nil
}

// InsertNextAttempt implements [AtomicInserter].
func (s *MemoryStore) InsertNextAttempt(_ context.Context, fb Feedback) (string, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fb.AttemptNumber = s.countLocked(fb.InterviewID, fb.UserID) + 1
	id, err := s.insertLocked(fb)
	if err != nil {
		return "", 0, err
	}
	return id, fb.AttemptNumber, nil
}

// Count implements [Store].
func (s *MemoryStore) Count(_ context.Context, f Filter) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.countLocked(f.InterviewID, f.UserID), nil
}

func (s *MemoryStore) countLocked(interviewID, userID string) int {
	f := Filter{InterviewID: interviewID, UserID: userID}
	n := 0
	for i := range s.docs {
		if f.matches(&s.docs[i]) {
			n++
		}
	}
	return n
}

// Find implements [Store].
func (s *MemoryStore) Find(_ context.Context, q Query) ([]Feedback, error) {
	s.mu.RLock()
	var out []Feedback
	for i := range s.docs {
		if q.matches(&s.docs[i]) {
			out = append(out, cloneFeedback(s.docs[i]))
		}
	}
	s.mu.RUnlock()
	return newestFirst(out, q.Limit), nil
}

// Get implements [Store].
func (s *MemoryStore) Get(_ context.Context, id string) (*Feedback, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i, ok := s.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	fb := cloneFeedback(s.docs[i])
	return &fb, nil
}

// Len returns the number of stored documents.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.docs)
}

// newestFirst orders docs by CreatedAt descending, later insertions first on
// ties, and applies limit. docs must be in insertion order.
func newestFirst(docs []Feedback, limit int) []Feedback {
	slices.Reverse(docs)
	slices.SortStableFunc(docs, func(a, b Feedback) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	if limit > 0 && len(docs) > limit {
		docs = docs[:limit]
	}
	if docs == nil {
		docs = []Feedback{}
	}
	return docs
}

func cloneFeedback(fb Feedback) Feedback {
	fb.CategoryScores = slices.Clone(fb.CategoryScores)
	fb.Strengths = slices.Clone(fb.Strengths)
	fb.AreasForImprovement = slices.Clone(fb.AreasForImprovement)
	if fb.StarEvaluation != nil {
		star := *fb.StarEvaluation
		star.MissingElements = slices.Clone(star.MissingElements)
		star.ImprovedExamples = slices.Clone(star.ImprovedExamples)
		fb.StarEvaluation = &star
	}
	return fb
}
