// Package feedback turns a finished interview transcript into a scored,
// persisted Feedback document.
//
// The [Pipeline] owns the ordering: rate limit, structural validation,
// attempt numbering, prompt rendering, the generative scoring call, and a
// single persistence write. Any failure after the cheap checks leaves no
// trace in the [Store].
package feedback

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by a [Store] when no document matches.
var ErrNotFound = errors.New("feedback: not found")

// Category is one of the five fixed evaluation dimensions.
type Category string

const (
	CategoryCommunication  Category = "Communication Skills"
	CategoryTechnical      Category = "Technical Knowledge"
	CategoryProblemSolving Category = "Problem Solving"
	CategoryCulturalFit    Category = "Cultural Fit"
	CategoryConfidence     Category = "Confidence and Clarity"
)

// Categories lists every [Category] in canonical order.
var Categories = []Category{
	CategoryCommunication,
	CategoryTechnical,
	CategoryProblemSolving,
	CategoryCulturalFit,
	CategoryConfidence,
}

// IsValid reports whether c is one of [Categories].
func (c Category) IsValid() bool {
	for _, known := range Categories {
		if c == known {
			return true
		}
	}
	return false
}

// CategoryScore is the score and commentary for one [Category].
type CategoryScore struct {
	Name    Category `json:"name" validate:"category"`
	Score   int      `json:"score" validate:"min=0,max=100"`
	Comment string   `json:"comment" validate:"required"`
}

// StarElement is one letter of the Situation/Task/Action/Result structure.
type StarElement string

const (
	StarSituation StarElement = "S"
	StarTask      StarElement = "T"
	StarAction    StarElement = "A"
	StarResult    StarElement = "R"
)

// StarEvaluation assesses how well the candidate structured their answers.
type StarEvaluation struct {
	OverallScore     int           `json:"overallScore" validate:"min=0,max=100"`
	Comment          string        `json:"comment" validate:"required"`
	MissingElements  []StarElement `json:"missingElements" validate:"unique,dive,oneof=S T A R"`
	ImprovedExamples []string      `json:"improvedExamples" validate:"dive,required"`
}

// Evaluation is the part of a Feedback document produced by the scorer.
type Evaluation struct {
	TotalScore          int             `json:"totalScore" validate:"min=0,max=100"`
	CategoryScores      []CategoryScore `json:"categoryScores" validate:"len=5,unique=Name,dive"`
	Strengths           []string        `json:"strengths" validate:"dive,required"`
	AreasForImprovement []string        `json:"areasForImprovement" validate:"dive,required"`
	FinalAssessment     string          `json:"finalAssessment" validate:"required"`
	StarEvaluation      *StarEvaluation `json:"starEvaluation,omitempty" validate:"omitempty"`
}

// Feedback is the persisted result of one successful generation. It is
// written once and never mutated.
type Feedback struct {
	ID              string    `json:"id"`
	InterviewID     string    `json:"interviewId"`
	UserID          string    `json:"userId"`
	AttemptNumber   int       `json:"attemptNumber"`
	DurationSeconds int       `json:"durationSeconds"`
	CreatedAt       time.Time `json:"createdAt"`
	Evaluation
}

// Score returns the score for c, or false when the category is absent.
func (f *Feedback) Score(c Category) (CategoryScore, bool) {
	for _, cs := range f.CategoryScores {
		if cs.Name == c {
			return cs, true
		}
	}
	return CategoryScore{}, false
}

// Filter selects documents by equality on the (interview, user) pair.
type Filter struct {
	InterviewID string
	UserID      string
}

func (f Filter) matches(fb *Feedback) bool {
	return fb.InterviewID == f.InterviewID && fb.UserID == f.UserID
}

// Query is a [Filter] with an optional result limit. Results are always
// ordered newest first.
type Query struct {
	Filter
	// Limit caps the number of results. Zero or less means no limit.
	Limit int
}

// Store is the document store the pipeline persists into.
//
// Implementations must be safe for concurrent use.
type Store interface {
	// Insert writes fb as a single document and returns its identifier. When
	// fb.ID is empty the store generates one.
	Insert(ctx context.Context, fb Feedback) (string, error)

	// Count returns the number of documents matching f.
	Count(ctx context.Context, f Filter) (int, error)

	// Find returns documents matching q, newest first.
	Find(ctx context.Context, q Query) ([]Feedback, error)

	// Get returns the document with the given identifier or [ErrNotFound].
	Get(ctx context.Context, id string) (*Feedback, error)
}

// AtomicInserter is implemented by stores that can compute the next attempt
// number and insert in one serialized step. The pipeline uses it when
// serialized numbering is enabled.
type AtomicInserter interface {
	// InsertNextAttempt sets fb.AttemptNumber to the number of existing
	// documents for the pair plus one and inserts fb, excluding concurrent
	// writers for the same pair.
	InsertNextAttempt(ctx context.Context, fb Feedback) (id string, attempt int, err error)
}
