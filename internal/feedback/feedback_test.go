package feedback

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCategory_IsValid(t *testing.T) {
	t.Parallel()

	for _, c := range Categories {
		assert.True(t, c.IsValid(), c)
	}
	assert.False(t, Category("Charisma").IsValid())
	assert.False(t, Category("communication skills").IsValid(), "matching is exact")
	assert.Len(t, Categories, 5)
}

func TestFeedback_Score(t *testing.T) {
	t.Parallel()

	fb := Feedback{Evaluation: sampleEvaluation()}
	cs, ok := fb.Score(CategoryTechnical)
	require.True(t, ok)
	assert.Equal(t, 70, cs.Score)

	_, ok = (&Feedback{}).Score(CategoryTechnical)
	assert.False(t, ok)
}

func TestKind_StatusAndCode(t *testing.T) {
	t.Parallel()

	tests := []struct {
		kind   Kind
		code   string
		status int
		opaque bool
	}{
		{KindValidation, "ValidationError", http.StatusBadRequest, false},
		{KindRateLimited, "RateLimitError", http.StatusTooManyRequests, false},
		{KindGeneration, "GenerationError", http.StatusInternalServerError, true},
		{KindPersistence, "PersistenceError", http.StatusInternalServerError, true},
		{KindNotFound, "NotFoundError", http.StatusNotFound, false},
		{KindInvalidTranscript, "InvalidTranscriptError", http.StatusUnprocessableEntity, false},
		{KindUnknown, "InternalError", http.StatusInternalServerError, true},
	}
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.code, tt.kind.Code())
			assert.Equal(t, tt.status, tt.kind.Status())
			assert.Equal(t, tt.opaque, tt.kind.Opaque())
		})
	}
}

func TestFault_Chain(t *testing.T) {
	t.Parallel()

	cause := errors.New("deadline exceeded")
	err := fmt.Errorf("handler: %w", GenerationFault(cause))

	assert.Equal(t, KindGeneration, KindOf(err))
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "Failed to generate feedback")
	assert.Equal(t, KindUnknown, KindOf(cause))

	assert.True(t, IsInvalidTranscript(InvalidTranscriptFault("generic responses", nil)))
	assert.False(t, IsInvalidTranscript(RateLimitFault()))
	assert.Equal(t, "feedback: NotFoundError", (&Fault{Kind: KindNotFound}).Error())
}
