package feedback

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/poirierunited/get-ahead-ai/internal/interview"
)

func TestValidateRequest(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		mutate    func(*GenerateRequest)
		wantField string
	}{
		{"valid", func(*GenerateRequest) {}, ""},
		{"missing interview", func(r *GenerateRequest) { r.InterviewID = "" }, "interviewId"},
		{"blank user", func(r *GenerateRequest) { r.UserID = "   " }, "userId"},
		{"empty transcript", func(r *GenerateRequest) { r.Transcript = nil }, "transcript"},
		{"bad role", func(r *GenerateRequest) { r.Transcript[0].Role = "narrator" }, "transcript[0].role"},
		{"empty content", func(r *GenerateRequest) { r.Transcript[1].Content = "" }, "transcript[1].content"},
		{"negative duration", func(r *GenerateRequest) { r.DurationSeconds = -1 }, "durationSeconds"},
		{"unsupported language", func(r *GenerateRequest) { r.Language = "fr" }, "language"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			req := GenerateRequest{
				InterviewID: "iv-1",
				UserID:      "u-1",
				Transcript:  validTranscript(),
				Language:    interview.Spanish,
			}
			tt.mutate(&req)

			err := ValidateRequest(&req)
			if tt.wantField == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Equal(t, KindValidation, KindOf(err))

			var f *Fault
			require.ErrorAs(t, err, &f)
			issues, ok := f.Details.([]Issue)
			require.True(t, ok, "details should be []Issue, got %T", f.Details)
			var fields []string
			for _, is := range issues {
				fields = append(fields, is.Field)
			}
			assert.Contains(t, fields, tt.wantField)
		})
	}
}

func TestValidateRequest_TrimsIdentifiers(t *testing.T) {
	t.Parallel()

	req := GenerateRequest{InterviewID: " iv-1 ", UserID: "\tu-1\n", Transcript: validTranscript()}
	require.NoError(t, ValidateRequest(&req))
	assert.Equal(t, "iv-1", req.InterviewID)
	assert.Equal(t, "u-1", req.UserID)
}

func TestValidateRequest_DescribesIssues(t *testing.T) {
	t.Parallel()

	req := GenerateRequest{Transcript: validTranscript(), UserID: "u", DurationSeconds: -5}
	err := ValidateRequest(&req)

	var f *Fault
	require.ErrorAs(t, err, &f)
	got := map[string]string{}
	for _, is := range f.Details.([]Issue) {
		got[is.Field] = is.Message
	}
	assert.Equal(t, "is required", got["interviewId"])
	assert.Equal(t, "must be at least 0", got["durationSeconds"])
}
