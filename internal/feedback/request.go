package feedback

import (
	"errors"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/poirierunited/get-ahead-ai/internal/interview"
)

// GenerateRequest is the input to [Pipeline.Generate].
type GenerateRequest struct {
	InterviewID     string             `json:"interviewId" validate:"required"`
	UserID          string             `json:"userId" validate:"required"`
	Transcript      []interview.Turn   `json:"transcript" validate:"required,min=1,dive"`
	Language        interview.Language `json:"language" validate:"omitempty,oneof=en es"`
	DurationSeconds int                `json:"durationSeconds" validate:"min=0"`

	// PromptTemplate and SystemTemplate override the configured templates
	// for Language when non-empty.
	PromptTemplate string `json:"-"`
	SystemTemplate string `json:"-"`

	// ClientKey is the rate-limit bucket. Empty means the unknown bucket.
	ClientKey string `json:"-"`
}

// Issue is one field-level validation problem.
type Issue struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	_ = v.RegisterValidation("category", func(fl validator.FieldLevel) bool {
		return Category(fl.Field().String()).IsValid()
	})
	return v
}

// ValidateRequest checks the structural shape of req and returns a
// [KindValidation] fault listing every problem.
func ValidateRequest(req *GenerateRequest) error {
	req.InterviewID = strings.TrimSpace(req.InterviewID)
	req.UserID = strings.TrimSpace(req.UserID)
	if err := validate.Struct(req); err != nil {
		return ValidationFault("Invalid request body", issues(err))
	}
	return nil
}

// ValidateEvaluation checks that a scorer result conforms to the Feedback
// output contract.
func ValidateEvaluation(ev *Evaluation) error {
	// len=5 with unique valid names means every category is present once.
	return validate.Struct(ev)
}

func issues(err error) []Issue {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return []Issue{{Message: err.Error()}}
	}
	out := make([]Issue, 0, len(verrs))
	for _, fe := range verrs {
		out = append(out, Issue{Field: fieldPath(fe.Namespace()), Message: describe(fe)})
	}
	return out
}

// fieldPath drops the root struct name from a validator namespace.
func fieldPath(ns string) string {
	if _, rest, ok := strings.Cut(ns, "."); ok {
		return rest
	}
	return ns
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "min":
		if fe.Kind() == reflect.Slice {
			return "must contain at least " + fe.Param() + " item(s)"
		}
		return "must be at least " + fe.Param()
	case "max":
		return "must be at most " + fe.Param()
	case "oneof":
		return "must be one of: " + fe.Param()
	case "len":
		return "must contain exactly " + fe.Param() + " items"
	default:
		return "failed " + fe.Tag() + " check"
	}
}
