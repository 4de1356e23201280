package observe

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/poirierunited/get-ahead-ai"

// Span attribute keys shared by the feedback pipeline and live sessions.
const (
	AttrInterviewID = attribute.Key("getahead.interview_id")
	AttrUserID      = attribute.Key("getahead.user_id")
	AttrSessionID   = attribute.Key("getahead.session_id")
	AttrFeedbackID  = attribute.Key("getahead.feedback_id")
)

// Tracer returns the tracer registered with the global provider.
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// StartSpan starts a span on [Tracer]. The caller must end it, usually
// through [FinishSpan].
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name, opts...)
}

// WithInterview tags a span with the interview and candidate it works on.
// Empty values are skipped.
func WithInterview(interviewID, userID string) trace.SpanStartOption {
	var attrs []attribute.KeyValue
	if interviewID != "" {
		attrs = append(attrs, AttrInterviewID.String(interviewID))
	}
	if userID != "" {
		attrs = append(attrs, AttrUserID.String(userID))
	}
	return trace.WithAttributes(attrs...)
}

// FinishSpan ends span. A non-nil err is recorded on the span and marks it
// failed with status as the description.
func FinishSpan(span trace.Span, err error, status string) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, status)
	}
	span.End()
}

// CorrelationID returns the trace ID carried by ctx, or "" without a valid
// span. The HTTP layer echoes it in the X-Correlation-ID response header.
func CorrelationID(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return ""
}

// Logger returns the default logger with trace_id and span_id attached when
// ctx carries a span.
func Logger(ctx context.Context) *slog.Logger {
	l := slog.Default()
	sc := trace.SpanContextFromContext(ctx)
	if sc.HasTraceID() {
		l = l.With(
			slog.String("trace_id", sc.TraceID().String()),
			slog.String("span_id", sc.SpanID().String()),
		)
	}
	return l
}
