package session

import "strings"

// Routes are the navigation targets, with {locale}, {interviewId} and
// {feedbackId} placeholders.
type Routes struct {
	Home         string `yaml:"home"`
	FeedbackView string `yaml:"feedback_view"`
	FeedbackList string `yaml:"feedback_list"`
}

// DefaultRoutes returns the web client's paths.
func DefaultRoutes() Routes {
	return Routes{
		Home:         "/{locale}",
		FeedbackView: "/{locale}/interview/{interviewId}/feedback/{feedbackId}",
		FeedbackList: "/{locale}/interview/{interviewId}/feedback",
	}
}

func (r Routes) withDefaults() Routes {
	d := DefaultRoutes()
	if r.Home == "" {
		r.Home = d.Home
	}
	if r.FeedbackView == "" {
		r.FeedbackView = d.FeedbackView
	}
	if r.FeedbackList == "" {
		r.FeedbackList = d.FeedbackList
	}
	return r
}

func (r Routes) home(s Snapshot) string         { return expand(r.Home, s) }
func (r Routes) feedbackView(s Snapshot) string { return expand(r.FeedbackView, s) }
func (r Routes) feedbackList(s Snapshot) string { return expand(r.FeedbackList, s) }

func expand(tmpl string, s Snapshot) string {
	return strings.NewReplacer(
		"{locale}", string(s.Locale),
		"{interviewId}", s.InterviewID,
		"{feedbackId}", s.FeedbackID,
	).Replace(tmpl)
}
