package config

import (
	"reflect"
	"slices"

	"github.com/poirierunited/get-ahead-ai/internal/interview"
)

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked; everything else
// needs a restart.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// GateChanged is true if any threshold or acknowledgement token changed.
	GateChanged bool

	// TemplatesChanged lists the languages whose prompt templates changed.
	TemplatesChanged []interview.Language

	// PersonasChanged lists the languages whose interviewer persona changed.
	PersonasChanged []interview.Language

	// RoutesChanged is true if any navigation target changed.
	RoutesChanged bool

	// RestartRequired is true if a field outside the hot-reloadable set
	// changed. The new value takes effect on the next start.
	RestartRequired bool
}

// Empty reports whether nothing hot-reloadable changed.
func (d ConfigDiff) Empty() bool {
	return !d.LogLevelChanged && !d.GateChanged && len(d.TemplatesChanged) == 0 &&
		len(d.PersonasChanged) == 0 && !d.RoutesChanged
}

// SessionChanged reports whether new sessions need a rebuilt state machine.
func (d ConfigDiff) SessionChanged() bool {
	return d.GateChanged || len(d.PersonasChanged) > 0 || d.RoutesChanged
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	d.GateChanged = !reflect.DeepEqual(old.Gate, new.Gate)
	d.TemplatesChanged = changedKeys(old.Feedback.Templates, new.Feedback.Templates)
	d.PersonasChanged = changedKeys(old.Session.Personas, new.Session.Personas)
	d.RoutesChanged = old.Session.Routes != new.Session.Routes

	// Everything else: compare with the hot-reloadable parts masked out.
	o, n := *old, *new
	o.Server.LogLevel, n.Server.LogLevel = "", ""
	o.Gate = n.Gate
	o.Feedback.Templates, n.Feedback.Templates = nil, nil
	o.Session.Personas, n.Session.Personas = nil, nil
	o.Session.Routes = n.Session.Routes
	d.RestartRequired = !reflect.DeepEqual(o, n)

	return d
}

// changedKeys returns the sorted keys whose values differ between a and b,
// including keys present on one side only.
func changedKeys[V comparable](a, b map[interview.Language]V) []interview.Language {
	var out []interview.Language
	for k, av := range a {
		if bv, ok := b[k]; !ok || av != bv {
			out = append(out, k)
		}
	}
	for k := range b {
		if _, ok := a[k]; !ok {
			out = append(out, k)
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}
