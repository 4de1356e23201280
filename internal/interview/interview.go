// Package interview holds the read-only interview catalogue the voice session
// runs against, and the transcript types shared by the quality gate, the
// session controller and the feedback pipeline.
package interview

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrNotFound is returned by a [Repository] when the requested interview does
// not exist.
var ErrNotFound = errors.New("interview: not found")

// Role identifies the speaker of a transcript turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// IsValid reports whether r is a recognised speaker role.
func (r Role) IsValid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleSystem:
		return true
	}
	return false
}

// Turn is one finalized speech contribution.
type Turn struct {
	Role    Role   `json:"role" yaml:"role" validate:"required,oneof=user assistant system"`
	Content string `json:"content" yaml:"content" validate:"required"`
}

// Style is the interview flavour selected when the interview was generated.
type Style string

const (
	StyleTechnical  Style = "technical"
	StyleBehavioral Style = "behavioral"
	StyleMixed      Style = "mixed"
)

// IsValid reports whether s is a recognised interview style.
func (s Style) IsValid() bool {
	switch s {
	case StyleTechnical, StyleBehavioral, StyleMixed:
		return true
	}
	return false
}

// Language is a supported conversation language.
type Language string

const (
	English Language = "en"
	Spanish Language = "es"
)

// ParseLocale maps a URL locale segment to a Language. Anything that is not
// Spanish falls back to English.
func ParseLocale(locale string) Language {
	l := strings.ToLower(strings.TrimSpace(locale))
	if l == "es" || strings.HasPrefix(l, "es-") || strings.HasPrefix(l, "es_") {
		return Spanish
	}
	return English
}

// Name returns the English name of the language, as substituted into prompts.
func (l Language) Name() string {
	if l == Spanish {
		return "Spanish"
	}
	return "English"
}

// Interview is a generated mock interview. This package never mutates it.
type Interview struct {
	ID        string    `json:"id" yaml:"id"`
	Title     string    `json:"title" yaml:"title"`
	Role      string    `json:"role" yaml:"role"`
	Level     string    `json:"level" yaml:"level"`
	TechStack []string  `json:"techstack" yaml:"techstack"`
	Style     Style     `json:"style" yaml:"style"`
	Questions []string  `json:"questions" yaml:"questions"`
	UserID    string    `json:"userId" yaml:"user_id"`
	Finalized bool      `json:"finalized" yaml:"finalized"`
	CreatedAt time.Time `json:"createdAt" yaml:"created_at"`
}

// Validate reports missing required fields.
func (iv *Interview) Validate() error {
	var errs []error
	if iv.ID == "" {
		errs = append(errs, errors.New("id is required"))
	}
	if iv.UserID == "" {
		errs = append(errs, errors.New("user_id is required"))
	}
	if iv.Style != "" && !iv.Style.IsValid() {
		errs = append(errs, fmt.Errorf("style %q is invalid; valid values: technical, behavioral, mixed", iv.Style))
	}
	if len(errs) > 0 {
		return fmt.Errorf("interview %q: %w", iv.ID, errors.Join(errs...))
	}
	return nil
}

// EffectiveStyle returns Style, defaulting to mixed when unset.
func (iv *Interview) EffectiveStyle() Style {
	if iv.Style.IsValid() {
		return iv.Style
	}
	return StyleMixed
}

// Repository is the read side of the interview catalogue.
type Repository interface {
	// Get returns the interview with the given ID or [ErrNotFound].
	Get(ctx context.Context, id string) (*Interview, error)

	// ListByUser returns the user's interviews, newest first. A limit of zero
	// or less means no limit.
	ListByUser(ctx context.Context, userID string, limit int) ([]Interview, error)
}

// FormatDuration renders a call length for display: "3m 5s", "2m", "45s", "0s".
func FormatDuration(seconds int) string {
	if seconds <= 0 {
		return "0s"
	}
	m, s := seconds/60, seconds%60
	switch {
	case m == 0:
		return fmt.Sprintf("%ds", s)
	case s == 0:
		return fmt.Sprintf("%dm", m)
	default:
		return fmt.Sprintf("%dm %ds", m, s)
	}
}
