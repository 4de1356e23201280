package gate

import (
	"errors"
	"fmt"
	"maps"
	"slices"
)

// Config holds the gate thresholds and the acknowledgement vocabulary.
// It is loaded from the gate section of the service configuration.
type Config struct {
	// MinUserTurns is the fewest candidate turns accepted.
	MinUserTurns int `yaml:"min_user_turns"`

	// MinAverageWords is the lowest accepted mean word count per candidate turn.
	MinAverageWords float64 `yaml:"min_average_words"`

	// MinTotalWords is the fewest candidate words accepted overall.
	MinTotalWords int `yaml:"min_total_words"`

	// MinMeaningfulRatio is the lowest accepted fraction of meaningful turns.
	MinMeaningfulRatio float64 `yaml:"min_meaningful_ratio"`

	// MinMeaningfulTurns is the fewest meaningful turns accepted, whatever the ratio.
	MinMeaningfulTurns int `yaml:"min_meaningful_turns"`

	// MinMeaningfulWords is the word count from which a turn can count as meaningful.
	MinMeaningfulWords int `yaml:"min_meaningful_words"`

	// MinUserShare is the lowest accepted candidate share of all spoken words.
	MinUserShare float64 `yaml:"min_user_share"`

	// Acknowledgements maps a language code to filler tokens that never count
	// as a meaningful answer. Sets for all languages are merged, because
	// candidates switch language mid-answer.
	Acknowledgements map[string][]string `yaml:"acknowledgements"`
}

// DefaultAcknowledgements is the built-in filler vocabulary.
var DefaultAcknowledgements = map[string][]string{
	"en": {"ok", "okay", "yes", "no", "yeah", "nope", "sure", "fine", "yep", "nah", "uh huh", "uh-huh", "mmm", "hmm"},
	"es": {"si", "sí", "no", "claro", "vale", "bueno", "ajá"},
}

// DefaultConfig returns the production thresholds.
func DefaultConfig() Config {
	return Config{
		MinUserTurns:       2,
		MinAverageWords:    3,
		MinTotalWords:      20,
		MinMeaningfulRatio: 0.30,
		MinMeaningfulTurns: 2,
		MinMeaningfulWords: 5,
		MinUserShare:       0.15,
		Acknowledgements:   maps.Clone(DefaultAcknowledgements),
	}
}

// withDefaults fills zero-valued fields from [DefaultConfig].
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MinUserTurns == 0 {
		c.MinUserTurns = d.MinUserTurns
	}
	if c.MinAverageWords == 0 {
		c.MinAverageWords = d.MinAverageWords
	}
	if c.MinTotalWords == 0 {
		c.MinTotalWords = d.MinTotalWords
	}
	if c.MinMeaningfulRatio == 0 {
		c.MinMeaningfulRatio = d.MinMeaningfulRatio
	}
	if c.MinMeaningfulTurns == 0 {
		c.MinMeaningfulTurns = d.MinMeaningfulTurns
	}
	if c.MinMeaningfulWords == 0 {
		c.MinMeaningfulWords = d.MinMeaningfulWords
	}
	if c.MinUserShare == 0 {
		c.MinUserShare = d.MinUserShare
	}
	if len(c.Acknowledgements) == 0 {
		c.Acknowledgements = d.Acknowledgements
	}
	return c
}

// AllAcknowledgements returns the merged, sorted token list across languages.
func (c Config) AllAcknowledgements() []string {
	set := make(map[string]struct{})
	for _, tokens := range c.Acknowledgements {
		for _, tok := range tokens {
			set[normalize(tok)] = struct{}{}
		}
	}
	out := slices.Collect(maps.Keys(set))
	slices.Sort(out)
	return out
}

// Validate reports out-of-range thresholds. Zero values are allowed and mean
// "use the default".
func (c Config) Validate() error {
	var errs []error
	if c.MinUserTurns < 0 {
		errs = append(errs, fmt.Errorf("gate.min_user_turns %d must not be negative", c.MinUserTurns))
	}
	if c.MinAverageWords < 0 {
		errs = append(errs, fmt.Errorf("gate.min_average_words %.2f must not be negative", c.MinAverageWords))
	}
	if c.MinTotalWords < 0 {
		errs = append(errs, fmt.Errorf("gate.min_total_words %d must not be negative", c.MinTotalWords))
	}
	if c.MinMeaningfulRatio < 0 || c.MinMeaningfulRatio > 1 {
		errs = append(errs, fmt.Errorf("gate.min_meaningful_ratio %.2f is out of range [0, 1]", c.MinMeaningfulRatio))
	}
	if c.MinMeaningfulTurns < 0 {
		errs = append(errs, fmt.Errorf("gate.min_meaningful_turns %d must not be negative", c.MinMeaningfulTurns))
	}
	if c.MinMeaningfulWords < 0 {
		errs = append(errs, fmt.Errorf("gate.min_meaningful_words %d must not be negative", c.MinMeaningfulWords))
	}
	if c.MinUserShare < 0 || c.MinUserShare > 1 {
		errs = append(errs, fmt.Errorf("gate.min_user_share %.2f is out of range [0, 1]", c.MinUserShare))
	}
	return errors.Join(errs...)
}
