package gate

import (
	"strings"
	"unicode"
)

// TokenSet is a case-insensitive set of whole-utterance tokens.
type TokenSet map[string]struct{}

// NewTokenSet builds a set from tokens, normalising each one.
func NewTokenSet(tokens ...string) TokenSet {
	s := make(TokenSet, len(tokens))
	for _, t := range tokens {
		if n := normalize(t); n != "" {
			s[n] = struct{}{}
		}
	}
	return s
}

// Contains reports whether text, trimmed and lower-cased, is exactly a member.
func (s TokenSet) Contains(text string) bool {
	_, ok := s[normalize(text)]
	return ok
}

// WordCount returns the number of whitespace-separated words in text.
func WordCount(text string) int {
	return len(strings.Fields(text))
}

// IsAcknowledgement reports whether text is nothing but a filler token.
func IsAcknowledgement(text string, acks TokenSet) bool {
	return acks.Contains(text)
}

// IsMeaningful reports whether a candidate turn has at least minWords words
// and is not an acknowledgement.
func IsMeaningful(text string, minWords int, acks TokenSet) bool {
	return WordCount(text) >= minWords && !IsAcknowledgement(text, acks)
}

// questionOpeners are interrogative first words in the supported languages.
var questionOpeners = NewTokenSet(
	"what", "why", "how", "when", "where", "which", "who", "can", "could", "would",
	"tell", "describe", "explain", "walk",
	"qué", "que", "por", "cómo", "como", "cuándo", "dónde", "cuál", "quién", "puedes", "podrías", "cuéntame", "describe", "explica",
)

// IsQuestion reports whether an interviewer turn asks something: it contains a
// question mark (either script) or opens with an interrogative word.
func IsQuestion(text string) bool {
	if strings.ContainsAny(text, "?¿") {
		return true
	}
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return false
	}
	first := strings.TrimFunc(fields[0], func(r rune) bool { return !unicode.IsLetter(r) })
	return questionOpeners.Contains(first)
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
