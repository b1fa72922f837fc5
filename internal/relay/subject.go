// Package relay is the Relay Core: subject-based publish/subscribe routing
// between agents, adapters, and Pulse, with durable endpoint inboxes and
// budget-bounded envelope delivery (spec §4.6).
package relay

import (
	"strings"

	"github.com/dorkos/dorkos/internal/substrate"
)

// tokenValid reports whether r is allowed in a subject or pattern token:
// [A-Za-z0-9_-].
func tokenValid(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '_' || r == '-'
}

// ValidateSubject checks a concrete publish subject: dot-delimited,
// non-empty tokens, no wildcards.
func ValidateSubject(subject string) error {
	tokens, err := splitTokens(subject)
	if err != nil {
		return err
	}
	for _, t := range tokens {
		if t == "*" || t == ">" {
			return substrate.New(substrate.CodeInvalidSubject, "subject %q may not contain wildcards", subject)
		}
		if !validToken(t) {
			return substrate.New(substrate.CodeInvalidSubject, "subject %q has an invalid token %q", subject, t)
		}
	}
	return nil
}

// ValidatePattern checks a subscriber pattern: dot-delimited tokens, where
// `*` matches exactly one token and a terminal `>` matches one-or-more
// trailing tokens (spec §4.6.1).
func ValidatePattern(pattern string) error {
	tokens, err := splitTokens(pattern)
	if err != nil {
		return err
	}
	for i, t := range tokens {
		if t == ">" {
			if i != len(tokens)-1 {
				return substrate.New(substrate.CodeInvalidSubject, "pattern %q: '>' must be the terminal token", pattern)
			}
			continue
		}
		if t == "*" {
			continue
		}
		if !validToken(t) {
			return substrate.New(substrate.CodeInvalidSubject, "pattern %q has an invalid token %q", pattern, t)
		}
	}
	return nil
}

func splitTokens(s string) ([]string, error) {
	if s == "" {
		return nil, substrate.New(substrate.CodeInvalidSubject, "subject must not be empty")
	}
	tokens := strings.Split(s, ".")
	for _, t := range tokens {
		if t == "" {
			return nil, substrate.New(substrate.CodeInvalidSubject, "subject %q has an empty token", s)
		}
	}
	return tokens, nil
}

func validToken(t string) bool {
	for _, r := range t {
		if !tokenValid(r) {
			return false
		}
	}
	return true
}

// matcher is a compiled subscriber pattern: a vector of token matchers plus
// a terminal-wildcard flag, so repeated matching against many subjects
// avoids re-splitting the pattern string each time (spec §9 design note).
type matcher struct {
	tokens   []string // "*" for single-token wildcard, literal otherwise
	terminal bool     // true if the last pattern token was ">"
}

func compilePattern(pattern string) (matcher, error) {
	if err := ValidatePattern(pattern); err != nil {
		return matcher{}, err
	}
	tokens := strings.Split(pattern, ".")
	terminal := tokens[len(tokens)-1] == ">"
	if terminal {
		tokens = tokens[:len(tokens)-1]
	}
	return matcher{tokens: tokens, terminal: terminal}, nil
}

// match reports whether subject (already split into tokens) matches m.
func (m matcher) match(subjectTokens []string) bool {
	if m.terminal {
		if len(subjectTokens) < len(m.tokens)+1 {
			return false
		}
	} else if len(subjectTokens) != len(m.tokens) {
		return false
	}
	for i, pt := range m.tokens {
		if pt == "*" {
			continue
		}
		if pt != subjectTokens[i] {
			return false
		}
	}
	return true
}
