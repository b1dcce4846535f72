// Package dispatch is the command interpretation engine. It holds an ordered
// table of pattern → action rules and turns free-form utterances into
// structured, actionable results.
//
// Matching is a pure function of the table and the utterance: the first rule
// whose pattern matches (case-insensitively, unanchored) wins, its response
// template is expanded with the match's capture groups and with caller
// supplied placeholders, and the expansion is split into a command word and
// typed arguments. Parse never fails; absence of a match is a normal outcome.
package dispatch

import (
	"errors"
	"fmt"
	"regexp"
)

// Action tags the kind of side effect a rule asks for. The set is open: the
// console routes known tags to registered handlers and logs the rest.
type Action string

const (
	ActionSpeak   Action = "speak"
	ActionChat    Action = "chat"
	ActionOBS     Action = "obs"
	ActionAI      Action = "ai"
	ActionSpotify Action = "spotify"
	ActionLIFX    Action = "lifx"
)

// ArgType is the primitive kind an argument token is coerced to.
type ArgType string

const (
	ArgString  ArgType = "string"
	ArgNumber  ArgType = "number"
	ArgBoolean ArgType = "boolean"
)

// Rule is a single dispatch rule as it appears in the rule file.
type Rule struct {
	// Pattern is a regular expression matched case-insensitively against
	// the full utterance.
	Pattern string `yaml:"pattern" json:"pattern"`

	// Response is the template expanded on a match. $0 is the full match,
	// $1..$N the capture groups. Absent means an empty response.
	Response string `yaml:"response,omitempty" json:"response,omitempty"`

	// Action tags the side effect.
	Action Action `yaml:"action" json:"action"`

	// ArgTypes lists the expected kind of each argument after the command
	// word. Missing entries default to [ArgString].
	ArgTypes []ArgType `yaml:"argTypes,omitempty" json:"argTypes,omitempty"`
}

// argType returns the declared kind of argument i.
func (r Rule) argType(i int) ArgType {
	if i < len(r.ArgTypes) && r.ArgTypes[i] != "" {
		return r.ArgTypes[i]
	}
	return ArgString
}

// compiledRule pairs a rule with its compiled pattern. The Rule value is
// never mutated after compilation.
type compiledRule struct {
	Rule
	re *regexp.Regexp
}

// compile validates r and compiles its pattern.
func compile(r Rule) (compiledRule, error) {
	if r.Pattern == "" {
		return compiledRule{}, errors.New("empty pattern")
	}
	re, err := regexp.Compile("(?i)" + r.Pattern)
	if err != nil {
		return compiledRule{}, fmt.Errorf("pattern %q: %w", r.Pattern, err)
	}
	for i, t := range r.ArgTypes {
		switch t {
		case "", ArgString, ArgNumber, ArgBoolean:
		default:
			return compiledRule{}, fmt.Errorf("argTypes[%d]: unknown type %q", i, t)
		}
	}
	return compiledRule{Rule: r, re: re}, nil
}
