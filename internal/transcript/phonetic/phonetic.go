// Package phonetic snaps spoken scene names onto the compositor's real scene
// names.
//
// Recognisers transcribe "starting soon" as "starting sun" and "Just
// Chatting" as "just chatting". A [Snapper] scores every known name against
// the spoken phrase:
//
//  1. Names that normalise to the same tokens as the phrase (case and
//     punctuation ignored) match with score 1.
//  2. Names sharing a Double Metaphone or NYSIIS code with the phrase are
//     phonetic candidates, accepted above the phonetic threshold (0.70).
//  3. Everything else needs pure Jaro-Winkler similarity above the fuzzy
//     threshold (0.85).
//
// Phonetic candidates always outrank fuzzy ones.
package phonetic

import (
	"cmp"
	"slices"
	"strings"
	"unicode"

	"github.com/antzucaro/matchr"
)

const (
	defaultPhoneticThreshold = 0.70
	defaultFuzzyThreshold    = 0.85
)

// Option is a functional option for configuring a [Snapper].
type Option func(*Snapper)

// WithPhoneticThreshold sets the minimum score for a phonetic candidate.
func WithPhoneticThreshold(threshold float64) Option {
	return func(s *Snapper) {
		s.phoneticThreshold = threshold
	}
}

// WithFuzzyThreshold sets the minimum score for a candidate without any
// phonetic overlap.
func WithFuzzyThreshold(threshold float64) Option {
	return func(s *Snapper) {
		s.fuzzyThreshold = threshold
	}
}

// Candidate is one scored name.
type Candidate struct {
	Name     string
	Score    float64
	Phonetic bool
}

// Snapper matches spoken phrases to known names. It is read-only after
// construction and safe for concurrent use.
type Snapper struct {
	phoneticThreshold float64
	fuzzyThreshold    float64
}

// New returns a [Snapper] configured with the supplied options.
func New(opts ...Option) *Snapper {
	s := &Snapper{
		phoneticThreshold: defaultPhoneticThreshold,
		fuzzyThreshold:    defaultFuzzyThreshold,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Snap returns the best name for spoken, or spoken unchanged with ok false
// when no name clears its threshold.
func (s *Snapper) Snap(spoken string, names []string) (name string, score float64, ok bool) {
	ranked := s.Rank(spoken, names)
	if len(ranked) == 0 {
		return spoken, 0, false
	}
	return ranked[0].Name, ranked[0].Score, true
}

// Rank returns every accepted candidate, best first. Names appearing more
// than once are scored once.
func (s *Snapper) Rank(spoken string, names []string) []Candidate {
	in := tokenize(spoken)
	if len(in) == 0 || len(names) == 0 {
		return nil
	}
	inCodes := codes(in)
	inJoined := strings.Join(in, " ")

	seen := make(map[string]bool, len(names))
	var out []Candidate
	for _, name := range names {
		if seen[name] {
			continue
		}
		seen[name] = true

		toks := tokenize(name)
		if len(toks) == 0 {
			continue
		}
		if strings.Join(toks, " ") == inJoined {
			out = append(out, Candidate{Name: name, Score: 1, Phonetic: true})
			continue
		}

		c := Candidate{Name: name, Score: similarity(in, toks), Phonetic: overlaps(inCodes, codes(toks))}
		threshold := s.fuzzyThreshold
		if c.Phonetic {
			threshold = s.phoneticThreshold
		}
		if c.Score >= threshold {
			out = append(out, c)
		}
	}

	slices.SortStableFunc(out, func(a, b Candidate) int {
		if a.Phonetic != b.Phonetic {
			if a.Phonetic {
				return -1
			}
			return 1
		}
		return cmp.Compare(b.Score, a.Score)
	})
	return out
}

// tokenize lowercases s and splits it on anything that is not a letter or
// digit, so "scene.brb" and "Scene BRB" agree.
func tokenize(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

func codes(tokens []string) map[string]struct{} {
	set := make(map[string]struct{}, len(tokens)*3)
	for _, t := range tokens {
		p, sec := matchr.DoubleMetaphone(t)
		for _, c := range []string{p, sec, matchr.NYSIIS(t)} {
			if c != "" {
				set[c] = struct{}{}
			}
		}
	}
	return set
}

func overlaps(a, b map[string]struct{}) bool {
	if len(a) > len(b) {
		a, b = b, a
	}
	for c := range a {
		if _, ok := b[c]; ok {
			return true
		}
	}
	return false
}

// similarity is the best of three Jaro-Winkler views: the whole phrase, the
// phrase with spaces removed, and a symmetric token alignment. The alignment
// averages each token's best partner in both directions, so a shared word
// like "scene" cannot carry a match alone.
func similarity(a, b []string) float64 {
	score := matchr.JaroWinkler(strings.Join(a, " "), strings.Join(b, " "), false)
	if len(a) > 1 || len(b) > 1 {
		score = max(score, matchr.JaroWinkler(strings.Join(a, ""), strings.Join(b, ""), false))
		score = max(score, (alignment(a, b)+alignment(b, a))/2)
	}
	return score
}

func alignment(from, to []string) float64 {
	var sum float64
	for _, f := range from {
		var best float64
		for _, t := range to {
			best = max(best, matchr.JaroWinkler(f, t, false))
		}
		sum += best
	}
	return sum / float64(len(from))
}
