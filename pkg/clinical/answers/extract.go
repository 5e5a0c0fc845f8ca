// Package answers turns raw call transcripts into typed structured answers
// using lexicon rules. Extraction is pure: no I/O, no state. When the rules
// cannot resolve a transcript the caller may fall back to an assistive
// classifier; anything outside a shape's legal value set stays Unknown.
package answers

import (
	"strings"

	"github.com/carepulse/callgate/pkg/clinical/catalog"
)

// Unknown is the value recorded when a transcript cannot be resolved.
const Unknown = "unknown"

// Legal answer values per shape.
const (
	Yes         = "yes"
	No          = "no"
	TrendBetter = "better"
	TrendSame   = "same"
	TrendWorse  = "worse"
)

// Structured is the normalized interpretation of one transcript.
type Structured struct {
	Answer     string   `json:"answer,omitempty"`
	Present    bool     `json:"present"`
	Trend      string   `json:"trend,omitempty"`
	Confidence int      `json:"confidence"`
	Keywords   []string `json:"keywords,omitempty"`
}

// Unresolved reports whether the structured answer is outside the shape's
// legal value set.
func (s Structured) Unresolved(shape catalog.Shape, options []string) bool {
	switch shape {
	case catalog.ShapeYesNo:
		return s.Answer != Yes && s.Answer != No
	case catalog.ShapeTrend:
		return s.Trend != TrendBetter && s.Trend != TrendSame && s.Trend != TrendWorse
	case catalog.ShapeChoice:
		for _, opt := range normalizeOptions(options) {
			if s.Answer == opt {
				return false
			}
		}
		return true
	default:
		return false
	}
}

var affirmatives = []string{"yes", "yeah", "yup", "yep", "true", "sure", "of course", "affirmative"}
var negatives = []string{"no", "nope", "nah", "not", "negative", "never"}
var trendAffirm = []string{"yes", "yeah", "yup", "yep", "true", "sure", "affirmative"}
var trendNeg = []string{"no", "nope", "nah", "not", "negative"}
var betterWords = []string{"better", "improved", "good", "great", "much better"}
var worseWords = []string{"worse", "worsening", "bad", "terrible", "much worse"}
var sameWords = []string{"same", "no change", "unchanged", "okay", "fine", "about the same"}

// Extract applies the lexicon rules for shape to transcript. Options are
// consulted for choice/scale questions only.
func Extract(shape catalog.Shape, transcript string, options []string) Structured {
	keywords := Keywords(transcript)
	switch shape {
	case catalog.ShapeNone:
		return Structured{Present: false, Keywords: keywords}
	case catalog.ShapeYesNo:
		answer := parseYesNo(transcript)
		return Structured{Answer: answer, Present: answer == Yes, Confidence: 90, Keywords: keywords}
	case catalog.ShapeTrend:
		return Structured{Trend: parseTrend(transcript), Confidence: 90, Keywords: keywords}
	case catalog.ShapeChoice:
		return Structured{Answer: parseChoice(transcript, options), Confidence: 90, Keywords: keywords}
	default:
		return Structured{Answer: Unknown, Confidence: 50, Keywords: keywords}
	}
}

// Apply overwrites the shape-specific field of s with a value produced by an
// assistive classifier, revalidating against the legal set.
func Apply(s Structured, shape catalog.Shape, value string, options []string) Structured {
	value = strings.ToLower(strings.TrimSpace(value))
	switch shape {
	case catalog.ShapeYesNo:
		if value != Yes && value != No {
			value = Unknown
		}
		s.Answer = value
		s.Present = value == Yes
	case catalog.ShapeTrend:
		if value != TrendBetter && value != TrendSame && value != TrendWorse {
			value = Unknown
		}
		s.Trend = value
	case catalog.ShapeChoice:
		matched := Unknown
		for _, opt := range normalizeOptions(options) {
			if value == opt {
				matched = opt
				break
			}
		}
		s.Answer = matched
	}
	return s
}

// AllowedValues lists the legal answer tokens for a shape, always ending in
// Unknown. Used to constrain the assistive classifier.
func AllowedValues(shape catalog.Shape, options []string) []string {
	switch shape {
	case catalog.ShapeYesNo:
		return []string{Yes, No, Unknown}
	case catalog.ShapeTrend:
		return []string{TrendBetter, TrendSame, TrendWorse, Unknown}
	case catalog.ShapeChoice:
		out := normalizeOptions(options)
		return append(out, Unknown)
	default:
		return []string{Unknown}
	}
}

// ClarifyPrompt is the shape-specific re-prompt spoken when an answer could
// not be resolved.
func ClarifyPrompt(shape catalog.Shape, options []string) string {
	switch shape {
	case catalog.ShapeYesNo:
		return "Just to confirm, please say yes or no."
	case catalog.ShapeTrend:
		return "Just to confirm, is it better, the same, or worse?"
	case catalog.ShapeChoice:
		opts := normalizeOptions(options)
		if len(opts) > 0 {
			return "Just to confirm, please say " + strings.Join(opts, ", ") + "."
		}
	}
	return "Sorry, I did not catch that."
}

// Summary renders a short description of a structured answer for the
// acknowledgment prompt.
func Summary(shape catalog.Shape, s Structured) string {
	switch shape {
	case catalog.ShapeYesNo:
		return "Patient said " + orUnknown(s.Answer) + "."
	case catalog.ShapeTrend:
		return "Patient said " + orUnknown(s.Trend) + "."
	case catalog.ShapeChoice:
		return "Patient answered " + orUnknown(s.Answer) + "."
	}
	return "Patient response recorded."
}

func orUnknown(v string) string {
	if strings.TrimSpace(v) == "" {
		return Unknown
	}
	return v
}

func parseYesNo(transcript string) string {
	t := strings.ToLower(transcript)
	if containsAny(t, affirmatives) {
		return Yes
	}
	if containsAny(t, negatives) {
		return No
	}
	return Unknown
}

// parseTrend maps bare affirmatives onto "worse" and bare negatives onto
// "same": trend questions are framed around deterioration, so "yes" means
// it got worse.
func parseTrend(transcript string) string {
	t := strings.ToLower(transcript)
	if containsAny(t, trendAffirm) {
		return TrendWorse
	}
	if containsAny(t, trendNeg) {
		return TrendSame
	}
	if containsAny(t, betterWords) {
		return TrendBetter
	}
	if containsAny(t, worseWords) {
		return TrendWorse
	}
	if containsAny(t, sameWords) {
		return TrendSame
	}
	return Unknown
}

func parseChoice(transcript string, options []string) string {
	t := strings.ToLower(transcript)
	for _, opt := range normalizeOptions(options) {
		if strings.Contains(t, opt) {
			return opt
		}
	}
	return Unknown
}

func containsAny(haystack string, words []string) bool {
	for _, w := range words {
		if strings.Contains(haystack, w) {
			return true
		}
	}
	return false
}

func normalizeOptions(options []string) []string {
	out := make([]string, 0, len(options))
	for _, opt := range options {
		opt = strings.ToLower(strings.TrimSpace(opt))
		if opt == "" {
			continue
		}
		out = append(out, opt)
	}
	return out
}
