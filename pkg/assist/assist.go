// Package assist wraps the optional LLM that helps the call agent sound
// natural and recover answers the lexicon rules missed. Every operation
// degrades to a fixed fallback: a broken or absent backend never breaks a
// call.
package assist

import (
	"context"
	"regexp"
	"strings"
)

// AckFallback is spoken when no acknowledgment could be generated.
const AckFallback = "Thank you for sharing that with me."

// Unknown is returned when an answer cannot be extracted.
const Unknown = "unknown"

// Client is the assistive collaborator contract. Implementations are
// side-effect-free and must return the documented fallback instead of an
// error.
type Client interface {
	// ExtractAnswer classifies a transcript into one of the allowed values,
	// or "unknown".
	ExtractAnswer(ctx context.Context, question, transcript string, allowed []string) string

	// Acknowledge produces one short empathetic sentence for an answer
	// summary. Falls back to AckFallback.
	Acknowledge(ctx context.Context, patientName, summary string) string

	// Rephrase restates a question politely in one sentence. Falls back to
	// the question itself.
	Rephrase(ctx context.Context, question, patientName string) string
}

// Disabled is the no-backend client: pure fallbacks, no network.
type Disabled struct{}

func (Disabled) ExtractAnswer(_ context.Context, _, _ string, _ []string) string { return Unknown }

func (Disabled) Acknowledge(_ context.Context, _, _ string) string { return AckFallback }

func (Disabled) Rephrase(_ context.Context, question, _ string) string { return question }

var sentenceEnd = regexp.MustCompile(`(?s)^(.*?[.!?])\s`)

// firstSentence trims a completion down to its first sentence. Models asked
// for one sentence still pad sometimes.
func firstSentence(text string) string {
	text = strings.TrimSpace(text)
	if text == "" {
		return ""
	}
	if m := sentenceEnd.FindStringSubmatch(text + " "); m != nil {
		return strings.TrimSpace(m[1])
	}
	return text
}

var nonToken = regexp.MustCompile(`[^a-z_]+`)

// cleanOneWord normalizes a constrained completion to a bare lowercase
// token.
func cleanOneWord(text string) string {
	return nonToken.ReplaceAllString(strings.ToLower(strings.TrimSpace(text)), "")
}

// validateAnswer keeps only answers from the allowed set.
func validateAnswer(answer string, allowed []string) string {
	for _, a := range allowed {
		if answer == a {
			return answer
		}
	}
	return Unknown
}

const (
	extractSystem = "Extract the patient's answer."

	ackSystem = "Acknowledge empathetically in one short sentence. " +
		"Do not give advice. Do not ask questions."

	rephraseSystem = "You are a hospital monitoring voice agent. " +
		"Rephrase the question politely and naturally. " +
		"Do not add new questions or advice. Keep it one sentence."
)

func extractPrompt(question, transcript string, allowed []string) string {
	return strings.Join([]string{
		"Question:",
		`"` + question + `"`,
		"",
		"Rules:",
		"- Output only one word: " + strings.Join(allowed, ", "),
		"- No explanation",
		"",
		"Patient response:",
		`"` + transcript + `"`,
	}, "\n")
}

func ackPrompt(patientName, summary string) string {
	return "Patient name: " + patientName + "\nAnswer summary: " + summary
}

func rephrasePrompt(question, patientName string) string {
	return "Patient name: " + patientName + "\nQuestion: " + question
}
