package assist

import (
	"context"
	"time"

	"google.golang.org/genai"
)

// GeminiDefaultModel is used when no model is configured.
const GeminiDefaultModel = "gemini-2.0-flash"

// Gemini implements Client on Google's Gemini API. It is the alternate
// backend for deployments without Groq access.
type Gemini struct {
	client  *genai.Client
	model   string
	timeout time.Duration
}

// NewGemini creates a Gemini-backed assist client. An empty API key yields a
// disabled client that only returns fallbacks.
func NewGemini(ctx context.Context, apiKey, model string) (*Gemini, error) {
	g := &Gemini{model: model, timeout: 12 * time.Second}
	if g.model == "" {
		g.model = GeminiDefaultModel
	}
	if apiKey == "" {
		return g, nil
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, err
	}
	g.client = client
	return g, nil
}

// Enabled reports whether the backend is usable.
func (g *Gemini) Enabled() bool { return g != nil && g.client != nil }

func (g *Gemini) generate(ctx context.Context, system, user string, temperature float32, maxTokens int32) string {
	if !g.Enabled() {
		return ""
	}
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	resp, err := g.client.Models.GenerateContent(ctx, g.model, genai.Text(user), &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(system, genai.RoleUser),
		Temperature:       genai.Ptr(temperature),
		MaxOutputTokens:   maxTokens,
	})
	if err != nil {
		return ""
	}
	return resp.Text()
}

// ExtractAnswer classifies a transcript into one of the allowed values.
func (g *Gemini) ExtractAnswer(ctx context.Context, question, transcript string, allowed []string) string {
	if transcript == "" {
		return Unknown
	}
	raw := g.generate(ctx, extractSystem, extractPrompt(question, transcript, allowed), 0.0, 8)
	return validateAnswer(cleanOneWord(raw), allowed)
}

// Acknowledge produces one empathetic sentence, or the fixed fallback.
func (g *Gemini) Acknowledge(ctx context.Context, patientName, summary string) string {
	raw := g.generate(ctx, ackSystem, ackPrompt(patientName, summary), 0.3, 32)
	if cleaned := firstSentence(raw); cleaned != "" {
		return cleaned
	}
	return AckFallback
}

// Rephrase restates a question in one sentence, or returns it unchanged.
func (g *Gemini) Rephrase(ctx context.Context, question, patientName string) string {
	if question == "" {
		return question
	}
	raw := g.generate(ctx, rephraseSystem, rephrasePrompt(question, patientName), 0.2, 64)
	if cleaned := firstSentence(raw); cleaned != "" {
		return cleaned
	}
	return question
}

var _ Client = (*Gemini)(nil)
