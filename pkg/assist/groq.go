package assist

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	// GroqBaseURL is the OpenAI-compatible Groq endpoint.
	GroqBaseURL = "https://api.groq.com/openai/v1"

	// GroqDefaultModel is used when no model is configured.
	GroqDefaultModel = "llama-3.1-8b-instant"

	// groqTimeout bounds every completion; a slow model must not stall the
	// call longer than this.
	groqTimeout = 12 * time.Second
)

// Groq implements Client on Groq's OpenAI-compatible chat API.
type Groq struct {
	apiKey     string
	model      string
	baseURL    string
	timeout    time.Duration
	httpClient *http.Client
}

// GroqOption configures the client.
type GroqOption func(*Groq)

// WithGroqBaseURL overrides the endpoint, mainly for tests.
func WithGroqBaseURL(baseURL string) GroqOption {
	return func(g *Groq) { g.baseURL = strings.TrimRight(baseURL, "/") }
}

// WithGroqModel selects the chat model.
func WithGroqModel(model string) GroqOption {
	return func(g *Groq) {
		if model != "" {
			g.model = model
		}
	}
}

// WithGroqTimeout overrides the per-completion timeout.
func WithGroqTimeout(d time.Duration) GroqOption {
	return func(g *Groq) { g.timeout = d }
}

// NewGroq creates a Groq-backed assist client.
func NewGroq(apiKey string, opts ...GroqOption) *Groq {
	g := &Groq{
		apiKey:     apiKey,
		model:      GroqDefaultModel,
		baseURL:    GroqBaseURL,
		timeout:    groqTimeout,
		httpClient: &http.Client{},
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Enabled reports whether an API key is configured.
func (g *Groq) Enabled() bool { return g.apiKey != "" }

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// chat runs one completion. Any failure returns an empty string; callers
// substitute their fallback.
func (g *Groq) chat(ctx context.Context, system, user string, temperature float64, maxTokens int) string {
	if !g.Enabled() {
		return ""
	}
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	body, err := json.Marshal(chatRequest{
		Model: g.model,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		Temperature: temperature,
		MaxTokens:   maxTokens,
	})
	if err != nil {
		return ""
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return ""
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+g.apiKey)

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return ""
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 512))
		return ""
	}
	var parsed chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return ""
	}
	if len(parsed.Choices) == 0 {
		return ""
	}
	return parsed.Choices[0].Message.Content
}

// ExtractAnswer classifies a transcript into one of the allowed values.
func (g *Groq) ExtractAnswer(ctx context.Context, question, transcript string, allowed []string) string {
	if transcript == "" {
		return Unknown
	}
	raw := g.chat(ctx, extractSystem, extractPrompt(question, transcript, allowed), 0.0, 8)
	return validateAnswer(cleanOneWord(raw), allowed)
}

// Acknowledge produces one empathetic sentence, or the fixed fallback.
func (g *Groq) Acknowledge(ctx context.Context, patientName, summary string) string {
	raw := g.chat(ctx, ackSystem, ackPrompt(patientName, summary), 0.3, 32)
	if cleaned := firstSentence(raw); cleaned != "" {
		return cleaned
	}
	return AckFallback
}

// Rephrase restates a question in one sentence, or returns it unchanged.
func (g *Groq) Rephrase(ctx context.Context, question, patientName string) string {
	if question == "" {
		return question
	}
	raw := g.chat(ctx, rephraseSystem, rephrasePrompt(question, patientName), 0.2, 64)
	if cleaned := firstSentence(raw); cleaned != "" {
		return cleaned
	}
	return question
}

var _ Client = (*Groq)(nil)

// String implements fmt.Stringer for log context.
func (g *Groq) String() string {
	return fmt.Sprintf("groq(%s)", g.model)
}
