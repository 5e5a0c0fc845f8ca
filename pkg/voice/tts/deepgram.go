package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

const (
	deepgramBaseURL = "https://api.deepgram.com"

	// DefaultVoice is the Aura voice used when none is configured.
	DefaultVoice = "aura-asteria-en"
)

// DeepgramProvider implements the TTS Provider interface using Deepgram's
// Aura REST API. Without an API key the provider is disabled and synthesis
// returns no audio.
type DeepgramProvider struct {
	apiKey     string
	baseURL    string
	voice      string
	httpClient *http.Client
}

// DeepgramOption configures the provider.
type DeepgramOption func(*DeepgramProvider)

// WithDeepgramBaseURL overrides the REST endpoint, mainly for tests.
func WithDeepgramBaseURL(baseURL string) DeepgramOption {
	return func(p *DeepgramProvider) { p.baseURL = baseURL }
}

// WithVoice selects the Aura voice model.
func WithVoice(voice string) DeepgramOption {
	return func(p *DeepgramProvider) { p.voice = voice }
}

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(hc *http.Client) DeepgramOption {
	return func(p *DeepgramProvider) { p.httpClient = hc }
}

// NewDeepgram creates a Deepgram TTS provider.
func NewDeepgram(apiKey string, opts ...DeepgramOption) *DeepgramProvider {
	p := &DeepgramProvider{
		apiKey:     apiKey,
		baseURL:    deepgramBaseURL,
		voice:      DefaultVoice,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Name returns the provider identifier.
func (p *DeepgramProvider) Name() string { return "deepgram" }

// Enabled reports whether an API key is configured.
func (p *DeepgramProvider) Enabled() bool { return p.apiKey != "" }

// Synthesize renders text as mulaw-8k audio. Disabled providers and empty
// text produce no audio without error.
func (p *DeepgramProvider) Synthesize(ctx context.Context, text string) ([]byte, error) {
	if !p.Enabled() || text == "" {
		return nil, nil
	}

	u, err := url.Parse(p.baseURL + "/v1/speak")
	if err != nil {
		return nil, fmt.Errorf("tts endpoint: %w", err)
	}
	q := u.Query()
	q.Set("model", p.voice)
	q.Set("encoding", "mulaw")
	q.Set("sample_rate", "8000")
	q.Set("container", "none")
	u.RawQuery = q.Encode()

	body, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		return nil, fmt.Errorf("tts request body: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("tts request: %w", err)
	}
	req.Header.Set("Authorization", "Token "+p.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("tts request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("tts error %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
	}

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("tts read audio: %w", err)
	}
	return audio, nil
}
