package stt

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

const (
	deepgramBaseURL = "wss://api.deepgram.com"

	// Deepgram closes idle streams after ~10s without audio or keepalives.
	deepgramKeepalivePeriod = 5 * time.Second
)

// DeepgramProvider implements the STT Provider interface using Deepgram's
// streaming API. A provider without an API key is disabled: its streams
// discard audio and never emit transcripts, so calls proceed without STT.
type DeepgramProvider struct {
	apiKey          string
	baseURL         string
	dialer          *websocket.Dialer
	keepalivePeriod time.Duration
}

// DeepgramOption configures the provider.
type DeepgramOption func(*DeepgramProvider)

// WithDeepgramBaseURL overrides the websocket endpoint, mainly for tests.
func WithDeepgramBaseURL(baseURL string) DeepgramOption {
	return func(p *DeepgramProvider) { p.baseURL = baseURL }
}

// WithKeepalivePeriod overrides the keepalive interval.
func WithKeepalivePeriod(d time.Duration) DeepgramOption {
	return func(p *DeepgramProvider) { p.keepalivePeriod = d }
}

// NewDeepgram creates a Deepgram STT provider.
func NewDeepgram(apiKey string, opts ...DeepgramOption) *DeepgramProvider {
	p := &DeepgramProvider{
		apiKey:          apiKey,
		baseURL:         deepgramBaseURL,
		dialer:          &websocket.Dialer{HandshakeTimeout: 15 * time.Second},
		keepalivePeriod: deepgramKeepalivePeriod,
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

// NewStream opens a streaming transcription session. The stream redials
// transparently on the next SendAudio after the connection drops.
func (p *DeepgramProvider) NewStream(ctx context.Context, opts StreamOptions) (Stream, error) {
	if !p.Enabled() {
		return newDisabledStream(), nil
	}

	ctx, cancel := context.WithCancel(ctx)
	s := &deepgramStream{
		provider:    p,
		opts:        opts,
		transcripts: make(chan Delta, 100),
		done:        make(chan struct{}),
		ctx:         ctx,
		cancel:      cancel,
	}
	if err := s.connect(); err != nil {
		cancel()
		return nil, err
	}
	return s, nil
}

func (p *DeepgramProvider) streamURL(opts StreamOptions) string {
	u, _ := url.Parse(p.baseURL + "/v1/listen")

	q := u.Query()
	model := opts.Model
	if model == "" {
		model = "nova-2"
	}
	q.Set("model", model)
	language := opts.Language
	if language == "" {
		language = "en"
	}
	q.Set("language", language)
	encoding := opts.Encoding
	if encoding == "" {
		encoding = "mulaw"
	}
	q.Set("encoding", encoding)
	sampleRate := opts.SampleRate
	if sampleRate == 0 {
		sampleRate = 8000
	}
	q.Set("sample_rate", strconv.Itoa(sampleRate))
	q.Set("channels", "1")
	q.Set("smart_format", "true")
	if opts.InterimResults {
		q.Set("interim_results", "true")
	}
	if opts.UtteranceEndMS > 0 {
		q.Set("utterance_end_ms", strconv.Itoa(opts.UtteranceEndMS))
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// deepgramStream is one live session. A dropped connection is remembered and
// repaired on the next SendAudio rather than eagerly, matching how audio
// arrives in 20ms frames anyway.
type deepgramStream struct {
	provider *DeepgramProvider
	opts     StreamOptions

	transcripts chan Delta
	done        chan struct{}
	ctx         context.Context
	cancel      context.CancelFunc

	writeMu sync.Mutex
	conn    *websocket.Conn
	connCtx context.CancelFunc

	dropped atomic.Bool
	closed  atomic.Bool
	once    sync.Once
}

func (s *deepgramStream) connect() error {
	headers := http.Header{}
	headers.Set("Authorization", "Token "+s.provider.apiKey)

	conn, resp, err := s.provider.dialer.DialContext(s.ctx, s.provider.streamURL(s.opts), headers)
	if err != nil {
		if resp != nil {
			defer resp.Body.Close()
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			if len(body) > 0 {
				return fmt.Errorf("deepgram connect (status %d): %s", resp.StatusCode, string(body))
			}
		}
		return fmt.Errorf("deepgram connect: %w", err)
	}

	connCtx, connCancel := context.WithCancel(s.ctx)
	s.writeMu.Lock()
	s.conn = conn
	s.connCtx = connCancel
	s.writeMu.Unlock()
	s.dropped.Store(false)

	go s.readLoop(conn, connCancel)
	go s.keepalive(connCtx, conn)
	return nil
}

type deepgramResult struct {
	Type    string `json:"type"`
	IsFinal bool   `json:"is_final"`
	Channel struct {
		Alternatives []struct {
			Transcript string `json:"transcript"`
		} `json:"alternatives"`
	} `json:"channel"`
}

func (s *deepgramStream) readLoop(conn *websocket.Conn, connCancel context.CancelFunc) {
	defer connCancel()
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			s.dropped.Store(true)
			return
		}
		var msg deepgramResult
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		if msg.Type != "" && msg.Type != "Results" {
			continue
		}
		if len(msg.Channel.Alternatives) == 0 {
			continue
		}
		text := msg.Channel.Alternatives[0].Transcript
		if text == "" {
			continue
		}
		select {
		case s.transcripts <- Delta{Text: text, IsFinal: msg.IsFinal}:
		case <-s.ctx.Done():
			return
		}
	}
}

func (s *deepgramStream) keepalive(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(s.provider.keepalivePeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.writeMu.Lock()
			err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"KeepAlive"}`))
			s.writeMu.Unlock()
			if err != nil {
				s.dropped.Store(true)
				return
			}
		}
	}
}

// SendAudio forwards one audio chunk, redialing first when the previous
// connection dropped.
func (s *deepgramStream) SendAudio(data []byte) error {
	if s.closed.Load() {
		return fmt.Errorf("stt stream closed")
	}
	if s.dropped.Load() {
		if s.connCtx != nil {
			s.connCtx()
		}
		if err := s.connect(); err != nil {
			return fmt.Errorf("stt reconnect: %w", err)
		}
	}
	s.writeMu.Lock()
	err := s.conn.WriteMessage(websocket.BinaryMessage, data)
	s.writeMu.Unlock()
	if err != nil {
		s.dropped.Store(true)
		return fmt.Errorf("stt send: %w", err)
	}
	return nil
}

// Transcripts returns the channel of transcript deltas.
func (s *deepgramStream) Transcripts() <-chan Delta { return s.transcripts }

// Done returns a channel closed when the stream is shut down.
func (s *deepgramStream) Done() <-chan struct{} { return s.done }

// Close shuts the stream down. Idempotent.
func (s *deepgramStream) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	s.once.Do(func() { close(s.done) })
	s.cancel()

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if s.conn != nil {
		s.conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"CloseStream"}`))
		s.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		return s.conn.Close()
	}
	return nil
}

// disabledStream is the no-key stand-in: audio is discarded and no
// transcripts ever arrive.
type disabledStream struct {
	transcripts chan Delta
	done        chan struct{}
	once        sync.Once
}

func newDisabledStream() *disabledStream {
	return &disabledStream{
		transcripts: make(chan Delta),
		done:        make(chan struct{}),
	}
}

func (s *disabledStream) SendAudio([]byte) error    { return nil }
func (s *disabledStream) Transcripts() <-chan Delta { return s.transcripts }
func (s *disabledStream) Done() <-chan struct{}     { return s.done }


func (s *disabledStream) Close() error {
	s.once.Do(func() { close(s.done) })
	return nil
}
