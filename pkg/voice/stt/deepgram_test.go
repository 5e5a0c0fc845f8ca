package stt

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestNewStreamSendsQueryAndAuth(t *testing.T) {
	gotCh := make(chan *http.Request, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotCh <- r.Clone(context.Background())
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	p := NewDeepgram("dg-key", WithDeepgramBaseURL(wsURL(srv)))
	s, err := p.NewStream(context.Background(), StreamOptions{
		InterimResults: true,
		UtteranceEndMS: 1000,
	})
	if err != nil {
		t.Fatalf("NewStream: %v", err)
	}
	defer s.Close()

	r := <-gotCh
	q := r.URL.Query()
	if q.Get("model") != "nova-2" || q.Get("encoding") != "mulaw" || q.Get("sample_rate") != "8000" {
		t.Fatalf("query=%v", q)
	}
	if q.Get("interim_results") != "true" || q.Get("utterance_end_ms") != "1000" {
		t.Fatalf("query=%v", q)
	}
	if r.Header.Get("Authorization") != "Token dg-key" {
		t.Fatalf("auth=%q", r.Header.Get("Authorization"))
	}
}

func TestStreamDeliversTranscripts(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		// One interim, one final, one empty that must be dropped.
		conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"Results","is_final":false,"channel":{"alternatives":[{"transcript":"yes I"}]}}`))
		conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"Results","is_final":true,"channel":{"alternatives":[{"transcript":""}]}}`))
		conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"Results","is_final":true,"channel":{"alternatives":[{"transcript":"yes I did"}]}}`))
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	p := NewDeepgram("dg-key", WithDeepgramBaseURL(wsURL(srv)))
	s, err := p.NewStream(context.Background(), StreamOptions{InterimResults: true})
	if err != nil {
		t.Fatalf("NewStream: %v", err)
	}
	defer s.Close()

	var got []Delta
	timeout := time.After(5 * time.Second)
	for len(got) < 2 {
		select {
		case d := <-s.Transcripts():
			got = append(got, d)
		case <-timeout:
			t.Fatalf("timed out, got %v", got)
		}
	}
	if got[0].IsFinal || got[0].Text != "yes I" {
		t.Fatalf("interim=%+v", got[0])
	}
	if !got[1].IsFinal || got[1].Text != "yes I did" {
		t.Fatalf("final=%+v", got[1])
	}
}

func TestSendAudioReachesServer(t *testing.T) {
	audioCh := make(chan []byte, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			typ, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if typ == websocket.BinaryMessage {
				audioCh <- data
			}
		}
	}))
	defer srv.Close()

	p := NewDeepgram("dg-key", WithDeepgramBaseURL(wsURL(srv)))
	s, err := p.NewStream(context.Background(), StreamOptions{})
	if err != nil {
		t.Fatalf("NewStream: %v", err)
	}
	defer s.Close()

	frame := []byte{1, 2, 3, 4}
	if err := s.SendAudio(frame); err != nil {
		t.Fatalf("SendAudio: %v", err)
	}
	select {
	case got := <-audioCh:
		if string(got) != string(frame) {
			t.Fatalf("audio=%v, want %v", got, frame)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("audio never reached server")
	}
}

func TestSendAudioRedialsAfterDrop(t *testing.T) {
	var conns atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := conns.Add(1)
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		if n == 1 {
			// First connection dies immediately.
			conn.Close()
			return
		}
		defer conn.Close()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	p := NewDeepgram("dg-key", WithDeepgramBaseURL(wsURL(srv)))
	s, err := p.NewStream(context.Background(), StreamOptions{})
	if err != nil {
		t.Fatalf("NewStream: %v", err)
	}
	defer s.Close()

	deadline := time.Now().Add(5 * time.Second)
	for conns.Load() < 2 {
		if time.Now().After(deadline) {
			t.Fatalf("no redial after drop, conns=%d", conns.Load())
		}
		s.SendAudio([]byte{0})
		time.Sleep(10 * time.Millisecond)
	}
}

func TestKeepalive(t *testing.T) {
	keepaliveCh := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			typ, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if typ == websocket.TextMessage {
				select {
				case keepaliveCh <- string(data):
				default:
				}
			}
		}
	}))
	defer srv.Close()

	p := NewDeepgram("dg-key",
		WithDeepgramBaseURL(wsURL(srv)),
		WithKeepalivePeriod(20*time.Millisecond))
	s, err := p.NewStream(context.Background(), StreamOptions{})
	if err != nil {
		t.Fatalf("NewStream: %v", err)
	}
	defer s.Close()

	select {
	case msg := <-keepaliveCh:
		if !strings.Contains(msg, "KeepAlive") {
			t.Fatalf("text message=%q", msg)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no keepalive sent")
	}
}

func TestDisabledProvider(t *testing.T) {
	p := NewDeepgram("")
	if p.Enabled() {
		t.Fatal("provider without key should be disabled")
	}
	s, err := p.NewStream(context.Background(), StreamOptions{})
	if err != nil {
		t.Fatalf("NewStream: %v", err)
	}
	if err := s.SendAudio([]byte{1}); err != nil {
		t.Fatalf("disabled SendAudio: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	select {
	case <-s.Done():
	default:
		t.Fatal("Done not closed after Close")
	}
}

func TestStreamCloseIsIdempotent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	p := NewDeepgram("dg-key", WithDeepgramBaseURL(wsURL(srv)))
	s, err := p.NewStream(context.Background(), StreamOptions{})
	if err != nil {
		t.Fatalf("NewStream: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if err := s.SendAudio([]byte{1}); err == nil {
		t.Fatal("SendAudio after Close should fail")
	}
}
