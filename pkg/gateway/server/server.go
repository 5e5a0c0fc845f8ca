// Package server wires the gateway: routes, middleware chain, shared
// collaborators, and the active-call tracker used for graceful drain.
package server

import (
	"context"
	"log/slog"
	"net/http"
	"sync/atomic"

	"github.com/carepulse/callgate/pkg/assist"
	"github.com/carepulse/callgate/pkg/carrier"
	"github.com/carepulse/callgate/pkg/gateway/call"
	"github.com/carepulse/callgate/pkg/gateway/config"
	"github.com/carepulse/callgate/pkg/gateway/handlers"
	"github.com/carepulse/callgate/pkg/gateway/mw"
	"github.com/carepulse/callgate/pkg/store"
	"github.com/carepulse/callgate/pkg/voice/stt"
	"github.com/carepulse/callgate/pkg/voice/tts"
)

// Options carries the collaborators main constructs before the server: the
// database-backed store (nil runs log-only) and the assistive client (nil
// degrades to fallbacks).
type Options struct {
	Store  *store.Store
	Assist assist.Client
}

type Server struct {
	cfg    config.Config
	logger *slog.Logger
	mux    *http.ServeMux

	store    *store.Store
	carrier  *carrier.Client
	sttProv  stt.Provider
	ttsProv  tts.Provider
	ttsCache *tts.Cache
	assist   assist.Client

	calls    *call.Tracker
	draining atomic.Bool
}

func New(cfg config.Config, logger *slog.Logger, opts Options) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		cfg:      cfg,
		logger:   logger,
		mux:      http.NewServeMux(),
		store:    opts.Store,
		ttsCache: tts.NewCache(),
		assist:   opts.Assist,
		calls:    call.NewTracker(),
	}

	carrierOpts := []carrier.Option{}
	if cfg.CarrierBaseURL != "" {
		carrierOpts = append(carrierOpts, carrier.WithBaseURL(cfg.CarrierBaseURL))
	}
	s.carrier = carrier.NewClient(cfg.CarrierAccountSID, cfg.CarrierAuthToken, carrierOpts...)

	if cfg.DeepgramAPIKey != "" {
		s.sttProv = stt.NewDeepgram(cfg.DeepgramAPIKey)
		s.ttsProv = tts.NewDeepgram(cfg.DeepgramAPIKey, tts.WithVoice(cfg.TTSVoice))
	} else {
		logger.Warn("no speech vendor key configured, calls run without voice")
	}

	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.Handle("/healthz", handlers.HealthHandler{})
	s.mux.Handle("/readyz", handlers.ReadyHandler{Config: s.cfg})

	s.mux.Handle("/telephony/media", handlers.MediaHandler{
		Config:   s.cfg,
		Logger:   s.logger,
		Store:    s.store,
		Calls:    s.calls,
		STT:      s.sttProv,
		TTS:      s.ttsProv,
		TTSCache: s.ttsCache,
		Assist:   s.assist,
		Hangup:   s.hangup(),
		Draining: s.draining.Load,
	})
	s.mux.Handle("/telephony/status", handlers.StatusHandler{
		Logger: s.logger,
		Store:  s.store,
	})
}

// hangup adapts the carrier client for the orchestrator; without credentials
// the session simply lets the caller hang up.
func (s *Server) hangup() func(ctx context.Context, callSID string) error {
	if !s.carrier.Enabled() {
		return nil
	}
	return s.carrier.Hangup
}

func (s *Server) Handler() http.Handler {
	var h http.Handler = s.mux
	h = mw.Recover(s.logger, h)
	h = mw.AccessLog(s.logger, h)
	h = mw.RequestID(h)
	return h
}

// SetDraining makes the media endpoint refuse new streams while in-flight
// calls finish.
func (s *Server) SetDraining() {
	s.draining.Store(true)
}

// ActiveCalls reports how many call sessions are still running.
func (s *Server) ActiveCalls() int {
	return s.calls.Count()
}

// WaitActiveCalls blocks until every call session ends or ctx expires,
// reporting whether the tracker drained.
func (s *Server) WaitActiveCalls(ctx context.Context) bool {
	return s.calls.Wait(ctx)
}

// CancelActiveCalls cancels every running call session and returns how many
// were cancelled.
func (s *Server) CancelActiveCalls() int {
	return s.calls.CancelAll()
}
