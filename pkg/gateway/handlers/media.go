package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/websocket"

	"github.com/carepulse/callgate/pkg/assist"
	"github.com/carepulse/callgate/pkg/clinical/catalog"
	"github.com/carepulse/callgate/pkg/gateway/call"
	"github.com/carepulse/callgate/pkg/gateway/config"
	"github.com/carepulse/callgate/pkg/risk"
	"github.com/carepulse/callgate/pkg/store"
	"github.com/carepulse/callgate/pkg/voice/stt"
	"github.com/carepulse/callgate/pkg/voice/tts"
)

// MediaHandler upgrades the carrier's media-stream connection and runs one
// call session on it. The carrier identifies the call through query
// parameters; the start event fills in whatever they omit.
type MediaHandler struct {
	Config   config.Config
	Logger   *slog.Logger
	Store    *store.Store
	Calls    *call.Tracker
	STT      stt.Provider
	TTS      tts.Provider
	TTSCache *tts.Cache
	Assist   assist.Client
	Scorer   risk.Scorer
	Hangup   func(ctx context.Context, callSID string) error
	Draining func() bool
}

func (h MediaHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if h.Draining != nil && h.Draining() {
		http.Error(w, "gateway is draining", http.StatusServiceUnavailable)
		return
	}
	logger := h.Logger
	if logger == nil {
		logger = slog.Default()
	}

	callCtx := callContextFromQuery(r)

	// The carrier connects machine-to-machine; there is no browser origin
	// to check.
	upgrader := websocket.Upgrader{
		CheckOrigin: func(*http.Request) bool { return true },
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn("media upgrade failed", "err", err)
		return
	}

	logger.Info("media stream connected",
		"call_sid", callCtx.CallID,
		"protocol", callCtx.Protocol,
	)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	unregister := h.Calls.Register(callCtx.CallID, call.Handle{Cancel: cancel})
	defer unregister()

	session := call.New(call.Dependencies{
		Conn:     conn,
		Logger:   logger,
		STT:      h.STT,
		TTS:      h.TTS,
		TTSCache: h.TTSCache,
		Assist:   h.Assist,
		Store:    h.Store,
		Scorer:   h.Scorer,
		Hangup:   h.Hangup,
		Call:     callCtx,
		Config:   sessionConfig(h.Config),
	})
	if err := session.Run(ctx); err != nil && ctx.Err() == nil {
		logger.Warn("call session ended with error", "call_sid", callCtx.CallID, "err", err)
	}
}

func callContextFromQuery(r *http.Request) call.CallContext {
	q := r.URL.Query()
	callID := strings.TrimSpace(q.Get("call_id"))
	if callID == "" {
		callID = "unknown"
	}
	ctx := call.CallContext{
		CallID:   callID,
		Protocol: catalog.Normalize(q.Get("protocol")),
	}
	if raw := strings.TrimSpace(q.Get("patient_id")); raw != "" {
		if id, err := strconv.ParseInt(raw, 10, 64); err == nil && id > 0 {
			ctx.PatientID = &id
		}
	}
	if name := strings.TrimSpace(q.Get("patient_name")); name != "" {
		ctx.PatientName = name
	}
	return ctx
}

func sessionConfig(cfg config.Config) call.Config {
	return call.Config{
		InactivityTimeout:     cfg.InactivityTimeout,
		RepeatAfter:           cfg.RepeatAfter,
		MaxRepeats:            cfg.MaxRepeats,
		ClarifyMax:            cfg.ClarifyMax,
		EchoSuppressWindow:    cfg.EchoSuppressWindow,
		PostSpeechGrace:       cfg.PostSpeechGrace,
		RecentTranscriptGrace: cfg.RecentTranscriptGrace,
		SpeechOverlapWait:     cfg.SpeechOverlapWait,
		StartDelay:            cfg.StartDelay,
		FrameBytes:            cfg.FrameBytes,
		FrameInterval:         cfg.FrameInterval,
		WriteTimeout:          cfg.WSWriteTimeout,
	}
}
