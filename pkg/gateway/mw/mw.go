// Package mw holds the gateway's HTTP middleware chain.
package mw

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

type ctxKeyRequestID struct{}

func RequestIDFrom(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(ctxKeyRequestID{}).(string)
	return id, ok && id != ""
}

func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKeyRequestID{}, id)
}

func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get("X-Request-ID"))
		if id == "" {
			id = "req_" + randHex(10)
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r.WithContext(WithRequestID(r.Context(), id)))
	})
}

func Recover(logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if v := recover(); v != nil {
				if logger != nil {
					logger.Error("panic", "panic", v)
				}
				http.Error(w, "internal error", http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

type flusherWriter struct {
	*statusWriter
	http.Flusher
}

type hijackerWriter struct {
	*statusWriter
	http.Hijacker
}

type flusherHijackerWriter struct {
	*statusWriter
	http.Flusher
	http.Hijacker
}

// wrapWriter records the status code while advertising only the optional
// interfaces the underlying writer supports. Websocket upgrades need
// Hijacker to survive the wrap.
func wrapWriter(w http.ResponseWriter) (http.ResponseWriter, *statusWriter) {
	sw := &statusWriter{ResponseWriter: w, status: 200}
	flusher, isFlusher := w.(http.Flusher)
	hijacker, isHijacker := w.(http.Hijacker)
	switch {
	case isFlusher && isHijacker:
		return &flusherHijackerWriter{statusWriter: sw, Flusher: flusher, Hijacker: hijacker}, sw
	case isFlusher:
		return &flusherWriter{statusWriter: sw, Flusher: flusher}, sw
	case isHijacker:
		return &hijackerWriter{statusWriter: sw, Hijacker: hijacker}, sw
	default:
		return sw, sw
	}
}

func AccessLog(logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped, sw := wrapWriter(w)
		next.ServeHTTP(wrapped, r)
		if logger == nil {
			return
		}
		reqID, _ := RequestIDFrom(r.Context())
		logger.Info("request",
			"request_id", reqID,
			"method", r.Method,
			"path", r.URL.Path,
			"status", sw.status,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}

func randHex(nbytes int) string {
	b := make([]byte, nbytes)
	if _, err := rand.Read(b); err != nil {
		// crypto/rand should not fail in practice; fall back to time-based entropy.
		return hex.EncodeToString([]byte(time.Now().Format("20060102150405.000000000")))
	}
	return hex.EncodeToString(b)
}
