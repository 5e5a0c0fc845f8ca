package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"testing"
	"time"

	"github.com/carepulse/callgate/pkg/assist"
	"github.com/carepulse/callgate/pkg/gateway/config"
	gatewayserver "github.com/carepulse/callgate/pkg/gateway/server"
	"github.com/carepulse/callgate/pkg/store"
)

func noopSignals() (func(chan<- os.Signal, ...os.Signal), func(chan<- os.Signal)) {
	return func(chan<- os.Signal, ...os.Signal) {}, func(chan<- os.Signal) {}
}

func TestRunMain_ReturnsNonZeroWhenConfigLoadFails(t *testing.T) {
	t.Parallel()

	notify, stop := noopSignals()
	var stderr bytes.Buffer
	exitCode := runMain(context.Background(), &stderr, gatewayDeps{
		loadConfig: func() (config.Config, error) {
			return config.Config{}, errors.New("boom")
		},
		openStore: func(context.Context, config.Config, *slog.Logger) (*store.Store, func(), error) {
			t.Fatal("openStore should not be called when config load fails")
			return nil, nil, nil
		},
		newGateway: func(config.Config, *slog.Logger, gatewayserver.Options) *gatewayserver.Server {
			t.Fatal("newGateway should not be called when config load fails")
			return nil
		},
		signalNotify: notify,
		signalStop:   stop,
	})

	if exitCode != 1 {
		t.Fatalf("exitCode=%d, want 1", exitCode)
	}
	if stderr.String() == "" {
		t.Fatal("expected stderr output for startup error")
	}
}

func TestRunGateway_StoreOpenFailureStopsStartup(t *testing.T) {
	t.Parallel()

	notify, stop := noopSignals()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	err := runGateway(context.Background(), logger, gatewayDeps{
		loadConfig: func() (config.Config, error) {
			return config.Config{Addr: "127.0.0.1:0"}, nil
		},
		openStore: func(context.Context, config.Config, *slog.Logger) (*store.Store, func(), error) {
			return nil, nil, errors.New("database unreachable")
		},
		newGateway: func(config.Config, *slog.Logger, gatewayserver.Options) *gatewayserver.Server {
			t.Fatal("newGateway should not be called when the store fails to open")
			return nil
		},
		signalNotify: notify,
		signalStop:   stop,
	})

	if err == nil || err.Error() != "database unreachable" {
		t.Fatalf("err=%v, want database unreachable", err)
	}
}

func TestBuildHTTPServer_UsesConfiguredAddress(t *testing.T) {
	t.Parallel()

	cfg := config.Config{
		Addr:              "127.0.0.1:9999",
		ReadHeaderTimeout: 2 * time.Second,
	}

	srv := buildHTTPServer(cfg, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	if srv.Addr != cfg.Addr {
		t.Fatalf("Addr=%q, want %q", srv.Addr, cfg.Addr)
	}
	if srv.ReadHeaderTimeout != cfg.ReadHeaderTimeout {
		t.Fatalf("ReadHeaderTimeout=%v, want %v", srv.ReadHeaderTimeout, cfg.ReadHeaderTimeout)
	}
}

func TestNewAssist_MissingKeysDisable(t *testing.T) {
	t.Parallel()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	got := newAssist(context.Background(), config.Config{AssistBackend: config.AssistGroq}, logger)
	if _, ok := got.(assist.Disabled); !ok {
		t.Fatalf("groq without key: got %T, want assist.Disabled", got)
	}

	got = newAssist(context.Background(), config.Config{AssistBackend: config.AssistGemini}, logger)
	if _, ok := got.(assist.Disabled); !ok {
		t.Fatalf("gemini without key: got %T, want assist.Disabled", got)
	}
}

func TestNewAssist_GroqWithKey(t *testing.T) {
	t.Parallel()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := config.Config{
		AssistBackend: config.AssistGroq,
		GroqAPIKey:    "gsk_test",
		GroqModel:     "llama-3.1-8b-instant",
		GroqBaseURL:   "https://api.groq.com/openai/v1",
		AssistTimeout: 12 * time.Second,
	}

	got := newAssist(context.Background(), cfg, logger)
	if _, ok := got.(*assist.Groq); !ok {
		t.Fatalf("got %T, want *assist.Groq", got)
	}
}
