package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/carepulse/callgate/internal/dotenv"
	"github.com/carepulse/callgate/pkg/assist"
	"github.com/carepulse/callgate/pkg/gateway/config"
	gatewayserver "github.com/carepulse/callgate/pkg/gateway/server"
	"github.com/carepulse/callgate/pkg/store"
)

type gatewayDeps struct {
	loadConfig   func() (config.Config, error)
	openStore    func(ctx context.Context, cfg config.Config, logger *slog.Logger) (*store.Store, func(), error)
	newGateway   func(config.Config, *slog.Logger, gatewayserver.Options) *gatewayserver.Server
	signalNotify func(chan<- os.Signal, ...os.Signal)
	signalStop   func(chan<- os.Signal)
}

func defaultGatewayDeps() gatewayDeps {
	return gatewayDeps{
		loadConfig: config.LoadFromEnv,
		openStore:  openStore,
		newGateway: gatewayserver.New,
		signalNotify: func(c chan<- os.Signal, sig ...os.Signal) {
			signal.Notify(c, sig...)
		},
		signalStop: signal.Stop,
	}
}

// openStore connects the persistence pool, running embedded migrations first
// when configured. An empty DATABASE_URL runs the gateway log-only.
func openStore(ctx context.Context, cfg config.Config, logger *slog.Logger) (*store.Store, func(), error) {
	if cfg.DatabaseURL == "" {
		logger.Warn("no database configured, running log-only")
		return nil, func() {}, nil
	}
	if cfg.MigrateOnStart {
		if err := store.Migrate(ctx, cfg.DatabaseURL); err != nil {
			return nil, nil, fmt.Errorf("migrate: %w", err)
		}
	}
	pool, err := store.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("connect database: %w", err)
	}
	return store.New(pool, logger), pool.Close, nil
}

// newAssist picks the assistive backend. Missing keys and construction
// failures degrade to the disabled client; calls still complete on the
// built-in fallbacks.
func newAssist(ctx context.Context, cfg config.Config, logger *slog.Logger) assist.Client {
	switch cfg.AssistBackend {
	case config.AssistGemini:
		if cfg.GeminiAPIKey == "" {
			logger.Warn("no gemini key configured, assistive prompts disabled")
			return assist.Disabled{}
		}
		g, err := assist.NewGemini(ctx, cfg.GeminiAPIKey, cfg.GeminiModel)
		if err != nil {
			logger.Warn("gemini client unavailable, assistive prompts disabled", "err", err)
			return assist.Disabled{}
		}
		return g
	default:
		if cfg.GroqAPIKey == "" {
			logger.Warn("no groq key configured, assistive prompts disabled")
			return assist.Disabled{}
		}
		return assist.NewGroq(cfg.GroqAPIKey,
			assist.WithGroqBaseURL(cfg.GroqBaseURL),
			assist.WithGroqModel(cfg.GroqModel),
			assist.WithGroqTimeout(cfg.AssistTimeout),
		)
	}
}

func buildHTTPServer(cfg config.Config, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}
}

func runGateway(ctx context.Context, logger *slog.Logger, deps gatewayDeps) error {
	if deps.loadConfig == nil || deps.openStore == nil || deps.newGateway == nil {
		return errors.New("missing gateway dependency")
	}
	if deps.signalNotify == nil || deps.signalStop == nil {
		return errors.New("missing signal dependency")
	}
	if logger == nil {
		logger = slog.Default()
	}

	cfg, err := deps.loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	st, closeStore, err := deps.openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	gw := deps.newGateway(cfg, logger, gatewayserver.Options{
		Store:  st,
		Assist: newAssist(ctx, cfg, logger),
	})
	httpSrv := buildHTTPServer(cfg, gw.Handler())

	logger.Info("starting gateway",
		"addr", cfg.Addr,
		"assist_backend", cfg.AssistBackend,
		"db_configured", cfg.DatabaseURL != "",
	)

	listenErrCh := make(chan error, 1)
	go func() {
		err := httpSrv.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			listenErrCh <- err
			return
		}
		listenErrCh <- nil
	}()

	sigCh := make(chan os.Signal, 1)
	deps.signalNotify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer deps.signalStop(sigCh)

	select {
	case err := <-listenErrCh:
		if err != nil {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case sig := <-sigCh:
		logger.Info("shutdown signal received", "signal", sig.String())
	}

	gw.SetDraining()
	if n := gw.ActiveCalls(); n > 0 {
		logger.Info("draining active calls", "count", n)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownGracePeriod)
	defer shutdownCancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}

	// Media sessions run on hijacked connections, which Shutdown does not
	// wait for.
	waitCtx, waitCancel := context.WithTimeout(context.Background(), cfg.ShutdownGracePeriod)
	defer waitCancel()
	if !gw.WaitActiveCalls(waitCtx) {
		canceled := gw.CancelActiveCalls()
		logger.Warn("canceled calls that outlived the grace period", "count", canceled)
	}

	if err := <-listenErrCh; err != nil {
		return fmt.Errorf("serve: %w", err)
	}

	logger.Info("gateway stopped")
	return nil
}

func runMain(ctx context.Context, stderr io.Writer, deps gatewayDeps) int {
	if stderr == nil {
		stderr = os.Stderr
	}
	logger := slog.New(slog.NewTextHandler(stderr, nil))

	if err := dotenv.Load(".env"); err != nil {
		fmt.Fprintf(stderr, "callgate: %v\n", err)
		return 1
	}

	if err := runGateway(ctx, logger, deps); err != nil {
		fmt.Fprintf(stderr, "callgate: %v\n", err)
		return 1
	}
	return 0
}

func main() {
	os.Exit(runMain(context.Background(), os.Stderr, defaultGatewayDeps()))
}
