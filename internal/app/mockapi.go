package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/utafrali/campusfeed/internal/config"
	"github.com/utafrali/campusfeed/internal/mockapi"
	"github.com/utafrali/campusfeed/pkg/health"
	"github.com/utafrali/campusfeed/pkg/tracing"
)

// MockAPI wires together and runs the development backend.
type MockAPI struct {
	cfg            *config.MockAPIConfig
	logger         *slog.Logger
	server         *mockapi.Server
	httpServer     *http.Server
	shutdownTracer func(context.Context) error
}

// NewMockAPI creates the backend with all dependencies wired.
func NewMockAPI(cfg *config.MockAPIConfig, logger *slog.Logger, opts ...mockapi.Option) (*MockAPI, error) {
	shutdownTracer, err := tracing.Setup(context.Background(), tracing.Config{
		ServiceName:    "campusfeed-mockapi",
		ServiceVersion: Version,
		Environment:    cfg.Environment,
		Endpoint:       cfg.OTELEndpoint,
		SampleRate:     cfg.OTELSampleRate,
		Enabled:        cfg.OTELEnabled,
	})
	if err != nil {
		return nil, fmt.Errorf("init tracer: %w", err)
	}

	srv, err := mockapi.NewServer(cfg, logger, opts...)
	if err != nil {
		_ = shutdownTracer(context.Background())
		return nil, err
	}

	// Health checks.
	healthHandler := health.NewHandler()
	healthHandler.RegisterCritical("tokens", srv.CheckTokens)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:      mockapi.NewRouter(srv, healthHandler),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &MockAPI{
		cfg:            cfg,
		logger:         logger,
		server:         srv,
		httpServer:     httpServer,
		shutdownTracer: shutdownTracer,
	}, nil
}

// Handler returns the HTTP handler, for tests that serve it themselves.
func (a *MockAPI) Handler() http.Handler {
	return a.httpServer.Handler
}

// Run serves on the configured port and blocks until ctx is canceled.
func (a *MockAPI) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", a.httpServer.Addr, err)
	}
	return a.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is canceled, then shuts down.
func (a *MockAPI) Serve(ctx context.Context, ln net.Listener) error {
	errCh := make(chan error, 1)

	go func() {
		a.logger.Info("starting HTTP server", slog.String("addr", ln.Addr().String()))
		if err := a.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		a.logger.Info("shutdown signal received")
	case err := <-errCh:
		return err
	}

	return a.Shutdown()
}

// Shutdown gracefully stops the server and flushes pending spans.
func (a *MockAPI) Shutdown() error {
	a.logger.Info("shutting down application...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := a.httpServer.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("http server shutdown error", slog.String("error", err.Error()))
	}
	if err := a.shutdownTracer(shutdownCtx); err != nil {
		a.logger.Error("tracer shutdown error", slog.String("error", err.Error()))
	}

	a.logger.Info("application shutdown complete")
	return nil
}
