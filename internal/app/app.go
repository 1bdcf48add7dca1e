// Package app wires the VoxCanvas subsystems into a running application.
//
// New builds the providers from configuration, wraps each in a circuit
// breaker and instrumentation, and assembles the HTTP router. Run serves
// HTTP until the context is cancelled, Shutdown drains it.
//
// For testing, inject provider doubles via functional options
// (WithRecognizer, WithUploader, WithGenerator). When an option is not
// provided, New creates the real implementation from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/MrWong99/voxcanvas/internal/api"
	"github.com/MrWong99/voxcanvas/internal/config"
	"github.com/MrWong99/voxcanvas/internal/health"
	"github.com/MrWong99/voxcanvas/internal/observe"
	"github.com/MrWong99/voxcanvas/internal/resilience"
	"github.com/MrWong99/voxcanvas/pkg/audio"
	"github.com/MrWong99/voxcanvas/pkg/provider/imagegen"
	"github.com/MrWong99/voxcanvas/pkg/provider/storage"
	"github.com/MrWong99/voxcanvas/pkg/provider/stt"
)

// Providers holds one interface value per collaborator, already wrapped in
// breakers and instrumentation.
type Providers struct {
	STT     stt.Provider
	Storage storage.Uploader
	Images  imagegen.Generator
}

// App owns the providers and the HTTP server.
type App struct {
	cfg     *config.Config
	metrics *observe.Metrics

	// Raw providers, injected or built in New.
	rawSTT    stt.Provider
	rawStore  storage.Uploader
	rawImages imagegen.Generator

	providers Providers
	breakers  []*resilience.CircuitBreaker
	health    *health.Handler
	handler   http.Handler
	server    *http.Server

	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithRecognizer injects a speech recognizer instead of the SAUC client.
func WithRecognizer(p stt.Provider) Option {
	return func(a *App) { a.rawSTT = p }
}

// WithUploader injects an uploader instead of the TOS client.
func WithUploader(u storage.Uploader) Option {
	return func(a *App) { a.rawStore = u }
}

// WithGenerator injects an image generator instead of the Ark client.
func WithGenerator(g imagegen.Generator) Option {
	return func(a *App) { a.rawImages = g }
}

// WithMetrics records into m instead of the instruments of the global
// meter provider.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// New creates an App. Providers whose credentials are missing are replaced
// by stand-ins that fail every call, so the server still starts and reports
// them through /readyz.
func New(cfg *config.Config, opts ...Option) (*App, error) {
	a := &App{cfg: cfg}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		m, err := observe.NewMetrics(otel.GetMeterProvider())
		if err != nil {
			return nil, fmt.Errorf("app: create metrics: %w", err)
		}
		a.metrics = m
	}

	if err := os.MkdirAll(cfg.Server.TempDir, 0o755); err != nil {
		return nil, fmt.Errorf("app: create temp dir: %w", err)
	}

	speechOK, storageOK, imagesOK := true, true, true
	if a.rawSTT == nil {
		a.rawSTT, speechOK = newRecognizer(cfg.Speech, a.metrics)
	}
	if a.rawStore == nil {
		a.rawStore, storageOK = newUploader(cfg.Storage)
	}
	if a.rawImages == nil {
		a.rawImages, imagesOK = newGenerator(cfg.Image)
	}

	in := instrumented{m: a.metrics}
	a.providers = Providers{
		STT: &instrumentedRecognizer{instrumented: in,
			next: resilience.NewRecognizer(a.rawSTT, a.newBreaker("stt", recognitionIsFailure))},
		Storage: &instrumentedUploader{instrumented: in,
			next: resilience.NewUploader(a.rawStore, a.newBreaker("storage", providerIsFailure))},
		Images: &instrumentedGenerator{instrumented: in,
			next: resilience.NewGenerator(a.rawImages, a.newBreaker("image", providerIsFailure))},
	}

	checkers := []health.Checker{
		health.Configured("speech", speechOK),
		health.Configured("storage", storageOK),
		health.Configured("image", imagesOK),
	}
	if speechOK {
		checkers = append(checkers, health.Binary("ffmpeg", a.ffmpegPath()))
	}
	for _, cb := range a.breakers {
		checkers = append(checkers, health.Breaker("breaker_"+cb.Name(), func() string {
			return cb.State().String()
		}))
	}
	a.health = health.New(checkers...)

	srv := api.New(api.Config{
		TempDir:        cfg.Server.TempDir,
		MaxUploadBytes: cfg.Server.MaxUploadBytes,
		KeyPrefix:      cfg.Storage.KeyPrefix,
		CORSOrigins:    cfg.Server.CORSOrigins,
	}, a.providers.STT, a.providers.Storage, a.providers.Images)
	a.handler = api.NewRouter(srv, a.metrics, a.health)
	a.server = &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           a.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	slog.Info("app initialised",
		"speech", speechOK,
		"storage", storageOK,
		"image", imagesOK,
		"temp_dir", cfg.Server.TempDir,
	)
	return a, nil
}

// newBreaker creates a breaker from the resilience config that reports its
// transitions to the log and to metrics.
func (a *App) newBreaker(name string, isFailure func(error) bool) *resilience.CircuitBreaker {
	rc := a.cfg.Resilience
	cb := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
		Name:         name,
		MaxFailures:  rc.MaxFailures,
		ResetTimeout: rc.ResetTimeout,
		HalfOpenMax:  rc.HalfOpenMax,
		IsFailure:    isFailure,
		OnStateChange: func(name string, from, to resilience.State) {
			slog.Warn("circuit breaker state change", "breaker", name, "from", from, "to", to)
			a.metrics.RecordBreakerTransition(context.Background(), name, to.String())
		},
	})
	a.breakers = append(a.breakers, cb)
	return cb
}

func (a *App) ffmpegPath() string {
	if a.cfg.Speech.FFmpegPath != "" {
		return a.cfg.Speech.FFmpegPath
	}
	return audio.FindFFmpeg()
}

// Providers returns the wrapped providers.
func (a *App) Providers() Providers { return a.providers }

// Handler returns the HTTP handler serving the API, health checks and metrics.
func (a *App) Handler() http.Handler { return a.handler }

// Run serves HTTP on the configured address until ctx is cancelled or the
// listener fails. On cancellation it returns ctx.Err(); call Shutdown
// afterwards to drain in-flight requests.
func (a *App) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		var err error
		if tls := a.cfg.Server.TLS; tls != nil {
			slog.Info("https server listening", "addr", a.server.Addr)
			err = a.server.ListenAndServeTLS(tls.CertFile, tls.KeyFile)
		} else {
			slog.Info("http server listening", "addr", a.server.Addr)
			err = a.server.ListenAndServe()
		}
		errCh <- err
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("app: serve: %w", err)
	}
}

// Shutdown stops accepting connections and waits for in-flight requests
// until ctx expires.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down")
		if err := a.server.Shutdown(ctx); err != nil {
			slog.Warn("http shutdown error", "err", err)
			shutdownErr = err
		}
		slog.Info("shutdown complete")
	})
	return shutdownErr
}
