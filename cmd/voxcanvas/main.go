// Command voxcanvas serves the VoxCanvas HTTP API: speech recognition of
// uploaded recordings, object storage uploads and image editing.
//
// With -transcribe it instead recognizes a single local file, prints the
// transcript and exits.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/MrWong99/voxcanvas/internal/app"
	"github.com/MrWong99/voxcanvas/internal/config"
	"github.com/MrWong99/voxcanvas/internal/observe"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "", "path to the YAML configuration file (optional; environment variables are always read)")
	transcribe := flag.String("transcribe", "", "recognize this audio file, print the transcript and exit")
	verbose := flag.Bool("v", false, "with -transcribe, also print utterance timings")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "voxcanvas: config file %q not found\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "voxcanvas: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	slog.SetDefault(newLogger(cfg.Server.LogLevel))

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	shutdownTelemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    "voxcanvas",
		ServiceVersion: version,
		Traces:         string(cfg.Telemetry.Traces),
		SampleRatio:    *cfg.Telemetry.SampleRatio,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		if err := shutdownTelemetry(context.Background()); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	application, err := app.New(cfg)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	if *transcribe != "" {
		return transcribeFile(ctx, application, *transcribe, *verbose)
	}

	slog.Info("voxcanvas starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	slog.Info("shutdown signal received, stopping…")
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// transcribeFile runs one recognition and prints the result to stdout.
func transcribeFile(ctx context.Context, a *app.App, path string, verbose bool) int {
	t, err := a.Providers().STT.Recognize(ctx, path)
	if err != nil {
		slog.Error("recognition failed", "path", path, "err", err)
		return 1
	}
	fmt.Println(t.Text)
	if verbose {
		for _, u := range t.Utterances {
			fmt.Printf("[%8s - %8s] %s\n", u.Start, u.End, u.Text)
		}
		fmt.Fprintf(os.Stderr, "audio %s, %d responses, %d degraded frames\n",
			t.AudioDuration, t.Responses, t.DegradedFrames)
	}
	return 0
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
