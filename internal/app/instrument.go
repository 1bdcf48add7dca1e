package app

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/voxcanvas/internal/observe"
	"github.com/MrWong99/voxcanvas/internal/resilience"
	"github.com/MrWong99/voxcanvas/pkg/audio"
	"github.com/MrWong99/voxcanvas/pkg/provider/imagegen"
	"github.com/MrWong99/voxcanvas/pkg/provider/storage"
	"github.com/MrWong99/voxcanvas/pkg/provider/stt"
	"github.com/MrWong99/voxcanvas/pkg/provider/stt/sauc"
)

// Provider labels used on metrics and spans.
const (
	providerSAUC = "sauc"
	providerTOS  = "tos"
	providerArk  = "ark"
)

// instrumented wraps every provider call in a span and records its outcome.
type instrumented struct {
	m *observe.Metrics
}

func (in instrumented) start(ctx context.Context, op, provider string, attrs ...attribute.KeyValue) (context.Context, trace.Span, time.Time) {
	ctx, span := observe.StartClientSpan(ctx, op, provider, attrs...)
	return ctx, span, time.Now()
}

func (in instrumented) finish(ctx context.Context, span trace.Span, provider, kind string, err error) {
	defer observe.EndSpan(span, err)
	if err != nil {
		in.m.RecordProviderRequest(ctx, provider, kind, "error")
		in.m.RecordProviderError(ctx, provider, kind)
		observe.Logger(ctx).Warn("provider call failed", "provider", provider, "kind", kind, "err", err)
		return
	}
	in.m.RecordProviderRequest(ctx, provider, kind, "ok")
}

type instrumentedRecognizer struct {
	instrumented
	next stt.Provider
}

var _ stt.Provider = (*instrumentedRecognizer)(nil)

func (r *instrumentedRecognizer) Recognize(ctx context.Context, path string) (stt.Transcript, error) {
	ctx, span, start := r.start(ctx, "stt.recognize", providerSAUC)
	r.m.ActiveRecognitions.Add(ctx, 1)
	defer r.m.ActiveRecognitions.Add(ctx, -1)

	t, err := r.next.Recognize(ctx, path)
	r.m.RecognitionDuration.Record(ctx, time.Since(start).Seconds())
	if err == nil {
		span.SetAttributes(
			attribute.Int("stt.responses", t.Responses),
			attribute.Int("stt.degraded_frames", t.DegradedFrames),
			attribute.Int("stt.text_length", len(t.Text)),
		)
	}
	r.finish(ctx, span, providerSAUC, "stt", err)
	return t, err
}

type instrumentedUploader struct {
	instrumented
	next storage.Uploader
}

var _ storage.Uploader = (*instrumentedUploader)(nil)

func (u *instrumentedUploader) Upload(ctx context.Context, localPath, objectKey string) (string, error) {
	ctx, span, start := u.start(ctx, "storage.upload", providerTOS, attribute.String("storage.key", objectKey))

	url, err := u.next.Upload(ctx, localPath, objectKey)
	u.m.UploadDuration.Record(ctx, time.Since(start).Seconds())
	u.finish(ctx, span, providerTOS, "storage", err)
	return url, err
}

type instrumentedGenerator struct {
	instrumented
	next imagegen.Generator
}

var _ imagegen.Generator = (*instrumentedGenerator)(nil)

func (g *instrumentedGenerator) Generate(ctx context.Context, prompt, sourceImageURL string) (string, error) {
	ctx, span, start := g.start(ctx, "image.generate", providerArk, attribute.Bool("image.edit", sourceImageURL != ""))

	url, err := g.next.Generate(ctx, prompt, sourceImageURL)
	g.m.ImageDuration.Record(ctx, time.Since(start).Seconds())
	g.finish(ctx, span, providerArk, "image", err)
	return url, err
}

// providerIsFailure keeps a missing configuration from tripping a breaker.
func providerIsFailure(err error) bool {
	if errors.Is(err, sauc.ErrConfiguration) ||
		errors.Is(err, storage.ErrNotConfigured) ||
		errors.Is(err, imagegen.ErrNotConfigured) {
		return false
	}
	return resilience.DefaultIsFailure(err)
}

// recognitionIsFailure also ignores problems with the caller's audio.
func recognitionIsFailure(err error) bool {
	var te *audio.TranscodeError
	if errors.Is(err, audio.ErrInvalidWAV) ||
		errors.Is(err, audio.ErrInvalidSegmentSize) ||
		errors.As(err, &te) {
		return false
	}
	return providerIsFailure(err)
}
