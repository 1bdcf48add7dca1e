package resilience

import (
	"context"

	"github.com/MrWong99/voxcanvas/pkg/provider/imagegen"
	"github.com/MrWong99/voxcanvas/pkg/provider/storage"
	"github.com/MrWong99/voxcanvas/pkg/provider/stt"
)

// Recognizer implements [stt.Provider] by running every call through a
// circuit breaker.
type Recognizer struct {
	next stt.Provider
	cb   *CircuitBreaker
}

// Compile-time interface assertion.
var _ stt.Provider = (*Recognizer)(nil)

// NewRecognizer wraps next with cb.
func NewRecognizer(next stt.Provider, cb *CircuitBreaker) *Recognizer {
	return &Recognizer{next: next, cb: cb}
}

// Recognize implements [stt.Provider].
func (r *Recognizer) Recognize(ctx context.Context, path string) (stt.Transcript, error) {
	return Call(r.cb, func() (stt.Transcript, error) {
		return r.next.Recognize(ctx, path)
	})
}

// Uploader implements [storage.Uploader] behind a circuit breaker.
type Uploader struct {
	next storage.Uploader
	cb   *CircuitBreaker
}

// Compile-time interface assertion.
var _ storage.Uploader = (*Uploader)(nil)

// NewUploader wraps next with cb.
func NewUploader(next storage.Uploader, cb *CircuitBreaker) *Uploader {
	return &Uploader{next: next, cb: cb}
}

// Upload implements [storage.Uploader].
func (u *Uploader) Upload(ctx context.Context, localPath, objectKey string) (string, error) {
	return Call(u.cb, func() (string, error) {
		return u.next.Upload(ctx, localPath, objectKey)
	})
}

// Generator implements [imagegen.Generator] behind a circuit breaker.
type Generator struct {
	next imagegen.Generator
	cb   *CircuitBreaker
}

// Compile-time interface assertion.
var _ imagegen.Generator = (*Generator)(nil)

// NewGenerator wraps next with cb.
func NewGenerator(next imagegen.Generator, cb *CircuitBreaker) *Generator {
	return &Generator{next: next, cb: cb}
}

// Generate implements [imagegen.Generator].
func (g *Generator) Generate(ctx context.Context, prompt, sourceImageURL string) (string, error) {
	return Call(g.cb, func() (string, error) {
		return g.next.Generate(ctx, prompt, sourceImageURL)
	})
}
