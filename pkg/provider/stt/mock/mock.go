// Package mock provides test doubles for the stt package interfaces.
//
// Example:
//
//	p := &mock.Provider{Result: stt.Transcript{Text: "hello"}}
//	tr, _ := p.Recognize(ctx, "/tmp/clip.wav")
//	_ = p.Calls[0].Path // "/tmp/clip.wav"
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/voxcanvas/pkg/provider/stt"
)

// RecognizeCall records a single invocation of Provider.Recognize.
type RecognizeCall struct {
	// Path is the audio path passed to Recognize.
	Path string
}

// Provider is a mock implementation of stt.Provider.
type Provider struct {
	mu sync.Mutex

	// Result is returned by Recognize when Err is nil.
	Result stt.Transcript

	// Err, if non-nil, is returned as the error from Recognize.
	Err error

	// RecognizeFunc, if set, replaces Result/Err entirely.
	RecognizeFunc func(ctx context.Context, path string) (stt.Transcript, error)

	// Calls records every call to Recognize.
	Calls []RecognizeCall
}

// Recognize records the call and returns the configured result.
func (p *Provider) Recognize(ctx context.Context, path string) (stt.Transcript, error) {
	p.mu.Lock()
	p.Calls = append(p.Calls, RecognizeCall{Path: path})
	fn, res, err := p.RecognizeFunc, p.Result, p.Err
	p.mu.Unlock()

	if fn != nil {
		return fn(ctx, path)
	}
	if err != nil {
		return stt.Transcript{}, err
	}
	return res, nil
}

// CallCount returns the number of recorded Recognize calls. Thread-safe.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Calls)
}

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Calls = nil
}

// Ensure Provider implements stt.Provider at compile time.
var _ stt.Provider = (*Provider)(nil)
