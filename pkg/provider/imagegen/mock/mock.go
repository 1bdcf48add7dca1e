// Package mock provides test doubles for the imagegen package interfaces.
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/voxcanvas/pkg/provider/imagegen"
)

// GenerateCall records a single invocation of Generator.Generate.
type GenerateCall struct {
	Prompt         string
	SourceImageURL string
}

// Generator is a mock implementation of imagegen.Generator.
type Generator struct {
	mu sync.Mutex

	// URL is returned by Generate when Err is nil.
	URL string

	// Err, if non-nil, is returned as the error from Generate.
	Err error

	// Calls records every call to Generate.
	Calls []GenerateCall
}

// Generate records the call and returns the configured result.
func (g *Generator) Generate(_ context.Context, prompt, sourceImageURL string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.Calls = append(g.Calls, GenerateCall{Prompt: prompt, SourceImageURL: sourceImageURL})
	if g.Err != nil {
		return "", g.Err
	}
	return g.URL, nil
}

// CallCount returns the number of recorded Generate calls. Thread-safe.
func (g *Generator) CallCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.Calls)
}

// Ensure Generator implements imagegen.Generator at compile time.
var _ imagegen.Generator = (*Generator)(nil)
