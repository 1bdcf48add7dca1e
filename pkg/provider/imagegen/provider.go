// Package imagegen defines the Generator interface for text-to-image and
// image-editing backends.
package imagegen

import (
	"context"
	"errors"
)

var (
	// ErrNotConfigured is returned when the backend has no API key.
	ErrNotConfigured = errors.New("imagegen: generator not configured")

	// ErrNoImage is returned when the backend answered without an image URL.
	ErrNoImage = errors.New("imagegen: response contained no image URL")
)

// Generator produces an image from a prompt.
type Generator interface {
	// Generate returns the URL of an image generated from prompt. When
	// sourceImageURL is non-empty the image is an edit of that source.
	Generate(ctx context.Context, prompt, sourceImageURL string) (string, error)
}
