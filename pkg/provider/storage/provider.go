// Package storage defines the Uploader interface for object storage backends.
//
// Uploaded objects are expected to be publicly readable: the returned URL is
// handed to other services (the image generator fetches source images from
// it) without further signing.
package storage

import (
	"context"
	"errors"
)

// ErrNotConfigured is returned when the backend lacks credentials or a bucket.
var ErrNotConfigured = errors.New("storage: uploader not configured")

// Uploader stores local files under an object key.
type Uploader interface {
	// Upload copies the file at localPath to objectKey and returns the public
	// URL of the stored object.
	Upload(ctx context.Context, localPath, objectKey string) (string, error)
}
