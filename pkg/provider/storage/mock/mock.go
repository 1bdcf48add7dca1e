// Package mock provides test doubles for the storage package interfaces.
package mock

import (
	"context"
	"os"
	"sync"

	"github.com/MrWong99/voxcanvas/pkg/provider/storage"
)

// UploadCall records a single invocation of Uploader.Upload.
type UploadCall struct {
	LocalPath string
	ObjectKey string

	// Content is the file content at call time; the caller may delete the
	// file as soon as Upload returns.
	Content []byte
}

// Uploader is a mock implementation of storage.Uploader.
type Uploader struct {
	mu sync.Mutex

	// BaseURL prefixes the object key in the returned URL.
	BaseURL string

	// Err, if non-nil, is returned as the error from Upload.
	Err error

	// Calls records every call to Upload.
	Calls []UploadCall
}

// Upload records the call and returns BaseURL + "/" + objectKey.
func (u *Uploader) Upload(_ context.Context, localPath, objectKey string) (string, error) {
	content, _ := os.ReadFile(localPath)

	u.mu.Lock()
	defer u.mu.Unlock()
	u.Calls = append(u.Calls, UploadCall{LocalPath: localPath, ObjectKey: objectKey, Content: content})
	if u.Err != nil {
		return "", u.Err
	}
	return u.BaseURL + "/" + objectKey, nil
}

// CallCount returns the number of recorded Upload calls. Thread-safe.
func (u *Uploader) CallCount() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return len(u.Calls)
}

// Ensure Uploader implements storage.Uploader at compile time.
var _ storage.Uploader = (*Uploader)(nil)
