// Package stt defines the Provider interface for speech-to-text backends.
//
// A provider takes a recorded audio file on local disk and returns the final
// transcript for it. Streaming, pacing and protocol details stay inside the
// implementation; callers only see the finished [Transcript] or an error.
//
// Implementations must be safe for concurrent use. Each Recognize call owns
// its own connection and releases it before returning.
package stt

import "context"

// Provider is the abstraction over any STT backend.
type Provider interface {
	// Recognize transcribes the audio file at path. The file may be in any
	// container the implementation can normalise; a WAV that already matches
	// the backend's canonical format is sent as-is.
	//
	// Returns an error if the audio cannot be prepared, the backend cannot be
	// reached, or the backend reports a failure. An empty Transcript.Text with
	// a nil error means the backend finished without recognising any speech.
	Recognize(ctx context.Context, path string) (Transcript, error)
}
