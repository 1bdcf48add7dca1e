package stt

import "time"

// Transcript is the final result of a recognition call.
type Transcript struct {
	// Text is the recognised speech. When the backend reports several
	// results, the latest one wins.
	Text string

	// Utterances holds per-utterance detail from the last result that carried
	// any. May be nil.
	Utterances []Utterance

	// AudioDuration is the duration of the audio as measured by the backend,
	// zero if not reported.
	AudioDuration time.Duration

	// Responses counts the server frames consumed while streaming.
	Responses int

	// DegradedFrames counts frames whose payload could not be decoded and was
	// skipped.
	DegradedFrames int
}

// Utterance is one segmented piece of recognised speech.
type Utterance struct {
	Text  string
	Start time.Duration
	End   time.Duration

	// Definite is true once the backend will no longer revise this utterance.
	Definite bool
}
