package audio

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidSegmentSize is returned by [Split] for a non-positive segment size.
var ErrInvalidSegmentSize = errors.New("audio: segment size must be positive")

// SegmentSize returns the number of bytes that hold d worth of audio in the
// given layout. The millisecond product is floor-divided by 1000.
func SegmentSize(channels, bytesPerSample, sampleRate int, d time.Duration) int {
	return channels * bytesPerSample * sampleRate * int(d.Milliseconds()) / 1000
}

// Split cuts data into consecutive, non-overlapping segments of size bytes.
// Only the last segment may be shorter. The segments alias data.
func Split(data []byte, size int) ([][]byte, error) {
	if size <= 0 {
		return nil, fmt.Errorf("%w (got %d)", ErrInvalidSegmentSize, size)
	}
	segments := make([][]byte, 0, (len(data)+size-1)/size)
	for start := 0; start < len(data); start += size {
		end := min(start+size, len(data))
		segments = append(segments, data[start:end:end])
	}
	return segments, nil
}
