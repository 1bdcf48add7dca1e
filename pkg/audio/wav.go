// Package audio prepares recordings for the streaming recognizer: it inspects
// RIFF/WAVE containers, normalises anything else to canonical PCM through an
// external transcoder, and slices the result into time-based segments.
//
// Canonical PCM is mono, 16-bit signed little-endian audio at a fixed sample
// rate (16 kHz unless configured otherwise).
package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	// wavHeaderSize is the size of the smallest well-formed PCM WAV header.
	wavHeaderSize = 44

	// firstSubchunkOffset is where subchunk scanning starts; the canonical fmt
	// chunk occupies bytes 12–35.
	firstSubchunkOffset = 36

	// CanonicalChannels and CanonicalBytesPerSample describe the only layout
	// the recognition service accepts without transcoding.
	CanonicalChannels       = 1
	CanonicalBytesPerSample = 2

	// DefaultSampleRate is the canonical sample rate in Hz.
	DefaultSampleRate = 16000
)

// ErrInvalidWAV is returned when a buffer is not a usable RIFF/WAVE container.
var ErrInvalidWAV = errors.New("audio: invalid WAV container")

// WAVInfo is the format metadata of a WAV buffer plus a view of its sample
// data. Data aliases the source buffer and is not copied.
type WAVInfo struct {
	// AudioFormat is the fmt chunk format tag (1 = integer PCM).
	AudioFormat int

	Channels       int
	BytesPerSample int
	SampleRate     int

	// FrameCount is the number of complete sample frames in Data.
	FrameCount int

	// Data is the payload of the data subchunk, clamped to the buffer length.
	Data []byte
}

// IsCanonical reports whether the audio is mono 16-bit PCM at sampleRate.
func (i WAVInfo) IsCanonical(sampleRate int) bool {
	return i.Channels == CanonicalChannels &&
		i.BytesPerSample == CanonicalBytesPerSample &&
		i.SampleRate == sampleRate
}

// IsWAV reports whether data is long enough to hold a WAV header and carries
// the RIFF and WAVE magic values.
func IsWAV(data []byte) bool {
	return len(data) >= wavHeaderSize &&
		string(data[0:4]) == "RIFF" &&
		string(data[8:12]) == "WAVE"
}

// ReadWAVInfo parses the fmt fields at their fixed offsets and scans the
// subchunks that follow until it finds the data subchunk.
func ReadWAVInfo(data []byte) (WAVInfo, error) {
	if len(data) < wavHeaderSize {
		return WAVInfo{}, fmt.Errorf("%w: %d bytes is shorter than the %d byte header", ErrInvalidWAV, len(data), wavHeaderSize)
	}
	if string(data[0:4]) != "RIFF" {
		return WAVInfo{}, fmt.Errorf("%w: missing RIFF magic", ErrInvalidWAV)
	}
	if string(data[8:12]) != "WAVE" {
		return WAVInfo{}, fmt.Errorf("%w: missing WAVE magic", ErrInvalidWAV)
	}

	le := binary.LittleEndian
	info := WAVInfo{
		AudioFormat:    int(le.Uint16(data[20:22])),
		Channels:       int(le.Uint16(data[22:24])),
		SampleRate:     int(le.Uint32(data[24:28])),
		BytesPerSample: int(le.Uint16(data[34:36])) / 8,
	}

	pos := firstSubchunkOffset
	for pos+8 <= len(data) {
		id := string(data[pos : pos+4])
		size := int(le.Uint32(data[pos+4 : pos+8]))
		body := pos + 8

		if id == "data" {
			// Streamed WAVs (e.g. ffmpeg writing to a pipe) carry a
			// placeholder size, so trust the buffer over the header.
			end := body + size
			if end > len(data) || end < body {
				end = len(data)
			}
			info.Data = data[body:end]
			if frame := info.Channels * info.BytesPerSample; frame > 0 {
				info.FrameCount = len(info.Data) / frame
			}
			return info, nil
		}

		// RIFF chunks are word aligned.
		pos = body + size + size%2
	}
	return WAVInfo{}, fmt.Errorf("%w: no data subchunk found", ErrInvalidWAV)
}

// NewWAV wraps 16-bit little-endian PCM samples in a minimal RIFF/WAVE
// container.
func NewWAV(pcm []byte, channels, sampleRate int) []byte {
	const bitsPerSample = 16
	blockAlign := channels * bitsPerSample / 8

	buf := make([]byte, wavHeaderSize+len(pcm))
	le := binary.LittleEndian
	copy(buf[0:4], "RIFF")
	le.PutUint32(buf[4:8], uint32(36+len(pcm)))
	copy(buf[8:12], "WAVE")
	copy(buf[12:16], "fmt ")
	le.PutUint32(buf[16:20], 16)
	le.PutUint16(buf[20:22], 1)
	le.PutUint16(buf[22:24], uint16(channels))
	le.PutUint32(buf[24:28], uint32(sampleRate))
	le.PutUint32(buf[28:32], uint32(sampleRate*blockAlign))
	le.PutUint16(buf[32:34], uint16(blockAlign))
	le.PutUint16(buf[34:36], bitsPerSample)
	copy(buf[36:40], "data")
	le.PutUint32(buf[40:44], uint32(len(pcm)))
	copy(buf[44:], pcm)
	return buf
}
