package audio

import (
	"encoding/binary"
	"fmt"
)

// Convertible reports whether info describes integer PCM that [Canonicalize]
// can bring to canonical form without an external transcoder: 16-bit samples
// in one or two channels.
func (i WAVInfo) Convertible() bool {
	return i.AudioFormat == 1 &&
		i.BytesPerSample == CanonicalBytesPerSample &&
		(i.Channels == 1 || i.Channels == 2) &&
		i.SampleRate > 0
}

// Canonicalize downmixes and resamples a 16-bit PCM WAV in process and
// returns a canonical WAV at sampleRate.
func Canonicalize(info WAVInfo, sampleRate int) ([]byte, error) {
	if !info.Convertible() {
		return nil, fmt.Errorf("%w: cannot convert format %d, %d ch, %d bytes/sample in process",
			ErrInvalidWAV, info.AudioFormat, info.Channels, info.BytesPerSample)
	}
	pcm := info.Data[:info.FrameCount*info.Channels*info.BytesPerSample]
	if info.Channels == 2 {
		pcm = StereoToMono(pcm)
	}
	pcm = ResampleMono16(pcm, info.SampleRate, sampleRate)
	return NewWAV(pcm, CanonicalChannels, sampleRate), nil
}

// StereoToMono averages L+R per stereo frame (4 bytes) to produce mono output.
func StereoToMono(pcm []byte) []byte {
	frames := len(pcm) / 4
	out := make([]byte, frames*2)
	for i := range frames {
		l := int32(int16(binary.LittleEndian.Uint16(pcm[i*4:])))
		r := int32(int16(binary.LittleEndian.Uint16(pcm[i*4+2:])))
		binary.LittleEndian.PutUint16(out[i*2:], uint16(int16((l+r)/2)))
	}
	return out
}

// ResampleMono16 resamples 16-bit mono PCM from srcRate to dstRate using
// linear interpolation. Equal or non-positive rates return pcm unchanged.
func ResampleMono16(pcm []byte, srcRate, dstRate int) []byte {
	if srcRate <= 0 || dstRate <= 0 || srcRate == dstRate || len(pcm) < 2 {
		return pcm
	}
	srcSamples := len(pcm) / 2
	dstSamples := int(int64(srcSamples) * int64(dstRate) / int64(srcRate))
	if dstSamples == 0 {
		return nil
	}

	sample := func(i int) float64 {
		return float64(int16(binary.LittleEndian.Uint16(pcm[i*2:])))
	}

	out := make([]byte, dstSamples*2)
	ratio := float64(srcRate) / float64(dstRate)
	for i := range dstSamples {
		pos := float64(i) * ratio
		idx := int(pos)
		frac := pos - float64(idx)

		s0 := sample(idx)
		s1 := s0
		if idx+1 < srcSamples {
			s1 = sample(idx + 1)
		}
		v := int16(s0*(1-frac) + s1*frac)
		binary.LittleEndian.PutUint16(out[i*2:], uint16(v))
	}
	return out
}
