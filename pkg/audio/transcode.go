package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"strings"
)

// ffmpegCandidates are tried in order before falling back to $PATH.
var ffmpegCandidates = []string{
	"/opt/homebrew/bin/ffmpeg",
	"/usr/local/bin/ffmpeg",
}

// TranscodeError reports a failed external transcoder run. It carries the
// process exit code (-1 when the process never ran) and its stderr output.
type TranscodeError struct {
	Path     string
	ExitCode int
	Stderr   string
	Err      error
}

func (e *TranscodeError) Error() string {
	msg := strings.TrimSpace(e.Stderr)
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	return fmt.Sprintf("audio: transcode %q failed (exit code %d): %s", e.Path, e.ExitCode, msg)
}

func (e *TranscodeError) Unwrap() error { return e.Err }

// FindFFmpeg returns the ffmpeg binary to use: the first existing well-known
// install location, otherwise the bare name for a $PATH lookup.
func FindFFmpeg() string {
	for _, p := range ffmpegCandidates {
		if st, err := os.Stat(p); err == nil && !st.IsDir() {
			return p
		}
	}
	return "ffmpeg"
}

// PreprocessorOption configures a [Preprocessor].
type PreprocessorOption func(*Preprocessor)

// WithFFmpegPath overrides the transcoder binary.
func WithFFmpegPath(path string) PreprocessorOption {
	return func(p *Preprocessor) {
		if path != "" {
			p.ffmpegPath = path
		}
	}
}

// WithTargetSampleRate sets the canonical sample rate. Defaults to 16000.
func WithTargetSampleRate(rate int) PreprocessorOption {
	return func(p *Preprocessor) {
		if rate > 0 {
			p.sampleRate = rate
		}
	}
}

// Preprocessor turns an audio file of any format ffmpeg understands into a
// canonical PCM WAV buffer. It is safe for concurrent use.
type Preprocessor struct {
	ffmpegPath string
	sampleRate int
}

// NewPreprocessor creates a Preprocessor. Without options it targets 16 kHz
// and locates ffmpeg with [FindFFmpeg].
func NewPreprocessor(opts ...PreprocessorOption) *Preprocessor {
	p := &Preprocessor{sampleRate: DefaultSampleRate}
	for _, o := range opts {
		o(p)
	}
	if p.ffmpegPath == "" {
		p.ffmpegPath = FindFFmpeg()
	}
	return p
}

// SampleRate returns the canonical sample rate this preprocessor produces.
func (p *Preprocessor) SampleRate() int { return p.sampleRate }

// FFmpegPath returns the transcoder binary this preprocessor invokes.
func (p *Preprocessor) FFmpegPath() string { return p.ffmpegPath }

// EnsureCanonical reads the file at path and returns it unchanged when it is
// already a canonical WAV. Anything else, including WAVs whose header cannot
// be parsed, is sent through the transcoder. When the transcoder cannot be
// started at all, 16-bit PCM WAVs are converted in process instead.
func (p *Preprocessor) EnsureCanonical(ctx context.Context, path string) ([]byte, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("audio: read %q: %w", path, err)
	}
	slog.Debug("audio: read input", "path", path, "bytes", len(content))

	var info WAVInfo
	parsed := false
	if IsWAV(content) {
		var err error
		info, err = ReadWAVInfo(content)
		switch {
		case err != nil:
			slog.Warn("audio: unreadable WAV header, transcoding", "path", path, "err", err)
		case info.IsCanonical(p.sampleRate):
			slog.Debug("audio: input already canonical", "path", path)
			return content, nil
		default:
			parsed = true
			slog.Debug("audio: input needs transcoding",
				"path", path,
				"channels", info.Channels,
				"bytes_per_sample", info.BytesPerSample,
				"sample_rate", info.SampleRate,
			)
		}
	}

	out, err := p.Transcode(ctx, path)
	var te *TranscodeError
	if err != nil && parsed && info.Convertible() && ctx.Err() == nil &&
		errors.As(err, &te) && te.ExitCode == -1 {
		// No transcoder on this host; plain PCM can still be converted here.
		slog.Warn("audio: transcoder unavailable, converting in process", "path", path, "err", err)
		return Canonicalize(info, p.sampleRate)
	}
	return out, err
}

// Transcode runs ffmpeg to convert path into a mono 16-bit WAV at the target
// sample rate and returns the WAV bytes written to stdout.
func (p *Preprocessor) Transcode(ctx context.Context, path string) ([]byte, error) {
	args := []string{
		"-i", path,
		"-acodec", "pcm_s16le",
		"-ac", strconv.Itoa(CanonicalChannels),
		"-ar", strconv.Itoa(p.sampleRate),
		"-f", "wav",
		"-",
	}
	cmd := exec.CommandContext(ctx, p.ffmpegPath, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	slog.Info("audio: transcoding", "cmd", p.ffmpegPath+" "+strings.Join(args, " "))
	if err := cmd.Run(); err != nil {
		te := &TranscodeError{Path: path, ExitCode: -1, Stderr: stderr.String(), Err: err}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			te.ExitCode = exitErr.ExitCode()
		}
		slog.Error("audio: transcode failed",
			"path", path,
			"exit_code", te.ExitCode,
			"stderr", te.Stderr,
		)
		return nil, te
	}

	slog.Info("audio: transcode complete", "path", path, "bytes", stdout.Len())
	return stdout.Bytes(), nil
}
