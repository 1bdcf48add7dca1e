// Package sauc is an [stt.Provider] for the Volcengine big-model streaming
// speech recognition service (SAUC).
//
// The service speaks a small binary protocol over a WebSocket: every frame
// starts with a 4-byte header followed by a big-endian sequence number, a
// payload length and a gzip-compressed payload. A recognition sends one
// configuration frame, then the audio in fixed-duration segments paced in real
// time, while concurrently reading result frames until the service marks the
// last one.
//
// Each [Client.Recognize] call owns one connection; the client itself holds
// only immutable configuration and is safe for concurrent use.
package sauc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/MrWong99/voxcanvas/pkg/audio"
	"github.com/MrWong99/voxcanvas/pkg/provider/stt"
)

const (
	DefaultEndpoint        = "wss://openspeech.bytedance.com/api/v3/sauc/bigmodel_nostream"
	DefaultResourceID      = "volc.bigasr.sauc.duration"
	DefaultUID             = "demo_uid"
	DefaultModelName       = "bigmodel"
	DefaultSegmentDuration = 200 * time.Millisecond
	DefaultConnectTimeout  = 10 * time.Second
	DefaultReadTimeout     = 30 * time.Second
	DefaultCallTimeout     = 5 * time.Minute
)

// Credentials authenticate the WebSocket upgrade.
type Credentials struct {
	AppKey     string
	AccessKey  string
	ResourceID string
}

// RequestOptions are the recognition switches sent in the configuration frame.
type RequestOptions struct {
	ModelName       string
	EnableITN       bool
	EnablePunc      bool
	EnableDDC       bool
	ShowUtterances  bool
	EnableNonstream bool
}

// DefaultRequestOptions returns inverse text normalisation, punctuation,
// disfluency removal and utterance detail switched on.
func DefaultRequestOptions() RequestOptions {
	return RequestOptions{
		ModelName:      DefaultModelName,
		EnableITN:      true,
		EnablePunc:     true,
		EnableDDC:      true,
		ShowUtterances: true,
	}
}

// Config is the complete, explicit configuration of a [Client]. Zero-valued
// durations, strings and rates are replaced by the package defaults; boolean
// request switches are taken as given.
type Config struct {
	Endpoint    string
	Credentials Credentials
	UID         string
	Request     RequestOptions

	// SampleRate is the canonical rate audio is normalised to.
	SampleRate int

	// SegmentDuration is the audio duration per frame and the pause between
	// frames.
	SegmentDuration time.Duration

	ConnectTimeout time.Duration
	ReadTimeout    time.Duration // per frame
	// CallTimeout bounds a Recognize call on top of the time spent pacing
	// audio out in real time, so long recordings are not cut off.
	CallTimeout time.Duration
}

func (c *Config) applyDefaults() {
	if c.Endpoint == "" {
		c.Endpoint = DefaultEndpoint
	}
	if c.Credentials.ResourceID == "" {
		c.Credentials.ResourceID = DefaultResourceID
	}
	if c.UID == "" {
		c.UID = DefaultUID
	}
	if c.Request.ModelName == "" {
		c.Request.ModelName = DefaultModelName
	}
	if c.SampleRate <= 0 {
		c.SampleRate = audio.DefaultSampleRate
	}
	if c.SegmentDuration <= 0 {
		c.SegmentDuration = DefaultSegmentDuration
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = DefaultConnectTimeout
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = DefaultReadTimeout
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = DefaultCallTimeout
	}
}

func (c Config) validate() error {
	var errs []error
	if c.Credentials.AppKey == "" {
		errs = append(errs, errors.New("app key is required"))
	}
	if c.Credentials.AccessKey == "" {
		errs = append(errs, errors.New("access key is required"))
	}
	if u, err := url.Parse(c.Endpoint); err != nil {
		errs = append(errs, fmt.Errorf("endpoint: %w", err))
	} else if u.Scheme != "ws" && u.Scheme != "wss" {
		errs = append(errs, fmt.Errorf("endpoint scheme %q must be ws or wss", u.Scheme))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("%w: %w", ErrConfiguration, err)
	}
	return nil
}

// Hooks observe a recognition as it runs. Every field is optional. Hooks are
// called from the session goroutines and must not block.
type Hooks struct {
	// FrameSent is called after each frame is written to the socket.
	FrameSent func(MessageType)

	// FrameReceived is called for every decoded server frame, the
	// configuration acknowledgement included.
	FrameReceived func(Response)

	// Warning is called for every frame whose payload was dropped or which
	// could not be decoded at all.
	Warning func(*DecodeWarning)
}

// Option is a functional option for configuring a [Client].
type Option func(*Client)

// WithLogger sets the logger. Defaults to [slog.Default].
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.log = l
		}
	}
}

// WithHooks installs observation hooks.
func WithHooks(h Hooks) Option {
	return func(c *Client) { c.hooks = h }
}

// WithWarningHandler sets only the Warning hook.
func WithWarningHandler(fn func(*DecodeWarning)) Option {
	return func(c *Client) { c.hooks.Warning = fn }
}

// WithPreprocessor replaces the audio preprocessor. The default targets
// Config.SampleRate and locates ffmpeg automatically.
func WithPreprocessor(p *audio.Preprocessor) Option {
	return func(c *Client) { c.pre = p }
}

// Client implements [stt.Provider] against the SAUC service.
type Client struct {
	cfg   Config
	log   *slog.Logger
	hooks Hooks
	pre   *audio.Preprocessor

	// pacerDone, if set, runs when a session's pacer goroutine returns.
	pacerDone func()
}

// New validates cfg and creates a Client. Missing credentials yield
// [ErrConfiguration].
func New(cfg Config, opts ...Option) (*Client, error) {
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	c := &Client{cfg: cfg, log: slog.Default()}
	for _, o := range opts {
		o(c)
	}
	if c.pre == nil {
		c.pre = audio.NewPreprocessor(audio.WithTargetSampleRate(cfg.SampleRate))
	}
	return c, nil
}

// Config returns the effective configuration, defaults applied.
func (c *Client) Config() Config { return c.cfg }

// Recognize normalises the audio at path, streams it to the service and
// returns the aggregated transcript. The connection is closed before
// Recognize returns, whatever the outcome.
func (c *Client) Recognize(ctx context.Context, path string) (stt.Transcript, error) {
	start := time.Now()

	prepCtx, cancelPrep := context.WithTimeout(ctx, c.cfg.CallTimeout)
	content, err := c.pre.EnsureCanonical(prepCtx, path)
	cancelPrep()
	if err != nil {
		return stt.Transcript{}, fmt.Errorf("sauc: prepare audio: %w", err)
	}
	info, err := audio.ReadWAVInfo(content)
	if err != nil {
		return stt.Transcript{}, fmt.Errorf("sauc: prepare audio: %w", err)
	}
	if len(info.Data) == 0 {
		return stt.Transcript{}, fmt.Errorf("sauc: prepare audio: %w: no samples", audio.ErrInvalidWAV)
	}

	// The whole container is streamed, header included; the service is told
	// the format is wav.
	size := audio.SegmentSize(info.Channels, info.BytesPerSample, info.SampleRate, c.cfg.SegmentDuration)
	segments, err := audio.Split(content, size)
	if err != nil {
		return stt.Transcript{}, fmt.Errorf("sauc: plan segments: %w", err)
	}

	pacing := time.Duration(len(segments)) * c.cfg.SegmentDuration
	deadline := pacing + c.cfg.CallTimeout
	ctx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	log := c.log.With("path", path)
	log.Info("sauc: recognition starting",
		"bytes", len(content),
		"segment_bytes", size,
		"segments", len(segments),
		"pacing", pacing,
		"deadline", deadline,
	)

	s := newSession(c.cfg, log, c.hooks)
	s.pacerDone = c.pacerDone
	defer s.close()

	if err := s.connect(ctx); err != nil {
		return stt.Transcript{}, err
	}
	if err := s.sendConfig(ctx); err != nil {
		return stt.Transcript{}, err
	}

	var b transcriptBuilder
	if err := s.stream(ctx, segments, b.add); err != nil {
		return stt.Transcript{}, err
	}

	tr := b.transcript()
	log.Info("sauc: recognition complete",
		"duration", time.Since(start),
		"responses", tr.Responses,
		"degraded_frames", tr.DegradedFrames,
		"text_len", len(tr.Text),
	)
	return tr, nil
}

// Ensure Client implements stt.Provider at compile time.
var _ stt.Provider = (*Client)(nil)
