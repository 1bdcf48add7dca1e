package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults for values left empty in the file and the environment.
const (
	DefaultListenAddr      = ":8000"
	DefaultMaxUploadBytes  = 32 << 20
	DefaultShutdownTimeout = 10 * time.Second

	DefaultSpeechEndpoint  = "wss://openspeech.bytedance.com/api/v3/sauc/bigmodel_nostream"
	DefaultResourceID      = "volc.bigasr.sauc.duration"
	DefaultUID             = "demo_uid"
	DefaultModelName       = "bigmodel"
	DefaultSampleRate      = 16000
	DefaultSegmentDuration = 200 * time.Millisecond
	DefaultConnectTimeout  = 10 * time.Second
	DefaultReadTimeout     = 30 * time.Second
	DefaultCallTimeout     = 5 * time.Minute

	DefaultStorageEndpoint = "tos-cn-beijing.volces.com"
	DefaultStorageRegion   = "cn-beijing"
	DefaultKeyPrefix       = "uploads/"

	DefaultImageBaseURL = "https://ark.cn-beijing.volces.com/api/v3"
	DefaultImageModel   = "doubao-seedream-4-5-251128"
	DefaultImageSize    = "2K"
	DefaultImageTimeout = 2 * time.Minute

	DefaultMaxFailures  = 5
	DefaultResetTimeout = 30 * time.Second
	DefaultHalfOpenMax  = 1
)

// envBindings maps environment variables onto config fields. A set variable
// overrides the file value.
var envBindings = []struct {
	name  string
	field func(*Config) *string
}{
	{"VOICE_APP_KEY", func(c *Config) *string { return &c.Speech.AppKey }},
	{"VOICE_ACCESS_KEY", func(c *Config) *string { return &c.Speech.AccessKey }},
	{"TOS_ACCESS_KEY", func(c *Config) *string { return &c.Storage.AccessKey }},
	{"TOS_SECRET_KEY", func(c *Config) *string { return &c.Storage.SecretKey }},
	{"TOS_ENDPOINT", func(c *Config) *string { return &c.Storage.Endpoint }},
	{"TOS_REGION", func(c *Config) *string { return &c.Storage.Region }},
	{"TOS_BUCKET", func(c *Config) *string { return &c.Storage.Bucket }},
	{"ARK_API_KEY", func(c *Config) *string { return &c.Image.APIKey }},
}

// Load builds the configuration from the YAML file at path (skipped when path
// is empty), the environment, and defaults, then validates it.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("config: open %q: %w", path, err)
		}
		defer f.Close()
		if cfg, err = decode(f); err != nil {
			return nil, fmt.Errorf("config: parse %q: %w", path, err)
		}
	}
	ApplyEnv(cfg, os.LookupEnv)
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults and validates
// the result. The environment is not consulted.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg, err := decode(r)
	if err != nil {
		return nil, err
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decode(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	return cfg, nil
}

// ApplyEnv overrides secrets and storage coordinates from the environment.
// lookup is usually [os.LookupEnv].
func ApplyEnv(cfg *Config, lookup func(string) (string, bool)) {
	for _, b := range envBindings {
		if v, ok := lookup(b.name); ok && v != "" {
			*b.field(cfg) = v
		}
	}
}

// ApplyDefaults fills every empty field with its default.
func ApplyDefaults(cfg *Config) {
	s := &cfg.Server
	setDefault(&s.ListenAddr, DefaultListenAddr)
	setDefault(&s.LogLevel, LogInfo)
	setDefault(&s.TempDir, os.TempDir())
	setDefault(&s.MaxUploadBytes, DefaultMaxUploadBytes)
	setDefault(&s.ShutdownTimeout, DefaultShutdownTimeout)
	if len(s.CORSOrigins) == 0 {
		s.CORSOrigins = []string{"*"}
	}

	sp := &cfg.Speech
	setDefault(&sp.Endpoint, DefaultSpeechEndpoint)
	setDefault(&sp.ResourceID, DefaultResourceID)
	setDefault(&sp.UID, DefaultUID)
	setDefault(&sp.ModelName, DefaultModelName)
	setDefault(&sp.SampleRate, DefaultSampleRate)
	setDefault(&sp.SegmentDuration, DefaultSegmentDuration)
	setDefault(&sp.ConnectTimeout, DefaultConnectTimeout)
	setDefault(&sp.ReadTimeout, DefaultReadTimeout)
	setDefault(&sp.CallTimeout, DefaultCallTimeout)
	setDefaultPtr(&sp.EnableITN, true)
	setDefaultPtr(&sp.EnablePunc, true)
	setDefaultPtr(&sp.EnableDDC, true)
	setDefaultPtr(&sp.ShowUtterances, true)
	setDefaultPtr(&sp.EnableNonstream, false)

	st := &cfg.Storage
	setDefault(&st.Endpoint, DefaultStorageEndpoint)
	setDefault(&st.Region, DefaultStorageRegion)
	setDefault(&st.KeyPrefix, DefaultKeyPrefix)

	im := &cfg.Image
	setDefault(&im.BaseURL, DefaultImageBaseURL)
	setDefault(&im.Model, DefaultImageModel)
	setDefault(&im.Size, DefaultImageSize)
	setDefault(&im.Timeout, DefaultImageTimeout)
	setDefaultPtr(&im.Watermark, true)
	setDefaultPtr(&im.MaxRetries, 2)

	r := &cfg.Resilience
	setDefault(&r.MaxFailures, DefaultMaxFailures)
	setDefault(&r.ResetTimeout, DefaultResetTimeout)
	setDefault(&r.HalfOpenMax, DefaultHalfOpenMax)

	tm := &cfg.Telemetry
	setDefault(&tm.Traces, TracesNone)
	setDefaultPtr(&tm.SampleRatio, 1.0)
}

func setDefault[T comparable](field *T, v T) {
	var zero T
	if *field == zero {
		*field = v
	}
}

func setDefaultPtr[T any](field **T, v T) {
	if *field == nil {
		*field = &v
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found. Missing
// credentials are only logged: the affected endpoint reports itself as not
// configured at request time.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.MaxUploadBytes < 0 {
		errs = append(errs, fmt.Errorf("server.max_upload_bytes %d must not be negative", cfg.Server.MaxUploadBytes))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}

	// Speech
	sp := cfg.Speech
	if sp.Endpoint != "" {
		if u, err := url.Parse(sp.Endpoint); err != nil || (u.Scheme != "ws" && u.Scheme != "wss") {
			errs = append(errs, fmt.Errorf("speech.endpoint %q must be a ws:// or wss:// URL", sp.Endpoint))
		}
	}
	if sp.SampleRate < 0 {
		errs = append(errs, fmt.Errorf("speech.sample_rate %d must be positive", sp.SampleRate))
	}
	if sp.SegmentDuration != 0 && sp.SegmentDuration < time.Millisecond {
		errs = append(errs, fmt.Errorf("speech.segment_duration %v is below 1ms", sp.SegmentDuration))
	}
	for name, d := range map[string]time.Duration{
		"speech.connect_timeout":   sp.ConnectTimeout,
		"speech.read_timeout":      sp.ReadTimeout,
		"speech.call_timeout":      sp.CallTimeout,
		"image.timeout":            cfg.Image.Timeout,
		"resilience.reset_timeout": cfg.Resilience.ResetTimeout,
	} {
		if d < 0 {
			errs = append(errs, fmt.Errorf("%s %v must not be negative", name, d))
		}
	}
	if !sp.Configured() {
		slog.Warn("speech.app_key or speech.access_key is empty; recognition will be unavailable")
	}

	// Storage
	if !cfg.Storage.Configured() {
		slog.Warn("storage credentials or bucket missing; uploads will be unavailable")
	}

	// Image
	if cfg.Image.MaxRetries != nil && *cfg.Image.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("image.max_retries %d must not be negative", *cfg.Image.MaxRetries))
	}
	if !cfg.Image.Configured() {
		slog.Warn("image.api_key is empty; image editing will be unavailable")
	}

	// Resilience
	if cfg.Resilience.MaxFailures < 0 || cfg.Resilience.HalfOpenMax < 0 {
		errs = append(errs, errors.New("resilience.max_failures and resilience.half_open_max must not be negative"))
	}

	// Telemetry
	if tm := cfg.Telemetry; tm.Traces != "" && !tm.Traces.IsValid() {
		errs = append(errs, fmt.Errorf("telemetry.traces %q is invalid; valid values: none, stdout", tm.Traces))
	}
	if r := cfg.Telemetry.SampleRatio; r != nil && (*r < 0 || *r > 1) {
		errs = append(errs, fmt.Errorf("telemetry.sample_ratio %v must be within [0, 1]", *r))
	}

	return errors.Join(errs...)
}
