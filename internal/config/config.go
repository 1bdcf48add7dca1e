// Package config provides the configuration schema and loader for the
// voxcanvas server.
package config

import "time"

// LogLevel controls log verbosity for the server.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Config is the root configuration structure.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Speech     SpeechConfig     `yaml:"speech"`
	Storage    StorageConfig    `yaml:"storage"`
	Image      ImageConfig      `yaml:"image"`
	Resilience ResilienceConfig `yaml:"resilience"`
	Telemetry  TelemetryConfig  `yaml:"telemetry"`
}

// ServerConfig holds network, logging and request-handling settings.
type ServerConfig struct {
	// ListenAddr is the TCP address the server listens on (e.g., ":8000").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// TLS configures TLS for the server. When nil, the server runs plain HTTP.
	TLS *TLSConfig `yaml:"tls"`

	// TempDir receives uploaded files while a request is processed. Defaults
	// to the OS temp directory.
	TempDir string `yaml:"temp_dir"`

	// MaxUploadBytes caps the size of a multipart upload.
	MaxUploadBytes int64 `yaml:"max_upload_bytes"`

	// CORSOrigins lists allowed origins. Defaults to ["*"].
	CORSOrigins []string `yaml:"cors_origins"`

	// ShutdownTimeout bounds graceful shutdown.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// TLSConfig holds TLS certificate paths for enabling HTTPS.
type TLSConfig struct {
	// CertFile is the path to the PEM-encoded TLS certificate.
	CertFile string `yaml:"cert_file"`

	// KeyFile is the path to the PEM-encoded TLS private key.
	KeyFile string `yaml:"key_file"`
}

// SpeechConfig configures the streaming speech recognizer.
type SpeechConfig struct {
	Endpoint   string `yaml:"endpoint"`
	AppKey     string `yaml:"app_key"`
	AccessKey  string `yaml:"access_key"`
	ResourceID string `yaml:"resource_id"`
	UID        string `yaml:"uid"`
	ModelName  string `yaml:"model_name"`

	// SampleRate is the canonical rate audio is transcoded to.
	SampleRate int `yaml:"sample_rate"`

	// SegmentDuration is the audio length per frame and the pacing interval.
	SegmentDuration time.Duration `yaml:"segment_duration"`

	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	CallTimeout    time.Duration `yaml:"call_timeout"`

	// FFmpegPath overrides transcoder discovery.
	FFmpegPath string `yaml:"ffmpeg_path"`

	// Recognition switches. Nil means the default (all on except
	// EnableNonstream).
	EnableITN       *bool `yaml:"enable_itn"`
	EnablePunc      *bool `yaml:"enable_punc"`
	EnableDDC       *bool `yaml:"enable_ddc"`
	ShowUtterances  *bool `yaml:"show_utterances"`
	EnableNonstream *bool `yaml:"enable_nonstream"`
}

// StorageConfig configures the TOS object storage uploader.
type StorageConfig struct {
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Endpoint  string `yaml:"endpoint"`
	Region    string `yaml:"region"`
	Bucket    string `yaml:"bucket"`

	// S3Endpoint is the S3-compatible API host; derived from Endpoint when
	// empty.
	S3Endpoint string `yaml:"s3_endpoint"`
	Insecure   bool   `yaml:"insecure"`
	PathStyle  bool   `yaml:"path_style"`

	// KeyPrefix is prepended to every object key. Defaults to "uploads/".
	KeyPrefix string `yaml:"key_prefix"`
}

// ImageConfig configures the Ark image generator.
type ImageConfig struct {
	APIKey     string        `yaml:"api_key"`
	BaseURL    string        `yaml:"base_url"`
	Model      string        `yaml:"model"`
	Size       string        `yaml:"size"`
	Watermark  *bool         `yaml:"watermark"`
	Timeout    time.Duration `yaml:"timeout"`
	MaxRetries *int          `yaml:"max_retries"`
}

// ResilienceConfig tunes the circuit breakers wrapped around every remote
// provider.
type ResilienceConfig struct {
	MaxFailures  int           `yaml:"max_failures"`
	ResetTimeout time.Duration `yaml:"reset_timeout"`
	HalfOpenMax  int           `yaml:"half_open_max"`
}

// TraceExporter names the span exporter installed at startup.
type TraceExporter string

const (
	TracesNone   TraceExporter = "none"
	TracesStdout TraceExporter = "stdout"
)

// IsValid reports whether e is a known exporter name.
func (e TraceExporter) IsValid() bool {
	return e == TracesNone || e == TracesStdout
}

// TelemetryConfig controls trace export. Metrics are always served on
// /metrics.
type TelemetryConfig struct {
	// Traces selects the span exporter. Defaults to "none": spans still feed
	// correlation ids into logs but leave the process nowhere.
	Traces TraceExporter `yaml:"traces"`

	// SampleRatio is the fraction of new root traces recorded, in [0, 1].
	// Defaults to 1.
	SampleRatio *float64 `yaml:"sample_ratio"`
}

// Configured reports whether recognition credentials are present.
func (s SpeechConfig) Configured() bool { return s.AppKey != "" && s.AccessKey != "" }

// Configured reports whether upload credentials and a bucket are present.
func (s StorageConfig) Configured() bool {
	return s.AccessKey != "" && s.SecretKey != "" && s.Bucket != ""
}

// Configured reports whether an API key is present.
func (i ImageConfig) Configured() bool { return i.APIKey != "" }
