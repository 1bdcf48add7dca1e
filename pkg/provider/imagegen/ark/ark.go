// Package ark provides an imagegen.Generator backed by the Volcengine Ark
// image generation endpoint, which follows the OpenAI images API with a few
// extra request fields.
package ark

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/MrWong99/voxcanvas/pkg/provider/imagegen"
)

const (
	DefaultBaseURL = "https://ark.cn-beijing.volces.com/api/v3"
	DefaultModel   = "doubao-seedream-4-5-251128"
	DefaultSize    = "2K"
)

// config holds optional configuration for the generator.
type config struct {
	baseURL    string
	model      string
	size       string
	watermark  bool
	timeout    time.Duration
	maxRetries int
}

// Option is a functional option for Generator.
type Option func(*config)

// WithBaseURL overrides the Ark API base URL.
func WithBaseURL(url string) Option {
	return func(c *config) { c.baseURL = url }
}

// WithModel sets the image model.
func WithModel(model string) Option {
	return func(c *config) { c.model = model }
}

// WithSize sets the requested output size, e.g. "2K" or "2048x2048".
func WithSize(size string) Option {
	return func(c *config) { c.size = size }
}

// WithWatermark toggles the provider watermark. Enabled by default.
func WithWatermark(on bool) Option {
	return func(c *config) { c.watermark = on }
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) { c.timeout = d }
}

// WithMaxRetries sets how often a failed request is retried.
func WithMaxRetries(n int) Option {
	return func(c *config) { c.maxRetries = n }
}

// Generator implements imagegen.Generator for Ark.
type Generator struct {
	client oai.Client
	cfg    config
}

// New constructs a Generator. An empty apiKey yields imagegen.ErrNotConfigured.
func New(apiKey string, opts ...Option) (*Generator, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("ark: %w: api key is empty", imagegen.ErrNotConfigured)
	}
	cfg := config{
		baseURL:    DefaultBaseURL,
		model:      DefaultModel,
		size:       DefaultSize,
		watermark:  true,
		maxRetries: 2,
	}
	for _, o := range opts {
		o(&cfg)
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithBaseURL(cfg.baseURL),
		option.WithMaxRetries(cfg.maxRetries),
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{
			Timeout: cfg.timeout,
		}))
	}
	return &Generator{client: oai.NewClient(reqOpts...), cfg: cfg}, nil
}

// Generate implements imagegen.Generator.
func (g *Generator) Generate(ctx context.Context, prompt, sourceImageURL string) (string, error) {
	params := oai.ImageGenerateParams{
		Prompt:         prompt,
		Model:          oai.ImageModel(g.cfg.model),
		ResponseFormat: oai.ImageGenerateParamsResponseFormatURL,
		Size:           oai.ImageGenerateParamsSize(g.cfg.size),
	}
	extra := []option.RequestOption{
		option.WithJSONSet("sequential_image_generation", "auto"),
		option.WithJSONSet("sequential_image_generation_options", map[string]any{"max_images": 1}),
		option.WithJSONSet("stream", false),
		option.WithJSONSet("watermark", g.cfg.watermark),
	}
	if sourceImageURL != "" {
		extra = append(extra, option.WithJSONSet("image", sourceImageURL))
	}

	start := time.Now()
	res, err := g.client.Images.Generate(ctx, params, extra...)
	if err != nil {
		var apiErr *oai.Error
		if errors.As(err, &apiErr) {
			slog.Error("ark: image generation rejected", "status", apiErr.StatusCode, "err", err)
		}
		return "", fmt.Errorf("ark: generate image: %w", err)
	}
	if len(res.Data) == 0 || res.Data[0].URL == "" {
		return "", fmt.Errorf("ark: %w", imagegen.ErrNoImage)
	}

	slog.Info("ark: image generated",
		"model", g.cfg.model,
		"edit", sourceImageURL != "",
		"duration", time.Since(start),
	)
	return res.Data[0].URL, nil
}

// Ensure Generator implements imagegen.Generator at compile time.
var _ imagegen.Generator = (*Generator)(nil)
