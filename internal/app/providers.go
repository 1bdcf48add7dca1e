package app

import (
	"context"
	"log/slog"

	"github.com/MrWong99/voxcanvas/internal/config"
	"github.com/MrWong99/voxcanvas/internal/observe"
	"github.com/MrWong99/voxcanvas/pkg/audio"
	"github.com/MrWong99/voxcanvas/pkg/provider/imagegen"
	"github.com/MrWong99/voxcanvas/pkg/provider/imagegen/ark"
	"github.com/MrWong99/voxcanvas/pkg/provider/storage"
	"github.com/MrWong99/voxcanvas/pkg/provider/storage/tos"
	"github.com/MrWong99/voxcanvas/pkg/provider/stt"
	"github.com/MrWong99/voxcanvas/pkg/provider/stt/sauc"
)

// SpeechClientConfig maps the speech section of the configuration onto a
// [sauc.Config]. Nil recognition switches keep their defaults.
func SpeechClientConfig(sc config.SpeechConfig) sauc.Config {
	req := sauc.DefaultRequestOptions()
	if sc.ModelName != "" {
		req.ModelName = sc.ModelName
	}
	setBool(&req.EnableITN, sc.EnableITN)
	setBool(&req.EnablePunc, sc.EnablePunc)
	setBool(&req.EnableDDC, sc.EnableDDC)
	setBool(&req.ShowUtterances, sc.ShowUtterances)
	setBool(&req.EnableNonstream, sc.EnableNonstream)

	return sauc.Config{
		Endpoint: sc.Endpoint,
		Credentials: sauc.Credentials{
			AppKey:     sc.AppKey,
			AccessKey:  sc.AccessKey,
			ResourceID: sc.ResourceID,
		},
		UID:             sc.UID,
		Request:         req,
		SampleRate:      sc.SampleRate,
		SegmentDuration: sc.SegmentDuration,
		ConnectTimeout:  sc.ConnectTimeout,
		ReadTimeout:     sc.ReadTimeout,
		CallTimeout:     sc.CallTimeout,
	}
}

// StorageClientConfig maps the storage section onto a [tos.Config].
func StorageClientConfig(sc config.StorageConfig) tos.Config {
	return tos.Config{
		AccessKey:  sc.AccessKey,
		SecretKey:  sc.SecretKey,
		Endpoint:   sc.Endpoint,
		Region:     sc.Region,
		Bucket:     sc.Bucket,
		S3Endpoint: sc.S3Endpoint,
		Insecure:   sc.Insecure,
		PathStyle:  sc.PathStyle,
	}
}

// ImageOptions maps the image section onto [ark.Option]s.
func ImageOptions(ic config.ImageConfig) []ark.Option {
	var opts []ark.Option
	if ic.BaseURL != "" {
		opts = append(opts, ark.WithBaseURL(ic.BaseURL))
	}
	if ic.Model != "" {
		opts = append(opts, ark.WithModel(ic.Model))
	}
	if ic.Size != "" {
		opts = append(opts, ark.WithSize(ic.Size))
	}
	if ic.Watermark != nil {
		opts = append(opts, ark.WithWatermark(*ic.Watermark))
	}
	if ic.Timeout > 0 {
		opts = append(opts, ark.WithTimeout(ic.Timeout))
	}
	if ic.MaxRetries != nil {
		opts = append(opts, ark.WithMaxRetries(*ic.MaxRetries))
	}
	return opts
}

func setBool(dst *bool, v *bool) {
	if v != nil {
		*dst = *v
	}
}

// newRecognizer builds the SAUC client with its hooks feeding m. A missing
// credential yields a disabled provider instead of a startup failure.
func newRecognizer(sc config.SpeechConfig, m *observe.Metrics) (stt.Provider, bool) {
	pre := audio.NewPreprocessor(
		audio.WithFFmpegPath(sc.FFmpegPath),
		audio.WithTargetSampleRate(sc.SampleRate),
	)
	c, err := sauc.New(SpeechClientConfig(sc),
		sauc.WithPreprocessor(pre),
		sauc.WithHooks(speechHooks(m)),
	)
	if err != nil {
		slog.Warn("speech recognition disabled", "err", err)
		return disabled{err: err}, false
	}
	return c, true
}

func newUploader(sc config.StorageConfig) (storage.Uploader, bool) {
	u, err := tos.New(StorageClientConfig(sc))
	if err != nil {
		slog.Warn("object storage disabled", "err", err)
		return disabled{err: err}, false
	}
	return u, true
}

func newGenerator(ic config.ImageConfig) (imagegen.Generator, bool) {
	g, err := ark.New(ic.APIKey, ImageOptions(ic)...)
	if err != nil {
		slog.Warn("image generation disabled", "err", err)
		return disabled{err: err}, false
	}
	return g, true
}

// speechHooks counts frames and decode warnings as they happen.
func speechHooks(m *observe.Metrics) sauc.Hooks {
	ctx := context.Background()
	return sauc.Hooks{
		FrameSent: func(t sauc.MessageType) {
			m.RecordFrame(ctx, true, t.String())
		},
		FrameReceived: func(r sauc.Response) {
			m.RecordFrame(ctx, false, r.MessageType.String())
		},
		Warning: func(w *sauc.DecodeWarning) {
			m.RecordDecodeWarning(ctx, w.Stage)
		},
	}
}

// disabled stands in for a provider whose configuration is incomplete. Every
// call fails with the construction error.
type disabled struct {
	err error
}

var (
	_ stt.Provider       = disabled{}
	_ storage.Uploader   = disabled{}
	_ imagegen.Generator = disabled{}
)

func (d disabled) Recognize(context.Context, string) (stt.Transcript, error) {
	return stt.Transcript{}, d.err
}

func (d disabled) Upload(context.Context, string, string) (string, error) {
	return "", d.err
}

func (d disabled) Generate(context.Context, string, string) (string, error) {
	return "", d.err
}
