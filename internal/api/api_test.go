package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/MrWong99/voxcanvas/internal/health"
	"github.com/MrWong99/voxcanvas/internal/observe"
	"github.com/MrWong99/voxcanvas/internal/resilience"
	"github.com/MrWong99/voxcanvas/pkg/audio"
	"github.com/MrWong99/voxcanvas/pkg/provider/imagegen"
	imagemock "github.com/MrWong99/voxcanvas/pkg/provider/imagegen/mock"
	"github.com/MrWong99/voxcanvas/pkg/provider/storage"
	storagemock "github.com/MrWong99/voxcanvas/pkg/provider/storage/mock"
	"github.com/MrWong99/voxcanvas/pkg/provider/stt"
	sttmock "github.com/MrWong99/voxcanvas/pkg/provider/stt/mock"
	"github.com/MrWong99/voxcanvas/pkg/provider/stt/sauc"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

type fixture struct {
	handler  http.Handler
	tempDir  string
	stt      *sttmock.Provider
	uploader *storagemock.Uploader
	images   *imagemock.Generator
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(sdkmetric.NewManualReader()))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	f := &fixture{
		tempDir:  t.TempDir(),
		stt:      &sttmock.Provider{Result: stt.Transcript{Text: "hello world"}},
		uploader: &storagemock.Uploader{BaseURL: "https://bucket.tos.example.com"},
		images:   &imagemock.Generator{URL: "https://ark.example.com/out.png"},
	}
	srv := New(Config{
		TempDir:        f.tempDir,
		MaxUploadBytes: 1 << 20,
		KeyPrefix:      "uploads/",
		CORSOrigins:    []string{"*"},
	}, f.stt, f.uploader, f.images)
	f.handler = NewRouter(srv, m, health.New())
	return f
}

func multipartBody(t *testing.T, field, filename string, content []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile(field, filename)
	if err != nil {
		t.Fatalf("CreateFormFile: %v", err)
	}
	if _, err := fw.Write(content); err != nil {
		t.Fatalf("write part: %v", err)
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close multipart: %v", err)
	}
	return &buf, mw.FormDataContentType()
}

func (f *fixture) do(t *testing.T, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(rec.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return v
}

func assertTempDirEmpty(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read temp dir: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("temp dir still holds %d file(s)", len(entries))
	}
}

func TestUpload(t *testing.T) {
	f := newFixture(t)
	body, ct := multipartBody(t, "file", "canvas.png", []byte("png bytes"))
	req := httptest.NewRequest(http.MethodPost, "/api/upload", body)
	req.Header.Set("Content-Type", ct)

	rec := f.do(t, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (body %s)", rec.Code, rec.Body)
	}
	resp := decodeBody[urlResponse](t, rec)

	if f.uploader.CallCount() != 1 {
		t.Fatalf("Upload calls = %d, want 1", f.uploader.CallCount())
	}
	call := f.uploader.Calls[0]
	if !strings.HasPrefix(call.ObjectKey, "uploads/") || filepath.Ext(call.ObjectKey) != ".png" {
		t.Errorf("object key = %q, want uploads/<uuid>.png", call.ObjectKey)
	}
	if string(call.Content) != "png bytes" {
		t.Errorf("uploaded content = %q", call.Content)
	}
	if want := "https://bucket.tos.example.com/" + call.ObjectKey; resp.URL != want {
		t.Errorf("url = %q, want %q", resp.URL, want)
	}
	if filepath.Dir(call.LocalPath) != f.tempDir {
		t.Errorf("temp file %q not under the temp dir", call.LocalPath)
	}
	assertTempDirEmpty(t, f.tempDir)
}

func TestUpload_MissingFile(t *testing.T) {
	f := newFixture(t)
	body, ct := multipartBody(t, "other", "x.png", []byte("x"))
	req := httptest.NewRequest(http.MethodPost, "/api/upload", body)
	req.Header.Set("Content-Type", ct)

	rec := f.do(t, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
	if resp := decodeBody[errorResponse](t, rec); resp.Detail == "" {
		t.Error("detail is empty")
	}
	if f.uploader.CallCount() != 0 {
		t.Error("uploader called without a file")
	}
}

func TestUpload_StorageNotConfigured(t *testing.T) {
	f := newFixture(t)
	f.uploader.Err = fmt.Errorf("tos: %w", storage.ErrNotConfigured)
	body, ct := multipartBody(t, "file", "a.jpg", []byte("jpg"))
	req := httptest.NewRequest(http.MethodPost, "/api/upload", body)
	req.Header.Set("Content-Type", ct)

	rec := f.do(t, req)
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
	assertTempDirEmpty(t, f.tempDir)
}

func TestRecognize(t *testing.T) {
	f := newFixture(t)
	var seen []byte
	f.stt.RecognizeFunc = func(_ context.Context, path string) (stt.Transcript, error) {
		seen, _ = os.ReadFile(path)
		if filepath.Ext(path) != ".webm" {
			t.Errorf("temp path %q lost the client extension", path)
		}
		return stt.Transcript{Text: "hello world"}, nil
	}
	body, ct := multipartBody(t, "file", "note.webm", []byte("webm audio"))
	req := httptest.NewRequest(http.MethodPost, "/api/recognize", body)
	req.Header.Set("Content-Type", ct)

	rec := f.do(t, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (body %s)", rec.Code, rec.Body)
	}
	if resp := decodeBody[textResponse](t, rec); resp.Text != "hello world" {
		t.Errorf("text = %q, want %q", resp.Text, "hello world")
	}
	if string(seen) != "webm audio" {
		t.Errorf("recognizer saw %q", seen)
	}
	assertTempDirEmpty(t, f.tempDir)
}

func TestRecognize_DefaultsToWAVExtension(t *testing.T) {
	f := newFixture(t)
	body, ct := multipartBody(t, "file", "blob", []byte("RIFF"))
	req := httptest.NewRequest(http.MethodPost, "/api/recognize", body)
	req.Header.Set("Content-Type", ct)

	if rec := f.do(t, req); rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if got := filepath.Ext(f.stt.Calls[0].Path); got != ".wav" {
		t.Errorf("extension = %q, want .wav", got)
	}
}

func TestRecognize_ErrorStatus(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"invalid wav", fmt.Errorf("sauc: %w", audio.ErrInvalidWAV), http.StatusBadRequest},
		{"transcoder rejected input", &audio.TranscodeError{Path: "x", ExitCode: 1}, http.StatusBadRequest},
		{"transcoder missing", &audio.TranscodeError{Path: "x", ExitCode: -1}, http.StatusInternalServerError},
		{"not configured", fmt.Errorf("sauc: %w", sauc.ErrConfiguration), http.StatusServiceUnavailable},
		{"circuit open", resilience.ErrCircuitOpen, http.StatusServiceUnavailable},
		{"server error", &sauc.ProtocolError{Code: 45000001, Message: "bad audio"}, http.StatusInternalServerError},
		{"transport", fmt.Errorf("%w: dial: refused", sauc.ErrTransport), http.StatusInternalServerError},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			f.stt.Err = tc.err
			body, ct := multipartBody(t, "file", "a.wav", []byte("RIFF"))
			req := httptest.NewRequest(http.MethodPost, "/api/recognize", body)
			req.Header.Set("Content-Type", ct)

			rec := f.do(t, req)
			if rec.Code != tc.want {
				t.Errorf("status = %d, want %d", rec.Code, tc.want)
			}
			if resp := decodeBody[errorResponse](t, rec); resp.Detail != tc.err.Error() {
				t.Errorf("detail = %q, want %q", resp.Detail, tc.err.Error())
			}
			assertTempDirEmpty(t, f.tempDir)
		})
	}
}

func TestEdit(t *testing.T) {
	tests := []struct {
		name string
		body string
		want imagemock.GenerateCall
	}{
		{
			name: "image to image",
			body: `{"imageUrl":"https://bucket/src.png","prompt":"add a red hat"}`,
			want: imagemock.GenerateCall{Prompt: "add a red hat", SourceImageURL: "https://bucket/src.png"},
		},
		{
			name: "text to image",
			body: `{"prompt":"a lighthouse at dusk"}`,
			want: imagemock.GenerateCall{Prompt: "a lighthouse at dusk"},
		},
		{
			name: "blank image url",
			body: `{"imageUrl":"  ","prompt":"a lighthouse at dusk"}`,
			want: imagemock.GenerateCall{Prompt: "a lighthouse at dusk"},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			req := httptest.NewRequest(http.MethodPost, "/api/edit", strings.NewReader(tc.body))
			req.Header.Set("Content-Type", "application/json")

			rec := f.do(t, req)
			if rec.Code != http.StatusOK {
				t.Fatalf("status = %d, want 200 (body %s)", rec.Code, rec.Body)
			}
			if resp := decodeBody[urlResponse](t, rec); resp.URL != "https://ark.example.com/out.png" {
				t.Errorf("url = %q", resp.URL)
			}
			if len(f.images.Calls) != 1 || f.images.Calls[0] != tc.want {
				t.Errorf("calls = %+v, want [%+v]", f.images.Calls, tc.want)
			}
		})
	}
}

func TestEdit_BadRequests(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"not json", `prompt=hat`},
		{"missing prompt", `{"imageUrl":"https://bucket/src.png"}`},
		{"blank prompt", `{"imageUrl":"https://bucket/src.png","prompt":"  "}`},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			req := httptest.NewRequest(http.MethodPost, "/api/edit", strings.NewReader(tc.body))
			rec := f.do(t, req)
			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", rec.Code)
			}
			if f.images.CallCount() != 0 {
				t.Error("generator called for an invalid request")
			}
		})
	}
}

func TestEdit_GeneratorFailure(t *testing.T) {
	f := newFixture(t)
	f.images.Err = fmt.Errorf("ark: generate: %w", imagegen.ErrNoImage)
	req := httptest.NewRequest(http.MethodPost, "/api/edit",
		strings.NewReader(`{"imageUrl":"u","prompt":"p"}`))

	rec := f.do(t, req)
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
	if resp := decodeBody[errorResponse](t, rec); !strings.Contains(resp.Detail, "no image") {
		t.Errorf("detail = %q", resp.Detail)
	}
}

func TestWriteJSON_EncodeFailureKeepsStatus(t *testing.T) {
	var logs bytes.Buffer
	orig := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&logs, nil)))
	t.Cleanup(func() { slog.SetDefault(orig) })

	req := httptest.NewRequest(http.MethodGet, "/api/recognize", nil)
	rec := httptest.NewRecorder()
	writeJSON(rec, req, http.StatusOK, map[string]any{"text": make(chan int)})

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want the original 200", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "detail") {
		t.Errorf("body = %q, want no error payload after the header", rec.Body)
	}
	if !strings.Contains(logs.String(), "encode response") {
		t.Errorf("log %q missing encode failure", logs.String())
	}
}

func TestStatusFor_TooLarge(t *testing.T) {
	err := fmt.Errorf("read body: %w", &http.MaxBytesError{Limit: 10})
	if got := statusFor(err); got != http.StatusRequestEntityTooLarge {
		t.Errorf("statusFor = %d, want 413", got)
	}
	if got := statusFor(errors.New("boom")); got != http.StatusInternalServerError {
		t.Errorf("statusFor(generic) = %d, want 500", got)
	}
}

func TestCORS(t *testing.T) {
	f := newFixture(t)

	t.Run("preflight", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodOptions, "/api/edit", nil)
		req.Header.Set("Origin", "http://localhost:5173")
		req.Header.Set("Access-Control-Request-Method", "POST")
		req.Header.Set("Access-Control-Request-Headers", "content-type")
		rec := f.do(t, req)

		if rec.Code != http.StatusNoContent {
			t.Errorf("status = %d, want 204", rec.Code)
		}
		h := rec.Header()
		if got := h.Get("Access-Control-Allow-Origin"); got != "http://localhost:5173" {
			t.Errorf("Allow-Origin = %q", got)
		}
		if got := h.Get("Access-Control-Allow-Headers"); got != "content-type" {
			t.Errorf("Allow-Headers = %q", got)
		}
		if got := h.Get("Access-Control-Allow-Credentials"); got != "true" {
			t.Errorf("Allow-Credentials = %q", got)
		}
	})

	t.Run("restricted origins", func(t *testing.T) {
		handler := CORS([]string{"https://app.example.com"})(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
		}))
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Origin", "https://evil.example.com")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "" {
			t.Errorf("Allow-Origin = %q for a foreign origin, want empty", got)
		}
	})
}

func TestRouter_HealthAndMetrics(t *testing.T) {
	f := newFixture(t)
	for _, path := range []string{"/healthz", "/readyz", "/metrics"} {
		t.Run(path, func(t *testing.T) {
			rec := f.do(t, httptest.NewRequest(http.MethodGet, path, nil))
			if rec.Code != http.StatusOK {
				t.Errorf("status = %d, want 200", rec.Code)
			}
		})
	}
}

func TestRouter_RecoversPanics(t *testing.T) {
	f := newFixture(t)
	f.stt.RecognizeFunc = func(context.Context, string) (stt.Transcript, error) {
		panic("boom")
	}
	body, ct := multipartBody(t, "file", "a.wav", []byte("RIFF"))
	req := httptest.NewRequest(http.MethodPost, "/api/recognize", body)
	req.Header.Set("Content-Type", ct)

	rec := f.do(t, req)
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
	assertTempDirEmpty(t, f.tempDir)
}
