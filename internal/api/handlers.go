package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/MrWong99/voxcanvas/internal/observe"
)

// defaultAudioExt is used for recordings uploaded without a file extension.
const defaultAudioExt = ".wav"

type urlResponse struct {
	URL string `json:"url"`
}

type textResponse struct {
	Text string `json:"text"`
}

type editRequest struct {
	ImageURL string `json:"imageUrl"`
	Prompt   string `json:"prompt"`
}

// handleUpload stores the multipart "file" field in object storage and
// returns its public URL.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	path, name, err := s.receiveFile(w, r, "")
	if err != nil {
		writeError(w, r, err)
		return
	}
	defer s.removeTemp(r, path)

	url, err := s.store.Upload(r.Context(), path, s.cfg.KeyPrefix+name)
	if err != nil {
		writeError(w, r, err)
		return
	}
	observe.Logger(r.Context()).Info("file uploaded", "key", s.cfg.KeyPrefix+name, "url", url)
	writeJSON(w, r, http.StatusOK, urlResponse{URL: url})
}

// handleRecognize transcribes the multipart "file" field.
func (s *Server) handleRecognize(w http.ResponseWriter, r *http.Request) {
	path, _, err := s.receiveFile(w, r, defaultAudioExt)
	if err != nil {
		writeError(w, r, err)
		return
	}
	defer s.removeTemp(r, path)

	t, err := s.stt.Recognize(r.Context(), path)
	if err != nil {
		writeError(w, r, err)
		return
	}
	observe.Logger(r.Context()).Info("recognition complete",
		"chars", len(t.Text),
		"responses", t.Responses,
		"degraded_frames", t.DegradedFrames,
	)
	writeJSON(w, r, http.StatusOK, textResponse{Text: t.Text})
}

// handleEdit generates a new image from a prompt. imageUrl is optional; an
// empty one asks for text-to-image generation.
func (s *Server) handleEdit(w http.ResponseWriter, r *http.Request) {
	var req editRequest
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	if err := dec.Decode(&req); err != nil {
		writeError(w, r, badRequest("decode request: %v", err))
		return
	}
	req.Prompt = strings.TrimSpace(req.Prompt)
	req.ImageURL = strings.TrimSpace(req.ImageURL)
	if req.Prompt == "" {
		writeError(w, r, badRequest("prompt is required"))
		return
	}

	url, err := s.images.Generate(r.Context(), req.Prompt, req.ImageURL)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, urlResponse{URL: url})
}

// receiveFile copies the multipart "file" field into TempDir under a fresh
// UUID name that keeps the client's extension, or defaultExt when there is
// none. It returns the temp path and the generated name.
func (s *Server) receiveFile(w http.ResponseWriter, r *http.Request, defaultExt string) (path, name string, err error) {
	if s.cfg.MaxUploadBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes)
	}
	src, hdr, err := r.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return "", "", err
		}
		return "", "", badRequest("missing multipart field %q: %v", "file", err)
	}
	defer src.Close()
	if r.MultipartForm != nil {
		defer r.MultipartForm.RemoveAll()
	}

	ext := filepath.Ext(hdr.Filename)
	if ext == "" {
		ext = defaultExt
	}
	name = uuid.NewString() + ext
	path = filepath.Join(s.cfg.TempDir, name)

	if err := copyToFile(path, src); err != nil {
		_ = os.Remove(path)
		return "", "", err
	}
	observe.Logger(r.Context()).Debug("upload saved", "path", path, "bytes", hdr.Size)
	return path, name, nil
}

func copyToFile(path string, src multipart.File) error {
	dst, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("api: create temp file: %w", err)
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		return fmt.Errorf("api: write temp file: %w", err)
	}
	if err := dst.Close(); err != nil {
		return fmt.Errorf("api: close temp file: %w", err)
	}
	return nil
}

func (s *Server) removeTemp(r *http.Request, path string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		observe.Logger(r.Context()).Warn("remove temp file", "path", path, "err", err)
	}
}
