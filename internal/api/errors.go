package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/MrWong99/voxcanvas/internal/observe"
	"github.com/MrWong99/voxcanvas/internal/resilience"
	"github.com/MrWong99/voxcanvas/pkg/audio"
	"github.com/MrWong99/voxcanvas/pkg/provider/imagegen"
	"github.com/MrWong99/voxcanvas/pkg/provider/storage"
	"github.com/MrWong99/voxcanvas/pkg/provider/stt/sauc"
)

// errBadRequest marks errors caused by the request itself.
var errBadRequest = errors.New("bad request")

func badRequest(format string, args ...any) error {
	return fmt.Errorf("%w: %s", errBadRequest, fmt.Sprintf(format, args...))
}

type errorResponse struct {
	Detail string `json:"detail"`
}

// statusFor maps an error to the HTTP status reported to the client.
func statusFor(err error) int {
	var (
		tooLarge  *http.MaxBytesError
		transcode *audio.TranscodeError
	)
	switch {
	case errors.As(err, &tooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, errBadRequest),
		errors.Is(err, audio.ErrInvalidWAV):
		return http.StatusBadRequest
	case errors.As(err, &transcode):
		// The transcoder ran and rejected the input.
		if transcode.ExitCode >= 0 {
			return http.StatusBadRequest
		}
		return http.StatusInternalServerError
	case errors.Is(err, sauc.ErrConfiguration),
		errors.Is(err, storage.ErrNotConfigured),
		errors.Is(err, imagegen.ErrNotConfigured),
		errors.Is(err, resilience.ErrCircuitOpen):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	log := observe.Logger(r.Context())
	if status >= http.StatusInternalServerError {
		log.Error("request failed", "path", r.URL.Path, "status", status, "err", err)
	} else {
		log.Info("request rejected", "path", r.URL.Path, "status", status, "err", err)
	}
	writeJSON(w, r, status, errorResponse{Detail: err.Error()})
}

// writeJSON sends v with status. The header is already out when encoding
// fails, so the failure is only logged.
func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		observe.Logger(r.Context()).Warn("encode response", "path", r.URL.Path, "status", status, "err", err)
	}
}
