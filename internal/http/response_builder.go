package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"backoffice/internal/core"
	"backoffice/internal/inventory"
	applog "backoffice/internal/log"
)

type errorResponse struct {
	Error string `json:"error"`
	// Missing lists properties without an inventory invoice when a
	// readiness gate blocked the request.
	Missing []string `json:"missing,omitempty"`
	// Errored maps properties whose readiness check failed to the reason.
	Errored map[string]string `json:"errored,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("Failed to encode response", "error", err)
	}
}

// statusFor maps an error kind to an HTTP status.
func statusFor(err error) int {
	var blocked *inventory.BlockedError
	if errors.As(err, &blocked) {
		return http.StatusUnprocessableEntity
	}
	switch core.KindOf(err) {
	case core.KindValidation:
		return http.StatusUnprocessableEntity
	case core.KindNotFound:
		return http.StatusNotFound
	case core.KindRateLimited:
		return http.StatusTooManyRequests
	case core.KindTransport:
		return http.StatusBadGateway
	case core.KindConflict:
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

// writeError logs err and writes {"error": ...}. Internal failures get a
// generic message so adapter details do not leak to clients.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	fields := applog.NewFields().
		WithError(err).
		WithHTTPRequest(r.Method, r.URL.Path, r.URL.RawQuery, "")
	logger := applog.FromContext(r.Context())
	if status >= 500 {
		logger.ErrorContext(r.Context(), "Request failed", fields.ToSlice()...)
	} else {
		logger.WarnContext(r.Context(), "Request rejected", fields.ToSlice()...)
	}

	resp := errorResponse{Error: err.Error()}
	if status == http.StatusInternalServerError {
		resp.Error = "internal error"
	}
	var blocked *inventory.BlockedError
	if errors.As(err, &blocked) {
		resp.Missing = blocked.Missing
		resp.Errored = blocked.Errored
	}
	if status == http.StatusTooManyRequests {
		w.Header().Set("Retry-After", "60")
	}
	writeJSON(w, status, resp)
}
