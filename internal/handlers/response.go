package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"eddm-registry/internal/services"
)

const maxBodyBytes = 16 << 10

type envelope struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if data == nil {
		return
	}

	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(true)
	_ = enc.Encode(data)
}

func writeData(w http.ResponseWriter, data any) {
	writeJSON(w, http.StatusOK, envelope{Success: true, Data: data})
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, envelope{Success: false, Error: msg})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	return json.NewDecoder(r.Body).Decode(dst)
}

// statusFor maps registry errors to an HTTP status and the message shown to the user.
// fallback is the message for storage failures, which depends on the operation.
func statusFor(err error, fallback string) (int, string) {
	switch {
	case errors.Is(err, services.ErrInvalidAddress):
		return http.StatusBadRequest, "Could not understand address"
	case errors.Is(err, services.ErrInvalidRequest):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, services.ErrResolution):
		return http.StatusBadGateway, "Failed to look up address, please try again"
	case errors.Is(err, services.ErrRouteNotFound):
		return http.StatusNotFound, "Route not found"
	}
	return http.StatusServiceUnavailable, fallback
}
