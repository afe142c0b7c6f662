package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/MrEthical07/careauth"
	"github.com/MrEthical07/careauth/logger"
)

const maxBodyBytes = 64 << 10

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// StatusFor maps an Engine error to the HTTP status the API answers with.
func StatusFor(err error) int {
	switch careauth.Kind(err) {
	case careauth.KindValidation:
		return http.StatusBadRequest
	case careauth.KindAuthentication:
		return http.StatusUnauthorized
	case careauth.KindState:
		if errors.Is(err, careauth.ErrGrantNotFound) {
			return http.StatusNotFound
		}
		return http.StatusForbidden
	case careauth.KindRateLimit:
		return http.StatusTooManyRequests
	case careauth.KindUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeError writes err as JSON. Engine sentinels are safe to show;
// anything unclassified is logged and replaced with a generic message.
func (h *handlers) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := StatusFor(err)
	kind := careauth.Kind(err)
	msg := err.Error()
	if kind == careauth.KindInternal {
		h.log.Error("request failed",
			logger.String("path", r.URL.Path),
			logger.String("request_id", middleware.GetReqID(r.Context())),
			logger.Error(err),
		)
		msg = "internal error"
	}
	if status == http.StatusTooManyRequests {
		w.Header().Set("Retry-After", "60")
	}
	writeJSON(w, status, errorResponse{Error: kind.String(), Message: msg})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("%w: %v", careauth.ErrInvalidInput, err)
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: trailing data", careauth.ErrInvalidInput)
	}
	return nil
}

// parseRange reads optional RFC 3339 from/to query parameters.
func parseRange(r *http.Request) (careauth.TimeRange, error) {
	var tr careauth.TimeRange
	for _, p := range []struct {
		key string
		dst *time.Time
	}{{"from", &tr.From}, {"to", &tr.To}} {
		v := r.URL.Query().Get(p.key)
		if v == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return careauth.TimeRange{}, fmt.Errorf("%w: %s", careauth.ErrInvalidInput, p.key)
		}
		*p.dst = t
	}
	return tr, nil
}
