// ABOUTME: JSON request decoding and response envelope helpers for HTTP handlers
// ABOUTME: Successful responses render as {"success":true,...}; errors go through apperr

package gateway

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/2389/license-gateway/internal/apperr"
)

// maxBodyBytes caps JSON request bodies.
const maxBodyBytes = 1 << 20

// writeJSON writes v with status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeData writes {"success":true} plus fields.
func writeData(w http.ResponseWriter, status int, fields map[string]any) {
	body := make(map[string]any, len(fields)+1)
	for k, v := range fields {
		body[k] = v
	}
	body["success"] = true
	writeJSON(w, status, body)
}

// decodeJSON decodes a size-limited JSON body into dst.
// An empty body leaves dst untouched when allowEmpty is set.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any, allowEmpty bool) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) && allowEmpty {
			return nil
		}
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return apperr.New(apperr.CodeInvalidInput, "request body too large")
		}
		return apperr.Wrap(apperr.CodeInvalidInput, "invalid JSON body", err)
	}
	return nil
}

// pathInt64 parses a positive integer path value.
func pathInt64(r *http.Request, name string) (int64, error) {
	raw := r.PathValue(name)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, apperr.WithDetails(apperr.CodeInvalidInput, name+" must be a positive integer",
			map[string]any{"field": name})
	}
	return id, nil
}

// parseTime parses an optional RFC3339 timestamp.
func parseTime(field string, s *string) (*time.Time, error) {
	if s == nil || *s == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, *s)
	if err != nil {
		return nil, apperr.WithDetails(apperr.CodeInvalidInput, field+" must be an RFC3339 timestamp",
			map[string]any{"field": field})
	}
	t = t.UTC()
	return &t, nil
}
