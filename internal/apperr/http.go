// ABOUTME: JSON rendering of coded errors for HTTP responses
// ABOUTME: INTERNAL errors never expose their cause to the caller

package apperr

import (
	"encoding/json"
	"net/http"
)

type envelope struct {
	Success bool           `json:"success"`
	Error   map[string]any `json:"error"`
}

// Body builds the response payload for err.
func Body(err error) map[string]any {
	e := As(err)
	body := make(map[string]any, len(e.Details)+2)
	for k, v := range e.Details {
		body[k] = v
	}
	body["code"] = string(e.Code)
	body["message"] = e.Message
	if e.Code == CodeInternal {
		body["message"] = "internal error"
	}
	return body
}

// Write renders err as {"success":false,"error":{...}} with the mapped status.
func Write(w http.ResponseWriter, err error) {
	code := CodeOf(err)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code.HTTPStatus())
	_ = json.NewEncoder(w).Encode(envelope{Success: false, Error: Body(err)})
}
