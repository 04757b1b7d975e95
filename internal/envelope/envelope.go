// Package envelope normalizes every gateway response into one JSON shape:
//
//	{success: bool, data, message, error?, meta}
//
// Normalization is applied exactly once per request, at the outermost
// boundary.
package envelope

import (
	"bytes"
	"encoding/json"
	"net/http"

	"notify-gateway/internal/common/errors"
	"notify-gateway/internal/common/logging"
)

const successMessage = "Request successful"

// Envelope is the canonical response body.
type Envelope struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data"`
	Message string      `json:"message"`
	Error   string      `json:"error,omitempty"`
	Meta    interface{} `json:"meta"`
}

// Success builds a success envelope around data.
func Success(data interface{}) Envelope {
	return Envelope{
		Success: true,
		Data:    data,
		Message: successMessage,
		Meta:    map[string]interface{}{},
	}
}

// Failure builds a failure envelope with the given message.
func Failure(message string) Envelope {
	return Envelope{
		Success: false,
		Data:    map[string]interface{}{},
		Message: message,
		Error:   message,
		Meta:    map[string]interface{}{},
	}
}

// Keys upstreams use for pagination metadata at the top level of a body.
var paginationKeys = []string{"page", "per_page", "total", "total_pages"}

// Normalize converts an upstream body into canonical envelope JSON.
// Already-wrapped bodies pass through unchanged, which makes normalization
// idempotent. Top-level pagination metadata is preserved under meta.
func Normalize(body []byte) []byte {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return mustMarshal(Success(map[string]interface{}{}))
	}

	var obj map[string]interface{}
	if err := json.Unmarshal(trimmed, &obj); err == nil && obj != nil {
		if _, wrapped := obj["success"]; wrapped {
			return trimmed
		}
		return mustMarshal(wrapObject(obj))
	}

	var value interface{}
	if err := json.Unmarshal(trimmed, &value); err == nil {
		return mustMarshal(Success(value))
	}

	// Not JSON; carry the raw body as a string payload.
	return mustMarshal(Success(string(trimmed)))
}

func wrapObject(obj map[string]interface{}) Envelope {
	env := Success(nil)

	if meta, ok := obj["meta"]; ok {
		env.Meta = meta
		if data, ok := obj["data"]; ok {
			env.Data = data
		} else {
			delete(obj, "meta")
			env.Data = obj
		}
		return env
	}

	if meta := extractPagination(obj); meta != nil {
		env.Meta = meta
		if data, ok := obj["data"]; ok {
			env.Data = data
		} else if items, ok := obj["items"]; ok {
			env.Data = items
		} else {
			env.Data = obj
		}
		return env
	}

	env.Data = obj
	return env
}

func extractPagination(obj map[string]interface{}) map[string]interface{} {
	var meta map[string]interface{}
	for _, key := range paginationKeys {
		if value, ok := obj[key]; ok {
			if meta == nil {
				meta = make(map[string]interface{})
			}
			meta[key] = value
			delete(obj, key)
		}
	}
	return meta
}

func mustMarshal(env Envelope) []byte {
	data, err := json.Marshal(env)
	if err != nil {
		// Envelope fields are always marshalable; a failure here means the
		// upstream payload contained something json.Marshal rejects.
		return []byte(`{"success":false,"data":{},"message":"response encoding failed","error":"response encoding failed","meta":{}}`)
	}
	return data
}

// Writer is implemented by response writers that track whether a response
// has already been sent on the connection.
type Writer interface {
	Written() bool
}

// WriteJSON writes the envelope with the given status. The write is
// suppressed when a response has already been sent on this connection.
func WriteJSON(w http.ResponseWriter, status int, env Envelope) {
	if tracked, ok := w.(Writer); ok && tracked.Written() {
		logging.Warn("suppressed duplicate response write",
			logging.Int("status", status),
		)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(mustMarshal(env)); err != nil {
		logging.Warn("failed to write response", logging.Err(err))
	}
}

// WriteRaw writes pre-normalized envelope JSON with the given status.
func WriteRaw(w http.ResponseWriter, status int, body []byte) {
	if tracked, ok := w.(Writer); ok && tracked.Written() {
		logging.Warn("suppressed duplicate response write",
			logging.Int("status", status),
		)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(body); err != nil {
		logging.Warn("failed to write response", logging.Err(err))
	}
}

// WriteError maps any failure to the client-visible envelope: structured
// errors carry their own status code, everything else becomes a 500.
func WriteError(w http.ResponseWriter, err error) {
	WriteJSON(w, errors.HTTPStatus(err), Failure(clientMessage(err)))
}

// clientMessage keeps server-side detail out of the response body.
// Structured errors already carry caller-safe messages; unstructured ones
// are replaced wholesale.
func clientMessage(err error) string {
	if appErr, ok := err.(*errors.AppError); ok {
		return appErr.Message
	}
	return "internal server error"
}
