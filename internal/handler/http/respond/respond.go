// Package respond provides utilities for sending HTTP responses in JSON format.
// Error responses carry a machine-readable incident identifier so callers can
// correlate a failure with gateway logs.
package respond

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"
)

// JSON writes a JSON response with the given status code and data.
func JSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if v != nil {
		if err := json.NewEncoder(w).Encode(v); err != nil {
			// Headers are already sent, the failure can only be logged.
			slog.Default().Error("failed to encode JSON response",
				slog.Int("status_code", code),
				slog.Any("error", err))
		}
	}
}

// ErrorBody is the uniform error payload.
type ErrorBody struct {
	Error      string `json:"error"`
	IncidentID string `json:"incident_id,omitempty"`
	Attempts   int    `json:"attempts,omitempty"`
	Timestamp  string `json:"timestamp"`
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, code int, message string) {
	JSON(w, code, ErrorBody{Error: message, Timestamp: time.Now().UTC().Format(time.RFC3339)})
}

// Incident writes a JSON error response carrying an incident identifier and,
// for exhausted retries, the attempt count.
func Incident(w http.ResponseWriter, code int, message, incidentID string, attempts int) {
	JSON(w, code, ErrorBody{
		Error:      message,
		IncidentID: incidentID,
		Attempts:   attempts,
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
	})
}

// RetryAfter sets the Retry-After header in whole seconds, rounding up so a
// client never retries before the hint.
func RetryAfter(w http.ResponseWriter, d time.Duration) {
	secs := int64(d / time.Second)
	if d%time.Second != 0 {
		secs++
	}
	if secs < 1 {
		secs = 1
	}
	w.Header().Set("Retry-After", strconv.FormatInt(secs, 10))
}
