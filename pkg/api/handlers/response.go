package handlers

import (
	"encoding/json"
	"net/http"
	"time"
)

// Response represents a standard API response wrapper.
//
// Status is "healthy", "unhealthy", "ok" or "error". Data and Error are
// omitted when empty.
type Response struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data,omitempty"`
	Error     string    `json:"error,omitempty"`
}

// writeJSON writes v as JSON with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	// Headers are gone; an encoding failure can only truncate the body.
	_ = json.NewEncoder(w).Encode(v)
}

func newResponse(status string, data any, errMsg string) Response {
	return Response{
		Status:    status,
		Timestamp: time.Now().UTC(),
		Data:      data,
		Error:     errMsg,
	}
}

func healthyResponse(data any) Response {
	return newResponse("healthy", data, "")
}

func unhealthyResponseWithData(data any) Response {
	return newResponse("unhealthy", data, "one or more components are unhealthy")
}

func okResponse(data any) Response {
	return newResponse("ok", data, "")
}

// BadGateway writes a 502 error response.
func BadGateway(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadGateway, newResponse("error", nil, msg))
}

// NotFound writes a 404 error response.
func NotFound(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusNotFound, newResponse("error", nil, msg))
}
