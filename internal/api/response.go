package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

// Response is the envelope every endpoint answers with.
type Response struct {
	StatusCode int    `json:"statusCode"`
	Message    string `json:"message"`
	Data       any    `json:"data,omitempty"`
	Error      string `json:"error,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	resp := Response{StatusCode: status, Message: "Success", Data: data}
	writeResponse(w, status, resp)
}

func writeError(w http.ResponseWriter, status int, message string) {
	resp := Response{StatusCode: status, Message: message, Error: http.StatusText(status)}
	writeResponse(w, status, resp)
}

func writeResponse(w http.ResponseWriter, status int, resp Response) {
	w.Header().Set("Content-Type", "application/json; charset=UTF-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}
