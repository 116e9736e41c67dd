package handler

import (
	"encoding/json"
	"net"
	"net/http"

	"go.uber.org/zap"

	"estate-auth/internal/util"
)

// Response is the envelope for every JSON reply.
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	Code    string      `json:"code,omitempty"`
	Message string      `json:"message,omitempty"`
}

func respondWithJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		util.Error("failed to encode response", zap.Error(err))
	}
}

func respondWithError(w http.ResponseWriter, status int, message string) {
	respondWithJSON(w, status, Response{
		Success: false,
		Error:   message,
	})
}

func respondWithErrorCode(w http.ResponseWriter, status int, code, message string, data interface{}) {
	respondWithJSON(w, status, Response{
		Success: false,
		Error:   message,
		Code:    code,
		Data:    data,
	})
}

// clientIP returns the caller's address as rewritten by the RealIP
// middleware, with any port stripped.
func clientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
