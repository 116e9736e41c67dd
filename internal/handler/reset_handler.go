package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"estate-auth/internal/service"
)

type ResetHandler struct {
	reset  *service.ResetService
	logger *zap.Logger
}

func NewResetHandler(reset *service.ResetService, logger *zap.Logger) *ResetHandler {
	return &ResetHandler{reset: reset, logger: logger}
}

type resetSendRequest struct {
	PhoneNumber string `json:"phoneNumber"`
}

type resetVerifyRequest struct {
	SessionID string `json:"sessionId"`
	OTP       string `json:"otp"`
}

type resetRequest struct {
	SessionID   string `json:"sessionId"`
	OTP         string `json:"otp"`
	NewPassword string `json:"newPassword"`
}

// SendOTP handles POST /auth/forgot-password/send-otp.
func (h *ResetHandler) SendOTP(w http.ResponseWriter, r *http.Request) {
	var req resetSendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	result, err := h.reset.SendOTP(r.Context(), req.PhoneNumber, clientIP(r))
	if err != nil {
		h.respondResetError(w, err, "send reset OTP failed")
		return
	}

	respondWithJSON(w, http.StatusOK, Response{
		Success: true,
		Data:    result,
		Message: "OTP sent",
	})
}

// VerifyOTP handles POST /auth/forgot-password/verify-otp.
func (h *ResetHandler) VerifyOTP(w http.ResponseWriter, r *http.Request) {
	var req resetVerifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.SessionID == "" {
		respondWithError(w, http.StatusBadRequest, "sessionId is required")
		return
	}

	if err := h.reset.VerifyOTP(r.Context(), req.SessionID, req.OTP, clientIP(r)); err != nil {
		h.respondResetError(w, err, "verify reset OTP failed")
		return
	}

	respondWithJSON(w, http.StatusOK, Response{
		Success: true,
		Message: "OTP verified",
	})
}

// Reset handles POST /auth/forgot-password/reset.
func (h *ResetHandler) Reset(w http.ResponseWriter, r *http.Request) {
	var req resetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.SessionID == "" {
		respondWithError(w, http.StatusBadRequest, "sessionId is required")
		return
	}

	if err := h.reset.Reset(r.Context(), req.SessionID, req.OTP, req.NewPassword, clientIP(r)); err != nil {
		h.respondResetError(w, err, "password reset failed")
		return
	}

	respondWithJSON(w, http.StatusOK, Response{
		Success: true,
		Message: "password updated",
	})
}

func (h *ResetHandler) respondResetError(w http.ResponseWriter, err error, logMsg string) {
	var rateLimited *service.PhoneRateLimitedError
	if errors.As(err, &rateLimited) {
		respondWithErrorCode(w, http.StatusTooManyRequests, "RATE_LIMIT_EXCEEDED", err.Error(),
			map[string]interface{}{"blockedUntil": rateLimited.BlockedUntil})
		return
	}
	var mismatch *service.OTPMismatchError
	if errors.As(err, &mismatch) {
		respondWithErrorCode(w, http.StatusBadRequest, "OTP_MISMATCH", err.Error(),
			map[string]interface{}{"attemptsLeft": mismatch.AttemptsLeft})
		return
	}

	switch {
	case errors.Is(err, service.ErrInvalidPhone),
		errors.Is(err, service.ErrInvalidOTP),
		errors.Is(err, service.ErrInvalidPassword),
		errors.Is(err, service.ErrOTPMismatch),
		errors.Is(err, service.ErrSessionNotVerified):
		respondWithError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, service.ErrUserNotFound):
		respondWithError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, service.ErrSessionNotFound):
		respondWithErrorCode(w, http.StatusBadRequest, "INVALID_SESSION", err.Error(), nil)
	case errors.Is(err, service.ErrOTPExpired):
		respondWithErrorCode(w, http.StatusBadRequest, "OTP_EXPIRED", err.Error(), nil)
	case errors.Is(err, service.ErrPersistenceUnavailable):
		respondWithError(w, http.StatusServiceUnavailable, "service temporarily unavailable")
	case errors.Is(err, service.ErrGatewayFailure):
		respondWithError(w, http.StatusInternalServerError, "OTP gateway unavailable")
	default:
		h.logger.Error(logMsg, zap.Error(err))
		respondWithError(w, http.StatusInternalServerError, "internal server error")
	}
}
