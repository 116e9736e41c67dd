package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"estate-auth/internal/config"
	"estate-auth/internal/service"
)

const (
	accessCookieName  = "access_token"
	refreshCookieName = "refresh_token"
)

type AuthHandler struct {
	auth   *service.AuthService
	tokens *service.TokenService
	config *config.Config
	logger *zap.Logger
}

func NewAuthHandler(auth *service.AuthService, tokens *service.TokenService, cfg *config.Config, logger *zap.Logger) *AuthHandler {
	return &AuthHandler{
		auth:   auth,
		tokens: tokens,
		config: cfg,
		logger: logger,
	}
}

type sendOTPRequest struct {
	PhoneNumber string `json:"phoneNumber"`
}

type verifyOTPRequest struct {
	SessionID string `json:"sessionId"`
	OTP       string `json:"otp"`
}

// SendOTP handles POST /auth/send-otp.
func (h *AuthHandler) SendOTP(w http.ResponseWriter, r *http.Request) {
	var req sendOTPRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	result, err := h.auth.SendOTP(r.Context(), req.PhoneNumber, clientIP(r))
	if err != nil {
		h.respondSendOTPError(w, err)
		return
	}

	respondWithJSON(w, http.StatusOK, Response{
		Success: true,
		Data:    result,
		Message: "OTP sent",
	})
}

func (h *AuthHandler) respondSendOTPError(w http.ResponseWriter, err error) {
	var ipBlocked *service.IPBlockedError
	if errors.As(err, &ipBlocked) {
		respondWithErrorCode(w, http.StatusTooManyRequests, "RATE_LIMIT_EXCEEDED", err.Error(),
			map[string]interface{}{"blockedUntil": ipBlocked.BlockedUntil})
		return
	}

	switch {
	case errors.Is(err, service.ErrInvalidPhone):
		respondWithError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, service.ErrUnauthorizedPhone):
		respondWithErrorCode(w, http.StatusForbidden, "UNAUTHORIZED_PHONE", err.Error(), nil)
	case errors.Is(err, service.ErrAccountDeactivated):
		respondWithErrorCode(w, http.StatusForbidden, "ACCOUNT_DEACTIVATED", err.Error(), nil)
	case errors.Is(err, service.ErrPersistenceUnavailable):
		respondWithError(w, http.StatusServiceUnavailable, "service temporarily unavailable")
	case errors.Is(err, service.ErrGatewayFailure):
		respondWithError(w, http.StatusInternalServerError, "failed to send OTP")
	default:
		h.logger.Error("send OTP failed", zap.Error(err))
		respondWithError(w, http.StatusInternalServerError, "internal server error")
	}
}

// VerifyOTP handles POST /auth/verify-otp. On success the token pair is set
// as http-only cookies and also returned in the body for API clients.
func (h *AuthHandler) VerifyOTP(w http.ResponseWriter, r *http.Request) {
	var req verifyOTPRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.SessionID == "" {
		respondWithError(w, http.StatusBadRequest, "sessionId is required")
		return
	}

	result, err := h.auth.VerifyOTP(r.Context(), req.SessionID, req.OTP, clientIP(r))
	if err != nil {
		h.respondVerifyOTPError(w, err)
		return
	}

	h.setAuthCookies(w, result)

	respondWithJSON(w, http.StatusOK, Response{
		Success: true,
		Data: map[string]interface{}{
			"accessToken":  result.AccessToken,
			"refreshToken": result.RefreshToken,
			"user":         result.User.Sanitize(),
		},
		Message: "login successful",
	})
}

func (h *AuthHandler) respondVerifyOTPError(w http.ResponseWriter, err error) {
	var mismatch *service.OTPMismatchError
	if errors.As(err, &mismatch) {
		respondWithErrorCode(w, http.StatusBadRequest, "OTP_MISMATCH", err.Error(),
			map[string]interface{}{"attemptsLeft": mismatch.AttemptsLeft})
		return
	}

	switch {
	case errors.Is(err, service.ErrInvalidOTP):
		respondWithError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, service.ErrSessionNotFound):
		respondWithErrorCode(w, http.StatusBadRequest, "INVALID_SESSION", err.Error(), nil)
	case errors.Is(err, service.ErrOTPExpired):
		respondWithErrorCode(w, http.StatusBadRequest, "OTP_EXPIRED", err.Error(), nil)
	case errors.Is(err, service.ErrTooManyAttempts):
		respondWithErrorCode(w, http.StatusBadRequest, "TOO_MANY_ATTEMPTS", err.Error(), nil)
	case errors.Is(err, service.ErrUnauthorizedUser):
		respondWithErrorCode(w, http.StatusUnauthorized, "UNAUTHORIZED_USER", err.Error(), nil)
	case errors.Is(err, service.ErrAccountDeactivated):
		respondWithErrorCode(w, http.StatusUnauthorized, "ACCOUNT_DEACTIVATED", err.Error(), nil)
	case errors.Is(err, service.ErrPersistenceUnavailable):
		respondWithError(w, http.StatusServiceUnavailable, "service temporarily unavailable")
	case errors.Is(err, service.ErrGatewayFailure):
		respondWithError(w, http.StatusInternalServerError, "failed to verify OTP")
	default:
		h.logger.Error("verify OTP failed", zap.Error(err))
		respondWithError(w, http.StatusInternalServerError, "internal server error")
	}
}

// Refresh handles POST /auth/refresh. The refresh token comes from the
// cookie or the request body.
func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	refreshToken := ""
	if cookie, err := r.Cookie(refreshCookieName); err == nil {
		refreshToken = cookie.Value
	}
	if refreshToken == "" {
		var body struct {
			RefreshToken string `json:"refreshToken"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err == nil {
			refreshToken = body.RefreshToken
		}
	}
	if refreshToken == "" {
		respondWithError(w, http.StatusUnauthorized, "refresh token missing")
		return
	}

	accessToken, user, err := h.tokens.Refresh(r.Context(), refreshToken)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrRefreshExpired):
			respondWithErrorCode(w, http.StatusUnauthorized, "REFRESH_TOKEN_EXPIRED", err.Error(), nil)
		case errors.Is(err, service.ErrInvalidRefresh), errors.Is(err, service.ErrUnauthorizedUser):
			respondWithErrorCode(w, http.StatusUnauthorized, "INVALID_REFRESH_TOKEN", "invalid refresh token", nil)
		default:
			h.logger.Error("token refresh failed", zap.Error(err))
			respondWithError(w, http.StatusInternalServerError, "internal server error")
		}
		return
	}

	h.setCookie(w, accessCookieName, accessToken, service.AccessTTLFor(user.Role))

	respondWithJSON(w, http.StatusOK, Response{
		Success: true,
		Data: map[string]interface{}{
			"accessToken": accessToken,
			"user":        user.Sanitize(),
		},
	})
}

// Logout handles POST /auth/logout. Requires authentication; clears both
// auth cookies.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	claims := ClaimsFromContext(r.Context())
	if claims != nil {
		h.auth.Logout(r.Context(), claims, clientIP(r))
	}

	h.clearCookie(w, accessCookieName)
	h.clearCookie(w, refreshCookieName)

	respondWithJSON(w, http.StatusOK, Response{
		Success: true,
		Message: "logged out",
	})
}

// GatewayBalance handles GET /auth/gateway/balance. Admin only.
func (h *AuthHandler) GatewayBalance(w http.ResponseWriter, r *http.Request) {
	balance, err := h.auth.GatewayBalance(r.Context())
	if err != nil {
		respondWithError(w, http.StatusBadGateway, "gateway unavailable")
		return
	}

	respondWithJSON(w, http.StatusOK, Response{
		Success: true,
		Data:    map[string]float64{"balance": balance},
	})
}

func (h *AuthHandler) setAuthCookies(w http.ResponseWriter, result *service.LoginResult) {
	h.setCookie(w, accessCookieName, result.AccessToken, service.AccessTTLFor(result.User.Role))
	h.setCookie(w, refreshCookieName, result.RefreshToken, service.RefreshTTL)
}

func (h *AuthHandler) setCookie(w http.ResponseWriter, name, value string, ttl time.Duration) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		MaxAge:   int(ttl.Seconds()),
		HttpOnly: true,
		Secure:   h.config.IsProduction(),
		SameSite: http.SameSiteLaxMode,
	})
}

func (h *AuthHandler) clearCookie(w http.ResponseWriter, name string) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.config.IsProduction(),
		SameSite: http.SameSiteLaxMode,
	})
}
