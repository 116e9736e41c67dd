package service

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrInvalidPhone           = errors.New("invalid phone number")
	ErrInvalidOTP             = errors.New("invalid OTP format")
	ErrInvalidPassword        = errors.New("password does not meet requirements")
	ErrUnauthorizedPhone      = errors.New("phone number not registered")
	ErrAccountDeactivated     = errors.New("account is deactivated")
	ErrUnauthorizedUser       = errors.New("user is not authorized")
	ErrSessionNotFound        = errors.New("session not found")
	ErrOTPExpired             = errors.New("OTP has expired")
	ErrTooManyAttempts        = errors.New("too many OTP attempts")
	ErrOTPMismatch            = errors.New("incorrect OTP")
	ErrSessionNotVerified     = errors.New("session is not verified")
	ErrRefreshExpired         = errors.New("refresh token has expired")
	ErrInvalidRefresh         = errors.New("invalid refresh token")
	ErrUserNotFound           = errors.New("no account found for this phone number")
	ErrGatewayFailure         = errors.New("OTP gateway unavailable")
	ErrPersistenceUnavailable = errors.New("user store unavailable")
)

// IPBlockedError indicates the caller's IP is under a temporary block.
type IPBlockedError struct {
	BlockedUntil time.Time
}

func (e *IPBlockedError) Error() string {
	return fmt.Sprintf("too many unauthorized attempts, blocked until %s", e.BlockedUntil.Format(time.RFC3339))
}

// PhoneRateLimitedError indicates the phone number has exhausted its
// password reset requests for the current window.
type PhoneRateLimitedError struct {
	BlockedUntil time.Time
}

func (e *PhoneRateLimitedError) Error() string {
	return fmt.Sprintf("too many reset requests, try again after %s", e.BlockedUntil.Format(time.RFC3339))
}

// OTPMismatchError carries how many verification attempts remain.
type OTPMismatchError struct {
	AttemptsLeft int
}

func (e *OTPMismatchError) Error() string {
	return fmt.Sprintf("incorrect OTP, %d attempts left", e.AttemptsLeft)
}
