package service

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"estate-auth/internal/hashing"
	"estate-auth/internal/models"
	redisrepo "estate-auth/internal/repository/redis"
	"estate-auth/internal/repository/scylla"
	"estate-auth/internal/util"
)

// Password policy: at least 8 chars with upper, lower, digit, and special.
var (
	passwordUpper   = regexp.MustCompile(`[A-Z]`)
	passwordLower   = regexp.MustCompile(`[a-z]`)
	passwordDigit   = regexp.MustCompile(`[0-9]`)
	passwordSpecial = regexp.MustCompile(`[^A-Za-z0-9]`)
)

// ResetSendResult is returned after a reset OTP is delivered.
type ResetSendResult struct {
	SessionID    string `json:"sessionId"`
	AttemptsLeft int    `json:"attemptsLeft"`
	ExpiresIn    int    `json:"expiresIn"`
}

// ResetService implements the three-step password reset state machine:
// request OTP, verify OTP, set new password. Each step revalidates the
// session so steps cannot be skipped or replayed out of order.
type ResetService struct {
	gateway  OTPGateway
	users    scylla.UserStore
	sessions *redisrepo.ResetSessionCache
	hasher   *hashing.Hasher
	activity *ActivityLogger
	logger   *zap.Logger
}

func NewResetService(
	gw OTPGateway,
	users scylla.UserStore,
	sessions *redisrepo.ResetSessionCache,
	hasher *hashing.Hasher,
	activity *ActivityLogger,
	logger *zap.Logger,
) *ResetService {
	return &ResetService{
		gateway:  gw,
		users:    users,
		sessions: sessions,
		hasher:   hasher,
		activity: activity,
		logger:   logger,
	}
}

// SendOTP starts a reset flow for a registered phone number. Requests count
// against the per-phone limit whether or not delivery succeeds.
func (s *ResetService) SendOTP(ctx context.Context, rawPhone, clientIP string) (*ResetSendResult, error) {
	phone, err := util.CanonicalizePhone(rawPhone)
	if err != nil {
		return nil, ErrInvalidPhone
	}

	limited, blockedUntil, err := s.sessions.IsLimited(ctx, phone)
	if err != nil {
		return nil, fmt.Errorf("reset rate check failed: %w", err)
	}
	if limited {
		return nil, &PhoneRateLimitedError{BlockedUntil: blockedUntil}
	}

	user, err := s.users.FindByPhone(ctx, util.PhoneCandidates(phone))
	if err != nil {
		if errors.Is(err, scylla.ErrUserNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrPersistenceUnavailable, err)
	}

	remaining, err := s.sessions.RecordAttempt(ctx, phone)
	if err != nil {
		return nil, fmt.Errorf("reset rate tracking failed: %w", err)
	}

	sent, err := s.gateway.SendOTP(ctx, util.PhoneE164(phone))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGatewayFailure, err)
	}
	if !sent.Success {
		return nil, fmt.Errorf("%w: %s", ErrGatewayFailure, sent.Message)
	}

	now := time.Now()
	session := &models.PasswordResetSession{
		SessionID:         uuid.NewString(),
		PhoneNumber:       phone,
		UserID:            user.UserID,
		ProviderSessionID: sent.SessionID,
		CreatedAt:         now,
		ExpiresAt:         now.Add(models.ResetSessionTTL),
	}
	if err := s.sessions.Save(ctx, session); err != nil {
		return nil, err
	}

	s.activity.Log(models.SecurityEvent{
		EventType:   models.EventOTPSent,
		Severity:    models.SeverityLow,
		UserID:      user.UserID,
		PhoneNumber: phone,
		IPAddress:   clientIP,
		SessionID:   session.SessionID,
		Details:     map[string]string{"flow": "password_reset", "channel": sent.Channel},
	})

	s.logger.Info("Password reset OTP sent",
		util.String("user_id", user.UserID),
		util.Int("attempts_left", remaining),
	)

	return &ResetSendResult{
		SessionID:    session.SessionID,
		AttemptsLeft: remaining,
		ExpiresIn:    int(models.ResetSessionTTL.Seconds()),
	}, nil
}

// VerifyOTP validates the code for a pending reset session. On success the
// session is marked verified and kept for the final step.
func (s *ResetService) VerifyOTP(ctx context.Context, sessionID, otp, clientIP string) error {
	if !otpFormat.MatchString(otp) {
		return ErrInvalidOTP
	}

	session, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		return err
	}
	if session == nil {
		return ErrSessionNotFound
	}
	if s.sessions.IsExpired(session) {
		_ = s.sessions.Delete(ctx, sessionID)
		return ErrOTPExpired
	}

	verified, err := s.gateway.VerifyOTP(ctx, session.ProviderSessionID, otp)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrGatewayFailure, err)
	}
	if !verified.Success {
		s.activity.Log(models.SecurityEvent{
			EventType:   models.EventOTPVerifyFailed,
			Severity:    models.SeverityMedium,
			UserID:      session.UserID,
			PhoneNumber: session.PhoneNumber,
			IPAddress:   clientIP,
			SessionID:   sessionID,
			Details:     map[string]string{"flow": "password_reset"},
		})

		remaining, rerr := s.sessions.Remaining(ctx, session.PhoneNumber)
		if rerr != nil {
			s.logger.Warn("failed to read reset attempts", zap.Error(rerr))
		}
		if remaining <= 0 {
			blockedUntil := time.Now().Add(models.ResetAttemptWindow)
			if _, until, berr := s.sessions.IsLimited(ctx, session.PhoneNumber); berr == nil && !until.IsZero() {
				blockedUntil = until
			}
			return &PhoneRateLimitedError{BlockedUntil: blockedUntil}
		}
		return &OTPMismatchError{AttemptsLeft: remaining}
	}

	if err := s.sessions.MarkVerified(ctx, sessionID); err != nil {
		return err
	}

	s.activity.Log(models.SecurityEvent{
		EventType:   models.EventOTPVerifySuccess,
		Severity:    models.SeverityLow,
		UserID:      session.UserID,
		PhoneNumber: session.PhoneNumber,
		IPAddress:   clientIP,
		SessionID:   sessionID,
		Details:     map[string]string{"flow": "password_reset"},
	})
	return nil
}

// Reset sets a new password for a verified session and consumes the session.
// The OTP is verified a second time so a leaked session id alone cannot
// change a password.
func (s *ResetService) Reset(ctx context.Context, sessionID, otp, newPassword, clientIP string) error {
	if !otpFormat.MatchString(otp) {
		return ErrInvalidOTP
	}
	if err := validatePassword(newPassword); err != nil {
		return err
	}

	session, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		return err
	}
	if session == nil {
		return ErrSessionNotFound
	}
	if s.sessions.IsExpired(session) {
		_ = s.sessions.Delete(ctx, sessionID)
		return ErrOTPExpired
	}
	if !session.Verified {
		return ErrSessionNotVerified
	}

	reverified, err := s.gateway.VerifyOTP(ctx, session.ProviderSessionID, otp)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrGatewayFailure, err)
	}
	if !reverified.Success {
		return ErrOTPMismatch
	}

	user, err := s.users.FindByID(ctx, session.UserID)
	if err != nil {
		if errors.Is(err, scylla.ErrUserNotFound) {
			return ErrUserNotFound
		}
		return fmt.Errorf("%w: %v", ErrPersistenceUnavailable, err)
	}

	hashed, err := s.hasher.Hash(newPassword)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}
	if err := s.users.UpdatePassword(ctx, user.UserID, hashed); err != nil {
		return fmt.Errorf("%w: %v", ErrPersistenceUnavailable, err)
	}

	if err := s.sessions.Delete(ctx, sessionID); err != nil {
		s.logger.Warn("failed to delete consumed reset session", zap.Error(err))
	}

	s.activity.Log(models.SecurityEvent{
		EventType:   models.EventPasswordReset,
		Severity:    models.SeverityMedium,
		UserID:      user.UserID,
		PhoneNumber: session.PhoneNumber,
		IPAddress:   clientIP,
		SessionID:   sessionID,
	})

	s.logger.Info("Password reset completed", util.String("user_id", user.UserID))
	return nil
}

func validatePassword(password string) error {
	if len(password) < 8 ||
		!passwordUpper.MatchString(password) ||
		!passwordLower.MatchString(password) ||
		!passwordDigit.MatchString(password) ||
		!passwordSpecial.MatchString(password) {
		return ErrInvalidPassword
	}
	return nil
}
