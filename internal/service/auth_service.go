package service

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"go.uber.org/zap"

	"estate-auth/internal/gateway"
	"estate-auth/internal/models"
	redisrepo "estate-auth/internal/repository/redis"
	"estate-auth/internal/repository/scylla"
	"estate-auth/internal/util"
)

var otpFormat = regexp.MustCompile(`^\d{4,8}$`)

// OTPGateway is the delivery provider surface the auth flows depend on.
type OTPGateway interface {
	SendOTP(ctx context.Context, phoneE164 string) (*gateway.SendResult, error)
	VerifyOTP(ctx context.Context, sessionID, otp string) (*gateway.VerifyResult, error)
	Balance(ctx context.Context) (float64, error)
}

// SendOTPResult is returned to the handler after successful OTP delivery.
type SendOTPResult struct {
	SessionID  string `json:"sessionId"`
	Channel    string `json:"channel"`
	IsFallback bool   `json:"fallback,omitempty"`
	ExpiresIn  int    `json:"expiresIn"`
}

// LoginResult carries the issued token pair and the sanitized user.
type LoginResult struct {
	AccessToken  string
	RefreshToken string
	User         *models.AuthUser
}

// AuthService implements the OTP login flow: delivery with IP screening,
// verification with a hard attempt cap, and token issuance.
type AuthService struct {
	gateway    OTPGateway
	users      scylla.UserStore
	sessions   *redisrepo.OTPSessionCache
	ipAttempts *redisrepo.IPAttemptCache
	tokens     *TokenService
	activity   *ActivityLogger
	logger     *zap.Logger
}

func NewAuthService(
	gw OTPGateway,
	users scylla.UserStore,
	sessions *redisrepo.OTPSessionCache,
	ipAttempts *redisrepo.IPAttemptCache,
	tokens *TokenService,
	activity *ActivityLogger,
	logger *zap.Logger,
) *AuthService {
	return &AuthService{
		gateway:    gw,
		users:      users,
		sessions:   sessions,
		ipAttempts: ipAttempts,
		tokens:     tokens,
		activity:   activity,
		logger:     logger,
	}
}

// SendOTP screens the caller, resolves the phone to a registered active
// user, and requests OTP delivery. Attempts for numbers that resolve to no
// user count against the caller's IP.
func (s *AuthService) SendOTP(ctx context.Context, rawPhone, clientIP string) (*SendOTPResult, error) {
	phone, err := util.CanonicalizePhone(rawPhone)
	if err != nil {
		return nil, ErrInvalidPhone
	}

	blocked, blockedUntil, err := s.ipAttempts.IsBlocked(ctx, clientIP)
	if err != nil {
		return nil, fmt.Errorf("IP screening failed: %w", err)
	}
	if blocked {
		return nil, &IPBlockedError{BlockedUntil: blockedUntil}
	}

	user, err := s.users.FindByPhone(ctx, util.PhoneCandidates(phone))
	if err != nil {
		if errors.Is(err, scylla.ErrUserNotFound) {
			return nil, s.handleUnknownPhone(ctx, phone, clientIP)
		}
		return nil, fmt.Errorf("%w: %v", ErrPersistenceUnavailable, err)
	}
	if !user.IsActive {
		return nil, ErrAccountDeactivated
	}

	sent, err := s.gateway.SendOTP(ctx, util.PhoneE164(phone))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGatewayFailure, err)
	}
	if !sent.Success {
		return nil, fmt.Errorf("%w: %s", ErrGatewayFailure, sent.Message)
	}

	now := time.Now()
	session := &models.OTPSession{
		SessionID:   sent.SessionID,
		PhoneNumber: phone,
		CreatedAt:   now,
		ExpiresAt:   now.Add(models.OTPSessionTTL),
		Channel:     sent.Channel,
		IsFallback:  sent.IsFallback,
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
		SessionID:   sent.SessionID,
		Details:     map[string]string{"channel": sent.Channel},
	})

	s.logger.Info("OTP sent",
		util.String("user_id", user.UserID),
		util.String("channel", sent.Channel),
		util.Bool("fallback", sent.IsFallback),
	)

	return &SendOTPResult{
		SessionID:  sent.SessionID,
		Channel:    sent.Channel,
		IsFallback: sent.IsFallback,
		ExpiresIn:  int(models.OTPSessionTTL.Seconds()),
	}, nil
}

// handleUnknownPhone records the attempt against the IP and reports whether
// the caller just got blocked.
func (s *AuthService) handleUnknownPhone(ctx context.Context, phone, clientIP string) error {
	count, blockedUntil, err := s.ipAttempts.RecordAttempt(ctx, clientIP)
	if err != nil {
		s.logger.Error("failed to record unauthorized attempt", zap.Error(err))
	}

	s.activity.Log(models.SecurityEvent{
		EventType:   models.EventUnauthorizedAccess,
		Severity:    models.SeverityHigh,
		PhoneNumber: phone,
		IPAddress:   clientIP,
		Details:     map[string]string{"attempts": fmt.Sprintf("%d", count)},
	})

	if !blockedUntil.IsZero() {
		return &IPBlockedError{BlockedUntil: blockedUntil}
	}
	return ErrUnauthorizedPhone
}

// VerifyOTP checks a submitted code against a pending session. The attempt
// counter is consumed before the gateway call so concurrent guesses cannot
// exceed the cap. On success the session is destroyed and a token pair is
// issued.
func (s *AuthService) VerifyOTP(ctx context.Context, sessionID, otp, clientIP string) (*LoginResult, error) {
	if !otpFormat.MatchString(otp) {
		return nil, ErrInvalidOTP
	}

	session, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, ErrSessionNotFound
	}

	if s.sessions.IsExpired(session) {
		_ = s.sessions.Delete(ctx, sessionID)
		return nil, ErrOTPExpired
	}
	if session.Attempts >= models.MaxOTPAttempts {
		_ = s.sessions.Delete(ctx, sessionID)
		return nil, ErrTooManyAttempts
	}

	attempts, err := s.sessions.IncrementAttempts(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if attempts > models.MaxOTPAttempts {
		_ = s.sessions.Delete(ctx, sessionID)
		return nil, ErrTooManyAttempts
	}

	verified, err := s.gateway.VerifyOTP(ctx, sessionID, otp)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGatewayFailure, err)
	}
	if !verified.Success {
		s.activity.Log(models.SecurityEvent{
			EventType:   models.EventOTPVerifyFailed,
			Severity:    models.SeverityMedium,
			PhoneNumber: session.PhoneNumber,
			IPAddress:   clientIP,
			SessionID:   sessionID,
			Details:     map[string]string{"attempts": fmt.Sprintf("%d", attempts)},
		})
		return nil, &OTPMismatchError{AttemptsLeft: models.MaxOTPAttempts - attempts}
	}

	if err := s.sessions.MarkVerified(ctx, sessionID); err != nil {
		s.logger.Warn("failed to mark session verified", zap.Error(err))
	}

	// Re-resolve the user; registration status may have changed since send.
	user, err := s.users.FindByPhone(ctx, util.PhoneCandidates(session.PhoneNumber))
	if err != nil {
		if errors.Is(err, scylla.ErrUserNotFound) {
			return nil, ErrUnauthorizedUser
		}
		return nil, fmt.Errorf("%w: %v", ErrPersistenceUnavailable, err)
	}
	if !user.IsActive {
		return nil, ErrAccountDeactivated
	}

	if err := s.users.UpdateLoginBookkeeping(ctx, user); err != nil {
		// Login proceeds; bookkeeping is best effort.
		s.logger.Warn("failed to update login bookkeeping",
			zap.Error(err),
			util.String("user_id", user.UserID),
		)
	}

	accessToken, err := s.tokens.GenerateAccessToken(user)
	if err != nil {
		return nil, err
	}
	refreshToken, err := s.tokens.GenerateRefreshToken(user)
	if err != nil {
		return nil, err
	}

	// A verified session must not be replayable.
	if err := s.sessions.Delete(ctx, sessionID); err != nil {
		s.logger.Warn("failed to delete verified session", zap.Error(err))
	}

	s.activity.Log(models.SecurityEvent{
		EventType:   models.EventOTPVerifySuccess,
		Severity:    models.SeverityLow,
		UserID:      user.UserID,
		PhoneNumber: session.PhoneNumber,
		IPAddress:   clientIP,
		SessionID:   sessionID,
	})
	s.activity.Log(models.SecurityEvent{
		EventType:   models.EventLogin,
		Severity:    models.SeverityLow,
		UserID:      user.UserID,
		PhoneNumber: session.PhoneNumber,
		IPAddress:   clientIP,
		Details:     map[string]string{"role": user.Role},
	})

	s.logger.Info("Login successful",
		util.String("user_id", user.UserID),
		util.String("role", user.Role),
	)

	return &LoginResult{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		User:         user,
	}, nil
}

// Logout records the logout event. Token invalidation is cookie clearing on
// the handler side; tokens are not tracked server side.
func (s *AuthService) Logout(ctx context.Context, claims *Claims, clientIP string) {
	s.activity.Log(models.SecurityEvent{
		EventType:   models.EventLogout,
		Severity:    models.SeverityLow,
		UserID:      claims.UserID,
		PhoneNumber: claims.PhoneNumber,
		IPAddress:   clientIP,
	})
	s.logger.Info("Logout", util.String("user_id", claims.UserID))
}

// GatewayBalance reports the delivery provider's remaining SMS balance.
func (s *AuthService) GatewayBalance(ctx context.Context) (float64, error) {
	balance, err := s.gateway.Balance(ctx)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrGatewayFailure, err)
	}
	return balance, nil
}
