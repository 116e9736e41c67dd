package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"estate-auth/internal/models"
	redisrepo "estate-auth/internal/repository/redis"
)

func newTestAuthService(t *testing.T, gw *fakeGateway, users *fakeUserStore) (*AuthService, *redisrepo.OTPSessionCache, *redisrepo.IPAttemptCache) {
	t.Helper()
	rc := testRedis(t)
	logger := zap.NewNop()

	sessions := redisrepo.NewOTPSessionCache(rc, logger)
	ipAttempts := redisrepo.NewIPAttemptCache(rc, logger)
	tokens := NewTokenService(testConfig(), users)

	svc := NewAuthService(gw, users, sessions, ipAttempts, tokens, testActivityLogger(), logger)
	return svc, sessions, ipAttempts
}

func TestSendOTPHappyPath(t *testing.T) {
	gw := &fakeGateway{sessionID: "gw-sess-1", correctOTP: "1234"}
	svc, sessions, _ := newTestAuthService(t, gw, newFakeUserStore(activeUser()))
	ctx := context.Background()

	result, err := svc.SendOTP(ctx, "+91 98765 43210", "203.0.113.5")
	if err != nil {
		t.Fatalf("SendOTP failed: %v", err)
	}
	if result.SessionID != "gw-sess-1" {
		t.Errorf("sessionID = %q", result.SessionID)
	}
	if result.ExpiresIn != 120 {
		t.Errorf("expiresIn = %d, want 120", result.ExpiresIn)
	}

	session, err := sessions.Get(ctx, "gw-sess-1")
	if err != nil || session == nil {
		t.Fatalf("session not stored: %v", err)
	}
	if session.PhoneNumber != "9876543210" {
		t.Errorf("session phone = %q, want canonical form", session.PhoneNumber)
	}
}

func TestSendOTPInvalidPhone(t *testing.T) {
	gw := &fakeGateway{}
	svc, _, _ := newTestAuthService(t, gw, newFakeUserStore())

	if _, err := svc.SendOTP(context.Background(), "12345", "203.0.113.5"); !errors.Is(err, ErrInvalidPhone) {
		t.Errorf("error = %v, want ErrInvalidPhone", err)
	}
	if gw.sendCalls != 0 {
		t.Error("gateway should not be called for invalid input")
	}
}

func TestSendOTPUnregisteredPhoneCountsAgainstIP(t *testing.T) {
	gw := &fakeGateway{}
	svc, _, ipAttempts := newTestAuthService(t, gw, newFakeUserStore())
	ctx := context.Background()

	_, err := svc.SendOTP(ctx, "9000000000", "198.51.100.3")
	if !errors.Is(err, ErrUnauthorizedPhone) {
		t.Fatalf("error = %v, want ErrUnauthorizedPhone", err)
	}
	if gw.sendCalls != 0 {
		t.Error("gateway should not be called for unregistered numbers")
	}

	count, err := ipAttempts.AttemptCount(ctx, "198.51.100.3")
	if err != nil {
		t.Fatalf("AttemptCount failed: %v", err)
	}
	if count != 1 {
		t.Errorf("IP attempt count = %d, want 1", count)
	}
}

func TestSendOTPBlocksIPAfterRepeatedUnknownNumbers(t *testing.T) {
	gw := &fakeGateway{}
	svc, _, _ := newTestAuthService(t, gw, newFakeUserStore())
	ctx := context.Background()

	var lastErr error
	for i := 0; i < models.IPAttemptLimit; i++ {
		_, lastErr = svc.SendOTP(ctx, "9000000000", "198.51.100.7")
	}

	var blocked *IPBlockedError
	if !errors.As(lastErr, &blocked) {
		t.Fatalf("final attempt error = %v, want IPBlockedError", lastErr)
	}
	if blocked.BlockedUntil.Before(time.Now().Add(23 * time.Hour)) {
		t.Errorf("block too short: until %v", blocked.BlockedUntil)
	}

	// Any further request from the blocked IP is rejected up front.
	if _, err := svc.SendOTP(ctx, "9876543210", "198.51.100.7"); err == nil {
		t.Error("blocked IP should be rejected")
	} else if !errors.As(err, &blocked) {
		t.Errorf("error = %v, want IPBlockedError", err)
	}
}

func TestSendOTPDeactivatedAccount(t *testing.T) {
	user := activeUser()
	user.IsActive = false
	svc, _, _ := newTestAuthService(t, &fakeGateway{}, newFakeUserStore(user))

	if _, err := svc.SendOTP(context.Background(), "9876543210", "203.0.113.5"); !errors.Is(err, ErrAccountDeactivated) {
		t.Errorf("error = %v, want ErrAccountDeactivated", err)
	}
}

func TestVerifyOTPHappyPath(t *testing.T) {
	gw := &fakeGateway{sessionID: "gw-sess-2", correctOTP: "4321"}
	users := newFakeUserStore(activeUser())
	svc, sessions, _ := newTestAuthService(t, gw, users)
	ctx := context.Background()

	if _, err := svc.SendOTP(ctx, "9876543210", "203.0.113.5"); err != nil {
		t.Fatalf("SendOTP failed: %v", err)
	}

	result, err := svc.VerifyOTP(ctx, "gw-sess-2", "4321", "203.0.113.5")
	if err != nil {
		t.Fatalf("VerifyOTP failed: %v", err)
	}
	if result.AccessToken == "" || result.RefreshToken == "" {
		t.Error("expected token pair")
	}
	if result.User.UserID != "user-42" {
		t.Errorf("user = %q", result.User.UserID)
	}
	if users.bookkeepingCalls != 1 {
		t.Errorf("bookkeeping calls = %d, want 1", users.bookkeepingCalls)
	}

	// Verified session is consumed and cannot be replayed.
	if session, _ := sessions.Get(ctx, "gw-sess-2"); session != nil {
		t.Error("session should be deleted after successful login")
	}
	if _, err := svc.VerifyOTP(ctx, "gw-sess-2", "4321", "203.0.113.5"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("replay error = %v, want ErrSessionNotFound", err)
	}
}

func TestVerifyOTPWrongCodeThreeTimesInvalidatesSession(t *testing.T) {
	gw := &fakeGateway{sessionID: "gw-sess-3", correctOTP: "7777"}
	svc, sessions, _ := newTestAuthService(t, gw, newFakeUserStore(activeUser()))
	ctx := context.Background()

	if _, err := svc.SendOTP(ctx, "9876543210", "203.0.113.5"); err != nil {
		t.Fatalf("SendOTP failed: %v", err)
	}

	for want := 2; want >= 0; want-- {
		_, err := svc.VerifyOTP(ctx, "gw-sess-3", "0000", "203.0.113.5")
		var mismatch *OTPMismatchError
		if !errors.As(err, &mismatch) {
			t.Fatalf("error = %v, want OTPMismatchError", err)
		}
		if mismatch.AttemptsLeft != want {
			t.Errorf("attempts left = %d, want %d", mismatch.AttemptsLeft, want)
		}
	}

	// Fourth attempt hits the cap; the correct code no longer helps.
	_, err := svc.VerifyOTP(ctx, "gw-sess-3", "7777", "203.0.113.5")
	if !errors.Is(err, ErrTooManyAttempts) {
		t.Fatalf("error = %v, want ErrTooManyAttempts", err)
	}
	if gw.verifyCalls != 3 {
		t.Errorf("gateway verify calls = %d, want 3", gw.verifyCalls)
	}
	if session, _ := sessions.Get(ctx, "gw-sess-3"); session != nil {
		t.Error("session should be deleted after exhausting attempts")
	}
}

func TestVerifyOTPExpiredSession(t *testing.T) {
	gw := &fakeGateway{sessionID: "gw-sess-4", correctOTP: "1111"}
	svc, sessions, _ := newTestAuthService(t, gw, newFakeUserStore(activeUser()))
	ctx := context.Background()

	now := time.Now()
	expired := &models.OTPSession{
		SessionID:   "gw-sess-4",
		PhoneNumber: "9876543210",
		CreatedAt:   now.Add(-3 * time.Minute),
		ExpiresAt:   now.Add(-time.Minute),
		Channel:     models.ChannelSMS,
	}
	if err := sessions.Save(ctx, expired); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	if _, err := svc.VerifyOTP(ctx, "gw-sess-4", "1111", "203.0.113.5"); !errors.Is(err, ErrOTPExpired) {
		t.Fatalf("error = %v, want ErrOTPExpired", err)
	}
	if gw.verifyCalls != 0 {
		t.Error("gateway should not be called for expired sessions")
	}
	if session, _ := sessions.Get(ctx, "gw-sess-4"); session != nil {
		t.Error("expired session should be deleted on first touch")
	}
}

func TestVerifyOTPInvalidFormat(t *testing.T) {
	svc, _, _ := newTestAuthService(t, &fakeGateway{}, newFakeUserStore())

	for _, otp := range []string{"", "123", "123456789", "12ab"} {
		if _, err := svc.VerifyOTP(context.Background(), "any", otp, "203.0.113.5"); !errors.Is(err, ErrInvalidOTP) {
			t.Errorf("VerifyOTP(%q) error = %v, want ErrInvalidOTP", otp, err)
		}
	}
}

func TestVerifyOTPBookkeepingFailureDoesNotBlockLogin(t *testing.T) {
	gw := &fakeGateway{sessionID: "gw-sess-5", correctOTP: "2468"}
	users := newFakeUserStore(activeUser())
	users.bookkeepingErr = errors.New("scylla timeout")
	svc, _, _ := newTestAuthService(t, gw, users)
	ctx := context.Background()

	if _, err := svc.SendOTP(ctx, "9876543210", "203.0.113.5"); err != nil {
		t.Fatalf("SendOTP failed: %v", err)
	}

	result, err := svc.VerifyOTP(ctx, "gw-sess-5", "2468", "203.0.113.5")
	if err != nil {
		t.Fatalf("VerifyOTP failed despite bookkeeping error: %v", err)
	}
	if result.AccessToken == "" {
		t.Error("expected access token")
	}
}
