package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"estate-auth/internal/hashing"
	"estate-auth/internal/models"
	redisrepo "estate-auth/internal/repository/redis"
)

func newTestResetService(t *testing.T, gw *fakeGateway, users *fakeUserStore) (*ResetService, *redisrepo.ResetSessionCache) {
	t.Helper()
	rc := testRedis(t)
	logger := zap.NewNop()

	sessions := redisrepo.NewResetSessionCache(rc, logger)
	hasher := hashing.NewHasher(testConfig())

	svc := NewResetService(gw, users, sessions, hasher, testActivityLogger(), logger)
	return svc, sessions
}

func TestResetFlowEndToEnd(t *testing.T) {
	gw := &fakeGateway{sessionID: "gw-reset-1", correctOTP: "5555"}
	users := newFakeUserStore(activeUser())
	svc, _ := newTestResetService(t, gw, users)
	ctx := context.Background()

	sent, err := svc.SendOTP(ctx, "+919876543210", "203.0.113.5")
	if err != nil {
		t.Fatalf("SendOTP failed: %v", err)
	}
	if sent.SessionID == "" {
		t.Fatal("expected a session id")
	}
	if sent.AttemptsLeft != models.ResetAttemptLimit-1 {
		t.Errorf("attemptsLeft = %d, want %d", sent.AttemptsLeft, models.ResetAttemptLimit-1)
	}

	if err := svc.VerifyOTP(ctx, sent.SessionID, "5555", "203.0.113.5"); err != nil {
		t.Fatalf("VerifyOTP failed: %v", err)
	}

	if err := svc.Reset(ctx, sent.SessionID, "5555", "N3w!Secret", "203.0.113.5"); err != nil {
		t.Fatalf("Reset failed: %v", err)
	}

	hash, ok := users.passwords["user-42"]
	if !ok {
		t.Fatal("password was not updated")
	}
	if !strings.HasPrefix(hash, "$argon2id$") {
		t.Errorf("stored hash has unexpected format: %q", hash)
	}

	// Session is consumed by the reset.
	if err := svc.Reset(ctx, sent.SessionID, "5555", "N3w!Secret", "203.0.113.5"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("replayed reset error = %v, want ErrSessionNotFound", err)
	}
}

func TestResetRequiresVerifiedSession(t *testing.T) {
	gw := &fakeGateway{sessionID: "gw-reset-2", correctOTP: "5555"}
	users := newFakeUserStore(activeUser())
	svc, _ := newTestResetService(t, gw, users)
	ctx := context.Background()

	sent, err := svc.SendOTP(ctx, "9876543210", "203.0.113.5")
	if err != nil {
		t.Fatalf("SendOTP failed: %v", err)
	}

	err = svc.Reset(ctx, sent.SessionID, "5555", "N3w!Secret", "203.0.113.5")
	if !errors.Is(err, ErrSessionNotVerified) {
		t.Errorf("error = %v, want ErrSessionNotVerified", err)
	}
	if len(users.passwords) != 0 {
		t.Error("password must not change without verification")
	}
}

func TestResetUnknownPhone(t *testing.T) {
	svc, _ := newTestResetService(t, &fakeGateway{}, newFakeUserStore())

	if _, err := svc.SendOTP(context.Background(), "9000000000", "203.0.113.5"); !errors.Is(err, ErrUserNotFound) {
		t.Errorf("error = %v, want ErrUserNotFound", err)
	}
}

func TestResetRateLimitPerPhone(t *testing.T) {
	gw := &fakeGateway{sessionID: "gw-reset-3", correctOTP: "5555"}
	users := newFakeUserStore(activeUser())
	svc, _ := newTestResetService(t, gw, users)
	ctx := context.Background()

	for i := 0; i < models.ResetAttemptLimit; i++ {
		if _, err := svc.SendOTP(ctx, "9876543210", "203.0.113.5"); err != nil {
			t.Fatalf("SendOTP %d failed: %v", i+1, err)
		}
	}

	_, err := svc.SendOTP(ctx, "9876543210", "203.0.113.5")
	var limited *PhoneRateLimitedError
	if !errors.As(err, &limited) {
		t.Fatalf("error = %v, want PhoneRateLimitedError", err)
	}
	if limited.BlockedUntil.Before(time.Now()) {
		t.Errorf("blockedUntil in the past: %v", limited.BlockedUntil)
	}
}

func TestResetVerifyWrongOTP(t *testing.T) {
	gw := &fakeGateway{sessionID: "gw-reset-4", correctOTP: "5555"}
	users := newFakeUserStore(activeUser())
	svc, sessions := newTestResetService(t, gw, users)
	ctx := context.Background()

	sent, err := svc.SendOTP(ctx, "9876543210", "203.0.113.5")
	if err != nil {
		t.Fatalf("SendOTP failed: %v", err)
	}

	err = svc.VerifyOTP(ctx, sent.SessionID, "0000", "203.0.113.5")
	var mismatch *OTPMismatchError
	if !errors.As(err, &mismatch) {
		t.Fatalf("error = %v, want OTPMismatchError", err)
	}

	// The session stays; the right code still works afterwards.
	session, _ := sessions.Get(ctx, sent.SessionID)
	if session == nil {
		t.Fatal("session should survive a wrong code")
	}
	if err := svc.VerifyOTP(ctx, sent.SessionID, "5555", "203.0.113.5"); err != nil {
		t.Errorf("correct code after mismatch failed: %v", err)
	}
}

func TestResetRequiresOTPPossession(t *testing.T) {
	gw := &fakeGateway{sessionID: "gw-reset-5", correctOTP: "5555"}
	users := newFakeUserStore(activeUser())
	svc, _ := newTestResetService(t, gw, users)
	ctx := context.Background()

	sent, err := svc.SendOTP(ctx, "9876543210", "203.0.113.5")
	if err != nil {
		t.Fatalf("SendOTP failed: %v", err)
	}
	if err := svc.VerifyOTP(ctx, sent.SessionID, "5555", "203.0.113.5"); err != nil {
		t.Fatalf("VerifyOTP failed: %v", err)
	}

	// A leaked session id without the OTP cannot change the password.
	err = svc.Reset(ctx, sent.SessionID, "0000", "N3w!Secret", "203.0.113.5")
	if !errors.Is(err, ErrOTPMismatch) {
		t.Errorf("error = %v, want ErrOTPMismatch", err)
	}
	if len(users.passwords) != 0 {
		t.Error("password must not change without the OTP")
	}
}

func TestResetExpiredSession(t *testing.T) {
	gw := &fakeGateway{correctOTP: "5555"}
	users := newFakeUserStore(activeUser())
	svc, sessions := newTestResetService(t, gw, users)
	ctx := context.Background()

	now := time.Now()
	expired := &models.PasswordResetSession{
		SessionID:         "stale-reset",
		PhoneNumber:       "9876543210",
		UserID:            "user-42",
		ProviderSessionID: "gw-old",
		CreatedAt:         now.Add(-20 * time.Minute),
		ExpiresAt:         now.Add(-10 * time.Minute),
		Verified:          true,
	}
	if err := sessions.Save(ctx, expired); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	if err := svc.Reset(ctx, "stale-reset", "5555", "N3w!Secret", "203.0.113.5"); !errors.Is(err, ErrOTPExpired) {
		t.Errorf("error = %v, want ErrOTPExpired", err)
	}
}

func TestResetPasswordPolicy(t *testing.T) {
	svc, _ := newTestResetService(t, &fakeGateway{}, newFakeUserStore())

	weak := []string{
		"alllowercase1!",
		"ALLUPPERCASE1!",
		"NoDigitsHere!",
		"NoSpecials123A",
		"tiny!A1",
	}
	for _, password := range weak {
		if err := svc.Reset(context.Background(), "whatever", "1234", password, "203.0.113.5"); !errors.Is(err, ErrInvalidPassword) {
			t.Errorf("Reset(%q) error = %v, want ErrInvalidPassword", password, err)
		}
	}
}
