package redis

import (
	"context"
	"testing"
	"time"

	"estate-auth/internal/models"
)

func newTestOTPSession() *models.OTPSession {
	now := time.Now().Truncate(time.Second)
	return &models.OTPSession{
		SessionID:   "sess-123",
		PhoneNumber: "9876543210",
		CreatedAt:   now,
		ExpiresAt:   now.Add(models.OTPSessionTTL),
		Channel:     models.ChannelSMS,
	}
}

func TestOTPSessionRoundTrip(t *testing.T) {
	rc, _ := newTestRedis(t)
	cache := NewOTPSessionCache(rc, testLogger())
	ctx := context.Background()

	session := newTestOTPSession()
	if err := cache.Save(ctx, session); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	got, err := cache.Get(ctx, session.SessionID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got == nil {
		t.Fatal("expected session, got nil")
	}
	if got.PhoneNumber != session.PhoneNumber {
		t.Errorf("phone = %q, want %q", got.PhoneNumber, session.PhoneNumber)
	}
	if got.Attempts != 0 || got.Verified {
		t.Errorf("fresh session should have no attempts and be unverified: %+v", got)
	}
	if !got.ExpiresAt.Equal(session.ExpiresAt) {
		t.Errorf("expires_at = %v, want %v", got.ExpiresAt, session.ExpiresAt)
	}
	if got.Channel != models.ChannelSMS {
		t.Errorf("channel = %q", got.Channel)
	}
}

func TestOTPSessionMissing(t *testing.T) {
	rc, _ := newTestRedis(t)
	cache := NewOTPSessionCache(rc, testLogger())

	got, err := cache.Get(context.Background(), "no-such-session")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got != nil {
		t.Errorf("expected nil for missing session, got %+v", got)
	}
}

func TestOTPSessionIncrementAttempts(t *testing.T) {
	rc, _ := newTestRedis(t)
	cache := NewOTPSessionCache(rc, testLogger())
	ctx := context.Background()

	session := newTestOTPSession()
	if err := cache.Save(ctx, session); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	for want := 1; want <= 3; want++ {
		got, err := cache.IncrementAttempts(ctx, session.SessionID)
		if err != nil {
			t.Fatalf("IncrementAttempts failed: %v", err)
		}
		if got != want {
			t.Errorf("attempt count = %d, want %d", got, want)
		}
	}

	loaded, err := cache.Get(ctx, session.SessionID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if loaded.Attempts != 3 {
		t.Errorf("persisted attempts = %d, want 3", loaded.Attempts)
	}
}

func TestOTPSessionMarkVerifiedAndDelete(t *testing.T) {
	rc, _ := newTestRedis(t)
	cache := NewOTPSessionCache(rc, testLogger())
	ctx := context.Background()

	session := newTestOTPSession()
	if err := cache.Save(ctx, session); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if err := cache.MarkVerified(ctx, session.SessionID); err != nil {
		t.Fatalf("MarkVerified failed: %v", err)
	}

	got, _ := cache.Get(ctx, session.SessionID)
	if !got.Verified {
		t.Error("session should be verified")
	}

	if err := cache.Delete(ctx, session.SessionID); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if got, _ := cache.Get(ctx, session.SessionID); got != nil {
		t.Error("session should be gone after delete")
	}

	// Idempotent delete.
	if err := cache.Delete(ctx, session.SessionID); err != nil {
		t.Errorf("second delete should not fail: %v", err)
	}
}

func TestOTPSessionExpiry(t *testing.T) {
	rc, mr := newTestRedis(t)
	cache := NewOTPSessionCache(rc, testLogger())
	ctx := context.Background()

	session := newTestOTPSession()
	if err := cache.Save(ctx, session); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if cache.IsExpired(session) {
		t.Error("fresh session should not be expired")
	}

	cache.now = func() time.Time { return session.ExpiresAt.Add(time.Second) }
	if !cache.IsExpired(session) {
		t.Error("session past expires_at should be expired")
	}

	// After the GC TTL the hash itself disappears.
	mr.FastForward(models.OTPSessionGCTTL + time.Second)
	if got, _ := cache.Get(ctx, session.SessionID); got != nil {
		t.Error("session hash should be evicted after GC TTL")
	}
}
