package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"estate-auth/internal/bucketing"
	"estate-auth/internal/client"
	"estate-auth/internal/config"
	"estate-auth/internal/gateway"
	"estate-auth/internal/models"
	"estate-auth/internal/repository/scylla"
)

func testConfig() *config.Config {
	return &config.Config{
		JWT: config.JWTConfig{
			AccessSecret:  "test-access-secret",
			RefreshSecret: "test-refresh-secret",
			Issuer:        "estate-auth-test",
		},
		Hashing: config.HashingConfig{
			Pepper:            "test-pepper",
			Argon2MemoryCost:  8192,
			Argon2TimeCost:    1,
			Argon2Parallelism: 1,
		},
		Bucketing: config.BucketingConfig{
			UserBuckets:  64,
			EventBuckets: 16,
		},
	}
}

func testRedis(t *testing.T) *client.RedisClient {
	t.Helper()
	mr := miniredis.RunT(t)
	rc := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rc.Close() })
	return client.NewRedisClientWith(rc)
}

func testActivityLogger() *ActivityLogger {
	return NewActivityLogger(nil, bucketing.NewManager(testConfig()), zap.NewNop())
}

// fakeUserStore is an in-memory scylla.UserStore.
type fakeUserStore struct {
	users            map[string]*models.AuthUser // keyed by user id
	bookkeepingCalls int
	bookkeepingErr   error
	passwords        map[string]string
}

func newFakeUserStore(users ...*models.AuthUser) *fakeUserStore {
	s := &fakeUserStore{
		users:     make(map[string]*models.AuthUser),
		passwords: make(map[string]string),
	}
	for _, u := range users {
		s.users[u.UserID] = u
	}
	return s
}

func (s *fakeUserStore) FindByPhone(_ context.Context, candidates []string) (*models.AuthUser, error) {
	for _, candidate := range candidates {
		for _, u := range s.users {
			if u.PhoneNumber == candidate {
				return u, nil
			}
		}
	}
	return nil, scylla.ErrUserNotFound
}

func (s *fakeUserStore) FindByID(_ context.Context, userID string) (*models.AuthUser, error) {
	if u, ok := s.users[userID]; ok {
		return u, nil
	}
	return nil, scylla.ErrUserNotFound
}

func (s *fakeUserStore) UpdateLoginBookkeeping(_ context.Context, _ *models.AuthUser) error {
	s.bookkeepingCalls++
	return s.bookkeepingErr
}

func (s *fakeUserStore) UpdatePassword(_ context.Context, userID, passwordHash string) error {
	if _, ok := s.users[userID]; !ok {
		return errors.New("unknown user")
	}
	s.passwords[userID] = passwordHash
	return nil
}

// fakeGateway is an in-memory OTPGateway. Verification succeeds only for
// correctOTP.
type fakeGateway struct {
	sessionID   string
	correctOTP  string
	sendErr     error
	verifyErr   error
	sendCalls   int
	verifyCalls int
}

func (g *fakeGateway) SendOTP(_ context.Context, _ string) (*gateway.SendResult, error) {
	g.sendCalls++
	if g.sendErr != nil {
		return nil, g.sendErr
	}
	return &gateway.SendResult{
		Success:   true,
		SessionID: g.sessionID,
		Channel:   models.ChannelSMS,
	}, nil
}

func (g *fakeGateway) VerifyOTP(_ context.Context, _ string, otp string) (*gateway.VerifyResult, error) {
	g.verifyCalls++
	if g.verifyErr != nil {
		return nil, g.verifyErr
	}
	if otp == g.correctOTP {
		return &gateway.VerifyResult{Success: true}, nil
	}
	return &gateway.VerifyResult{Success: false, Error: "OTP Mismatch"}, nil
}

func (g *fakeGateway) Balance(_ context.Context) (float64, error) {
	return 100, nil
}

func activeUser() *models.AuthUser {
	now := time.Now()
	return &models.AuthUser{
		UserBucket:  3,
		UserID:      "user-42",
		PhoneNumber: "9876543210",
		Role:        models.RoleAdmin,
		IsActive:    true,
		CreatedAt:   now,
	}
}
