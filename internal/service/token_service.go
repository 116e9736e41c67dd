package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"estate-auth/internal/config"
	"estate-auth/internal/models"
	"estate-auth/internal/repository/scylla"
)

const (
	AdminAccessTTL    = 4 * time.Hour
	SubadminAccessTTL = 30 * time.Minute
	RefreshTTL        = 7 * 24 * time.Hour
)

// Claims is the JWT payload for both access and refresh tokens. TokenType
// distinguishes them so a refresh token can never pass access checks.
type Claims struct {
	UserID      string `json:"id"`
	PhoneNumber string `json:"phoneNumber"`
	Role        string `json:"role"`
	TokenType   string `json:"type"`
	jwt.RegisteredClaims
}

// TokenService issues and validates the JWT pair. Access and refresh tokens
// are signed with separate secrets.
type TokenService struct {
	accessSecret  []byte
	refreshSecret []byte
	issuer        string
	users         scylla.UserStore
}

func NewTokenService(cfg *config.Config, users scylla.UserStore) *TokenService {
	return &TokenService{
		accessSecret:  []byte(cfg.JWT.AccessSecret),
		refreshSecret: []byte(cfg.JWT.RefreshSecret),
		issuer:        cfg.JWT.Issuer,
		users:         users,
	}
}

// AccessTTLFor returns the access token lifetime for a role. Subadmins get
// the short session; everything else gets the admin lifetime.
func AccessTTLFor(role string) time.Duration {
	if role == models.RoleSubadmin {
		return SubadminAccessTTL
	}
	return AdminAccessTTL
}

// GenerateAccessToken issues a role-scoped access token.
func (s *TokenService) GenerateAccessToken(user *models.AuthUser) (string, error) {
	return s.sign(user, "access", AccessTTLFor(user.Role), s.accessSecret)
}

// GenerateRefreshToken issues a long-lived refresh token.
func (s *TokenService) GenerateRefreshToken(user *models.AuthUser) (string, error) {
	return s.sign(user, "refresh", RefreshTTL, s.refreshSecret)
}

func (s *TokenService) sign(user *models.AuthUser, tokenType string, ttl time.Duration, secret []byte) (string, error) {
	now := time.Now()
	claims := Claims{
		UserID:      user.UserID,
		PhoneNumber: user.PhoneNumber,
		Role:        user.Role,
		TokenType:   tokenType,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   user.UserID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign %s token: %w", tokenType, err)
	}
	return signed, nil
}

// ParseAccess validates an access token and returns its claims.
func (s *TokenService) ParseAccess(tokenString string) (*Claims, error) {
	claims, err := s.parse(tokenString, s.accessSecret)
	if err != nil {
		return nil, err
	}
	if claims.TokenType != "access" {
		return nil, ErrInvalidRefresh
	}
	return claims, nil
}

// Refresh validates a refresh token and issues a fresh access token for the
// user's current role and phone number. The refresh token itself is not
// rotated.
func (s *TokenService) Refresh(ctx context.Context, refreshToken string) (string, *models.AuthUser, error) {
	claims, err := s.parse(refreshToken, s.refreshSecret)
	if err != nil {
		if errors.Is(err, ErrRefreshExpired) {
			return "", nil, ErrRefreshExpired
		}
		return "", nil, ErrInvalidRefresh
	}
	if claims.TokenType != "refresh" {
		return "", nil, ErrInvalidRefresh
	}

	// Re-resolve the user so role or status changes take effect immediately.
	user, err := s.users.FindByID(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, scylla.ErrUserNotFound) {
			return "", nil, ErrUnauthorizedUser
		}
		return "", nil, fmt.Errorf("%w: %v", ErrPersistenceUnavailable, err)
	}
	if !user.IsActive {
		return "", nil, ErrUnauthorizedUser
	}

	access, err := s.GenerateAccessToken(user)
	if err != nil {
		return "", nil, err
	}
	return access, user, nil
}

func (s *TokenService) parse(tokenString string, secret []byte) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrRefreshExpired
		}
		return nil, ErrInvalidRefresh
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidRefresh
	}
	return claims, nil
}
