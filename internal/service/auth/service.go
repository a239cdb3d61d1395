package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/seu-repo/ocpi-hub/internal/ports"
)

var ErrInvalidCredentials = errors.New("auth: invalid credentials")

// Claims are the JWT claims issued to the administrative API.
type Claims struct {
	jwt.RegisteredClaims
	Role string `json:"role"`
}

// Service authenticates the administrative API. It knows a single operator
// account whose bcrypt password hash comes from configuration or Vault;
// issued tokens can be revoked early through the cache.
type Service struct {
	username     string
	passwordHash string
	secret       []byte
	tokenTTL     time.Duration
	cache        ports.Cache
	log          *zap.Logger
}

func NewService(username, passwordHash, jwtSecret string, tokenTTL time.Duration, cache ports.Cache, log *zap.Logger) *Service {
	if tokenTTL <= 0 {
		tokenTTL = time.Hour
	}
	return &Service{
		username:     username,
		passwordHash: passwordHash,
		secret:       []byte(jwtSecret),
		tokenTTL:     tokenTTL,
		cache:        cache,
		log:          log,
	}
}

// Login verifies the operator credentials and returns a signed access token.
func (s *Service) Login(ctx context.Context, username, password string) (string, error) {
	if username != s.username {
		return "", ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(s.passwordHash), []byte(password)); err != nil {
		return "", ErrInvalidCredentials
	}

	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   username,
			ExpiresAt: jwt.NewNumericDate(now.Add(s.tokenTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
			ID:        uuid.New().String(),
		},
		Role: "admin",
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		s.log.Error("Failed to sign admin token", zap.Error(err))
		return "", fmt.Errorf("auth: sign token: %w", err)
	}

	s.log.Info("Admin login", zap.String("username", username))
	return signed, nil
}

// ValidateToken parses and validates an admin token, rejecting revoked ones.
func (s *Service) ValidateToken(ctx context.Context, tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("auth: invalid token: %w", err)
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, errors.New("auth: invalid token claims")
	}
	if s.isRevoked(ctx, claims.ID) {
		return nil, errors.New("auth: token revoked")
	}
	return claims, nil
}

// RevokeToken blacklists a token id until it would have expired anyway.
func (s *Service) RevokeToken(ctx context.Context, tokenID string) error {
	if s.cache == nil {
		return nil
	}
	key := fmt.Sprintf("revoked_token:%s", tokenID)
	if err := s.cache.Set(ctx, key, "revoked", s.tokenTTL); err != nil {
		return fmt.Errorf("auth: revoke token: %w", err)
	}
	s.log.Info("Admin token revoked", zap.String("token_id", tokenID))
	return nil
}

func (s *Service) isRevoked(ctx context.Context, tokenID string) bool {
	if s.cache == nil {
		return false
	}
	val, err := s.cache.Get(ctx, fmt.Sprintf("revoked_token:%s", tokenID))
	if err != nil {
		return false
	}
	return val == "revoked"
}

// HashPassword is a helper for provisioning the operator account.
func HashPassword(password string) (string, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hashed), nil
}
