// Package auth issues and validates operator tokens for the control API.
// Operators exchange a shared key, stored only as a bcrypt hash, for a
// short-lived HS256 JWT.
package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/alexbotov/spinflow/internal/audit"
	"github.com/alexbotov/spinflow/internal/config"
	"github.com/alexbotov/spinflow/internal/domain"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrTokenInvalid       = errors.New("token invalid or expired")
	ErrDisabled           = errors.New("operator login is disabled")
)

const issuer = "spinflow"

// Claims carried by an operator token
type Claims struct {
	Operator string `json:"operator"`
	jwt.RegisteredClaims
}

// Token is an issued operator token
type Token struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Service provides operator authentication
type Service struct {
	config *config.AuthConfig
	audit  audit.Recorder
	now    func() time.Time
}

// New creates a new auth service
func New(cfg *config.AuthConfig, rec audit.Recorder) *Service {
	if rec == nil {
		rec = audit.Discard{}
	}
	return &Service{config: cfg, audit: rec, now: time.Now}
}

// HashKey returns the bcrypt hash to configure as AUTH_OPERATOR_KEY_HASH
func HashKey(key string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash key: %w", err)
	}
	return string(hash), nil
}

// Login checks the operator key and issues a token
func (s *Service) Login(ctx context.Context, operator, key, ip string) (*Token, error) {
	if s.config.OperatorKeyHash == "" {
		return nil, ErrDisabled
	}
	if err := bcrypt.CompareHashAndPassword([]byte(s.config.OperatorKeyHash), []byte(key)); err != nil {
		s.audit.Log(ctx, audit.EventOperatorLoginFailed, domain.SeverityWarning,
			fmt.Sprintf("Operator login failed: %s", operator),
			map[string]string{"operator": operator, "ip": ip},
			audit.WithComponent("auth"))
		return nil, ErrInvalidCredentials
	}

	token, err := s.issue(operator)
	if err != nil {
		return nil, err
	}

	s.audit.Log(ctx, audit.EventOperatorLogin, domain.SeverityInfo,
		fmt.Sprintf("Operator logged in: %s", operator),
		map[string]string{"operator": operator, "ip": ip},
		audit.WithComponent("auth"))
	return token, nil
}

func (s *Service) issue(operator string) (*Token, error) {
	now := s.now().UTC()
	expires := now.Add(s.config.TokenExpiry)

	claims := Claims{
		Operator: operator,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.New().String(),
			Issuer:    issuer,
			Subject:   operator,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(s.config.JWTSecret))
	if err != nil {
		return nil, fmt.Errorf("failed to sign token: %w", err)
	}
	return &Token{Token: signed, ExpiresAt: expires}, nil
}

// ValidateToken parses a token and returns its claims
func (s *Service) ValidateToken(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(s.config.JWTSecret), nil
	}, jwt.WithIssuer(issuer), jwt.WithTimeFunc(s.now))
	if err != nil || !token.Valid {
		return nil, ErrTokenInvalid
	}
	return claims, nil
}
