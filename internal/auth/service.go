package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"dancehost/internal/config"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrAuthDisabled = errors.New("auth disabled: no signing secret configured")
)

// TokenVerifier is the identity collaborator: it turns a bearer token into a principal id.
type TokenVerifier interface {
	VerifyToken(token string) (string, error)
}

// Claims accepts the marketplace's user_id claim and falls back to the registered subject.
type Claims struct {
	UserID string `json:"user_id,omitempty"`
	jwt.RegisteredClaims
}

type Service struct {
	cfg *config.Config
}

var _ TokenVerifier = (*Service)(nil)

func NewService(cfg *config.Config) *Service {
	return &Service{cfg: cfg}
}

func (s *Service) VerifyToken(tokenString string) (string, error) {
	if len(s.cfg.JWT.Secret) == 0 {
		return "", ErrAuthDisabled
	}
	if strings.TrimSpace(tokenString) == "" {
		return "", ErrInvalidToken
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.cfg.JWT.Secret, nil
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return "", ErrInvalidToken
	}

	userID := strings.TrimSpace(claims.UserID)
	if userID == "" {
		userID = strings.TrimSpace(claims.Subject)
	}
	if userID == "" {
		return "", fmt.Errorf("%w: missing user id", ErrInvalidToken)
	}
	return userID, nil
}

// IssueToken signs a token for userID. Production tokens come from the identity service;
// this exists for the devtoken command and tests.
func (s *Service) IssueToken(userID string) (string, error) {
	if len(s.cfg.JWT.Secret) == 0 {
		return "", ErrAuthDisabled
	}
	if strings.TrimSpace(userID) == "" {
		return "", errors.New("user id required")
	}

	now := time.Now()
	claims := Claims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:  userID,
			IssuedAt: jwt.NewNumericDate(now),
		},
	}
	if s.cfg.JWT.ExpiresIn > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(s.cfg.JWT.ExpiresIn))
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.cfg.JWT.Secret)
}
