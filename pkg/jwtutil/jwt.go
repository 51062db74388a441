package jwtutil

import (
	"errors"
	"fmt"
	"time"

	"github.com/AviOnlineSec/cra/pkg/config"
	"github.com/golang-jwt/jwt/v4"
)

// Token types carried in the token_type claim
const (
	AccessToken  = "access"
	RefreshToken = "refresh"
)

var ErrWrongTokenType = errors.New("wrong token type")

// UserClaims represents the JWT claims for user authentication
type UserClaims struct {
	UserID             uint   `json:"user_id"`
	Email              string `json:"email"`
	Name               string `json:"name"`
	Role               string `json:"role"`
	IsSuperuser        bool   `json:"is_superuser,omitempty"`
	TenantID           *uint  `json:"tenant_id,omitempty"`
	MustChangePassword bool   `json:"must_change_password"`
	TokenType          string `json:"token_type"`
	jwt.RegisteredClaims
}

// TokenPair is what the token endpoints return
type TokenPair struct {
	Access  string `json:"access"`
	Refresh string `json:"refresh"`
}

// JWTUtil is a utility for JWT token operations
type JWTUtil struct {
	config *config.JWTConfig
	now    func() time.Time
}

// NewJWTUtil creates a new JWT utility with the given configuration
func NewJWTUtil(cfg *config.JWTConfig) *JWTUtil {
	return &JWTUtil{
		config: cfg,
		now:    time.Now,
	}
}

// GeneratePair issues an access token and a refresh token for the same claims
func (j *JWTUtil) GeneratePair(claims UserClaims) (*TokenPair, error) {
	access, err := j.sign(claims, AccessToken, j.config.AccessLifetime)
	if err != nil {
		return nil, err
	}
	refresh, err := j.sign(claims, RefreshToken, j.config.RefreshLifetime)
	if err != nil {
		return nil, err
	}
	return &TokenPair{Access: access, Refresh: refresh}, nil
}

// GenerateAccess issues only an access token
func (j *JWTUtil) GenerateAccess(claims UserClaims) (string, error) {
	return j.sign(claims, AccessToken, j.config.AccessLifetime)
}

func (j *JWTUtil) sign(claims UserClaims, tokenType string, lifetime time.Duration) (string, error) {
	if j.config == nil {
		return "", errors.New("JWT configuration not provided")
	}

	now := j.now()
	claims.TokenType = tokenType
	claims.RegisteredClaims = jwt.RegisteredClaims{
		Subject:   fmt.Sprintf("%d", claims.UserID),
		ExpiresAt: jwt.NewNumericDate(now.Add(lifetime)),
		IssuedAt:  jwt.NewNumericDate(now),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(j.config.SigningKey))
}

// ValidateToken validates and parses the JWT token
func (j *JWTUtil) ValidateToken(tokenString string) (*UserClaims, error) {
	if j.config == nil {
		return nil, errors.New("JWT configuration not provided")
	}

	token, err := jwt.ParseWithClaims(
		tokenString,
		&UserClaims{},
		func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
			}
			return []byte(j.config.SigningKey), nil
		},
	)
	if err != nil {
		return nil, err
	}

	if claims, ok := token.Claims.(*UserClaims); ok && token.Valid {
		return claims, nil
	}

	return nil, errors.New("invalid token")
}

// ValidateTyped validates the token and checks its token_type claim
func (j *JWTUtil) ValidateTyped(tokenString, tokenType string) (*UserClaims, error) {
	claims, err := j.ValidateToken(tokenString)
	if err != nil {
		return nil, err
	}
	if claims.TokenType != tokenType {
		return nil, ErrWrongTokenType
	}
	return claims, nil
}
