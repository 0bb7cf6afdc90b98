package api

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

// Authenticator issues and verifies bearer tokens for command submission,
// and hashes operator passwords for whatever credential store backs
// issuance.
type Authenticator struct {
	signingKey []byte
	issuer     string
	ttl        time.Duration
}

// NewAuthenticator builds an Authenticator signing/verifying HS256 tokens
// with signingKey.
func NewAuthenticator(signingKey []byte, issuer string, ttl time.Duration) *Authenticator {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Authenticator{signingKey: signingKey, issuer: issuer, ttl: ttl}
}

// claims is the JWT payload issued to an authenticated operator.
type claims struct {
	jwt.RegisteredClaims
	Subject string `json:"sub"`
}

// IssueToken mints a bearer token for subject (an operator or service
// account identifier).
func (a *Authenticator) IssueToken(subject string) (string, error) {
	now := time.Now()
	c := claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    a.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(a.ttl)),
		},
		Subject: subject,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	return token.SignedString(a.signingKey)
}

// VerifyBearer validates an "Authorization: Bearer <token>" header value
// and returns the authenticated subject.
func (a *Authenticator) VerifyBearer(header string) (string, error) {
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return "", errors.New("api: missing bearer token")
	}
	raw := strings.TrimPrefix(header, prefix)

	var c claims
	token, err := jwt.ParseWithClaims(raw, &c, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("api: unexpected signing method %v", t.Header["alg"])
		}
		return a.signingKey, nil
	})
	if err != nil || !token.Valid {
		return "", fmt.Errorf("api: invalid token: %w", err)
	}
	return c.Subject, nil
}

// HashPassword hashes an operator password for storage.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// VerifyPassword checks password against a previously hashed value.
func VerifyPassword(hash, password string) error {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
}
