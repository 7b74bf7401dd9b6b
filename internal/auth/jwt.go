// Package auth - jwt.go verifies the bearer tokens presented to the audit API. Tokens
// are HS256-signed with a shared secret read from AUDIT_JWT_SECRET and carry the
// caller's identity, roles and audit scopes.
package auth

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// SecretEnvVar names the environment variable holding the signing secret.
const SecretEnvVar = "AUDIT_JWT_SECRET"

const issuer = "audit-trail"

var (
	jwtSecret     string
	jwtSecretOnce sync.Once
	jwtSecretErr  error
)

// Claims represents the JWT claims structure
type Claims struct {
	Username string   `json:"username,omitempty"`
	Roles    []string `json:"roles,omitempty"`
	Scopes   []string `json:"scopes"`
	jwt.RegisteredClaims
}

func isDevMode() bool {
	devMode := os.Getenv("AUDIT_DEV_MODE")
	return devMode == "true" || devMode == "1" || os.Getenv("GIN_MODE") == "debug"
}

func generateRandomSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate development secret: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// ValidateJWTSecret checks that the signing secret is configured. In dev mode a
// random secret is generated instead, so tokens do not survive a restart. Call this
// at application startup.
func ValidateJWTSecret() error {
	jwtSecretOnce.Do(func() {
		secret := os.Getenv(SecretEnvVar)
		if secret == "" {
			if !isDevMode() {
				jwtSecretErr = fmt.Errorf("%s is required; generate one with: go run scripts/generate-key.go", SecretEnvVar)
				return
			}
			jwtSecret, jwtSecretErr = generateRandomSecret()
			slog.Warn("JWT secret not set, using a generated development secret", "env", SecretEnvVar)
			return
		}
		if len(secret) < 32 {
			slog.Warn("JWT secret is shorter than 32 characters", "env", SecretEnvVar)
		}
		jwtSecret = secret
	})
	return jwtSecretErr
}

// GetJWTSecret returns the validated secret. It panics when no secret is available.
func GetJWTSecret() string {
	if jwtSecret == "" {
		if err := ValidateJWTSecret(); err != nil {
			panic(err)
		}
	}
	return jwtSecret
}

// GenerateJWT issues a token for subject. A zero expiresIn means one hour.
func GenerateJWT(subject, username string, roles, scopes []string, expiresIn time.Duration) (string, error) {
	if expiresIn == 0 {
		expiresIn = time.Hour
	}
	now := time.Now()
	claims := &Claims{
		Username: username,
		Roles:    roles,
		Scopes:   scopes,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(expiresIn)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    issuer,
			Subject:   subject,
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(GetJWTSecret()))
}

// ValidateJWT parses and validates a token string.
func ValidateJWT(tokenString string) (*Claims, error) {
	secret := GetJWTSecret()

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return []byte(secret), nil
	}, jwt.WithIssuer(issuer), jwt.WithExpirationRequired())
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token")
	}
	if claims.Subject == "" {
		return nil, errors.New("token has no subject")
	}
	return claims, nil
}
