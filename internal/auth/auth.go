// Package auth guards the admin endpoints with HS256 bearer tokens.
package auth

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
)

// AdminRole is the value of the role claim that grants admin access.
const AdminRole = "admin"

const clockSkew = 30 * time.Second

var (
	// ErrMissingToken is returned when no bearer token is presented.
	ErrMissingToken = errors.New("missing bearer token")

	// ErrInvalidToken is returned for a malformed, expired or badly signed token.
	ErrInvalidToken = errors.New("invalid token")

	// ErrForbidden is returned for a valid token without the admin role.
	ErrForbidden = errors.New("admin role required")
)

// Claims are the token claims the guard understands.
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// IssueAdminToken signs an admin token for subject valid for ttl.
func IssueAdminToken(secret, subject string, ttl time.Duration) (string, error) {
	return issue(secret, subject, AdminRole, ttl)
}

func issue(secret, subject, role string, ttl time.Duration) (string, error) {
	if secret == "" {
		return "", errors.New("auth secret not configured")
	}
	now := time.Now()
	claims := Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// VerifyAdmin parses a token and requires the admin role.
func VerifyAdmin(secret, token string) (*Claims, error) {
	if token == "" {
		return nil, ErrMissingToken
	}
	if secret == "" {
		return nil, fmt.Errorf("%w: auth secret not configured", ErrInvalidToken)
	}

	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return []byte(secret), nil
	}, jwt.WithLeeway(clockSkew), jwt.WithExpirationRequired())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !parsed.Valid {
		return nil, ErrInvalidToken
	}
	if claims.Role != AdminRole {
		return nil, ErrForbidden
	}
	return claims, nil
}

// RequireAdmin returns chi-compatible middleware that rejects requests
// without a valid admin token: 401 when the token is missing or invalid,
// 403 when it lacks the admin role.
func RequireAdmin(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, err := VerifyAdmin(secret, bearer(r.Header.Get("Authorization")))
			switch {
			case err == nil:
				slog.Debug("admin request", "sub", claims.Subject, "path", r.URL.Path)
				next.ServeHTTP(w, r)
			case errors.Is(err, ErrForbidden):
				deny(w, http.StatusForbidden, "FORBIDDEN", err.Error())
			default:
				slog.Warn("admin token rejected", "path", r.URL.Path, "err", err)
				deny(w, http.StatusUnauthorized, "UNAUTHORIZED", "missing or invalid bearer token")
			}
		})
	}
}

func bearer(header string) string {
	parts := strings.SplitN(strings.TrimSpace(header), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

type denial struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func deny(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(denial{Error: code, Message: message})
}
