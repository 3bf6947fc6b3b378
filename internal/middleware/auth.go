package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var (
	ErrMissingToken     = errors.New("authorization header missing")
	ErrMalformedHeader  = errors.New("invalid authorization header format")
	ErrInvalidToken     = errors.New("token is invalid")
	ErrExpiredToken     = errors.New("token has expired")
	ErrAuthNotAvailable = errors.New("authentication is not configured")
)

// Claims identify the owner of a request. The owner id is the subject.
type Claims struct {
	jwt.RegisteredClaims
}

// OwnerID returns the authenticated owner of the request, or "".
func OwnerID(ctx context.Context) string {
	id, _ := ctx.Value(ownerIDKey).(string)
	return id
}

// WithOwnerID returns ctx carrying ownerID.
func WithOwnerID(ctx context.Context, ownerID string) context.Context {
	return context.WithValue(ctx, ownerIDKey, ownerID)
}

// Auth verifies HMAC-signed bearer tokens.
type Auth struct {
	secret []byte
	logger *slog.Logger
}

// NewAuth creates a verifier. With an empty secret every token is rejected.
func NewAuth(secret string, logger *slog.Logger) *Auth {
	return &Auth{secret: []byte(secret), logger: logger}
}

// Verify parses a token and returns its owner id.
func (a *Auth) Verify(tokenString string) (string, error) {
	if len(a.secret) == 0 {
		return "", ErrAuthNotAvailable
	}
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return a.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", ErrExpiredToken
		}
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid {
		return "", ErrInvalidToken
	}
	if claims.Subject == "" {
		return "", fmt.Errorf("%w: subject missing", ErrInvalidToken)
	}
	return claims.Subject, nil
}

func bearer(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", ErrMissingToken
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") || strings.TrimSpace(parts[1]) == "" {
		return "", ErrMalformedHeader
	}
	return strings.TrimSpace(parts[1]), nil
}

// Optional authenticates the request when it carries a token. Requests
// without one pass through anonymously; a bad token is rejected.
func (a *Auth) Optional(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tok, err := bearer(r)
		if errors.Is(err, ErrMissingToken) {
			next.ServeHTTP(w, r)
			return
		}
		a.serve(w, r, next, tok, err)
	})
}

// Require rejects requests without a valid token.
func (a *Auth) Require(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tok, err := bearer(r)
		a.serve(w, r, next, tok, err)
	})
}

func (a *Auth) serve(w http.ResponseWriter, r *http.Request, next http.Handler, tok string, err error) {
	if err == nil {
		var owner string
		owner, err = a.Verify(tok)
		if err == nil {
			next.ServeHTTP(w, r.WithContext(WithOwnerID(r.Context(), owner)))
			return
		}
	}
	a.logger.Warn("Authentication failed", "path", r.URL.Path, "request_id", RequestID(r.Context()), "error", err)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	if err := json.NewEncoder(w).Encode(map[string]string{"error": unauthorizedMessage(err)}); err != nil {
		a.logger.Error("Failed to encode error response", "error", err)
	}
}

func unauthorizedMessage(err error) string {
	switch {
	case errors.Is(err, ErrMissingToken):
		return "Authorization header missing."
	case errors.Is(err, ErrMalformedHeader):
		return "Authorization header must be 'Bearer <token>'."
	case errors.Is(err, ErrExpiredToken):
		return "Token has expired."
	case errors.Is(err, ErrAuthNotAvailable):
		return "Authentication is not configured on this server."
	default:
		return "Token is invalid."
	}
}

// NewToken signs a token for ownerID. It is used by tests and local tooling.
func NewToken(secret, ownerID string, validity time.Duration) (string, error) {
	now := time.Now()
	claims := &Claims{RegisteredClaims: jwt.RegisteredClaims{
		Subject:   ownerID,
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(validity)),
		ID:        uuid.NewString(),
	}}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}
