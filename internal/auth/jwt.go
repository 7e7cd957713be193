package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Roles carried in tokens.
const (
	RoleOperator = "operador"
	RoleAdmin    = "admin"
)

var (
	ErrMissingToken = errors.New("missing bearer token")
	ErrNoClaims     = errors.New("no claims in context")
)

// Claims identifies the caller of the API.
type Claims struct {
	UserID       string `json:"user_id"`
	EmpresaAlias string `json:"empresa_alias"`
	Rol          string `json:"rol"`
	jwt.RegisteredClaims
}

type contextKey struct{}

// Authenticator issues and verifies HS256 tokens.
type Authenticator struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewAuthenticator creates an Authenticator. A zero ttl means 24h.
func NewAuthenticator(secret string, ttl time.Duration) (*Authenticator, error) {
	if secret == "" {
		return nil, errors.New("jwt secret is required")
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Authenticator{secret: []byte(secret), ttl: ttl, now: time.Now}, nil
}

// GenerateToken signs a token for userID within empresaAlias.
func (a *Authenticator) GenerateToken(userID, empresaAlias, rol string) (string, error) {
	now := a.now()
	claims := Claims{
		UserID:       userID,
		EmpresaAlias: empresaAlias,
		Rol:          rol,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    "lector-ncf",
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(a.ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(a.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// ParseToken verifies signature, algorithm and expiry.
func (a *Authenticator) ParseToken(tokenString string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		return a.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(a.now),
	)
	if err != nil {
		return nil, fmt.Errorf("invalid token: %w", err)
	}
	return claims, nil
}

// JWTMiddleware rejects requests without a valid bearer token and stores the
// claims in the request context. /health stays public.
func (a *Authenticator) JWTMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		header := r.Header.Get("Authorization")
		tokenString, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || tokenString == "" {
			unauthorized(w, ErrMissingToken)
			return
		}

		claims, err := a.ParseToken(tokenString)
		if err != nil {
			unauthorized(w, err)
			return
		}

		next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))
	})
}

func unauthorized(w http.ResponseWriter, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	json.NewEncoder(w).Encode(map[string]string{
		"error": "unauthorized: " + err.Error(),
	})
}

// WithClaims returns a context carrying claims.
func WithClaims(ctx context.Context, claims *Claims) context.Context {
	return context.WithValue(ctx, contextKey{}, claims)
}

// GetClaimsFromContext returns the claims stored by JWTMiddleware.
func GetClaimsFromContext(ctx context.Context) (*Claims, error) {
	claims, ok := ctx.Value(contextKey{}).(*Claims)
	if !ok || claims == nil {
		return nil, ErrNoClaims
	}
	return claims, nil
}
