package middleware

import (
	"context"
	"fmt"
	"net/http"

	"github.com/golang-jwt/jwt/v5"
)

// Caller is the authenticated account behind a request.
type Caller struct {
	UserID string
	Role   string
}

// Claims are the bearer token claims the service accepts.
type Claims struct {
	jwt.RegisteredClaims
	Role string `json:"role"`
}

// WithUser stores the caller in ctx.
func WithUser(ctx context.Context, c Caller) context.Context {
	return context.WithValue(ctx, userKey, c)
}

// UserFromContext returns the caller set by Authenticate.
func UserFromContext(ctx context.Context) (Caller, bool) {
	c, ok := ctx.Value(userKey).(Caller)
	return c, ok
}

// TokenValidator checks HS256 bearer tokens.
type TokenValidator struct {
	secret []byte
	issuer string
}

// NewTokenValidator returns a validator for the shared secret. An empty
// issuer disables the issuer check.
func NewTokenValidator(secret, issuer string) *TokenValidator {
	return &TokenValidator{secret: []byte(secret), issuer: issuer}
}

// Validate parses the token and returns its claims.
func (v *TokenValidator) Validate(token string) (*Claims, error) {
	if len(v.secret) == 0 {
		return nil, fmt.Errorf("token secret not configured")
	}
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("token validation failed: %w", err)
	}
	if !parsed.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("token subject is required")
	}
	if claims.Role == "" {
		return nil, fmt.Errorf("token role is required")
	}
	return claims, nil
}

// Sign issues a token for the caller. Used by tooling and tests.
func (v *TokenValidator) Sign(c Caller, opts ...func(*Claims)) (string, error) {
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: c.UserID, Issuer: v.issuer},
		Role:             c.Role,
	}
	for _, o := range opts {
		o(claims)
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}

var publicPaths = map[string]bool{
	"/health": true,
}

// Authenticate rejects requests without a valid bearer token and stores the
// caller in the request context. A nil validator rejects everything.
func Authenticate(v *TokenValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if publicPaths[r.URL.Path] || r.Method == http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}
			token, ok := bearerToken(r)
			if !ok {
				writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "missing or malformed Authorization header (expected 'Bearer <token>')")
				return
			}
			if v == nil {
				writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "authentication not configured")
				return
			}
			claims, err := v.Validate(token)
			if err != nil {
				writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "invalid or expired token")
				return
			}
			ctx := WithUser(r.Context(), Caller{UserID: claims.Subject, Role: claims.Role})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
