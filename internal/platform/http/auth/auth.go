// Package auth provides bearer-token authentication middleware for HTTP servers.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/MahdiBaghbani/guestservice-go/internal/components/api"
	"github.com/MahdiBaghbani/guestservice-go/internal/platform/appctx"
	"github.com/MahdiBaghbani/guestservice-go/internal/platform/logutil"
)

// Auth modes accepted by configuration.
const (
	ModeOff = "off"
	ModeJWT = "jwt"
)

// leeway absorbs clock skew between this service and the token issuer.
const leeway = 30 * time.Second

type principalKey struct{}

// Principal is the caller identity attached to an authenticated request.
// Token is the raw bearer token, forwarded to the user directory.
type Principal struct {
	Subject string
	Token   string
}

// WithPrincipal attaches p to ctx.
func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFromContext returns the request principal, or nil.
func PrincipalFromContext(ctx context.Context) *Principal {
	p, _ := ctx.Value(principalKey{}).(*Principal)
	return p
}

// Verifier checks HS256-signed bearer tokens.
type Verifier struct {
	secret []byte
	parser *jwt.Parser
}

// NewVerifier creates a verifier. When issuer is non-empty the iss claim
// must match it.
func NewVerifier(secret, issuer string) (*Verifier, error) {
	if secret == "" {
		return nil, errors.New("auth: jwt secret is required")
	}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithLeeway(leeway),
	}
	if issuer != "" {
		opts = append(opts, jwt.WithIssuer(issuer))
	}
	return &Verifier{secret: []byte(secret), parser: jwt.NewParser(opts...)}, nil
}

// Verify parses token and returns its principal. The sub claim is required.
func (v *Verifier) Verify(token string) (*Principal, error) {
	claims := &jwt.RegisteredClaims{}
	_, err := v.parser.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	})
	if err != nil {
		return nil, err
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: missing sub", jwt.ErrTokenInvalidClaims)
	}
	return &Principal{Subject: claims.Subject, Token: token}, nil
}

// AuthGateConfig configures the auth gate middleware.
type AuthGateConfig struct {
	// RequireAuth returns true if the given path requires authentication.
	// Constructed by the server at router setup time using IsAuthRequired().
	RequireAuth func(path string) bool

	// Log is the base logger for auth-related warnings.
	Log *slog.Logger

	// Verifier checks bearer tokens. Nil disables verification: requests
	// pass through and any bearer token is forwarded as-is, unverified.
	Verifier *Verifier
}

// NewAuthGate returns a middleware that enforces bearer authentication.
// If RequireAuth returns false for the request path, the request passes
// through without token parsing or context enrichment.
func NewAuthGate(cfg AuthGateConfig) func(http.Handler) http.Handler {
	cfg.Log = logutil.NoopIfNil(cfg.Log)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !cfg.RequireAuth(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			token := extractBearerToken(r)

			if cfg.Verifier == nil {
				if token != "" {
					r = r.WithContext(WithPrincipal(r.Context(), &Principal{Token: token}))
				}
				next.ServeHTTP(w, r)
				return
			}

			if token == "" {
				api.WriteUnauthorized(w, api.ReasonUnauthenticated, "authentication required")
				return
			}

			principal, err := cfg.Verifier.Verify(token)
			if err != nil {
				appctx.GetLogger(r.Context()).Debug("bearer token rejected", "error", err)
				if errors.Is(err, jwt.ErrTokenExpired) {
					api.WriteUnauthorized(w, api.ReasonTokenExpired, "token has expired")
					return
				}
				api.WriteUnauthorized(w, api.ReasonUnauthenticated, "invalid bearer token")
				return
			}

			ctx := WithPrincipal(r.Context(), principal)

			// Enrich handler logger with user_id (not used by access log, handler-only)
			reqLogger := appctx.GetLogger(ctx).With("user_id", principal.Subject)
			ctx = appctx.WithLogger(ctx, reqLogger)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// extractBearerToken gets the token from the Authorization header.
func extractBearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if len(h) > 7 && strings.EqualFold(h[:7], "Bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return ""
}
