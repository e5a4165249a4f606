package auth

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/golang-jwt/jwt/v5"

	"github.com/MahdiBaghbani/guestservice-go/internal/platform/appctx"
	httpmw "github.com/MahdiBaghbani/guestservice-go/internal/platform/http/middleware"
)

const (
	testSecret  = "test-secret-with-enough-entropy"
	testIssuer  = "https://auth.example.test"
	testSubject = "0190f3a4-7c1e-7b8a-9d2e-3f4a5b6c7d8f"
)

// attrRecorder remembers the attributes attached through Logger.With.
type attrRecorder struct {
	attrs map[string]any
}

func (h *attrRecorder) Enabled(context.Context, slog.Level) bool  { return true }
func (h *attrRecorder) Handle(context.Context, slog.Record) error { return nil }
func (h *attrRecorder) WithGroup(string) slog.Handler             { return h }

func (h *attrRecorder) WithAttrs(attrs []slog.Attr) slog.Handler {
	nh := &attrRecorder{attrs: make(map[string]any, len(h.attrs)+len(attrs))}
	for k, v := range h.attrs {
		nh.attrs[k] = v
	}
	for _, a := range attrs {
		nh.attrs[a.Key] = a.Value.Any()
	}
	return nh
}

func sign(t *testing.T, claims jwt.RegisteredClaims, method jwt.SigningMethod, secret string) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(method, claims).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return tok
}

func validClaims() jwt.RegisteredClaims {
	return jwt.RegisteredClaims{
		Subject:   testSubject,
		Issuer:    testIssuer,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}
}

func newVerifier(t *testing.T, issuer string) *Verifier {
	t.Helper()
	v, err := NewVerifier(testSecret, issuer)
	if err != nil {
		t.Fatalf("NewVerifier: %v", err)
	}
	return v
}

func TestNewVerifier_RequiresSecret(t *testing.T) {
	if _, err := NewVerifier("", ""); err == nil {
		t.Error("expected error for empty secret")
	}
}

func TestVerifier_Verify(t *testing.T) {
	expired := validClaims()
	expired.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Hour))
	otherIssuer := validClaims()
	otherIssuer.Issuer = "https://elsewhere.test"
	noSubject := validClaims()
	noSubject.Subject = ""

	tests := []struct {
		name    string
		token   string
		wantErr bool
	}{
		{"valid", sign(t, validClaims(), jwt.SigningMethodHS256, testSecret), false},
		{"wrong secret", sign(t, validClaims(), jwt.SigningMethodHS256, "another-secret"), true},
		{"wrong algorithm", sign(t, validClaims(), jwt.SigningMethodHS512, testSecret), true},
		{"expired", sign(t, expired, jwt.SigningMethodHS256, testSecret), true},
		{"wrong issuer", sign(t, otherIssuer, jwt.SigningMethodHS256, testSecret), true},
		{"no subject", sign(t, noSubject, jwt.SigningMethodHS256, testSecret), true},
		{"garbage", "not.a.jwt", true},
	}

	v := newVerifier(t, testIssuer)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := v.Verify(tt.token)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("Verify: %v", err)
			}
			if p.Subject != testSubject || p.Token != tt.token {
				t.Errorf("unexpected principal %+v", p)
			}
		})
	}
}

func TestVerifier_IssuerOptional(t *testing.T) {
	claims := validClaims()
	claims.Issuer = "anyone"
	if _, err := newVerifier(t, "").Verify(sign(t, claims, jwt.SigningMethodHS256, testSecret)); err != nil {
		t.Errorf("issuer should not be checked when unset: %v", err)
	}
}

func gateRouter(logger *slog.Logger, v *Verifier, h http.HandlerFunc) chi.Router {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(httpmw.RequestLoggerMiddleware(logger))
	r.Use(NewAuthGate(AuthGateConfig{
		RequireAuth: func(path string) bool { return path != "/health" },
		Log:         logger,
		Verifier:    v,
	}))
	r.Get("/api/guests/my-events", h)
	r.Get("/health", h)
	return r
}

func TestAuthGate_Status(t *testing.T) {
	expired := validClaims()
	expired.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Hour))

	tests := []struct {
		name       string
		path       string
		header     string
		wantStatus int
	}{
		{"valid token", "/api/guests/my-events", "Bearer " + sign(t, validClaims(), jwt.SigningMethodHS256, testSecret), http.StatusOK},
		{"lowercase scheme", "/api/guests/my-events", "bearer " + sign(t, validClaims(), jwt.SigningMethodHS256, testSecret), http.StatusOK},
		{"missing header", "/api/guests/my-events", "", http.StatusUnauthorized},
		{"basic scheme", "/api/guests/my-events", "Basic dXNlcjpwYXNz", http.StatusUnauthorized},
		{"expired", "/api/guests/my-events", "Bearer " + sign(t, expired, jwt.SigningMethodHS256, testSecret), http.StatusUnauthorized},
		{"unprotected path", "/health", "", http.StatusOK},
	}

	ok := func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) }
	r := gateRouter(slog.New(&attrRecorder{}), newVerifier(t, testIssuer), ok)

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rr := httptest.NewRecorder()
			r.ServeHTTP(rr, req)
			if rr.Code != tt.wantStatus {
				t.Errorf("expected %d, got %d (%s)", tt.wantStatus, rr.Code, rr.Body.String())
			}
		})
	}
}

func TestAuthGate_AttachesPrincipalAndUserID(t *testing.T) {
	token := sign(t, validClaims(), jwt.SigningMethodHS256, testSecret)

	var (
		principal *Principal
		userID    any
	)
	h := func(w http.ResponseWriter, r *http.Request) {
		principal = PrincipalFromContext(r.Context())
		if rh, ok := appctx.GetLogger(r.Context()).Handler().(*attrRecorder); ok {
			userID = rh.attrs["user_id"]
		}
	}
	r := gateRouter(slog.New(&attrRecorder{}), newVerifier(t, testIssuer), h)

	req := httptest.NewRequest(http.MethodGet, "/api/guests/my-events", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	r.ServeHTTP(httptest.NewRecorder(), req)

	if principal == nil || principal.Subject != testSubject || principal.Token != token {
		t.Fatalf("unexpected principal %+v", principal)
	}
	if userID != testSubject {
		t.Errorf("expected user_id %q in handler logger, got %v", testSubject, userID)
	}
}

func TestAuthGate_NoPrincipalForPublicEndpoints(t *testing.T) {
	var principal *Principal
	h := func(w http.ResponseWriter, r *http.Request) { principal = PrincipalFromContext(r.Context()) }
	r := gateRouter(slog.New(&attrRecorder{}), newVerifier(t, testIssuer), h)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Authorization", "Bearer "+sign(t, validClaims(), jwt.SigningMethodHS256, testSecret))
	r.ServeHTTP(httptest.NewRecorder(), req)

	if principal != nil {
		t.Errorf("public endpoints must not be enriched, got %+v", principal)
	}
}

func TestAuthGate_ModeOffForwardsToken(t *testing.T) {
	var principal *Principal
	h := func(w http.ResponseWriter, r *http.Request) {
		principal = PrincipalFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}
	r := gateRouter(slog.New(&attrRecorder{}), nil, h)

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/guests/my-events", nil))
	if rr.Code != http.StatusOK || principal != nil {
		t.Fatalf("expected pass-through without principal, got %d %+v", rr.Code, principal)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/guests/my-events", nil)
	req.Header.Set("Authorization", "Bearer opaque")
	r.ServeHTTP(httptest.NewRecorder(), req)
	if principal == nil || principal.Token != "opaque" || principal.Subject != "" {
		t.Errorf("expected unverified token forwarded, got %+v", principal)
	}
}
