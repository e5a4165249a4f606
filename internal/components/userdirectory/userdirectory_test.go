package userdirectory_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"reflect"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MahdiBaghbani/guestservice-go/internal/components/userdirectory"
	"github.com/MahdiBaghbani/guestservice-go/internal/platform/cache/memory"
	httpclient "github.com/MahdiBaghbani/guestservice-go/internal/platform/http/client"
)

const orgID = "0190f3a4-7c1e-7b8a-9d2e-3f4a5b6c7d90"

type directory struct {
	srv      *httptest.Server
	calls    atomic.Int32
	lastAuth atomic.Value
}

func newDirectory(t *testing.T, status int, body string) *directory {
	t.Helper()
	d := &directory{}
	d.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		d.calls.Add(1)
		d.lastAuth.Store(r.Header.Get("Authorization"))
		if r.URL.Path != "/api/auth/"+orgID+"/roles" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(d.srv.Close)
	return d
}

func newClient(baseURL string, withCache bool) *userdirectory.Client {
	hc := httpclient.New(&httpclient.Config{TimeoutMS: 2000})
	cfg := userdirectory.Config{BaseURL: baseURL, RoleCacheTTL: time.Minute}
	if !withCache {
		return userdirectory.New(cfg, hc, nil, nil)
	}
	return userdirectory.New(cfg, hc, memory.New(time.Minute, 0), nil)
}

func TestHasAnyRole(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		required []string
		want     bool
	}{
		{"match", http.StatusOK, `["ORG_ADMIN"]`, []string{"ORG_ADMIN", "ORGANISER"}, true},
		{"normalized", http.StatusOK, `["  organiser ", null]`, []string{"ORGANISER"}, true},
		{"required normalized", http.StatusOK, `["ORG_ADMIN"]`, []string{" org_admin"}, true},
		{"no match", http.StatusOK, `["MEMBER"]`, []string{"ORG_ADMIN", "ORGANISER"}, false},
		{"empty list", http.StatusOK, `[]`, []string{"ORG_ADMIN"}, false},
		{"forbidden", http.StatusForbidden, `{"error":"nope"}`, []string{"ORG_ADMIN"}, false},
		{"null body", http.StatusOK, `null`, []string{"ORG_ADMIN"}, false},
		{"garbage", http.StatusOK, `{"roles":1}`, []string{"ORG_ADMIN"}, false},
		{"no required roles", http.StatusOK, `["ORG_ADMIN"]`, nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := newDirectory(t, tt.status, tt.body)
			c := newClient(d.srv.URL, false)
			if got := c.HasAnyRole(context.Background(), orgID, "tok", tt.required); got != tt.want {
				t.Errorf("HasAnyRole = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestHasAnyRole_EmptyOrg(t *testing.T) {
	d := newDirectory(t, http.StatusOK, `["ORG_ADMIN"]`)
	c := newClient(d.srv.URL, false)

	if c.HasAnyRole(context.Background(), "", "tok", []string{"ORG_ADMIN"}) {
		t.Error("expected false for empty organization")
	}
	if d.calls.Load() != 0 {
		t.Error("directory should not be called")
	}
}

func TestRoles_NotConfigured(t *testing.T) {
	c := newClient("", false)
	_, err := c.Roles(context.Background(), orgID, "tok")
	if !errors.Is(err, userdirectory.ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
}

func TestRoles_Errors(t *testing.T) {
	d := newDirectory(t, http.StatusForbidden, `denied`)
	c := newClient(d.srv.URL, false)
	if _, err := c.Roles(context.Background(), orgID, "tok"); !errors.Is(err, userdirectory.ErrUnexpectedStatus) {
		t.Errorf("expected ErrUnexpectedStatus, got %v", err)
	}

	d = newDirectory(t, http.StatusOK, `null`)
	c = newClient(d.srv.URL, false)
	if _, err := c.Roles(context.Background(), orgID, "tok"); !errors.Is(err, userdirectory.ErrEmptyResponse) {
		t.Errorf("expected ErrEmptyResponse, got %v", err)
	}
}

func TestRoles_SortedAndDeduplicated(t *testing.T) {
	d := newDirectory(t, http.StatusOK, `["organiser","ORG_ADMIN","Organiser",""]`)
	c := newClient(d.srv.URL, false)

	got, err := c.Roles(context.Background(), orgID, "tok")
	if err != nil {
		t.Fatalf("Roles: %v", err)
	}
	want := []string{"ORGANISER", "ORG_ADMIN"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Roles = %v, want %v", got, want)
	}
}

func TestRoles_ForwardsBearerToken(t *testing.T) {
	d := newDirectory(t, http.StatusOK, `[]`)
	c := newClient(d.srv.URL, false)

	if _, err := c.Roles(context.Background(), orgID, "secret-token"); err != nil {
		t.Fatalf("Roles: %v", err)
	}
	if got := d.lastAuth.Load(); got != "Bearer secret-token" {
		t.Errorf("Authorization = %v", got)
	}

	if _, err := c.Roles(context.Background(), orgID, ""); err != nil {
		t.Fatalf("Roles: %v", err)
	}
	if got := d.lastAuth.Load(); got != "" {
		t.Errorf("expected no Authorization header, got %v", got)
	}
}

func TestRoles_Cached(t *testing.T) {
	d := newDirectory(t, http.StatusOK, `["ORG_ADMIN"]`)
	c := newClient(d.srv.URL, true)
	ctx := context.Background()

	for range 3 {
		if !c.HasAnyRole(ctx, orgID, "tok-a", []string{"ORG_ADMIN"}) {
			t.Fatal("expected role match")
		}
	}
	if n := d.calls.Load(); n != 1 {
		t.Errorf("expected 1 directory call, got %d", n)
	}

	// Another caller must not reuse tok-a's answer.
	if !c.HasAnyRole(ctx, orgID, "tok-b", []string{"ORG_ADMIN"}) {
		t.Fatal("expected role match")
	}
	if n := d.calls.Load(); n != 2 {
		t.Errorf("expected 2 directory calls, got %d", n)
	}
}

func TestRoles_FailuresNotCached(t *testing.T) {
	d := newDirectory(t, http.StatusInternalServerError, `boom`)
	c := newClient(d.srv.URL, true)
	ctx := context.Background()

	c.HasAnyRole(ctx, orgID, "tok", []string{"ORG_ADMIN"})
	c.HasAnyRole(ctx, orgID, "tok", []string{"ORG_ADMIN"})
	if n := d.calls.Load(); n != 2 {
		t.Errorf("expected 2 directory calls, got %d", n)
	}
}

func TestRoles_SharedLookupSurvivesFirstCallerCancel(t *testing.T) {
	entered := make(chan struct{}, 1)
	release := make(chan struct{})
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		entered <- struct{}{}
		<-release
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`["ORG_ADMIN"]`))
	}))
	t.Cleanup(srv.Close)
	c := newClient(srv.URL, false)

	firstCtx, cancelFirst := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := c.Roles(firstCtx, orgID, "tok")
		firstErr <- err
	}()
	<-entered

	type result struct {
		roles []string
		err   error
	}
	second := make(chan result, 1)
	go func() {
		roles, err := c.Roles(context.Background(), orgID, "tok")
		second <- result{roles, err}
	}()
	// Let the second caller join the in-flight lookup.
	time.Sleep(100 * time.Millisecond)

	cancelFirst()
	select {
	case err := <-firstErr:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("first caller err = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("first caller kept waiting after its context was cancelled")
	}

	close(release)
	select {
	case res := <-second:
		if res.err != nil {
			t.Fatalf("second caller failed: %v", res.err)
		}
		if !reflect.DeepEqual(res.roles, []string{"ORG_ADMIN"}) {
			t.Errorf("roles = %v", res.roles)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("second caller never got an answer")
	}
	if n := calls.Load(); n != 1 {
		t.Errorf("expected 1 directory call, got %d", n)
	}
}
