// Package userdirectory answers organization role questions by asking the
// auth service, with the caller's own bearer token.
package userdirectory

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/MahdiBaghbani/guestservice-go/internal/platform/cache"
	httpclient "github.com/MahdiBaghbani/guestservice-go/internal/platform/http/client"
	"github.com/MahdiBaghbani/guestservice-go/internal/platform/logutil"
)

var (
	// ErrNotConfigured is returned when no directory base URL is set.
	ErrNotConfigured = errors.New("user directory not configured")

	// ErrUnexpectedStatus is returned for non-2xx directory responses.
	ErrUnexpectedStatus = errors.New("unexpected user directory status")

	// ErrEmptyResponse is returned when the directory answers with a null body.
	ErrEmptyResponse = errors.New("empty user directory response")
)

// RoleChecker decides whether the caller holds one of a set of roles in an
// organization.
type RoleChecker interface {
	HasAnyRole(ctx context.Context, orgID, token string, required []string) bool
}

// Config configures the directory client.
type Config struct {
	// BaseURL of the auth service, e.g. http://auth:8082.
	BaseURL string

	// RoleCacheTTL is how long a looked-up role set is reused.
	// Zero selects cache.TTLRoles.
	RoleCacheTTL time.Duration
}

// Client looks up organization roles.
type Client struct {
	baseURL string
	ttl     time.Duration
	http    httpclient.JSONGetter
	cache   cache.Cache
	log     *slog.Logger
	group   singleflight.Group
}

// New creates a client. c may be nil to disable caching.
func New(cfg Config, hc httpclient.JSONGetter, c cache.Cache, log *slog.Logger) *Client {
	ttl := cfg.RoleCacheTTL
	if ttl <= 0 {
		ttl = cache.TTLRoles
	}
	return &Client{
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
		ttl:     ttl,
		http:    hc,
		cache:   c,
		log:     logutil.NoopIfNil(log),
	}
}

// HasAnyRole reports whether the token's owner holds at least one of
// required in orgID. Role names compare trimmed and upper-cased. Every
// failure is logged and answered with false.
func (c *Client) HasAnyRole(ctx context.Context, orgID, token string, required []string) bool {
	if orgID == "" {
		c.log.Warn("role check without organization id")
		return false
	}
	want := normalize(required)
	if len(want) == 0 {
		c.log.Warn("role check without required roles", "org_id", orgID)
		return false
	}

	roles, err := c.Roles(ctx, orgID, token)
	if err != nil {
		c.log.Error("organization role lookup failed", "org_id", orgID, "error", err)
		return false
	}

	have := make(map[string]struct{}, len(roles))
	for _, r := range roles {
		have[r] = struct{}{}
	}
	for _, r := range want {
		if _, ok := have[r]; ok {
			return true
		}
	}

	c.log.Info("caller lacks required organization role",
		"org_id", orgID, "required", want, "roles", roles)
	return false
}

// Roles returns the caller's normalized, sorted role names in orgID.
// Successful lookups are cached per token and organization.
func (c *Client) Roles(ctx context.Context, orgID, token string) ([]string, error) {
	key := cacheKey(orgID, token)

	if c.cache != nil {
		if raw, err := c.cache.Get(ctx, key); err == nil {
			var roles []string
			if err := json.Unmarshal(raw, &roles); err == nil {
				return roles, nil
			}
		}
	}

	// The shared lookup outlives any single caller; the HTTP client timeout
	// bounds it. Each caller still stops waiting when its own ctx ends.
	shared := context.WithoutCancel(ctx)
	ch := c.group.DoChan(key, func() (any, error) {
		roles, err := c.fetch(shared, orgID, token)
		if err != nil {
			return nil, err
		}
		if c.cache != nil {
			if raw, err := json.Marshal(roles); err == nil {
				if err := c.cache.Set(shared, key, raw, c.ttl); err != nil {
					c.log.Warn("role cache write failed", "org_id", orgID, "error", err)
				}
			}
		}
		return roles, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.([]string), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *Client) fetch(ctx context.Context, orgID, token string) ([]string, error) {
	if c.baseURL == "" {
		return nil, ErrNotConfigured
	}

	endpoint := c.baseURL + "/api/auth/" + url.PathEscape(orgID) + "/roles"
	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	} else {
		c.log.Warn("no bearer token for role lookup, calling directory anonymously", "org_id", orgID)
	}

	body, resp, err := c.http.GetJSON(ctx, endpoint, header)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: %d: %s", ErrUnexpectedStatus, resp.StatusCode, truncate(body, 256))
	}

	var raw []*string
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("decode roles: %w", err)
	}
	if raw == nil {
		return nil, ErrEmptyResponse
	}

	names := make([]string, 0, len(raw))
	for _, r := range raw {
		if r != nil {
			names = append(names, *r)
		}
	}
	return normalize(names), nil
}

// normalize trims, upper-cases, de-duplicates and sorts role names.
func normalize(roles []string) []string {
	seen := make(map[string]struct{}, len(roles))
	out := make([]string, 0, len(roles))
	for _, r := range roles {
		r = strings.ToUpper(strings.TrimSpace(r))
		if r == "" {
			continue
		}
		if _, ok := seen[r]; ok {
			continue
		}
		seen[r] = struct{}{}
		out = append(out, r)
	}
	sort.Strings(out)
	return out
}

// cacheKey never embeds the raw token.
func cacheKey(orgID, token string) string {
	sum := sha256.Sum256([]byte(token))
	return "roles:" + orgID + ":" + hex.EncodeToString(sum[:])
}

func truncate(b []byte, n int) string {
	if len(b) > n {
		return string(b[:n]) + "..."
	}
	return string(b)
}
