// Package client provides a bounded outbound HTTP client for calls to
// sibling services.
package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

var (
	ErrResponseTooLarge = errors.New("response body too large")
	ErrInvalidURL       = errors.New("invalid URL")
	ErrRedirectBlocked  = errors.New("redirect blocked by policy")
)

// JSONGetter is the part of Client that API consumers depend on.
type JSONGetter interface {
	GetJSON(ctx context.Context, urlStr string, header http.Header) ([]byte, *http.Response, error)
}

// Config bounds outbound requests.
type Config struct {
	TimeoutMS        int
	ConnectTimeoutMS int
	MaxResponseBytes int64
}

// ApplyDefaults fills unset limits.
func (c *Config) ApplyDefaults() {
	if c.TimeoutMS <= 0 {
		c.TimeoutMS = 5000
	}
	if c.ConnectTimeoutMS <= 0 {
		c.ConnectTimeoutMS = 2000
	}
	if c.MaxResponseBytes <= 0 {
		c.MaxResponseBytes = 1 << 20
	}
}

// Client carries caller credentials to sibling services, so it never
// follows redirects and it ignores proxy environment variables.
type Client struct {
	cfg        Config
	httpClient *http.Client
}

// New creates a client. A nil cfg selects the defaults.
func New(cfg *Config) *Client {
	var c Config
	if cfg != nil {
		c = *cfg
	}
	c.ApplyDefaults()

	dialer := &net.Dialer{
		Timeout: time.Duration(c.ConnectTimeoutMS) * time.Millisecond,
	}
	transport := &http.Transport{
		// Explicitly ignore proxy environment variables
		Proxy:           nil,
		DialContext:     dialer.DialContext,
		MaxIdleConns:    10,
		IdleConnTimeout: 30 * time.Second,
	}

	return &Client{
		cfg: c,
		httpClient: &http.Client{
			Transport: transport,
			Timeout:   time.Duration(c.TimeoutMS) * time.Millisecond,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
}

// Do performs req under ctx, propagating the trace context. Any 3xx
// response is turned into ErrRedirectBlocked.
func (c *Client) Do(ctx context.Context, req *http.Request) (*http.Response, error) {
	req = req.WithContext(ctx)
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	if isRedirect(resp.StatusCode) {
		resp.Body.Close()
		return nil, fmt.Errorf("%w: received %d", ErrRedirectBlocked, resp.StatusCode)
	}
	return resp, nil
}

// GetJSON performs a GET with the given headers and reads the response body
// with the configured size limit. Non-2xx responses are returned with their
// body so callers can log it.
func (c *Client) GetJSON(ctx context.Context, urlStr string, header http.Header) ([]byte, *http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, urlStr, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.Do(ctx, req)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.cfg.MaxResponseBytes+1))
	if err != nil {
		return nil, resp, err
	}
	if int64(len(body)) > c.cfg.MaxResponseBytes {
		return nil, resp, ErrResponseTooLarge
	}
	return body, resp, nil
}

// isRedirect returns true if the status code is a redirect.
func isRedirect(code int) bool {
	return code == http.StatusMovedPermanently ||
		code == http.StatusFound ||
		code == http.StatusSeeOther ||
		code == http.StatusTemporaryRedirect ||
		code == http.StatusPermanentRedirect
}
