// Package datasource resolves console data requests against either the
// bundled mock fixtures or a real REST backend.
package datasource

import (
	"bytes"
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"

	"rent360.org/internal/config"
	"rent360.org/internal/obs"
)

//go:embed fixtures
var bundled embed.FS

var (
	ErrNotFound    = errors.New("datasource: not found")
	ErrUnavailable = errors.New("datasource: backend unavailable")
	// ErrMockMode is returned by writes, which only exist against a real backend.
	ErrMockMode = errors.New("datasource: writes require api mode")
)

// Request names the same resource in both modes.
type Request struct {
	Endpoint string
	MockPath string
	Params   map[string]string
}

// Source is the read/write surface used by the repositories.
type Source interface {
	Get(ctx context.Context, req Request, dst any) error
	Post(ctx context.Context, endpoint string, body, dst any) error
	Put(ctx context.Context, endpoint string, body, dst any) error
	Mock() bool
}

// StatusError is a non-2xx backend response.
type StatusError struct {
	Method string
	URL    string
	Code   int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("datasource: %s %s: status %d", e.Method, e.URL, e.Code)
}

func (e *StatusError) Unwrap() error {
	if e.Code == http.StatusNotFound {
		return ErrNotFound
	}
	if e.Code >= 500 {
		return ErrUnavailable
	}
	return nil
}

// Client implements Source.
type Client struct {
	mock     bool
	apiBase  string
	mockBase string
	fixtures fs.FS
	http     *http.Client
	breaker  *gobreaker.CircuitBreaker

	forwardBearer bool
	token         string
}

// Option configures Client.
type Option func(*Client)

// WithHTTPClient replaces the transport client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithFixtures replaces the mock fixture tree.
func WithFixtures(fsys fs.FS) Option {
	return func(c *Client) {
		if fsys != nil {
			c.fixtures = fsys
		}
	}
}

// New builds a client for cfg. In mock mode MockAPIBaseURL selects the
// fixture tree: empty or "embedded" uses the bundled fixtures, an http(s)
// URL is fetched over HTTP, anything else is a local directory.
func New(cfg config.APIConfig, opts ...Option) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 8 * time.Second
	}
	c := &Client{
		mock:    cfg.UseMockAPI,
		apiBase: strings.TrimRight(cfg.APIBaseURL, "/"),
		http:    &http.Client{Timeout: timeout},

		forwardBearer: cfg.ForwardSessionToken,
		token:         strings.TrimSpace(cfg.Token),
	}
	mockBase := strings.TrimSpace(cfg.MockAPIBaseURL)
	switch {
	case mockBase == "" || mockBase == "embedded":
		sub, _ := fs.Sub(bundled, "fixtures")
		c.fixtures = sub
	case strings.HasPrefix(mockBase, "http://") || strings.HasPrefix(mockBase, "https://"):
		c.mockBase = strings.TrimRight(mockBase, "/")
	default:
		c.fixtures = os.DirFS(mockBase)
	}
	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "rent360-api",
		MaxRequests: 3,
		Interval:    30 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5 ||
				(counts.Requests >= 10 && float64(counts.TotalFailures)/float64(counts.Requests) >= 0.5)
		},
		IsSuccessful: func(err error) bool {
			return err == nil || !errors.Is(err, ErrUnavailable)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			obs.Logger().WithFields(logrus.Fields{
				"circuit_breaker": name,
				"from":            from.String(),
				"to":              to.String(),
			}).Info("circuit breaker state changed")
		},
	})
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) Mock() bool { return c.mock }

// Get resolves req against the active mode and decodes the JSON body into dst.
func (c *Client) Get(ctx context.Context, req Request, dst any) error {
	if c.mock {
		if c.fixtures != nil {
			return c.readFixture(req.MockPath, dst)
		}
		return c.do(ctx, http.MethodGet, joinURL(c.mockBase, req.MockPath), nil, nil, dst)
	}
	return c.do(ctx, http.MethodGet, joinURL(c.apiBase, req.Endpoint), req.Params, nil, dst)
}

func (c *Client) Post(ctx context.Context, endpoint string, body, dst any) error {
	if c.mock {
		return ErrMockMode
	}
	return c.do(ctx, http.MethodPost, joinURL(c.apiBase, endpoint), nil, body, dst)
}

func (c *Client) Put(ctx context.Context, endpoint string, body, dst any) error {
	if c.mock {
		return ErrMockMode
	}
	return c.do(ctx, http.MethodPut, joinURL(c.apiBase, endpoint), nil, body, dst)
}

func (c *Client) readFixture(path string, dst any) error {
	raw, err := fs.ReadFile(c.fixtures, strings.TrimLeft(path, "/"))
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: fixture %s", ErrNotFound, path)
	}
	if err != nil {
		return fmt.Errorf("%w: fixture %s: %v", ErrUnavailable, path, err)
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("decode fixture %s: %w", path, err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, target string, params map[string]string, body, dst any) error {
	if len(params) > 0 {
		q := url.Values{}
		for k, v := range params {
			q.Set(k, v)
		}
		target += "?" + q.Encode()
	}
	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return err
		}
	}

	raw, err := c.breaker.Execute(func() (interface{}, error) {
		var rd io.Reader
		if payload != nil {
			rd = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, target, rd)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/json")
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if token := c.credential(ctx); token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		resp, err := c.http.Do(req)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		defer resp.Body.Close()
		data, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return nil, &StatusError{Method: method, URL: target, Code: resp.StatusCode, Body: strings.TrimSpace(string(data))}
		}
		return data, nil
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if err != nil {
		return err
	}
	data := raw.([]byte)
	if dst == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, target, err)
	}
	return nil
}

// joinURL joins base and path with exactly one slash.
func joinURL(base, path string) string {
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(path, "/")
}

type ctxKey struct{}

// credential picks the upstream bearer: the caller's token when forwarding
// is enabled, else the configured static token.
func (c *Client) credential(ctx context.Context) string {
	if c.forwardBearer {
		if token := bearerFromContext(ctx); token != "" {
			return token
		}
	}
	return c.token
}

// WithBearer attaches the caller's token for backend calls. It is sent only
// by clients configured to forward session tokens.
func WithBearer(ctx context.Context, token string) context.Context {
	if strings.TrimSpace(token) == "" {
		return ctx
	}
	return context.WithValue(ctx, ctxKey{}, token)
}

func bearerFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	v, _ := ctx.Value(ctxKey{}).(string)
	return v
}
