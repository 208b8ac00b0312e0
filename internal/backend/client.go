// Package backend is the REST client for the MyMove backend. It implements
// the collaborator interfaces the wizard engine depends on.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff"
	"golang.org/x/oauth2"
)

const (
	defaultTimeout    = 30 * time.Second
	defaultMaxRetries = 3
	defaultRetryWait  = 200 * time.Millisecond
	maxResponseBytes  = 8 << 20
)

// Options configures a Client. Token wins over Email/Password.
type Options struct {
	BaseURL    string
	Email      string
	Password   string
	Token      string
	Timeout    time.Duration
	HTTPClient *http.Client
	// MaxRetries bounds GET retries; negative disables them.
	MaxRetries int
	RetryWait  time.Duration
}

// Client talks to {BaseURL}/api.
type Client struct {
	baseURL    string
	httpClient *http.Client
	email      string
	password   string
	basicAuth  bool
	maxRetries uint64
	retryWait  time.Duration
}

// New validates opts and builds a Client.
func New(opts Options) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if base == "" {
		return nil, fmt.Errorf("BACKEND_URL is required")
	}
	u, err := url.Parse(base)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid BACKEND_URL %q", opts.BaseURL)
	}
	if !strings.HasSuffix(base, "/api") {
		base += "/api"
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: timeout}
	}

	c := &Client{
		baseURL:   base,
		email:     strings.TrimSpace(opts.Email),
		password:  opts.Password,
		retryWait: opts.RetryWait,
	}
	if c.retryWait <= 0 {
		c.retryWait = defaultRetryWait
	}
	switch {
	case opts.MaxRetries < 0:
		c.maxRetries = 0
	case opts.MaxRetries == 0:
		c.maxRetries = defaultMaxRetries
	default:
		c.maxRetries = uint64(opts.MaxRetries)
	}

	if token := strings.TrimSpace(opts.Token); token != "" {
		ctx := context.WithValue(context.Background(), oauth2.HTTPClient, hc)
		authed := oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token, TokenType: "Bearer"}))
		authed.Timeout = hc.Timeout
		hc = authed
	} else if c.email != "" {
		c.basicAuth = true
	}
	c.httpClient = hc
	return c, nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if c.basicAuth {
		req.SetBasicAuth(c.email, c.password)
	}
	return req, nil
}

// doJSON sends in as JSON and decodes the answer into out. GETs are retried
// on network errors and 5xx; other methods are sent exactly once.
func (c *Client) doJSON(ctx context.Context, method, path string, in, out any) error {
	var payload []byte
	if in != nil {
		var err error
		payload, err = json.Marshal(in)
		if err != nil {
			return fmt.Errorf("backend %s %s: encode request: %w", method, path, err)
		}
	}

	attempt := func() error {
		var body io.Reader
		if payload != nil {
			body = bytes.NewReader(payload)
		}
		req, err := c.newRequest(ctx, method, path, body)
		if err != nil {
			return err
		}
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		return c.send(req, out)
	}

	if method != http.MethodGet || c.maxRetries == 0 {
		return attempt()
	}

	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.InitialInterval = c.retryWait
	expBackoff.MaxElapsedTime = 30 * time.Second
	policy := backoff.WithContext(backoff.WithMaxRetries(expBackoff, c.maxRetries), ctx)

	return backoff.Retry(func() error {
		err := attempt()
		if err != nil && !retryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}, policy)
}

func (c *Client) send(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("backend %s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("backend %s %s: read response: %w", req.Method, req.URL.Path, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return newAPIError(req, resp.StatusCode, body)
	}
	if out == nil || len(bytes.TrimSpace(body)) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%w %s %s: %v", ErrDecode, req.Method, req.URL.Path, err)
	}
	return nil
}

func pathID(id string) string {
	return url.PathEscape(strings.TrimSpace(id))
}
