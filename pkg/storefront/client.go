// Package storefront is the Go client for the storefront API. It owns the
// session, a keyed read cache and the optimistic mutation helpers the
// back-office and portal front ends are built on.
package storefront

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/tidecrate/storefront/pkg/logger"
	"github.com/tidecrate/storefront/pkg/querycache"
	"github.com/tidecrate/storefront/pkg/types"
)

const (
	defaultTimeout      = 30 * time.Second
	defaultRetryBackoff = 500 * time.Millisecond

	// MaxCertificateBytes is the largest certificate or receipt the API accepts.
	MaxCertificateBytes int64 = 10 * 1024 * 1024
)

// Options configures a Client.
type Options struct {
	BaseURL string
	// Timeout bounds every HTTP call. There is no other client-side deadline.
	Timeout time.Duration
	// RetryBackoff is the fixed pause before the single auth retry.
	RetryBackoff time.Duration
	HTTPClient   *http.Client
	Logger       *logger.Logger
}

// Client talks to one storefront deployment.
type Client struct {
	http    *resty.Client
	stream  *resty.Client
	cache   *querycache.Cache
	guard   *querycache.Guard
	session *Session
	backoff time.Duration
	logg    *logger.Logger
}

// New builds a client and starts its session dispatcher. Call Close when done.
func New(opts Options) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if base == "" {
		return nil, fmt.Errorf("base url required")
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	backoff := opts.RetryBackoff
	if backoff <= 0 {
		backoff = defaultRetryBackoff
	}

	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{}
	}
	rc := resty.NewWithClient(hc).
		SetBaseURL(base).
		SetTimeout(timeout).
		SetHeader("Accept", "application/json")

	// change streams stay open, so they get a copy without the call timeout
	streamHC := *hc
	streamHC.Timeout = 0
	stream := resty.NewWithClient(&streamHC).SetBaseURL(base)

	return &Client{
		http:    rc,
		stream:  stream,
		cache:   querycache.New(),
		guard:   querycache.NewGuard(),
		session: newSession(),
		backoff: backoff,
		logg:    opts.Logger,
	}, nil
}

// Close stops the session dispatcher. Pending events are dropped.
func (c *Client) Close() {
	c.session.close()
}

// Session exposes the auth state and its event stream.
func (c *Client) Session() *Session {
	return c.session
}

// Cache exposes the read cache, mainly for the notification bridge.
func (c *Client) Cache() *querycache.Cache {
	return c.cache
}

// exclusive runs fn while name is marked busy, refusing a second submission
// of the same mutation until the first returns.
func (c *Client) exclusive(name string, fn func() error) error {
	release, err := c.guard.Acquire(name)
	if err != nil {
		return err
	}
	defer release()
	return fn()
}

func (c *Client) request(ctx context.Context) *resty.Request {
	req := c.http.R().SetContext(ctx)
	if token := c.session.AccessToken(); token != "" {
		req.SetAuthToken(token)
	}
	return req
}

// do sends a JSON request and decodes the data envelope into out.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	req := c.request(ctx)
	if body != nil {
		req.SetHeader("Content-Type", "application/json").SetBody(body)
	}
	return c.send(req, method, path, out)
}

func (c *Client) send(req *resty.Request, method, path string, out any) error {
	resp, err := req.Execute(method, path)
	if err != nil {
		return &transportError{err: err}
	}
	if resp.IsError() {
		return decodeError(resp.StatusCode(), resp.Body())
	}
	if out == nil || len(resp.Body()) == 0 {
		return nil
	}
	var env types.Envelope[json.RawMessage]
	if err := json.Unmarshal(resp.Body(), &env); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	if len(env.Data) == 0 || string(env.Data) == "null" {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("decode %s %s data: %w", method, path, err)
	}
	return nil
}

// withAuthRetry runs fn and, if it fails with a retryable error, once more
// after the fixed backoff.
func (c *Client) withAuthRetry(ctx context.Context, fn func() error) error {
	err := fn()
	if err == nil || !IsRetryable(err) || ctx.Err() != nil {
		return err
	}
	if c.logg != nil {
		c.logg.Warn(c.logg.WithField(ctx, "error", err.Error()), "retrying auth call")
	}
	timer := time.NewTimer(c.backoff)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return err
	case <-timer.C:
	}
	return fn()
}
