// Package httpx is the shared outbound HTTP fetcher. It applies per-call
// deadlines, decodes JSON or text bodies, and classifies transport
// failures into the error kinds the provider chain understands. Retry
// policy is deliberately absent; orchestrators own fallback behavior.
package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/foliopilot/foliopilot/internal/errs"
)

// maxErrorBody caps how much of an upstream error body is kept.
const maxErrorBody = 2048

// Options configures a single fetch.
type Options struct {
	Headers  map[string]string
	Deadline time.Duration
	Method   string // defaults to GET
	Body     io.Reader
}

// Client wraps an http.Client with the fetch helpers.
type Client struct {
	hc *http.Client
}

// New creates a fetcher. The client timeout is a backstop; per-call
// deadlines come from Options.Deadline.
func New() *Client {
	return &Client{hc: &http.Client{Timeout: 60 * time.Second}}
}

// NewWithClient wraps an existing http.Client, used by tests.
func NewWithClient(hc *http.Client) *Client { return &Client{hc: hc} }

// FetchJSON performs the request and decodes the response body into dest.
func (c *Client) FetchJSON(ctx context.Context, url string, dest any, opts Options) error {
	body, err := c.fetch(ctx, url, opts, "application/json")
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, dest); err != nil {
		return errs.Wrap(errs.Provider, err, "decode JSON from %s", hostOf(url))
	}
	return nil
}

// FetchText performs the request and returns the raw body as a string.
func (c *Client) FetchText(ctx context.Context, url string, opts Options) (string, error) {
	body, err := c.fetch(ctx, url, opts, "text/plain")
	if err != nil {
		return "", err
	}
	return string(body), nil
}

func (c *Client) fetch(ctx context.Context, url string, opts Options, accept string) ([]byte, error) {
	if opts.Deadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Deadline)
		defer cancel()
	}

	method := opts.Method
	if method == "" {
		method = http.MethodGet
	}

	req, err := http.NewRequestWithContext(ctx, method, url, opts.Body)
	if err != nil {
		return nil, errs.Wrap(errs.Provider, err, "build request")
	}
	req.Header.Set("Accept", accept)
	req.Header.Set("User-Agent", "foliopilot/1.0")
	for k, v := range opts.Headers {
		req.Header.Set(k, v)
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, errs.Wrap(errs.Timeout, err, "request to %s timed out", hostOf(url))
		}
		if errors.Is(err, context.Canceled) {
			return nil, errs.Wrap(errs.Timeout, err, "request to %s canceled", hostOf(url))
		}
		return nil, errs.Wrap(errs.Provider, err, "request to %s failed", hostOf(url))
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBody))
		return nil, errs.New(errs.RateLimit, "%s returned 429", hostOf(url))
	}
	if resp.StatusCode >= 400 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		e := errs.New(errs.Provider, "%s returned %d", hostOf(url), resp.StatusCode)
		e.Raw = strings.TrimSpace(string(snippet))
		return nil, e
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, errs.Wrap(errs.Timeout, err, "reading %s timed out", hostOf(url))
		}
		return nil, errs.Wrap(errs.Provider, err, "read response from %s", hostOf(url))
	}
	return body, nil
}

// hostOf trims a URL down to scheme+host for error messages, keeping
// query strings (which may carry keys) out of anything user-visible.
func hostOf(url string) string {
	rest := url
	if i := strings.Index(rest, "//"); i >= 0 {
		rest = rest[i+2:]
	}
	if i := strings.IndexAny(rest, "/?"); i >= 0 {
		rest = rest[:i]
	}
	if rest == "" {
		return url
	}
	return rest
}
