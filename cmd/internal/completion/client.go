// Package completion is a stateless adapter for the external
// text-completion service.
package completion

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	defaultTimeout = 30 * time.Second

	// Cap on response bodies; upstream answers are short text.
	maxResponseBytes = 1 << 20 // 1 MiB

	// NoResponseText replaces a valid but empty/missing answer field.
	// An empty answer is not a protocol error.
	NoResponseText = "AI didn't respond properly"
)

// Error describes a failed completion call.
// Status is 0 for transport-level failures.
type Error struct {
	Reason string
	Status int
	Err    error
}

func (e *Error) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("completion: %s (status %d)", e.Reason, e.Status)
	}
	return "completion: " + e.Reason
}

func (e *Error) Unwrap() error { return e.Err }

// Retryable reports whether the failure is worth retrying:
// timeouts, transport errors, and 5xx are transient; 4xx are not.
func (e *Error) Retryable() bool {
	if e.Status >= 400 && e.Status < 500 {
		return false
	}
	return true
}

// Client calls the external completion service.
//
// It performs no retries itself; retry policy belongs to the relay engine.
type Client struct {
	baseURL string
	http    *http.Client
}

// Option configures Client behavior.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client (used by tests).
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithTimeout bounds every completion call. A hung upstream fails with a
// retryable Error instead of pinning the caller forever.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.http.Timeout = d
		}
	}
}

// NewClient constructs a completion client for the given service URL.
func NewClient(baseURL string, opts ...Option) (*Client, error) {
	baseURL = strings.TrimSpace(baseURL)
	if baseURL == "" {
		return nil, errors.New("completion: empty service URL")
	}

	c := &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c, nil
}

// request is the upstream wire format. The context field spelling is part
// of the deployed service contract.
type request struct {
	Query   string `json:"query"`
	Context string `json:"Relevent_context"`
}

type response struct {
	Response string `json:"response"`
}

// Complete sends query plus conversation context and returns the answer
// text. A valid empty answer normalizes to NoResponseText rather than an
// error.
func (c *Client) Complete(ctx context.Context, query, convContext string) (string, error) {
	body, err := json.Marshal(request{Query: query, Context: convContext})
	if err != nil {
		return "", &Error{Reason: "encode request", Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(body))
	if err != nil {
		return "", &Error{Reason: "build request", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		reason := "request failed"
		if errors.Is(err, context.DeadlineExceeded) {
			reason = "timeout"
		}
		return "", &Error{Reason: reason, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return "", &Error{Reason: "read response", Status: resp.StatusCode, Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", &Error{Reason: "unexpected status", Status: resp.StatusCode}
	}

	var out response
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", &Error{Reason: "malformed response body", Status: resp.StatusCode, Err: err}
	}

	answer := strings.TrimSpace(out.Response)
	if answer == "" {
		return NoResponseText, nil
	}
	return answer, nil
}
