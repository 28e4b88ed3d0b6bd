// Package backend is the HTTP client for the document analysis backend.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/Abhijagtp/ThinkThank/internal/auth"
	"github.com/Abhijagtp/ThinkThank/internal/metrics"
	"golang.org/x/time/rate"
)

const (
	maxResponseBytes = 16 << 20
	expirySkew       = 30 * time.Second
)

// Refresher obtains a new access credential after the current one was
// rejected.
type Refresher interface {
	Refresh(ctx context.Context) (auth.Credential, error)
}

type Client struct {
	baseURL   string
	http      *http.Client
	limiter   *rate.Limiter
	source    auth.Source
	refresher Refresher
	now       func() time.Time
}

type Option func(*Client)

func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) { c.http = client }
}

func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if timeout > 0 {
			c.http.Timeout = timeout
		}
	}
}

// WithRateLimit caps outbound requests; rps <= 0 disables the limiter.
func WithRateLimit(rps float64, burst int) Option {
	return func(c *Client) {
		if rps <= 0 {
			c.limiter = nil
			return
		}
		if burst <= 0 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

func WithRefresher(refresher Refresher) Option {
	return func(c *Client) { c.refresher = refresher }
}

func New(baseURL string, source auth.Source, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 60 * time.Second},
		source:  source,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type call struct {
	op          string
	method      string
	path        string
	body        []byte
	contentType string
}

func jsonCall(op, method, path string, payload any) (call, error) {
	c := call{op: op, method: method, path: path}
	if payload == nil {
		return c, nil
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return call{}, fmt.Errorf("%s: encode request: %w", op, err)
	}
	c.body = body
	c.contentType = "application/json"
	return c, nil
}

// do sends c with the current credential and decodes the response into out.
// A 401 triggers one refresh and one retry; an access token known to be about
// to expire is refreshed up front.
func (c *Client) do(ctx context.Context, req call, out any) (err error) {
	started := time.Now()
	defer func() {
		metrics.BackendRequests.WithLabelValues(req.op, outcome(err)).Inc()
		metrics.BackendLatency.WithLabelValues(req.op).Observe(time.Since(started).Seconds())
	}()

	cred := c.source.Current()
	if c.refresher != nil && cred.Refresh != "" && auth.Expired(cred.Access, c.now(), expirySkew) {
		if refreshed, refreshErr := c.refresher.Refresh(ctx); refreshErr == nil {
			cred = refreshed
		} else {
			log.Printf("backend: proactive refresh failed: %v", refreshErr)
		}
	}

	resp, err := c.send(ctx, req, cred.Access)
	if err != nil {
		return err
	}
	if resp.StatusCode == http.StatusUnauthorized && c.refresher != nil {
		drain(resp)
		refreshed, refreshErr := c.refresher.Refresh(ctx)
		if refreshErr != nil {
			return &AuthError{Err: refreshErr}
		}
		resp, err = c.send(ctx, req, refreshed.Access)
		if err != nil {
			return err
		}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return &NetworkError{Op: req.op, Err: fmt.Errorf("read response: %w", err)}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		httpErr := &HTTPError{Op: req.op, Status: resp.StatusCode, Body: body}
		if resp.StatusCode == http.StatusUnauthorized {
			return &AuthError{Err: httpErr}
		}
		return httpErr
	}
	if out == nil || len(bytes.TrimSpace(body)) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return &ReconciliationError{Op: req.op, Detail: err.Error()}
	}
	return nil
}

func (c *Client) send(ctx context.Context, req call, access string) (*http.Response, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, &NetworkError{Op: req.op, Err: err}
		}
	}
	var body io.Reader
	if req.body != nil {
		body = bytes.NewReader(req.body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.method, c.baseURL+req.path, body)
	if err != nil {
		return nil, fmt.Errorf("%s: build request: %w", req.op, err)
	}
	httpReq.Header.Set("Accept", "application/json")
	if req.contentType != "" {
		httpReq.Header.Set("Content-Type", req.contentType)
	}
	if access != "" {
		httpReq.Header.Set("Authorization", "Bearer "+access)
	}
	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, &NetworkError{Op: req.op, Err: err}
	}
	return resp, nil
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBytes))
	_ = resp.Body.Close()
}

func outcome(err error) string {
	if err == nil {
		return "ok"
	}
	var (
		netErr   *NetworkError
		httpErr  *HTTPError
		authErr  *AuthError
		shapeErr *ReconciliationError
	)
	switch {
	case errors.As(err, &authErr):
		return "auth"
	case errors.As(err, &netErr):
		return "network"
	case errors.As(err, &httpErr):
		return fmt.Sprintf("http_%dxx", httpErr.Status/100)
	case errors.As(err, &shapeErr):
		return "malformed"
	default:
		return "error"
	}
}
