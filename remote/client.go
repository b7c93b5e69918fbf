// Package remote talks to the stream-processing runner's REST API to deploy,
// update and undeploy applications.
package remote

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/liamcoop/businessrules/internal/logger"
)

const (
	appsPath     = "/siddhi-apps"
	maxBodyBytes = 64 << 10
)

// Config configures a Client.
type Config struct {
	URL      string
	Username string
	Password string
	// Timeout bounds each HTTP attempt.
	Timeout time.Duration
	// MaxRetries is the number of retries after the first attempt for
	// transport errors and 5xx responses.
	MaxRetries int
	// InitialInterval is the first retry delay; later delays grow exponentially.
	InitialInterval time.Duration
}

// StatusError is an unexpected HTTP status from the runner.
type StatusError struct {
	Method     string
	Path       string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	msg := fmt.Sprintf("%s %s: unexpected status %d", e.Method, e.Path, e.StatusCode)
	if e.Body != "" {
		msg += ": " + e.Body
	}
	return msg
}

func (e *StatusError) retryable() bool {
	return e.StatusCode >= 500
}

// Client is a RemoteClient for the runner REST API.
type Client struct {
	baseURL         string
	username        string
	password        string
	maxRetries      int
	initialInterval time.Duration
	http            *http.Client
	logger          *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the HTTP client. Its timeout is left untouched.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

// WithLogger sets the client's logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// New creates a client for the runner at cfg.URL.
func New(cfg Config, opts ...Option) (*Client, error) {
	u, err := url.Parse(cfg.URL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid remote engine URL %q", cfg.URL)
	}
	if cfg.MaxRetries < 0 {
		return nil, fmt.Errorf("max retries cannot be negative")
	}

	c := &Client{
		baseURL:         strings.TrimRight(cfg.URL, "/"),
		username:        cfg.Username,
		password:        cfg.Password,
		maxRetries:      cfg.MaxRetries,
		initialInterval: cfg.InitialInterval,
		http:            &http.Client{Timeout: cfg.Timeout},
	}
	if c.initialInterval <= 0 {
		c.initialInterval = 500 * time.Millisecond
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = logger.OrDefault(c.logger)
	return c, nil
}

// Deploy posts a new application. Any non-2xx response is an error.
func (c *Client) Deploy(ctx context.Context, name, content string) error {
	status, body, err := c.do(ctx, http.MethodPost, appsPath, content)
	if err != nil {
		return fmt.Errorf("deploy %s: %w", name, err)
	}
	if !success(status) {
		return fmt.Errorf("deploy %s: %w", name, &StatusError{
			Method: http.MethodPost, Path: appsPath, StatusCode: status, Body: body,
		})
	}
	c.logger.Debug("deployed application", "artifact", name)
	return nil
}

// Update replaces an application. A 4xx response reports false.
func (c *Client) Update(ctx context.Context, name, content string) (bool, error) {
	status, body, err := c.do(ctx, http.MethodPut, appsPath, content)
	if err != nil {
		return false, fmt.Errorf("update %s: %w", name, err)
	}
	if !success(status) {
		c.logger.Warn("runner rejected update", "artifact", name, "status", status, "body", body)
		return false, nil
	}
	c.logger.Debug("updated application", "artifact", name)
	return true, nil
}

// Delete undeploys an application. An application the runner does not know
// is already undeployed; any other 4xx response reports false.
func (c *Client) Delete(ctx context.Context, name string) (bool, error) {
	path := appsPath + "/" + url.PathEscape(name)
	status, body, err := c.do(ctx, http.MethodDelete, path, "")
	if err != nil {
		return false, fmt.Errorf("undeploy %s: %w", name, err)
	}
	switch {
	case success(status):
		c.logger.Debug("undeployed application", "artifact", name)
		return true, nil
	case status == http.StatusNotFound:
		c.logger.Debug("application already undeployed", "artifact", name)
		return true, nil
	default:
		c.logger.Warn("runner rejected undeploy", "artifact", name, "status", status, "body", body)
		return false, nil
	}
}

// do performs the request, retrying transport errors and 5xx responses with
// exponential backoff. It returns the final status and body for any response
// below 500.
func (c *Client) do(ctx context.Context, method, path, content string) (int, string, error) {
	var (
		status int
		body   string
	)

	op := func() error {
		var reader io.Reader
		if content != "" {
			reader = strings.NewReader(content)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
		if err != nil {
			return backoff.Permanent(err)
		}
		if content != "" {
			req.Header.Set("Content-Type", "text/plain")
		}
		if c.username != "" || c.password != "" {
			req.SetBasicAuth(c.username, c.password)
		}

		resp, err := c.http.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			return err
		}
		defer resp.Body.Close()

		data, _ := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
		statusErr := &StatusError{Method: method, Path: path, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(data))}
		if statusErr.retryable() {
			return statusErr
		}
		status, body = statusErr.StatusCode, statusErr.Body
		return nil
	}

	notify := func(err error, wait time.Duration) {
		c.logger.Warn("remote call failed, retrying", "method", method, "path", path, "retry_in", wait, "error", err)
	}

	if err := backoff.RetryNotify(op, c.policy(ctx), notify); err != nil {
		return 0, "", err
	}
	return status, body, nil
}

func (c *Client) policy(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.initialInterval
	b.MaxElapsedTime = 0
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(c.maxRetries)), ctx)
}

func success(status int) bool {
	return status >= 200 && status < 300
}
