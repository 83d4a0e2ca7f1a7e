package api

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/clc2salesforce/AbsorbSync/pkg/logger"
)

// ErrAuthFailed indicates the authentication endpoint rejected the credentials
var ErrAuthFailed = fmt.Errorf("authentication failed")

// retryableStatuses are the rate-limit and server error statuses that
// trigger exponential backoff retries
var retryableStatuses = map[int]bool{
	http.StatusTooManyRequests:     true,
	http.StatusInternalServerError: true,
	http.StatusBadGateway:          true,
	http.StatusServiceUnavailable:  true,
	http.StatusGatewayTimeout:      true,
}

// Response holds the status and fully-read body of an API response
type Response struct {
	StatusCode int
	Body       []byte
}

// IsSuccess reports whether the response status is in the 2xx range
func (r *Response) IsSuccess() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// Client is a client for the Absorb LMS REST API v2.
// It is safe for concurrent use by multiple worker goroutines; the
// token refresh path is the only section requiring exclusive access.
type Client struct {
	apiURL   string
	apiKey   string
	username string
	password string
	log      *logger.Logger

	httpClient *http.Client

	// Retry configuration
	maxRetries   int
	initialDelay time.Duration
	maxReauth    int

	// Session state, guarded by mu. authVersion increases on every
	// successful authentication so concurrent callers can tell whether
	// another goroutine already refreshed the token.
	mu          sync.Mutex
	token       string
	authVersion uint64
}

// NewClient creates a new Absorb LMS API client.
// The API key is sent as an x-api-key header on every request and doubles
// as the privateKey field during authentication.
func NewClient(apiURL, apiKey, username, password string, log *logger.Logger) *Client {
	return &Client{
		apiURL:   strings.TrimRight(apiURL, "/"),
		apiKey:   apiKey,
		username: username,
		password: password,
		log:      log,
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
		maxRetries:   5,
		initialDelay: time.Second,
		maxReauth:    1,
	}
}

// BaseURL returns the configured API base URL
func (c *Client) BaseURL() string {
	return c.apiURL
}

// Authenticate authenticates with the Absorb LMS REST API v2.
// The response body is the authentication token as a string, used
// verbatim (no "Bearer " prefix) on the Authorization header of all
// subsequent requests.
func (c *Client) Authenticate(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.authenticateLocked(ctx)
}

// authenticateLocked performs the authentication request. The caller must
// hold c.mu.
func (c *Client) authenticateLocked(ctx context.Context) error {
	c.log.Info("Authenticating with Absorb LMS REST API v2...")

	body := fmt.Sprintf(`{"username":%q,"password":%q,"privateKey":%q}`,
		c.username, c.password, c.apiKey)

	resp, err := c.retryRequest(ctx, http.MethodPost, c.authURL(), []byte(body), "")
	if err != nil {
		return fmt.Errorf("authentication error: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		c.log.Errorf("Authentication failed: %d - %s", resp.StatusCode, truncateBody(resp.Body))
		return fmt.Errorf("%w: status %d", ErrAuthFailed, resp.StatusCode)
	}

	// Strip surrounding quotes if present
	token := strings.Trim(strings.TrimSpace(string(resp.Body)), `"`)
	if token == "" {
		return fmt.Errorf("%w: empty token received from authentication endpoint", ErrAuthFailed)
	}

	c.token = token
	c.authVersion++
	c.log.Info("Authentication successful")
	return nil
}

// Do executes an HTTP request with exponential backoff retry logic and
// single-flight reauthentication on credential expiry.
func (c *Client) Do(ctx context.Context, method, url string, body []byte) (*Response, error) {
	reauthLeft := c.maxReauth

	for {
		token, version := c.session()

		resp, err := c.retryRequest(ctx, method, url, body, token)
		if err != nil {
			return nil, err
		}

		// Expired session: reauthenticate once and replay the request.
		// The replay does not consume the backoff retry budget.
		if resp.StatusCode == http.StatusUnauthorized && url != c.authURL() && reauthLeft > 0 {
			reauthLeft--
			if err := c.reauthenticate(ctx, version); err != nil {
				// The caller decides what a 401 means
				c.log.Warnf("Reauthentication failed for %s %s: %v", method, url, err)
				return resp, nil
			}
			continue
		}

		return resp, nil
	}
}

// retryRequest issues a request with exponential backoff on retryable
// statuses and network errors. It does not touch session state.
func (c *Client) retryRequest(ctx context.Context, method, url string, body []byte, token string) (*Response, error) {
	delay := c.initialDelay

	for attempt := 1; ; attempt++ {
		resp, err := c.send(ctx, method, url, body, token)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if attempt >= c.maxRetries {
				return nil, fmt.Errorf("max retries exceeded: %w", err)
			}
			c.log.Warnf("Retry %d/%d for %s %s (error: %v)", attempt, c.maxRetries, method, url, err)
			if err := sleep(ctx, delay); err != nil {
				return nil, err
			}
			delay *= 2
			continue
		}

		// Rate limit or server error: retry with backoff
		if retryableStatuses[resp.StatusCode] {
			if attempt >= c.maxRetries {
				return nil, fmt.Errorf("max retries exceeded, last status: %d", resp.StatusCode)
			}
			c.log.Warnf("Retry %d/%d for %s %s (status: %d)", attempt, c.maxRetries, method, url, resp.StatusCode)
			if err := sleep(ctx, delay); err != nil {
				return nil, err
			}
			delay *= 2
			continue
		}

		return resp, nil
	}
}

// reauthenticate refreshes the session token unless another goroutine
// already did so since the caller observed observedVersion.
func (c *Client) reauthenticate(ctx context.Context, observedVersion uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.authVersion != observedVersion {
		// Another worker refreshed the token; just replay the request
		c.log.Debug("Session already refreshed by another worker")
		return nil
	}

	c.log.Info("Session expired, reauthenticating...")
	return c.authenticateLocked(ctx)
}

// send issues a single HTTP request and fully reads the response body
func (c *Client) send(ctx context.Context, method, url string, body []byte, token string) (*Response, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("x-api-key", c.apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", token)
	}

	c.log.Debugf("%s %s", method, url)

	res, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	data, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	c.log.Debugf("%s %s -> %d (%d bytes)", method, url, res.StatusCode, len(data))

	return &Response{StatusCode: res.StatusCode, Body: data}, nil
}

// session returns the current token and credential version
func (c *Client) session() (string, uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token, c.authVersion
}

func (c *Client) authURL() string {
	return c.apiURL + "/authenticate"
}

// sleep waits for the given duration or until the context is cancelled
func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// truncateBody limits response bodies in log messages
func truncateBody(body []byte) string {
	const limit = 500
	if len(body) > limit {
		return string(body[:limit]) + "..."
	}
	return string(body)
}
