package clients

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"
)

// ErrAborted is returned when a request was cancelled before it completed,
// either by its context or by CancelInFlight.
var ErrAborted = errors.New("request aborted")

// StatusError carries a non-2xx response.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("API returned status code: %d, response: %s", e.StatusCode, e.Body)
}

// StatusCode extracts the HTTP status from err, or 0 when err is not a
// StatusError.
func StatusCode(err error) int {
	var se *StatusError
	if errors.As(err, &se) {
		return se.StatusCode
	}
	return 0
}

type BaseClient struct {
	baseURL string
	client  *http.Client
	headers map[string]string

	// the one abortable request; seq tells a stale untrack apart from the
	// request that replaced it
	mu       sync.Mutex
	inFlight context.CancelFunc
	seq      uint64
}

func NewBaseClient(baseURL string) *BaseClient {
	return &BaseClient{
		baseURL: baseURL,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
		headers: make(map[string]string),
	}
}

func (c *BaseClient) SetHeader(key, value string) {
	c.headers[key] = value
}

func (c *BaseClient) SetTimeout(timeout time.Duration) {
	c.client.Timeout = timeout
}

func (c *BaseClient) BaseURL() string {
	return c.baseURL
}

// CancelInFlight aborts the request currently in flight, if any. It reports
// whether there was one to abort.
func (c *BaseClient) CancelInFlight() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.inFlight == nil {
		return false
	}
	c.inFlight()
	c.inFlight = nil
	return true
}

func (c *BaseClient) track(cancel context.CancelFunc) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	c.inFlight = cancel
	return c.seq
}

func (c *BaseClient) untrack(seq uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.seq == seq {
		c.inFlight = nil
	}
}

func (c *BaseClient) MakeRequest(ctx context.Context, method, endpoint string, body io.Reader) ([]byte, error) {
	reqCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	seq := c.track(cancel)
	defer c.untrack(seq)

	req, err := http.NewRequestWithContext(reqCtx, method, c.baseURL+endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	for key, value := range c.headers {
		req.Header.Set(key, value)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		if reqCtx.Err() != nil {
			return nil, fmt.Errorf("%s %s: %w", method, endpoint, ErrAborted)
		}
		return nil, fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	responseBody, err := io.ReadAll(resp.Body)
	if err != nil {
		if reqCtx.Err() != nil {
			return nil, fmt.Errorf("%s %s: %w", method, endpoint, ErrAborted)
		}
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: string(responseBody)}
	}

	return responseBody, nil
}

func (c *BaseClient) Get(ctx context.Context, endpoint string) ([]byte, error) {
	return c.MakeRequest(ctx, http.MethodGet, endpoint, nil)
}

func (c *BaseClient) Post(ctx context.Context, endpoint string, body io.Reader) ([]byte, error) {
	return c.MakeRequest(ctx, http.MethodPost, endpoint, body)
}

func (c *BaseClient) Put(ctx context.Context, endpoint string, body io.Reader) ([]byte, error) {
	return c.MakeRequest(ctx, http.MethodPut, endpoint, body)
}
