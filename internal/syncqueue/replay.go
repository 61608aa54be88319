package syncqueue

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Replayer performs a single replay attempt for a task. Retry scheduling is
// owned by the queue, not the replayer.
type Replayer interface {
	Replay(ctx context.Context, task Task) error
}

// ReplayError distinguishes connectivity-class failures (retried with
// backoff) from application-level rejections (parked immediately).
type ReplayError struct {
	StatusCode int
	Message    string
	Retryable  bool
}

func (e *ReplayError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("replay failed: status=%d message=%s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("replay failed: %s", e.Message)
}

type AccessTokenProvider func(ctx context.Context) (string, error)

type ReplayClientOptions struct {
	BaseURL       string
	TokenProvider AccessTokenProvider
	HTTPClient    *http.Client
	UserAgent     string
	Timeout       time.Duration
}

// HTTPReplayClient re-issues queued mutations against the backend API.
type HTTPReplayClient struct {
	baseURL       string
	tokenProvider AccessTokenProvider
	httpClient    *http.Client
	userAgent     string
	timeout       time.Duration
}

func NewHTTPReplayClient(opts ReplayClientOptions) *HTTPReplayClient {
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &HTTPReplayClient{
		baseURL:       baseURL,
		tokenProvider: opts.TokenProvider,
		httpClient:    httpClient,
		userAgent:     strings.TrimSpace(opts.UserAgent),
		timeout:       timeout,
	}
}

func (c *HTTPReplayClient) Replay(ctx context.Context, task Task) error {
	if c == nil {
		return &ReplayError{Message: "replay client is nil"}
	}
	endpoint := strings.TrimSpace(task.Endpoint)
	if endpoint == "" {
		return &ReplayError{Message: "task endpoint is empty"}
	}
	url := endpoint
	if strings.HasPrefix(endpoint, "/") {
		url = c.baseURL + endpoint
	}
	method := strings.ToUpper(strings.TrimSpace(task.Method))
	if method == "" {
		method = http.MethodPost
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var body io.Reader
	if len(task.Payload) > 0 {
		body = bytes.NewReader(task.Payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return &ReplayError{Message: err.Error()}
	}
	if len(task.Payload) > 0 && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for key, value := range task.Header {
		req.Header.Set(key, value)
	}
	if c.tokenProvider != nil {
		token, tokenErr := c.tokenProvider(ctx)
		if tokenErr != nil {
			return &ReplayError{Message: tokenErr.Error(), Retryable: true}
		}
		if strings.TrimSpace(token) != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &ReplayError{Message: err.Error(), Retryable: true}
	}
	respBody, readErr := io.ReadAll(io.LimitReader(resp.Body, 4096))
	_ = resp.Body.Close()
	if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
		return nil
	}
	message := strings.TrimSpace(string(respBody))
	if readErr != nil {
		message = readErr.Error()
	}
	retryable := resp.StatusCode == http.StatusTooManyRequests ||
		resp.StatusCode == http.StatusRequestTimeout ||
		resp.StatusCode >= 500
	return &ReplayError{StatusCode: resp.StatusCode, Message: message, Retryable: retryable}
}
