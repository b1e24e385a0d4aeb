// internal/common/http/client.go
package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"placement-broker/internal/common/logger"
	"placement-broker/internal/common/retry"
)

// StatusError is returned for responses outside the 2xx range.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.StatusCode, e.Body)
}

// Retryable reports whether the server may succeed on a later attempt.
func (e *StatusError) Retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

type Client struct {
	httpClient *http.Client
	retry      retry.Policy
	logger     logger.Logger
}

func NewClient(timeout time.Duration, policy retry.Policy, log logger.Logger) *Client {
	if log == nil {
		log = logger.NewNoOpLogger()
	}
	if policy.MaxAttempts == 0 {
		policy = retry.Policy{MaxAttempts: 3, InitialDelay: 200 * time.Millisecond, MaxDelay: 2 * time.Second}
	}
	policy.Retryable = isRetryable
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		retry:      policy,
		logger:     log,
	}
}

func isRetryable(err error) bool {
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.Retryable()
	}
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}

// GetJSON issues a GET and decodes a 200 body into out. A 204 leaves out
// untouched and returns http.StatusNoContent. Transport errors, 429 and 5xx
// responses are retried.
func (c *Client) GetJSON(ctx context.Context, url string, headers map[string]string, out interface{}) (int, error) {
	status := 0
	err := retry.WithBackoff(ctx, c.retry, c.logger, "GET "+url, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return err
		}
		for k, v := range headers {
			req.Header.Set(k, v)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		status = resp.StatusCode
		switch {
		case resp.StatusCode == http.StatusNoContent:
			return nil
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
				return fmt.Errorf("decode response: %w", err)
			}
			return nil
		default:
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			return &StatusError{StatusCode: resp.StatusCode, Body: string(body)}
		}
	})
	return status, err
}
