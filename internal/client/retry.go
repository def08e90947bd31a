package client

import (
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// HTTPDoer is satisfied by *http.Client and *RetryClient.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// RetryClient retries transient failures with exponential backoff and full jitter.
type RetryClient struct {
	client     HTTPDoer
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
	logr       *zap.Logger
}

// NewRetryClient wraps client. maxRetries counts attempts after the first one (default 3).
func NewRetryClient(client HTTPDoer, maxRetries int, logr *zap.Logger) *RetryClient {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	if maxRetries <= 0 {
		maxRetries = 3
	}
	if logr == nil {
		logr = zap.NewNop()
	}
	return &RetryClient{
		client:     client,
		maxRetries: maxRetries,
		baseDelay:  500 * time.Millisecond,
		maxDelay:   10 * time.Second,
		logr:       logr,
	}
}

// WithBackoff overrides the base and cap of the backoff schedule.
func (rc *RetryClient) WithBackoff(base, ceiling time.Duration) *RetryClient {
	rc.baseDelay = base
	rc.maxDelay = ceiling
	return rc
}

// Do retries on 429/500/502/503/504 and on transport errors. Client errors and context
// cancellation return immediately. The last retryable response is returned as-is so the
// caller can read its body.
func (rc *RetryClient) Do(req *http.Request) (*http.Response, error) {
	var lastErr error

	for attempt := 0; attempt <= rc.maxRetries; attempt++ {
		if req.Context().Err() != nil {
			if lastErr != nil {
				return nil, lastErr
			}
			return nil, req.Context().Err()
		}

		if attempt > 0 {
			if req.GetBody != nil {
				body, err := req.GetBody()
				if err != nil {
					return nil, fmt.Errorf("retry: reset request body: %w", err)
				}
				req.Body = body
			}

			delay := rc.calculateDelay(attempt)
			rc.logr.Debug("retrying request",
				zap.Int("attempt", attempt),
				zap.Int("max_retries", rc.maxRetries),
				zap.String("method", req.Method),
				zap.String("path", req.URL.Path),
				zap.Duration("delay", delay),
				zap.Error(lastErr),
			)

			timer := time.NewTimer(delay)
			select {
			case <-timer.C:
			case <-req.Context().Done():
				timer.Stop()
				if lastErr != nil {
					return nil, lastErr
				}
				return nil, req.Context().Err()
			}
		}

		resp, err := rc.client.Do(req)
		if err != nil {
			lastErr = err
			if req.Context().Err() != nil {
				return nil, err
			}
			continue
		}

		if !isRetryableStatus(resp.StatusCode) || attempt == rc.maxRetries {
			return resp, nil
		}

		_, _ = io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		lastErr = fmt.Errorf("retry: server returned status %d", resp.StatusCode)
	}

	return nil, lastErr
}

// calculateDelay is random(0, min(maxDelay, baseDelay * 2^(attempt-1))) with a floor.
func (rc *RetryClient) calculateDelay(attempt int) time.Duration {
	expDelay := float64(rc.baseDelay) * math.Pow(2, float64(attempt-1))
	if expDelay > float64(rc.maxDelay) {
		expDelay = float64(rc.maxDelay)
	}

	jittered := time.Duration(rand.Float64() * expDelay)
	floor := min(rc.baseDelay/5, 100*time.Millisecond)
	if jittered < floor {
		jittered = floor
	}
	return jittered
}

func isRetryableStatus(statusCode int) bool {
	switch statusCode {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}
