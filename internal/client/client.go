// Package client talks to the registry's public endpoints.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"eddm-registry/internal/models"

	"go.uber.org/zap"
)

// APIError is a non-2xx reply. Message is the server's user-facing text when it sent one.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("registry returned %d", e.Status)
	}
	return e.Message
}

// StatusOf returns the HTTP status carried by err, or 0.
func StatusOf(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Status
	}
	return 0
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
}

// Client calls the registry API. Lookups go out once; opt-outs go through the retry client
// since a replayed registration is deduplicated server side.
type Client struct {
	baseURL string
	http    HTTPDoer
	retry   HTTPDoer
}

func New(baseURL string, httpClient HTTPDoer, maxRetries int, logr *zap.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    httpClient,
		retry:   NewRetryClient(httpClient, maxRetries, logr),
	}
}

// NewWithDoers is New with an explicit retrying doer, mostly for tests.
func NewWithDoers(baseURL string, once, retrying HTTPDoer) *Client {
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), http: once, retry: retrying}
}

func (c *Client) LookupRoute(ctx context.Context, address string) (*models.RouteLookup, error) {
	var out models.RouteLookup
	body := map[string]string{"address": address}
	if err := c.call(ctx, c.http, http.MethodPost, "/carrier-route", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) RouteStats(ctx context.Context, zipRoute, state string) (*models.RouteStats, error) {
	q := url.Values{"zipRoute": {zipRoute}}
	if state != "" {
		q.Set("state", state)
	}
	var out models.RouteStats
	if err := c.call(ctx, c.http, http.MethodGet, "/route-stats?"+q.Encode(), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) OptOut(ctx context.Context, req models.OptOutRequest) (*models.OptOutResult, error) {
	var out models.OptOutResult
	if err := c.call(ctx, c.retry, http.MethodPost, "/do-not-deliver", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) call(ctx context.Context, doer HTTPDoer, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := doer.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var env envelope
	decodeErr := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&env)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &APIError{Status: resp.StatusCode, Message: env.Error}
	}
	if decodeErr != nil {
		return fmt.Errorf("decode response: %w", decodeErr)
	}
	if !env.Success {
		return &APIError{Status: resp.StatusCode, Message: env.Error}
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("decode data: %w", err)
	}
	return nil
}
