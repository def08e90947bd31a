package smarty

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"eddm-registry/internal/models"
)

var (
	// ErrCircuitOpen signals the breaker is open after repeated 402/429 responses.
	ErrCircuitOpen = errors.New("smarty circuit open due to repeated rate/limit errors")
	// ErrNoCandidates means Smarty could not match the address.
	ErrNoCandidates = errors.New("smarty: no candidates returned")
	// ErrNoCarrierRoute means the address matched but carries no carrier route.
	ErrNoCarrierRoute = errors.New("smarty: candidate has no carrier route")
)

// HTTPClient matches net/http.Client Do signature for testability.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client wraps Smarty US Street calls with retry and circuit breaker support.
type Client struct {
	authID     string
	authToken  string
	baseURL    string
	httpClient HTTPClient
	mock       bool

	maxRetries       int
	backoff          time.Duration
	breakerThreshold int

	mu               sync.Mutex
	consecutiveLimit int
}

// Config defines settings for the Smarty client.
type Config struct {
	AuthID     string
	AuthToken  string
	BaseURL    string
	Mock       bool
	MaxRetries int
	BreakerMax int
	Backoff    time.Duration
}

// New creates a Smarty client.
func New(httpClient HTTPClient, cfg Config) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	base := cfg.BaseURL
	if base == "" {
		base = "https://us-street.api.smarty.com/street-address"
	}
	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}
	breaker := cfg.BreakerMax
	if breaker <= 0 {
		breaker = 5
	}
	backoff := cfg.Backoff
	if backoff <= 0 {
		backoff = 200 * time.Millisecond
	}

	return &Client{
		authID:           cfg.AuthID,
		authToken:        cfg.AuthToken,
		baseURL:          base,
		httpClient:       httpClient,
		mock:             cfg.Mock,
		maxRetries:       maxRetries,
		backoff:          backoff,
		breakerThreshold: breaker,
	}
}

// Resolve standardizes a free-text address and returns its carrier route and rooftop coordinates.
func (c *Client) Resolve(ctx context.Context, freeText string) (models.ResolvedAddress, error) {
	if c.mock {
		return mockResolution(freeText), nil
	}

	if c.breakerOpen() {
		return models.ResolvedAddress{}, ErrCircuitOpen
	}

	params := url.Values{}
	params.Set("auth-id", c.authID)
	params.Set("auth-token", c.authToken)
	params.Set("street", freeText)
	params.Set("candidates", "1")
	endpoint := fmt.Sprintf("%s?%s", c.baseURL, params.Encode())

	var lastErr error
	for attempt := 0; attempt < c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return models.ResolvedAddress{}, ctx.Err()
			case <-time.After(c.backoff * time.Duration(1<<(attempt-1))):
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return models.ResolvedAddress{}, fmt.Errorf("build request: %w", err)
		}
		req.Header.Set("Accept", "application/json")

		resolved, retry, err := c.do(req)
		if err == nil {
			return resolved, nil
		}
		if !retry || ctx.Err() != nil {
			return models.ResolvedAddress{}, err
		}
		lastErr = err
	}

	return models.ResolvedAddress{}, fmt.Errorf("smarty lookup failed after retries: %w", lastErr)
}

// do performs one attempt and reports whether a failure is worth retrying.
func (c *Client) do(req *http.Request) (models.ResolvedAddress, bool, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return models.ResolvedAddress{}, true, fmt.Errorf("request: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		c.resetBreaker()
		resolved, err := decodeSmartyResponse(resp.Body)
		return resolved, false, err
	case resp.StatusCode == http.StatusPaymentRequired || resp.StatusCode == http.StatusTooManyRequests:
		if c.tripBreaker() {
			return models.ResolvedAddress{}, false, ErrCircuitOpen
		}
		return models.ResolvedAddress{}, true, fmt.Errorf("smarty status %d", resp.StatusCode)
	case resp.StatusCode >= 500:
		return models.ResolvedAddress{}, true, fmt.Errorf("smarty status %d", resp.StatusCode)
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	return models.ResolvedAddress{}, false, fmt.Errorf("smarty status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
}

func (c *Client) breakerOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.consecutiveLimit >= c.breakerThreshold
}

func (c *Client) tripBreaker() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.consecutiveLimit++
	return c.consecutiveLimit >= c.breakerThreshold
}

func (c *Client) resetBreaker() {
	c.mu.Lock()
	c.consecutiveLimit = 0
	c.mu.Unlock()
}

func decodeSmartyResponse(body io.Reader) (models.ResolvedAddress, error) {
	var candidates []smartyCandidate
	if err := json.NewDecoder(body).Decode(&candidates); err != nil {
		return models.ResolvedAddress{}, fmt.Errorf("decode response: %w", err)
	}
	if len(candidates) == 0 {
		return models.ResolvedAddress{}, ErrNoCandidates
	}
	first := candidates[0]
	if first.Metadata.CarrierRoute == "" {
		return models.ResolvedAddress{}, ErrNoCarrierRoute
	}
	return models.ResolvedAddress{
		DeliveryLine1: first.DeliveryLine1,
		LastLine:      first.LastLine,
		ZipCode:       first.Components.Zipcode,
		City:          first.Components.CityName,
		State:         first.Components.StateAbbreviation,
		CarrierRoute:  strings.ToUpper(first.Metadata.CarrierRoute),
		Lat:           first.Metadata.Latitude,
		Lng:           first.Metadata.Longitude,
	}, nil
}

// mockResolution is deterministic so local runs without credentials can exercise the whole flow.
func mockResolution(freeText string) models.ResolvedAddress {
	return models.ResolvedAddress{
		DeliveryLine1: strings.TrimSpace(freeText),
		LastLine:      "Springfield IL 62704-1234",
		ZipCode:       "62704",
		City:          "Springfield",
		State:         "IL",
		CarrierRoute:  "C045",
		Lat:           39.7817,
		Lng:           -89.6501,
	}
}

type smartyCandidate struct {
	DeliveryLine1 string           `json:"delivery_line_1"`
	LastLine      string           `json:"last_line"`
	Components    smartyComponents `json:"components"`
	Metadata      smartyMetadata   `json:"metadata"`
}

type smartyComponents struct {
	Zipcode           string `json:"zipcode"`
	CityName          string `json:"city_name"`
	StateAbbreviation string `json:"state_abbreviation"`
}

type smartyMetadata struct {
	CarrierRoute string  `json:"carrier_route"`
	Latitude     float64 `json:"latitude"`
	Longitude    float64 `json:"longitude"`
}
