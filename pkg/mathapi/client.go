package mathapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// DefaultMaxRetries is how many times a transient failure is retried.
const DefaultMaxRetries = 2

// Client calls the arithmetic service.
type Client struct {
	baseURL    string
	httpClient *http.Client
	maxRetries uint64
	retryDelay time.Duration
}

// NewClient creates a client for the service at baseURL. A nil httpClient
// gets a client with a 30s timeout.
func NewClient(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
		maxRetries: DefaultMaxRetries,
		retryDelay: 200 * time.Millisecond,
	}
}

// WithRetries sets the retry budget and the first retry delay.
func (c *Client) WithRetries(n uint64, delay time.Duration) *Client {
	c.maxRetries = n
	c.retryDelay = delay
	return c
}

// Compute calls op with the given operands. Connection errors and 5xx
// responses are retried with exponential backoff; 4xx responses are not.
func (c *Client) Compute(ctx context.Context, op string, operands ...float64) (float64, error) {
	arity := Arity(op)
	if arity == 0 {
		return 0, fmt.Errorf("unknown operation %q", op)
	}
	if len(operands) != arity {
		return 0, fmt.Errorf("%s takes %d operands, got %d", op, arity, len(operands))
	}

	q := url.Values{}
	for i, name := range operations[op].params {
		q.Set(name, strconv.FormatFloat(operands[i], 'f', -1, 64))
	}
	endpoint := c.baseURL + "/" + op + "?" + q.Encode()

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.retryDelay
	b.MaxElapsedTime = 0

	var result float64
	err := backoff.Retry(func() error {
		v, err := c.get(ctx, endpoint)
		if err != nil {
			return err
		}
		result = v
		return nil
	}, backoff.WithContext(backoff.WithMaxRetries(b, c.maxRetries), ctx))
	if err != nil {
		return 0, err
	}
	return result, nil
}

func (c *Client) get(ctx context.Context, endpoint string) (float64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return 0, backoff.Permanent(fmt.Errorf("failed to build request: %w", err))
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return 0, backoff.Permanent(ctx.Err())
		}
		return 0, fmt.Errorf("math api request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return 0, fmt.Errorf("math api returned %d", resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		var e errorResponse
		_ = json.NewDecoder(resp.Body).Decode(&e)
		return 0, backoff.Permanent(fmt.Errorf("math api returned %d: %s", resp.StatusCode, e.Error))
	}

	var body resultResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return 0, backoff.Permanent(fmt.Errorf("failed to decode math api response: %w", err))
	}
	return body.Result, nil
}

// Health checks the service's /health endpoint.
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("math api unreachable: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("math api unhealthy: status %d", resp.StatusCode)
	}
	return nil
}
