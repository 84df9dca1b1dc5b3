package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/aescanero/canvas/pkg/canvas"
	"github.com/aescanero/canvas/pkg/domain"
)

// Client talks to a canvas daemon over its HTTP API
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates an API client. A nil httpClient gets a 30s timeout.
func NewClient(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), httpClient: httpClient}
}

// Submit sends a graph and returns its task id
func (c *Client) Submit(ctx context.Context, node canvas.Node) (string, error) {
	graph, err := canvas.Marshal(node)
	if err != nil {
		return "", err
	}
	body, err := json.Marshal(TaskSubmitRequest{Graph: graph})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/tasks", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	var out TaskSubmitResponse
	if err := c.do(req, http.StatusCreated, &out); err != nil {
		return "", err
	}
	return out.TaskID, nil
}

// Record reads the current view of a task record
func (c *Client) Record(ctx context.Context, id string) (*domain.Record, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/v1/tasks/"+url.PathEscape(id), nil)
	if err != nil {
		return nil, err
	}

	var rec domain.Record
	if err := c.do(req, http.StatusOK, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (c *Client) do(req *http.Request, want int, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request to %s failed: %w", req.URL.Path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != want {
		var e ErrorResponse
		_ = json.NewDecoder(resp.Body).Decode(&e)
		switch {
		case resp.StatusCode == http.StatusNotFound:
			return fmt.Errorf("%w: %s", domain.ErrRecordNotFound, req.URL.Path)
		case e.Error.Code == "UNKNOWN_TASK":
			return fmt.Errorf("%w: %s", domain.ErrUnknownTask, e.Error.Message)
		default:
			return fmt.Errorf("%s %s returned %d: %s", req.Method, req.URL.Path, resp.StatusCode, e.Error.Message)
		}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
