package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Config holds the settings needed to construct a Client.
type Config struct {
	// BaseURL is the root URL of the batch-compute API.
	BaseURL string

	// Token is the bearer token sent with every request.
	Token string

	// HTTPClient is an optional custom HTTP client. If nil, a default
	// client with a 30-second per-request timeout is used.
	HTTPClient *http.Client

	// PollInterval is the delay between status polls in Wait.
	// Defaults to 15 seconds.
	PollInterval time.Duration
}

// Client is an HTTP adapter for the batch-compute API.
// All methods are safe for concurrent use.
type Client struct {
	baseURL      string
	token        string
	client       *http.Client
	pollInterval time.Duration
}

// NewClient creates a Client from the given configuration.
// Returns an error if BaseURL is empty.
func NewClient(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("backend: BaseURL is required")
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}

	interval := cfg.PollInterval
	if interval == 0 {
		interval = 15 * time.Second
	}

	return &Client{
		baseURL:      strings.TrimRight(cfg.BaseURL, "/"),
		token:        cfg.Token,
		client:       httpClient,
		pollInterval: interval,
	}, nil
}

type submitBody struct {
	Name        string `json:"name"`
	Command     string `json:"command"`
	Description string `json:"description,omitempty"`
}

type jobResponse struct {
	ID     string `json:"id"`
	URL    string `json:"url,omitempty"`
	Status string `json:"status,omitempty"`
}

// Submit creates a job on the backend and returns its reference.
func (c *Client) Submit(ctx context.Context, req SubmitRequest) (JobRef, error) {
	body := submitBody{
		Name:        req.Name,
		Command:     req.Command,
		Description: req.Description,
	}

	var resp jobResponse
	if err := c.do(ctx, http.MethodPost, "/v1/jobs", body, &resp); err != nil {
		return JobRef{}, err
	}
	if resp.ID == "" {
		return JobRef{}, fmt.Errorf("backend: submit response missing job id")
	}
	return JobRef{ID: resp.ID, URL: resp.URL}, nil
}

// Wait polls the job until it reaches a terminal status or ctx is canceled.
func (c *Client) Wait(ctx context.Context, ref JobRef) (JobStatus, error) {
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		var resp jobResponse
		if err := c.do(ctx, http.MethodGet, "/v1/jobs/"+ref.ID, nil, &resp); err != nil {
			return "", err
		}

		status := JobStatus(resp.Status)
		if status.Terminal() {
			return status, nil
		}

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-ticker.C:
		}
	}
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("backend: encode request: %w", err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("backend: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("backend: %s %s: status %d: %s",
			method, path, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("backend: decode response: %w", err)
		}
	}
	return nil
}
