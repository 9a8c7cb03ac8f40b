// Package client submits measurement records to a netgauge results server
// and fetches them back.
//
// Usage:
//
//	c := client.New("https://results.example.com", client.WithAPIKey(key))
//	sub, err := c.Submit(ctx, rec)
//	rec, err := c.Result(ctx, sub.TestID)
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

	"github.com/saveenergy/netgauge/pkg/types"
)

const (
	resultsPath     = "/api/v1/results"
	maxResponseBody = 1 << 20
)

var (
	ErrEmptyTestID = errors.New("server returned an empty test id")
	ErrNotFound    = errors.New("result not found")
)

// Client talks to a single results server.
type Client struct {
	serverURL  string
	httpClient *http.Client
	apiKey     string
}

// Option configures the Client.
type Option func(*Client)

// WithAPIKey sets the API key for authenticated requests.
func WithAPIKey(key string) Option {
	return func(c *Client) { c.apiKey = key }
}

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

func New(serverURL string, opts ...Option) *Client {
	c := &Client{
		serverURL:  strings.TrimRight(serverURL, "/"),
		httpClient: &http.Client{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Submission is the server's answer to a submitted record.
type Submission struct {
	TestID string `json:"test_id"`
	URL    string `json:"url,omitempty"`
}

// Submit posts the record's parameter set. A response without a test id is
// an error: the run has no server-side identity to report.
func (c *Client) Submit(ctx context.Context, rec types.Record) (*Submission, error) {
	body, err := json.Marshal(rec.Params())
	if err != nil {
		return nil, fmt.Errorf("encode params: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.serverURL+resultsPath, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	var sub Submission
	if err := c.do(req, &sub); err != nil {
		return nil, err
	}
	sub.TestID = strings.TrimSpace(sub.TestID)
	if sub.TestID == "" {
		return nil, ErrEmptyTestID
	}
	return &sub, nil
}

// Result fetches a previously submitted record.
func (c *Client) Result(ctx context.Context, testID string) (*types.Record, error) {
	reqURL := c.serverURL + resultsPath + "/" + url.PathEscape(testID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	var rec types.Record
	if err := c.do(req, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (c *Client) do(req *http.Request, out any) error {
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("server unreachable: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	switch {
	case resp.StatusCode == http.StatusNotFound:
		return ErrNotFound
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return fmt.Errorf("server returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
