// Package apiclient is the HTTP client the flashcache CLI uses to drive a
// running server.
package apiclient

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Client talks to the flashcache operator API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New creates a new API client.
func New(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			// Backups run inside the request.
			Timeout: 10 * time.Minute,
		},
	}
}

// WithTimeout returns a client that gives up after d.
func (c *Client) WithTimeout(d time.Duration) *Client {
	return &Client{
		baseURL:    c.baseURL,
		httpClient: &http.Client{Timeout: d},
	}
}

// envelope is the response wrapper every endpoint returns.
type envelope struct {
	Status string          `json:"status"`
	Data   json.RawMessage `json:"data,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// do sends a request and decodes the data field of the envelope into
// result. Error statuses become *APIError.
func (c *Client) do(method, path string, body, result any) error {
	req, err := c.newRequest(method, path, body)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	return decodeResponse(resp, result)
}

func (c *Client) newRequest(method, path string, body any) (*http.Request, error) {
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		r = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, c.baseURL+path, r)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

func decodeResponse(resp *http.Response, result any) error {
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}
	var env envelope
	envErr := json.Unmarshal(raw, &env)

	if resp.StatusCode >= http.StatusBadRequest {
		// Proxies and the server's own panics answer without the envelope.
		msg := string(bytes.TrimSpace(raw))
		if envErr == nil && env.Error != "" {
			msg = env.Error
		}
		return &APIError{StatusCode: resp.StatusCode, Message: msg}
	}
	if envErr != nil {
		return fmt.Errorf("failed to decode response: %w", envErr)
	}
	if result == nil || len(env.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Data, result); err != nil {
		return fmt.Errorf("failed to decode response data: %w", err)
	}
	return nil
}

func (c *Client) get(path string, result any) error {
	return c.do(http.MethodGet, path, nil, result)
}

func (c *Client) post(path string, body, result any) error {
	return c.do(http.MethodPost, path, body, result)
}

func (c *Client) put(path string, body, result any) error {
	return c.do(http.MethodPut, path, body, result)
}
