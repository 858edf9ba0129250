package directory

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

// Client calls a directory server over HTTP. Zero-value is not usable;
// construct with NewClient.
type Client struct {
	base string
	http *http.Client
}

// NewClient returns a client for the directory at endpoint
// (e.g. "http://127.0.0.1:8082").
func NewClient(endpoint string) *Client {
	return &Client{
		base: strings.TrimRight(endpoint, "/"),
		http: &http.Client{Timeout: 5 * time.Second},
	}
}

// Upsert inserts or refreshes e in the directory.
func (c *Client) Upsert(ctx context.Context, e Entry) error {
	body, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encoding entry %q: %w", e.Name, err)
	}
	return c.post(ctx, "/upsert", body)
}

// Remove deletes the entry under name from the directory.
func (c *Client) Remove(ctx context.Context, name string) error {
	body, err := json.Marshal(struct {
		Name string `json:"name"`
	}{Name: name})
	if err != nil {
		return fmt.Errorf("encoding remove %q: %w", name, err)
	}
	return c.post(ctx, "/remove", body)
}

// ListBin fetches the encoded GameList frame.
func (c *Client) ListBin(ctx context.Context) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/list.bin", nil)
	if err != nil {
		return nil, fmt.Errorf("building list request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching game list: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetching game list: directory returned %s", resp.Status)
	}

	frame, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading game list: %w", err)
	}
	return frame, nil
}

func (c *Client) post(ctx context.Context, path string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building %s request: %w", path, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("posting %s: %w", path, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("posting %s: directory returned %s", path, resp.Status)
	}
	return nil
}
