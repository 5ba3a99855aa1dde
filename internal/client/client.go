// Package client is the HTTP transport for the tracker API. It is the only
// place in the repo that talks to the network; everything above it consumes
// typed results or a *APIError carrying the full request context.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"storyline/internal/domain"
)

// TokenSource supplies the bearer token, decrypting it on first use.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// Client is a minimal tracker HTTP API client.
type Client struct {
	BaseURL    string
	Tokens     TokenSource
	HTTPClient *http.Client
	Timeout    time.Duration
	// DryRun logs the would-be request instead of sending it. Mutating
	// calls return ErrDryRun; nothing reaches the network.
	DryRun bool
	Logger *log.Logger
}

// New creates a client with sane defaults.
func New(baseURL string, tokens TokenSource) *Client {
	return &Client{
		BaseURL: baseURL,
		Tokens:  tokens,
		Timeout: 10 * time.Second,
	}
}

// ErrDryRun is returned by mutating calls when DryRun is set.
var ErrDryRun = errors.New("dry run: request logged, not sent")

// APIError wraps non-2xx responses with the request that caused them.
type APIError struct {
	Method      string
	Path        string
	RequestBody string
	StatusCode  int
	Body        string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: %s %s status=%d body=%s", e.Method, e.Path, e.StatusCode, e.Body)
}

// Story fetches one story by id.
func (c *Client) Story(ctx context.Context, id int) (domain.Story, error) {
	raw, err := c.doRaw(ctx, http.MethodGet, fmt.Sprintf("stories/%d", id), nil)
	if err != nil {
		return domain.Story{}, err
	}
	return domain.DecodeStory(raw)
}

// UpdateStory submits a partial update and returns the new server state.
func (c *Client) UpdateStory(ctx context.Context, id int, upd domain.StoryUpdate) (domain.Story, error) {
	raw, err := c.doRaw(ctx, http.MethodPut, fmt.Sprintf("stories/%d", id), upd)
	if err != nil {
		return domain.Story{}, err
	}
	return domain.DecodeStory(raw)
}

// CreateStory creates a story. idempotencyKey deduplicates retried creates
// server-side; pass "" to omit it.
func (c *Client) CreateStory(ctx context.Context, params domain.StoryCreate, idempotencyKey string) (domain.Story, error) {
	var hdr http.Header
	if idempotencyKey != "" {
		hdr = http.Header{"Idempotency-Key": []string{idempotencyKey}}
	}
	raw, err := c.doRawHeader(ctx, http.MethodPost, "stories", params, hdr)
	if err != nil {
		return domain.Story{}, err
	}
	return domain.DecodeStory(raw)
}

// ListResources fetches a reference collection as loosely-typed records.
// The refs package reduces them to id/name pairs.
func (c *Client) ListResources(ctx context.Context, path string) ([]map[string]any, error) {
	raw, err := c.doRaw(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	var items []map[string]any
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, fmt.Errorf("unmarshal %s: %w", path, err)
	}
	return items, nil
}

// Workflows fetches the nested workflow structure.
func (c *Client) Workflows(ctx context.Context) ([]domain.Workflow, error) {
	raw, err := c.doRaw(ctx, http.MethodGet, "workflows", nil)
	if err != nil {
		return nil, err
	}
	var wfs []domain.Workflow
	if err := json.Unmarshal(raw, &wfs); err != nil {
		return nil, fmt.Errorf("unmarshal workflows: %w", err)
	}
	return wfs, nil
}

func (c *Client) doRaw(ctx context.Context, method, endpoint string, body any) ([]byte, error) {
	return c.doRawHeader(ctx, method, endpoint, body, nil)
}

func (c *Client) doRawHeader(ctx context.Context, method, endpoint string, body any, extra http.Header) ([]byte, error) {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return nil, err
		}
	}
	reqBody := strings.TrimSpace(buf.String())
	if c.DryRun && method != http.MethodGet {
		c.logger().Printf("dry-run: %s %s body=%s", method, endpoint, reqBody)
		return nil, ErrDryRun
	}
	full := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	if _, err := url.Parse(full); err != nil {
		return nil, fmt.Errorf("bad endpoint %s: %w", endpoint, err)
	}
	req, err := http.NewRequestWithContext(ctx, method, full, bytes.NewReader([]byte(reqBody)))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if extra != nil {
		for k, vs := range extra {
			for _, v := range vs {
				req.Header.Set(k, v)
			}
		}
	}
	if c.Tokens != nil {
		token, err := c.Tokens.Token(ctx)
		if err != nil {
			return nil, fmt.Errorf("resolve token: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 300 {
		return nil, &APIError{
			Method:      method,
			Path:        endpoint,
			RequestBody: reqBody,
			StatusCode:  resp.StatusCode,
			Body:        string(b),
		}
	}
	return b, nil
}

func (c *Client) logger() *log.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return log.Default()
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
