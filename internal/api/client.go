// Package api is the JSON client for the ShopTrack server. It hands already
// deserialized records to the sync layer; nothing here interprets them.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/shoptrack/agent/internal/model"
)

// Config holds API client configuration.
type Config struct {
	BaseURL string
	Token   string
	Timeout time.Duration
}

// APIError is a non-2xx response from the server.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("api: status %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("api: status %d", e.StatusCode)
}

// Client talks to the ShopTrack REST API.
type Client struct {
	mu         sync.RWMutex
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewClient creates a new API client.
func NewClient(cfg Config) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Client{
		baseURL: cfg.BaseURL,
		token:   cfg.Token,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
	}
}

// SetToken replaces the session token used on subsequent requests.
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token string `json:"token"`
}

// Login exchanges credentials for a session token and installs it on the
// client.
func (c *Client) Login(ctx context.Context, email, password string) (string, error) {
	var resp loginResponse
	if err := c.do(ctx, "POST", "/api/login", loginRequest{Email: email, Password: password}, &resp); err != nil {
		return "", err
	}
	c.SetToken(resp.Token)
	return resp.Token, nil
}

// FetchLists returns the server's shopping lists.
func (c *Client) FetchLists(ctx context.Context) ([]model.List, error) {
	var lists []model.List
	if err := c.do(ctx, "GET", "/api/lists", nil, &lists); err != nil {
		return nil, err
	}
	return lists, nil
}

// FetchItems returns the server's items for one list.
func (c *Client) FetchItems(ctx context.Context, listID int64) ([]model.Item, error) {
	var items []model.Item
	if err := c.do(ctx, "GET", fmt.Sprintf("/api/lists/%d/items", listID), nil, &items); err != nil {
		return nil, err
	}
	return items, nil
}

// CreateList creates a list on the server and returns the server's copy,
// which carries the assigned ID.
func (c *Client) CreateList(ctx context.Context, list model.List) (*model.List, error) {
	var created model.List
	if err := c.do(ctx, "POST", "/api/lists", list, &created); err != nil {
		return nil, err
	}
	return &created, nil
}

// UpdateList pushes a local list mutation to the server.
func (c *Client) UpdateList(ctx context.Context, list model.List) (*model.List, error) {
	var updated model.List
	if err := c.do(ctx, "PUT", fmt.Sprintf("/api/lists/%d", list.ID), list, &updated); err != nil {
		return nil, err
	}
	return &updated, nil
}

// CreateItem creates an item on the server under item.ListID.
func (c *Client) CreateItem(ctx context.Context, item model.Item) (*model.Item, error) {
	var created model.Item
	if err := c.do(ctx, "POST", fmt.Sprintf("/api/lists/%d/items", item.ListID), item, &created); err != nil {
		return nil, err
	}
	return &created, nil
}

// UpdateItem pushes a local item mutation to the server.
func (c *Client) UpdateItem(ctx context.Context, item model.Item) (*model.Item, error) {
	var updated model.Item
	if err := c.do(ctx, "PUT", fmt.Sprintf("/api/lists/%d/items/%d", item.ListID, item.ID), item, &updated); err != nil {
		return nil, err
	}
	return &updated, nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body *bytes.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	} else {
		body = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	c.mu.RLock()
	token := c.token
	c.mu.RUnlock()
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var apiErr struct {
			Error string `json:"error"`
		}
		json.NewDecoder(resp.Body).Decode(&apiErr)
		return &APIError{StatusCode: resp.StatusCode, Message: apiErr.Error}
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}
