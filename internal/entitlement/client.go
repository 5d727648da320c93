// Package entitlement tracks what the user's ShopTrack subscription allows.
// The agent never talks to the payment processor; it only polls the billing
// service for the current plan and gates premium features on the answer.
package entitlement

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"
)

// Config holds entitlement client configuration.
type Config struct {
	Token         string
	StatusURL     string
	CheckInterval time.Duration
	GracePeriod   time.Duration
}

// Status is the cached subscription state.
type Status struct {
	Active      bool      `json:"active"`
	Plan        string    `json:"plan"`
	Features    []string  `json:"features"`
	ExpiresAt   string    `json:"expires_at"`
	Warning     string    `json:"warning"`
	LastChecked time.Time `json:"last_checked"`
	Offline     bool      `json:"offline"`
}

type statusResponse struct {
	Active    bool     `json:"active"`
	Plan      string   `json:"plan,omitempty"`
	Features  []string `json:"features,omitempty"`
	ExpiresAt *string  `json:"expires_at,omitempty"`
	Reason    string   `json:"reason,omitempty"`
}

// Client polls the billing service for subscription status.
type Client struct {
	mu         sync.RWMutex
	cfg        Config
	status     Status
	httpClient *http.Client
	stopCh     chan struct{}
	stopped    chan struct{}
}

// NewClient creates an entitlement client. With no token the agent runs in
// free mode: local cache only, no premium features.
func NewClient(cfg Config) *Client {
	if cfg.CheckInterval == 0 {
		cfg.CheckInterval = 6 * time.Hour
	}
	if cfg.GracePeriod == 0 {
		cfg.GracePeriod = 7 * 24 * time.Hour
	}

	c := &Client{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		stopCh:  make(chan struct{}),
		stopped: make(chan struct{}),
	}

	if cfg.Token == "" {
		c.status = Status{Active: false, Plan: "free"}
	}

	return c
}

// Refresh fetches the current subscription status from the billing service.
func (c *Client) Refresh(ctx context.Context) error {
	c.mu.RLock()
	token := c.cfg.Token
	url := c.cfg.StatusURL
	c.mu.RUnlock()

	if token == "" {
		c.mu.Lock()
		c.status = Status{Active: false, Plan: "free", LastChecked: time.Now()}
		c.mu.Unlock()
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// Billing service unreachable: keep the cached status, note that we
		// are running on stale data.
		c.mu.Lock()
		c.status.Offline = true
		c.status.Warning = "Unable to reach billing service"
		c.mu.Unlock()
		return fmt.Errorf("status request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.mu.Lock()
		c.status.Offline = true
		c.status.Warning = fmt.Sprintf("Billing service returned %d", resp.StatusCode)
		c.mu.Unlock()
		return fmt.Errorf("status: %d", resp.StatusCode)
	}

	var sr statusResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}

	c.mu.Lock()
	c.status = Status{
		Active:      sr.Active,
		Plan:        sr.Plan,
		Features:    sr.Features,
		LastChecked: time.Now(),
	}
	if sr.ExpiresAt != nil {
		c.status.ExpiresAt = *sr.ExpiresAt
	}
	if !sr.Active && sr.Reason != "" {
		c.status.Warning = "Subscription " + sr.Reason
	}
	c.mu.Unlock()

	return nil
}

// HasFeature reports whether the subscription currently allows a feature.
// While the billing service is unreachable, previously granted features stay
// available for the grace period.
func (c *Client) HasFeature(feature string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if !c.status.Active {
		if c.status.Offline && !c.status.LastChecked.IsZero() &&
			time.Since(c.status.LastChecked) < c.cfg.GracePeriod {
			return c.hasFeatureInList(feature)
		}
		return false
	}

	if !c.status.LastChecked.IsZero() &&
		time.Since(c.status.LastChecked) > c.cfg.GracePeriod {
		return false
	}

	return c.hasFeatureInList(feature)
}

func (c *Client) hasFeatureInList(feature string) bool {
	for _, f := range c.status.Features {
		if f == feature {
			return true
		}
	}
	return false
}

// Status returns the cached subscription status.
func (c *Client) Status() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.status
}

// IsFreeTier reports whether the agent is running without a session token.
func (c *Client) IsFreeTier() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cfg.Token == ""
}

// Start refreshes once and then revalidates on the configured interval.
func (c *Client) Start(ctx context.Context) {
	c.Refresh(ctx)

	go func() {
		defer close(c.stopped)
		ticker := time.NewTicker(c.cfg.CheckInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				c.Refresh(ctx)
			case <-c.stopCh:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop halts the background refresh goroutine.
func (c *Client) Stop() {
	close(c.stopCh)
	<-c.stopped
}
