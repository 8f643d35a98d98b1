package paywallsvc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/tidwall/gjson"

	"github.com/PratikDhanave/paywall-attribution-service/internal/paywall"
)

// ErrNotConfigured is returned by calls made before Configure succeeded.
var ErrNotConfigured = errors.New("paywall service not configured")

// Client talks to the remote paywall service.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client

	mu         sync.RWMutex
	configured bool
	campaign   string
}

// New returns a client. timeout applies to every request.
func New(baseURL, apiKey string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http:    &http.Client{Timeout: timeout},
	}
}

// Configure fetches the remote configuration for the API key.
func (c *Client) Configure(ctx context.Context) error {
	body, err := c.do(ctx, http.MethodGet, "/v1/config", nil)
	if err != nil {
		return fmt.Errorf("configure: %w", err)
	}
	if !gjson.ValidBytes(body) {
		return errors.New("configure: invalid config document")
	}

	c.mu.Lock()
	c.configured = true
	c.campaign = gjson.GetBytes(body, "campaign_trigger").String()
	c.mu.Unlock()
	return nil
}

// CampaignTrigger returns the campaign placement the remote config names, if any.
func (c *Client) CampaignTrigger() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.campaign
}

func (c *Client) ready() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.configured {
		return ErrNotConfigured
	}
	return nil
}

// ActiveEntitlements returns the ids of the user's active entitlements.
func (c *Client) ActiveEntitlements(ctx context.Context) ([]string, error) {
	if err := c.ready(); err != nil {
		return nil, err
	}
	body, err := c.do(ctx, http.MethodGet, "/v1/entitlements", nil)
	if err != nil {
		return nil, fmt.Errorf("entitlements: %w", err)
	}

	var ids []string
	for _, e := range gjson.GetBytes(body, "active.#.id").Array() {
		ids = append(ids, e.String())
	}
	return ids, nil
}

// RegisterPlacement asks the service to evaluate and present a placement.
func (c *Client) RegisterPlacement(ctx context.Context, req paywall.PlacementRequest, activationID string) error {
	if err := c.ready(); err != nil {
		return err
	}
	payload, err := json.Marshal(map[string]string{
		"placement":     req.Placement,
		"activation_id": activationID,
	})
	if err != nil {
		return err
	}
	_, err = c.do(ctx, http.MethodPost, "/v1/placements", payload)
	return err
}

func (c *Client) do(ctx context.Context, method, path string, payload []byte) ([]byte, error) {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	out, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode/100 != 2 {
		msg := gjson.GetBytes(out, "error").String()
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return nil, fmt.Errorf("%s %s: %d %s", method, path, resp.StatusCode, msg)
	}
	return out, nil
}
