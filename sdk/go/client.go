package affiliatesdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal affiliates HTTP API client for checkout integrations.
type Client struct {
	BaseURL     string
	BasePath    string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL, apiKey string) *Client {
	return &Client{
		BaseURL:  baseURL,
		BasePath: "/v0",
		APIKey:   apiKey,
		Timeout:  10 * time.Second,
	}
}

// Price is an amount in a currency. Number is a decimal string.
type Price struct {
	Number       string `json:"number"`
	CurrencyCode string `json:"currency_code"`
}

// Adjustment is a promotion, fee or shipping line applied to an order or item.
type Adjustment struct {
	Type   string `json:"type"`
	Label  string `json:"label,omitempty"`
	Amount Price  `json:"amount"`
}

// LineItem is one order line.
type LineItem struct {
	ID          string       `json:"id,omitempty"`
	SKU         string       `json:"sku,omitempty"`
	Title       string       `json:"title,omitempty"`
	UnitPrice   Price        `json:"unit_price"`
	Quantity    string       `json:"quantity"`
	Adjustments []Adjustment `json:"adjustments,omitempty"`
}

// Order is the order document sent for tracking and cancellation.
type Order struct {
	ID             string            `json:"order_id,omitempty"`
	Number         string            `json:"order_number"`
	Email          string            `json:"mail,omitempty"`
	CustomerID     string            `json:"customer_id,omitempty"`
	TotalPrice     Price             `json:"total_price"`
	Items          []LineItem        `json:"items,omitempty"`
	Adjustments    []Adjustment      `json:"adjustments,omitempty"`
	Coupons        []string          `json:"coupons,omitempty"`
	BillingProfile map[string]string `json:"billing_profile,omitempty"`
}

// Pixel is one tracking element to embed in the checkout completion page.
type Pixel struct {
	AffiliateID string            `json:"affiliate_id"`
	Tag         string            `json:"tag"`
	URL         string            `json:"url"`
	Attributes  map[string]string `json:"attributes,omitempty"`
}

// TrackResult holds the pixels and their rendered HTML.
type TrackResult struct {
	Pixels []Pixel `json:"pixels"`
	Markup string  `json:"markup"`
}

// CancelOutcome is the result of one affiliate's cancellation.
type CancelOutcome struct {
	AffiliateID string `json:"affiliate_id"`
	Kind        string `json:"kind"`
	Status      string `json:"status"`
	StatusCode  int    `json:"status_code,omitempty"`
	Detail      string `json:"detail,omitempty"`
}

// Affiliate is a stored affiliate config.
type Affiliate struct {
	ID        string         `json:"id"`
	Label     string         `json:"label"`
	Kind      string         `json:"kind"`
	Enabled   bool           `json:"enabled"`
	Weight    int            `json:"weight,omitempty"`
	Settings  map[string]any `json:"settings"`
	CreatedAt string         `json:"created_at,omitempty"`
	UpdatedAt string         `json:"updated_at,omitempty"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s message=%s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// Track returns the pixels for a completed checkout.
func (c *Client) Track(ctx context.Context, order Order) (TrackResult, error) {
	var resp TrackResult
	err := c.do(ctx, http.MethodPost, "orders/track", map[string]any{"order": order}, &resp)
	return resp, err
}

// Cancel reports a canceled or refunded order. An empty event means order_canceled.
func (c *Client) Cancel(ctx context.Context, order Order, event string) ([]CancelOutcome, error) {
	body := map[string]any{"order": order}
	if event != "" {
		body["event_type"] = event
	}
	var resp struct {
		Outcomes []CancelOutcome `json:"outcomes"`
	}
	err := c.do(ctx, http.MethodPost, "orders/cancel", body, &resp)
	return resp.Outcomes, err
}

// ListAffiliates returns stored affiliate configs in dispatch order.
func (c *Client) ListAffiliates(ctx context.Context) ([]Affiliate, error) {
	var resp struct {
		Items []Affiliate `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, "affiliates", nil, &resp)
	return resp.Items, err
}

// GetAffiliate returns one affiliate config.
func (c *Client) GetAffiliate(ctx context.Context, id string) (Affiliate, error) {
	var resp Affiliate
	err := c.do(ctx, http.MethodGet, "affiliates/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
		var env struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.Unmarshal(b, &env) == nil {
			apiErr.Code = env.Error.Code
			apiErr.Message = env.Error.Message
		}
		return apiErr
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	base := strings.TrimRight(c.BaseURL, "/")
	if p := strings.Trim(c.BasePath, "/"); p != "" {
		base += "/" + p
	}
	return base
}
