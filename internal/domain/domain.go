package domain

import "affiliates/internal/price"

// EventType names the order lifecycle event an affiliate reacts to.
type EventType string

const (
	EventCheckoutCompletion EventType = "checkout_completion"
	EventOrderCanceled      EventType = "order_canceled"
	EventOrderRefunded      EventType = "order_refunded"
)

// AdjustmentPromotion is the adjustment type produced by promotions and coupons.
const AdjustmentPromotion = "promotion"

// Adjustment is a typed modification of an order or line item total.
// Promotions are stored as negative amounts.
type Adjustment struct {
	Type   string      `json:"type"`
	Label  string      `json:"label,omitempty"`
	Amount price.Price `json:"amount"`
}

// LineItem is one purchased product line. An empty SKU means the purchased
// entity could not be resolved.
type LineItem struct {
	ID          string       `json:"id,omitempty"`
	SKU         string       `json:"sku,omitempty"`
	Title       string       `json:"title,omitempty"`
	UnitPrice   price.Price  `json:"unit_price"`
	Quantity    string       `json:"quantity"`
	TotalPrice  *price.Price `json:"total_price,omitempty"`
	Adjustments []Adjustment `json:"adjustments,omitempty"`
}

// HasProduct reports whether the line references a resolvable product.
func (li LineItem) HasProduct() bool {
	return li.SKU != ""
}

// Currency returns the currency of the line total, falling back to the unit price.
func (li LineItem) Currency() string {
	if li.TotalPrice != nil && li.TotalPrice.CurrencyCode != "" {
		return li.TotalPrice.CurrencyCode
	}
	return li.UnitPrice.CurrencyCode
}

// Order is the completed checkout as seen by affiliate dispatch. It is never mutated.
type Order struct {
	ID             string            `json:"order_id,omitempty"`
	Number         string            `json:"order_number"`
	Email          string            `json:"mail,omitempty"`
	CustomerID     string            `json:"customer_id,omitempty"`
	TotalPrice     price.Price       `json:"total_price"`
	Items          []LineItem        `json:"items,omitempty"`
	Adjustments    []Adjustment      `json:"adjustments,omitempty"`
	Coupons        []string          `json:"coupons,omitempty"`
	BillingProfile map[string]string `json:"billing_profile,omitempty"`
}

// CollectAdjustments returns order-level adjustments followed by each line item's.
func (o Order) CollectAdjustments() []Adjustment {
	out := make([]Adjustment, 0, len(o.Adjustments))
	out = append(out, o.Adjustments...)
	for _, item := range o.Items {
		out = append(out, item.Adjustments...)
	}
	return out
}

// AffiliateConfig binds an adapter kind to its settings.
type AffiliateConfig struct {
	ID        string         `json:"id" yaml:"id"`
	Label     string         `json:"label" yaml:"label"`
	Kind      string         `json:"kind" yaml:"kind"`
	Enabled   bool           `json:"enabled" yaml:"enabled"`
	Weight    int            `json:"weight,omitempty" yaml:"weight,omitempty"`
	Settings  map[string]any `json:"settings" yaml:"settings"`
	CreatedAt string         `json:"created_at,omitempty" yaml:"-" format:"date-time"`
	UpdatedAt string         `json:"updated_at,omitempty" yaml:"-" format:"date-time"`
}

// Pixel tags.
const (
	TagImg    = "img"
	TagIframe = "iframe"
)

// Pixel describes an HTML element whose src notifies an affiliate network.
type Pixel struct {
	AffiliateID string            `json:"affiliate_id"`
	Tag         string            `json:"tag" enum:"img,iframe"`
	URL         string            `json:"url"`
	Attributes  map[string]string `json:"attributes,omitempty"`
}

// TrackingResult is either a pixel to render or Void when the adapter already
// performed a direct call.
type TrackingResult struct {
	Pixel *Pixel
}

// Void is the result of an adapter that has nothing to render.
var Void = TrackingResult{}

// IsVoid reports whether there is nothing to render.
func (r TrackingResult) IsVoid() bool { return r.Pixel == nil }

// CancelStatus classifies the result of a cancellation attempt.
type CancelStatus string

const (
	CancelSuccess       CancelStatus = "success"
	CancelSkipped       CancelStatus = "skipped"
	CancelRemoteFailure CancelStatus = "remote_failure"
)

// CancelOutcome is the non-fatal result of one adapter's cancellation.
type CancelOutcome struct {
	AffiliateID string       `json:"affiliate_id"`
	Kind        string       `json:"kind"`
	Status      CancelStatus `json:"status" enum:"success,skipped,remote_failure"`
	StatusCode  int          `json:"status_code,omitempty"`
	Detail      string       `json:"detail,omitempty"`
}

// Skipped builds a skipped outcome.
func Skipped(detail string) CancelOutcome {
	return CancelOutcome{Status: CancelSkipped, Detail: detail}
}

// RemoteFailure builds a remote failure outcome. statusCode is 0 for transport errors.
func RemoteFailure(statusCode int, detail string) CancelOutcome {
	return CancelOutcome{Status: CancelRemoteFailure, StatusCode: statusCode, Detail: detail}
}

// Dispatch operations recorded in the dispatch log.
const (
	OperationTrack  = "track"
	OperationCancel = "cancel"
)

// DispatchRecord is one adapter invocation in the dispatch log.
type DispatchRecord struct {
	ID          int64  `json:"id"`
	TS          string `json:"ts" format:"date-time"`
	Operation   string `json:"operation" enum:"track,cancel"`
	EventType   string `json:"event_type"`
	OrderNumber string `json:"order_number"`
	AffiliateID string `json:"affiliate_id"`
	Kind        string `json:"kind"`
	Outcome     string `json:"outcome"`
	StatusCode  int    `json:"status_code,omitempty"`
	Detail      string `json:"detail,omitempty"`
}

// APIKey authorizes a checkout integration to dispatch orders.
type APIKey struct {
	ID        string `json:"id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}
