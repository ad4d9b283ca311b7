package server

import (
	"encoding/json"
	"fmt"

	"affiliates/internal/affiliate"
	"affiliates/internal/domain"
)

// Request payloads

// OrderPayload is the order document as sent by the checkout. It is decoded into
// domain.Order after schema validation; money numbers may be strings or numbers.
type OrderPayload map[string]any

type TrackRequest struct {
	Order OrderPayload `json:"order"`
}

type CancelRequest struct {
	Order     OrderPayload `json:"order"`
	EventType string       `json:"event_type,omitempty" enum:"order_canceled,order_refunded"`
}

type PutAffiliateRequest struct {
	Label    string         `json:"label,omitempty"`
	Kind     string         `json:"kind" enum:"custom_html_affiliate,conversant_cj_affiliate,hasoffers_affiliate,webgains_affiliate"`
	Enabled  *bool          `json:"enabled,omitempty"`
	Weight   int            `json:"weight,omitempty"`
	Settings map[string]any `json:"settings,omitempty"`
}

type SetEnabledRequest struct {
	Enabled bool `json:"enabled"`
}

// Response payloads

type TrackResponse struct {
	Pixels []domain.Pixel `json:"pixels"`
	Markup string         `json:"markup"`
}

type CancelResponse struct {
	Outcomes []domain.CancelOutcome `json:"outcomes"`
}

type AffiliateKindResponse struct {
	Kind         string         `json:"kind"`
	Label        string         `json:"label"`
	TrackingType string         `json:"tracking_type" enum:"html,api"`
	Defaults     map[string]any `json:"defaults"`
}

type paginatedAffiliates struct {
	Items []domain.AffiliateConfig `json:"items"`
}

type paginatedDispatches struct {
	Items []domain.DispatchRecord `json:"items"`
}

type paginatedKinds struct {
	Items []AffiliateKindResponse `json:"items"`
}

func (p OrderPayload) decode() (domain.Order, error) {
	var order domain.Order
	if p == nil {
		return order, fmt.Errorf("order is required")
	}
	data, err := json.Marshal(p)
	if err != nil {
		return order, fmt.Errorf("invalid order: %w", err)
	}
	if err := json.Unmarshal(data, &order); err != nil {
		return order, fmt.Errorf("invalid order: %w", err)
	}
	if order.Number == "" {
		return order, fmt.Errorf("order.order_number is required")
	}
	return order, nil
}

func kindResponses(defs []affiliate.Definition) []AffiliateKindResponse {
	out := make([]AffiliateKindResponse, 0, len(defs))
	for _, def := range defs {
		out = append(out, AffiliateKindResponse{
			Kind:         string(def.Kind),
			Label:        def.Label,
			TrackingType: def.TrackingType,
			Defaults:     def.Defaults(),
		})
	}
	return out
}

func nonNilSlice[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}
