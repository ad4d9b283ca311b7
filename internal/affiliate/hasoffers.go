package affiliate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"affiliates/internal/domain"
)

// HasOffers pixel types.
const (
	HasOffersHTTPSIframe = "https_iframe"
	HasOffersHTTPSImg    = "https_img"
	HasOffersHTTPIframe  = "http_iframe"
	HasOffersHTTPImg     = "http_img"
)

var hasOffersDefinition = Definition{
	Kind:         KindHasOffers,
	Label:        "HasOffers",
	TrackingType: TrackingHTML,
	Defaults: func() map[string]any {
		return map[string]any{
			"network_id":   "",
			"offer_id":     "",
			"affiliate_id": "",
			"type":         HasOffersHTTPSIframe,
			"api_key":      "",
			"event_settings": map[string]any{
				string(domain.EventCheckoutCompletion): string(domain.EventCheckoutCompletion),
			},
		}
	},
	Validate: func(settings map[string]any) error {
		var s hasOffersSettings
		if err := decodeSettings(settings, &s); err != nil {
			return &ValidationError{Kind: string(KindHasOffers), Reason: err.Error()}
		}
		switch s.Type {
		case HasOffersHTTPSIframe, HasOffersHTTPSImg, HasOffersHTTPIframe, HasOffersHTTPImg:
		default:
			return &ValidationError{Kind: string(KindHasOffers), Field: "type", Reason: "must be one of https_iframe, https_img, http_iframe, http_img"}
		}
		if err := required(KindHasOffers, "network_id", s.NetworkID); err != nil {
			return err
		}
		if err := required(KindHasOffers, "offer_id", s.OfferID); err != nil {
			return err
		}
		return validateEvents(KindHasOffers, s.EventSettings, s.APIKey)
	},
	New: func(id string, settings map[string]any, deps Deps) (Adapter, error) {
		var s hasOffersSettings
		if err := decodeSettings(settings, &s); err != nil {
			return nil, err
		}
		return &HasOffers{
			base:     base{id: id, kind: KindHasOffers, deps: deps},
			settings: s,
			events:   eventSet(s.EventSettings),
		}, nil
	},
}

type hasOffersSettings struct {
	NetworkID     string `mapstructure:"network_id"`
	OfferID       string `mapstructure:"offer_id"`
	AffiliateID   string `mapstructure:"affiliate_id"`
	Type          string `mapstructure:"type"`
	APIKey        string `mapstructure:"api_key"`
	EventSettings any    `mapstructure:"event_settings"`
}

// HasOffers tracks through a go2cloud pixel and rejects conversions on cancel.
type HasOffers struct {
	base
	settings hasOffersSettings
	events   map[domain.EventType]bool
}

// pixelShape maps the configured type to a scheme and tag; unknown types fall back
// to an https iframe.
func (a *HasOffers) pixelShape() (string, string) {
	switch a.settings.Type {
	case HasOffersHTTPSImg:
		return "https", domain.TagImg
	case HasOffersHTTPIframe:
		return "http", domain.TagIframe
	case HasOffersHTTPImg:
		return "http", domain.TagImg
	default:
		return "https", domain.TagIframe
	}
}

func (a *HasOffers) Track(_ context.Context, order domain.Order) (domain.TrackingResult, error) {
	scheme, tag := a.pixelShape()
	q := Query{}
	q.Set("offer_id", a.settings.OfferID)
	q.Set("amount", a.deps.Rounder.Round(order.TotalPrice).String())
	q.Set("adv_sub", order.Number)
	if a.settings.AffiliateID != "" {
		q.Set("aff_id", a.settings.AffiliateID)
	}
	attrs := map[string]string{"class": a.cssClass()}
	hideElement(tag, attrs)
	return domain.TrackingResult{Pixel: &domain.Pixel{
		AffiliateID: a.id,
		Tag:         tag,
		URL:         q.URL(fmt.Sprintf("%s://%s.go2cloud.org/aff_l", scheme, a.settings.NetworkID)),
		Attributes:  attrs,
	}}, nil
}

func (a *HasOffers) apiURL() string {
	return fmt.Sprintf("https://%s.api.hasoffers.com/Apiv3/json", a.settings.NetworkID)
}

// Cancel finds the conversion recorded for the order and marks it rejected.
func (a *HasOffers) Cancel(ctx context.Context, order domain.Order, event domain.EventType) domain.CancelOutcome {
	if !a.events[event] {
		return domain.Skipped(fmt.Sprintf("event %s not enabled", event))
	}
	conversionID, outcome := a.findConversion(ctx, order)
	if outcome != nil {
		return *outcome
	}
	q := Query{}
	q.Set("NetworkToken", a.settings.APIKey)
	q.Set("Target", "Conversion")
	q.Set("Method", "updateStatus")
	q.Set("id", conversionID)
	q.Set("status", "rejected")
	status, _, err := a.deps.call(ctx, http.MethodGet, q.URL(a.apiURL()), nil)
	if err != nil {
		a.logFailure(ctx, "update_status", 0, err)
		return domain.RemoteFailure(0, err.Error())
	}
	if status != http.StatusOK {
		a.logFailure(ctx, "update_status", status, nil)
		return domain.RemoteFailure(status, "update status request failed")
	}
	return domain.CancelOutcome{Status: domain.CancelSuccess, Detail: "conversion " + conversionID + " rejected"}
}

var errNoConversion = errors.New("no conversion found")

// findConversion returns the id of the first conversion matching the order, or the
// outcome that ends the cancellation.
func (a *HasOffers) findConversion(ctx context.Context, order domain.Order) (string, *domain.CancelOutcome) {
	q := Query{}
	q.Set("NetworkToken", a.settings.APIKey)
	q.Set("Target", "Conversion")
	q.Set("Method", "findAll")
	q.Set("fields[0]", "id")
	q.Set("fields[1]", "status")
	q.Set("fields[2]", "advertiser_info")
	q.Set("filters[advertiser_info]", order.Number)
	q.Set("filters[offer_id]", a.settings.OfferID)
	status, body, err := a.deps.call(ctx, http.MethodGet, q.URL(a.apiURL()), nil)
	if err != nil {
		a.logFailure(ctx, "find_conversion", 0, err)
		out := domain.RemoteFailure(0, err.Error())
		return "", &out
	}
	if status != http.StatusOK {
		a.logFailure(ctx, "find_conversion", status, nil)
		out := domain.RemoteFailure(status, "find conversion request failed")
		return "", &out
	}
	id, err := parseConversionID(body)
	if err != nil {
		out := domain.Skipped(err.Error())
		return "", &out
	}
	return id, nil
}

func parseConversionID(body []byte) (string, error) {
	var envelope struct {
		Response struct {
			Data json.RawMessage `json:"data"`
		} `json:"response"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return "", fmt.Errorf("decode find response: %w", err)
	}
	first, ok := firstElement(envelope.Response.Data)
	if !ok {
		return "", errNoConversion
	}
	var record struct {
		Conversion struct {
			ID json.RawMessage `json:"id"`
		} `json:"Conversion"`
	}
	if err := json.Unmarshal(first, &record); err != nil {
		return "", fmt.Errorf("decode conversion: %w", err)
	}
	id := scalarString(record.Conversion.ID)
	if id == "" {
		return "", errNoConversion
	}
	return id, nil
}
