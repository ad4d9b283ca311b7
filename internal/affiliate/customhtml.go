package affiliate

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"affiliates/internal/domain"
)

var customHTMLDefinition = Definition{
	Kind:         KindCustomHTML,
	Label:        "Custom HTML",
	TrackingType: TrackingHTML,
	Defaults: func() map[string]any {
		return map[string]any{
			"html_tag": "",
			"uri":      "",
		}
	},
	Validate: func(settings map[string]any) error {
		var s customHTMLSettings
		if err := decodeSettings(settings, &s); err != nil {
			return &ValidationError{Kind: string(KindCustomHTML), Reason: err.Error()}
		}
		if s.HTMLTag != domain.TagImg && s.HTMLTag != domain.TagIframe {
			return &ValidationError{Kind: string(KindCustomHTML), Field: "html_tag", Reason: "must be img or iframe"}
		}
		return required(KindCustomHTML, "uri", s.URI)
	},
	New: func(id string, settings map[string]any, deps Deps) (Adapter, error) {
		var s customHTMLSettings
		if err := decodeSettings(settings, &s); err != nil {
			return nil, err
		}
		return &CustomHTML{base: base{id: id, kind: KindCustomHTML, deps: deps}, settings: s}, nil
	},
}

type customHTMLSettings struct {
	HTMLTag string `mapstructure:"html_tag"`
	URI     string `mapstructure:"uri"`
}

// CustomHTML renders an admin-supplied pixel URI with order tokens replaced.
type CustomHTML struct {
	base
	settings customHTMLSettings
}

var orderToken = regexp.MustCompile(`\[commerce_order:([^\[\]\s]+)\]`)

// Track replaces [commerce_order:...] tokens in the configured uri. Unknown tokens
// are left untouched. Values are inserted as-is; the uri author controls encoding.
func (a *CustomHTML) Track(_ context.Context, order domain.Order) (domain.TrackingResult, error) {
	tag := a.settings.HTMLTag
	if tag != domain.TagImg && tag != domain.TagIframe {
		return domain.Void, fmt.Errorf("custom html %s: unsupported tag %q", a.id, tag)
	}
	src := orderToken.ReplaceAllStringFunc(a.settings.URI, func(token string) string {
		name := orderToken.FindStringSubmatch(token)[1]
		value, ok := orderTokenValue(order, name)
		if !ok {
			return token
		}
		return value
	})
	attrs := map[string]string{"class": a.cssClass()}
	hideElement(tag, attrs)
	return domain.TrackingResult{Pixel: &domain.Pixel{
		AffiliateID: a.id,
		Tag:         tag,
		URL:         src,
		Attributes:  attrs,
	}}, nil
}

func orderTokenValue(order domain.Order, name string) (string, bool) {
	switch name {
	case "order_id":
		return order.ID, true
	case "order_number":
		return order.Number, true
	case "mail":
		return order.Email, true
	case "customer_id", "uid":
		return order.CustomerID, true
	case "total_price", "total_price:number":
		return order.TotalPrice.String(), true
	case "total_price:currency_code":
		return order.TotalPrice.CurrencyCode, true
	case "coupons":
		return strings.Join(order.Coupons, ","), true
	}
	if field, ok := strings.CutPrefix(name, "billing_profile:"); ok {
		v, found := order.BillingProfile[field]
		return v, found
	}
	return "", false
}
