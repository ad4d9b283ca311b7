package affiliate

import (
	"context"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"affiliates/internal/domain"
	"affiliates/internal/price"
)

const conversantBaseURL = "https://www.emjcd.com/tags/c"

var conversantDefinition = Definition{
	Kind:         KindConversantCJ,
	Label:        "Conversant CJ (formerly Commission Junction)",
	TrackingType: TrackingHTML,
	Defaults: func() map[string]any {
		return map[string]any{
			"container_tag_id": "",
			"action_id":        "",
			"cid":              "",
		}
	},
	Validate: func(settings map[string]any) error {
		var s conversantSettings
		if err := decodeSettings(settings, &s); err != nil {
			return &ValidationError{Kind: string(KindConversantCJ), Reason: err.Error()}
		}
		if err := required(KindConversantCJ, "container_tag_id", s.ContainerTagID); err != nil {
			return err
		}
		if err := required(KindConversantCJ, "action_id", s.ActionID); err != nil {
			return err
		}
		return required(KindConversantCJ, "cid", s.CID)
	},
	New: func(id string, settings map[string]any, deps Deps) (Adapter, error) {
		var s conversantSettings
		if err := decodeSettings(settings, &s); err != nil {
			return nil, err
		}
		return &ConversantCJ{base: base{id: id, kind: KindConversantCJ, deps: deps}, settings: s}, nil
	},
}

type conversantSettings struct {
	ContainerTagID string `mapstructure:"container_tag_id"`
	ActionID       string `mapstructure:"action_id"`
	CID            string `mapstructure:"cid"`
}

// ConversantCJ emits the CJ conversion iframe with per-item parameters.
// Cancellation is not implemented by the network integration and always skips.
type ConversantCJ struct {
	base
	settings conversantSettings
}

func (a *ConversantCJ) Track(_ context.Context, order domain.Order) (domain.TrackingResult, error) {
	currency := order.TotalPrice.CurrencyCode
	q := Query{}
	q.Set("containerTagId", a.settings.ContainerTagID)
	q.Set("TYPE", a.settings.ActionID)
	q.Set("CID", a.settings.CID)
	q.Set("OID", order.Number)
	q.Set("CURRENCY", currency)
	q.Set("DISCOUNT", a.discount(order.CollectAdjustments(), currency))
	// An empty COUPON is omitted so ITEM1 follows DISCOUNT directly.
	if len(order.Coupons) > 0 {
		q.Set("COUPON", strings.Join(order.Coupons, ","))
	}
	a.appendItems(&q, order)

	return domain.TrackingResult{Pixel: &domain.Pixel{
		AffiliateID: a.id,
		Tag:         domain.TagIframe,
		URL:         q.URL(conversantBaseURL),
		Attributes: map[string]string{
			"name":        "cj_conversion",
			"height":      "1",
			"width":       "1",
			"frameborder": "0",
			"scrolling":   "no",
		},
	}}, nil
}

// appendItems adds ITEMn/AMTn/QTYn/DCNTn for every line with a product. The index
// starts at 1 and only advances for emitted lines.
func (a *ConversantCJ) appendItems(q *Query, order domain.Order) {
	index := 1
	for _, item := range order.Items {
		if !item.HasProduct() {
			continue
		}
		n := strconv.Itoa(index)
		currency := item.Currency()
		if currency == "" {
			currency = order.TotalPrice.CurrencyCode
		}
		unit := item.UnitPrice
		if unit.CurrencyCode == "" {
			unit.CurrencyCode = currency
		}
		q.Set("ITEM"+n, item.SKU)
		q.Set("AMT"+n, a.deps.Rounder.Round(unit).String())
		q.Set("QTY"+n, strconv.FormatInt(quantity(item.Quantity), 10))
		// Not multiplied by quantity: the per-item discount is the line adjustment total.
		q.Set("DCNT"+n, a.discount(item.Adjustments, currency))
		index++
	}
}

// discount sums promotion adjustments, rounds to currency precision and drops the sign.
func (a *ConversantCJ) discount(adjustments []domain.Adjustment, currency string) string {
	total := price.Zero(currency)
	for _, adj := range adjustments {
		if adj.Type != domain.AdjustmentPromotion {
			continue
		}
		total.Number = total.Number.Add(adj.Amount.Number)
	}
	rounded := a.deps.Rounder.Round(total)
	return price.Format(rounded.Number.Abs())
}

func quantity(raw string) int64 {
	d, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return 0
	}
	return d.IntPart()
}
