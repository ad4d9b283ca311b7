package affiliate

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"affiliates/internal/domain"
)

const (
	webgainsTrackURL = "https://track.webgains.com/transaction.html"
	webgainsAPIURL   = "http://api.webgains.com/2.0/transaction"
	webgainsVersion  = "1.2.1"
)

var webgainsDefinition = Definition{
	Kind:         KindWebgains,
	Label:        "Webgains",
	TrackingType: TrackingHTML,
	Defaults: func() map[string]any {
		return map[string]any{
			"program_id":  "",
			"event_id":    "",
			"vouchercode": "none",
			"customerid":  "",
			"api_key":     "",
			"event_settings": map[string]any{
				string(domain.EventCheckoutCompletion): string(domain.EventCheckoutCompletion),
			},
		}
	},
	Validate: func(settings map[string]any) error {
		var s webgainsSettings
		if err := decodeSettings(settings, &s); err != nil {
			return &ValidationError{Kind: string(KindWebgains), Reason: err.Error()}
		}
		if err := required(KindWebgains, "program_id", s.ProgramID); err != nil {
			return err
		}
		if err := required(KindWebgains, "event_id", s.EventID); err != nil {
			return err
		}
		return validateEvents(KindWebgains, s.EventSettings, s.APIKey)
	},
	New: func(id string, settings map[string]any, deps Deps) (Adapter, error) {
		var s webgainsSettings
		if err := decodeSettings(settings, &s); err != nil {
			return nil, err
		}
		return &Webgains{
			base:     base{id: id, kind: KindWebgains, deps: deps},
			settings: s,
			events:   eventSet(s.EventSettings),
		}, nil
	},
}

type webgainsSettings struct {
	ProgramID     string `mapstructure:"program_id"`
	EventID       string `mapstructure:"event_id"`
	VoucherCode   string `mapstructure:"vouchercode"`
	CustomerID    string `mapstructure:"customerid"`
	APIKey        string `mapstructure:"api_key"`
	EventSettings any    `mapstructure:"event_settings"`
}

// Webgains tracks through the transaction pixel and cancels transactions through
// the 2.0 REST api.
type Webgains struct {
	base
	settings webgainsSettings
	events   map[domain.EventType]bool
}

func (a *Webgains) Track(_ context.Context, order domain.Order) (domain.TrackingResult, error) {
	q := Query{}
	q.Set("wgver", webgainsVersion)
	q.Set("wgprogramid", a.settings.ProgramID)
	q.Set("wgrs", "1")
	q.Set("wgvalue", order.TotalPrice.String())
	q.Set("wgeventid", a.settings.EventID)
	q.Set("wgorderreference", order.Number)
	q.Set("wgitems", "")
	q.Set("wgvouchercode", a.settings.VoucherCode)
	q.Set("wgcustomerid", a.settings.CustomerID)
	q.Set("wgCurrency", order.TotalPrice.CurrencyCode)
	return domain.TrackingResult{Pixel: &domain.Pixel{
		AffiliateID: a.id,
		Tag:         domain.TagImg,
		URL:         q.URL(webgainsTrackURL),
		Attributes:  map[string]string{"class": a.cssClass()},
	}}, nil
}

// Cancel looks up the transaction by order reference and puts it back with status
// cancelled. Every other field of the record is sent unchanged.
func (a *Webgains) Cancel(ctx context.Context, order domain.Order, event domain.EventType) domain.CancelOutcome {
	if !a.events[event] {
		return domain.Skipped(fmt.Sprintf("event %s not enabled", event))
	}
	record, outcome := a.findTransaction(ctx, order)
	if outcome != nil {
		return *outcome
	}
	id := scalarString(record["id"])
	if id == "" {
		return domain.Skipped("transaction has no id")
	}
	record["status"] = json.RawMessage(`"cancelled"`)
	body, err := json.Marshal(record)
	if err != nil {
		return domain.RemoteFailure(0, fmt.Sprintf("encode transaction: %v", err))
	}

	q := Query{}
	q.Set("key", a.settings.APIKey)
	q.Set("changeReason", "order was canceled")
	target := q.URL(webgainsAPIURL + "/" + url.PathEscape(id))
	status, _, err := a.deps.call(ctx, http.MethodPut, target, body)
	if err != nil {
		a.logFailure(ctx, "update_transaction", 0, err)
		return domain.RemoteFailure(0, err.Error())
	}
	if status != http.StatusOK {
		a.logFailure(ctx, "update_transaction", status, nil)
		return domain.RemoteFailure(status, "update transaction request failed")
	}
	return domain.CancelOutcome{Status: domain.CancelSuccess, Detail: "transaction " + id + " cancelled"}
}

func (a *Webgains) findTransaction(ctx context.Context, order domain.Order) (map[string]json.RawMessage, *domain.CancelOutcome) {
	q := Query{}
	q.Set("key", a.settings.APIKey)
	q.Set("orderReferences", order.Number)
	q.Set("programId", a.settings.ProgramID)
	status, body, err := a.deps.call(ctx, http.MethodGet, q.URL(webgainsAPIURL), nil)
	if err != nil {
		a.logFailure(ctx, "find_transaction", 0, err)
		out := domain.RemoteFailure(0, err.Error())
		return nil, &out
	}
	if status != http.StatusOK {
		a.logFailure(ctx, "find_transaction", status, nil)
		out := domain.RemoteFailure(status, "find transaction request failed")
		return nil, &out
	}
	first, ok := firstElement(body)
	if !ok {
		out := domain.Skipped("no transaction found")
		return nil, &out
	}
	var record map[string]json.RawMessage
	if err := json.Unmarshal(first, &record); err != nil || record == nil {
		out := domain.Skipped("no transaction found")
		return nil, &out
	}
	return record, nil
}
