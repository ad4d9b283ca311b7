package affiliate_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"

	"affiliates/internal/affiliate"
	"affiliates/internal/domain"
	"affiliates/internal/price"
)

type fakeResponse struct {
	status int
	body   string
	err    error
}

// fakeDoer replays canned responses in order and records every request.
type fakeDoer struct {
	mu        sync.Mutex
	responses []fakeResponse
	requests  []*http.Request
	bodies    []string
}

func (f *fakeDoer) Do(req *http.Request) (*http.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	body := ""
	if req.Body != nil {
		data, _ := io.ReadAll(req.Body)
		body = string(data)
	}
	idx := len(f.requests)
	f.requests = append(f.requests, req)
	f.bodies = append(f.bodies, body)
	if idx >= len(f.responses) {
		return nil, errors.New("unexpected request")
	}
	r := f.responses[idx]
	if r.err != nil {
		return nil, r.err
	}
	return &http.Response{
		StatusCode: r.status,
		Header:     http.Header{},
		Body:       io.NopCloser(strings.NewReader(r.body)),
	}, nil
}

func (f *fakeDoer) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

func scenarioOrder() domain.Order {
	return domain.Order{
		ID:         "17",
		Number:     "1001",
		Email:      "buyer@example.com",
		CustomerID: "5",
		TotalPrice: price.New("19.99", "USD"),
		Items: []domain.LineItem{{
			SKU:       "WIDGET-1",
			UnitPrice: price.New("9.995", "USD"),
			Quantity:  "2",
			Adjustments: []domain.Adjustment{{
				Type:   domain.AdjustmentPromotion,
				Label:  "Spring sale",
				Amount: price.New("-2.00", "USD"),
			}},
		}},
	}
}

func newAdapter(t *testing.T, id, kind string, settings map[string]any, doer affiliate.Doer) affiliate.Adapter {
	t.Helper()
	cfg := domain.AffiliateConfig{ID: id, Kind: kind, Enabled: true, Settings: settings}
	if err := affiliate.ValidateConfig(&cfg); err != nil {
		t.Fatalf("validate %s: %v", kind, err)
	}
	a, err := affiliate.New(cfg, affiliate.Deps{Client: doer})
	if err != nil {
		t.Fatalf("new %s: %v", kind, err)
	}
	return a
}

func trackURL(t *testing.T, a affiliate.Adapter, order domain.Order) *domain.Pixel {
	t.Helper()
	res, err := a.Track(context.Background(), order)
	if err != nil {
		t.Fatalf("track: %v", err)
	}
	if res.IsVoid() {
		t.Fatalf("expected pixel, got void")
	}
	return res.Pixel
}
