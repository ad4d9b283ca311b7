package affiliate_test

import (
	"context"
	"reflect"
	"strings"
	"testing"

	"affiliates/internal/domain"
	"affiliates/internal/price"
)

func conversantSettings() map[string]any {
	return map[string]any{"container_tag_id": "12345", "action_id": "678", "cid": "999"}
}

func TestConversantTrackScenario(t *testing.T) {
	a := newAdapter(t, "cj", "conversant_cj_affiliate", conversantSettings(), &fakeDoer{})
	px := trackURL(t, a, scenarioOrder())
	if px.Tag != domain.TagIframe {
		t.Fatalf("expected iframe, got %s", px.Tag)
	}
	if !strings.HasPrefix(px.URL, "https://www.emjcd.com/tags/c?containerTagId=12345&TYPE=678&CID=999&") {
		t.Fatalf("unexpected prefix: %s", px.URL)
	}
	want := "OID=1001&CURRENCY=USD&DISCOUNT=2&ITEM1=WIDGET-1&AMT1=10&QTY1=2&DCNT1=2"
	if !strings.Contains(px.URL, want) {
		t.Fatalf("expected %q in %s", want, px.URL)
	}
	if strings.Contains(px.URL, "COUPON") {
		t.Fatalf("coupon emitted without coupons: %s", px.URL)
	}
	if px.Attributes["name"] != "cj_conversion" || px.Attributes["frameborder"] != "0" {
		t.Fatalf("unexpected attributes: %v", px.Attributes)
	}
}

func TestConversantSkipsItemsWithoutProduct(t *testing.T) {
	order := scenarioOrder()
	order.Items = []domain.LineItem{
		{UnitPrice: price.New("1.00", "USD"), Quantity: "1"},
		{SKU: "B", UnitPrice: price.New("3.50", "USD"), Quantity: "3.000"},
	}
	a := newAdapter(t, "cj", "conversant_cj_affiliate", conversantSettings(), &fakeDoer{})
	px := trackURL(t, a, order)
	if !strings.Contains(px.URL, "ITEM1=B&AMT1=3.5&QTY1=3&DCNT1=0") {
		t.Fatalf("expected first emitted item at index 1: %s", px.URL)
	}
	if strings.Contains(px.URL, "ITEM2") {
		t.Fatalf("unexpected second item: %s", px.URL)
	}
}

func TestConversantZeroDiscountAndCoupons(t *testing.T) {
	order := scenarioOrder()
	order.Items[0].Adjustments = []domain.Adjustment{{Type: "tax", Amount: price.New("1.60", "USD")}}
	order.Coupons = []string{"SPRING", "VIP 10"}
	a := newAdapter(t, "cj", "conversant_cj_affiliate", conversantSettings(), &fakeDoer{})
	px := trackURL(t, a, order)
	if !strings.Contains(px.URL, "DISCOUNT=0&COUPON=SPRING%2CVIP%2010&ITEM1=") {
		t.Fatalf("unexpected discount/coupon encoding: %s", px.URL)
	}
	// Line discounts are not scaled by quantity.
	order = scenarioOrder()
	order.Items[0].Quantity = "5"
	px = trackURL(t, a, order)
	if !strings.Contains(px.URL, "QTY1=5&DCNT1=2") {
		t.Fatalf("unexpected line discount: %s", px.URL)
	}
}

func TestConversantTrackIsDeterministic(t *testing.T) {
	a := newAdapter(t, "cj", "conversant_cj_affiliate", conversantSettings(), &fakeDoer{})
	first := trackURL(t, a, scenarioOrder())
	second := trackURL(t, a, scenarioOrder())
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("track not idempotent: %v vs %v", first, second)
	}
}

func TestConversantCancelSkips(t *testing.T) {
	doer := &fakeDoer{}
	a := newAdapter(t, "cj", "conversant_cj_affiliate", conversantSettings(), doer)
	out := a.Cancel(context.Background(), scenarioOrder(), domain.EventOrderCanceled)
	if out.Status != domain.CancelSkipped {
		t.Fatalf("expected skipped, got %s", out.Status)
	}
	if doer.calls() != 0 {
		t.Fatalf("expected no calls, got %d", doer.calls())
	}
}

func TestConversantDiscountIsUnsignedRoundedSum(t *testing.T) {
	promo := func(amount string) domain.Adjustment {
		return domain.Adjustment{Type: domain.AdjustmentPromotion, Amount: price.New(amount, "USD")}
	}
	tests := []struct {
		name      string
		orderAdj  []domain.Adjustment
		itemAdj   []domain.Adjustment
		wantOrder string
		wantItem  string
	}{
		{
			name:      "positive promotion",
			itemAdj:   []domain.Adjustment{promo("2.00")},
			wantOrder: "2",
			wantItem:  "2",
		},
		{
			name:      "several promotions rounded after summing",
			itemAdj:   []domain.Adjustment{promo("1.005"), promo("0.5")},
			wantOrder: "1.51",
			wantItem:  "1.51",
		},
		{
			name:      "order promotion counts only toward DISCOUNT",
			orderAdj:  []domain.Adjustment{promo("-3.00")},
			itemAdj:   []domain.Adjustment{promo("-2.00")},
			wantOrder: "5",
			wantItem:  "2",
		},
		{
			name:      "mixed signs",
			itemAdj:   []domain.Adjustment{promo("-2.50"), promo("0.75")},
			wantOrder: "1.75",
			wantItem:  "1.75",
		},
		{
			name:      "order promotion without line promotions",
			orderAdj:  []domain.Adjustment{promo("-4.25")},
			wantOrder: "4.25",
			wantItem:  "0",
		},
	}
	a := newAdapter(t, "cj", "conversant_cj_affiliate", conversantSettings(), &fakeDoer{})
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			order := scenarioOrder()
			order.Adjustments = tt.orderAdj
			order.Items[0].Adjustments = tt.itemAdj
			px := trackURL(t, a, order)
			if !strings.Contains(px.URL, "&DISCOUNT="+tt.wantOrder+"&ITEM1=") {
				t.Fatalf("expected DISCOUNT=%s in %s", tt.wantOrder, px.URL)
			}
			if !strings.HasSuffix(px.URL, "&DCNT1="+tt.wantItem) {
				t.Fatalf("expected DCNT1=%s in %s", tt.wantItem, px.URL)
			}
		})
	}
}
