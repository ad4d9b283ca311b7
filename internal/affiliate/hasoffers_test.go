package affiliate_test

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"

	"affiliates/internal/domain"
)

func hasOffersSettings(events map[string]any) map[string]any {
	s := map[string]any{
		"network_id": "net1",
		"offer_id":   "5",
		"type":       "http_img",
		"api_key":    "token",
	}
	if events != nil {
		s["event_settings"] = events
	}
	return s
}

func TestHasOffersTrackHTTPImage(t *testing.T) {
	a := newAdapter(t, "ho", "hasoffers_affiliate", hasOffersSettings(nil), &fakeDoer{})
	px := trackURL(t, a, scenarioOrder())
	if px.Tag != domain.TagImg {
		t.Fatalf("expected img, got %s", px.Tag)
	}
	want := "http://net1.go2cloud.org/aff_l?offer_id=5&amount=19.99&adv_sub=1001"
	if px.URL != want {
		t.Fatalf("expected %s, got %s", want, px.URL)
	}
	if px.Attributes["class"] != "hasoffers-affiliate" || px.Attributes["style"] != "width:0; height:0;" {
		t.Fatalf("unexpected attributes: %v", px.Attributes)
	}
}

func TestHasOffersTrackDefaultsToSecureIframe(t *testing.T) {
	settings := hasOffersSettings(nil)
	delete(settings, "type")
	settings["affiliate_id"] = "77"
	a := newAdapter(t, "ho", "hasoffers_affiliate", settings, &fakeDoer{})
	order := scenarioOrder()
	px := trackURL(t, a, order)
	if px.Tag != domain.TagIframe || !strings.HasPrefix(px.URL, "https://net1.go2cloud.org/aff_l?") {
		t.Fatalf("unexpected pixel: %s %s", px.Tag, px.URL)
	}
	if !strings.HasSuffix(px.URL, "&aff_id=77") {
		t.Fatalf("expected trailing aff_id: %s", px.URL)
	}
	if px.Attributes["scrolling"] != "no" || px.Attributes["width"] != "1" {
		t.Fatalf("unexpected attributes: %v", px.Attributes)
	}
}

func TestHasOffersCancelRequiresEnabledEvent(t *testing.T) {
	doer := &fakeDoer{}
	a := newAdapter(t, "ho", "hasoffers_affiliate", hasOffersSettings(nil), doer)
	out := a.Cancel(context.Background(), scenarioOrder(), domain.EventOrderCanceled)
	if out.Status != domain.CancelSkipped {
		t.Fatalf("expected skipped, got %s", out.Status)
	}
	if doer.calls() != 0 {
		t.Fatalf("expected 0 calls, got %d", doer.calls())
	}
}

func TestHasOffersCancelRejectsConversion(t *testing.T) {
	doer := &fakeDoer{responses: []fakeResponse{
		{status: http.StatusOK, body: `{"response":{"status":1,"data":{"7":{"Conversion":{"id":"7","status":"approved","advertiser_info":"1001"}}}}}`},
		{status: http.StatusOK, body: `{"response":{"status":1}}`},
	}}
	a := newAdapter(t, "ho", "hasoffers_affiliate", hasOffersSettings(map[string]any{"order_canceled": "order_canceled"}), doer)
	out := a.Cancel(context.Background(), scenarioOrder(), domain.EventOrderCanceled)
	if out.Status != domain.CancelSuccess {
		t.Fatalf("expected success, got %+v", out)
	}
	if doer.calls() != 2 {
		t.Fatalf("expected 2 calls, got %d", doer.calls())
	}
	find := doer.requests[0].URL.String()
	wantFind := "https://net1.api.hasoffers.com/Apiv3/json?NetworkToken=token&Target=Conversion&Method=findAll&fields%5B0%5D=id&fields%5B1%5D=status&fields%5B2%5D=advertiser_info&filters%5Badvertiser_info%5D=1001&filters%5Boffer_id%5D=5"
	if find != wantFind {
		t.Fatalf("unexpected find url:\n%s\n%s", find, wantFind)
	}
	update := doer.requests[1]
	if update.Method != http.MethodGet {
		t.Fatalf("expected GET update, got %s", update.Method)
	}
	if !strings.HasSuffix(update.URL.String(), "?NetworkToken=token&Target=Conversion&Method=updateStatus&id=7&status=rejected") {
		t.Fatalf("unexpected update url: %s", update.URL)
	}
}

func TestHasOffersCancelFailures(t *testing.T) {
	events := map[string]any{"order_canceled": "order_canceled"}
	cases := []struct {
		name      string
		responses []fakeResponse
		status    domain.CancelStatus
		code      int
		calls     int
	}{
		{"find non-200", []fakeResponse{{status: http.StatusInternalServerError}}, domain.CancelRemoteFailure, 500, 1},
		{"find transport error", []fakeResponse{{err: errors.New("connection refused")}}, domain.CancelRemoteFailure, 0, 1},
		{"no conversion", []fakeResponse{{status: http.StatusOK, body: `{"response":{"data":[]}}`}}, domain.CancelSkipped, 0, 1},
		{"update non-200", []fakeResponse{
			{status: http.StatusOK, body: `{"response":{"data":[{"Conversion":{"id":9}}]}}`},
			{status: http.StatusBadGateway},
		}, domain.CancelRemoteFailure, 502, 2},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			doer := &fakeDoer{responses: tc.responses}
			a := newAdapter(t, "ho", "hasoffers_affiliate", hasOffersSettings(events), doer)
			out := a.Cancel(context.Background(), scenarioOrder(), domain.EventOrderCanceled)
			if out.Status != tc.status || out.StatusCode != tc.code {
				t.Fatalf("expected %s/%d, got %+v", tc.status, tc.code, out)
			}
			if doer.calls() != tc.calls {
				t.Fatalf("expected %d calls, got %d", tc.calls, doer.calls())
			}
		})
	}
}
