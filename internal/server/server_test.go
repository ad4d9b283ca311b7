package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"strings"
	"testing"

	"affiliates/internal/affiliate"
	"affiliates/internal/db"
	"affiliates/internal/domain"
	"affiliates/internal/engine"
	"affiliates/internal/engine/auth"
	"affiliates/internal/events"
	"affiliates/internal/logging"
	"affiliates/internal/migrate"
	"affiliates/internal/registry"
	"affiliates/internal/repo"
)

const testSecret = "test-secret"

type testServer struct {
	URL    string
	Repo   repo.Repo
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

type doerFunc func(*http.Request) (*http.Response, error)

func (f doerFunc) Do(req *http.Request) (*http.Response, error) { return f(req) }

func networkStub(req *http.Request) (*http.Response, error) {
	body := "{}"
	if req.Method == http.MethodGet {
		body = `[{"id":7,"status":"confirmed"}]`
	}
	return &http.Response{StatusCode: http.StatusOK, Header: http.Header{}, Body: io.NopCloser(strings.NewReader(body))}, nil
}

func newTestServer(t *testing.T) (*testServer, func()) {
	t.Helper()
	workspace := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	r := repo.Repo{DB: conn}
	logger := logging.Discard()
	e := engine.New(registry.New(r), affiliate.Deps{Client: doerFunc(networkStub), Logger: logger})
	e.Recorder = events.Writer{DB: conn}
	handler, err := New(Config{
		Engine:   e,
		Repo:     r,
		BasePath: "/v0",
		Auth:     AuthConfig{JWTSecret: testSecret},
		Logger:   logger,
	})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		Repo:   r,
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

func bearer(t *testing.T, perms ...string) map[string]string {
	t.Helper()
	token, err := SignToken(testSecret, "admin@example.com", perms)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return map[string]string{"Authorization": "Bearer " + token}
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func decodeError(t *testing.T, data []byte) apiErrorBody {
	t.Helper()
	var env struct {
		Error apiErrorBody `json:"error"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("decode error envelope: %v: %s", err, string(data))
	}
	return env.Error
}

func orderPayload() map[string]any {
	return map[string]any{
		"order_number": "1001",
		"mail":         "buyer@example.com",
		"total_price":  map[string]any{"number": "19.99", "currency_code": "USD"},
		"items": []map[string]any{{
			"sku":        "WIDGET-1",
			"unit_price": map[string]any{"number": "9.995", "currency_code": "USD"},
			"quantity":   "2",
		}},
	}
}

func putWebgains(t *testing.T, srv *testServer) {
	t.Helper()
	res, data := doJSON(t, srv.Client(), http.MethodPut, srv.URL+"/v0/affiliates/wg", map[string]any{
		"kind":    "webgains_affiliate",
		"enabled": true,
		"settings": map[string]any{
			"program_id":     "P1",
			"event_id":       "E1",
			"api_key":        "K",
			"event_settings": map[string]any{"order_canceled": "order_canceled"},
		},
	}, bearer(t, auth.PermManageAffiliates))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("put affiliate status %d: %s", res.StatusCode, string(data))
	}
}

func TestHealthIsPublic(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/health", nil, nil)
	if res.StatusCode != http.StatusOK || !strings.Contains(string(data), "ok") {
		t.Fatalf("health status %d: %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/affiliates", nil, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 without credentials, got %d: %s", res.StatusCode, string(data))
	}
	if code := decodeError(t, data).Code; code != "unauthorized" {
		t.Fatalf("unexpected error code %s", code)
	}
	res, _ = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/affiliates", nil, map[string]string{"Authorization": "Bearer nope"})
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for bad token, got %d", res.StatusCode)
	}
}

func TestPutAffiliateMergesDefaults(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	putWebgains(t, srv)

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/affiliates/wg", nil, bearer(t, auth.PermManageAffiliates))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("get affiliate status %d: %s", res.StatusCode, string(data))
	}
	var cfg domain.AffiliateConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if cfg.Label != "wg" || !cfg.Enabled || cfg.Settings["vouchercode"] != "none" {
		t.Fatalf("unexpected config: %+v", cfg)
	}

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/affiliates/missing", nil, bearer(t, auth.PermManageAffiliates))
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d: %s", res.StatusCode, string(data))
	}
}

func TestPutAffiliateValidation(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	res, data := doJSON(t, srv.Client(), http.MethodPut, srv.URL+"/v0/affiliates/wg", map[string]any{
		"kind":     "webgains_affiliate",
		"settings": map[string]any{"event_id": "E1"},
	}, bearer(t, auth.PermManageAffiliates))
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", res.StatusCode, string(data))
	}
	apiErr := decodeError(t, data)
	if apiErr.Code != "invalid_settings" || apiErr.Details["field"] != "program_id" {
		t.Fatalf("unexpected error: %+v", apiErr)
	}

	res, data = doJSON(t, srv.Client(), http.MethodPut, srv.URL+"/v0/affiliates/x", map[string]any{
		"kind": "unknown_affiliate",
	}, bearer(t, auth.PermManageAffiliates))
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown kind, got %d: %s", res.StatusCode, string(data))
	}
}

func TestPermissions(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/affiliates", nil, bearer(t, auth.PermDispatchOrders))
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %d: %s", res.StatusCode, string(data))
	}
	if apiErr := decodeError(t, data); apiErr.Details["permission"] != auth.PermManageAffiliates {
		t.Fatalf("unexpected error: %+v", apiErr)
	}
	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/affiliates", nil, bearer(t, "*"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("wildcard denied: %d %s", res.StatusCode, string(data))
	}
}

func TestTrackWithAPIKey(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	putWebgains(t, srv)
	if err := srv.Repo.InsertAPIKey(context.Background(), domain.APIKey{ID: "k1", Name: "storefront", KeyHash: repo.HashAPIKey("checkout-key")}); err != nil {
		t.Fatalf("insert api key: %v", err)
	}
	key := map[string]string{"X-Api-Key": "checkout-key"}

	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/orders/track", map[string]any{"order": orderPayload()}, key)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("track status %d: %s", res.StatusCode, string(data))
	}
	var out TrackResponse
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out.Pixels) != 1 || out.Pixels[0].AffiliateID != "wg" {
		t.Fatalf("unexpected pixels: %+v", out.Pixels)
	}
	if !strings.HasPrefix(out.Markup, `<img src="https://track.webgains.com/transaction.html?`) || !strings.Contains(out.Markup, "wgorderreference=1001") {
		t.Fatalf("unexpected markup: %s", out.Markup)
	}

	res, _ = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/affiliates", nil, key)
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("api key must not manage affiliates, got %d", res.StatusCode)
	}
	res, _ = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/orders/track", map[string]any{"order": orderPayload()}, map[string]string{"X-Api-Key": "wrong"})
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for unknown key, got %d", res.StatusCode)
	}
	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/orders/track", map[string]any{"order": map[string]any{"mail": "x"}}, key)
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for order without number, got %d: %s", res.StatusCode, string(data))
	}
}

func TestCancelAndDispatchLog(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	putWebgains(t, srv)
	headers := bearer(t, auth.PermDispatchOrders, auth.PermManageAffiliates)

	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/orders/cancel", map[string]any{"order": orderPayload()}, headers)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("cancel status %d: %s", res.StatusCode, string(data))
	}
	var out CancelResponse
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out.Outcomes) != 1 || out.Outcomes[0].Status != domain.CancelSuccess {
		t.Fatalf("unexpected outcomes: %+v", out.Outcomes)
	}

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/dispatches?operation=cancel", nil, headers)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("dispatches status %d: %s", res.StatusCode, string(data))
	}
	var log paginatedDispatches
	if err := json.Unmarshal(data, &log); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(log.Items) != 1 || log.Items[0].OrderNumber != "1001" || log.Items[0].EventType != "order_canceled" {
		t.Fatalf("unexpected dispatch log: %+v", log.Items)
	}
}

func TestEnableDeleteAndKinds(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	putWebgains(t, srv)
	headers := bearer(t, auth.PermManageAffiliates)

	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/affiliates/wg/enabled", map[string]any{"enabled": false}, headers)
	if res.StatusCode != http.StatusOK || !strings.Contains(string(data), `"enabled":false`) {
		t.Fatalf("disable status %d: %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, srv.Client(), http.MethodDelete, srv.URL+"/v0/affiliates/wg", nil, headers)
	if res.StatusCode != http.StatusNoContent {
		t.Fatalf("delete status %d: %s", res.StatusCode, string(data))
	}
	res, _ = doJSON(t, srv.Client(), http.MethodDelete, srv.URL+"/v0/affiliates/wg", nil, headers)
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 on second delete, got %d", res.StatusCode)
	}

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/affiliate-kinds", nil, headers)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("kinds status %d: %s", res.StatusCode, string(data))
	}
	var kinds paginatedKinds
	if err := json.Unmarshal(data, &kinds); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(kinds.Items) != 4 || kinds.Items[0].Kind != string(affiliate.KindConversantCJ) {
		t.Fatalf("unexpected kinds: %+v", kinds.Items)
	}
}

func TestOpenAPIDocument(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/openapi.json", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("openapi status %d", res.StatusCode)
	}
	if !strings.Contains(string(data), `"/v0/orders/track"`) || !strings.Contains(string(data), "apiKeyAuth") {
		t.Fatalf("openapi document missing routes or security")
	}
}
