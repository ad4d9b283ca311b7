package app_test

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"affiliates/internal/app"
	"affiliates/internal/domain"
	"affiliates/internal/price"
)

const workspaceConfig = `service:
  id: shop
log:
  level: error
dispatch:
  workers: 3
rules:
  - name: staff orders
    affiliates: [cj]
    suppress_when: {"in": ["STAFF", {"var": "coupons"}]}
affiliates:
  - id: cj
    kind: conversant_cj_affiliate
    enabled: true
    settings:
      container_tag_id: "12345"
      action_id: "678"
      cid: "999"
  - id: html
    kind: custom_html_affiliate
    enabled: true
    weight: 1
    settings:
      html_tag: img
      uri: "https://t.example.com/px?o=[commerce_order:order_number]"
`

func openRuntime(t *testing.T, config string) *app.Runtime {
	t.Helper()
	dir := t.TempDir()
	if config != "" {
		if err := os.WriteFile(filepath.Join(dir, "affiliates.yml"), []byte(config), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	rt, err := app.Open(app.Options{Workspace: dir, LogOutput: io.Discard})
	if err != nil {
		t.Fatalf("open runtime: %v", err)
	}
	t.Cleanup(func() { rt.Close() })
	return rt
}

func TestOpenWithoutConfigUsesDefaults(t *testing.T) {
	rt := openRuntime(t, "")
	if rt.Config.Service.ID != "affiliates" || rt.Engine.Workers != 1 {
		t.Fatalf("unexpected defaults: %+v workers=%d", rt.Config.Service, rt.Engine.Workers)
	}
	pixels, err := rt.Engine.Track(context.Background(), domain.Order{Number: "1"})
	if err != nil || len(pixels) != 0 {
		t.Fatalf("expected no pixels, got %v %v", pixels, err)
	}
}

func TestConfigAffiliatesAndRules(t *testing.T) {
	rt := openRuntime(t, workspaceConfig)
	if rt.Engine.Workers != 3 {
		t.Fatalf("workers not applied: %d", rt.Engine.Workers)
	}
	order := domain.Order{Number: "1001", TotalPrice: price.New("10", "USD")}
	pixels, err := rt.Engine.Track(context.Background(), order)
	if err != nil {
		t.Fatalf("track: %v", err)
	}
	if len(pixels) != 2 || pixels[0].AffiliateID != "cj" || pixels[1].AffiliateID != "html" {
		t.Fatalf("unexpected pixels: %+v", pixels)
	}

	order.Coupons = []string{"STAFF"}
	pixels, err = rt.Engine.Track(context.Background(), order)
	if err != nil {
		t.Fatalf("track: %v", err)
	}
	if len(pixels) != 1 || pixels[0].AffiliateID != "html" {
		t.Fatalf("rule did not suppress cj: %+v", pixels)
	}
}

func TestStoredConfigOverridesFile(t *testing.T) {
	rt := openRuntime(t, workspaceConfig)
	ctx := context.Background()
	if _, err := rt.Repo.UpsertAffiliateConfig(ctx, domain.AffiliateConfig{
		ID: "html", Label: "html", Kind: "custom_html_affiliate", Enabled: false,
		Settings: map[string]any{"html_tag": "img", "uri": "https://t.example.com/px"},
	}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	pixels, err := rt.Engine.Track(ctx, domain.Order{Number: "1", TotalPrice: price.New("1", "USD")})
	if err != nil {
		t.Fatalf("track: %v", err)
	}
	if len(pixels) != 1 || pixels[0].AffiliateID != "cj" {
		t.Fatalf("stored disabled html must win: %+v", pixels)
	}
}

func TestOpenRejectsInvalidConfig(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "affiliates.yml"), []byte("service:\n  id: \"\"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := app.Open(app.Options{Workspace: dir, LogOutput: io.Discard}); err == nil {
		t.Fatalf("expected config error")
	}
}
