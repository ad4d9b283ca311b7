package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultTemplateIsValid(t *testing.T) {
	cfg, err := FromYAML([]byte(GenerateDefault("shop")))
	if err != nil {
		t.Fatalf("default template invalid: %v", err)
	}
	if cfg.Service.ID != "shop" || cfg.HTTP.Timeout != 10*time.Second || cfg.Server.BasePath != "/v0" {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.Feed.Backend != FeedNone || cfg.Feed.MQTT.Port != 1883 {
		t.Fatalf("unexpected feed defaults: %+v", cfg.Feed)
	}
	if d := Default("shop"); d.Dispatch.Workers != 1 || d.Log.Format != "json" {
		t.Fatalf("unexpected Default: %+v", d)
	}
}

func TestValidateRejectsBadSections(t *testing.T) {
	base := GenerateDefault("shop")
	cases := map[string]string{
		"missing service": strings.Replace(base, "id: shop", "id: \"\"", 1),
		"log level":       strings.Replace(base, "level: info", "level: loud", 1),
		"feed backend":    strings.Replace(base, "backend: \"\"", "backend: nats", 1),
		"kafka group":     strings.Replace(strings.Replace(base, "backend: \"\"", "backend: kafka", 1), "group_id: affiliates", "group_id: \"\"", 1),
		"affiliate":       "service:\n  id: shop\n" + "affiliates:\n  - id: cj\n    kind: conversant_cj_affiliate\n    settings:\n      cid: \"1\"\n",
		"rule":            "service:\n  id: shop\n" + "rules:\n  - name: broken\n    suppress_when: true\n",
	}
	for name, doc := range cases {
		if _, err := FromYAML([]byte(doc)); err == nil {
			t.Fatalf("%s: expected validation error", name)
		}
	}
}

func TestAffiliatesSection(t *testing.T) {
	doc := `service:
  id: shop
affiliates:
  - id: wg
    kind: webgains_affiliate
    enabled: true
    settings:
      program_id: "P1"
      event_id: "E1"
      stale: true
rules:
  - name: staff
    affiliates: [wg]
    suppress_when: {"in": ["STAFF", {"var": "coupons"}]}
`
	cfg, err := FromYAML([]byte(doc))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	affiliates, err := cfg.ValidatedAffiliates()
	if err != nil {
		t.Fatalf("validated: %v", err)
	}
	if len(affiliates) != 1 || affiliates[0].Label != "wg" {
		t.Fatalf("unexpected affiliates: %+v", affiliates)
	}
	if _, ok := affiliates[0].Settings["stale"]; ok {
		t.Fatalf("unknown key kept: %v", affiliates[0].Settings)
	}
	if affiliates[0].Settings["vouchercode"] != "none" {
		t.Fatalf("defaults not merged: %v", affiliates[0].Settings)
	}
	if len(cfg.Rules) != 1 || cfg.Rules[0].SuppressWhen == nil {
		t.Fatalf("rules not parsed: %+v", cfg.Rules)
	}
}

func TestLoadOptional(t *testing.T) {
	dir := t.TempDir()
	cfg, err := LoadOptional(dir)
	if err != nil || cfg != nil {
		t.Fatalf("expected nil config for missing file, got %v %v", cfg, err)
	}
	if err := os.WriteFile(filepath.Join(dir, "affiliates.yml"), []byte(GenerateDefault("x")), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err = Load(dir)
	if err != nil || cfg.Service.ID != "x" {
		t.Fatalf("load: %v %v", cfg, err)
	}
}
