package rules

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/diegoholiveira/jsonlogic/v3"

	"affiliates/internal/domain"
	"affiliates/internal/registry"
)

// Rule suppresses the listed affiliates (by config id or kind) for orders matching
// SuppressWhen, a JSONLogic expression evaluated against the order document.
type Rule struct {
	Name         string   `yaml:"name" json:"name"`
	Affiliates   []string `yaml:"affiliates" json:"affiliates"`
	SuppressWhen any      `yaml:"suppress_when" json:"suppress_when"`
}

// Validate checks that the rule targets something and carries an expression.
func (r Rule) Validate() error {
	if r.Name == "" {
		return fmt.Errorf("rule name is required")
	}
	if len(r.Affiliates) == 0 {
		return fmt.Errorf("rule %s: affiliates is required", r.Name)
	}
	if r.SuppressWhen == nil {
		return fmt.Errorf("rule %s: suppress_when is required", r.Name)
	}
	if _, err := json.Marshal(r.SuppressWhen); err != nil {
		return fmt.Errorf("rule %s: suppress_when: %w", r.Name, err)
	}
	return nil
}

func (r Rule) targets(cfg domain.AffiliateConfig) bool {
	for _, a := range r.Affiliates {
		if a == cfg.ID || a == cfg.Kind {
			return true
		}
	}
	return false
}

// Filter returns a registry filter applying rules. A rule that fails to evaluate
// keeps its affiliates and is logged.
func Filter(rules []Rule, logger *slog.Logger) registry.Filter {
	if logger == nil {
		logger = slog.Default()
	}
	return func(ctx context.Context, configs []domain.AffiliateConfig, order domain.Order) []domain.AffiliateConfig {
		if len(rules) == 0 || len(configs) == 0 {
			return configs
		}
		doc, err := Document(order)
		if err != nil {
			logger.WarnContext(ctx, "order document build failed", "module", "rules", "operation", "filter", "outcome", "failure", "error", err)
			return configs
		}
		suppressed := map[int]bool{}
		for _, rule := range rules {
			match, err := Evaluate(rule.SuppressWhen, doc)
			if err != nil {
				logger.WarnContext(ctx, "rule evaluation failed", "module", "rules", "operation", "filter", "outcome", "failure", "rule", rule.Name, "error", err)
				continue
			}
			if !match {
				continue
			}
			for i, cfg := range configs {
				if rule.targets(cfg) && !suppressed[i] {
					suppressed[i] = true
					logger.DebugContext(ctx, "affiliate suppressed", "module", "rules", "operation", "filter", "outcome", "suppressed", "rule", rule.Name, "affiliate_id", cfg.ID, "order_number", order.Number)
				}
			}
		}
		if len(suppressed) == 0 {
			return configs
		}
		out := make([]domain.AffiliateConfig, 0, len(configs)-len(suppressed))
		for i, cfg := range configs {
			if !suppressed[i] {
				out = append(out, cfg)
			}
		}
		return out
	}
}

// Document renders order as the JSON data rules are evaluated against. Money
// numbers are exposed as JSON numbers so comparisons work.
func Document(order domain.Order) ([]byte, error) {
	raw, err := json.Marshal(order)
	if err != nil {
		return nil, err
	}
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	if total, ok := doc["total_price"].(map[string]any); ok {
		total["number"] = order.TotalPrice.Number.InexactFloat64()
	}
	if items, ok := doc["items"].([]any); ok {
		for i, item := range items {
			m, ok := item.(map[string]any)
			if !ok || i >= len(order.Items) {
				continue
			}
			if unit, ok := m["unit_price"].(map[string]any); ok {
				unit["number"] = order.Items[i].UnitPrice.Number.InexactFloat64()
			}
		}
	}
	doc["item_count"] = len(order.Items)
	doc["coupon_count"] = len(order.Coupons)
	return json.Marshal(doc)
}

// Evaluate applies a JSONLogic expression to data and reports whether the result is truthy.
func Evaluate(logic any, data []byte) (bool, error) {
	rule, err := json.Marshal(logic)
	if err != nil {
		return false, fmt.Errorf("encode rule: %w", err)
	}
	var out bytes.Buffer
	if err := jsonlogic.Apply(bytes.NewReader(rule), bytes.NewReader(data), &out); err != nil {
		return false, fmt.Errorf("apply rule: %w", err)
	}
	var result any
	if out.Len() == 0 {
		return false, nil
	}
	if err := json.Unmarshal(out.Bytes(), &result); err != nil {
		return false, fmt.Errorf("decode rule result: %w", err)
	}
	return truthy(result), nil
}

// truthy follows JSONLogic: false, null, 0, "" and [] are false.
func truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case float64:
		return t != 0
	case string:
		return t != ""
	case []any:
		return len(t) > 0
	}
	return true
}
