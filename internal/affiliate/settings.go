package affiliate

import (
	"fmt"
	"strings"

	"github.com/mitchellh/mapstructure"

	"affiliates/internal/domain"
)

// MergeSettings deep-merges overrides onto defaults. Top-level keys absent from
// defaults are dropped; nested maps keep every key.
func MergeSettings(defaults, overrides map[string]any) map[string]any {
	out := make(map[string]any, len(defaults))
	for k, v := range defaults {
		out[k] = copyValue(v)
	}
	for k, v := range overrides {
		if _, ok := defaults[k]; !ok {
			continue
		}
		out[k] = mergeValue(out[k], v)
	}
	return out
}

func mergeValue(dst, src any) any {
	dm, dok := asMap(dst)
	sm, sok := asMap(src)
	if !dok || !sok {
		return copyValue(src)
	}
	merged := make(map[string]any, len(dm)+len(sm))
	for k, v := range dm {
		merged[k] = v
	}
	for k, v := range sm {
		if cur, ok := merged[k]; ok {
			merged[k] = mergeValue(cur, v)
			continue
		}
		merged[k] = copyValue(v)
	}
	return merged
}

func asMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case map[string]string:
		out := make(map[string]any, len(m))
		for k, s := range m {
			out[k] = s
		}
		return out, true
	case map[any]any:
		out := make(map[string]any, len(m))
		for k, s := range m {
			out[fmt.Sprint(k)] = s
		}
		return out, true
	}
	return nil, false
}

func copyValue(v any) any {
	if m, ok := asMap(v); ok {
		out := make(map[string]any, len(m))
		for k, s := range m {
			out[k] = copyValue(s)
		}
		return out
	}
	if l, ok := v.([]any); ok {
		out := make([]any, len(l))
		for i, s := range l {
			out[i] = copyValue(s)
		}
		return out
	}
	return v
}

func decodeSettings(settings map[string]any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           out,
	})
	if err != nil {
		return err
	}
	if err := dec.Decode(settings); err != nil {
		return fmt.Errorf("decode settings: %w", err)
	}
	return nil
}

// eventSet reads event_settings in any of the shapes admins produce: a checkbox map
// ({"order_canceled": "order_canceled", "checkout_completion": 0}), a list, or a string.
func eventSet(raw any) map[domain.EventType]bool {
	set := map[domain.EventType]bool{}
	if m, ok := asMap(raw); ok {
		for k, v := range m {
			if truthy(v) {
				set[domain.EventType(k)] = true
			}
		}
		return set
	}
	switch v := raw.(type) {
	case []any:
		for _, item := range v {
			if s, ok := item.(string); ok && s != "" {
				set[domain.EventType(s)] = true
			}
		}
	case []string:
		for _, s := range v {
			if s != "" {
				set[domain.EventType(s)] = true
			}
		}
	case string:
		for _, s := range strings.Split(v, ",") {
			if s = strings.TrimSpace(s); s != "" {
				set[domain.EventType(s)] = true
			}
		}
	}
	return set
}

func truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != "" && t != "0"
	case int:
		return t != 0
	case int64:
		return t != 0
	case float64:
		return t != 0
	}
	return true
}

func required(kind Kind, field, value string) error {
	if strings.TrimSpace(value) == "" {
		return &ValidationError{Kind: string(kind), Field: field, Reason: "is required"}
	}
	return nil
}

// validateEvents enforces a non-empty event selection and an api key when
// cancellation is enabled.
func validateEvents(kind Kind, events any, apiKey string) error {
	set := eventSet(events)
	if len(set) == 0 {
		return &ValidationError{Kind: string(kind), Field: "event_settings", Reason: "must enable at least one event"}
	}
	for evt := range set {
		if evt != domain.EventCheckoutCompletion && evt != domain.EventOrderCanceled {
			return &ValidationError{Kind: string(kind), Field: "event_settings", Reason: fmt.Sprintf("has unknown event %q", evt)}
		}
	}
	if set[domain.EventOrderCanceled] {
		return required(kind, "api_key", apiKey)
	}
	return nil
}
