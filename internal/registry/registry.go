package registry

import (
	"context"
	"fmt"
	"sort"

	"affiliates/internal/domain"
)

// Source lists every stored affiliate config in storage order.
type Source interface {
	ListAffiliateConfigs(ctx context.Context) ([]domain.AffiliateConfig, error)
}

// Filter lets external code add, remove or reorder configs for one order before
// dispatch. It receives every stored config, enabled or not.
type Filter func(ctx context.Context, configs []domain.AffiliateConfig, order domain.Order) []domain.AffiliateConfig

// ChainFilters applies filters in sequence. Nil filters are ignored.
func ChainFilters(filters ...Filter) Filter {
	return func(ctx context.Context, configs []domain.AffiliateConfig, order domain.Order) []domain.AffiliateConfig {
		for _, f := range filters {
			if f == nil {
				continue
			}
			configs = f(ctx, configs, order)
		}
		return configs
	}
}

// Registry resolves the configs that take part in a dispatch.
type Registry struct {
	Source Source
	Filter Filter
}

// New returns a registry reading from src.
func New(src Source, filters ...Filter) *Registry {
	r := &Registry{Source: src}
	if len(filters) > 0 {
		r.Filter = ChainFilters(filters...)
	}
	return r
}

// ListEnabled loads all configs, runs the filter once, then keeps enabled entries.
// The order produced by the source and filter is preserved.
func (r *Registry) ListEnabled(ctx context.Context, order domain.Order) ([]domain.AffiliateConfig, error) {
	if r.Source == nil {
		return nil, nil
	}
	all, err := r.load(ctx)
	if err != nil {
		return nil, err
	}
	if r.Filter != nil {
		all = r.Filter(ctx, all, order)
	}
	return enabledOnly(all), nil
}

// ListAllEnabled returns every enabled config in storage order without running
// the filter.
func (r *Registry) ListAllEnabled(ctx context.Context) ([]domain.AffiliateConfig, error) {
	all, err := r.load(ctx)
	if err != nil {
		return nil, err
	}
	return enabledOnly(all), nil
}

func (r *Registry) load(ctx context.Context) ([]domain.AffiliateConfig, error) {
	if r.Source == nil {
		return nil, nil
	}
	all, err := r.Source.ListAffiliateConfigs(ctx)
	if err != nil {
		return nil, fmt.Errorf("load affiliate configs: %w", err)
	}
	return all, nil
}

func enabledOnly(configs []domain.AffiliateConfig) []domain.AffiliateConfig {
	enabled := make([]domain.AffiliateConfig, 0, len(configs))
	for _, cfg := range configs {
		if cfg.Enabled {
			enabled = append(enabled, cfg)
		}
	}
	return enabled
}

// StaticSource serves a fixed list of configs, such as those declared in affiliates.yml.
type StaticSource []domain.AffiliateConfig

func (s StaticSource) ListAffiliateConfigs(context.Context) ([]domain.AffiliateConfig, error) {
	out := make([]domain.AffiliateConfig, len(s))
	copy(out, s)
	return out, nil
}

// Layered lists Stored configs followed by Fallback configs whose id is not stored,
// then sorts the union by weight. Ties keep that order.
type Layered struct {
	Stored   Source
	Fallback Source
}

func (l Layered) ListAffiliateConfigs(ctx context.Context) ([]domain.AffiliateConfig, error) {
	var out []domain.AffiliateConfig
	seen := map[string]bool{}
	for _, src := range []Source{l.Stored, l.Fallback} {
		if src == nil {
			continue
		}
		configs, err := src.ListAffiliateConfigs(ctx)
		if err != nil {
			return nil, err
		}
		for _, cfg := range configs {
			if seen[cfg.ID] {
				continue
			}
			seen[cfg.ID] = true
			out = append(out, cfg)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Weight < out[j].Weight })
	return out, nil
}
