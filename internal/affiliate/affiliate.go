package affiliate

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"time"

	"affiliates/internal/domain"
	"affiliates/internal/price"
)

// Kind identifies an affiliate network integration.
type Kind string

const (
	KindCustomHTML   Kind = "custom_html_affiliate"
	KindConversantCJ Kind = "conversant_cj_affiliate"
	KindHasOffers    Kind = "hasoffers_affiliate"
	KindWebgains     Kind = "webgains_affiliate"
)

// Tracking types. Html adapters return pixels, api adapters call the network directly.
const (
	TrackingHTML = "html"
	TrackingAPI  = "api"
)

const defaultTimeout = 10 * time.Second

// Adapter is one network's tracking and cancellation logic bound to its settings.
type Adapter interface {
	ID() string
	Kind() Kind
	Track(ctx context.Context, order domain.Order) (domain.TrackingResult, error)
	Cancel(ctx context.Context, order domain.Order, event domain.EventType) domain.CancelOutcome
}

// Doer sends HTTP requests. *http.Client satisfies it.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Deps are the shared read-only collaborators handed to every adapter.
type Deps struct {
	Client    Doer
	Rounder   price.Rounder
	Logger    *slog.Logger
	Timeout   time.Duration
	UserAgent string
}

func (d Deps) logger() *slog.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return slog.Default()
}

func (d Deps) client() Doer {
	if d.Client != nil {
		return d.Client
	}
	return http.DefaultClient
}

func (d Deps) timeout() time.Duration {
	if d.Timeout > 0 {
		return d.Timeout
	}
	return defaultTimeout
}

// Definition describes an adapter kind: its schema and constructor.
type Definition struct {
	Kind         Kind
	Label        string
	TrackingType string
	Defaults     func() map[string]any
	Validate     func(settings map[string]any) error
	New          func(id string, settings map[string]any, deps Deps) (Adapter, error)
}

var definitions = map[Kind]Definition{
	KindCustomHTML:   customHTMLDefinition,
	KindConversantCJ: conversantDefinition,
	KindHasOffers:    hasOffersDefinition,
	KindWebgains:     webgainsDefinition,
}

// Definitions returns all built-in kinds ordered by kind id.
func Definitions() []Definition {
	out := make([]Definition, 0, len(definitions))
	for _, def := range definitions {
		out = append(out, def)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Kind < out[j].Kind })
	return out
}

// Lookup returns the definition of kind.
func Lookup(kind string) (Definition, error) {
	def, ok := definitions[Kind(kind)]
	if !ok {
		return Definition{}, fmt.Errorf("unknown affiliate kind %q", kind)
	}
	return def, nil
}

// ValidationError reports a settings problem detected when a config is saved.
type ValidationError struct {
	Kind   string
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("invalid %s settings: %s", e.Kind, e.Reason)
	}
	return fmt.Sprintf("invalid %s settings: %s %s", e.Kind, e.Field, e.Reason)
}

// ValidateSettings merges raw over the kind's defaults and checks required fields.
func ValidateSettings(kind string, raw map[string]any) (map[string]any, error) {
	def, err := Lookup(kind)
	if err != nil {
		return nil, &ValidationError{Kind: kind, Field: "kind", Reason: "is not a known affiliate kind"}
	}
	merged := MergeSettings(def.Defaults(), raw)
	if err := def.Validate(merged); err != nil {
		return nil, err
	}
	return merged, nil
}

// ValidateConfig normalizes cfg.Settings in place and validates it.
func ValidateConfig(cfg *domain.AffiliateConfig) error {
	if cfg.ID == "" {
		return &ValidationError{Kind: cfg.Kind, Field: "id", Reason: "is required"}
	}
	settings, err := ValidateSettings(cfg.Kind, cfg.Settings)
	if err != nil {
		return err
	}
	cfg.Settings = settings
	if cfg.Label == "" {
		cfg.Label = cfg.ID
	}
	return nil
}

// New builds the adapter for cfg.
func New(cfg domain.AffiliateConfig, deps Deps) (Adapter, error) {
	def, err := Lookup(cfg.Kind)
	if err != nil {
		return nil, err
	}
	return def.New(cfg.ID, MergeSettings(def.Defaults(), cfg.Settings), deps)
}

// base carries what every adapter shares. Its Cancel is the no-op default.
type base struct {
	id   string
	kind Kind
	deps Deps
}

func (b base) ID() string { return b.id }

func (b base) Kind() Kind { return b.kind }

func (b base) Cancel(context.Context, domain.Order, domain.EventType) domain.CancelOutcome {
	return domain.Skipped("cancellation not supported")
}

func (b base) cssClass() string {
	return CleanCSSIdentifier(string(b.kind))
}

func (b base) logFailure(ctx context.Context, operation string, statusCode int, err error) {
	attrs := []any{
		"module", "affiliate." + string(b.kind),
		"operation", operation,
		"outcome", "failure",
		"affiliate_id", b.id,
	}
	if statusCode > 0 {
		attrs = append(attrs, "status_code", statusCode)
	}
	if err != nil {
		attrs = append(attrs, "error", err)
	}
	b.deps.logger().WarnContext(ctx, "affiliate remote call failed", attrs...)
}
