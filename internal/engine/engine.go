package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"affiliates/internal/affiliate"
	"affiliates/internal/domain"
	"affiliates/internal/registry"
)

// Recorder receives one record per adapter invocation.
type Recorder interface {
	Record(ctx context.Context, rec domain.DispatchRecord) error
}

// Resolver builds the adapter bound to one config.
type Resolver func(cfg domain.AffiliateConfig, deps affiliate.Deps) (affiliate.Adapter, error)

// Engine dispatches orders to every enabled affiliate.
type Engine struct {
	Registry *registry.Registry
	Deps     affiliate.Deps
	Resolver Resolver
	Workers  int
	Logger   *slog.Logger
	Recorder Recorder
	Now      func() time.Time
}

func New(reg *registry.Registry, deps affiliate.Deps) Engine {
	return Engine{
		Registry: reg,
		Deps:     deps,
		Resolver: affiliate.New,
		Workers:  1,
		Logger:   deps.Logger,
		Now:      time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) logger() *slog.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return slog.Default()
}

// Resolve builds the adapter for cfg with the engine's shared dependencies.
func (e Engine) Resolve(cfg domain.AffiliateConfig) (affiliate.Adapter, error) {
	if e.Resolver != nil {
		return e.Resolver(cfg, e.Deps)
	}
	return affiliate.New(cfg, e.Deps)
}

type trackResult struct {
	cfg    domain.AffiliateConfig
	result domain.TrackingResult
	err    error
}

// Track runs every enabled adapter for a completed checkout and returns the pixels
// to render, in config order. Adapter failures are logged and skipped.
func (e Engine) Track(ctx context.Context, order domain.Order) ([]domain.Pixel, error) {
	configs, err := e.listEnabled(ctx, order)
	if err != nil {
		return nil, err
	}
	results := make([]trackResult, len(configs))
	e.each(ctx, len(configs), func(ctx context.Context, i int) {
		res, err := e.trackOne(ctx, configs[i], order)
		results[i] = trackResult{cfg: configs[i], result: res, err: err}
	})

	pixels := make([]domain.Pixel, 0, len(results))
	for _, r := range results {
		rec := e.record(domain.OperationTrack, domain.EventCheckoutCompletion, order, r.cfg)
		switch {
		case r.err != nil:
			e.logger().WarnContext(ctx, "affiliate tracking failed",
				"module", "engine", "operation", domain.OperationTrack, "outcome", "failure",
				"affiliate_id", r.cfg.ID, "kind", r.cfg.Kind, "order_number", order.Number, "error", r.err)
			rec.Outcome = "error"
			rec.Detail = r.err.Error()
		case r.result.IsVoid():
			rec.Outcome = "void"
		default:
			px := *r.result.Pixel
			if px.AffiliateID == "" {
				px.AffiliateID = r.cfg.ID
			}
			pixels = append(pixels, px)
			rec.Outcome = "pixel"
			rec.Detail = px.URL
		}
		e.persist(ctx, rec)
	}
	return pixels, nil
}

func (e Engine) trackOne(ctx context.Context, cfg domain.AffiliateConfig, order domain.Order) (res domain.TrackingResult, err error) {
	defer func() {
		if p := recover(); p != nil {
			res, err = domain.Void, fmt.Errorf("adapter panic: %v", p)
		}
	}()
	adapter, err := e.Resolve(cfg)
	if err != nil {
		return domain.Void, fmt.Errorf("resolve adapter: %w", err)
	}
	res, err = adapter.Track(ctx, order)
	if err != nil {
		return domain.Void, err
	}
	return res, nil
}

// Cancel runs every enabled adapter's cancellation for event and returns one
// outcome per adapter in config order. Failures never abort the loop. The
// registry filter is not consulted.
func (e Engine) Cancel(ctx context.Context, order domain.Order, event domain.EventType) ([]domain.CancelOutcome, error) {
	if event == "" {
		event = domain.EventOrderCanceled
	}
	var configs []domain.AffiliateConfig
	if e.Registry != nil {
		var err error
		if configs, err = e.Registry.ListAllEnabled(ctx); err != nil {
			return nil, err
		}
	}
	outcomes := make([]domain.CancelOutcome, len(configs))
	e.each(ctx, len(configs), func(ctx context.Context, i int) {
		out := e.cancelOne(ctx, configs[i], order, event)
		out.AffiliateID = configs[i].ID
		out.Kind = configs[i].Kind
		outcomes[i] = out
	})
	for i, out := range outcomes {
		rec := e.record(domain.OperationCancel, event, order, configs[i])
		rec.Outcome = string(out.Status)
		rec.StatusCode = out.StatusCode
		rec.Detail = out.Detail
		if out.Status == domain.CancelRemoteFailure {
			e.logger().WarnContext(ctx, "affiliate cancellation failed",
				"module", "engine", "operation", domain.OperationCancel, "outcome", "failure",
				"affiliate_id", out.AffiliateID, "kind", out.Kind, "order_number", order.Number,
				"status_code", out.StatusCode, "error", out.Detail)
		}
		e.persist(ctx, rec)
	}
	return outcomes, nil
}

func (e Engine) cancelOne(ctx context.Context, cfg domain.AffiliateConfig, order domain.Order, event domain.EventType) (out domain.CancelOutcome) {
	defer func() {
		if p := recover(); p != nil {
			out = domain.RemoteFailure(0, fmt.Sprintf("adapter panic: %v", p))
		}
	}()
	adapter, err := e.Resolve(cfg)
	if err != nil {
		return domain.Skipped(fmt.Sprintf("resolve adapter: %v", err))
	}
	return adapter.Cancel(ctx, order, event)
}

func (e Engine) listEnabled(ctx context.Context, order domain.Order) ([]domain.AffiliateConfig, error) {
	if e.Registry == nil {
		return nil, nil
	}
	return e.Registry.ListEnabled(ctx, order)
}

// each calls fn for every index, on a bounded pool when Workers > 1.
func (e Engine) each(ctx context.Context, n int, fn func(ctx context.Context, i int)) {
	if e.Workers <= 1 || n <= 1 {
		for i := 0; i < n; i++ {
			fn(ctx, i)
		}
		return
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.Workers)
	for i := 0; i < n; i++ {
		i := i
		g.Go(func() error {
			fn(gctx, i)
			return nil
		})
	}
	_ = g.Wait()
}

func (e Engine) record(operation string, event domain.EventType, order domain.Order, cfg domain.AffiliateConfig) domain.DispatchRecord {
	return domain.DispatchRecord{
		TS:          e.now().UTC().Format(time.RFC3339),
		Operation:   operation,
		EventType:   string(event),
		OrderNumber: order.Number,
		AffiliateID: cfg.ID,
		Kind:        cfg.Kind,
	}
}

func (e Engine) persist(ctx context.Context, rec domain.DispatchRecord) {
	if e.Recorder == nil {
		return
	}
	if err := e.Recorder.Record(ctx, rec); err != nil {
		e.logger().WarnContext(ctx, "dispatch record failed",
			"module", "engine", "operation", rec.Operation, "outcome", "failure",
			"affiliate_id", rec.AffiliateID, "error", err)
	}
}
