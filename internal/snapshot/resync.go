// Package snapshot refetches the canonical in-dining order list over REST.
// The push transport only carries deltas, so every (re)connect resyncs the
// full list to recover anything missed while the socket was down.
package snapshot

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/goccy/go-json"

	"github.com/dinehub/ordersync/errs"
	"github.com/dinehub/ordersync/internal/bus/eventbus"
	"github.com/dinehub/ordersync/internal/observability"
	"github.com/dinehub/ordersync/internal/orderstore"
	"github.com/dinehub/ordersync/internal/schema"
)

// Config bounds the resync fetch. A zero value of any field falls back to its
// default.
type Config struct {
	BaseURL        string
	RequestTimeout time.Duration
	MaxAttempts    int
	MaxInterval    time.Duration
}

func (c Config) withDefaults() Config {
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 10 * time.Second
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 4
	}
	if c.MaxInterval <= 0 {
		c.MaxInterval = 10 * time.Second
	}
	return c
}

// Resyncer pulls the full order list and swaps it into the local store.
type Resyncer struct {
	cfg    Config
	http   *http.Client
	store  *orderstore.Store
	bus    *eventbus.Bus
	tenant string
}

// NewResyncer constructs a resyncer for one restaurant. A nil httpClient gets
// a default bounded by the configured request timeout.
func NewResyncer(cfg Config, httpClient *http.Client, store *orderstore.Store, bus *eventbus.Bus, tenant string) *Resyncer {
	cfg = cfg.withDefaults()
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.RequestTimeout}
	}
	return &Resyncer{cfg: cfg, http: httpClient, store: store, bus: bus, tenant: tenant}
}

// Attach schedules a resync on every connected event. The fetch runs off the
// dispatch goroutine under the supplied lifecycle context so retries never
// stall event delivery.
func (r *Resyncer) Attach(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	_, err := r.bus.Subscribe(eventbus.KindConnected, func(context.Context, eventbus.Event) error {
		go func() {
			if err := r.Resync(ctx); err != nil {
				observability.Log().Error("order list resync abandoned", observability.F("error", err))
			}
		}()
		return nil
	})
	return err
}

// Resync fetches the order list, retrying transient failures with exponential
// backoff, and replaces the store contents on success. The refreshed list is
// published as an order update so downstream consumers re-render.
func (r *Resyncer) Resync(ctx context.Context) error {
	backoffCfg := backoff.NewExponentialBackOff()
	backoffCfg.MaxInterval = r.cfg.MaxInterval

	var lastErr error
	for attempt := 1; attempt <= r.cfg.MaxAttempts; attempt++ {
		orders, err := r.fetchList(ctx)
		if err == nil {
			r.store.Replace(orders)
			observability.Telemetry().IncCounter(observability.MetricSnapshotResyncs, 1, nil)
			observability.Log().Info("order list resynced",
				observability.F("restaurant_id", r.tenant), observability.F("orders", len(orders)))
			r.publish(ctx, orders)
			return nil
		}
		lastErr = err
		observability.Log().Info("order list fetch failed",
			observability.F("attempt", attempt), observability.F("error", err))
		if attempt == r.cfg.MaxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoffCfg.NextBackOff()):
		}
	}
	return errs.New("snapshot/resync", errs.CodeUnavailable,
		errs.WithMessage("order list resync exhausted"),
		errs.WithTenant(r.tenant), errs.WithCause(lastErr))
}

type listResponse struct {
	Orders []schema.Order `json:"orders"`
}

func (r *Resyncer) fetchList(ctx context.Context) ([]schema.Order, error) {
	endpoint := fmt.Sprintf("%s/pos/order/list?restaurant_id=%s&type=indining",
		r.cfg.BaseURL, url.QueryEscape(r.tenant))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, errs.New("snapshot/resync", errs.CodeUnavailable,
			errs.WithMessage("build request"), errs.WithCause(err))
	}

	resp, err := r.http.Do(req)
	if err != nil {
		return nil, errs.New("snapshot/resync", errs.CodeUnavailable,
			errs.WithMessage("fetch order list"), errs.WithTenant(r.tenant), errs.WithCause(err))
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil, errs.New("snapshot/resync", errs.CodeUnavailable,
			errs.WithMessage("order list endpoint rejected request"),
			errs.WithHTTP(resp.StatusCode), errs.WithTenant(r.tenant))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, errs.New("snapshot/resync", errs.CodeUnavailable,
			errs.WithMessage("read response"), errs.WithCause(err))
	}

	var payload listResponse
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, errs.New("snapshot/resync", errs.CodeParse,
			errs.WithMessage("malformed order list"), errs.WithCause(err))
	}
	return payload.Orders, nil
}

func (r *Resyncer) publish(ctx context.Context, orders []schema.Order) {
	if r.bus == nil {
		return
	}
	evt := eventbus.Event{Kind: eventbus.KindOrderUpdate, Payload: orders}
	if err := r.bus.Dispatch(ctx, evt); err != nil {
		observability.Log().Error("resync dispatch failed", observability.F("error", err))
	}
}
