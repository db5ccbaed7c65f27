// Package reconcile merges inbound transport payloads into the externally
// owned order collection and emits normalized domain events.
package reconcile

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/dinehub/ordersync/internal/bus/eventbus"
	"github.com/dinehub/ordersync/internal/dining"
	"github.com/dinehub/ordersync/internal/observability"
	"github.com/dinehub/ordersync/internal/orderstore"
	"github.com/dinehub/ordersync/internal/schema"
)

// Engine consumes raw transport frames and reconciles them against the store.
type Engine struct {
	bus     *eventbus.Bus
	store   *orderstore.Store
	session dining.SessionSource
}

// NewEngine constructs a reconciliation engine. All three collaborators are
// required.
func NewEngine(bus *eventbus.Bus, store *orderstore.Store, session dining.SessionSource) *Engine {
	return &Engine{bus: bus, store: store, session: session}
}

// Attach subscribes the engine to raw frames on the bus.
func (e *Engine) Attach() (eventbus.SubscriptionID, error) {
	return e.bus.Subscribe(eventbus.KindFrame, func(ctx context.Context, evt eventbus.Event) error {
		raw, ok := evt.Payload.([]byte)
		if !ok {
			return nil
		}
		return e.HandleFrame(ctx, raw)
	})
}

// HandleFrame classifies one raw frame and applies it. Unrecognized frames are
// logged, counted, and dropped; the order view stays available regardless of
// any single message.
func (e *Engine) HandleFrame(ctx context.Context, raw []byte) error {
	msg, err := schema.ClassifyFrame(raw)
	if err != nil {
		observability.Telemetry().IncCounter(observability.MetricParseDrops, 1, nil)
		observability.Log().Error("dropping unclassifiable frame", observability.F("error", err))
		return nil
	}

	switch msg.Kind {
	case schema.MessageOrderUpdate, schema.MessageOrderStatusChange:
		e.applyUpdates(ctx, msg.Updates)
	case schema.MessageNewOrder:
		e.applyNewOrder(ctx, msg.Order)
	case schema.MessageTransportError:
		observability.Log().Error("transport reported error", observability.F("message", msg.ErrorText))
		e.publish(ctx, eventbus.KindTransportError, msg.ErrorText)
	}
	return nil
}

func (e *Engine) applyUpdates(ctx context.Context, updates []schema.StatusUpdate) {
	if len(updates) == 0 {
		return
	}
	for _, update := range updates {
		if !update.StatusKnown {
			observability.Telemetry().IncCounter(observability.MetricUnknownStatuses, 1, nil)
			observability.Log().Error("unknown order status defaulted to pending",
				observability.F("order_id", update.ID), observability.F("raw_status", update.RawStatus))
		}
	}

	table := e.session.Current().Table()
	existing := e.store.List()
	next := Merge(existing, updates, table)
	e.store.Replace(next)

	observability.Telemetry().IncCounter(observability.MetricOrdersMerged, float64(len(updates)), nil)
	if grown := len(next) - len(existing); grown > 0 {
		observability.Telemetry().IncCounter(observability.MetricPlaceholderOrders, float64(grown), nil)
	}

	for _, update := range updates {
		e.publish(ctx, eventbus.KindOrderStatusChange, update)
	}
	e.publish(ctx, eventbus.KindOrderUpdate, updates)
}

func (e *Engine) applyNewOrder(ctx context.Context, order *schema.Order) {
	if order == nil {
		return
	}
	incoming := order.Clone()
	if incoming.ID == "" && incoming.DiningID != "" {
		incoming.ID = incoming.DiningID
	}
	if incoming.ID == "" {
		observability.Telemetry().IncCounter(observability.MetricParseDrops, 1, nil)
		observability.Log().Error("dropping new order without identifier")
		return
	}
	if incoming.TableID == "" {
		incoming.TableID = e.session.Current().Table()
	}

	existing := e.store.List()
	next := make([]schema.Order, 0, len(existing)+1)
	replaced := false
	key := canonicalKey(incoming.DiningID, incoming.ID)
	for _, current := range existing {
		if canonicalKey(current.DiningID, current.ID) == key {
			next = append(next, incoming)
			replaced = true
			continue
		}
		next = append(next, current)
	}
	if !replaced {
		next = append(next, incoming)
	}
	e.store.Replace(next)
	e.publish(ctx, eventbus.KindNewOrder, incoming)
}

// Merge folds updates into existing and returns a new collection; the input is
// never mutated. Each update resolves by canonical id against DiningID first,
// then ID. Matched orders get a status patch only; unmatched updates
// synthesize a placeholder order against the given table.
func Merge(existing []schema.Order, updates []schema.StatusUpdate, table string) []schema.Order {
	if table == "" {
		table = dining.UnknownTable
	}
	next := make([]schema.Order, len(existing))
	copy(next, existing)

	for _, update := range updates {
		idx := indexOf(next, update.ID)
		if idx >= 0 {
			patched := next[idx].Clone()
			patched.Status = update.Status
			next[idx] = patched
			continue
		}
		next = append(next, placeholder(update, table))
	}
	return next
}

func indexOf(orders []schema.Order, id schema.CanonicalID) int {
	target := id.String()
	for i, order := range orders {
		if order.DiningID != "" && canonical(order.DiningID) == target {
			return i
		}
	}
	for i, order := range orders {
		if canonical(order.ID) == target {
			return i
		}
	}
	return -1
}

// canonical collapses a stored identifier to its canonical numeric form when
// possible so "0607" and "607" resolve to the same order.
func canonical(stored string) string {
	if normalized, err := schema.NormalizeID(stored); err == nil {
		return normalized.String()
	}
	return stored
}

func canonicalKey(diningID, id string) string {
	if diningID != "" {
		return canonical(diningID)
	}
	return canonical(id)
}

func placeholder(update schema.StatusUpdate, table string) schema.Order {
	id := update.ID.String()
	return schema.Order{
		ID:      id,
		TableID: table,
		Items: []schema.OrderItem{{
			ID:       id,
			Name:     "Unknown order",
			Price:    decimal.Zero,
			Quantity: 1,
		}},
		Status:      update.Status,
		TotalAmount: decimal.Zero,
	}
}

func (e *Engine) publish(ctx context.Context, kind eventbus.Kind, payload any) {
	if err := e.bus.Dispatch(ctx, eventbus.Event{Kind: kind, Payload: payload}); err != nil {
		observability.Log().Error("event dispatch failed", observability.F("kind", kind), observability.F("error", err))
	}
}
