// Package eventbus implements the in-process publish/subscribe fan-out that
// decouples the connection manager from order and payment consumers.
package eventbus

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/dinehub/ordersync/errs"
)

// Kind names one subscribable event category.
type Kind string

const (
	KindConnected           Kind = "connection.connected"
	KindDisconnected        Kind = "connection.disconnected"
	KindReconnecting        Kind = "connection.reconnecting"
	KindConnectionExhausted Kind = "connection.exhausted"
	KindFrame               Kind = "transport.frame"
	KindTransportError      Kind = "transport.error"
	KindOrderUpdate         Kind = "order.update"
	KindOrderStatusChange   Kind = "order.status_change"
	KindNewOrder            Kind = "order.new"
	KindPaymentOutcome      Kind = "payment.outcome"
)

// Event is the unit of delivery on the bus.
type Event struct {
	Kind    Kind
	Payload any
	At      time.Time
}

// Handler consumes one event. Errors and panics are isolated per handler.
type Handler func(ctx context.Context, evt Event) error

// SubscriptionID identifies one registered handler.
type SubscriptionID string

type subscription struct {
	id      SubscriptionID
	handler Handler
}

// Bus delivers events to handlers in registration order.
type Bus struct {
	mu      sync.RWMutex
	entries map[Kind][]subscription
	nextID  uint64
}

// New constructs an empty bus.
func New() *Bus {
	return &Bus{entries: make(map[Kind][]subscription)}
}

// Subscribe registers a handler for the given kind and returns its id.
func (b *Bus) Subscribe(kind Kind, handler Handler) (SubscriptionID, error) {
	if kind == "" {
		return "", errs.New("eventbus/subscribe", errs.CodeInvalid, errs.WithMessage("event kind required"))
	}
	if handler == nil {
		return "", errs.New("eventbus/subscribe", errs.CodeInvalid, errs.WithMessage("handler required"))
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	id := SubscriptionID(string(kind) + "#" + strconv.FormatUint(b.nextID, 10))
	b.entries[kind] = append(b.entries[kind], subscription{id: id, handler: handler})
	return id, nil
}

// Unsubscribe removes a previously registered handler. Unknown ids are a no-op.
func (b *Bus) Unsubscribe(id SubscriptionID) {
	kind, _, found := strings.Cut(string(id), "#")
	if !found {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.entries[Kind(kind)]
	for i, sub := range subs {
		if sub.id == id {
			b.entries[Kind(kind)] = append(subs[:i:i], subs[i+1:]...)
			return
		}
	}
}

// Dispatch invokes every current subscriber for the event's kind in
// registration order. A handler that fails or panics never prevents later
// handlers from running; failures aggregate into a DispatchError.
func (b *Bus) Dispatch(ctx context.Context, evt Event) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if evt.Kind == "" {
		return errs.New("eventbus/dispatch", errs.CodeInvalid, errs.WithMessage("event kind required"))
	}
	if evt.At.IsZero() {
		evt.At = time.Now().UTC()
	}

	// Snapshot subscribers so delivery runs without the lock held.
	b.mu.RLock()
	subs := make([]subscription, len(b.entries[evt.Kind]))
	copy(subs, b.entries[evt.Kind])
	b.mu.RUnlock()

	var failed []SubscriptionID
	var handlerErrs []error
	for _, sub := range subs {
		if err := b.deliver(ctx, sub, evt); err != nil {
			failed = append(failed, sub.id)
			handlerErrs = append(handlerErrs, err)
		}
	}
	if len(handlerErrs) == 0 {
		return nil
	}
	return &DispatchError{
		Kind:            evt.Kind,
		SubscriberCount: len(subs),
		Failed:          failed,
		Errors:          handlerErrs,
	}
}

func (b *Bus) deliver(ctx context.Context, sub subscription, evt Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("subscriber %s panic: %v", sub.id, r)
		}
	}()
	return sub.handler(ctx, evt)
}

// DispatchError aggregates subscriber failures for one dispatch.
type DispatchError struct {
	Kind            Kind
	SubscriberCount int
	Failed          []SubscriptionID
	Errors          []error
}

// Error returns a descriptive summary of the aggregated failures.
func (e *DispatchError) Error() string {
	if e == nil {
		return "<nil>"
	}
	parts := []string{"eventbus dispatch"}
	if e.Kind != "" {
		parts = append(parts, fmt.Sprintf("kind=%s", e.Kind))
	}
	if e.SubscriberCount > 0 {
		parts = append(parts, fmt.Sprintf("subscriber_count=%d", e.SubscriberCount))
	}
	if len(e.Failed) > 0 {
		parts = append(parts, fmt.Sprintf("failed_subscribers=%v", e.Failed))
	}
	for _, err := range e.Errors {
		if err != nil {
			parts = append(parts, err.Error())
		}
	}
	return strings.Join(parts, ": ")
}

// Unwrap exposes the underlying subscriber errors for errors.Is/As compatibility.
func (e *DispatchError) Unwrap() []error {
	if e == nil {
		return nil
	}
	return append([]error(nil), e.Errors...)
}
