package eventbus

import (
	"context"
	"errors"
	"testing"
)

func TestDispatchRunsHandlersInRegistrationOrder(t *testing.T) {
	bus := New()
	var order []int
	for i := 0; i < 5; i++ {
		i := i
		if _, err := bus.Subscribe(KindOrderUpdate, func(context.Context, Event) error {
			order = append(order, i)
			return nil
		}); err != nil {
			t.Fatal(err)
		}
	}

	if err := bus.Dispatch(context.Background(), Event{Kind: KindOrderUpdate}); err != nil {
		t.Fatal(err)
	}
	for i, got := range order {
		if got != i {
			t.Fatalf("delivery order = %v", order)
		}
	}
}

func TestDispatchIsolatesFailingHandler(t *testing.T) {
	bus := New()
	boom := errors.New("boom")
	var after bool

	if _, err := bus.Subscribe(KindFrame, func(context.Context, Event) error { return boom }); err != nil {
		t.Fatal(err)
	}
	if _, err := bus.Subscribe(KindFrame, func(context.Context, Event) error { panic("handler exploded") }); err != nil {
		t.Fatal(err)
	}
	if _, err := bus.Subscribe(KindFrame, func(context.Context, Event) error {
		after = true
		return nil
	}); err != nil {
		t.Fatal(err)
	}

	err := bus.Dispatch(context.Background(), Event{Kind: KindFrame})
	if err == nil {
		t.Fatal("expected aggregated error")
	}
	if !after {
		t.Fatal("handler after the failures did not run")
	}

	var dispatchErr *DispatchError
	if !errors.As(err, &dispatchErr) {
		t.Fatalf("error type %T", err)
	}
	if len(dispatchErr.Errors) != 2 || dispatchErr.SubscriberCount != 3 {
		t.Fatalf("dispatch error = %+v", dispatchErr)
	}
	if !errors.Is(err, boom) {
		t.Fatal("aggregated error should unwrap to the handler error")
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	bus := New()
	var calls int
	id, err := bus.Subscribe(KindNewOrder, func(context.Context, Event) error {
		calls++
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}

	if err := bus.Dispatch(context.Background(), Event{Kind: KindNewOrder}); err != nil {
		t.Fatal(err)
	}
	bus.Unsubscribe(id)
	if err := bus.Dispatch(context.Background(), Event{Kind: KindNewOrder}); err != nil {
		t.Fatal(err)
	}
	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
}

func TestDispatchOnlyMatchingKind(t *testing.T) {
	bus := New()
	var calls int
	if _, err := bus.Subscribe(KindConnected, func(context.Context, Event) error {
		calls++
		return nil
	}); err != nil {
		t.Fatal(err)
	}
	if err := bus.Dispatch(context.Background(), Event{Kind: KindDisconnected}); err != nil {
		t.Fatal(err)
	}
	if calls != 0 {
		t.Fatal("handler for another kind should not fire")
	}
}

func TestSubscribeValidation(t *testing.T) {
	bus := New()
	if _, err := bus.Subscribe("", func(context.Context, Event) error { return nil }); err == nil {
		t.Fatal("empty kind should fail")
	}
	if _, err := bus.Subscribe(KindFrame, nil); err == nil {
		t.Fatal("nil handler should fail")
	}
	if err := bus.Dispatch(context.Background(), Event{}); err == nil {
		t.Fatal("dispatch without kind should fail")
	}
}
