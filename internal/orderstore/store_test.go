package orderstore

import (
	"testing"

	"github.com/dinehub/ordersync/internal/schema"
)

func TestListIsSnapshotIsolated(t *testing.T) {
	store := New(schema.Order{ID: "1", Status: schema.StatusPending, Items: []schema.OrderItem{{ID: "i1", Name: "Tea"}}})

	first := store.List()
	first[0].Status = schema.StatusVoid
	first[0].Items[0].Name = "Coffee"

	second := store.List()
	if second[0].Status != schema.StatusPending || second[0].Items[0].Name != "Tea" {
		t.Fatalf("snapshot mutation leaked into store: %+v", second[0])
	}
}

func TestReplaceSwapsWholeCollection(t *testing.T) {
	store := New(schema.Order{ID: "1"})
	next := []schema.Order{{ID: "2"}, {ID: "3"}}
	store.Replace(next)

	// Mutating the caller's slice after Replace must not affect the store.
	next[0].ID = "mutated"

	got := store.List()
	if len(got) != 2 || got[0].ID != "2" || got[1].ID != "3" {
		t.Fatalf("list after replace = %+v", got)
	}
	if store.Len() != 2 {
		t.Fatalf("len = %d", store.Len())
	}
}

func TestEmptyStore(t *testing.T) {
	store := New()
	if len(store.List()) != 0 || store.Len() != 0 {
		t.Fatal("fresh store should be empty")
	}
}
