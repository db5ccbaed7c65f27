// Package schema defines the canonical order domain types and the wire shapes
// accepted from the in-dining push transport.
package schema

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// OrderStatus enumerates the closed set of order lifecycle states.
type OrderStatus string

const (
	StatusPending    OrderStatus = "pending"
	StatusProcessing OrderStatus = "processing"
	StatusCompleted  OrderStatus = "completed"
	StatusCancelled  OrderStatus = "cancelled"
	StatusPreparing  OrderStatus = "preparing"
	StatusReady      OrderStatus = "ready"
	StatusDelivered  OrderStatus = "delivered"
	StatusVoid       OrderStatus = "void"
)

var knownStatuses = map[OrderStatus]struct{}{
	StatusPending:    {},
	StatusProcessing: {},
	StatusCompleted:  {},
	StatusCancelled:  {},
	StatusPreparing:  {},
	StatusReady:      {},
	StatusDelivered:  {},
	StatusVoid:       {},
}

// Valid reports whether the status belongs to the closed set.
func (s OrderStatus) Valid() bool {
	_, ok := knownStatuses[s]
	return ok
}

// ParseOrderStatus maps a wire status string onto the closed set. Unrecognized
// values fall back to pending; ok is false so callers can count and log them.
// The fallback mirrors upstream behaviour and may mask data-quality bugs; it
// stays until product decides otherwise.
func ParseOrderStatus(raw string) (status OrderStatus, ok bool) {
	candidate := OrderStatus(strings.ToLower(strings.TrimSpace(raw)))
	if candidate.Valid() {
		return candidate, true
	}
	return StatusPending, false
}

// ModifierOption is a single priced choice inside a modifier group.
type ModifierOption struct {
	Name  string          `json:"name"`
	Price decimal.Decimal `json:"price"`
}

// Modifier is a named option group attached to an order item.
type Modifier struct {
	Name    string           `json:"name"`
	Options []ModifierOption `json:"options,omitempty"`
}

// OrderItem is one line of an order.
type OrderItem struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Price     decimal.Decimal `json:"price"`
	Quantity  int             `json:"quantity"`
	Image     string          `json:"image,omitempty"`
	Modifiers []Modifier      `json:"modifiers,omitempty"`
}

// Order is the canonical in-dining order record. DiningID carries the external
// POS identifier when it differs from ID; reconciliation resolves against
// DiningID first and falls back to ID.
type Order struct {
	ID          string          `json:"id"`
	DiningID    string          `json:"dining_id,omitempty"`
	TableID     string          `json:"table_id"`
	Items       []OrderItem     `json:"items"`
	Status      OrderStatus     `json:"status"`
	TotalAmount decimal.Decimal `json:"totalAmount"`
	CreatedAt   time.Time       `json:"createdAt"`
	UpdatedAt   time.Time       `json:"updatedAt"`
}

// Clone returns a deep copy of the order so merges never alias caller state.
func (o Order) Clone() Order {
	dup := o
	if o.Items != nil {
		dup.Items = make([]OrderItem, len(o.Items))
		copy(dup.Items, o.Items)
		for i, item := range o.Items {
			if item.Modifiers == nil {
				continue
			}
			mods := make([]Modifier, len(item.Modifiers))
			copy(mods, item.Modifiers)
			for j, mod := range item.Modifiers {
				if mod.Options == nil {
					continue
				}
				opts := make([]ModifierOption, len(mod.Options))
				copy(opts, mod.Options)
				mods[j].Options = opts
			}
			dup.Items[i].Modifiers = mods
		}
	}
	return dup
}
