package schema

import (
	"fmt"
	"time"

	"github.com/goccy/go-json"

	"github.com/dinehub/ordersync/errs"
)

// MessageKind tags the closed set of inbound transport message variants.
type MessageKind string

const (
	MessageOrderUpdate       MessageKind = "order_update"
	MessageOrderStatusChange MessageKind = "order_status_change"
	MessageNewOrder          MessageKind = "new_order"
	MessageTransportError    MessageKind = "error"
)

// StatusUpdate is one normalized status change extracted from a frame.
// StatusKnown is false when the wire status fell outside the closed set and
// was defaulted to pending.
type StatusUpdate struct {
	ID          CanonicalID
	Status      OrderStatus
	RawStatus   string
	StatusKnown bool
}

// Message is the decoded form of one transport frame.
type Message struct {
	Kind      MessageKind
	Updates   []StatusUpdate
	Order     *Order
	ErrorText string
	Timestamp time.Time
}

type legacyEntry struct {
	DiningID any    `json:"dining_id"`
	Status   string `json:"status"`
}

type legacyEnvelope struct {
	UpdatedOrder []legacyEntry `json:"updated_order"`
}

type taggedEnvelope struct {
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data"`
	Timestamp *float64        `json:"timestamp,omitempty"`
}

type updateEntry struct {
	DiningID any    `json:"dining_id"`
	OrderID  any    `json:"order_id"`
	ID       any    `json:"id"`
	Status   string `json:"status"`
}

type errorPayload struct {
	Message string `json:"message"`
}

// ClassifyFrame decodes one raw transport frame into a Message. The legacy
// untagged updated_order shape is checked structurally before the tagged
// union: legacy producers are free to include unrelated fields, including a
// stray "type". Frames matching neither shape return a parse error.
func ClassifyFrame(raw []byte) (Message, error) {
	var legacy legacyEnvelope
	if err := json.Unmarshal(raw, &legacy); err == nil && legacy.UpdatedOrder != nil {
		return classifyLegacy(legacy)
	}

	var tagged taggedEnvelope
	if err := json.Unmarshal(raw, &tagged); err != nil {
		return Message{}, parseError(fmt.Sprintf("malformed frame: %v", err))
	}

	msg := Message{Timestamp: stampOf(tagged.Timestamp)}
	switch MessageKind(tagged.Type) {
	case MessageOrderUpdate, MessageOrderStatusChange:
		updates, err := decodeUpdates(tagged.Data)
		if err != nil {
			return Message{}, err
		}
		msg.Kind = MessageKind(tagged.Type)
		msg.Updates = updates
		return msg, nil
	case MessageNewOrder:
		order, err := decodeOrder(tagged.Data)
		if err != nil {
			return Message{}, err
		}
		msg.Kind = MessageNewOrder
		msg.Order = order
		return msg, nil
	case MessageTransportError:
		msg.Kind = MessageTransportError
		msg.ErrorText = decodeErrorText(tagged.Data)
		return msg, nil
	default:
		return Message{}, parseError(fmt.Sprintf("unrecognized message type %q", tagged.Type))
	}
}

func classifyLegacy(env legacyEnvelope) (Message, error) {
	updates := make([]StatusUpdate, 0, len(env.UpdatedOrder))
	for _, entry := range env.UpdatedOrder {
		id, err := NormalizeID(entry.DiningID)
		if err != nil {
			return Message{}, err
		}
		status, known := ParseOrderStatus(entry.Status)
		updates = append(updates, StatusUpdate{
			ID:          id,
			Status:      status,
			RawStatus:   entry.Status,
			StatusKnown: known,
		})
	}
	return Message{Kind: MessageOrderStatusChange, Updates: updates}, nil
}

func decodeUpdates(data json.RawMessage) ([]StatusUpdate, error) {
	if len(data) == 0 {
		return nil, parseError("update message carries no data")
	}

	var entries []updateEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		var single updateEntry
		if err := json.Unmarshal(data, &single); err != nil {
			return nil, parseError(fmt.Sprintf("malformed update payload: %v", err))
		}
		entries = []updateEntry{single}
	}

	updates := make([]StatusUpdate, 0, len(entries))
	for _, entry := range entries {
		id, err := NormalizeID(entry.identifier())
		if err != nil {
			return nil, err
		}
		status, known := ParseOrderStatus(entry.Status)
		updates = append(updates, StatusUpdate{
			ID:          id,
			Status:      status,
			RawStatus:   entry.Status,
			StatusKnown: known,
		})
	}
	return updates, nil
}

func (e updateEntry) identifier() any {
	if e.DiningID != nil {
		return e.DiningID
	}
	if e.OrderID != nil {
		return e.OrderID
	}
	return e.ID
}

func decodeOrder(data json.RawMessage) (*Order, error) {
	if len(data) == 0 {
		return nil, parseError("new_order message carries no data")
	}
	var order Order
	if err := json.Unmarshal(data, &order); err != nil {
		return nil, parseError(fmt.Sprintf("malformed order payload: %v", err))
	}
	if !order.Status.Valid() {
		order.Status, _ = ParseOrderStatus(string(order.Status))
	}
	return &order, nil
}

func decodeErrorText(data json.RawMessage) string {
	if len(data) == 0 {
		return ""
	}
	var payload errorPayload
	if err := json.Unmarshal(data, &payload); err == nil && payload.Message != "" {
		return payload.Message
	}
	var text string
	if err := json.Unmarshal(data, &text); err == nil {
		return text
	}
	return string(data)
}

func stampOf(epochMillis *float64) time.Time {
	if epochMillis == nil {
		return time.Time{}
	}
	return time.UnixMilli(int64(*epochMillis)).UTC()
}

func parseError(msg string) error {
	return errs.New("schema/frame", errs.CodeParse, errs.WithMessage(msg))
}
