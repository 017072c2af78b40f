// Package ids generates the identifiers used for orders, positions,
// and trades throughout the engine.
package ids

import "github.com/google/uuid"

// NewOrderID returns a new unique order id.
func NewOrderID() string {
	return "ord_" + uuid.NewString()
}

// NewPositionID returns a new unique position id.
func NewPositionID() string {
	return "pos_" + uuid.NewString()
}

// NewTradeID returns a new unique trade (closed-position record) id.
func NewTradeID() string {
	return "trd_" + uuid.NewString()
}

// NewEventID returns a new unique audit event id.
func NewEventID() string {
	return "evt_" + uuid.NewString()
}
