package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Event types
const (
	EventTypeOrderPlaced = "ORDER_PLACED"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// OrderPlacedEvent is emitted after an order commits. It carries everything the
// notification side needs, so consumers never query the database.
type OrderPlacedEvent struct {
	BaseEvent
	Store           string          `json:"store"`
	OrderID         int64           `json:"order_id"`
	Total           decimal.Decimal `json:"total"`
	ShippingAddress string          `json:"shipping_address"`
	Customer        PublicUser      `json:"customer"`
	Lines           []OrderLineData `json:"lines"`
}

// OrderLineData represents item data in events
type OrderLineData struct {
	ProductID   int64           `json:"product_id"`
	ProductName string          `json:"product_name"`
	Quantity    int             `json:"quantity"`
	Price       decimal.Decimal `json:"price"`
}
