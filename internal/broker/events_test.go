package broker

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"storefront-api/internal/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventHandlerRoutesOrderPlaced(t *testing.T) {
	var got *models.OrderPlacedEvent
	h := NewEventHandler()
	h.OnOrderPlaced(func(ctx context.Context, event *models.OrderPlacedEvent) error {
		got = event
		return nil
	})

	payload, err := json.Marshal(&models.OrderPlacedEvent{
		BaseEvent:       models.BaseEvent{EventID: "e-1", EventType: models.EventTypeOrderPlaced, Timestamp: time.Now()},
		Store:           "Cosmetics",
		OrderID:         12,
		Total:           decimal.RequireFromString("1249.50"),
		ShippingAddress: "4 Elm Road",
		Lines:           []models.OrderLineData{{ProductID: 2, ProductName: "Serum", Quantity: 2, Price: decimal.RequireFromString("624.75")}},
	})
	require.NoError(t, err)

	require.NoError(t, h.Handle(context.Background(), payload))
	require.NotNil(t, got)
	assert.Equal(t, int64(12), got.OrderID)
	assert.Equal(t, "e-1", got.EventID)
	assert.Equal(t, "4 Elm Road", got.ShippingAddress)
	assert.True(t, got.Lines[0].Price.Equal(decimal.RequireFromString("624.75")))
}

func TestEventHandlerIgnoresUnknownTypes(t *testing.T) {
	called := false
	h := NewEventHandler()
	h.OnOrderPlaced(func(ctx context.Context, event *models.OrderPlacedEvent) error {
		called = true
		return nil
	})

	assert.NoError(t, h.Handle(context.Background(), []byte(`{"event_type":"PAYMENT_SUCCESS"}`)))
	assert.False(t, called)
}

func TestEventHandlerRejectsGarbage(t *testing.T) {
	h := NewEventHandler()
	assert.Error(t, h.Handle(context.Background(), []byte("{")))
}

func TestOrderKey(t *testing.T) {
	assert.Equal(t, "order-42", orderKey(42))
}
