package worker

import (
	"context"
	"errors"

	"storefront-api/internal/broker"
	"storefront-api/internal/models"
	"storefront-api/internal/util"

	"go.uber.org/zap"
)

// Source is a broker consumer that hands each payload to a handler.
type Source interface {
	StartConsuming(ctx context.Context, handler broker.MessageHandler) error
	Close() error
}

// Deliverer sends the emails for one placed order.
type Deliverer interface {
	Deliver(ctx context.Context, event *models.OrderPlacedEvent) error
}

// NotificationWorker turns OrderPlaced events from a broker into emails
type NotificationWorker struct {
	name         string
	source       Source
	eventHandler *broker.EventHandler
	logger       *zap.Logger
}

// NewNotificationWorker creates a new notification worker. Delivery failures are logged
// and the message is still acknowledged: emails are best-effort and a retry would resend
// whichever mail already went out.
func NewNotificationWorker(name string, source Source, deliverer Deliverer) *NotificationWorker {
	logger := util.GetLogger().With(zap.String("worker", name))
	eventHandler := broker.NewEventHandler()

	eventHandler.OnOrderPlaced(func(ctx context.Context, event *models.OrderPlacedEvent) error {
		if err := deliverer.Deliver(ctx, event); err != nil {
			logger.Warn("Order notification incomplete",
				zap.Int64("order_id", event.OrderID),
				zap.String("event_id", event.EventID),
				zap.Error(err))
		}
		return nil
	})

	return &NotificationWorker{
		name:         name,
		source:       source,
		eventHandler: eventHandler,
		logger:       logger,
	}
}

// Start consumes until ctx is cancelled
func (w *NotificationWorker) Start(ctx context.Context) error {
	w.logger.Info("Starting notification worker")
	err := w.source.StartConsuming(ctx, w.eventHandler.Handle)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Stop closes the underlying consumer
func (w *NotificationWorker) Stop() error {
	w.logger.Info("Stopping notification worker")
	return w.source.Close()
}
