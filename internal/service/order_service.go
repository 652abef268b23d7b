package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"storefront-api/internal/apperr"
	"storefront-api/internal/models"
	"storefront-api/internal/store"
	"storefront-api/internal/util"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	idempotencyTTL = 24 * time.Hour
	// A reservation outlives any placement; a crashed request frees the key after this.
	idempotencyReserveTTL = time.Minute
)

// idempotencyPending marks a key whose first request is still running.
var idempotencyPending = []byte("pending")

// OrderStore is the persistence OrderService needs.
type OrderStore interface {
	WithOrderTx(ctx context.Context, fn func(store.OrderWriter) error) error
	GetUserByID(ctx context.Context, id int64) (*models.User, error)
	ListOrdersByUser(ctx context.Context, userID int64) ([]models.OrderDetail, error)
	ListAllOrders(ctx context.Context) ([]models.OrderDetail, error)
}

// OrderEventSink receives an event for every committed order.
type OrderEventSink interface {
	PublishOrderPlaced(ctx context.Context, event *models.OrderPlacedEvent) error
}

// IdempotencyStore remembers responses by key. Reserve stores value only when key is
// absent; Remember overwrites.
type IdempotencyStore interface {
	Lookup(ctx context.Context, key string) ([]byte, bool, error)
	Reserve(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)
	Remember(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Release(ctx context.Context, key string) error
}

// CatalogInvalidator drops cached catalog listings after stock changes.
type CatalogInvalidator interface {
	InvalidateCatalog(ctx context.Context) error
}

// OrderService handles order business logic
type OrderService struct {
	store     OrderStore
	events    OrderEventSink
	idem      IdempotencyStore
	catalog   CatalogInvalidator
	storeName string
	logger    *zap.Logger

	pending sync.WaitGroup
}

// NewOrderService creates a new order service. events, idem and catalog may be nil.
func NewOrderService(store OrderStore, events OrderEventSink, idem IdempotencyStore, catalog CatalogInvalidator, storeName string) *OrderService {
	return &OrderService{
		store:     store,
		events:    events,
		idem:      idem,
		catalog:   catalog,
		storeName: storeName,
		logger:    util.GetLogger(),
	}
}

// PlaceOrderRequest represents a request to place an order
type PlaceOrderRequest struct {
	Items           []OrderLineRequest `json:"items" validate:"required,min=1,dive"`
	ShippingAddress string             `json:"shipping_address" validate:"max=1000"`
}

// OrderLineRequest represents an item in an order
type OrderLineRequest struct {
	ProductID int64 `json:"productId" validate:"required,gte=1"`
	Quantity  int   `json:"quantity" validate:"required,gte=1"`
}

// PlaceOrderResponse represents the response after placing an order
type PlaceOrderResponse struct {
	OrderID int64           `json:"orderId"`
	Total   decimal.Decimal `json:"total"`
}

var orderMessages = fieldMessages{
	"Items":           "No items provided",
	"ProductID":       "Invalid productId",
	"Quantity":        "Quantity must be at least 1",
	"ShippingAddress": "Shipping address is too long",
}

// PlaceOrder runs the placement transaction: every line's stock is checked and
// decremented, items are written with the current price and the total is stored, all
// or nothing. Notification happens after commit and never affects the result.
func (s *OrderService) PlaceOrder(ctx context.Context, userID int64, req *PlaceOrderRequest, idempotencyKey string) (*PlaceOrderResponse, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.PlaceOrder")
	defer span.End()

	if err := check(req, orderMessages, "Invalid order"); err != nil {
		util.OrdersFailedTotal.WithLabelValues("invalid_items").Inc()
		return nil, err
	}

	replayKey := ""
	if idempotencyKey != "" && s.idem != nil {
		replayKey = fmt.Sprintf("%d:%s", userID, idempotencyKey)
		resp, reserved, err := s.reserve(ctx, replayKey)
		if err != nil {
			return nil, err
		}
		if resp != nil {
			util.OrderReplaysTotal.Inc()
			s.logger.Info("Duplicate order request detected",
				zap.String("idempotency_key", idempotencyKey),
				zap.Int64("order_id", resp.OrderID))
			return resp, nil
		}
		if !reserved {
			replayKey = ""
		}
	}

	start := time.Now()
	var (
		order models.Order
		lines []models.OrderLineData
	)
	err := s.store.WithOrderTx(ctx, func(w store.OrderWriter) error {
		order = models.Order{
			UserID:          userID,
			Total:           decimal.Zero,
			Status:          models.OrderStatusPending,
			ShippingAddress: req.ShippingAddress,
		}
		if err := w.InsertOrder(ctx, &order); err != nil {
			return fmt.Errorf("insert order: %w", err)
		}

		products, err := w.LockProducts(ctx, productIDs(req.Items))
		if err != nil {
			return err
		}

		lines = make([]models.OrderLineData, 0, len(req.Items))
		total := decimal.Zero
		for _, line := range req.Items {
			product, ok := products[line.ProductID]
			if !ok {
				return apperr.NotFound("Product not found: %d", line.ProductID)
			}
			if product.Stock < line.Quantity {
				return apperr.New(apperr.ErrInsufficientStock, "Insufficient stock for %s", product.Name)
			}

			if err := w.DecrementStock(ctx, product.ID, line.Quantity); err != nil {
				return err
			}
			product.Stock -= line.Quantity

			item := &models.OrderItem{
				OrderID:   order.ID,
				ProductID: product.ID,
				Quantity:  line.Quantity,
				Price:     product.Price,
			}
			if err := w.InsertOrderItem(ctx, item); err != nil {
				return fmt.Errorf("insert order item: %w", err)
			}
			total = total.Add(item.Subtotal())

			lines = append(lines, models.OrderLineData{
				ProductID:   product.ID,
				ProductName: product.Name,
				Quantity:    line.Quantity,
				Price:       product.Price,
			})
		}

		order.Total = total.Round(2)
		return w.UpdateOrderTotal(ctx, order.ID, order.Total)
	})
	util.OrderPlacementLatency.Observe(time.Since(start).Seconds())

	if err != nil {
		if replayKey != "" {
			s.release(replayKey)
		}
		return nil, s.placementFailed(userID, err)
	}

	util.OrdersPlacedTotal.Inc()
	s.logger.Info("Order placed",
		zap.Int64("order_id", order.ID),
		zap.Int64("user_id", userID),
		zap.String("total", order.Total.StringFixed(2)))

	resp := &PlaceOrderResponse{OrderID: order.ID, Total: order.Total}
	if replayKey != "" {
		s.remember(ctx, replayKey, resp)
	}

	if s.catalog != nil {
		if err := s.catalog.InvalidateCatalog(ctx); err != nil {
			s.logger.Warn("Catalog cache invalidation failed", zap.Int64("order_id", order.ID), zap.Error(err))
		}
	}

	s.notifyOrderPlaced(order, lines)
	return resp, nil
}

func (s *OrderService) placementFailed(userID int64, err error) error {
	switch {
	case errors.Is(err, apperr.ErrInsufficientStock):
		util.OrdersFailedTotal.WithLabelValues("insufficient_stock").Inc()
		return err
	case errors.Is(err, store.ErrInsufficientStock):
		util.OrdersFailedTotal.WithLabelValues("insufficient_stock").Inc()
		return apperr.New(apperr.ErrInsufficientStock, "Insufficient stock")
	case errors.Is(err, apperr.ErrNotFound):
		util.OrdersFailedTotal.WithLabelValues("product_not_found").Inc()
		return err
	}

	util.OrdersFailedTotal.WithLabelValues("db_error").Inc()
	s.logger.Error("Order placement failed", zap.Int64("user_id", userID), zap.Error(err))
	return fmt.Errorf("place order: %w", err)
}

// productIDs returns the distinct ids referenced by items.
func productIDs(items []OrderLineRequest) []int64 {
	seen := make(map[int64]struct{}, len(items))
	ids := make([]int64, 0, len(items))
	for _, it := range items {
		if _, ok := seen[it.ProductID]; ok {
			continue
		}
		seen[it.ProductID] = struct{}{}
		ids = append(ids, it.ProductID)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// reserve claims key for this request. It returns the stored response when an earlier
// request with the same key already succeeded, and a conflict while that request is still
// running. reserved is false when the store is unreachable; the order then proceeds without
// replay protection.
func (s *OrderService) reserve(ctx context.Context, key string) (resp *PlaceOrderResponse, reserved bool, err error) {
	for attempt := 0; attempt < 2; attempt++ {
		ok, err := s.idem.Reserve(ctx, key, idempotencyPending, idempotencyReserveTTL)
		if err != nil {
			s.logger.Warn("Idempotency reservation failed", zap.Error(err))
			return nil, false, nil
		}
		if ok {
			return nil, true, nil
		}

		raw, found, err := s.idem.Lookup(ctx, key)
		if err != nil {
			s.logger.Warn("Idempotency lookup failed", zap.Error(err))
			return nil, false, nil
		}
		if !found {
			// The holder released or expired between the two calls.
			continue
		}
		if bytes.Equal(raw, idempotencyPending) {
			break
		}

		var stored PlaceOrderResponse
		if err := json.Unmarshal(raw, &stored); err != nil {
			s.logger.Warn("Discarding unreadable idempotency record", zap.Error(err))
			if err := s.idem.Remember(ctx, key, idempotencyPending, idempotencyReserveTTL); err != nil {
				return nil, false, nil
			}
			return nil, true, nil
		}
		return &stored, false, nil
	}

	util.OrdersFailedTotal.WithLabelValues("idempotency_in_progress").Inc()
	return nil, false, apperr.New(apperr.ErrConflict, "Order is already being processed")
}

// release frees a reserved key so the client can retry a failed placement.
func (s *OrderService) release(key string) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.idem.Release(ctx, key); err != nil {
		s.logger.Warn("Failed to release idempotency key", zap.Error(err))
	}
}

func (s *OrderService) remember(ctx context.Context, key string, resp *PlaceOrderResponse) {
	raw, err := json.Marshal(resp)
	if err != nil {
		return
	}
	if err := s.idem.Remember(ctx, key, raw, idempotencyTTL); err != nil {
		s.logger.Warn("Failed to store idempotency record", zap.Int64("order_id", resp.OrderID), zap.Error(err))
	}
}

// notifyOrderPlaced hands the event to the sink on its own goroutine and deadline, so a
// slow or failing sink never reaches the caller.
func (s *OrderService) notifyOrderPlaced(order models.Order, lines []models.OrderLineData) {
	if s.events == nil {
		return
	}

	s.pending.Add(1)
	go func() {
		defer s.pending.Done()

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		user, err := s.store.GetUserByID(ctx, order.UserID)
		if err != nil {
			s.logger.Error("Failed to load purchaser for notification",
				zap.Int64("order_id", order.ID), zap.Error(err))
			return
		}

		event := &models.OrderPlacedEvent{
			BaseEvent: models.BaseEvent{
				EventID:   uuid.New().String(),
				EventType: models.EventTypeOrderPlaced,
				Timestamp: time.Now(),
			},
			Store:           s.storeName,
			OrderID:         order.ID,
			Total:           order.Total,
			ShippingAddress: order.ShippingAddress,
			Customer:        user.Public(),
			Lines:           lines,
		}

		if err := s.events.PublishOrderPlaced(ctx, event); err != nil {
			s.logger.Error("Failed to publish OrderPlaced event",
				zap.Int64("order_id", order.ID), zap.Error(err))
		}
	}()
}

// Drain waits for in-flight notification hand-offs.
func (s *OrderService) Drain() {
	s.pending.Wait()
}

// ListOwnOrders returns the caller's orders, newest first.
func (s *OrderService) ListOwnOrders(ctx context.Context, userID int64) ([]models.OrderDetail, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.ListOwnOrders")
	defer span.End()

	return s.store.ListOrdersByUser(ctx, userID)
}

// ListAllOrders returns every order with its purchaser, newest first.
func (s *OrderService) ListAllOrders(ctx context.Context) ([]models.OrderDetail, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.ListAllOrders")
	defer span.End()

	return s.store.ListAllOrders(ctx)
}
