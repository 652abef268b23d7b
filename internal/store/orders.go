package store

import (
	"context"
	"database/sql"
	"fmt"

	"storefront-api/internal/models"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
)

// OrderWriter is the set of writes available inside an order transaction.
type OrderWriter interface {
	LockProducts(ctx context.Context, ids []int64) (map[int64]*models.Product, error)
	DecrementStock(ctx context.Context, productID int64, qty int) error
	InsertOrder(ctx context.Context, order *models.Order) error
	InsertOrderItem(ctx context.Context, item *models.OrderItem) error
	UpdateOrderTotal(ctx context.Context, orderID int64, total decimal.Decimal) error
}

type orderTx struct {
	tx *sqlx.Tx
}

// WithOrderTx runs fn in one transaction. Nothing fn wrote survives an error.
func (s *Store) WithOrderTx(ctx context.Context, fn func(OrderWriter) error) error {
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		return fn(&orderTx{tx: tx})
	})
}

// LockProducts takes row locks on every product in ids, in ascending id order so that
// concurrent orders over the same products cannot deadlock. Missing ids are simply absent
// from the result.
func (o *orderTx) LockProducts(ctx context.Context, ids []int64) (map[int64]*models.Product, error) {
	var products []models.Product
	err := o.tx.SelectContext(ctx, &products, `
		SELECT `+productColumns+`
		FROM products p
		WHERE p.id = ANY($1)
		ORDER BY p.id
		FOR UPDATE`, pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("lock products: %w", err)
	}

	locked := make(map[int64]*models.Product, len(products))
	for i := range products {
		locked[products[i].ID] = &products[i]
	}
	return locked, nil
}

func (o *orderTx) DecrementStock(ctx context.Context, productID int64, qty int) error {
	res, err := o.tx.ExecContext(ctx,
		"UPDATE products SET stock = stock - $1, updated_at = NOW() WHERE id = $2 AND stock >= $1",
		qty, productID)
	if err != nil {
		return fmt.Errorf("decrement stock: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("decrement stock for product %d: %w", productID, ErrInsufficientStock)
	}
	return nil
}

func (o *orderTx) InsertOrder(ctx context.Context, order *models.Order) error {
	query := `
		INSERT INTO orders (user_id, total, status, shipping_address)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at, updated_at`

	return o.tx.QueryRowxContext(ctx, query,
		order.UserID, order.Total, order.Status, order.ShippingAddress).
		Scan(&order.ID, &order.CreatedAt, &order.UpdatedAt)
}

func (o *orderTx) InsertOrderItem(ctx context.Context, item *models.OrderItem) error {
	query := `
		INSERT INTO order_items (order_id, product_id, quantity, price)
		VALUES ($1, $2, $3, $4)
		RETURNING id`

	return o.tx.GetContext(ctx, &item.ID, query,
		item.OrderID, item.ProductID, item.Quantity, item.Price)
}

func (o *orderTx) UpdateOrderTotal(ctx context.Context, orderID int64, total decimal.Decimal) error {
	_, err := o.tx.ExecContext(ctx,
		"UPDATE orders SET total = $1, updated_at = NOW() WHERE id = $2",
		total, orderID)
	return err
}

const orderColumns = "id, user_id, total, status, shipping_address, created_at, updated_at"

// ListOrdersByUser returns the user's orders with items and products, newest first.
func (s *Store) ListOrdersByUser(ctx context.Context, userID int64) ([]models.OrderDetail, error) {
	var orders []models.Order
	err := s.db.SelectContext(ctx, &orders,
		"SELECT "+orderColumns+" FROM orders WHERE user_id = $1 ORDER BY created_at DESC, id DESC", userID)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	return s.assembleOrders(ctx, orders, false)
}

// ListAllOrders returns every order with items, products and the buyer, newest first.
func (s *Store) ListAllOrders(ctx context.Context) ([]models.OrderDetail, error) {
	var orders []models.Order
	err := s.db.SelectContext(ctx, &orders,
		"SELECT "+orderColumns+" FROM orders ORDER BY created_at DESC, id DESC")
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	return s.assembleOrders(ctx, orders, true)
}

type orderItemRow struct {
	models.OrderItem
	ProductName  sql.NullString      `db:"product_name"`
	ProductSKU   sql.NullString      `db:"product_sku"`
	ProductImage sql.NullString      `db:"product_image"`
	ProductPrice decimal.NullDecimal `db:"product_price"`
}

func (r *orderItemRow) detail() models.OrderItemDetail {
	d := models.OrderItemDetail{OrderItem: r.OrderItem}
	if r.ProductName.Valid {
		d.Product = &models.ProductSummary{
			ID:    r.ProductID,
			Name:  r.ProductName.String,
			Price: r.ProductPrice.Decimal,
		}
		if r.ProductSKU.Valid {
			d.Product.SKU = &r.ProductSKU.String
		}
		if r.ProductImage.Valid {
			d.Product.Image = &r.ProductImage.String
		}
	}
	return d
}

func (s *Store) assembleOrders(ctx context.Context, orders []models.Order, withUser bool) ([]models.OrderDetail, error) {
	out := make([]models.OrderDetail, 0, len(orders))
	if len(orders) == 0 {
		return out, nil
	}

	orderIDs := make([]int64, 0, len(orders))
	userIDs := make([]int64, 0, len(orders))
	for _, o := range orders {
		orderIDs = append(orderIDs, o.ID)
		userIDs = append(userIDs, o.UserID)
	}

	var rows []orderItemRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT oi.id, oi.order_id, oi.product_id, oi.quantity, oi.price,
		       p.name AS product_name, p.sku AS product_sku, p.image AS product_image, p.price AS product_price
		FROM order_items oi
		LEFT JOIN products p ON p.id = oi.product_id
		WHERE oi.order_id = ANY($1)
		ORDER BY oi.id`, pq.Array(orderIDs))
	if err != nil {
		return nil, fmt.Errorf("list order items: %w", err)
	}

	items := make(map[int64][]models.OrderItemDetail, len(orders))
	for i := range rows {
		items[rows[i].OrderID] = append(items[rows[i].OrderID], rows[i].detail())
	}

	users := map[int64]models.PublicUser{}
	if withUser {
		var list []models.PublicUser
		err := s.db.SelectContext(ctx, &list,
			"SELECT id, name, email, role FROM users WHERE id = ANY($1)", pq.Array(userIDs))
		if err != nil {
			return nil, fmt.Errorf("list order users: %w", err)
		}
		for _, u := range list {
			users[u.ID] = u
		}
	}

	for _, o := range orders {
		d := models.OrderDetail{Order: o, Items: items[o.ID]}
		if d.Items == nil {
			d.Items = []models.OrderItemDetail{}
		}
		if u, ok := users[o.UserID]; ok {
			u := u
			d.User = &u
		}
		out = append(out, d)
	}
	return out, nil
}
