package models

import (
	"database/sql"
	"time"

	"github.com/shopspring/decimal"
)

// Roles
const (
	RoleCustomer = "customer"
	RoleAdmin    = "admin"
)

// Order statuses
const (
	OrderStatusPending   = "pending"
	OrderStatusCompleted = "completed"
	OrderStatusCancelled = "cancelled"
)

// User is a registered account. Password holds the bcrypt hash.
type User struct {
	ID        int64     `db:"id" json:"id"`
	Name      string    `db:"name" json:"name"`
	Email     string    `db:"email" json:"email"`
	Password  string    `db:"password" json:"-"`
	Role      string    `db:"role" json:"role"`
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt time.Time `db:"updated_at" json:"updatedAt"`
}

// PublicUser is the projection of a user that may leave the API.
type PublicUser struct {
	ID    int64  `db:"id" json:"id"`
	Name  string `db:"name" json:"name,omitempty"`
	Email string `db:"email" json:"email"`
	Role  string `db:"role" json:"role,omitempty"`
}

// Public returns the client-safe projection of u.
func (u *User) Public() PublicUser {
	return PublicUser{ID: u.ID, Name: u.Name, Email: u.Email, Role: u.Role}
}

type Category struct {
	ID          int64     `db:"id" json:"id"`
	Name        string    `db:"name" json:"name"`
	Slug        string    `db:"slug" json:"slug"`
	Description string    `db:"description" json:"description"`
	CreatedAt   time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt   time.Time `db:"updated_at" json:"updatedAt"`
}

// CategorySummary is embedded in product listings.
type CategorySummary struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
	Slug string `json:"slug"`
}

type Product struct {
	ID          int64           `db:"id" json:"id"`
	Name        string          `db:"name" json:"name"`
	Description string          `db:"description" json:"description"`
	Price       decimal.Decimal `db:"price" json:"price"`
	Stock       int             `db:"stock" json:"stock"`
	SKU         sql.NullString  `db:"sku" json:"-"`
	Image       sql.NullString  `db:"image" json:"-"`
	CategoryID  sql.NullInt64   `db:"category_id" json:"-"`
	CreatedAt   time.Time       `db:"created_at" json:"createdAt"`
	UpdatedAt   time.Time       `db:"updated_at" json:"updatedAt"`
}

// ProductView is the JSON shape of a product, with nullable columns flattened.
type ProductView struct {
	ID          int64            `json:"id"`
	Name        string           `json:"name"`
	Description string           `json:"description"`
	Price       decimal.Decimal  `json:"price"`
	Stock       int              `json:"stock"`
	SKU         *string          `json:"sku"`
	Image       *string          `json:"image"`
	CategoryID  *int64           `json:"categoryId"`
	Category    *CategorySummary `json:"Category,omitempty"`
	CreatedAt   time.Time        `json:"createdAt"`
	UpdatedAt   time.Time        `json:"updatedAt"`
}

// View flattens p for JSON output.
func (p *Product) View() ProductView {
	v := ProductView{
		ID:          p.ID,
		Name:        p.Name,
		Description: p.Description,
		Price:       p.Price,
		Stock:       p.Stock,
		CreatedAt:   p.CreatedAt,
		UpdatedAt:   p.UpdatedAt,
	}
	if p.SKU.Valid {
		v.SKU = &p.SKU.String
	}
	if p.Image.Valid {
		v.Image = &p.Image.String
	}
	if p.CategoryID.Valid {
		v.CategoryID = &p.CategoryID.Int64
	}
	return v
}

// ProductWithCategory is a product joined with its (optional) category.
type ProductWithCategory struct {
	Product
	Category *CategorySummary
}

// View flattens pc for JSON output.
func (pc *ProductWithCategory) View() ProductView {
	v := pc.Product.View()
	v.Category = pc.Category
	return v
}

// CategoryWithProducts is a category with every product filed under it.
type CategoryWithProducts struct {
	Category
	Products []ProductView `json:"Products"`
}

type Order struct {
	ID              int64           `db:"id" json:"id"`
	UserID          int64           `db:"user_id" json:"userId"`
	Total           decimal.Decimal `db:"total" json:"total"`
	Status          string          `db:"status" json:"status"`
	ShippingAddress string          `db:"shipping_address" json:"shipping_address"`
	CreatedAt       time.Time       `db:"created_at" json:"createdAt"`
	UpdatedAt       time.Time       `db:"updated_at" json:"updatedAt"`
}

// OrderItem is one order line. Price is the product price at purchase time.
type OrderItem struct {
	ID        int64           `db:"id" json:"id"`
	OrderID   int64           `db:"order_id" json:"orderId"`
	ProductID int64           `db:"product_id" json:"productId"`
	Quantity  int             `db:"quantity" json:"quantity"`
	Price     decimal.Decimal `db:"price" json:"price"`
}

// Subtotal is Price × Quantity.
func (i *OrderItem) Subtotal() decimal.Decimal {
	return i.Price.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// ProductSummary is the product data carried on order lines.
type ProductSummary struct {
	ID    int64           `json:"id"`
	Name  string          `json:"name"`
	SKU   *string         `json:"sku"`
	Image *string         `json:"image"`
	Price decimal.Decimal `json:"price"`
}

// OrderItemDetail is an order line with its product.
type OrderItemDetail struct {
	OrderItem
	Product *ProductSummary `json:"Product"`
}

// OrderDetail is the Order-with-Items-with-Product aggregate. User is only filled for
// admin listings.
type OrderDetail struct {
	Order
	Items []OrderItemDetail `json:"OrderItems"`
	User  *PublicUser       `json:"User,omitempty"`
}
