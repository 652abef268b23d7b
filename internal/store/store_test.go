package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"storefront-api/internal/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// openTestStore connects to TEST_DATABASE_URL and applies the schema. Tests that need a
// database are skipped when the variable is unset.
func openTestStore(t *testing.T) *Store {
	t.Helper()

	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("Integration test - requires TEST_DATABASE_URL")
	}

	store, err := NewStore(url, 5)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	require.NoError(t, store.Migrate(context.Background()))
	return store
}

func uniq(prefix string) string {
	return fmt.Sprintf("%s-%d", prefix, time.Now().UnixNano())
}

func TestBuildProductQueryCombinesFilters(t *testing.T) {
	catID := int64(3)
	query, args := buildProductQuery(ProductFilter{
		CategoryID:   &catID,
		CategorySlug: "skin-care",
		Query:        "50%_off",
		IDs:          []int64{1, 2},
	})

	assert.Contains(t, query, "p.name ILIKE '%' || $1 || '%'")
	assert.Contains(t, query, "p.category_id = $2")
	assert.Contains(t, query, "c.slug = $3")
	assert.Contains(t, query, "p.id = ANY($4)")
	assert.Equal(t, 3, strings.Count(query, " AND "))
	require.Len(t, args, 4)
	assert.Equal(t, `50\%\_off`, args[0])
	assert.Equal(t, int64(3), args[1])
}

func TestBuildProductQueryWithoutFilters(t *testing.T) {
	query, args := buildProductQuery(ProductFilter{})

	assert.NotContains(t, query, "WHERE")
	assert.Empty(t, args)
	assert.True(t, strings.HasSuffix(query, "ORDER BY p.created_at DESC, p.id DESC"))
}

func TestCreateUserDuplicateEmail(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	email := uniq("dup") + "@example.com"
	user := &models.User{Name: "A", Email: email, Password: "hash", Role: models.RoleCustomer}
	require.NoError(t, store.CreateUser(ctx, user))
	assert.NotZero(t, user.ID)

	again := &models.User{Name: "B", Email: email, Password: "hash", Role: models.RoleCustomer}
	err := store.CreateUser(ctx, again)
	assert.ErrorIs(t, err, ErrDuplicate)
	assert.Zero(t, again.ID)

	stored, err := store.GetUserByEmail(ctx, email)
	require.NoError(t, err)
	assert.Equal(t, user.ID, stored.ID)
	assert.Equal(t, "A", stored.Name)
}

func TestEnsureCategoryIsIdempotent(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	name := uniq("Skin Care")
	slug := strings.ToLower(strings.ReplaceAll(name, " ", "-"))

	first, created, err := store.EnsureCategory(ctx, &models.Category{Name: name, Slug: slug})
	require.NoError(t, err)
	assert.True(t, created)

	second, created, err := store.EnsureCategory(ctx, &models.Category{Name: name, Slug: slug})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, second.ID)
}

func TestOrderTxRollsBackOnError(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	product := &models.Product{Name: uniq("Serum"), Price: decimal.RequireFromString("12.50"), Stock: 5}
	require.NoError(t, store.CreateProduct(ctx, product))

	user := &models.User{Email: uniq("buyer") + "@example.com", Password: "hash", Role: models.RoleCustomer}
	require.NoError(t, store.CreateUser(ctx, user))

	boom := errors.New("boom")
	err := store.WithOrderTx(ctx, func(w OrderWriter) error {
		locked, err := w.LockProducts(ctx, []int64{product.ID})
		require.NoError(t, err)
		require.Contains(t, locked, product.ID)

		order := &models.Order{UserID: user.ID, Status: models.OrderStatusPending}
		require.NoError(t, w.InsertOrder(ctx, order))
		require.NoError(t, w.DecrementStock(ctx, product.ID, 3))
		return boom
	})
	assert.ErrorIs(t, err, boom)

	got, err := store.GetProductByID(ctx, product.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, got.Stock)

	orders, err := store.ListOrdersByUser(ctx, user.ID)
	require.NoError(t, err)
	assert.Empty(t, orders)
}

func TestOrderTxCommitsAggregate(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	product := &models.Product{Name: uniq("Lipstick"), Price: decimal.RequireFromString("4.99"), Stock: 10}
	require.NoError(t, store.CreateProduct(ctx, product))

	user := &models.User{Name: "Buyer", Email: uniq("buyer") + "@example.com", Password: "hash", Role: models.RoleCustomer}
	require.NoError(t, store.CreateUser(ctx, user))

	err := store.WithOrderTx(ctx, func(w OrderWriter) error {
		order := &models.Order{UserID: user.ID, Status: models.OrderStatusPending, ShippingAddress: "1 Main St"}
		if err := w.InsertOrder(ctx, order); err != nil {
			return err
		}
		if err := w.DecrementStock(ctx, product.ID, 2); err != nil {
			return err
		}
		item := &models.OrderItem{OrderID: order.ID, ProductID: product.ID, Quantity: 2, Price: product.Price}
		if err := w.InsertOrderItem(ctx, item); err != nil {
			return err
		}
		return w.UpdateOrderTotal(ctx, order.ID, item.Subtotal())
	})
	require.NoError(t, err)

	orders, err := store.ListOrdersByUser(ctx, user.ID)
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.True(t, orders[0].Total.Equal(decimal.RequireFromString("9.98")))
	require.Len(t, orders[0].Items, 1)
	require.NotNil(t, orders[0].Items[0].Product)
	assert.Equal(t, product.Name, orders[0].Items[0].Product.Name)
	assert.Nil(t, orders[0].User)

	all, err := store.ListAllOrders(ctx)
	require.NoError(t, err)
	for _, o := range all {
		if o.ID == orders[0].ID {
			require.NotNil(t, o.User)
			assert.Equal(t, user.Email, o.User.Email)
		}
	}
}

func TestDecrementStockNeverGoesNegative(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	product := &models.Product{Name: uniq("Toner"), Price: decimal.NewFromInt(3), Stock: 1}
	require.NoError(t, store.CreateProduct(ctx, product))

	err := store.WithOrderTx(ctx, func(w OrderWriter) error {
		return w.DecrementStock(ctx, product.ID, 2)
	})
	assert.ErrorIs(t, err, ErrInsufficientStock)
}

func TestConcurrentOrderTxNeverOversells(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	product := &models.Product{Name: uniq("Cleanser"), Price: decimal.RequireFromString("7.25"), Stock: 5}
	require.NoError(t, store.CreateProduct(ctx, product))

	user := &models.User{Name: "Buyer", Email: uniq("buyer") + "@example.com", Password: "hash", Role: models.RoleCustomer}
	require.NoError(t, store.CreateUser(ctx, user))

	const qty = 3
	placeOrder := func() error {
		return store.WithOrderTx(ctx, func(w OrderWriter) error {
			locked, err := w.LockProducts(ctx, []int64{product.ID})
			if err != nil {
				return err
			}
			if locked[product.ID].Stock < qty {
				return ErrInsufficientStock
			}
			order := &models.Order{UserID: user.ID, Status: models.OrderStatusPending, ShippingAddress: "1 Main St"}
			if err := w.InsertOrder(ctx, order); err != nil {
				return err
			}
			if err := w.DecrementStock(ctx, product.ID, qty); err != nil {
				return err
			}
			item := &models.OrderItem{OrderID: order.ID, ProductID: product.ID, Quantity: qty, Price: product.Price}
			if err := w.InsertOrderItem(ctx, item); err != nil {
				return err
			}
			return w.UpdateOrderTotal(ctx, order.ID, item.Subtotal())
		})
	}

	start := make(chan struct{})
	errs := make([]error, 2)
	var wg sync.WaitGroup
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			errs[i] = placeOrder()
		}(i)
	}
	close(start)
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		assert.ErrorIs(t, err, ErrInsufficientStock)
	}
	assert.Equal(t, 1, succeeded)

	got, err := store.GetProductByID(ctx, product.ID)
	require.NoError(t, err)
	assert.Equal(t, 5-qty, got.Stock)

	orders, err := store.ListOrdersByUser(ctx, user.ID)
	require.NoError(t, err)
	assert.Len(t, orders, 1)
}
