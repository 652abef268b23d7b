package service

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"storefront-api/internal/models"
	"storefront-api/internal/store"

	"github.com/shopspring/decimal"
)

// memStore is an in-memory stand-in for *store.Store. Order transactions hold mu for their
// whole duration, which gives the same serialisation as row locks.
type memStore struct {
	mu sync.Mutex

	nextID     int64
	users      map[int64]*models.User
	categories map[int64]*models.Category
	products   map[int64]*models.Product
	orders     []models.Order
	items      []models.OrderItem

	txCount        int
	failItemInsert bool
}

func newMemStore() *memStore {
	return &memStore{
		users:      map[int64]*models.User{},
		categories: map[int64]*models.Category{},
		products:   map[int64]*models.Product{},
	}
}

func (m *memStore) id() int64 {
	m.nextID++
	return m.nextID
}

func (m *memStore) addProduct(name, price string, stock int) *models.Product {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := &models.Product{ID: m.id(), Name: name, Price: decimal.RequireFromString(price), Stock: stock, CreatedAt: time.Now()}
	m.products[p.ID] = p
	return p
}

func (m *memStore) addUser(email string) *models.User {
	m.mu.Lock()
	defer m.mu.Unlock()
	u := &models.User{ID: m.id(), Name: "Buyer", Email: email, Role: models.RoleCustomer}
	m.users[u.ID] = u
	return u
}

func (m *memStore) stock(id int64) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.products[id].Stock
}

func (m *memStore) setStock(id int64, stock int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.products[id].Stock = stock
}

func (m *memStore) orderCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.orders)
}

// users

func (m *memStore) CreateUser(ctx context.Context, user *models.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Email == user.Email {
			return store.ErrDuplicate
		}
	}
	user.ID = m.id()
	cp := *user
	m.users[user.ID] = &cp
	return nil
}

func (m *memStore) EnsureUser(ctx context.Context, user *models.User) (bool, error) {
	err := m.CreateUser(ctx, user)
	if errors.Is(err, store.ErrDuplicate) {
		return false, nil
	}
	return err == nil, err
}

func (m *memStore) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Email == email {
			cp := *u
			return &cp, nil
		}
	}
	return nil, store.ErrNotFound
}

func (m *memStore) GetUserByID(ctx context.Context, id int64) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

// catalog

func (m *memStore) EnsureCategory(ctx context.Context, cat *models.Category) (*models.Category, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.categories {
		if c.Slug == cat.Slug || c.Name == cat.Name {
			cp := *c
			return &cp, false, nil
		}
	}
	cp := *cat
	cp.ID = m.id()
	cp.CreatedAt = time.Now()
	m.categories[cp.ID] = &cp
	out := cp
	return &out, true, nil
}

func (m *memStore) GetCategoryByID(ctx context.Context, id int64) (*models.Category, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.categories[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *memStore) CountCategories(ctx context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.categories), nil
}

func (m *memStore) ListCategories(ctx context.Context) ([]models.Category, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.Category, 0, len(m.categories))
	for _, c := range m.categories {
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (m *memStore) ListCategoriesWithProducts(ctx context.Context) ([]models.CategoryWithProducts, error) {
	cats, _ := m.ListCategories(ctx)
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.CategoryWithProducts, 0, len(cats))
	for _, c := range cats {
		cwp := models.CategoryWithProducts{Category: c, Products: []models.ProductView{}}
		for _, p := range m.products {
			if p.CategoryID.Valid && p.CategoryID.Int64 == c.ID {
				cwp.Products = append(cwp.Products, p.View())
			}
		}
		out = append(out, cwp)
	}
	return out, nil
}

func (m *memStore) CreateProduct(ctx context.Context, p *models.Product) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p.ID = m.id()
	p.CreatedAt = time.Now()
	cp := *p
	m.products[p.ID] = &cp
	return nil
}

func (m *memStore) GetProductByID(ctx context.Context, id int64) (*models.ProductWithCategory, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.products[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &models.ProductWithCategory{Product: *p}, nil
}

func (m *memStore) ListProducts(ctx context.Context, f store.ProductFilter) ([]models.ProductWithCategory, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.ProductWithCategory
	for _, p := range m.products {
		if f.CategoryID != nil && (!p.CategoryID.Valid || p.CategoryID.Int64 != *f.CategoryID) {
			continue
		}
		out = append(out, models.ProductWithCategory{Product: *p})
	}
	return out, nil
}

// orders

func (m *memStore) WithOrderTx(ctx context.Context, fn func(store.OrderWriter) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.txCount++

	stock := make(map[int64]int, len(m.products))
	for id, p := range m.products {
		stock[id] = p.Stock
	}
	nOrders, nItems, nextID := len(m.orders), len(m.items), m.nextID

	if err := fn(&memTx{m: m}); err != nil {
		for id, s := range stock {
			m.products[id].Stock = s
		}
		m.orders = m.orders[:nOrders]
		m.items = m.items[:nItems]
		m.nextID = nextID
		return err
	}
	return nil
}

func (m *memStore) ListOrdersByUser(ctx context.Context, userID int64) ([]models.OrderDetail, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.OrderDetail
	for _, o := range m.orders {
		if o.UserID == userID {
			out = append(out, m.detail(o))
		}
	}
	return out, nil
}

func (m *memStore) ListAllOrders(ctx context.Context) ([]models.OrderDetail, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.OrderDetail
	for _, o := range m.orders {
		out = append(out, m.detail(o))
	}
	return out, nil
}

func (m *memStore) detail(o models.Order) models.OrderDetail {
	d := models.OrderDetail{Order: o, Items: []models.OrderItemDetail{}}
	for _, it := range m.items {
		if it.OrderID == o.ID {
			d.Items = append(d.Items, models.OrderItemDetail{OrderItem: it})
		}
	}
	return d
}

// memTx runs with memStore.mu held.
type memTx struct {
	m *memStore
}

func (t *memTx) LockProducts(ctx context.Context, ids []int64) (map[int64]*models.Product, error) {
	out := make(map[int64]*models.Product, len(ids))
	for _, id := range ids {
		if p, ok := t.m.products[id]; ok {
			cp := *p
			out[id] = &cp
		}
	}
	return out, nil
}

func (t *memTx) DecrementStock(ctx context.Context, productID int64, qty int) error {
	p, ok := t.m.products[productID]
	if !ok || p.Stock < qty {
		return store.ErrInsufficientStock
	}
	p.Stock -= qty
	return nil
}

func (t *memTx) InsertOrder(ctx context.Context, order *models.Order) error {
	order.ID = t.m.id()
	order.CreatedAt = time.Now()
	t.m.orders = append(t.m.orders, *order)
	return nil
}

func (t *memTx) InsertOrderItem(ctx context.Context, item *models.OrderItem) error {
	if t.m.failItemInsert {
		return errors.New("connection reset")
	}
	item.ID = t.m.id()
	t.m.items = append(t.m.items, *item)
	return nil
}

func (t *memTx) UpdateOrderTotal(ctx context.Context, orderID int64, total decimal.Decimal) error {
	for i := range t.m.orders {
		if t.m.orders[i].ID == orderID {
			t.m.orders[i].Total = total
			return nil
		}
	}
	return store.ErrNotFound
}

// recordingSink collects published events and optionally fails.
type recordingSink struct {
	mu     sync.Mutex
	events []*models.OrderPlacedEvent
	err    error
}

func (r *recordingSink) PublishOrderPlaced(ctx context.Context, event *models.OrderPlacedEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return r.err
}

func (r *recordingSink) published() []*models.OrderPlacedEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*models.OrderPlacedEvent(nil), r.events...)
}

// memIdempotency is a map-backed IdempotencyStore.
type memIdempotency struct {
	mu   sync.Mutex
	data map[string][]byte
}

func (m *memIdempotency) Lookup(ctx context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *memIdempotency) Reserve(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.data[key]; ok {
		return false, nil
	}
	if m.data == nil {
		m.data = map[string][]byte{}
	}
	m.data[key] = value
	return true, nil
}

func (m *memIdempotency) Remember(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.data == nil {
		m.data = map[string][]byte{}
	}
	m.data[key] = value
	return nil
}

func (m *memIdempotency) Release(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

// memCache is a CatalogCache that counts invalidations.
type memCache struct {
	mu          sync.Mutex
	catalog     []models.CategoryWithProducts
	ok          bool
	invalidated int
}

func (c *memCache) GetCatalog(ctx context.Context) ([]models.CategoryWithProducts, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.catalog, c.ok, nil
}

func (c *memCache) SetCatalog(ctx context.Context, catalog []models.CategoryWithProducts) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.catalog, c.ok = catalog, true
	return nil
}

func (c *memCache) InvalidateCatalog(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.catalog, c.ok = nil, false
	c.invalidated++
	return nil
}
