package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"storefront-api/internal/models"

	"github.com/lib/pq"
)

const categoryColumns = "id, name, slug, description, created_at, updated_at"

const productColumns = `p.id, p.name, p.description, p.price, p.stock, p.sku, p.image,
	p.category_id, p.created_at, p.updated_at`

// productRow is a product LEFT JOINed with its category.
type productRow struct {
	models.Product
	CatID   sql.NullInt64  `db:"cat_id"`
	CatName sql.NullString `db:"cat_name"`
	CatSlug sql.NullString `db:"cat_slug"`
}

func (r *productRow) aggregate() models.ProductWithCategory {
	pc := models.ProductWithCategory{Product: r.Product}
	if r.CatID.Valid {
		pc.Category = &models.CategorySummary{ID: r.CatID.Int64, Name: r.CatName.String, Slug: r.CatSlug.String}
	}
	return pc
}

// ProductFilter narrows ListProducts. Every set field must match (AND).
type ProductFilter struct {
	CategoryID   *int64
	CategorySlug string
	Query        string
	IDs          []int64
}

// EnsureCategory inserts the category unless its slug or name is taken, then returns the
// stored row. Concurrent calls for the same slug converge on one record.
func (s *Store) EnsureCategory(ctx context.Context, cat *models.Category) (*models.Category, bool, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO categories (name, slug, description)
		VALUES ($1, $2, $3)
		ON CONFLICT DO NOTHING`,
		cat.Name, cat.Slug, cat.Description)
	if err != nil {
		return nil, false, fmt.Errorf("insert category: %w", err)
	}
	inserted, _ := res.RowsAffected()

	stored, err := s.GetCategoryBySlug(ctx, cat.Slug)
	if errors.Is(err, ErrNotFound) {
		// The conflict was on name with a different slug.
		stored, err = s.getCategoryByName(ctx, cat.Name)
	}
	if err != nil {
		return nil, false, err
	}
	return stored, inserted > 0, nil
}

// GetCategoryByID retrieves a category by ID
func (s *Store) GetCategoryByID(ctx context.Context, id int64) (*models.Category, error) {
	return s.getCategory(ctx, "id = $1", id)
}

// GetCategoryBySlug retrieves a category by slug
func (s *Store) GetCategoryBySlug(ctx context.Context, slug string) (*models.Category, error) {
	return s.getCategory(ctx, "slug = $1", slug)
}

func (s *Store) getCategoryByName(ctx context.Context, name string) (*models.Category, error) {
	return s.getCategory(ctx, "name = $1", name)
}

func (s *Store) getCategory(ctx context.Context, where string, arg any) (*models.Category, error) {
	var cat models.Category
	err := s.db.GetContext(ctx, &cat, "SELECT "+categoryColumns+" FROM categories WHERE "+where, arg)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &cat, nil
}

// ListCategories returns all categories, newest first.
func (s *Store) ListCategories(ctx context.Context) ([]models.Category, error) {
	categories := []models.Category{}
	err := s.db.SelectContext(ctx, &categories,
		"SELECT "+categoryColumns+" FROM categories ORDER BY created_at DESC, id DESC")
	return categories, err
}

// ListCategoriesWithProducts returns every category with its products, newest first.
func (s *Store) ListCategoriesWithProducts(ctx context.Context) ([]models.CategoryWithProducts, error) {
	categories, err := s.ListCategories(ctx)
	if err != nil {
		return nil, err
	}

	var products []models.Product
	err = s.db.SelectContext(ctx, &products, `
		SELECT `+productColumns+`
		FROM products p
		WHERE p.category_id IS NOT NULL
		ORDER BY p.created_at DESC, p.id DESC`)
	if err != nil {
		return nil, fmt.Errorf("list products by category: %w", err)
	}

	byCategory := make(map[int64][]models.ProductView, len(categories))
	for i := range products {
		cid := products[i].CategoryID.Int64
		byCategory[cid] = append(byCategory[cid], products[i].View())
	}

	out := make([]models.CategoryWithProducts, 0, len(categories))
	for _, cat := range categories {
		items := byCategory[cat.ID]
		if items == nil {
			items = []models.ProductView{}
		}
		out = append(out, models.CategoryWithProducts{Category: cat, Products: items})
	}
	return out, nil
}

// CountCategories is used by seeding to detect an empty catalog.
func (s *Store) CountCategories(ctx context.Context) (int, error) {
	var n int
	err := s.db.GetContext(ctx, &n, "SELECT COUNT(*) FROM categories")
	return n, err
}

// CreateProduct creates a new product
func (s *Store) CreateProduct(ctx context.Context, p *models.Product) error {
	query := `
		INSERT INTO products (name, description, price, stock, sku, image, category_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at, updated_at`

	return s.db.QueryRowxContext(ctx, query,
		p.Name, p.Description, p.Price, p.Stock, p.SKU, p.Image, p.CategoryID).
		Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt)
}

// GetProductByID retrieves a product with its category.
func (s *Store) GetProductByID(ctx context.Context, id int64) (*models.ProductWithCategory, error) {
	var row productRow
	err := s.db.GetContext(ctx, &row, `
		SELECT `+productColumns+`, c.id AS cat_id, c.name AS cat_name, c.slug AS cat_slug
		FROM products p
		LEFT JOIN categories c ON c.id = p.category_id
		WHERE p.id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	pc := row.aggregate()
	return &pc, nil
}

// ListProducts returns products matching every filter set in f, newest first.
func (s *Store) ListProducts(ctx context.Context, f ProductFilter) ([]models.ProductWithCategory, error) {
	query, args := buildProductQuery(f)

	var rows []productRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}

	out := make([]models.ProductWithCategory, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].aggregate())
	}
	return out, nil
}

func buildProductQuery(f ProductFilter) (string, []any) {
	var (
		conds []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if f.Query != "" {
		conds = append(conds, "p.name ILIKE '%' || "+arg(escapeLike(f.Query))+" || '%'")
	}
	if f.CategoryID != nil {
		conds = append(conds, "p.category_id = "+arg(*f.CategoryID))
	}
	if f.CategorySlug != "" {
		conds = append(conds, "c.slug = "+arg(f.CategorySlug))
	}
	if f.IDs != nil {
		conds = append(conds, "p.id = ANY("+arg(pq.Array(f.IDs))+")")
	}

	var b strings.Builder
	b.WriteString("SELECT " + productColumns + ", c.id AS cat_id, c.name AS cat_name, c.slug AS cat_slug\n")
	b.WriteString("FROM products p\nLEFT JOIN categories c ON c.id = p.category_id\n")
	if len(conds) > 0 {
		b.WriteString("WHERE " + strings.Join(conds, " AND ") + "\n")
	}
	b.WriteString("ORDER BY p.created_at DESC, p.id DESC")
	return b.String(), args
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}
