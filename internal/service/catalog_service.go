package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"storefront-api/internal/apperr"
	"storefront-api/internal/models"
	"storefront-api/internal/store"
	"storefront-api/internal/util"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// CatalogStore is the persistence CatalogService needs.
type CatalogStore interface {
	EnsureCategory(ctx context.Context, cat *models.Category) (*models.Category, bool, error)
	GetCategoryByID(ctx context.Context, id int64) (*models.Category, error)
	ListCategories(ctx context.Context) ([]models.Category, error)
	ListCategoriesWithProducts(ctx context.Context) ([]models.CategoryWithProducts, error)
	CreateProduct(ctx context.Context, p *models.Product) error
	GetProductByID(ctx context.Context, id int64) (*models.ProductWithCategory, error)
	ListProducts(ctx context.Context, f store.ProductFilter) ([]models.ProductWithCategory, error)
}

// CatalogCache holds the categories-with-products listing.
type CatalogCache interface {
	GetCatalog(ctx context.Context) ([]models.CategoryWithProducts, bool, error)
	SetCatalog(ctx context.Context, catalog []models.CategoryWithProducts) error
	InvalidateCatalog(ctx context.Context) error
}

// CatalogService handles categories and products
type CatalogService struct {
	store  CatalogStore
	cache  CatalogCache
	logger *zap.Logger
}

// NewCatalogService creates a new catalog service. cache may be nil.
func NewCatalogService(store CatalogStore, cache CatalogCache) *CatalogService {
	return &CatalogService{
		store:  store,
		cache:  cache,
		logger: util.GetLogger(),
	}
}

type CreateCategoryRequest struct {
	Name        string `json:"name" validate:"required,max=120"`
	Description string `json:"description" validate:"max=2000"`
}

type CreateProductRequest struct {
	Name        string           `json:"name" validate:"required,max=200"`
	Description string           `json:"description"`
	Price       *decimal.Decimal `json:"price" validate:"required"`
	Stock       *int             `json:"stock" validate:"omitempty,gte=0"`
	SKU         string           `json:"sku" validate:"max=64"`
	Image       string           `json:"image" validate:"max=2048"`
	CategoryID  *int64           `json:"categoryId"`
}

var categoryMessages = fieldMessages{
	"Name.required": "Category name required",
	"Name":          "Category name is too long",
	"Description":   "Description is too long",
}

var productMessages = fieldMessages{
	"Name.required":  "Name and price required",
	"Price.required": "Name and price required",
	"Name":           "Name is too long",
	"Stock":          "Stock must be zero or more",
	"SKU":            "SKU is too long",
	"Image":          "Image URL is too long",
}

// CreateCategory returns the category for the request's slug, creating it when absent.
func (s *CatalogService) CreateCategory(ctx context.Context, req *CreateCategoryRequest) (*models.Category, error) {
	ctx, span := util.StartSpan(ctx, "CatalogService.CreateCategory")
	defer span.End()

	req.Name = strings.TrimSpace(req.Name)
	if err := check(req, categoryMessages, "Invalid category"); err != nil {
		return nil, err
	}

	slug := util.Slugify(req.Name)
	if slug == "" {
		return nil, apperr.Validation("Category name must contain letters or digits")
	}

	cat, created, err := s.store.EnsureCategory(ctx, &models.Category{
		Name:        req.Name,
		Slug:        slug,
		Description: strings.TrimSpace(req.Description),
	})
	if err != nil {
		return nil, fmt.Errorf("ensure category: %w", err)
	}

	if created {
		s.logger.Info("Category created", zap.Int64("category_id", cat.ID), zap.String("slug", cat.Slug))
		s.invalidate(ctx)
	}
	return cat, nil
}

// ListCategories returns all categories, newest first.
func (s *CatalogService) ListCategories(ctx context.Context) ([]models.Category, error) {
	return s.store.ListCategories(ctx)
}

// ListCategoriesWithProducts serves from the cache when one is configured.
func (s *CatalogService) ListCategoriesWithProducts(ctx context.Context) ([]models.CategoryWithProducts, error) {
	ctx, span := util.StartSpan(ctx, "CatalogService.ListCategoriesWithProducts")
	defer span.End()

	if s.cache != nil {
		catalog, ok, err := s.cache.GetCatalog(ctx)
		if err != nil {
			s.logger.Warn("Catalog cache read failed", zap.Error(err))
		} else if ok {
			util.CatalogCacheTotal.WithLabelValues("hit").Inc()
			return catalog, nil
		}
		util.CatalogCacheTotal.WithLabelValues("miss").Inc()
	}

	catalog, err := s.store.ListCategoriesWithProducts(ctx)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		if err := s.cache.SetCatalog(ctx, catalog); err != nil {
			s.logger.Warn("Catalog cache write failed", zap.Error(err))
		}
	}
	return catalog, nil
}

// CreateProduct validates and stores a product. A given categoryId must exist.
func (s *CatalogService) CreateProduct(ctx context.Context, req *CreateProductRequest) (*models.ProductView, error) {
	ctx, span := util.StartSpan(ctx, "CatalogService.CreateProduct")
	defer span.End()

	req.Name = strings.TrimSpace(req.Name)
	if err := check(req, productMessages, "Invalid product"); err != nil {
		return nil, err
	}
	if req.Price.IsNegative() {
		return nil, apperr.Validation("Price must be zero or more")
	}

	p := &models.Product{
		Name:        req.Name,
		Description: req.Description,
		Price:       req.Price.Round(2),
	}
	if req.Stock != nil {
		p.Stock = *req.Stock
	}
	if sku := strings.TrimSpace(req.SKU); sku != "" {
		p.SKU.String, p.SKU.Valid = sku, true
	}
	if img := strings.TrimSpace(req.Image); img != "" {
		p.Image.String, p.Image.Valid = img, true
	}

	if req.CategoryID != nil && *req.CategoryID != 0 {
		_, err := s.store.GetCategoryByID(ctx, *req.CategoryID)
		if errors.Is(err, store.ErrNotFound) {
			return nil, apperr.Validation("Invalid categoryId")
		}
		if err != nil {
			return nil, fmt.Errorf("lookup category: %w", err)
		}
		p.CategoryID.Int64, p.CategoryID.Valid = *req.CategoryID, true
	}

	if err := s.store.CreateProduct(ctx, p); err != nil {
		return nil, fmt.Errorf("create product: %w", err)
	}

	s.logger.Info("Product created", zap.Int64("product_id", p.ID))
	s.invalidate(ctx)

	view := p.View()
	return &view, nil
}

// GetProduct returns one product with its category.
func (s *CatalogService) GetProduct(ctx context.Context, id int64) (*models.ProductView, error) {
	p, err := s.store.GetProductByID(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.NotFound("Product not found")
	}
	if err != nil {
		return nil, err
	}
	view := p.View()
	return &view, nil
}

// ListProducts returns products matching every filter in f.
func (s *CatalogService) ListProducts(ctx context.Context, f store.ProductFilter) ([]models.ProductView, error) {
	ctx, span := util.StartSpan(ctx, "CatalogService.ListProducts")
	defer span.End()

	if f.IDs != nil && len(f.IDs) == 0 {
		return []models.ProductView{}, nil
	}

	products, err := s.store.ListProducts(ctx, f)
	if err != nil {
		return nil, err
	}

	views := make([]models.ProductView, 0, len(products))
	for i := range products {
		views = append(views, products[i].View())
	}
	return views, nil
}

func (s *CatalogService) invalidate(ctx context.Context) {
	if s.cache == nil {
		return
	}
	if err := s.cache.InvalidateCatalog(ctx); err != nil {
		s.logger.Warn("Catalog cache invalidation failed", zap.Error(err))
	}
}
