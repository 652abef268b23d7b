package api

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"storefront-api/internal/apperr"
	"storefront-api/internal/auth"
	"storefront-api/internal/models"
	"storefront-api/internal/service"
	"storefront-api/internal/store"
	"storefront-api/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// AuthService registers users and issues tokens.
type AuthService interface {
	Register(ctx context.Context, req *service.RegisterRequest) (*service.RegisterResponse, error)
	Login(ctx context.Context, req *service.LoginRequest) (*service.LoginResponse, error)
}

// CatalogService manages categories and products.
type CatalogService interface {
	CreateCategory(ctx context.Context, req *service.CreateCategoryRequest) (*models.Category, error)
	ListCategories(ctx context.Context) ([]models.Category, error)
	ListCategoriesWithProducts(ctx context.Context) ([]models.CategoryWithProducts, error)
	CreateProduct(ctx context.Context, req *service.CreateProductRequest) (*models.ProductView, error)
	GetProduct(ctx context.Context, id int64) (*models.ProductView, error)
	ListProducts(ctx context.Context, f store.ProductFilter) ([]models.ProductView, error)
}

// OrderService places and lists orders.
type OrderService interface {
	PlaceOrder(ctx context.Context, userID int64, req *service.PlaceOrderRequest, idempotencyKey string) (*service.PlaceOrderResponse, error)
	ListOwnOrders(ctx context.Context, userID int64) ([]models.OrderDetail, error)
	ListAllOrders(ctx context.Context) ([]models.OrderDetail, error)
}

// Pinger is a dependency checked by the readiness probe.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps wires a Handler.
type Deps struct {
	Auth        AuthService
	Catalog     CatalogService
	Orders      OrderService
	Tokens      TokenParser
	Policy      *auth.Policy
	Checks      map[string]Pinger
	CORSOrigins []string
	Production  bool
}

// Handler contains HTTP handlers
type Handler struct {
	auth        AuthService
	catalog     CatalogService
	orders      OrderService
	tokens      TokenParser
	policy      *auth.Policy
	checks      map[string]Pinger
	corsOrigins []string
	production  bool
	logger      *zap.Logger
}

// NewHandler creates a new HTTP handler
func NewHandler(d Deps) *Handler {
	policy := d.Policy
	if policy == nil {
		policy = auth.DefaultPolicy()
	}
	return &Handler{
		auth:        d.Auth,
		catalog:     d.Catalog,
		orders:      d.Orders,
		tokens:      d.Tokens,
		policy:      policy,
		checks:      d.Checks,
		corsOrigins: d.CORSOrigins,
		production:  d.Production,
		logger:      util.GetLogger(),
	}
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.Use(requestID())
	router.Use(recovery(h.logger))
	router.Use(prometheusMiddleware())
	router.Use(util.GinLogger(h.logger))
	router.Use(secureHeaders(h.production))
	router.Use(cors(h.corsOrigins))

	router.NoRoute(func(c *gin.Context) {
		abortWithMessage(c, http.StatusNotFound, "Not found")
	})

	router.GET("/", h.root)
	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	authn := authenticate(h.tokens)

	api := router.Group("/api")
	{
		a := api.Group("/auth")
		a.POST("/register", h.register)
		a.POST("/login", h.login)

		categories := api.Group("/categories")
		categories.GET("", h.listCategories)
		categories.GET("/with-products", h.listCategoriesWithProducts)
		categories.POST("", authn, require(h.policy, auth.ResourceCategory, auth.ActionCreate), h.createCategory)

		products := api.Group("/products")
		products.GET("", h.listProducts)
		products.GET("/:id", h.getProduct)
		products.POST("", authn, require(h.policy, auth.ResourceProduct, auth.ActionCreate), h.createProduct)

		orders := api.Group("/orders", authn)
		orders.POST("", require(h.policy, auth.ResourceOrder, auth.ActionCreate), h.placeOrder)
		orders.GET("", require(h.policy, auth.ResourceOrder, auth.ActionListOwn), h.listOwnOrders)
		orders.GET("/admin", require(h.policy, auth.ResourceOrder, auth.ActionListAll), h.listAllOrders)
	}
}

func (h *Handler) root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"ok":   true,
		"time": time.Now().UTC(),
	})
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// readinessCheck pings every dependency
func (h *Handler) readinessCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	results := make(map[string]string, len(h.checks))
	for name, p := range h.checks {
		if err := p.Ping(ctx); err != nil {
			h.logger.Warn("Readiness check failed", zap.String("dependency", name), zap.Error(err))
			results[name] = "unavailable"
			status = http.StatusServiceUnavailable
			continue
		}
		results[name] = "ok"
	}

	state := "ready"
	if status != http.StatusOK {
		state = "not ready"
	}
	c.JSON(status, gin.H{
		"status": state,
		"checks": results,
		"time":   time.Now().Unix(),
	})
}

// bindJSON decodes the body, answering 400 on malformed JSON.
func bindJSON(c *gin.Context, dst any) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		abortWithMessage(c, http.StatusBadRequest, "Invalid request body")
		return false
	}
	return true
}

func (h *Handler) register(c *gin.Context) {
	var req service.RegisterRequest
	if !bindJSON(c, &req) {
		return
	}

	resp, err := h.auth.Register(c.Request.Context(), &req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) login(c *gin.Context) {
	var req service.LoginRequest
	if !bindJSON(c, &req) {
		return
	}

	resp, err := h.auth.Login(c.Request.Context(), &req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) listCategories(c *gin.Context) {
	cats, err := h.catalog.ListCategories(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, cats)
}

func (h *Handler) listCategoriesWithProducts(c *gin.Context) {
	cats, err := h.catalog.ListCategoriesWithProducts(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, cats)
}

func (h *Handler) createCategory(c *gin.Context) {
	var req service.CreateCategoryRequest
	if !bindJSON(c, &req) {
		return
	}

	cat, err := h.catalog.CreateCategory(c.Request.Context(), &req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, cat)
}

func (h *Handler) listProducts(c *gin.Context) {
	filter, err := productFilterFromQuery(c)
	if err != nil {
		respondError(c, err)
		return
	}

	products, err := h.catalog.ListProducts(c.Request.Context(), filter)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, products)
}

// productFilterFromQuery reads categoryId, categorySlug, q and ids. An empty ids value is
// ignored; a list of only separators matches nothing.
func productFilterFromQuery(c *gin.Context) (store.ProductFilter, error) {
	var f store.ProductFilter

	if raw := strings.TrimSpace(c.Query("categoryId")); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id < 1 {
			return f, apperr.Validation("Invalid categoryId")
		}
		f.CategoryID = &id
	}

	f.CategorySlug = strings.TrimSpace(c.Query("categorySlug"))
	f.Query = strings.TrimSpace(c.Query("q"))

	if raw := strings.TrimSpace(c.Query("ids")); raw != "" {
		f.IDs = []int64{}
		for _, part := range strings.Split(raw, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			id, err := strconv.ParseInt(part, 10, 64)
			if err != nil || id < 1 {
				return f, apperr.Validation("Invalid ids")
			}
			f.IDs = append(f.IDs, id)
		}
	}

	return f, nil
}

func (h *Handler) getProduct(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id < 1 {
		abortWithMessage(c, http.StatusBadRequest, "Invalid product id")
		return
	}

	product, err := h.catalog.GetProduct(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, product)
}

func (h *Handler) createProduct(c *gin.Context) {
	var req service.CreateProductRequest
	if !bindJSON(c, &req) {
		return
	}

	product, err := h.catalog.CreateProduct(c.Request.Context(), &req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, product)
}

// placeOrder handles order placement. An Idempotency-Key header makes retries replay the
// first response.
func (h *Handler) placeOrder(c *gin.Context) {
	principal, _ := principalFrom(c)

	var req service.PlaceOrderRequest
	if !bindJSON(c, &req) {
		return
	}

	resp, err := h.orders.PlaceOrder(c.Request.Context(), principal.UserID, &req, c.GetHeader("Idempotency-Key"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) listOwnOrders(c *gin.Context) {
	principal, _ := principalFrom(c)

	orders, err := h.orders.ListOwnOrders(c.Request.Context(), principal.UserID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, orders)
}

func (h *Handler) listAllOrders(c *gin.Context) {
	orders, err := h.orders.ListAllOrders(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, orders)
}
