package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	"tiendapos/internal/cart"
	"tiendapos/internal/logger"
	"tiendapos/internal/pricing"
	"tiendapos/internal/service"
	"tiendapos/internal/store"
)

const (
	maxJSONBodyBytes  = 1 << 20
	maxImageBodyBytes = 8 << 20
	actorKey          = "actor"
)

type Options struct {
	AllowedOrigin  string
	RequestTimeout time.Duration
	Logger         *zap.Logger
}

type API struct {
	service        *service.Service
	auth           *AuthManager
	allowedOrigin  string
	requestTimeout time.Duration
	logger         *zap.Logger
	loginLimiter   *attemptLimiter
	router         *gin.Engine
}

func New(svc *service.Service, auth *AuthManager, opts Options) *API {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 8 * time.Second
	}
	if opts.AllowedOrigin == "" {
		opts.AllowedOrigin = "*"
	}
	a := &API{
		service:        svc,
		auth:           auth,
		allowedOrigin:  opts.AllowedOrigin,
		requestTimeout: opts.RequestTimeout,
		logger:         opts.Logger,
		loginLimiter:   newAttemptLimiter(5, time.Minute),
	}
	a.router = a.routes()
	return a
}

func (a *API) Handler() http.Handler {
	return a.router
}

func (a *API) routes() *gin.Engine {
	router := gin.New()
	_ = router.SetTrustedProxies(nil)

	router.Use(a.securityHeaders())
	router.Use(gin.Recovery())
	router.Use(logger.RequestID())
	router.Use(logger.GinMiddleware(a.logger))
	router.Use(a.withTimeout())

	router.GET("/healthz", a.handleHealth)
	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	v1 := router.Group("/api/v1")
	v1.POST("/auth/login", a.handleLogin)

	staff := v1.Group("", a.requireAuth(staffRoles...))
	{
		staff.GET("/products", a.handleListProducts)
		staff.GET("/products/:id", a.handleGetProduct)

		staff.GET("/locations", a.handleListLocations)
		staff.GET("/inventory", a.handleListInventory)
		staff.GET("/inventory/:product_id/:location_id", a.handleGetStock)

		staff.GET("/exchange-rates/:from/:to", a.handleGetExchangeRate)
		staff.GET("/exchange-rates/:from/:to/history", a.handleExchangeRateHistory)

		staff.POST("/carts", a.handleOpenCart)
		staff.GET("/carts/:id", a.handleGetCart)
		staff.DELETE("/carts/:id", a.handleDiscardCart)
		staff.POST("/carts/:id/items", a.handleAddCartItem)
		staff.PUT("/carts/:id/items/:product_id", a.handleSetCartQuantity)
		staff.DELETE("/carts/:id/items/:product_id", a.handleRemoveCartItem)
		staff.POST("/carts/:id/checkout", a.handleCheckout)

		staff.GET("/sales", a.handleListSales)
		staff.GET("/sales/:id", a.handleGetSale)
	}

	admin := v1.Group("", a.requireAuth("admin"))
	{
		admin.POST("/products", a.handleCreateProduct)
		admin.PUT("/products/:id", a.handleUpdateProduct)
		admin.DELETE("/products/:id", a.handleDeleteProduct)
		admin.POST("/products/:id/image", a.handleUploadProductImage)
		admin.POST("/products/describe", a.handleDescribeProduct)

		admin.POST("/inventory/decrement", a.handleDecrementStock)
		admin.POST("/inventory/transfer", a.handleTransferStock)
		admin.PUT("/inventory/stock", a.handleSetStock)

		admin.POST("/exchange-rates", a.handleUpdateExchangeRate)
		admin.POST("/prices/recalculate", a.handleRecalculatePrices)

		admin.GET("/reports/dashboard", a.handleDashboard)
		admin.GET("/audit-logs", a.handleAuditLogs)
	}

	return router
}

var staffRoles = []string{"cashier", "admin"}

type attemptLimiter struct {
	mu      sync.Mutex
	max     int
	window  time.Duration
	entries map[string][]time.Time
}

func newAttemptLimiter(max int, window time.Duration) *attemptLimiter {
	if max < 1 {
		max = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	return &attemptLimiter{max: max, window: window, entries: make(map[string][]time.Time)}
}

func (l *attemptLimiter) Allow(key string) bool {
	if l == nil {
		return true
	}
	now := time.Now()
	cutoff := now.Add(-l.window)

	l.mu.Lock()
	defer l.mu.Unlock()

	history := l.entries[key]
	kept := make([]time.Time, 0, len(history)+1)
	for _, ts := range history {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	if len(kept) >= l.max {
		l.entries[key] = kept
		return false
	}
	kept = append(kept, now)
	l.entries[key] = kept
	return true
}

// requireAuth accepts a bearer token or, for the admin role, the shared
// X-Admin-Secret header.
func (a *API) requireAuth(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, ok := a.auth.AdminSecretActor(c.GetHeader("X-Admin-Secret"))
		if !ok {
			authorization := strings.TrimSpace(c.GetHeader("Authorization"))
			if !strings.HasPrefix(strings.ToLower(authorization), "bearer ") {
				writeStatus(c, http.StatusUnauthorized, errors.New("missing bearer token"))
				return
			}
			parsed, err := a.auth.ParseToken(strings.TrimSpace(authorization[len("Bearer "):]))
			if err != nil {
				writeStatus(c, http.StatusUnauthorized, err)
				return
			}
			actor = parsed
		}

		if len(roles) > 0 && !isRoleAllowed(actor.Role, roles) {
			writeStatus(c, http.StatusForbidden, errors.New("forbidden role"))
			return
		}

		c.Set(actorKey, actor)
		c.Request = c.Request.WithContext(service.WithActor(c.Request.Context(), actor))
		c.Next()
	}
}

func isRoleAllowed(role string, allowed []string) bool {
	for _, allow := range allowed {
		if role == allow {
			return true
		}
	}
	return false
}

func (a *API) securityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.Writer.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
		h.Set("Cross-Origin-Opener-Policy", "same-origin")
		h.Set("Access-Control-Allow-Origin", a.allowedOrigin)
		h.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Admin-Secret, X-Request-ID, Idempotency-Key")
		h.Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
		h.Set("Vary", "Origin")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

func (a *API) withTimeout() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), a.requestTimeout)
		defer cancel()
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, store.ErrValidation),
		errors.Is(err, store.ErrInvalidLocation),
		errors.Is(err, cart.ErrEmptyCart),
		errors.Is(err, cart.ErrItemNotInCart),
		errors.Is(err, pricing.ErrUnsupportedCurrency),
		errors.Is(err, pricing.ErrInvalidRate):
		return http.StatusBadRequest
	case errors.Is(err, store.ErrNotFound), errors.Is(err, cart.ErrCartNotFound):
		return http.StatusNotFound
	case errors.Is(err, store.ErrInsufficientStock),
		errors.Is(err, cart.ErrStockExhausted),
		errors.Is(err, cart.ErrCheckoutInProgress),
		errors.Is(err, service.ErrIdempotencyConflict):
		return http.StatusConflict
	case errors.Is(err, service.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func (a *API) writeError(c *gin.Context, err error) {
	a.writeErrorWith(c, err, nil)
}

// writeErrorWith adds extra fields to the error body, such as the unchanged
// cart after a rejected add.
func (a *API) writeErrorWith(c *gin.Context, err error, extra gin.H) {
	status := statusFor(err)
	msg := err.Error()
	if status >= http.StatusInternalServerError {
		a.logger.Error("request failed",
			zap.String("path", c.FullPath()),
			zap.String("request_id", c.GetString("request_id")),
			zap.Error(err),
		)
		msg = "internal server error"
	}
	body := gin.H{"error": msg}
	for k, v := range extra {
		body[k] = v
	}
	c.AbortWithStatusJSON(status, body)
}

func writeStatus(c *gin.Context, status int, err error) {
	c.AbortWithStatusJSON(status, gin.H{"error": err.Error()})
}

func writeOK(c *gin.Context, status int, payload gin.H) {
	body := gin.H{"ok": true}
	for k, v := range payload {
		body[k] = v
	}
	c.JSON(status, body)
}

// decodeJSON reads a bounded JSON body into dest. Unknown fields are rejected.
func decodeJSON(c *gin.Context, dest any, limit int64) error {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit)
	decoder := json.NewDecoder(c.Request.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dest); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return fmt.Errorf("%w: request body exceeds %d bytes", store.ErrValidation, limit)
		}
		return fmt.Errorf("%w: %v", store.ErrValidation, err)
	}
	return nil
}

func parsePositiveLimit(raw string, fallback int, max int) int {
	limit := fallback
	trimmed := strings.TrimSpace(raw)
	if trimmed != "" {
		if parsed, err := strconv.Atoi(trimmed); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	if max > 0 && limit > max {
		return max
	}
	return limit
}

// parseTimeParam accepts RFC 3339 or a bare YYYY-MM-DD date (UTC midnight).
func parseTimeParam(raw string) (*time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return &t, nil
	}
	t, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return nil, fmt.Errorf("%w: time %q must be RFC 3339 or YYYY-MM-DD", store.ErrValidation, raw)
	}
	return &t, nil
}
