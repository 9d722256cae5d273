package httpapi

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"tiendapos/internal/domain"
	"tiendapos/internal/store"
)

func (a *API) handleHealth(c *gin.Context) {
	writeOK(c, http.StatusOK, gin.H{"at": time.Now().UTC().Format(time.RFC3339)})
}

func (a *API) handleLogin(c *gin.Context) {
	if !a.loginLimiter.Allow(c.ClientIP()) {
		writeStatus(c, http.StatusTooManyRequests, errors.New("too many login attempts"))
		return
	}

	var req domain.LoginRequest
	if err := decodeJSON(c, &req, maxJSONBodyBytes); err != nil {
		a.writeError(c, err)
		return
	}
	if strings.TrimSpace(req.Username) == "" || req.Password == "" {
		a.writeError(c, fmt.Errorf("%w: username and password are required", store.ErrValidation))
		return
	}

	resp, err := a.auth.Login(c.Request.Context(), req)
	if err != nil {
		writeStatus(c, http.StatusUnauthorized, err)
		return
	}
	writeOK(c, http.StatusOK, gin.H{
		"access_token": resp.AccessToken,
		"role":         resp.Role,
		"expires_at":   resp.ExpiresAt,
	})
}

func (a *API) handleListProducts(c *gin.Context) {
	products, err := a.service.ListProducts(c.Request.Context(), domain.ProductFilter{
		Category: c.Query("category"),
		Query:    c.Query("q"),
		Limit:    parsePositiveLimit(c.Query("limit"), 0, 1000),
	})
	if err != nil {
		a.writeError(c, err)
		return
	}
	writeOK(c, http.StatusOK, gin.H{"products": products})
}

func (a *API) handleGetProduct(c *gin.Context) {
	product, err := a.service.GetProduct(c.Request.Context(), c.Param("id"))
	if err != nil {
		a.writeError(c, err)
		return
	}
	writeOK(c, http.StatusOK, gin.H{"product": product})
}

func (a *API) handleCreateProduct(c *gin.Context) {
	var req domain.ProductCreateRequest
	if err := decodeJSON(c, &req, maxJSONBodyBytes); err != nil {
		a.writeError(c, err)
		return
	}
	result, err := a.service.CreateProduct(c.Request.Context(), req)
	if err != nil {
		a.writeError(c, err)
		return
	}
	writeOK(c, http.StatusCreated, gin.H{"product": result.Product, "warnings": result.Warnings})
}

func (a *API) handleUpdateProduct(c *gin.Context) {
	var req domain.ProductUpdateRequest
	if err := decodeJSON(c, &req, maxImageBodyBytes); err != nil {
		a.writeError(c, err)
		return
	}
	result, err := a.service.UpdateProduct(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		a.writeError(c, err)
		return
	}
	writeOK(c, http.StatusOK, gin.H{"product": result.Product, "warnings": result.Warnings})
}

func (a *API) handleUploadProductImage(c *gin.Context) {
	var req domain.ImageUploadRequest
	if err := decodeJSON(c, &req, maxImageBodyBytes); err != nil {
		a.writeError(c, err)
		return
	}
	result, err := a.service.UploadProductImage(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		a.writeError(c, err)
		return
	}
	writeOK(c, http.StatusOK, gin.H{
		"product":  result.Product,
		"imageurl": result.Product.ImageURL,
		"warnings": result.Warnings,
	})
}

func (a *API) handleDescribeProduct(c *gin.Context) {
	var req domain.DescriptionRequest
	if err := decodeJSON(c, &req, maxJSONBodyBytes); err != nil {
		a.writeError(c, err)
		return
	}
	result, err := a.service.GenerateProductDescription(c.Request.Context(), req)
	if err != nil {
		a.writeError(c, err)
		return
	}
	writeOK(c, http.StatusOK, gin.H{
		"description": result.Description,
		"generated":   result.Generated,
	})
}

func (a *API) handleDeleteProduct(c *gin.Context) {
	result, err := a.service.DeleteProduct(c.Request.Context(), c.Param("id"))
	if err != nil {
		a.writeError(c, err)
		return
	}
	writeOK(c, http.StatusOK, gin.H{"deleted": result.Product.ID, "warnings": result.Warnings})
}

func (a *API) handleListLocations(c *gin.Context) {
	locations, err := a.service.ListLocations(c.Request.Context())
	if err != nil {
		a.writeError(c, err)
		return
	}
	writeOK(c, http.StatusOK, gin.H{"locations": locations})
}

func (a *API) handleListInventory(c *gin.Context) {
	items, err := a.service.ListInventory(c.Request.Context(), domain.InventoryFilter{
		ProductID:  c.Query("product_id"),
		LocationID: c.Query("location_id"),
	})
	if err != nil {
		a.writeError(c, err)
		return
	}
	writeOK(c, http.StatusOK, gin.H{"inventory": items})
}

func (a *API) handleGetStock(c *gin.Context) {
	level, err := a.service.GetStock(c.Request.Context(), c.Param("product_id"), c.Param("location_id"))
	if err != nil {
		a.writeError(c, err)
		return
	}
	writeOK(c, http.StatusOK, gin.H{"stock": level})
}

func (a *API) handleDecrementStock(c *gin.Context) {
	var req domain.StockDecrementRequest
	if err := decodeJSON(c, &req, maxJSONBodyBytes); err != nil {
		a.writeError(c, err)
		return
	}
	level, err := a.service.DecrementStock(c.Request.Context(), req)
	if err != nil {
		a.writeError(c, err)
		return
	}
	writeOK(c, http.StatusOK, gin.H{"stock": level})
}

func (a *API) handleTransferStock(c *gin.Context) {
	var req domain.StockTransferRequest
	if err := decodeJSON(c, &req, maxJSONBodyBytes); err != nil {
		a.writeError(c, err)
		return
	}
	result, err := a.service.TransferStock(c.Request.Context(), req)
	if err != nil {
		a.writeError(c, err)
		return
	}
	writeOK(c, http.StatusOK, gin.H{"transfer": result})
}

func (a *API) handleSetStock(c *gin.Context) {
	var req domain.StockSetRequest
	if err := decodeJSON(c, &req, maxJSONBodyBytes); err != nil {
		a.writeError(c, err)
		return
	}
	level, err := a.service.SetStock(c.Request.Context(), req)
	if err != nil {
		a.writeError(c, err)
		return
	}
	writeOK(c, http.StatusOK, gin.H{"stock": level})
}

func (a *API) handleGetExchangeRate(c *gin.Context) {
	rate, err := a.service.GetExchangeRate(c.Request.Context(), c.Param("from"), c.Param("to"))
	if err != nil {
		a.writeError(c, err)
		return
	}
	writeOK(c, http.StatusOK, gin.H{"rate": rate})
}

func (a *API) handleExchangeRateHistory(c *gin.Context) {
	history, err := a.service.ListExchangeRateHistory(c.Request.Context(), c.Param("from"), c.Param("to"),
		parsePositiveLimit(c.Query("limit"), 50, 500))
	if err != nil {
		a.writeError(c, err)
		return
	}
	writeOK(c, http.StatusOK, gin.H{"history": history})
}

func (a *API) handleUpdateExchangeRate(c *gin.Context) {
	var req domain.ExchangeRateUpdateRequest
	if err := decodeJSON(c, &req, maxJSONBodyBytes); err != nil {
		a.writeError(c, err)
		return
	}
	resp, err := a.service.UpdateExchangeRate(c.Request.Context(), req)
	if err != nil {
		a.writeError(c, err)
		return
	}
	writeOK(c, http.StatusOK, gin.H{
		"rate":     resp.Rate,
		"change":   resp.Change,
		"recalc":   resp.Recalc,
		"warnings": resp.Warnings,
	})
}

func (a *API) handleRecalculatePrices(c *gin.Context) {
	var req domain.RecalcRequest
	if err := decodeJSON(c, &req, maxJSONBodyBytes); err != nil {
		a.writeError(c, err)
		return
	}
	result, err := a.service.RecalcAllPrices(c.Request.Context(), req)
	if err != nil {
		a.writeError(c, err)
		return
	}
	writeOK(c, http.StatusOK, gin.H{"recalc": result})
}

type openCartRequest struct {
	LocationID string `json:"location_id"`
}

type addCartItemRequest struct {
	ProductID string `json:"product_id"`
}

type setQuantityRequest struct {
	Quantity int `json:"quantity"`
}

func (a *API) handleOpenCart(c *gin.Context) {
	var req openCartRequest
	if c.Request.ContentLength != 0 {
		if err := decodeJSON(c, &req, maxJSONBodyBytes); err != nil {
			a.writeError(c, err)
			return
		}
	}
	view, err := a.service.OpenCart(c.Request.Context(), req.LocationID)
	if err != nil {
		a.writeError(c, err)
		return
	}
	writeOK(c, http.StatusCreated, gin.H{"cart": view})
}

func (a *API) handleGetCart(c *gin.Context) {
	view, err := a.service.GetCart(c.Request.Context(), c.Param("id"))
	if err != nil {
		a.writeError(c, err)
		return
	}
	writeOK(c, http.StatusOK, gin.H{"cart": view})
}

func (a *API) handleDiscardCart(c *gin.Context) {
	if err := a.service.DiscardCart(c.Request.Context(), c.Param("id")); err != nil {
		a.writeError(c, err)
		return
	}
	writeOK(c, http.StatusOK, gin.H{"discarded": c.Param("id")})
}

func (a *API) handleAddCartItem(c *gin.Context) {
	var req addCartItemRequest
	if err := decodeJSON(c, &req, maxJSONBodyBytes); err != nil {
		a.writeError(c, err)
		return
	}
	view, err := a.service.AddCartItem(c.Request.Context(), c.Param("id"), req.ProductID)
	if err != nil {
		if view.ID != "" {
			a.writeErrorWith(c, err, gin.H{"cart": view})
			return
		}
		a.writeError(c, err)
		return
	}
	writeOK(c, http.StatusOK, gin.H{"cart": view})
}

func (a *API) handleSetCartQuantity(c *gin.Context) {
	var req setQuantityRequest
	if err := decodeJSON(c, &req, maxJSONBodyBytes); err != nil {
		a.writeError(c, err)
		return
	}
	view, err := a.service.SetCartQuantity(c.Request.Context(), c.Param("id"), c.Param("product_id"), req.Quantity)
	if err != nil {
		if view.ID != "" {
			a.writeErrorWith(c, err, gin.H{"cart": view})
			return
		}
		a.writeError(c, err)
		return
	}
	writeOK(c, http.StatusOK, gin.H{"cart": view})
}

func (a *API) handleRemoveCartItem(c *gin.Context) {
	view, err := a.service.RemoveCartItem(c.Request.Context(), c.Param("id"), c.Param("product_id"))
	if err != nil {
		a.writeError(c, err)
		return
	}
	writeOK(c, http.StatusOK, gin.H{"cart": view})
}

// handleCheckout takes the idempotency key from the body or, failing that,
// the Idempotency-Key header.
func (a *API) handleCheckout(c *gin.Context) {
	var req domain.CheckoutRequest
	if c.Request.ContentLength != 0 {
		if err := decodeJSON(c, &req, maxJSONBodyBytes); err != nil {
			a.writeError(c, err)
			return
		}
	}
	if strings.TrimSpace(req.IdempotencyKey) == "" {
		req.IdempotencyKey = c.GetHeader("Idempotency-Key")
	}

	resp, err := a.service.Checkout(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		a.writeError(c, err)
		return
	}
	status := http.StatusCreated
	if resp.Duplicate {
		status = http.StatusOK
	}
	writeOK(c, status, gin.H{"sale": resp.Sale, "duplicate": resp.Duplicate, "warnings": resp.Warnings})
}

func (a *API) handleListSales(c *gin.Context) {
	from, err := parseTimeParam(c.Query("from"))
	if err != nil {
		a.writeError(c, err)
		return
	}
	to, err := parseTimeParam(c.Query("to"))
	if err != nil {
		a.writeError(c, err)
		return
	}
	sales, err := a.service.ListSales(c.Request.Context(), domain.SaleFilter{
		LocationID: c.Query("location_id"),
		Ascending:  strings.EqualFold(c.Query("order"), "asc"),
		Limit:      parsePositiveLimit(c.Query("limit"), 100, 1000),
		From:       from,
		To:         to,
	})
	if err != nil {
		a.writeError(c, err)
		return
	}
	writeOK(c, http.StatusOK, gin.H{"sales": sales})
}

func (a *API) handleGetSale(c *gin.Context) {
	sale, err := a.service.GetSale(c.Request.Context(), c.Param("id"))
	if err != nil {
		a.writeError(c, err)
		return
	}
	writeOK(c, http.StatusOK, gin.H{"sale": sale})
}

func (a *API) handleDashboard(c *gin.Context) {
	days, err := optionalInt(c.Query("days"))
	if err != nil {
		a.writeError(c, err)
		return
	}
	top, err := optionalInt(c.Query("top"))
	if err != nil {
		a.writeError(c, err)
		return
	}
	dashboard, err := a.service.Dashboard(c.Request.Context(), c.Query("location_id"), days, top)
	if err != nil {
		a.writeError(c, err)
		return
	}
	writeOK(c, http.StatusOK, gin.H{"dashboard": dashboard})
}

func (a *API) handleAuditLogs(c *gin.Context) {
	logs, err := a.service.ListAuditLogs(c.Request.Context(), c.Query("date"),
		parsePositiveLimit(c.Query("limit"), 100, 500))
	if err != nil {
		a.writeError(c, err)
		return
	}
	writeOK(c, http.StatusOK, gin.H{"audit_logs": logs})
}

func optionalInt(raw string) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, store.ErrValidation
	}
	return n, nil
}
