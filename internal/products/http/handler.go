package http

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"product-sync/internal/products"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

type ProductService interface {
	CreateProduct(ctx context.Context, in products.ProductInput) (products.Product, error)
	UpdateProduct(ctx context.Context, id int64, in products.ProductInput) (products.Product, error)
	DeleteProduct(ctx context.Context, id int64) error
	GetProductByID(ctx context.Context, id int64) (products.Product, error)
	GetAllProducts(ctx context.Context) ([]products.Product, error)
	GetProductsByCategory(ctx context.Context, category string) ([]products.Product, error)
	SearchProducts(ctx context.Context, name string) ([]products.Product, error)
}

type Handler struct {
	service ProductService
}

func NewHandler(svc ProductService) *Handler {
	return &Handler{service: svc}
}

// productRequest is shared by create and update. Pointers tell a missing
// field apart from a zero value.
type productRequest struct {
	Name        *string          `json:"name" binding:"required" example:"Widget"`
	Description string           `json:"description" example:"Steel widget"`
	Price       *decimal.Decimal `json:"price" binding:"required" swaggertype:"string" example:"9.99"`
	Stock       *int             `json:"stock" binding:"required" example:"10"`
	Category    *string          `json:"category" binding:"required" example:"tools"`
}

func (r productRequest) input() products.ProductInput {
	return products.ProductInput{
		Name:        *r.Name,
		Description: r.Description,
		Price:       *r.Price,
		Stock:       *r.Stock,
		Category:    *r.Category,
	}
}

type errorResponse struct {
	Error string `json:"error" example:"product not found"`
}

// CreateProduct godoc
// @Summary      Create a new product
// @Tags         products
// @Accept       json
// @Produce      json
// @Param        body  body      productRequest  true  "Product data"
// @Success      201   {object}  products.Product
// @Failure      400   {object}  errorResponse
// @Failure      500   {object}  errorResponse
// @Router       /api/products [post]
func (h *Handler) CreateProduct(c *gin.Context) {
	var req productRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}

	product, err := h.service.CreateProduct(c.Request.Context(), req.input())
	if err != nil {
		respondError(c, err, "failed to create product")
		return
	}

	c.JSON(http.StatusCreated, product)
}

// UpdateProduct godoc
// @Summary      Replace every mutable field of a product
// @Tags         products
// @Accept       json
// @Produce      json
// @Param        id    path      int             true  "Product ID"
// @Param        body  body      productRequest  true  "Product data"
// @Success      200   {object}  products.Product
// @Failure      400   {object}  errorResponse
// @Failure      404   {object}  errorResponse
// @Failure      500   {object}  errorResponse
// @Router       /api/products/{id} [put]
func (h *Handler) UpdateProduct(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	var req productRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}

	product, err := h.service.UpdateProduct(c.Request.Context(), id, req.input())
	if err != nil {
		respondError(c, err, "failed to update product")
		return
	}

	c.JSON(http.StatusOK, product)
}

// DeleteProduct godoc
// @Summary      Delete a product by ID
// @Tags         products
// @Produce      json
// @Param        id   path      int  true  "Product ID"
// @Success      204
// @Failure      400  {object}  errorResponse
// @Failure      404  {object}  errorResponse
// @Failure      500  {object}  errorResponse
// @Router       /api/products/{id} [delete]
func (h *Handler) DeleteProduct(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	if err := h.service.DeleteProduct(c.Request.Context(), id); err != nil {
		respondError(c, err, "failed to delete product")
		return
	}

	c.Status(http.StatusNoContent)
}

// GetProduct godoc
// @Summary      Get a product by ID
// @Tags         products
// @Produce      json
// @Param        id   path      int  true  "Product ID"
// @Success      200  {object}  products.Product
// @Failure      400  {object}  errorResponse
// @Failure      404  {object}  errorResponse
// @Failure      500  {object}  errorResponse
// @Router       /api/products/{id} [get]
func (h *Handler) GetProduct(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	product, err := h.service.GetProductByID(c.Request.Context(), id)
	if err != nil {
		respondError(c, err, "failed to get product")
		return
	}

	c.JSON(http.StatusOK, product)
}

// ListProducts godoc
// @Summary      List all products ordered by ID
// @Tags         products
// @Produce      json
// @Success      200  {array}   products.Product
// @Failure      500  {object}  errorResponse
// @Router       /api/products [get]
func (h *Handler) ListProducts(c *gin.Context) {
	items, err := h.service.GetAllProducts(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, errorResponse{Error: "failed to get products"})
		return
	}

	c.JSON(http.StatusOK, items)
}

// ListByCategory godoc
// @Summary      List products in a category
// @Tags         products
// @Produce      json
// @Param        category  path      string  true  "Category (exact match)"
// @Success      200       {array}   products.Product
// @Failure      500       {object}  errorResponse
// @Router       /api/products/category/{category} [get]
func (h *Handler) ListByCategory(c *gin.Context) {
	items, err := h.service.GetProductsByCategory(c.Request.Context(), c.Param("category"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, errorResponse{Error: "failed to get products"})
		return
	}

	c.JSON(http.StatusOK, items)
}

// SearchProducts godoc
// @Summary      Search products by name
// @Tags         products
// @Produce      json
// @Param        name  query     string  true  "Case-insensitive substring of the name"
// @Success      200   {array}   products.Product
// @Failure      400   {object}  errorResponse
// @Failure      500   {object}  errorResponse
// @Router       /api/products/search [get]
func (h *Handler) SearchProducts(c *gin.Context) {
	name := strings.TrimSpace(c.Query("name"))
	if name == "" {
		c.JSON(http.StatusBadRequest, errorResponse{Error: "name query parameter is required"})
		return
	}

	items, err := h.service.SearchProducts(c.Request.Context(), name)
	if err != nil {
		c.JSON(http.StatusInternalServerError, errorResponse{Error: "failed to search products"})
		return
	}

	c.JSON(http.StatusOK, items)
}

func parseID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id < 1 {
		c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid product id"})
		return 0, false
	}
	return id, true
}

func respondError(c *gin.Context, err error, fallback string) {
	switch {
	case errors.Is(err, products.ErrValidation):
		c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
	case errors.Is(err, products.ErrNotFound):
		c.JSON(http.StatusNotFound, errorResponse{Error: products.ErrNotFound.Error()})
	default:
		c.JSON(http.StatusInternalServerError, errorResponse{Error: fallback})
	}
}
