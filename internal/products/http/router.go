package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
)

const (
	healthStatusOK        = "ok"
	healthStatusUnhealthy = "unhealthy"
)

type HealthChecker interface {
	Health() error
}

func RegisterRoutes(router *gin.Engine, handler *Handler, checker HealthChecker) {
	api := router.Group("/api/products")
	api.POST("", handler.CreateProduct)
	api.GET("", handler.ListProducts)
	api.GET("/search", handler.SearchProducts)
	api.GET("/category/:category", handler.ListByCategory)
	api.GET("/:id", handler.GetProduct)
	api.PUT("/:id", handler.UpdateProduct)
	api.DELETE("/:id", handler.DeleteProduct)

	RegisterOps(router, checker)
	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
}

// RegisterOps mounts the metrics and health endpoints shared by every binary.
func RegisterOps(router *gin.Engine, checker HealthChecker) {
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/healthz", func(c *gin.Context) {
		if err := checker.Health(); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": healthStatusUnhealthy})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": healthStatusOK})
	})
}
