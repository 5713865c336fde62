package handler

import (
	"github.com/gin-gonic/gin"
)

// RegisterRoutes mounts the health, management API and redirect routes.
// limit runs in front of the API group and the redirect route.
func (h *Handler) RegisterRoutes(router *gin.Engine, limit ...gin.HandlerFunc) {
	router.GET("/health", h.Health)
	router.GET("/health/detailed", h.HealthDetailed)

	api := router.Group("/api/v1")
	api.Use(limit...)
	{
		api.POST("/links", h.CreateLink)
		api.GET("/links", h.ListLinks)
		api.GET("/links/:code", h.GetLink)
		api.PATCH("/links/:code", h.UpdateLink)
		api.DELETE("/links/:code", h.DeleteLink)
		api.GET("/links/:code/summary", h.GetSummary)
		api.GET("/links/:code/clicks", h.ListClicks)
		api.GET("/links/:code/qr", h.GetQRCode)
	}

	redirect := append(append([]gin.HandlerFunc{}, limit...), h.Redirect)
	router.GET("/:code", redirect...)
	router.POST("/:code", redirect...)
}
