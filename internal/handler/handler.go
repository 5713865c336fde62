package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/jack/shortlink-resolver/internal/analytics"
	"github.com/jack/shortlink-resolver/internal/codegen"
	"github.com/jack/shortlink-resolver/internal/model"
	"github.com/jack/shortlink-resolver/internal/repository"
	"github.com/jack/shortlink-resolver/internal/resolver"
	"github.com/jack/shortlink-resolver/internal/service"
)

const (
	OwnerHeader    = "X-Owner-ID"
	PasswordHeader = "X-Link-Password"
)

// HealthCheck reports whether one dependency is reachable.
type HealthCheck func(ctx context.Context) error

type Handler struct {
	links     *service.LinkService
	resolver  *resolver.Resolver
	analytics *analytics.Aggregator
	checks    map[string]HealthCheck
	logger    *zap.Logger
}

func NewHandler(
	links *service.LinkService,
	resolver *resolver.Resolver,
	analytics *analytics.Aggregator,
	checks map[string]HealthCheck,
	logger *zap.Logger,
) *Handler {
	return &Handler{
		links:     links,
		resolver:  resolver,
		analytics: analytics,
		checks:    checks,
		logger:    logger,
	}
}

func respondError(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, gin.H{
		"error":   code,
		"message": message,
	})
}

// respondServiceError maps service and storage errors to HTTP responses.
// Anything unrecognized is logged and reported without details.
func (h *Handler) respondServiceError(c *gin.Context, op string, err error) {
	switch {
	case errors.Is(err, service.ErrValidation), errors.Is(err, codegen.ErrInvalidCode):
		respondError(c, http.StatusBadRequest, "invalid_request", err.Error())
	case errors.Is(err, service.ErrImmutableField):
		respondError(c, http.StatusBadRequest, "immutable_field", err.Error())
	case errors.Is(err, analytics.ErrInvalidWindow), errors.Is(err, analytics.ErrWindowTooLarge):
		respondError(c, http.StatusBadRequest, "invalid_window", err.Error())
	case errors.Is(err, service.ErrForbidden):
		respondError(c, http.StatusForbidden, "forbidden", "Link belongs to another owner")
	case errors.Is(err, repository.ErrLinkNotFound):
		respondError(c, http.StatusNotFound, "not_found", "Short link not found")
	case errors.Is(err, repository.ErrCodeConflict):
		respondError(c, http.StatusConflict, "code_conflict", "Short code is already taken")
	case errors.Is(err, repository.ErrConflict):
		respondError(c, http.StatusConflict, "conflict", err.Error())
	case errors.Is(err, codegen.ErrGenerationExhausted):
		h.logger.Error("short code space exhausted", zap.String("op", op), zap.Error(err))
		respondError(c, http.StatusServiceUnavailable, "generation_exhausted", "Could not allocate a short code, try again")
	default:
		h.logger.Error("request failed",
			zap.String("op", op),
			zap.String("ip", c.ClientIP()),
			zap.Error(err),
		)
		_ = c.Error(err)
		respondError(c, http.StatusInternalServerError, "internal_error", "Internal server error")
	}
}

func (h *Handler) CreateLink(c *gin.Context) {
	var req model.CreateLinkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "invalid_request", "Invalid request body: "+err.Error())
		return
	}

	resp, err := h.links.CreateLink(c.Request.Context(), c.GetHeader(OwnerHeader), &req)
	if err != nil {
		h.respondServiceError(c, "create_link", err)
		return
	}

	c.JSON(http.StatusCreated, resp)
}

func (h *Handler) ListLinks(c *gin.Context) {
	limit, offset, ok := pagination(c)
	if !ok {
		return
	}

	links, err := h.links.ListLinks(c.Request.Context(), c.GetHeader(OwnerHeader), limit, offset)
	if err != nil {
		h.respondServiceError(c, "list_links", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"links": links, "limit": limit, "offset": offset})
}

func (h *Handler) GetLink(c *gin.Context) {
	link, err := h.links.GetLink(c.Request.Context(), c.Param("code"))
	if err != nil {
		h.respondServiceError(c, "get_link", err)
		return
	}

	c.JSON(http.StatusOK, link)
}

func (h *Handler) UpdateLink(c *gin.Context) {
	var req model.UpdateLinkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "invalid_request", "Invalid request body: "+err.Error())
		return
	}

	link, err := h.links.UpdateLink(c.Request.Context(), c.GetHeader(OwnerHeader), c.Param("code"), &req)
	if err != nil {
		h.respondServiceError(c, "update_link", err)
		return
	}

	c.JSON(http.StatusOK, link)
}

func (h *Handler) DeleteLink(c *gin.Context) {
	if err := h.links.DeleteLink(c.Request.Context(), c.GetHeader(OwnerHeader), c.Param("code")); err != nil {
		h.respondServiceError(c, "delete_link", err)
		return
	}

	c.Status(http.StatusNoContent)
}

// GetSummary returns click analytics for a code. Codes without clicks,
// including unknown ones, get an all-zero summary.
func (h *Handler) GetSummary(c *gin.Context) {
	granularity, err := model.ParseGranularity(c.Query("granularity"))
	if err != nil {
		respondError(c, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	from, ok := queryTime(c, "from")
	if !ok {
		return
	}
	to, ok := queryTime(c, "to")
	if !ok {
		return
	}

	window := h.analytics.Window(from, to)
	summary, err := h.analytics.Summarize(c.Request.Context(), c.Param("code"), window, granularity)
	if err != nil {
		h.respondServiceError(c, "summarize", err)
		return
	}

	c.JSON(http.StatusOK, summary)
}

func (h *Handler) ListClicks(c *gin.Context) {
	limit, offset, ok := pagination(c)
	if !ok {
		return
	}

	page, err := h.links.ListClicks(c.Request.Context(), c.Param("code"), limit, offset)
	if err != nil {
		h.respondServiceError(c, "list_clicks", err)
		return
	}

	c.JSON(http.StatusOK, page)
}

func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
	})
}

// HealthDetailed pings every registered dependency.
func (h *Handler) HealthDetailed(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()

	status := http.StatusOK
	body := gin.H{"status": "healthy"}
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			h.logger.Warn("health check failed", zap.String("dependency", name), zap.Error(err))
			body[name] = "unavailable"
			body["status"] = "degraded"
			status = http.StatusServiceUnavailable
			continue
		}
		body[name] = "connected"
	}

	c.JSON(status, body)
}

func pagination(c *gin.Context) (limit, offset int, ok bool) {
	var err error
	if s := c.Query("limit"); s != "" {
		if limit, err = strconv.Atoi(s); err != nil || limit < 0 {
			respondError(c, http.StatusBadRequest, "invalid_request", "limit must be a non-negative integer")
			return 0, 0, false
		}
	}
	if s := c.Query("offset"); s != "" {
		if offset, err = strconv.Atoi(s); err != nil || offset < 0 {
			respondError(c, http.StatusBadRequest, "invalid_request", "offset must be a non-negative integer")
			return 0, 0, false
		}
	}
	return limit, offset, true
}

func queryTime(c *gin.Context, key string) (time.Time, bool) {
	s := c.Query(key)
	if s == "" {
		return time.Time{}, true
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		respondError(c, http.StatusBadRequest, "invalid_request", key+" must be an RFC 3339 timestamp")
		return time.Time{}, false
	}
	return t, true
}
