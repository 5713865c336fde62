package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/skip2/go-qrcode"
)

const (
	defaultQRSize = 256
	minQRSize     = 64
	maxQRSize     = 1024
)

// GetQRCode renders the short URL of a link as a PNG QR code.
func (h *Handler) GetQRCode(c *gin.Context) {
	size := defaultQRSize
	if s := c.Query("size"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < minQRSize || n > maxQRSize {
			respondError(c, http.StatusBadRequest, "invalid_request", "size must be between 64 and 1024")
			return
		}
		size = n
	}

	link, err := h.links.GetLink(c.Request.Context(), c.Param("code"))
	if err != nil {
		h.respondServiceError(c, "qr_code", err)
		return
	}

	png, err := qrcode.Encode(link.ShortURL, qrcode.Medium, size)
	if err != nil {
		h.respondServiceError(c, "qr_code", err)
		return
	}

	c.Header("Cache-Control", "public, max-age=86400")
	c.Data(http.StatusOK, "image/png", png)
}
