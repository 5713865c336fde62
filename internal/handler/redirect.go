package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/jack/shortlink-resolver/internal/model"
)

type passwordForm struct {
	Password string `form:"password" json:"password"`
}

type denial struct {
	status  int
	code    string
	message string
}

var denials = map[model.ResolutionStatus]denial{
	model.StatusNotFound:         {http.StatusNotFound, "not_found", "Short link not found"},
	model.StatusInactive:         {http.StatusGone, "inactive", "This short link has been disabled"},
	model.StatusExpired:          {http.StatusGone, "expired", "This short link has expired"},
	model.StatusExhausted:        {http.StatusGone, "exhausted", "This short link has reached its use limit"},
	model.StatusPasswordRequired: {http.StatusUnauthorized, "password_required", "This short link is password protected"},
	model.StatusPasswordMismatch: {http.StatusForbidden, "password_mismatch", "Incorrect password"},
}

// Redirect resolves a short code. The password may come from the
// X-Link-Password header or, on POST, a form or JSON body.
func (h *Handler) Redirect(c *gin.Context) {
	code := c.Param("code")
	if code == "" {
		respondError(c, http.StatusBadRequest, "invalid_request", "Short code is required")
		return
	}

	password := c.GetHeader(PasswordHeader)
	if password == "" && c.Request.Method == http.MethodPost {
		var form passwordForm
		if err := c.ShouldBind(&form); err == nil {
			password = form.Password
		}
	}

	rc := model.RequestContext{
		IP:        c.ClientIP(),
		UserAgent: c.Request.UserAgent(),
		Referrer:  c.Request.Referer(),
		Time:      time.Now(),
	}

	outcome, err := h.resolver.Resolve(c.Request.Context(), code, password, rc)
	if err != nil {
		h.logger.Error("redirect failed",
			zap.String("code", code),
			zap.String("ip", rc.IP),
			zap.Error(err),
		)
		_ = c.Error(err)
		respondError(c, http.StatusServiceUnavailable, "service_unavailable", "Link storage is unavailable, try again later")
		return
	}

	if outcome.Resolved() {
		// Every hit must reach the server to be counted.
		c.Header("Cache-Control", "private, no-store")
		c.Redirect(http.StatusFound, outcome.TargetURL)
		return
	}

	d, ok := denials[outcome.Status]
	if !ok {
		d = denial{http.StatusNotFound, "not_found", "Short link not found"}
	}
	respondError(c, d.status, d.code, d.message)
}
