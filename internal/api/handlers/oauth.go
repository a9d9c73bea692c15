package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/langchou/odosync/internal/service"
)

// OAuthCallback Smartcar 授权回调
// GET /oauth/callback?code=...&state=...
func (h *Handler) OAuthCallback(c *gin.Context) {
	if h.callback == nil {
		c.String(http.StatusNotFound, "Authorization callback is not enabled")
		return
	}

	state := c.Query("state")
	errMsg := c.Query("error")
	if desc := c.Query("error_description"); errMsg != "" && desc != "" {
		errMsg += ": " + desc
	}

	if err := h.callback.Deliver(state, c.Query("code"), errMsg); err != nil {
		if errors.Is(err, service.ErrStateMismatch) {
			h.logger.Warn("OAuth callback with unknown state")
			c.String(http.StatusBadRequest, "Unknown or expired authorization request")
			return
		}
		h.logger.Error("Failed to deliver authorization code", zap.Error(err))
		c.String(http.StatusInternalServerError, "Failed to complete authorization")
		return
	}

	if errMsg != "" {
		h.logger.Warn("Smartcar authorization denied", zap.String("error", errMsg))
		c.String(http.StatusOK, "Authorization was denied. You can close this window.")
		return
	}
	if c.Query("code") == "" {
		c.String(http.StatusBadRequest, "Callback has no code parameter")
		return
	}

	h.logger.Info("Received Smartcar authorization code")
	c.String(http.StatusOK, "Authorization complete. You can close this window.")
}

// OAuthAuthorize 跳转到等待中的授权地址
// GET /oauth/authorize
func (h *Handler) OAuthAuthorize(c *gin.Context) {
	if h.callback == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Authorization callback is not enabled"})
		return
	}
	url := h.callback.PendingAuthURL()
	if url == "" {
		c.JSON(http.StatusNotFound, gin.H{"error": "No authorization pending"})
		return
	}
	c.Redirect(http.StatusFound, url)
}
