package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"pixbin/internal/middleware"
	"pixbin/internal/security"
	"pixbin/internal/service"
)

func (h HandlerSet) Login(c *gin.Context) {
	target, err := h.auth.BeginLogin(c.Request.Context(), c.Query("next"))
	if err != nil {
		writeError(c, h.log, err, "failed to start login")
		return
	}
	c.Redirect(http.StatusFound, target)
}

// Callback finishes the OAuth round trip. Every failure lands on the
// home page; the reason only goes to the log.
func (h HandlerSet) Callback(c *gin.Context) {
	result, err := h.auth.CompleteLogin(c.Request.Context(), service.CallbackInput{
		Code:      c.Query("code"),
		State:     c.Query("state"),
		IPAddress: c.ClientIP(),
		UserAgent: c.GetHeader("User-Agent"),
	})
	if err != nil {
		event := h.log.Warn()
		if service.IsCode(err, service.ErrorCodeInternal) {
			event = h.log.Error()
		}
		event.Err(err).
			Str("provider_error", c.Query("error")).
			Str("request_id", middleware.RequestIDFrom(c)).
			Msg("oauth callback failed")
		c.Redirect(http.StatusFound, security.DefaultRedirect)
		return
	}

	h.setSessionCookie(c, result.Token, int(h.cfg.Session.TTL.Seconds()))
	c.Redirect(http.StatusFound, result.Redirect)
}

func (h HandlerSet) Logout(c *gin.Context) {
	token, _ := c.Cookie(h.cfg.Session.CookieName)
	if err := h.auth.Logout(c.Request.Context(), token); err != nil {
		writeError(c, h.log, err, "failed to log out")
		return
	}
	h.setSessionCookie(c, "", -1)
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (h HandlerSet) setSessionCookie(c *gin.Context, value string, maxAge int) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(h.cfg.Session.CookieName, value, maxAge, "/", "", h.cfg.Session.Secure, true)
}
