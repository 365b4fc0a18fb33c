package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"pixbin/internal/middleware"
)

type userResponse struct {
	ID     string `json:"id"`
	Email  string `json:"email"`
	Avatar string `json:"avatar"`
	Name   string `json:"name"`
}

// CurrentUser returns the caller's profile, or null when anonymous.
func (h HandlerSet) CurrentUser(c *gin.Context) {
	identity := middleware.CurrentIdentity(c)
	if identity == nil {
		c.JSON(http.StatusOK, nil)
		return
	}
	c.JSON(http.StatusOK, userResponse{
		ID:     identity.UserID,
		Email:  identity.Email,
		Avatar: identity.AvatarURL,
		Name:   identity.Name,
	})
}
