package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"pixbin/internal/middleware"
	"pixbin/internal/service"
)

// svgPolicy keeps scripts inside a user SVG from running on this origin.
const svgPolicy = "default-src 'none'; style-src 'unsafe-inline'; sandbox"

type uploadResponse struct {
	ID        string `json:"id"`
	URL       string `json:"url"`
	PublicURL string `json:"publicUrl"`
}

func (h HandlerSet) ListImages(c *gin.Context) {
	images, err := h.images.List(c.Request.Context())
	if err != nil {
		writeError(c, h.log, err, "failed to list images")
		return
	}
	c.JSON(http.StatusOK, images)
}

func (h HandlerSet) UploadImage(c *gin.Context) {
	identity := middleware.CurrentIdentity(c)
	if identity == nil {
		writeError(c, h.log, service.NewUnauthorizedError("unauthorized"), "")
		return
	}

	file, header, err := c.Request.FormFile("file")
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(c, h.log, h.uploads.TooLargeError(), "")
			return
		}
		writeError(c, h.log, service.NewValidationError("no file provided"), "")
		return
	}
	defer file.Close()

	result, err := h.uploads.Upload(c.Request.Context(), service.UploadInput{
		Identity: identity,
		File:     file,
		Header:   header,
	})
	if err != nil {
		writeError(c, h.log, err, "failed to upload image")
		return
	}

	c.JSON(http.StatusOK, uploadResponse{
		ID:        result.Image.ID,
		URL:       result.URL,
		PublicURL: result.PublicURL,
	})
}

// GetImage streams the stored bytes with the stored content type.
func (h HandlerSet) GetImage(c *gin.Context) {
	content, err := h.images.Open(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, h.log, err, "failed to fetch image")
		return
	}
	defer content.Body.Close()

	headers := map[string]string{
		"Cache-Control":          service.CacheControl,
		"Content-Disposition":    content.ContentDisposition(),
		"X-Content-Type-Options": "nosniff",
	}
	if content.Image.MimeType == "image/svg+xml" {
		headers["Content-Security-Policy"] = svgPolicy
	}
	c.DataFromReader(http.StatusOK, content.Size, content.Image.MimeType, content.Body, headers)
}

func (h HandlerSet) DeleteImage(c *gin.Context) {
	err := h.images.Delete(c.Request.Context(), middleware.CurrentIdentity(c), c.Param("id"))
	if err != nil {
		writeError(c, h.log, err, "failed to delete image")
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}
