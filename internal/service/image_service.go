package service

import (
	"context"
	"errors"
	"io"
	"strings"

	"github.com/rs/zerolog"

	"pixbin/internal/ids"
	"pixbin/internal/models"
	"pixbin/internal/repository"
)

// CacheControl is sent with every image. Identifiers are never reused,
// so the bytes behind a URL never change.
const CacheControl = "public, max-age=31536000, immutable"

// ImageContent is an open image ready to be streamed. The caller closes
// Body.
type ImageContent struct {
	Image models.Image
	Body  io.ReadCloser
	Size  int64
}

func (c ImageContent) ContentDisposition() string {
	return ContentDisposition(c.Image.Filename)
}

type ImageService struct {
	images ImageRepository
	store  ObjectStore
	log    zerolog.Logger
}

func NewImageService(images ImageRepository, store ObjectStore, log zerolog.Logger) *ImageService {
	return &ImageService{images: images, store: store, log: log}
}

func (s *ImageService) Open(ctx context.Context, id string) (ImageContent, error) {
	image, err := s.lookup(ctx, id)
	if err != nil {
		return ImageContent{}, err
	}

	body, size, err := s.store.Get(ctx, image.StoragePath)
	if err != nil {
		return ImageContent{}, WrapInternal("failed to fetch image", err)
	}
	return ImageContent{Image: image, Body: body, Size: size}, nil
}

// Delete removes an image owned by the caller: the object first, then
// the record. A record left behind by a failed second step is picked up
// by the maintenance sweep.
func (s *ImageService) Delete(ctx context.Context, identity *Identity, id string) error {
	if identity == nil {
		return NewUnauthorizedError("unauthorized")
	}

	image, err := s.lookup(ctx, id)
	if err != nil {
		return err
	}
	if !identity.Owns(image.UserID) {
		return NewForbiddenError("forbidden")
	}

	if err := s.store.Remove(ctx, image.StoragePath); err != nil {
		return WrapInternal("", err)
	}
	if err := s.images.Delete(ctx, image.ID); err != nil {
		if errors.Is(err, repository.ErrImageNotFound) {
			return NewNotFoundError("image not found")
		}
		return WrapInternal("", err)
	}

	s.log.Info().Str("image_id", image.ID).Str("user_id", identity.UserID).Msg("image deleted")
	return nil
}

func (s *ImageService) List(ctx context.Context) ([]models.Image, error) {
	images, err := s.images.List(ctx)
	if err != nil {
		return nil, WrapInternal("", err)
	}
	return images, nil
}

func (s *ImageService) lookup(ctx context.Context, id string) (models.Image, error) {
	if !ids.IsShortID(id) {
		return models.Image{}, NewNotFoundError("image not found")
	}
	image, err := s.images.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrImageNotFound) {
			return models.Image{}, NewNotFoundError("image not found")
		}
		return models.Image{}, WrapInternal("failed to load image", err)
	}
	return image, nil
}

// SanitizeFilename makes a client-supplied name safe for a quoted header
// parameter: anything outside printable ASCII, and the quote and
// backslash characters, becomes an underscore.
func SanitizeFilename(name string) string {
	var b strings.Builder
	b.Grow(len(name))
	for _, r := range name {
		if r < 0x20 || r > 0x7e || r == '"' || r == '\\' {
			b.WriteByte('_')
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func ContentDisposition(filename string) string {
	return `inline; filename="` + SanitizeFilename(filename) + `"`
}
