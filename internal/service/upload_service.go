package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"pixbin/internal/ids"
	"pixbin/internal/media/sniffer"
	"pixbin/internal/models"
	"pixbin/internal/queue"
	"pixbin/internal/repository"
	"pixbin/internal/storage"
)

const compensateTimeout = 10 * time.Second

type ImageRepository interface {
	Exists(ctx context.Context, id string) (bool, error)
	ExistsByStoragePath(ctx context.Context, storagePath string) (bool, error)
	Create(ctx context.Context, image models.Image) (models.Image, error)
	GetByID(ctx context.Context, id string) (models.Image, error)
	List(ctx context.Context) ([]models.Image, error)
	Delete(ctx context.Context, id string) error
}

type ObjectStore interface {
	PutNew(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
	Get(ctx context.Context, key string) (io.ReadCloser, int64, error)
	Remove(ctx context.Context, key string) error
	PublicURL(key string) string
}

type TaskQueue interface {
	Enqueue(ctx context.Context, task queue.Task) error
}

type UploadInput struct {
	Identity *Identity
	File     io.Reader
	Header   *multipart.FileHeader
}

type UploadResult struct {
	Image     models.Image
	URL       string
	PublicURL string
}

type UploadService struct {
	images   ImageRepository
	store    ObjectStore
	tasks    TaskQueue
	ids      *ids.Generator
	maxBytes int64
	log      zerolog.Logger
}

func NewUploadService(images ImageRepository, store ObjectStore, tasks TaskQueue, generator *ids.Generator, maxBytes int64, log zerolog.Logger) *UploadService {
	if generator == nil {
		generator = ids.NewGenerator()
	}
	return &UploadService{
		images:   images,
		store:    store,
		tasks:    tasks,
		ids:      generator,
		maxBytes: maxBytes,
		log:      log,
	}
}

func (s *UploadService) MaxBytes() int64 {
	return s.maxBytes
}

// TooLargeError is the validation error for a body over the limit.
func (s *UploadService) TooLargeError() error {
	return NewValidationError(fmt.Sprintf("file size exceeds maximum limit of %s", formatLimit(s.maxBytes)))
}

func (s *UploadService) Upload(ctx context.Context, input UploadInput) (UploadResult, error) {
	if input.Identity == nil {
		return UploadResult{}, NewUnauthorizedError("unauthorized")
	}
	if input.File == nil || input.Header == nil {
		return UploadResult{}, NewValidationError("no file provided")
	}

	if input.Header.Size > s.maxBytes {
		return UploadResult{}, s.TooLargeError()
	}
	if input.Header.Size == 0 {
		return UploadResult{}, NewValidationError("file is empty")
	}

	declared := sniffer.DeclaredType(input.Header.Header)
	if !strings.HasPrefix(declared, "image/") {
		return UploadResult{}, NewValidationError("invalid file type")
	}
	ext, ok := sniffer.Extension(declared)
	if !ok {
		return UploadResult{}, NewValidationError(fmt.Sprintf("file type %s is not allowed", declared))
	}

	data, err := io.ReadAll(io.LimitReader(input.File, s.maxBytes+1))
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return UploadResult{}, s.TooLargeError()
		}
		return UploadResult{}, WrapInternal("failed to read file", err)
	}
	if int64(len(data)) > s.maxBytes {
		return UploadResult{}, s.TooLargeError()
	}
	if len(data) == 0 {
		return UploadResult{}, NewValidationError("file is empty")
	}

	if !sniffer.Validate(data, declared) {
		return UploadResult{}, NewValidationError("file content does not match declared file type")
	}

	image, err := s.persist(ctx, input.Identity, input.Header.Filename, declared, ext, data)
	if err != nil {
		return UploadResult{}, err
	}

	s.log.Info().
		Str("image_id", image.ID).
		Str("user_id", image.UserID).
		Str("mime_type", image.MimeType).
		Int64("size", image.Size).
		Msg("image uploaded")

	return UploadResult{
		Image:     image,
		URL:       "/" + image.ID,
		PublicURL: s.store.PublicURL(image.StoragePath),
	}, nil
}

// persist assigns an identifier and writes the object, then the record.
// A collision at either write is retried with a fresh identifier; every
// candidate draws from the same attempt budget.
func (s *UploadService) persist(ctx context.Context, identity *Identity, filename, mimeType, ext string, data []byte) (models.Image, error) {
	allocator := s.ids.Allocator(s.images.Exists)

	for {
		id, err := allocator.Next(ctx)
		if err != nil {
			if errors.Is(err, ids.ErrExhausted) {
				return models.Image{}, WrapInternal(ids.ErrExhausted.Error(), err)
			}
			return models.Image{}, WrapInternal("", err)
		}

		key := id + "." + ext
		err = s.store.PutNew(ctx, key, bytes.NewReader(data), int64(len(data)), mimeType)
		if errors.Is(err, storage.ErrObjectExists) {
			s.log.Warn().Str("storage_path", key).Msg("storage key taken, retrying with new id")
			continue
		}
		if err != nil {
			return models.Image{}, WrapInternal("", err)
		}

		image, err := s.images.Create(ctx, models.Image{
			ID:          id,
			Filename:    filename,
			MimeType:    mimeType,
			Size:        int64(len(data)),
			StoragePath: key,
			UserID:      identity.UserID,
		})
		if err == nil {
			return image, nil
		}

		if errors.Is(err, repository.ErrDuplicateID) {
			s.release(ctx, key)
			s.log.Warn().Str("image_id", id).Msg("id taken at insert, retrying")
			continue
		}
		s.compensate(ctx, key)
		return models.Image{}, WrapInternal("", err)
	}
}

// compensate removes an object whose record could not be written. The
// removal outlives request cancellation; if it still fails the object is
// handed to the maintenance worker.
func (s *UploadService) compensate(ctx context.Context, key string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), compensateTimeout)
	defer cancel()

	err := s.store.Remove(ctx, key)
	if err == nil {
		return
	}
	s.log.Error().Err(err).Str("storage_path", key).Msg("compensating delete failed")
	s.enqueueOrphan(ctx, key)
}

// release handles the object of a candidate that lost the insert. The
// winning upload may have written the same key and committed a record
// for it, so the object is only removed when nothing references it.
func (s *UploadService) release(ctx context.Context, key string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), compensateTimeout)
	defer cancel()

	referenced, err := s.images.ExistsByStoragePath(ctx, key)
	if err != nil {
		s.log.Error().Err(err).Str("storage_path", key).Msg("reference check failed")
		s.enqueueOrphan(ctx, key)
		return
	}
	if referenced {
		s.log.Warn().Str("storage_path", key).Msg("storage key owned by another upload, leaving it")
		return
	}
	s.compensate(ctx, key)
}

func (s *UploadService) enqueueOrphan(ctx context.Context, key string) {
	if s.tasks == nil {
		return
	}
	if err := s.tasks.Enqueue(ctx, queue.Task{Type: queue.TaskOrphan, StoragePath: key}); err != nil {
		s.log.Error().Err(err).Str("storage_path", key).Msg("enqueue orphan task failed")
	}
}

func formatLimit(n int64) string {
	const mib = 1 << 20
	if n > 0 && n%mib == 0 {
		return fmt.Sprintf("%dMB", n/mib)
	}
	return fmt.Sprintf("%d bytes", n)
}
