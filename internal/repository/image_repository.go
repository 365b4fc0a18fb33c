package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"pixbin/internal/models"
)

var (
	ErrImageNotFound = errors.New("image not found")
	ErrDuplicateID   = errors.New("image id already taken")
)

const imageColumns = `id, filename, mime_type, size, storage_path, user_id, created_at`

type ImageRepository struct {
	db DBTX
}

func NewImageRepository(db DBTX) *ImageRepository {
	return &ImageRepository{db: db}
}

func (r *ImageRepository) Exists(ctx context.Context, id string) (bool, error) {
	const query = `SELECT EXISTS (SELECT 1 FROM images WHERE id = $1)`

	var exists bool
	if err := r.db.QueryRow(ctx, query, id).Scan(&exists); err != nil {
		return false, fmt.Errorf("check image id: %w", err)
	}
	return exists, nil
}

// Create inserts a record and returns it with the database timestamp. A
// primary key conflict is reported as ErrDuplicateID.
func (r *ImageRepository) Create(ctx context.Context, image models.Image) (models.Image, error) {
	const query = `
		INSERT INTO images (id, filename, mime_type, size, storage_path, user_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
		RETURNING created_at
	`

	err := r.db.QueryRow(ctx, query,
		image.ID,
		image.Filename,
		image.MimeType,
		image.Size,
		image.StoragePath,
		image.UserID,
	).Scan(&image.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return models.Image{}, ErrDuplicateID
		}
		return models.Image{}, fmt.Errorf("insert image: %w", err)
	}
	return image, nil
}

func (r *ImageRepository) GetByID(ctx context.Context, id string) (models.Image, error) {
	query := `SELECT ` + imageColumns + ` FROM images WHERE id = $1`

	image, err := scanImage(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Image{}, ErrImageNotFound
		}
		return models.Image{}, fmt.Errorf("get image: %w", err)
	}
	return image, nil
}

func (r *ImageRepository) ExistsByStoragePath(ctx context.Context, storagePath string) (bool, error) {
	const query = `SELECT EXISTS (SELECT 1 FROM images WHERE storage_path = $1)`

	var exists bool
	if err := r.db.QueryRow(ctx, query, storagePath).Scan(&exists); err != nil {
		return false, fmt.Errorf("check storage path: %w", err)
	}
	return exists, nil
}

// List returns every record, newest first.
func (r *ImageRepository) List(ctx context.Context) ([]models.Image, error) {
	query := `SELECT ` + imageColumns + ` FROM images ORDER BY created_at DESC`
	return r.list(ctx, query)
}

func (r *ImageRepository) ListCreatedBefore(ctx context.Context, cutoff time.Time) ([]models.Image, error) {
	query := `SELECT ` + imageColumns + ` FROM images WHERE created_at < $1 ORDER BY created_at`
	return r.list(ctx, query, cutoff)
}

func (r *ImageRepository) Delete(ctx context.Context, id string) error {
	const query = `DELETE FROM images WHERE id = $1`

	cmd, err := r.db.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("delete image: %w", err)
	}
	if cmd.RowsAffected() == 0 {
		return ErrImageNotFound
	}
	return nil
}

func (r *ImageRepository) list(ctx context.Context, query string, args ...any) ([]models.Image, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list images: %w", err)
	}
	defer rows.Close()

	images := make([]models.Image, 0)
	for rows.Next() {
		image, err := scanImage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan image: %w", err)
		}
		images = append(images, image)
	}
	return images, rows.Err()
}

func scanImage(row pgx.Row) (models.Image, error) {
	var image models.Image
	err := row.Scan(
		&image.ID,
		&image.Filename,
		&image.MimeType,
		&image.Size,
		&image.StoragePath,
		&image.UserID,
		&image.CreatedAt,
	)
	return image, err
}
