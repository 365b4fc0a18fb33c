package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"pixbin/internal/models"
)

var ErrUserNotFound = errors.New("user not found")

type UserRepository struct {
	db DBTX
}

func NewUserRepository(db DBTX) *UserRepository {
	return &UserRepository{db: db}
}

// Upsert creates the user for a provider identity or refreshes its
// profile fields. The stored id is kept on conflict and returned.
func (r *UserRepository) Upsert(ctx context.Context, user models.User) (models.User, error) {
	const query = `
		INSERT INTO users (id, provider, subject, email, name, avatar_url, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW(), NOW())
		ON CONFLICT (provider, subject)
		DO UPDATE SET
			email = EXCLUDED.email,
			name = EXCLUDED.name,
			avatar_url = EXCLUDED.avatar_url,
			updated_at = NOW()
		RETURNING id, provider, subject, email, name, avatar_url, created_at, updated_at
	`

	row := r.db.QueryRow(ctx, query,
		user.ID,
		user.Provider,
		user.Subject,
		user.Email,
		user.Name,
		user.AvatarURL,
	)
	saved, err := scanUser(row)
	if err != nil {
		return models.User{}, fmt.Errorf("upsert user: %w", err)
	}
	return saved, nil
}

func (r *UserRepository) GetByID(ctx context.Context, id string) (models.User, error) {
	const query = `
		SELECT id, provider, subject, email, name, avatar_url, created_at, updated_at
		FROM users WHERE id = $1
	`

	user, err := scanUser(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.User{}, ErrUserNotFound
		}
		return models.User{}, fmt.Errorf("get user: %w", err)
	}
	return user, nil
}

func scanUser(row pgx.Row) (models.User, error) {
	var user models.User
	err := row.Scan(
		&user.ID,
		&user.Provider,
		&user.Subject,
		&user.Email,
		&user.Name,
		&user.AvatarURL,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	return user, err
}
