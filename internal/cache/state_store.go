package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var ErrStateNotFound = errors.New("oauth state not found")

const statePrefix = "oauth:state:"

// StateStore keeps pending OAuth logins keyed by their state parameter.
// Each state can be taken once.
type StateStore struct {
	client *redis.Client
}

func NewStateStore(client *redis.Client) *StateStore {
	return &StateStore{client: client}
}

func (s *StateStore) Save(ctx context.Context, state string, next string, ttl time.Duration) error {
	ok, err := s.client.SetNX(ctx, statePrefix+state, next, ttl).Result()
	if err != nil {
		return fmt.Errorf("save oauth state: %w", err)
	}
	if !ok {
		return fmt.Errorf("save oauth state: duplicate state")
	}
	return nil
}

func (s *StateStore) Take(ctx context.Context, state string) (string, error) {
	next, err := s.client.GetDel(ctx, statePrefix+state).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", ErrStateNotFound
		}
		return "", fmt.Errorf("take oauth state: %w", err)
	}
	return next, nil
}
