package themis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const policyKey = "pythia:policy"

// RedisRepo is a Redis-backed implementation of the Repository interface.
type RedisRepo struct {
	client *redis.Client
}

// NewRedisRepo creates a new Redis-backed policy repository.
func NewRedisRepo(addr string, db int, password string) (*RedisRepo, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisRepo{client: client}, nil
}

// GetPolicy retrieves the stored policy, or the default one.
func (r *RedisRepo) GetPolicy(ctx context.Context) (*Policy, error) {
	val, err := r.client.Get(ctx, policyKey).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return DefaultPolicy(), nil
		}
		return nil, fmt.Errorf("failed to get policy: %w", err)
	}

	var policy Policy
	if err := json.Unmarshal([]byte(val), &policy); err != nil {
		return nil, fmt.Errorf("failed to unmarshal policy: %w", err)
	}
	return &policy, nil
}

// UpsertPolicy stores the policy using optimistic locking. The caller passes
// the version it read; the stored copy is saved as that version plus one.
func (r *RedisRepo) UpsertPolicy(ctx context.Context, p *Policy) error {
	if err := p.Validate(); err != nil {
		return err
	}

	err := r.client.Watch(ctx, func(tx *redis.Tx) error {
		val, err := tx.Get(ctx, policyKey).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}

		var currentVersion int64
		if err == nil {
			var existing Policy
			if err := json.Unmarshal([]byte(val), &existing); err != nil {
				return err
			}
			currentVersion = existing.Version
		}

		if p.Version != currentVersion {
			return fmt.Errorf("%w: expected %d, got %d", ErrVersionConflict, currentVersion, p.Version)
		}

		next := *p
		next.Version++
		data, err := json.Marshal(&next)
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, policyKey, data, 0)
			return nil
		})
		return err
	}, policyKey)

	if err != nil {
		if errors.Is(err, redis.TxFailedErr) {
			return fmt.Errorf("optimistic lock failed: %w", ErrVersionConflict)
		}
		if errors.Is(err, ErrVersionConflict) {
			return err
		}
		return fmt.Errorf("failed to upsert policy: %w", err)
	}

	p.Version++
	return nil
}

func (r *RedisRepo) Close() error {
	return r.client.Close()
}
