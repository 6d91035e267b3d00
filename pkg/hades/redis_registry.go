package hades

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/tartarus-sandbox/pythia/pkg/domain"
)

const capacityKey = "pythia:capacity"

// RedisRegistry keeps every profile as one field of a Redis hash.
type RedisRegistry struct {
	client *redis.Client
}

func NewRedisRegistry(addr string, db int, password string) (*RedisRegistry, error) {
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

	return &RedisRegistry{client: client}, nil
}

func (r *RedisRegistry) List(ctx context.Context) ([]domain.CapacityProfile, error) {
	fields, err := r.client.HGetAll(ctx, capacityKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list capacity profiles: %w", err)
	}

	list := make([]domain.CapacityProfile, 0, len(fields))
	for site, raw := range fields {
		capacity, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, fmt.Errorf("corrupt capacity for site %s: %w", site, err)
		}
		list = append(list, domain.CapacityProfile{SiteID: site, Capacity: capacity})
	}
	sort.Slice(list, func(i, j int) bool { return list[i].SiteID < list[j].SiteID })
	return list, nil
}

func (r *RedisRegistry) Get(ctx context.Context, site string) (*domain.CapacityProfile, error) {
	raw, err := r.client.HGet(ctx, capacityKey, site).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, &domain.UnknownSiteError{SiteID: site}
		}
		return nil, fmt.Errorf("failed to get capacity profile: %w", err)
	}

	capacity, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return nil, fmt.Errorf("corrupt capacity for site %s: %w", site, err)
	}
	return &domain.CapacityProfile{SiteID: site, Capacity: capacity}, nil
}

func (r *RedisRegistry) Put(ctx context.Context, profile domain.CapacityProfile) error {
	if err := validate(profile); err != nil {
		return err
	}
	value := strconv.FormatFloat(profile.Capacity, 'g', -1, 64)
	if err := r.client.HSet(ctx, capacityKey, profile.SiteID, value).Err(); err != nil {
		return fmt.Errorf("failed to store capacity profile: %w", err)
	}
	return nil
}

func (r *RedisRegistry) Delete(ctx context.Context, site string) error {
	n, err := r.client.HDel(ctx, capacityKey, site).Result()
	if err != nil {
		return fmt.Errorf("failed to delete capacity profile: %w", err)
	}
	if n == 0 {
		return &domain.UnknownSiteError{SiteID: site}
	}
	return nil
}

func (r *RedisRegistry) Close() error {
	return r.client.Close()
}
