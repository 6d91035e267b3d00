package persephone

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/tartarus-sandbox/pythia/pkg/domain"
)

// HistoryStore persists daily site observations for forecasting and backtesting
type HistoryStore interface {
	// Save upserts a batch of observations; a later value for the same site-day replaces the earlier one
	Save(ctx context.Context, obs []domain.Observation) error

	// Load retrieves observations of every site within [start, end], ordered by site then date
	Load(ctx context.Context, start, end time.Time) ([]domain.Observation, error)

	// LoadSite retrieves one site's observations within [start, end], ordered by date
	LoadSite(ctx context.Context, site string, start, end time.Time) ([]domain.Observation, error)

	// Sites lists every site with stored history, sorted
	Sites(ctx context.Context) ([]string, error)

	// Prune removes observations dated before cutoff
	Prune(ctx context.Context, cutoff time.Time) error

	// Close closes the storage backend
	Close() error
}

// storedObservation is the compact wire form kept in Redis
type storedObservation struct {
	Date   int64   `msgpack:"d"`
	Volume float64 `msgpack:"v"`
}

// RedisHistoryStore stores one sorted set per site, scored by day
type RedisHistoryStore struct {
	client *redis.Client
	prefix string
}

func NewRedisHistoryStore(addr string, db int, password string) (*RedisHistoryStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		DB:       db,
		Password: password,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisHistoryStore{
		client: client,
		prefix: "pythia:history",
	}, nil
}

func (s *RedisHistoryStore) siteKey(site string) string {
	return s.prefix + ":site:" + site
}

func (s *RedisHistoryStore) sitesKey() string {
	return s.prefix + ":sites"
}

func dayScore(t time.Time) string {
	return strconv.FormatInt(domain.Day(t).Unix(), 10)
}

func (s *RedisHistoryStore) Save(ctx context.Context, obs []domain.Observation) error {
	if len(obs) == 0 {
		return nil
	}

	pipe := s.client.TxPipeline()
	for _, o := range obs {
		day := domain.Day(o.Date)
		data, err := msgpack.Marshal(storedObservation{Date: day.Unix(), Volume: o.Volume})
		if err != nil {
			return fmt.Errorf("failed to marshal observation: %w", err)
		}

		key := s.siteKey(o.SiteID)
		score := dayScore(day)
		pipe.ZRemRangeByScore(ctx, key, score, score)
		pipe.ZAdd(ctx, key, redis.Z{Score: float64(day.Unix()), Member: data})
		pipe.SAdd(ctx, s.sitesKey(), o.SiteID)
	}

	_, err := pipe.Exec(ctx)
	return err
}

func (s *RedisHistoryStore) LoadSite(ctx context.Context, site string, start, end time.Time) ([]domain.Observation, error) {
	results, err := s.client.ZRangeByScore(ctx, s.siteKey(site), &redis.ZRangeBy{
		Min: dayScore(start),
		Max: dayScore(end),
	}).Result()
	if err != nil {
		return nil, err
	}

	obs := make([]domain.Observation, 0, len(results))
	for _, data := range results {
		var stored storedObservation
		if err := msgpack.Unmarshal([]byte(data), &stored); err != nil {
			return nil, fmt.Errorf("corrupt observation for site %s: %w", site, err)
		}
		obs = append(obs, domain.Observation{
			SiteID: site,
			Date:   time.Unix(stored.Date, 0).UTC(),
			Volume: stored.Volume,
		})
	}
	return obs, nil
}

func (s *RedisHistoryStore) Load(ctx context.Context, start, end time.Time) ([]domain.Observation, error) {
	sites, err := s.Sites(ctx)
	if err != nil {
		return nil, err
	}

	var all []domain.Observation
	for _, site := range sites {
		obs, err := s.LoadSite(ctx, site, start, end)
		if err != nil {
			return nil, err
		}
		all = append(all, obs...)
	}
	return all, nil
}

func (s *RedisHistoryStore) Sites(ctx context.Context) ([]string, error) {
	members, err := s.client.SMembers(ctx, s.sitesKey()).Result()
	if err != nil {
		return nil, err
	}
	set := make(map[string]struct{}, len(members))
	for _, m := range members {
		set[m] = struct{}{}
	}
	return domain.SiteIDs(set), nil
}

func (s *RedisHistoryStore) Prune(ctx context.Context, cutoff time.Time) error {
	sites, err := s.Sites(ctx)
	if err != nil {
		return err
	}

	max := "(" + dayScore(cutoff)
	pipe := s.client.Pipeline()
	for _, site := range sites {
		pipe.ZRemRangeByScore(ctx, s.siteKey(site), "-inf", max)
	}
	_, err = pipe.Exec(ctx)
	return err
}

func (s *RedisHistoryStore) Close() error {
	return s.client.Close()
}

// LocalHistoryStore stores history in a single JSON file
type LocalHistoryStore struct {
	mu      sync.Mutex
	dataDir string
	file    string
}

func NewLocalHistoryStore(dataDir string) (*LocalHistoryStore, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	return &LocalHistoryStore{
		dataDir: dataDir,
		file:    filepath.Join(dataDir, "pythia_history.json"),
	}, nil
}

type siteDay struct {
	site string
	day  time.Time
}

func (s *LocalHistoryStore) Save(ctx context.Context, obs []domain.Observation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, err := s.loadFromFile()
	if err != nil {
		return err
	}

	index := make(map[siteDay]int, len(existing))
	for i, o := range existing {
		index[siteDay{o.SiteID, o.Date}] = i
	}
	for _, o := range obs {
		o.Date = domain.Day(o.Date)
		if i, ok := index[siteDay{o.SiteID, o.Date}]; ok {
			existing[i] = o
			continue
		}
		index[siteDay{o.SiteID, o.Date}] = len(existing)
		existing = append(existing, o)
	}

	domain.SortObservations(existing)
	return s.saveToFile(existing)
}

func (s *LocalHistoryStore) Load(ctx context.Context, start, end time.Time) ([]domain.Observation, error) {
	return s.filter(func(o domain.Observation) bool { return inRange(o.Date, start, end) })
}

func (s *LocalHistoryStore) LoadSite(ctx context.Context, site string, start, end time.Time) ([]domain.Observation, error) {
	return s.filter(func(o domain.Observation) bool { return o.SiteID == site && inRange(o.Date, start, end) })
}

func (s *LocalHistoryStore) Sites(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	all, err := s.loadFromFile()
	if err != nil {
		return nil, err
	}
	return domain.SiteIDs(domain.GroupBySite(all)), nil
}

func (s *LocalHistoryStore) Prune(ctx context.Context, cutoff time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	all, err := s.loadFromFile()
	if err != nil {
		return err
	}

	cutoff = domain.Day(cutoff)
	kept := make([]domain.Observation, 0, len(all))
	for _, o := range all {
		if !o.Date.Before(cutoff) {
			kept = append(kept, o)
		}
	}
	return s.saveToFile(kept)
}

func (s *LocalHistoryStore) Close() error {
	return nil
}

func (s *LocalHistoryStore) filter(keep func(domain.Observation) bool) ([]domain.Observation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	all, err := s.loadFromFile()
	if err != nil {
		return nil, err
	}

	filtered := make([]domain.Observation, 0, len(all))
	for _, o := range all {
		if keep(o) {
			filtered = append(filtered, o)
		}
	}
	return filtered, nil
}

func inRange(day, start, end time.Time) bool {
	return !day.Before(domain.Day(start)) && !day.After(domain.Day(end))
}

func (s *LocalHistoryStore) loadFromFile() ([]domain.Observation, error) {
	data, err := os.ReadFile(s.file)
	if err != nil {
		if os.IsNotExist(err) {
			return []domain.Observation{}, nil
		}
		return nil, err
	}

	var obs []domain.Observation
	if err := json.Unmarshal(data, &obs); err != nil {
		return nil, fmt.Errorf("failed to unmarshal history: %w", err)
	}
	return obs, nil
}

func (s *LocalHistoryStore) saveToFile(obs []domain.Observation) error {
	data, err := json.MarshalIndent(obs, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal history: %w", err)
	}

	tmp := s.file + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, s.file)
}
