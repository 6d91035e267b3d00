package hades

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/tartarus-sandbox/pythia/pkg/domain"
)

// LocalRegistry keeps capacity profiles in a JSON file so the CLI can
// ingest capacities once and run later.
type LocalRegistry struct {
	mu   sync.Mutex
	file string
}

func NewLocalRegistry(dataDir string) (*LocalRegistry, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	return &LocalRegistry{file: filepath.Join(dataDir, "pythia_capacities.json")}, nil
}

func (r *LocalRegistry) List(ctx context.Context) ([]domain.CapacityProfile, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	profiles, err := r.load()
	if err != nil {
		return nil, err
	}
	list := make([]domain.CapacityProfile, 0, len(profiles))
	for _, p := range profiles {
		list = append(list, p)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].SiteID < list[j].SiteID })
	return list, nil
}

func (r *LocalRegistry) Get(ctx context.Context, site string) (*domain.CapacityProfile, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	profiles, err := r.load()
	if err != nil {
		return nil, err
	}
	p, ok := profiles[site]
	if !ok {
		return nil, &domain.UnknownSiteError{SiteID: site}
	}
	return &p, nil
}

func (r *LocalRegistry) Put(ctx context.Context, profile domain.CapacityProfile) error {
	if err := validate(profile); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	profiles, err := r.load()
	if err != nil {
		return err
	}
	profiles[profile.SiteID] = profile
	return r.save(profiles)
}

func (r *LocalRegistry) Delete(ctx context.Context, site string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	profiles, err := r.load()
	if err != nil {
		return err
	}
	if _, ok := profiles[site]; !ok {
		return &domain.UnknownSiteError{SiteID: site}
	}
	delete(profiles, site)
	return r.save(profiles)
}

func (r *LocalRegistry) Close() error {
	return nil
}

func (r *LocalRegistry) load() (map[string]domain.CapacityProfile, error) {
	profiles := make(map[string]domain.CapacityProfile)
	data, err := os.ReadFile(r.file)
	if err != nil {
		if os.IsNotExist(err) {
			return profiles, nil
		}
		return nil, err
	}
	if err := json.Unmarshal(data, &profiles); err != nil {
		return nil, fmt.Errorf("failed to unmarshal capacities: %w", err)
	}
	return profiles, nil
}

func (r *LocalRegistry) save(profiles map[string]domain.CapacityProfile) error {
	data, err := json.MarshalIndent(profiles, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal capacities: %w", err)
	}
	tmp := r.file + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, r.file)
}
