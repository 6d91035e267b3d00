package hades

import (
	"context"
	"sort"
	"sync"

	"github.com/tartarus-sandbox/pythia/pkg/domain"
)

type MemoryRegistry struct {
	mu       sync.RWMutex
	profiles map[string]domain.CapacityProfile
}

func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{profiles: make(map[string]domain.CapacityProfile)}
}

func (r *MemoryRegistry) List(ctx context.Context) ([]domain.CapacityProfile, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	list := make([]domain.CapacityProfile, 0, len(r.profiles))
	for _, p := range r.profiles {
		list = append(list, p)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].SiteID < list[j].SiteID })
	return list, nil
}

func (r *MemoryRegistry) Get(ctx context.Context, site string) (*domain.CapacityProfile, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.profiles[site]
	if !ok {
		return nil, &domain.UnknownSiteError{SiteID: site}
	}
	return &p, nil
}

func (r *MemoryRegistry) Put(ctx context.Context, profile domain.CapacityProfile) error {
	if err := validate(profile); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.profiles[profile.SiteID] = profile
	return nil
}

func (r *MemoryRegistry) Delete(ctx context.Context, site string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.profiles[site]; !ok {
		return &domain.UnknownSiteError{SiteID: site}
	}
	delete(r.profiles, site)
	return nil
}
