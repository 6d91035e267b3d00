package hades

import (
	"context"

	"github.com/tartarus-sandbox/pythia/pkg/domain"
)

// Registry holds the fixed capacity profile of every site.
type Registry interface {
	List(ctx context.Context) ([]domain.CapacityProfile, error)
	Get(ctx context.Context, site string) (*domain.CapacityProfile, error)
	Put(ctx context.Context, profile domain.CapacityProfile) error
	Delete(ctx context.Context, site string) error
}

// Snapshot returns every profile keyed by site, the form the capacity evaluator consumes.
func Snapshot(ctx context.Context, r Registry) (map[string]domain.CapacityProfile, error) {
	list, err := r.List(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string]domain.CapacityProfile, len(list))
	for _, p := range list {
		out[p.SiteID] = p
	}
	return out, nil
}

// PutAll stores a batch of profiles, stopping at the first invalid one.
func PutAll(ctx context.Context, r Registry, profiles []domain.CapacityProfile) error {
	for _, p := range profiles {
		if err := r.Put(ctx, p); err != nil {
			return err
		}
	}
	return nil
}

func validate(p domain.CapacityProfile) error {
	_, err := domain.NewCapacityProfile(p.SiteID, p.Capacity)
	return err
}
