package themis

import (
	"context"
	"fmt"
	"sync"

	"github.com/tartarus-sandbox/pythia/pkg/moirai"
)

// MemoryRepo is an in-memory implementation of the Repository interface.
type MemoryRepo struct {
	mu     sync.RWMutex
	policy *Policy
}

// NewMemoryRepo creates a new in-memory policy repository.
func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{}
}

// GetPolicy returns a copy of the stored policy, or the default one.
func (r *MemoryRepo) GetPolicy(ctx context.Context) (*Policy, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.policy == nil {
		return DefaultPolicy(), nil
	}
	return clonePolicy(r.policy), nil
}

// UpsertPolicy validates and stores p with optimistic versioning.
func (r *MemoryRepo) UpsertPolicy(ctx context.Context, p *Policy) error {
	if err := p.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	var current int64
	if r.policy != nil {
		current = r.policy.Version
	}
	if p.Version != current {
		return fmt.Errorf("%w: expected %d, got %d", ErrVersionConflict, current, p.Version)
	}

	p.Version++
	r.policy = clonePolicy(p)
	return nil
}

func clonePolicy(p *Policy) *Policy {
	out := *p
	if p.Playbook != nil {
		out.Playbook = make(moirai.Playbook, len(p.Playbook))
		for k, v := range p.Playbook {
			out.Playbook[k] = v
		}
	}
	out.Rules = append(out.Rules[:0:0], p.Rules...)
	return &out
}
