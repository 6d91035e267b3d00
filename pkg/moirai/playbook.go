package moirai

import (
	"fmt"

	"github.com/tartarus-sandbox/pythia/pkg/domain"
)

// Playbook maps each tier to its base mitigation action.
type Playbook map[domain.Tier]string

// DefaultPlaybook is the mitigation table used when no policy overrides it.
func DefaultPlaybook() Playbook {
	return Playbook{
		domain.TierGreen:  "monitor",
		domain.TierYellow: "prepare contingency staffing/routing",
		domain.TierRed:    "activate overflow capacity / escalate",
	}
}

// Validate requires an action for every tier and rejects unknown tiers.
func (p Playbook) Validate() error {
	for tier := range p {
		if !tier.Valid() {
			return fmt.Errorf("playbook has unknown tier %q", tier)
		}
	}
	for _, tier := range []domain.Tier{domain.TierGreen, domain.TierYellow, domain.TierRed} {
		if p[tier] == "" {
			return fmt.Errorf("playbook has no action for tier %s", tier)
		}
	}
	return nil
}

// Merge returns the default playbook overlaid with the non-empty entries of p.
func (p Playbook) Merge() Playbook {
	out := DefaultPlaybook()
	for tier, action := range p {
		if action != "" {
			out[tier] = action
		}
	}
	return out
}
