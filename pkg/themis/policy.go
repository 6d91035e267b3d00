package themis

import (
	"context"
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/tartarus-sandbox/pythia/pkg/moirai"
)

// ErrVersionConflict indicates a policy update based on a stale version.
var ErrVersionConflict = errors.New("policy version conflict")

// Policy is the risk policy of a run: tier cut points, the tier to action
// playbook and optional escalation rules.
type Policy struct {
	Version    int64           `json:"version" yaml:"version"`
	Thresholds Thresholds      `json:"thresholds" yaml:"thresholds"`
	Playbook   moirai.Playbook `json:"playbook,omitempty" yaml:"playbook,omitempty"`
	Rules      []moirai.Rule   `json:"rules,omitempty" yaml:"rules,omitempty"`
}

// DefaultPolicy returns the policy used when none has been stored.
func DefaultPolicy() *Policy {
	return &Policy{
		Thresholds: DefaultThresholds(),
		Playbook:   moirai.DefaultPlaybook(),
	}
}

// Compiled is a validated policy ready to classify and recommend.
type Compiled struct {
	Classifier  *Classifier
	Recommender *moirai.Recommender
}

// Compile validates every part of the policy. Missing playbook entries fall
// back to the defaults.
func (p *Policy) Compile() (*Compiled, error) {
	classifier, err := NewClassifier(p.Thresholds)
	if err != nil {
		return nil, err
	}

	rules, err := moirai.NewRuleSet(p.Rules)
	if err != nil {
		return nil, fmt.Errorf("invalid escalation rules: %w", err)
	}

	recommender, err := moirai.NewRecommender(p.Playbook.Merge(), rules)
	if err != nil {
		return nil, err
	}

	return &Compiled{Classifier: classifier, Recommender: recommender}, nil
}

// Validate reports whether the policy compiles.
func (p *Policy) Validate() error {
	_, err := p.Compile()
	return err
}

// LoadPolicyFile reads and validates a YAML policy.
func LoadPolicyFile(path string) (*Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read policy: %w", err)
	}
	return ParsePolicy(data)
}

// ParsePolicy decodes a YAML (or JSON) policy and validates it.
// Omitted thresholds take the defaults.
func ParsePolicy(data []byte) (*Policy, error) {
	p := DefaultPolicy()
	p.Playbook = nil
	if err := yaml.Unmarshal(data, p); err != nil {
		return nil, fmt.Errorf("failed to parse policy: %w", err)
	}
	for tier := range p.Playbook {
		if !tier.Valid() {
			return nil, fmt.Errorf("playbook has unknown tier %q", tier)
		}
	}
	p.Playbook = p.Playbook.Merge()

	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// Repository stores the active risk policy.
type Repository interface {
	// GetPolicy returns the stored policy, or DefaultPolicy at version 0.
	GetPolicy(ctx context.Context) (*Policy, error)
	// UpsertPolicy stores p when p.Version matches the stored version and then
	// increments p.Version.
	UpsertPolicy(ctx context.Context, p *Policy) error
}
