package audit

import (
	"time"
)

// Action is the kind of run event being audited.
type Action string

const (
	ActionRunStarted      Action = "run_started"
	ActionRunCompleted    Action = "run_completed"
	ActionSiteExcluded    Action = "site_excluded"
	ActionPolicyUpdated   Action = "policy_updated"
	ActionCapacityUpdated Action = "capacity_updated"
	ActionIngested        Action = "observations_ingested"
)

// Result represents the outcome of the action.
type Result string

const (
	ResultSuccess Result = "success"
	ResultError   Result = "error"
)

// Event is a single audit record. Exclusions and run outcomes are recorded
// here so that every mitigation decision can be traced back to its run.
type Event struct {
	ID           string         `json:"id"`
	RunID        string         `json:"run_id,omitempty"`
	Timestamp    time.Time      `json:"timestamp"`
	Action       Action         `json:"action"`
	Result       Result         `json:"result"`
	SiteID       string         `json:"site_id,omitempty"`
	Stage        string         `json:"stage,omitempty"`
	Actor        string         `json:"actor,omitempty"`
	Message      string         `json:"message,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	PreviousHash string         `json:"previous_hash,omitempty"`
	Hash         string         `json:"hash,omitempty"`
}
