package model

import "time"

// ApplicationStatus is the state of one per-block application attempt.
type ApplicationStatus string

const (
	ApplicationStatusPending ApplicationStatus = "pending"
	ApplicationStatusApplied ApplicationStatus = "applied"
	ApplicationStatusFailed  ApplicationStatus = "failed"
)

// ApplicationRecord is one row per (proposal, block) application attempt.
// A record that reaches Applied is immutable; its presence makes re-applying
// the same proposal a no-op for that block.
type ApplicationRecord struct {
	ID             string            `json:"id"`
	ProposalID     string            `json:"proposal_id"`
	Block          Block             `json:"block"`
	Status         ApplicationStatus `json:"status"`
	AppliedChanges map[string]any    `json:"applied_changes,omitempty"`
	Logs           []string          `json:"logs,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
	AppliedAt      *time.Time        `json:"applied_at,omitempty"`
}
