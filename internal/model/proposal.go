package model

import (
	"time"
)

// ProposalKind distinguishes proposals that create a brand-new catalog
// record from proposals that update an existing one.
type ProposalKind string

const (
	ProposalKindNewRecord    ProposalKind = "new_record"
	ProposalKindRecordUpdate ProposalKind = "record_update"
)

// ProposalStatus is the lifecycle state of a proposal.
type ProposalStatus string

const (
	ProposalStatusPending           ProposalStatus = "pending"
	ProposalStatusApproved          ProposalStatus = "approved"
	ProposalStatusPartiallyApproved ProposalStatus = "partially_approved"
	ProposalStatusRejected          ProposalStatus = "rejected"
	ProposalStatusArchived          ProposalStatus = "archived"
)

// ChangeEntry is a single proposed field change. Old is informational only;
// New is authoritative unless a reviewer override replaces it.
type ChangeEntry struct {
	Old any `json:"old,omitempty"`
	New any `json:"new"`
}

// Proposal is a bundle of proposed changes against the catalog, produced by
// an extraction agent and optionally narrowed by a human reviewer. Proposals
// are never deleted, only archived.
type Proposal struct {
	ID        string         `json:"id"`
	Kind      ProposalKind   `json:"kind"`
	EventID   *int64         `json:"event_id,omitempty"`
	EditionID *int64         `json:"edition_id,omitempty"`
	Status    ProposalStatus `json:"status"`

	// Confidence is the extraction agent's overall confidence in [0,1].
	// Nil means the agent did not score the proposal.
	Confidence *float64 `json:"confidence,omitempty"`

	// Agent identifies the originating extraction agent.
	Agent string `json:"agent,omitempty"`

	// Justification carries free-form agent metadata. A "source" entry of
	// "internal" marks the proposal as internally sourced.
	Justification map[string]any `json:"justification,omitempty"`

	// Changes is the raw change payload as produced by the agent. Several
	// legacy shapes are accepted; see the changeset package.
	Changes map[string]any `json:"changes,omitempty"`

	// ApprovedBlocks gates application per block. An empty or nil map means
	// every block is implicitly approved.
	ApprovedBlocks map[string]bool `json:"approved_blocks,omitempty"`

	// UserOverrides holds reviewer-supplied values keyed by field name.
	// The reserved "raceEdits" key addresses races by id or by positional
	// placeholder; "racesToAddFiltered" excludes add entries by index.
	UserOverrides map[string]any `json:"user_overrides,omitempty"`

	ReviewedBy string     `json:"reviewed_by,omitempty"`
	ReviewedAt *time.Time `json:"reviewed_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// InternallySourced reports whether the proposal's justification metadata
// marks it as coming from an internal source.
func (p *Proposal) InternallySourced() bool {
	if p.Justification == nil {
		return false
	}
	src, _ := p.Justification["source"].(string)
	return src == "internal"
}
