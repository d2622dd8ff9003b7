package store

import (
	"context"

	"github.com/sportgrid/catalog-cli/internal/model"
)

// ProposalFilter specifies criteria for listing proposals.
type ProposalFilter struct {
	Status    model.ProposalStatus `json:"status,omitempty"`
	Kind      model.ProposalKind   `json:"kind,omitempty"`
	EventID   int64                `json:"event_id,omitempty"`
	EditionID int64                `json:"edition_id,omitempty"`
	Limit     int                  `json:"limit,omitempty"`
	Offset    int                  `json:"offset,omitempty"`
}

// Store is the persistence interface for proposals, application records, the
// catalog, and run statistics. Catalog Get methods and FindApplicationRecord
// return (nil, nil) when the row does not exist; GetProposal returns an
// error, since callers pass ids they were handed.
type Store interface {
	// Proposals
	CreateProposal(ctx context.Context, p *model.Proposal) error
	GetProposal(ctx context.Context, id string) (*model.Proposal, error)
	ListProposals(ctx context.Context, filter ProposalFilter) ([]model.Proposal, error)
	CountProposals(ctx context.Context, status model.ProposalStatus) (int, error)
	UpdateProposalStatus(ctx context.Context, id string, status model.ProposalStatus, reviewedBy string) error
	// ArchivePendingSiblings archives every still-pending proposal targeting
	// the same event and edition pair, except the one named, recording the
	// supersession reason. Returns the number of proposals archived.
	ArchivePendingSiblings(ctx context.Context, eventID, editionID int64, exceptID, reason string) (int, error)

	// Application records
	CreateApplicationRecord(ctx context.Context, rec *model.ApplicationRecord) error
	FindApplicationRecord(ctx context.Context, proposalID string, block model.Block) (*model.ApplicationRecord, error)

	// Catalog reads
	GetEvent(ctx context.Context, id int64) (*model.Event, error)
	GetEdition(ctx context.Context, id int64) (*model.Edition, error)
	ListRaces(ctx context.Context, editionID int64) ([]model.Race, error)
	FindOrganizerByName(ctx context.Context, name string) (*model.Organizer, error)
	SlugExists(ctx context.Context, slug string) (bool, error)

	// Catalog writes. Field maps use proposal field names; fields outside
	// the column tables are dropped. Only the named fields are touched.
	CreateEvent(ctx context.Context, fields map[string]any) (int64, error)
	CreateEdition(ctx context.Context, eventID int64, fields map[string]any) (int64, error)
	CreateRace(ctx context.Context, editionID int64, fields map[string]any) (int64, error)
	CreateOrganizer(ctx context.Context, fields map[string]any) (int64, error)
	UpdateEvent(ctx context.Context, id int64, fields map[string]any) error
	UpdateEdition(ctx context.Context, id int64, fields map[string]any) error
	UpdateRace(ctx context.Context, id int64, fields map[string]any) error
	UpdateOrganizer(ctx context.Context, id int64, fields map[string]any) error
	// ArchiveRace soft-deletes a race. Archiving a missing or already
	// archived race is a no-op.
	ArchiveRace(ctx context.Context, id int64) error

	// Run statistics: cumulative, increment-only, keyed by runner identity.
	IncrementRunStats(ctx context.Context, runner string, report model.RunReport) error
	GetRunStats(ctx context.Context, runner string) (*model.RunStats, error)
	ListRunStats(ctx context.Context) ([]model.RunStats, error)

	// WithTx runs fn against a transactional view of the store and commits
	// iff fn returns nil. A non-zero editionID serializes concurrent
	// application against the same edition. Nesting is not supported.
	WithTx(ctx context.Context, editionID int64, fn func(Store) error) error

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
