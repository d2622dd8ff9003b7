// Package report exposes point-in-time snapshots of proposal queue depth and
// cumulative validation statistics for the stats command and the HTTP surface.
package report

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sportgrid/catalog-cli/internal/model"
	"github.com/sportgrid/catalog-cli/internal/store"
)

// Snapshot holds a point-in-time view of the proposal queue and run counters.
type Snapshot struct {
	// Queue depth by proposal status.
	Pending           int `json:"pending"`
	Approved          int `json:"approved"`
	PartiallyApproved int `json:"partially_approved"`
	Rejected          int `json:"rejected"`
	Archived          int `json:"archived"`

	// Cumulative counters per runner identity.
	Runs []model.RunStats `json:"runs"`

	CollectedAt time.Time `json:"collected_at"`
}

// Collector gathers snapshots from the store.
type Collector struct {
	store store.Store
}

// NewCollector creates a new snapshot collector.
func NewCollector(st store.Store) *Collector {
	return &Collector{store: st}
}

// Collect gathers the current snapshot.
func (c *Collector) Collect(ctx context.Context) (*Snapshot, error) {
	snap := &Snapshot{CollectedAt: time.Now().UTC()}

	counts := []struct {
		status model.ProposalStatus
		dst    *int
	}{
		{model.ProposalStatusPending, &snap.Pending},
		{model.ProposalStatusApproved, &snap.Approved},
		{model.ProposalStatusPartiallyApproved, &snap.PartiallyApproved},
		{model.ProposalStatusRejected, &snap.Rejected},
		{model.ProposalStatusArchived, &snap.Archived},
	}
	for _, ct := range counts {
		n, err := c.store.CountProposals(ctx, ct.status)
		if err != nil {
			return nil, eris.Wrapf(err, "report: count %s proposals", ct.status)
		}
		*ct.dst = n
	}

	runs, err := c.store.ListRunStats(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "report: list run stats")
	}
	snap.Runs = runs

	return snap, nil
}
