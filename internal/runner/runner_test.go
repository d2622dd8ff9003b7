package runner

import (
	"context"
	"fmt"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sportgrid/catalog-cli/internal/apply"
	"github.com/sportgrid/catalog-cli/internal/gate"
	"github.com/sportgrid/catalog-cli/internal/model"
	"github.com/sportgrid/catalog-cli/internal/store"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func ptr[T any](v T) *T { return &v }

// runnerStore stubs the listing, catalog reads, and stats methods the runner
// touches. Everything else is unreachable from Run.
type runnerStore struct {
	store.Store

	pending  []model.Proposal
	listErrs int

	events   map[int64]*model.Event
	editions map[int64]*model.Edition

	statsRunner string
	statsReport *model.RunReport
}

func (s *runnerStore) ListProposals(_ context.Context, filter store.ProposalFilter) ([]model.Proposal, error) {
	if s.listErrs > 0 {
		s.listErrs--
		return nil, fmt.Errorf("database is locked")
	}
	if filter.Limit > 0 && len(s.pending) > filter.Limit {
		return s.pending[:filter.Limit], nil
	}
	return s.pending, nil
}

func (s *runnerStore) GetEvent(_ context.Context, id int64) (*model.Event, error) {
	return s.events[id], nil
}

func (s *runnerStore) GetEdition(_ context.Context, id int64) (*model.Edition, error) {
	return s.editions[id], nil
}

func (s *runnerStore) IncrementRunStats(_ context.Context, runner string, report model.RunReport) error {
	s.statsRunner = runner
	s.statsReport = &report
	return nil
}

type fakeApplier struct {
	applied []string
	failIDs map[string]bool
}

func (a *fakeApplier) Apply(_ context.Context, p *model.Proposal) (*apply.Result, error) {
	if a.failIDs[p.ID] {
		return nil, fmt.Errorf("apply failed for %s", p.ID)
	}
	a.applied = append(a.applied, p.ID)
	return &apply.Result{ProposalID: p.ID, Status: model.ProposalStatusApproved}, nil
}

func pol() gate.Policy {
	return gate.Policy{MinConfidence: 0.85, ValidateEdition: true, ValidateOrganizer: true, ValidateRaces: true}
}

func TestRun_MixedOutcomes(t *testing.T) {
	st := &runnerStore{
		events: map[int64]*model.Event{
			7: {ID: 7, IsFeatured: true},
		},
		pending: []model.Proposal{
			{ID: "ok-1", Status: model.ProposalStatusPending, Confidence: ptr(0.9),
				Changes: map[string]any{"name": "A"}},
			{ID: "low-conf", Status: model.ProposalStatusPending, Confidence: ptr(0.5),
				Changes: map[string]any{"name": "B"}},
			{ID: "featured", Status: model.ProposalStatusPending, EventID: ptr(int64(7)),
				Changes: map[string]any{"name": "C"}},
			{ID: "fails", Status: model.ProposalStatusPending, Confidence: ptr(0.95),
				Changes: map[string]any{"name": "D"}},
			{ID: "ok-2", Status: model.ProposalStatusPending,
				Changes: map[string]any{"name": "E"}},
		},
	}
	applier := &fakeApplier{failIDs: map[string]bool{"fails": true}}

	r := New(st, applier, pol(), Options{})
	report, err := r.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 5, report.Analyzed)
	assert.Equal(t, 2, report.Validated)
	assert.Equal(t, 2, report.Ignored)
	assert.Equal(t, 1, report.Failures)
	assert.Equal(t, 1, report.Excluded[model.ExclusionLowConfidence])
	assert.Equal(t, 1, report.Excluded[model.ExclusionFeaturedEvent])

	sort.Strings(applier.applied)
	assert.Equal(t, []string{"ok-1", "ok-2"}, applier.applied)

	// Stats were persisted under the default identity.
	assert.Equal(t, DefaultIdentity, st.statsRunner)
	require.NotNil(t, st.statsReport)
	assert.Equal(t, 5, st.statsReport.Analyzed)
}

func TestRun_PageSizeBoundsWork(t *testing.T) {
	var pending []model.Proposal
	for i := 0; i < 10; i++ {
		pending = append(pending, model.Proposal{
			ID:      fmt.Sprintf("p%d", i),
			Status:  model.ProposalStatusPending,
			Changes: map[string]any{"name": "X"},
		})
	}
	st := &runnerStore{pending: pending}
	applier := &fakeApplier{}

	r := New(st, applier, pol(), Options{PageSize: 3})
	report, err := r.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 3, report.Analyzed)
	assert.Len(t, applier.applied, 3)
}

func TestRun_ListRetriesTransientFailure(t *testing.T) {
	st := &runnerStore{
		listErrs: 1,
		pending: []model.Proposal{
			{ID: "p1", Status: model.ProposalStatusPending, Changes: map[string]any{"name": "A"}},
		},
	}
	applier := &fakeApplier{}

	r := New(st, applier, pol(), Options{})
	report, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Validated)
}

func TestRun_DryRunSkipsStats(t *testing.T) {
	st := &runnerStore{
		pending: []model.Proposal{
			{ID: "p1", Status: model.ProposalStatusPending, Changes: map[string]any{"name": "A"}},
		},
	}
	applier := &fakeApplier{}

	r := New(st, applier, pol(), Options{DryRun: true})
	report, err := r.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, report.Validated)
	assert.Empty(t, st.statsRunner)
	assert.Nil(t, st.statsReport)
}

func TestRun_EmptyQueue(t *testing.T) {
	st := &runnerStore{}
	r := New(st, &fakeApplier{}, pol(), Options{})

	report, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, report.Analyzed)
}
