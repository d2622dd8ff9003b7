package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sportgrid/catalog-cli/internal/model"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func ptr[T any](v T) *T { return &v }

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	st, err := NewSQLite(filepath.Join(t.TempDir(), "catalog.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func TestSQLite_ProposalRoundTrip(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	p := &model.Proposal{
		ID:         "prop-1",
		Kind:       model.ProposalKindRecordUpdate,
		EventID:    ptr(int64(1)),
		EditionID:  ptr(int64(2)),
		Confidence: ptr(0.92),
		Agent:      "web-crawler",
		Justification: map[string]any{
			"source": "internal",
		},
		Changes: map[string]any{
			"name":  "Lakefront Marathon",
			"races": []any{map[string]any{"name": "10K"}},
		},
		ApprovedBlocks: map[string]bool{"event": true},
		UserOverrides:  map[string]any{"name": "Override"},
	}
	require.NoError(t, st.CreateProposal(ctx, p))

	got, err := st.GetProposal(ctx, "prop-1")
	require.NoError(t, err)
	assert.Equal(t, model.ProposalKindRecordUpdate, got.Kind)
	assert.Equal(t, model.ProposalStatusPending, got.Status)
	assert.Equal(t, int64(1), *got.EventID)
	assert.Equal(t, 0.92, *got.Confidence)
	assert.Equal(t, "internal", got.Justification["source"])
	assert.Equal(t, "Lakefront Marathon", got.Changes["name"])
	assert.True(t, got.ApprovedBlocks["event"])
	assert.Equal(t, "Override", got.UserOverrides["name"])
	assert.True(t, got.InternallySourced())
}

func TestSQLite_GetProposalMissing(t *testing.T) {
	st := newTestStore(t)
	_, err := st.GetProposal(context.Background(), "nope")
	assert.Error(t, err)
}

func TestSQLite_ListProposalsFilter(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	for _, p := range []*model.Proposal{
		{ID: "a", Kind: model.ProposalKindRecordUpdate, EventID: ptr(int64(1)), EditionID: ptr(int64(2))},
		{ID: "b", Kind: model.ProposalKindNewRecord},
		{ID: "c", Kind: model.ProposalKindRecordUpdate, EventID: ptr(int64(1)), EditionID: ptr(int64(3)),
			Status: model.ProposalStatusApproved},
	} {
		require.NoError(t, st.CreateProposal(ctx, p))
	}

	pending, err := st.ListProposals(ctx, ProposalFilter{Status: model.ProposalStatusPending})
	require.NoError(t, err)
	assert.Len(t, pending, 2)

	byEdition, err := st.ListProposals(ctx, ProposalFilter{EventID: 1, EditionID: 2})
	require.NoError(t, err)
	require.Len(t, byEdition, 1)
	assert.Equal(t, "a", byEdition[0].ID)

	n, err := st.CountProposals(ctx, model.ProposalStatusApproved)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestSQLite_UpdateProposalStatus(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, st.CreateProposal(ctx, &model.Proposal{ID: "a", Kind: model.ProposalKindRecordUpdate}))
	require.NoError(t, st.UpdateProposalStatus(ctx, "a", model.ProposalStatusApproved, "tester"))

	got, err := st.GetProposal(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, model.ProposalStatusApproved, got.Status)
	assert.Equal(t, "tester", got.ReviewedBy)
	assert.NotNil(t, got.ReviewedAt)

	assert.Error(t, st.UpdateProposalStatus(ctx, "missing", model.ProposalStatusApproved, "tester"))
}

func TestSQLite_ArchivePendingSiblings(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	mk := func(id string, editionID int64, status model.ProposalStatus) {
		p := &model.Proposal{
			ID: id, Kind: model.ProposalKindRecordUpdate,
			EventID: ptr(int64(1)), EditionID: ptr(editionID), Status: status,
		}
		require.NoError(t, st.CreateProposal(ctx, p))
	}
	mk("winner", 2, model.ProposalStatusPending)
	mk("stale", 2, model.ProposalStatusPending)
	mk("done", 2, model.ProposalStatusApproved)
	mk("other-edition", 3, model.ProposalStatusPending)

	n, err := st.ArchivePendingSiblings(ctx, 1, 2, "winner", "superseded by proposal winner")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	stale, err := st.GetProposal(ctx, "stale")
	require.NoError(t, err)
	assert.Equal(t, model.ProposalStatusArchived, stale.Status)

	winner, err := st.GetProposal(ctx, "winner")
	require.NoError(t, err)
	assert.Equal(t, model.ProposalStatusPending, winner.Status)
}

func TestSQLite_ApplicationRecords(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, st.CreateProposal(ctx, &model.Proposal{ID: "p1", Kind: model.ProposalKindRecordUpdate}))

	missing, err := st.FindApplicationRecord(ctx, "p1", model.BlockEvent)
	require.NoError(t, err)
	assert.Nil(t, missing)

	rec := &model.ApplicationRecord{
		ID:             "rec-1",
		ProposalID:     "p1",
		Block:          model.BlockEvent,
		Status:         model.ApplicationStatusApplied,
		AppliedChanges: map[string]any{"name": "New Name"},
		Logs:           []string{"updated event 1"},
	}
	require.NoError(t, st.CreateApplicationRecord(ctx, rec))

	got, err := st.FindApplicationRecord(ctx, "p1", model.BlockEvent)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, model.ApplicationStatusApplied, got.Status)
	assert.Equal(t, "New Name", got.AppliedChanges["name"])
	assert.Equal(t, []string{"updated event 1"}, got.Logs)

	// The (proposal, block) pair is unique.
	dup := *rec
	dup.ID = "rec-2"
	assert.Error(t, st.CreateApplicationRecord(ctx, &dup))
}

func TestSQLite_EventCRUDAndFieldMapping(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	id, err := st.CreateEvent(ctx, map[string]any{
		"name":         "Lakefront Marathon",
		"slug":         "lakefront-marathon",
		"websiteUrl":   "https://lakefront.example.com",
		"countryCode":  "US",
		"unknownField": "dropped silently",
	})
	require.NoError(t, err)

	ev, err := st.GetEvent(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, ev)
	assert.Equal(t, "Lakefront Marathon", ev.Name)
	assert.Equal(t, "https://lakefront.example.com", ev.WebsiteURL)

	require.NoError(t, st.UpdateEvent(ctx, id, map[string]any{"city": "Milwaukee"}))
	ev, err = st.GetEvent(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "Milwaukee", ev.City)
	// Untouched fields survive partial updates.
	assert.Equal(t, "Lakefront Marathon", ev.Name)

	missing, err := st.GetEvent(ctx, 9999)
	require.NoError(t, err)
	assert.Nil(t, missing)

	exists, err := st.SlugExists(ctx, "lakefront-marathon")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestSQLite_EditionAndOrganizer(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	eventID, err := st.CreateEvent(ctx, map[string]any{"name": "Ev", "slug": "ev"})
	require.NoError(t, err)

	editionID, err := st.CreateEdition(ctx, eventID, map[string]any{
		"year":         2026,
		"customerType": "premium",
	})
	require.NoError(t, err)

	orgID, err := st.CreateOrganizer(ctx, map[string]any{
		"organizerName":  "Acme Racing",
		"organizerEmail": "info@acme.example.com",
	})
	require.NoError(t, err)
	require.NoError(t, st.UpdateEdition(ctx, editionID, map[string]any{"organizerId": orgID}))

	ed, err := st.GetEdition(ctx, editionID)
	require.NoError(t, err)
	require.NotNil(t, ed)
	assert.Equal(t, eventID, ed.EventID)
	assert.Equal(t, 2026, ed.Year)
	assert.True(t, ed.Premium())
	require.NotNil(t, ed.OrganizerID)
	assert.Equal(t, orgID, *ed.OrganizerID)

	org, err := st.FindOrganizerByName(ctx, "acme racing")
	require.NoError(t, err)
	require.NotNil(t, org)
	assert.Equal(t, orgID, org.ID)

	none, err := st.FindOrganizerByName(ctx, "nobody")
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestSQLite_RaceLifecycle(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	eventID, err := st.CreateEvent(ctx, map[string]any{"name": "Ev", "slug": "ev"})
	require.NoError(t, err)
	editionID, err := st.CreateEdition(ctx, eventID, map[string]any{"year": 2026})
	require.NoError(t, err)

	raceID, err := st.CreateRace(ctx, editionID, map[string]any{
		"name":           "10K",
		"distanceMeters": 10000.0,
	})
	require.NoError(t, err)

	require.NoError(t, st.UpdateRace(ctx, raceID, map[string]any{"name": "10K Classic"}))
	require.NoError(t, st.ArchiveRace(ctx, raceID))
	// Archiving again, or archiving a missing race, is a no-op.
	require.NoError(t, st.ArchiveRace(ctx, raceID))
	require.NoError(t, st.ArchiveRace(ctx, 424242))

	races, err := st.ListRaces(ctx, editionID)
	require.NoError(t, err)
	require.Len(t, races, 1)
	assert.Equal(t, "10K Classic", races[0].Name)
	assert.True(t, races[0].Archived)
	assert.NotNil(t, races[0].ArchivedAt)
}

func TestSQLite_RunStatsAccumulate(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	report := model.RunReport{
		Analyzed: 5, Validated: 2, Ignored: 2, Failures: 1,
		Excluded: map[model.ExclusionReason]int{
			model.ExclusionLowConfidence: 1,
			model.ExclusionNewRaces:      1,
		},
	}
	require.NoError(t, st.IncrementRunStats(ctx, "validator.auto", report))
	require.NoError(t, st.IncrementRunStats(ctx, "validator.auto", report))

	stats, err := st.GetRunStats(ctx, "validator.auto")
	require.NoError(t, err)
	require.NotNil(t, stats)
	assert.Equal(t, int64(10), stats.Analyzed)
	assert.Equal(t, int64(4), stats.Validated)
	assert.Equal(t, int64(2), stats.Excluded[model.ExclusionLowConfidence])
	assert.Equal(t, int64(2), stats.Excluded[model.ExclusionNewRaces])
	assert.Equal(t, int64(0), stats.Excluded[model.ExclusionFeaturedEvent])

	none, err := st.GetRunStats(ctx, "unknown")
	require.NoError(t, err)
	assert.Nil(t, none)

	all, err := st.ListRunStats(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestSQLite_WithTxCommitAndRollback(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	err := st.WithTx(ctx, 0, func(tx Store) error {
		_, err := tx.CreateEvent(ctx, map[string]any{"name": "Committed", "slug": "committed"})
		return err
	})
	require.NoError(t, err)

	exists, err := st.SlugExists(ctx, "committed")
	require.NoError(t, err)
	assert.True(t, exists)

	err = st.WithTx(ctx, 0, func(tx Store) error {
		if _, err := tx.CreateEvent(ctx, map[string]any{"name": "Doomed", "slug": "doomed"}); err != nil {
			return err
		}
		return assert.AnError
	})
	assert.Error(t, err)

	exists, err = st.SlugExists(ctx, "doomed")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestSQLite_NestedTxRejected(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	err := st.WithTx(ctx, 0, func(tx Store) error {
		return tx.WithTx(ctx, 0, func(Store) error { return nil })
	})
	assert.Error(t, err)
}

func TestSQLite_BulkCreateProposals(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	n, err := st.BulkCreateProposals(ctx, []model.Proposal{
		{ID: "b1", Kind: model.ProposalKindRecordUpdate, Changes: map[string]any{"name": "A"}},
		{ID: "b2", Kind: model.ProposalKindNewRecord, Changes: map[string]any{"name": "B"}},
		{ID: "b3", Kind: model.ProposalKindRecordUpdate, Changes: map[string]any{"name": "C"}},
	})
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	count, err := st.CountProposals(ctx, model.ProposalStatusPending)
	require.NoError(t, err)
	assert.Equal(t, 3, count)
}

func TestSQLite_BulkCreateProposalsRollsBackOnDuplicate(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	_, err := st.BulkCreateProposals(ctx, []model.Proposal{
		{ID: "dup", Kind: model.ProposalKindRecordUpdate},
		{ID: "dup", Kind: model.ProposalKindRecordUpdate},
	})
	assert.Error(t, err)

	count, err := st.CountProposals(ctx, model.ProposalStatusPending)
	require.NoError(t, err)
	assert.Zero(t, count)
}
