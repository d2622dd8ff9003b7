// Package apply executes a proposal's consolidated change set and race plan
// against the catalog store inside one transaction, with idempotent per-block
// bookkeeping.
package apply

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sportgrid/catalog-cli/internal/changeset"
	"github.com/sportgrid/catalog-cli/internal/consolidate"
	"github.com/sportgrid/catalog-cli/internal/model"
	"github.com/sportgrid/catalog-cli/internal/raceops"
	"github.com/sportgrid/catalog-cli/internal/store"
)

// Executor applies proposals. It is stateless between invocations; all shared
// state lives in the store.
type Executor struct {
	store  store.Store
	actor  string
	dryRun bool
}

// NewExecutor builds an Executor. actor is recorded as the reviewer identity
// on status transitions.
func NewExecutor(st store.Store, actor string, dryRun bool) *Executor {
	return &Executor{store: st, actor: actor, dryRun: dryRun}
}

// Result summarizes one application pass.
type Result struct {
	ProposalID       string                `json:"proposal_id"`
	Status           model.ProposalStatus  `json:"status"`
	ChangedBlocks    []model.Block         `json:"changed_blocks,omitempty"`
	AppliedBlocks    []model.Block         `json:"applied_blocks,omitempty"`
	Fields           map[string]any        `json:"fields,omitempty"`
	RacesArchived    int                   `json:"races_archived"`
	RacesUpdated     int                   `json:"races_updated"`
	RacesAdded       int                   `json:"races_added"`
	CreatedEventID   int64                 `json:"created_event_id,omitempty"`
	CreatedEditionID int64                 `json:"created_edition_id,omitempty"`
	ArchivedSiblings int                   `json:"archived_siblings,omitempty"`
	DryRun           bool                  `json:"dry_run,omitempty"`
}

// plan is everything Apply computes before touching the store.
type plan struct {
	normalized changeset.Normalized
	fields     map[string]any
	blocks     []model.Block
	ops        []raceops.Operation
	changed    []model.Block
}

// Apply executes the proposal. Only pending proposals are applicable. In dry
// run mode the plan and the would-be status are computed without any writes.
func (e *Executor) Apply(ctx context.Context, p *model.Proposal) (*Result, error) {
	if p.Status != model.ProposalStatusPending {
		return nil, eris.Errorf("apply: proposal %s is %s, not pending", p.ID, p.Status)
	}

	pl, err := buildPlan(p)
	if err != nil {
		return nil, err
	}

	res := &Result{
		ProposalID:    p.ID,
		ChangedBlocks: pl.changed,
		Fields:        pl.fields,
		DryRun:        e.dryRun,
	}

	if e.dryRun {
		res.AppliedBlocks = plannedBlocks(pl)
		res.Status = aggregateStatus(pl.changed, res.AppliedBlocks)
		countOps(pl.ops, res)
		return res, nil
	}

	var editionID int64
	if p.EditionID != nil {
		editionID = *p.EditionID
	}

	err = e.store.WithTx(ctx, editionID, func(tx store.Store) error {
		var applied []model.Block
		var txErr error

		switch p.Kind {
		case model.ProposalKindNewRecord:
			applied, txErr = e.applyNewRecord(ctx, tx, p, pl, res)
		case model.ProposalKindRecordUpdate:
			applied, txErr = e.applyRecordUpdate(ctx, tx, p, pl, res)
		default:
			txErr = eris.Errorf("apply: unknown proposal kind %q", p.Kind)
		}
		if txErr != nil {
			return txErr
		}

		res.AppliedBlocks = applied
		res.Status = aggregateStatus(pl.changed, applied)
		if err := tx.UpdateProposalStatus(ctx, p.ID, res.Status, e.actor); err != nil {
			return err
		}

		if p.EventID != nil && p.EditionID != nil {
			reason := fmt.Sprintf("superseded by proposal %s", p.ID)
			n, err := tx.ArchivePendingSiblings(ctx, *p.EventID, *p.EditionID, p.ID, reason)
			if err != nil {
				return err
			}
			res.ArchivedSiblings = n
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	zap.L().Info("proposal applied",
		zap.String("proposal_id", p.ID),
		zap.String("status", string(res.Status)),
		zap.Int("blocks", len(res.AppliedBlocks)),
		zap.Int("archived_siblings", res.ArchivedSiblings))
	return res, nil
}

// buildPlan normalizes the payload, consolidates fields under approval
// gating, validates value shapes, and unifies the race plan.
func buildPlan(p *model.Proposal) (*plan, error) {
	n := changeset.Normalize(p.Changes)

	fields, blocks := consolidate.Consolidate(n, p.ApprovedBlocks, p.UserOverrides)
	if err := validateFieldValues(fields); err != nil {
		return nil, err
	}

	var ops []raceops.Operation
	if model.BlockApproved(p.ApprovedBlocks, model.BlockRaces) {
		ops = raceops.Unify(n,
			raceops.ParseRaceEdits(p.UserOverrides),
			raceops.ParseAddFilter(p.UserOverrides))
	}

	return &plan{
		normalized: n,
		fields:     fields,
		blocks:     blocks,
		ops:        ops,
		changed:    consolidate.ChangedBlocks(n),
	}, nil
}

// dateFields are stored as timestamps; string values must parse.
var dateFields = map[string]bool{"startDate": true, "endDate": true}

var dateLayouts = []string{time.RFC3339, "2006-01-02"}

// validateFieldValues coerces date strings to time.Time and rejects values
// that cannot be stored. Overrides pass through the same validation as agent
// values, so a malformed override fails the whole application.
func validateFieldValues(fields map[string]any) error {
	for field, val := range fields {
		if !dateFields[field] || val == nil {
			continue
		}
		switch t := val.(type) {
		case time.Time:
		case string:
			parsed, err := parseDate(t)
			if err != nil {
				return eris.Wrapf(err, "apply: invalid %s value %q", field, t)
			}
			fields[field] = parsed
		default:
			return eris.Errorf("apply: invalid %s value of type %T", field, val)
		}
	}
	return nil
}

func parseDate(s string) (time.Time, error) {
	var lastErr error
	for _, layout := range dateLayouts {
		t, err := time.Parse(layout, s)
		if err == nil {
			return t.UTC(), nil
		}
		lastErr = err
	}
	return time.Time{}, lastErr
}

// applyRecordUpdate writes consolidated fields to the existing event and
// edition, runs the race plan, and records one ApplicationRecord per block.
func (e *Executor) applyRecordUpdate(ctx context.Context, tx store.Store, p *model.Proposal, pl *plan, res *Result) ([]model.Block, error) {
	byBlock := splitByBlock(pl.fields)
	var applied []model.Block

	record := func(block model.Block, changes map[string]any, mutate func() error) error {
		done, err := blockAlreadyApplied(ctx, tx, p.ID, block)
		if err != nil {
			return err
		}
		if done {
			applied = append(applied, block)
			return nil
		}
		if err := mutate(); err != nil {
			return err
		}
		if err := createRecord(ctx, tx, p.ID, block, changes); err != nil {
			return err
		}
		applied = append(applied, block)
		return nil
	}

	if fields := byBlock[model.BlockEvent]; len(fields) > 0 {
		if p.EventID == nil {
			return nil, eris.Errorf("apply: proposal %s has event changes but no event id", p.ID)
		}
		err := record(model.BlockEvent, fields, func() error {
			return tx.UpdateEvent(ctx, *p.EventID, fields)
		})
		if err != nil {
			return nil, err
		}
	}

	if fields := byBlock[model.BlockEdition]; len(fields) > 0 {
		if p.EditionID == nil {
			return nil, eris.Errorf("apply: proposal %s has edition changes but no edition id", p.ID)
		}
		err := record(model.BlockEdition, fields, func() error {
			return tx.UpdateEdition(ctx, *p.EditionID, fields)
		})
		if err != nil {
			return nil, err
		}
	}

	if fields := byBlock[model.BlockOrganizer]; len(fields) > 0 {
		if p.EditionID == nil {
			return nil, eris.Errorf("apply: proposal %s has organizer changes but no edition id", p.ID)
		}
		err := record(model.BlockOrganizer, fields, func() error {
			return e.upsertOrganizer(ctx, tx, *p.EditionID, fields)
		})
		if err != nil {
			return nil, err
		}
	}

	if len(pl.ops) > 0 {
		if p.EditionID == nil {
			return nil, eris.Errorf("apply: proposal %s has race changes but no edition id", p.ID)
		}
		err := record(model.BlockRaces, raceSummary(pl.ops), func() error {
			return e.runRacePlan(ctx, tx, *p.EditionID, pl.ops, res)
		})
		if err != nil {
			return nil, err
		}
	}

	return applied, nil
}

// applyNewRecord creates event, edition, organizer, and races in dependency
// order, deriving the fields the agent did not supply.
func (e *Executor) applyNewRecord(ctx context.Context, tx store.Store, p *model.Proposal, pl *plan, res *Result) ([]model.Block, error) {
	byBlock := splitByBlock(pl.fields)

	eventFields := byBlock[model.BlockEvent]
	name, _ := eventFields["name"].(string)
	if name == "" {
		return nil, eris.Errorf("apply: new-record proposal %s has no event name", p.ID)
	}

	slug, err := UniqueSlug(ctx, tx, name)
	if err != nil {
		return nil, err
	}
	eventFields["slug"] = slug
	eventFields["dataSource"] = DataSourceForAgent(p.Agent)

	subdivision, _ := eventFields["subdivisionName"].(string)
	if _, ok := eventFields["regionCode"]; !ok {
		if code := RegionCode(subdivision); code != "" {
			eventFields["regionCode"] = code
		}
	}
	if addr, _ := eventFields["address"].(string); addr == "" {
		city, _ := eventFields["city"].(string)
		country, _ := eventFields["countryCode"].(string)
		if synth := SynthesizeAddress(city, subdivision, country); synth != "" {
			eventFields["address"] = synth
		}
	}

	eventID, err := tx.CreateEvent(ctx, eventFields)
	if err != nil {
		return nil, err
	}
	res.CreatedEventID = eventID

	editionID, err := tx.CreateEdition(ctx, eventID, byBlock[model.BlockEdition])
	if err != nil {
		return nil, err
	}
	res.CreatedEditionID = editionID
	if err := tx.UpdateEvent(ctx, eventID, map[string]any{"currentEditionId": editionID}); err != nil {
		return nil, err
	}

	applied := []model.Block{model.BlockEvent}
	if err := createRecord(ctx, tx, p.ID, model.BlockEvent, eventFields); err != nil {
		return nil, err
	}
	if fields := byBlock[model.BlockEdition]; len(fields) > 0 {
		if err := createRecord(ctx, tx, p.ID, model.BlockEdition, fields); err != nil {
			return nil, err
		}
		applied = append(applied, model.BlockEdition)
	}

	if fields := byBlock[model.BlockOrganizer]; len(fields) > 0 {
		if err := e.upsertOrganizer(ctx, tx, editionID, fields); err != nil {
			return nil, err
		}
		if err := createRecord(ctx, tx, p.ID, model.BlockOrganizer, fields); err != nil {
			return nil, err
		}
		applied = append(applied, model.BlockOrganizer)
	}

	// A brand-new edition has no existing races: only adds can apply.
	var adds []raceops.Operation
	for _, op := range pl.ops {
		if op.Kind == raceops.KindAdd {
			adds = append(adds, op)
		}
	}
	if len(adds) > 0 {
		if err := e.runRacePlan(ctx, tx, editionID, adds, res); err != nil {
			return nil, err
		}
		if err := createRecord(ctx, tx, p.ID, model.BlockRaces, raceSummary(adds)); err != nil {
			return nil, err
		}
		applied = append(applied, model.BlockRaces)
	}

	return applied, nil
}

// upsertOrganizer links the edition to an organizer, reusing an existing one
// by exact name match before creating a new row.
func (e *Executor) upsertOrganizer(ctx context.Context, tx store.Store, editionID int64, fields map[string]any) error {
	name, _ := fields["organizerName"].(string)
	if name == "" {
		name, _ = fields["name"].(string)
	}

	edition, err := tx.GetEdition(ctx, editionID)
	if err != nil {
		return err
	}
	if edition == nil {
		return eris.Errorf("apply: edition not found: %d", editionID)
	}

	if edition.OrganizerID != nil {
		return tx.UpdateOrganizer(ctx, *edition.OrganizerID, fields)
	}

	var organizerID int64
	if name != "" {
		existing, err := tx.FindOrganizerByName(ctx, name)
		if err != nil {
			return err
		}
		if existing != nil {
			organizerID = existing.ID
			if err := tx.UpdateOrganizer(ctx, organizerID, fields); err != nil {
				return err
			}
		}
	}
	if organizerID == 0 {
		organizerID, err = tx.CreateOrganizer(ctx, fields)
		if err != nil {
			return err
		}
	}
	return tx.UpdateEdition(ctx, editionID, map[string]any{"organizerId": organizerID})
}

// runRacePlan executes the ordered plan against one edition's races.
func (e *Executor) runRacePlan(ctx context.Context, tx store.Store, editionID int64, ops []raceops.Operation, res *Result) error {
	for _, op := range ops {
		switch op.Kind {
		case raceops.KindDelete:
			if err := tx.ArchiveRace(ctx, op.RaceID); err != nil {
				return err
			}
			res.RacesArchived++
		case raceops.KindUpdate:
			if err := tx.UpdateRace(ctx, op.RaceID, op.Fields); err != nil {
				return err
			}
			res.RacesUpdated++
		case raceops.KindAdd:
			if _, err := tx.CreateRace(ctx, editionID, op.Fields); err != nil {
				return err
			}
			res.RacesAdded++
		}
	}
	return nil
}

// blockAlreadyApplied reports whether a prior pass already produced a record
// for this (proposal, block). Re-running such a block is a no-op.
func blockAlreadyApplied(ctx context.Context, tx store.Store, proposalID string, block model.Block) (bool, error) {
	rec, err := tx.FindApplicationRecord(ctx, proposalID, block)
	if err != nil {
		return false, err
	}
	if rec == nil || rec.Status == model.ApplicationStatusFailed {
		return false, nil
	}
	zap.L().Debug("apply: block already has an application record, skipping",
		zap.String("proposal_id", proposalID), zap.String("block", string(block)))
	return true, nil
}

func createRecord(ctx context.Context, tx store.Store, proposalID string, block model.Block, changes map[string]any) error {
	now := time.Now().UTC()
	return tx.CreateApplicationRecord(ctx, &model.ApplicationRecord{
		ID:             uuid.NewString(),
		ProposalID:     proposalID,
		Block:          block,
		Status:         model.ApplicationStatusApplied,
		AppliedChanges: changes,
		AppliedAt:      &now,
	})
}

// aggregateStatus compares the blocks the proposal wanted to change against
// the blocks that actually applied.
func aggregateStatus(changed, applied []model.Block) model.ProposalStatus {
	appliedSet := make(map[model.Block]bool, len(applied))
	for _, b := range applied {
		appliedSet[b] = true
	}
	for _, b := range changed {
		if !appliedSet[b] {
			return model.ProposalStatusPartiallyApproved
		}
	}
	return model.ProposalStatusApproved
}

// plannedBlocks predicts the blocks a non-dry run would apply.
func plannedBlocks(pl *plan) []model.Block {
	present := make(map[model.Block]bool, len(pl.blocks))
	for _, b := range pl.blocks {
		present[b] = true
	}
	if len(pl.ops) > 0 {
		present[model.BlockRaces] = true
	}

	var blocks []model.Block
	for _, b := range model.AllBlocks {
		if present[b] {
			blocks = append(blocks, b)
		}
	}
	return blocks
}

func splitByBlock(fields map[string]any) map[model.Block]map[string]any {
	byBlock := make(map[model.Block]map[string]any)
	for field, val := range fields {
		block, ok := model.BlockForField(field)
		if !ok {
			continue
		}
		if byBlock[block] == nil {
			byBlock[block] = make(map[string]any)
		}
		byBlock[block][field] = val
	}
	return byBlock
}

func raceSummary(ops []raceops.Operation) map[string]any {
	var archived, updated, added int
	for _, op := range ops {
		switch op.Kind {
		case raceops.KindDelete:
			archived++
		case raceops.KindUpdate:
			updated++
		case raceops.KindAdd:
			added++
		}
	}
	return map[string]any{"archived": archived, "updated": updated, "added": added}
}

func countOps(ops []raceops.Operation, res *Result) {
	for _, op := range ops {
		switch op.Kind {
		case raceops.KindDelete:
			res.RacesArchived++
		case raceops.KindUpdate:
			res.RacesUpdated++
		case raceops.KindAdd:
			res.RacesAdded++
		}
	}
}
