// Package consolidate computes the authoritative non-race change set for a
// proposal, merging agent-proposed values with reviewer overrides under
// per-block approval gating.
package consolidate

import (
	"go.uber.org/zap"

	"github.com/sportgrid/catalog-cli/internal/changeset"
	"github.com/sportgrid/catalog-cli/internal/model"
)

// reservedOverrideKeys are override entries consumed by the race plan, not
// by field consolidation.
var reservedOverrideKeys = map[string]bool{
	"raceEdits":          true,
	"racesToAddFiltered": true,
}

// Consolidate returns the final field-to-value change set and the blocks
// that ended up with at least one surviving field. Fields whose block is not
// approved are skipped entirely; an override on a non-approved block is
// inert. Fields absent from the proposal are never touched.
func Consolidate(n changeset.Normalized, approved map[string]bool, overrides map[string]any) (map[string]any, []model.Block) {
	final := make(map[string]any, len(n.Fields))
	touched := make(map[model.Block]bool)

	for field, value := range n.Fields {
		block, ok := model.BlockForField(field)
		if !ok {
			zap.L().Debug("consolidate: field outside membership table skipped",
				zap.String("field", field))
			continue
		}
		if !model.BlockApproved(approved, block) {
			continue
		}
		if ov, ok := overrideFor(overrides, field); ok {
			value = ov
		}
		final[field] = value
		touched[block] = true
	}

	var blocks []model.Block
	for _, b := range model.AllBlocks {
		if touched[b] {
			blocks = append(blocks, b)
		}
	}
	return final, blocks
}

// ChangedBlocks returns every block that owns at least one proposed field or
// race instruction, before approval gating. Status aggregation compares this
// set against the blocks actually applied.
func ChangedBlocks(n changeset.Normalized) []model.Block {
	present := make(map[model.Block]bool)
	for field := range n.Fields {
		if b, ok := model.BlockForField(field); ok {
			present[b] = true
		}
	}
	if len(n.RaceAdds) > 0 || len(n.RaceUpdates) > 0 || len(n.RaceDeletes) > 0 || len(n.UnresolvedUpdates) > 0 {
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

func overrideFor(overrides map[string]any, field string) (any, bool) {
	if overrides == nil || reservedOverrideKeys[field] {
		return nil, false
	}
	v, ok := overrides[field]
	return v, ok
}
