// Package raceops turns normalized race instructions and reviewer race edits
// into one deduplicated, ordered operation plan. Placeholder keys
// ("existing-<i>", "new-<i>") are resolved here and nowhere else.
package raceops

import (
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/sportgrid/catalog-cli/internal/changeset"
)

// Kind tags a race operation.
type Kind string

const (
	KindDelete Kind = "delete"
	KindUpdate Kind = "update"
	KindAdd    Kind = "add"
)

// Operation is one planned race mutation. Plans are transient; they are
// built per application pass and never persisted.
type Operation struct {
	Kind   Kind
	RaceID int64          // delete and update only
	Fields map[string]any // update and add only
}

// deletedMarker is the reviewer edit key that marks a race for archival.
const deletedMarker = "deleted"

// Unify merges race instructions from the normalized payload with reviewer
// race edits and returns the plan in Delete, Update, Add order. Deleting
// first avoids writing fields onto a record about to be archived and keeps a
// new record from colliding with a stale one. An id reached through more
// than one source is archived exactly once; delete always wins over update.
func Unify(n changeset.Normalized, raceEdits map[string]map[string]any, addFilter []int) []Operation {
	deletes := make(map[int64]bool)
	var deleteOrder []int64
	addDelete := func(id int64) {
		if !deletes[id] {
			deletes[id] = true
			deleteOrder = append(deleteOrder, id)
		}
	}

	for _, id := range n.RaceDeletes {
		addDelete(id)
	}

	// Reviewer edits addressed by literal id or existing-<i> placeholder.
	for key, edit := range raceEdits {
		if !truthy(edit[deletedMarker]) {
			continue
		}
		id, ok := resolveExistingKey(key, n.RaceUpdates)
		if !ok {
			zap.L().Debug("raceops: delete edit with unresolvable key dropped",
				zap.String("key", key))
			continue
		}
		addDelete(id)
	}

	ops := make([]Operation, 0, len(deleteOrder)+len(n.RaceUpdates)+len(n.RaceAdds))
	for _, id := range deleteOrder {
		ops = append(ops, Operation{Kind: KindDelete, RaceID: id})
	}

	for i, upd := range n.RaceUpdates {
		if deletes[upd.RaceID] {
			continue
		}
		fields := cloneFields(upd.Fields)
		mergeEdit(fields, raceEdits[strconv.FormatInt(upd.RaceID, 10)])
		mergeEdit(fields, raceEdits["existing-"+strconv.Itoa(i)])
		ops = append(ops, Operation{Kind: KindUpdate, RaceID: upd.RaceID, Fields: fields})
	}

	excluded := make(map[int]bool, len(addFilter))
	for _, idx := range addFilter {
		excluded[idx] = true
	}
	for i, add := range n.RaceAdds {
		if excluded[i] {
			continue
		}
		fields := cloneFields(add)
		// Overrides address the pre-filter position.
		mergeEdit(fields, raceEdits["new-"+strconv.Itoa(i)])
		ops = append(ops, Operation{Kind: KindAdd, Fields: fields})
	}

	return ops
}

// DetectCreations counts race-creation attempts in a normalized payload:
// explicit adds plus update instructions that lack a resolvable id.
func DetectCreations(n changeset.Normalized) int {
	return len(n.RaceAdds) + len(n.UnresolvedUpdates)
}

// resolveExistingKey turns a race-edit key into a race id. Literal numeric
// keys resolve directly; "existing-<i>" resolves positionally against the
// update list. Out-of-range placeholders do not resolve.
func resolveExistingKey(key string, updates []changeset.RaceUpdate) (int64, bool) {
	if idx, ok := strings.CutPrefix(key, "existing-"); ok {
		i, err := strconv.Atoi(idx)
		if err != nil || i < 0 || i >= len(updates) {
			return 0, false
		}
		return updates[i].RaceID, true
	}
	if strings.HasPrefix(key, "new-") {
		// Adds are excluded via the add filter, not via delete markers.
		return 0, false
	}
	return changeset.AsRaceID(key)
}

// mergeEdit overlays reviewer-edited fields; the override wins per field.
func mergeEdit(fields map[string]any, edit map[string]any) {
	for k, v := range edit {
		if k == deletedMarker {
			continue
		}
		fields[k] = v
	}
}

// ParseRaceEdits extracts the reserved "raceEdits" override map. Malformed
// entries are dropped, never fatal.
func ParseRaceEdits(overrides map[string]any) map[string]map[string]any {
	raw, ok := overrides["raceEdits"].(map[string]any)
	if !ok {
		return nil
	}
	edits := make(map[string]map[string]any, len(raw))
	for key, v := range raw {
		m, ok := v.(map[string]any)
		if !ok {
			zap.L().Debug("raceops: non-object race edit dropped", zap.String("key", key))
			continue
		}
		edits[key] = m
	}
	return edits
}

// ParseAddFilter extracts the reserved "racesToAddFiltered" override: the
// positional indices (pre-filter) of add entries to exclude.
func ParseAddFilter(overrides map[string]any) []int {
	raw, ok := overrides["racesToAddFiltered"].([]any)
	if !ok {
		return nil
	}
	var indices []int
	for _, v := range raw {
		idx, ok := asIndex(v)
		if !ok {
			zap.L().Debug("raceops: invalid add-filter index dropped")
			continue
		}
		indices = append(indices, idx)
	}
	return indices
}

// asIndex coerces a value to a non-negative positional index.
func asIndex(v any) (int, bool) {
	switch t := v.(type) {
	case int:
		return t, t >= 0
	case int64:
		return int(t), t >= 0
	case float64:
		if t != float64(int(t)) {
			return 0, false
		}
		return int(t), t >= 0
	case string:
		i, err := strconv.Atoi(strings.TrimSpace(t))
		return i, err == nil && i >= 0
	default:
		return 0, false
	}
}

func truthy(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case string:
		return t == "true" || t == "1"
	case float64:
		return t != 0
	case int:
		return t != 0
	default:
		return false
	}
}

func cloneFields(src map[string]any) map[string]any {
	dst := make(map[string]any, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}
