// Package changeset normalizes the legacy change-payload shapes carried by
// proposals into one canonical tree. Every downstream component operates on
// the normalized form only; shape branching stops at this boundary.
package changeset

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"go.uber.org/zap"
)

// RaceUpdate is a normalized update instruction for an existing race.
type RaceUpdate struct {
	RaceID int64
	Fields map[string]any
}

// Normalized is the canonical representation of a proposal's change payload.
type Normalized struct {
	// Fields maps non-race field names to their proposed new value.
	Fields map[string]any

	// RaceAdds holds raw field maps for races to create.
	RaceAdds []map[string]any

	// RaceUpdates holds update instructions carrying a resolvable race id.
	RaceUpdates []RaceUpdate

	// RaceDeletes holds race ids to archive.
	RaceDeletes []int64

	// UnresolvedUpdates holds update entries that lack a resolvable numeric
	// id. They cannot be applied as updates; the validation gate counts them
	// as race-creation attempts.
	UnresolvedUpdates []map[string]any
}

// raceKeys are payload keys consumed by the race extraction, at the proposal
// root or nested under "races".
var raceKeys = map[string]bool{
	"races":         true,
	"racesToAdd":    true,
	"racesToUpdate": true,
	"racesToDelete": true,
}

// Normalize parses a raw change payload. It accepts flat values, {old,new}
// pairs, {new:{...}} wrappers, and the array-or-object race shapes. It never
// fails: missing or malformed sub-trees come back empty.
func Normalize(raw map[string]any) Normalized {
	n := Normalized{Fields: make(map[string]any)}
	if len(raw) == 0 {
		return n
	}

	for key, val := range raw {
		if raceKeys[key] {
			continue
		}
		n.Fields[key] = unwrapNew(val)
	}

	n.parseRaceTree(raw["races"])
	n.parseAdds(raw["racesToAdd"])
	n.parseUpdates(raw["racesToUpdate"])
	n.parseDeletes(raw["racesToDelete"])

	return n
}

// unwrapNew extracts the authoritative value from a change entry. A map
// carrying a "new" key is treated as an {old,new} pair or a {new:{...}}
// wrapper; anything else is a flat value.
func unwrapNew(v any) any {
	if m, ok := v.(map[string]any); ok {
		if nv, ok := m["new"]; ok {
			return nv
		}
	}
	return v
}

// parseRaceTree handles the "races" sub-tree: a bare array of adds, an array
// under .new, or a {toAdd,toUpdate,toDelete} object (possibly under .new).
func (n *Normalized) parseRaceTree(v any) {
	if v == nil {
		return
	}
	v = unwrapNew(v)

	switch t := v.(type) {
	case []any:
		n.parseAdds(t)
	case map[string]any:
		n.parseAdds(t["toAdd"])
		n.parseUpdates(t["toUpdate"])
		n.parseDeletes(t["toDelete"])
	default:
		zap.L().Debug("changeset: unrecognized races shape dropped")
	}
}

func (n *Normalized) parseAdds(v any) {
	for _, entry := range asSlice(unwrapNew(v)) {
		m, ok := entry.(map[string]any)
		if !ok {
			zap.L().Debug("changeset: non-object race add dropped")
			continue
		}
		n.RaceAdds = append(n.RaceAdds, m)
	}
}

func (n *Normalized) parseUpdates(v any) {
	for _, entry := range asSlice(unwrapNew(v)) {
		m, ok := entry.(map[string]any)
		if !ok {
			zap.L().Debug("changeset: non-object race update dropped")
			continue
		}
		id, ok := extractRaceID(m)
		fields := make(map[string]any, len(m))
		for k, fv := range m {
			if k == "raceId" || k == "id" {
				continue
			}
			fields[k] = unwrapNew(fv)
		}
		if !ok {
			n.UnresolvedUpdates = append(n.UnresolvedUpdates, fields)
			continue
		}
		n.RaceUpdates = append(n.RaceUpdates, RaceUpdate{RaceID: id, Fields: fields})
	}
}

func (n *Normalized) parseDeletes(v any) {
	for _, entry := range asSlice(unwrapNew(v)) {
		if m, ok := entry.(map[string]any); ok {
			// Wrapped form: {raceId, raceName}.
			if id, ok := extractRaceID(m); ok {
				n.RaceDeletes = append(n.RaceDeletes, id)
			} else {
				zap.L().Debug("changeset: race delete without resolvable id dropped")
			}
			continue
		}
		if id, ok := AsRaceID(entry); ok {
			n.RaceDeletes = append(n.RaceDeletes, id)
		} else {
			zap.L().Debug("changeset: invalid race delete entry dropped")
		}
	}
}

func extractRaceID(m map[string]any) (int64, bool) {
	if id, ok := AsRaceID(m["raceId"]); ok {
		return id, true
	}
	return AsRaceID(m["id"])
}

// AsRaceID coerces a value to a positive race id. Numbers must be integral
// and finite; strings must parse as a base-10 integer.
func AsRaceID(v any) (int64, bool) {
	switch t := v.(type) {
	case int64:
		return t, t > 0
	case int:
		return int64(t), t > 0
	case float64:
		if math.IsNaN(t) || math.IsInf(t, 0) || t != math.Trunc(t) {
			return 0, false
		}
		return int64(t), t > 0
	case json.Number:
		id, err := t.Int64()
		return id, err == nil && id > 0
	case string:
		id, err := strconv.ParseInt(strings.TrimSpace(t), 10, 64)
		return id, err == nil && id > 0
	default:
		return 0, false
	}
}

func asSlice(v any) []any {
	s, _ := v.([]any)
	return s
}
