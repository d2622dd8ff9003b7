// Package gate decides whether a pending proposal may be applied without
// human review. Evaluation is a pure decision: rejections come back as typed
// results with an exclusion reason, never as errors, and the caller owns all
// statistics and persistence.
package gate

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/sportgrid/catalog-cli/internal/changeset"
	"github.com/sportgrid/catalog-cli/internal/model"
	"github.com/sportgrid/catalog-cli/internal/raceops"
)

// premiumWhitelistField is the single edition field an internally sourced
// proposal may fill on a premium edition, and only while it is still empty.
const premiumWhitelistField = "registrationUrl"

// Policy configures the gate.
type Policy struct {
	// MinConfidence rejects proposals scored strictly below it. Unscored
	// proposals pass this rule.
	MinConfidence float64

	ValidateEdition   bool
	ValidateOrganizer bool
	ValidateRaces     bool
}

// CatalogReader is the read-only catalog access the gate needs.
type CatalogReader interface {
	GetEvent(ctx context.Context, id int64) (*model.Event, error)
	GetEdition(ctx context.Context, id int64) (*model.Edition, error)
}

// Decision is the gate's verdict on one proposal.
type Decision struct {
	Accepted bool
	Reason   model.ExclusionReason
	Detail   string

	// ValidatableBlocks lists the blocks the policy allows and the proposal
	// actually touches, for the caller's downstream use.
	ValidatableBlocks []model.Block
}

func reject(reason model.ExclusionReason, detail string) Decision {
	return Decision{Reason: reason, Detail: detail}
}

// Evaluate runs the policy rules in order, short-circuiting on the first
// failure. The rule order is also the precedence used for statistics.
// Catalog lookup errors fail closed.
func Evaluate(ctx context.Context, p *model.Proposal, catalog CatalogReader, pol Policy) Decision {
	if p.Confidence != nil && *p.Confidence < pol.MinConfidence {
		return reject(model.ExclusionLowConfidence,
			fmt.Sprintf("confidence %.2f below threshold %.2f", *p.Confidence, pol.MinConfidence))
	}

	n := changeset.Normalize(p.Changes)

	if p.EventID != nil {
		event, err := catalog.GetEvent(ctx, *p.EventID)
		if err != nil {
			zap.L().Warn("gate: event lookup failed, failing closed",
				zap.Int64("event_id", *p.EventID), zap.Error(err))
			return reject(model.ExclusionFeaturedEvent, "event lookup failed")
		}
		if event == nil {
			// The event may have been deleted since the proposal was made.
			zap.L().Warn("gate: target event not found", zap.Int64("event_id", *p.EventID))
		} else if event.IsFeatured {
			return reject(model.ExclusionFeaturedEvent,
				fmt.Sprintf("event %d is featured", event.ID))
		}
	}

	if p.EditionID != nil {
		edition, err := catalog.GetEdition(ctx, *p.EditionID)
		if err != nil {
			zap.L().Warn("gate: edition lookup failed, failing closed",
				zap.Int64("edition_id", *p.EditionID), zap.Error(err))
			return reject(model.ExclusionPremiumCustomer, "edition lookup failed")
		}
		if edition != nil && edition.Premium() {
			if !premiumException(p, n, edition) {
				return reject(model.ExclusionPremiumCustomer,
					fmt.Sprintf("edition %d has customer type %s", edition.ID, *edition.CustomerType))
			}
		}
	}

	if creations := raceops.DetectCreations(n); creations > 0 {
		return reject(model.ExclusionNewRaces,
			fmt.Sprintf("%d race creation(s) require review", creations))
	}

	return Decision{
		Accepted:          true,
		ValidatableBlocks: validatableBlocks(n, pol),
	}
}

// premiumException allows exactly one narrow change on a premium edition: an
// internally sourced proposal filling the whitelisted field while it is
// still empty. Anything else on a premium edition is rejected.
func premiumException(p *model.Proposal, n changeset.Normalized, edition *model.Edition) bool {
	if !p.InternallySourced() {
		return false
	}
	if len(n.Fields) != 1 {
		return false
	}
	if _, ok := n.Fields[premiumWhitelistField]; !ok {
		return false
	}
	if len(n.RaceAdds) > 0 || len(n.RaceUpdates) > 0 || len(n.RaceDeletes) > 0 || len(n.UnresolvedUpdates) > 0 {
		return false
	}
	return edition.RegistrationURL == ""
}

// validatableBlocks reports which blocks could be validated given the policy
// flags and the fields actually present. The event block is always eligible.
func validatableBlocks(n changeset.Normalized, pol Policy) []model.Block {
	present := make(map[model.Block]bool)
	for field := range n.Fields {
		if b, ok := model.BlockForField(field); ok {
			present[b] = true
		}
	}
	if len(n.RaceUpdates) > 0 || len(n.RaceDeletes) > 0 {
		present[model.BlockRaces] = true
	}

	var blocks []model.Block
	for _, b := range model.AllBlocks {
		if !present[b] {
			continue
		}
		switch b {
		case model.BlockEdition:
			if !pol.ValidateEdition {
				continue
			}
		case model.BlockOrganizer:
			if !pol.ValidateOrganizer {
				continue
			}
		case model.BlockRaces:
			if !pol.ValidateRaces {
				continue
			}
		}
		blocks = append(blocks, b)
	}
	return blocks
}
