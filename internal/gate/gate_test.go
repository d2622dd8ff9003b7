package gate

import (
	"context"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/sportgrid/catalog-cli/internal/model"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

type fakeCatalog struct {
	event      *model.Event
	edition    *model.Edition
	eventErr   error
	editionErr error
}

func (f *fakeCatalog) GetEvent(context.Context, int64) (*model.Event, error) {
	return f.event, f.eventErr
}

func (f *fakeCatalog) GetEdition(context.Context, int64) (*model.Edition, error) {
	return f.edition, f.editionErr
}

func ptr[T any](v T) *T { return &v }

func defaultPolicy() Policy {
	return Policy{
		MinConfidence:     0.85,
		ValidateEdition:   true,
		ValidateOrganizer: true,
		ValidateRaces:     true,
	}
}

func TestEvaluate_ConfidenceThresholdIsStrict(t *testing.T) {
	catalog := &fakeCatalog{}
	pol := defaultPolicy()

	tests := []struct {
		name       string
		confidence *float64
		accepted   bool
	}{
		{"below threshold", ptr(0.84), false},
		{"exactly at threshold", ptr(0.85), true},
		{"above threshold", ptr(0.99), true},
		{"unscored passes", nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &model.Proposal{
				ID:         "p1",
				Kind:       model.ProposalKindRecordUpdate,
				Confidence: tt.confidence,
				Changes:    map[string]any{"name": "Event"},
			}
			d := Evaluate(context.Background(), p, catalog, pol)
			assert.Equal(t, tt.accepted, d.Accepted)
			if !tt.accepted {
				assert.Equal(t, model.ExclusionLowConfidence, d.Reason)
			}
		})
	}
}

func TestEvaluate_FeaturedEventRejected(t *testing.T) {
	catalog := &fakeCatalog{event: &model.Event{ID: 1, IsFeatured: true}}

	p := &model.Proposal{
		ID:      "p1",
		EventID: ptr(int64(1)),
		Changes: map[string]any{"name": "Event"},
	}
	d := Evaluate(context.Background(), p, catalog, defaultPolicy())

	assert.False(t, d.Accepted)
	assert.Equal(t, model.ExclusionFeaturedEvent, d.Reason)
}

func TestEvaluate_EventLookupFailureFailsClosed(t *testing.T) {
	catalog := &fakeCatalog{eventErr: eris.New("connection refused")}

	p := &model.Proposal{
		ID:      "p1",
		EventID: ptr(int64(1)),
		Changes: map[string]any{"name": "Event"},
	}
	d := Evaluate(context.Background(), p, catalog, defaultPolicy())

	assert.False(t, d.Accepted)
	assert.Equal(t, model.ExclusionFeaturedEvent, d.Reason)
}

func TestEvaluate_MissingEventContinues(t *testing.T) {
	catalog := &fakeCatalog{event: nil}

	p := &model.Proposal{
		ID:      "p1",
		EventID: ptr(int64(404)),
		Changes: map[string]any{"name": "Event"},
	}
	d := Evaluate(context.Background(), p, catalog, defaultPolicy())

	assert.True(t, d.Accepted)
}

func TestEvaluate_PremiumEditionRejected(t *testing.T) {
	catalog := &fakeCatalog{
		edition: &model.Edition{ID: 10, CustomerType: ptr("premium")},
	}

	p := &model.Proposal{
		ID:        "p1",
		EditionID: ptr(int64(10)),
		Changes:   map[string]any{"year": float64(2026)},
	}
	d := Evaluate(context.Background(), p, catalog, defaultPolicy())

	assert.False(t, d.Accepted)
	assert.Equal(t, model.ExclusionPremiumCustomer, d.Reason)
}

func TestEvaluate_EditionLookupFailureFailsClosed(t *testing.T) {
	catalog := &fakeCatalog{editionErr: eris.New("timeout")}

	p := &model.Proposal{
		ID:        "p1",
		EditionID: ptr(int64(10)),
		Changes:   map[string]any{"year": float64(2026)},
	}
	d := Evaluate(context.Background(), p, catalog, defaultPolicy())

	assert.False(t, d.Accepted)
	assert.Equal(t, model.ExclusionPremiumCustomer, d.Reason)
}

func TestEvaluate_PremiumException(t *testing.T) {
	internal := map[string]any{"source": "internal"}
	urlOnly := map[string]any{"registrationUrl": "https://example.com/register"}

	tests := []struct {
		name          string
		justification map[string]any
		changes       map[string]any
		existingURL   string
		accepted      bool
	}{
		{
			name:          "internal url fill on empty edition",
			justification: internal,
			changes:       urlOnly,
			accepted:      true,
		},
		{
			name:          "external source rejected",
			justification: map[string]any{"source": "crawler"},
			changes:       urlOnly,
			accepted:      false,
		},
		{
			name:          "url already set",
			justification: internal,
			changes:       urlOnly,
			existingURL:   "https://old.example.com",
			accepted:      false,
		},
		{
			name:          "extra field breaks the exception",
			justification: internal,
			changes: map[string]any{
				"registrationUrl": "https://example.com/register",
				"year":            float64(2026),
			},
			accepted: false,
		},
		{
			name:          "race instructions break the exception",
			justification: internal,
			changes: map[string]any{
				"registrationUrl": "https://example.com/register",
				"racesToDelete":   []any{float64(3)},
			},
			accepted: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			catalog := &fakeCatalog{
				edition: &model.Edition{
					ID:              10,
					CustomerType:    ptr("premium"),
					RegistrationURL: tt.existingURL,
				},
			}
			p := &model.Proposal{
				ID:            "p1",
				EditionID:     ptr(int64(10)),
				Justification: tt.justification,
				Changes:       tt.changes,
			}
			d := Evaluate(context.Background(), p, catalog, defaultPolicy())
			assert.Equal(t, tt.accepted, d.Accepted)
			if !tt.accepted {
				assert.Equal(t, model.ExclusionPremiumCustomer, d.Reason)
			}
		})
	}
}

func TestEvaluate_RaceCreationsRejected(t *testing.T) {
	catalog := &fakeCatalog{}

	p := &model.Proposal{
		ID: "p1",
		Changes: map[string]any{
			"racesToAdd": []any{map[string]any{"name": "5K"}},
			"racesToUpdate": []any{
				map[string]any{"name": "no id here"},
			},
		},
	}
	d := Evaluate(context.Background(), p, catalog, defaultPolicy())

	assert.False(t, d.Accepted)
	assert.Equal(t, model.ExclusionNewRaces, d.Reason)
	assert.Contains(t, d.Detail, "2")
}

func TestEvaluate_ValidatableBlocksHonorPolicyFlags(t *testing.T) {
	catalog := &fakeCatalog{}
	pol := defaultPolicy()
	pol.ValidateEdition = false

	p := &model.Proposal{
		ID: "p1",
		Changes: map[string]any{
			"name":          "Event",
			"year":          float64(2026),
			"organizerName": "Acme Racing",
			"racesToUpdate": []any{map[string]any{"raceId": float64(4), "name": "10K"}},
		},
	}
	d := Evaluate(context.Background(), p, catalog, pol)

	assert.True(t, d.Accepted)
	assert.Equal(t,
		[]model.Block{model.BlockEvent, model.BlockOrganizer, model.BlockRaces},
		d.ValidatableBlocks)
}
