package apply

import (
	"context"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSlugify(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Lakefront Marathon", "lakefront-marathon"},
		{"Café du Nord Trail", "cafe-du-nord-trail"},
		{"São Paulo 10K!", "sao-paulo-10k"},
		{"  -- Weird   spacing --  ", "weird-spacing"},
		{"2026 Winter Series (North)", "2026-winter-series-north"},
		{"日本語", ""},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, Slugify(tt.in), tt.in)
	}
}

type slugSet map[string]bool

func (s slugSet) SlugExists(_ context.Context, slug string) (bool, error) {
	return s[slug], nil
}

type failingChecker struct{}

func (failingChecker) SlugExists(context.Context, string) (bool, error) {
	return false, eris.New("db down")
}

func TestUniqueSlug(t *testing.T) {
	ctx := context.Background()

	slug, err := UniqueSlug(ctx, slugSet{}, "Lakefront Marathon")
	require.NoError(t, err)
	assert.Equal(t, "lakefront-marathon", slug)

	taken := slugSet{"lakefront-marathon": true, "lakefront-marathon-2": true}
	slug, err = UniqueSlug(ctx, taken, "Lakefront Marathon")
	require.NoError(t, err)
	assert.Equal(t, "lakefront-marathon-3", slug)
}

func TestUniqueSlug_EmptyNameFallsBack(t *testing.T) {
	slug, err := UniqueSlug(context.Background(), slugSet{}, "!!!")
	require.NoError(t, err)
	assert.Equal(t, "event", slug)
}

func TestUniqueSlug_LookupErrorSurfaces(t *testing.T) {
	_, err := UniqueSlug(context.Background(), failingChecker{}, "Event")
	assert.Error(t, err)
}

func TestRegionCode(t *testing.T) {
	assert.Equal(t, "OR", RegionCode("Oregon"))
	assert.Equal(t, "NY", RegionCode(" new york "))
	assert.Equal(t, "QC", RegionCode("Québec"))
	// Unknown subdivisions fail open.
	assert.Equal(t, "", RegionCode("Atlantis"))
	assert.Equal(t, "", RegionCode(""))
}

func TestSynthesizeAddress(t *testing.T) {
	assert.Equal(t, "Portland, Oregon, US", SynthesizeAddress("Portland", "Oregon", "US"))
	assert.Equal(t, "Portland, US", SynthesizeAddress("Portland", "", "US"))
	assert.Equal(t, "", SynthesizeAddress("", "", ""))
}

func TestDataSourceForAgent(t *testing.T) {
	assert.Equal(t, "web", DataSourceForAgent("web-crawler"))
	assert.Equal(t, "email", DataSourceForAgent("Email-Parser"))
	assert.Equal(t, "agent", DataSourceForAgent("some-new-agent"))
	assert.Equal(t, "unknown", DataSourceForAgent(""))
}
