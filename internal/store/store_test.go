package store

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/JakeFAU/reg-radar/internal/radar"
)

func intPtr(v int) *int { return &v }

func TestFilterSources(t *testing.T) {
	t.Parallel()

	all := []radar.Source{
		{ID: "a", Country: radar.CountryQatar, Format: "HTML", Priority: intPtr(3), IsActive: true},
		{ID: "b", Country: radar.CountryUAE, Format: "PDF", HasRSS: true, Priority: intPtr(1), IsActive: true},
		{ID: "c", Country: radar.CountryUAE, Format: "HTML/PDF", IsActive: true},
		{ID: "d", Country: radar.CountryUAE, Format: "HTML", Priority: intPtr(0), IsActive: false},
		{ID: "e", Country: radar.CountryKSA, Format: "html", Priority: intPtr(1), IsActive: true},
	}

	ids := func(srcs []radar.Source) []string {
		out := make([]string, 0, len(srcs))
		for _, s := range srcs {
			out = append(out, s.ID)
		}
		return out
	}

	assert.Equal(t, []string{"b", "e", "a", "c"}, ids(FilterSources(all, SourceQuery{})))
	assert.Equal(t, []string{"b", "c"}, ids(FilterSources(all, SourceQuery{Country: radar.CountryUAE})))
	assert.Equal(t, []string{"b"}, ids(FilterSources(all, SourceQuery{Only: radar.CollectorRSS})))
	assert.Equal(t, []string{"e", "a", "c"}, ids(FilterSources(all, SourceQuery{Only: radar.CollectorHTML})))
	assert.Equal(t, []string{"b", "c"}, ids(FilterSources(all, SourceQuery{Only: radar.CollectorPDF})))
	assert.Equal(t, []string{"b", "e"}, ids(FilterSources(all, SourceQuery{Limit: 2})))
}

func TestEffectiveLimit(t *testing.T) {
	t.Parallel()

	assert.Equal(t, DefaultSourceLimit, SourceQuery{}.EffectiveLimit())
	assert.Equal(t, 3, SourceQuery{Limit: 3}.EffectiveLimit())
}
