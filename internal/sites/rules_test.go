package sites

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRelevant(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		link     string
		pageHost string
		want     bool
	}{
		{"pdf always kept", "https://data.gov.qa/pages/annual.PDF", "data.gov.qa", true},
		{"pdf with query", "https://example.com/file.pdf?dl=1", "example.com", true},
		{"data portal dataset", "https://www.data.gov.qa/explore/dataset/population", "www.data.gov.qa", true},
		{"data portal noise", "https://data.gov.qa/pages/about-us", "data.gov.qa", false},
		{"data portal ignores generic keywords", "https://data.gov.qa/privacy", "data.gov.qa", false},
		{"hukoomi strategy", "https://hukoomi.gov.qa/en/national-strategies", "hukoomi.gov.qa", true},
		{"hukoomi noise", "https://hukoomi.gov.qa/en/contact", "hukoomi.gov.qa", false},
		{"generic report", "https://moi.gov.ae/en/annual-report-2024", "moi.gov.ae", true},
		{"generic noise", "https://moi.gov.ae/en/contact-us", "moi.gov.ae", false},
		{"mcit uses generic keywords", "https://mcit.gov.qa/en/cyber-framework", "mcit.gov.qa", true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.want, Relevant(tc.link, tc.pageHost))
		})
	}
}

func TestLookup(t *testing.T) {
	t.Parallel()

	rule, ok := DefaultRules.Lookup("WWW.Hukoomi.gov.qa:443")
	assert.True(t, ok)
	assert.Equal(t, "hukoomi.gov.qa", rule.Domain)

	_, ok = DefaultRules.Lookup("nothukoomi.gov.qa")
	assert.False(t, ok)

	_, ok = DefaultRules.Lookup("")
	assert.False(t, ok)
}

func TestIsPDF(t *testing.T) {
	t.Parallel()

	assert.True(t, IsPDF("https://a.example/doc.pdf"))
	assert.True(t, IsPDF("https://a.example/doc.pdf#page=2"))
	assert.False(t, IsPDF("https://a.example/pdf-library"))
}
