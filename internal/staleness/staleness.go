// Package staleness flags sources that used to produce items and stopped.
//
// Detection works from ingested item timestamps only, so a source that has
// never produced an item is not reported. Missing coverage has to be checked
// against the registry separately.
package staleness

import (
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/JakeFAU/reg-radar/internal/radar"
)

// DefaultThresholdHours applies when an authority has no override.
const DefaultThresholdHours = 72

// Policy decides how long each authority may stay quiet.
type Policy struct {
	DefaultHours int
	// Overrides maps an authority name to its own threshold in hours.
	Overrides map[string]int
}

// ThresholdHours returns the silence threshold for an authority.
func (p Policy) ThresholdHours(authority string) int {
	if h, ok := p.Overrides[authority]; ok {
		return h
	}
	if p.DefaultHours > 0 {
		return p.DefaultHours
	}
	return DefaultThresholdHours
}

// ParseOverrides reads "Authority=Hours,Other Authority=Hours". Pairs that
// are malformed or carry a non-positive number are skipped.
func ParseOverrides(raw string) map[string]int {
	out := make(map[string]int)
	for _, part := range strings.Split(raw, ",") {
		name, hours, ok := strings.Cut(part, "=")
		if !ok {
			continue
		}
		name = strings.TrimSpace(name)
		h, err := strconv.Atoi(strings.TrimSpace(hours))
		if name == "" || err != nil || h <= 0 {
			continue
		}
		out[name] = h
	}
	return out
}

type groupKey struct {
	country   radar.Country
	authority string
	sourceURL string
}

// Detect groups stamps by (country, authority, source_url), takes the latest
// created_at per group and reports groups quiet for longer than their
// threshold. Results are ordered by hours_since, stalest first.
func Detect(stamps []radar.ItemStamp, now time.Time, policy Policy) []radar.SilenceAlert {
	latest := make(map[groupKey]time.Time)
	for _, s := range stamps {
		if s.Country == "" || s.Authority == "" || s.SourceURL == "" || s.CreatedAt.IsZero() {
			continue
		}
		key := groupKey{country: s.Country, authority: s.Authority, sourceURL: s.SourceURL}
		if cur, ok := latest[key]; !ok || s.CreatedAt.After(cur) {
			latest[key] = s.CreatedAt
		}
	}

	alerts := make([]radar.SilenceAlert, 0)
	for key, last := range latest {
		threshold := policy.ThresholdHours(key.authority)
		quiet := now.Sub(last)
		if quiet <= time.Duration(threshold)*time.Hour {
			continue
		}
		alerts = append(alerts, radar.SilenceAlert{
			Country:    key.country,
			Authority:  key.authority,
			SourceURL:  key.sourceURL,
			LastItemAt: last.UTC(),
			HoursSince: math.Round(quiet.Hours()*10) / 10,
			ThresholdH: threshold,
		})
	}

	sort.Slice(alerts, func(i, j int) bool {
		a, b := alerts[i], alerts[j]
		if !a.LastItemAt.Equal(b.LastItemAt) {
			return a.LastItemAt.Before(b.LastItemAt)
		}
		if a.Country != b.Country {
			return a.Country < b.Country
		}
		if a.Authority != b.Authority {
			return a.Authority < b.Authority
		}
		return a.SourceURL < b.SourceURL
	})
	return alerts
}
