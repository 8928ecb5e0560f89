// Package health builds the operational health report (enrichment backlog,
// failed runs, silent sources), sends it and records the check in the run log.
package health

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/JakeFAU/reg-radar/internal/radar"
)

// Report limits and defaults.
const (
	DefaultSinceHours = 48
	DefaultMaxRows    = 50000
	maxFailedLines    = 10
	maxSilentLines    = 25
)

// Report is the gathered state plus its rendered form.
type Report struct {
	GeneratedAt     time.Time
	Country         radar.Country
	SinceHours      int
	MinSilenceHours int
	Overrides       map[string]int
	Pending         int
	FailedRuns      []radar.RunRecord
	Silent          []radar.SilenceAlert
}

// HasIssues reports whether anything needs an operator. A backlog alone
// does not count.
func (r Report) HasIssues() bool {
	return len(r.FailedRuns) > 0 || len(r.Silent) > 0
}

// Subject renders the notification subject line.
func (r Report) Subject() string {
	scope := ""
	if r.Country != "" {
		scope = " [" + string(r.Country) + "]"
	}
	return fmt.Sprintf("[GCC Radar] Health%s: pending=%d | fails=%d | silent=%d",
		scope, r.Pending, len(r.FailedRuns), len(r.Silent))
}

// Body renders the plain-text report.
func (r Report) Body() string {
	var b strings.Builder
	b.WriteString("GCC Policy & Regulatory Radar - Health Check\n")
	fmt.Fprintf(&b, "Timestamp (UTC): %s\n", r.GeneratedAt.UTC().Format(time.RFC3339))
	if r.Country != "" {
		fmt.Fprintf(&b, "Scope: %s\n", r.Country)
	} else {
		b.WriteString("Scope: all countries\n")
	}
	b.WriteString("\n")

	fmt.Fprintf(&b, "1) Pending to enrich: %d\n", r.Pending)

	fmt.Fprintf(&b, "2) Failed runs (last %dh): %d\n", r.SinceHours, len(r.FailedRuns))
	for _, run := range r.FailedRuns[:min(len(r.FailedRuns), maxFailedLines)] {
		fmt.Fprintf(&b, "   - %s @ %s ok=%d fail=%d notes=%s\n",
			run.RunType, run.StartedAt.UTC().Format(time.RFC3339), run.OKCount, run.FailCount, run.NotesOrEmpty())
	}

	fmt.Fprintf(&b, "3) Silent sources (> %dh; overrides: %s): %d\n",
		r.MinSilenceHours, formatOverrides(r.Overrides), len(r.Silent))
	for _, s := range r.Silent[:min(len(r.Silent), maxSilentLines)] {
		fmt.Fprintf(&b, "   - [%s] %s | last=%s (%.1fh ago; threshold %dh) | %s\n",
			s.Country, s.Authority, s.LastItemAt.UTC().Format(time.RFC3339), s.HoursSince, s.ThresholdH, s.SourceURL)
	}
	return b.String()
}

func formatOverrides(overrides map[string]int) string {
	if len(overrides) == 0 {
		return "none"
	}
	keys := make([]string, 0, len(overrides))
	for k := range overrides {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%d", k, overrides[k]))
	}
	return strings.Join(parts, ", ")
}
