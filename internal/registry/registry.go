// Package registry loads crawl targets from a YAML file, for runs without a
// coverage table.
package registry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/JakeFAU/reg-radar/internal/radar"
	"github.com/JakeFAU/reg-radar/internal/store"
)

// file mirrors the on-disk layout:
//
//	sources:
//	  - id: qcb-news
//	    country: Qatar
//	    authority: QCB
//	    source_url: https://www.qcb.gov.qa/en/news
//	    format: HTML
//	    priority: 1
type file struct {
	Sources []entry `yaml:"sources"`
}

type entry struct {
	ID         string `yaml:"id"`
	Country    string `yaml:"country"`
	Authority  string `yaml:"authority"`
	SourceURL  string `yaml:"source_url"`
	Format     string `yaml:"format"`
	HasRSS     bool   `yaml:"has_rss"`
	RSSURL     string `yaml:"rss_url"`
	RequiresJS bool   `yaml:"requires_js"`
	Priority   *int   `yaml:"priority"`
	IsActive   *bool  `yaml:"is_active"`
}

// Registry serves sources read from YAML. It implements store.SourceRegistry.
type Registry struct {
	sources []radar.Source
}

// LoadFile reads and parses the registry at path.
func LoadFile(path string) (*Registry, error) {
	// #nosec G304 -- the path comes from operator configuration.
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open registry: %w", err)
	}
	defer func() { _ = f.Close() }()
	return Parse(f)
}

// Parse decodes a registry document. Entries default to active; ids must
// be unique and every entry needs an authority and a source_url.
func Parse(r io.Reader) (*Registry, error) {
	var doc file
	if err := yaml.NewDecoder(r).Decode(&doc); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse registry YAML: %w", err)
	}
	seen := make(map[string]struct{}, len(doc.Sources))
	out := make([]radar.Source, 0, len(doc.Sources))
	for i, e := range doc.Sources {
		id := strings.TrimSpace(e.ID)
		if id == "" {
			return nil, fmt.Errorf("source at index %d has no id", i)
		}
		if _, dup := seen[id]; dup {
			return nil, fmt.Errorf("duplicate source id %q", id)
		}
		seen[id] = struct{}{}
		if strings.TrimSpace(e.Authority) == "" || strings.TrimSpace(e.SourceURL) == "" {
			return nil, fmt.Errorf("source %q needs authority and source_url", id)
		}
		active := true
		if e.IsActive != nil {
			active = *e.IsActive
		}
		out = append(out, radar.Source{
			ID:         id,
			Country:    radar.NormalizeCountry(e.Country),
			Authority:  strings.TrimSpace(e.Authority),
			SourceURL:  strings.TrimSpace(e.SourceURL),
			Format:     e.Format,
			HasRSS:     e.HasRSS,
			RSSURL:     strings.TrimSpace(e.RSSURL),
			RequiresJS: e.RequiresJS,
			Priority:   e.Priority,
			IsActive:   active,
		})
	}
	return &Registry{sources: out}, nil
}

// Sources returns every entry, active or not, in file order.
func (r *Registry) Sources() []radar.Source {
	return append([]radar.Source(nil), r.sources...)
}

// ActiveSources implements store.SourceRegistry.
func (r *Registry) ActiveSources(_ context.Context, q store.SourceQuery) ([]radar.Source, error) {
	return store.FilterSources(r.sources, q), nil
}
