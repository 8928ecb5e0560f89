// Package store defines interfaces for persistence dependencies (source
// registry, ingest items, run log). Implementations live in other packages;
// this package must not import database drivers or concrete clients.
package store
