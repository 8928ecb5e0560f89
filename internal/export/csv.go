// Package export writes items as a semicolon separated CSV that opens
// cleanly in spreadsheet tools using a comma decimal locale.
package export

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/JakeFAU/reg-radar/internal/radar"
)

// ContentType of the produced file.
const ContentType = "text/csv; charset=utf-8"

// Columns is the header row, in order.
var Columns = []string{
	"country",
	"authority",
	"ingest_source_type",
	"title",
	"doc_url",
	"source_url",
	"published_at",
}

// WriteCSV renders items to w.
func WriteCSV(w io.Writer, items []radar.IngestItem) error {
	cw := csv.NewWriter(w)
	cw.Comma = ';'
	if err := cw.Write(Columns); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for _, it := range items {
		published := ""
		if it.PublishedAt != nil {
			published = it.PublishedAt.UTC().Format(time.RFC3339)
		}
		row := []string{
			clean(string(it.Country)),
			clean(it.Authority),
			clean(string(it.SourceType)),
			clean(it.Title),
			clean(it.DocURL),
			clean(it.SourceURL),
			published,
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("write row %s: %w", it.DocURL, err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("flush csv: %w", err)
	}
	return nil
}

// clean folds line breaks and runs of whitespace into single spaces.
func clean(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// Dump renders items and stores them at objectPath through blobs.
func Dump(ctx context.Context, blobs radar.BlobStore, objectPath string, items []radar.IngestItem) (string, error) {
	var buf bytes.Buffer
	if err := WriteCSV(&buf, items); err != nil {
		return "", err
	}
	uri, err := blobs.PutObject(ctx, objectPath, ContentType, &buf)
	if err != nil {
		return "", fmt.Errorf("store csv: %w", err)
	}
	return uri, nil
}

// DefaultFileName is items_dump_<UTC timestamp>.csv.
func DefaultFileName(now time.Time) string {
	return "items_dump_" + now.UTC().Format("20060102T150405Z") + ".csv"
}

// SplitLocal turns an output path into a base directory and a file name for
// a filesystem blob store.
func SplitLocal(out string) (dir, name string) {
	clean := filepath.Clean(out)
	return filepath.Dir(clean), filepath.Base(clean)
}
