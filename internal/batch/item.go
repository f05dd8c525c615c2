// Package batch reads candidate files and feeds them through the ingester
// with bounded concurrency.
package batch

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/lead-ingest/internal/business"
)

// Item is one candidate read from an input file.
type Item struct {
	Line      int
	Candidate business.Candidate
	Source    string
	SourceID  string
	Raw       json.RawMessage
}

// columnAliases maps accepted header spellings to candidate fields.
var columnAliases = map[string]string{
	"name":          "name",
	"business_name": "name",
	"address":       "address",
	"street":        "address",
	"city":          "city",
	"state":         "state",
	"zip":           "zip",
	"zip_code":      "zip",
	"postal_code":   "zip",
	"category":      "category",
	"vertical":      "category",
	"website":       "website",
	"url":           "website",
	"email":         "email",
	"phone":         "phone",
	"phone_number":  "phone",
	"source":        "source",
	"source_id":     "source_id",
	"raw":           "raw",
	"payload":       "raw",
}

// columnIndex maps candidate fields to their position in header.
func columnIndex(header []string) map[string]int {
	idx := make(map[string]int, len(header))
	for i, h := range header {
		key := strings.ToLower(strings.TrimSpace(h))
		key = strings.ReplaceAll(key, " ", "_")
		if field, ok := columnAliases[key]; ok {
			if _, dup := idx[field]; !dup {
				idx[field] = i
			}
		}
	}
	return idx
}

// itemFromRow builds an Item from a tabular row. When the row has no raw
// payload column, the payload is the row itself keyed by header.
func itemFromRow(line int, header []string, idx map[string]int, cells []string) (Item, error) {
	get := func(field string) string {
		i, ok := idx[field]
		if !ok || i >= len(cells) {
			return ""
		}
		return strings.TrimSpace(cells[i])
	}

	it := Item{
		Line: line,
		Candidate: business.Candidate{
			Name:     get("name"),
			Address:  get("address"),
			City:     get("city"),
			State:    get("state"),
			Zip:      get("zip"),
			Category: get("category"),
			Website:  get("website"),
			Email:    get("email"),
			Phone:    get("phone"),
		},
		Source:   get("source"),
		SourceID: get("source_id"),
	}

	if raw := get("raw"); raw != "" {
		it.Raw = json.RawMessage(raw)
		return it, nil
	}

	obj := make(map[string]string, len(header))
	for i, h := range header {
		if i < len(cells) && h != "" {
			obj[h] = cells[i]
		}
	}
	raw, err := json.Marshal(obj)
	if err != nil {
		return Item{}, eris.Wrapf(err, "batch: encode row %d", line)
	}
	it.Raw = raw
	return it, nil
}

// ReadFile streams items from a .csv, .tsv, .xlsx, .json, .yaml or .yml file.
// Both channels are closed when reading completes.
func ReadFile(ctx context.Context, path string) (<-chan Item, <-chan error) {
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".xlsx":
		return StreamXLSX(ctx, path, XLSXOptions{})
	case ".csv", ".tsv", ".json", ".yaml", ".yml":
	default:
		return failed(eris.Errorf("batch: unsupported file type %q", ext))
	}

	f, err := os.Open(path) //nolint:gosec // operator-supplied path
	if err != nil {
		return failed(eris.Wrapf(err, "batch: open %s", path))
	}

	var items <-chan Item
	var errs <-chan error
	switch ext {
	case ".csv":
		items, errs = StreamCSV(ctx, f, CSVOptions{})
	case ".tsv":
		items, errs = StreamCSV(ctx, f, CSVOptions{Delimiter: '\t'})
	case ".json":
		items, errs = DecodeJSON(ctx, f)
	default:
		items, errs = DecodeYAML(ctx, f)
	}
	return closeAfter(ctx, f, items, errs)
}

func failed(err error) (<-chan Item, <-chan error) {
	items := make(chan Item)
	errs := make(chan error, 1)
	errs <- err
	close(items)
	close(errs)
	return items, errs
}

// closeAfter forwards items and closes f once the reader has finished producing.
func closeAfter(ctx context.Context, f *os.File, items <-chan Item, errs <-chan error) (<-chan Item, <-chan error) {
	outItems := make(chan Item)
	outErrs := make(chan error, 1)
	go func() {
		defer close(outErrs)
		defer close(outItems)
		defer f.Close() //nolint:errcheck
		for it := range items {
			select {
			case outItems <- it:
			case <-ctx.Done():
			}
		}
		if err := <-errs; err != nil {
			outErrs <- err
		}
	}()
	return outItems, outErrs
}
