package batch

import (
	"context"
	"encoding/json"
	"io"

	"github.com/rotisserie/eris"

	"github.com/sells-group/lead-ingest/internal/business"
)

// entry is the document form of one candidate in JSON and YAML input.
type entry struct {
	business.Candidate `yaml:",inline"`
	Source             string          `json:"source" yaml:"source"`
	SourceID           string          `json:"source_id" yaml:"source_id"`
	Raw                json.RawMessage `json:"raw,omitempty" yaml:"-"`
}

func (e entry) item(line int, raw json.RawMessage) Item {
	if len(e.Raw) > 0 {
		raw = e.Raw
	}
	return Item{
		Line:      line,
		Candidate: e.Candidate,
		Source:    e.Source,
		SourceID:  e.SourceID,
		Raw:       raw,
	}
}

// DecodeJSON streams a JSON array of candidates, sending one Item per
// element. An element without a raw field is its own payload. Item.Line is
// the 1-based element index. Both channels are closed when processing
// completes.
func DecodeJSON(ctx context.Context, r io.Reader) (<-chan Item, <-chan error) {
	itemCh := make(chan Item, 64)
	errCh := make(chan error, 1)

	go func() {
		defer close(itemCh)
		defer close(errCh)

		decoder := json.NewDecoder(r)

		tok, err := decoder.Token()
		if err != nil {
			if err == io.EOF {
				return
			}
			errCh <- eris.Wrap(err, "json: read opening token")
			return
		}

		delim, ok := tok.(json.Delim)
		if !ok || delim != '[' {
			errCh <- eris.Errorf("json: expected '[', got %v", tok)
			return
		}

		for n := 1; decoder.More(); n++ {
			if ctx.Err() != nil {
				errCh <- eris.Wrap(ctx.Err(), "json: context cancelled")
				return
			}

			var raw json.RawMessage
			if err := decoder.Decode(&raw); err != nil {
				errCh <- eris.Wrapf(err, "json: decode element %d", n)
				return
			}
			var e entry
			if err := json.Unmarshal(raw, &e); err != nil {
				errCh <- eris.Wrapf(err, "json: decode element %d", n)
				return
			}

			select {
			case itemCh <- e.item(n, raw):
			case <-ctx.Done():
				errCh <- eris.Wrap(ctx.Err(), "json: context cancelled")
				return
			}
		}

		if _, err := decoder.Token(); err != nil && err != io.EOF {
			errCh <- eris.Wrap(err, "json: read closing token")
		}
	}()

	return itemCh, errCh
}
