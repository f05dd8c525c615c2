package dedupe

import (
	"context"
	"encoding/json"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/lead-ingest/internal/business"
)

// Change records one field the merge path rewrote.
type Change struct {
	Field string `json:"field"`
	From  string `json:"from"`
	To    string `json:"to"`
	Rule  Rule   `json:"rule"`
}

// writer performs the insert and merge writes inside a store transaction.
type writer struct {
	fields *FieldResolver
}

// insert stores a first sighting. An unknown vertical is left unset.
func (w *writer) insert(ctx context.Context, tx business.Tx, c *business.Candidate, source, sourceID string, raw json.RawMessage, log *zap.Logger) (*business.Record, error) {
	r := c.ToRecord(source, sourceID)

	if c.Category != "" {
		vid, err := tx.VerticalID(ctx, c.Category)
		if err != nil {
			return nil, err
		}
		if vid == nil {
			log.Warn("unknown vertical, leaving unset", zap.String("vertical", c.Category))
		}
		r.VerticalID = vid
	}

	if _, ok := business.PayloadColumn(source); ok {
		r.SetPayload(source, raw)
	}

	if err := tx.Insert(ctx, r); err != nil {
		return nil, eris.Wrap(err, "dedupe: insert")
	}
	return r, nil
}

// merge folds a sighting from a source new to existing's set into existing.
// Every scalar field goes through the field policy; the vertical round-trips
// through its name.
func (w *writer) merge(ctx context.Context, tx business.Tx, existing *business.Record, c *business.Candidate, source string, raw json.RawMessage, log *zap.Logger) ([]Change, error) {
	next := existing.Clone()
	var changes []Change

	for _, f := range []struct {
		name     string
		dst      *string
		incoming string
	}{
		{"name", &next.Name, c.Name},
		{"address", &next.Address, c.Address},
		{"city", &next.City, c.City},
		{"state", &next.State, c.State},
		{"phone", &next.Phone, c.Phone},
		{"email", &next.Email, c.Email},
		{"website", &next.Website, c.Website},
	} {
		res := w.fields.ResolveField(*f.dst, f.incoming, source, existing.Source)
		if res.Value != *f.dst {
			changes = append(changes, Change{Field: f.name, From: *f.dst, To: res.Value, Rule: res.Rule})
			*f.dst = res.Value
		}
	}

	res := w.fields.ResolveField(existing.VerticalName, c.Category, source, existing.Source)
	if res.Value != existing.VerticalName {
		vid, err := tx.VerticalID(ctx, res.Value)
		if err != nil {
			return nil, err
		}
		if vid == nil {
			log.Warn("unknown vertical, keeping existing", zap.String("vertical", res.Value))
		} else {
			next.VerticalID = vid
			next.VerticalName = business.NameKey(res.Value)
			changes = append(changes, Change{Field: "vertical", From: existing.VerticalName, To: next.VerticalName, Rule: res.Rule})
		}
	}

	next.Source, _ = Combine(existing.Source, source)
	if _, ok := business.PayloadColumn(source); ok {
		next.SetPayload(source, raw)
	}

	if err := tx.Update(ctx, next, source); err != nil {
		return nil, eris.Wrap(err, "dedupe: merge")
	}
	return changes, nil
}
