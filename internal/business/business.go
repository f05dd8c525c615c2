// Package business defines the stored business record, the incoming candidate
// observation, and the persistence backends the ingest path writes through.
package business

import (
	"encoding/json"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Known source tags.
const (
	SourceYelp   = "yelp"
	SourceGoogle = "google"
	SourceManual = "manual"
)

// StatusPending is the lifecycle status assigned at creation. Later pipeline
// stages own every other transition.
const StatusPending = "pending"

// payloadSources is the fixed column order for raw payloads in every backend.
var payloadSources = []string{SourceYelp, SourceGoogle, SourceManual}

var payloadColumns = map[string]string{
	SourceYelp:   "yelp_response_json",
	SourceGoogle: "google_response_json",
	SourceManual: "manual_entry_json",
}

// PayloadColumn returns the raw payload column owned by source.
func PayloadColumn(source string) (string, bool) {
	col, ok := payloadColumns[source]
	return col, ok
}

// Record is a stored business.
type Record struct {
	ID      int64  `json:"id" db:"id"`
	Name    string `json:"name" db:"name"`
	Address string `json:"address,omitempty" db:"address"`
	City    string `json:"city,omitempty" db:"city"`
	State   string `json:"state,omitempty" db:"state"`
	Zip     string `json:"zip" db:"zip"`
	Phone   string `json:"phone,omitempty" db:"phone"`
	Email   string `json:"email,omitempty" db:"email"`
	Website string `json:"website,omitempty" db:"website"`

	// Vertical is a foreign key into verticals; VerticalName is joined on read.
	VerticalID   *int64 `json:"vertical_id,omitempty" db:"vertical_id"`
	VerticalName string `json:"vertical,omitempty"`

	// Source is the sorted, comma-joined set of tags that have observed this business.
	Source   string `json:"source" db:"source"`
	SourceID string `json:"source_id,omitempty" db:"source_id"`
	// SourceIDSource is the tag whose upstream id SourceID holds. Merges never
	// change either field.
	SourceIDSource string `json:"source_id_source,omitempty" db:"source_id_source"`
	Status   string `json:"status" db:"status"`

	// Payloads holds the latest raw response per source tag.
	Payloads map[string]json.RawMessage `json:"payloads,omitempty"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// Payload returns the raw payload stored for source, or nil.
func (r *Record) Payload(source string) json.RawMessage {
	if r.Payloads == nil {
		return nil
	}
	return r.Payloads[source]
}

// SetPayload stores raw under source. Empty payloads are ignored.
func (r *Record) SetPayload(source string, raw json.RawMessage) {
	if len(raw) == 0 {
		return
	}
	if r.Payloads == nil {
		r.Payloads = make(map[string]json.RawMessage, 1)
	}
	r.Payloads[source] = raw
}

// Clone returns a deep copy.
func (r *Record) Clone() *Record {
	c := *r
	if r.VerticalID != nil {
		v := *r.VerticalID
		c.VerticalID = &v
	}
	if r.Payloads != nil {
		c.Payloads = make(map[string]json.RawMessage, len(r.Payloads))
		for k, v := range r.Payloads {
			c.Payloads[k] = append(json.RawMessage(nil), v...)
		}
	}
	return &c
}

// Vertical is a business category.
type Vertical struct {
	ID   int64  `json:"id" db:"id"`
	Name string `json:"name" db:"name"`
}

// NameKey is the case-folded, trimmed form of a business name used for
// name+zip matching. Punctuation and inner whitespace are left alone.
func NameKey(name string) string {
	return cases.Lower(language.Und).String(strings.TrimSpace(name))
}

// payloadSlots holds scan targets for the payload columns in payloadSources order.
type payloadSlots [3][]byte

func (p *payloadSlots) dests() []any {
	return []any{&p[0], &p[1], &p[2]}
}

func (p *payloadSlots) apply(r *Record) {
	for i, src := range payloadSources {
		if len(p[i]) > 0 {
			r.SetPayload(src, json.RawMessage(p[i]))
		}
	}
}

// payloadArgs returns one argument per payload column; absent payloads are NULL.
func payloadArgs(r *Record) []any {
	args := make([]any, len(payloadSources))
	for i, src := range payloadSources {
		if p := r.Payload(src); len(p) > 0 {
			args[i] = []byte(p)
		}
	}
	return args
}
