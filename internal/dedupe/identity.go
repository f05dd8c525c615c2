// Package dedupe decides whether an incoming business observation is already
// stored and merges it into the stored record under a fixed field policy.
package dedupe

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/lead-ingest/internal/business"
)

// Tier identifies the match rule that tied a candidate to a stored record.
type Tier int

// Match tiers in evaluation order.
const (
	TierNone Tier = iota
	TierSourceID
	TierWebsite
	TierPhone
	TierNameZip
)

func (t Tier) String() string {
	switch t {
	case TierSourceID:
		return "source_id"
	case TierWebsite:
		return "website"
	case TierPhone:
		return "phone"
	case TierNameZip:
		return "name_zip"
	default:
		return "none"
	}
}

// Finder is the read side of a store transaction used for matching.
type Finder interface {
	FindBySourceID(ctx context.Context, source, sourceID string) (*business.Record, error)
	FindByWebsite(ctx context.Context, website string) (*business.Record, error)
	FindByPhone(ctx context.Context, phone string) (*business.Record, error)
	FindByNameZip(ctx context.Context, nameKey, zip string) (*business.Record, error)
}

// Probe carries the identity-bearing values of a normalized candidate.
type Probe struct {
	Source   string
	SourceID string
	Website  string
	Phone    string
	NameKey  string
	Zip      string
}

// NewProbe builds a probe from a normalized candidate.
func NewProbe(c *business.Candidate, source, sourceID string) Probe {
	return Probe{
		Source:   source,
		SourceID: strings.TrimSpace(sourceID),
		Website:  strings.TrimSpace(c.Website),
		Phone:    strings.TrimSpace(c.Phone),
		NameKey:  business.NameKey(c.Name),
		Zip:      strings.TrimSpace(c.Zip),
	}
}

// Keys returns one lock key per identity the probe can match on. Any two
// probes that could resolve to the same stored record share at least one key.
func (p Probe) Keys() []string {
	keys := make([]string, 0, 4)
	if p.Source != "" && p.SourceID != "" {
		keys = append(keys, "source_id:"+p.Source+":"+p.SourceID)
	}
	if p.Website != "" {
		keys = append(keys, "website:"+p.Website)
	}
	if p.Phone != "" {
		keys = append(keys, "phone:"+p.Phone)
	}
	if p.NameKey != "" && p.Zip != "" {
		keys = append(keys, "name_zip:"+p.NameKey+"|"+p.Zip)
	}
	return keys
}

// Match is a stored record found for a probe and the tier that found it.
type Match struct {
	Record *business.Record
	Tier   Tier
}

type tierProbe struct {
	tier Tier
	find func(ctx context.Context, f Finder, p Probe) (*business.Record, error)
}

// tiers is evaluated in order; the first hit wins.
var tiers = []tierProbe{
	{TierSourceID, func(ctx context.Context, f Finder, p Probe) (*business.Record, error) {
		if p.SourceID == "" {
			return nil, nil
		}
		return f.FindBySourceID(ctx, p.Source, p.SourceID)
	}},
	{TierWebsite, func(ctx context.Context, f Finder, p Probe) (*business.Record, error) {
		if p.Website == "" {
			return nil, nil
		}
		return f.FindByWebsite(ctx, p.Website)
	}},
	{TierPhone, func(ctx context.Context, f Finder, p Probe) (*business.Record, error) {
		if p.Phone == "" {
			return nil, nil
		}
		return f.FindByPhone(ctx, p.Phone)
	}},
	{TierNameZip, func(ctx context.Context, f Finder, p Probe) (*business.Record, error) {
		if p.NameKey == "" || p.Zip == "" {
			return nil, nil
		}
		return f.FindByNameZip(ctx, p.NameKey, p.Zip)
	}},
}

// Resolve finds at most one stored record for p. It returns (nil, nil) when no
// tier matches.
func Resolve(ctx context.Context, f Finder, p Probe) (*Match, error) {
	for _, t := range tiers {
		r, err := t.find(ctx, f, p)
		if err != nil {
			return nil, eris.Wrapf(err, "dedupe: resolve by %s", t.tier)
		}
		if r != nil {
			return &Match{Record: r, Tier: t.tier}, nil
		}
	}
	return nil, nil
}
