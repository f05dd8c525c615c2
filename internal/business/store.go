package business

import "context"

// Tx is the view of the store available inside one ingest transaction. Find
// methods return (nil, nil) when nothing matches; on Postgres the returned row
// is locked until the transaction ends.
type Tx interface {
	// LockKeys serializes concurrent transactions that share any identity key.
	LockKeys(ctx context.Context, keys []string) error

	// Match probes. Each returns the oldest matching record.
	FindBySourceID(ctx context.Context, source, sourceID string) (*Record, error)
	FindByWebsite(ctx context.Context, website string) (*Record, error)
	FindByPhone(ctx context.Context, phone string) (*Record, error)
	FindByNameZip(ctx context.Context, nameKey, zip string) (*Record, error)

	// VerticalID resolves a vertical name case-insensitively; nil when unknown.
	VerticalID(ctx context.Context, name string) (*int64, error)

	// Insert stores r and sets its ID and timestamps.
	Insert(ctx context.Context, r *Record) error
	// Update writes every scalar field, the source set and vertical of r, plus
	// the payload column owned by payloadSource when r carries one.
	Update(ctx context.Context, r *Record, payloadSource string) error
}

// Store persists business records and verticals.
type Store interface {
	// InTx runs fn in one transaction. fn's error rolls everything back.
	InTx(ctx context.Context, fn func(tx Tx) error) error
	// Get returns (nil, nil) when no record has id.
	Get(ctx context.Context, id int64) (*Record, error)
	UpsertVerticals(ctx context.Context, names []string) (int64, error)
	ListVerticals(ctx context.Context) ([]Vertical, error)
	Migrate(ctx context.Context) error
	Close() error
}

// verticalKeys folds names to their stored form and drops blanks and repeats.
// Vertical names are stored case-folded so the unique constraint on name is
// also case-insensitive.
func verticalKeys(names []string) []string {
	seen := make(map[string]bool, len(names))
	out := make([]string, 0, len(names))
	for _, n := range names {
		k := NameKey(n)
		if k == "" || seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, k)
	}
	return out
}
