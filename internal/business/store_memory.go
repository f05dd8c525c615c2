package business

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"
)

// MemoryStore implements Store in process memory. The store mutex is held for
// the whole of InTx, so transactions are serialized; a failed transaction
// leaves no trace. Used for dry runs and tests.
type MemoryStore struct {
	mu           sync.Mutex
	records      map[int64]*Record
	verticals    map[string]int64
	nextID       int64
	nextVertical int64
	nowFn        func() time.Time
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records:   make(map[int64]*Record),
		verticals: make(map[string]int64),
		nowFn:     func() time.Time { return time.Now().UTC() },
	}
}

// Migrate is a no-op.
func (s *MemoryStore) Migrate(context.Context) error { return nil }

// Close is a no-op.
func (s *MemoryStore) Close() error { return nil }

// InTx runs fn against a transaction whose writes are applied only when fn
// returns nil.
func (s *MemoryStore) InTx(ctx context.Context, fn func(tx Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	tx := &memoryTx{
		store:  s,
		writes: make(map[int64]*Record),
		nextID: s.nextID,
	}
	if err := fn(tx); err != nil {
		return err
	}

	for id, r := range tx.writes {
		s.records[id] = r
	}
	s.nextID = tx.nextID
	return nil
}

// Get returns a copy of the record with id.
func (s *MemoryStore) Get(_ context.Context, id int64) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.records[id]
	if !ok {
		return nil, nil
	}
	return s.withVertical(r.Clone()), nil
}

// UpsertVerticals inserts any vertical names not already present.
func (s *MemoryStore) UpsertVerticals(_ context.Context, names []string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for _, k := range verticalKeys(names) {
		if _, ok := s.verticals[k]; ok {
			continue
		}
		s.nextVertical++
		s.verticals[k] = s.nextVertical
		n++
	}
	return n, nil
}

// ListVerticals returns every vertical ordered by name.
func (s *MemoryStore) ListVerticals(context.Context) ([]Vertical, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Vertical, 0, len(s.verticals))
	for name, id := range s.verticals {
		out = append(out, Vertical{ID: id, Name: name})
	}
	slices.SortFunc(out, func(a, b Vertical) int { return strings.Compare(a.Name, b.Name) })
	return out, nil
}

// withVertical fills VerticalName from the vertical table. Caller holds mu.
func (s *MemoryStore) withVertical(r *Record) *Record {
	r.VerticalName = ""
	if r.VerticalID == nil {
		return r
	}
	for name, id := range s.verticals {
		if id == *r.VerticalID {
			r.VerticalName = name
			break
		}
	}
	return r
}

// memoryTx overlays pending writes on the committed records.
type memoryTx struct {
	store  *MemoryStore
	writes map[int64]*Record
	nextID int64
}

func (t *memoryTx) LockKeys(context.Context, []string) error { return nil }

// find returns a copy of the lowest-id record satisfying match.
func (t *memoryTx) find(match func(r *Record) bool) *Record {
	var best *Record
	consider := func(r *Record) {
		if match(r) && (best == nil || r.ID < best.ID) {
			best = r
		}
	}
	for id, r := range t.store.records {
		if w, ok := t.writes[id]; ok {
			r = w
		}
		consider(r)
	}
	for id, r := range t.writes {
		if _, ok := t.store.records[id]; !ok {
			consider(r)
		}
	}
	if best == nil {
		return nil
	}
	return t.store.withVertical(best.Clone())
}

func (t *memoryTx) FindBySourceID(_ context.Context, source, sourceID string) (*Record, error) {
	if source == "" || sourceID == "" {
		return nil, nil
	}
	return t.find(func(r *Record) bool {
		return r.SourceIDSource == source && r.SourceID == sourceID
	}), nil
}

func (t *memoryTx) FindByWebsite(_ context.Context, website string) (*Record, error) {
	if website == "" {
		return nil, nil
	}
	return t.find(func(r *Record) bool { return r.Website == website }), nil
}

func (t *memoryTx) FindByPhone(_ context.Context, phone string) (*Record, error) {
	if phone == "" {
		return nil, nil
	}
	return t.find(func(r *Record) bool { return r.Phone == phone }), nil
}

func (t *memoryTx) FindByNameZip(_ context.Context, nameKey, zip string) (*Record, error) {
	if nameKey == "" || zip == "" {
		return nil, nil
	}
	return t.find(func(r *Record) bool { return r.Zip == zip && NameKey(r.Name) == nameKey }), nil
}

func (t *memoryTx) VerticalID(_ context.Context, name string) (*int64, error) {
	id, ok := t.store.verticals[NameKey(name)]
	if !ok {
		return nil, nil
	}
	return &id, nil
}

func (t *memoryTx) Insert(_ context.Context, r *Record) error {
	if r.Status == "" {
		r.Status = StatusPending
	}
	t.nextID++
	now := t.store.nowFn()
	r.ID = t.nextID
	r.CreatedAt = now
	r.UpdatedAt = now
	t.writes[r.ID] = r.Clone()
	return nil
}

func (t *memoryTx) Update(_ context.Context, r *Record, payloadSource string) error {
	cur, ok := t.writes[r.ID]
	if !ok {
		cur, ok = t.store.records[r.ID]
	}
	if !ok {
		return eris.Errorf("memory: update business %d: not found", r.ID)
	}

	next := cur.Clone()
	next.Name = r.Name
	next.Address = r.Address
	next.City = r.City
	next.State = r.State
	next.Phone = r.Phone
	next.Email = r.Email
	next.Website = r.Website
	next.VerticalID = r.VerticalID
	next.Source = r.Source
	if _, known := PayloadColumn(payloadSource); known {
		next.SetPayload(payloadSource, r.Payload(payloadSource))
	}
	next.UpdatedAt = t.store.nowFn()
	r.UpdatedAt = next.UpdatedAt
	t.writes[r.ID] = next.Clone()
	return nil
}
