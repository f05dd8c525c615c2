package business

import (
	"cmp"
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"slices"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/lead-ingest/internal/db"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

const recordColumns = `b.id, b.name, b.address, b.city, b.state, b.zip, b.phone, b.email, b.website,
	b.vertical_id, COALESCE(v.name, ''), b.source, b.source_id, b.source_id_source, b.status,
	b.yelp_response_json, b.google_response_json, b.manual_entry_json,
	b.created_at, b.updated_at`

const recordFrom = `businesses b LEFT JOIN verticals v ON v.id = b.vertical_id`

func recordDests(r *Record, p *payloadSlots) []any {
	dests := []any{
		&r.ID, &r.Name, &r.Address, &r.City, &r.State, &r.Zip, &r.Phone, &r.Email, &r.Website,
		&r.VerticalID, &r.VerticalName, &r.Source, &r.SourceID, &r.SourceIDSource, &r.Status,
	}
	dests = append(dests, p.dests()...)
	return append(dests, &r.CreatedAt, &r.UpdatedAt)
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// PostgresStore implements Store using pgx.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// NewPostgres creates a PostgresStore with its own connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "business: parse postgres config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "business: connect postgres")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "business: ping postgres")
	}

	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// NewPostgresStore wraps an existing pool. The caller owns the pool's lifetime.
func NewPostgresStore(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Close releases the pool if this store opened it.
func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

// InTx runs fn inside a read-committed transaction.
func (s *PostgresStore) InTx(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "business: begin tx")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if err := fn(&pgTx{tx: tx}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return eris.Wrap(err, "business: commit tx")
	}
	return nil
}

// Get fetches a record by id.
func (s *PostgresStore) Get(ctx context.Context, id int64) (*Record, error) {
	r := &Record{}
	var p payloadSlots
	err := s.pool.QueryRow(ctx, `SELECT `+recordColumns+` FROM `+recordFrom+` WHERE b.id = $1`, id).
		Scan(recordDests(r, &p)...)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "business: get %d", id)
	}
	p.apply(r)
	return r, nil
}

// UpsertVerticals inserts any vertical names not already present.
func (s *PostgresStore) UpsertVerticals(ctx context.Context, names []string) (int64, error) {
	keys := verticalKeys(names)
	rows := make([][]any, len(keys))
	for i, k := range keys {
		rows[i] = []any{k}
	}
	n, err := db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table:        "verticals",
		Columns:      []string{"name"},
		ConflictKeys: []string{"name"},
		DoNothing:    true,
	}, rows)
	if err != nil {
		return 0, eris.Wrap(err, "business: upsert verticals")
	}
	return n, nil
}

// ListVerticals returns every vertical ordered by name.
func (s *PostgresStore) ListVerticals(ctx context.Context) ([]Vertical, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, name FROM verticals ORDER BY name`)
	if err != nil {
		return nil, eris.Wrap(err, "business: list verticals")
	}
	defer rows.Close()

	var out []Vertical
	for rows.Next() {
		var v Vertical
		if err := rows.Scan(&v.ID, &v.Name); err != nil {
			return nil, eris.Wrap(err, "business: scan vertical")
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// migrationLockKey guards concurrent migration runs (e.g. overlapping deploys).
const migrationLockKey = 7340021

// Migrate applies pending embedded migrations in lexicographic order inside a
// single transaction.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	log := zap.L().With(zap.String("component", "business.migrate"))

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "business: begin migration")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock($1)", int64(migrationLockKey)); err != nil {
		return eris.Wrap(err, "business: acquire migration lock")
	}

	if _, err := tx.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			filename   TEXT PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`); err != nil {
		return eris.Wrap(err, "business: ensure migration table")
	}

	applied, err := appliedMigrations(ctx, tx)
	if err != nil {
		return err
	}

	entries, err := fs.ReadDir(migrationFS, "migrations")
	if err != nil {
		return eris.Wrap(err, "business: read migration dir")
	}
	slices.SortFunc(entries, func(a, b fs.DirEntry) int {
		return cmp.Compare(a.Name(), b.Name())
	})

	for _, entry := range entries {
		name := entry.Name()
		if applied[name] {
			continue
		}

		data, err := migrationFS.ReadFile("migrations/" + name)
		if err != nil {
			return eris.Wrapf(err, "business: read migration %s", name)
		}

		log.Info("applying migration", zap.String("file", name))
		if _, err := tx.Exec(ctx, string(data)); err != nil {
			return eris.Wrapf(err, "business: apply migration %s", name)
		}
		if _, err := tx.Exec(ctx, "INSERT INTO schema_migrations (filename) VALUES ($1)", name); err != nil {
			return eris.Wrapf(err, "business: record migration %s", name)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return eris.Wrap(err, "business: commit migrations")
	}
	return nil
}

func appliedMigrations(ctx context.Context, q db.Querier) (map[string]bool, error) {
	rows, err := q.Query(ctx, "SELECT filename FROM schema_migrations")
	if err != nil {
		return nil, eris.Wrap(err, "business: query applied migrations")
	}
	defer rows.Close()

	applied := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, eris.Wrap(err, "business: scan migration row")
		}
		applied[name] = true
	}
	return applied, rows.Err()
}

// pgTx implements Tx over a pgx transaction.
type pgTx struct {
	tx pgx.Tx
}

// LockKeys takes a transaction-scoped advisory lock per key, in sorted order so
// two transactions with overlapping keys cannot deadlock.
func (t *pgTx) LockKeys(ctx context.Context, keys []string) error {
	sorted := slices.Clone(keys)
	slices.Sort(sorted)
	sorted = slices.Compact(sorted)
	for _, k := range sorted {
		if _, err := t.tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, k); err != nil {
			return eris.Wrapf(err, "business: lock key %s", k)
		}
	}
	return nil
}

func (t *pgTx) findOne(ctx context.Context, probe, where string, args ...any) (*Record, error) {
	r := &Record{}
	var p payloadSlots
	err := t.tx.QueryRow(ctx,
		`SELECT `+recordColumns+` FROM `+recordFrom+` WHERE `+where+` ORDER BY b.id LIMIT 1 FOR UPDATE OF b`,
		args...,
	).Scan(recordDests(r, &p)...)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "business: find by %s", probe)
	}
	p.apply(r)
	return r, nil
}

func (t *pgTx) FindBySourceID(ctx context.Context, source, sourceID string) (*Record, error) {
	if source == "" || sourceID == "" {
		return nil, nil
	}
	return t.findOne(ctx, "source id",
		`b.source_id_source = $1 AND b.source_id = $2`, source, sourceID)
}

func (t *pgTx) FindByWebsite(ctx context.Context, website string) (*Record, error) {
	if website == "" {
		return nil, nil
	}
	return t.findOne(ctx, "website", `b.website = $1`, website)
}

func (t *pgTx) FindByPhone(ctx context.Context, phone string) (*Record, error) {
	if phone == "" {
		return nil, nil
	}
	return t.findOne(ctx, "phone", `b.phone = $1`, phone)
}

func (t *pgTx) FindByNameZip(ctx context.Context, nameKey, zip string) (*Record, error) {
	if nameKey == "" || zip == "" {
		return nil, nil
	}
	return t.findOne(ctx, "name and zip", `b.name_key = $1 AND b.zip = $2`, nameKey, zip)
}

func (t *pgTx) VerticalID(ctx context.Context, name string) (*int64, error) {
	key := NameKey(name)
	if key == "" {
		return nil, nil
	}
	var id int64
	err := t.tx.QueryRow(ctx, `SELECT id FROM verticals WHERE name = $1`, key).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "business: vertical %q", name)
	}
	return &id, nil
}

func (t *pgTx) Insert(ctx context.Context, r *Record) error {
	if r.Status == "" {
		r.Status = StatusPending
	}
	args := []any{
		r.Name, NameKey(r.Name), r.Address, r.City, r.State, r.Zip, r.Phone, r.Email, r.Website,
		r.VerticalID, r.Source, r.SourceID, r.SourceIDSource, r.Status,
	}
	args = append(args, payloadArgs(r)...)

	err := t.tx.QueryRow(ctx, `
		INSERT INTO businesses (
			name, name_key, address, city, state, zip, phone, email, website,
			vertical_id, source, source_id, source_id_source, status,
			yelp_response_json, google_response_json, manual_entry_json
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9,
			$10, $11, $12, $13, $14,
			$15, $16, $17
		) RETURNING id, created_at, updated_at`,
		args...,
	).Scan(&r.ID, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return eris.Wrap(err, "business: insert")
	}
	return nil
}

func (t *pgTx) Update(ctx context.Context, r *Record, payloadSource string) error {
	set := `name=$2, name_key=$3, address=$4, city=$5, state=$6, phone=$7, email=$8, website=$9,
		vertical_id=$10, source=$11, updated_at=now()`
	args := []any{
		r.ID, r.Name, NameKey(r.Name), r.Address, r.City, r.State, r.Phone, r.Email, r.Website,
		r.VerticalID, r.Source,
	}
	if col, ok := PayloadColumn(payloadSource); ok {
		if p := r.Payload(payloadSource); len(p) > 0 {
			args = append(args, []byte(p))
			set += fmt.Sprintf(", %s=$%d", col, len(args))
		}
	}

	err := t.tx.QueryRow(ctx, `UPDATE businesses SET `+set+` WHERE id=$1 RETURNING updated_at`, args...).
		Scan(&r.UpdatedAt)
	if err != nil {
		return eris.Wrapf(err, "business: update %d", r.ID)
	}
	return nil
}
