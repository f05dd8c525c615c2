package business

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store using modernc.org/sqlite. It keeps a single
// connection and opens every transaction IMMEDIATE, so ingest transactions
// are fully serialized and LockKeys is a no-op.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", sqliteDSN(dsn))
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

// sqliteDSN adds the driver parameters the store relies on unless the caller
// already set them.
func sqliteDSN(dsn string) string {
	for _, param := range []string{"_txlock=immediate", "_time_format=sqlite"} {
		name := param[:strings.Index(param, "=")+1]
		if strings.Contains(dsn, name) {
			continue
		}
		if strings.Contains(dsn, "?") {
			dsn += "&" + param
		} else {
			dsn += "?" + param
		}
	}
	return dsn
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS verticals (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	name       TEXT NOT NULL UNIQUE,
	created_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS businesses (
	id                   INTEGER PRIMARY KEY AUTOINCREMENT,
	name                 TEXT NOT NULL,
	name_key             TEXT NOT NULL,
	address              TEXT NOT NULL DEFAULT '',
	city                 TEXT NOT NULL DEFAULT '',
	state                TEXT NOT NULL DEFAULT '',
	zip                  TEXT NOT NULL,
	phone                TEXT NOT NULL DEFAULT '',
	email                TEXT NOT NULL DEFAULT '',
	website              TEXT NOT NULL DEFAULT '',
	vertical_id          INTEGER REFERENCES verticals(id),
	source               TEXT NOT NULL,
	source_id            TEXT NOT NULL DEFAULT '',
	source_id_source     TEXT NOT NULL DEFAULT '',
	status               TEXT NOT NULL DEFAULT 'pending',
	yelp_response_json   TEXT,
	google_response_json TEXT,
	manual_entry_json    TEXT,
	created_at           DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at           DATETIME NOT NULL DEFAULT (datetime('now'))
);
`

// sqliteIndexes runs after any column backfill so indexes can name new columns.
const sqliteIndexes = `
DROP INDEX IF EXISTS idx_businesses_source_id;
CREATE INDEX IF NOT EXISTS idx_businesses_source_ref ON businesses(source_id_source, source_id) WHERE source_id <> '';
CREATE INDEX IF NOT EXISTS idx_businesses_website ON businesses(website) WHERE website <> '';
CREATE INDEX IF NOT EXISTS idx_businesses_phone ON businesses(phone) WHERE phone <> '';
CREATE INDEX IF NOT EXISTS idx_businesses_zip_name ON businesses(zip, name_key);
CREATE INDEX IF NOT EXISTS idx_businesses_status ON businesses(status);
`

// Migrate creates the schema if it does not exist and brings databases
// created by older builds up to date.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, sqliteMigration); err != nil {
		return eris.Wrap(err, "sqlite: migrate")
	}

	has, err := s.hasColumn(ctx, "businesses", "source_id_source")
	if err != nil {
		return err
	}
	if !has {
		// Only single-source rows can be attributed; merged rows stay unattributed.
		for _, stmt := range []string{
			`ALTER TABLE businesses ADD COLUMN source_id_source TEXT NOT NULL DEFAULT ''`,
			`UPDATE businesses SET source_id_source = source WHERE source_id <> '' AND instr(source, ',') = 0`,
		} {
			if _, err := s.db.ExecContext(ctx, stmt); err != nil {
				return eris.Wrap(err, "sqlite: migrate source_id_source")
			}
		}
	}

	_, err = s.db.ExecContext(ctx, sqliteIndexes)
	return eris.Wrap(err, "sqlite: migrate indexes")
}

func (s *SQLiteStore) hasColumn(ctx context.Context, table, column string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT count(*) FROM pragma_table_info(?) WHERE name = ?`, table, column).Scan(&n)
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: inspect %s", table)
	}
	return n > 0, nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// InTx runs fn inside an IMMEDIATE transaction.
func (s *SQLiteStore) InTx(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	if err := fn(&sqliteTx{tx: tx}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return eris.Wrap(err, "sqlite: commit tx")
	}
	return nil
}

// Get fetches a record by id.
func (s *SQLiteStore) Get(ctx context.Context, id int64) (*Record, error) {
	r := &Record{}
	var p payloadSlots
	err := s.db.QueryRowContext(ctx, `SELECT `+recordColumns+` FROM `+recordFrom+` WHERE b.id = ?`, id).
		Scan(recordDests(r, &p)...)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "sqlite: get business %d", id)
	}
	p.apply(r)
	return r, nil
}

// UpsertVerticals inserts any vertical names not already present.
func (s *SQLiteStore) UpsertVerticals(ctx context.Context, names []string) (int64, error) {
	keys := verticalKeys(names)
	if len(keys) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: begin upsert verticals")
	}
	defer tx.Rollback() //nolint:errcheck

	var total int64
	for _, k := range keys {
		res, err := tx.ExecContext(ctx,
			`INSERT INTO verticals (name) VALUES (?) ON CONFLICT(name) DO NOTHING`, k)
		if err != nil {
			return 0, eris.Wrapf(err, "sqlite: insert vertical %s", k)
		}
		n, _ := res.RowsAffected()
		total += n
	}

	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: commit upsert verticals")
	}
	return total, nil
}

// ListVerticals returns every vertical ordered by name.
func (s *SQLiteStore) ListVerticals(ctx context.Context) ([]Vertical, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name FROM verticals ORDER BY name`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list verticals")
	}
	defer rows.Close() //nolint:errcheck

	var out []Vertical
	for rows.Next() {
		var v Vertical
		if err := rows.Scan(&v.ID, &v.Name); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan vertical")
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// sqliteTx implements Tx over a database/sql transaction.
type sqliteTx struct {
	tx *sql.Tx
}

// LockKeys is a no-op: the single IMMEDIATE connection already serializes writers.
func (t *sqliteTx) LockKeys(context.Context, []string) error {
	return nil
}

func (t *sqliteTx) findOne(ctx context.Context, probe, where string, args ...any) (*Record, error) {
	r := &Record{}
	var p payloadSlots
	err := t.tx.QueryRowContext(ctx,
		`SELECT `+recordColumns+` FROM `+recordFrom+` WHERE `+where+` ORDER BY b.id LIMIT 1`,
		args...,
	).Scan(recordDests(r, &p)...)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "sqlite: find business by %s", probe)
	}
	p.apply(r)
	return r, nil
}

func (t *sqliteTx) FindBySourceID(ctx context.Context, source, sourceID string) (*Record, error) {
	if source == "" || sourceID == "" {
		return nil, nil
	}
	return t.findOne(ctx, "source id",
		`b.source_id_source = ? AND b.source_id = ?`, source, sourceID)
}

func (t *sqliteTx) FindByWebsite(ctx context.Context, website string) (*Record, error) {
	if website == "" {
		return nil, nil
	}
	return t.findOne(ctx, "website", `b.website = ?`, website)
}

func (t *sqliteTx) FindByPhone(ctx context.Context, phone string) (*Record, error) {
	if phone == "" {
		return nil, nil
	}
	return t.findOne(ctx, "phone", `b.phone = ?`, phone)
}

func (t *sqliteTx) FindByNameZip(ctx context.Context, nameKey, zip string) (*Record, error) {
	if nameKey == "" || zip == "" {
		return nil, nil
	}
	return t.findOne(ctx, "name and zip", `b.name_key = ? AND b.zip = ?`, nameKey, zip)
}

func (t *sqliteTx) VerticalID(ctx context.Context, name string) (*int64, error) {
	key := NameKey(name)
	if key == "" {
		return nil, nil
	}
	var id int64
	err := t.tx.QueryRowContext(ctx, `SELECT id FROM verticals WHERE name = ?`, key).Scan(&id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "sqlite: vertical %q", name)
	}
	return &id, nil
}

func (t *sqliteTx) Insert(ctx context.Context, r *Record) error {
	if r.Status == "" {
		r.Status = StatusPending
	}
	now := time.Now().UTC()
	args := []any{
		r.Name, NameKey(r.Name), r.Address, r.City, r.State, r.Zip, r.Phone, r.Email, r.Website,
		r.VerticalID, r.Source, r.SourceID, r.SourceIDSource, r.Status,
	}
	args = append(args, sqlitePayloadArgs(r)...)
	args = append(args, now, now)

	res, err := t.tx.ExecContext(ctx, `
		INSERT INTO businesses (
			name, name_key, address, city, state, zip, phone, email, website,
			vertical_id, source, source_id, source_id_source, status,
			yelp_response_json, google_response_json, manual_entry_json,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		args...,
	)
	if err != nil {
		return eris.Wrap(err, "sqlite: insert business")
	}
	id, err := res.LastInsertId()
	if err != nil {
		return eris.Wrap(err, "sqlite: insert business id")
	}
	r.ID = id
	r.CreatedAt = now
	r.UpdatedAt = now
	return nil
}

func (t *sqliteTx) Update(ctx context.Context, r *Record, payloadSource string) error {
	now := time.Now().UTC()
	set := `name = ?, name_key = ?, address = ?, city = ?, state = ?, phone = ?, email = ?, website = ?,
		vertical_id = ?, source = ?, updated_at = ?`
	args := []any{
		r.Name, NameKey(r.Name), r.Address, r.City, r.State, r.Phone, r.Email, r.Website,
		r.VerticalID, r.Source, now,
	}
	if col, ok := PayloadColumn(payloadSource); ok {
		if p := r.Payload(payloadSource); len(p) > 0 {
			set += fmt.Sprintf(", %s = ?", col)
			args = append(args, string(p))
		}
	}
	args = append(args, r.ID)

	if _, err := t.tx.ExecContext(ctx, `UPDATE businesses SET `+set+` WHERE id = ?`, args...); err != nil {
		return eris.Wrapf(err, "sqlite: update business %d", r.ID)
	}
	r.UpdatedAt = now
	return nil
}

// sqlitePayloadArgs binds payloads as TEXT rather than BLOB.
func sqlitePayloadArgs(r *Record) []any {
	args := payloadArgs(r)
	for i, a := range args {
		if b, ok := a.([]byte); ok {
			args[i] = string(b)
		}
	}
	return args
}
