package business

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var recordCols = []string{
	"id", "name", "address", "city", "state", "zip", "phone", "email", "website",
	"vertical_id", "vertical", "source", "source_id", "source_id_source", "status",
	"yelp_response_json", "google_response_json", "manual_entry_json",
	"created_at", "updated_at",
}

func joesRow(rows *pgxmock.Rows, now time.Time) *pgxmock.Rows {
	vid := int64(3)
	return rows.AddRow(
		int64(7), "Joe's Pizza", "1 Main St", "New York", "NY", "10001", "", "", "joespizza.com",
		&vid, "restaurants", "yelp", "y-1", "yelp", StatusPending,
		[]byte(`{"id":"y-1"}`), nil, nil,
		now, now,
	)
}

func TestPostgresStore_Get(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	now := time.Now()
	mock.ExpectQuery(`SELECT b.id, b.name`).
		WithArgs(int64(7)).
		WillReturnRows(joesRow(pgxmock.NewRows(recordCols), now))

	st := NewPostgresStore(mock)
	r, err := st.Get(context.Background(), 7)
	require.NoError(t, err)
	require.NotNil(t, r)

	assert.Equal(t, int64(7), r.ID)
	assert.Equal(t, "Joe's Pizza", r.Name)
	require.NotNil(t, r.VerticalID)
	assert.Equal(t, int64(3), *r.VerticalID)
	assert.Equal(t, "restaurants", r.VerticalName)
	assert.JSONEq(t, `{"id":"y-1"}`, string(r.Payload(SourceYelp)))
	assert.Nil(t, r.Payload(SourceGoogle))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Get_NotFound(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery(`SELECT b.id, b.name`).
		WithArgs(int64(99)).
		WillReturnError(pgx.ErrNoRows)

	r, err := NewPostgresStore(mock).Get(context.Background(), 99)
	require.NoError(t, err)
	assert.Nil(t, r)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_InTx_CommitsOnSuccess(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectExec(`pg_advisory_xact_lock\(hashtextextended\(\$1, 0\)\)`).
		WithArgs("phone:212-555-0000").
		WillReturnResult(pgxmock.NewResult("SELECT", 1))
	mock.ExpectExec(`pg_advisory_xact_lock`).
		WithArgs("website:joespizza.com").
		WillReturnResult(pgxmock.NewResult("SELECT", 1))
	mock.ExpectCommit()

	err = NewPostgresStore(mock).InTx(context.Background(), func(tx Tx) error {
		return tx.LockKeys(context.Background(), []string{
			"website:joespizza.com", "phone:212-555-0000", "website:joespizza.com",
		})
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_InTx_RollsBackOnError(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectRollback()

	boom := errors.New("boom")
	err = NewPostgresStore(mock).InTx(context.Background(), func(Tx) error { return boom })
	assert.ErrorIs(t, err, boom)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresTx_FindBySourceID(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	now := time.Now()
	mock.ExpectBegin()
	mock.ExpectQuery(`(?s)b.source_id_source = \$1 AND b.source_id = \$2.*FOR UPDATE OF b`).
		WithArgs("yelp", "y-1").
		WillReturnRows(joesRow(pgxmock.NewRows(recordCols), now))
	mock.ExpectCommit()

	var got *Record
	err = NewPostgresStore(mock).InTx(context.Background(), func(tx Tx) error {
		var ferr error
		got, ferr = tx.FindBySourceID(context.Background(), "yelp", "y-1")
		return ferr
	})
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, int64(7), got.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresTx_FindEmptyProbesSkipQuery(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectCommit()

	err = NewPostgresStore(mock).InTx(context.Background(), func(tx Tx) error {
		ctx := context.Background()
		for _, find := range []func() (*Record, error){
			func() (*Record, error) { return tx.FindBySourceID(ctx, "yelp", "") },
			func() (*Record, error) { return tx.FindByWebsite(ctx, "") },
			func() (*Record, error) { return tx.FindByPhone(ctx, "") },
			func() (*Record, error) { return tx.FindByNameZip(ctx, "", "10001") },
		} {
			r, ferr := find()
			if ferr != nil {
				return ferr
			}
			assert.Nil(t, r)
		}
		return nil
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresTx_FindByWebsite_NoMatch(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectQuery(`b.website = \$1`).
		WithArgs("joespizza.com").
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectCommit()

	err = NewPostgresStore(mock).InTx(context.Background(), func(tx Tx) error {
		r, ferr := tx.FindByWebsite(context.Background(), "joespizza.com")
		assert.Nil(t, r)
		return ferr
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresTx_VerticalID(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT id FROM verticals WHERE name = \$1`).
		WithArgs("restaurants").
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(3)))
	mock.ExpectQuery(`SELECT id FROM verticals`).
		WithArgs("spaceships").
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectCommit()

	err = NewPostgresStore(mock).InTx(context.Background(), func(tx Tx) error {
		id, verr := tx.VerticalID(context.Background(), "  Restaurants ")
		require.NoError(t, verr)
		require.NotNil(t, id)
		assert.Equal(t, int64(3), *id)

		id, verr = tx.VerticalID(context.Background(), "Spaceships")
		assert.Nil(t, id)
		return verr
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresTx_Insert(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	now := time.Now()
	vid := int64(3)
	raw := json.RawMessage(`{"id":"y-1"}`)

	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO businesses`).
		WithArgs(
			"Joe's Pizza", "joe's pizza", "1 Main St", "", "", "10001", "", "", "joespizza.com",
			&vid, "yelp", "y-1", "yelp", StatusPending,
			[]byte(raw), nil, nil,
		).
		WillReturnRows(pgxmock.NewRows([]string{"id", "created_at", "updated_at"}).AddRow(int64(11), now, now))
	mock.ExpectCommit()

	r := &Record{
		Name: "Joe's Pizza", Address: "1 Main St", Zip: "10001", Website: "joespizza.com",
		VerticalID: &vid, Source: "yelp", SourceID: "y-1", SourceIDSource: "yelp",
	}
	r.SetPayload(SourceYelp, raw)

	err = NewPostgresStore(mock).InTx(context.Background(), func(tx Tx) error {
		return tx.Insert(context.Background(), r)
	})
	require.NoError(t, err)
	assert.Equal(t, int64(11), r.ID)
	assert.Equal(t, StatusPending, r.Status)
	assert.Equal(t, now, r.CreatedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresTx_Update_WritesOnlyOwnPayloadColumn(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	now := time.Now()
	raw := json.RawMessage(`{"place_id":"g-9"}`)

	mock.ExpectBegin()
	mock.ExpectQuery(`(?s)UPDATE businesses SET .*source=\$11, updated_at=now\(\), google_response_json=\$12 WHERE id=\$1 RETURNING updated_at`).
		WithArgs(
			int64(7), "Joe's Pizza", "joe's pizza", "1 Main St", "", "", "212-555-0000", "", "joespizza.com",
			(*int64)(nil), "google,yelp", []byte(raw),
		).
		WillReturnRows(pgxmock.NewRows([]string{"updated_at"}).AddRow(now))
	mock.ExpectCommit()

	r := &Record{
		ID: 7, Name: "Joe's Pizza", Address: "1 Main St", Zip: "10001", Phone: "212-555-0000",
		Website: "joespizza.com", Source: "google,yelp",
	}
	r.SetPayload(SourceYelp, json.RawMessage(`{"id":"y-1"}`))
	r.SetPayload(SourceGoogle, raw)

	err = NewPostgresStore(mock).InTx(context.Background(), func(tx Tx) error {
		return tx.Update(context.Background(), r, SourceGoogle)
	})
	require.NoError(t, err)
	assert.Equal(t, now, r.UpdatedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresTx_Update_UnknownSourceHasNoPayloadColumn(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectQuery(`updated_at=now\(\) WHERE id=\$1`).
		WithArgs(
			int64(7), "Joe's Pizza", "joe's pizza", "", "", "", "", "", "",
			(*int64)(nil), "bing,yelp",
		).
		WillReturnRows(pgxmock.NewRows([]string{"updated_at"}).AddRow(time.Now()))
	mock.ExpectCommit()

	r := &Record{ID: 7, Name: "Joe's Pizza", Zip: "10001", Source: "bing,yelp"}
	r.SetPayload("bing", json.RawMessage(`{}`))

	err = NewPostgresStore(mock).InTx(context.Background(), func(tx Tx) error {
		return tx.Update(context.Background(), r, "bing")
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpsertVerticals(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectExec(`CREATE TEMP TABLE "_tmp_upsert_verticals"`).
		WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_tmp_upsert_verticals"}, []string{"name"}).
		WillReturnResult(2)
	mock.ExpectExec(`DO NOTHING`).
		WillReturnResult(pgxmock.NewResult("INSERT", 2))
	mock.ExpectCommit()

	n, err := NewPostgresStore(mock).UpsertVerticals(context.Background(),
		[]string{"Plumbing", "plumbing ", "", "Roofing"})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListVerticals(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery(`SELECT id, name FROM verticals ORDER BY name`).
		WillReturnRows(pgxmock.NewRows([]string{"id", "name"}).
			AddRow(int64(1), "plumbing").
			AddRow(int64(2), "roofing"))

	vs, err := NewPostgresStore(mock).ListVerticals(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []Vertical{{ID: 1, Name: "plumbing"}, {ID: 2, Name: "roofing"}}, vs)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Migrate_AppliesPending(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectExec(`SELECT pg_advisory_xact_lock\(\$1\)`).
		WithArgs(int64(migrationLockKey)).
		WillReturnResult(pgxmock.NewResult("SELECT", 1))
	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS schema_migrations`).
		WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectQuery(`SELECT filename FROM schema_migrations`).
		WillReturnRows(pgxmock.NewRows([]string{"filename"}).AddRow("001_verticals.sql"))
	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS businesses`).
		WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectExec(`INSERT INTO schema_migrations`).
		WithArgs("002_businesses.sql").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(`(?s)ADD COLUMN IF NOT EXISTS source_id_source.*idx_businesses_source_ref`).
		WillReturnResult(pgxmock.NewResult("CREATE INDEX", 0))
	mock.ExpectExec(`INSERT INTO schema_migrations`).
		WithArgs("003_source_id_source.sql").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	require.NoError(t, NewPostgresStore(mock).Migrate(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Migrate_ApplyError(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectExec(`pg_advisory_xact_lock`).
		WithArgs(int64(migrationLockKey)).
		WillReturnResult(pgxmock.NewResult("SELECT", 1))
	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS schema_migrations`).
		WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectQuery(`SELECT filename FROM schema_migrations`).
		WillReturnRows(pgxmock.NewRows([]string{"filename"}))
	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS verticals`).
		WillReturnError(errors.New("permission denied"))
	mock.ExpectRollback()

	err = NewPostgresStore(mock).Migrate(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "apply migration 001_verticals.sql")
	assert.NoError(t, mock.ExpectationsWereMet())
}
