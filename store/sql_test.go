package store

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSQLQueries(t *testing.T) {
	assert.Equal(t, "insert ignore into greylist (ip_address, sender, recipient, count, create_time) values (?, ?, ?, ?, ?)", DialectMySQL.Insert)
	assert.Equal(t, "insert into greylist (ip_address, sender, recipient, count, create_time) values (?, ?, ?, ?, ?) on conflict do nothing", DialectSQLite.Insert)
	assert.Equal(t, "mysql", NewSQL(nil, DialectMySQL).Name())
}

func TestSQL_Lookup(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err, "an error was not expected when opening a stub database connection")
	defer db.Close()
	s := NewSQL(db, DialectMySQL)
	t0 := time.Date(2023, time.August, 16, 14, 48, 0, 0, time.UTC)

	mock.ExpectQuery("select create_time, count from greylist").
		WithArgs("1.2.3.4", "a@x", "b@y").
		WillReturnRows(sqlmock.NewRows([]string{"create_time", "count"}).AddRow(toMillis(t0), 0))
	tr, ok, err := s.Lookup(context.Background(), "1.2.3.4", "A@x", "b@Y")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, t0.Equal(tr.CreatedAt))
	assert.Equal(t, 0, tr.Count)

	mock.ExpectQuery("select create_time, count from greylist").
		WithArgs("1.2.3.4", "a@x", "c@y").
		WillReturnRows(sqlmock.NewRows([]string{"create_time", "count"}))
	_, ok, err = s.Lookup(context.Background(), "1.2.3.4", "a@x", "c@y")
	require.NoError(t, err)
	assert.False(t, ok, "no rows means unknown triplet")

	mock.ExpectQuery("select create_time, count from greylist").
		WillReturnError(errors.New("connection refused"))
	_, _, err = s.Lookup(context.Background(), "1.2.3.4", "a@x", "c@y")
	assert.Error(t, err)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQL_InsertUpdate(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	s := NewSQL(db, DialectMySQL)
	t0 := time.Date(2023, time.August, 16, 14, 48, 0, 0, time.UTC)

	mock.ExpectExec("insert ignore into greylist").
		WithArgs("1.2.3.4", "a@x", "b@y", 0, toMillis(t0)).
		WillReturnResult(sqlmock.NewResult(1, 1))
	assert.NoError(t, s.Insert(context.Background(), "1.2.3.4", "a@x", "b@y", 0, t0))

	mock.ExpectExec("update greylist set count").
		WithArgs(0, toMillis(t0.Add(time.Hour)), "1.2.3.4", "a@x", "b@y").
		WillReturnResult(sqlmock.NewResult(0, 1))
	assert.NoError(t, s.Update(context.Background(), "1.2.3.4", "a@x", "b@y", 0, t0.Add(time.Hour)))

	mock.ExpectExec("delete from greylist where create_time < \\? and count > 0").
		WithArgs(toMillis(t0)).
		WillReturnResult(sqlmock.NewResult(0, 3))
	assert.NoError(t, s.CleanupAutoWhitelist(context.Background(), t0))

	mock.ExpectExec("delete from greylist where create_time < \\? and count = 0").
		WithArgs(toMillis(t0)).
		WillReturnError(sql.ErrConnDone)
	assert.Error(t, s.CleanupUnseen(context.Background(), t0))

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQL_SQLite(t *testing.T) {
	s, err := OpenSQL(DialectSQLite, filepath.Join(t.TempDir(), "greylist.db"))
	require.NoError(t, err)
	defer s.Close()
	ctx := context.Background()
	t0 := time.Date(2023, time.August, 16, 14, 48, 0, 0, time.UTC)

	require.NoError(t, s.Insert(ctx, "1.2.3.4", "a@x", "b@y", 0, t0))
	require.NoError(t, s.Insert(ctx, "1.2.3.4", "a@x", "b@y", 7, t0.Add(time.Hour)), "duplicate insert should be ignored")
	tr, ok, err := s.Lookup(ctx, "1.2.3.4", "a@x", "b@y")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 0, tr.Count)
	assert.True(t, t0.Equal(tr.CreatedAt))

	require.NoError(t, s.CleanupUnseen(ctx, t0.Add(time.Minute)))
	_, ok, err = s.Lookup(ctx, "1.2.3.4", "a@x", "b@y")
	require.NoError(t, err)
	assert.False(t, ok, "unseen triplet should be cleaned up")
}
