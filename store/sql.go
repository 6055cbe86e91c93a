package store

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/go-errors/errors"
	// database drivers
	_ "github.com/go-sql-driver/mysql"
	_ "modernc.org/sqlite"
)

const (
	sqliteCreateTable string = `
	create table if not exists greylist (
    ip_address text not null,
    sender text not null,
    recipient text not null,
    create_time integer not null,
    count integer not null default 0,
    primary key (ip_address, sender, recipient)
	)`
	sqliteInsertQuery string = "insert into greylist (ip_address, sender, recipient, count, create_time) values (?, ?, ?, ?, ?) on conflict do nothing"

	mysqlCreateTable string = `
	create table if not exists greylist (
    ip_address varchar(45) not null,
    sender varchar(255) not null,
    recipient varchar(255) not null,
    create_time bigint not null,
    count int not null default 0,
    primary key (ip_address, sender, recipient)
	)`
	mysqlInsertQuery string = "insert ignore into greylist (ip_address, sender, recipient, count, create_time) values (?, ?, ?, ?, ?)"

	selectQuery         string = "select create_time, count from greylist where ip_address = ? and sender = ? and recipient = ?"
	updateQuery         string = "update greylist set count = ?, create_time = ? where ip_address = ? and sender = ? and recipient = ?"
	deleteAutoWhitelist string = "delete from greylist where create_time < ? and count > 0"
	deleteUnseen        string = "delete from greylist where create_time < ? and count = 0"
)

// Dialect holds the driver name and the statements which differ between databases
type Dialect struct {
	Name        string
	Driver      string
	CreateTable string
	Insert      string
}

var (
	// DialectSQLite uses modernc.org/sqlite
	DialectSQLite = Dialect{Name: "sqlite", Driver: "sqlite", CreateTable: sqliteCreateTable, Insert: sqliteInsertQuery}
	// DialectMySQL uses github.com/go-sql-driver/mysql
	DialectMySQL = Dialect{Name: "mysql", Driver: "mysql", CreateTable: mysqlCreateTable, Insert: mysqlInsertQuery}
)

// SQL stores triplets in a relational database, timestamps are unix milliseconds
type SQL struct {
	dialect Dialect
	pool    *sql.DB // Database connection pool.
}

// OpenSQL connects to the database and creates the greylist table if needed
func OpenSQL(d Dialect, dsn string) (*SQL, error) {
	if len(dsn) == 0 {
		return nil, errors.Errorf("missing dsn for %s", d.Name)
	}
	pool, err := sql.Open(d.Driver, dsn)
	if err != nil {
		return nil, errors.WrapPrefix(err, "sql.Open", 0)
	}
	s := NewSQL(pool, d)
	if err := s.Migrate(context.Background()); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// NewSQL wraps an open pool
func NewSQL(pool *sql.DB, d Dialect) *SQL {
	return &SQL{dialect: d, pool: pool}
}

// Name returns the dialect name
func (s *SQL) Name() string {
	return s.dialect.Name
}

// Migrate creates the greylist table
func (s *SQL) Migrate(ctx context.Context) error {
	if _, err := s.pool.ExecContext(ctx, s.dialect.CreateTable); err != nil {
		return errors.WrapPrefix(err, s.dialect.Name+" create table", 0)
	}
	return nil
}

func (s *SQL) Lookup(ctx context.Context, ip, sender, rcpt string) (Triplet, bool, error) {
	var (
		created int64
		count   int
	)
	err := s.pool.QueryRowContext(ctx, selectQuery, ip, strings.ToLower(sender), strings.ToLower(rcpt)).Scan(&created, &count)
	if err == sql.ErrNoRows {
		return Triplet{}, false, nil
	}
	if err != nil {
		return Triplet{}, false, errors.WrapPrefix(err, "lookup", 0)
	}
	return Triplet{
		IP:        ip,
		Sender:    sender,
		Recipient: rcpt,
		CreatedAt: fromMillis(created),
		Count:     count,
	}, true, nil
}

func (s *SQL) Insert(ctx context.Context, ip, sender, rcpt string, count int, at time.Time) error {
	_, err := s.pool.ExecContext(ctx, s.dialect.Insert, ip, strings.ToLower(sender), strings.ToLower(rcpt), count, toMillis(at))
	if err != nil {
		return errors.WrapPrefix(err, "insert", 0)
	}
	return nil
}

func (s *SQL) Update(ctx context.Context, ip, sender, rcpt string, count int, at time.Time) error {
	_, err := s.pool.ExecContext(ctx, updateQuery, count, toMillis(at), ip, strings.ToLower(sender), strings.ToLower(rcpt))
	if err != nil {
		return errors.WrapPrefix(err, "update", 0)
	}
	return nil
}

func (s *SQL) CleanupAutoWhitelist(ctx context.Context, before time.Time) error {
	if _, err := s.pool.ExecContext(ctx, deleteAutoWhitelist, toMillis(before)); err != nil {
		return errors.WrapPrefix(err, "cleanup auto whitelist", 0)
	}
	return nil
}

func (s *SQL) CleanupUnseen(ctx context.Context, before time.Time) error {
	if _, err := s.pool.ExecContext(ctx, deleteUnseen, toMillis(before)); err != nil {
		return errors.WrapPrefix(err, "cleanup unseen", 0)
	}
	return nil
}

func (s *SQL) Close() error {
	return s.pool.Close()
}

func toMillis(t time.Time) int64 {
	return t.UnixNano() / int64(time.Millisecond)
}

func fromMillis(ms int64) time.Time {
	return time.Unix(0, ms*int64(time.Millisecond))
}
