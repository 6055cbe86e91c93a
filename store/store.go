// Package store persists greylist triplets.
package store

import (
	"context"
	"strings"
	"time"

	"github.com/go-errors/errors"
)

// ErrUnknownDriver is returned by Open for unsupported drivers
var ErrUnknownDriver = errors.New("unknown store driver")

// Triplet is one greylist record
type Triplet struct {
	IP        string
	Sender    string
	Recipient string
	CreatedAt time.Time // first sighting, refreshed on update
	Count     int
}

/*
TripletStore is shared by all sessions and must be safe for concurrent use.
Insert must not create a second record for an existing key.
*/
type TripletStore interface {
	// Lookup returns the record of the triplet, ok is false if there is none
	Lookup(ctx context.Context, ip, sender, rcpt string) (t Triplet, ok bool, err error)
	// Insert creates the record unless it exists already
	Insert(ctx context.Context, ip, sender, rcpt string, count int, at time.Time) error
	// Update overwrites count and timestamp of the record
	Update(ctx context.Context, ip, sender, rcpt string, count int, at time.Time) error
	// CleanupAutoWhitelist deletes records with count > 0 created before the given time
	CleanupAutoWhitelist(ctx context.Context, before time.Time) error
	// CleanupUnseen deletes records with count 0 created before the given time
	CleanupUnseen(ctx context.Context, before time.Time) error
	Close() error
}

// Open creates the store for driver, source is the DSN or the redis address
func Open(driver, source string) (TripletStore, error) {
	switch strings.ToLower(driver) {
	case "memory", "":
		return NewMemory(), nil
	case "sqlite", "sqlite3":
		return OpenSQL(DialectSQLite, source)
	case "mysql":
		return OpenSQL(DialectMySQL, source)
	case "redis":
		return OpenRedis(source)
	}
	return nil, errors.WrapPrefix(ErrUnknownDriver, driver, 0)
}

// key joins the triplet into one string
func key(ip, sender, rcpt string) string {
	return ip + "|" + strings.ToLower(sender) + "|" + strings.ToLower(rcpt)
}
