package mta

import (
	"github.com/matoous/go-nanoid"
	"go.uber.org/atomic"
)

// IDGenerator hands out session ids
type IDGenerator interface {
	NewID() (string, error)
}

// NanoIDs generates nanoid session ids
type NanoIDs struct{}

// NewID returns a fresh nanoid
func (NanoIDs) NewID() (string, error) {
	return gonanoid.Nanoid()
}

// Counter keeps track of connections handled by one server
type Counter struct {
	served *atomic.Int64
	active *atomic.Int64
}

// NewCounter creates a zeroed counter
func NewCounter() *Counter {
	return &Counter{served: atomic.NewInt64(0), active: atomic.NewInt64(0)}
}

// Open records a new connection
func (c *Counter) Open() {
	c.served.Inc()
	c.active.Inc()
}

// Close records a finished connection
func (c *Counter) Close() {
	c.active.Dec()
}

// Served returns how many connections were accepted so far
func (c *Counter) Served() int64 {
	return c.served.Load()
}

// Active returns how many connections are being served right now
func (c *Counter) Active() int64 {
	return c.active.Load()
}
