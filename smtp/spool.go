package smtp

import (
	"io"
	"math/rand"
	"sync"
	"time"

	"github.com/go-errors/errors"
	"github.com/oklog/ulid"
	"go.uber.org/zap"

	"github.com/matoous/hookmta/mail"
)

// MailHandler takes over a received message, the returned id is announced to the client
type MailHandler interface {
	Handle(env *mail.Envelope, user string) (id string, err error)
}

// MailHandlerFunc adapts a function to MailHandler
type MailHandlerFunc func(env *mail.Envelope, user string) (string, error)

// Handle calls f
func (f MailHandlerFunc) Handle(env *mail.Envelope, user string) (string, error) {
	return f(env, user)
}

// Deliverer receives the messages accepted by a Spool
type Deliverer interface {
	Deliver(id string, env *mail.Envelope) error
}

var (
	entropyMu sync.Mutex
	entropy   = rand.New(rand.NewSource(time.Now().UnixNano()))
)

// GenID returns a new queue id
func GenID() ulid.ULID {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy)
}

// Queued is a message accepted by the Spool
type Queued struct {
	ID       string
	From     mail.Address
	To       []mail.Address
	User     string
	RemoteIP string
	HeloName string
	Data     []byte
	Received time.Time
}

/*
Spool is an in memory MailHandler. It keeps the last Capacity messages and
passes each of them to the deliverers. The message is accepted only if all
deliverers took it.
*/
type Spool struct {
	Capacity int

	mu         sync.Mutex
	queue      []*Queued
	deliverers []Deliverer
	log        *zap.Logger
}

// NewSpool creates a spool delivering to deliverers
func NewSpool(log *zap.Logger, deliverers ...Deliverer) *Spool {
	if log == nil {
		log = zap.NewNop()
	}
	return &Spool{Capacity: 1000, deliverers: deliverers, log: log}
}

// Handle spools env
func (sp *Spool) Handle(env *mail.Envelope, user string) (string, error) {
	if len(env.MailTo) == 0 {
		return "", mail.ErrNoRecipients
	}
	data, err := io.ReadAll(env.Reader())
	if err != nil {
		return "", errors.Wrap(err, 0)
	}
	id := GenID().String()
	for _, d := range sp.deliverers {
		if err := d.Deliver(id, env); err != nil {
			return "", errors.WrapPrefix(err, "deliver "+id, 0)
		}
	}

	q := &Queued{
		ID:       id,
		From:     env.MailFrom,
		To:       append([]mail.Address(nil), env.MailTo...),
		User:     user,
		RemoteIP: env.RemoteIP,
		HeloName: env.HeloName,
		Data:     data,
		Received: env.Received,
	}
	sp.mu.Lock()
	sp.queue = append(sp.queue, q)
	if sp.Capacity > 0 && len(sp.queue) > sp.Capacity {
		sp.queue = sp.queue[len(sp.queue)-sp.Capacity:]
	}
	sp.mu.Unlock()

	sp.log.Debug("spooled",
		zap.String("id", id),
		zap.String("from", env.MailFrom.String()),
		zap.String("remote", env.RemoteIP),
		zap.String("helo", env.HeloName),
		zap.Int("size", len(q.Data)),
	)
	return id, nil
}

// Get returns the spooled message id
func (sp *Spool) Get(id string) (*Queued, bool) {
	sp.mu.Lock()
	defer sp.mu.Unlock()
	for _, q := range sp.queue {
		if q.ID == id {
			return q, true
		}
	}
	return nil, false
}

// Len returns the number of spooled messages
func (sp *Spool) Len() int {
	sp.mu.Lock()
	defer sp.mu.Unlock()
	return len(sp.queue)
}
