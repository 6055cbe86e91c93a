package pop3

import (
	"context"
	"strings"
	"sync"

	"github.com/go-errors/errors"

	"github.com/matoous/hookmta/mail"
)

var (
	// ErrAuth is returned by Open for unknown users and wrong passwords
	ErrAuth = errors.New("invalid credentials")
	// ErrLocked is returned by Open when another session holds the maildrop
	ErrLocked = errors.New("maildrop locked")
)

// Message is one message of a maildrop
type Message struct {
	ID   string // unique id, stable across sessions
	Data []byte
}

// Size returns the size of the message in octets
func (m Message) Size() int {
	return len(m.Data)
}

/*
Maildrop is a locked mailbox of one user. Messages are listed once when the
session enters the transaction state, deletions are applied by Commit.
*/
type Maildrop interface {
	Messages() ([]Message, error)
	// Commit removes the messages with the given ids
	Commit(deleted []string) error
	// Unlock releases the maildrop, it may be called more than once
	Unlock()
}

// MaildropProvider authenticates users and locks their maildrops
type MaildropProvider interface {
	Open(ctx context.Context, user, password string) (Maildrop, error)
}

type mailbox struct {
	password string
	messages []Message
	locked   bool
}

/*
Memory keeps the maildrops in memory. It receives messages as a delivery
target of the SMTP spool, mailboxes are keyed by the lower cased address.
*/
type Memory struct {
	mu    sync.Mutex
	boxes map[string]*mailbox
}

// NewMemory creates an empty provider
func NewMemory() *Memory {
	return &Memory{boxes: make(map[string]*mailbox)}
}

// AddUser creates the mailbox of user, an existing mailbox only gets the new password
func (m *Memory) AddUser(user, password string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := strings.ToLower(user)
	if box, ok := m.boxes[key]; ok {
		box.password = password
		return
	}
	m.boxes[key] = &mailbox{password: password}
}

// Deliver appends the message to the mailboxes of the local recipients
func (m *Memory) Deliver(id string, env *mail.Envelope) error {
	data := env.Bytes()
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, rcpt := range env.MailTo {
		box, ok := m.boxes[rcpt.Email()]
		if !ok {
			continue
		}
		box.messages = append(box.messages, Message{ID: id, Data: data})
	}
	return nil
}

// Count returns the number of messages in the mailbox of user
func (m *Memory) Count(user string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if box, ok := m.boxes[strings.ToLower(user)]; ok {
		return len(box.messages)
	}
	return 0
}

// Open authenticates user and locks the maildrop
func (m *Memory) Open(ctx context.Context, user, password string) (Maildrop, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	box, ok := m.boxes[strings.ToLower(user)]
	if !ok || box.password != password {
		return nil, ErrAuth
	}
	if box.locked {
		return nil, ErrLocked
	}
	box.locked = true
	return &memoryDrop{m: m, box: box}, nil
}

type memoryDrop struct {
	m      *Memory
	box    *mailbox
	unlock sync.Once
}

func (d *memoryDrop) Messages() ([]Message, error) {
	d.m.mu.Lock()
	defer d.m.mu.Unlock()
	return append([]Message(nil), d.box.messages...), nil
}

func (d *memoryDrop) Commit(deleted []string) error {
	if len(deleted) == 0 {
		return nil
	}
	gone := make(map[string]bool, len(deleted))
	for _, id := range deleted {
		gone[id] = true
	}
	d.m.mu.Lock()
	defer d.m.mu.Unlock()
	kept := d.box.messages[:0]
	for _, msg := range d.box.messages {
		if !gone[msg.ID] {
			kept = append(kept, msg)
		}
	}
	d.box.messages = kept
	return nil
}

func (d *memoryDrop) Unlock() {
	d.unlock.Do(func() {
		d.m.mu.Lock()
		d.box.locked = false
		d.m.mu.Unlock()
	})
}
