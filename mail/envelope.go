package mail

import (
	"bytes"
	"time"

	"github.com/go-errors/errors"
)

// ErrNoRecipients is returned by BeginData when no recipient was accepted
var ErrNoRecipients = errors.New("no valid recipients")

// Envelope represents a message envelope handed off to the delivery system
type Envelope struct {
	// Envelope sender
	MailFrom Address
	// Envelope recipients
	MailTo []Address
	// Data stores the header and message body
	Data *bytes.Buffer
	// New headers added by server, prepended to Data on delivery
	Headers []byte
	// RemoteIP of the client which submitted the message
	RemoteIP string
	// HeloName announced by the client
	HeloName string
	// Received is the time the message data was completed
	Received time.Time
}

// Reader returns reader for envelope data, including the server headers
func (e Envelope) Reader() *bytes.Reader {
	return bytes.NewReader(e.Bytes())
}

// Bytes returns the message as it should be delivered
func (e Envelope) Bytes() []byte {
	if e.Data == nil {
		return e.Headers
	}
	if len(e.Headers) == 0 {
		return e.Data.Bytes()
	}
	out := make([]byte, 0, len(e.Headers)+e.Data.Len())
	out = append(out, e.Headers...)
	return append(out, e.Data.Bytes()...)
}

// AddRecipient adds recipient to envelope recipients
func (e *Envelope) AddRecipient(rcpt Address) {
	e.MailTo = append(e.MailTo, rcpt)
}

// BeginData prepares the envelope for message data
func (e *Envelope) BeginData() error {
	if len(e.MailTo) == 0 {
		return ErrNoRecipients
	}
	e.Data = bytes.NewBuffer([]byte{})
	return nil
}

// AddHeader prepends a server generated header line
func (e *Envelope) AddHeader(line []byte) {
	e.Headers = append(e.Headers, line...)
}

// Write writes bytes to envelope buffer
func (e *Envelope) Write(line []byte) (int, error) {
	return e.Data.Write(line)
}

// WriteLine writes data to envelope followed by new line
func (e *Envelope) WriteLine(line []byte) (int, error) {
	return e.Write(append(line, '\r', '\n'))
}
