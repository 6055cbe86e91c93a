package mta

import (
	"bufio"
	"context"
	"crypto/tls"
	"io"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/go-errors/errors"
	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/matoous/hookmta/mail"
	"github.com/matoous/hookmta/metrics"
)

// ErrLineTooLong is returned by the line readers when a line exceeds the limit
var ErrLineTooLong = errors.New("line too long")

// Mode is the processing state of the current read cycle
type Mode int

const (
	ModeCommand         Mode = iota // reading and dispatching a command
	ModeResponse                    // a reply was written, remaining handlers are skipped
	ModeMessageReceived             // a full message body was accepted
	ModeMessageAbort                // receiving the message body failed
)

func (m Mode) String() string {
	switch m {
	case ModeCommand:
		return "COMMAND"
	case ModeResponse:
		return "RESPONSE"
	case ModeMessageReceived:
		return "MESSAGE_RECEIVED"
	case ModeMessageAbort:
		return "MESSAGE_ABORT"
	}
	return "UNKNOWN"
}

// Transaction holds the state of one mail transaction
type Transaction struct {
	Sender     mail.Address
	HasSender  bool
	Recipients []mail.Address
	Attributes map[string]interface{}
}

/*
Session is the state of one client connection. It is owned by the goroutine
serving the connection, only the watchdog touches it from elsewhere and it
synchronizes on the ended flag and the write lock.
*/
type Session struct {
	id         string
	conn       net.Conn
	reader     *bufio.Reader
	writer     *bufio.Writer
	writeMu    sync.Mutex
	remoteIP   string
	remoteHost string
	tlsState   *tls.ConnectionState
	start      time.Time

	// connection scoped
	user            string
	relayingAllowed bool
	heloName        string
	blocklisted     bool
	blocklistDetail string
	attributes      map[string]interface{}
	badCommands     int

	// transaction scoped
	tx *Transaction

	response *Response
	mode     Mode
	ended    *atomic.Bool
	watchdog *Watchdog
	closers  []func()

	log *zap.Logger // logger
	srv *Server     // serve handling this request
}

// ID returns the session id
func (s *Session) ID() string { return s.id }

// RemoteAddr returns the address of the client
func (s *Session) RemoteAddr() net.Addr { return s.conn.RemoteAddr() }

// LocalAddr returns the address the client connected to
func (s *Session) LocalAddr() net.Addr { return s.conn.LocalAddr() }

// RemoteIP returns the textual IP of the client
func (s *Session) RemoteIP() string { return s.remoteIP }

// RemoteHost returns the reverse DNS name of the client, or its IP
func (s *Session) RemoteHost() string { return s.remoteHost }

// TLS returns the TLS state of the connection, nil for plain connections
func (s *Session) TLS() *tls.ConnectionState { return s.tlsState }

// Start returns the time the client connected
func (s *Session) Start() time.Time { return s.start }

// Hostname returns the name the server announces
func (s *Session) Hostname() string { return s.srv.Hostname }

// Limits returns the limits of the server serving this session
func (s *Session) Limits() Limits { return s.srv.Limits }

// Logger returns the session logger
func (s *Session) Logger() *zap.Logger { return s.log }

// User returns the authenticated user, empty if none
func (s *Session) User() string { return s.user }

// SetUser records the authenticated user
func (s *Session) SetUser(user string) { s.user = user }

// RelayingAllowed reports whether the client may relay mail
func (s *Session) RelayingAllowed() bool { return s.relayingAllowed }

// SetRelayingAllowed grants or revokes the relaying privilege
func (s *Session) SetRelayingAllowed(allowed bool) { s.relayingAllowed = allowed }

// HeloName returns the name the client announced in HELO/EHLO
func (s *Session) HeloName() string { return s.heloName }

// SetHeloName records the name announced in HELO/EHLO
func (s *Session) SetHeloName(name string) { s.heloName = name }

// Blocklisted returns the DNS blocklist record of the connection
func (s *Session) Blocklisted() (bool, string) { return s.blocklisted, s.blocklistDetail }

// SetBlocklisted marks the connection as listed, detail may be empty
func (s *Session) SetBlocklisted(detail string) {
	s.blocklisted = true
	s.blocklistDetail = detail
}

// Attribute returns a connection scoped attribute
func (s *Session) Attribute(key string) (interface{}, bool) {
	v, ok := s.attributes[key]
	return v, ok
}

// SetAttribute sets a connection scoped attribute
func (s *Session) SetAttribute(key string, value interface{}) {
	s.attributes[key] = value
}

// Transaction returns the current mail transaction
func (s *Session) Transaction() *Transaction { return s.tx }

// Sender returns the envelope sender, ok is false before MAIL
func (s *Session) Sender() (mail.Address, bool) { return s.tx.Sender, s.tx.HasSender }

// SetSender records the envelope sender
func (s *Session) SetSender(addr mail.Address) {
	s.tx.Sender = addr
	s.tx.HasSender = true
}

// Recipients returns the accepted recipients of the transaction
func (s *Session) Recipients() []mail.Address { return s.tx.Recipients }

// RecipientCount returns the number of accepted recipients
func (s *Session) RecipientCount() int { return len(s.tx.Recipients) }

// HasRecipient reports whether rcpt was already accepted
func (s *Session) HasRecipient(rcpt mail.Address) bool {
	for _, r := range s.tx.Recipients {
		if strings.EqualFold(string(r), string(rcpt)) {
			return true
		}
	}
	return false
}

// AddRecipient appends an accepted recipient
func (s *Session) AddRecipient(rcpt mail.Address) {
	s.tx.Recipients = append(s.tx.Recipients, rcpt)
}

// TxAttribute returns a transaction scoped attribute
func (s *Session) TxAttribute(key string) (interface{}, bool) {
	v, ok := s.tx.Attributes[key]
	return v, ok
}

// SetTxAttribute sets a transaction scoped attribute
func (s *Session) SetTxAttribute(key string, value interface{}) {
	s.tx.Attributes[key] = value
}

// ResetTransaction starts a new transaction, connection state is kept
func (s *Session) ResetTransaction() {
	s.tx = &Transaction{Attributes: make(map[string]interface{})}
}

// ResetConnection clears the connection scoped state
func (s *Session) ResetConnection() {
	s.user = ""
	s.relayingAllowed = false
	s.heloName = ""
	s.blocklisted = false
	s.blocklistDetail = ""
	s.badCommands = 0
	s.attributes = make(map[string]interface{})
}

// End marks the session as finished, the read loop stops after the current command
func (s *Session) End() {
	s.ended.Store(true)
}

// Ended reports whether the session is finished
func (s *Session) Ended() bool {
	return s.ended.Load()
}

// Mode returns the mode of the current cycle
func (s *Session) Mode() Mode { return s.mode }

// SetMode changes the mode of the current cycle
func (s *Session) SetMode(m Mode) { s.mode = m }

// Reply queues a reply line, which stops the current handler list
func (s *Session) Reply(code, text string) {
	s.response.Add(code, text)
	s.replied()
}

// Out queues reply lines given as "<code> <text>"
func (s *Session) Out(msgs ...string) {
	for _, msg := range msgs {
		s.response.AddLine(msg)
	}
	s.replied()
}

// Body queues a dot terminated data block after the status line
func (s *Session) Body(lines ...string) {
	s.response.AddBody(lines...)
}

func (s *Session) replied() {
	if s.mode == ModeCommand || s.mode == ModeMessageReceived {
		s.mode = ModeResponse
	}
}

// fail replaces the queued reply by the unexpected error reply
func (s *Session) fail() {
	s.response.Fail()
	s.replied()
}

// BadCommand counts a bad command, after too many of them the session is closed
func (s *Session) BadCommand() {
	s.badCommands++
	if s.srv.Limits.BadCmds > 0 && s.badCommands >= s.srv.Limits.BadCmds {
		s.log.Info("too many bad commands", zap.Int("count", s.badCommands))
		s.response.Reset()
		s.Out(s.srv.Replies.TooManyErrors)
		s.End()
	}
}

// OnClose registers fn to run when the connection is closed, in reverse order of registration
func (s *Session) OnClose(fn func()) {
	s.closers = append(s.closers, fn)
}

// ResetWatchdog restarts the idle timer, long running handlers call it while reading data
func (s *Session) ResetWatchdog() {
	s.watchdog.Reset()
}

// Flush writes the queued reply
func (s *Session) Flush() error {
	if !s.response.Pending() {
		return nil
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	out := s.response.Bytes()
	s.response.Reset()
	s.log.Debug("returning msg", zap.ByteString("reply", out))

	s.conn.SetWriteDeadline(time.Now().Add(s.srv.Limits.ReplyOut))
	s.writer.Write(out)
	if err := s.writer.Flush(); err != nil {
		if !s.Ended() {
			s.log.Error("flush", zap.Error(err))
		}
		s.End()
		return errors.Wrap(err, 0)
	}
	return nil
}

// ReadLine reads one command line, without the line terminator
func (s *Session) ReadLine() (string, error) {
	return s.ReadRawLine(s.srv.Limits.LineLength)
}

// ReadRawLine reads a line of at most max bytes, without the line terminator.
// Longer lines are consumed and reported as ErrLineTooLong.
func (s *Session) ReadRawLine(max int) (string, error) {
	var buf []byte
	tooLong := false
	for {
		chunk, err := s.reader.ReadSlice('\n')
		if !tooLong {
			buf = append(buf, chunk...)
			if max > 0 && len(buf) > max+2 {
				tooLong = true
				buf = nil
			}
		}
		if err == bufio.ErrBufferFull {
			continue
		}
		if err != nil {
			return "", err
		}
		break
	}
	if tooLong {
		return "", ErrLineTooLong
	}
	line := string(buf)
	line = strings.TrimSuffix(line, "\n")
	line = strings.TrimSuffix(line, "\r")
	return line, nil
}

// Serve - serve given session
// runs the connect handlers, then reads and dispatches commands until the session ends
func (s *Session) Serve(ctx context.Context) {
	defer s.close()

	s.watchdog.Start()
	s.srv.Chain.Connect(ctx, s)

	for !s.Ended() {
		line, err := s.ReadLine()
		if err == ErrLineTooLong {
			s.Out(s.srv.Replies.LineTooLong)
			s.BadCommand()
			s.Flush()
			continue
		}
		if err != nil {
			if !s.Ended() && err != io.EOF {
				s.log.Error("read", zap.Error(err))
			}
			break
		}
		s.watchdog.Reset()
		s.srv.Chain.Dispatch(ctx, s, line)
		s.watchdog.Reset()
	}
}

// idledOut is the watchdog target
func (s *Session) idledOut() {
	if s.terminate(s.srv.Replies.IdleTimeout) {
		s.log.Info("connection idled out", zap.Duration("timeout", s.srv.Limits.CmdInput))
		metrics.M().IdleTimeouts.WithLabelValues(s.srv.Chain.Protocol()).Inc()
	}
}

// terminate ends the session from outside of the serving goroutine: it writes
// notice and closes the connection, which unblocks the pending read.
// It returns false if the session has already ended.
func (s *Session) terminate(notice string) bool {
	if !s.ended.CAS(false, true) {
		return false
	}
	s.writeMu.Lock()
	r := NewResponse(notice)
	r.Fail()
	s.conn.SetWriteDeadline(time.Now().Add(s.srv.Limits.ReplyOut))
	r.Flush(s.conn)
	s.writeMu.Unlock()

	s.conn.Close()
	return true
}

func (s *Session) close() {
	s.watchdog.Stop()
	s.End()
	s.conn.Close()
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
	s.log.Info("session closed", zap.Duration("duration", time.Since(s.start)))
}
