package pop3

import (
	"bytes"
	"context"
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/matoous/hookmta/mta"
)

const (
	userKey  = "pop3.user"
	stateKey = "pop3.maildrop"
)

// maildrop is the TRANSACTION state of a session
type maildrop struct {
	drop     Maildrop
	messages []Message
	deleted  map[int]bool
}

func (m *maildrop) stat() (count, size int) {
	for i, msg := range m.messages {
		if !m.deleted[i] {
			count++
			size += msg.Size()
		}
	}
	return count, size
}

// message returns the message with the 1 based number arg
func (m *maildrop) message(arg string) (int, Message, string) {
	n, err := strconv.Atoi(strings.TrimSpace(arg))
	if err != nil || n < 1 {
		return 0, Message{}, "-ERR invalid message number"
	}
	if n > len(m.messages) {
		return 0, Message{}, "-ERR no such message"
	}
	if m.deleted[n-1] {
		return 0, Message{}, fmt.Sprintf("-ERR message %d already deleted", n)
	}
	return n, m.messages[n-1], ""
}

func state(s *mta.Session) (*maildrop, bool) {
	v, ok := s.Attribute(stateKey)
	if !ok {
		return nil, false
	}
	m, ok := v.(*maildrop)
	return m, ok
}

// authorization lets the command through only before login
func authorization(ctx context.Context, s *mta.Session, cmd *mta.Command) error {
	if _, ok := state(s); ok {
		s.Out("-ERR command not valid in this state")
	}
	return nil
}

// transaction lets the command through only after login
func transaction(ctx context.Context, s *mta.Session, cmd *mta.Command) error {
	if _, ok := state(s); !ok {
		s.Out("-ERR command not valid in this state")
	}
	return nil
}

func (h *Handlers) welcome(ctx context.Context, s *mta.Session) error {
	s.Out(fmt.Sprintf("+OK %s POP3 server ready", h.cfg.Hostname))
	return nil
}

func (h *Handlers) user(ctx context.Context, s *mta.Session, cmd *mta.Command) error {
	args := cmd.Args()
	if len(args) != 1 {
		s.Out("-ERR user name required")
		s.BadCommand()
		return nil
	}
	s.SetAttribute(userKey, args[0])
	s.Out("+OK send PASS")
	return nil
}

func (h *Handlers) pass(ctx context.Context, s *mta.Session, cmd *mta.Command) error {
	v, ok := s.Attribute(userKey)
	if !ok {
		s.Out("-ERR USER first")
		return nil
	}
	user := v.(string)

	drop, err := h.provider.Open(ctx, user, cmd.Argument)
	switch {
	case err == ErrAuth:
		s.Logger().Info("authentication failed", zap.String("user", user))
		s.Out("-ERR [AUTH] invalid credentials")
		s.BadCommand()
		return nil
	case err == ErrLocked:
		s.Out("-ERR [IN-USE] maildrop is locked")
		return nil
	case err != nil:
		return err
	}
	s.OnClose(drop.Unlock)

	messages, err := drop.Messages()
	if err != nil {
		return err
	}
	m := &maildrop{drop: drop, messages: messages, deleted: make(map[int]bool)}
	s.SetAttribute(stateKey, m)
	s.SetUser(user)

	count, size := m.stat()
	s.Logger().Info("maildrop opened", zap.String("user", user), zap.Int("messages", count))
	s.Out(fmt.Sprintf("+OK maildrop has %d messages (%d octets)", count, size))
	return nil
}

func (h *Handlers) stat(ctx context.Context, s *mta.Session, cmd *mta.Command) error {
	m, _ := state(s)
	count, size := m.stat()
	s.Out(fmt.Sprintf("+OK %d %d", count, size))
	return nil
}

func (h *Handlers) list(ctx context.Context, s *mta.Session, cmd *mta.Command) error {
	m, _ := state(s)
	if cmd.Argument != "" {
		n, msg, fail := m.message(cmd.Argument)
		if fail != "" {
			s.Out(fail)
			return nil
		}
		s.Out(fmt.Sprintf("+OK %d %d", n, msg.Size()))
		return nil
	}

	count, size := m.stat()
	s.Out(fmt.Sprintf("+OK %d messages (%d octets)", count, size))
	lines := make([]string, 0, count)
	for i, msg := range m.messages {
		if !m.deleted[i] {
			lines = append(lines, fmt.Sprintf("%d %d", i+1, msg.Size()))
		}
	}
	s.Body(lines...)
	return nil
}

func (h *Handlers) uidl(ctx context.Context, s *mta.Session, cmd *mta.Command) error {
	m, _ := state(s)
	if cmd.Argument != "" {
		n, msg, fail := m.message(cmd.Argument)
		if fail != "" {
			s.Out(fail)
			return nil
		}
		s.Out(fmt.Sprintf("+OK %d %s", n, msg.ID))
		return nil
	}

	s.Out("+OK")
	var lines []string
	for i, msg := range m.messages {
		if !m.deleted[i] {
			lines = append(lines, fmt.Sprintf("%d %s", i+1, msg.ID))
		}
	}
	s.Body(lines...)
	return nil
}

func (h *Handlers) retr(ctx context.Context, s *mta.Session, cmd *mta.Command) error {
	m, _ := state(s)
	_, msg, fail := m.message(cmd.Argument)
	if fail != "" {
		s.Out(fail)
		return nil
	}
	s.Out(fmt.Sprintf("+OK %d octets", msg.Size()))
	s.Body(splitLines(msg.Data)...)
	return nil
}

// top returns the header and the first lines of the body
func (h *Handlers) top(ctx context.Context, s *mta.Session, cmd *mta.Command) error {
	m, _ := state(s)
	args := cmd.Args()
	if len(args) != 2 {
		s.Out("-ERR syntax: TOP msg n")
		return nil
	}
	_, msg, fail := m.message(args[0])
	if fail != "" {
		s.Out(fail)
		return nil
	}
	n, err := strconv.Atoi(args[1])
	if err != nil || n < 0 {
		s.Out("-ERR invalid line count")
		return nil
	}

	lines := splitLines(msg.Data)
	out := make([]string, 0, len(lines))
	body := -1
	for i, line := range lines {
		if body == -1 && line == "" {
			body = i
		}
		if body != -1 && i-body > n {
			break
		}
		out = append(out, line)
	}
	s.Out("+OK")
	s.Body(out...)
	return nil
}

func (h *Handlers) dele(ctx context.Context, s *mta.Session, cmd *mta.Command) error {
	m, _ := state(s)
	n, _, fail := m.message(cmd.Argument)
	if fail != "" {
		s.Out(fail)
		return nil
	}
	m.deleted[n-1] = true
	s.Out(fmt.Sprintf("+OK message %d deleted", n))
	return nil
}

func (h *Handlers) rset(ctx context.Context, s *mta.Session, cmd *mta.Command) error {
	m, _ := state(s)
	m.deleted = make(map[int]bool)
	count, size := m.stat()
	s.Out(fmt.Sprintf("+OK maildrop has %d messages (%d octets)", count, size))
	return nil
}

func (h *Handlers) noop(ctx context.Context, s *mta.Session, cmd *mta.Command) error {
	s.Out("+OK")
	return nil
}

func (h *Handlers) capa(ctx context.Context, s *mta.Session, cmd *mta.Command) error {
	s.Out("+OK capability list follows")
	s.Body("USER", "UIDL", "TOP")
	return nil
}

// quit enters the UPDATE state when a maildrop is open
func (h *Handlers) quit(ctx context.Context, s *mta.Session, cmd *mta.Command) error {
	m, ok := state(s)
	if !ok {
		s.Out(fmt.Sprintf("+OK %s POP3 server signing off", h.cfg.Hostname))
		return mta.ErrEndSession
	}

	var deleted []string
	for i := range m.deleted {
		deleted = append(deleted, m.messages[i].ID)
	}
	err := m.drop.Commit(deleted)
	m.drop.Unlock()
	if err != nil {
		s.Logger().Error("committing deletions", zap.Error(err))
		s.Out("-ERR some deleted messages not removed")
		return mta.ErrEndSession
	}
	count, _ := m.stat()
	s.Out(fmt.Sprintf("+OK %s POP3 server signing off (%d messages left)", h.cfg.Hostname, count))
	return mta.ErrEndSession
}

// splitLines splits message data into lines without terminators
func splitLines(data []byte) []string {
	data = bytes.TrimSuffix(data, []byte("\n"))
	if len(data) == 0 {
		return nil
	}
	lines := strings.Split(string(data), "\n")
	for i, l := range lines {
		lines[i] = strings.TrimSuffix(l, "\r")
	}
	return lines
}
