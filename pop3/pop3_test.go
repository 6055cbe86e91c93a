package pop3

import (
	"bytes"
	"context"
	"net"
	"net/textproto"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/matoous/hookmta/mail"
)

const message = "Subject: one\r\nFrom: alice@example.net\r\n\r\nfirst line\r\n.dotted\r\nlast line\r\n"

func newMemory(t *testing.T) *Memory {
	m := NewMemory()
	m.AddUser("bob@example.org", "secret")
	deliver := func(id, data string) {
		require.NoError(t, m.Deliver(id, &mail.Envelope{
			MailFrom: "alice@example.net",
			MailTo:   []mail.Address{"Bob@example.org", "nobody@example.org"},
			Data:     bytes.NewBufferString(data),
		}))
	}
	deliver("01A", message)
	deliver("01B", "Subject: two\r\n\r\nhi\r\n")
	return m
}

func startServer(t *testing.T, provider MaildropProvider) string {
	srv, err := NewServer(Config{Hostname: "pop.example.org"}, provider, zap.NewNop())
	require.NoError(t, err)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go srv.Serve(context.Background(), ln)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		srv.Shutdown(ctx)
	})
	return ln.Addr().String()
}

type client struct {
	t *testing.T
	*textproto.Conn
}

func dial(t *testing.T, addr string) *client {
	conn, err := textproto.Dial("tcp", addr)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	c := &client{t: t, Conn: conn}
	line, err := c.ReadLine()
	require.NoError(t, err)
	require.Equal(t, "+OK pop.example.org POP3 server ready", line)
	return c
}

func (c *client) cmd(line string) string {
	require.NoError(c.t, c.PrintfLine("%s", line))
	reply, err := c.ReadLine()
	require.NoError(c.t, err)
	return reply
}

func (c *client) multi(line string) (string, []string) {
	status := c.cmd(line)
	require.True(c.t, strings.HasPrefix(status, "+OK"), "%s: %s", line, status)
	lines, err := c.ReadDotLines()
	require.NoError(c.t, err)
	return status, lines
}

func (c *client) login() {
	assert.Equal(c.t, "+OK send PASS", c.cmd("USER bob@example.org"))
	assert.Equal(c.t, "+OK maildrop has 2 messages (93 octets)", c.cmd("PASS secret"))
}

func TestNew(t *testing.T) {
	_, err := New(Config{}, nil)
	assert.Error(t, err)
}

func TestSession_Authorization(t *testing.T) {
	addr := startServer(t, newMemory(t))
	c := dial(t, addr)

	assert.Equal(t, "-ERR command not valid in this state", c.cmd("STAT"))
	assert.Equal(t, "-ERR USER first", c.cmd("PASS secret"))
	assert.Equal(t, "+OK send PASS", c.cmd("USER bob@example.org"))
	assert.Equal(t, "-ERR [AUTH] invalid credentials", c.cmd("PASS wrong"))
	assert.Equal(t, "-ERR user name required", c.cmd("USER"))
	c.login()
	assert.Equal(t, "-ERR command not valid in this state", c.cmd("USER bob@example.org"))
	assert.Equal(t, "+OK", c.cmd("NOOP"))
}

func TestSession_Transaction(t *testing.T) {
	addr := startServer(t, newMemory(t))
	c := dial(t, addr)
	c.login()

	assert.Equal(t, "+OK 2 93", c.cmd("STAT"))

	status, lines := c.multi("LIST")
	assert.Equal(t, "+OK 2 messages (93 octets)", status)
	assert.Equal(t, []string{"1 73", "2 20"}, lines)
	assert.Equal(t, "+OK 2 20", c.cmd("LIST 2"))
	assert.Equal(t, "-ERR no such message", c.cmd("LIST 3"))
	assert.Equal(t, "-ERR invalid message number", c.cmd("LIST x"))

	_, lines = c.multi("UIDL")
	assert.Equal(t, []string{"1 01A", "2 01B"}, lines)
	assert.Equal(t, "+OK 1 01A", c.cmd("UIDL 1"))

	status, lines = c.multi("RETR 1")
	assert.Equal(t, "+OK 73 octets", status)
	assert.Equal(t, []string{"Subject: one", "From: alice@example.net", "", "first line", ".dotted", "last line"}, lines)

	_, lines = c.multi("TOP 1 1")
	assert.Equal(t, []string{"Subject: one", "From: alice@example.net", "", "first line"}, lines)

	assert.Equal(t, "+OK message 1 deleted", c.cmd("DELE 1"))
	assert.Equal(t, "-ERR message 1 already deleted", c.cmd("DELE 1"))
	assert.Equal(t, "-ERR message 1 already deleted", c.cmd("RETR 1"))
	assert.Equal(t, "+OK 1 20", c.cmd("STAT"))
	assert.Equal(t, "+OK maildrop has 2 messages (93 octets)", c.cmd("RSET"))
	assert.Equal(t, "+OK 2 93", c.cmd("STAT"))

	_, lines = c.multi("CAPA")
	assert.Equal(t, []string{"USER", "UIDL", "TOP"}, lines)
}

func TestSession_Update(t *testing.T) {
	m := newMemory(t)
	addr := startServer(t, m)
	c := dial(t, addr)
	c.login()
	assert.Equal(t, "+OK message 1 deleted", c.cmd("DELE 1"))
	assert.Equal(t, "+OK pop.example.org POP3 server signing off (1 messages left)", c.cmd("QUIT"))
	assert.Equal(t, 1, m.Count("bob@example.org"))

	c = dial(t, addr)
	assert.Equal(t, "+OK send PASS", c.cmd("USER bob@example.org"))
	assert.Equal(t, "+OK maildrop has 1 messages (20 octets)", c.cmd("PASS secret"))
	assert.Equal(t, "+OK 1 01B", c.cmd("UIDL 1"))
}

func TestSession_DroppedConnectionKeepsMessages(t *testing.T) {
	m := newMemory(t)
	addr := startServer(t, m)
	c := dial(t, addr)
	c.login()
	assert.Equal(t, "+OK message 1 deleted", c.cmd("DELE 1"))

	other := dial(t, addr)
	assert.Equal(t, "+OK send PASS", other.cmd("USER bob@example.org"))
	assert.Equal(t, "-ERR [IN-USE] maildrop is locked", other.cmd("PASS secret"))

	c.Close()
	require.Eventually(t, func() bool {
		_, err := m.Open(context.Background(), "bob@example.org", "secret")
		return err == nil
	}, time.Second, 10*time.Millisecond, "maildrop should be unlocked when the connection drops")
	assert.Equal(t, 2, m.Count("bob@example.org"), "deletions are applied only by QUIT")
}

func TestSession_QuitWithoutLogin(t *testing.T) {
	addr := startServer(t, newMemory(t))
	c := dial(t, addr)
	assert.Equal(t, "+OK pop.example.org POP3 server signing off", c.cmd("QUIT"))
	_, err := c.ReadLine()
	assert.Error(t, err)
}

func TestMemory(t *testing.T) {
	m := newMemory(t)
	assert.Equal(t, 2, m.Count("BOB@example.org"))
	assert.Equal(t, 0, m.Count("nobody@example.org"), "unknown recipients have no mailbox")

	_, err := m.Open(context.Background(), "carol@example.org", "secret")
	assert.Equal(t, ErrAuth, err)

	drop, err := m.Open(context.Background(), "bob@example.org", "secret")
	require.NoError(t, err)
	_, err = m.Open(context.Background(), "bob@example.org", "secret")
	assert.Equal(t, ErrLocked, err)

	msgs, err := drop.Messages()
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	require.NoError(t, drop.Commit([]string{msgs[0].ID}))
	drop.Unlock()
	drop.Unlock()
	assert.Equal(t, 1, m.Count("bob@example.org"))

	_, err = m.Open(context.Background(), "bob@example.org", "secret")
	assert.NoError(t, err)
}
