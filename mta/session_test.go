package mta

import (
	"bufio"
	"context"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matoous/hookmta/mail"
)

func TestSession_TransactionReset(t *testing.T) {
	srv := newTestServer(NewChain("smtp"))
	s, _, _ := newPipeSession(t, srv)

	s.SetUser("alice")
	s.SetRelayingAllowed(true)
	s.SetBlocklisted("listed")
	s.SetAttribute("tls", true)
	s.SetSender(mail.Address("alice@example.org"))
	s.AddRecipient(mail.Address("bob@example.org"))
	s.SetTxAttribute("size", 10)

	s.ResetTransaction()
	_, hasSender := s.Sender()
	assert.False(t, hasSender, "sender should be cleared")
	assert.Equal(t, 0, s.RecipientCount(), "recipients should be cleared")
	_, ok := s.TxAttribute("size")
	assert.False(t, ok, "transaction attributes should be cleared")
	assert.Equal(t, "alice", s.User(), "connection state should survive a transaction reset")
	assert.True(t, s.RelayingAllowed())
	listed, detail := s.Blocklisted()
	assert.True(t, listed)
	assert.Equal(t, "listed", detail)

	s.ResetConnection()
	assert.Equal(t, "", s.User())
	assert.False(t, s.RelayingAllowed())
	listed, _ = s.Blocklisted()
	assert.False(t, listed)
	_, ok = s.Attribute("tls")
	assert.False(t, ok, "connection attributes should be cleared")
}

func TestSession_HasRecipient(t *testing.T) {
	srv := newTestServer(NewChain("smtp"))
	s, _, _ := newPipeSession(t, srv)

	s.AddRecipient(mail.Address("Bob@Example.org"))
	assert.True(t, s.HasRecipient(mail.Address("bob@example.org")), "recipients should compare case insensitive")
	assert.False(t, s.HasRecipient(mail.Address("carol@example.org")))
	assert.Equal(t, 1, s.RecipientCount())
}

func TestSession_ReplyModes(t *testing.T) {
	srv := newTestServer(NewChain("smtp"))
	s, _, _ := newPipeSession(t, srv)

	s.SetMode(ModeCommand)
	s.Reply("250", "OK")
	assert.Equal(t, ModeResponse, s.Mode())

	s.SetMode(ModeMessageReceived)
	s.Reply("250", "OK")
	assert.Equal(t, ModeResponse, s.Mode())

	s.SetMode(ModeMessageAbort)
	s.Reply("451", "aborted")
	assert.Equal(t, ModeMessageAbort, s.Mode(), "abort mode should be kept")
	assert.Equal(t, "MESSAGE_ABORT", s.Mode().String())
}

func TestSession_ReadRawLine(t *testing.T) {
	srv := newTestServer(NewChain("smtp"))
	server, client := net.Pipe()
	defer client.Close()
	s, err := srv.NewSession(server)
	require.NoError(t, err)

	go func() {
		client.Write([]byte("HELO x\r\n"))
		client.Write([]byte(strings.Repeat("a", 20) + "\r\n"))
		client.Write([]byte("bare\n"))
	}()

	line, err := s.ReadRawLine(10)
	assert.NoError(t, err)
	assert.Equal(t, "HELO x", line)

	_, err = s.ReadRawLine(10)
	assert.Equal(t, ErrLineTooLong, err, "long line should be reported")

	line, err = s.ReadRawLine(10)
	assert.NoError(t, err, "reader should recover after a long line")
	assert.Equal(t, "bare", line)
}

func TestSession_IdleTimeout(t *testing.T) {
	limits := DefaultLimits
	limits.CmdInput = 200 * time.Millisecond
	chain := NewChain("smtp").
		OnConnect(ConnectFunc(func(ctx context.Context, s *Session) error {
			s.Out("220 mx.example.org ESMTP")
			return nil
		})).
		OnCommand("NOOP", CommandFunc(func(ctx context.Context, s *Session, cmd *Command) error {
			s.Out("250 2.0.0 OK")
			return nil
		}))
	srv := newTestServer(chain, limits)
	server, client := net.Pipe()
	defer client.Close()
	s, err := srv.NewSession(server)
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		s.Serve(context.Background())
		close(done)
	}()

	r := bufio.NewReader(client)
	line, err := r.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "220 mx.example.org ESMTP\r\n", line)

	client.Write([]byte("NOOP\r\n"))
	line, err = r.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "250 2.0.0 OK\r\n", line)

	// stay idle
	line, err = r.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "421 4.4.2 Connection idled out!\r\n", line)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("idle session should be closed")
	}
	assert.True(t, s.Ended(), "idle session should be ended")
	assert.True(t, s.watchdog.Fired(), "watchdog should have fired")
}

func TestSession_LineTooLong(t *testing.T) {
	limits := DefaultLimits
	limits.LineLength = 16
	chain := NewChain("smtp").OnCommand("NOOP", CommandFunc(func(ctx context.Context, s *Session, cmd *Command) error {
		s.Out("250 2.0.0 OK")
		return nil
	}))
	srv := newTestServer(chain, limits)
	server, client := net.Pipe()
	defer client.Close()
	s, err := srv.NewSession(server)
	require.NoError(t, err)
	go s.Serve(context.Background())

	r := bufio.NewReader(client)
	client.Write([]byte("NOOP " + strings.Repeat("x", 64) + "\r\n"))
	line, err := r.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "500 5.5.2 Line too long\r\n", line)

	client.Write([]byte("NOOP\r\n"))
	line, err = r.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "250 2.0.0 OK\r\n", line, "session should continue after a long line")
}

func TestSession_OnClose(t *testing.T) {
	srv := newTestServer(NewChain("pop3").OnCommand("QUIT", CommandFunc(func(ctx context.Context, s *Session, cmd *Command) error {
		s.Out("+OK bye")
		return ErrEndSession
	})))
	s, _, client := newPipeSession(t, srv)

	var order []string
	s.OnClose(func() { order = append(order, "first") })
	s.OnClose(func() { order = append(order, "second") })

	done := make(chan struct{})
	go func() {
		s.Serve(context.Background())
		close(done)
	}()
	_, err := client.Write([]byte("QUIT\r\n"))
	require.NoError(t, err)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("session should end after QUIT")
	}
	assert.Equal(t, []string{"second", "first"}, order)
}
