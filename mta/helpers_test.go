package mta

import (
	"bytes"
	"fmt"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var testReplies = Replies{
	Unexpected:    "451 4.3.0 Unexpected error!",
	IdleTimeout:   "421 4.4.2 Connection idled out!",
	SyntaxError:   "501 5.5.2 Syntax error",
	LineTooLong:   "500 5.5.2 Line too long",
	TooManyErrors: "421 4.7.0 Too many errors",
	Shutdown:      "421 4.3.2 Shutting down",
}

// seqIDs generates predictable session ids
type seqIDs struct {
	mu sync.Mutex
	n  int
}

func (g *seqIDs) NewID() (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("session-%d", g.n), nil
}

// recorder collects everything the server writes to the client side of a pipe
type recorder struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (r *recorder) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.buf.Write(p)
}

func (r *recorder) String() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.buf.String()
}

func newTestServer(chain *Chain, limits ...Limits) *Server {
	srv := NewServer("mx.example.org", chain, testReplies, zap.NewNop(), limits...)
	srv.IDs = &seqIDs{}
	return srv
}

// newPipeSession returns a session whose replies are collected by the recorder
func newPipeSession(t *testing.T, srv *Server) (*Session, *recorder, net.Conn) {
	server, client := net.Pipe()
	s, err := srv.NewSession(server)
	require.NoError(t, err)
	rec := &recorder{}
	go io.Copy(rec, client)
	t.Cleanup(func() {
		client.Close()
		server.Close()
	})
	return s, rec, client
}

func waitFor(t *testing.T, rec *recorder, want string) {
	require.Eventually(t, func() bool { return rec.String() == want }, time.Second, 5*time.Millisecond,
		"expected %q, got %q", want, rec.String())
}
