package mta

import (
	"bufio"
	"context"
	"crypto/tls"
	"net"
	"sync"
	"time"

	"github.com/go-errors/errors"
	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/matoous/hookmta/metrics"
)

// ErrServerClosed is returned by Serve after Shutdown was called
var ErrServerClosed = errors.New("server closed")

// Replies are the protocol specific lines the engine itself writes
type Replies struct {
	Unexpected    string // default reply, written when a handler fails or nobody answered
	IdleTimeout   string // notice written by the watchdog
	SyntaxError   string // malformed command line
	LineTooLong   string // command line over Limits.LineLength
	TooManyErrors string // Limits.BadCmds reached, the session is closed after it
	Shutdown      string // notice written to sessions still open when the server stops
}

/*
Server accepts connections and serves each of them in its own goroutine,
running the handlers registered in Chain.
*/
type Server struct {
	Addr          string      // TCP address to listen on
	Hostname      string      // hostname, e.g. the domain which the server runs on
	TLSConfig     *tls.Config // if set the listener is TLS wrapped
	Chain         *Chain      // handlers
	Replies       Replies     // engine replies
	Limits        Limits      // server limits
	IDs           IDGenerator // session id source
	Counter       *Counter    // served and active connections
	ReverseLookup bool        // resolve the remote host name of clients
	log           *zap.Logger // servers logger

	mu           sync.Mutex
	listeners    map[net.Listener]struct{}
	sessions     map[*Session]struct{}
	wg           sync.WaitGroup
	shuttingDown *atomic.Bool
}

/*
NewServer creates new server serving chain
*/
func NewServer(hostname string, chain *Chain, replies Replies, log *zap.Logger, limits ...Limits) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Server{
		Hostname:     hostname,
		Chain:        chain,
		Replies:      replies,
		IDs:          NanoIDs{},
		Counter:      NewCounter(),
		log:          log.With(zap.String("protocol", chain.Protocol())),
		listeners:    make(map[net.Listener]struct{}),
		sessions:     make(map[*Session]struct{}),
		shuttingDown: atomic.NewBool(false),
	}
	// limits are optional, if no limits were provided, use the default ones
	if len(limits) == 1 {
		s.Limits = limits[0]
	} else {
		s.Limits = DefaultLimits
	}
	return s
}

// Logger returns the server logger
func (srv *Server) Logger() *zap.Logger {
	return srv.log
}

// ListenAndServe listens on the TCP network address and then
// calls Serve to handle requests on incoming connections.
// Connections are handled securely if TLSConfig is set
func (srv *Server) ListenAndServe(ctx context.Context) error {
	var (
		l   net.Listener
		err error
	)
	if srv.TLSConfig != nil {
		l, err = tls.Listen("tcp", srv.Addr, srv.TLSConfig)
		if err == nil {
			srv.log.Info("listening securely", zap.String("addr", srv.Addr))
		}
	} else {
		l, err = net.Listen("tcp", srv.Addr)
		if err == nil {
			srv.log.Info("listening", zap.String("addr", srv.Addr))
		}
	}
	if err != nil {
		return errors.Wrap(err, 0)
	}
	return srv.Serve(ctx, l)
}

// Serve incoming connections
// Creates new session for each connection and starts go routine to handle it
func (srv *Server) Serve(ctx context.Context, ln net.Listener) error {
	if srv.shuttingDown.Load() {
		ln.Close()
		return ErrServerClosed
	}
	srv.mu.Lock()
	srv.listeners[ln] = struct{}{}
	srv.mu.Unlock()
	defer func() {
		srv.mu.Lock()
		delete(srv.listeners, ln)
		srv.mu.Unlock()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if srv.shuttingDown.Load() {
				return ErrServerClosed
			}
			if netError, ok := err.(net.Error); ok && netError.Temporary() {
				srv.log.Error("temporary accept error", zap.Error(err))
				time.Sleep(50 * time.Millisecond)
				continue
			}
			return errors.Wrap(err, 0)
		}
		// Shutdown may already be waiting for the sessions
		srv.mu.Lock()
		if srv.shuttingDown.Load() {
			srv.mu.Unlock()
			conn.Close()
			return ErrServerClosed
		}
		srv.wg.Add(1)
		srv.mu.Unlock()
		go srv.handle(ctx, conn)
	}
}

func (srv *Server) handle(ctx context.Context, conn net.Conn) {
	defer srv.wg.Done()
	s, err := srv.NewSession(conn)
	if err != nil {
		srv.log.Error("creating session", zap.Error(err))
		conn.Close()
		return
	}
	srv.mu.Lock()
	srv.sessions[s] = struct{}{}
	srv.mu.Unlock()
	srv.Counter.Open()
	metrics.M().Connections.WithLabelValues(srv.Chain.Protocol()).Inc()
	defer func() {
		srv.Counter.Close()
		srv.mu.Lock()
		delete(srv.sessions, s)
		srv.mu.Unlock()
	}()

	s.Serve(ctx)
}

// NewSession creates the state of a freshly accepted connection
func (srv *Server) NewSession(conn net.Conn) (*Session, error) {
	id, err := srv.IDs.NewID()
	if err != nil {
		return nil, errors.WrapPrefix(err, "session id", 0)
	}

	remoteIP := conn.RemoteAddr().String()
	if host, _, err := net.SplitHostPort(remoteIP); err == nil {
		remoteIP = host
	}
	remoteHost := remoteIP
	if srv.ReverseLookup {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if names, err := net.DefaultResolver.LookupAddr(ctx, remoteIP); err == nil && len(names) > 0 {
			remoteHost = names[0]
		}
		cancel()
	}

	var state *tls.ConnectionState
	if tc, ok := conn.(*tls.Conn); ok {
		tc.SetDeadline(time.Now().Add(srv.Limits.ReplyOut))
		if err := tc.Handshake(); err != nil {
			return nil, errors.WrapPrefix(err, "tls handshake", 0)
		}
		tc.SetDeadline(time.Time{})
		cs := tc.ConnectionState()
		state = &cs
	}

	s := &Session{
		id:         id,
		conn:       conn,
		reader:     bufio.NewReader(conn),
		writer:     bufio.NewWriter(conn),
		remoteIP:   remoteIP,
		remoteHost: remoteHost,
		tlsState:   state,
		start:      time.Now(),
		attributes: make(map[string]interface{}),
		response:   NewResponse(srv.Replies.Unexpected),
		ended:      atomic.NewBool(false),
		srv:        srv,
		log:        srv.log.With(zap.String("session", id), zap.String("remote", remoteIP)),
	}
	s.ResetTransaction()
	s.watchdog = NewWatchdog(srv.Limits.CmdInput, s.idledOut)
	return s, nil
}

// Shutdown stops accepting connections and waits for open sessions to finish.
// Sessions still open when ctx is done get the shutdown notice and are closed.
func (srv *Server) Shutdown(ctx context.Context) error {
	srv.mu.Lock()
	srv.shuttingDown.Store(true)
	for ln := range srv.listeners {
		ln.Close()
	}
	srv.mu.Unlock()

	done := make(chan struct{})
	go func() {
		srv.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
	}

	srv.mu.Lock()
	for s := range srv.sessions {
		s.terminate(srv.Replies.Shutdown)
	}
	srv.mu.Unlock()
	<-done
	return ctx.Err()
}
