package mta

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/go-errors/errors"
	"go.uber.org/zap"

	"github.com/matoous/hookmta/metrics"
)

// ErrEndSession may be returned by a handler to close the session once the
// current reply is written. Wrapping errors end the session after the
// unexpected error reply.
var ErrEndSession = errors.New("end session")

// ConnectHandler runs once when a client connects
type ConnectHandler interface {
	OnConnect(ctx context.Context, s *Session) error
}

// CommandHandler runs for every command it is registered for
type CommandHandler interface {
	OnCommand(ctx context.Context, s *Session, cmd *Command) error
}

// MessageHandler runs after a complete message body was received
type MessageHandler interface {
	OnMessage(ctx context.Context, s *Session) error
}

// ConnectFunc adapts a function to ConnectHandler
type ConnectFunc func(ctx context.Context, s *Session) error

// OnConnect calls f
func (f ConnectFunc) OnConnect(ctx context.Context, s *Session) error { return f(ctx, s) }

// CommandFunc adapts a function to CommandHandler
type CommandFunc func(ctx context.Context, s *Session, cmd *Command) error

// OnCommand calls f
func (f CommandFunc) OnCommand(ctx context.Context, s *Session, cmd *Command) error {
	return f(ctx, s, cmd)
}

// MessageFunc adapts a function to MessageHandler
type MessageFunc func(ctx context.Context, s *Session) error

// OnMessage calls f
func (f MessageFunc) OnMessage(ctx context.Context, s *Session) error { return f(ctx, s) }

/*
Chain holds the handler lists of one protocol. Lists are built once before the
server starts and only read while serving.

Each list runs in registration order until a handler writes a reply, which
moves the session out of ModeCommand (or ModeMessageReceived for the message list).
*/
type Chain struct {
	protocol string
	connect  []ConnectHandler
	commands map[string][]CommandHandler
	message  []MessageHandler
}

// NewChain creates an empty chain, protocol is used in logs and metrics
func NewChain(protocol string) *Chain {
	return &Chain{
		protocol: protocol,
		commands: make(map[string][]CommandHandler),
	}
}

// Protocol returns the name of the protocol served by this chain
func (c *Chain) Protocol() string {
	return c.protocol
}

// OnConnect appends connect handlers
func (c *Chain) OnConnect(h ...ConnectHandler) *Chain {
	c.connect = append(c.connect, h...)
	return c
}

// OnCommand appends handlers for the command name
func (c *Chain) OnCommand(name string, h ...CommandHandler) *Chain {
	name = strings.ToUpper(name)
	c.commands[name] = append(c.commands[name], h...)
	return c
}

// OnMessage appends message handlers
func (c *Chain) OnMessage(h ...MessageHandler) *Chain {
	c.message = append(c.message, h...)
	return c
}

// Handlers returns the list registered for name
func (c *Chain) Handlers(name string) ([]CommandHandler, bool) {
	h, ok := c.commands[strings.ToUpper(name)]
	return h, ok
}

// Names returns the sorted registered command names
func (c *Chain) Names() []string {
	names := make([]string, 0, len(c.commands))
	for name := range c.commands {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Connect runs the connect handlers and writes their reply
func (c *Chain) Connect(ctx context.Context, s *Session) {
	s.SetMode(ModeCommand)
	for i, h := range c.connect {
		if i > 0 {
			s.watchdog.Reset()
		}
		c.call(s, h, func() error { return h.OnConnect(ctx, s) })
		if s.Mode() != ModeCommand || s.Ended() {
			break
		}
	}
	s.Flush()
}

// Dispatch parses line and runs the handler list registered for it
func (c *Chain) Dispatch(ctx context.Context, s *Session, line string) {
	s.SetMode(ModeCommand)

	cmd, err := ParseCommand(line)
	if err != nil {
		s.log.Debug("malformed command", zap.String("line", line), zap.Error(err))
		s.Out(s.srv.Replies.SyntaxError)
		s.BadCommand()
		s.Flush()
		return
	}

	handlers, ok := c.commands[cmd.Name]
	if !ok {
		// unknown commands end the session without a reply
		s.log.Info("unknown command, closing session", zap.String("command", cmd.Name))
		metrics.M().Commands.WithLabelValues(c.protocol, "UNKNOWN").Inc()
		s.End()
		return
	}
	metrics.M().Commands.WithLabelValues(c.protocol, cmd.Name).Inc()
	s.log.Debug("received command", zap.String("command", cmd.String()))

	for i, h := range handlers {
		if i > 0 {
			s.watchdog.Reset()
		}
		c.call(s, h, func() error { return h.OnCommand(ctx, s, cmd) })
		if s.Mode() != ModeCommand || s.Ended() {
			break
		}
	}

	if s.Mode() == ModeMessageReceived {
		for i, h := range c.message {
			if i > 0 {
				s.watchdog.Reset()
			}
			c.call(s, h, func() error { return h.OnMessage(ctx, s) })
			if s.Mode() != ModeMessageReceived || s.Ended() {
				break
			}
		}
		// nobody acknowledged the message
		if s.Mode() == ModeMessageReceived && !s.response.Pending() {
			s.response.Fail()
		}
	}
	s.Flush()
}

// call runs one handler, turning errors and panics into the unexpected error reply
func (c *Chain) call(s *Session, h interface{}, fn func() error) {
	defer func() {
		if r := recover(); r != nil {
			err := errors.Wrap(r, 2)
			s.log.Error("handler panicked",
				zap.String("handler", fmt.Sprintf("%T", h)),
				zap.String("error", err.Error()),
				zap.String("stack", err.ErrorStack()),
			)
			s.fail()
		}
	}()

	err := fn()
	if err == nil {
		return
	}
	if err != ErrEndSession {
		s.log.Error("handler failed", zap.String("handler", fmt.Sprintf("%T", h)), zap.Error(err))
		s.fail()
	}
	if errors.Is(err, ErrEndSession) {
		s.End()
	}
}
