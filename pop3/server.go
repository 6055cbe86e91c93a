// Package pop3 registers the POP3 command set into an mta.Chain.
package pop3

import (
	"github.com/go-errors/errors"
	"go.uber.org/zap"

	"github.com/matoous/hookmta/mta"
)

// Protocol is the name POP3 sessions are logged and counted under
const Protocol = "pop3"

// Config of the POP3 handlers
type Config struct {
	Hostname string // name announced in the greeting
}

// Replies returns the lines the engine writes on behalf of POP3
func Replies() mta.Replies {
	return mta.Replies{
		Unexpected:    "-ERR unexpected error",
		IdleTimeout:   "-ERR connection idled out",
		SyntaxError:   "-ERR syntax error",
		LineTooLong:   "-ERR line too long",
		TooManyErrors: "-ERR too many errors",
		Shutdown:      "-ERR server shutting down",
	}
}

// Handlers implement the POP3 commands of RFC 1939
type Handlers struct {
	cfg      Config
	provider MaildropProvider
}

// New creates the POP3 handlers
func New(cfg Config, provider MaildropProvider) (*Handlers, error) {
	if provider == nil {
		return nil, errors.New("pop3: maildrop provider is required")
	}
	return &Handlers{cfg: cfg, provider: provider}, nil
}

// Register adds the POP3 handlers to chain
func (h *Handlers) Register(chain *mta.Chain) *mta.Chain {
	chain.OnConnect(mta.ConnectFunc(h.welcome))

	// AUTHORIZATION state
	chain.OnCommand("USER", mta.CommandFunc(authorization), mta.CommandFunc(h.user))
	chain.OnCommand("PASS", mta.CommandFunc(authorization), mta.CommandFunc(h.pass))

	// TRANSACTION state
	chain.OnCommand("STAT", mta.CommandFunc(transaction), mta.CommandFunc(h.stat))
	chain.OnCommand("LIST", mta.CommandFunc(transaction), mta.CommandFunc(h.list))
	chain.OnCommand("UIDL", mta.CommandFunc(transaction), mta.CommandFunc(h.uidl))
	chain.OnCommand("RETR", mta.CommandFunc(transaction), mta.CommandFunc(h.retr))
	chain.OnCommand("TOP", mta.CommandFunc(transaction), mta.CommandFunc(h.top))
	chain.OnCommand("DELE", mta.CommandFunc(transaction), mta.CommandFunc(h.dele))
	chain.OnCommand("RSET", mta.CommandFunc(transaction), mta.CommandFunc(h.rset))

	// any state
	chain.OnCommand("NOOP", mta.CommandFunc(h.noop))
	chain.OnCommand("CAPA", mta.CommandFunc(h.capa))
	chain.OnCommand("QUIT", mta.CommandFunc(h.quit))
	return chain
}

// NewServer creates an mta.Server speaking POP3
func NewServer(cfg Config, provider MaildropProvider, log *zap.Logger, limits ...mta.Limits) (*mta.Server, error) {
	h, err := New(cfg, provider)
	if err != nil {
		return nil, err
	}
	chain := h.Register(mta.NewChain(Protocol))
	return mta.NewServer(cfg.Hostname, chain, Replies(), log, limits...), nil
}
