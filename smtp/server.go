// Package smtp registers the SMTP command set into an mta.Chain.
package smtp

import (
	"net"
	"strings"

	"github.com/go-errors/errors"
	"go.uber.org/zap"

	"github.com/matoous/hookmta/hook"
	"github.com/matoous/hookmta/mail"
	"github.com/matoous/hookmta/mta"
)

// Protocol is the name SMTP sessions are logged and counted under
const Protocol = "smtp"

var _ hook.Session = (*mta.Session)(nil)

// Config of the SMTP handlers
type Config struct {
	Hostname          string   // name announced in the greeting and the Received header
	Software          string   // software name announced in the greeting
	Announce          string   // extra text in the greeting
	RelayNetworks     []string // CIDRs whose clients may relay
	LocalDomains      []string // accepted recipient domains for non relaying clients, empty accepts all
	CheckSenderDomain bool     // reject senders whose domain has no MX or A record
}

// Replies returns the lines the engine writes on behalf of SMTP
func Replies() mta.Replies {
	return mta.Replies{
		Unexpected:    mail.Codes.ErrorUnexpected,
		IdleTimeout:   mail.Codes.ErrorIdleTimeout,
		SyntaxError:   mail.Codes.FailSyntaxError,
		LineTooLong:   mail.Codes.FailLineTooLong,
		TooManyErrors: mail.Codes.FailMaxUnrecognizedCmd,
		Shutdown:      mail.Codes.ErrorShutdown,
	}
}

/*
Handlers implement the SMTP commands. They keep no per session state,
everything lives in the mta.Session.
*/
type Handlers struct {
	cfg       Config
	pipeline  *hook.Pipeline
	sink      MailHandler
	relayNets []*net.IPNet
}

// New creates the SMTP handlers, pipeline and sink are required
func New(cfg Config, pipeline *hook.Pipeline, sink MailHandler) (*Handlers, error) {
	if pipeline == nil {
		pipeline = hook.NewPipeline()
	}
	if sink == nil {
		return nil, errors.New("smtp: mail handler is required")
	}
	if cfg.Software == "" {
		cfg.Software = "hookmta"
	}
	h := &Handlers{cfg: cfg, pipeline: pipeline, sink: sink}
	for _, cidr := range cfg.RelayNetworks {
		if !strings.Contains(cidr, "/") {
			if strings.Contains(cidr, ":") {
				cidr += "/128"
			} else {
				cidr += "/32"
			}
		}
		_, n, err := net.ParseCIDR(cidr)
		if err != nil {
			return nil, errors.WrapPrefix(err, "relay network", 0)
		}
		h.relayNets = append(h.relayNets, n)
	}
	return h, nil
}

// Register adds the SMTP handlers to chain
func (h *Handlers) Register(chain *mta.Chain) *mta.Chain {
	chain.OnConnect(
		mta.ConnectFunc(h.checkRelay),
		mta.ConnectFunc(h.connectHooks),
		mta.ConnectFunc(h.welcome),
	)
	chain.OnCommand("HELO", mta.CommandFunc(h.helo))
	chain.OnCommand("EHLO", mta.CommandFunc(h.ehlo))
	chain.OnCommand("MAIL", mta.CommandFunc(h.mail))
	chain.OnCommand("RCPT", mta.CommandFunc(h.checkRcpt), mta.CommandFunc(h.rcptHooks), mta.CommandFunc(h.acceptRcpt))
	chain.OnCommand("DATA", mta.CommandFunc(h.data))
	chain.OnCommand("RSET", mta.CommandFunc(h.rset))
	chain.OnCommand("NOOP", mta.CommandFunc(h.noop))
	chain.OnCommand("QUIT", mta.CommandFunc(h.quit))
	chain.OnCommand("HELP", mta.CommandFunc(h.help))
	chain.OnCommand("VRFY", mta.CommandFunc(h.vrfy))
	chain.OnCommand("EXPN", mta.CommandFunc(h.expn))
	chain.OnMessage(mta.MessageFunc(h.queue))
	return chain
}

// NewServer creates an mta.Server speaking SMTP
func NewServer(cfg Config, pipeline *hook.Pipeline, sink MailHandler, log *zap.Logger, limits ...mta.Limits) (*mta.Server, error) {
	h, err := New(cfg, pipeline, sink)
	if err != nil {
		return nil, err
	}
	chain := h.Register(mta.NewChain(Protocol))
	return mta.NewServer(cfg.Hostname, chain, Replies(), log, limits...), nil
}

func (h *Handlers) inRelayNetwork(ip string) bool {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return false
	}
	for _, n := range h.relayNets {
		if n.Contains(parsed) {
			return true
		}
	}
	return false
}

func (h *Handlers) isLocalDomain(domain string) bool {
	if len(h.cfg.LocalDomains) == 0 {
		return true
	}
	for _, d := range h.cfg.LocalDomains {
		if strings.EqualFold(d, domain) {
			return true
		}
	}
	return false
}
