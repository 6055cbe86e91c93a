package policy

import (
	"context"
	"net"
	"strings"

	"github.com/go-errors/errors"
	"go.uber.org/zap"

	"github.com/matoous/hookmta/hook"
	"github.com/matoous/hookmta/mail"
)

// ErrInvalidIP is returned by ReverseIP for unparsable addresses
var ErrInvalidIP = errors.New("invalid ip address")

// Resolver is the DNS client used by DNSRBL, *net.Resolver satisfies it
type Resolver interface {
	LookupHost(ctx context.Context, host string) ([]string, error)
	LookupTXT(ctx context.Context, name string) ([]string, error)
}

/*
DNSRBL checks the client against DNS allow and block lists when it connects
and rejects its recipients later if it was found on a block list.
*/
type DNSRBL struct {
	Resolver  Resolver
	Whitelist []string // allow list zones, checked first
	Blacklist []string // block list zones
	GetDetail bool     // fetch the TXT record of the listing
	log       *zap.Logger
}

// NewDNSRBL creates the hook, a nil resolver means net.DefaultResolver
func NewDNSRBL(resolver Resolver, whitelist, blacklist []string, getDetail bool, log *zap.Logger) *DNSRBL {
	if resolver == nil {
		resolver = net.DefaultResolver
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &DNSRBL{
		Resolver:  resolver,
		Whitelist: whitelist,
		Blacklist: blacklist,
		GetDetail: getDetail,
		log:       log.With(zap.String("hook", "dnsrbl")),
	}
}

func (r *DNSRBL) Name() string {
	return "dnsrbl"
}

// DoConnect records the listing of the client in the session, it never rejects by itself
func (r *DNSRBL) DoConnect(ctx context.Context, s hook.Session) hook.Result {
	if s.RelayingAllowed() {
		return hook.DeclinedResult
	}
	reversed, err := ReverseIP(s.RemoteIP())
	if err != nil {
		r.log.Debug("not checking client", zap.String("ip", s.RemoteIP()), zap.Error(err))
		return hook.DeclinedResult
	}

	for _, zone := range r.Whitelist {
		if r.listed(ctx, reversed+zoneName(zone)) {
			r.log.Debug("client whitelisted", zap.String("ip", s.RemoteIP()), zap.String("zone", zone))
			return hook.DeclinedResult
		}
	}

	for _, zone := range r.Blacklist {
		name := reversed + zoneName(zone)
		if !r.listed(ctx, name) {
			continue
		}
		detail := ""
		if r.GetDetail {
			txt, err := r.Resolver.LookupTXT(ctx, name)
			if err != nil && !isNotFound(err) {
				r.log.Warn("txt lookup failed", zap.String("name", name), zap.Error(err))
			}
			if len(txt) > 0 {
				detail = txt[0]
			}
		}
		r.log.Info("client blocklisted", zap.String("ip", s.RemoteIP()), zap.String("zone", zone), zap.String("detail", detail))
		s.SetBlocklisted(detail)
		break
	}
	return hook.DeclinedResult
}

// DoRcpt rejects recipients of blocklisted clients
func (r *DNSRBL) DoRcpt(ctx context.Context, s hook.Session, sender, rcpt mail.Address) hook.Result {
	if s.RelayingAllowed() {
		return hook.DeclinedResult
	}
	listed, detail := s.Blocklisted()
	if !listed {
		return hook.DeclinedResult
	}
	if detail == "" {
		detail = "Rejected: unauthenticated e-mail from " + s.RemoteIP() + " is restricted. Contact the postmaster for details."
	}
	return hook.Result{Verdict: hook.Deny, Code: 550, Message: "5.7.1 " + detail}
}

func (r *DNSRBL) listed(ctx context.Context, name string) bool {
	addrs, err := r.Resolver.LookupHost(ctx, name)
	if err != nil {
		if !isNotFound(err) {
			r.log.Warn("dns lookup failed", zap.String("name", name), zap.Error(err))
		}
		return false
	}
	return len(addrs) > 0
}

func isNotFound(err error) bool {
	if dnsErr, ok := err.(*net.DNSError); ok {
		return dnsErr.IsNotFound
	}
	return false
}

func zoneName(zone string) string {
	zone = strings.Trim(zone, ".")
	return zone + "."
}

/*
ReverseIP returns the DNS list label of ip with a trailing dot:
reversed octets for IPv4 ("1.2.3.4" -> "4.3.2.1.") and reversed nibbles for IPv6.
*/
func ReverseIP(ip string) (string, error) {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return "", errors.WrapPrefix(ErrInvalidIP, ip, 0)
	}
	if v4 := parsed.To4(); v4 != nil {
		parts := strings.Split(v4.String(), ".")
		var b strings.Builder
		for i := len(parts) - 1; i >= 0; i-- {
			b.WriteString(parts[i])
			b.WriteByte('.')
		}
		return b.String(), nil
	}
	const hexDigits = "0123456789abcdef"
	v6 := parsed.To16()
	var b strings.Builder
	for i := len(v6) - 1; i >= 0; i-- {
		b.WriteByte(hexDigits[v6[i]&0x0f])
		b.WriteByte('.')
		b.WriteByte(hexDigits[v6[i]>>4])
		b.WriteByte('.')
	}
	return b.String(), nil
}
