package mail

import (
	"net"
	"regexp"
	"strings"

	"github.com/go-errors/errors"
)

// Address is an envelope address, without the angle brackets.
// The empty Address is the null reverse-path ("<>").
type Address string

// email address size limits
const (
	maxEmailLength      = 256 // max full email address length
	maxLocalPartLength  = 64  // max length of user/local part of email address as per https://tools.ietf.org/html/rfc5321#section-4.5.3.1.1
	maxDomainPartLength = 255 // max length of domain part of email address https://tools.ietf.org/html/rfc5321#section-4.5.3.1.2
)

// simple regex to check email format validity
var emailRegexp = regexp.MustCompile("^[^@\\s]+@[^@\\s]+$")

var (
	// ErrPathSyntax is returned when the MAIL/RCPT argument is not a path
	ErrPathSyntax = errors.New("malformed path")
	// ErrPathTooLong is returned when the address exceeds RFC 5321 limits
	ErrPathTooLong = errors.New("path too long")
	// ErrLocalPartTooLong is returned when the user part exceeds 64 characters
	ErrLocalPartTooLong = errors.New("local part too long")
	// ErrDomainPartTooLong is returned when the domain exceeds 255 characters
	ErrDomainPartTooLong = errors.New("domain part too long")
)

// ParsePath parses the argument of MAIL or RCPT, e.g. "FROM:<a@b.c> SIZE=10",
// prefix being "FROM" or "TO". It returns the address and the remaining ESMTP
// parameters.
func ParsePath(arg, prefix string) (Address, []string, error) {
	arg = strings.TrimSpace(arg)
	if len(arg) < len(prefix)+1 || !strings.EqualFold(arg[:len(prefix)], prefix) || arg[len(prefix)] != ':' {
		return "", nil, ErrPathSyntax
	}
	rest := strings.TrimSpace(arg[len(prefix)+1:])
	fields := strings.Fields(rest)
	if len(fields) == 0 {
		return "", nil, ErrPathSyntax
	}
	path := fields[0]
	if !strings.HasPrefix(path, "<") || !strings.HasSuffix(path, ">") {
		return "", nil, ErrPathSyntax
	}
	addr := Address(removeBrackets(path))
	// strip source route, "<@a,@b:user@c>"
	if strings.HasPrefix(string(addr), "@") {
		idx := strings.Index(string(addr), ":")
		if idx == -1 {
			return "", nil, ErrPathSyntax
		}
		addr = addr[idx+1:]
	}
	return addr, fields[1:], nil
}

// IsNull reports whether this is the null reverse-path
func (a Address) IsNull() bool {
	return a == ""
}

// ValidFormat checks if email is of valid format
func (a Address) ValidFormat() bool {
	return emailRegexp.MatchString(string(a))
}

// Email returns whole email address
func (a Address) Email() string {
	if !strings.Contains(string(a), "@") {
		return strings.ToLower(string(a))
	}
	return a.User() + "@" + a.Hostname()
}

// String returns the address in its path form, "<user@host>"
func (a Address) String() string {
	return "<" + string(a) + ">"
}

// Hostname returns the name of the host of email address
func (a Address) Hostname() string {
	e := string(a)
	if idx := strings.LastIndex(e, "@"); idx != -1 {
		return strings.ToLower(e[idx+1:])
	}
	return ""
}

// User returns user part of email address
func (a Address) User() string {
	e := string(a)
	if idx := strings.LastIndex(e, "@"); idx != -1 {
		return strings.ToLower(e[:idx])
	}
	return e
}

// Validate validates given email address
// checks size and format
func (a Address) Validate() error {
	// 0 len -> bounce
	if len(a) == 0 {
		return nil
	}
	if !a.ValidFormat() {
		return ErrPathSyntax
	}
	if len(a) > maxEmailLength {
		return ErrPathTooLong
	}
	if len(a.User()) > maxLocalPartLength {
		return ErrLocalPartTooLong
	}
	if len(a.Hostname()) > maxDomainPartLength {
		return ErrDomainPartTooLong
	}
	return nil
}

// IsFQN checks if email host is full qualified name (MX or A record),
// returns the reply to send when it isn't.
func (a Address) IsFQN() string {
	if len(a) > 0 {
		ok, err := fqn(a.Hostname())
		if err != nil {
			return Codes.ErrorUnableToResolveHost
		} else if !ok {
			return Codes.FailUnqalifiedHostName
		}
	}
	return ""
}

func fqn(host string) (bool, error) {
	_, err := net.LookupMX(host)
	if err == nil {
		return true, nil
	}
	if dnsErr, ok := err.(*net.DNSError); !ok || !dnsErr.IsNotFound {
		return false, err
	}
	// no MX, the A record is used as implicit MX
	if _, err = net.LookupHost(host); err != nil {
		if dnsErr, ok := err.(*net.DNSError); ok && dnsErr.IsNotFound {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// removeBrackets removes trailing and ending brackets (<string> -> string)
func removeBrackets(s string) string {
	if strings.HasPrefix(s, "<") {
		s = s[1:]
	}
	if strings.HasSuffix(s, ">") {
		s = s[0 : len(s)-1]
	}
	return s
}
