// Package hooktest provides an in-memory hook.Session for testing hooks.
package hooktest

import (
	"strings"

	"go.uber.org/zap"

	"github.com/matoous/hookmta/mail"
)

// Session is a plain struct implementing hook.Session
type Session struct {
	SessionID    string
	IP           string
	Host         string
	AuthUser     string
	Relaying     bool
	Listed       bool
	ListedDetail string
	Rcpts        []mail.Address
	Log          *zap.Logger
}

// NewSession creates a session for a client connecting from ip
func NewSession(ip string) *Session {
	return &Session{SessionID: "test", IP: ip, Host: ip, Log: zap.NewNop()}
}

func (s *Session) ID() string                  { return s.SessionID }
func (s *Session) RemoteIP() string            { return s.IP }
func (s *Session) RemoteHost() string          { return s.Host }
func (s *Session) User() string                { return s.AuthUser }
func (s *Session) RelayingAllowed() bool       { return s.Relaying }
func (s *Session) Blocklisted() (bool, string) { return s.Listed, s.ListedDetail }
func (s *Session) Recipients() []mail.Address  { return s.Rcpts }
func (s *Session) RecipientCount() int         { return len(s.Rcpts) }
func (s *Session) Logger() *zap.Logger         { return s.Log }

func (s *Session) SetBlocklisted(detail string) {
	s.Listed = true
	s.ListedDetail = detail
}

func (s *Session) HasRecipient(rcpt mail.Address) bool {
	for _, r := range s.Rcpts {
		if strings.EqualFold(string(r), string(rcpt)) {
			return true
		}
	}
	return false
}
