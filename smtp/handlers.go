package smtp

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/matoous/hookmta/hook"
	"github.com/matoous/hookmta/mail"
	"github.com/matoous/hookmta/mta"
)

// pendingRcptKey holds the parsed RCPT argument between the RCPT handlers
const pendingRcptKey = "smtp.rcpt"

// checkRelay grants relaying to clients from the relay networks
func (h *Handlers) checkRelay(ctx context.Context, s *mta.Session) error {
	if h.inRelayNetwork(s.RemoteIP()) {
		s.Logger().Debug("relaying allowed")
		s.SetRelayingAllowed(true)
	}
	return nil
}

// connectHooks runs the connect step of the hook pipeline
func (h *Handlers) connectHooks(ctx context.Context, s *mta.Session) error {
	res := h.pipeline.Connect(ctx, s)
	switch res.Verdict {
	case hook.Deny:
		reply(s, res, 554, "5.7.1 Connection rejected")
		s.End()
	case hook.DenySoft:
		reply(s, res, 421, "4.7.0 Try again later")
		s.End()
	}
	return nil
}

// welcome sends the greeting
func (h *Handlers) welcome(ctx context.Context, s *mta.Session) error {
	greeting := fmt.Sprintf("220 %s ESMTP %s", h.cfg.Hostname, h.cfg.Software)
	if h.cfg.Announce != "" {
		greeting += " " + h.cfg.Announce
	}
	s.Out(greeting)
	return nil
}

func (h *Handlers) helo(ctx context.Context, s *mta.Session, cmd *mta.Command) error {
	args := cmd.Args()
	if len(args) == 0 {
		s.Out(mail.Codes.FailHeloMissingArgument)
		s.BadCommand()
		return nil
	}
	s.ResetTransaction()
	s.SetHeloName(args[0])
	s.Out(fmt.Sprintf("250 %s hello %s", h.cfg.Hostname, s.RemoteIP()))
	return nil
}

func (h *Handlers) ehlo(ctx context.Context, s *mta.Session, cmd *mta.Command) error {
	args := cmd.Args()
	if len(args) == 0 {
		s.Out(mail.Codes.FailHeloMissingArgument)
		s.BadCommand()
		return nil
	}
	s.ResetTransaction()
	s.SetHeloName(args[0])

	s.Reply("250", fmt.Sprintf("%s hello %s", h.cfg.Hostname, s.RemoteIP()))
	// https://tools.ietf.org/html/rfc2920
	s.Reply("250", "PIPELINING")
	// https://tools.ietf.org/html/rfc6152
	s.Reply("250", "8BITMIME")
	// https://tools.ietf.org/html/rfc2034
	s.Reply("250", "ENHANCEDSTATUSCODES")
	// https://tools.ietf.org/html/rfc1870
	s.Reply("250", fmt.Sprintf("SIZE %d", s.Limits().MsgSize))
	// https://tools.ietf.org/html/rfc821
	s.Reply("250", "HELP")
	return nil
}

func (h *Handlers) mail(ctx context.Context, s *mta.Session, cmd *mta.Command) error {
	// HELO/EHLO needs to be first
	if s.HeloName() == "" {
		s.Out(mail.Codes.FailBadSequence)
		return nil
	}
	// nested mail command
	if _, ok := s.Sender(); ok {
		s.Out(mail.Codes.FailNestedMailCmd)
		return nil
	}

	from, params, err := mail.ParsePath(cmd.Argument, "FROM")
	if err != nil {
		s.Logger().Debug("invalid MAIL argument", zap.String("argument", cmd.Argument), zap.Error(err))
		s.Out(mail.Codes.FailInvalidAddress)
		s.BadCommand()
		return nil
	}

	for _, param := range params {
		kv := strings.SplitN(param, "=", 2)
		switch strings.ToUpper(kv[0]) {
		case "SIZE":
			if len(kv) != 2 {
				s.Out(mail.Codes.FailInvalidExtension)
				return nil
			}
			size, err := strconv.ParseInt(kv[1], 10, 64)
			if err != nil {
				s.Out(mail.Codes.FailInvalidExtension)
				return nil
			}
			if size > s.Limits().MsgSize {
				s.Out(mail.Codes.FailTooBig)
				return nil
			}
		case "BODY":
			// body-value ::= "7BIT" / "8BITMIME"
			if len(kv) != 2 || (!strings.EqualFold(kv[1], "7BIT") && !strings.EqualFold(kv[1], "8BITMIME")) {
				s.Out(mail.Codes.FailInvalidExtension)
				return nil
			}
		default:
			s.Out(mail.Codes.FailInvalidExtension)
			return nil
		}
	}

	if err := from.Validate(); err != nil {
		s.Logger().Debug("invalid sender", zap.String("sender", string(from)), zap.Error(err))
		s.Out(mail.Codes.FailBadSenderMailboxAddressSyntax)
		return nil
	}
	if h.cfg.CheckSenderDomain {
		if reply := from.IsFQN(); reply != "" {
			s.Out(reply)
			return nil
		}
	}

	s.ResetTransaction()
	s.SetSender(from)
	s.Out(mail.Codes.SuccessMailCmd)
	return nil
}

// checkRcpt validates the RCPT command and leaves the recipient for the following handlers
func (h *Handlers) checkRcpt(ctx context.Context, s *mta.Session, cmd *mta.Command) error {
	if _, ok := s.Sender(); !ok {
		s.Out(mail.Codes.FailBadSequence)
		return nil
	}
	if s.RecipientCount() >= s.Limits().MaxRcptCount {
		s.Out(mail.Codes.ErrorTooManyRecipients)
		return nil
	}

	rcpt, _, err := mail.ParsePath(cmd.Argument, "TO")
	if err != nil || rcpt.IsNull() {
		s.Out(mail.Codes.FailInvalidAddress)
		s.BadCommand()
		return nil
	}

	// must be implemented - RFC5321
	postmaster := strings.EqualFold(string(rcpt), "postmaster")
	if postmaster {
		rcpt = mail.Address("postmaster@" + h.cfg.Hostname)
	}
	if err := rcpt.Validate(); err != nil {
		s.Logger().Debug("error validating address", zap.String("mail", string(rcpt)), zap.Error(err))
		s.Out(mail.Codes.FailInvalidAddress)
		return nil
	}

	if !postmaster && !s.RelayingAllowed() && !h.isLocalDomain(rcpt.Hostname()) {
		s.Out(mail.Codes.FailRelayAccessDenied)
		return nil
	}

	s.SetTxAttribute(pendingRcptKey, rcpt)
	return nil
}

// rcptHooks runs the recipient step of the hook pipeline
func (h *Handlers) rcptHooks(ctx context.Context, s *mta.Session, cmd *mta.Command) error {
	rcpt, ok := pendingRcpt(s)
	if !ok {
		return nil
	}
	sender, _ := s.Sender()
	res := h.pipeline.Rcpt(ctx, s, sender, rcpt)
	switch res.Verdict {
	case hook.Deny:
		reply(s, res, 550, "5.7.1 Recipient rejected")
	case hook.DenySoft:
		reply(s, res, 451, "4.7.1 Try again later")
	case hook.OK:
		if !s.HasRecipient(rcpt) {
			s.AddRecipient(rcpt)
		}
		reply(s, res, 250, "2.1.5 OK")
	}
	return nil
}

// acceptRcpt accepts the recipient nobody decided about
func (h *Handlers) acceptRcpt(ctx context.Context, s *mta.Session, cmd *mta.Command) error {
	rcpt, ok := pendingRcpt(s)
	if !ok {
		return nil
	}
	if !s.HasRecipient(rcpt) {
		s.AddRecipient(rcpt)
	}
	s.Out(mail.Codes.SuccessRcptCmd)
	return nil
}

func pendingRcpt(s *mta.Session) (mail.Address, bool) {
	v, ok := s.TxAttribute(pendingRcptKey)
	if !ok {
		return "", false
	}
	rcpt, ok := v.(mail.Address)
	return rcpt, ok
}

// handleRset resets the current transaction
func (h *Handlers) rset(ctx context.Context, s *mta.Session, cmd *mta.Command) error {
	s.ResetTransaction()
	s.Out(mail.Codes.SuccessResetCmd)
	return nil
}

func (h *Handlers) noop(ctx context.Context, s *mta.Session, cmd *mta.Command) error {
	s.Out(mail.Codes.SuccessNoopCmd)
	return nil
}

func (h *Handlers) quit(ctx context.Context, s *mta.Session, cmd *mta.Command) error {
	s.Out(mail.Codes.SuccessQuitCmd)
	s.Logger().Info("quit remote", zap.String("addr", s.RemoteAddr().String()))
	return mta.ErrEndSession
}

func (h *Handlers) help(ctx context.Context, s *mta.Session, cmd *mta.Command) error {
	s.Out(mail.Codes.SuccessHelpCmd)
	return nil
}

func (h *Handlers) vrfy(ctx context.Context, s *mta.Session, cmd *mta.Command) error {
	s.Out(mail.Codes.SuccessVerifyCmd)
	return nil
}

func (h *Handlers) expn(ctx context.Context, s *mta.Session, cmd *mta.Command) error {
	s.Out(mail.Codes.SuccessExpnCmd)
	return nil
}

// reply writes a hook result, filling in what the hook left empty
func reply(s *mta.Session, res hook.Result, code int, text string) {
	if res.Code != 0 {
		code = res.Code
	}
	if res.Message != "" {
		text = res.Message
	}
	s.Reply(strconv.Itoa(code), text)
}
