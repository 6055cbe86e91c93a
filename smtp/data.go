package smtp

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"time"

	"github.com/go-errors/errors"
	"github.com/signalsciences/tlstext"
	"go.uber.org/zap"

	"github.com/matoous/hookmta/mail"
	"github.com/matoous/hookmta/mta"
)

// maxDataLine is the longest body line accepted, RFC 5321 allows 1000 including CRLF
const maxDataLine = 998

// envelopeKey holds the envelope of a received message until it is queued
const envelopeKey = "smtp.envelope"

func (h *Handlers) data(ctx context.Context, s *mta.Session, cmd *mta.Command) error {
	sender, ok := s.Sender()
	if !ok {
		s.Out(mail.Codes.FailNoSenderDataCmd)
		return nil
	}
	envelope := &mail.Envelope{
		MailFrom: sender,
		RemoteIP: s.RemoteIP(),
		HeloName: s.HeloName(),
	}
	for _, rcpt := range s.Recipients() {
		envelope.AddRecipient(rcpt)
	}
	if err := envelope.BeginData(); err != nil {
		s.Out(mail.Codes.FailNoRecipientsDataCmd)
		return nil
	}
	if cmd.Argument != "" {
		s.Out(mail.Codes.FailSyntaxError)
		return nil
	}

	s.Out(mail.Codes.SuccessDataCmd)
	if err := s.Flush(); err != nil {
		return nil
	}

	var (
		size     int64
		tooBig   bool
		tooLong  bool
		deadline = time.Now().Add(s.Limits().MsgInput)
	)
	for {
		line, err := s.ReadRawLine(maxDataLine)
		if err != nil && err != mta.ErrLineTooLong {
			s.Logger().Info("reading message data", zap.Error(err))
			s.SetMode(mta.ModeMessageAbort)
			s.End()
			return nil
		}
		s.ResetWatchdog()
		if err == nil && line == "." {
			break
		}
		if time.Now().After(deadline) {
			s.Out(fmt.Sprintf(mail.Codes.FailReadErrorDataCmd, "timeout"))
			s.SetMode(mta.ModeMessageAbort)
			return mta.ErrEndSession
		}
		if err == mta.ErrLineTooLong {
			tooLong = true
			continue
		}
		// dot stuffing, RFC 5321 4.5.2
		if len(line) > 1 && line[0] == '.' {
			line = line[1:]
		}
		size += int64(len(line)) + 2
		if size > s.Limits().MsgSize {
			tooBig = true
		}
		if !tooBig && !tooLong {
			envelope.WriteLine([]byte(line))
		}
	}

	switch {
	case tooBig:
		s.Out(mail.Codes.FailTooBig)
		s.SetMode(mta.ModeMessageAbort)
		s.ResetTransaction()
	case tooLong:
		s.Out(mail.Codes.FailLineTooLong)
		s.SetMode(mta.ModeMessageAbort)
		s.ResetTransaction()
	default:
		envelope.Received = time.Now()
		s.SetTxAttribute(envelopeKey, envelope)
		s.SetMode(mta.ModeMessageReceived)
	}
	return nil
}

// queue hands the received message to the MailHandler
func (h *Handlers) queue(ctx context.Context, s *mta.Session) error {
	v, ok := s.TxAttribute(envelopeKey)
	if !ok {
		return errors.New("no envelope for received message")
	}
	envelope := v.(*mail.Envelope)
	/*
		When forwarding a message into or out of the Internet environment, a
		gateway MUST prepend a Received: line, but it MUST NOT alter in any
		way a Received: line that is already in the header section.
	*/
	envelope.AddHeader(h.receivedHeader(s, envelope))

	id, err := h.sink.Handle(envelope, s.User())
	s.ResetTransaction()
	if err != nil {
		s.Logger().Error("queueing message", zap.Error(err))
		s.Out(mail.Codes.ErrorQueue)
		return nil
	}
	fields := []zap.Field{zap.String("id", id), zap.Int("recipients", len(envelope.MailTo))}
	if msg, err := mail.New(envelope.Data.Bytes()); err == nil && msg.HaveHeader("Message-ID") {
		fields = append(fields, zap.String("message_id", msg.GetHeader("Message-ID")))
	}
	s.Logger().Info("message queued", fields...)
	s.Out(fmt.Sprintf(mail.Codes.SuccessMessageQueued, id))
	return nil
}

func tlsInfo(state *tls.ConnectionState) string {
	return fmt.Sprintf("(using %s with cipher %s)", tlstext.VersionFromConnection(state), tlstext.CipherSuiteFromConnection(state))
}

func (h *Handlers) receivedHeader(s *mta.Session, e *mail.Envelope) []byte {
	remotePort := ""
	if _, port, err := net.SplitHostPort(s.RemoteAddr().String()); err == nil {
		remotePort = port
	}
	localIP := s.LocalAddr().String()
	if host, _, err := net.SplitHostPort(localIP); err == nil {
		localIP = host
	}

	header := bytes.NewBufferString("Received: from ")

	// helo, host and IP
	header.WriteString(e.HeloName)
	header.WriteString(" (")
	header.WriteString(s.RemoteHost())
	header.WriteString(" [")
	header.WriteString(e.RemoteIP)
	header.WriteByte(']')
	if remotePort != "" {
		header.WriteByte(':')
		header.WriteString(remotePort)
	}
	if user := s.User(); user != "" {
		header.WriteString(" authenticated as ")
		header.WriteString(user)
	}
	header.WriteString(") ")

	if state := s.TLS(); state != nil {
		header.WriteString(tlsInfo(state))
		header.WriteByte(' ')
	}

	header.WriteString("by ")
	header.WriteString(h.cfg.Hostname)
	header.WriteString(" (")
	header.WriteString(localIP)
	header.WriteByte(')')

	if s.TLS() != nil {
		header.WriteString(" with ESMTPS")
	} else {
		header.WriteString(" with ESMTP")
	}
	header.WriteString(" (")
	header.WriteString(h.cfg.Software)
	header.WriteString(") id ")
	header.WriteString(s.ID())

	if len(e.MailTo) == 1 {
		header.WriteString(" for ")
		header.WriteString(e.MailTo[0].String())
	}

	header.WriteString("; ")
	header.WriteString(e.Received.Format(time.RFC1123Z))
	header.WriteString("\r\n")

	out := header.Bytes()
	mail.FoldHeader(&out)
	return append(out, '\r', '\n')
}
