package mta

import "time"

// Limits hold all the session limitations - max attempts, sizes and timeouts
type Limits struct {
	CmdInput     time.Duration // idle time allowed between client commands, enforced by the watchdog
	MsgInput     time.Duration // total time for the email
	ReplyOut     time.Duration // server reply time
	MsgSize      int64         // max email size
	BadCmds      int           // bad commands limit
	MaxRcptCount int           // maximum number of recipients of message
	LineLength   int           // max command line length, without CRLF
}

// DefaultLimits that are applied if you do not specify custom limits
// Five minutes for command input and two minutes for command replies, ten minutes for
// receiving messages, and 5 Mbytes of message size.
var DefaultLimits = Limits{
	CmdInput:     5 * time.Minute,
	MsgInput:     10 * time.Minute,
	ReplyOut:     2 * time.Minute,
	MsgSize:      5 * 1024 * 1024,
	BadCmds:      5,
	MaxRcptCount: 200,
	LineLength:   512,
}
