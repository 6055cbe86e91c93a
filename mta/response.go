package mta

import (
	"bytes"
	"io"
	"strings"
)

type replyLine struct {
	code string
	text string
}

// Response accumulates the reply of one processing cycle.
// All status lines but the last are rendered as "<code>-<text>", the last one
// as "<code> <text>". An optional body block is written after the status lines,
// dot-stuffed and terminated by a single ".".
type Response struct {
	lines []replyLine
	body  []string
	multi bool

	defaultCode string
	defaultText string
}

// NewResponse creates a composer whose Fail reply is defaultLine, e.g. "451 4.3.0 Unexpected error!"
func NewResponse(defaultLine string) *Response {
	code, text := splitReply(defaultLine)
	return &Response{defaultCode: code, defaultText: text}
}

// splitReply splits "250 2.1.0 OK" into "250" and "2.1.0 OK"
func splitReply(line string) (string, string) {
	parts := strings.SplitN(line, " ", 2)
	if len(parts) == 1 {
		return parts[0], ""
	}
	return parts[0], parts[1]
}

// Add queues a status line
func (r *Response) Add(code, text string) {
	r.lines = append(r.lines, replyLine{code: code, text: text})
}

// AddLine queues a status line given as "<code> <text>"
func (r *Response) AddLine(line string) {
	r.Add(splitReply(line))
}

// AddBody queues lines of a multi-line data block
func (r *Response) AddBody(lines ...string) {
	r.multi = true
	r.body = append(r.body, lines...)
}

// Fail replaces whatever was queued by the default reply
func (r *Response) Fail() {
	r.lines = r.lines[:0]
	r.body = nil
	r.multi = false
	r.Add(r.defaultCode, r.defaultText)
}

// Pending reports whether something is queued
func (r *Response) Pending() bool {
	return len(r.lines) != 0 || r.multi
}

// Bytes renders the queued reply
func (r *Response) Bytes() []byte {
	var buf bytes.Buffer
	for i, l := range r.lines {
		buf.WriteString(l.code)
		if l.text != "" || i != len(r.lines)-1 {
			if i == len(r.lines)-1 {
				buf.WriteByte(' ')
			} else {
				buf.WriteByte('-')
			}
			buf.WriteString(l.text)
		}
		buf.WriteString("\r\n")
	}
	if r.multi {
		for _, l := range r.body {
			if strings.HasPrefix(l, ".") {
				buf.WriteByte('.')
			}
			buf.WriteString(l)
			buf.WriteString("\r\n")
		}
		buf.WriteString(".\r\n")
	}
	return buf.Bytes()
}

// Flush writes the queued reply to w and clears the composer
func (r *Response) Flush(w io.Writer) error {
	if !r.Pending() {
		return nil
	}
	out := r.Bytes()
	r.Reset()
	_, err := w.Write(out)
	return err
}

// Reset drops the queued reply
func (r *Response) Reset() {
	r.lines = r.lines[:0]
	r.body = nil
	r.multi = false
}
