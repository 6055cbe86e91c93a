package mail

import (
	"bytes"
	"net/mail"
	"net/textproto"
	"regexp"
)

// Message is a parsed view of the received message data
type Message struct {
	mail.Message
}

// New parses the header of rawmail
func New(rawmail []byte) (m *Message, err error) {
	m = &Message{}
	t, err := mail.ReadMessage(bytes.NewReader(rawmail))
	if err != nil {
		return
	}
	m.Body = t.Body
	m.Header = t.Header
	return
}

// HaveHeader checks the existence of header
func (m *Message) HaveHeader(key string) bool {
	return len(m.Header.Get(textproto.CanonicalMIMEHeaderKey(key))) != 0
}

// GetHeader get one header, or the first occurence if there is multiple headers with this key
func (m *Message) GetHeader(key string) string {
	return m.Header.Get(key)
}

var rxReduceWS = regexp.MustCompile(`[ \t]+`)

// FoldHeader retun header value according to RFC 2822
// https://tools.ietf.org/html/rfc2822#section-2.1.1
// There are two limits that this standard places on the number of
// characters in a line. Each line of characters MUST be no more than
// 998 characters, and SHOULD be no more than 78 characters, excluding
// the CRLF.
func FoldHeader(header *[]byte) {

	raw := *header

	// remove \r & \n
	raw = bytes.Replace(raw, []byte{13}, []byte{}, -1)
	raw = bytes.Replace(raw, []byte{10}, []byte{}, -1)
	raw = rxReduceWS.ReplaceAll(raw, []byte(" "))
	if len(raw) < 78 {
		*header = raw
		return
	}
	lastCut := 0
	lastSpace := 0
	headerLenght := 0
	spacesSeen := 0
	*header = []byte{}

	for i, c := range raw {
		headerLenght++
		if c == 32 {
			// not the space following the header name
			if spacesSeen != 0 {
				lastSpace = i
			}
			spacesSeen++
		}
		if headerLenght > 77 && lastSpace > lastCut {
			if len(*header) != 0 {
				*header = append(*header, []byte{13, 10, 32, 32}...)
			}
			*header = append(*header, raw[lastCut:lastSpace]...)
			lastCut = lastSpace
			headerLenght = i - lastSpace
		}
	}
	if len(*header) != 0 && lastCut < len(raw) {
		*header = append(*header, []byte{13, 10, 32, 32}...)
	}
	*header = append(*header, raw[lastCut:]...)
}
