package mail

import (
	"bytes"
	"reflect"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	m, err := New([]byte("Subject: hello\r\nMessage-ID: <1@example.com>\r\n\r\nbody\r\n"))
	require.NoError(t, err)
	assert.True(t, m.HaveHeader("message-id"), "header lookup should be case insensitive")
	assert.Equal(t, "hello", m.GetHeader("Subject"))
	assert.False(t, m.HaveHeader("Date"))
}

func TestFoldHeader(t *testing.T) {
	short := []byte("Subject: short")
	FoldHeader(&short)
	assert.Equal(t, "Subject: short", string(short), "short headers are left alone")

	long := []byte("Received: from mail.example.com (mail.example.com [192.0.2.1]) by mx.example.org with ESMTP id abcdefghijkl; Mon, 01 Jan 2024 00:00:00 +0000")
	FoldHeader(&long)
	for _, line := range bytes.Split(long, []byte("\r\n")) {
		assert.True(t, len(line) < 100, "folded line too long: %q", line)
	}
	assert.Equal(t,
		"Received: from mail.example.com (mail.example.com [192.0.2.1]) by mx.example.org with ESMTP id abcdefghijkl; Mon, 01 Jan 2024 00:00:00 +0000",
		string(bytes.Replace(long, []byte("\r\n  "), []byte{}, -1)),
		"unfolding should restore the original header")
}

func TestResponse_String(t *testing.T) {
	assert.Equal(t, "250 2.1.0 OK", Codes.SuccessMailCmd)
	assert.Equal(t, "250 2.1.5 OK", Codes.SuccessRcptCmd)
	assert.Equal(t, "421 4.4.2 Connection idled out!", Codes.ErrorIdleTimeout)
	assert.Equal(t, "200", class(2).String())
	assert.Equal(t, "250 2.0.0 OK", Codes.SuccessNoopCmd)
}

// every prepared reply has to carry a reply code defined by RFC 5321
func TestResponses_BasicCodes(t *testing.T) {
	valid := map[int]bool{
		211: true, 214: true, 220: true, 221: true, 250: true, 251: true, 252: true,
		354: true,
		421: true, 450: true, 451: true, 452: true, 455: true,
		500: true, 501: true, 502: true, 503: true, 504: true,
		550: true, 551: true, 552: true, 553: true, 554: true, 555: true,
	}
	v := reflect.ValueOf(Codes)
	for i := 0; i < v.NumField(); i++ {
		name := v.Type().Field(i).Name
		reply := v.Field(i).String()
		require.True(t, len(reply) > 3, "%s is empty", name)
		code, err := strconv.Atoi(reply[:3])
		require.NoError(t, err, "%s: %q", name, reply)
		assert.True(t, valid[code], "%s has invalid reply code: %q", name, reply)
	}
}
