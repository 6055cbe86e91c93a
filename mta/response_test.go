package mta

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResponse_MultiLine(t *testing.T) {
	r := NewResponse("451 4.3.0 Unexpected error!")
	r.Add("250", "line1")
	r.Add("250", "line2")
	r.Add("250", "line3")

	var out bytes.Buffer
	assert.NoError(t, r.Flush(&out))
	assert.Equal(t, "250-line1\r\n250-line2\r\n250 line3\r\n", out.String(),
		"all lines but the last should use '-' as separator")
	assert.False(t, r.Pending(), "flush should clear the composer")
}

func TestResponse_Fail(t *testing.T) {
	r := NewResponse("451 4.3.0 Unexpected error!")
	r.AddLine("250 2.1.0 OK")
	r.Fail()
	assert.Equal(t, "451 4.3.0 Unexpected error!\r\n", string(r.Bytes()),
		"fail should replace the queued lines by the default reply")

	var out bytes.Buffer
	r.Flush(&out)
	r.Fail()
	assert.Equal(t, "451 4.3.0 Unexpected error!\r\n", string(r.Bytes()),
		"default reply should survive a flush")
}

func TestResponse_Body(t *testing.T) {
	r := NewResponse("-ERR unexpected error")
	r.AddLine("+OK 2 messages")
	r.AddBody("1 120", ".hidden", "2 200")
	assert.Equal(t, "+OK 2 messages\r\n1 120\r\n..hidden\r\n2 200\r\n.\r\n", string(r.Bytes()),
		"body lines should be dot-stuffed and terminated")

	r.Reset()
	r.AddLine("+OK")
	r.AddBody()
	assert.Equal(t, "+OK\r\n.\r\n", string(r.Bytes()), "empty body should still be terminated")
}

func TestResponse_CodeOnly(t *testing.T) {
	r := NewResponse("451 4.3.0 Unexpected error!")
	r.Add("354", "")
	assert.Equal(t, "354\r\n", string(r.Bytes()))

	var out bytes.Buffer
	assert.NoError(t, r.Flush(&out))
	assert.NoError(t, r.Flush(&out), "flushing an empty composer should be a no-op")
	assert.Equal(t, "354\r\n", out.String())
}
