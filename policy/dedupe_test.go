package policy

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/matoous/hookmta/hook"
	"github.com/matoous/hookmta/hook/hooktest"
)

func TestDedupe(t *testing.T) {
	s := hooktest.NewSession("1.2.3.4")
	d := Dedupe{}

	assert.Equal(t, hook.DeclinedResult, d.DoRcpt(context.Background(), s, "a@x", "b@y"))
	s.Rcpts = append(s.Rcpts, "b@y")

	res := d.DoRcpt(context.Background(), s, "a@x", "B@y")
	assert.Equal(t, hook.OK, res.Verdict, "known recipient should be accepted")
	assert.Equal(t, 250, res.Code)
	assert.Equal(t, "2.1.5 Recipient <B@y> OK", res.Message)
	assert.Equal(t, 1, s.RecipientCount(), "the hook itself doesn't add recipients")
}
