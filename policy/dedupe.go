package policy

import (
	"context"

	"github.com/matoous/hookmta/hook"
	"github.com/matoous/hookmta/mail"
)

// Dedupe accepts a recipient given twice in one transaction without adding it again
type Dedupe struct{}

func (Dedupe) Name() string {
	return "dedupe"
}

func (Dedupe) DoRcpt(ctx context.Context, s hook.Session, sender, rcpt mail.Address) hook.Result {
	if s.HasRecipient(rcpt) {
		return hook.Result{Verdict: hook.OK, Code: 250, Message: "2.1.5 Recipient " + rcpt.String() + " OK"}
	}
	return hook.DeclinedResult
}
