package hook

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/matoous/hookmta/mail"
)

// Verdict is the decision of one hook
type Verdict int

const (
	Declined Verdict = iota // no opinion, ask the next hook
	OK                      // explicit accept
	Deny                    // permanent reject
	DenySoft                // temporary reject
)

func (v Verdict) String() string {
	switch v {
	case Declined:
		return "declined"
	case OK:
		return "ok"
	case Deny:
		return "deny"
	case DenySoft:
		return "denysoft"
	}
	return fmt.Sprintf("verdict(%d)", int(v))
}

// Result of a hook or of the whole pipeline
type Result struct {
	Verdict Verdict
	Code    int    // protocol reply code, 0 lets the caller pick one
	Message string // reply text, may carry an enhanced status code
}

// DeclinedResult is returned by hooks without an opinion
var DeclinedResult = Result{Verdict: Declined}

// Terminal reports whether the result stops the pipeline
func (r Result) Terminal() bool {
	return r.Verdict != Declined
}

func (r Result) String() string {
	if r.Code == 0 {
		return r.Verdict.String()
	}
	return fmt.Sprintf("%s %d %s", r.Verdict, r.Code, r.Message)
}

/*
Session is the view of a client session hooks work with.
Hooks run sequentially on the goroutine owning the session.
*/
type Session interface {
	ID() string
	RemoteIP() string
	RemoteHost() string
	User() string
	RelayingAllowed() bool
	Blocklisted() (bool, string)
	SetBlocklisted(detail string)
	Recipients() []mail.Address
	RecipientCount() int
	HasRecipient(rcpt mail.Address) bool
	Logger() *zap.Logger
}

// ConnectHook is evaluated once when a client connects
type ConnectHook interface {
	DoConnect(ctx context.Context, s Session) Result
}

// RcptHook is evaluated for every recipient the client proposes
type RcptHook interface {
	DoRcpt(ctx context.Context, s Session, sender, rcpt mail.Address) Result
}

// ConnectFunc adapts a function to ConnectHook
type ConnectFunc func(ctx context.Context, s Session) Result

// DoConnect calls f
func (f ConnectFunc) DoConnect(ctx context.Context, s Session) Result { return f(ctx, s) }

// RcptFunc adapts a function to RcptHook
type RcptFunc func(ctx context.Context, s Session, sender, rcpt mail.Address) Result

// DoRcpt calls f
func (f RcptFunc) DoRcpt(ctx context.Context, s Session, sender, rcpt mail.Address) Result {
	return f(ctx, s, sender, rcpt)
}

// Name returns the name a hook is logged and counted under
func Name(h interface{}) string {
	if n, ok := h.(interface{ Name() string }); ok {
		return n.Name()
	}
	return fmt.Sprintf("%T", h)
}
