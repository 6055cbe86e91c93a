package hook

import (
	"context"

	"github.com/go-errors/errors"
	"go.uber.org/zap"

	"github.com/matoous/hookmta/mail"
	"github.com/matoous/hookmta/metrics"
)

// Step names the transaction step hooks are evaluated for
type Step string

const (
	StepConnect Step = "connect"
	StepRcpt    Step = "rcpt"
)

// Call is one hook invocation prepared by the pipeline
type Call struct {
	Name string
	Fn   func() Result
}

/*
Evaluate runs calls in order and returns the first result which is not Declined.
If all hooks decline, the result is DeclinedResult and the caller accepts with its default reply.
A panicking hook is logged and counts as Declined.
*/
func Evaluate(log *zap.Logger, step Step, calls []Call) Result {
	for _, c := range calls {
		res := run(log, step, c)
		metrics.M().HookVerdicts.WithLabelValues(string(step), c.Name, res.Verdict.String()).Inc()
		if res.Terminal() {
			log.Debug("hook decided",
				zap.String("step", string(step)),
				zap.String("hook", c.Name),
				zap.Stringer("result", res),
			)
			return res
		}
	}
	return DeclinedResult
}

func run(log *zap.Logger, step Step, c Call) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			err := errors.Wrap(r, 2)
			log.Error("hook panicked",
				zap.String("step", string(step)),
				zap.String("hook", c.Name),
				zap.String("error", err.Error()),
				zap.String("stack", err.ErrorStack()),
			)
			res = DeclinedResult
		}
	}()
	return c.Fn()
}

// Pipeline holds the hooks of every step, it is built before serving and read-only afterwards
type Pipeline struct {
	connect []ConnectHook
	rcpt    []RcptHook
}

// NewPipeline creates an empty pipeline
func NewPipeline() *Pipeline {
	return &Pipeline{}
}

// OnConnect appends connect hooks
func (p *Pipeline) OnConnect(h ...ConnectHook) *Pipeline {
	p.connect = append(p.connect, h...)
	return p
}

// OnRcpt appends recipient hooks
func (p *Pipeline) OnRcpt(h ...RcptHook) *Pipeline {
	p.rcpt = append(p.rcpt, h...)
	return p
}

// Connect evaluates the connect hooks
func (p *Pipeline) Connect(ctx context.Context, s Session) Result {
	calls := make([]Call, len(p.connect))
	for i, h := range p.connect {
		h := h
		calls[i] = Call{Name: Name(h), Fn: func() Result { return h.DoConnect(ctx, s) }}
	}
	return Evaluate(s.Logger(), StepConnect, calls)
}

// Rcpt evaluates the recipient hooks for rcpt
func (p *Pipeline) Rcpt(ctx context.Context, s Session, sender, rcpt mail.Address) Result {
	calls := make([]Call, len(p.rcpt))
	for i, h := range p.rcpt {
		h := h
		calls[i] = Call{Name: Name(h), Fn: func() Result { return h.DoRcpt(ctx, s, sender, rcpt) }}
	}
	return Evaluate(s.Logger(), StepRcpt, calls)
}
