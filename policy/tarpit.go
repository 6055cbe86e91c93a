package policy

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/matoous/hookmta/hook"
	"github.com/matoous/hookmta/mail"
	"github.com/matoous/hookmta/metrics"
)

// Tarpit stalls every recipient over Threshold in a transaction by Timeout
type Tarpit struct {
	Threshold int
	Timeout   time.Duration
	Sleep     func(ctx context.Context, d time.Duration) error
}

// NewTarpit creates the hook with a context aware sleeper
func NewTarpit(threshold int, timeout time.Duration) *Tarpit {
	return &Tarpit{Threshold: threshold, Timeout: timeout, Sleep: sleep}
}

func (t *Tarpit) Name() string {
	return "tarpit"
}

// DoRcpt never decides, it only delays
func (t *Tarpit) DoRcpt(ctx context.Context, s hook.Session, sender, rcpt mail.Address) hook.Result {
	count := s.RecipientCount() + 1
	if count > t.Threshold && t.Timeout > 0 {
		s.Logger().Debug("tarpitting", zap.Int("recipients", count), zap.Duration("delay", t.Timeout))
		metrics.M().TarpitDelays.Inc()
		if err := t.Sleep(ctx, t.Timeout); err != nil {
			s.Logger().Debug("tarpit interrupted", zap.Error(err))
		}
	}
	return hook.DeclinedResult
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
