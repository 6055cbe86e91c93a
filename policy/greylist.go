package policy

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/matoous/hookmta/hook"
	"github.com/matoous/hookmta/mail"
	"github.com/matoous/hookmta/metrics"
	"github.com/matoous/hookmta/store"
)

// GreylistConfig holds the greylist time windows
type GreylistConfig struct {
	TempBlockTime         time.Duration // first contacts are deferred for this long
	AutoWhiteListLifeTime time.Duration // records with count > 0 expire after this
	UnseenLifeTime        time.Duration // records with count 0 expire after this
	CleanupProbability    float64       // chance of a cleanup run per evaluation
}

// DefaultGreylistConfig is used by NewGreylist for zero fields
var DefaultGreylistConfig = GreylistConfig{
	TempBlockTime:         time.Hour,
	AutoWhiteListLifeTime: 36 * 24 * time.Hour,
	UnseenLifeTime:        4 * time.Hour,
	CleanupProbability:    0.01,
}

var greylistDeferred = hook.Result{
	Verdict: hook.DenySoft,
	Code:    451,
	Message: "4.7.1 Temporary rejected: Please try again later",
}

/*
Greylist defers the first delivery attempt of every (client IP, sender, recipient) triplet.
Store failures are logged and the hook declines, mail acceptance never depends on the store.
*/
type Greylist struct {
	store store.TripletStore
	cfg   GreylistConfig
	log   *zap.Logger

	Now func() time.Time // clock, time.Now by default

	mu   sync.Mutex
	rand *rand.Rand
}

// NewGreylist creates the hook, zero config fields take the defaults
func NewGreylist(st store.TripletStore, cfg GreylistConfig, log *zap.Logger) *Greylist {
	if cfg.TempBlockTime == 0 {
		cfg.TempBlockTime = DefaultGreylistConfig.TempBlockTime
	}
	if cfg.AutoWhiteListLifeTime == 0 {
		cfg.AutoWhiteListLifeTime = DefaultGreylistConfig.AutoWhiteListLifeTime
	}
	if cfg.UnseenLifeTime == 0 {
		cfg.UnseenLifeTime = DefaultGreylistConfig.UnseenLifeTime
	}
	if cfg.CleanupProbability == 0 {
		cfg.CleanupProbability = DefaultGreylistConfig.CleanupProbability
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Greylist{
		store: st,
		cfg:   cfg,
		log:   log.With(zap.String("hook", "greylist")),
		Now:   time.Now,
		rand:  rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Seed makes the cleanup draws reproducible
func (g *Greylist) Seed(seed int64) {
	g.mu.Lock()
	g.rand = rand.New(rand.NewSource(seed))
	g.mu.Unlock()
}

func (g *Greylist) Name() string {
	return "greylist"
}

func (g *Greylist) DoRcpt(ctx context.Context, s hook.Session, sender, rcpt mail.Address) hook.Result {
	if s.RelayingAllowed() {
		return hook.DeclinedResult
	}
	now := g.Now()
	defer g.maybeCleanup(ctx, now)

	ip, from, to := s.RemoteIP(), sender.Email(), rcpt.Email()
	t, found, err := g.store.Lookup(ctx, ip, from, to)
	if err != nil {
		return g.storeFailed("lookup", err)
	}

	if !found {
		if err := g.store.Insert(ctx, ip, from, to, 0, now); err != nil {
			return g.storeFailed("insert", err)
		}
		g.log.Debug("new triplet deferred", zap.String("ip", ip), zap.String("sender", from), zap.String("rcpt", to))
		return greylistDeferred
	}

	if now.Before(t.CreatedAt.Add(g.cfg.TempBlockTime)) && t.Count == 0 {
		return greylistDeferred
	}

	// the stored count is written back as it is
	if err := g.store.Update(ctx, ip, from, to, t.Count, now); err != nil {
		return g.storeFailed("update", err)
	}
	return hook.DeclinedResult
}

func (g *Greylist) storeFailed(op string, err error) hook.Result {
	g.log.Error("greylist store failed", zap.String("operation", op), zap.Error(err))
	metrics.M().StoreErrors.WithLabelValues(op).Inc()
	return hook.DeclinedResult
}

func (g *Greylist) maybeCleanup(ctx context.Context, now time.Time) {
	g.mu.Lock()
	draw := g.rand.Float64()
	g.mu.Unlock()
	if draw >= g.cfg.CleanupProbability {
		return
	}
	g.log.Debug("greylist cleanup")
	if err := g.store.CleanupAutoWhitelist(ctx, now.Add(-g.cfg.AutoWhiteListLifeTime)); err != nil {
		g.storeFailed("cleanup_auto_whitelist", err)
	}
	if err := g.store.CleanupUnseen(ctx, now.Add(-g.cfg.UnseenLifeTime)); err != nil {
		g.storeFailed("cleanup_unseen", err)
	}
}
