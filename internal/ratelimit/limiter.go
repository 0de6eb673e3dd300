// Package ratelimit enforces a per-sender fixed-window quota backed by
// an atomic counter-with-expiry store.
package ratelimit

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/civictext/permitbot/internal/pipeline"
)

// Config holds limiter knobs.
type Config struct {
	// HourlyQuota is the number of commands a sender may issue per
	// window. Zero or negative disables limiting.
	HourlyQuota int

	// Window is the fixed (not sliding) quota window.
	Window time.Duration

	// KeyPrefix namespaces counter keys in a shared store.
	KeyPrefix string
}

// Limiter tracks per-sender quotas. It fails open: when the counter
// store is unreachable, commands are allowed and increments are
// dropped, trading quota precision for SMS-channel availability.
type Limiter struct {
	store  pipeline.CounterStore
	clock  pipeline.Clock
	cfg    Config
	logger *zap.Logger
}

// New constructs a Limiter.
func New(store pipeline.CounterStore, clock pipeline.Clock, cfg Config, logger *zap.Logger) *Limiter {
	if cfg.Window <= 0 {
		cfg.Window = time.Hour
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "quota"
	}
	return &Limiter{
		store:  store,
		clock:  clock,
		cfg:    cfg,
		logger: logger,
	}
}

// CheckAllowed reports whether the sender has quota left in the
// current window.
func (l *Limiter) CheckAllowed(ctx context.Context, phone string) bool {
	if l.cfg.HourlyQuota <= 0 {
		return true
	}
	count, err := l.store.Get(ctx, l.key(phone))
	if err != nil {
		l.logger.Warn("rate limit check failed, failing open",
			zap.String("phone", phone),
			zap.Error(err),
		)
		return true
	}
	return count < int64(l.cfg.HourlyQuota)
}

// RecordAction counts one command against the sender. The increment
// and the conditional expiry run as a single store round trip so a
// counter can never be created without a TTL.
func (l *Limiter) RecordAction(ctx context.Context, phone string) {
	if l.cfg.HourlyQuota <= 0 {
		return
	}
	if _, err := l.store.IncrWithTTL(ctx, l.key(phone), l.cfg.Window); err != nil {
		l.logger.Warn("rate limit increment failed, dropping",
			zap.String("phone", phone),
			zap.Error(err),
		)
	}
}

// Status reports the sender's position in the current window. ResetAt
// is nil when the store has no TTL for the key or is unreachable.
func (l *Limiter) Status(ctx context.Context, phone string) pipeline.QuotaStatus {
	st := pipeline.QuotaStatus{Limit: l.cfg.HourlyQuota, Remaining: l.cfg.HourlyQuota}
	count, err := l.store.Get(ctx, l.key(phone))
	if err != nil {
		return st
	}
	st.Count = int(count)
	st.Remaining = max(l.cfg.HourlyQuota-st.Count, 0)
	if ttl, err := l.store.TTL(ctx, l.key(phone)); err == nil && ttl > 0 {
		resetAt := l.clock.Now().Add(ttl)
		st.ResetAt = &resetAt
	}
	return st
}

func (l *Limiter) key(phone string) string {
	return l.cfg.KeyPrefix + ":" + pipeline.NormalizePhone(phone)
}
