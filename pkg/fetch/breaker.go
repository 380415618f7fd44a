package fetch

import (
	"log/slog"
	"sync"
	"time"
)

// Breaker holds the reason completions are currently disabled, if any.
// Engage and Clear are idempotent. A timed engagement only clears itself if
// nothing re-engaged or cleared the breaker in the meantime.
type Breaker struct {
	mu     sync.Mutex
	reason string
	timer  *time.Timer
	gen    uint64
	logger *slog.Logger
}

// NewBreaker returns a disengaged breaker.
func NewBreaker(logger *slog.Logger) *Breaker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Breaker{logger: logger}
}

// Engage disables completions until Clear is called.
func (b *Breaker) Engage(reason string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.set(reason)
}

// EngageFor disables completions for d, then clears automatically. It never
// replaces an untimed engagement, which only Clear may lift.
func (b *Breaker) EngageFor(reason string, d time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.reason != "" && b.timer == nil {
		b.logger.Debug("keeping untimed engagement", "reason", b.reason, "ignored", reason)
		return
	}
	gen := b.set(reason)
	b.timer = time.AfterFunc(d, func() { b.expire(gen) })
}

// Clear re-enables completions.
func (b *Breaker) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.reason == "" {
		return
	}
	b.logger.Info("completions re-enabled", "previous_reason", b.reason)
	b.reset()
}

// Reason returns the disabled reason and whether the breaker is engaged.
func (b *Breaker) Reason() (string, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.reason, b.reason != ""
}

// IsEngaged reports whether completions are disabled.
func (b *Breaker) IsEngaged() bool {
	_, ok := b.Reason()
	return ok
}

// Close stops any pending expiry timer.
func (b *Breaker) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.stopTimer()
}

// set must be called with mu held.
func (b *Breaker) set(reason string) uint64 {
	b.stopTimer()
	b.gen++
	if b.reason != reason {
		b.logger.Info("completions disabled", "reason", reason)
	}
	b.reason = reason
	return b.gen
}

func (b *Breaker) expire(gen uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if gen != b.gen || b.reason == "" {
		return
	}
	b.logger.Info("completions re-enabled", "previous_reason", b.reason)
	b.reset()
}

func (b *Breaker) reset() {
	b.stopTimer()
	b.gen++
	b.reason = ""
}

func (b *Breaker) stopTimer() {
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
}
