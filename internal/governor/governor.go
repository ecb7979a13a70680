// Package governor paces mutating platform calls for one session: it enforces
// the rolling hourly window, the effective cap, minimum spacing between
// mutations and a randomized jitter before each call.
package governor

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"

	"group-adder/internal/domain"
)

const (
	defaultMaxPerHour = 20
	defaultMaxPerDay  = 100
	defaultMinDelay   = 15 * time.Second
	defaultMaxDelay   = 45 * time.Second
	defaultWindow     = time.Hour
)

// Limits configures the governor.
type Limits struct {
	MaxPerHour int
	MaxPerDay  int
	MinDelay   time.Duration
	MaxDelay   time.Duration
	Window     time.Duration
}

// DefaultLimits mirrors the production safety limits.
func DefaultLimits() Limits {
	return Limits{
		MaxPerHour: defaultMaxPerHour,
		MaxPerDay:  defaultMaxPerDay,
		MinDelay:   defaultMinDelay,
		MaxDelay:   defaultMaxDelay,
		Window:     defaultWindow,
	}
}

// EffectiveCap is min(hourly, daily) applied against the hourly counter.
func (l Limits) EffectiveCap() int {
	return min(l.MaxPerHour, l.MaxPerDay)
}

// MeanDelay is the expected jitter per mutation, used for time estimates.
func (l Limits) MeanDelay() time.Duration {
	return (l.MinDelay + l.MaxDelay) / 2
}

func (l Limits) validate() error {
	if l.MaxPerHour <= 0 || l.MaxPerDay <= 0 {
		return errors.New("governor: caps must be positive")
	}
	if l.MinDelay < 0 || l.MaxDelay < l.MinDelay {
		return errors.New("governor: delays must satisfy 0 <= min <= max")
	}
	if l.Window <= 0 {
		return errors.New("governor: window must be positive")
	}
	return nil
}

// SleepFunc suspends the caller for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Governor holds no per-session state; counters live in the RateWindow passed to each call.
type Governor struct {
	limits Limits
	now    func() time.Time
	sleep  SleepFunc
	draw   func(lo, hi time.Duration) time.Duration
}

type Option func(*Governor)

func WithClock(now func() time.Time) Option {
	return func(g *Governor) {
		g.now = now
	}
}

func WithSleep(sleep SleepFunc) Option {
	return func(g *Governor) {
		g.sleep = sleep
	}
}

// WithJitterSource replaces the uniform draw in [lo, hi].
func WithJitterSource(draw func(lo, hi time.Duration) time.Duration) Option {
	return func(g *Governor) {
		g.draw = draw
	}
}

func New(limits Limits, opts ...Option) (*Governor, error) {
	if limits.Window == 0 {
		limits.Window = defaultWindow
	}
	if err := limits.validate(); err != nil {
		return nil, err
	}
	g := &Governor{
		limits: limits,
		now:    time.Now,
		sleep:  Sleep,
		draw:   uniform,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

func (g *Governor) Limits() Limits {
	return g.limits
}

// TryAcquire reports whether one more mutation may be attempted. When under the
// cap it waits out the remaining minimum spacing before returning true. It never
// blocks on a full window: it returns false and the caller moves on.
func (g *Governor) TryAcquire(ctx context.Context, w *domain.RateWindow) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	g.roll(w)
	if w.AdditionsCount >= g.limits.EffectiveCap() {
		return false, nil
	}
	if !w.LastMutationAt.IsZero() {
		elapsed := g.now().Sub(w.LastMutationAt)
		if elapsed < g.limits.MinDelay {
			if err := g.sleep(ctx, g.limits.MinDelay-elapsed); err != nil {
				return false, err
			}
		}
	}
	return true, nil
}

// RecordMutation counts a completed mutation attempt against the window.
func (g *Governor) RecordMutation(w *domain.RateWindow) {
	g.roll(w)
	w.AdditionsCount++
	w.LastMutationAt = g.now()
}

// Jitter waits a random duration in [MinDelay, MaxDelay] before a mutating call.
func (g *Governor) Jitter(ctx context.Context) error {
	return g.sleep(ctx, g.draw(g.limits.MinDelay, g.limits.MaxDelay))
}

// Pause waits d, returning early with ctx's error if it is cancelled.
func (g *Governor) Pause(ctx context.Context, d time.Duration) error {
	return g.sleep(ctx, d)
}

func (g *Governor) roll(w *domain.RateWindow) {
	now := g.now()
	if now.Sub(w.WindowStart) > g.limits.Window {
		w.AdditionsCount = 0
		w.WindowStart = now
	}
}

// Sleep is a context-aware time.Sleep.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func uniform(lo, hi time.Duration) time.Duration {
	if hi <= lo {
		return lo
	}
	return lo + rand.N(hi-lo+1)
}
