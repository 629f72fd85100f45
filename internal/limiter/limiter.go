// Package limiter implements the multi-layer admission gates: per-identity
// RPM with exponential backoff for repeat offenders, per-identity and global
// daily email budgets, and a per-identity concurrency cap.
package limiter

import (
	"context"
	"fmt"
	"sync"
	"time"
)

const (
	rpmWindow     = 60 * time.Second
	maxBackoff    = 3600 * time.Second
	identityIdle  = 48 * time.Hour
	globalCounter = "global"
)

// LimitError is returned by Admit when a gate refuses the request. The
// handler maps it straight onto an HTTP status and Retry-After header.
type LimitError struct {
	Reason     string
	RetryAfter time.Duration // zero when retrying has no defined horizon
	StatusCode int           // 429 for identity gates, 503 for the global ceiling
}

func (e *LimitError) Error() string {
	return fmt.Sprintf("admission refused: %s", e.Reason)
}

// Limits bundles the per-identity thresholds. Agents get a more generous set
// than anonymous IPs.
type Limits struct {
	RPM           int
	DailyLimit    int
	MaxConcurrent int
}

type identityState struct {
	windowStart time.Time
	windowCount int
	violations  int
	violationDay time.Time // UTC midnight of the day the violations belong to
	inFlight    int
	requests    int
	requestsDay time.Time
	lastSeen    time.Time
}

// Gate is the admission controller shared by all requests.
type Gate struct {
	ipLimits    Limits
	agentLimits Limits
	globalDaily int
	counter     DailyCounter

	mu     sync.Mutex
	idents map[string]*identityState
}

func NewGate(ipLimits, agentLimits Limits, globalDaily int, counter DailyCounter) *Gate {
	return &Gate{
		ipLimits:    ipLimits,
		agentLimits: agentLimits,
		globalDaily: globalDaily,
		counter:     counter,
		idents:      make(map[string]*identityState),
	}
}

// Admission is a successful pass through every gate. Granted may be lower
// than requested when the daily budget ran short; the caller drops the
// excess addresses. Release must be called exactly once.
type Admission struct {
	Granted int
	release func()
}

func (a *Admission) Release() {
	if a.release != nil {
		a.release()
		a.release = nil
	}
}

// Admit walks the gate layers in order: RPM, daily budget, global ceiling,
// concurrency. The first refusing layer short-circuits with its reason.
func (g *Gate) Admit(ctx context.Context, identity string, isAgent bool, requested int) (*Admission, error) {
	limits := g.ipLimits
	if isAgent {
		limits = g.agentLimits
	}

	if err := g.checkRPM(identity, limits.RPM); err != nil {
		return nil, err
	}

	// Reserve from the identity's daily budget; partial grants shrink the
	// batch rather than refusing it.
	granted, err := g.counter.Reserve(ctx, identityKey(identity), requested, limits.DailyLimit)
	if err != nil {
		return nil, fmt.Errorf("daily counter: %w", err)
	}
	if granted == 0 {
		return nil, &LimitError{
			Reason:     "daily email limit reached",
			RetryAfter: untilMidnightUTC(),
			StatusCode: 429,
		}
	}

	// The global ceiling protects the upstream endpoints from the sum of all
	// identities. Overflow refuses the whole request.
	globalGranted, err := g.counter.Reserve(ctx, globalCounter, granted, g.globalDaily)
	if err != nil {
		g.counter.Release(ctx, identityKey(identity), granted)
		return nil, fmt.Errorf("daily counter: %w", err)
	}
	if globalGranted < granted {
		g.counter.Release(ctx, identityKey(identity), granted)
		g.counter.Release(ctx, globalCounter, globalGranted)
		return nil, &LimitError{
			Reason:     "service daily capacity reached",
			RetryAfter: untilMidnightUTC(),
			StatusCode: 503,
		}
	}

	// Concurrency gate refuses immediately, it never queues.
	if !g.acquireSlot(identity, limits.MaxConcurrent) {
		g.counter.Release(ctx, identityKey(identity), granted)
		g.counter.Release(ctx, globalCounter, granted)
		return nil, &LimitError{
			Reason:     "too many concurrent requests",
			StatusCode: 429,
		}
	}

	g.mu.Lock()
	st := g.ident(identity)
	today := midnightUTC(time.Now())
	if !st.requestsDay.Equal(today) {
		st.requestsDay = today
		st.requests = 0
	}
	st.requests++
	g.mu.Unlock()

	return &Admission{
		Granted: granted,
		release: func() { g.releaseSlot(identity) },
	}, nil
}

// checkRPM enforces the fixed 60-second window. Each refusal increments the
// violation counter, doubling the advertised retry horizon up to an hour.
func (g *Gate) checkRPM(identity string, rpm int) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	st := g.ident(identity)
	now := time.Now()
	today := midnightUTC(now)

	// Violations reset with the daily bucket.
	if !st.violationDay.Equal(today) {
		st.violationDay = today
		st.violations = 0
	}

	if now.Sub(st.windowStart) >= rpmWindow {
		st.windowStart = now
		st.windowCount = 0
	}

	if st.windowCount >= rpm {
		st.violations++
		backoff := rpmWindow << (st.violations - 1)
		if backoff > maxBackoff || backoff <= 0 {
			backoff = maxBackoff
		}
		return &LimitError{
			Reason:     "request rate limit exceeded",
			RetryAfter: backoff,
			StatusCode: 429,
		}
	}

	st.windowCount++
	st.lastSeen = now
	return nil
}

func (g *Gate) acquireSlot(identity string, max int) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	st := g.ident(identity)
	if st.inFlight >= max {
		return false
	}
	st.inFlight++
	return true
}

func (g *Gate) releaseSlot(identity string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if st, ok := g.idents[identity]; ok && st.inFlight > 0 {
		st.inFlight--
	}
}

// Usage reports today's consumption for an identity.
func (g *Gate) Usage(ctx context.Context, identity string, isAgent bool) (used, limit, requests int, err error) {
	limits := g.ipLimits
	if isAgent {
		limits = g.agentLimits
	}
	used, err = g.counter.Used(ctx, identityKey(identity))
	if err != nil {
		return 0, 0, 0, err
	}

	g.mu.Lock()
	if st, ok := g.idents[identity]; ok && st.requestsDay.Equal(midnightUTC(time.Now())) {
		requests = st.requests
	}
	g.mu.Unlock()

	return used, limits.DailyLimit, requests, nil
}

// Sweep drops identity buckets that have been idle long enough for every
// window they track to have expired.
func (g *Gate) Sweep() {
	g.mu.Lock()
	defer g.mu.Unlock()
	cutoff := time.Now().Add(-identityIdle)
	for id, st := range g.idents {
		if st.inFlight == 0 && st.lastSeen.Before(cutoff) {
			delete(g.idents, id)
		}
	}
}

// StartSweep runs Sweep on a timer until ctx is cancelled.
func (g *Gate) StartSweep(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				g.Sweep()
			case <-ctx.Done():
				return
			}
		}
	}()
}

func (g *Gate) ident(identity string) *identityState {
	st, ok := g.idents[identity]
	if !ok {
		st = &identityState{lastSeen: time.Now()}
		g.idents[identity] = st
	}
	return st
}

func identityKey(identity string) string {
	return "id:" + identity
}

func midnightUTC(t time.Time) time.Time {
	return t.UTC().Truncate(24 * time.Hour)
}

func untilMidnightUTC() time.Duration {
	now := time.Now().UTC()
	return midnightUTC(now).Add(24 * time.Hour).Sub(now)
}

// Window is a minimal fixed-window counter used by endpoints that only need
// a plain per-key RPM cap (bounce reports).
type Window struct {
	mu    sync.Mutex
	slots map[string]*windowSlot
}

type windowSlot struct {
	start time.Time
	count int
}

func NewWindow() *Window {
	return &Window{slots: make(map[string]*windowSlot)}
}

// Allow reports whether key may make another call under limit-per-minute.
func (w *Window) Allow(key string, limit int) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := time.Now()
	s, ok := w.slots[key]
	if !ok || now.Sub(s.start) >= rpmWindow {
		w.slots[key] = &windowSlot{start: now, count: 1}
		return true
	}
	if s.count >= limit {
		return false
	}
	s.count++
	return true
}
