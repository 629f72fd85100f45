package limiter

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func testGate(ip, agent Limits, global int) *Gate {
	return NewGate(ip, agent, global, NewMemoryCounter())
}

func TestAdmitGrantsAndReleases(t *testing.T) {
	g := testGate(Limits{RPM: 10, DailyLimit: 100, MaxConcurrent: 2}, Limits{}, 1000)

	adm, err := g.Admit(context.Background(), "1.2.3.4", false, 10)
	require.NoError(t, err)
	require.Equal(t, 10, adm.Granted)
	adm.Release()

	used, limit, requests, err := g.Usage(context.Background(), "1.2.3.4", false)
	require.NoError(t, err)
	require.Equal(t, 10, used)
	require.Equal(t, 100, limit)
	require.Equal(t, 1, requests)
}

func TestDailyBudgetPartialGrant(t *testing.T) {
	g := testGate(Limits{RPM: 100, DailyLimit: 100, MaxConcurrent: 5}, Limits{}, 1000)
	ctx := context.Background()

	adm, err := g.Admit(ctx, "ip", false, 90)
	require.NoError(t, err)
	require.Equal(t, 90, adm.Granted)
	adm.Release()

	// Only 10 left in the day: the batch shrinks instead of refusing.
	adm, err = g.Admit(ctx, "ip", false, 50)
	require.NoError(t, err)
	require.Equal(t, 10, adm.Granted)
	adm.Release()

	// Exhausted: refuse with a retry horizon at the next UTC midnight.
	_, err = g.Admit(ctx, "ip", false, 1)
	var lerr *LimitError
	require.True(t, errors.As(err, &lerr))
	require.Equal(t, 429, lerr.StatusCode)
	require.Greater(t, lerr.RetryAfter, time.Duration(0))
	require.LessOrEqual(t, lerr.RetryAfter, 24*time.Hour)
}

func TestDailyBudgetMonotonic(t *testing.T) {
	g := testGate(Limits{RPM: 1000, DailyLimit: 50, MaxConcurrent: 100}, Limits{}, 10000)
	ctx := context.Background()

	total := 0
	for i := 0; i < 10; i++ {
		adm, err := g.Admit(ctx, "ip", false, 7)
		if err != nil {
			break
		}
		total += adm.Granted
		adm.Release()
	}
	require.Equal(t, 50, total, "grants must sum to exactly the daily limit")
}

func TestGlobalCeilingRefusesWholeRequest(t *testing.T) {
	g := testGate(Limits{RPM: 100, DailyLimit: 100, MaxConcurrent: 5}, Limits{}, 10)
	ctx := context.Background()

	adm, err := g.Admit(ctx, "a", false, 8)
	require.NoError(t, err)
	require.Equal(t, 8, adm.Granted)
	adm.Release()

	// Global has 2 left but the identity budget would grant 5: the whole
	// request is refused with 503 and the identity reservation is refunded.
	_, err = g.Admit(ctx, "b", false, 5)
	var lerr *LimitError
	require.True(t, errors.As(err, &lerr))
	require.Equal(t, 503, lerr.StatusCode)

	used, _, _, err := g.Usage(ctx, "b", false)
	require.NoError(t, err)
	require.Equal(t, 0, used, "refused reservation must be refunded")
}

func TestRPMWindowAndBackoff(t *testing.T) {
	g := testGate(Limits{RPM: 2, DailyLimit: 1000, MaxConcurrent: 10}, Limits{}, 10000)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		adm, err := g.Admit(ctx, "ip", false, 1)
		require.NoError(t, err)
		adm.Release()
	}

	// Third request inside the window: first violation, 60s horizon.
	_, err := g.Admit(ctx, "ip", false, 1)
	var lerr *LimitError
	require.True(t, errors.As(err, &lerr))
	require.Equal(t, 429, lerr.StatusCode)
	require.Equal(t, 60*time.Second, lerr.RetryAfter)

	// Violations double the horizon: 120s, 240s, ...
	_, err = g.Admit(ctx, "ip", false, 1)
	require.True(t, errors.As(err, &lerr))
	require.Equal(t, 120*time.Second, lerr.RetryAfter)

	_, err = g.Admit(ctx, "ip", false, 1)
	require.True(t, errors.As(err, &lerr))
	require.Equal(t, 240*time.Second, lerr.RetryAfter)
}

func TestBackoffCapsAtOneHour(t *testing.T) {
	g := testGate(Limits{RPM: 1, DailyLimit: 1000, MaxConcurrent: 10}, Limits{}, 10000)
	ctx := context.Background()

	adm, err := g.Admit(ctx, "ip", false, 1)
	require.NoError(t, err)
	adm.Release()

	var lerr *LimitError
	for i := 0; i < 12; i++ {
		_, err = g.Admit(ctx, "ip", false, 1)
		require.True(t, errors.As(err, &lerr))
	}
	require.Equal(t, 3600*time.Second, lerr.RetryAfter)
}

func TestConcurrencyGateRefusesImmediately(t *testing.T) {
	g := testGate(Limits{RPM: 100, DailyLimit: 1000, MaxConcurrent: 1}, Limits{}, 10000)
	ctx := context.Background()

	adm, err := g.Admit(ctx, "ip", false, 1)
	require.NoError(t, err)

	// Second in-flight request: refused, no retry horizon, budget refunded.
	_, err = g.Admit(ctx, "ip", false, 1)
	var lerr *LimitError
	require.True(t, errors.As(err, &lerr))
	require.Equal(t, 429, lerr.StatusCode)
	require.Equal(t, time.Duration(0), lerr.RetryAfter)

	used, _, _, err := g.Usage(ctx, "ip", false)
	require.NoError(t, err)
	require.Equal(t, 1, used)

	adm.Release()
	adm2, err := g.Admit(ctx, "ip", false, 1)
	require.NoError(t, err)
	adm2.Release()
}

func TestAgentLimitsApply(t *testing.T) {
	g := testGate(
		Limits{RPM: 1, DailyLimit: 10, MaxConcurrent: 1},
		Limits{RPM: 100, DailyLimit: 2000, MaxConcurrent: 5},
		100000,
	)
	ctx := context.Background()

	adm, err := g.Admit(ctx, "agent:u1", true, 500)
	require.NoError(t, err)
	require.Equal(t, 500, adm.Granted)
	adm.Release()

	_, limit, _, err := g.Usage(ctx, "agent:u1", true)
	require.NoError(t, err)
	require.Equal(t, 2000, limit)
}

func TestWindowAllow(t *testing.T) {
	w := NewWindow()
	for i := 0; i < 5; i++ {
		require.True(t, w.Allow("ip", 5))
	}
	require.False(t, w.Allow("ip", 5))
	require.True(t, w.Allow("other", 5), "keys are independent")
}

func TestGateSweepKeepsActiveIdentities(t *testing.T) {
	g := testGate(Limits{RPM: 10, DailyLimit: 100, MaxConcurrent: 2}, Limits{}, 1000)

	adm, err := g.Admit(context.Background(), "busy", false, 1)
	require.NoError(t, err)
	defer adm.Release()

	g.mu.Lock()
	g.idents["busy"].lastSeen = time.Now().Add(-72 * time.Hour)
	g.idents["idle"] = &identityState{lastSeen: time.Now().Add(-72 * time.Hour)}
	g.mu.Unlock()

	g.Sweep()

	g.mu.Lock()
	defer g.mu.Unlock()
	require.Contains(t, g.idents, "busy", "in-flight identities survive the sweep")
	require.NotContains(t, g.idents, "idle")
}
