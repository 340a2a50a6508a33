package admission

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testController(cfg QuotaConfig) *Controller {
	c := New(cfg)
	c.Close() // tests drive sweep() directly
	return c
}

func limiterConfig() QuotaConfig {
	return QuotaConfig{
		PerUser: PerUserQuota{
			MaxAdHocQueries:      2,
			MaxPersistentQueries: 2,
			MaxQueriesPerMinute:  10,
		},
		Global: GlobalQuota{
			MaxTotalAdHocQueries:      100,
			MaxTotalPersistentQueries: 100,
		},
	}
}

func TestPerUserCeilingIndependentOfGlobalHeadroom(t *testing.T) {
	c := testController(limiterConfig())

	s1, d1 := c.RequestAdHocSlot("alice")
	require.True(t, d1.Allowed)
	s2, d2 := c.RequestAdHocSlot("alice")
	require.True(t, d2.Allowed)

	// only 2 of 100 global slots used, the per-user ceiling still applies
	s3, d3 := c.RequestAdHocSlot("alice")
	assert.Nil(t, s3)
	assert.False(t, d3.Allowed)
	assert.Equal(t, "you have reached the maximum of 2 concurrent queries, please stop an existing query first", d3.Reason)

	// a different identity is unaffected
	s4, d4 := c.RequestAdHocSlot("bob")
	require.True(t, d4.Allowed)

	s1.Release()
	s2.Release()
	s4.Release()
	assert.Equal(t, int64(0), c.adhocTotal.Load())
}

func TestGlobalCapacityFailFast(t *testing.T) {
	cfg := limiterConfig()
	cfg.PerUser.MaxAdHocQueries = 10
	cfg.Global.MaxTotalAdHocQueries = 3
	c := testController(cfg)

	slots := make([]*Slot, 0, 3)
	for i := 0; i < 3; i++ {
		s, d := c.RequestAdHocSlot("alice")
		require.True(t, d.Allowed)
		slots = append(slots, s)
	}

	// the 4th request is denied for any user
	_, d := c.RequestAdHocSlot("bob")
	assert.False(t, d.Allowed)
	assert.Equal(t, "the system is at capacity for ad-hoc queries, please try again later", d.Reason)

	// granting resumes after exactly one release
	slots[0].Release()
	s, d := c.RequestAdHocSlot("bob")
	require.True(t, d.Allowed)

	s.Release()
	slots[1].Release()
	slots[2].Release()
}

func TestReleaseIsIdempotentAndNeverUnderflows(t *testing.T) {
	c := testController(limiterConfig())

	// release for a user that never requested anything
	c.ReleaseAdHocSlot("ghost")
	assert.Equal(t, int64(0), c.adhocTotal.Load())

	s, d := c.RequestAdHocSlot("alice")
	require.True(t, d.Allowed)

	s.Release()
	s.Release()
	s.Release()
	assert.Equal(t, int64(0), c.adhocTotal.Load())

	// direct release beyond the granted count is a no-op
	c.ReleaseAdHocSlot("alice")
	assert.Equal(t, int64(0), c.adhocTotal.Load())

	c.mu.RLock()
	st := c.users["alice"]
	c.mu.RUnlock()
	assert.Equal(t, 0, st.activeAdHoc)
}

func TestGlobalCounterConservation(t *testing.T) {
	c := testController(limiterConfig())

	users := []string{"a", "b", "c", "d"}
	var wg sync.WaitGroup
	for _, u := range users {
		for i := 0; i < 2; i++ {
			wg.Add(1)
			go func(u string) {
				defer wg.Done()
				s, d := c.RequestAdHocSlot(u)
				if d.Allowed {
					defer s.Release()
				}
			}(u)
		}
	}
	wg.Wait()

	// all slots released, the global counter matches the per-user sum (0)
	sum := 0
	c.mu.RLock()
	for _, st := range c.users {
		sum += st.activeAdHoc
	}
	c.mu.RUnlock()
	assert.Equal(t, 0, sum)
	assert.Equal(t, int64(0), c.adhocTotal.Load())
}

func TestRateWindowExpiry(t *testing.T) {
	cfg := limiterConfig()
	cfg.PerUser.MaxAdHocQueries = 10
	cfg.PerUser.MaxQueriesPerMinute = 3
	c := testController(cfg)

	base := time.Now()
	c.now = func() time.Time { return base }

	for i := 0; i < 3; i++ {
		s, d := c.RequestAdHocSlot("alice")
		require.True(t, d.Allowed)
		s.Release()
	}

	_, d := c.RequestAdHocSlot("alice")
	assert.False(t, d.Allowed)
	assert.Equal(t, "rate limit exceeded: at most 3 queries per minute are allowed", d.Reason)

	// once the oldest timestamp ages past 60s the request is granted again
	c.now = func() time.Time { return base.Add(61 * time.Second) }
	s, d := c.RequestAdHocSlot("alice")
	require.True(t, d.Allowed)
	s.Release()
}

func TestPersistentSlotsSkipRateWindow(t *testing.T) {
	cfg := limiterConfig()
	cfg.PerUser.MaxQueriesPerMinute = 1
	cfg.PerUser.MaxPersistentQueries = 5
	c := testController(cfg)

	// the rate window applies to ad-hoc submissions only
	for i := 0; i < 5; i++ {
		_, d := c.RequestPersistentSlot("alice")
		require.True(t, d.Allowed)
	}

	_, d := c.RequestPersistentSlot("alice")
	assert.False(t, d.Allowed)
	assert.Equal(t, "you have reached the maximum of 5 persistent queries, please terminate an existing one first", d.Reason)
}

func TestZeroLimitDisablesClass(t *testing.T) {
	cfg := limiterConfig()
	cfg.Global.MaxTotalAdHocQueries = 0
	c := testController(cfg)

	_, d := c.RequestAdHocSlot("alice")
	assert.False(t, d.Allowed)
	assert.Equal(t, "the system is at capacity for ad-hoc queries, please try again later", d.Reason)
}

func TestIdleSweep(t *testing.T) {
	c := testController(limiterConfig())

	base := time.Now()
	c.now = func() time.Time { return base }

	sActive, d := c.RequestAdHocSlot("busy")
	require.True(t, d.Allowed)

	sIdle, d := c.RequestAdHocSlot("idle")
	require.True(t, d.Allowed)
	sIdle.Release()

	// both entries are stale, but busy still holds a slot
	c.now = func() time.Time { return base.Add(2 * time.Hour) }
	c.sweep()

	c.mu.RLock()
	_, busyTracked := c.users["busy"]
	_, idleTracked := c.users["idle"]
	c.mu.RUnlock()
	assert.True(t, busyTracked)
	assert.False(t, idleTracked)

	// releasing after the holder's entry survived still balances the books
	sActive.Release()
	assert.Equal(t, int64(0), c.adhocTotal.Load())

	// a release after the entry was swept is a silent no-op
	c.ReleaseAdHocSlot("idle")
	assert.Equal(t, int64(0), c.adhocTotal.Load())
}

func TestSweptEntryNeverGranted(t *testing.T) {
	c := testController(limiterConfig())

	base := time.Now()
	c.now = func() time.Time { return base }

	// a request fetched this pointer, then the sweeper removed the entry
	// before the request could lock it
	stale := c.getOrCreate("carol")
	c.now = func() time.Time { return base.Add(2 * time.Hour) }
	c.sweep()

	stale.Lock()
	swept := stale.swept
	stale.Unlock()
	require.True(t, swept)

	// the grant path must land on a live replacement, not the orphan
	live := c.lockLive("carol")
	assert.NotSame(t, stale, live)
	assert.False(t, live.swept)
	live.Unlock()

	s, d := c.RequestAdHocSlot("carol")
	require.True(t, d.Allowed)
	assert.Equal(t, 0, stale.activeAdHoc)
	s.Release()
	assert.Equal(t, int64(0), c.adhocTotal.Load())
}

func TestConservationUnderSweepPressure(t *testing.T) {
	cfg := limiterConfig()
	cfg.PerUser.MaxAdHocQueries = 4
	cfg.PerUser.MaxQueriesPerMinute = 100000
	cfg.Global.MaxTotalAdHocQueries = 16
	c := testController(cfg)

	// every call advances the clock by an hour, so any entry with zero
	// counts is immediately eligible for the concurrent sweeps below
	base := time.Now()
	var tick atomic.Int64
	c.now = func() time.Time { return base.Add(time.Duration(tick.Add(1)) * time.Hour) }

	users := []string{"u1", "u2", "u3", "u4"}
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				if s, d := c.RequestAdHocSlot(users[g%len(users)]); d.Allowed {
					s.Release()
				}
			}
		}(g)
	}
	for g := 0; g < 2; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 300; i++ {
				c.sweep()
			}
		}()
	}
	wg.Wait()

	// every grant was released, so nothing may linger in the global count
	sum := 0
	c.mu.RLock()
	for _, st := range c.users {
		sum += st.activeAdHoc
	}
	c.mu.RUnlock()
	assert.Equal(t, 0, sum)
	assert.Equal(t, int64(0), c.adhocTotal.Load())
}

func TestGlobalCeilingExactUnderContention(t *testing.T) {
	cfg := limiterConfig()
	cfg.PerUser.MaxAdHocQueries = 100
	cfg.PerUser.MaxQueriesPerMinute = 100000
	cfg.Global.MaxTotalAdHocQueries = 8
	c := testController(cfg)

	var wg sync.WaitGroup
	var held sync.Mutex
	var slots []*Slot
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if s, d := c.RequestAdHocSlot(fmt.Sprintf("u%d", i)); d.Allowed {
				held.Lock()
				slots = append(slots, s)
				held.Unlock()
			}
		}(i)
	}
	wg.Wait()

	// never more grants than the ceiling, no matter how many users raced
	assert.LessOrEqual(t, c.adhocTotal.Load(), int64(8))
	assert.Equal(t, int64(len(slots)), c.adhocTotal.Load())

	for _, s := range slots {
		s.Release()
	}
	assert.Equal(t, int64(0), c.adhocTotal.Load())
}

func TestLimitsSnapshot(t *testing.T) {
	c := testController(limiterConfig())

	s1, d := c.RequestAdHocSlot("alice")
	require.True(t, d.Allowed)
	s2, d := c.RequestPersistentSlot("alice")
	require.True(t, d.Allowed)

	info := c.LimitsSnapshot("alice")
	assert.Equal(t, 1, info.ActiveAdHoc)
	assert.Equal(t, 1, info.ActivePersistent)
	assert.Equal(t, 1, info.RecentSubmissions)
	assert.Equal(t, 2, info.MaxAdHocQueries)
	assert.Equal(t, int64(1), info.GlobalActiveAdHoc)
	assert.Equal(t, int64(1), info.GlobalActivePersistent)
	assert.Equal(t, 100, info.GlobalMaxAdHoc)

	// unknown users get zero counts against the configured maxima
	info = c.LimitsSnapshot("stranger")
	assert.Equal(t, 0, info.ActiveAdHoc)
	assert.Equal(t, 2, info.MaxAdHocQueries)

	s1.Release()
	s2.Release()
}

func TestConcurrentAcquireRelease(t *testing.T) {
	cfg := limiterConfig()
	cfg.PerUser.MaxAdHocQueries = 4
	cfg.PerUser.MaxQueriesPerMinute = 100000
	cfg.Global.MaxTotalAdHocQueries = 16
	c := testController(cfg)

	var wg sync.WaitGroup
	users := []string{"u1", "u2", "u3", "u4"}
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s, d := c.RequestAdHocSlot(users[i%len(users)])
			if d.Allowed {
				s.Release()
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int64(0), c.adhocTotal.Load())
	for _, u := range users {
		info := c.LimitsSnapshot(u)
		assert.Equal(t, 0, info.ActiveAdHoc)
	}
}
