package admission

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/toolkits/pkg/logger"
)

// Decision is the result of one slot request. Reasons are user-displayable
// and distinguish capacity denials from rate denials.
type Decision struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
}

var granted = Decision{Allowed: true}

// userState tracks one identity. All fields are guarded by the embedded
// mutex; the controller never holds two users' locks at once.
type userState struct {
	sync.Mutex
	swept            bool
	activeAdHoc      int
	activePersistent int
	submissions      []time.Time
	lastActivity     time.Time
}

// pruneSubmissions drops timestamps older than the rolling minute. Assumes
// a monotonic wall clock: a clock rewind can under-count recent
// submissions, which is accepted rather than corrected for.
func (st *userState) pruneSubmissions(now time.Time) {
	cutoff := now.Add(-time.Minute)
	kept := st.submissions[:0]
	for _, ts := range st.submissions {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	st.submissions = kept
}

// Controller is the admission gate in front of the query engine. It
// enforces per-user and global concurrency ceilings plus a per-user
// rolling-minute submission rate, fail-fast: requests beyond capacity are
// denied immediately, never queued.
//
// Construct one instance with New and pass the handle around; there is no
// package-level singleton.
type Controller struct {
	cfg QuotaConfig

	mu    sync.RWMutex
	users map[string]*userState

	// mutated with atomic add independent of any per-user lock
	adhocTotal      atomic.Int64
	persistentTotal atomic.Int64

	now    func() time.Time
	cancel context.CancelFunc
}

func New(cfg QuotaConfig) *Controller {
	cfg.PreCheck()

	ctx, cancel := context.WithCancel(context.Background())
	c := &Controller{
		cfg:    cfg,
		users:  make(map[string]*userState),
		now:    time.Now,
		cancel: cancel,
	}

	go c.sweepLoop(ctx)
	return c
}

// Close stops the idle-state sweep goroutine.
func (c *Controller) Close() {
	c.cancel()
}

func (c *Controller) getOrCreate(user string) *userState {
	c.mu.RLock()
	st, ok := c.users[user]
	c.mu.RUnlock()
	if ok {
		return st
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if st, ok = c.users[user]; ok {
		return st
	}
	st = &userState{lastActivity: c.now()}
	c.users[user] = st
	return st
}

// lockLive returns the user's state with its lock held. The sweeper can
// remove an idle entry between the map lookup and the lock; granting
// against such an orphan would bump a counter no release can ever find
// again, so a state marked swept is discarded and the lookup retried.
func (c *Controller) lockLive(user string) *userState {
	for {
		st := c.getOrCreate(user)
		st.Lock()
		if !st.swept {
			return st
		}
		st.Unlock()
	}
}

// RequestAdHocSlot grants or denies one ad-hoc admission slot. On grant the
// returned Slot releases the slot exactly once, on whichever exit path of
// the query's lifetime calls Release first.
func (c *Controller) RequestAdHocSlot(user string) (*Slot, Decision) {
	st := c.lockLive(user)
	defer st.Unlock()

	// reserve the global slot up front and hand it back on denial, so
	// concurrent requests at the ceiling cannot overshoot it
	if c.adhocTotal.Add(1) > int64(c.cfg.Global.MaxTotalAdHocQueries) {
		c.adhocTotal.Add(-1)
		return nil, Decision{Reason: "the system is at capacity for ad-hoc queries, please try again later"}
	}

	if st.activeAdHoc >= c.cfg.PerUser.MaxAdHocQueries {
		c.adhocTotal.Add(-1)
		return nil, Decision{Reason: fmt.Sprintf("you have reached the maximum of %d concurrent queries, please stop an existing query first", c.cfg.PerUser.MaxAdHocQueries)}
	}

	now := c.now()
	st.pruneSubmissions(now)
	if len(st.submissions) >= c.cfg.PerUser.MaxQueriesPerMinute {
		c.adhocTotal.Add(-1)
		return nil, Decision{Reason: fmt.Sprintf("rate limit exceeded: at most %d queries per minute are allowed", c.cfg.PerUser.MaxQueriesPerMinute)}
	}

	st.activeAdHoc++
	st.submissions = append(st.submissions, now)
	st.lastActivity = now

	return newSlot(func() { c.ReleaseAdHocSlot(user) }), granted
}

// RequestPersistentSlot grants or denies one persistent admission slot.
// Persistent creation is assumed rarer and heavier, so it is gated purely
// by concurrency ceilings, with no rate-window check.
func (c *Controller) RequestPersistentSlot(user string) (*Slot, Decision) {
	st := c.lockLive(user)
	defer st.Unlock()

	if c.persistentTotal.Add(1) > int64(c.cfg.Global.MaxTotalPersistentQueries) {
		c.persistentTotal.Add(-1)
		return nil, Decision{Reason: "the system is at capacity for persistent queries, please try again later"}
	}

	if st.activePersistent >= c.cfg.PerUser.MaxPersistentQueries {
		c.persistentTotal.Add(-1)
		return nil, Decision{Reason: fmt.Sprintf("you have reached the maximum of %d persistent queries, please terminate an existing one first", c.cfg.PerUser.MaxPersistentQueries)}
	}

	st.activePersistent++
	st.lastActivity = c.now()

	return newSlot(func() { c.ReleasePersistentSlot(user) }), granted
}

// ReleaseAdHocSlot returns one ad-hoc slot. Calling it for an unknown user
// or a user with no active queries is a no-op: the count never underflows
// and the global counter is left untouched.
func (c *Controller) ReleaseAdHocSlot(user string) {
	c.mu.RLock()
	st, ok := c.users[user]
	c.mu.RUnlock()
	if !ok {
		logger.Warningf("release of ad-hoc slot for untracked user %s", user)
		return
	}

	st.Lock()
	defer st.Unlock()
	if st.activeAdHoc > 0 {
		st.activeAdHoc--
		c.adhocTotal.Add(-1)
	} else {
		logger.Warningf("release of ad-hoc slot for user %s with no active queries", user)
	}
	st.lastActivity = c.now()
}

// ReleasePersistentSlot returns one persistent slot, with the same
// no-underflow guarantees as ReleaseAdHocSlot.
func (c *Controller) ReleasePersistentSlot(user string) {
	c.mu.RLock()
	st, ok := c.users[user]
	c.mu.RUnlock()
	if !ok {
		logger.Warningf("release of persistent slot for untracked user %s", user)
		return
	}

	st.Lock()
	defer st.Unlock()
	if st.activePersistent > 0 {
		st.activePersistent--
		c.persistentTotal.Add(-1)
	} else {
		logger.Warningf("release of persistent slot for user %s with no active queries", user)
	}
	st.lastActivity = c.now()
}

// LimitsInfo is a monitoring snapshot. The user-scoped fields are read
// under the user's lock; the global fields may be momentarily stale.
type LimitsInfo struct {
	ActiveAdHoc          int `json:"active_adhoc"`
	ActivePersistent     int `json:"active_persistent"`
	RecentSubmissions    int `json:"recent_submissions"`
	MaxAdHocQueries      int `json:"max_adhoc_queries"`
	MaxPersistentQueries int `json:"max_persistent_queries"`
	MaxQueriesPerMinute  int `json:"max_queries_per_minute"`

	GlobalActiveAdHoc      int64 `json:"global_active_adhoc"`
	GlobalActivePersistent int64 `json:"global_active_persistent"`
	GlobalMaxAdHoc         int   `json:"global_max_adhoc"`
	GlobalMaxPersistent    int   `json:"global_max_persistent"`
}

func (c *Controller) LimitsSnapshot(user string) LimitsInfo {
	info := LimitsInfo{
		MaxAdHocQueries:      c.cfg.PerUser.MaxAdHocQueries,
		MaxPersistentQueries: c.cfg.PerUser.MaxPersistentQueries,
		MaxQueriesPerMinute:  c.cfg.PerUser.MaxQueriesPerMinute,
		GlobalMaxAdHoc:       c.cfg.Global.MaxTotalAdHocQueries,
		GlobalMaxPersistent:  c.cfg.Global.MaxTotalPersistentQueries,
	}

	c.mu.RLock()
	st, ok := c.users[user]
	c.mu.RUnlock()

	if ok {
		st.Lock()
		st.pruneSubmissions(c.now())
		info.ActiveAdHoc = st.activeAdHoc
		info.ActivePersistent = st.activePersistent
		info.RecentSubmissions = len(st.submissions)
		st.Unlock()
	}

	info.GlobalActiveAdHoc = c.adhocTotal.Load()
	info.GlobalActivePersistent = c.persistentTotal.Load()
	return info
}

func (c *Controller) sweepLoop(ctx context.Context) {
	ticker := time.NewTicker(time.Duration(c.cfg.SweepIntervalSecs) * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.sweep()
		}
	}
}

// sweep removes entries that are idle past the retention window and hold
// no active slots. Grants and releases refresh lastActivity, so an entry
// with live slots is never eligible. A removed entry is marked swept under
// its own lock, which keeps a request that fetched its pointer before the
// removal from granting against it; a swept entry's counts stay zero
// forever.
func (c *Controller) sweep() {
	cutoff := c.now().Add(-time.Duration(c.cfg.IdleRetentionSecs) * time.Second)

	c.mu.Lock()
	defer c.mu.Unlock()
	for user, st := range c.users {
		st.Lock()
		if st.activeAdHoc == 0 && st.activePersistent == 0 && st.lastActivity.Before(cutoff) {
			st.swept = true
			delete(c.users, user)
		}
		st.Unlock()
	}
}
