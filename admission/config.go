package admission

// QuotaConfig is loaded once at process start and treated as immutable.
// Concurrency and rate limits of 0 mean the class is disabled: every
// request against a zero limit is denied.
type QuotaConfig struct {
	MaxQueryLength         int
	MaxJoins               int
	MaxWindows             int
	MaxQueryTimeoutMinutes int
	BlockedKeywords        []string

	PerUser PerUserQuota
	Global  GlobalQuota

	SweepIntervalSecs int
	IdleRetentionSecs int
}

type PerUserQuota struct {
	MaxAdHocQueries      int
	MaxPersistentQueries int
	MaxQueriesPerMinute  int
}

type GlobalQuota struct {
	MaxTotalAdHocQueries      int
	MaxTotalPersistentQueries int
}

func (c *QuotaConfig) PreCheck() {
	if c.MaxQueryLength <= 0 {
		c.MaxQueryLength = 10000
	}

	if c.MaxQueryTimeoutMinutes <= 0 {
		c.MaxQueryTimeoutMinutes = 60
	}

	if c.SweepIntervalSecs <= 0 {
		c.SweepIntervalSecs = 60
	}

	if c.IdleRetentionSecs <= 0 {
		c.IdleRetentionSecs = 3600
	}
}
