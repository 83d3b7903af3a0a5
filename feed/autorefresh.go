package feed

import (
	"context"
	"time"
)

// AutoRefreshStats are point-in-time counters of the auto-refresh loop.
type AutoRefreshStats struct {
	Checks    int64 `json:"checks"`
	Refreshes int64 `json:"refreshes"`
	Errors    int64 `json:"errors"`
}

// AutoRefreshStats returns the loop counters.
func (c *Client) AutoRefreshStats() AutoRefreshStats {
	return AutoRefreshStats{
		Checks:    c.checks.Load(),
		Refreshes: c.refreshes.Load(),
		Errors:    c.refreshErrors.Load(),
	}
}

// RunAutoRefresh blocks until ctx is cancelled, checking every interval
// whether the announced next update has passed. Each announced update
// triggers at most one successful Refresh; a failed Refresh is retried on
// the next tick.
func (c *Client) RunAutoRefresh(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var handled time.Time
	c.logger.Info("feed: auto-refresh started", "interval", interval)
	for {
		select {
		case <-ctx.Done():
			c.logger.Info("feed: auto-refresh stopped")
			return
		case <-ticker.C:
			c.checks.Add(1)
			due, ok := c.refreshDue(handled)
			if !ok {
				continue
			}
			if err := c.Refresh(ctx); err != nil {
				c.refreshErrors.Add(1)
				c.logger.Warn("feed: auto-refresh failed", "next_update", due, "error", err)
				continue
			}
			c.refreshes.Add(1)
			handled = due
		}
	}
}

// refreshDue returns the announced update time when it has passed and was
// not already handled.
func (c *Client) refreshDue(handled time.Time) (time.Time, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if (c.status != StatusReady && c.status != StatusFailed) || c.stats == nil || c.stats.NextUpdate == nil {
		return time.Time{}, false
	}
	due := *c.stats.NextUpdate
	if c.now().Before(due) || due.Equal(handled) {
		return time.Time{}, false
	}
	return due, true
}
