package cache

import (
	"time"

	"github.com/tracekit/pagetransit/internal/models"
)

// PageVisitTimes records the start time and privacy flag of every live page,
// anywhere in the browser. Maintenance keeps the globally most-recent page
// and the most-recent non-private page regardless of age.
type PageVisitTimes struct {
	inner *Expiring[string, models.PageVisit]
}

// NewPageVisitTimes builds the cache with the given staleness threshold.
func NewPageVisitTimes(expiry time.Duration) *PageVisitTimes {
	return &PageVisitTimes{
		inner: NewExpiring[string](expiry, func(v models.PageVisit) int64 { return v.StartTime }),
	}
}

// Record inserts a page visit. The URL is stored normalized.
func (c *PageVisitTimes) Record(v models.PageVisit) {
	v.URL = models.NormalizeURL(v.URL)
	c.inner.Put(v.PageID, v)
}

// Get returns the visit for pageID, if still cached.
func (c *PageVisitTimes) Get(pageID string) (models.PageVisit, bool) {
	return c.inner.Get(pageID)
}

// Snapshot copies all live visits for inclusion in a merge packet.
func (c *PageVisitTimes) Snapshot() []models.PageVisit {
	return c.inner.Values()
}

// Len returns the number of live visits.
func (c *PageVisitTimes) Len() int {
	return c.inner.Len()
}

// Maintain discards stale visits, always retaining the most-recent visit and
// the most-recent non-private visit.
func (c *PageVisitTimes) Maintain(now int64) {
	c.inner.Maintain(now,
		func(models.PageVisit) bool { return true },
		func(v models.PageVisit) bool { return !v.PrivateWindow },
	)
}
