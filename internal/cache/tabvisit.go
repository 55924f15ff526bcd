package cache

import (
	"time"

	"github.com/tracekit/pagetransit/internal/models"
)

// TabVisits tracks, per tab, every page recently loaded in that tab together
// with the click evidence gathered on it. A pageID index lets click batches
// (which carry no tab id) find their record.
type TabVisits struct {
	expiry      time.Duration
	clickWindow int64
	tabs        map[int64]*Expiring[string, *models.TabPage]
	index       map[string]int64 // pageID -> tabID
}

// NewTabVisits builds the cache. expiry is the per-tab staleness threshold
// (longer than the page-visit cache's); clickWindow bounds click recency.
func NewTabVisits(expiry, clickWindow time.Duration) *TabVisits {
	return &TabVisits{
		expiry:      expiry,
		clickWindow: clickWindow.Milliseconds(),
		tabs:        make(map[int64]*Expiring[string, *models.TabPage]),
		index:       make(map[string]int64),
	}
}

// Record inserts a fresh page record (empty click list) into a tab's mapping.
func (c *TabVisits) Record(tabID int64, v models.PageVisit) {
	v.URL = models.NormalizeURL(v.URL)
	tab, ok := c.tabs[tabID]
	if !ok {
		tab = NewExpiring[string](c.expiry, func(p *models.TabPage) int64 { return p.StartTime })
		c.tabs[tabID] = tab
	}
	tab.Put(v.PageID, &models.TabPage{PageVisit: v})
	c.index[v.PageID] = tabID
}

// AddClicks appends click timestamps to the page's record. Returns false if
// the page has already expired from its tab mapping.
func (c *TabVisits) AddClicks(pageID string, stamps []int64) bool {
	tabID, ok := c.index[pageID]
	if !ok {
		return false
	}
	tab, ok := c.tabs[tabID]
	if !ok {
		return false
	}
	page, ok := tab.Get(pageID)
	if !ok {
		return false
	}
	page.ClickTimes = append(page.ClickTimes, stamps...)
	return true
}

// Snapshot deep-copies a tab's mapping for inclusion in a merge packet.
func (c *TabVisits) Snapshot(tabID int64) []models.TabPage {
	tab, ok := c.tabs[tabID]
	if !ok {
		return nil
	}
	out := make([]models.TabPage, 0, tab.Len())
	tab.Range(func(_ string, p *models.TabPage) bool {
		cp := *p
		cp.ClickTimes = append([]int64(nil), p.ClickTimes...)
		out = append(out, cp)
		return true
	})
	return out
}

// Maintain discards the tab's stale pages (the most recent always survives)
// and prunes each surviving page's clicks to the recency window, keeping the
// single most recent click even when stale.
func (c *TabVisits) Maintain(tabID int64, now int64) {
	tab, ok := c.tabs[tabID]
	if !ok {
		return
	}
	for _, pageID := range tab.Maintain(now) {
		delete(c.index, pageID)
	}
	if tab.Len() == 0 {
		delete(c.tabs, tabID)
		return
	}
	tab.Range(func(_ string, p *models.TabPage) bool {
		p.ClickTimes = pruneClicks(p.ClickTimes, now, c.clickWindow)
		return true
	})
}

// RemoveTab drops a tab's whole mapping, after the removal grace period.
func (c *TabVisits) RemoveTab(tabID int64) {
	tab, ok := c.tabs[tabID]
	if !ok {
		return
	}
	tab.Range(func(pageID string, _ *models.TabPage) bool {
		delete(c.index, pageID)
		return true
	})
	delete(c.tabs, tabID)
}

func pruneClicks(stamps []int64, now, window int64) []int64 {
	if len(stamps) == 0 {
		return stamps
	}
	newest := stamps[0]
	for _, s := range stamps[1:] {
		if s > newest {
			newest = s
		}
	}
	kept := stamps[:0]
	for _, s := range stamps {
		if now-s <= window {
			kept = append(kept, s)
		}
	}
	// "did the user ever click" must survive longer than raw timestamps
	if len(kept) == 0 {
		kept = append(kept, newest)
	}
	return kept
}
