package cache

import "github.com/tracekit/pagetransit/internal/models"

// Commits holds at most one navigation-committed evidence entry per tab,
// awaiting confirmation by the tab's next content-loaded signal.
type Commits struct {
	entries map[int64]models.CommitEvidence
}

// NewCommits builds an empty commit-evidence cache.
func NewCommits() *Commits {
	return &Commits{entries: make(map[int64]models.CommitEvidence)}
}

// Record stores evidence for a tab, overwriting any prior entry. Callers are
// responsible for top-frame filtering.
func (c *Commits) Record(tabID int64, ev models.CommitEvidence) {
	ev.URL = models.NormalizeURL(ev.URL)
	c.entries[tabID] = ev
}

// Consume deletes the tab's evidence and returns it if its URL matches the
// loaded URL. A mismatch means a second navigation committed before the first
// load's content-loaded arrived; the stale evidence is discarded and no
// transition should be emitted for the mismatched load.
func (c *Commits) Consume(tabID int64, loadedURL string) (models.CommitEvidence, bool) {
	ev, ok := c.entries[tabID]
	if !ok {
		return models.CommitEvidence{}, false
	}
	delete(c.entries, tabID)
	if ev.URL != models.NormalizeURL(loadedURL) {
		return models.CommitEvidence{}, false
	}
	return ev, true
}

// Len returns the number of tabs with pending evidence.
func (c *Commits) Len() int {
	return len(c.entries)
}
