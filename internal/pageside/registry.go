package pageside

import (
	"context"

	"github.com/tracekit/pagetransit/internal/models"
)

type currentPage struct {
	pageID   string
	url      string
	referrer string
	private  bool
}

// Registry is the in-process page-side counterpart. It tracks the identity of
// the page currently loaded in each tab and performs the final merge: the
// identity check against the packet, selection of the tab-source and
// time-source pages from the packaged pools, and referrer attachment.
//
// Like the correlator's caches it is driven from the single event-loop
// goroutine and needs no locking.
type Registry struct {
	pages map[int64]*currentPage
}

// NewRegistry builds an empty registry.
func NewRegistry() *Registry {
	return &Registry{pages: make(map[int64]*currentPage)}
}

// SetCurrentPage installs a tab's current page identity. Called on
// visit-start; the referrer arrives separately via SetReferrer.
func (g *Registry) SetCurrentPage(tabID int64, pageID, url string, private bool) {
	g.pages[tabID] = &currentPage{
		pageID:  pageID,
		url:     models.NormalizeURL(url),
		private: private,
	}
}

// SetReferrer attaches the locally observed referrer once page-side code has
// reported its identity. Ignored if the tab has since moved to another page.
func (g *Registry) SetReferrer(tabID int64, pageID, referrer string) {
	if cur, ok := g.pages[tabID]; ok && cur.pageID == pageID {
		cur.referrer = referrer
	}
}

// DropTab forgets a closed tab's page identity.
func (g *Registry) DropTab(tabID int64) {
	delete(g.pages, tabID)
}

// RequestMerge implements Channel. The packet is rejected when the tab has no
// current page or the packet URL no longer matches it — the load the packet
// described has already been replaced by a faster subsequent navigation, and
// answering would attribute the transition to the wrong page.
func (g *Registry) RequestMerge(_ context.Context, tabID int64, packet models.MergePacket) (*models.TransitionRecord, error) {
	cur, ok := g.pages[tabID]
	if !ok {
		return nil, ErrNoCurrentPage
	}
	if cur.url != models.NormalizeURL(packet.URL) {
		return nil, ErrPageMismatch
	}

	rec := &models.TransitionRecord{
		PageID:               cur.pageID,
		URL:                  packet.URL,
		Referrer:             cur.referrer,
		TabID:                packet.TabID,
		IsHistoryChange:      packet.IsHistoryChange,
		IsOpenedTab:          packet.IsOpenedTab,
		OpenerTabID:          packet.OpenerTabID,
		TransitionType:       packet.TransitionType,
		TransitionQualifiers: packet.TransitionQualifiers,
		PrivateWindow:        cur.private,
		TimeStamp:            packet.TimeStamp,
	}

	if src := newestTabPage(packet.TabPages, cur.pageID); src != nil {
		rec.TabSourcePageID = src.PageID
		rec.TabSourceURL = src.URL
		rec.TabSourceClick = clickedBefore(src.ClickTimes, packet.TimeStamp)
	}

	if src := newestVisit(packet.PageVisits, cur.pageID, !cur.private); src != nil {
		rec.TimeSourcePageID = src.PageID
		rec.TimeSourceURL = src.URL
	}

	return rec, nil
}

// newestTabPage picks the most recently started page in the tab pool,
// excluding the page the record is being built for.
func newestTabPage(pool []models.TabPage, selfID string) *models.TabPage {
	var best *models.TabPage
	for i := range pool {
		p := &pool[i]
		if p.PageID == selfID {
			continue
		}
		if best == nil || p.StartTime > best.StartTime {
			best = p
		}
	}
	return best
}

// newestVisit picks the most recently started visit excluding self. When the
// loading page is not in a private window, private visits are skipped so a
// private URL never leaks into a non-private load's record.
func newestVisit(pool []models.PageVisit, selfID string, excludePrivate bool) *models.PageVisit {
	var best *models.PageVisit
	for i := range pool {
		v := &pool[i]
		if v.PageID == selfID {
			continue
		}
		if excludePrivate && v.PrivateWindow {
			continue
		}
		if best == nil || v.StartTime > best.StartTime {
			best = v
		}
	}
	return best
}

func clickedBefore(stamps []int64, at int64) bool {
	for _, s := range stamps {
		if s <= at {
			return true
		}
	}
	return false
}
