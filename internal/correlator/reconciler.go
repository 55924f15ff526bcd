// Package correlator reconciles the independent, unordered browser signals
// about a navigation into a single Transition Record per page load.
package correlator

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tracekit/pagetransit/internal/cache"
	"github.com/tracekit/pagetransit/internal/models"
	"github.com/tracekit/pagetransit/internal/pageside"
)

// Config bounds cache staleness. The zero value is not usable; start from
// DefaultConfig.
type Config struct {
	// PageVisitExpiry bounds the global page-visit time cache.
	PageVisitExpiry time.Duration
	// TabVisitExpiry bounds each tab's page mapping. Must be longer than
	// PageVisitExpiry: a backgrounded tab's last page stays relevant longer
	// than a page's claim to being "most recent anywhere".
	TabVisitExpiry time.Duration
	// ClickWindow bounds click-timestamp recency.
	ClickWindow time.Duration
	// RemovalGrace delays cleanup after a tab closes, so an in-flight
	// dispatch can still read the removed tab's opener and visit data.
	RemovalGrace time.Duration
}

// DefaultConfig returns the staleness bounds used by the agent.
func DefaultConfig() Config {
	return Config{
		PageVisitExpiry: 5 * time.Minute,
		TabVisitExpiry:  30 * time.Minute,
		ClickWindow:     time.Minute,
		RemovalGrace:    30 * time.Second,
	}
}

// Reconciler owns the caches and the merge dispatch. All Handle methods must
// be called from a single goroutine (see Loop); within that discipline no
// locking is needed, and every handler runs to completion before the next.
type Reconciler struct {
	log     *zap.Logger
	channel pageside.Channel

	visits  *cache.PageVisitTimes
	tabs    *cache.TabVisits
	openers *cache.Openers
	commits *cache.Commits

	removalGrace    int64
	pendingRemovals map[int64]int64 // tabID -> removal timestamp

	subsMu  sync.Mutex
	subs    map[int]*subscription
	nextSub int
	dropped int64
}

// subscriptionBuffer sizes each subscriber's channel. Deliveries beyond it
// are dropped, not blocked on: a slow subscriber must never stall the loop.
const subscriptionBuffer = 256

type subscription struct {
	match          func(url string) bool
	includePrivate bool
	ch             chan models.TransitionRecord
}

// New builds a reconciler dispatching merges over channel.
func New(log *zap.Logger, channel pageside.Channel, cfg Config) *Reconciler {
	return &Reconciler{
		log:             log,
		channel:         channel,
		visits:          cache.NewPageVisitTimes(cfg.PageVisitExpiry),
		tabs:            cache.NewTabVisits(cfg.TabVisitExpiry, cfg.ClickWindow),
		openers:         cache.NewOpeners(),
		commits:         cache.NewCommits(),
		removalGrace:    cfg.RemovalGrace.Milliseconds(),
		pendingRemovals: make(map[int64]int64),
		subs:            make(map[int]*subscription),
	}
}

// Subscribe registers interest in emitted Transition Records. match filters
// by destination URL (nil matches everything); includePrivate opts in to
// records for private-window loads. cancel unregisters and closes the channel.
func (r *Reconciler) Subscribe(match func(url string) bool, includePrivate bool) (<-chan models.TransitionRecord, func()) {
	r.subsMu.Lock()
	defer r.subsMu.Unlock()
	id := r.nextSub
	r.nextSub++
	sub := &subscription{
		match:          match,
		includePrivate: includePrivate,
		ch:             make(chan models.TransitionRecord, subscriptionBuffer),
	}
	r.subs[id] = sub
	cancel := func() {
		r.subsMu.Lock()
		defer r.subsMu.Unlock()
		if s, ok := r.subs[id]; ok {
			delete(r.subs, id)
			close(s.ch)
		}
	}
	return sub.ch, cancel
}

// HandleVisitStart records a page that began loading. No eviction happens
// here; maintenance only runs after a dispatch.
func (r *Reconciler) HandleVisitStart(ev models.VisitStart) {
	v := models.PageVisit{
		PageID:        ev.PageID,
		URL:           ev.URL,
		StartTime:     ev.StartTime,
		PrivateWindow: ev.PrivateWindow,
	}
	r.visits.Record(v)
	r.tabs.Record(ev.TabID, v)
}

// HandleCommitted stores commit evidence for the tab's pending navigation.
// Subframe and non-network navigations carry no transition of their own.
func (r *Reconciler) HandleCommitted(ev models.NavigationCommitted) {
	if ev.FrameID != 0 || !models.IsNetworkURL(ev.URL) {
		return
	}
	r.commits.Record(ev.TabID, models.CommitEvidence{
		URL:                  ev.URL,
		TransitionType:       ev.TransitionType,
		TransitionQualifiers: ev.TransitionQualifiers,
		TimeStamp:            ev.TimeStamp,
	})
}

// HandleContentLoaded confirms commit evidence and dispatches the merge.
// Without matching evidence the load is dropped: under-reporting beats
// emitting a record with fabricated transition-type data.
func (r *Reconciler) HandleContentLoaded(ev models.ContentLoaded) {
	if ev.FrameID != 0 || !models.IsNetworkURL(ev.URL) {
		return
	}
	evidence, ok := r.commits.Consume(ev.TabID, ev.URL)
	if !ok {
		r.log.Debug("content-loaded without matching commit evidence",
			zap.Int64("tab", ev.TabID), zap.String("url", ev.URL))
		return
	}
	r.dispatch(ev.TabID, ev.URL, ev.TimeStamp,
		evidence.TransitionType, evidence.TransitionQualifiers, false)
}

// HandleHistoryStateUpdated dispatches directly: history navigations do not
// go through the commit/content-loaded two-stage lifecycle.
func (r *Reconciler) HandleHistoryStateUpdated(ev models.HistoryStateUpdated) {
	if ev.FrameID != 0 || !models.IsNetworkURL(ev.URL) {
		return
	}
	r.dispatch(ev.TabID, ev.URL, ev.TimeStamp,
		ev.TransitionType, ev.TransitionQualifiers, true)
}

// HandleCreationTarget records detailed opener evidence for a new tab.
func (r *Reconciler) HandleCreationTarget(ev models.CreationTarget) {
	r.openers.RecordDetailed(ev.TabID, ev.SourceTabID, ev.TimeStamp)
}

// HandleTabCreated records coarse opener evidence. It never overwrites the
// detailed signal, in either arrival order.
func (r *Reconciler) HandleTabCreated(ev models.TabCreated) {
	if ev.OpenerTabID == nil {
		return
	}
	r.openers.RecordCoarse(ev.TabID, *ev.OpenerTabID, ev.TimeStamp)
}

// HandleTabRemoved stamps the tab for delayed cleanup. The actual purge
// happens during a later maintenance pass, after the grace period, so an
// in-flight dispatch can still reference the tab's data.
func (r *Reconciler) HandleTabRemoved(ev models.TabRemoved) {
	r.pendingRemovals[ev.TabID] = ev.TimeStamp
}

// HandlePageClicks appends click evidence to a live page record. Clicks for
// pages that have already expired are dropped silently.
func (r *Reconciler) HandlePageClicks(ev models.PageClicks) {
	if !r.tabs.AddClicks(ev.PageID, ev.TimeStamps) {
		r.log.Debug("clicks for expired page dropped", zap.String("page", ev.PageID))
	}
}

// dispatch resolves the prior-page pools, hands a merge packet to the
// page-side channel and emits the returned record. Maintenance runs strictly
// after the dispatch so it can never evict an entry the dispatch depended on.
func (r *Reconciler) dispatch(tabID int64, rawURL string, timeStamp int64, transitionType string, qualifiers []string, isHistory bool) {
	url := models.NormalizeURL(rawURL)

	isOpened := false
	var openerTabID int64
	sourceTab := tabID
	if !isHistory {
		if opener, ok := r.openers.Consume(tabID); ok {
			isOpened = true
			openerTabID = opener.OpenerTabID
			// evidence about "the page this came from" lives in the
			// opener's tab, not the brand-new one
			sourceTab = opener.OpenerTabID
		}
	}

	packet := models.MergePacket{
		Token:                uuid.NewString(),
		TabID:                tabID,
		URL:                  url,
		TimeStamp:            timeStamp,
		TransitionType:       transitionType,
		TransitionQualifiers: qualifiers,
		IsHistoryChange:      isHistory,
		IsOpenedTab:          isOpened,
		OpenerTabID:          openerTabID,
		PageVisits:           r.visits.Snapshot(),
		TabPages:             r.tabs.Snapshot(sourceTab),
	}

	rec, err := r.channel.RequestMerge(context.Background(), tabID, packet)
	if err != nil {
		r.log.Debug("merge rejected",
			zap.Int64("tab", tabID), zap.String("url", url),
			zap.String("token", packet.Token), zap.Error(err))
	} else if rec != nil {
		r.emit(*rec)
	}

	r.maintain(timeStamp, tabID, sourceTab)
}

func (r *Reconciler) emit(rec models.TransitionRecord) {
	// the privacy flag travels on the record itself: the page-visit cache may
	// have evicted a slow load's visit by now, and a miss there must not turn
	// a private load public
	r.subsMu.Lock()
	defer r.subsMu.Unlock()
	for _, sub := range r.subs {
		if rec.PrivateWindow && !sub.includePrivate {
			continue
		}
		if sub.match != nil && !sub.match(rec.URL) {
			continue
		}
		select {
		case sub.ch <- rec:
		default:
			r.dropped++
			r.log.Warn("subscriber too slow, transition dropped",
				zap.String("page", rec.PageID), zap.String("url", rec.URL),
				zap.Int64("total_dropped", r.dropped))
		}
	}
}

// DroppedTransitions reports how many records were lost to slow subscribers.
func (r *Reconciler) DroppedTransitions() int64 {
	r.subsMu.Lock()
	defer r.subsMu.Unlock()
	return r.dropped
}

// maintain runs the staleness passes and the delayed tab-removal purge.
func (r *Reconciler) maintain(now int64, tabIDs ...int64) {
	r.visits.Maintain(now)
	for _, tab := range tabIDs {
		r.tabs.Maintain(tab, now)
	}
	for tab, removedAt := range r.pendingRemovals {
		if now-removedAt > r.removalGrace {
			r.openers.Delete(tab)
			r.tabs.RemoveTab(tab)
			delete(r.pendingRemovals, tab)
		}
	}
}
