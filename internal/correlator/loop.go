package correlator

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/tracekit/pagetransit/internal/models"
)

// PageIdentitySink receives the page-identity side of the event stream. The
// in-process pageside.Registry implements it; a remote page-side channel
// would not need one (the page learns its own identity).
type PageIdentitySink interface {
	SetCurrentPage(tabID int64, pageID, url string, private bool)
	SetReferrer(tabID int64, pageID, referrer string)
	DropTab(tabID int64)
}

// Loop serializes all incoming events onto one goroutine, giving the
// reconciler the run-to-completion semantics its caches rely on.
type Loop struct {
	log    *zap.Logger
	rec    *Reconciler
	ids    PageIdentitySink // may be nil
	events chan models.Envelope
}

// NewLoop builds an event loop feeding rec (and ids, when non-nil).
func NewLoop(log *zap.Logger, rec *Reconciler, ids PageIdentitySink, buffer int) *Loop {
	return &Loop{
		log:    log,
		rec:    rec,
		ids:    ids,
		events: make(chan models.Envelope, buffer),
	}
}

// Post queues one event for processing. Blocks only when the buffer is full.
func (l *Loop) Post(ctx context.Context, ev models.Envelope) error {
	select {
	case l.events <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run consumes events until ctx is canceled. Must be the only consumer.
func (l *Loop) Run(ctx context.Context) error {
	for {
		select {
		case ev := <-l.events:
			if err := l.route(ev); err != nil {
				l.log.Warn("event dropped", zap.String("type", ev.Type), zap.Error(err))
			}
		case <-ctx.Done():
			return nil
		}
	}
}

func (l *Loop) route(ev models.Envelope) error {
	switch ev.Type {
	case models.EventVisitStart:
		var p models.VisitStart
		if err := decode(ev, &p); err != nil {
			return err
		}
		l.rec.HandleVisitStart(p)
		if l.ids != nil {
			l.ids.SetCurrentPage(p.TabID, p.PageID, p.URL, p.PrivateWindow)
		}
	case models.EventCommitted:
		var p models.NavigationCommitted
		if err := decode(ev, &p); err != nil {
			return err
		}
		l.rec.HandleCommitted(p)
	case models.EventContentLoaded:
		var p models.ContentLoaded
		if err := decode(ev, &p); err != nil {
			return err
		}
		l.rec.HandleContentLoaded(p)
	case models.EventHistoryStateUpdated:
		var p models.HistoryStateUpdated
		if err := decode(ev, &p); err != nil {
			return err
		}
		l.rec.HandleHistoryStateUpdated(p)
	case models.EventCreationTarget:
		var p models.CreationTarget
		if err := decode(ev, &p); err != nil {
			return err
		}
		l.rec.HandleCreationTarget(p)
	case models.EventTabCreated:
		var p models.TabCreated
		if err := decode(ev, &p); err != nil {
			return err
		}
		l.rec.HandleTabCreated(p)
	case models.EventTabRemoved:
		var p models.TabRemoved
		if err := decode(ev, &p); err != nil {
			return err
		}
		l.rec.HandleTabRemoved(p)
		if l.ids != nil {
			l.ids.DropTab(p.TabID)
		}
	case models.EventPageClicks:
		var p models.PageClicks
		if err := decode(ev, &p); err != nil {
			return err
		}
		l.rec.HandlePageClicks(p)
	case models.EventPageIdentity:
		var p models.PageIdentity
		if err := decode(ev, &p); err != nil {
			return err
		}
		if l.ids != nil {
			l.ids.SetReferrer(p.TabID, p.PageID, p.Referrer)
		}
	default:
		return fmt.Errorf("unknown event type %q", ev.Type)
	}
	return nil
}

func decode(ev models.Envelope, into any) error {
	if err := json.Unmarshal(ev.Payload, into); err != nil {
		return fmt.Errorf("decode %s payload: %w", ev.Type, err)
	}
	return nil
}
