// Package pageside defines the request/response contract between the
// correlator and code running inside a page, plus an in-process
// implementation of the page-side merge.
package pageside

import (
	"context"
	"errors"

	"github.com/tracekit/pagetransit/internal/models"
)

// Channel delivers a merge packet to the page currently loaded in a tab and
// returns the finished Transition Record. Implementations may be remote; the
// correlator packages every piece of state into the packet so the call never
// depends on live cache references.
type Channel interface {
	RequestMerge(ctx context.Context, tabID int64, packet models.MergePacket) (*models.TransitionRecord, error)
}

// Errors a Channel may return. Both mean the transition is silently dropped:
// the page the packet was meant for is gone or has already been replaced by a
// faster subsequent navigation.
var (
	ErrNoCurrentPage = errors.New("pageside: no current page for tab")
	ErrPageMismatch  = errors.New("pageside: packet url does not match current page")
)
