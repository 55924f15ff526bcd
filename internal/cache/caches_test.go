package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tracekit/pagetransit/internal/models"
)

func visit(pageID, url string, start int64, private bool) models.PageVisit {
	return models.PageVisit{PageID: pageID, URL: url, StartTime: start, PrivateWindow: private}
}

func TestPageVisitTimesRetention(t *testing.T) {
	c := NewPageVisitTimes(time.Second)

	c.Record(visit("p1", "https://a.test/one", 0, false))
	c.Record(visit("p2", "https://b.test/two", 10, true))

	c.Maintain(10_000_000)

	// p2 is most recent overall, p1 is most recent non-private; both survive
	_, ok := c.Get("p1")
	assert.True(t, ok)
	_, ok = c.Get("p2")
	assert.True(t, ok)

	c.Record(visit("p3", "https://c.test/", 9_999_999, false))
	c.Maintain(10_000_000)

	// p3 now covers both partitions
	assert.Equal(t, 1, c.Len())
	_, ok = c.Get("p3")
	assert.True(t, ok)
}

func TestPageVisitTimesNormalizesURL(t *testing.T) {
	c := NewPageVisitTimes(time.Minute)

	c.Record(visit("p1", "https://a.test#section", 0, false))

	v, ok := c.Get("p1")
	require.True(t, ok)
	assert.Equal(t, "https://a.test/", v.URL)
}

func TestTabVisitsSnapshotIsDeepCopy(t *testing.T) {
	c := NewTabVisits(time.Minute, time.Minute)

	c.Record(1, visit("p1", "https://a.test/", 0, false))
	require.True(t, c.AddClicks("p1", []int64{5}))

	snap := c.Snapshot(1)
	require.Len(t, snap, 1)
	snap[0].ClickTimes[0] = 999

	fresh := c.Snapshot(1)
	assert.Equal(t, []int64{5}, fresh[0].ClickTimes)
}

func TestTabVisitsClicksForExpiredPageDropped(t *testing.T) {
	c := NewTabVisits(time.Minute, time.Minute)

	assert.False(t, c.AddClicks("ghost", []int64{1}))

	c.Record(1, visit("p1", "https://a.test/", 0, false))
	c.Record(1, visit("p2", "https://a.test/x", 10, false))
	c.Maintain(1, 10_000_000)

	// p1 expired out of the tab mapping; its clicks have nowhere to go
	assert.False(t, c.AddClicks("p1", []int64{20}))
	assert.True(t, c.AddClicks("p2", []int64{20}))
}

func TestTabVisitsClickPruning(t *testing.T) {
	c := NewTabVisits(time.Hour, time.Minute)

	c.Record(1, visit("p1", "https://a.test/", 0, false))
	require.True(t, c.AddClicks("p1", []int64{1000, 2000}))

	now := int64(2000 + 10*60*1000) // both clicks far outside the window
	c.Maintain(1, now)

	snap := c.Snapshot(1)
	require.Len(t, snap, 1)
	assert.Equal(t, []int64{2000}, snap[0].ClickTimes,
		"the single most recent click survives past the recency window")
}

func TestTabVisitsClickWindowKeepsRecent(t *testing.T) {
	c := NewTabVisits(time.Hour, time.Minute)

	c.Record(1, visit("p1", "https://a.test/", 0, false))
	require.True(t, c.AddClicks("p1", []int64{1000, 50_000}))

	c.Maintain(1, 60_000)

	snap := c.Snapshot(1)
	require.Len(t, snap, 1)
	assert.Equal(t, []int64{1000, 50_000}, snap[0].ClickTimes)
}

func TestTabVisitsMostRecentPageSurvives(t *testing.T) {
	c := NewTabVisits(time.Second, time.Minute)

	c.Record(1, visit("p1", "https://a.test/", 0, false))
	c.Record(1, visit("p2", "https://a.test/x", 10, false))

	c.Maintain(1, 10_000_000)

	snap := c.Snapshot(1)
	require.Len(t, snap, 1)
	assert.Equal(t, "p2", snap[0].PageID)
}

func TestTabVisitsRemoveTab(t *testing.T) {
	c := NewTabVisits(time.Minute, time.Minute)

	c.Record(1, visit("p1", "https://a.test/", 0, false))
	c.RemoveTab(1)

	assert.Nil(t, c.Snapshot(1))
	assert.False(t, c.AddClicks("p1", []int64{5}))
}

func TestOpenersDetailedWinsRegardlessOfOrder(t *testing.T) {
	t.Run("detailed first", func(t *testing.T) {
		c := NewOpeners()
		c.RecordDetailed(2, 1, 100)
		c.RecordCoarse(2, 7, 110)

		rec, ok := c.Consume(2)
		require.True(t, ok)
		assert.Equal(t, int64(1), rec.OpenerTabID)
	})

	t.Run("coarse first", func(t *testing.T) {
		c := NewOpeners()
		c.RecordCoarse(2, 7, 90)
		c.RecordDetailed(2, 1, 100)

		rec, ok := c.Consume(2)
		require.True(t, ok)
		assert.Equal(t, int64(1), rec.OpenerTabID)
		assert.True(t, rec.Detailed)
	})
}

func TestOpenersCoarseFallback(t *testing.T) {
	c := NewOpeners()
	c.RecordCoarse(2, 7, 90)

	rec, ok := c.Consume(2)
	require.True(t, ok)
	assert.Equal(t, int64(7), rec.OpenerTabID)
	assert.False(t, rec.Detailed)

	// consumed: a second navigation in the tab is not newly opened
	_, ok = c.Consume(2)
	assert.False(t, ok)
}

func TestCommitsConsumeMatch(t *testing.T) {
	c := NewCommits()
	c.Record(1, models.CommitEvidence{URL: "https://a.test/", TransitionType: "link", TimeStamp: 40})

	ev, ok := c.Consume(1, "https://a.test")
	require.True(t, ok, "bare origin and explicit / are the same load")
	assert.Equal(t, "link", ev.TransitionType)
	assert.Equal(t, 0, c.Len())
}

func TestCommitsConsumeMismatchDiscards(t *testing.T) {
	c := NewCommits()
	c.Record(1, models.CommitEvidence{URL: "https://a.test/", TransitionType: "link"})

	_, ok := c.Consume(1, "https://b.test/")
	assert.False(t, ok)
	// the stale evidence is gone, not retried
	assert.Equal(t, 0, c.Len())
}

func TestCommitsOverwrite(t *testing.T) {
	c := NewCommits()
	c.Record(1, models.CommitEvidence{URL: "https://a.test/", TransitionType: "link"})
	c.Record(1, models.CommitEvidence{URL: "https://b.test/", TransitionType: "typed"})

	ev, ok := c.Consume(1, "https://b.test/")
	require.True(t, ok)
	assert.Equal(t, "typed", ev.TransitionType)
}

func TestCommitsConsumeAbsent(t *testing.T) {
	c := NewCommits()
	_, ok := c.Consume(42, "https://a.test/")
	assert.False(t, ok)
}
