package pageside

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tracekit/pagetransit/internal/models"
)

func packet(tabID int64, url string, ts int64) models.MergePacket {
	return models.MergePacket{
		Token:          "tok",
		TabID:          tabID,
		URL:            url,
		TimeStamp:      ts,
		TransitionType: "link",
	}
}

func TestRequestMergeNoCurrentPage(t *testing.T) {
	g := NewRegistry()

	_, err := g.RequestMerge(context.Background(), 1, packet(1, "https://a.test/", 50))
	assert.ErrorIs(t, err, ErrNoCurrentPage)
}

func TestRequestMergeRejectsMismatchedURL(t *testing.T) {
	g := NewRegistry()
	g.SetCurrentPage(1, "p2", "https://b.test/", false)

	// the tab navigated again before this packet's merge ran
	_, err := g.RequestMerge(context.Background(), 1, packet(1, "https://a.test/", 50))
	assert.ErrorIs(t, err, ErrPageMismatch)
}

func TestRequestMergeBuildsRecord(t *testing.T) {
	g := NewRegistry()
	g.SetCurrentPage(1, "p2", "https://b.test/", false)
	g.SetReferrer(1, "p2", "https://a.test/")

	p := packet(1, "https://b.test/", 100)
	p.TransitionQualifiers = []string{"forward_back"}
	p.PageVisits = []models.PageVisit{
		{PageID: "p1", URL: "https://a.test/", StartTime: 0},
		{PageID: "p2", URL: "https://b.test/", StartTime: 90},
	}
	p.TabPages = []models.TabPage{
		{PageVisit: models.PageVisit{PageID: "p1", URL: "https://a.test/", StartTime: 0}, ClickTimes: []int64{95}},
		{PageVisit: models.PageVisit{PageID: "p2", URL: "https://b.test/", StartTime: 90}},
	}

	rec, err := g.RequestMerge(context.Background(), 1, p)
	require.NoError(t, err)

	assert.Equal(t, "p2", rec.PageID)
	assert.Equal(t, "https://b.test/", rec.URL)
	assert.Equal(t, "https://a.test/", rec.Referrer)
	assert.Equal(t, "link", rec.TransitionType)
	assert.Equal(t, []string{"forward_back"}, rec.TransitionQualifiers)
	// the loading page never sources itself
	assert.Equal(t, "p1", rec.TabSourcePageID)
	assert.Equal(t, "https://a.test/", rec.TabSourceURL)
	assert.True(t, rec.TabSourceClick)
	assert.Equal(t, "p1", rec.TimeSourcePageID)
	assert.Equal(t, "https://a.test/", rec.TimeSourceURL)
	assert.False(t, rec.PrivateWindow)
	assert.Equal(t, int64(100), rec.TimeStamp)
}

func TestRequestMergeClickAfterNavigationIgnored(t *testing.T) {
	g := NewRegistry()
	g.SetCurrentPage(1, "p2", "https://b.test/", false)

	p := packet(1, "https://b.test/", 100)
	p.TabPages = []models.TabPage{
		{PageVisit: models.PageVisit{PageID: "p1", URL: "https://a.test/", StartTime: 0}, ClickTimes: []int64{150}},
	}

	rec, err := g.RequestMerge(context.Background(), 1, p)
	require.NoError(t, err)
	assert.Equal(t, "p1", rec.TabSourcePageID)
	assert.False(t, rec.TabSourceClick)
}

func TestRequestMergeSkipsPrivateTimeSourceForPublicLoad(t *testing.T) {
	g := NewRegistry()
	g.SetCurrentPage(2, "p3", "https://c.test/", false)

	p := packet(2, "https://c.test/", 200)
	p.PageVisits = []models.PageVisit{
		{PageID: "p1", URL: "https://a.test/", StartTime: 10},
		{PageID: "p2", URL: "https://secret.test/", StartTime: 100, PrivateWindow: true},
	}

	rec, err := g.RequestMerge(context.Background(), 2, p)
	require.NoError(t, err)
	assert.Equal(t, "p1", rec.TimeSourcePageID, "private visit must not leak into a non-private record")
}

func TestRequestMergePrivateLoadSeesAllVisits(t *testing.T) {
	g := NewRegistry()
	g.SetCurrentPage(2, "p3", "https://c.test/", true)

	p := packet(2, "https://c.test/", 200)
	p.PageVisits = []models.PageVisit{
		{PageID: "p1", URL: "https://a.test/", StartTime: 10},
		{PageID: "p2", URL: "https://secret.test/", StartTime: 100, PrivateWindow: true},
	}

	rec, err := g.RequestMerge(context.Background(), 2, p)
	require.NoError(t, err)
	assert.Equal(t, "p2", rec.TimeSourcePageID)
	assert.True(t, rec.PrivateWindow, "the record itself carries the privacy flag")
}

func TestSetReferrerIgnoredAfterNavigation(t *testing.T) {
	g := NewRegistry()
	g.SetCurrentPage(1, "p1", "https://a.test/", false)
	g.SetCurrentPage(1, "p2", "https://b.test/", false)

	// late identity report from the page that was replaced
	g.SetReferrer(1, "p1", "https://old.test/")

	rec, err := g.RequestMerge(context.Background(), 1, packet(1, "https://b.test/", 50))
	require.NoError(t, err)
	assert.Empty(t, rec.Referrer)
}

func TestDropTab(t *testing.T) {
	g := NewRegistry()
	g.SetCurrentPage(1, "p1", "https://a.test/", false)
	g.DropTab(1)

	_, err := g.RequestMerge(context.Background(), 1, packet(1, "https://a.test/", 50))
	assert.ErrorIs(t, err, ErrNoCurrentPage)
}
