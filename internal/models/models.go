// Package models holds the event and record types shared by the ingest
// server, the correlator and the transition store.
package models

import (
	"encoding/json"
	"net/url"
	"strings"
)

// Event type identifiers accepted on the ingest endpoint.
const (
	EventVisitStart          = "visit_start"
	EventCommitted           = "committed"
	EventContentLoaded       = "content_loaded"
	EventHistoryStateUpdated = "history_state_updated"
	EventCreationTarget      = "creation_target"
	EventTabCreated          = "tab_created"
	EventTabRemoved          = "tab_removed"
	EventPageClicks          = "page_clicks"
	EventPageIdentity        = "page_identity"
)

// Envelope wraps one raw browser event. Payload is decoded according to Type.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// Batch is the body of a POST /events request.
type Batch struct {
	Events []Envelope `json:"events"`
}

// VisitStart announces that a page began loading in a tab.
type VisitStart struct {
	PageID        string `json:"page_id"`
	URL           string `json:"url"`
	StartTime     int64  `json:"start_time"` // unix ms
	PrivateWindow bool   `json:"private_window"`
	TabID         int64  `json:"tab_id"`
}

// NavigationCommitted is the top-level navigation-committed signal.
type NavigationCommitted struct {
	TabID                int64    `json:"tab_id"`
	FrameID              int64    `json:"frame_id"`
	URL                  string   `json:"url"`
	TransitionType       string   `json:"transition_type"`
	TransitionQualifiers []string `json:"transition_qualifiers"`
	TimeStamp            int64    `json:"time_stamp"`
}

// ContentLoaded fires when the new document's content has loaded.
type ContentLoaded struct {
	TabID     int64  `json:"tab_id"`
	FrameID   int64  `json:"frame_id"`
	URL       string `json:"url"`
	TimeStamp int64  `json:"time_stamp"`
}

// HistoryStateUpdated is a URL change without a new document load.
type HistoryStateUpdated struct {
	TabID                int64    `json:"tab_id"`
	FrameID              int64    `json:"frame_id"`
	URL                  string   `json:"url"`
	TransitionType       string   `json:"transition_type"`
	TransitionQualifiers []string `json:"transition_qualifiers"`
	TimeStamp            int64    `json:"time_stamp"`
}

// CreationTarget is the detailed new-tab signal carrying the exact opener.
type CreationTarget struct {
	TabID       int64 `json:"tab_id"`
	SourceTabID int64 `json:"source_tab_id"`
	TimeStamp   int64 `json:"time_stamp"`
}

// TabCreated is the coarse new-tab signal. OpenerTabID is absent for tabs
// the browser does not attribute to an opener.
type TabCreated struct {
	TabID       int64  `json:"tab_id"`
	OpenerTabID *int64 `json:"opener_tab_id"`
	TimeStamp   int64  `json:"time_stamp"`
}

// TabRemoved announces that a tab was closed.
type TabRemoved struct {
	TabID     int64 `json:"tab_id"`
	TimeStamp int64 `json:"time_stamp"`
}

// PageClicks accumulates click/activation timestamps observed on a page.
type PageClicks struct {
	PageID     string  `json:"page_id"`
	TimeStamps []int64 `json:"time_stamps"`
}

// PageIdentity is reported by page-side code once it knows its own identity
// and referrer. It refines, never replaces, the visit-start signal.
type PageIdentity struct {
	TabID    int64  `json:"tab_id"`
	PageID   string `json:"page_id"`
	URL      string `json:"url"`
	Referrer string `json:"referrer"`
}

// PageVisit is one live page load. URL is stored fragment-stripped.
type PageVisit struct {
	PageID        string `json:"page_id"`
	URL           string `json:"url"`
	StartTime     int64  `json:"start_time"`
	PrivateWindow bool   `json:"private_window"`
}

// TabPage is a PageVisit plus the click evidence gathered while it was the
// tab's current page.
type TabPage struct {
	PageVisit
	ClickTimes []int64 `json:"click_times"`
}

// OpenerRecord remembers which tab spawned a new tab and when.
type OpenerRecord struct {
	OpenerTabID int64 `json:"opener_tab_id"`
	TimeStamp   int64 `json:"time_stamp"`
	Detailed    bool  `json:"detailed"` // true when it came from creation-target
}

// CommitEvidence is the per-tab navigation-committed evidence awaiting the
// matching content-loaded signal.
type CommitEvidence struct {
	URL                  string   `json:"url"`
	TransitionType       string   `json:"transition_type"`
	TransitionQualifiers []string `json:"transition_qualifiers"`
	TimeStamp            int64    `json:"time_stamp"`
}

// MergePacket is the bundle of cached state and navigation metadata handed to
// page-side code to finalize a Transition Record. It carries snapshots, not
// live references, so a late response never reads mutated cache state.
type MergePacket struct {
	Token                string      `json:"token"`
	TabID                int64       `json:"tab_id"`
	URL                  string      `json:"url"`
	TimeStamp            int64       `json:"time_stamp"`
	TransitionType       string      `json:"transition_type"`
	TransitionQualifiers []string    `json:"transition_qualifiers"`
	IsHistoryChange      bool        `json:"is_history_change"`
	IsOpenedTab          bool        `json:"is_opened_tab"`
	OpenerTabID          int64       `json:"opener_tab_id"`
	PageVisits           []PageVisit `json:"page_visits"`
	TabPages             []TabPage   `json:"tab_pages"`
}

// TransitionRecord is the single consistent output emitted per qualifying
// page load. Immutable once emitted.
type TransitionRecord struct {
	PageID               string   `json:"page_id"`
	URL                  string   `json:"url"`
	Referrer             string   `json:"referrer"`
	TabID                int64    `json:"tab_id"`
	IsHistoryChange      bool     `json:"is_history_change"`
	IsOpenedTab          bool     `json:"is_opened_tab"`
	OpenerTabID          int64    `json:"opener_tab_id"`
	TransitionType       string   `json:"transition_type"`
	TransitionQualifiers []string `json:"transition_qualifiers"`
	TabSourcePageID      string   `json:"tab_source_page_id"`
	TabSourceURL         string   `json:"tab_source_url"`
	TabSourceClick       bool     `json:"tab_source_click"`
	TimeSourcePageID     string   `json:"time_source_page_id"`
	TimeSourceURL        string   `json:"time_source_url"`
	PrivateWindow        bool     `json:"private_window"`
	TimeStamp            int64    `json:"time_stamp"`
}

// StripFragment removes the #fragment portion of a URL. Two URLs that differ
// only in fragment are the same document for correlation purposes.
func StripFragment(raw string) string {
	if i := strings.IndexByte(raw, '#'); i >= 0 {
		return raw[:i]
	}
	return raw
}

// NormalizeURL strips the fragment and gives bare-origin URLs an explicit
// "/" path, so the same load reported as "https://a.test" by one signal and
// "https://a.test/" by another still correlates.
func NormalizeURL(raw string) string {
	raw = StripFragment(raw)
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	if u.Host != "" && u.Path == "" {
		u.Path = "/"
	}
	return u.String()
}

// IsNetworkURL reports whether a URL uses a network scheme. Internal pages
// (about:, chrome:, moz-extension: and friends) never produce transitions.
func IsNetworkURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	switch u.Scheme {
	case "http", "https":
		return true
	}
	return false
}
