package cache

import "github.com/tracekit/pagetransit/internal/models"

// Openers records which tab opened a newly created tab. Two upstream sources
// feed it: the detailed creation-target signal and the coarse tab-created
// signal. The detailed signal wins regardless of arrival order, so it writes
// unconditionally while the coarse path writes only when no entry exists.
type Openers struct {
	entries map[int64]models.OpenerRecord
}

// NewOpeners builds an empty opener cache.
func NewOpeners() *Openers {
	return &Openers{entries: make(map[int64]models.OpenerRecord)}
}

// RecordDetailed stores the creation-target evidence, overwriting any coarse
// entry that got there first.
func (c *Openers) RecordDetailed(tabID, openerTabID, timeStamp int64) {
	c.entries[tabID] = models.OpenerRecord{
		OpenerTabID: openerTabID,
		TimeStamp:   timeStamp,
		Detailed:    true,
	}
}

// RecordCoarse stores the tab-created evidence only if the tab has no entry
// yet. The coarse signal exists because creation-target is known not to fire
// for one specific user gesture; it must never shadow the detailed signal.
func (c *Openers) RecordCoarse(tabID, openerTabID, timeStamp int64) {
	if _, ok := c.entries[tabID]; ok {
		return
	}
	c.entries[tabID] = models.OpenerRecord{
		OpenerTabID: openerTabID,
		TimeStamp:   timeStamp,
	}
}

// Consume returns and deletes the opener record for tabID. A tab with no
// record is simply not newly opened.
func (c *Openers) Consume(tabID int64) (models.OpenerRecord, bool) {
	rec, ok := c.entries[tabID]
	if ok {
		delete(c.entries, tabID)
	}
	return rec, ok
}

// Delete drops a tab's record without consuming it (removal grace cleanup).
func (c *Openers) Delete(tabID int64) {
	delete(c.entries, tabID)
}

// Len returns the number of live records.
func (c *Openers) Len() int {
	return len(c.entries)
}
