// Package client is the client side of the relay protocol: an engine
// that merges optimistic sends, server echoes, delivery acks, read
// receipts, and paginated history into one authoritative local view of
// the message timeline, over a connection that reconnects on its own.
package client

import (
	"time"

	"github.com/mahaj/samvad/pkg/model"
)

// Entry is one timeline row: a pending optimistic send keyed by its
// temp id, or a server-confirmed message keyed by server id. Exactly one
// of the two states holds per logical message; reconciliation collapses
// a pending entry into its confirmed counterpart in place, exactly once.
type Entry struct {
	TempID      string // retained after confirmation for late echoes
	Confirmed   bool
	Delivered   bool
	DeliveredAt time.Time
	System      bool // local join/leave notice, never sent anywhere
	Msg         model.Message
}

// Timeline is the ordered message sequence. Live messages keep arrival
// and merge order; paginated history is prepended in server-id order.
// Nothing ever re-sorts the slice; append, prepend, and in-place
// replacement preserve order incrementally.
type Timeline struct {
	entries []Entry
}

// HeightFunc measures the rendered height of one entry so a prepend can
// report how far the scroll anchor must shift.
type HeightFunc func(Entry) int

// AppendPending adds an optimistic local entry for a just-submitted
// message. The temp id is never presented as a server id.
func (tl *Timeline) AppendPending(tempID string, msg model.Message) {
	tl.entries = append(tl.entries, Entry{TempID: tempID, Msg: msg})
}

// AppendSystem adds a local notice row.
func (tl *Timeline) AppendSystem(text string, at time.Time) {
	tl.entries = append(tl.entries, Entry{System: true, Msg: model.Message{Body: text, Timestamp: at}})
}

// MergeAck folds a direct send acknowledgement. The matching pending
// entry is confirmed in place and marked delivered; the broadcast echo
// may land before or after and must not duplicate the entry. An ack
// with no pending match (a reconnect dropped the entry) is ignored.
func (tl *Timeline) MergeAck(tempID string, id int64, ts time.Time) {
	for i := range tl.entries {
		e := &tl.entries[i]
		if e.TempID == tempID && !e.System {
			e.Confirmed = true
			e.Delivered = true
			e.DeliveredAt = ts
			e.Msg.ID = id
			if !ts.IsZero() {
				e.Msg.Timestamp = ts
			}
			return
		}
	}
}

// MergeEcho folds a broadcast message. A temp-id match replaces the
// local entry in place, preserving its position and delivered state; a
// server-id match is a duplicate and only refreshes content; anything
// else is a new message from another connection, appended in arrival
// order. It reports whether the message was an unmatched append.
func (tl *Timeline) MergeEcho(msg model.Message) (appended bool) {
	if msg.TempID != "" {
		for i := range tl.entries {
			e := &tl.entries[i]
			if e.TempID == msg.TempID && !e.System {
				delivered, at := e.Delivered, e.DeliveredAt
				e.Msg = msg
				e.Confirmed = true
				e.Delivered = delivered
				e.DeliveredAt = at
				return false
			}
		}
	}
	if msg.ID != 0 {
		for i := range tl.entries {
			e := &tl.entries[i]
			if e.Confirmed && e.Msg.ID == msg.ID {
				readBy := e.Msg.ReadBy
				e.Msg = msg
				if len(msg.ReadBy) < len(readBy) {
					e.Msg.ReadBy = readBy
				}
				return false
			}
		}
	}
	tl.entries = append(tl.entries, Entry{TempID: msg.TempID, Confirmed: true, Msg: msg})
	return true
}

// MergeDelivered folds the sender-only delivery confirmation: only the
// delivered flag and timestamp mutate, never the content.
func (tl *Timeline) MergeDelivered(id int64, at time.Time) {
	for i := range tl.entries {
		e := &tl.entries[i]
		if e.Confirmed && e.Msg.ID == id {
			e.Delivered = true
			e.DeliveredAt = at
			return
		}
	}
}

// FoldRead appends a deduplicated reader record to a known message.
func (tl *Timeline) FoldRead(id int64, rr model.ReadReceipt) {
	for i := range tl.entries {
		e := &tl.entries[i]
		if e.Confirmed && e.Msg.ID == id {
			if !e.Msg.HasReader(rr.ReaderID) {
				e.Msg.ReadBy = append(e.Msg.ReadBy, rr)
			}
			return
		}
	}
}

// PrependHistory puts an older page in front of the sequence without
// disturbing existing entries. Rows already present (matched by server
// id) are dropped, so refetching a page is idempotent. The returned
// height delta is the measured height of the inserted rows; the caller
// shifts its scroll anchor by exactly that much.
func (tl *Timeline) PrependHistory(msgs []model.Message, measure HeightFunc) (added, heightDelta int) {
	known := make(map[int64]bool, len(tl.entries))
	for _, e := range tl.entries {
		if e.Confirmed && e.Msg.ID != 0 {
			known[e.Msg.ID] = true
		}
	}

	var batch []Entry
	for _, msg := range msgs {
		if msg.ID == 0 || known[msg.ID] {
			continue
		}
		known[msg.ID] = true
		e := Entry{Confirmed: true, Delivered: true, Msg: msg}
		batch = append(batch, e)
		if measure != nil {
			heightDelta += measure(e)
		}
	}
	if len(batch) == 0 {
		return 0, 0
	}

	tl.entries = append(batch, tl.entries...)
	return len(batch), heightDelta
}

// Entries returns a copy of the current sequence.
func (tl *Timeline) Entries() []Entry {
	out := make([]Entry, len(tl.entries))
	copy(out, tl.entries)
	return out
}

// Len reports the number of rows.
func (tl *Timeline) Len() int { return len(tl.entries) }

// Find returns the confirmed entry with the given server id.
func (tl *Timeline) Find(id int64) (Entry, bool) {
	for _, e := range tl.entries {
		if e.Confirmed && e.Msg.ID == id {
			return e, true
		}
	}
	return Entry{}, false
}
