package relay

import (
	"context"
	"errors"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/mahaj/samvad/pkg/model"
	"github.com/mahaj/samvad/pkg/store"
	"github.com/mahaj/samvad/pkg/wire"
)

// HandleRead is the read-receipt coordinator. A receipt for a message
// whose append is still in flight is parked and applied when the
// persist completes; anything else is recorded directly. Recording is
// deduplicated by reader: a duplicate records nothing and is not
// re-broadcast, so readBy growth is capped at one entry per reader.
func (h *Hub) HandleRead(connID string, req wire.ReadRequest) {
	reader := anonymousName
	if u, ok := h.registry.Get(connID); ok {
		reader = u.Username
	}

	rr := model.ReadReceipt{ReaderID: connID, Reader: reader, ReadAt: time.Now().UTC()}
	if h.parkReceipt(req.MessageID, rr) {
		return
	}
	h.recordReceipt(req.MessageID, rr)
}

// recordReceipt appends a receipt to the store and broadcasts it only
// when it was newly recorded.
func (h *Hub) recordReceipt(id int64, rr model.ReadReceipt) {
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	added, err := h.store.AppendReadReceipt(ctx, id, rr)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			// Private messages never hit the store, so their receipts
			// land here and are dropped.
			log.WithField("id", id).Debug("read receipt for unknown message")
			return
		}
		log.WithError(err).WithField("id", id).Error("failed to persist read receipt")
		return
	}
	if !added {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.emitLocked(wire.EventMessageRead, 0, wire.ReadEvent{
		MessageID: id,
		ReaderID:  rr.ReaderID,
		Reader:    rr.Reader,
	}, "")
}

// beginPersist marks a message id as having an append in flight.
func (h *Hub) beginPersist(id int64) {
	h.inflightMu.Lock()
	h.inflight[id] = []model.ReadReceipt{}
	h.inflightMu.Unlock()
}

// parkReceipt holds a receipt behind its message's in-flight append.
// It reports false when no append is in flight, in which case the
// caller records against the store directly.
func (h *Hub) parkReceipt(id int64, rr model.ReadReceipt) bool {
	h.inflightMu.Lock()
	defer h.inflightMu.Unlock()
	parked, ok := h.inflight[id]
	if !ok {
		return false
	}
	h.inflight[id] = append(parked, rr)
	return true
}

// finishPersist clears the in-flight mark and returns the receipts that
// were parked behind it.
func (h *Hub) finishPersist(id int64) []model.ReadReceipt {
	h.inflightMu.Lock()
	parked := h.inflight[id]
	delete(h.inflight, id)
	h.inflightMu.Unlock()
	return parked
}
