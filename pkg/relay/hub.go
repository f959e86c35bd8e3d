// Package relay is the server core: the hub owns the set of live
// sessions and serializes every event handler, the router stamps and
// fans out messages, the coordinator records read receipts, and the
// lifecycle manager drives join/leave/logout transitions.
package relay

import (
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/mahaj/samvad/pkg/model"
	"github.com/mahaj/samvad/pkg/presence"
	"github.com/mahaj/samvad/pkg/snowflake"
	"github.com/mahaj/samvad/pkg/store"
	"github.com/mahaj/samvad/pkg/typing"
	"github.com/mahaj/samvad/pkg/wire"
)

// Session is one live transport attachment. Send must not block: it
// queues the frame and reports false when the session's buffer is full,
// in which case the hub drops the session. Close flushes queued frames
// and then tears down the transport.
type Session interface {
	ID() string
	Send(frame []byte) bool
	Close()
}

// Hub routes every event through a single mutex so handlers run to
// completion relative to each other. The only suspending operation,
// persistence, happens outside the lock after fan-out.
type Hub struct {
	mu       sync.Mutex
	sessions map[string]Session

	registry *presence.Registry
	typing   *typing.Tracker
	store    store.MessageStore
	ids      *snowflake.Node
	firehose *Firehose

	// inflight keys messages whose append has not completed yet; read
	// receipts arriving in that window are parked under the key and
	// applied when the persist finishes.
	inflightMu sync.Mutex
	inflight   map[int64][]model.ReadReceipt
}

func NewHub(reg *presence.Registry, tr *typing.Tracker, st store.MessageStore, ids *snowflake.Node) *Hub {
	return &Hub{
		sessions: make(map[string]Session),
		registry: reg,
		typing:   tr,
		store:    st,
		ids:      ids,
		inflight: make(map[int64][]model.ReadReceipt),
	}
}

// SetFirehose attaches an optional downstream publisher for canonical
// public messages.
func (h *Hub) SetFirehose(f *Firehose) {
	h.firehose = f
}

// Register attaches a connected session. Registration is not presence;
// the roster only changes on an explicit user_join.
func (h *Hub) Register(s Session) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sessions[s.ID()] = s
	log.WithField("conn", s.ID()).Info("session registered")
}

// Unregister detaches a session after its transport closed and runs the
// leave transition for whatever identity it had announced.
func (h *Hub) Unregister(connID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.sessions[connID]; !ok {
		return
	}
	delete(h.sessions, connID)
	log.WithField("conn", connID).Info("session unregistered")
	h.leaveLocked(connID)
}

// broadcastLocked fans a frame to every registered session, dropping
// sessions that cannot keep up.
func (h *Hub) broadcastLocked(frame []byte) {
	for id, s := range h.sessions {
		if !s.Send(frame) {
			log.WithField("conn", id).Warn("dropping slow session")
			delete(h.sessions, id)
			s.Close()
		}
	}
}

// sendToLocked delivers a frame to one session if it is still attached.
func (h *Hub) sendToLocked(connID string, frame []byte) {
	s, ok := h.sessions[connID]
	if !ok {
		return
	}
	if !s.Send(frame) {
		log.WithField("conn", connID).Warn("dropping slow session")
		delete(h.sessions, connID)
		s.Close()
	}
}

func (h *Hub) emitLocked(event string, seq uint64, data interface{}, to string) {
	frame, err := wire.Encode(event, seq, data)
	if err != nil {
		log.WithError(err).WithField("event", event).Error("failed to encode frame")
		return
	}
	if to == "" {
		h.broadcastLocked(frame)
		return
	}
	h.sendToLocked(to, frame)
}

// broadcastRosterLocked pushes the full user_list to everyone.
func (h *Hub) broadcastRosterLocked() {
	h.emitLocked(wire.EventUserList, 0, h.registry.List(), "")
}

// broadcastTypingLocked pushes the full typing_users roster to everyone.
func (h *Hub) broadcastTypingLocked() {
	h.emitLocked(wire.EventTypingUsers, 0, h.typing.Names(), "")
}

// Close tears down every session, for process shutdown.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, s := range h.sessions {
		delete(h.sessions, id)
		s.Close()
	}
}
