package relay

import (
	log "github.com/sirupsen/logrus"

	"github.com/mahaj/samvad/pkg/wire"
)

// HandleJoin announces a connection's identity. The client is
// responsible for supplying a non-empty display name (it generates a
// guest name if the user typed none); an empty join is dropped.
func (h *Hub) HandleJoin(connID, username string) {
	if username == "" {
		log.WithField("conn", connID).Warn("ignoring user_join with empty username")
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	u := h.registry.Add(connID, username)
	h.broadcastRosterLocked()
	h.emitLocked(wire.EventUserJoined, 0, wire.Notice{Username: u.Username, ID: connID}, "")
	log.WithFields(log.Fields{"conn": connID, "username": username}).Info("user joined")
}

// HandleProfile mutates the presence entry in place and re-broadcasts
// the roster only, no notice.
func (h *Hub) HandleProfile(connID string, req wire.ProfileUpdate) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.registry.UpdateProfile(connID, req.Username, req.Avatar); !ok {
		return
	}
	h.broadcastRosterLocked()
}

// HandleTyping records a typing-state change for a joined connection and
// broadcasts the full typing roster.
func (h *Hub) HandleTyping(connID string, isTyping bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	u, ok := h.registry.Get(connID)
	if !ok {
		return
	}
	h.typing.Set(connID, u.Username, isTyping)
	h.broadcastTypingLocked()
}

// HandleLogout runs the leave transition, acknowledges the requester,
// and then closes the transport. The close triggers the disconnect path
// as well, but the registry removal here makes that a silent no-op.
func (h *Hub) HandleLogout(connID string, seq uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.leaveLocked(connID)
	h.emitLocked(wire.EventAck, seq, wire.LogoutAck{OK: true}, connID)

	if s, ok := h.sessions[connID]; ok {
		delete(h.sessions, connID)
		s.Close()
	}
}

// leaveLocked removes the connection from presence and typing state and
// broadcasts whatever actually changed.
func (h *Hub) leaveLocked(connID string) {
	if removed, ok := h.registry.Remove(connID); ok {
		h.emitLocked(wire.EventUserLeft, 0, wire.Notice{Username: removed.Username, ID: connID}, "")
		h.broadcastRosterLocked()
		log.WithFields(log.Fields{"conn": connID, "username": removed.Username}).Info("user left")
	}
	if h.typing.Remove(connID) {
		h.broadcastTypingLocked()
	}
}
