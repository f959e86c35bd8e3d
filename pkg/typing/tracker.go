// Package typing tracks which connections are currently typing and
// derives the broadcast roster of display names.
package typing

import "sync"

// Tracker maps connection identity to a typing display name. Entries are
// removed on stop-typing and on disconnect.
type Tracker struct {
	mu     sync.RWMutex
	typing map[string]string
	order  []string
}

func NewTracker() *Tracker {
	return &Tracker{typing: make(map[string]string)}
}

// Set records a typing-state change for a connection.
func (t *Tracker) Set(connID, username string, isTyping bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if isTyping {
		if _, exists := t.typing[connID]; !exists {
			t.order = append(t.order, connID)
		}
		t.typing[connID] = username
		return
	}
	t.remove(connID)
}

// Remove drops a connection, typically on disconnect without an explicit
// stop-typing event. It reports whether an entry was present.
func (t *Tracker) Remove(connID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.remove(connID)
}

func (t *Tracker) remove(connID string) bool {
	if _, exists := t.typing[connID]; !exists {
		return false
	}
	delete(t.typing, connID)
	for i, id := range t.order {
		if id == connID {
			t.order = append(t.order[:i], t.order[i+1:]...)
			break
		}
	}
	return true
}

// Names returns the full list of currently-typing display names, not a
// delta.
func (t *Tracker) Names() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]string, 0, len(t.order))
	for _, id := range t.order {
		if name, ok := t.typing[id]; ok {
			out = append(out, name)
		}
	}
	return out
}
