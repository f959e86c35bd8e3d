// Package presence holds the roster of active connections. The registry
// is owned by the hub loop; there is no external writer. An optional
// redis mirror publishes the online set for other services, best effort.
package presence

import (
	"context"
	"sync"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/mahaj/samvad/pkg/model"
)

const mirrorKey = "chat:online"

// Registry maps connection identity to a presence entry. Entries are
// created on join, mutated on profile update, and destroyed on
// disconnect or logout.
type Registry struct {
	mu    sync.RWMutex
	users map[string]*model.User
	order []string // join order, for a stable roster

	mirror *redis.Client
}

func NewRegistry() *Registry {
	return &Registry{users: make(map[string]*model.User)}
}

// WithMirror attaches a redis client used to mirror the online set.
// Mirror failures are logged and never surfaced.
func (r *Registry) WithMirror(rdb *redis.Client) *Registry {
	r.mirror = rdb
	return r
}

// Add registers a joined connection under its display name.
func (r *Registry) Add(connID, username string) model.User {
	r.mu.Lock()
	if _, exists := r.users[connID]; !exists {
		r.order = append(r.order, connID)
	}
	u := &model.User{ID: connID, Username: username}
	r.users[connID] = u
	r.mu.Unlock()

	if r.mirror != nil {
		if err := r.mirror.SAdd(context.Background(), mirrorKey, connID).Err(); err != nil {
			log.WithError(err).WithField("conn", connID).Warn("presence mirror add failed")
		}
	}
	return *u
}

// UpdateProfile mutates an entry in place. Empty fields are left alone.
func (r *Registry) UpdateProfile(connID, username, avatar string) (model.User, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[connID]
	if !ok {
		return model.User{}, false
	}
	if username != "" {
		u.Username = username
	}
	if avatar != "" {
		u.Avatar = avatar
	}
	return *u, true
}

// Remove drops a connection and reports the entry that was present.
func (r *Registry) Remove(connID string) (model.User, bool) {
	r.mu.Lock()
	u, ok := r.users[connID]
	var removed model.User
	if ok {
		removed = *u
		delete(r.users, connID)
		for i, id := range r.order {
			if id == connID {
				r.order = append(r.order[:i], r.order[i+1:]...)
				break
			}
		}
	}
	r.mu.Unlock()

	if ok && r.mirror != nil {
		if err := r.mirror.SRem(context.Background(), mirrorKey, connID).Err(); err != nil {
			log.WithError(err).WithField("conn", connID).Warn("presence mirror remove failed")
		}
	}
	return removed, ok
}

// Get looks up one entry.
func (r *Registry) Get(connID string) (model.User, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	u, ok := r.users[connID]
	if !ok {
		return model.User{}, false
	}
	return *u, true
}

// List returns the roster in join order.
func (r *Registry) List() []model.User {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]model.User, 0, len(r.order))
	for _, id := range r.order {
		if u, ok := r.users[id]; ok {
			out = append(out, *u)
		}
	}
	return out
}
