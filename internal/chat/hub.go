package chat

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/civic-reports/chat-gateway/internal/model"
	"github.com/civic-reports/chat-gateway/internal/upstream"
	"github.com/civic-reports/chat-gateway/pkg/logger"
)

// minSweepInterval bounds how often Run scans for idle rooms.
const minSweepInterval = time.Second

// roomKey identifies a room by the exact credential that opened it. A room
// is never handed to a different token, even one naming the same user.
type roomKey struct {
	session string
	role    model.Role
}

// Hub owns the rooms of all connected callers. Each token has at most one
// room per role, matching one open chat per dashboard.
type Hub struct {
	namespaces map[model.Role]Namespace
	opts       RoomOptions
	logger     *logger.Logger

	mu    sync.Mutex
	rooms map[roomKey]*Room
}

// NewHub creates a hub serving the given namespaces.
func NewHub(namespaces []Namespace, opts RoomOptions, log *logger.Logger) *Hub {
	byRole := make(map[model.Role]Namespace, len(namespaces))
	for _, ns := range namespaces {
		byRole[ns.Role()] = ns
	}
	return &Hub{
		namespaces: byRole,
		opts:       opts,
		logger:     log,
		rooms:      make(map[roomKey]*Room),
	}
}

func keyFor(sess *upstream.Session, role model.Role) roomKey {
	return roomKey{session: sess.Key(), role: role}
}

// Room returns the caller's room for role, creating it if needed.
func (h *Hub) Room(sess *upstream.Session, role model.Role) (*Room, error) {
	if !sess.Valid() {
		return nil, upstream.ErrMissingToken
	}
	ns, ok := h.namespaces[role]
	if !ok {
		return nil, fmt.Errorf("no namespace for role %q", role)
	}

	key := keyFor(sess, role)

	h.mu.Lock()
	defer h.mu.Unlock()

	room, ok := h.rooms[key]
	if !ok {
		room = NewRoom(ns, sess, h.opts, h.logger.With(zap.String("user_id", sess.UserID)))
		h.rooms[key] = room
		return room, nil
	}
	room.touch()
	return room, nil
}

// Lookup returns the caller's existing room for role.
func (h *Hub) Lookup(sess *upstream.Session, role model.Role) (*Room, bool) {
	if !sess.Valid() {
		return nil, false
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	room, ok := h.rooms[keyFor(sess, role)]
	if ok {
		room.touch()
	}
	return room, ok
}

// Release closes and forgets the caller's room for role.
func (h *Hub) Release(sess *upstream.Session, role model.Role) bool {
	if !sess.Valid() {
		return false
	}
	key := keyFor(sess, role)

	h.mu.Lock()
	room, ok := h.rooms[key]
	delete(h.rooms, key)
	h.mu.Unlock()

	if ok {
		room.Close()
	}
	return ok
}

// Len returns the number of live rooms.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.rooms)
}

// Sweep closes rooms without subscribers that have not been used for idle
// as of now. It returns how many were closed.
func (h *Hub) Sweep(now time.Time, idle time.Duration) int {
	var stale []*Room

	h.mu.Lock()
	for key, room := range h.rooms {
		since, ok := room.IdleSince()
		if ok && now.Sub(since) >= idle {
			stale = append(stale, room)
			delete(h.rooms, key)
		}
	}
	h.mu.Unlock()

	for _, room := range stale {
		room.Close()
	}
	return len(stale)
}

// Run sweeps idle rooms until ctx is done. A browser that goes away
// without closing its room loses it after idle.
func (h *Hub) Run(ctx context.Context, idle time.Duration) {
	interval := idle / 2
	if interval < minSweepInterval {
		interval = minSweepInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if n := h.Sweep(now, idle); n > 0 {
				h.logger.Info("closed idle chat rooms", zap.Int("rooms", n), zap.Int("remaining", h.Len()))
			}
		}
	}
}

// Shutdown closes every room.
func (h *Hub) Shutdown() {
	h.mu.Lock()
	rooms := h.rooms
	h.rooms = make(map[roomKey]*Room)
	h.mu.Unlock()

	for _, room := range rooms {
		room.Close()
	}
	h.logger.Info("chat hub stopped", zap.Int("rooms", len(rooms)))
}
