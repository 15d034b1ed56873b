package ws

import (
	"log/slog"
	"sync"
	"time"

	"gutorka/internal/models"
)

const sendBufferSize = 100

// Registry is the in-memory presence state: one buffered event channel
// per connected user and one subscriber set per chat. It is the only
// place that takes the gateway lock, callers must do their store reads
// before calling in.
type Registry struct {
	mu       sync.RWMutex
	conns    map[string]chan Event
	groups   map[string]map[string]bool
	lastSeen map[string]int64
	now      func() time.Time
}

func NewRegistry() *Registry {
	return &Registry{
		conns:    make(map[string]chan Event),
		groups:   make(map[string]map[string]bool),
		lastSeen: make(map[string]int64),
		now:      time.Now,
	}
}

// Bind registers a live connection for the user and returns its event
// channel. A previous connection's channel is closed, the newest
// connection wins.
func (r *Registry) Bind(userID string) chan Event {
	r.mu.Lock()
	defer r.mu.Unlock()

	if old, ok := r.conns[userID]; ok {
		close(old)
	}
	ch := make(chan Event, sendBufferSize)
	r.conns[userID] = ch

	return ch
}

// Unbind drops the user's connection, but only if ch is still the
// current one. A reconnect replaces the channel, after which the old
// connection's teardown must not tear down the new session.
func (r *Registry) Unbind(userID string, ch chan Event) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur, ok := r.conns[userID]
	if !ok || cur != ch {
		return false
	}
	close(cur)
	delete(r.conns, userID)
	r.lastSeen[userID] = r.now().Unix()

	return true
}

func (r *Registry) Subscribe(chatID, userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	group, ok := r.groups[chatID]
	if !ok {
		group = make(map[string]bool)
		r.groups[chatID] = group
	}
	group[userID] = true
}

func (r *Registry) Unsubscribe(chatID, userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.unsubscribeLocked(chatID, userID)
}

// UnsubscribeAll removes the user from every chat group.
func (r *Registry) UnsubscribeAll(userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for chatID := range r.groups {
		r.unsubscribeLocked(chatID, userID)
	}
}

func (r *Registry) unsubscribeLocked(chatID, userID string) {
	group, ok := r.groups[chatID]
	if !ok {
		return
	}
	delete(group, userID)
	if len(group) == 0 {
		delete(r.groups, chatID)
	}
}

// DropGroup removes a chat's subscriber set entirely.
func (r *Registry) DropGroup(chatID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.groups, chatID)
}

// Send delivers the event to one user without blocking. A full buffer
// means the consumer is too slow and the event is dropped. The read
// lock stays held across the send: Bind and Unbind close channels
// under the write lock, so a send can never hit a closed channel.
func (r *Registry) Send(userID string, ev Event) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ch, online := r.conns[userID]
	if !online {
		return false
	}
	select {
	case ch <- ev:
		return true
	default:
		slog.Warn("dropping event for slow consumer", "user_id", userID, "event", ev.Type)
		return false
	}
}

// Broadcast sends the event to every subscriber of the chat except
// skipUserID. Slow consumers are skipped, the fan-out never blocks.
func (r *Registry) Broadcast(chatID string, ev Event, skipUserID string) {
	r.mu.RLock()
	targets := make([]string, 0, len(r.groups[chatID]))
	for userID := range r.groups[chatID] {
		if userID != skipUserID {
			targets = append(targets, userID)
		}
	}
	r.mu.RUnlock()

	for _, userID := range targets {
		r.Send(userID, ev)
	}
}

func (r *Registry) Online(userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.conns[userID]
	return ok
}

func (r *Registry) Presence(userID string) models.Presence {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if _, ok := r.conns[userID]; ok {
		return models.Presence{Status: models.UserStatusOnline}
	}
	return models.Presence{
		Status:   models.UserStatusOffline,
		LastSeen: r.lastSeen[userID],
	}
}

// OnlineCount reports the number of live connections.
func (r *Registry) OnlineCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.conns)
}
