// Package live implements the per-user live push channel.
//
// A user may hold any number of handles (browser tabs, devices). Push
// delivers a payload to every handle of the user and never blocks: each
// handle has a bounded buffer, and when it is full the oldest pending payload
// is dropped to make room. Payloads are absolute values (the current unread
// count), so a dropped payload is always superseded by a newer one.
//
// Pushes for one user are serialized under the hub lock, which keeps them in
// issue order on every handle of that user.
package live

import (
	"errors"
	"sync"

	"github.com/tbourn/go-feature-board/internal/observability"
)

// State is a handle's lifecycle stage.
type State int32

const (
	Connecting State = iota
	Subscribed
	Closed
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Subscribed:
		return "subscribed"
	case Closed:
		return "closed"
	}
	return "unknown"
}

// ErrClosed is returned by Subscribe after the hub has been closed.
var ErrClosed = errors.New("live hub closed")

// Handle is one live connection of a user.
type Handle struct {
	userID string
	ch     chan any

	mu    sync.Mutex
	state State
	once  sync.Once
}

// UserID returns the user the handle belongs to.
func (h *Handle) UserID() string { return h.userID }

// C returns the channel payloads arrive on. It is closed when the handle is
// unsubscribed or the hub shuts down.
func (h *Handle) C() <-chan any { return h.ch }

// State returns the handle's current state.
func (h *Handle) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

func (h *Handle) setState(s State) {
	h.mu.Lock()
	h.state = s
	h.mu.Unlock()
}

// Hub routes pushes to the handles of each user.
type Hub struct {
	buffer int

	mu     sync.Mutex
	users  map[string]map[*Handle]struct{}
	closed bool
}

// NewHub returns a hub whose handles buffer up to buffer payloads.
func NewHub(buffer int) *Hub {
	if buffer < 1 {
		buffer = 1
	}
	return &Hub{buffer: buffer, users: make(map[string]map[*Handle]struct{})}
}

// Subscribe registers a new handle for userID.
func (h *Hub) Subscribe(userID string) (*Handle, error) {
	hd := &Handle{userID: userID, ch: make(chan any, h.buffer), state: Connecting}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		hd.setState(Closed)
		close(hd.ch)
		return nil, ErrClosed
	}
	set, ok := h.users[userID]
	if !ok {
		set = make(map[*Handle]struct{})
		h.users[userID] = set
	}
	set[hd] = struct{}{}
	hd.setState(Subscribed)
	observability.LiveHandles.Inc()
	return hd, nil
}

// Push delivers payload to every handle of userID. With no handles it is a
// no-op. It never blocks and never fails; the error return lets it satisfy
// pusher interfaces that allow failure.
func (h *Hub) Push(userID string, payload any) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	set := h.users[userID]
	if len(set) == 0 {
		observability.LivePushes.WithLabelValues("no_handles").Inc()
		return nil
	}
	for hd := range set {
		if offer(hd.ch, payload) {
			observability.LivePushes.WithLabelValues("delivered").Inc()
		} else {
			observability.LivePushes.WithLabelValues("dropped").Inc()
		}
	}
	return nil
}

// offer sends v on ch, evicting the oldest buffered value when ch is full.
// It reports false when a value had to be evicted. Callers hold the hub
// lock, so no other sender races for the freed slot.
func offer(ch chan any, v any) bool {
	select {
	case ch <- v:
		return true
	default:
	}
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- v:
	default:
	}
	return false
}

// Unsubscribe removes hd and closes its channel. Calling it more than once,
// or after Close, is safe.
func (h *Hub) Unsubscribe(hd *Handle) {
	if hd == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.release(hd)
}

// release must be called with h.mu held.
func (h *Hub) release(hd *Handle) {
	hd.once.Do(func() {
		if set, ok := h.users[hd.userID]; ok {
			delete(set, hd)
			if len(set) == 0 {
				delete(h.users, hd.userID)
			}
		}
		hd.setState(Closed)
		close(hd.ch)
		observability.LiveHandles.Dec()
	})
}

// Handles returns how many handles userID currently holds.
func (h *Hub) Handles(userID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.users[userID])
}

// Close releases every handle and rejects further subscriptions.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for _, set := range h.users {
		for hd := range set {
			h.release(hd)
		}
	}
}
