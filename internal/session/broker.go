// Package session tracks the active session and notifies watchers when the
// session identity changes (clear-memories starts a new session).
package session

import "sync"

// Broker fans session-id changes out to subscribers. Consecutive duplicate
// announcements are suppressed so a watcher only wakes on real changes.
type Broker struct {
	mu      sync.RWMutex
	current string
	nextSub int
	subs    map[int]chan string
}

// NewBroker creates a broker with the given initial session id.
func NewBroker(current string) *Broker {
	return &Broker{
		current: current,
		subs:    make(map[int]chan string),
	}
}

// Current returns the active session id.
func (b *Broker) Current() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.current
}

// Subscribe returns a channel of session ids plus a cancel func. The current
// id is delivered immediately so a new watcher never waits for the next change.
func (b *Broker) Subscribe() (<-chan string, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextSub
	b.nextSub++
	ch := make(chan string, 16)
	b.subs[id] = ch
	if b.current != "" {
		ch <- b.current
	}

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if sub, ok := b.subs[id]; ok {
			close(sub)
			delete(b.subs, id)
		}
	}
	return ch, cancel
}

// Announce publishes a new session id. Announcing the current id is a no-op.
func (b *Broker) Announce(sessionID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if sessionID == b.current {
		return
	}
	b.current = sessionID
	for _, ch := range b.subs {
		select {
		case ch <- sessionID:
		default:
		}
	}
}
