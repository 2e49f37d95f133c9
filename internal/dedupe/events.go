// ABOUTME: Bounded TTL set of chat event ids already handled
// ABOUTME: Stops a redelivered or replayed event from provisioning a second guest

package dedupe

import (
	"container/list"
	"sync"
	"time"
)

type seenEvent struct {
	id string
	at time.Time
}

// Events remembers event ids for a fixed window. Entries are kept in arrival
// order, so expiry and eviction both pop from the front.
type Events struct {
	mu    sync.Mutex
	ttl   time.Duration
	max   int
	index map[string]*list.Element
	order *list.List
	now   func() time.Time
}

// NewEvents creates a set that forgets ids after ttl and holds at most maxSize ids.
func NewEvents(ttl time.Duration, maxSize int) *Events {
	if maxSize < 1 {
		maxSize = 1
	}
	return &Events{
		ttl:   ttl,
		max:   maxSize,
		index: make(map[string]*list.Element),
		order: list.New(),
		now:   time.Now,
	}
}

// Seen reports whether id was already recorded inside the window, and records
// it if not. The check and the record happen under one lock.
func (e *Events) Seen(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.now()
	e.expireLocked(now)

	if _, ok := e.index[id]; ok {
		return true
	}

	for e.order.Len() >= e.max {
		e.removeLocked(e.order.Front())
	}
	e.index[id] = e.order.PushBack(seenEvent{id: id, at: now})
	return false
}

// Len returns the number of ids currently remembered.
func (e *Events) Len() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.expireLocked(e.now())
	return e.order.Len()
}

func (e *Events) expireLocked(now time.Time) {
	for front := e.order.Front(); front != nil; front = e.order.Front() {
		if now.Sub(front.Value.(seenEvent).at) < e.ttl {
			return
		}
		e.removeLocked(front)
	}
}

func (e *Events) removeLocked(elem *list.Element) {
	ev := e.order.Remove(elem).(seenEvent)
	delete(e.index, ev.id)
}
