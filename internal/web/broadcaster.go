package web

import (
	"sync"
	"time"

	"ublox-bridge/internal/gps"
)

// LiveUpdate is one message on the live stream.
type LiveUpdate struct {
	TimeUTC  string         `json:"time_utc"`
	Snapshot gps.Snapshot   `json:"snapshot"`
	Links    map[string]any `json:"links,omitempty"`
}

// Broadcaster fans out receiver snapshots to live listeners. It keeps the
// most recent value so new subscribers get an immediate sample. Slow
// subscribers miss updates rather than block the publisher.
type Broadcaster struct {
	mu       sync.RWMutex
	subs     map[int]chan LiveUpdate
	nextID   int
	last     LiveUpdate
	haveLast bool
}

func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subs: make(map[int]chan LiveUpdate)}
}

func (b *Broadcaster) Subscribe(buffer int) (int, <-chan LiveUpdate) {
	if b == nil {
		return 0, nil
	}
	if buffer <= 0 {
		buffer = 2
	}
	ch := make(chan LiveUpdate, buffer)
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = ch
	last := b.last
	have := b.haveLast
	b.mu.Unlock()
	if have {
		select {
		case ch <- last:
		default:
		}
	}
	return id, ch
}

func (b *Broadcaster) Unsubscribe(id int) {
	if b == nil {
		return
	}
	b.mu.Lock()
	ch, ok := b.subs[id]
	if ok {
		delete(b.subs, id)
		close(ch)
	}
	b.mu.Unlock()
}

// Subscribers is the number of attached listeners.
func (b *Broadcaster) Subscribers() int {
	if b == nil {
		return 0
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

func (b *Broadcaster) Publish(u LiveUpdate) {
	if b == nil {
		return
	}
	if u.TimeUTC == "" {
		u.TimeUTC = time.Now().UTC().Format(time.RFC3339Nano)
	}
	// Sends happen under the read lock so Unsubscribe cannot close a
	// channel mid-send.
	b.mu.RLock()
	for _, ch := range b.subs {
		select {
		case ch <- u:
		default:
		}
	}
	b.mu.RUnlock()

	b.mu.Lock()
	b.last = u
	b.haveLast = true
	b.mu.Unlock()
}
