package stream

import (
	"sync"

	"github.com/ashureev/scam-honeypot/internal/engine"
)

// replayRing keeps the most recent events so late subscribers can catch up.
// When full, the oldest event is overwritten.
type replayRing struct {
	mu   sync.RWMutex
	buf  []engine.Event
	size int
	head int // write position
	tail int // read position
	full bool
}

func newReplayRing(size int) *replayRing {
	if size <= 0 {
		size = 128
	}
	return &replayRing{buf: make([]engine.Event, size), size: size}
}

func (r *replayRing) push(ev engine.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.full {
		r.tail = (r.tail + 1) % r.size
	}
	r.buf[r.head] = ev
	r.head = (r.head + 1) % r.size
	if r.head == r.tail {
		r.full = true
	}
}

// snapshot returns buffered events for key, oldest first. AllSessions
// matches every event.
func (r *replayRing) snapshot(key string) []engine.Event {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := r.lenLocked()
	out := make([]engine.Event, 0, n)
	for i := 0; i < n; i++ {
		ev := r.buf[(r.tail+i)%r.size]
		if key == AllSessions || ev.SessionID == key {
			out = append(out, ev)
		}
	}
	return out
}

func (r *replayRing) len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.lenLocked()
}

func (r *replayRing) lenLocked() int {
	switch {
	case r.full:
		return r.size
	case r.head >= r.tail:
		return r.head - r.tail
	default:
		return (r.size - r.tail) + r.head
	}
}
