package session

import (
	"sync"

	"github.com/google/uuid"
)

// Inbound is a packet waiting for the simulation.
type Inbound struct {
	Session *Session
	Packet  Packet
}

// Ingress is the queue between connection readers and the tick. Readers
// push from their own goroutines; the tick swaps the buffer out.
type Ingress struct {
	mu    sync.Mutex
	buf   []Inbound
	limit int
}

func NewIngress(limit int) *Ingress {
	return &Ingress{limit: limit}
}

// Push reports false when the queue is at its limit.
func (q *Ingress) Push(s *Session, p Packet) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.limit > 0 && len(q.buf) >= q.limit {
		return false
	}
	q.buf = append(q.buf, Inbound{Session: s, Packet: p})
	return true
}

// Drain returns everything queued, reusing spare as the next buffer.
func (q *Ingress) Drain(spare []Inbound) []Inbound {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.buf
	q.buf = spare[:0]
	return out
}

func (q *Ingress) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.buf)
}

// Hub tracks sessions. New sessions wait in a pending queue until the tick
// adopts them; ended sessions wait in a closing queue until the tick
// removes their player.
type Hub struct {
	mu      sync.RWMutex
	live    map[uuid.UUID]*Session
	pending []*Session
	closing []*Session
	limit   int
}

func NewHub(limit int) *Hub {
	return &Hub{live: make(map[uuid.UUID]*Session), limit: limit}
}

// Open queues s for the next tick.
func (h *Hub) Open(s *Session) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.limit > 0 && len(h.live)+len(h.pending) >= h.limit {
		return ErrHubFull
	}
	h.pending = append(h.pending, s)
	return nil
}

// Closed queues s for removal. It is safe to call for a session that is
// still pending.
func (h *Hub) Closed(s *Session) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closing = append(h.closing, s)
}

// DrainPending moves pending sessions to the live set and returns them.
func (h *Hub) DrainPending() []*Session {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := h.pending
	h.pending = nil
	for _, s := range out {
		h.live[s.id] = s
	}
	return out
}

// DrainClosed removes closed sessions from the live set and returns the
// ones that had been live.
func (h *Hub) DrainClosed() []*Session {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []*Session
	for _, s := range h.closing {
		if _, ok := h.live[s.id]; ok {
			delete(h.live, s.id)
			out = append(out, s)
			continue
		}
		for i, p := range h.pending {
			if p == s {
				h.pending = append(h.pending[:i], h.pending[i+1:]...)
				break
			}
		}
	}
	h.closing = nil
	return out
}

func (h *Hub) Get(id uuid.UUID) (*Session, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	s, ok := h.live[id]
	return s, ok
}

func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.live)
}

// CloseAll closes every live and pending session.
func (h *Hub) CloseAll(reason error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, s := range h.live {
		s.Close(reason)
	}
	for _, s := range h.pending {
		s.Close(reason)
	}
}
