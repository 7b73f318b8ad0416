package session

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/zeusync/worldcore/internal/core/handle"
)

var (
	ErrSessionClosed = errors.New("session closed")
	ErrSlowConsumer  = errors.New("outbound queue overflow")
	ErrRateLimited   = errors.New("inbound rate limit exceeded")
	ErrHubFull       = errors.New("session limit reached")
)

type Options struct {
	SendQueue int
	// RateLimit is packets per second; zero disables limiting.
	RateLimit float64
	RateBurst int
}

func DefaultOptions() Options {
	return Options{SendQueue: 256, RateLimit: 60, RateBurst: 120}
}

// Session is one client connection as the simulation sees it. The network
// side drains Outbound and feeds inbound packets to an Ingress; the
// simulation only calls Send and Close.
type Session struct {
	id      uuid.UUID
	remote  string
	out     chan Packet
	limiter *rate.Limiter

	player atomic.Uint32

	closeOnce sync.Once
	done      chan struct{}
	err       error

	sent    atomic.Uint64
	dropped atomic.Uint64
}

func New(remote string, opts Options) *Session {
	if opts.SendQueue <= 0 {
		opts.SendQueue = DefaultOptions().SendQueue
	}
	limit := rate.Inf
	if opts.RateLimit > 0 {
		limit = rate.Limit(opts.RateLimit)
	}
	return &Session{
		id:      uuid.New(),
		remote:  remote,
		out:     make(chan Packet, opts.SendQueue),
		limiter: rate.NewLimiter(limit, max(opts.RateBurst, 1)),
		done:    make(chan struct{}),
	}
}

func (s *Session) ID() uuid.UUID  { return s.id }
func (s *Session) Remote() string { return s.remote }

// Player is the handle bound to this session, or handle.Invalid.
func (s *Session) Player() handle.Handle {
	return handle.Handle(s.player.Load())
}

func (s *Session) Bind(h handle.Handle) {
	s.player.Store(uint32(h))
}

// Send queues p without blocking. A full queue closes the session with
// ErrSlowConsumer and the packet is dropped.
func (s *Session) Send(p Packet) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.out <- p:
		s.sent.Add(1)
		return true
	default:
		s.dropped.Add(1)
		s.Close(ErrSlowConsumer)
		return false
	}
}

// Outbound is drained by the connection writer.
func (s *Session) Outbound() <-chan Packet {
	return s.out
}

// Allow reports whether another inbound packet fits the rate limit.
func (s *Session) Allow() bool {
	return s.limiter.Allow()
}

// Close ends the session; the first reason wins.
func (s *Session) Close(reason error) {
	s.closeOnce.Do(func() {
		if reason == nil {
			reason = ErrSessionClosed
		}
		s.err = reason
		close(s.done)
	})
}

func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Err returns the close reason, or nil while open.
func (s *Session) Err() error {
	select {
	case <-s.done:
		return s.err
	default:
		return nil
	}
}

func (s *Session) Sent() uint64    { return s.sent.Load() }
func (s *Session) Dropped() uint64 { return s.dropped.Load() }
