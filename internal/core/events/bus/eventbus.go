package bus

import (
	"errors"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

const anyKind Kind = "*"

type subscription struct {
	id      string
	kind    Kind
	handler EventHandler
	active  atomic.Bool
	cancel  func()
}

func (s *subscription) ID() string     { return s.id }
func (s *subscription) Kind() Kind     { return s.kind }
func (s *subscription) IsActive() bool { return s.active.Load() }
func (s *subscription) Cancel() error {
	if s.active.CompareAndSwap(true, false) && s.cancel != nil {
		s.cancel()
	}
	return nil
}

type inMemoryBus struct {
	mu        sync.RWMutex
	handlers  map[Kind][]*subscription
	observers []EventBusObserver

	published  atomic.Uint64
	delivered  atomic.Uint64
	errorCount atomic.Uint64
	dropped    atomic.Uint64
}

func New() EventBus {
	return &inMemoryBus{handlers: make(map[Kind][]*subscription)}
}

func (b *inMemoryBus) Subscribe(kind Kind, handler EventHandler) (Subscription, error) {
	if handler == nil {
		return nil, errors.New("bus: nil handler")
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	s := &subscription{id: uuid.NewString(), kind: kind, handler: handler}
	s.active.Store(true)
	s.cancel = func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.handlers[kind] = slices.DeleteFunc(b.handlers[kind], func(other *subscription) bool {
			return other == s
		})
		if len(b.handlers[kind]) == 0 {
			delete(b.handlers, kind)
		}
	}
	b.handlers[kind] = append(b.handlers[kind], s)
	return s, nil
}

func (b *inMemoryBus) SubscribeAll(handler EventHandler) (Subscription, error) {
	return b.Subscribe(anyKind, handler)
}

func (b *inMemoryBus) Unsubscribe(sub Subscription) error {
	if sub == nil {
		return nil
	}
	return sub.Cancel()
}

func (b *inMemoryBus) Publish(event Event) error {
	b.mu.RLock()
	subs := make([]*subscription, 0, len(b.handlers[event.Kind])+len(b.handlers[anyKind]))
	subs = append(subs, b.handlers[event.Kind]...)
	subs = append(subs, b.handlers[anyKind]...)
	observers := b.observers
	b.mu.RUnlock()

	for _, obs := range observers {
		obs.OnPublish(event)
	}

	var errs []error
	delivered := 0
	for _, s := range subs {
		if !s.active.Load() {
			continue
		}
		delivered++
		if err := s.handler(event); err != nil {
			errs = append(errs, err)
		}
	}
	all := errors.Join(errs...)

	b.published.Add(1)
	b.delivered.Add(uint64(delivered))
	if all != nil {
		b.errorCount.Add(1)
	}
	for _, obs := range observers {
		obs.OnDelivered(event, delivered, all)
	}
	return all
}

func (b *inMemoryBus) PublishWithFilters(event Event, filters ...EventFilter) error {
	for _, f := range filters {
		if !f(event) {
			b.dropped.Add(1)
			return nil
		}
	}
	return b.Publish(event)
}

func (b *inMemoryBus) PublishBatch(events ...Event) error {
	var errs []error
	for _, e := range events {
		if err := b.Publish(e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (b *inMemoryBus) AddObserver(obs EventBusObserver) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if slices.Contains(b.observers, obs) {
		return
	}
	// copy on write; Publish iterates a snapshot without the lock
	b.observers = append(slices.Clone(b.observers), obs)
}

func (b *inMemoryBus) RemoveObserver(obs EventBusObserver) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.observers = slices.DeleteFunc(slices.Clone(b.observers), func(o EventBusObserver) bool {
		return o == obs
	})
}

func (b *inMemoryBus) GetMetrics() EventBusMetrics {
	b.mu.RLock()
	var active uint64
	for _, subs := range b.handlers {
		active += uint64(len(subs))
	}
	b.mu.RUnlock()

	return EventBusMetrics{
		Published:         b.published.Load(),
		DeliveredHandlers: b.delivered.Load(),
		Errors:            b.errorCount.Load(),
		DroppedByFilters:  b.dropped.Load(),
		SubscribersActive: active,
	}
}
