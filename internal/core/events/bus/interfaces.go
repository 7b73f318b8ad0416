package bus

import (
	"github.com/zeusync/worldcore/internal/core/handle"
)

// EventBus is an in-process pub/sub bus for world lifecycle events.
//
// Delivery is synchronous on the publishing goroutine, in subscription
// order. Handler errors are joined and returned from Publish; a failing
// handler does not stop delivery to the rest. All methods are safe for
// concurrent use.
type EventBus interface {
	Publish(event Event) error
	// PublishWithFilters drops the event without error when any filter
	// rejects it.
	PublishWithFilters(event Event, filters ...EventFilter) error
	PublishBatch(events ...Event) error

	Subscribe(kind Kind, handler EventHandler) (Subscription, error)
	// SubscribeAll receives every event regardless of kind.
	SubscribeAll(handler EventHandler) (Subscription, error)
	Unsubscribe(Subscription) error

	AddObserver(obs EventBusObserver)
	RemoveObserver(obs EventBusObserver)
	GetMetrics() EventBusMetrics
}

// Kind routes events to subscribers.
type Kind string

const (
	EntityAdded     Kind = "entity.added"
	EntityRemoved   Kind = "entity.removed"
	SessionOpened   Kind = "session.opened"
	SessionClosed   Kind = "session.closed"
	PersistRollback Kind = "persist.rollback"
	PlayerSaved     Kind = "player.saved"
	ConfigReloaded  Kind = "config.reloaded"
)

// Event is a value; handlers must not retain Data beyond the call when it
// is a pointer owned by the world.
type Event struct {
	Kind   Kind
	Handle handle.Handle
	// Tick is the world clock in milliseconds at publish time.
	Tick uint64
	Data any
}

type (
	EventHandler func(event Event) error
	EventFilter  func(event Event) bool
)

type Subscription interface {
	ID() string
	Kind() Kind
	IsActive() bool
	// Cancel de-registers the handler. Multiple calls are safe.
	Cancel() error
}

// EventBusObserver is told about every delivery. The metrics package
// implements it.
type EventBusObserver interface {
	OnPublish(event Event)
	OnDelivered(event Event, handlers int, err error)
}

type EventBusMetrics struct {
	Published         uint64
	DeliveredHandlers uint64
	Errors            uint64
	DroppedByFilters  uint64
	SubscribersActive uint64
}

// RollbackData accompanies PersistRollback events.
type RollbackData struct {
	Field    string
	Previous int64
	Attempt  int64
	Err      error
}
