package bus

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zeusync/worldcore/internal/core/handle"
)

type testObserver struct {
	published int
	delivered int
	lastErr   error
}

func (o *testObserver) OnPublish(Event) {
	o.published++
}

func (o *testObserver) OnDelivered(_ Event, handlers int, err error) {
	o.delivered += handlers
	o.lastErr = err
}

func TestPublishSubscribe(t *testing.T) {
	b := New()
	var got []Event
	_, err := b.Subscribe(EntityAdded, func(e Event) error {
		got = append(got, e)
		return nil
	})
	require.NoError(t, err)

	h := handle.Make(handle.CategoryPlayer, 3)
	require.NoError(t, b.Publish(Event{Kind: EntityAdded, Handle: h, Tick: 50}))
	require.NoError(t, b.Publish(Event{Kind: EntityRemoved, Handle: h}))

	require.Len(t, got, 1)
	assert.Equal(t, h, got[0].Handle)
	assert.Equal(t, uint64(50), got[0].Tick)
}

func TestDeliveryOrderAndWildcard(t *testing.T) {
	b := New()
	var order []string
	_, _ = b.SubscribeAll(func(Event) error { order = append(order, "all"); return nil })
	_, _ = b.Subscribe(PlayerSaved, func(Event) error { order = append(order, "first"); return nil })
	_, _ = b.Subscribe(PlayerSaved, func(Event) error { order = append(order, "second"); return nil })

	require.NoError(t, b.Publish(Event{Kind: PlayerSaved}))
	assert.Equal(t, []string{"first", "second", "all"}, order)
}

func TestHandlerErrorsAreJoined(t *testing.T) {
	b := New()
	obs := &testObserver{}
	b.AddObserver(obs)
	b.AddObserver(obs)

	errA, errB := errors.New("a"), errors.New("b")
	calls := 0
	_, _ = b.Subscribe(PersistRollback, func(Event) error { calls++; return errA })
	_, _ = b.Subscribe(PersistRollback, func(Event) error { calls++; return nil })
	_, _ = b.Subscribe(PersistRollback, func(Event) error { calls++; return errB })

	err := b.Publish(Event{Kind: PersistRollback})
	assert.Equal(t, 3, calls)
	assert.ErrorIs(t, err, errA)
	assert.ErrorIs(t, err, errB)

	assert.Equal(t, 1, obs.published)
	assert.Equal(t, 3, obs.delivered)
	assert.Equal(t, err, obs.lastErr)
	assert.Equal(t, uint64(1), b.GetMetrics().Errors)

	b.RemoveObserver(obs)
	_ = b.Publish(Event{Kind: PersistRollback})
	assert.Equal(t, 1, obs.published)
}

func TestCancelStopsDelivery(t *testing.T) {
	b := New()
	calls := 0
	sub, err := b.Subscribe(EntityRemoved, func(Event) error { calls++; return nil })
	require.NoError(t, err)
	assert.True(t, sub.IsActive())
	assert.NotEmpty(t, sub.ID())

	require.NoError(t, b.Unsubscribe(sub))
	require.NoError(t, sub.Cancel())
	require.NoError(t, b.Unsubscribe(nil))
	assert.False(t, sub.IsActive())

	require.NoError(t, b.Publish(Event{Kind: EntityRemoved}))
	assert.Zero(t, calls)
	assert.Zero(t, b.GetMetrics().SubscribersActive)
}

func TestFiltersAndBatch(t *testing.T) {
	b := New()
	var handles []handle.Handle
	_, _ = b.Subscribe(EntityAdded, func(e Event) error {
		handles = append(handles, e.Handle)
		return nil
	})

	onlyPlayers := func(e Event) bool { return e.Handle.Category() == handle.CategoryPlayer }
	require.NoError(t, b.PublishWithFilters(Event{Kind: EntityAdded, Handle: handle.Make(handle.CategoryMonster, 1)}, onlyPlayers))
	require.NoError(t, b.PublishWithFilters(Event{Kind: EntityAdded, Handle: handle.Make(handle.CategoryPlayer, 1)}, onlyPlayers))
	require.NoError(t, b.PublishBatch(
		Event{Kind: EntityAdded, Handle: handle.Make(handle.CategoryItem, 1)},
		Event{Kind: EntityAdded, Handle: handle.Make(handle.CategoryItem, 2)},
	))

	assert.Equal(t, []handle.Handle{
		handle.Make(handle.CategoryPlayer, 1),
		handle.Make(handle.CategoryItem, 1),
		handle.Make(handle.CategoryItem, 2),
	}, handles)
	assert.Equal(t, uint64(1), b.GetMetrics().DroppedByFilters)
}

func TestConcurrentPublish(t *testing.T) {
	b := New()
	var mu sync.Mutex
	count := 0
	_, _ = b.Subscribe(SessionOpened, func(Event) error {
		mu.Lock()
		count++
		mu.Unlock()
		return nil
	})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				assert.NoError(t, b.Publish(Event{Kind: SessionOpened}))
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 800, count)
	assert.Equal(t, uint64(800), b.GetMetrics().Published)
}
