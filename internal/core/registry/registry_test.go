package registry

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zeusync/worldcore/internal/core/entity"
	"github.com/zeusync/worldcore/internal/core/handle"
	"github.com/zeusync/worldcore/internal/core/motion"
)

func register(t *testing.T, r *Registry, e entity.Entity) handle.Handle {
	t.Helper()
	h := r.Allocate(e.Kind().Category())
	require.NoError(t, e.SetHandle(h))
	require.NoError(t, r.Register(e))
	return h
}

func TestLookupAndFind(t *testing.T) {
	r := New()
	p := entity.NewPlayer(1, "alice", motion.At(0, 0, 0))
	m := entity.NewMonster(3, 1, 10, motion.At(0, 0, 0))
	ph := register(t, r, p)
	mh := register(t, r, m)

	assert.Same(t, p, r.Lookup(ph))

	got, ok := Find[*entity.Player](r, ph)
	require.True(t, ok)
	assert.Same(t, p, got)

	_, ok = Find[*entity.Player](r, mh)
	assert.False(t, ok)

	assert.Nil(t, r.Lookup(handle.Make(handle.CategoryPlayer, 999)))
	assert.Nil(t, r.Lookup(handle.Invalid))
}

func TestDeadHandleResolvesToNil(t *testing.T) {
	r := New()
	m := entity.NewMonster(3, 1, 10, motion.At(0, 0, 0))
	h := register(t, r, m)
	kept := h

	r.Remove(m)

	assert.Nil(t, r.Lookup(kept))
	_, ok := Find[*entity.Monster](r, kept)
	assert.False(t, ok)
	assert.Equal(t, 0, r.Count(handle.CategoryMonster))

	next := r.Allocate(handle.CategoryMonster)
	assert.NotEqual(t, kept, next)
}

func TestDoubleRemovePanics(t *testing.T) {
	r := New()
	m := entity.NewMonster(3, 1, 10, motion.At(0, 0, 0))
	register(t, r, m)
	r.Remove(m)

	assert.PanicsWithError(t, "registry: remove of unregistered "+m.Handle().String(), func() { r.Remove(m) })
}

func TestRegisterRejectsBadHandles(t *testing.T) {
	r := New()
	p := entity.NewPlayer(1, "bob", motion.At(0, 0, 0))
	assert.ErrorIs(t, r.Register(p), ErrInvalidHandle)

	h := register(t, r, p)
	other := entity.NewPlayer(2, "eve", motion.At(0, 0, 0))
	require.NoError(t, other.SetHandle(h))
	assert.ErrorIs(t, r.Register(other), ErrAlreadyRegistered)
}

func TestPendingSkipsPassiveEntities(t *testing.T) {
	r := New()
	register(t, r, entity.NewPlayer(1, "a", motion.At(0, 0, 0)))
	register(t, r, entity.NewItem(1, 100, 1))
	register(t, r, entity.NewFieldProp(9, motion.At(0, 0, 0)))
	register(t, r, entity.NewNPC(9, motion.At(0, 0, 0)))

	pending := r.DrainPending()
	require.Len(t, pending, 2)
	assert.Equal(t, entity.KindPlayer, pending[0].Kind())
	assert.Equal(t, entity.KindObject, pending[1].Kind())
	assert.Empty(t, r.DrainPending())
}

func TestConcurrentReaders(t *testing.T) {
	r := New()
	handles := make([]handle.Handle, 100)
	for i := range handles {
		handles[i] = register(t, r, entity.NewMonster(1, 1, 10, motion.At(0, 0, 0)))
	}

	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 1000; i++ {
				_ = r.Lookup(handles[i%len(handles)])
				_ = r.Count(handle.CategoryMonster)
			}
		}()
	}
	for i := 0; i < 50; i++ {
		m := r.Lookup(handles[i])
		r.Remove(m)
	}
	wg.Wait()

	assert.Equal(t, 50, r.Count(handle.CategoryMonster))
	n := 0
	r.ForEach(handle.CategoryMonster, func(entity.Entity) { n++ })
	assert.Equal(t, 50, n)

	r.Destroy()
	assert.Equal(t, 0, r.Count(handle.CategoryMonster))
}
