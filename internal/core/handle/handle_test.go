package handle

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBaseValues(t *testing.T) {
	a := NewAllocator()
	assert.Equal(t, Handle(0x00000001), a.Allocate(CategoryItem))
	assert.Equal(t, Handle(0x20000001), a.Allocate(CategoryObject))
	assert.Equal(t, Handle(0x40000001), a.Allocate(CategoryMonster))
	assert.Equal(t, Handle(0x80000001), a.Allocate(CategoryPlayer))
	assert.Equal(t, Handle(0xC0000001), a.Allocate(CategorySummon))
	assert.Equal(t, Handle(0x80000002), a.Allocate(CategoryPlayer))
}

func TestCategoryRoundTrip(t *testing.T) {
	for _, c := range Categories {
		h := Make(c, 12345)
		assert.Equal(t, c, h.Category())
		assert.Equal(t, uint32(12345), h.Sequence())
		assert.True(t, h.Valid())
	}
	assert.False(t, Invalid.Valid())
	assert.False(t, Make(CategoryPlayer, 0).Valid())
	assert.Equal(t, "player#7", Make(CategoryPlayer, 7).String())
}

func TestConcurrentAllocationIsUnique(t *testing.T) {
	a := NewAllocator()
	const workers, perWorker = 8, 500

	var mu sync.Mutex
	seen := make(map[Handle]struct{}, workers*perWorker*len(Categories))
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			local := make([]Handle, 0, perWorker*len(Categories))
			for i := 0; i < perWorker; i++ {
				for _, c := range Categories {
					local = append(local, a.Allocate(c))
				}
			}
			mu.Lock()
			defer mu.Unlock()
			for _, h := range local {
				_, dup := seen[h]
				assert.False(t, dup, "duplicate handle %s", h)
				seen[h] = struct{}{}
			}
		}()
	}
	wg.Wait()

	assert.Len(t, seen, workers*perWorker*len(Categories))
	for _, c := range Categories {
		assert.Equal(t, uint32(workers*perWorker), a.Issued(c))
	}
}

func TestOverflowPanics(t *testing.T) {
	a := NewAllocator()
	a.counters[CategoryMonster].Store(uint32(SequenceMask))

	defer func() {
		r := recover()
		require.NotNil(t, r)
		err, ok := r.(*OverflowError)
		require.True(t, ok)
		assert.Equal(t, CategoryMonster, err.Category)
	}()
	a.Allocate(CategoryMonster)
}
