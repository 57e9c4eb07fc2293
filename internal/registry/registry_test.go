package registry

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/spaceshq/spaces-server/internal/domain"
)

func TestUpsertAndGet(t *testing.T) {
	r := NewMemory()

	r.Upsert(domain.NewSpaceSession("c1", "ana", "general"))

	s, ok := r.Get("c1")
	assert.True(t, ok)
	assert.Equal(t, "ana", s.Nickname)
	assert.Equal(t, domain.ModeSpace, s.Mode)
	assert.Equal(t, "general", s.Space)
	assert.Equal(t, 1, r.Len())
}

func TestGetUnknown(t *testing.T) {
	r := NewMemory()

	_, ok := r.Get("missing")
	assert.False(t, ok)
}

func TestUpsertOverwritesWithoutDuplicating(t *testing.T) {
	r := NewMemory()

	r.Upsert(domain.NewSpaceSession("c1", "ana", "general"))
	s, _ := r.Get("c1")
	r.Upsert(s.EnterSpace("random"))

	assert.Equal(t, 1, r.Len())
	s, _ = r.Get("c1")
	assert.Equal(t, "random", s.Space)
}

func TestRemove(t *testing.T) {
	r := NewMemory()

	r.Upsert(domain.NewSpaceSession("c1", "ana", "general"))
	r.Remove("c1")

	_, ok := r.Get("c1")
	assert.False(t, ok)
	assert.Equal(t, 0, r.Len())

	// removing twice is a no-op
	r.Remove("c1")
	assert.Equal(t, 0, r.Len())
}

func TestSnapshotInsertionOrder(t *testing.T) {
	r := NewMemory()

	r.Upsert(domain.NewSpaceSession("c1", "ana", "general"))
	r.Upsert(domain.NewSpaceSession("c2", "bruno", "general"))
	r.Upsert(domain.NewSpaceSession("c3", "clara", "random"))
	r.Remove("c2")
	r.Upsert(domain.NewSpaceSession("c4", "dani", "general"))

	snap := r.Snapshot()
	ids := make([]string, 0, len(snap))
	for _, s := range snap {
		ids = append(ids, s.ConnectionID)
	}
	assert.Equal(t, []string{"c1", "c3", "c4"}, ids)
}

func TestSnapshotIsACopy(t *testing.T) {
	r := NewMemory()

	r.Upsert(domain.NewSpaceSession("c1", "ana", "general"))
	snap := r.Snapshot()
	r.Remove("c1")

	assert.Len(t, snap, 1)
	assert.Equal(t, "ana", snap[0].Nickname)
}

func TestConcurrentAccess(t *testing.T) {
	r := NewMemory()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			id := fmt.Sprintf("c%d", n)
			r.Upsert(domain.NewSpaceSession(id, "user", "general"))
			r.Get(id)
			r.Snapshot()
			if n%2 == 0 {
				r.Remove(id)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 25, r.Len())
}
