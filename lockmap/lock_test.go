package lockmap

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAcquireRelease(t *testing.T) {
	lmap := MkLockMap()
	lmap.Acquire(1)
	lmap.Acquire(1 + NSHARD)
	lmap.Release(1)
	lmap.Release(1 + NSHARD)
	assert.Panics(t, func() { lmap.Release(1) })
}

func TestMutualExclusion(t *testing.T) {
	lmap := MkLockMap()
	var wg sync.WaitGroup
	counter := 0
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for k := 0; k < 100; k++ {
				held := lmap.AcquireAll([]uint64{7, 3, 7})
				counter++
				lmap.ReleaseAll(held)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1000, counter)
}
