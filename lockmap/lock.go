// Package lockmap provides a lock for every metadata block number.
//
// Locks are kept in a fixed set of shards; shard i holds the state of every
// block bn with bn % NSHARD == i. A block's lock exists only while it is
// held.
package lockmap

import (
	"sort"
	"sync"

	"github.com/mit-pdos/go-blobfs/common"
)

type lockShard struct {
	mu   *sync.Mutex
	cond *sync.Cond // broadcast on every release in the shard
	held map[common.Bnum]bool
}

func mkLockShard() *lockShard {
	mu := new(sync.Mutex)
	return &lockShard{
		mu:   mu,
		cond: sync.NewCond(mu),
		held: make(map[common.Bnum]bool),
	}
}

func (sh *lockShard) acquire(bn common.Bnum) {
	sh.mu.Lock()
	for sh.held[bn] {
		sh.cond.Wait()
	}
	sh.held[bn] = true
	sh.mu.Unlock()
}

func (sh *lockShard) release(bn common.Bnum) {
	sh.mu.Lock()
	if !sh.held[bn] {
		panic("lockmap: release of a free block")
	}
	delete(sh.held, bn)
	sh.cond.Broadcast()
	sh.mu.Unlock()
}

const NSHARD uint64 = 43

type LockMap struct {
	shards []*lockShard
}

func MkLockMap() *LockMap {
	shards := make([]*lockShard, NSHARD)
	for i := range shards {
		shards[i] = mkLockShard()
	}
	return &LockMap{shards: shards}
}

func (lmap *LockMap) Acquire(bn common.Bnum) {
	lmap.shards[bn%NSHARD].acquire(bn)
}

func (lmap *LockMap) Release(bn common.Bnum) {
	lmap.shards[bn%NSHARD].release(bn)
}

// AcquireAll locks the distinct blocks in bns in increasing order and
// returns them for ReleaseAll.
func (lmap *LockMap) AcquireAll(bns []common.Bnum) []common.Bnum {
	sorted := append([]common.Bnum(nil), bns...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	var uniq []common.Bnum
	for i, bn := range sorted {
		if i > 0 && bn == sorted[i-1] {
			continue
		}
		uniq = append(uniq, bn)
		lmap.Acquire(bn)
	}
	return uniq
}

func (lmap *LockMap) ReleaseAll(bns []common.Bnum) {
	for _, bn := range bns {
		lmap.Release(bn)
	}
}
