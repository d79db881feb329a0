// shardmap holds the latest committed image of metadata blocks, sharded by
// block number.
package shardmap

import (
	"sort"
	"sync"

	"github.com/mit-pdos/go-blobfs/common"
	"github.com/mit-pdos/go-blobfs/disk"
	"github.com/mit-pdos/go-blobfs/journal"
	"github.com/mit-pdos/go-blobfs/util"
)

type mapShard struct {
	mu    *sync.RWMutex
	state map[uint64]disk.Block
}

type BlockMap struct {
	shards []*mapShard
}

const NSHARD uint64 = 31

func mkMapShard() *mapShard {
	state := make(map[uint64]disk.Block)
	mu := new(sync.RWMutex)
	a := &mapShard{
		mu:    mu,
		state: state,
	}
	return a
}

func MkBlockMap() *BlockMap {
	var shards []*mapShard
	for i := uint64(0); i < NSHARD; i++ {
		shards = append(shards, mkMapShard())
	}
	a := &BlockMap{
		shards: shards,
	}
	return a
}

func (bmap *BlockMap) getShardNo(addr common.Bnum) uint64 {
	return addr % NSHARD
}

func (bmap *BlockMap) getShard(addr common.Bnum) *mapShard {
	return bmap.shards[bmap.getShardNo(addr)]
}

// Read returns a copy of the block image at addr, if present.
func (bmap *BlockMap) Read(addr common.Bnum) (disk.Block, bool) {
	shard := bmap.getShard(addr)
	shard.mu.RLock()
	blk0, ok := shard.state[addr]
	blk := util.CloneByteSlice(blk0)
	shard.mu.RUnlock()
	return blk, ok
}

func (bmap *BlockMap) Write(addr common.Bnum, blk disk.Block) {
	shard := bmap.getShard(addr)
	shard.mu.Lock()
	shard.state[addr] = blk
	shard.mu.Unlock()
}

// Len is the number of blocks held.
func (bmap *BlockMap) Len() uint64 {
	var n uint64
	for _, shard := range bmap.shards {
		shard.mu.RLock()
		n += uint64(len(shard.state))
		shard.mu.RUnlock()
	}
	return n
}

// MultiWrite updates several blocks so that readers see all or none of the
// writes within each shard.
func (bmap *BlockMap) MultiWrite(bufs []journal.Update) {
	if len(bufs) == 0 {
		return
	}
	shardnolist := make([]uint64, 0, len(bufs))
	for _, b := range bufs {
		shardnolist = append(shardnolist, bmap.getShardNo(b.Addr))
	}
	sort.Slice(shardnolist, func(i, j int) bool { return shardnolist[i] < shardnolist[j] })
	shardnolist_uniq := make([]uint64, 0, len(shardnolist))
	shardnolist_uniq = append(shardnolist_uniq, shardnolist[0])
	var last = shardnolist[0]
	for _, sno := range shardnolist {
		if sno != last {
			shardnolist_uniq = append(shardnolist_uniq, sno)
			last = sno
		}
	}

	for _, shardno := range shardnolist_uniq {
		bmap.shards[shardno].mu.Lock()
	}
	for _, buf := range bufs {
		shard := bmap.getShard(buf.Addr)
		shard.state[buf.Addr] = buf.Block
	}
	for _, shardno := range shardnolist_uniq {
		bmap.shards[shardno].mu.Unlock()
	}
}
