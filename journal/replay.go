package journal

import (
	"github.com/pkg/errors"

	"github.com/mit-pdos/go-blobfs/common"
	"github.com/mit-pdos/go-blobfs/disk"
	"github.com/mit-pdos/go-blobfs/util"
)

type replayed struct {
	headerIndex uint64
	ts          uint64
	targets     []common.Bnum
}

// scan parses the valid entries of ring starting at info.Start. An entry is
// valid when its header and commit agree, its timestamp is above the
// previous one and its payload checksum matches. Scanning stops at the first
// invalid entry and never goes around the ring more than once.
func scan(ring []disk.Block, info Info) []replayed {
	n := uint64(len(ring))
	var ents []replayed
	idx := info.Start
	prev := info.Timestamp
	var used uint64
	for used+3 <= n {
		h, ok := decodeHeader(ring[idx])
		if !ok || h.ts <= prev {
			break
		}
		count := uint64(len(h.targets))
		if used+count+2 > n {
			break
		}
		ts, sum, ok := decodeCommit(ring[(idx+count+1)%n])
		if !ok || ts != h.ts {
			break
		}
		if checksumBlocks(ring, idx, count+1) != sum {
			util.DPrintf(1, "journal: entry %d at %d fails checksum\n", h.ts, idx)
			break
		}
		ents = append(ents, replayed{headerIndex: idx, ts: h.ts, targets: h.targets})
		prev = h.ts
		used += count + 2
		idx = (idx + count + 2) % n
	}
	return ents
}

// maxTimestamp reports the largest header timestamp anywhere in ring, so a
// reopened journal never writes timestamps at or below a stale entry.
func maxTimestamp(ring []disk.Block) uint64 {
	var max uint64
	for _, blk := range ring {
		if h, ok := decodeHeader(blk); ok && h.ts > max {
			max = h.ts
		}
	}
	return max
}

type replayResult struct {
	info    Info
	entries uint64
	maxTs   uint64
}

// replay installs every valid entry of the journal at start. When anything
// was installed it barriers and rewrites the info block to the end of the
// replayed run; an empty replay leaves the info block alone.
func replay(d disk.Disk, start common.Bnum, nblocks uint64, info Info) (replayResult, error) {
	n := nblocks - uint64(entryBase)
	if info.Start >= n || info.Length > n {
		return replayResult{}, errors.Wrapf(common.ErrCorrupt,
			"journal info start %d length %d", info.Start, info.Length)
	}
	raw, err := disk.ReadBatch(d, start+entryBase, n)
	if err != nil {
		return replayResult{}, errors.Wrap(err, "journal replay")
	}
	ring := make([]disk.Block, n)
	for i := range ring {
		ring[i] = raw[uint64(i)*disk.BlockSize : uint64(i+1)*disk.BlockSize]
	}
	size, err := d.Size()
	if err != nil {
		return replayResult{}, err
	}

	ents := scan(ring, info)
	res := replayResult{info: info, maxTs: maxTimestamp(ring)}
	if info.Timestamp > res.maxTs {
		res.maxTs = info.Timestamp
	}
	if len(ents) == 0 {
		return res, nil
	}
	for _, e := range ents {
		for i, a := range e.targets {
			if a >= size {
				return replayResult{}, errors.Wrapf(common.ErrCorrupt,
					"journal entry %d targets block %d", e.ts, a)
			}
			if err := d.Write(a, ring[(e.headerIndex+1+uint64(i))%n]); err != nil {
				return replayResult{}, errors.Wrap(err, "journal replay")
			}
		}
	}
	if err := d.Barrier(); err != nil {
		return replayResult{}, err
	}
	last := ents[len(ents)-1]
	res.info = Info{
		Start:     (last.headerIndex + uint64(len(last.targets)) + 2) % n,
		Length:    0,
		Timestamp: last.ts,
	}
	if err := d.Write(start+infoBlk, res.info.encode()); err != nil {
		return replayResult{}, err
	}
	if err := d.Barrier(); err != nil {
		return replayResult{}, err
	}
	res.entries = uint64(len(ents))
	util.DPrintf(1, "journal: replayed %d entries up to %d\n", res.entries, last.ts)
	return res, nil
}
