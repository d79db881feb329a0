package journal

import (
	"encoding/binary"
	"hash/crc32"

	"github.com/pkg/errors"
	"github.com/tchajed/marshal"

	"github.com/mit-pdos/go-blobfs/common"
	"github.com/mit-pdos/go-blobfs/disk"
)

// Info is the content of the journal info block.
type Info struct {
	Start     uint64 // buffer index of the oldest live entry
	Length    uint64 // blocks in use from Start
	Timestamp uint64 // timestamp of the last reclaimed entry
}

func (info Info) empty() bool {
	return info.Start == 0 && info.Length == 0 && info.Timestamp == 0
}

const infoSumOff = 4 * 8

func (info Info) encode() disk.Block {
	enc := marshal.NewEnc(disk.BlockSize)
	enc.PutInt(InfoMagic)
	enc.PutInt(info.Start)
	enc.PutInt(info.Length)
	enc.PutInt(info.Timestamp)
	blk := enc.Finish()
	if !info.empty() {
		binary.LittleEndian.PutUint64(blk[infoSumOff:], uint64(crc32.ChecksumIEEE(blk)))
	}
	return blk
}

func decodeInfo(blk disk.Block) (Info, error) {
	dec := marshal.NewDec(blk)
	if dec.GetInt() != InfoMagic {
		return Info{}, errors.Wrap(common.ErrCorrupt, "journal info: bad magic")
	}
	info := Info{
		Start:     dec.GetInt(),
		Length:    dec.GetInt(),
		Timestamp: dec.GetInt(),
	}
	if info.empty() {
		return info, nil
	}
	sum := dec.GetInt()
	check := make([]byte, disk.BlockSize)
	copy(check, blk[:infoSumOff])
	copy(check[infoSumOff+8:], blk[infoSumOff+8:])
	if uint64(crc32.ChecksumIEEE(check)) != sum {
		return Info{}, errors.Wrap(common.ErrCorrupt, "journal info: bad checksum")
	}
	return info, nil
}

type header struct {
	ts      uint64
	targets []common.Bnum
}

func encodeHeader(ts uint64, targets []common.Bnum) disk.Block {
	enc := marshal.NewEnc(disk.BlockSize)
	enc.PutInt(HeaderMagic)
	enc.PutInt(ts)
	enc.PutInt(uint64(len(targets)))
	enc.PutInts(targets)
	return enc.Finish()
}

func decodeHeader(blk disk.Block) (header, bool) {
	dec := marshal.NewDec(blk)
	if dec.GetInt() != HeaderMagic {
		return header{}, false
	}
	ts := dec.GetInt()
	n := dec.GetInt()
	if n == 0 || n > MaxEntryBlocks {
		return header{}, false
	}
	return header{ts: ts, targets: dec.GetInts(n)}, true
}

func encodeCommit(ts uint64, sum uint32) disk.Block {
	enc := marshal.NewEnc(disk.BlockSize)
	enc.PutInt(CommitMagic)
	enc.PutInt(ts)
	enc.PutInt(uint64(sum))
	return enc.Finish()
}

func decodeCommit(blk disk.Block) (uint64, uint32, bool) {
	dec := marshal.NewDec(blk)
	if dec.GetInt() != CommitMagic {
		return 0, 0, false
	}
	ts := dec.GetInt()
	sum := dec.GetInt()
	return ts, uint32(sum), true
}

// LoadInfo reads and checks the info block of the journal at start.
func LoadInfo(d disk.Disk, start common.Bnum) (Info, error) {
	blk, err := d.Read(start + infoBlk)
	if err != nil {
		return Info{}, errors.Wrap(err, "journal info")
	}
	return decodeInfo(blk)
}

// Format initializes an empty journal of nblocks blocks at start.
func Format(d disk.Disk, start common.Bnum, nblocks uint64) error {
	if nblocks < MinBlocks {
		return errors.Wrapf(common.ErrInvalidArgument, "journal of %d blocks", nblocks)
	}
	zero := make(disk.Block, disk.BlockSize)
	for i := uint64(entryBase); i < nblocks; i++ {
		if err := d.Write(start+i, zero); err != nil {
			return err
		}
	}
	if err := d.Write(start+infoBlk, Info{}.encode()); err != nil {
		return err
	}
	return d.Barrier()
}
