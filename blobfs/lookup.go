package blobfs

import (
	"sort"

	"github.com/pkg/errors"

	"github.com/mit-pdos/go-blobfs/common"
	"github.com/mit-pdos/go-blobfs/jrnl"
	"github.com/mit-pdos/go-blobfs/merkle"
	"github.com/mit-pdos/go-blobfs/super"
	"github.com/mit-pdos/go-blobfs/util"
)

// findLocked looks d up among open blobs, then the closed-blob cache, then
// the inode table. It does not register the blob it returns.
func (s *Store) findLocked(d merkle.Digest) (*Blob, bool) {
	if b, ok := s.open[d]; ok {
		return b, true
	}
	if b, ok := s.cache[d]; ok {
		if b.state == StateReadable {
			s.stats.cacheHits.Inc()
			return b, true
		}
		s.uncacheLocked(d)
	}
	for i := range s.inodes {
		ino := &s.inodes[i]
		if ino.IsCommitted() && ino.Digest == d {
			return mkLoadedBlob(s, common.Inum(i), *ino), true
		}
	}
	return nil, false
}

// LookupBlob returns the blob named d without opening it.
func (s *Store) LookupBlob(d merkle.Digest) (*Blob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.findLocked(d)
	if !ok || b.deleted {
		return nil, errors.Wrapf(common.ErrNotFound, "blob %v", d)
	}
	return b, nil
}

// acquireLocked registers b as open and takes a reference.
func (s *Store) acquireLocked(b *Blob) {
	if _, ok := s.cache[b.digest]; ok {
		s.uncacheLocked(b.digest)
	}
	s.open[b.digest] = b
	b.refs++
}

// NewBlob registers an Empty blob for d, failing if d is already known.
func (s *Store) NewBlob(d merkle.Digest) (*Blob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkMounted(); err != nil {
		return nil, err
	}
	if _, ok := s.findLocked(d); ok {
		return nil, errors.Wrapf(common.ErrExists, "blob %v", d)
	}
	b := mkBlob(s, d)
	s.acquireLocked(b)
	return b, nil
}

// Create starts a new blob named d of size bytes. The caller writes exactly
// size bytes and then closes the blob.
func (s *Store) Create(d merkle.Digest, size uint64) (*Blob, error) {
	b, err := s.NewBlob(d)
	if err != nil {
		return nil, err
	}
	if err := b.SpaceAllocate(size); err != nil {
		b.Close()
		return nil, err
	}
	return b, nil
}

// Open returns a reference to the blob named d. The blob may still be
// being written; Readable reports when it can be read.
func (s *Store) Open(d merkle.Digest) (*Blob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkMounted(); err != nil {
		return nil, err
	}
	b, ok := s.findLocked(d)
	if !ok || b.deleted {
		return nil, errors.Wrapf(common.ErrNotFound, "blob %v", d)
	}
	s.acquireLocked(b)
	return b, nil
}

// Unlink marks the blob named d for deletion. It is purged once its last
// reference is closed, or right away when it is not open.
func (s *Store) Unlink(d merkle.Digest) error {
	s.mu.Lock()
	if err := s.checkMounted(); err != nil {
		s.mu.Unlock()
		return err
	}
	b, ok := s.findLocked(d)
	if !ok || b.deleted {
		s.mu.Unlock()
		return errors.Wrapf(common.ErrNotFound, "blob %v", d)
	}
	b.deleted = true
	if b.refs > 0 {
		s.mu.Unlock()
		return nil
	}
	p := s.detachLocked(b)
	s.mu.Unlock()
	return s.purge(p)
}

func (s *Store) uncacheLocked(d merkle.Digest) {
	delete(s.cache, d)
	for i, c := range s.cacheOrder {
		if c == d {
			s.cacheOrder = append(s.cacheOrder[:i], s.cacheOrder[i+1:]...)
			break
		}
	}
}

// cacheLocked keeps a closed readable blob around with its verified buffer.
// The oldest entries are evicted past the limit, but only once their commit
// is durable: until then their data may not have reached the disk.
func (s *Store) cacheLocked(b *Blob) {
	s.cache[b.digest] = b
	s.cacheOrder = append(s.cacheOrder, b.digest)
	var keep []merkle.Digest
	excess := len(s.cacheOrder) - s.cacheLimit
	for _, d := range s.cacheOrder {
		if excess > 0 && s.cache[d].durable() {
			delete(s.cache, d)
			excess--
			util.DPrintf(10, "cache: evict %v\n", d)
			continue
		}
		keep = append(keep, d)
	}
	s.cacheOrder = keep
}

// release drops one reference to b. The last reference either caches a
// readable blob or purges one that was unlinked or never completed.
func (s *Store) release(b *Blob) error {
	s.mu.Lock()
	if b.refs == 0 {
		s.mu.Unlock()
		return errors.Wrap(common.ErrBadState, "blob closed too often")
	}
	b.refs--
	if b.refs > 0 {
		s.mu.Unlock()
		return nil
	}
	delete(s.open, b.digest)
	if b.state == StateReadable && !b.deleted {
		s.cacheLocked(b)
		s.mu.Unlock()
		return nil
	}
	p := s.detachLocked(b)
	s.mu.Unlock()
	return s.purge(p)
}

// purgeWork is what detachLocked leaves for purge to do outside s.mu.
type purgeWork struct {
	committed bool // journal the removal before freeing
	release   bool // give back an uncommitted reservation
	ino       common.Inum
	digest    merkle.Digest
	start     common.Bnum
	nblocks   uint64
}

// detachLocked makes b unreachable: it leaves the open map and the cache,
// and a committed inode stops matching lookups. Called with refs == 0.
func (s *Store) detachLocked(b *Blob) purgeWork {
	if b.refs != 0 {
		panic("purge of a referenced blob")
	}
	if b.state == StateReadable && !b.deleted {
		panic("purge of a live readable blob")
	}
	delete(s.open, b.digest)
	s.uncacheLocked(b.digest)
	p := purgeWork{ino: b.ino, digest: b.digest, start: b.start, nblocks: b.nblocks}
	ino := &s.inodes[b.ino]
	switch {
	case b.deleted && !b.reserved && ino.IsCommitted() && ino.Digest == b.digest:
		// also covers a committed blob that failed verification
		p.committed = true
		ino.StartBlock = common.StartBlockReserved
	case b.reserved:
		p.release = true
		b.reserved = false
	}
	b.state = StateError
	b.err = errors.Wrap(common.ErrBadState, "blob was purged")
	return p
}

// purge frees what detachLocked took away. A committed blob's bitmap bits,
// inode and the superblock counters are cleared in one journal entry; its
// space is reused only once that entry is durable, so no new blob's data can
// land on blocks the on-disk metadata still names.
func (s *Store) purge(p purgeWork) error {
	if !p.committed {
		if p.release {
			s.releaseReservation(p.ino, p.start, p.nblocks)
		}
		s.stats.purged.Inc()
		return nil
	}

	s.commitMu.Lock()
	s.mu.Lock()
	fs := s.superWith(-int64(p.nblocks), -1)
	s.mu.Unlock()
	op := jrnl.Begin(s.log)
	for i := uint64(0); i < p.nblocks; i++ {
		op.OverWriteBit(s.bmapStart, p.start+i, false)
	}
	op.OverWriteBit(super.INODEMAP, uint64(p.ino), false)
	op.OverWrite(s.inodeAddr(p.ino), common.INODESZ*8, (&super.Inode{}).Encode())
	op.OverWriteBlock(super.SUPERBLOCK, fs.Encode())
	c, err := op.CommitWait(false)
	if err == nil {
		s.mu.Lock()
		s.fs.AllocBlocks = fs.AllocBlocks
		s.fs.AllocInodes = fs.AllocInodes
		s.mu.Unlock()
	}
	s.commitMu.Unlock()
	if err == nil {
		err = c.Wait()
	}
	if err != nil {
		util.DPrintf(0, "purge %v: %v\n", p.digest, err)
		return err
	}
	s.releaseReservation(p.ino, p.start, p.nblocks)
	s.stats.purged.Inc()
	util.DPrintf(5, "purge: %v inode %d, %d blocks at %d\n", p.digest, p.ino, p.nblocks, p.start)
	return nil
}

// Entry describes one committed blob.
type Entry struct {
	Digest merkle.Digest
	Size   uint64
}

// Walk calls fn for every committed blob in inode order, stopping at the
// first error.
func (s *Store) Walk(fn func(Entry) error) error {
	s.mu.Lock()
	var ents []Entry
	for i := range s.inodes {
		ino := &s.inodes[i]
		if ino.IsCommitted() {
			ents = append(ents, Entry{Digest: ino.Digest, Size: ino.Size})
		}
	}
	s.mu.Unlock()
	for _, e := range ents {
		if err := fn(e); err != nil {
			return err
		}
	}
	return nil
}

// List returns every committed blob, ordered by digest.
func (s *Store) List() []Entry {
	var ents []Entry
	s.Walk(func(e Entry) error {
		ents = append(ents, e)
		return nil
	})
	sort.Slice(ents, func(i, j int) bool {
		return merkle.Less(ents[i].Digest, ents[j].Digest)
	})
	return ents
}
