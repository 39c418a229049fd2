package pager

import (
	"fmt"

	"github.com/arnegrid/pagestore/errs"
)

// Policy selects which frame the buffer pool evicts when it must make room
// for a page that is not already cached (spec.md §4.3).
type Policy int

const (
	// LRU evicts the least-recently-used unpinned frame: it scans the
	// used-list from the tail (least recent) toward the head.
	LRU Policy = iota
	// MRU evicts the most-recently-used unpinned frame: it scans the
	// used-list from the head (most recent) toward the tail. Useful when a
	// long sequential scan would otherwise evict cold pages still needed.
	MRU
)

func (p Policy) String() string {
	if p == MRU {
		return "MRU"
	}
	return "LRU"
}

// Stats holds the buffer pool's process-wide I/O accounting counters.
type Stats struct {
	LogicalReads  int64
	LogicalWrites int64
	PhysicalReads int64
	PhysicalWrites int64
	BufferHits    int64
	BufferMisses  int64
}

// HitRatio returns BufferHits / (BufferHits + BufferMisses), or 0 if no
// fetches have occurred yet.
func (s Stats) HitRatio() float64 {
	total := s.BufferHits + s.BufferMisses
	if total == 0 {
		return 0
	}
	return float64(s.BufferHits) / float64(total)
}

// pageIO is the physical read/write contract the buffer pool needs from
// whatever owns open file descriptors. PagedFileStore implements it.
type pageIO interface {
	readPageAt(h FileHandle, no PageNo) ([]byte, error)
	writePageAt(h FileHandle, no PageNo, buf []byte) error
}

// frame is one slot in the buffer pool's fixed frame array.
type frame struct {
	key    frameKey
	buf    []byte
	valid  bool // bound to a (file,page) identity
	pinned bool
	dirty  bool

	usedPrev, usedNext int // used-list links, -1 = sentinel
	freeNext           int // free-list link, -1 = sentinel
}

// BufferPool is the fixed-capacity page cache shared by every open file
// (spec.md §4.3, §5 "process-wide singleton"). It is not safe for
// concurrent use from multiple goroutines — the storage engine's
// concurrency model is single-threaded cooperative (spec.md §5).
type BufferPool struct {
	frames  []frame
	hpd     *hashPageDirectory
	policy  Policy
	io      pageIO
	stats   Stats
	usedHead, usedTail int
	freeHead            int

	// trace, when non-nil, receives one call per fetch/evict-class event
	// (spec.md §4.3). It is nil by default so normal operation never pays
	// for formatting; the CLI wires it in only when -verbose is set,
	// keeping this package itself free of any "log" import.
	trace func(format string, args ...interface{})
}

// SetTrace installs fn as the pool's page-trace sink. Passing nil disables
// tracing again. The pool never imports a logging package itself; the
// caller (normally cmd/pagestore) decides where trace lines go.
func (bp *BufferPool) SetTrace(fn func(format string, args ...interface{})) {
	bp.trace = fn
}

func (bp *BufferPool) tracef(format string, args ...interface{}) {
	if bp.trace != nil {
		bp.trace(format, args...)
	}
}

// NewBufferPool allocates a pool of the given capacity (spec default 20)
// with the given eviction policy and physical I/O backend.
func NewBufferPool(poolSize int, policy Policy, io pageIO) *BufferPool {
	if poolSize < 1 {
		poolSize = 20
	}
	bp := &BufferPool{
		frames:   make([]frame, poolSize),
		hpd:      newHashPageDirectory(poolSize*2 + 1),
		policy:   policy,
		io:       io,
		usedHead: -1,
		usedTail: -1,
		freeHead: -1,
	}
	for i := range bp.frames {
		bp.frames[i].buf = make([]byte, PageSize)
		bp.frames[i].usedPrev = -1
		bp.frames[i].usedNext = -1
		bp.frames[i].freeNext = bp.freeHead
		bp.freeHead = i
	}
	return bp
}

// SetPolicy changes the replacement policy. Applies to subsequent
// evictions only (spec.md §5).
func (bp *BufferPool) SetPolicy(p Policy) { bp.policy = p }

func (bp *BufferPool) Policy() Policy { return bp.policy }

// Stats returns a snapshot of the accounting counters.
func (bp *BufferPool) Stats() Stats { return bp.stats }

// ResetStats zeroes every counter.
func (bp *BufferPool) ResetStats() { bp.stats = Stats{} }

// ── used/free list bookkeeping ──────────────────────────────────────────

func (bp *BufferPool) pushUsedHead(idx int) {
	f := &bp.frames[idx]
	f.usedPrev = -1
	f.usedNext = bp.usedHead
	if bp.usedHead != -1 {
		bp.frames[bp.usedHead].usedPrev = idx
	}
	bp.usedHead = idx
	if bp.usedTail == -1 {
		bp.usedTail = idx
	}
}

func (bp *BufferPool) unlinkUsed(idx int) {
	f := &bp.frames[idx]
	if f.usedPrev != -1 {
		bp.frames[f.usedPrev].usedNext = f.usedNext
	} else {
		bp.usedHead = f.usedNext
	}
	if f.usedNext != -1 {
		bp.frames[f.usedNext].usedPrev = f.usedPrev
	} else {
		bp.usedTail = f.usedPrev
	}
	f.usedPrev, f.usedNext = -1, -1
}

func (bp *BufferPool) moveUsedToHead(idx int) {
	if bp.usedHead == idx {
		return
	}
	bp.unlinkUsed(idx)
	bp.pushUsedHead(idx)
}

func (bp *BufferPool) pushFree(idx int) {
	f := &bp.frames[idx]
	*f = frame{buf: f.buf, usedPrev: -1, usedNext: -1, freeNext: bp.freeHead}
	bp.freeHead = idx
}

func (bp *BufferPool) popFree() int {
	idx := bp.freeHead
	bp.freeHead = bp.frames[idx].freeNext
	return idx
}

// internalAlloc returns a free frame index, evicting by policy if
// necessary (spec.md §4.3 "Internal alloc").
func (bp *BufferPool) internalAlloc() (int, error) {
	if bp.freeHead != -1 {
		return bp.popFree(), nil
	}

	victim := -1
	switch bp.policy {
	case LRU:
		for i := bp.usedTail; i != -1; i = bp.frames[i].usedPrev {
			if !bp.frames[i].pinned {
				victim = i
				break
			}
		}
	case MRU:
		for i := bp.usedHead; i != -1; i = bp.frames[i].usedNext {
			if !bp.frames[i].pinned {
				victim = i
				break
			}
		}
	}
	if victim == -1 {
		return -1, errs.ErrNoBuffer
	}

	f := &bp.frames[victim]
	if f.dirty {
		if err := bp.io.writePageAt(f.key.file, f.key.page, f.buf); err != nil {
			return -1, fmt.Errorf("flush victim page %s: %w", f.key, err)
		}
		bp.stats.PhysicalWrites++
		f.dirty = false
	}
	if err := bp.hpd.delete(f.key); err != nil {
		return -1, err
	}
	bp.unlinkUsed(victim)
	return victim, nil
}

// Get implements the fetch protocol for an existing page (spec.md §4.3).
// The returned buffer is pinned; the caller must call Unpin exactly once.
func (bp *BufferPool) Get(key frameKey) ([]byte, error) {
	bp.stats.LogicalReads++

	if idx, ok := bp.hpd.find(key); ok {
		f := &bp.frames[idx]
		if f.pinned {
			return nil, fmt.Errorf("%w: page %s already pinned", errs.ErrPageFixed, key)
		}
		bp.stats.BufferHits++
		f.pinned = true
		bp.moveUsedToHead(idx)
		bp.tracef("fetch %s: hit", key)
		return f.buf, nil
	}

	bp.stats.BufferMisses++
	idx, err := bp.internalAlloc()
	if err != nil {
		return nil, err
	}
	f := &bp.frames[idx]
	raw, err := bp.io.readPageAt(key.file, key.page)
	if err != nil {
		bp.pushFree(idx)
		return nil, err
	}
	bp.stats.PhysicalReads++
	copy(f.buf, raw)
	f.key = key
	f.valid = true
	f.dirty = false
	f.pinned = true
	if err := bp.hpd.insert(key, idx); err != nil {
		bp.pushFree(idx)
		return nil, err
	}
	bp.pushUsedHead(idx)
	bp.tracef("fetch %s: miss, read from disk into frame %d", key, idx)
	return f.buf, nil
}

// Alloc binds a fresh, zero-filled, pinned frame to key without touching
// disk (used by alloc_page, which extends the file itself).
func (bp *BufferPool) Alloc(key frameKey) ([]byte, error) {
	idx, err := bp.internalAlloc()
	if err != nil {
		return nil, err
	}
	f := &bp.frames[idx]
	for i := range f.buf {
		f.buf[i] = 0
	}
	f.key = key
	f.valid = true
	f.dirty = false
	f.pinned = true
	if err := bp.hpd.insert(key, idx); err != nil {
		bp.pushFree(idx)
		return nil, err
	}
	bp.pushUsedHead(idx)
	bp.tracef("alloc %s: frame %d", key, idx)
	return f.buf, nil
}

// Unpin decrements the pin on key's frame and, if dirty is true, marks it
// dirty and logs a logical write (spec.md §4.3 "Unpin"). Unpinning a frame
// that is already unpinned fails with ErrPageUnfixed: every pin the caller
// took must be balanced by exactly one unpin (spec.md §8 "pin balance").
func (bp *BufferPool) Unpin(key frameKey, dirty bool) error {
	idx, ok := bp.hpd.find(key)
	if !ok {
		return fmt.Errorf("%w: page %s", errs.ErrPageNotInBuf, key)
	}
	f := &bp.frames[idx]
	if !f.pinned {
		return fmt.Errorf("%w: page %s", errs.ErrPageUnfixed, key)
	}
	f.pinned = false
	if dirty {
		f.dirty = true
		bp.stats.LogicalWrites++
	}
	bp.moveUsedToHead(idx)
	bp.tracef("unpin %s: dirty=%v", key, dirty)
	return nil
}

// Evict drops key's frame from the cache, failing with ErrPageFixed if it
// is pinned (used by dispose_page). Returns ok=false if the page was not
// cached at all, which is not an error.
func (bp *BufferPool) Evict(key frameKey) (ok bool, err error) {
	idx, found := bp.hpd.find(key)
	if !found {
		return false, nil
	}
	f := &bp.frames[idx]
	if f.pinned {
		return false, fmt.Errorf("%w: page %s", errs.ErrPageFixed, key)
	}
	if err := bp.hpd.delete(key); err != nil {
		return false, err
	}
	bp.unlinkUsed(idx)
	bp.pushFree(idx)
	bp.tracef("evict %s: frame %d", key, idx)
	return true, nil
}

// EvictFile flushes and drops every cached frame belonging to handle. It
// fails atomically with ErrPageFixed (flushing nothing) if any page of
// that file is still pinned, matching close_file's contract (spec.md §8
// "Closing a file with dirty pinned pages").
func (bp *BufferPool) EvictFile(handle FileHandle) error {
	for i := range bp.frames {
		f := &bp.frames[i]
		if f.valid && f.key.file == handle && f.pinned {
			return fmt.Errorf("%w: file %d has pinned pages", errs.ErrPageFixed, handle)
		}
	}
	for i := range bp.frames {
		f := &bp.frames[i]
		if !f.valid || f.key.file != handle {
			continue
		}
		if f.dirty {
			if err := bp.io.writePageAt(f.key.file, f.key.page, f.buf); err != nil {
				return fmt.Errorf("flush page %s on close: %w", f.key, err)
			}
			bp.stats.PhysicalWrites++
			f.dirty = false
		}
		if err := bp.hpd.delete(f.key); err != nil {
			return err
		}
		bp.unlinkUsed(i)
		bp.pushFree(i)
	}
	return nil
}
