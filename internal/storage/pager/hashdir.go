package pager

import "github.com/arnegrid/pagestore/errs"

// hashPageDirectory is a collision-chained hash table mapping
// (file_handle, page_no) to a frame index, sized to the buffer pool's
// capacity (spec.md §4.2). It is used exclusively by the buffer pool; all
// lookups are O(1) expected.
type hashPageDirectory struct {
	buckets []hpdEntry // bucket head indices into entries, -1 = empty
	entries []hpdEntry // chained entries, next = -1 terminates a chain
	free    []int      // free entry slots for reuse
}

type hpdEntry struct {
	key   frameKey
	frame int
	next  int // index into entries, -1 = end of chain
}

func newHashPageDirectory(bucketCount int) *hashPageDirectory {
	if bucketCount < 1 {
		bucketCount = 1
	}
	h := &hashPageDirectory{
		buckets: make([]hpdEntry, bucketCount),
	}
	for i := range h.buckets {
		h.buckets[i].next = -1
	}
	return h
}

func (h *hashPageDirectory) bucketOf(k frameKey) int {
	sum := uint32(k.file)*2654435761 + uint32(k.page)*40503
	return int(sum % uint32(len(h.buckets)))
}

// find returns the frame index for key, or ok=false if absent.
func (h *hashPageDirectory) find(k frameKey) (int, bool) {
	b := h.bucketOf(k)
	for idx := h.buckets[b].next; idx != -1; idx = h.entries[idx].next {
		if h.entries[idx].key == k {
			return h.entries[idx].frame, true
		}
	}
	return 0, false
}

// insert adds key -> frame. Returns errs.ErrHashDuplicate if key already present.
func (h *hashPageDirectory) insert(k frameKey, frame int) error {
	if _, ok := h.find(k); ok {
		return errs.ErrHashDuplicate
	}
	b := h.bucketOf(k)
	e := hpdEntry{key: k, frame: frame, next: h.buckets[b].next}
	var idx int
	if n := len(h.free); n > 0 {
		idx = h.free[n-1]
		h.free = h.free[:n-1]
		h.entries[idx] = e
	} else {
		idx = len(h.entries)
		h.entries = append(h.entries, e)
	}
	h.buckets[b].next = idx
	return nil
}

// delete removes key. Returns errs.ErrHashNotFound if absent.
func (h *hashPageDirectory) delete(k frameKey) error {
	b := h.bucketOf(k)
	prev := -1
	for idx := h.buckets[b].next; idx != -1; idx = h.entries[idx].next {
		if h.entries[idx].key == k {
			if prev == -1 {
				h.buckets[b].next = h.entries[idx].next
			} else {
				h.entries[prev].next = h.entries[idx].next
			}
			h.free = append(h.free, idx)
			return nil
		}
		prev = idx
	}
	return errs.ErrHashNotFound
}
