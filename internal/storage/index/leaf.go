package index

import (
	"bytes"
	"encoding/binary"

	"github.com/arnegrid/pagestore/internal/storage/pager"
)

// ── Index leaf page (spec.md §4.6, §6) ──────────────────────────────────
//
//	offset 0  : marker            byte  ('L')
//	offset 1  : next_leaf         int32 (-1 sentinel)
//	offset 5  : reserved          4 x int16 (8 bytes)
//	offset 13 : attr_len          int16
//	offset 15 : key_count         int16
//	offset 17 : max_keys          int16
//	offset 19 : (key[attr_len], rec_id int32) x key_count, sorted by key

const (
	leafMarker      = 'L'
	leafOffNextLeaf = 1
	leafOffReserved = 5
	leafOffAttrLen  = 13
	leafOffKeyCount = 15
	leafOffMaxKeys  = 17
	leafHeaderSize  = 19

	recIDSize = 4
)

// leafCapacity returns how many (key, rec_id) pairs fit in one leaf page
// for the given fixed key width.
func leafCapacity(attrLen int) int {
	return (pager.PageSize - leafHeaderSize) / (attrLen + recIDSize)
}

type leafPage struct {
	buf     []byte
	attrLen int
}

func wrapLeaf(buf []byte) *leafPage {
	attrLen := int(int16(binary.LittleEndian.Uint16(buf[leafOffAttrLen:])))
	return &leafPage{buf: buf, attrLen: attrLen}
}

func initLeaf(buf []byte, attrLen int) *leafPage {
	for i := range buf[:leafHeaderSize] {
		buf[i] = 0
	}
	buf[0] = leafMarker
	lp := &leafPage{buf: buf, attrLen: attrLen}
	lp.setNextLeaf(pager.InvalidPageNo)
	binary.LittleEndian.PutUint16(buf[leafOffAttrLen:], uint16(attrLen))
	lp.setKeyCount(0)
	lp.setMaxKeys(leafCapacity(attrLen))
	return lp
}

func (lp *leafPage) NextLeaf() pager.PageNo {
	return pager.PageNo(int32(binary.LittleEndian.Uint32(lp.buf[leafOffNextLeaf:])))
}
func (lp *leafPage) setNextLeaf(p pager.PageNo) {
	binary.LittleEndian.PutUint32(lp.buf[leafOffNextLeaf:], uint32(int32(p)))
}

func (lp *leafPage) AttrLen() int { return lp.attrLen }

func (lp *leafPage) KeyCount() int {
	return int(int16(binary.LittleEndian.Uint16(lp.buf[leafOffKeyCount:])))
}
func (lp *leafPage) setKeyCount(n int) {
	binary.LittleEndian.PutUint16(lp.buf[leafOffKeyCount:], uint16(int16(n)))
}

func (lp *leafPage) MaxKeys() int {
	return int(int16(binary.LittleEndian.Uint16(lp.buf[leafOffMaxKeys:])))
}
func (lp *leafPage) setMaxKeys(n int) {
	binary.LittleEndian.PutUint16(lp.buf[leafOffMaxKeys:], uint16(int16(n)))
}

func (lp *leafPage) entrySize() int { return lp.attrLen + recIDSize }

func (lp *leafPage) entryOffset(i int) int { return leafHeaderSize + i*lp.entrySize() }

// KeyAt returns the key bytes of entry i.
func (lp *leafPage) KeyAt(i int) []byte {
	off := lp.entryOffset(i)
	return lp.buf[off : off+lp.attrLen]
}

// RecIDAt returns the encoded rec_id of entry i.
func (lp *leafPage) RecIDAt(i int) int32 {
	off := lp.entryOffset(i) + lp.attrLen
	return int32(binary.LittleEndian.Uint32(lp.buf[off:]))
}

func (lp *leafPage) setEntry(i int, key []byte, recID int32) {
	off := lp.entryOffset(i)
	copy(lp.buf[off:off+lp.attrLen], key)
	binary.LittleEndian.PutUint32(lp.buf[off+lp.attrLen:], uint32(recID))
}

// Full reports whether the leaf has no room for one more entry.
func (lp *leafPage) Full() bool { return lp.KeyCount() >= lp.MaxKeys() }

// search returns the index of the first entry whose key is >= target, and
// whether an entry with key == target exists at that index (I-IX1: keys are
// sorted ascending, so this is a standard binary search lower bound).
func (lp *leafPage) search(target []byte) (int, bool) {
	n := lp.KeyCount()
	lo, hi := 0, n
	for lo < hi {
		mid := (lo + hi) / 2
		if bytes.Compare(lp.KeyAt(mid), target) < 0 {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	if lo < n && bytes.Equal(lp.KeyAt(lo), target) {
		return lo, true
	}
	return lo, false
}

// insertSorted inserts (key, recID) keeping entries sorted, shifting later
// entries right by one slot. Returns false if the leaf is already full.
func (lp *leafPage) insertSorted(key []byte, recID int32) bool {
	if lp.Full() {
		return false
	}
	pos, _ := lp.search(key)
	n := lp.KeyCount()
	for i := n; i > pos; i-- {
		k := lp.KeyAt(i - 1)
		r := lp.RecIDAt(i - 1)
		lp.setEntry(i, k, r)
	}
	lp.setEntry(pos, key, recID)
	lp.setKeyCount(n + 1)
	return true
}

// appendSorted appends (key, recID) as the new last entry, used by the
// bulk loader where input arrives pre-sorted and every insert is terminal.
func (lp *leafPage) appendSorted(key []byte, recID int32) bool {
	if lp.Full() {
		return false
	}
	n := lp.KeyCount()
	lp.setEntry(n, key, recID)
	lp.setKeyCount(n + 1)
	return true
}
