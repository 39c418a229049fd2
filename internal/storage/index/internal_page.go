package index

import (
	"bytes"
	"encoding/binary"

	"github.com/arnegrid/pagestore/internal/storage/pager"
)

// ── Index internal page (spec.md §4.6, §6) ──────────────────────────────
//
//	offset 0  : marker            byte  ('I')
//	offset 1  : key_count         int16
//	offset 3  : max_keys          int16
//	offset 5  : attr_len          int16
//	offset 7  : left_edge_child   int32
//	offset 11 : (key[attr_len], child int32) x key_count
//
// Entry i separates childAt(i) from childAt(i+1): childAt(0) is the
// left-edge pointer, childAt(i+1) for i>=0 is entries[i]'s child. Entry i's
// key must equal the smallest key reachable through childAt(i+1) (I-IX1).

const (
	internalMarker      = 'I'
	internalOffKeyCount = 1
	internalOffMaxKeys  = 3
	internalOffAttrLen  = 5
	internalOffLeftEdge = 7
	internalHeaderSize  = 11

	pageRefSize = 4
)

// internalCapacity returns max_entries_per_internal for the given key width
// (spec.md §4.6 step 4: (PAGE_SIZE - INT_HEADER - sizeof(page_ref)) /
// (key_len + sizeof(page_ref)), where INT_HEADER here is the 7 bytes of
// marker+key_count+max_keys+attr_len, i.e. internalHeaderSize - pageRefSize).
func internalCapacity(attrLen int) int {
	return (pager.PageSize - internalHeaderSize) / (attrLen + pageRefSize)
}

type internalPage struct {
	buf     []byte
	attrLen int
}

func wrapInternal(buf []byte) *internalPage {
	attrLen := int(int16(binary.LittleEndian.Uint16(buf[internalOffAttrLen:])))
	return &internalPage{buf: buf, attrLen: attrLen}
}

func initInternal(buf []byte, attrLen int, leftEdge pager.PageNo) *internalPage {
	for i := range buf[:internalHeaderSize] {
		buf[i] = 0
	}
	buf[0] = internalMarker
	ip := &internalPage{buf: buf, attrLen: attrLen}
	ip.setKeyCount(0)
	binary.LittleEndian.PutUint16(buf[internalOffAttrLen:], uint16(attrLen))
	ip.setMaxKeys(internalCapacity(attrLen))
	ip.SetLeftEdge(leftEdge)
	return ip
}

func (ip *internalPage) KeyCount() int {
	return int(int16(binary.LittleEndian.Uint16(ip.buf[internalOffKeyCount:])))
}
func (ip *internalPage) setKeyCount(n int) {
	binary.LittleEndian.PutUint16(ip.buf[internalOffKeyCount:], uint16(int16(n)))
}

func (ip *internalPage) MaxKeys() int {
	return int(int16(binary.LittleEndian.Uint16(ip.buf[internalOffMaxKeys:])))
}
func (ip *internalPage) setMaxKeys(n int) {
	binary.LittleEndian.PutUint16(ip.buf[internalOffMaxKeys:], uint16(int16(n)))
}

func (ip *internalPage) AttrLen() int { return ip.attrLen }

func (ip *internalPage) LeftEdge() pager.PageNo {
	return pager.PageNo(int32(binary.LittleEndian.Uint32(ip.buf[internalOffLeftEdge:])))
}
func (ip *internalPage) SetLeftEdge(p pager.PageNo) {
	binary.LittleEndian.PutUint32(ip.buf[internalOffLeftEdge:], uint32(int32(p)))
}

func (ip *internalPage) entrySize() int { return ip.attrLen + pageRefSize }
func (ip *internalPage) entryOffset(i int) int {
	return internalHeaderSize + i*ip.entrySize()
}

func (ip *internalPage) KeyAt(i int) []byte {
	off := ip.entryOffset(i)
	return ip.buf[off : off+ip.attrLen]
}

func (ip *internalPage) ChildAt(i int) pager.PageNo {
	off := ip.entryOffset(i) + ip.attrLen
	return pager.PageNo(int32(binary.LittleEndian.Uint32(ip.buf[off:])))
}

func (ip *internalPage) setEntry(i int, key []byte, child pager.PageNo) {
	off := ip.entryOffset(i)
	copy(ip.buf[off:off+ip.attrLen], key)
	binary.LittleEndian.PutUint32(ip.buf[off+ip.attrLen:], uint32(int32(child)))
}

func (ip *internalPage) Full() bool { return ip.KeyCount() >= ip.MaxKeys() }

// childForKey returns the child page to descend into when searching for
// key: the last childAt(i) such that entries[i-1].key <= key, i.e. the
// standard B+ tree internal-node routing rule.
func (ip *internalPage) childForKey(key []byte) pager.PageNo {
	n := ip.KeyCount()
	lo, hi := 0, n
	for lo < hi {
		mid := (lo + hi) / 2
		if bytes.Compare(ip.KeyAt(mid), key) <= 0 {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return ip.childAt(lo)
}

func (ip *internalPage) childAt(i int) pager.PageNo {
	if i == 0 {
		return ip.LeftEdge()
	}
	return ip.ChildAt(i - 1)
}

// childIndexOf returns the position i such that childAt(i) == child, or -1.
func (ip *internalPage) childIndexOf(child pager.PageNo) int {
	if ip.LeftEdge() == child {
		return 0
	}
	for i := 0; i < ip.KeyCount(); i++ {
		if ip.ChildAt(i) == child {
			return i + 1
		}
	}
	return -1
}

// insertSeparator inserts (key, rightChild) so that the new entry lands
// immediately after leftChild's current position, making rightChild the
// child reached just to the right of key (spec.md §4.6 splitting rule).
// Returns false if the node is already full.
func (ip *internalPage) insertSeparator(leftChild pager.PageNo, key []byte, rightChild pager.PageNo) bool {
	if ip.Full() {
		return false
	}
	idx := ip.childIndexOf(leftChild)
	n := ip.KeyCount()
	for i := n; i > idx; i-- {
		k := ip.KeyAt(i - 1)
		c := ip.ChildAt(i - 1)
		ip.setEntry(i, k, c)
	}
	ip.setEntry(idx, key, rightChild)
	ip.setKeyCount(n + 1)
	return true
}

// appendSeparator appends (key, child) as the new last entry, used by the
// bulk loader's bottom-up internal-level construction.
func (ip *internalPage) appendSeparator(key []byte, child pager.PageNo) bool {
	if ip.Full() {
		return false
	}
	n := ip.KeyCount()
	ip.setEntry(n, key, child)
	ip.setKeyCount(n + 1)
	return true
}
