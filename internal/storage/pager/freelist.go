package pager

import "encoding/binary"

// ── Disposed-page free chain ────────────────────────────────────────────
//
// dispose_page does not shrink the file: it pushes the page onto a
// singly-linked chain threaded through the disposed pages' own bytes, with
// the chain head kept in the file header (spec.md §4.1). A disposed page
// has no other obligations on its contents, so its first 4 bytes are
// repurposed to hold the PageNo of the next disposed page (InvalidPageNo
// terminates the chain). alloc_page pops the head of this chain before
// falling back to extending the file.

func freeChainSetNext(buf []byte, next PageNo) {
	binary.LittleEndian.PutUint32(buf[0:4], uint32(int32(next)))
}

func freeChainNext(buf []byte) PageNo {
	return PageNo(int32(binary.LittleEndian.Uint32(buf[0:4])))
}
