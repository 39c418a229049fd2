package index

import (
	"encoding/binary"

	"github.com/arnegrid/pagestore/internal/storage/pager"
)

// The index file's page 0 is reserved as header metadata (spec.md §4.6's
// IndexFile entity: "header metadata + leaf linked list + internal tree"),
// recording the attribute width and the current root so OpenIndex can
// resume a build without re-deriving them.
//
//	offset 0 : marker       byte ('M')
//	offset 1 : attr_len     int16
//	offset 3 : root_page    int32
//	offset 7 : root_is_leaf byte

const (
	metaMarker       = 'M'
	metaOffAttrLen   = 1
	metaOffRoot      = 3
	metaOffRootIsLeaf = 7
)

func initMeta(buf []byte, attrLen int, root pager.PageNo, rootIsLeaf bool) {
	for i := range buf[:metaOffRootIsLeaf+1] {
		buf[i] = 0
	}
	buf[0] = metaMarker
	binary.LittleEndian.PutUint16(buf[metaOffAttrLen:], uint16(attrLen))
	setMetaRoot(buf, root, rootIsLeaf)
}

func setMetaRoot(buf []byte, root pager.PageNo, rootIsLeaf bool) {
	binary.LittleEndian.PutUint32(buf[metaOffRoot:], uint32(int32(root)))
	if rootIsLeaf {
		buf[metaOffRootIsLeaf] = 1
	} else {
		buf[metaOffRootIsLeaf] = 0
	}
}

func readMeta(buf []byte) (attrLen int, root pager.PageNo, rootIsLeaf bool) {
	attrLen = int(int16(binary.LittleEndian.Uint16(buf[metaOffAttrLen:])))
	root = pager.PageNo(int32(binary.LittleEndian.Uint32(buf[metaOffRoot:])))
	rootIsLeaf = buf[metaOffRootIsLeaf] != 0
	return
}
