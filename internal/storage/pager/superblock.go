package pager

import (
	"encoding/binary"
	"fmt"
)

// ── File header page ────────────────────────────────────────────────────
//
// Every file begins with one FileHeaderSize-byte header page, independent
// of the data-page region that follows it. Layout:
//
//	offset 0   : magic           [8]byte
//	offset 8   : formatVersion   uint32 LE
//	offset 12  : pageSize        uint32 LE
//	offset 16  : numPages        uint32 LE  (count of data pages)
//	offset 20  : freeChainHead   int32 LE   (PageNo, InvalidPageNo if empty)
//	offset 24  : reserved        (rest of the header page, zero-filled)
//
// All integers are little-endian per spec.md §6.

const (
	headerMagicOff     = 0
	headerVersionOff    = 8
	headerPageSizeOff   = 12
	headerNumPagesOff   = 16
	headerFreeChainOff  = 20
)

const headerMagic = "PGSTORE\x00"
const headerFormatVersion uint32 = 1

// fileHeader holds the parsed contents of a file's header page.
type fileHeader struct {
	PageSize      uint32
	NumPages      uint32
	FreeChainHead PageNo
}

func newFileHeader() *fileHeader {
	return &fileHeader{
		PageSize:      PageSize,
		NumPages:      0,
		FreeChainHead: InvalidPageNo,
	}
}

func marshalFileHeader(h *fileHeader) []byte {
	buf := make([]byte, FileHeaderSize)
	copy(buf[headerMagicOff:headerMagicOff+8], headerMagic)
	binary.LittleEndian.PutUint32(buf[headerVersionOff:], headerFormatVersion)
	binary.LittleEndian.PutUint32(buf[headerPageSizeOff:], h.PageSize)
	binary.LittleEndian.PutUint32(buf[headerNumPagesOff:], h.NumPages)
	binary.LittleEndian.PutUint32(buf[headerFreeChainOff:], uint32(int32(h.FreeChainHead)))
	return buf
}

func unmarshalFileHeader(buf []byte) (*fileHeader, error) {
	if len(buf) < FileHeaderSize {
		return nil, fmt.Errorf("header page too small: %d bytes", len(buf))
	}
	magic := string(buf[headerMagicOff : headerMagicOff+8])
	if magic != headerMagic {
		return nil, fmt.Errorf("bad magic %q, expected %q", magic, headerMagic)
	}
	version := binary.LittleEndian.Uint32(buf[headerVersionOff:])
	if version != headerFormatVersion {
		return nil, fmt.Errorf("unsupported format version %d (support %d)", version, headerFormatVersion)
	}
	h := &fileHeader{
		PageSize:      binary.LittleEndian.Uint32(buf[headerPageSizeOff:]),
		NumPages:      binary.LittleEndian.Uint32(buf[headerNumPagesOff:]),
		FreeChainHead: PageNo(int32(binary.LittleEndian.Uint32(buf[headerFreeChainOff:]))),
	}
	if h.PageSize != PageSize {
		return nil, fmt.Errorf("page size %d does not match build's %d", h.PageSize, PageSize)
	}
	return h, nil
}
