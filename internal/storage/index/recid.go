package index

import (
	"github.com/arnegrid/pagestore/internal/storage/pager"
	"github.com/arnegrid/pagestore/internal/storage/recordfile"
)

// The wire format (spec.md §6) stores a RecordID as a single int32, but
// recordfile.RecordID is a (page_no, slot_no) pair. We pack slot_no into the
// low 12 bits and page_no into the remaining 20 bits: up to 4096 slots per
// page (well above what any record size in this spec allows on a 4096-byte
// page) and just over one million pages per indexed file.
const (
	recIDSlotBits = 12
	recIDSlotMask = 1<<recIDSlotBits - 1
)

func encodeRecordID(id recordfile.RecordID) int32 {
	return int32(uint32(id.Page)<<recIDSlotBits | uint32(id.Slot)&recIDSlotMask)
}

func decodeRecordID(v int32) recordfile.RecordID {
	u := uint32(v)
	return recordfile.RecordID{
		Page: pager.PageNo(u >> recIDSlotBits),
		Slot: int(u & recIDSlotMask),
	}
}
