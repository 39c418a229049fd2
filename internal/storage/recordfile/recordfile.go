// Package recordfile implements the Record File (RF) layer: it binds the
// Slotted Page Codec to pages owned by a Paged File Store, cached through
// that store's buffer pool (spec.md §4.5).
package recordfile

import (
	"fmt"

	"github.com/arnegrid/pagestore/errs"
	"github.com/arnegrid/pagestore/internal/storage/pager"
)

// RecordID addresses one record by the page that holds it and its slot
// number within that page's directory.
type RecordID struct {
	Page pager.PageNo
	Slot int
}

func (r RecordID) String() string { return fmt.Sprintf("(%d,%d)", r.Page, r.Slot) }

// RecordFile is a sequence of slotted pages within one open paged file.
// It does not own the PagedFileStore or the handle — callers create and
// close the underlying file themselves, the same way SimonWaldherr/tinySQL's
// table layer is handed an already-open backend rather than opening its own.
type RecordFile struct {
	pfs *pager.PagedFileStore
	h   pager.FileHandle
}

// Open binds a RecordFile to an already-open file handle.
func Open(pfs *pager.PagedFileStore, h pager.FileHandle) *RecordFile {
	return &RecordFile{pfs: pfs, h: h}
}

// Insert tries every existing page in turn and asks its slotted-page view
// to accept the record; if none has room, it allocates a fresh page
// (spec.md §4.5). Records larger than pager.MaxRecordSize are rejected
// outright — this layer never splits or overflows a record across pages.
func (rf *RecordFile) Insert(data []byte) (RecordID, error) {
	if len(data) > pager.MaxRecordSize {
		return RecordID{}, fmt.Errorf("%w: record of %d bytes exceeds max %d", errs.ErrSPNoSpace, len(data), pager.MaxRecordSize)
	}

	n, err := rf.pfs.PageCount(rf.h)
	if err != nil {
		return RecordID{}, err
	}
	for pn := pager.PageNo(0); int(pn) < n; pn++ {
		buf, err := rf.pfs.GetPage(rf.h, pn)
		if err != nil {
			return RecordID{}, err
		}
		sp := pager.WrapSlottedPage(buf)
		slot, err := sp.InsertRecord(data)
		if err == nil {
			if err := rf.pfs.Unpin(rf.h, pn, true); err != nil {
				return RecordID{}, err
			}
			return RecordID{Page: pn, Slot: slot}, nil
		}
		if err := rf.pfs.Unpin(rf.h, pn, false); err != nil {
			return RecordID{}, err
		}
	}

	pn, buf, err := rf.pfs.AllocPage(rf.h)
	if err != nil {
		return RecordID{}, err
	}
	sp := pager.InitSlottedPage(buf, pn)
	slot, err := sp.InsertRecord(data)
	if err != nil {
		rf.pfs.Unpin(rf.h, pn, false)
		return RecordID{}, fmt.Errorf("record of %d bytes does not fit on a fresh page: %w", len(data), err)
	}
	if err := rf.pfs.Unpin(rf.h, pn, true); err != nil {
		return RecordID{}, err
	}
	return RecordID{Page: pn, Slot: slot}, nil
}

// Delete tombstones the slot at id.
func (rf *RecordFile) Delete(id RecordID) error {
	buf, err := rf.pfs.GetPage(rf.h, id.Page)
	if err != nil {
		return err
	}
	sp := pager.WrapSlottedPage(buf)
	if err := sp.DeleteRecord(id.Slot); err != nil {
		rf.pfs.Unpin(rf.h, id.Page, false)
		return err
	}
	return rf.pfs.Unpin(rf.h, id.Page, true)
}

// Get returns a copy of the record at id. Fails if id names a tombstoned or
// out-of-range slot.
func (rf *RecordFile) Get(id RecordID) ([]byte, error) {
	buf, err := rf.pfs.GetPage(rf.h, id.Page)
	if err != nil {
		return nil, err
	}
	defer rf.pfs.Unpin(rf.h, id.Page, false)

	sp := pager.WrapSlottedPage(buf)
	rec, err := sp.FetchRecord(id.Slot)
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(rec))
	copy(out, rec)
	return out, nil
}

// Scan visits every live record, page by page in page-number order and
// slot by slot within a page, until fn returns false or the file is
// exhausted (spec.md §4.5).
func (rf *RecordFile) Scan(fn func(data []byte, id RecordID) bool) error {
	n, err := rf.pfs.PageCount(rf.h)
	if err != nil {
		return err
	}
	for pn := pager.PageNo(0); int(pn) < n; pn++ {
		buf, err := rf.pfs.GetPage(rf.h, pn)
		if err != nil {
			return err
		}
		sp := pager.WrapSlottedPage(buf)
		stop := false
		for slot := 0; slot < sp.NumSlots(); slot++ {
			if sp.IsTombstone(slot) {
				continue
			}
			rec, err := sp.FetchRecord(slot)
			if err != nil {
				rf.pfs.Unpin(rf.h, pn, false)
				return err
			}
			if !fn(rec, RecordID{Page: pn, Slot: slot}) {
				stop = true
				break
			}
		}
		if err := rf.pfs.Unpin(rf.h, pn, false); err != nil {
			return err
		}
		if stop {
			return nil
		}
	}
	return nil
}

// Compact runs SlottedPage.Compact on every page of the file. Any RecordID
// obtained before Compact is invalid afterward (spec.md §9) — callers must
// not hold one across this call.
func (rf *RecordFile) Compact() error {
	n, err := rf.pfs.PageCount(rf.h)
	if err != nil {
		return err
	}
	for pn := pager.PageNo(0); int(pn) < n; pn++ {
		buf, err := rf.pfs.GetPage(rf.h, pn)
		if err != nil {
			return err
		}
		pager.WrapSlottedPage(buf).Compact()
		if err := rf.pfs.Unpin(rf.h, pn, true); err != nil {
			return err
		}
	}
	return nil
}

// SpaceStats reports the file's space budget, aggregated across every page.
type SpaceStats struct {
	Pages           int
	TotalBytes      int
	HeaderOverhead  int
	SlotOverhead    int
	UsedBytes       int
	FreeSpace       int
	FragmentedBytes int
}

// Utilization returns UsedBytes / TotalBytes, or 0 for an empty file.
func (s SpaceStats) Utilization() float64 {
	if s.TotalBytes == 0 {
		return 0
	}
	return float64(s.UsedBytes) / float64(s.TotalBytes)
}

const (
	spHeaderSize = 32
	spSlotSize   = 4
)

// Stats walks every page once, tallying live-record bytes, directory and
// header overhead, the page's own tracked free-space budget, and the
// fragmentation hidden inside that budget: the gap between what
// free_space_size claims is free and the page's true contiguous room
// (free_space_offset - end_of_slot_directory), which only Compact reclaims.
func (rf *RecordFile) Stats() (SpaceStats, error) {
	var st SpaceStats
	n, err := rf.pfs.PageCount(rf.h)
	if err != nil {
		return st, err
	}
	st.Pages = n
	st.TotalBytes = n * pager.PageSize

	for pn := pager.PageNo(0); int(pn) < n; pn++ {
		buf, err := rf.pfs.GetPage(rf.h, pn)
		if err != nil {
			return st, err
		}
		sp := pager.WrapSlottedPage(buf)

		st.HeaderOverhead += spHeaderSize
		st.SlotOverhead += sp.NumSlots() * spSlotSize
		st.FreeSpace += sp.FreeSpaceSize()

		trueGap := sp.FreeSpaceOffset() - (spHeaderSize + sp.NumSlots()*spSlotSize)
		if frag := sp.FreeSpaceSize() - trueGap; frag > 0 {
			st.FragmentedBytes += frag
		}

		for slot := 0; slot < sp.NumSlots(); slot++ {
			if sp.IsTombstone(slot) {
				continue
			}
			rec, err := sp.FetchRecord(slot)
			if err != nil {
				rf.pfs.Unpin(rf.h, pn, false)
				return st, err
			}
			st.UsedBytes += len(rec)
		}

		if err := rf.pfs.Unpin(rf.h, pn, false); err != nil {
			return st, err
		}
	}
	return st, nil
}
