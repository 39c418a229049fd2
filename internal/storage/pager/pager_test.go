package pager

import (
	"bytes"
	"errors"
	"path/filepath"
	"testing"

	"github.com/arnegrid/pagestore/errs"
)

func newTestStore(t *testing.T, poolSize int, policy Policy) (*PagedFileStore, FileHandle, string) {
	t.Helper()
	pfs := NewPagedFileStore(poolSize, policy, 0)
	path := filepath.Join(t.TempDir(), "data.pgs")
	if err := pfs.CreateFile(path); err != nil {
		t.Fatalf("CreateFile: %v", err)
	}
	h, err := pfs.OpenFile(path)
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	return pfs, h, path
}

// allocNPages allocates n pages, unpinning each immediately so the pool is
// left idle, and returns their page numbers.
func allocNPages(t *testing.T, pfs *PagedFileStore, h FileHandle, n int) []PageNo {
	t.Helper()
	ids := make([]PageNo, n)
	for i := 0; i < n; i++ {
		pn, _, err := pfs.AllocPage(h)
		if err != nil {
			t.Fatalf("AllocPage: %v", err)
		}
		if err := pfs.Unpin(h, pn, true); err != nil {
			t.Fatalf("Unpin: %v", err)
		}
		ids[i] = pn
	}
	return ids
}

// TestBufferPool_HitMissAccounting matches spec.md §8 scenario 1.
func TestBufferPool_HitMissAccounting(t *testing.T) {
	pfs, h, path := newTestStore(t, 4, LRU)
	allocNPages(t, pfs, h, 10)
	// Close and reopen so the trace starts from an empty pool over a file
	// that already holds 10 pages on disk.
	if err := pfs.CloseFile(h); err != nil {
		t.Fatalf("CloseFile: %v", err)
	}
	h, err := pfs.OpenFile(path)
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	pfs.Pool().ResetStats()

	mustGetUnpin := func(pn PageNo) {
		if _, err := pfs.GetPage(h, pn); err != nil {
			t.Fatalf("GetPage(%d): %v", pn, err)
		}
		if err := pfs.Unpin(h, pn, false); err != nil {
			t.Fatalf("Unpin(%d): %v", pn, err)
		}
	}
	mustGetUnpin(0)
	mustGetUnpin(1)
	mustGetUnpin(0)

	st := pfs.Pool().Stats()
	if st.LogicalReads != 3 {
		t.Errorf("LogicalReads = %d, want 3", st.LogicalReads)
	}
	if st.BufferMisses != 2 {
		t.Errorf("BufferMisses = %d, want 2", st.BufferMisses)
	}
	if st.BufferHits != 1 {
		t.Errorf("BufferHits = %d, want 1", st.BufferHits)
	}
	if st.PhysicalReads != 2 {
		t.Errorf("PhysicalReads = %d, want 2", st.PhysicalReads)
	}
	if st.PhysicalWrites != 0 {
		t.Errorf("PhysicalWrites = %d, want 0", st.PhysicalWrites)
	}
	if got, want := st.HitRatio(), 1.0/3.0; got != want {
		t.Errorf("HitRatio = %v, want %v", got, want)
	}
}

// TestBufferPool_LRUvsMRUVictim matches spec.md §8 scenario 2.
func TestBufferPool_LRUvsMRUVictim(t *testing.T) {
	for _, policy := range []Policy{LRU, MRU} {
		t.Run(policy.String(), func(t *testing.T) {
			pfs, h, path := newTestStore(t, 3, policy)
			allocNPages(t, pfs, h, 4)
			// Close and reopen so the accesses below start from an empty pool.
			if err := pfs.CloseFile(h); err != nil {
				t.Fatalf("CloseFile: %v", err)
			}
			h, err := pfs.OpenFile(path)
			if err != nil {
				t.Fatalf("OpenFile: %v", err)
			}

			access := func(pn PageNo) {
				if _, err := pfs.GetPage(h, pn); err != nil {
					t.Fatalf("GetPage(%d): %v", pn, err)
				}
				if err := pfs.Unpin(h, pn, false); err != nil {
					t.Fatalf("Unpin(%d): %v", pn, err)
				}
			}
			access(0)
			access(1)
			access(2)
			access(3) // forces an eviction out of {0,1,2}

			pfs.Pool().ResetStats()
			if _, err := pfs.GetPage(h, 0); err != nil {
				t.Fatalf("GetPage(0): %v", err)
			}
			pfs.Unpin(h, 0, false)
			st := pfs.Pool().Stats()

			switch policy {
			case LRU:
				if st.BufferMisses != 1 {
					t.Errorf("LRU: expected page 0 evicted (miss), got misses=%d", st.BufferMisses)
				}
			case MRU:
				if st.BufferHits != 1 {
					t.Errorf("MRU: expected page 0 still cached (hit), got hits=%d", st.BufferHits)
				}
			}
		})
	}
}

// TestBufferPool_PageFixedOnDoubleGet ensures a pinned page cannot be
// fetched again without an intervening unpin (spec.md §4.1, §4.3).
func TestBufferPool_PageFixedOnDoubleGet(t *testing.T) {
	pfs, h, _ := newTestStore(t, 4, LRU)
	allocNPages(t, pfs, h, 1)

	if _, err := pfs.GetPage(h, 0); err != nil {
		t.Fatalf("GetPage: %v", err)
	}
	if _, err := pfs.GetPage(h, 0); err == nil {
		t.Fatal("expected page_fixed on double get, got nil error")
	} else if !errors.Is(err, errs.ErrPageFixed) {
		t.Fatalf("expected page_fixed, got %v", err)
	}
}

// TestBufferPool_NoBufferWhenAllPinned matches spec.md §8 boundary behavior.
func TestBufferPool_NoBufferWhenAllPinned(t *testing.T) {
	pfs, h, _ := newTestStore(t, 2, LRU)
	allocNPages(t, pfs, h, 3)

	if _, err := pfs.GetPage(h, 0); err != nil {
		t.Fatalf("GetPage(0): %v", err)
	}
	if _, err := pfs.GetPage(h, 1); err != nil {
		t.Fatalf("GetPage(1): %v", err)
	}
	if _, err := pfs.GetPage(h, 2); err == nil {
		t.Fatal("expected no_buffer, got nil error")
	} else if !errors.Is(err, errs.ErrNoBuffer) {
		t.Fatalf("expected no_buffer, got %v", err)
	}
}

// TestCloseFile_FailsWithPinnedPages matches spec.md §8 boundary behavior.
func TestCloseFile_FailsWithPinnedPages(t *testing.T) {
	pfs, h, _ := newTestStore(t, 4, LRU)
	allocNPages(t, pfs, h, 1)

	if _, err := pfs.GetPage(h, 0); err != nil {
		t.Fatalf("GetPage: %v", err)
	}
	if err := pfs.CloseFile(h); err == nil {
		t.Fatal("expected close to fail with a pinned page")
	}
	pfs.Unpin(h, 0, false)
	if err := pfs.CloseFile(h); err != nil {
		t.Fatalf("CloseFile after unpin: %v", err)
	}
}

// TestPagedFile_AllocDisposeReuse exercises the free chain across a
// close/reopen to confirm it survives a normal (non-crash) session
// boundary.
func TestPagedFile_AllocDisposeReuse(t *testing.T) {
	pfs, h, path := newTestStore(t, 4, LRU)
	ids := allocNPages(t, pfs, h, 3)

	if err := pfs.DisposePage(h, ids[1]); err != nil {
		t.Fatalf("DisposePage: %v", err)
	}
	if err := pfs.DisposePage(h, ids[1]); !errors.Is(err, errs.ErrPageAlreadyFree) {
		t.Fatalf("expected page_already_free, got %v", err)
	}
	if err := pfs.CloseFile(h); err != nil {
		t.Fatalf("CloseFile: %v", err)
	}

	h2, err := pfs.OpenFile(path)
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	reused, _, err := pfs.AllocPage(h2)
	if err != nil {
		t.Fatalf("AllocPage: %v", err)
	}
	if reused != ids[1] {
		t.Errorf("AllocPage reused %d, want disposed page %d", reused, ids[1])
	}
	pfs.Unpin(h2, reused, true)
}

// TestSlottedPage_FragmentationAndCompaction matches spec.md §8 scenario 3.
func TestSlottedPage_FragmentationAndCompaction(t *testing.T) {
	buf := make([]byte, PageSize)
	sp := InitSlottedPage(buf, 0)

	sizes := []int{100, 200, 50, 300}
	for i, sz := range sizes {
		slot, err := sp.InsertRecord(make([]byte, sz))
		if err != nil {
			t.Fatalf("InsertRecord(%d): %v", sz, err)
		}
		if slot != i {
			t.Fatalf("InsertRecord(%d) = slot %d, want %d", sz, slot, i)
		}
	}

	beforeFree := sp.FreeSpaceSize()
	if err := sp.DeleteRecord(0); err != nil {
		t.Fatalf("DeleteRecord(0): %v", err)
	}
	if err := sp.DeleteRecord(2); err != nil {
		t.Fatalf("DeleteRecord(2): %v", err)
	}
	if got, want := sp.FreeSpaceSize(), beforeFree+100+50; got != want {
		t.Errorf("FreeSpaceSize after deletes = %d, want %d", got, want)
	}

	slot, err := sp.InsertRecord(make([]byte, 120))
	if err != nil {
		t.Fatalf("InsertRecord(120) reuse: %v", err)
	}
	if slot != 0 && slot != 2 {
		t.Errorf("expected tombstone reuse at slot 0 or 2, got %d", slot)
	}
	if sp.NumSlots() != 4 {
		t.Fatalf("NumSlots before compact = %d, want 4", sp.NumSlots())
	}

	sp.Compact()
	if sp.NumSlots() != 3 {
		t.Errorf("NumSlots after compact = %d, want 3", sp.NumSlots())
	}
	for i := 0; i < sp.NumSlots(); i++ {
		if sp.IsTombstone(i) {
			t.Errorf("slot %d is a tombstone after compact", i)
		}
	}
}

// TestSlottedPage_TombstoneReuseChargesOnlyRecLen pins down the REQUIRED
// deviation from spec.md §9: reusing a tombstone slot must not also charge
// SLOT_SIZE, since no new directory entry is created.
func TestSlottedPage_TombstoneReuseChargesOnlyRecLen(t *testing.T) {
	buf := make([]byte, PageSize)
	sp := InitSlottedPage(buf, 0)

	if _, err := sp.InsertRecord(make([]byte, 100)); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := sp.DeleteRecord(0); err != nil {
		t.Fatalf("delete: %v", err)
	}
	before := sp.FreeSpaceSize()
	if _, err := sp.InsertRecord(make([]byte, 100)); err != nil {
		t.Fatalf("reuse insert: %v", err)
	}
	if got, want := sp.FreeSpaceSize(), before-100; got != want {
		t.Errorf("FreeSpaceSize after reuse = %d, want %d (charged %d)", got, want, before-got)
	}
}

// TestSlottedPage_BoundaryRecordSize matches spec.md §8 boundary behavior.
func TestSlottedPage_BoundaryRecordSize(t *testing.T) {
	buf := make([]byte, PageSize)
	sp := InitSlottedPage(buf, 0)

	if _, err := sp.InsertRecord(make([]byte, MaxRecordSize)); err != nil {
		t.Fatalf("max-size insert should succeed: %v", err)
	}

	buf2 := make([]byte, PageSize)
	sp2 := InitSlottedPage(buf2, 0)
	if _, err := sp2.InsertRecord(make([]byte, MaxRecordSize+1)); !errors.Is(err, errs.ErrSPNoSpace) {
		t.Fatalf("expected sp_no_space for MaxRecordSize+1, got %v", err)
	}
}

// TestSlottedPage_FetchTombstoneFails matches I-SP2.
func TestSlottedPage_FetchTombstoneFails(t *testing.T) {
	buf := make([]byte, PageSize)
	sp := InitSlottedPage(buf, 0)

	data := []byte("hello")
	slot, _ := sp.InsertRecord(data)
	got, err := sp.FetchRecord(slot)
	if err != nil {
		t.Fatalf("FetchRecord: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Fatalf("FetchRecord = %q, want %q", got, data)
	}

	sp.DeleteRecord(slot)
	if _, err := sp.FetchRecord(slot); !errors.Is(err, errs.ErrSPInvalidSlot) {
		t.Fatalf("expected sp_invalid_slot for tombstoned fetch, got %v", err)
	}
}
