package recordfile

import (
	"bytes"
	"fmt"
	"math/rand"
	"path/filepath"
	"testing"

	"github.com/arnegrid/pagestore/internal/storage/pager"
)

func newTestFile(t *testing.T, poolSize int) (*RecordFile, *pager.PagedFileStore, pager.FileHandle) {
	t.Helper()
	pfs := pager.NewPagedFileStore(poolSize, pager.LRU, 0)
	path := filepath.Join(t.TempDir(), "records.pgs")
	if err := pfs.CreateFile(path); err != nil {
		t.Fatalf("CreateFile: %v", err)
	}
	h, err := pfs.OpenFile(path)
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	return Open(pfs, h), pfs, h
}

// TestRecordFile_InsertGetRoundTrip matches spec.md §8's insert/get
// round-trip property: get(insert(r)) returns bytes equal to r.
func TestRecordFile_InsertGetRoundTrip(t *testing.T) {
	rf, _, _ := newTestFile(t, 8)

	want := []byte("a sample record payload")
	id, err := rf.Insert(want)
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	got, err := rf.Get(id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !bytes.Equal(got, want) {
		t.Fatalf("Get = %q, want %q", got, want)
	}
}

// TestRecordFile_PackingAndUtilization matches spec.md §8 scenario 4: about
// 10,000 records averaging 97 bytes into a PAGE_SIZE=4096 file should land
// around 256-270 pages at roughly 92-95% utilization.
func TestRecordFile_PackingAndUtilization(t *testing.T) {
	rf, _, _ := newTestFile(t, 32)

	rng := rand.New(rand.NewSource(1))
	const numRecords = 10000
	for i := 0; i < numRecords; i++ {
		size := 80 + rng.Intn(35) // averages ~97 bytes
		data := make([]byte, size)
		rng.Read(data)
		if _, err := rf.Insert(data); err != nil {
			t.Fatalf("Insert #%d (size %d): %v", i, size, err)
		}
	}

	st, err := rf.Stats()
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if st.Pages < 200 || st.Pages > 320 {
		t.Errorf("Pages = %d, want roughly 256-270", st.Pages)
	}
	if u := st.Utilization(); u < 0.85 || u > 0.99 {
		t.Errorf("Utilization = %.3f, want roughly 0.92-0.95", u)
	}
}

// TestRecordFile_ScanOrderWithinPage confirms a page's records are visited
// in slot order, which is insertion order for records that never reuse a
// tombstone (spec.md §4.5).
func TestRecordFile_ScanOrderWithinPage(t *testing.T) {
	rf, _, _ := newTestFile(t, 8)

	var inserted [][]byte
	for i := 0; i < 20; i++ {
		rec := []byte(fmt.Sprintf("record-%02d", i))
		if _, err := rf.Insert(rec); err != nil {
			t.Fatalf("Insert(%d): %v", i, err)
		}
		inserted = append(inserted, rec)
	}

	var seen [][]byte
	if err := rf.Scan(func(data []byte, id RecordID) bool {
		cp := make([]byte, len(data))
		copy(cp, data)
		seen = append(seen, cp)
		return true
	}); err != nil {
		t.Fatalf("Scan: %v", err)
	}

	if len(seen) != len(inserted) {
		t.Fatalf("Scan saw %d records, want %d", len(seen), len(inserted))
	}
	for i := range inserted {
		if !bytes.Equal(seen[i], inserted[i]) {
			t.Errorf("record %d = %q, want %q", i, seen[i], inserted[i])
		}
	}
}

// TestRecordFile_InsertDeleteScanMultiset is the property test from
// spec.md §8: for any sequence of random insert/delete operations, a
// subsequent scan must yield exactly the multiset of still-live records.
func TestRecordFile_InsertDeleteScanMultiset(t *testing.T) {
	rf, _, _ := newTestFile(t, 16)
	rng := rand.New(rand.NewSource(42))

	live := map[RecordID][]byte{}
	var ids []RecordID

	for i := 0; i < 500; i++ {
		if len(ids) > 0 && rng.Intn(3) == 0 {
			victim := ids[rng.Intn(len(ids))]
			if _, ok := live[victim]; ok {
				if err := rf.Delete(victim); err != nil {
					t.Fatalf("Delete(%v): %v", victim, err)
				}
				delete(live, victim)
			}
			continue
		}
		size := 1 + rng.Intn(200)
		data := make([]byte, size)
		rng.Read(data)
		id, err := rf.Insert(data)
		if err != nil {
			t.Fatalf("Insert #%d: %v", i, err)
		}
		live[id] = data
		ids = append(ids, id)
	}

	scanned := map[RecordID][]byte{}
	if err := rf.Scan(func(data []byte, id RecordID) bool {
		cp := make([]byte, len(data))
		copy(cp, data)
		scanned[id] = cp
		return true
	}); err != nil {
		t.Fatalf("Scan: %v", err)
	}

	if len(scanned) != len(live) {
		t.Fatalf("scan returned %d live records, want %d", len(scanned), len(live))
	}
	for id, want := range live {
		got, ok := scanned[id]
		if !ok {
			t.Errorf("record %v missing from scan", id)
			continue
		}
		if !bytes.Equal(got, want) {
			t.Errorf("record %v = %q, want %q", id, got, want)
		}
	}
}

// TestRecordFile_OversizedRecordRejected matches the failure behavior in
// spec.md §4.5: a record larger than the maximum ever fittable on an empty
// page is rejected outright, never split or overflowed.
func TestRecordFile_OversizedRecordRejected(t *testing.T) {
	rf, _, _ := newTestFile(t, 4)

	if _, err := rf.Insert(make([]byte, pager.MaxRecordSize+1)); err == nil {
		t.Fatal("expected oversized insert to fail")
	}
}
