package index

import (
	"bytes"
	"fmt"
	"math/rand"
	"path/filepath"
	"testing"

	"github.com/arnegrid/pagestore/internal/storage/pager"
	"github.com/arnegrid/pagestore/internal/storage/recordfile"
)

func newTestPFS(t *testing.T) (*pager.PagedFileStore, string) {
	t.Helper()
	return pager.NewPagedFileStore(16, pager.LRU, 0), t.TempDir()
}

func fixedKey(n int, width int) []byte {
	k := make([]byte, width)
	copy(k, []byte(fmt.Sprintf("%0*d", width, n)))
	return k
}

// TestIndex_InsertEntryAndProbe matches spec.md §8's insert/probe
// round-trip for Strategies 1/2's generic primitive.
func TestIndex_InsertEntryAndProbe(t *testing.T) {
	pfs, dir := newTestPFS(t)
	ix, err := CreateIndex(pfs, filepath.Join(dir, "idx1.pgs"), 8)
	if err != nil {
		t.Fatalf("CreateIndex: %v", err)
	}

	const n = 2000
	rng := rand.New(rand.NewSource(7))
	order := rng.Perm(n)
	for _, i := range order {
		key := fixedKey(i, 8)
		rid := recordfile.RecordID{Page: pager.PageNo(i / 10), Slot: i % 10}
		if err := ix.InsertEntry(key, rid); err != nil {
			t.Fatalf("InsertEntry(%d): %v", i, err)
		}
	}

	for i := 0; i < n; i++ {
		rid, found, err := ix.Probe(fixedKey(i, 8))
		if err != nil {
			t.Fatalf("Probe(%d): %v", i, err)
		}
		if !found {
			t.Fatalf("Probe(%d): not found", i)
		}
		want := recordfile.RecordID{Page: pager.PageNo(i / 10), Slot: i % 10}
		if rid != want {
			t.Errorf("Probe(%d) = %v, want %v", i, rid, want)
		}
	}

	if _, found, err := ix.Probe(fixedKey(n+1, 8)); err != nil {
		t.Fatalf("Probe(missing): %v", err)
	} else if found {
		t.Error("Probe(missing) unexpectedly found a key")
	}
}

// TestIndex_ScanLeavesSortedAndLinked matches I-IX1 and I-IX2: after
// construction, the leaf chain yields keys in ascending order and the last
// leaf terminates with -1.
func TestIndex_ScanLeavesSortedAndLinked(t *testing.T) {
	pfs, dir := newTestPFS(t)
	ix, err := CreateIndex(pfs, filepath.Join(dir, "idx2.pgs"), 6)
	if err != nil {
		t.Fatalf("CreateIndex: %v", err)
	}

	rng := rand.New(rand.NewSource(3))
	const n = 3000
	for _, i := range rng.Perm(n) {
		if err := ix.InsertEntry(fixedKey(i, 6), recordfile.RecordID{Page: pager.PageNo(i), Slot: 0}); err != nil {
			t.Fatalf("InsertEntry(%d): %v", i, err)
		}
	}

	var prev []byte
	count := 0
	if err := ix.ScanLeaves(func(key []byte, rid recordfile.RecordID) bool {
		if prev != nil && bytes.Compare(prev, key) > 0 {
			t.Fatalf("keys out of order: %q before %q", prev, key)
		}
		prev = append([]byte(nil), key...)
		count++
		return true
	}); err != nil {
		t.Fatalf("ScanLeaves: %v", err)
	}
	if count != n {
		t.Errorf("ScanLeaves visited %d keys, want %d", count, n)
	}
}

// TestIndex_BulkLoadCorrectness matches spec.md §8 scenario 5: 17,815
// 20-byte keys at fill factor 0.9.
func TestIndex_BulkLoadCorrectness(t *testing.T) {
	pfs, dir := newTestPFS(t)
	const n = 17815
	const attrLen = 20

	rng := rand.New(rand.NewSource(99))
	pairs := make([]Pair, n)
	for idx, i := range rng.Perm(n) {
		pairs[idx] = Pair{Key: fixedKey(i, attrLen), Rec: recordfile.RecordID{Page: pager.PageNo(i), Slot: 0}}
	}

	ix, err := BulkLoad(pfs, filepath.Join(dir, "bulk.pgs"), attrLen, pairs, 0.9)
	if err != nil {
		t.Fatalf("BulkLoad: %v", err)
	}

	leafCap := leafCapacity(attrLen)
	perLeaf := int(float64(leafCap) * 0.9)
	wantLeaves := (n + perLeaf - 1) / perLeaf

	gotLeaves, err := ix.LeafCount()
	if err != nil {
		t.Fatalf("LeafCount: %v", err)
	}
	if gotLeaves != wantLeaves {
		t.Errorf("num_leaves = %d, want %d", gotLeaves, wantLeaves)
	}

	var prev []byte
	count := 0
	if err := ix.ScanLeaves(func(key []byte, rid recordfile.RecordID) bool {
		if prev != nil && bytes.Compare(prev, key) > 0 {
			t.Fatalf("bulk-loaded keys out of order: %q before %q", prev, key)
		}
		prev = append([]byte(nil), key...)
		count++
		return true
	}); err != nil {
		t.Fatalf("ScanLeaves: %v", err)
	}
	if count != n {
		t.Errorf("ScanLeaves visited %d keys, want %d", count, n)
	}

	for i := 0; i < n; i += 977 {
		rid, found, err := ix.Probe(fixedKey(i, attrLen))
		if err != nil {
			t.Fatalf("Probe(%d): %v", i, err)
		}
		if !found {
			t.Fatalf("Probe(%d): not found", i)
		}
		if rid.Page != pager.PageNo(i) {
			t.Errorf("Probe(%d) = %v, want page %d", i, rid, i)
		}
	}
}

// TestIndex_StrategyEquivalence matches spec.md §8 scenario 6: the same
// input built via the generic insertion primitive and via bulk load must
// agree on every probe, and the bulk-loaded tree must have no more leaves
// than the insert-built one (no half-empty leaves left behind by splits).
func TestIndex_StrategyEquivalence(t *testing.T) {
	const n = 1200
	const attrLen = 10
	rng := rand.New(rand.NewSource(55))
	order := rng.Perm(n)

	pfs1, dir1 := newTestPFS(t)
	ixInsert, err := CreateIndex(pfs1, filepath.Join(dir1, "insert.pgs"), attrLen)
	if err != nil {
		t.Fatalf("CreateIndex: %v", err)
	}
	for _, i := range order {
		if err := ixInsert.InsertEntry(fixedKey(i, attrLen), recordfile.RecordID{Page: pager.PageNo(i), Slot: 0}); err != nil {
			t.Fatalf("InsertEntry(%d): %v", i, err)
		}
	}

	pfs2, dir2 := newTestPFS(t)
	pairs := make([]Pair, n)
	for idx, i := range order {
		pairs[idx] = Pair{Key: fixedKey(i, attrLen), Rec: recordfile.RecordID{Page: pager.PageNo(i), Slot: 0}}
	}
	ixBulk, err := BulkLoad(pfs2, filepath.Join(dir2, "bulk.pgs"), attrLen, pairs, 0.9)
	if err != nil {
		t.Fatalf("BulkLoad: %v", err)
	}

	for i := 0; i < n; i++ {
		key := fixedKey(i, attrLen)
		insRID, insFound, err := ixInsert.Probe(key)
		if err != nil {
			t.Fatalf("ixInsert.Probe(%d): %v", i, err)
		}
		bulkRID, bulkFound, err := ixBulk.Probe(key)
		if err != nil {
			t.Fatalf("ixBulk.Probe(%d): %v", i, err)
		}
		if insFound != bulkFound || insRID != bulkRID {
			t.Fatalf("key %d: insert-built=%v/%v, bulk-built=%v/%v", i, insRID, insFound, bulkRID, bulkFound)
		}
	}

	bulkLeaves, err := ixBulk.LeafCount()
	if err != nil {
		t.Fatalf("LeafCount: %v", err)
	}
	insertLeaves, err := ixInsert.LeafCount()
	if err != nil {
		t.Fatalf("LeafCount: %v", err)
	}
	if bulkLeaves > insertLeaves {
		t.Errorf("bulk-loaded leaves = %d, expected <= insert-built leaves %d (no wasted splits)", bulkLeaves, insertLeaves)
	}
}
