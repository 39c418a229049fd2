// Package index implements the Index Builder (IXB): a B+ tree over a
// fixed-width key, stored as leaf and internal pages allocated through a
// Paged File Store and cached via its buffer pool (spec.md §4.6).
//
// Three construction strategies share the leaf/internal wire format:
// InsertEntry is the generic insertion primitive used by Strategy 1
// (existing-file scan) and Strategy 2 (incremental, the same primitive
// under a different workload narrative); BulkLoad is the algorithmically
// distinct Strategy 3, which never calls InsertEntry and writes every page
// exactly once.
package index

import (
	"bytes"
	"fmt"
	"os"
	"sort"

	"github.com/google/uuid"

	"github.com/arnegrid/pagestore/errs"
	"github.com/arnegrid/pagestore/internal/storage/pager"
	"github.com/arnegrid/pagestore/internal/storage/recordfile"
)

// DefaultFillFactor is the bulk loader's target leaf occupancy when the
// caller does not specify one (spec.md §4.6 step 2).
const DefaultFillFactor = 0.9

// IndexFile is a B+ tree index over one open paged file. Page 0 is a
// reserved metadata page (attribute width and current root); all other
// pages are leaves ('L') or internal nodes ('I').
type IndexFile struct {
	pfs     *pager.PagedFileStore
	h       pager.FileHandle
	attrLen int

	metaPage   pager.PageNo
	root       pager.PageNo
	rootIsLeaf bool
}

// CreateIndex materializes a new, empty index file keyed by a fixed-width
// attribute of attrLen bytes, with a single empty leaf as its root.
func CreateIndex(pfs *pager.PagedFileStore, path string, attrLen int) (*IndexFile, error) {
	if err := pfs.CreateFile(path); err != nil {
		return nil, err
	}
	h, err := pfs.OpenFile(path)
	if err != nil {
		return nil, err
	}

	metaPN, metaBuf, err := pfs.AllocPage(h)
	if err != nil {
		pfs.CloseFile(h)
		return nil, err
	}
	rootPN, rootBuf, err := pfs.AllocPage(h)
	if err != nil {
		pfs.Unpin(h, metaPN, false)
		pfs.CloseFile(h)
		return nil, err
	}
	initLeaf(rootBuf, attrLen)
	if err := pfs.Unpin(h, rootPN, true); err != nil {
		return nil, err
	}
	initMeta(metaBuf, attrLen, rootPN, true)
	if err := pfs.Unpin(h, metaPN, true); err != nil {
		return nil, err
	}

	return &IndexFile{pfs: pfs, h: h, attrLen: attrLen, metaPage: metaPN, root: rootPN, rootIsLeaf: true}, nil
}

// OpenIndex opens an existing index file, reading its root pointer and
// attribute width back from the metadata page.
func OpenIndex(pfs *pager.PagedFileStore, path string) (*IndexFile, error) {
	h, err := pfs.OpenFile(path)
	if err != nil {
		return nil, err
	}
	metaBuf, err := pfs.GetPage(h, 0)
	if err != nil {
		pfs.CloseFile(h)
		return nil, err
	}
	attrLen, root, rootIsLeaf := readMeta(metaBuf)
	if err := pfs.Unpin(h, 0, false); err != nil {
		return nil, err
	}
	return &IndexFile{pfs: pfs, h: h, attrLen: attrLen, metaPage: 0, root: root, rootIsLeaf: rootIsLeaf}, nil
}

// Close flushes and closes the underlying file handle.
func (ix *IndexFile) Close() error { return ix.pfs.CloseFile(ix.h) }

// DestroyIndex removes the index file from disk. It does not close an open
// index: if the file is still open it fails with errs.ErrFileOpen.
func DestroyIndex(pfs *pager.PagedFileStore, path string) error {
	return pfs.DestroyFile(path)
}

func (ix *IndexFile) setRoot(root pager.PageNo, isLeaf bool) error {
	metaBuf, err := ix.pfs.GetPage(ix.h, ix.metaPage)
	if err != nil {
		return err
	}
	setMetaRoot(metaBuf, root, isLeaf)
	if err := ix.pfs.Unpin(ix.h, ix.metaPage, true); err != nil {
		return err
	}
	ix.root, ix.rootIsLeaf = root, isLeaf
	return nil
}

// pathToLeaf descends from the root, returning the page numbers visited in
// order (internal nodes followed by the leaf) for the given key.
func (ix *IndexFile) pathToLeaf(key []byte) ([]pager.PageNo, error) {
	var path []pager.PageNo
	pn := ix.root
	for {
		path = append(path, pn)
		buf, err := ix.pfs.GetPage(ix.h, pn)
		if err != nil {
			return nil, err
		}
		if buf[0] == leafMarker {
			if err := ix.pfs.Unpin(ix.h, pn, false); err != nil {
				return nil, err
			}
			return path, nil
		}
		ip := wrapInternal(buf)
		child := ip.childForKey(key)
		if err := ix.pfs.Unpin(ix.h, pn, false); err != nil {
			return nil, err
		}
		pn = child
	}
}

// Probe looks up key and returns its RecordID, or found=false if absent.
func (ix *IndexFile) Probe(key []byte) (recordfile.RecordID, bool, error) {
	path, err := ix.pathToLeaf(key)
	if err != nil {
		return recordfile.RecordID{}, false, err
	}
	leafPN := path[len(path)-1]
	buf, err := ix.pfs.GetPage(ix.h, leafPN)
	if err != nil {
		return recordfile.RecordID{}, false, err
	}
	defer ix.pfs.Unpin(ix.h, leafPN, false)

	lp := wrapLeaf(buf)
	pos, found := lp.search(key)
	if !found {
		return recordfile.RecordID{}, false, nil
	}
	return decodeRecordID(lp.RecIDAt(pos)), true, nil
}

// InsertEntry is the generic insertion primitive shared by Strategy 1
// (existing-file scan) and Strategy 2 (incremental arrival): it navigates
// from the root, inserts in sorted position, and splits leaves/internal
// nodes bottom-up as needed (spec.md §4.6). A failed split can leave the
// tree partially updated; per spec this is acceptable — callers treat the
// index as discardable on any InsertEntry error.
func (ix *IndexFile) InsertEntry(key []byte, rid recordfile.RecordID) error {
	if len(key) != ix.attrLen {
		return fmt.Errorf("%w: key length %d, want %d", errs.ErrSPInvalidSlot, len(key), ix.attrLen)
	}
	path, err := ix.pathToLeaf(key)
	if err != nil {
		return err
	}
	leafPN := path[len(path)-1]
	buf, err := ix.pfs.GetPage(ix.h, leafPN)
	if err != nil {
		return err
	}
	lp := wrapLeaf(buf)
	if lp.insertSorted(key, encodeRecordID(rid)) {
		return ix.pfs.Unpin(ix.h, leafPN, true)
	}
	if err := ix.pfs.Unpin(ix.h, leafPN, false); err != nil {
		return err
	}
	return ix.splitLeafAndInsert(path, key, encodeRecordID(rid))
}

type sortPair struct {
	key []byte
	rid int32
}

func (ix *IndexFile) splitLeafAndInsert(path []pager.PageNo, key []byte, recID int32) error {
	leafPN := path[len(path)-1]
	buf, err := ix.pfs.GetPage(ix.h, leafPN)
	if err != nil {
		return err
	}
	lp := wrapLeaf(buf)
	attrLen := lp.AttrLen()
	oldNext := lp.NextLeaf()

	n := lp.KeyCount()
	merged := make([]sortPair, 0, n+1)
	inserted := false
	for i := 0; i < n; i++ {
		k := append([]byte(nil), lp.KeyAt(i)...)
		if !inserted && bytes.Compare(key, k) <= 0 {
			merged = append(merged, sortPair{key, recID})
			inserted = true
		}
		merged = append(merged, sortPair{k, lp.RecIDAt(i)})
	}
	if !inserted {
		merged = append(merged, sortPair{key, recID})
	}

	mid := len(merged) / 2
	leftPairs, rightPairs := merged[:mid], merged[mid:]
	splitKey := rightPairs[0].key

	leftLP := initLeaf(buf, attrLen)
	for _, p := range leftPairs {
		leftLP.appendSorted(p.key, p.rid)
	}

	rightPN, rightBuf, err := ix.pfs.AllocPage(ix.h)
	if err != nil {
		ix.pfs.Unpin(ix.h, leafPN, true)
		return err
	}
	rightLP := initLeaf(rightBuf, attrLen)
	for _, p := range rightPairs {
		rightLP.appendSorted(p.key, p.rid)
	}

	leftLP.setNextLeaf(rightPN)
	rightLP.setNextLeaf(oldNext)

	if err := ix.pfs.Unpin(ix.h, leafPN, true); err != nil {
		return err
	}
	if err := ix.pfs.Unpin(ix.h, rightPN, true); err != nil {
		return err
	}

	return ix.insertIntoParent(path[:len(path)-1], leafPN, splitKey, rightPN)
}

func (ix *IndexFile) insertIntoParent(path []pager.PageNo, leftChild pager.PageNo, key []byte, rightChild pager.PageNo) error {
	if len(path) == 0 {
		return ix.createNewRoot(leftChild, key, rightChild)
	}

	parentPN := path[len(path)-1]
	buf, err := ix.pfs.GetPage(ix.h, parentPN)
	if err != nil {
		return err
	}
	ip := wrapInternal(buf)
	if ip.insertSeparator(leftChild, key, rightChild) {
		return ix.pfs.Unpin(ix.h, parentPN, true)
	}
	if err := ix.pfs.Unpin(ix.h, parentPN, false); err != nil {
		return err
	}
	return ix.splitInternalAndInsert(path, leftChild, key, rightChild)
}

type internalEntry struct {
	key   []byte
	child pager.PageNo
}

func (ix *IndexFile) splitInternalAndInsert(path []pager.PageNo, leftChild pager.PageNo, key []byte, rightChild pager.PageNo) error {
	parentPN := path[len(path)-1]
	buf, err := ix.pfs.GetPage(ix.h, parentPN)
	if err != nil {
		return err
	}
	ip := wrapInternal(buf)
	attrLen := ip.AttrLen()
	leftEdge := ip.LeftEdge()

	n := ip.KeyCount()
	old := make([]internalEntry, n)
	for i := 0; i < n; i++ {
		old[i] = internalEntry{append([]byte(nil), ip.KeyAt(i)...), ip.ChildAt(i)}
	}
	idx := ip.childIndexOf(leftChild)

	merged := make([]internalEntry, 0, n+1)
	merged = append(merged, old[:idx]...)
	merged = append(merged, internalEntry{key, rightChild})
	merged = append(merged, old[idx:]...)

	mid := len(merged) / 2
	pushUpKey := merged[mid].key
	leftEntries := merged[:mid]
	rightEdge := merged[mid].child
	rightEntries := merged[mid+1:]

	leftIP := initInternal(buf, attrLen, leftEdge)
	for _, e := range leftEntries {
		leftIP.appendSeparator(e.key, e.child)
	}

	rightPN, rightBuf, err := ix.pfs.AllocPage(ix.h)
	if err != nil {
		ix.pfs.Unpin(ix.h, parentPN, true)
		return err
	}
	rightIP := initInternal(rightBuf, attrLen, rightEdge)
	for _, e := range rightEntries {
		rightIP.appendSeparator(e.key, e.child)
	}

	if err := ix.pfs.Unpin(ix.h, parentPN, true); err != nil {
		return err
	}
	if err := ix.pfs.Unpin(ix.h, rightPN, true); err != nil {
		return err
	}

	return ix.insertIntoParent(path[:len(path)-1], parentPN, pushUpKey, rightPN)
}

func (ix *IndexFile) createNewRoot(leftChild pager.PageNo, key []byte, rightChild pager.PageNo) error {
	rootPN, rootBuf, err := ix.pfs.AllocPage(ix.h)
	if err != nil {
		return err
	}
	ip := initInternal(rootBuf, ix.attrLen, leftChild)
	ip.appendSeparator(key, rightChild)
	if err := ix.pfs.Unpin(ix.h, rootPN, true); err != nil {
		return err
	}
	return ix.setRoot(rootPN, false)
}

// Pair is one (key, RecordID) entry fed to BulkLoad.
type Pair struct {
	Key []byte
	Rec recordfile.RecordID
}

// BulkLoad implements Strategy 3 (spec.md §4.6): sort the input, pack
// leaves at the given fill factor, then build internal levels bottom-up
// until a single root remains. No InsertEntry call is made and every page
// is written exactly once. The build happens in a uniquely named temp file
// and is atomically renamed into place only on success (all-or-nothing
// per spec.md's "IXB discards the in-progress index file on any failure");
// on any error the temp file is destroyed and the error returned.
func BulkLoad(pfs *pager.PagedFileStore, finalPath string, attrLen int, pairs []Pair, fillFactor float64) (*IndexFile, error) {
	if fillFactor <= 0 || fillFactor > 1 {
		fillFactor = DefaultFillFactor
	}
	sorted := make([]Pair, len(pairs))
	copy(sorted, pairs)
	sort.SliceStable(sorted, func(i, j int) bool {
		return bytes.Compare(sorted[i].Key, sorted[j].Key) < 0
	})

	tempPath := fmt.Sprintf("%s.tmp-%s", finalPath, uuid.New().String())
	ix, err := bulkLoadInto(pfs, tempPath, attrLen, sorted, fillFactor)
	if err != nil {
		pfs.DestroyFile(tempPath)
		return nil, err
	}
	if err := ix.Close(); err != nil {
		pfs.DestroyFile(tempPath)
		return nil, err
	}
	if err := os.Rename(tempPath, finalPath); err != nil {
		pfs.DestroyFile(tempPath)
		return nil, fmt.Errorf("%w: commit bulk-loaded index: %v", errs.ErrIOShort, err)
	}
	return OpenIndex(pfs, finalPath)
}

func bulkLoadInto(pfs *pager.PagedFileStore, tempPath string, attrLen int, sorted []Pair, fillFactor float64) (*IndexFile, error) {
	if err := pfs.CreateFile(tempPath); err != nil {
		return nil, err
	}
	h, err := pfs.OpenFile(tempPath)
	if err != nil {
		return nil, err
	}

	metaPN, _, err := pfs.AllocPage(h)
	if err != nil {
		pfs.CloseFile(h)
		return nil, err
	}
	if err := pfs.Unpin(h, metaPN, false); err != nil {
		pfs.CloseFile(h)
		return nil, err
	}

	leafCap := leafCapacity(attrLen)
	perLeaf := int(float64(leafCap) * fillFactor)
	if perLeaf < 1 {
		perLeaf = 1
	}

	var level []pager.PageNo
	var firstKeys [][]byte

	if len(sorted) == 0 {
		pn, buf, err := pfs.AllocPage(h)
		if err != nil {
			pfs.CloseFile(h)
			return nil, err
		}
		initLeaf(buf, attrLen)
		if err := pfs.Unpin(h, pn, true); err != nil {
			pfs.CloseFile(h)
			return nil, err
		}
		level = []pager.PageNo{pn}
		firstKeys = [][]byte{make([]byte, attrLen)}
	} else {
		var prevPN pager.PageNo
		var prevLP *leafPage
		haveActive := false

		for start := 0; start < len(sorted); start += perLeaf {
			end := start + perLeaf
			if end > len(sorted) {
				end = len(sorted)
			}
			pn, buf, err := pfs.AllocPage(h)
			if err != nil {
				pfs.CloseFile(h)
				return nil, err
			}
			lp := initLeaf(buf, attrLen)
			for _, p := range sorted[start:end] {
				if !lp.appendSorted(p.Key, encodeRecordID(p.Rec)) {
					pfs.CloseFile(h)
					return nil, fmt.Errorf("%w: bulk-load batch exceeds leaf capacity", errs.ErrSPNoSpace)
				}
			}

			if haveActive {
				prevLP.setNextLeaf(pn)
				if err := pfs.Unpin(h, prevPN, true); err != nil {
					pfs.CloseFile(h)
					return nil, err
				}
			}
			prevPN, prevLP, haveActive = pn, lp, true

			level = append(level, pn)
			firstKeys = append(firstKeys, sorted[start].Key)
		}
		if haveActive {
			if err := pfs.Unpin(h, prevPN, true); err != nil {
				pfs.CloseFile(h)
				return nil, err
			}
		}
	}

	rootIsLeaf := true
	maxEntries := internalCapacity(attrLen)
	for len(level) > 1 {
		groupSize := maxEntries + 1
		var nextLevel []pager.PageNo
		var nextFirstKeys [][]byte

		for i := 0; i < len(level); i += groupSize {
			end := i + groupSize
			if end > len(level) {
				end = len(level)
			}
			children := level[i:end]
			keys := firstKeys[i:end]

			pn, buf, err := pfs.AllocPage(h)
			if err != nil {
				pfs.CloseFile(h)
				return nil, err
			}
			ip := initInternal(buf, attrLen, children[0])
			for j := 1; j < len(children); j++ {
				if !ip.appendSeparator(keys[j], children[j]) {
					pfs.CloseFile(h)
					return nil, fmt.Errorf("%w: bulk-load internal group exceeds capacity", errs.ErrSPNoSpace)
				}
			}
			if err := pfs.Unpin(h, pn, true); err != nil {
				pfs.CloseFile(h)
				return nil, err
			}

			nextLevel = append(nextLevel, pn)
			nextFirstKeys = append(nextFirstKeys, keys[0])
		}

		level, firstKeys = nextLevel, nextFirstKeys
		rootIsLeaf = false
	}

	root := level[0]
	metaBuf, err := pfs.GetPage(h, metaPN)
	if err != nil {
		pfs.CloseFile(h)
		return nil, err
	}
	initMeta(metaBuf, attrLen, root, rootIsLeaf)
	if err := pfs.Unpin(h, metaPN, true); err != nil {
		pfs.CloseFile(h)
		return nil, err
	}

	return &IndexFile{pfs: pfs, h: h, attrLen: attrLen, metaPage: metaPN, root: root, rootIsLeaf: rootIsLeaf}, nil
}

// LeafCount walks the linked leaf chain from the leftmost leaf, returning
// how many leaves the tree currently has (used by tests checking
// num_leaves against spec.md §8 scenario 5's expectation).
func (ix *IndexFile) LeafCount() (int, error) {
	pn := ix.root
	for {
		buf, err := ix.pfs.GetPage(ix.h, pn)
		if err != nil {
			return 0, err
		}
		isLeaf := buf[0] == leafMarker
		var next pager.PageNo
		if !isLeaf {
			ip := wrapInternal(buf)
			next = ip.LeftEdge()
		}
		if err := ix.pfs.Unpin(ix.h, pn, false); err != nil {
			return 0, err
		}
		if isLeaf {
			break
		}
		pn = next
	}

	count := 0
	for pn != pager.InvalidPageNo {
		buf, err := ix.pfs.GetPage(ix.h, pn)
		if err != nil {
			return 0, err
		}
		lp := wrapLeaf(buf)
		next := lp.NextLeaf()
		if err := ix.pfs.Unpin(ix.h, pn, false); err != nil {
			return 0, err
		}
		count++
		pn = next
	}
	return count, nil
}

// ScanLeaves walks the leaf chain left to right, calling fn for every
// (key, RecordID) pair in ascending order (I-IX1, I-IX2).
func (ix *IndexFile) ScanLeaves(fn func(key []byte, rid recordfile.RecordID) bool) error {
	pn := ix.root
	for {
		buf, err := ix.pfs.GetPage(ix.h, pn)
		if err != nil {
			return err
		}
		isLeaf := buf[0] == leafMarker
		var next pager.PageNo
		if !isLeaf {
			ip := wrapInternal(buf)
			next = ip.LeftEdge()
		}
		if err := ix.pfs.Unpin(ix.h, pn, false); err != nil {
			return err
		}
		if isLeaf {
			break
		}
		pn = next
	}

	for pn != pager.InvalidPageNo {
		buf, err := ix.pfs.GetPage(ix.h, pn)
		if err != nil {
			return err
		}
		lp := wrapLeaf(buf)
		next := lp.NextLeaf()
		stop := false
		for i := 0; i < lp.KeyCount(); i++ {
			k := append([]byte(nil), lp.KeyAt(i)...)
			if !fn(k, decodeRecordID(lp.RecIDAt(i))) {
				stop = true
				break
			}
		}
		if err := ix.pfs.Unpin(ix.h, pn, false); err != nil {
			return err
		}
		if stop {
			return nil
		}
		pn = next
	}
	return nil
}
