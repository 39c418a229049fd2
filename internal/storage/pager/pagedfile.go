package pager

import (
	"fmt"
	"os"

	"github.com/arnegrid/pagestore/errs"
)

// openFile tracks one file currently open through the store, including the
// in-memory mirror of its on-disk disposed-page chain (spec.md §4.1).
type openFile struct {
	f      *os.File
	path   string
	header *fileHeader

	// freeChain mirrors the on-disk singly-linked chain of disposed pages
	// in tail-to-head order (the last element is the chain head), so
	// dispose_page can push and alloc_page can pop at the end in O(1)
	// without re-reading the chain from disk on every call. freeSet gives
	// O(1) "is this page already disposed" membership checks for
	// dispose_page's page_already_free error.
	freeChain []PageNo
	freeSet   map[PageNo]struct{}
}

// PagedFileStore implements the Paged File Store (PFS): create/destroy/
// open/close of files, and alloc_page/get_page/unpin/dispose_page against
// a single process-wide BufferPool shared by every open file (spec.md
// §4.1, §4.3, §5).
type PagedFileStore struct {
	pool       *BufferPool
	files      map[FileHandle]*openFile
	nextHandle FileHandle
	maxOpen    int
}

// NewPagedFileStore constructs a store with its own buffer pool of
// poolSize frames using the given replacement policy. maxOpen caps the
// number of simultaneously open files (0 = unlimited); exceeding it fails
// create_file/open_file with errs.ErrFileTableFull, spec.md §7's one
// explicitly "fatal configuration" error besides oom.
func NewPagedFileStore(poolSize int, policy Policy, maxOpen int) *PagedFileStore {
	pfs := &PagedFileStore{
		files:      make(map[FileHandle]*openFile),
		nextHandle: 1,
		maxOpen:    maxOpen,
	}
	pfs.pool = NewBufferPool(poolSize, policy, pfs)
	return pfs
}

// Pool exposes the shared buffer pool, e.g. for SetPolicy/Stats.
func (pfs *PagedFileStore) Pool() *BufferPool { return pfs.pool }

// ── pageIO (called back into by BufferPool on miss/evict) ──────────────

func (pfs *PagedFileStore) readPageAt(h FileHandle, no PageNo) ([]byte, error) {
	of, ok := pfs.files[h]
	if !ok {
		return nil, fmt.Errorf("%w: handle %d", errs.ErrBadHandle, h)
	}
	buf := make([]byte, PageSize)
	off := int64(FileHeaderSize) + int64(no)*PageSize
	n, err := of.f.ReadAt(buf, off)
	if err != nil || n != PageSize {
		return nil, fmt.Errorf("%w: read page %d: %v", errs.ErrIOShort, no, err)
	}
	return buf, nil
}

func (pfs *PagedFileStore) writePageAt(h FileHandle, no PageNo, buf []byte) error {
	of, ok := pfs.files[h]
	if !ok {
		return fmt.Errorf("%w: handle %d", errs.ErrBadHandle, h)
	}
	off := int64(FileHeaderSize) + int64(no)*PageSize
	n, err := of.f.WriteAt(buf, off)
	if err != nil || n != PageSize {
		return fmt.Errorf("%w: write page %d: %v", errs.ErrIOShort, no, err)
	}
	return nil
}

func (pfs *PagedFileStore) flushHeader(of *openFile) error {
	if _, err := of.f.WriteAt(marshalFileHeader(of.header), 0); err != nil {
		return fmt.Errorf("%w: flush header: %v", errs.ErrIOShort, err)
	}
	return nil
}

// ── create / destroy / open / close ─────────────────────────────────────

// CreateFile creates a new, empty paged file at path with just the header
// page written.
func (pfs *PagedFileStore) CreateFile(path string) error {
	if len(pfs.files) >= pfs.maxOpen && pfs.maxOpen > 0 {
		return errs.ErrFileTableFull
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return fmt.Errorf("%w: create %s: %v", errs.ErrFileOpen, path, err)
	}
	defer f.Close()
	h := newFileHeader()
	if _, err := f.WriteAt(marshalFileHeader(h), 0); err != nil {
		return fmt.Errorf("%w: write header %s: %v", errs.ErrIOShort, path, err)
	}
	return nil
}

// DestroyFile removes a paged file from disk. The file must not be open.
func (pfs *PagedFileStore) DestroyFile(path string) error {
	for _, of := range pfs.files {
		if of.path == path {
			return fmt.Errorf("%w: %s is open", errs.ErrFileOpen, path)
		}
	}
	if err := os.Remove(path); err != nil {
		return fmt.Errorf("%w: destroy %s: %v", errs.ErrIOShort, path, err)
	}
	return nil
}

// OpenFile opens an existing paged file and returns its handle.
func (pfs *PagedFileStore) OpenFile(path string) (FileHandle, error) {
	if len(pfs.files) >= pfs.maxOpen && pfs.maxOpen > 0 {
		return 0, errs.ErrFileTableFull
	}
	f, err := os.OpenFile(path, os.O_RDWR, 0644)
	if err != nil {
		return 0, fmt.Errorf("%w: open %s: %v", errs.ErrFileOpen, path, err)
	}
	buf := make([]byte, FileHeaderSize)
	if _, err := f.ReadAt(buf, 0); err != nil {
		f.Close()
		return 0, fmt.Errorf("%w: read header %s: %v", errs.ErrIOShort, path, err)
	}
	hdr, err := unmarshalFileHeader(buf)
	if err != nil {
		f.Close()
		return 0, fmt.Errorf("%w: %s: %v", errs.ErrFileOpen, path, err)
	}

	h := pfs.nextHandle
	pfs.nextHandle++
	of := &openFile{f: f, path: path, header: hdr, freeSet: make(map[PageNo]struct{})}
	pfs.files[h] = of

	// Rebuild the in-memory free-chain mirror by walking the on-disk chain
	// once, the same way the teacher's FreeManager.LoadFromDisk does.
	for pn := hdr.FreeChainHead; pn != InvalidPageNo; {
		raw, err := pfs.readPageAt(h, pn)
		if err != nil {
			f.Close()
			delete(pfs.files, h)
			return 0, fmt.Errorf("%w: corrupt free chain in %s: %v", errs.ErrIOShort, path, err)
		}
		of.freeChain = append(of.freeChain, pn)
		of.freeSet[pn] = struct{}{}
		pn = freeChainNext(raw)
	}
	// The walk collected the chain head first; the mirror keeps it last.
	for i, j := 0, len(of.freeChain)-1; i < j; i, j = i+1, j-1 {
		of.freeChain[i], of.freeChain[j] = of.freeChain[j], of.freeChain[i]
	}

	return h, nil
}

// CloseFile flushes every dirty frame of the file then closes its
// descriptor. Fails with ErrPageFixed, leaving everything untouched, if any
// page of the file is still pinned (spec.md §8).
func (pfs *PagedFileStore) CloseFile(h FileHandle) error {
	of, ok := pfs.files[h]
	if !ok {
		return fmt.Errorf("%w: handle %d", errs.ErrBadHandle, h)
	}
	if err := pfs.pool.EvictFile(h); err != nil {
		return err
	}
	if err := pfs.flushHeader(of); err != nil {
		return err
	}
	if err := of.f.Close(); err != nil {
		return fmt.Errorf("%w: close %s: %v", errs.ErrIOShort, of.path, err)
	}
	delete(pfs.files, h)
	return nil
}

// ── page-level operations ───────────────────────────────────────────────

// AllocPage extends the file by one page, or reuses a disposed page from
// the free chain, pins it, zero-fills it, and returns it (spec.md §4.1).
func (pfs *PagedFileStore) AllocPage(h FileHandle) (PageNo, []byte, error) {
	of, ok := pfs.files[h]
	if !ok {
		return 0, nil, fmt.Errorf("%w: handle %d", errs.ErrBadHandle, h)
	}

	var pageNo PageNo
	if n := len(of.freeChain); n > 0 {
		pageNo = of.freeChain[n-1]
		of.freeChain = of.freeChain[:n-1]
		delete(of.freeSet, pageNo)
		if n-1 > 0 {
			of.header.FreeChainHead = of.freeChain[n-2]
		} else {
			of.header.FreeChainHead = InvalidPageNo
		}
	} else {
		pageNo = PageNo(of.header.NumPages)
		of.header.NumPages++
	}

	buf, err := pfs.pool.Alloc(frameKey{file: h, page: pageNo})
	if err != nil {
		return 0, nil, err
	}
	if err := pfs.flushHeader(of); err != nil {
		return 0, nil, err
	}
	return pageNo, buf, nil
}

// GetPage is a buffer-pool lookup followed by an on-miss physical read
// (spec.md §4.1, §4.3).
func (pfs *PagedFileStore) GetPage(h FileHandle, no PageNo) ([]byte, error) {
	of, ok := pfs.files[h]
	if !ok {
		return nil, fmt.Errorf("%w: handle %d", errs.ErrBadHandle, h)
	}
	if no < 0 || uint32(no) >= of.header.NumPages {
		return nil, fmt.Errorf("%w: page %d", errs.ErrInvalidPage, no)
	}
	return pfs.pool.Get(frameKey{file: h, page: no})
}

// Unpin releases the pin acquired by AllocPage/GetPage. dirty marks the
// page as modified so it is written back before its frame is reused.
func (pfs *PagedFileStore) Unpin(h FileHandle, no PageNo, dirty bool) error {
	if _, ok := pfs.files[h]; !ok {
		return fmt.Errorf("%w: handle %d", errs.ErrBadHandle, h)
	}
	return pfs.pool.Unpin(frameKey{file: h, page: no}, dirty)
}

// DisposePage logically frees a page, threading it onto the on-disk free
// chain (spec.md §4.1, §9 "pointer graphs"). Fails with ErrPageFixed if the
// page is pinned, or ErrPageAlreadyFree if it is already disposed.
func (pfs *PagedFileStore) DisposePage(h FileHandle, no PageNo) error {
	of, ok := pfs.files[h]
	if !ok {
		return fmt.Errorf("%w: handle %d", errs.ErrBadHandle, h)
	}
	if no < 0 || uint32(no) >= of.header.NumPages {
		return fmt.Errorf("%w: page %d", errs.ErrInvalidPage, no)
	}
	if _, already := of.freeSet[no]; already {
		return fmt.Errorf("%w: page %d", errs.ErrPageAlreadyFree, no)
	}
	if _, err := pfs.pool.Evict(frameKey{file: h, page: no}); err != nil {
		return err
	}

	buf := make([]byte, PageSize)
	freeChainSetNext(buf, of.header.FreeChainHead)
	if err := pfs.writePageAt(h, no, buf); err != nil {
		return err
	}
	of.header.FreeChainHead = no
	of.freeChain = append(of.freeChain, no)
	of.freeSet[no] = struct{}{}
	return pfs.flushHeader(of)
}

// PageCount returns the number of data pages currently allocated to h
// (including disposed ones still holding their slot in the page numbering).
func (pfs *PagedFileStore) PageCount(h FileHandle) (int, error) {
	of, ok := pfs.files[h]
	if !ok {
		return 0, fmt.Errorf("%w: handle %d", errs.ErrBadHandle, h)
	}
	return int(of.header.NumPages), nil
}
