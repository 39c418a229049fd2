// Package errs defines the closed taxonomy of storage-engine error kinds.
//
// Every fallible operation in pager, recordfile, and index returns one of
// these sentinels, wrapped with call-site context via fmt.Errorf("%w: ...").
// Callers use errors.Is against these values rather than string matching.
package errs

import "errors"

var (
	ErrOOM             = errors.New("oom")
	ErrIOShort         = errors.New("io_short")
	ErrInvalidPage     = errors.New("invalid_page")
	ErrPageFixed       = errors.New("page_fixed")
	ErrPageNotInBuf    = errors.New("page_not_in_buf")
	ErrPageUnfixed     = errors.New("page_unfixed")
	ErrPageAlreadyFree = errors.New("page_already_free")
	ErrNoBuffer        = errors.New("no_buffer")
	ErrFileOpen        = errors.New("file_open")
	ErrFileTableFull   = errors.New("file_table_full")
	ErrBadHandle       = errors.New("bad_handle")
	ErrEOF             = errors.New("eof")
	ErrHashNotFound    = errors.New("hash_not_found")
	ErrHashDuplicate   = errors.New("hash_duplicate")
	ErrSPInvalidSlot   = errors.New("sp_invalid_slot")
	ErrSPNoSpace       = errors.New("sp_no_space")
)
