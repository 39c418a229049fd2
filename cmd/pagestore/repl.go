package main

import (
	"bufio"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/arnegrid/pagestore"
	"github.com/arnegrid/pagestore/errs"
	"github.com/arnegrid/pagestore/internal/storage/index"
	"github.com/arnegrid/pagestore/internal/storage/pager"
	"github.com/arnegrid/pagestore/internal/storage/recordfile"
)

// session holds every alias the REPL has bound: open record files and index
// files by the name the caller chose when creating/opening them. File
// handles from open_file are passed back by the caller as plain integers,
// the same way the teacher's REPL treats a DSN as an opaque string handed
// back to database/sql.
type session struct {
	store   *pager.PagedFileStore
	cfg     pagestore.Config
	records map[string]*recordfile.RecordFile
	indexes map[string]*index.IndexFile
}

func runREPL(store *pager.PagedFileStore, cfg pagestore.Config, in io.Reader, out io.Writer) {
	s := &session{
		store:   store,
		cfg:     cfg,
		records: make(map[string]*recordfile.RecordFile),
		indexes: make(map[string]*index.IndexFile),
	}

	sc := bufio.NewScanner(in)
	sc.Buffer(make([]byte, 1024), 1<<20)

	fmt.Fprintln(out, "pagestore REPL. Type 'help' for commands, 'quit' to exit.")
	for {
		fmt.Fprint(out, "pagestore> ")
		if !sc.Scan() {
			return
		}
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if line == "quit" || line == "exit" {
			return
		}
		if err := s.dispatch(line, sc, out); err != nil {
			fmt.Fprintf(out, "ERR: %v\n", err)
		}
	}
}

func (s *session) dispatch(line string, sc *bufio.Scanner, out io.Writer) error {
	fields := strings.Fields(line)
	cmd := fields[0]
	args := fields[1:]

	switch cmd {
	case "help":
		printHelp(out)
		return nil

	case "init_buffer_pool":
		return s.cmdInitBufferPool(args)
	case "set_policy":
		return s.cmdSetPolicy(args)
	case "bp_stats":
		return s.cmdBPStats(args, out)

	case "create_file":
		return s.cmdCreateFile(args)
	case "destroy_file":
		return s.cmdDestroyFile(args)
	case "open_file":
		return s.cmdOpenFile(args, out)
	case "close_file":
		return s.cmdCloseFile(args)

	case "alloc_page":
		return s.cmdAllocPage(args, out)
	case "get_page":
		return s.cmdGetPage(args, out)
	case "unpin":
		return s.cmdUnpin(args)
	case "dispose_page":
		return s.cmdDisposePage(args)

	case "open_record_file":
		return s.cmdOpenRecordFile(args)
	case "insert_record":
		return s.cmdInsertRecord(args, out)
	case "get_record":
		return s.cmdGetRecord(args, out)
	case "delete_record":
		return s.cmdDeleteRecord(args)
	case "scan_records":
		return s.cmdScanRecords(args, out)
	case "compact":
		return s.cmdCompact(args)
	case "record_stats":
		return s.cmdRecordStats(args, out)

	case "create_index":
		return s.cmdCreateIndex(args)
	case "open_index":
		return s.cmdOpenIndex(args)
	case "close_index":
		return s.cmdCloseIndex(args)
	case "destroy_index":
		return s.cmdDestroyIndex(args)
	case "insert_entry":
		return s.cmdInsertEntry(args)
	case "probe":
		return s.cmdProbe(args, out)
	case "bulk_load":
		return s.cmdBulkLoad(args, sc, out)
	case "scan_leaves":
		return s.cmdScanLeaves(args, out)

	default:
		return fmt.Errorf("unknown command %q (try 'help')", cmd)
	}
}

func printHelp(out io.Writer) {
	fmt.Fprint(out, `commands:
  init_buffer_pool <pool_size> <LRU|MRU>
  set_policy <LRU|MRU>
  bp_stats
  create_file <path> | destroy_file <path>
  open_file <path> -> handle | close_file <handle>
  alloc_page <handle> -> page_no | get_page <handle> <page_no>
  unpin <handle> <page_no> <0|1> | dispose_page <handle> <page_no>
  open_record_file <alias> <handle>
  insert_record <alias> <text...> | get_record <alias> <page> <slot>
  delete_record <alias> <page> <slot> | scan_records <alias>
  compact <alias> | record_stats <alias>
  create_index <alias> <path> <attr_len> | open_index <alias> <path>
  close_index <alias> | destroy_index <path>
  insert_entry <alias> <key> <page> <slot> | probe <alias> <key>
  bulk_load <alias> <path> <attr_len> <fill_factor>
    (then feed "<key> <page> <slot>" lines, end with a lone ".")
  scan_leaves <alias>
  quit
`)
}

func need(args []string, n int, usage string) error {
	if len(args) < n {
		return fmt.Errorf("usage: %s", usage)
	}
	return nil
}

func parsePolicy(tok string) (pager.Policy, error) {
	switch strings.ToUpper(tok) {
	case "LRU":
		return pager.LRU, nil
	case "MRU":
		return pager.MRU, nil
	default:
		return 0, fmt.Errorf("unknown policy %q (want LRU or MRU)", tok)
	}
}

func (s *session) cmdInitBufferPool(args []string) error {
	if err := need(args, 2, "init_buffer_pool <pool_size> <LRU|MRU>"); err != nil {
		return err
	}
	poolSize, err := strconv.Atoi(args[0])
	if err != nil {
		return fmt.Errorf("pool_size: %w", err)
	}
	if poolSize <= 0 {
		return fmt.Errorf("%w: pool_size must be positive, got %d", errs.ErrOOM, poolSize)
	}
	policy, err := parsePolicy(args[1])
	if err != nil {
		return err
	}
	if len(s.records) > 0 || len(s.indexes) > 0 {
		return errors.New("cannot reinitialize the buffer pool while files are open")
	}
	s.cfg.PoolSize, s.cfg.Policy = poolSize, policy.String()
	s.store = pager.NewPagedFileStore(poolSize, policy, s.cfg.MaxOpen)
	return nil
}

func (s *session) cmdSetPolicy(args []string) error {
	if err := need(args, 1, "set_policy <LRU|MRU>"); err != nil {
		return err
	}
	policy, err := parsePolicy(args[0])
	if err != nil {
		return err
	}
	s.store.Pool().SetPolicy(policy)
	return nil
}

func (s *session) cmdBPStats(args []string, out io.Writer) error {
	st := s.store.Pool().Stats()
	fmt.Fprintf(out, "logical_reads=%d logical_writes=%d physical_reads=%d physical_writes=%d hits=%d misses=%d hit_ratio=%.4f\n",
		st.LogicalReads, st.LogicalWrites, st.PhysicalReads, st.PhysicalWrites, st.BufferHits, st.BufferMisses, st.HitRatio())
	return nil
}

func (s *session) cmdCreateFile(args []string) error {
	if err := need(args, 1, "create_file <path>"); err != nil {
		return err
	}
	return s.store.CreateFile(args[0])
}

func (s *session) cmdDestroyFile(args []string) error {
	if err := need(args, 1, "destroy_file <path>"); err != nil {
		return err
	}
	return s.store.DestroyFile(args[0])
}

func (s *session) cmdOpenFile(args []string, out io.Writer) error {
	if err := need(args, 1, "open_file <path>"); err != nil {
		return err
	}
	h, err := s.store.OpenFile(args[0])
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "handle %d\n", h)
	return nil
}

func (s *session) cmdCloseFile(args []string) error {
	if err := need(args, 1, "close_file <handle>"); err != nil {
		return err
	}
	h, err := parseHandle(args[0])
	if err != nil {
		return err
	}
	return s.store.CloseFile(h)
}

func parseHandle(tok string) (pager.FileHandle, error) {
	n, err := strconv.Atoi(tok)
	if err != nil {
		return 0, fmt.Errorf("handle: %w", err)
	}
	return pager.FileHandle(n), nil
}

func parsePageNo(tok string) (pager.PageNo, error) {
	n, err := strconv.Atoi(tok)
	if err != nil {
		return 0, fmt.Errorf("page_no: %w", err)
	}
	return pager.PageNo(n), nil
}

func (s *session) cmdAllocPage(args []string, out io.Writer) error {
	if err := need(args, 1, "alloc_page <handle>"); err != nil {
		return err
	}
	h, err := parseHandle(args[0])
	if err != nil {
		return err
	}
	pn, buf, err := s.store.AllocPage(h)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "page %d allocated (%s)\n", pn, hex.EncodeToString(buf[:16]))
	return s.store.Unpin(h, pn, true)
}

func (s *session) cmdGetPage(args []string, out io.Writer) error {
	if err := need(args, 2, "get_page <handle> <page_no>"); err != nil {
		return err
	}
	h, err := parseHandle(args[0])
	if err != nil {
		return err
	}
	pn, err := parsePageNo(args[1])
	if err != nil {
		return err
	}
	buf, err := s.store.GetPage(h, pn)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "page %d pinned (%s)\n", pn, hex.EncodeToString(buf[:16]))
	return nil
}

func (s *session) cmdUnpin(args []string) error {
	if err := need(args, 3, "unpin <handle> <page_no> <0|1>"); err != nil {
		return err
	}
	h, err := parseHandle(args[0])
	if err != nil {
		return err
	}
	pn, err := parsePageNo(args[1])
	if err != nil {
		return err
	}
	dirty := args[2] == "1"
	return s.store.Unpin(h, pn, dirty)
}

func (s *session) cmdDisposePage(args []string) error {
	if err := need(args, 2, "dispose_page <handle> <page_no>"); err != nil {
		return err
	}
	h, err := parseHandle(args[0])
	if err != nil {
		return err
	}
	pn, err := parsePageNo(args[1])
	if err != nil {
		return err
	}
	return s.store.DisposePage(h, pn)
}

func (s *session) cmdOpenRecordFile(args []string) error {
	if err := need(args, 2, "open_record_file <alias> <handle>"); err != nil {
		return err
	}
	h, err := parseHandle(args[1])
	if err != nil {
		return err
	}
	s.records[args[0]] = recordfile.Open(s.store, h)
	return nil
}

func (s *session) recordFile(alias string) (*recordfile.RecordFile, error) {
	rf, ok := s.records[alias]
	if !ok {
		return nil, fmt.Errorf("no record file open under alias %q", alias)
	}
	return rf, nil
}

func (s *session) cmdInsertRecord(args []string, out io.Writer) error {
	if err := need(args, 2, "insert_record <alias> <text...>"); err != nil {
		return err
	}
	rf, err := s.recordFile(args[0])
	if err != nil {
		return err
	}
	data := []byte(strings.Join(args[1:], " "))
	id, err := rf.Insert(data)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "inserted %s\n", id)
	return nil
}

func parseRecordID(pageTok, slotTok string) (recordfile.RecordID, error) {
	page, err := strconv.Atoi(pageTok)
	if err != nil {
		return recordfile.RecordID{}, fmt.Errorf("page: %w", err)
	}
	slot, err := strconv.Atoi(slotTok)
	if err != nil {
		return recordfile.RecordID{}, fmt.Errorf("slot: %w", err)
	}
	return recordfile.RecordID{Page: pager.PageNo(page), Slot: slot}, nil
}

func (s *session) cmdGetRecord(args []string, out io.Writer) error {
	if err := need(args, 3, "get_record <alias> <page> <slot>"); err != nil {
		return err
	}
	rf, err := s.recordFile(args[0])
	if err != nil {
		return err
	}
	id, err := parseRecordID(args[1], args[2])
	if err != nil {
		return err
	}
	data, err := rf.Get(id)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "%s\n", string(data))
	return nil
}

func (s *session) cmdDeleteRecord(args []string) error {
	if err := need(args, 3, "delete_record <alias> <page> <slot>"); err != nil {
		return err
	}
	rf, err := s.recordFile(args[0])
	if err != nil {
		return err
	}
	id, err := parseRecordID(args[1], args[2])
	if err != nil {
		return err
	}
	return rf.Delete(id)
}

func (s *session) cmdScanRecords(args []string, out io.Writer) error {
	if err := need(args, 1, "scan_records <alias>"); err != nil {
		return err
	}
	rf, err := s.recordFile(args[0])
	if err != nil {
		return err
	}
	return rf.Scan(func(data []byte, id recordfile.RecordID) bool {
		fmt.Fprintf(out, "%s: %s\n", id, string(data))
		return true
	})
}

func (s *session) cmdCompact(args []string) error {
	if err := need(args, 1, "compact <alias>"); err != nil {
		return err
	}
	rf, err := s.recordFile(args[0])
	if err != nil {
		return err
	}
	return rf.Compact()
}

func (s *session) cmdRecordStats(args []string, out io.Writer) error {
	if err := need(args, 1, "record_stats <alias>"); err != nil {
		return err
	}
	rf, err := s.recordFile(args[0])
	if err != nil {
		return err
	}
	st, err := rf.Stats()
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "pages=%d used=%d free=%d fragmented=%d utilization=%.4f\n",
		st.Pages, st.UsedBytes, st.FreeSpace, st.FragmentedBytes, st.Utilization())
	return nil
}

func (s *session) cmdCreateIndex(args []string) error {
	if err := need(args, 3, "create_index <alias> <path> <attr_len>"); err != nil {
		return err
	}
	attrLen, err := strconv.Atoi(args[2])
	if err != nil {
		return fmt.Errorf("attr_len: %w", err)
	}
	ix, err := index.CreateIndex(s.store, args[1], attrLen)
	if err != nil {
		return err
	}
	s.indexes[args[0]] = ix
	return nil
}

func (s *session) cmdOpenIndex(args []string) error {
	if err := need(args, 2, "open_index <alias> <path>"); err != nil {
		return err
	}
	ix, err := index.OpenIndex(s.store, args[1])
	if err != nil {
		return err
	}
	s.indexes[args[0]] = ix
	return nil
}

func (s *session) cmdCloseIndex(args []string) error {
	if err := need(args, 1, "close_index <alias>"); err != nil {
		return err
	}
	ix, err := s.indexFile(args[0])
	if err != nil {
		return err
	}
	if err := ix.Close(); err != nil {
		return err
	}
	delete(s.indexes, args[0])
	return nil
}

func (s *session) cmdDestroyIndex(args []string) error {
	if err := need(args, 1, "destroy_index <path>"); err != nil {
		return err
	}
	return index.DestroyIndex(s.store, args[0])
}

func (s *session) indexFile(alias string) (*index.IndexFile, error) {
	ix, ok := s.indexes[alias]
	if !ok {
		return nil, fmt.Errorf("no index open under alias %q", alias)
	}
	return ix, nil
}

func (s *session) cmdInsertEntry(args []string) error {
	if err := need(args, 4, "insert_entry <alias> <key> <page> <slot>"); err != nil {
		return err
	}
	ix, err := s.indexFile(args[0])
	if err != nil {
		return err
	}
	id, err := parseRecordID(args[2], args[3])
	if err != nil {
		return err
	}
	return ix.InsertEntry([]byte(args[1]), id)
}

func (s *session) cmdProbe(args []string, out io.Writer) error {
	if err := need(args, 2, "probe <alias> <key>"); err != nil {
		return err
	}
	ix, err := s.indexFile(args[0])
	if err != nil {
		return err
	}
	id, found, err := ix.Probe([]byte(args[1]))
	if err != nil {
		return err
	}
	if !found {
		fmt.Fprintln(out, "not found")
		return nil
	}
	fmt.Fprintf(out, "%s\n", id)
	return nil
}

func (s *session) cmdScanLeaves(args []string, out io.Writer) error {
	if err := need(args, 1, "scan_leaves <alias>"); err != nil {
		return err
	}
	ix, err := s.indexFile(args[0])
	if err != nil {
		return err
	}
	return ix.ScanLeaves(func(key []byte, rid recordfile.RecordID) bool {
		fmt.Fprintf(out, "%s -> %s\n", key, rid)
		return true
	})
}

// cmdBulkLoad reads key/page/slot triples from subsequent lines until a lone
// "." terminator, then builds the index via Strategy 3 (spec.md §4.6).
func (s *session) cmdBulkLoad(args []string, sc *bufio.Scanner, out io.Writer) error {
	if err := need(args, 4, "bulk_load <alias> <path> <attr_len> <fill_factor>"); err != nil {
		return err
	}
	attrLen, err := strconv.Atoi(args[2])
	if err != nil {
		return fmt.Errorf("attr_len: %w", err)
	}
	fillFactor, err := strconv.ParseFloat(args[3], 64)
	if err != nil {
		return fmt.Errorf("fill_factor: %w", err)
	}

	var pairs []index.Pair
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "." {
			break
		}
		fields := strings.Fields(line)
		if len(fields) != 3 {
			return fmt.Errorf("bulk_load entry %q: want \"key page slot\"", line)
		}
		id, err := parseRecordID(fields[1], fields[2])
		if err != nil {
			return err
		}
		key := make([]byte, attrLen)
		copy(key, fields[0])
		pairs = append(pairs, index.Pair{Key: key, Rec: id})
	}

	ix, err := index.BulkLoad(s.store, args[1], attrLen, pairs, fillFactor)
	if err != nil {
		return err
	}
	s.indexes[args[0]] = ix
	fmt.Fprintf(out, "bulk-loaded %d entries into %q\n", len(pairs), args[1])
	return nil
}
