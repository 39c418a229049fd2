package main

import (
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/arnegrid/pagestore"
	"github.com/arnegrid/pagestore/internal/storage/index"
	"github.com/arnegrid/pagestore/internal/storage/pager"
	"github.com/arnegrid/pagestore/internal/storage/recordfile"
)

// runDemo exercises the whole operational surface against a scratch
// directory: a record file round trip, then one index built with the
// insertion primitive shared by Strategies 1 and 2 and one built by bulk
// load over the same keys, matching spec.md §8 scenario
// 6 (insert-built vs bulk-built trees must agree on every probe).
func runDemo(store *pager.PagedFileStore, cfg pagestore.Config) {
	dir, err := os.MkdirTemp("", "pagestore-demo-*")
	if err != nil {
		log.Fatalf("demo: mkdtemp: %v", err)
	}
	defer os.RemoveAll(dir)
	log.Printf("demo: pool_size=%d policy=%s scratch=%s", cfg.PoolSize, cfg.Policy, dir)

	recPath := filepath.Join(dir, "records.pgs")
	if err := store.CreateFile(recPath); err != nil {
		log.Fatalf("demo: create_file: %v", err)
	}
	h, err := store.OpenFile(recPath)
	if err != nil {
		log.Fatalf("demo: open_file: %v", err)
	}
	rf := recordfile.Open(store, h)

	const n = 500
	ids := make([]recordfile.RecordID, n)
	for i := 0; i < n; i++ {
		id, err := rf.Insert([]byte(fmt.Sprintf("row-%04d payload for the storage engine demo", i)))
		if err != nil {
			log.Fatalf("demo: insert_record %d: %v", i, err)
		}
		ids[i] = id
	}
	for i := 0; i < n; i += 2 {
		if err := rf.Delete(ids[i]); err != nil {
			log.Fatalf("demo: delete_record %d: %v", i, err)
		}
	}
	before, err := rf.Stats()
	if err != nil {
		log.Fatalf("demo: record_stats: %v", err)
	}
	log.Printf("demo: before compact: pages=%d used=%d fragmented=%d utilization=%.3f",
		before.Pages, before.UsedBytes, before.FragmentedBytes, before.Utilization())

	if err := rf.Compact(); err != nil {
		log.Fatalf("demo: compact: %v", err)
	}
	after, err := rf.Stats()
	if err != nil {
		log.Fatalf("demo: record_stats: %v", err)
	}
	log.Printf("demo: after compact:  pages=%d used=%d fragmented=%d utilization=%.3f",
		after.Pages, after.UsedBytes, after.FragmentedBytes, after.Utilization())

	const attrLen = 8
	insPath := filepath.Join(dir, "insert.idx")
	ixInsert, err := index.CreateIndex(store, insPath, attrLen)
	if err != nil {
		log.Fatalf("demo: create_index: %v", err)
	}
	pairs := make([]index.Pair, n/2)
	j := 0
	for i := 1; i < n; i += 2 {
		key := make([]byte, attrLen)
		copy(key, fmt.Sprintf("k%07d", i))
		rid := recordfile.RecordID{Page: pager.PageNo(i / 10), Slot: i % 10}
		if err := ixInsert.InsertEntry(key, rid); err != nil {
			log.Fatalf("demo: insert_entry %d: %v", i, err)
		}
		pairs[j] = index.Pair{Key: key, Rec: rid}
		j++
	}

	bulkPath := filepath.Join(dir, "bulk.idx")
	ixBulk, err := index.BulkLoad(store, bulkPath, attrLen, pairs, index.DefaultFillFactor)
	if err != nil {
		log.Fatalf("demo: bulk_load: %v", err)
	}

	mismatches := 0
	for _, p := range pairs {
		insID, insFound, err := ixInsert.Probe(p.Key)
		if err != nil {
			log.Fatalf("demo: probe insert-built: %v", err)
		}
		bulkID, bulkFound, err := ixBulk.Probe(p.Key)
		if err != nil {
			log.Fatalf("demo: probe bulk-built: %v", err)
		}
		if !insFound || !bulkFound || insID != bulkID {
			mismatches++
		}
	}
	log.Printf("demo: probed %d keys against both trees, %d mismatches", len(pairs), mismatches)

	st := store.Pool().Stats()
	log.Printf("demo: buffer pool logical_reads=%d physical_reads=%d hit_ratio=%.3f",
		st.LogicalReads, st.PhysicalReads, st.HitRatio())

	for _, ix := range []*index.IndexFile{ixInsert, ixBulk} {
		if err := ix.Close(); err != nil {
			log.Fatalf("demo: close_index: %v", err)
		}
	}
	if err := store.CloseFile(h); err != nil {
		log.Fatalf("demo: close_file: %v", err)
	}
}
