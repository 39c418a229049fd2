package main

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/arnegrid/pagestore"
	"github.com/arnegrid/pagestore/internal/storage/pager"
)

func defaultTestConfig() pagestore.Config { return pagestore.DefaultConfig() }

func TestBuildPagestore(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	out := filepath.Join(os.TempDir(), "pagestore_cli_bin")
	cmd := exec.CommandContext(ctx, "go", "build", "-o", out, ".")
	cmd.Env = os.Environ()
	if outp, err := cmd.CombinedOutput(); err != nil {
		_ = os.Remove(out)
		t.Fatalf("go build failed: %v\n%s", err, string(outp))
	}
	_ = os.Remove(out)
}

func TestREPL_CreateAndOpenFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "t.pgs")

	store := pager.NewPagedFileStore(8, pager.LRU, 0)
	script := strings.Join([]string{
		"create_file " + path,
		"open_file " + path,
	}, "\n") + "\n"

	var out bytes.Buffer
	runREPL(store, defaultTestConfig(), strings.NewReader(script), &out)

	got := out.String()
	if !strings.Contains(got, "handle ") {
		t.Fatalf("expected an open_file handle line, got:\n%s", got)
	}
}

func TestREPL_UnknownCommandReportsError(t *testing.T) {
	store := pager.NewPagedFileStore(4, pager.LRU, 0)
	var out bytes.Buffer
	runREPL(store, defaultTestConfig(), strings.NewReader("bogus_command\n"), &out)
	if !strings.Contains(out.String(), "ERR:") {
		t.Fatalf("expected an ERR: line for an unknown command, got:\n%s", out.String())
	}
}

func TestREPL_InsertAndScanRecords(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "recs.pgs")
	store := pager.NewPagedFileStore(8, pager.LRU, 0)

	script := strings.Join([]string{
		"create_file " + path,
		"open_file " + path,
		"open_record_file r 1",
		"insert_record r hello world",
		"scan_records r",
	}, "\n") + "\n"

	var out bytes.Buffer
	runREPL(store, defaultTestConfig(), strings.NewReader(script), &out)

	got := out.String()
	if !strings.Contains(got, "hello world") {
		t.Fatalf("expected the inserted record to appear in scan output, got:\n%s", got)
	}
}

func TestREPL_BulkLoadThenProbe(t *testing.T) {
	dir := t.TempDir()
	idxPath := filepath.Join(dir, "bulk.idx")
	store := pager.NewPagedFileStore(16, pager.LRU, 0)

	script := strings.Join([]string{
		"bulk_load ix " + idxPath + " 4 0.9",
		"k001 0 0",
		"k002 0 1",
		"k003 0 2",
		".",
		"probe ix k002",
	}, "\n") + "\n"

	var out bytes.Buffer
	runREPL(store, defaultTestConfig(), strings.NewReader(script), &out)

	got := out.String()
	if !strings.Contains(got, "(0,1)") {
		t.Fatalf("expected probe of k002 to resolve to (0,1), got:\n%s", got)
	}
}
