// Command pagestore is the CLI boundary for the storage engine: a
// line-oriented REPL over the Paged File Store / Record File / Index
// Builder operational surface (spec.md §6), plus a -demo walkthrough.
// Mirrors the teacher's cmd/repl and cmd/main.go split between flag parsing
// in main and the read loop in runREPL.
package main

import (
	"flag"
	"log"
	"os"

	"github.com/arnegrid/pagestore"
)

var (
	flagConfig  = flag.String("config", "", "Path to a YAML config file (pool_size, policy, max_open_files)")
	flagDemo    = flag.Bool("demo", false, "Run a scripted walkthrough instead of the REPL")
	flagVerbose = flag.Bool("verbose", false, "Log every buffer-pool fetch/evict to stderr")
)

func main() {
	flag.Parse()

	cfg := pagestore.DefaultConfig()
	if *flagConfig != "" {
		loaded, err := pagestore.LoadConfig(*flagConfig)
		if err != nil {
			log.Fatalf("load config: %v", err)
		}
		cfg = loaded
	}
	cfg.Verbose = cfg.Verbose || *flagVerbose

	store, err := cfg.NewStore()
	if err != nil {
		log.Fatalf("init buffer pool: %v", err)
	}
	if cfg.Verbose {
		store.Pool().SetTrace(func(format string, args ...interface{}) {
			log.Printf(format, args...)
		})
	}

	if *flagDemo {
		runDemo(store, cfg)
		return
	}
	runREPL(store, cfg, os.Stdin, os.Stdout)
}
