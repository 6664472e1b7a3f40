package main

import (
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"

	"github.com/spf13/pflag"

	"github.com/tuannm99/slrucache/internal"
	"github.com/tuannm99/slrucache/internal/clog"
	"github.com/tuannm99/slrucache/internal/wal"
)

func usage() {
	fmt.Fprintf(os.Stderr, `clogctl drives a transaction-status log.

Usage:
  clogctl [flags] bootstrap
  clogctl [flags] commit <xid>
  clogctl [flags] abort <xid>
  clogctl [flags] get <xid>
  clogctl [flags] checkpoint
  clogctl [flags] truncate <oldest-xid>

Flags:
`)
	pflag.PrintDefaults()
}

func main() {
	cfgPath := pflag.String("config", "clogctl.yaml", "path to yaml config")
	dataDir := pflag.String("data", "./data", "data directory when no config file is present or the config leaves a directory unset")
	pflag.Usage = usage
	pflag.Parse()

	args := pflag.Args()
	if len(args) == 0 {
		usage()
		os.Exit(2)
	}

	clogDir, walDir, slots, doFsync := resolveDirs(*cfgPath, *dataDir)

	w, err := wal.Open(walDir)
	if err != nil {
		log.Fatalf("open wal: %v", err)
	}

	l, err := clog.Open(clogDir, w, clog.Options{NumSlots: slots, DoFsync: doFsync})
	if err != nil {
		log.Fatalf("open status log: %v", err)
	}
	defer func() {
		if cerr := l.Close(); cerr != nil {
			log.Printf("close: %v", cerr)
		}
	}()

	if err := run(l, args); err != nil {
		log.Fatalf("%s: %v", args[0], err)
	}
}

func resolveDirs(cfgPath, dataDir string) (clogDir, walDir string, slots int, doFsync bool) {
	clogDir = filepath.Join(dataDir, "clog")
	walDir = filepath.Join(dataDir, "wal")
	doFsync = true

	if _, err := os.Stat(cfgPath); errors.Is(err, os.ErrNotExist) {
		return clogDir, walDir, 0, doFsync
	}

	cfg, err := internal.LoadConfig(cfgPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if cfg.Clog.Dir != "" {
		clogDir = cfg.Clog.Dir
	}
	if cfg.Clog.WalDir != "" {
		walDir = cfg.Clog.WalDir
	}
	return clogDir, walDir, cfg.Slru.NumSlots, cfg.Slru.DoFsync
}

func run(l *clog.Log, args []string) error {
	switch args[0] {
	case "bootstrap":
		return l.Bootstrap()

	case "commit", "abort":
		xid, err := parseXid(args)
		if err != nil {
			return err
		}
		if err := l.Extend(xid); err != nil {
			return err
		}
		if args[0] == "commit" {
			return l.Commit(xid)
		}
		return l.Abort(xid)

	case "get":
		xid, err := parseXid(args)
		if err != nil {
			return err
		}
		st, err := l.Status(xid)
		if err != nil {
			return err
		}
		fmt.Printf("xid %d: %s\n", xid, st)
		return nil

	case "checkpoint":
		return l.Checkpoint()

	case "truncate":
		xid, err := parseXid(args)
		if err != nil {
			return err
		}
		return l.TruncateBefore(xid)

	default:
		usage()
		return fmt.Errorf("unknown command %q", args[0])
	}
}

func parseXid(args []string) (uint32, error) {
	if len(args) < 2 {
		return 0, fmt.Errorf("missing xid argument")
	}
	n, err := strconv.ParseUint(args[1], 10, 32)
	if err != nil {
		return 0, fmt.Errorf("bad xid %q: %w", args[1], err)
	}
	return uint32(n), nil
}
