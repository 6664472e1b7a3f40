// Package slrucache is the top-level facade for the SLRU page cache and its
// transaction-status log embedder.
package slrucache

import (
	"path/filepath"

	"github.com/tuannm99/slrucache/internal/clog"
	"github.com/tuannm99/slrucache/internal/wal"
)

type (
	StatusLog = clog.Log
	Status    = clog.Status
)

const (
	StatusInProgress   = clog.StatusInProgress
	StatusCommitted    = clog.StatusCommitted
	StatusAborted      = clog.StatusAborted
	StatusSubCommitted = clog.StatusSubCommitted
)

// Open wires a redo log and a status log under dataDir using defaults. For
// custom pool sizing or fsync policy, compose wal.Open and clog.Open
// directly.
func Open(dataDir string) (*StatusLog, error) {
	w, err := wal.Open(filepath.Join(dataDir, "wal"))
	if err != nil {
		return nil, err
	}
	l, err := clog.Open(filepath.Join(dataDir, "clog"), w, clog.Options{DoFsync: true})
	if err != nil {
		_ = w.Close()
		return nil, err
	}
	return l, nil
}
