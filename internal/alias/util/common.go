package util

import (
	"log/slog"
	"os"
)

func CloseFileFunc(f *os.File) {
	if err := f.Close(); err != nil {
		slog.Warn("util: close file", "name", f.Name(), "err", err)
	}
}
