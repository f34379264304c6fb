package copier

import (
	"errors"
	"io"
	"os"
)

// CopyVerbatim copies src to dst byte-for-byte, recording the source
// size, a running xxhash64 checksum, and the number of bytes written. If
// src no longer exists — it was removed between the directory scan and
// this call — that is treated as a skip rather than an error, per the
// "file disappeared" contract.
func CopyVerbatim(src, dst string) (Result, error) {
	in, err := os.Open(src)
	if errors.Is(err, os.ErrNotExist) {
		return Result{WriteSize: WriteSizeSkipped, Skipped: true}, nil
	}
	if err != nil {
		return Result{}, err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return Result{}, err
	}
	if err := awaitSafeMtime(info.ModTime()); err != nil {
		return Result{}, err
	}

	out, err := os.Create(dst)
	if err != nil {
		return Result{}, err
	}
	defer out.Close()

	sum := newChecksum()
	written, err := io.Copy(io.MultiWriter(out, sum), in)
	if err != nil {
		return Result{}, err
	}
	if err := out.Sync(); err != nil {
		return Result{}, err
	}

	return Result{
		Size:      info.Size(),
		CRC:       sum.Sum64(),
		WriteSize: written,
	}, nil
}
