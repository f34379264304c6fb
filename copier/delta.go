package copier

import (
	"encoding/binary"
	"errors"
	"io"
	"os"

	"github.com/cespare/xxhash/v2"

	"github.com/willibrandon/pgarman/pagemap"
	"github.com/willibrandon/pgarman/relid"
)

// DeltaMagic identifies a delta file to the restorer, distinguishing it
// from a verbatim-copied relation segment. The bytes spell "PGDT" in
// little-endian order.
const DeltaMagic = 0x54444750

// DeltaVersion is bumped if the record layout ever changes.
const DeltaVersion = 1

// BlockTerminator is the sentinel blockno value that ends a delta file's
// record sequence.
const BlockTerminator = 0xFFFFFFFF

// CopyDelta reads src one block at a time and writes dst in the delta
// format: a block is emitted if its page LSN is at or past parentStartLSN
// or the block is listed in dirty under mapKey; every other block is left
// for the restorer to fill in from the parent. Per-block checksums are the
// low 32 bits of an xxhash64 sum, since the on-disk record reserves only a
// u32 for the field.
func CopyDelta(src, dst string, parentStartLSN relid.LSN, dirty *pagemap.Map, mapKey string) (Result, error) {
	in, err := os.Open(src)
	if errors.Is(err, os.ErrNotExist) {
		return Result{WriteSize: WriteSizeSkipped, Skipped: true, IsDelta: true}, nil
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
	w := io.MultiWriter(out, sum)
	var written int64

	if err := binary.Write(w, binary.LittleEndian, uint32(DeltaMagic)); err != nil {
		return Result{}, err
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(relid.BlockSize)); err != nil {
		return Result{}, err
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(DeltaVersion)); err != nil {
		return Result{}, err
	}
	written += 12

	page := make([]byte, relid.BlockSize)
	var emitted, unchanged int
	for blockno := uint32(0); ; blockno++ {
		if _, err := io.ReadFull(in, page); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				break
			}
			return Result{}, err
		}

		// pd_lsn is PageXLogRecPtr{xlogid, xrecoff}: two little-endian u32
		// halves stored high-then-low, not one little-endian u64.
		pageLSNHi := binary.LittleEndian.Uint32(page[0:4])
		pageLSNLo := binary.LittleEndian.Uint32(page[4:8])
		lsn := relid.LSN(uint64(pageLSNHi)<<32 | uint64(pageLSNLo))
		if lsn < parentStartLSN && !dirty.Has(mapKey, blockno) {
			unchanged++
			continue
		}
		emitted++

		if err := binary.Write(w, binary.LittleEndian, blockno); err != nil {
			return Result{}, err
		}
		if _, err := w.Write(page); err != nil {
			return Result{}, err
		}
		checksum := uint32(xxhash.Sum64(page))
		if err := binary.Write(w, binary.LittleEndian, checksum); err != nil {
			return Result{}, err
		}
		written += 4 + int64(relid.BlockSize) + 4
	}

	if err := binary.Write(w, binary.LittleEndian, uint32(BlockTerminator)); err != nil {
		return Result{}, err
	}
	written += 4

	if err := out.Sync(); err != nil {
		return Result{}, err
	}

	return Result{
		Size:            info.Size(),
		CRC:             sum.Sum64(),
		WriteSize:       written,
		IsDelta:         true,
		BlocksEmitted:   emitted,
		BlocksUnchanged: unchanged,
	}, nil
}
