// Package restorer reconstructs one relation segment from a full copy and
// a chain of delta files, applying delta blocks over the parent's bytes
// in ascending block order. It exists only to make the copier's delta
// format testable end-to-end; the rest of physical restore (recovery
// configuration, file-list reverse application against a live data
// directory) is an external collaborator this engine doesn't implement.
package restorer

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"github.com/cespare/xxhash/v2"

	"github.com/willibrandon/pgarman/copier"
	"github.com/willibrandon/pgarman/relid"
)

// ApplyDelta reconstructs a segment file at dst by starting from parent's
// bytes and overlaying every block recorded in deltaPath. parent must be a
// complete, non-delta segment file (the base of the chain, or the result
// of a previous ApplyDelta call).
func ApplyDelta(parent, deltaPath, dst string) error {
	base, err := os.ReadFile(parent)
	if err != nil {
		return fmt.Errorf("restorer: reading parent %s: %w", parent, err)
	}

	delta, err := os.Open(deltaPath)
	if err != nil {
		return fmt.Errorf("restorer: opening delta %s: %w", deltaPath, err)
	}
	defer delta.Close()

	var magic, blcksz, version uint32
	if err := binary.Read(delta, binary.LittleEndian, &magic); err != nil {
		return fmt.Errorf("restorer: reading delta header: %w", err)
	}
	if magic != copier.DeltaMagic {
		return fmt.Errorf("restorer: %s is not a delta file (bad magic %08x)", deltaPath, magic)
	}
	if err := binary.Read(delta, binary.LittleEndian, &blcksz); err != nil {
		return fmt.Errorf("restorer: reading delta header: %w", err)
	}
	if blcksz != relid.BlockSize {
		return fmt.Errorf("restorer: %s has block size %d, expected %d", deltaPath, blcksz, relid.BlockSize)
	}
	if err := binary.Read(delta, binary.LittleEndian, &version); err != nil {
		return fmt.Errorf("restorer: reading delta header: %w", err)
	}
	if version != copier.DeltaVersion {
		return fmt.Errorf("restorer: %s has unsupported delta version %d", deltaPath, version)
	}

	out := make([]byte, len(base))
	copy(out, base)

	page := make([]byte, relid.BlockSize)
	for {
		var blockno uint32
		if err := binary.Read(delta, binary.LittleEndian, &blockno); err != nil {
			if err == io.EOF {
				return fmt.Errorf("restorer: %s ended without a terminator record", deltaPath)
			}
			return err
		}
		if blockno == copier.BlockTerminator {
			break
		}
		if _, err := io.ReadFull(delta, page); err != nil {
			return fmt.Errorf("restorer: %s: reading block %d: %w", deltaPath, blockno, err)
		}
		var checksum uint32
		if err := binary.Read(delta, binary.LittleEndian, &checksum); err != nil {
			return fmt.Errorf("restorer: %s: reading checksum for block %d: %w", deltaPath, blockno, err)
		}
		if want := uint32(xxhash.Sum64(page)); want != checksum {
			return fmt.Errorf("restorer: %s: block %d failed checksum (stored %08x, computed %08x)", deltaPath, blockno, checksum, want)
		}

		need := (int(blockno) + 1) * relid.BlockSize
		if need > len(out) {
			grown := make([]byte, need)
			copy(grown, out)
			out = grown
		}
		copy(out[int(blockno)*relid.BlockSize:], page)
	}

	if err := os.WriteFile(dst, out, 0o644); err != nil {
		return fmt.Errorf("restorer: writing %s: %w", dst, err)
	}
	return nil
}
