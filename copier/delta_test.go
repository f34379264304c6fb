package copier

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/willibrandon/pgarman/pagemap"
	"github.com/willibrandon/pgarman/relid"
)

func makeSegment(t *testing.T, path string, pageLSNs []uint64) {
	t.Helper()
	buf := make([]byte, len(pageLSNs)*relid.BlockSize)
	for i, lsn := range pageLSNs {
		// pd_lsn is PageXLogRecPtr{xlogid, xrecoff}: two little-endian u32
		// halves, hi then lo, not one little-endian u64.
		off := i * relid.BlockSize
		binary.LittleEndian.PutUint32(buf[off:], uint32(lsn>>32))
		binary.LittleEndian.PutUint32(buf[off+4:], uint32(lsn))
	}
	if err := os.WriteFile(path, buf, 0o644); err != nil {
		t.Fatalf("writing segment: %v", err)
	}
	old := time.Now().Add(-time.Hour)
	if err := os.Chtimes(path, old, old); err != nil {
		t.Fatalf("chtimes: %v", err)
	}
}

func TestCopyDeltaEmitsOnlyAdvancedOrDirtyBlocks(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "16385")
	// block 0 has an old LSN (should be skipped), block 1 has an LSN past
	// the parent's start LSN (emitted), block 2 is old but listed dirty.
	makeSegment(t, src, []uint64{100, 5000, 100})

	dirty := pagemap.New()
	dirty.Add(src, 2)

	dst := filepath.Join(dir, "16385.delta")
	result, err := CopyDelta(src, dst, 1000, dirty, src)
	if err != nil {
		t.Fatalf("CopyDelta: %v", err)
	}
	if result.Skipped {
		t.Fatal("did not expect a skip")
	}

	data, err := os.ReadFile(dst)
	if err != nil {
		t.Fatalf("reading delta file: %v", err)
	}
	if binary.LittleEndian.Uint32(data[0:4]) != DeltaMagic {
		t.Error("missing delta magic")
	}

	var blocks []uint32
	pos := 12
	for {
		blockno := binary.LittleEndian.Uint32(data[pos : pos+4])
		if blockno == BlockTerminator {
			break
		}
		blocks = append(blocks, blockno)
		pos += 4 + relid.BlockSize + 4
	}
	if len(blocks) != 2 || blocks[0] != 1 || blocks[1] != 2 {
		t.Errorf("expected blocks [1 2], got %v", blocks)
	}
}

func TestCopyVerbatimSkipsMissingFile(t *testing.T) {
	dir := t.TempDir()
	result, err := CopyVerbatim(filepath.Join(dir, "gone"), filepath.Join(dir, "dst"))
	if err != nil {
		t.Fatalf("CopyVerbatim: %v", err)
	}
	if !result.Skipped || result.WriteSize != WriteSizeSkipped {
		t.Errorf("expected a skip result, got %+v", result)
	}
}

func TestCopyVerbatimRoundTrip(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src")
	content := []byte("some file contents, not a relation")
	if err := os.WriteFile(src, content, 0o644); err != nil {
		t.Fatalf("write src: %v", err)
	}
	old := time.Now().Add(-time.Hour)
	if err := os.Chtimes(src, old, old); err != nil {
		t.Fatalf("chtimes: %v", err)
	}

	dst := filepath.Join(dir, "dst")
	result, err := CopyVerbatim(src, dst)
	if err != nil {
		t.Fatalf("CopyVerbatim: %v", err)
	}
	if result.WriteSize != int64(len(content)) {
		t.Errorf("expected write size %d, got %d", len(content), result.WriteSize)
	}
	got, err := os.ReadFile(dst)
	if err != nil {
		t.Fatalf("reading dst: %v", err)
	}
	if string(got) != string(content) {
		t.Errorf("copied content mismatch: got %q", got)
	}
}
