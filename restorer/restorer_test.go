package restorer

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/willibrandon/pgarman/copier"
	"github.com/willibrandon/pgarman/pagemap"
	"github.com/willibrandon/pgarman/relid"
)

func makeSegment(t *testing.T, path string, pageLSNs []uint64) []byte {
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
	return buf
}

func TestApplyDeltaReconstructsSegment(t *testing.T) {
	dir := t.TempDir()

	fullSeg := filepath.Join(dir, "full", "16385")
	os.MkdirAll(filepath.Dir(fullSeg), 0o755)
	fullBytes := makeSegment(t, fullSeg, []uint64{100, 100, 100})

	// Simulate a later state of the relation: block 1 advanced past the
	// parent's start LSN, block 2 advanced too and is also marked dirty.
	laterSeg := filepath.Join(dir, "later")
	os.MkdirAll(laterSeg, 0o755)
	laterPath := filepath.Join(laterSeg, "16385")
	laterBytes := makeSegment(t, laterPath, []uint64{100, 5000, 9999})

	dirty := pagemap.New()
	dirty.Add(laterPath, 2)

	deltaPath := filepath.Join(dir, "16385.delta")
	if _, err := copier.CopyDelta(laterPath, deltaPath, 1000, dirty, laterPath); err != nil {
		t.Fatalf("CopyDelta: %v", err)
	}

	restoredPath := filepath.Join(dir, "restored")
	if err := ApplyDelta(fullSeg, deltaPath, restoredPath); err != nil {
		t.Fatalf("ApplyDelta: %v", err)
	}

	restored, err := os.ReadFile(restoredPath)
	if err != nil {
		t.Fatalf("reading restored segment: %v", err)
	}

	want := make([]byte, len(fullBytes))
	copy(want, fullBytes)
	copy(want[1*relid.BlockSize:], laterBytes[1*relid.BlockSize:2*relid.BlockSize])
	copy(want[2*relid.BlockSize:], laterBytes[2*relid.BlockSize:3*relid.BlockSize])

	if string(restored) != string(want) {
		t.Error("restored segment does not match expected merge of parent and delta blocks")
	}
}

func TestApplyDeltaRejectsBadMagic(t *testing.T) {
	dir := t.TempDir()
	fullSeg := filepath.Join(dir, "full")
	makeSegment(t, fullSeg, []uint64{100})

	badDelta := filepath.Join(dir, "bad.delta")
	if err := os.WriteFile(badDelta, []byte{0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0}, 0o644); err != nil {
		t.Fatalf("write bad delta: %v", err)
	}

	err := ApplyDelta(fullSeg, badDelta, filepath.Join(dir, "out"))
	if err == nil {
		t.Fatal("expected an error for a bad magic number")
	}
}
