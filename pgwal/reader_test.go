package pgwal

import (
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/willibrandon/pgarman/relid"
)

// buildRecord returns a complete on-disk WAL record (header + body, CRC
// filled in, 8-byte aligned) describing a single heap insert against
// block 42 of relation (1663, 16384, 16385).
func buildRecord(t *testing.T) []byte {
	t.Helper()

	body := make([]byte, 0, 20)
	body = append(body, 0x00) // block id 0
	body = append(body, 0x00) // fork_flags: main fork, not same-rel, no data, no image
	body = binary.LittleEndian.AppendUint32(body, 1663)
	body = binary.LittleEndian.AppendUint32(body, 16384)
	body = binary.LittleEndian.AppendUint32(body, 16385)
	body = binary.LittleEndian.AppendUint32(body, 42)
	body = append(body, blockIDDataShort, 0x00) // empty main data

	totalLen := uint32(xlogRecordHeaderSize + len(body))
	hdr := make([]byte, xlogRecordHeaderSize)
	binary.LittleEndian.PutUint32(hdr[0:4], totalLen)
	binary.LittleEndian.PutUint32(hdr[4:8], 7777)              // xid
	binary.LittleEndian.PutUint64(hdr[8:16], 0)                // prev
	hdr[16] = heapInsert                                       // info
	hdr[17] = rmHeap                                           // rmid

	full := append(append([]byte{}, hdr...), body...)
	crc := recordCRC(full, totalLen)
	binary.LittleEndian.PutUint32(full[20:24], crc)

	if padded := align8(int(totalLen)); padded > int(totalLen) {
		full = append(full, make([]byte, padded-int(totalLen))...)
	}
	return full
}

// writeSegment lays out a single-page WAL segment (long header on page 0,
// the given record immediately after it, zero-padded to the full segment
// size) and returns its path.
func writeSegment(t *testing.T, dir string, timeline relid.Timeline, segSize uint64, record []byte) string {
	t.Helper()

	page := make([]byte, pageSize)
	binary.LittleEndian.PutUint16(page[0:2], walMagic17)
	binary.LittleEndian.PutUint16(page[2:4], xlpLongHeader)
	binary.LittleEndian.PutUint32(page[4:8], uint32(timeline))
	binary.LittleEndian.PutUint64(page[8:16], 0)
	copy(page[longHeaderSize:], record)

	name := relid.WALFileName(timeline, 0, segSize)
	path := filepath.Join(dir, name)

	segment := make([]byte, segSize)
	copy(segment, page)
	if err := os.WriteFile(path, segment, 0o644); err != nil {
		t.Fatalf("writing segment: %v", err)
	}
	return path
}

func TestReaderEmitsBlockChangeForHeapInsert(t *testing.T) {
	record := buildRecord(t)
	dir := t.TempDir()
	writeSegment(t, dir, 1, DefaultSegmentSize, record)

	var got []struct {
		fork, rel, blk uint32
	}
	r := &Reader{
		ArchivePath: dir,
		Timeline:    1,
		FromLSN:     longHeaderSize,
		ToLSN:       relid.LSN(longHeaderSize + len(record)),
	}
	err := r.Run(func(spcnode, dbnode, relfilenode uint32, fork uint8, blockno uint32) {
		got = append(got, struct{ fork, rel, blk uint32 }{uint32(fork), relfilenode, blockno})
	})
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 block change, got %d", len(got))
	}
	if got[0].rel != 16385 || got[0].blk != 42 {
		t.Errorf("unexpected block change: %+v", got[0])
	}
}

func TestReaderDetectsCRCMismatch(t *testing.T) {
	record := buildRecord(t)
	record[xlogRecordHeaderSize] ^= 0xFF // corrupt the first body byte

	dir := t.TempDir()
	writeSegment(t, dir, 1, DefaultSegmentSize, record)

	r := &Reader{
		ArchivePath: dir,
		Timeline:    1,
		FromLSN:     longHeaderSize,
		ToLSN:       relid.LSN(longHeaderSize + len(record)),
	}
	err := r.Run(func(uint32, uint32, uint32, uint8, uint32) {})
	if err == nil {
		t.Fatal("expected a CRC mismatch error")
	}
	var ce *CorruptionError
	if !errors.As(err, &ce) {
		t.Fatalf("expected *CorruptionError, got %T: %v", err, err)
	}
}

func TestReaderFatalOnMissingSegment(t *testing.T) {
	r := &Reader{
		ArchivePath: t.TempDir(),
		Timeline:    1,
		FromLSN:     0,
		ToLSN:       1000,
	}
	err := r.Run(func(uint32, uint32, uint32, uint8, uint32) {})
	if err == nil {
		t.Fatal("expected a missing segment error")
	}
	var me *MissingSegmentError
	if !errors.As(err, &me) {
		t.Fatalf("expected *MissingSegmentError, got %T: %v", err, err)
	}
}

func TestAlign8(t *testing.T) {
	cases := map[int]int{0: 0, 1: 8, 8: 8, 9: 16, 44: 48, 48: 48}
	for in, want := range cases {
		if got := align8(in); got != want {
			t.Errorf("align8(%d) = %d, want %d", in, got, want)
		}
	}
}
