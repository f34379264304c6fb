package pgwal

import "encoding/binary"

// blockRef names one relation block a record's block-reference array
// points at. Every WAL record's body carries zero or more of these ahead
// of its rmgr-specific main data, independent of which resource manager
// wrote the record.
type blockRef struct {
	spcNode, dbNode, relNode uint32
	fork                     uint8
	blkno                    uint32
	hasImage                 bool
}

// Block-reference id bytes that aren't a block reference at all but mark
// other parts of the record body (main data, replication origin, the
// top-level xid of a subtransaction).
const (
	blockIDDataShort  = 0xFF
	blockIDDataLong   = 0xFE
	blockIDOrigin     = 0xFD
	blockIDToplevelXid = 0xFC
)

const (
	bkpblockForkMask = 0x0F
	bkpblockHasImage = 0x10
	bkpblockHasData  = 0x20
	bkpblockWillInit = 0x40
	bkpblockSameRel  = 0x80

	bkpimageHasHole     = 0x01
	bkpimageIsCompressed = 0x02
)

// parseBlockRefs walks a record body's block-reference section and returns
// every block it names. body starts immediately after the 24-byte record
// header. It stops at the first main-data marker (short or long form),
// which always terminates the block-reference section.
func parseBlockRefs(body []byte) ([]blockRef, error) {
	var refs []blockRef
	var last blockRef
	haveLast := false

	pos := 0
	for pos < len(body) {
		id := body[pos]
		pos++

		switch id {
		case blockIDDataShort:
			return refs, nil
		case blockIDDataLong:
			return refs, nil
		case blockIDOrigin:
			pos += 2
			continue
		case blockIDToplevelXid:
			pos += 4
			continue
		}

		if pos >= len(body) {
			return nil, errShortRecord
		}
		forkFlags := body[pos]
		pos++

		var dataLen uint16
		if forkFlags&bkpblockHasData != 0 {
			if pos+2 > len(body) {
				return nil, errShortRecord
			}
			dataLen = binary.LittleEndian.Uint16(body[pos : pos+2])
			pos += 2
		}

		hasImage := forkFlags&bkpblockHasImage != 0
		if hasImage {
			if pos+4 > len(body) {
				return nil, errShortRecord
			}
			imgLen := binary.LittleEndian.Uint16(body[pos : pos+2])
			bimgInfo := body[pos+3]
			pos += 4
			if bimgInfo&bkpimageHasHole != 0 && bimgInfo&bkpimageIsCompressed != 0 {
				pos += 2 // hole_length, present for hole-aware compression
			}
			pos += int(imgLen)
		}

		ref := blockRef{fork: forkFlags & bkpblockForkMask, hasImage: hasImage}
		if forkFlags&bkpblockSameRel != 0 {
			if !haveLast {
				return nil, errShortRecord
			}
			ref.spcNode, ref.dbNode, ref.relNode = last.spcNode, last.dbNode, last.relNode
		} else {
			if pos+12 > len(body) {
				return nil, errShortRecord
			}
			ref.spcNode = binary.LittleEndian.Uint32(body[pos : pos+4])
			ref.dbNode = binary.LittleEndian.Uint32(body[pos+4 : pos+8])
			ref.relNode = binary.LittleEndian.Uint32(body[pos+8 : pos+12])
			pos += 12
		}
		if pos+4 > len(body) {
			return nil, errShortRecord
		}
		ref.blkno = binary.LittleEndian.Uint32(body[pos : pos+4])
		pos += 4

		last = ref
		haveLast = true
		refs = append(refs, ref)
		pos += int(dataLen)
	}
	return refs, nil
}
