package orchestrator

import (
	"github.com/willibrandon/pgarman/pagemap"
	"github.com/willibrandon/pgarman/relid"
	"github.com/willibrandon/pgarman/scanner"
)

// relKey identifies a relation fork independent of its segment number or
// owning tablespace/database, which is how the WAL reader's callback
// reports dirtied blocks (§4.4's output contract carries only
// (fork, relfilenode, blockno)).
type relKey struct {
	relOID uint32
	fork   uint8
}

type segmentFile struct {
	segment uint32
	path    string
}

// blockSink is the "path → file-entry" mapping Design Notes describes: it
// is built once from the current directory scan and handed to the WAL
// reader by reference, so every dirtied block the reader reports can be
// resolved to the exact segment file the copier will iterate afterward.
// A relfilenode the WAL mentions but the scan didn't find — the relation
// was dirtied and then dropped before this backup — has no entry in index
// and is silently dropped, per §4.4.
type blockSink struct {
	pm    *pagemap.Map
	index map[relKey][]segmentFile
}

func newBlockSink(entries []scanner.Entry) *blockSink {
	index := make(map[relKey][]segmentFile)
	for _, e := range entries {
		if e.Kind != scanner.KindRelation {
			continue
		}
		id, ok := relid.ParseRelationPath(e.Path)
		if !ok {
			continue
		}
		k := relKey{relOID: id.RelOID, fork: uint8(id.Fork)}
		index[k] = append(index[k], segmentFile{segment: id.Segment, path: e.Path})
	}
	return &blockSink{pm: pagemap.New(), index: index}
}

// Add implements pgwal.BlockChangeFunc. The tablespace and database OIDs
// are accepted but not needed to resolve the segment file: relfilenode is
// already unique within the set of files a single scan found (the scanner
// walks exactly one data directory), so (relOID, fork, segment) is enough.
func (b *blockSink) Add(_, _, relfilenode uint32, fork uint8, blockno uint32) {
	segment, local := relid.BlockToSegment(blockno)
	for _, sf := range b.index[relKey{relOID: relfilenode, fork: fork}] {
		if sf.segment == segment {
			b.pm.Add(sf.path, local)
			return
		}
	}
}
