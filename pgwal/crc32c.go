package pgwal

import "hash/crc32"

// crc32cTable is the Castagnoli polynomial table, matching the server's
// pg_crc32c (the same reflected CRC-32C used by iSCSI and SSE4.2's crc32
// instruction).
var crc32cTable = crc32.MakeTable(crc32.Castagnoli)

// crc32Update continues a running CRC-32C computation. Calling it twice in
// sequence, crc32Update(crc32Update(0, a), b), is equivalent to a single
// call over append(a, b) — Go's crc32.Update composes across calls because
// the pre/post complement each call applies cancels at the boundary.
func crc32Update(crc uint32, p []byte) uint32 {
	return crc32.Update(crc, crc32cTable, p)
}
