package pgwal

// extractorKey identifies a resource-manager/operation pair the way the
// donor tool's rmgrName/operationName lookup tables do, keyed on the
// record's rmid and its info byte masked with infoMask (0x70, bits 4-6:
// the operation code within a resource manager).
type extractorKey struct {
	rmid uint8
	info uint8
}

// extractors lists every (rmgr, operation) pair whose record body
// describes a block modification severe enough to force a copy: relation
// creation/extension/truncation, and the heap operations that write,
// delete, lock, prune, vacuum, freeze or revisit visibility on a tuple.
// A record outside this set still dirties a block if any of its block
// references carries a full-page image, checked separately in Run.
var extractors = map[extractorKey]bool{
	{rmHeap, heapInsert}:    true,
	{rmHeap, heapDelete}:    true,
	{rmHeap, heapUpdate}:    true,
	{rmHeap, heapHotUpdate}: true,
	{rmHeap, heapLock}:      true,

	{rmHeap2, heap2MultiInsert}: true,
	{rmHeap2, heap2Lock}:        true,
	{rmHeap2, heap2Prune}:       true,
	{rmHeap2, heap2Vacuum}:      true,
	{rmHeap2, heap2Freeze}:      true,
	{rmHeap2, heap2VisibleMark}: true,

	{rmSMgr, smgrCreate}:   true,
	{rmSMgr, smgrTruncate}: true,

	{rmXLOG, xlogBackupEnd}: true,
}
