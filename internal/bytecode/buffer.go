// Package bytecode implements the growable 16-bit code array and its
// parallel source-info, exception-handler, and basic-block-boundary arrays
// (spec.md §4.1, C3). Growth is amortized doubling, which in idiomatic Go is
// simply `append` on a slice rather than the manual doubling the teacher's
// (now-removed, JIT-only) internal/asm/buffer.go hand-rolled for a
// byte-oriented assembler output buffer.
package bytecode

// HandlerEntry is one exception-handler table row, packed as 5 ints per the
// wire layout in spec.md §6.
type HandlerEntry struct {
	StartBci    int
	EndBci      int
	HandlerBci  int
	StartSp     int
	ExcLocalIdx int
}

// SourceInfoEntry is one `(packedSourceIdx|bci, startOffset, length)` triple
// (spec.md §4.1).
type SourceInfoEntry struct {
	Bci         int
	SourceIdx   int
	StartOffset int
	Length      int
}

// Buffer is the append-only bytecode array plus its companion arrays. It is
// not safe for concurrent use during building (spec.md §5: "building phase
// is single-threaded per root").
type Buffer struct {
	words   []uint16
	sources []SourceInfoEntry
	handlers []HandlerEntry
	tracing  bool
	blockBoundary []bool // one longer than words; only populated when tracing
}

// New creates an empty Buffer. tracing enables basic-block-boundary
// recording (spec.md §4.1, "if tracing is enabled").
func New(tracing bool) *Buffer {
	b := &Buffer{tracing: tracing}
	if tracing {
		b.blockBoundary = []bool{false}
	}
	return b
}

// Len returns the current bci, i.e. one past the last emitted word.
func (b *Buffer) Len() int {
	return len(b.words)
}

// Emit appends a single 16-bit word and returns its bci.
func (b *Buffer) Emit(word uint16) int {
	bci := len(b.words)
	b.words = append(b.words, word)
	if b.tracing {
		b.blockBoundary = append(b.blockBoundary, false)
	}
	return bci
}

// EmitInstruction appends an opcode followed by its immediates, returning
// the bci of the opcode word (the instruction's bci).
func (b *Buffer) EmitInstruction(opcode uint16, immediates ...uint16) int {
	start := b.Emit(opcode)
	for _, imm := range immediates {
		b.Emit(imm)
	}
	return start
}

// PatchImmediate overwrites the word at immBci, used to back-fill a forward
// branch target once the label is defined (spec.md §4.3).
func (b *Buffer) PatchImmediate(immBci int, value uint16) {
	b.words[immBci] = value
}

// Word returns the raw word at bci.
func (b *Buffer) Word(bci int) uint16 {
	return b.words[bci]
}

// Words returns the underlying array. Callers must not retain it across a
// further Emit, since append may reallocate.
func (b *Buffer) Words() []uint16 {
	return b.words
}

// MarkBasicBlockBoundary records that a new basic block starts at the
// current bci, before any instruction is emitted there (spec.md §4.1).
func (b *Buffer) MarkBasicBlockBoundary() {
	if !b.tracing {
		return
	}
	for len(b.blockBoundary) <= len(b.words) {
		b.blockBoundary = append(b.blockBoundary, false)
	}
	b.blockBoundary[len(b.words)] = true
}

// BasicBlockBoundaries returns the tracing array, or nil if tracing is off.
func (b *Buffer) BasicBlockBoundaries() []bool {
	return b.blockBoundary
}

// AddSourceInfo appends one source-info triple.
func (b *Buffer) AddSourceInfo(bci, sourceIdx, startOffset, length int) {
	b.sources = append(b.sources, SourceInfoEntry{Bci: bci, SourceIdx: sourceIdx, StartOffset: startOffset, Length: length})
}

// SourceInfo returns the source-info array.
func (b *Buffer) SourceInfo() []SourceInfoEntry {
	return b.sources
}

// AddExceptionHandler appends one handler entry (spec.md §4.4 TryCatch).
func (b *Buffer) AddExceptionHandler(startBci, endBci, handlerBci, startSp, excLocalIdx int) {
	b.handlers = append(b.handlers, HandlerEntry{
		StartBci: startBci, EndBci: endBci, HandlerBci: handlerBci,
		StartSp: startSp, ExcLocalIdx: excLocalIdx,
	})
}

// Handlers returns the exception-handler table built so far.
func (b *Buffer) Handlers() []HandlerEntry {
	return b.handlers
}

// SetHandlers replaces the handler table wholesale, used by endRoot's
// innermost-first sort (spec.md §9 Open Question #2).
func (b *Buffer) SetHandlers(handlers []HandlerEntry) {
	b.handlers = handlers
}

// State is an immutable capture of every field the Finally Context (C6)
// must copy on beginFinallyTry and restore on endFinallyTry (spec.md §4.5
// step 1: "copies of all context-sensitive buffer state").
type State struct {
	words         []uint16
	sources       []SourceInfoEntry
	handlers      []HandlerEntry
	blockBoundary []bool
}

// Snapshot captures a deep copy of the buffer's current state.
func (b *Buffer) Snapshot() State {
	return State{
		words:         append([]uint16(nil), b.words...),
		sources:       append([]SourceInfoEntry(nil), b.sources...),
		handlers:      append([]HandlerEntry(nil), b.handlers...),
		blockBoundary: append([]bool(nil), b.blockBoundary...),
	}
}

// Reset captures the current state (as Snapshot would) and then clears the
// buffer to empty, so a finally handler body can be built from bci 0 in
// isolation (spec.md §4.5 step 1: "reinitializing the buffer to empty").
func (b *Buffer) Reset() State {
	saved := b.Snapshot()
	b.words = nil
	b.sources = nil
	b.handlers = nil
	if b.tracing {
		b.blockBoundary = []bool{false}
	}
	return saved
}

// Restore replaces the buffer's state with a previously captured Snapshot.
func (b *Buffer) Restore(s State) {
	b.words = s.words
	b.sources = s.sources
	b.handlers = s.handlers
	b.blockBoundary = s.blockBoundary
}

// Freeze returns defensive copies of the buffer's arrays, used when a
// handler body is finished being built and must become a self-contained
// subprogram (spec.md §4.5 step 1 of "end of the first child").
func (b *Buffer) Freeze() (words []uint16, sources []SourceInfoEntry, handlers []HandlerEntry) {
	return append([]uint16(nil), b.words...),
		append([]SourceInfoEntry(nil), b.sources...),
		append([]HandlerEntry(nil), b.handlers...)
}
