package relocation

import (
	"fmt"

	"github.com/stubjit/stubjit/internal/codebuf"
	"github.com/stubjit/stubjit/internal/logging"
)

// State is a snapshot of the writer offsets, used to resume writing after the code generator
// backtracks.
type State struct {
	RelocationOffset    int
	CodeOffset          int
	OopRelocationOffset int
	OopCodeOffset       int
}

// Writer appends entries to the relocation stream of a compiled method.
//
// Writing never fails: when the compiled method runs out of room the writer stops storing
// entries but keeps advancing its offsets exactly as if they had been stored, and Overflowed
// starts returning true. The caller discards the method once code generation completes.
type Writer struct {
	cm     *codebuf.CompiledMethod
	space  Space
	logger logging.Logger

	// top is the offset just past the stream, the object size the writer was created with.
	top int
	// relocOffset is where the next ushort is written.
	relocOffset int
	// codeOffset is the code offset of the last entry in the stream.
	codeOffset int
	// oopRelocOffset is the first slot after the oop entries, i.e. the header of the first
	// non-oop entry if any.
	oopRelocOffset int
	// oopCodeOffset is the code offset of the last oop entry in the stream.
	oopCodeOffset int

	overflowed bool
}

// NewWriter returns a writer for an empty stream at the end of cm. space reports the room left
// by the code. If space is nil the method is assumed to hold no code.
func NewWriter(cm *codebuf.CompiledMethod, space Space, logger logging.Logger) *Writer {
	w := &Writer{cm: cm, space: space, logger: logger, top: cm.ObjectSize()}
	w.relocOffset = w.top - 2
	w.oopRelocOffset = w.relocOffset
	return w
}

// HasRoomFor implements Space for writers without code.
func (w *Writer) HasRoomFor(n int) bool {
	if w.space != nil {
		return w.space.HasRoomFor(n)
	}
	return w.FreeSpace() >= n+Slop
}

// FreeSpace implements Space for writers without code.
func (w *Writer) FreeSpace() int {
	if w.space != nil {
		return w.space.FreeSpace()
	}
	return w.relocOffset + 2
}

// CurrentRelocationOffset returns the offset of the next slot to be written. Bytes above it
// belong to the stream.
func (w *Writer) CurrentRelocationOffset() int {
	return w.relocOffset
}

// CurrentCodeOffset returns the code offset of the last entry.
func (w *Writer) CurrentCodeOffset() int {
	return w.codeOffset
}

// Top returns the offset just past the stream.
func (w *Writer) Top() int {
	return w.top
}

// Size returns the number of bytes the stream occupies.
func (w *Writer) Size() int {
	return w.top - (w.relocOffset + 2)
}

// Overflowed returns true if any entry could not be stored.
func (w *Writer) Overflowed() bool {
	return w.overflowed
}

// SaveState returns the current offsets.
func (w *Writer) SaveState() State {
	return State{
		RelocationOffset:    w.relocOffset,
		CodeOffset:          w.codeOffset,
		OopRelocationOffset: w.oopRelocOffset,
		OopCodeOffset:       w.oopCodeOffset,
	}
}

// RestoreState resets the offsets to a previously saved state.
func (w *Writer) RestoreState(s State) {
	w.relocOffset = s.RelocationOffset
	w.codeOffset = s.CodeOffset
	w.oopRelocOffset = s.OopRelocationOffset
	w.oopCodeOffset = s.OopCodeOffset
}

// Relocate moves the writer by delta bytes after the compiled method expanded and the stream
// was moved to the new end of the object.
func (w *Writer) Relocate(delta int) {
	w.top += delta
	w.relocOffset += delta
	w.oopRelocOffset += delta
}

func (w *Writer) decrement() {
	w.relocOffset -= 2
}

func (w *Writer) emitUshort(v uint16) {
	if w.HasRoomFor(2) {
		w.cm.UshortFieldPut(w.relocOffset, v)
	} else {
		w.overflowed = true
	}
	// Offsets advance even when nothing is stored, so that all arithmetic stays consistent.
	w.decrement()
}

// computeEmbeddedOffset returns the delta from the last entry to codeOffset, emitting padding
// entries until it fits in a header.
func (w *Writer) computeEmbeddedOffset(codeOffset int) int {
	offset := codeOffset - w.codeOffset
	for offset > MaxEmbeddedOffset {
		w.emitDummy(w.codeOffset + MaxEmbeddedOffset)
		offset = codeOffset - w.codeOffset
	}
	for offset < MinEmbeddedOffset {
		w.emitDummy(w.codeOffset + MinEmbeddedOffset)
		offset = codeOffset - w.codeOffset
	}
	w.codeOffset = codeOffset
	return offset
}

// Emit records an entry of kind for the instruction at codeOffset.
func (w *Writer) Emit(kind Kind, codeOffset int) {
	if kind == KindOop {
		w.EmitOop(codeOffset)
		return
	}
	if kind == KindCallInfo {
		panic("BUG: call info is not a code relocation")
	}
	if codeOffset < 0 {
		panic(fmt.Sprintf("BUG: negative code offset %d", codeOffset))
	}
	offset := w.computeEmbeddedOffset(codeOffset)
	w.emitUshort(encode(kind, offset))
	w.logger.Tracef(logging.LogScopeRelocation, "reloc %s@%d", kind, codeOffset)
}

// EmitOSREntry records an on-stack-replacement entry for bci.
func (w *Writer) EmitOSREntry(codeOffset, bci int) {
	w.Emit(KindOSRStub, codeOffset)
	w.emitUshort(uint16(bci))
}

// EmitNPEItem records that the instruction at codeOffset may raise a null pointer exception on
// behalf of the load at ldrOffset.
func (w *Writer) EmitNPEItem(ldrOffset, codeOffset int) {
	w.Emit(KindNPEItem, codeOffset)
	w.emitUshort(uint16(ldrOffset))
}

// EmitPreLoadItem records a scheduled load at ldrOffset.
func (w *Writer) EmitPreLoadItem(ldrOffset, codeOffset int) {
	w.Emit(KindPreLoad, codeOffset)
	w.emitUshort(uint16(ldrOffset))
}

// commentReserveSlots is the number of slots a comment leaves free for the entries after it.
const commentReserveSlots = 10

// EntrySize returns the number of bytes Emit needs for an entry at codeOffset carrying payload
// bytes after its header, including padding.
func (w *Writer) EntrySize(codeOffset, payload int) int {
	return paddingFor(codeOffset-w.codeOffset) + 2 + payload
}

// CommentSize returns the number of bytes EmitComment needs to store comment untruncated.
func (w *Writer) CommentSize(comment string, codeOffset int) int {
	return w.EntrySize(codeOffset, 2+2*len(comment)) + 2*commentReserveSlots
}

// EmitComment records a disassembler comment, truncated to fit the remaining space.
func (w *Writer) EmitComment(comment string, codeOffset int) {
	w.Emit(KindComment, codeOffset)
	n := len(comment)
	if max := (w.FreeSpace()-Slop)/2 - commentReserveSlots; n > max {
		n = max
	}
	if n < 0 {
		n = 0
	}
	w.emitUshort(uint16(n))
	for i := 0; i < n; i++ {
		w.emitUshort(uint16(comment[i]))
	}
}

// EmitDummy records a padding entry at codeOffset.
func (w *Writer) EmitDummy(codeOffset int) {
	w.emitDummy(codeOffset)
}

func (w *Writer) emitDummy(codeOffset int) {
	offset := codeOffset - w.codeOffset
	w.codeOffset = codeOffset
	w.emitUshort(encode(KindComment, offset))
	w.emitUshort(0)
}

// EmitCallInfo writes the call info table. It must be the first entry of the stream.
func (w *Writer) EmitCallInfo(table []uint16) {
	if w.relocOffset != w.top-2 {
		panic("BUG: call info must be the first relocation entry")
	}
	size := 2 * len(table)
	if size == 0 || size > offsetMask {
		panic(fmt.Sprintf("BUG: invalid call info table size %d", size))
	}
	w.emitUshort(uint16(KindCallInfo)<<offsetWidth | uint16(size))
	for _, v := range table {
		w.emitUshort(v)
	}
	w.oopRelocOffset = w.relocOffset
}

// Finish terminates the stream.
func (w *Writer) Finish() {
	w.emitUshort(Sentinel)
}

// EmitOop records an object reference at codeOffset.
//
// Oop entries are kept at the start of the stream in ascending code offset order regardless of
// the order they are emitted in. When the new entry does not go at the very end of the stream,
// the part of the stream between the neighbouring entries is re-encoded and everything below it
// is moved to make room.
func (w *Writer) EmitOop(codeOffset int) {
	if codeOffset < 0 {
		panic(fmt.Sprintf("BUG: negative code offset %d", codeOffset))
	}
	hasNonOops := w.oopRelocOffset != w.relocOffset
	switch {
	case w.overflowed && (hasNonOops || codeOffset < w.oopCodeOffset):
		// Entries below may not have been stored, so the stream cannot be walked. The method is
		// discarded anyway.
		w.decrement()
	case !hasNonOops && codeOffset >= w.oopCodeOffset:
		offset := w.computeEmbeddedOffset(codeOffset)
		w.emitUshort(encode(KindOop, offset))
		w.oopRelocOffset = w.relocOffset
		w.oopCodeOffset = codeOffset
	case codeOffset >= w.oopCodeOffset:
		// Insert after the last oop: only the header of the first non-oop entry changes.
		next := w.oopRelocOffset
		_, delta := decode(w.cm.UshortFieldAt(next))
		w.splice(codeOffset, w.oopRelocOffset, next, w.oopCodeOffset, w.oopCodeOffset+delta, true)
	default:
		start, next, prevCode, nextCode := w.findOopSuccessor(codeOffset)
		w.splice(codeOffset, start, next, prevCode, nextCode, false)
	}
	w.logger.Tracef(logging.LogScopeRelocation, "reloc oop@%d", codeOffset)
}

// OopSize returns the number of bytes the stream grows by when EmitOop records an oop at
// codeOffset.
func (w *Writer) OopSize(codeOffset int) int {
	hasNonOops := w.oopRelocOffset != w.relocOffset
	switch {
	case w.overflowed && (hasNonOops || codeOffset < w.oopCodeOffset):
		return 2
	case !hasNonOops && codeOffset >= w.oopCodeOffset:
		return w.EntrySize(codeOffset, 0)
	case codeOffset >= w.oopCodeOffset:
		next := w.oopRelocOffset
		_, delta := decode(w.cm.UshortFieldAt(next))
		shift, _, _ := spliceSizes(codeOffset, next, next, w.oopCodeOffset, w.oopCodeOffset+delta)
		return shift
	default:
		start, next, prevCode, nextCode := w.findOopSuccessor(codeOffset)
		shift, _, _ := spliceSizes(codeOffset, start, next, prevCode, nextCode)
		return shift
	}
}

// spliceSizes returns the number of bytes the stream grows by when the slots [next, start] are
// replaced by an oop at codeOffset followed by the header of the entry at next, along with the new
// size of the segment and the padding before the oop.
func spliceSizes(codeOffset, start, next, prevCode, nextCode int) (shift, newSize, padBefore int) {
	oldSize := start - next + 2
	padBefore = paddingFor(codeOffset - prevCode)
	newSize = padBefore + 2 + paddingFor(nextCode-codeOffset) + 2
	return newSize - oldSize, newSize, padBefore
}

// findOopSuccessor walks the oop entries and returns the segment [start, next] to rewrite so that
// an oop at codeOffset goes before the first oop with a greater code offset. start is the slot
// after the preceding oop and next is the header of the successor.
func (w *Writer) findOopSuccessor(codeOffset int) (start, next, prevCode, nextCode int) {
	pos := w.streamStart()
	start = pos
	code := 0
	for pos > w.oopRelocOffset {
		kind, delta := decode(w.cm.UshortFieldAt(pos))
		code += delta
		switch kind {
		case KindOop:
			if code > codeOffset {
				return start, pos, prevCode, code
			}
			prevCode = code
			pos -= 2
			start = pos
		case KindComment:
			// Header, length slot, then the characters.
			pos -= 4 + 2*int(w.cm.UshortFieldAt(pos-2))
		default:
			panic(fmt.Sprintf("BUG: %s entry at %d among oop entries", kind, pos))
		}
	}
	panic(fmt.Sprintf("BUG: no oop entry after code offset %d", codeOffset))
}

// streamStart returns the header offset of the first code entry, after the call info table.
func (w *Writer) streamStart() int {
	pos := w.top - 2
	if pos > w.relocOffset {
		if kind, _ := decode(w.cm.UshortFieldAt(pos)); kind == KindCallInfo {
			pos -= 2 + int(w.cm.UshortFieldAt(pos)&offsetMask)
		}
	}
	return pos
}

// splice replaces the stream slots [next, start] (start is the higher offset) by the encoding of
// an oop at codeOffset followed by the header of the entry at next, whose kind is kept. prevCode
// is the code offset of the entry before start, nextCode the one of the entry at next. Entries
// below next are moved by the size difference.
func (w *Writer) splice(codeOffset, start, next, prevCode, nextCode int, last bool) {
	nextKind, _ := decode(w.cm.UshortFieldAt(next))
	shift, newSize, padBefore := spliceSizes(codeOffset, start, next, prevCode, nextCode)

	below := next - (w.relocOffset + 2)
	room := shift <= 0 || w.HasRoomFor(shift)
	if room {
		w.cm.Move(w.relocOffset+2-shift, w.relocOffset+2, below)
	} else {
		w.overflowed = true
	}
	w.relocOffset -= shift
	w.logger.Tracef(logging.LogScopeRelocation, "oop splice@%d between %d and %d: moved %d bytes by %d",
		codeOffset, prevCode, nextCode, below, shift)

	if room {
		saved := w.SaveState()
		w.relocOffset, w.codeOffset = start, prevCode
		offset := w.computeEmbeddedOffset(codeOffset)
		w.emitUshort(encode(KindOop, offset))
		offset = w.computeEmbeddedOffset(nextCode)
		w.emitUshort(encode(nextKind, offset))
		if w.relocOffset != start-newSize {
			panic(fmt.Sprintf("BUG: oop splice wrote %d bytes, expected %d", start-w.relocOffset, newSize))
		}
		w.RestoreState(saved)
	}

	if last {
		w.oopRelocOffset = start - padBefore - 2
		w.oopCodeOffset = codeOffset
	} else {
		w.oopRelocOffset -= shift
	}
}
