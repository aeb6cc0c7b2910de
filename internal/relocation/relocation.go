// Package relocation implements the compact relocation stream stored at the high end of a
// compiled method.
//
// Each entry starts with a 16-bit header holding a 3-bit Kind and a 13-bit signed code offset
// delta relative to the previous entry of the stream. The stream grows downward: the first entry
// lives in the last two bytes of the compiled method. Oop entries are kept together at the start
// of the stream, in ascending code offset order, so that the garbage collector can scan them
// without decoding the rest of the stream.
package relocation

import "fmt"

// Kind is the type of a relocation entry.
type Kind uint8

const (
	// KindOop marks a word of code (usually a literal) holding an object reference.
	KindOop Kind = iota
	// KindComment is a disassembler comment. A comment with no characters is used as padding.
	KindComment
	// KindOSRStub marks an on-stack-replacement entry point, followed by its bci.
	KindOSRStub
	// KindCompilerStub marks a call into a compiler stub.
	KindCompilerStub
	// KindROMOop marks a reference to an object that never moves.
	KindROMOop
	// KindNPEItem marks an instruction that may raise a null pointer exception, followed by the
	// offset of the matching load.
	KindNPEItem
	// KindPreLoad marks a scheduled load, followed by the offset of the load.
	KindPreLoad
	// KindCallInfo is the optional call info table. It may only be the first entry.
	KindCallInfo

	// NoRelocation is returned by lookups that find nothing.
	NoRelocation Kind = 0xff
)

// String implements fmt.Stringer.
func (k Kind) String() string {
	switch k {
	case KindOop:
		return "oop"
	case KindComment:
		return "comment"
	case KindOSRStub:
		return "osr stub"
	case KindCompilerStub:
		return "compiler stub"
	case KindROMOop:
		return "rom oop"
	case KindNPEItem:
		return "npe item"
	case KindPreLoad:
		return "pre load"
	case KindCallInfo:
		return "callinfo"
	case NoRelocation:
		return "none"
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// hasPayload returns true if one extra ushort follows the header.
func (k Kind) hasPayload() bool {
	return k == KindOSRStub || k == KindNPEItem || k == KindPreLoad
}

const (
	typeWidth   = 3
	offsetWidth = 16 - typeWidth

	// MaxEmbeddedOffset is the largest delta a header can hold.
	MaxEmbeddedOffset = 1<<(offsetWidth-1) - 1
	// MinEmbeddedOffset is the smallest delta a header can hold.
	MinEmbeddedOffset = -MaxEmbeddedOffset - 1

	// Sentinel terminates the stream. It reads as an empty call info table, which is never written.
	Sentinel = uint16(KindCallInfo) << offsetWidth

	// paddingSize is the size of a comment entry without characters.
	paddingSize = 4

	offsetMask = 1<<offsetWidth - 1
)

func encode(k Kind, delta int) uint16 {
	if delta > MaxEmbeddedOffset || delta < MinEmbeddedOffset {
		panic(fmt.Sprintf("BUG: relocation delta %d out of range", delta))
	}
	return uint16(k)<<offsetWidth | uint16(delta&offsetMask)
}

func decode(v uint16) (Kind, int) {
	delta := int(v & offsetMask)
	if delta > MaxEmbeddedOffset {
		delta -= 1 << offsetWidth
	}
	return Kind(v >> offsetWidth), delta
}

// paddingFor returns the number of padding bytes needed before an entry whose delta to the
// previous entry is d.
func paddingFor(d int) int {
	n := 0
	for d > MaxEmbeddedOffset {
		d -= MaxEmbeddedOffset
		n++
	}
	for d < MinEmbeddedOffset {
		d -= MinEmbeddedOffset
		n++
	}
	return n * paddingSize
}

// Space reports how much of a compiled method is still unused between the end of the code and
// the lowest relocation entry.
type Space interface {
	// HasRoomFor returns true if n more bytes can be written while leaving the safety slop.
	HasRoomFor(n int) bool
	// FreeSpace returns the number of unused bytes.
	FreeSpace() int
}

// Slop is the number of bytes kept free between code and relocation at all times.
const Slop = 8
