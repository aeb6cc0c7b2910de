// Package asm implements the architecture independent part of the code generator: emission into a
// compiled method, labels, literal pools and relocation recording.
//
// Running out of room never fails an emission. The assembler keeps advancing its offsets as if the
// bytes had been written and HasOverflown reports the condition once code generation is done, at
// which point the caller discards the method.
package asm

import (
	"encoding/binary"

	"github.com/stubjit/stubjit/internal/codebuf"
	"github.com/stubjit/stubjit/internal/logging"
	"github.com/stubjit/stubjit/internal/relocation"
)

// Config configures an Assembler.
type Config struct {
	// Comments enables comment relocations.
	Comments bool
	Logger   logging.Logger
}

// Assembler emits code into the low end of a compiled method and relocation entries into its high
// end.
type Assembler struct {
	cm     *codebuf.CompiledMethod
	enc    Encoding
	lim    Limits
	relocs *relocation.Writer
	logger logging.Logger

	comments bool

	codeOffset int
	overflowed bool
	scratch    [16]byte

	literals        []*Literal
	firstLiteralUse int

	branchLiterals     []*branchLiteral
	firstBranchLiteral int
}

// New returns an assembler that writes to the empty compiled method cm.
func New(cm *codebuf.CompiledMethod, enc Encoding, cfg Config) *Assembler {
	a := &Assembler{
		cm:                 cm,
		enc:                enc,
		lim:                enc.Limits(),
		logger:             cfg.Logger,
		comments:           cfg.Comments,
		firstLiteralUse:    -1,
		firstBranchLiteral: -1,
	}
	a.relocs = relocation.NewWriter(cm, a, cfg.Logger)
	return a
}

// Encoding returns the instruction set of the assembler.
func (a *Assembler) Encoding() Encoding {
	return a.enc
}

// CodeOffset returns the offset the next instruction is emitted at.
func (a *Assembler) CodeOffset() int {
	return a.codeOffset
}

// Relocations returns the relocation writer of the compiled method.
func (a *Assembler) Relocations() *relocation.Writer {
	return a.relocs
}

// Code returns the code emitted so far. It is only meaningful if the assembler has not overflown.
func (a *Assembler) Code() []byte {
	b := a.cm.Bytes()
	if a.codeOffset > len(b) {
		return b
	}
	return b[:a.codeOffset]
}

// FreeSpace implements relocation.Space.
func (a *Assembler) FreeSpace() int {
	return a.relocs.CurrentRelocationOffset() + 2 - a.codeOffset
}

// HasRoomFor implements relocation.Space.
func (a *Assembler) HasRoomFor(n int) bool {
	return a.FreeSpace() >= n+relocation.Slop
}

// HasOverflown returns true if anything could not be written to the compiled method.
func (a *Assembler) HasOverflown() bool {
	return a.overflowed || a.relocs.Overflowed() || a.FreeSpace() < relocation.Slop
}

// ensure makes room for n more bytes, growing the compiled method if needed.
func (a *Assembler) ensure(n int) bool {
	if a.overflowed {
		return false
	}
	if a.HasRoomFor(n) {
		return true
	}
	grown := a.cm.ExpandCompiledCodeSpace(n+relocation.Slop-a.FreeSpace(), a.relocs.Size())
	if grown == 0 {
		return false
	}
	a.relocs.Relocate(grown)
	a.logger.Tracef(logging.LogScopeEmit, "expand compiled method by %d to %d", grown, a.cm.ObjectSize())
	return a.HasRoomFor(n)
}

func (a *Assembler) emit(b []byte) {
	if a.ensure(len(b)) {
		copy(a.cm.Bytes()[a.codeOffset:], b)
		a.logger.Tracef(logging.LogScopeEmit, "emit offset=%d word=%x", a.codeOffset, b)
	} else if !a.overflowed {
		a.overflowed = true
		a.logger.Tracef(logging.LogScopeEmit, "code overflow at %d", a.codeOffset)
	}
	a.codeOffset += len(b)
}

// Emit16 emits a little endian halfword.
func (a *Assembler) Emit16(v uint16) {
	binary.LittleEndian.PutUint16(a.scratch[:2], v)
	a.emit(a.scratch[:2])
}

// Emit32 emits a little endian word.
func (a *Assembler) Emit32(v uint32) {
	binary.LittleEndian.PutUint32(a.scratch[:4], v)
	a.emit(a.scratch[:4])
}

// EmitBytes emits raw bytes.
func (a *Assembler) EmitBytes(b []byte) {
	a.emit(b)
}

// Align pads the code with no-ops until the code offset is a multiple of n.
func (a *Assembler) Align(n int) {
	nop := a.enc.Nop()
	for a.codeOffset%n != 0 {
		a.emit(nop)
	}
}

// EmitOop records an object reference at the current code offset.
func (a *Assembler) EmitOop() {
	a.ensure(a.relocs.OopSize(a.codeOffset))
	a.relocs.EmitOop(a.codeOffset)
}

// EmitRelocation records an entry of kind at the current code offset.
func (a *Assembler) EmitRelocation(kind relocation.Kind) {
	if kind == relocation.KindOop {
		a.EmitOop()
		return
	}
	a.ensure(a.relocs.EntrySize(a.codeOffset, 0))
	a.relocs.Emit(kind, a.codeOffset)
}

// Comment records a disassembler comment at the current code offset if comments are enabled.
func (a *Assembler) Comment(s string) {
	if !a.comments {
		return
	}
	a.ensure(a.relocs.CommentSize(s, a.codeOffset))
	a.relocs.EmitComment(s, a.codeOffset)
}

// EmitOSREntry records an on-stack-replacement entry for bci at the current code offset.
func (a *Assembler) EmitOSREntry(bci int) {
	a.ensure(a.relocs.EntrySize(a.codeOffset, 2))
	a.relocs.EmitOSREntry(a.codeOffset, bci)
}

// EmitNPEItem records that the instruction at the current code offset may raise a null pointer
// exception for the load at ldrOffset.
func (a *Assembler) EmitNPEItem(ldrOffset int) {
	a.ensure(a.relocs.EntrySize(a.codeOffset, 2))
	a.relocs.EmitNPEItem(ldrOffset, a.codeOffset)
}

// EmitPreLoadItem records the scheduled load at ldrOffset.
func (a *Assembler) EmitPreLoadItem(ldrOffset int) {
	a.ensure(a.relocs.EntrySize(a.codeOffset, 2))
	a.relocs.EmitPreLoadItem(ldrOffset, a.codeOffset)
}

// GenerateSentinel terminates the relocation stream.
func (a *Assembler) GenerateSentinel() {
	a.ensure(2)
	a.relocs.Finish()
}

// Result is a finished compiled method: code immediately followed by the relocation stream.
type Result struct {
	Method         *codebuf.CompiledMethod
	CodeSize       int
	RelocationSize int
}

// Finish writes the pending literals, terminates the relocation stream and packs the compiled
// method. It returns false if the method overflowed and must be discarded.
func (a *Assembler) Finish() (*Result, bool) {
	a.WriteLiterals(true)
	a.GenerateSentinel()
	if a.HasOverflown() {
		return nil, false
	}
	relocSize := a.relocs.Size()
	a.cm.Shrink(a.codeOffset, relocSize)
	return &Result{Method: a.cm, CodeSize: a.codeOffset, RelocationSize: relocSize}, true
}
