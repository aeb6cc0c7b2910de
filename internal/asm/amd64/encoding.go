// Package amd64 encodes the branches and literal loads of the x86-64 instruction set.
package amd64

import (
	"encoding/binary"
	"math"

	"github.com/stubjit/stubjit/internal/arch"
	"github.com/stubjit/stubjit/internal/asm"
)

// Condition codes, numbered like the low nibble of the Jcc opcodes.
const (
	JO asm.Condition = iota
	JNO
	JCS
	JCC
	JEQ
	JNE
	JLS
	JHI
	JMI
	JPL
	JPS
	JPC
	JLT
	JGE
	JLE
	JGT
	// JMP is the unconditional jump.
	JMP
)

type relativeJumpOpcode struct{ short, long []byte }

func (o relativeJumpOpcode) instructionLen(long bool) int {
	if long {
		return len(o.long) + 4 // 32 bit offset
	}
	return len(o.short) + 1 // 8 bit offset
}

func opcodeOf(c asm.Condition) relativeJumpOpcode {
	if c == JMP {
		// https://www.felixcloutier.com/x86/jmp
		return relativeJumpOpcode{short: []byte{0xeb}, long: []byte{0xe9}}
	}
	// https://www.felixcloutier.com/x86/jcc
	return relativeJumpOpcode{short: []byte{0x70 | byte(c)}, long: []byte{0x0f, 0x80 | byte(c)}}
}

// Encoding implements asm.Encoding.
type Encoding struct{}

var _ asm.Encoding = Encoding{}

// Name implements asm.Encoding.
func (Encoding) Name() string {
	return arch.AMD64
}

// Always implements asm.Encoding.
func (Encoding) Always() asm.Condition {
	return JMP
}

// Invert implements asm.Encoding.
func (Encoding) Invert(c asm.Condition) asm.Condition {
	return c ^ 1
}

// BranchSize implements asm.Encoding.
func (Encoding) BranchSize(c asm.Condition, long bool) int {
	return opcodeOf(c).instructionLen(long)
}

// EncodeBranch implements asm.Encoding.
func (Encoding) EncodeBranch(dst []byte, c asm.Condition, long bool, at, target int) ([]byte, bool) {
	op := opcodeOf(c)
	offset := target - (at + op.instructionLen(long))
	if long {
		if offset < math.MinInt32 || offset > math.MaxInt32 {
			return dst, false
		}
		dst = append(dst, op.long...)
		var disp [4]byte
		binary.LittleEndian.PutUint32(disp[:], uint32(int32(offset)))
		return append(dst, disp[:]...), true
	}
	if offset < math.MinInt8 || offset > math.MaxInt8 {
		return dst, false
	}
	dst = append(dst, op.short...)
	return append(dst, byte(int8(offset))), true
}

// EncodeLiteralLoad implements asm.Encoding. The load is MOVL rd, [RIP+disp32].
func (Encoding) EncodeLiteralLoad(dst []byte, rd arch.Register) []byte {
	if rd >= 8 {
		dst = append(dst, 0x44) // REX.R
	}
	return append(dst, 0x8b, 0b00_000_101|byte(rd&7)<<3, 0, 0, 0, 0)
}

// decoded is a patchable instruction.
type decoded struct {
	kind asm.InstructionKind
	// length is the size of the instruction; the displacement is relative to its end.
	length int
	// dispLen is the size of the trailing displacement.
	dispLen int
}

func decode(code []byte, at int) decoded {
	b := func(i int) byte {
		if at+i >= len(code) {
			return 0
		}
		return code[at+i]
	}
	switch op := b(0); {
	case op == 0xeb || op&0xf0 == 0x70:
		return decoded{kind: asm.InstructionBranch, length: 2, dispLen: 1}
	case op == 0xe9:
		return decoded{kind: asm.InstructionBranch, length: 5, dispLen: 4}
	case op == 0x0f && b(1)&0xf0 == 0x80:
		return decoded{kind: asm.InstructionBranch, length: 6, dispLen: 4}
	case op == 0x8b && b(1)&0xc7 == 0x05:
		return decoded{kind: asm.InstructionMemoryAccess, length: 6, dispLen: 4}
	case op == 0x44 && b(1) == 0x8b && b(2)&0xc7 == 0x05:
		return decoded{kind: asm.InstructionMemoryAccess, length: 7, dispLen: 4}
	}
	return decoded{kind: asm.InstructionOther}
}

// Classify implements asm.Encoding.
func (Encoding) Classify(code []byte, at int) asm.InstructionKind {
	return decode(code, at).kind
}

// Target implements asm.Encoding.
func (Encoding) Target(code []byte, at int) (int, bool) {
	d := decode(code, at)
	if d.kind == asm.InstructionOther || at+d.length > len(code) {
		return 0, false
	}
	end := at + d.length
	if d.dispLen == 1 {
		return end + int(int8(code[end-1])), true
	}
	return end + int(int32(binary.LittleEndian.Uint32(code[end-4:]))), true
}

// Patch implements asm.Encoding.
func (Encoding) Patch(code []byte, at, target int) bool {
	d := decode(code, at)
	if d.kind == asm.InstructionOther || at+d.length > len(code) {
		return false
	}
	end := at + d.length
	offset := target - end
	if d.dispLen == 1 {
		if offset < math.MinInt8 || offset > math.MaxInt8 {
			return false
		}
		code[end-1] = byte(int8(offset))
		return true
	}
	if offset < math.MinInt32 || offset > math.MaxInt32 {
		return false
	}
	binary.LittleEndian.PutUint32(code[end-4:], uint32(int32(offset)))
	return true
}

// Nop implements asm.Encoding.
func (Encoding) Nop() []byte {
	return []byte{0x90}
}

// Limits implements asm.Encoding. Literal loads reach 2GiB, so pools are only written at natural
// breaks once they hold a few literals.
func (Encoding) Limits() asm.Limits {
	return asm.Limits{
		LiteralAlignment:     4,
		LiteralSoftThreshold: 0x1000,
		LiteralHardThreshold: math.MaxInt32 / 2,
		MaxUnboundLiterals:   10,
	}
}
