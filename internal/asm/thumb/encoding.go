// Package thumb encodes the 16-bit Thumb instruction set.
package thumb

import (
	"encoding/binary"

	"github.com/stubjit/stubjit/internal/arch"
	"github.com/stubjit/stubjit/internal/asm"
)

// Condition codes.
const (
	EQ asm.Condition = iota
	NE
	CS
	CC
	MI
	PL
	VS
	VC
	HI
	LS
	GE
	LT
	GT
	LE
	AL
)

var conditionNames = [...]string{"eq", "ne", "cs", "cc", "mi", "pl", "vs", "vc", "hi", "ls", "ge", "lt", "gt", "le", "al"}

// ConditionName returns the assembler suffix of c.
func ConditionName(c asm.Condition) string {
	if int(c) < len(conditionNames) {
		return conditionNames[c]
	}
	return "??"
}

// Encoding implements asm.Encoding.
//
// Conditional branches only have an 8-bit displacement, so forward conditional branches go through
// branch literals. The long unconditional branch is a BL pair: every frame saves LR in its
// prologue, so clobbering it is harmless.
type Encoding struct{}

var _ asm.Encoding = Encoding{}

// Name implements asm.Encoding.
func (Encoding) Name() string {
	return arch.Thumb
}

// Always implements asm.Encoding.
func (Encoding) Always() asm.Condition {
	return AL
}

// Invert implements asm.Encoding.
func (Encoding) Invert(c asm.Condition) asm.Condition {
	return c ^ 1
}

// BranchSize implements asm.Encoding.
func (Encoding) BranchSize(c asm.Condition, long bool) int {
	switch {
	case !long:
		return 2
	case c == AL:
		return 4
	}
	return 0
}

// EncodeBranch implements asm.Encoding.
func (Encoding) EncodeBranch(dst []byte, c asm.Condition, long bool, at, target int) ([]byte, bool) {
	off := target - (at + 4)
	switch {
	case long && c == AL:
		first, second, ok := encodeBL(off)
		if !ok {
			return dst, false
		}
		return append16(append16(dst, first), second), true
	case long:
		return dst, false
	case c == AL:
		v, ok := encodeB(off)
		if !ok {
			return dst, false
		}
		return append16(dst, v), true
	default:
		v, ok := encodeBcond(c, off)
		if !ok {
			return dst, false
		}
		return append16(dst, v), true
	}
}

// EncodeLiteralLoad implements asm.Encoding.
func (Encoding) EncodeLiteralLoad(dst []byte, rd arch.Register) []byte {
	return append16(dst, 0x4800|uint16(rd)<<8)
}

// Classify implements asm.Encoding.
func (Encoding) Classify(code []byte, at int) asm.InstructionKind {
	h := halfword(code, at)
	switch {
	case h&0xF800 == 0xE000:
		return asm.InstructionBranch
	case h&0xF000 == 0xD000 && h&0x0F00 < 0x0E00:
		return asm.InstructionBranch
	case h&0xF800 == 0xF000 && halfword(code, at+2)&0xF800 == 0xF800:
		return asm.InstructionBranch
	case h&0xF800 == 0x4800:
		return asm.InstructionMemoryAccess
	}
	return asm.InstructionOther
}

// Target implements asm.Encoding.
func (e Encoding) Target(code []byte, at int) (int, bool) {
	h := halfword(code, at)
	switch {
	case h&0xF800 == 0xE000:
		return at + 4 + signExtend(int(h&0x7FF), 11)*2, true
	case h&0xF000 == 0xD000 && h&0x0F00 < 0x0E00:
		return at + 4 + signExtend(int(h&0xFF), 8)*2, true
	case h&0xF800 == 0xF000:
		lo := halfword(code, at+2)
		imm := signExtend(int(h&0x7FF)<<11|int(lo&0x7FF), 22)
		return at + 4 + imm*2, true
	case h&0xF800 == 0x4800:
		return literalBase(at) + int(h&0xFF)*4, true
	}
	return 0, false
}

// Patch implements asm.Encoding.
func (e Encoding) Patch(code []byte, at, target int) bool {
	h := halfword(code, at)
	off := target - (at + 4)
	switch {
	case h&0xF800 == 0xE000:
		v, ok := encodeB(off)
		if ok {
			putHalfword(code, at, v)
		}
		return ok
	case h&0xF000 == 0xD000 && h&0x0F00 < 0x0E00:
		v, ok := encodeBcond(asm.Condition(h>>8&0xF), off)
		if ok {
			putHalfword(code, at, v)
		}
		return ok
	case h&0xF800 == 0xF000:
		first, second, ok := encodeBL(off)
		if ok {
			putHalfword(code, at, first)
			putHalfword(code, at+2, second)
		}
		return ok
	case h&0xF800 == 0x4800:
		d := target - literalBase(at)
		if d < 0 || d > 1020 || d&3 != 0 {
			return false
		}
		putHalfword(code, at, h&0xFF00|uint16(d/4))
		return true
	}
	return false
}

// Nop implements asm.Encoding.
func (Encoding) Nop() []byte {
	return []byte{0xC0, 0x46}
}

// Limits implements asm.Encoding.
func (Encoding) Limits() asm.Limits {
	return asm.Limits{
		LiteralAlignment:       4,
		LiteralSoftThreshold:   0x200,
		LiteralHardThreshold:   0x3A4,
		MaxUnboundLiterals:     10,
		BranchLiteralThreshold: 200,
		MaxBranchLiterals:      10,
	}
}

// literalBase is the word aligned pc a literal load at at is relative to.
func literalBase(at int) int {
	return (at + 4) &^ 3
}

func encodeB(off int) (uint16, bool) {
	if off&1 != 0 || off < -2048 || off > 2046 {
		return 0, false
	}
	return 0xE000 | uint16(off>>1)&0x7FF, true
}

func encodeBcond(c asm.Condition, off int) (uint16, bool) {
	if off&1 != 0 || off < -256 || off > 254 {
		return 0, false
	}
	return 0xD000 | uint16(c)<<8 | uint16(off>>1)&0xFF, true
}

func encodeBL(off int) (uint16, uint16, bool) {
	if off&1 != 0 || off < -(1<<22) || off >= 1<<22 {
		return 0, 0, false
	}
	imm := off >> 1
	return 0xF000 | uint16(imm>>11)&0x7FF, 0xF800 | uint16(imm)&0x7FF, true
}

func signExtend(v, bits int) int {
	shift := 64 - bits
	return int(int64(v) << shift >> shift)
}

func halfword(code []byte, at int) uint16 {
	if at < 0 || at+2 > len(code) {
		return 0
	}
	return binary.LittleEndian.Uint16(code[at:])
}

func putHalfword(code []byte, at int, v uint16) {
	binary.LittleEndian.PutUint16(code[at:], v)
}

func append16(dst []byte, v uint16) []byte {
	return append(dst, byte(v), byte(v>>8))
}
