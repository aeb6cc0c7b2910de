package thumb

import (
	"fmt"

	"github.com/stubjit/stubjit/internal/arch"
)

// The encoders below only take the low registers r0-r7 unless noted otherwise.

func low(r arch.Register) uint16 {
	if r < 0 || r > 7 {
		panic(fmt.Sprintf("BUG: r%d is not a low register", r))
	}
	return uint16(r)
}

func imm(v, max int) uint16 {
	if v < 0 || v > max {
		panic(fmt.Sprintf("BUG: immediate %d out of range [0, %d]", v, max))
	}
	return uint16(v)
}

func wordOffset(off, max int) uint16 {
	if off&3 != 0 {
		panic(fmt.Sprintf("BUG: unaligned offset %d", off))
	}
	return imm(off/4, max)
}

// MOVSImm encodes movs rd, #v.
func MOVSImm(rd arch.Register, v int) uint16 {
	return 0x2000 | low(rd)<<8 | imm(v, 0xFF)
}

// MOVS encodes movs rd, rm.
func MOVS(rd, rm arch.Register) uint16 {
	return low(rm)<<3 | low(rd)
}

// ADDS encodes adds rd, rn, rm.
func ADDS(rd, rn, rm arch.Register) uint16 {
	return 0x1800 | low(rm)<<6 | low(rn)<<3 | low(rd)
}

// SUBS encodes subs rd, rn, rm.
func SUBS(rd, rn, rm arch.Register) uint16 {
	return 0x1A00 | low(rm)<<6 | low(rn)<<3 | low(rd)
}

// ADDSImm encodes adds rd, #v.
func ADDSImm(rd arch.Register, v int) uint16 {
	return 0x3000 | low(rd)<<8 | imm(v, 0xFF)
}

// SUBSImm encodes subs rd, #v.
func SUBSImm(rd arch.Register, v int) uint16 {
	return 0x3800 | low(rd)<<8 | imm(v, 0xFF)
}

// MULS encodes muls rd, rm, rd.
func MULS(rd, rm arch.Register) uint16 {
	return 0x4340 | low(rm)<<3 | low(rd)
}

// NEGS encodes negs rd, rm.
func NEGS(rd, rm arch.Register) uint16 {
	return 0x4240 | low(rm)<<3 | low(rd)
}

// CMP encodes cmp rn, rm.
func CMP(rn, rm arch.Register) uint16 {
	return 0x4280 | low(rm)<<3 | low(rn)
}

// CMPImm encodes cmp rn, #v.
func CMPImm(rn arch.Register, v int) uint16 {
	return 0x2800 | low(rn)<<8 | imm(v, 0xFF)
}

// LDRSP encodes ldr rd, [sp, #off].
func LDRSP(rd arch.Register, off int) uint16 {
	return 0x9800 | low(rd)<<8 | wordOffset(off, 0xFF)
}

// STRSP encodes str rd, [sp, #off].
func STRSP(rd arch.Register, off int) uint16 {
	return 0x9000 | low(rd)<<8 | wordOffset(off, 0xFF)
}

// ADDSP encodes add sp, #off.
func ADDSP(off int) uint16 {
	return 0xB000 | wordOffset(off, 0x7F)
}

// SUBSP encodes sub sp, #off.
func SUBSP(off int) uint16 {
	return 0xB080 | wordOffset(off, 0x7F)
}

// PushLR encodes push {lr}.
const PushLR uint16 = 0xB500

// PopPC encodes pop {pc}.
const PopPC uint16 = 0xBD00

// NOP encodes mov r8, r8.
const NOP uint16 = 0x46C0

// MaxFrameBytes is the largest frame ADDSP and SUBSP can allocate.
const MaxFrameBytes = 0x7F * 4

// MaxSPOffset is the largest offset LDRSP and STRSP reach.
const MaxSPOffset = 0xFF * 4
