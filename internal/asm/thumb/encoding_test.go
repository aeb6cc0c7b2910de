package thumb

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/stubjit/stubjit/internal/asm"
)

func TestEncoding_EncodeBranch(t *testing.T) {
	e := Encoding{}
	tests := []struct {
		name   string
		c      asm.Condition
		long   bool
		at     int
		target int
		exp    []byte
		ok     bool
	}{
		{name: "b self", c: AL, at: 0, target: 0, exp: []byte{0xFE, 0xE7}, ok: true},
		{name: "b forward", c: AL, at: 0, target: 8, exp: []byte{0x02, 0xE0}, ok: true},
		{name: "b max", c: AL, at: 0, target: 2050, exp: []byte{0xFF, 0xE3}, ok: true},
		{name: "b too far", c: AL, at: 0, target: 2052},
		{name: "beq back", c: EQ, at: 10, target: 0, exp: []byte{0xF9, 0xD0}, ok: true},
		{name: "bne forward", c: NE, at: 0, target: 258, exp: []byte{0x7F, 0xD1}, ok: true},
		{name: "bne too far", c: NE, at: 0, target: 260},
		{name: "bl", c: AL, long: true, at: 0, target: 4, exp: []byte{0x00, 0xF0, 0x00, 0xF8}, ok: true},
		{name: "bl back", c: AL, long: true, at: 4, target: 0, exp: []byte{0xFF, 0xF7, 0xFC, 0xFF}, ok: true},
		{name: "no long conditional", c: EQ, long: true, at: 0, target: 4},
		{name: "odd", c: AL, at: 0, target: 5},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			b, ok := e.EncodeBranch(nil, tc.c, tc.long, tc.at, tc.target)
			require.Equal(t, tc.ok, ok)
			if !ok {
				return
			}
			require.Equal(t, tc.exp, b)
			code := make([]byte, tc.at+len(b))
			copy(code[tc.at:], b)
			require.Equal(t, asm.InstructionBranch, e.Classify(code, tc.at))
			target, ok := e.Target(code, tc.at)
			require.True(t, ok)
			require.Equal(t, tc.target, target)
		})
	}
}

func TestEncoding_literalLoad(t *testing.T) {
	e := Encoding{}
	code := make([]byte, 1100)
	copy(code[2:], e.EncodeLiteralLoad(nil, 3))
	require.Equal(t, uint16(0x4B00), binary.LittleEndian.Uint16(code[2:]))
	require.Equal(t, asm.InstructionMemoryAccess, e.Classify(code, 2))

	// Relative to the word aligned pc: (2+4)&^3 = 4.
	require.True(t, e.Patch(code, 2, 12))
	require.Equal(t, uint16(0x4B02), binary.LittleEndian.Uint16(code[2:]))
	target, ok := e.Target(code, 2)
	require.True(t, ok)
	require.Equal(t, 12, target)

	require.True(t, e.Patch(code, 2, 4+1020))
	require.False(t, e.Patch(code, 2, 4+1024))
	require.False(t, e.Patch(code, 2, 0))
	require.False(t, e.Patch(code, 2, 14))
}

func TestEncoding_Patch(t *testing.T) {
	e := Encoding{}
	code := make([]byte, 16)
	b, _ := e.EncodeBranch(nil, NE, false, 0, 0)
	copy(code, b)
	require.True(t, e.Patch(code, 0, 12))
	target, _ := e.Target(code, 0)
	require.Equal(t, 12, target)
	require.Equal(t, uint16(0xD104), binary.LittleEndian.Uint16(code))

	b, _ = e.EncodeBranch(nil, AL, true, 4, 4)
	copy(code[4:], b)
	require.True(t, e.Patch(code, 4, 0))
	target, _ = e.Target(code, 4)
	require.Equal(t, 0, target)

	binary.LittleEndian.PutUint16(code[10:], MOVSImm(0, 1))
	require.Equal(t, asm.InstructionOther, e.Classify(code, 10))
	require.False(t, e.Patch(code, 10, 0))
}

func TestInstructions(t *testing.T) {
	tests := []struct {
		name string
		got  uint16
		exp  uint16
	}{
		{name: "movs r1, #5", got: MOVSImm(1, 5), exp: 0x2105},
		{name: "movs r0, r3", got: MOVS(0, 3), exp: 0x0018},
		{name: "adds r0, r1, r2", got: ADDS(0, 1, 2), exp: 0x1888},
		{name: "subs r3, r3, r4", got: SUBS(3, 3, 4), exp: 0x1B1B},
		{name: "adds r2, #255", got: ADDSImm(2, 255), exp: 0x32FF},
		{name: "subs r2, #1", got: SUBSImm(2, 1), exp: 0x3A01},
		{name: "muls r0, r1", got: MULS(0, 1), exp: 0x4348},
		{name: "negs r0, r0", got: NEGS(0, 0), exp: 0x4240},
		{name: "cmp r0, r1", got: CMP(0, 1), exp: 0x4288},
		{name: "cmp r2, #0", got: CMPImm(2, 0), exp: 0x2A00},
		{name: "ldr r0, [sp, #8]", got: LDRSP(0, 8), exp: 0x9802},
		{name: "str r7, [sp, #1020]", got: STRSP(7, 1020), exp: 0x97FF},
		{name: "add sp, #16", got: ADDSP(16), exp: 0xB004},
		{name: "sub sp, #508", got: SUBSP(508), exp: 0xB0FF},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.exp, tc.got)
		})
	}

	require.Panics(t, func() { MOVSImm(8, 0) })
	require.Panics(t, func() { MOVSImm(0, 256) })
	require.Panics(t, func() { LDRSP(0, 2) })
	require.Panics(t, func() { SUBSP(512) })
}

func TestConditionName(t *testing.T) {
	require.Equal(t, "eq", ConditionName(EQ))
	require.Equal(t, "le", ConditionName(LE))
	require.Equal(t, "??", ConditionName(15))
	require.Equal(t, NE, Encoding{}.Invert(EQ))
	require.Equal(t, LT, Encoding{}.Invert(GE))
}
