package amd64

import (
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
		{name: "jmp self", c: JMP, exp: []byte{0xeb, 0xfe}, ok: true},
		{name: "jmp short forward", c: JMP, target: 0x81, exp: []byte{0xeb, 0x7f}, ok: true},
		{name: "jmp short too far", c: JMP, target: 0x82},
		{name: "jmp long", c: JMP, long: true, target: 0x105, exp: []byte{0xe9, 0x00, 0x01, 0x00, 0x00}, ok: true},
		{name: "jeq short back", c: JEQ, at: 0x10, target: 0, exp: []byte{0x74, 0xee}, ok: true},
		{name: "jne long", c: JNE, long: true, at: 4, target: 4, exp: []byte{0x0f, 0x85, 0xfa, 0xff, 0xff, 0xff}, ok: true},
		{name: "jge short", c: JGE, target: 2, exp: []byte{0x7d, 0x00}, ok: true},
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
			require.Equal(t, e.BranchSize(tc.c, tc.long), len(b))

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
	require.Equal(t, []byte{0x8b, 0x05, 0, 0, 0, 0}, e.EncodeLiteralLoad(nil, 0))
	require.Equal(t, []byte{0x8b, 0x1d, 0, 0, 0, 0}, e.EncodeLiteralLoad(nil, 3))
	require.Equal(t, []byte{0x44, 0x8b, 0x15, 0, 0, 0, 0}, e.EncodeLiteralLoad(nil, 10))

	code := make([]byte, 32)
	copy(code[2:], e.EncodeLiteralLoad(nil, 10))
	require.Equal(t, asm.InstructionMemoryAccess, e.Classify(code, 2))
	require.True(t, e.Patch(code, 2, 24))
	require.Equal(t, []byte{0x44, 0x8b, 0x15, 0x0f, 0, 0, 0}, code[2:9])
	target, ok := e.Target(code, 2)
	require.True(t, ok)
	require.Equal(t, 24, target)
}

func TestEncoding_Patch(t *testing.T) {
	e := Encoding{}
	code := make([]byte, 300)
	b, _ := e.EncodeBranch(nil, JLT, false, 0, 0)
	copy(code, b)
	require.True(t, e.Patch(code, 0, 100))
	require.Equal(t, []byte{0x7c, 98}, code[:2])
	require.False(t, e.Patch(code, 0, 200))

	b, _ = e.EncodeBranch(nil, JMP, true, 10, 10)
	copy(code[10:], b)
	require.True(t, e.Patch(code, 10, 250))
	target, _ := e.Target(code, 10)
	require.Equal(t, 250, target)

	code[20] = 0x90
	require.Equal(t, asm.InstructionOther, e.Classify(code, 20))
	require.False(t, e.Patch(code, 20, 0))
	_, ok := e.Target(code, 20)
	require.False(t, ok)
}

func TestEncoding_Invert(t *testing.T) {
	e := Encoding{}
	require.Equal(t, JNE, e.Invert(JEQ))
	require.Equal(t, JGE, e.Invert(JLT))
	require.Equal(t, JHI, e.Invert(JLS))
}
