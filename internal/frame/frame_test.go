package frame

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/stubjit/stubjit/internal/arch"
	"github.com/stubjit/stubjit/internal/logging"
	"github.com/stubjit/stubjit/internal/regalloc"
)

type store struct {
	registers map[int]arch.Register
	constants map[int]Location
}

func newStore() *store {
	return &store{registers: map[int]arch.Register{}, constants: map[int]Location{}}
}

func (s *store) StoreRegister(r arch.Register, slot int) { s.registers[slot] = r }

func (s *store) StoreConstant(l Location, slot int) { s.constants[slot] = l }

func TestVirtualStackFrame_pushPop(t *testing.T) {
	f := New(2, 3, newStore(), logging.Logger{})
	f.PushRegister(1)
	f.PushConstant(7, false)
	f.PushMemory()
	require.Equal(t, 3, f.Depth())
	require.Equal(t, 5, f.NumSlots())
	require.Equal(t, "[reg(1) const(7) mem]", f.String())
	require.Panics(t, func() { f.PushMemory() })

	require.Equal(t, Location{Kind: InRegister, Register: 1}, f.Peek(2))
	require.Equal(t, Location{Kind: InMemory}, f.Pop())
	require.Equal(t, Location{Kind: Constant, Value: 7}, f.Pop())
	require.True(t, f.IsMappingSomething(1))
	f.Pop()
	require.False(t, f.IsMappingSomething(1))
	require.Panics(t, func() { f.Pop() })
}

func TestVirtualStackFrame_SpillRegister(t *testing.T) {
	s := newStore()
	f := New(1, 4, s, logging.Logger{})
	f.PushRegister(2)
	f.PushRegister(3)
	f.PushRegister(2)
	f.SpillRegister(2)
	require.Equal(t, map[int]arch.Register{1: 2, 3: 2}, s.registers)
	require.Equal(t, "[mem reg(3) mem]", f.String())
	require.False(t, f.IsMappingSomething(2))
	require.False(t, f.IsFlushed())
}

func TestVirtualStackFrame_FlushAll(t *testing.T) {
	s := newStore()
	f := New(0, 3, s, logging.Logger{})
	f.PushMemory()
	f.PushConstant(0x100, true)
	f.PushRegister(4)
	f.FlushAll()
	require.True(t, f.IsFlushed())
	require.Equal(t, map[int]arch.Register{2: 4}, s.registers)
	require.Equal(t, map[int]Location{1: {Kind: Constant, Value: 0x100, Oop: true}}, s.constants)

	f.Reset(1)
	require.Equal(t, "[mem]", f.String())
}

func TestVirtualStackFrame_allocatorSpills(t *testing.T) {
	rf, err := arch.ForName(arch.Thumb)
	require.NoError(t, err)
	s := newStore()
	f := New(0, 8, s, logging.Logger{})
	ra := regalloc.New(rf, &regalloc.Context{Frame: f}, regalloc.Config{})
	for i := 0; i < 8; i++ {
		r := ra.Allocate()
		f.PushRegister(r)
		ra.Dereference(r)
	}
	require.False(t, ra.HasFree(1, arch.ClassGeneral, false))

	r := ra.Allocate()
	require.Equal(t, arch.Register(0), r)
	require.Equal(t, map[int]arch.Register{0: 0}, s.registers)
	require.Equal(t, Location{Kind: InMemory}, f.Peek(7))
}
