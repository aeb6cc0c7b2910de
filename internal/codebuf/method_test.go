package codebuf

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCompiledMethod_fields(t *testing.T) {
	m := New(16, 16)
	require.Equal(t, 16, m.ObjectSize())

	m.UshortFieldPut(14, 0xE001)
	require.Equal(t, uint16(0xE001), m.UshortFieldAt(14))
	require.Equal(t, byte(0x01), m.ByteAt(14))
	require.Equal(t, byte(0xE0), m.ByteAt(15))

	m.UintFieldPut(0, 0xdeadbeef)
	require.Equal(t, uint32(0xdeadbeef), m.UintFieldAt(0))
	require.Equal(t, []byte{0xef, 0xbe, 0xad, 0xde}, m.Bytes()[:4])

	m.BytePut(4, 7)
	require.Equal(t, byte(7), m.ByteAt(4))
}

func TestCompiledMethod_Move(t *testing.T) {
	m := New(8, 8)
	copy(m.Bytes(), []byte{1, 2, 3, 4, 5, 6, 7, 8})
	m.Move(0, 2, 4)
	require.Equal(t, []byte{3, 4, 5, 6, 5, 6, 7, 8}, m.Bytes())
	m.Move(4, 2, 4)
	require.Equal(t, []byte{3, 4, 5, 6, 5, 6, 5, 6}, m.Bytes())
	m.Move(0, 4, 0)
	require.Equal(t, []byte{3, 4, 5, 6, 5, 6, 5, 6}, m.Bytes())
}

func TestCompiledMethod_ExpandCompiledCodeSpace(t *testing.T) {
	m := New(8, 40)
	copy(m.Bytes(), []byte{1, 2, 3, 0, 0, 0, 9, 9})

	grown := m.ExpandCompiledCodeSpace(4, 2)
	require.Equal(t, 8, grown)
	require.Equal(t, 16, m.ObjectSize())
	b := m.Bytes()
	require.Equal(t, []byte{1, 2, 3}, b[:3])
	require.Equal(t, []byte{9, 9}, b[14:])

	// Clamped to the maximum size.
	require.Equal(t, 24, m.ExpandCompiledCodeSpace(20, 2))
	require.Equal(t, 40, m.ObjectSize())
	require.Equal(t, []byte{9, 9}, m.Bytes()[38:])

	require.Zero(t, m.ExpandCompiledCodeSpace(1, 2))
	require.Zero(t, m.ExpandCompiledCodeSpace(0, 2))
}

func TestCompiledMethod_Shrink(t *testing.T) {
	m := New(10, 10)
	copy(m.Bytes(), []byte{1, 2, 3, 4, 0, 0, 0, 0, 8, 9})
	require.Equal(t, []byte{1, 2, 3, 4, 8, 9}, m.Shrink(4, 2))
	require.Panics(t, func() { New(4, 4).Shrink(3, 2) })
}
