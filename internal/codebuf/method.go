// Package codebuf provides the compiled method container shared by the instruction stream and
// the relocation stream.
package codebuf

import (
	"encoding/binary"
	"fmt"
)

// CompiledMethod is a single buffer holding two arenas growing toward each other: instruction
// bytes grow up from offset zero, relocation entries grow down from ObjectSize.
//
// All positions are offsets from the start of the buffer. The container does not track where
// either arena ends; that is the job of the assembler and the relocation writer, which check for
// room before every write.
type CompiledMethod struct {
	buf []byte
	max int
}

// New returns a compiled method of size bytes which may later expand up to maxSize bytes.
func New(size, maxSize int) *CompiledMethod {
	if size < 0 {
		panic(fmt.Sprintf("BUG: negative compiled method size %d", size))
	}
	if maxSize < size {
		maxSize = size
	}
	return &CompiledMethod{buf: make([]byte, size), max: maxSize}
}

// ObjectSize returns the current size of the buffer.
func (m *CompiledMethod) ObjectSize() int {
	return len(m.buf)
}

// MaxObjectSize returns the size beyond which the buffer never expands.
func (m *CompiledMethod) MaxObjectSize() int {
	return m.max
}

// Bytes returns the whole buffer. The slice is invalidated by ExpandCompiledCodeSpace.
func (m *CompiledMethod) Bytes() []byte {
	return m.buf
}

// UshortFieldAt reads the little-endian 16-bit value at off.
func (m *CompiledMethod) UshortFieldAt(off int) uint16 {
	return binary.LittleEndian.Uint16(m.buf[off : off+2])
}

// UshortFieldPut writes v as a little-endian 16-bit value at off.
func (m *CompiledMethod) UshortFieldPut(off int, v uint16) {
	binary.LittleEndian.PutUint16(m.buf[off:off+2], v)
}

// UintFieldAt reads the little-endian 32-bit value at off.
func (m *CompiledMethod) UintFieldAt(off int) uint32 {
	return binary.LittleEndian.Uint32(m.buf[off : off+4])
}

// UintFieldPut writes v as a little-endian 32-bit value at off.
func (m *CompiledMethod) UintFieldPut(off int, v uint32) {
	binary.LittleEndian.PutUint32(m.buf[off:off+4], v)
}

// ByteAt returns the byte at off.
func (m *CompiledMethod) ByteAt(off int) byte {
	return m.buf[off]
}

// BytePut writes the byte at off.
func (m *CompiledMethod) BytePut(off int, b byte) {
	m.buf[off] = b
}

// Move copies n bytes from src to dst. The regions may overlap.
func (m *CompiledMethod) Move(dst, src, n int) {
	if n <= 0 {
		return
	}
	copy(m.buf[dst:dst+n], m.buf[src:src+n])
}

// ExpandCompiledCodeSpace grows the buffer by at least delta bytes, keeping the trailing
// relocSize bytes (the relocation arena) at the end of the buffer. It returns the number of bytes
// the buffer actually grew by, or zero if the buffer is already at its maximum size.
func (m *CompiledMethod) ExpandCompiledCodeSpace(delta, relocSize int) int {
	size := len(m.buf)
	want := size + delta
	if delta <= 0 || want > m.max {
		return 0
	}
	newSize := size
	if newSize == 0 {
		newSize = 256
	}
	for newSize < want {
		newSize *= 2
	}
	if newSize > m.max {
		newSize = m.max
	}
	b := make([]byte, newSize)
	copy(b, m.buf[:size-relocSize])
	copy(b[newSize-relocSize:], m.buf[size-relocSize:])
	m.buf = b
	return newSize - size
}

// Shrink packs the buffer so that the relocation arena immediately follows the first codeSize
// bytes of code, returning the packed object.
func (m *CompiledMethod) Shrink(codeSize, relocSize int) []byte {
	size := len(m.buf)
	if codeSize+relocSize > size {
		panic(fmt.Sprintf("BUG: code (%d) and relocation (%d) overlap in %d bytes", codeSize, relocSize, size))
	}
	copy(m.buf[codeSize:], m.buf[size-relocSize:])
	m.buf = m.buf[: codeSize+relocSize : codeSize+relocSize]
	return m.buf
}
