// Package frame tracks where the operand stack values of the method being compiled live while the
// template compiler walks its bytecodes.
package frame

import (
	"fmt"
	"strings"

	"github.com/stubjit/stubjit/internal/arch"
	"github.com/stubjit/stubjit/internal/logging"
	"github.com/stubjit/stubjit/internal/regalloc"
)

// LocationKind says where a value lives.
type LocationKind byte

const (
	// InMemory values live in their stack slot.
	InMemory LocationKind = iota
	// InRegister values live in Location.Register.
	InRegister
	// Constant values are known at compile time and not materialized yet.
	Constant
)

// Location is the place of one operand stack value.
type Location struct {
	Kind     LocationKind
	Register arch.Register
	Value    int32
	// Oop is set for constants that reference an object.
	Oop bool
}

// String implements fmt.Stringer.
func (l Location) String() string {
	switch l.Kind {
	case InRegister:
		return fmt.Sprintf("reg(%d)", l.Register)
	case Constant:
		if l.Oop {
			return fmt.Sprintf("oop(%#x)", uint32(l.Value))
		}
		return fmt.Sprintf("const(%d)", l.Value)
	}
	return "mem"
}

// Storer writes values to stack slots.
type Storer interface {
	// StoreRegister stores r to slot.
	StoreRegister(r arch.Register, slot int)
	// StoreConstant materializes the constant loc and stores it to slot.
	StoreConstant(loc Location, slot int)
}

// VirtualStackFrame maps every operand stack value to a register, its stack slot or a constant.
// Slots are numbered after the locals, so the value at depth d lives in slot MaxLocals+d once it
// is in memory.
//
// Mapping a register does not count as a reference to it: the register allocator sees mapped
// registers as busy through IsMappingSomething and spills them when it runs out of registers.
type VirtualStackFrame struct {
	maxLocals, maxStack int
	stack               []Location
	store               Storer
	logger              logging.Logger
}

var _ regalloc.Frame = (*VirtualStackFrame)(nil)

// New returns an empty frame.
func New(maxLocals, maxStack int, store Storer, logger logging.Logger) *VirtualStackFrame {
	return &VirtualStackFrame{
		maxLocals: maxLocals,
		maxStack:  maxStack,
		stack:     make([]Location, 0, maxStack),
		store:     store,
		logger:    logger,
	}
}

// Depth returns the number of values on the operand stack.
func (f *VirtualStackFrame) Depth() int {
	return len(f.stack)
}

// Slot returns the stack slot of the value at depth.
func (f *VirtualStackFrame) Slot(depth int) int {
	return f.maxLocals + depth
}

// NumSlots returns the number of word slots of the frame.
func (f *VirtualStackFrame) NumSlots() int {
	return f.maxLocals + f.maxStack
}

func (f *VirtualStackFrame) push(l Location) {
	if len(f.stack) >= f.maxStack {
		panic(fmt.Sprintf("BUG: operand stack overflow, max stack %d", f.maxStack))
	}
	f.stack = append(f.stack, l)
}

// PushRegister pushes a value held in r.
func (f *VirtualStackFrame) PushRegister(r arch.Register) {
	f.push(Location{Kind: InRegister, Register: r})
}

// PushConstant pushes a compile time constant.
func (f *VirtualStackFrame) PushConstant(v int32, oop bool) {
	f.push(Location{Kind: Constant, Value: v, Oop: oop})
}

// PushMemory pushes a value already stored in its slot.
func (f *VirtualStackFrame) PushMemory() {
	f.push(Location{Kind: InMemory})
}

// Pop removes the top value and returns where it was. A popped value in memory still occupies
// slot Slot(Depth()) until something else is pushed.
func (f *VirtualStackFrame) Pop() Location {
	if len(f.stack) == 0 {
		panic("BUG: operand stack underflow")
	}
	l := f.stack[len(f.stack)-1]
	f.stack = f.stack[:len(f.stack)-1]
	return l
}

// Peek returns the value i entries below the top.
func (f *VirtualStackFrame) Peek(i int) Location {
	return f.stack[len(f.stack)-1-i]
}

// IsMappingSomething implements regalloc.Frame.
func (f *VirtualStackFrame) IsMappingSomething(r arch.Register) bool {
	for _, l := range f.stack {
		if l.Kind == InRegister && l.Register == r {
			return true
		}
	}
	return false
}

// SpillRegister implements regalloc.Frame.
func (f *VirtualStackFrame) SpillRegister(r arch.Register) {
	for i, l := range f.stack {
		if l.Kind == InRegister && l.Register == r {
			f.logger.Tracef(logging.LogScopeRegister, "spill depth %d to slot %d", i, f.Slot(i))
			f.store.StoreRegister(r, f.Slot(i))
			f.stack[i] = Location{Kind: InMemory}
		}
	}
}

// FlushAll stores every value to its slot, leaving the frame in the state every block start
// expects.
func (f *VirtualStackFrame) FlushAll() {
	for i, l := range f.stack {
		switch l.Kind {
		case InRegister:
			f.store.StoreRegister(l.Register, f.Slot(i))
		case Constant:
			f.store.StoreConstant(l, f.Slot(i))
		default:
			continue
		}
		f.stack[i] = Location{Kind: InMemory}
	}
}

// IsFlushed returns true if every value is in memory.
func (f *VirtualStackFrame) IsFlushed() bool {
	for _, l := range f.stack {
		if l.Kind != InMemory {
			return false
		}
	}
	return true
}

// Reset sets the frame to depth values in memory, the state at a block start.
func (f *VirtualStackFrame) Reset(depth int) {
	f.stack = f.stack[:0]
	for i := 0; i < depth; i++ {
		f.PushMemory()
	}
}

// String implements fmt.Stringer.
func (f *VirtualStackFrame) String() string {
	s := make([]string, len(f.stack))
	for i, l := range f.stack {
		s[i] = l.String()
	}
	return "[" + strings.Join(s, " ") + "]"
}
