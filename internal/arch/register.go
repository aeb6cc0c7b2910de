// Package arch describes the register files of the targets the compiler emits code for.
//
// A RegisterFile is constructed once per target and never mutated afterwards, so a single
// instance can be shared by any number of compilations.
package arch

import (
	"fmt"
	"strings"
)

// Register is the encoding number of a physical register in its target's instruction set.
type Register int8

// NoRegister is returned where a register is optional or unavailable.
const NoRegister Register = -1

// Class identifies a round-robin allocation order over a subset of the register file.
type Class byte

const (
	// ClassGeneral is the set of general purpose registers.
	ClassGeneral Class = iota
	// ClassByte is the set of registers whose low byte is addressable.
	ClassByte
	// ClassFloat is the set of floating point registers.
	ClassFloat
	// NumClasses is the number of register classes.
	NumClasses
)

// String implements fmt.Stringer.
func (c Class) String() string {
	switch c {
	case ClassGeneral:
		return "general"
	case ClassByte:
		return "byte"
	case ClassFloat:
		return "float"
	}
	return fmt.Sprintf("class(%d)", byte(c))
}

// RegisterInfo describes one entry of a RegisterFile.
type RegisterInfo struct {
	// Name is the assembler name of the register, e.g. "R3".
	Name string
	// AsmReg is the golang-asm register constant for this register, or zero when the file was
	// loaded from a description that has no assembler backing.
	AsmReg int16
}

// RegisterFile is the per-target allocation configuration.
type RegisterFile struct {
	// Name is the target name, e.g. "thumb".
	Name string
	// WordSize is the size in bytes of a machine word.
	WordSize int
	// StackLockSize is the size in bytes of a stack lock record, excluding the object word.
	StackLockSize int

	registers []RegisterInfo
	order     [NumClasses][]Register
	// next[class][r] is the successor of r in the round-robin order of class.
	next  [NumClasses][]Register
	bound Register
}

// NewRegisterFile constructs a register file from the register descriptions and the allocation
// order of each class. bound is the optional register reserved for repeated length-style values,
// NoRegister if the target has none.
func NewRegisterFile(name string, wordSize, stackLockSize int, regs []RegisterInfo, order [NumClasses][]Register, bound Register) (*RegisterFile, error) {
	if len(regs) == 0 || len(regs) > 64 {
		return nil, fmt.Errorf("%s: register file must hold between 1 and 64 registers but has %d", name, len(regs))
	}
	if len(order[ClassGeneral]) == 0 {
		return nil, fmt.Errorf("%s: no general purpose registers", name)
	}
	rf := &RegisterFile{
		Name:          name,
		WordSize:      wordSize,
		StackLockSize: stackLockSize,
		registers:     regs,
		bound:         bound,
	}
	for c := Class(0); c < NumClasses; c++ {
		seen := map[Register]struct{}{}
		next := make([]Register, len(regs))
		for i := range next {
			next[i] = NoRegister
		}
		o := order[c]
		for i, r := range o {
			if r < 0 || int(r) >= len(regs) {
				return nil, fmt.Errorf("%s: %s order refers to unknown register %d", name, c, r)
			}
			if _, ok := seen[r]; ok {
				return nil, fmt.Errorf("%s: %s order lists %s twice", name, c, regs[r].Name)
			}
			seen[r] = struct{}{}
			next[r] = o[(i+1)%len(o)]
		}
		rf.order[c] = append([]Register(nil), o...)
		rf.next[c] = next
	}
	if bound != NoRegister && (bound < 0 || int(bound) >= len(regs)) {
		return nil, fmt.Errorf("%s: bound register %d out of range", name, bound)
	}
	return rf, nil
}

// NumRegisters returns the number of registers in the file.
func (rf *RegisterFile) NumRegisters() int {
	return len(rf.registers)
}

// Order returns the round-robin allocation order of the class. The caller must not modify it.
func (rf *RegisterFile) Order(c Class) []Register {
	return rf.order[c]
}

// Next returns the successor of r in the round-robin order of the class, or NoRegister if r is
// not a member of the class.
func (rf *RegisterFile) Next(c Class, r Register) Register {
	return rf.next[c][r]
}

// Last returns the final register of the class order, which is where round-robin cursors start
// so that the first allocation yields the first register of the order.
func (rf *RegisterFile) Last(c Class) Register {
	o := rf.order[c]
	if len(o) == 0 {
		return NoRegister
	}
	return o[len(o)-1]
}

// BoundRegister returns the register reserved for repeated length-style values, or NoRegister.
func (rf *RegisterFile) BoundRegister() Register {
	return rf.bound
}

// Info returns the description of r.
func (rf *RegisterFile) Info(r Register) RegisterInfo {
	return rf.registers[r]
}

// RegisterName returns the assembler name of r.
func (rf *RegisterFile) RegisterName(r Register) string {
	if r == NoRegister {
		return "none"
	}
	if r < 0 || int(r) >= len(rf.registers) {
		return fmt.Sprintf("r?%d", r)
	}
	return rf.registers[r].Name
}

// Lookup returns the register named name, ignoring case.
func (rf *RegisterFile) Lookup(name string) (Register, bool) {
	for i, info := range rf.registers {
		if strings.EqualFold(info.Name, name) {
			return Register(i), true
		}
	}
	return NoRegister, false
}

// StackLockWords returns the number of words one stack lock occupies in a frame.
func (rf *RegisterFile) StackLockWords() int {
	return (rf.WordSize + rf.StackLockSize) / rf.WordSize
}
