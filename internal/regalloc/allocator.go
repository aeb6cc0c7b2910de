// Package regalloc implements the round-robin register allocator used by the template compiler.
//
// The allocator only counts references. Which values live in which register is known by the
// compilation frame, which the allocator consults through Context when it looks for a free
// register and asks to spill when it runs out of them.
package regalloc

import (
	"fmt"

	"github.com/stubjit/stubjit/internal/arch"
	"github.com/stubjit/stubjit/internal/buildoptions"
	"github.com/stubjit/stubjit/internal/logging"
)

// Frame is the value-to-location mapping of the method being compiled.
type Frame interface {
	// IsMappingSomething returns true if a live value is held in r.
	IsMappingSomething(r arch.Register) bool
	// SpillRegister writes every value held in r to its memory location.
	SpillRegister(r arch.Register)
}

// LengthRegisterFreer is implemented by frames that cache a repeated array-length-style value in
// the bound register and can give it up.
type LengthRegisterFreer interface {
	// TryToFreeLengthRegister releases the bound register and returns it, or returns
	// arch.NoRegister if it is in use.
	TryToFreeLengthRegister() arch.Register
}

// Context holds the frames the allocator consults. ConformingFrame is the frame of a control flow
// join being compiled, if any.
type Context struct {
	Frame           Frame
	ConformingFrame Frame
}

// Config configures an Allocator.
type Config struct {
	// CSE enables notation tracking: free registers that mirror a known value are only handed out
	// when no other register is free.
	CSE bool
	// DebugChecks makes GuaranteeAllFree fatal.
	DebugChecks bool
	Logger      logging.Logger
}

// DefaultConfig returns the configuration used when none is given.
func DefaultConfig() Config {
	return Config{CSE: true, DebugChecks: buildoptions.IsDebugMode}
}

// Allocator hands out the registers of one register file for the duration of one compilation.
type Allocator struct {
	rf  *arch.RegisterFile
	ctx *Context
	cfg Config

	refs      []int
	notations []Notation

	nextAllocate [arch.NumClasses]arch.Register
	nextSpill    [arch.NumClasses]arch.Register
}

// New returns an allocator over rf with every register free.
func New(rf *arch.RegisterFile, ctx *Context, cfg Config) *Allocator {
	a := &Allocator{
		rf:        rf,
		ctx:       ctx,
		cfg:       cfg,
		refs:      make([]int, rf.NumRegisters()),
		notations: make([]Notation, rf.NumRegisters()),
	}
	for c := arch.Class(0); c < arch.NumClasses; c++ {
		a.nextAllocate[c] = rf.Last(c)
		a.nextSpill[c] = rf.Last(c)
	}
	return a
}

// RegisterFile returns the register file the allocator works on.
func (a *Allocator) RegisterFile() *arch.RegisterFile {
	return a.rf
}

// Context returns the frames the allocator consults.
func (a *Allocator) Context() *Context {
	return a.ctx
}

func (a *Allocator) name(r arch.Register) string {
	return a.rf.RegisterName(r)
}

func (a *Allocator) isMapping(r arch.Register) bool {
	if a.ctx == nil {
		return false
	}
	if a.ctx.Frame != nil && a.ctx.Frame.IsMappingSomething(r) {
		return true
	}
	return a.ctx.ConformingFrame != nil && a.ctx.ConformingFrame.IsMappingSomething(r)
}

func (a *Allocator) isFree(r arch.Register) bool {
	return a.refs[r] == 0 && !a.isMapping(r)
}

// Allocate returns a general purpose register, spilling one if none is free. Running out of
// registers entirely is a compiler bug and panics.
func (a *Allocator) Allocate() arch.Register {
	return a.allocate(arch.ClassGeneral)
}

// AllocateByte returns a register whose low byte is addressable.
func (a *Allocator) AllocateByte() arch.Register {
	return a.allocate(arch.ClassByte)
}

// AllocateFloat returns a floating point register.
func (a *Allocator) AllocateFloat() arch.Register {
	return a.allocate(arch.ClassFloat)
}

// AllocateOrFail returns a free general purpose register without spilling, or arch.NoRegister.
func (a *Allocator) AllocateOrFail() arch.Register {
	return a.allocateOrFail(arch.ClassGeneral)
}

func (a *Allocator) allocate(c arch.Class) arch.Register {
	r := a.allocateOrFail(c)
	if r == arch.NoRegister && c == arch.ClassGeneral && a.ctx != nil {
		if freer, ok := a.ctx.Frame.(LengthRegisterFreer); ok {
			r = freer.TryToFreeLengthRegister()
		}
	}
	if r == arch.NoRegister {
		r = a.spill(c)
	}
	if r == arch.NoRegister {
		panic(fmt.Sprintf("BUG: no %s register available: %s all referenced", c, a.Leaks().Format(a.rf)))
	}
	a.Reference(r)
	a.ClearNotation(r)
	a.cfg.Logger.Tracef(logging.LogScopeRegister, "allocate %s", a.name(r))
	return r
}

// allocateOrFail walks the round-robin order after the allocation cursor. With CSE, a free
// register holding a notated value is only returned if no other register is free.
func (a *Allocator) allocateOrFail(c arch.Class) arch.Register {
	start := a.nextAllocate[c]
	if start == arch.NoRegister {
		return arch.NoRegister
	}
	second := arch.NoRegister
	next := start
	for {
		next = a.rf.Next(c, next)
		if a.isFree(next) {
			if !a.cfg.CSE || !a.IsNotated(next) {
				a.nextAllocate[c] = next
				return next
			}
			if second == arch.NoRegister {
				second = next
			}
		}
		if next == start {
			break
		}
	}
	if second != arch.NoRegister {
		a.nextAllocate[c] = second
	}
	return second
}

// AllocateRegister allocates the specific register r, spilling whatever value it holds. r must not
// be referenced.
func (a *Allocator) AllocateRegister(r arch.Register) arch.Register {
	if a.refs[r] != 0 {
		panic(fmt.Sprintf("BUG: %s is already referenced", a.name(r)))
	}
	a.Reference(r)
	a.Spill(r)
	a.ClearNotation(r)
	a.cfg.Logger.Tracef(logging.LogScopeRegister, "allocate fixed %s", a.name(r))
	return r
}

// Spill asks the frame to write the values held in r to memory. The reference count of r is
// unchanged.
func (a *Allocator) Spill(r arch.Register) {
	if a.ctx == nil || a.ctx.Frame == nil || !a.ctx.Frame.IsMappingSomething(r) {
		return
	}
	a.cfg.Logger.Tracef(logging.LogScopeRegister, "spill %s", a.name(r))
	a.ctx.Frame.SpillRegister(r)
}

// spill walks the round-robin order after the spill cursor for an unreferenced register, spills
// it and returns it. Registers the conforming frame relies on are skipped. It returns
// arch.NoRegister if every register is referenced.
func (a *Allocator) spill(c arch.Class) arch.Register {
	start := a.nextSpill[c]
	if start == arch.NoRegister {
		return arch.NoRegister
	}
	next := start
	for {
		next = a.rf.Next(c, next)
		if a.refs[next] == 0 && !a.mappedByConforming(next) {
			a.nextSpill[c] = next
			a.Spill(next)
			return next
		}
		if next == start {
			return arch.NoRegister
		}
	}
}

func (a *Allocator) mappedByConforming(r arch.Register) bool {
	return a.ctx != nil && a.ctx.ConformingFrame != nil && a.ctx.ConformingFrame.IsMappingSomething(r)
}

// HasFree returns true if count registers of class c can be allocated at once, without spilling
// unless allowSpill is set. It changes nothing.
func (a *Allocator) HasFree(count int, c arch.Class, allowSpill bool) bool {
	n := 0
	for _, r := range a.rf.Order(c) {
		if a.refs[r] != 0 {
			continue
		}
		if allowSpill && !a.mappedByConforming(r) || a.isFree(r) {
			n++
		}
	}
	return n >= count
}

// Reference increments the reference count of r.
func (a *Allocator) Reference(r arch.Register) {
	a.refs[r]++
}

// Dereference decrements the reference count of r.
func (a *Allocator) Dereference(r arch.Register) {
	if a.refs[r] == 0 {
		panic(fmt.Sprintf("BUG: %s is not referenced", a.name(r)))
	}
	a.refs[r]--
}

// References returns the reference count of r.
func (a *Allocator) References(r arch.Register) int {
	return a.refs[r]
}

// IsReferenced returns true if r has a nonzero reference count.
func (a *Allocator) IsReferenced(r arch.Register) bool {
	return a.refs[r] != 0
}

// Leaks returns the referenced registers.
func (a *Allocator) Leaks() RegSet {
	var ret RegSet
	for r, n := range a.refs {
		if n != 0 {
			ret = ret.Add(arch.Register(r))
		}
	}
	return ret
}

// GuaranteeAllFree checks that no register is referenced, which must hold at the end of a method.
// A leak panics with debug checks enabled and is logged otherwise.
func (a *Allocator) GuaranteeAllFree() {
	leaks := a.Leaks()
	if leaks == 0 {
		return
	}
	if a.cfg.DebugChecks {
		panic("BUG: registers still referenced: " + leaks.Format(a.rf))
	}
	a.cfg.Logger.Warnf("registers still referenced: %s", leaks.Format(a.rf))
}
