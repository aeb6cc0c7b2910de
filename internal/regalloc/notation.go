package regalloc

import "github.com/stubjit/stubjit/internal/arch"

// NotationKind is the kind of value a register is known to mirror.
type NotationKind uint8

const (
	NotationNone NotationKind = iota
	// NotationLocal mirrors the local variable Index.
	NotationLocal
	// NotationConstant mirrors the constant pool entry Index.
	NotationConstant
	// NotationArrayElement mirrors an element of an array of type Index.
	NotationArrayElement
)

// Notation records the value a register mirrors. A notation stays valid until a kill call for the
// location it depends on.
type Notation struct {
	Kind  NotationKind
	Index int
}

// Notate records that r holds n.
func (a *Allocator) Notate(r arch.Register, n Notation) {
	if !a.cfg.CSE {
		return
	}
	a.notations[r] = n
}

// ClearNotation forgets the value r mirrors.
func (a *Allocator) ClearNotation(r arch.Register) {
	a.notations[r] = Notation{}
}

// NotationOf returns the notation of r.
func (a *Allocator) NotationOf(r arch.Register) Notation {
	return a.notations[r]
}

// IsNotated returns true if r mirrors a known value.
func (a *Allocator) IsNotated(r arch.Register) bool {
	return a.notations[r].Kind != NotationNone
}

// FindNotated returns a register that mirrors n, or arch.NoRegister.
func (a *Allocator) FindNotated(n Notation) arch.Register {
	if n.Kind == NotationNone {
		return arch.NoRegister
	}
	for r, cur := range a.notations {
		if cur == n {
			return arch.Register(r)
		}
	}
	return arch.NoRegister
}

func (a *Allocator) kill(match func(Notation) bool) {
	for r, n := range a.notations {
		if n.Kind != NotationNone && match(n) {
			a.notations[r] = Notation{}
		}
	}
}

// KillLocals invalidates the registers mirroring local index, which is about to be written.
func (a *Allocator) KillLocals(index int) {
	a.kill(func(n Notation) bool { return n.Kind == NotationLocal && n.Index == index })
}

// KillConstant invalidates the registers mirroring constant pool entry index.
func (a *Allocator) KillConstant(index int) {
	a.kill(func(n Notation) bool { return n.Kind == NotationConstant && n.Index == index })
}

// KillArrayType invalidates the registers mirroring elements of the array types in mask, where
// bit i stands for array type i.
func (a *Allocator) KillArrayType(mask uint32) {
	a.kill(func(n Notation) bool {
		return n.Kind == NotationArrayElement && n.Index < 32 && mask&(1<<uint(n.Index)) != 0
	})
}

// KillAll invalidates every notation, e.g. at a call.
func (a *Allocator) KillAll() {
	a.kill(func(Notation) bool { return true })
}

// FindLocal returns an unreferenced register that mirrors local index and that the frame does not
// map, or arch.NoRegister.
func (a *Allocator) FindLocal(index int) arch.Register {
	r := a.FindNotated(Notation{Kind: NotationLocal, Index: index})
	if r == arch.NoRegister || a.refs[r] != 0 || a.isMapping(r) {
		return arch.NoRegister
	}
	return r
}
