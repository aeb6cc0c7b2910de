package asm

import (
	"fmt"

	"github.com/stubjit/stubjit/internal/logging"
)

// LabelState is the life cycle of a Label. A label goes from Unused to Unbound when the first
// instruction refers to it and to Bound when its position is fixed. Binding is final.
type LabelState byte

const (
	LabelUnused LabelState = iota
	LabelUnbound
	LabelBound
)

// String implements fmt.Stringer.
func (s LabelState) String() string {
	switch s {
	case LabelUnused:
		return "unused"
	case LabelUnbound:
		return "unbound"
	case LabelBound:
		return "bound"
	}
	return fmt.Sprintf("state(%d)", byte(s))
}

type patchKind byte

const (
	patchBranch patchKind = iota
	patchLiteral
)

func (k patchKind) instructionKind() InstructionKind {
	if k == patchLiteral {
		return InstructionMemoryAccess
	}
	return InstructionBranch
}

// patchSite is an instruction waiting for a label to be bound.
type patchSite struct {
	offset int
	kind   patchKind
}

// Label is a code position that instructions can refer to before it is known.
//
// The zero value is an unused label.
type Label struct {
	state    LabelState
	position int
	sites    []patchSite
}

// State returns the state of the label.
func (l *Label) State() LabelState {
	return l.state
}

// IsBound returns true if the position of the label is fixed.
func (l *Label) IsBound() bool {
	return l.state == LabelBound
}

// Position returns the offset the label is bound to.
func (l *Label) Position() int {
	if l.state != LabelBound {
		panic("BUG: position of " + l.state.String() + " label")
	}
	return l.position
}

// NumUnresolved returns the number of instructions waiting for the label.
func (l *Label) NumUnresolved() int {
	return len(l.sites)
}

func (l *Label) linkTo(offset int, kind patchKind) {
	if l.state == LabelBound {
		panic("BUG: link to bound label")
	}
	l.state = LabelUnbound
	l.sites = append(l.sites, patchSite{offset: offset, kind: kind})
}

// Bind binds l to the current code offset.
func (a *Assembler) Bind(l *Label) {
	a.BindTo(l, a.codeOffset)
}

// BindTo binds l to offset and patches every instruction that refers to it.
func (a *Assembler) BindTo(l *Label, offset int) {
	if l.state == LabelBound {
		panic(fmt.Sprintf("BUG: label already bound to %d", l.position))
	}
	a.logger.Tracef(logging.LogScopeBind, "bind %d, %d sites", offset, len(l.sites))
	for _, s := range l.sites {
		a.patch(s, offset)
	}
	l.state = LabelBound
	l.position = offset
	l.sites = nil
	a.resolveBranchLiterals(l)
}

func (a *Assembler) patch(s patchSite, target int) {
	if a.overflowed {
		// The site may never have been written.
		return
	}
	code := a.cm.Bytes()
	if got, want := a.enc.Classify(code, s.offset), s.kind.instructionKind(); got != want {
		panic(fmt.Sprintf("BUG: %s instruction at %d linked as %s", got, s.offset, want))
	}
	if !a.enc.Patch(code, s.offset, target) {
		panic(fmt.Sprintf("BUG: %s at %d cannot reach %d", s.kind.instructionKind(), s.offset, target))
	}
}

// Branch emits an unconditional branch to l.
func (a *Assembler) Branch(l *Label) {
	a.branchHelper(l, a.enc.Always())
}

// BranchIf emits a branch to l taken when c holds.
func (a *Assembler) BranchIf(c Condition, l *Label) {
	a.branchHelper(l, c)
}

func (a *Assembler) branchHelper(l *Label, c Condition) {
	at := a.codeOffset
	if l.IsBound() {
		a.branchTo(c, at, l.position)
		return
	}
	if a.enc.BranchSize(c, true) == 0 {
		// The short form may not reach: go through a trampoline.
		a.branchLiteral(c, l)
		return
	}
	b, _ := a.enc.EncodeBranch(a.scratch[:0], c, true, at, at)
	l.linkTo(at, patchBranch)
	a.emit(b)
}

// branchTo emits a branch at at to the known position target.
func (a *Assembler) branchTo(c Condition, at, target int) {
	if b, ok := a.enc.EncodeBranch(a.scratch[:0], c, false, at, target); ok {
		a.emit(b)
		return
	}
	if a.enc.BranchSize(c, true) != 0 {
		b, ok := a.enc.EncodeBranch(a.scratch[:0], c, true, at, target)
		if !ok {
			panic(fmt.Sprintf("BUG: branch at %d cannot reach %d", at, target))
		}
		a.emit(b)
		return
	}
	// Skip over a long unconditional branch when c does not hold.
	always := a.enc.Always()
	skip := at + a.enc.BranchSize(c, false) + a.enc.BranchSize(always, true)
	b, _ := a.enc.EncodeBranch(a.scratch[:0], a.enc.Invert(c), false, at, skip)
	a.emit(b)
	b, ok := a.enc.EncodeBranch(a.scratch[:0], always, true, a.codeOffset, target)
	if !ok {
		panic(fmt.Sprintf("BUG: branch at %d cannot reach %d", a.codeOffset, target))
	}
	a.emit(b)
}
