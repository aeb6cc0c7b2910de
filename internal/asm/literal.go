package asm

import (
	"github.com/stubjit/stubjit/internal/arch"
	"github.com/stubjit/stubjit/internal/logging"
)

// Literal is a word of data placed in a literal pool and loaded pc-relative.
type Literal struct {
	label Label
	value uint32
	oop   bool
}

// Value returns the data of the literal.
func (l *Literal) Value() uint32 {
	return l.value
}

// IsOop returns true if the literal holds an object reference.
func (l *Literal) IsOop() bool {
	return l.oop
}

// Label returns the position of the literal.
func (l *Literal) Label() *Label {
	return &l.label
}

// branchLiteral is a conditional branch too short to reach its target. It branches to a nearby
// trampoline holding a long unconditional branch to target instead.
type branchLiteral struct {
	target     *Label
	trampoline Label
	offset     int
}

// FindLiteral returns the pending literal holding value, adding one if there is none. If the pool
// is full it is written out first.
func (a *Assembler) FindLiteral(value uint32, oop bool) *Literal {
	for _, l := range a.literals {
		if l.value == value && l.oop == oop {
			return l
		}
	}
	if len(a.literals) >= a.lim.MaxUnboundLiterals {
		a.writeLiteralsAround()
	}
	l := &Literal{value: value, oop: oop}
	a.literals = append(a.literals, l)
	return l
}

// LoadLiteral emits a load of value into rd from the literal pool.
func (a *Assembler) LoadLiteral(rd arch.Register, value uint32, oop bool) *Literal {
	l := a.FindLiteral(value, oop)
	at := a.codeOffset
	if a.firstLiteralUse < 0 {
		a.firstLiteralUse = at
	}
	l.label.linkTo(at, patchLiteral)
	a.emit(a.enc.EncodeLiteralLoad(a.scratch[:0], rd))
	return l
}

// NumPendingLiterals returns the number of literals not written yet.
func (a *Assembler) NumPendingLiterals() int {
	return len(a.literals)
}

// NumPendingBranchLiterals returns the number of trampolines not written yet.
func (a *Assembler) NumPendingBranchLiterals() int {
	return len(a.branchLiterals)
}

func (a *Assembler) literalDistance() int {
	if a.firstLiteralUse < 0 {
		return 0
	}
	return a.codeOffset - a.firstLiteralUse + 4*len(a.literals) + a.lim.LiteralAlignment
}

func (a *Assembler) branchLiteralDistance() int {
	if a.firstBranchLiteral < 0 {
		return 0
	}
	return a.codeOffset - a.firstBranchLiteral
}

// WriteLiterals writes the pending literals if force is set or they have been pending for long.
// It must only be called where execution cannot fall through, e.g. after a return.
func (a *Assembler) WriteLiterals(force bool) {
	if force || a.literalDistance() >= a.lim.LiteralSoftThreshold ||
		a.firstBranchLiteral >= 0 && a.branchLiteralDistance() >= a.lim.BranchLiteralThreshold/2 {
		a.writePool()
	}
}

// WriteLiteralsIfDesperate writes the pending literals behind a branch if one of them is about to
// get out of reach.
func (a *Assembler) WriteLiteralsIfDesperate() {
	if len(a.literals) > 0 && a.literalDistance() >= a.lim.LiteralHardThreshold ||
		len(a.branchLiterals) > 0 && (len(a.branchLiterals) >= a.lim.MaxBranchLiterals ||
			a.branchLiteralDistance() >= a.lim.BranchLiteralThreshold) {
		a.writeLiteralsAround()
	}
}

func (a *Assembler) writeLiteralsAround() {
	var skip Label
	a.Branch(&skip)
	a.writePool()
	a.Bind(&skip)
}

func (a *Assembler) writePool() {
	pending := a.branchLiterals
	a.branchLiterals, a.firstBranchLiteral = nil, -1
	for _, bl := range pending {
		a.logger.Tracef(logging.LogScopeLiteral, "trampoline for branch at %d", bl.offset)
		a.Bind(&bl.trampoline)
		a.Branch(bl.target)
	}

	if len(a.literals) == 0 {
		return
	}
	literals := a.literals
	a.literals, a.firstLiteralUse = nil, -1
	a.Align(a.lim.LiteralAlignment)
	a.logger.Tracef(logging.LogScopeLiteral, "literal pool of %d at %d", len(literals), a.codeOffset)
	for _, l := range literals {
		if l.oop {
			a.EmitOop()
		}
		a.Bind(&l.label)
		a.Emit32(l.value)
	}
}

func (a *Assembler) branchLiteral(c Condition, target *Label) {
	if len(a.branchLiterals) >= a.lim.MaxBranchLiterals {
		a.writeLiteralsAround()
	}
	at := a.codeOffset
	bl := &branchLiteral{target: target, offset: at}
	b, _ := a.enc.EncodeBranch(a.scratch[:0], c, false, at, at)
	bl.trampoline.linkTo(at, patchBranch)
	a.emit(b)
	a.branchLiterals = append(a.branchLiterals, bl)
	if a.firstBranchLiteral < 0 {
		a.firstBranchLiteral = at
	}
}

// resolveBranchLiterals points the pending branch literals targeting the just bound l directly at
// it when they reach.
func (a *Assembler) resolveBranchLiterals(l *Label) {
	if len(a.branchLiterals) == 0 {
		return
	}
	kept := a.branchLiterals[:0]
	for _, bl := range a.branchLiterals {
		if bl.target == l && a.patchDirect(bl, l.position) {
			a.logger.Tracef(logging.LogScopeBind, "branch at %d reaches %d directly", bl.offset, l.position)
			continue
		}
		kept = append(kept, bl)
	}
	a.branchLiterals = kept
	a.firstBranchLiteral = -1
	for _, bl := range kept {
		if a.firstBranchLiteral < 0 || bl.offset < a.firstBranchLiteral {
			a.firstBranchLiteral = bl.offset
		}
	}
}

func (a *Assembler) patchDirect(bl *branchLiteral, target int) bool {
	if a.overflowed {
		return true
	}
	for _, s := range bl.trampoline.sites {
		if !a.enc.Patch(a.cm.Bytes(), s.offset, target) {
			return false
		}
	}
	return true
}
