package asm

import "github.com/stubjit/stubjit/internal/arch"

// Condition is an instruction set specific branch condition.
type Condition uint8

// InstructionKind classifies a decoded instruction for patching.
type InstructionKind byte

const (
	// InstructionOther is any instruction the assembler cannot patch.
	InstructionOther InstructionKind = iota
	// InstructionBranch is a pc-relative branch.
	InstructionBranch
	// InstructionMemoryAccess is a pc-relative literal load.
	InstructionMemoryAccess
)

// String implements fmt.Stringer.
func (k InstructionKind) String() string {
	switch k {
	case InstructionBranch:
		return "branch"
	case InstructionMemoryAccess:
		return "memory access"
	}
	return "other"
}

// Limits are the displacement constraints of an instruction set.
type Limits struct {
	// LiteralAlignment is the alignment of literal pool entries.
	LiteralAlignment int
	// LiteralSoftThreshold is the distance from the first unbound literal use after which pending
	// literals are written at the next natural break.
	LiteralSoftThreshold int
	// LiteralHardThreshold is the distance from the first unbound literal use after which pending
	// literals are written immediately, jumping around them.
	LiteralHardThreshold int
	// MaxUnboundLiterals is the number of literals that may be pending at once.
	MaxUnboundLiterals int
	// BranchLiteralThreshold is the distance from the first pending branch literal after which
	// trampolines are written. Zero if conditional branches have a long form.
	BranchLiteralThreshold int
	// MaxBranchLiterals is the number of branch literals that may be pending at once.
	MaxBranchLiterals int
}

// Encoding is the instruction set the assembler emits branches and literal loads for.
//
// Offsets are byte offsets from the start of the code. Methods taking code receive the whole code
// buffer and decode the instruction starting at at.
type Encoding interface {
	// Name returns the architecture name.
	Name() string
	// Always returns the condition of unconditional branches.
	Always() Condition
	// Invert returns the negation of a condition other than Always.
	Invert(c Condition) Condition
	// BranchSize returns the size of the short or long form of a branch, or zero if there is no
	// such form.
	BranchSize(c Condition, long bool) int
	// EncodeBranch appends a branch located at at to target. It returns false if target is out of
	// the range of the requested form.
	EncodeBranch(dst []byte, c Condition, long bool, at, target int) ([]byte, bool)
	// EncodeLiteralLoad appends a load of a literal into rd with a zero displacement.
	EncodeLiteralLoad(dst []byte, rd arch.Register) []byte
	// Classify decodes the kind of the instruction at at.
	Classify(code []byte, at int) InstructionKind
	// Target decodes the target of the branch or literal load at at.
	Target(code []byte, at int) (int, bool)
	// Patch rewrites the displacement of the branch or literal load at at to reach target. It
	// returns false if target is out of range.
	Patch(code []byte, at, target int) bool
	// Nop returns the filler used to align literal pools.
	Nop() []byte
	// Limits returns the displacement constraints.
	Limits() Limits
}
