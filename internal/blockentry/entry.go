// Package blockentry computes how many control flow edges enter each bytecode of a method, which
// tells the compiler where basic blocks start.
package blockentry

import (
	"fmt"

	"github.com/stubjit/stubjit/internal/bytecode"
)

// MaxEntryCount is the value at which entry counts saturate. Consumers only distinguish 0, 1 and
// more than 1.
const MaxEntryCount = 10

// Options selects the optional counters.
type Options struct {
	// StackLockWords is the number of words one stack lock takes in a frame.
	StackLockWords int
	// CountNullChecks enables NullCheckCandidates.
	CountNullChecks bool
}

// Result is the outcome of Compute.
type Result struct {
	// Counts holds one entry count per bci.
	Counts []byte
	// HasLoops is true if any branch goes backward, or to itself.
	HasLoops bool
	// NumLocks is the number of monitorenter instructions.
	NumLocks int
	// StackLockWords is NumLocks times Options.StackLockWords.
	StackLockWords int
	// NullCheckCandidates is twice the number of instructions that may throw a null pointer
	// exception, when Options.CountNullChecks is set.
	NullCheckCandidates int

	blockStarts []bool
}

// EntryCount returns the entry count at bci.
func (r *Result) EntryCount(bci int) int {
	return int(r.Counts[bci])
}

// IsBlockStart returns true if a basic block starts at bci: the method entry, a merge point, or
// an instruction that is not reached by falling through.
func (r *Result) IsBlockStart(bci int) bool {
	return r.blockStarts[bci]
}

func (r *Result) addEntry(bci int) {
	if r.Counts[bci] < MaxEntryCount {
		r.Counts[bci]++
	}
}

func (r *Result) addBranchEntry(from, to int) error {
	if to < 0 || to >= len(r.Counts) {
		return fmt.Errorf("%w at bci %d: branch target %d outside of code", bytecode.ErrMalformedBytecode, from, to)
	}
	r.addEntry(to)
	if to <= from {
		r.HasLoops = true
	}
	return nil
}

// Compute scans the code of m once and returns the entry count of every bci.
//
// Every instruction that can fall through adds an entry to the next instruction, and every
// branch or switch adds an entry to each of its targets. Bci 0 gets one extra entry and every
// exception handler gets two.
func Compute(m *bytecode.Method, opts Options) (*Result, error) {
	code := m.Code
	if len(code) == 0 {
		return nil, fmt.Errorf("%w: empty code", bytecode.ErrMalformedBytecode)
	}
	r := &Result{Counts: make([]byte, len(code)), blockStarts: make([]bool, len(code))}
	r.blockStarts[0] = true

	bci := 0
	for bci < len(code) {
		op := code[bci]
		n, err := bytecode.LengthAt(code, bci)
		if err != nil {
			return nil, err
		}
		next := bci + n
		if bytecode.CanFallThrough(op) {
			// Falling off the end of the code is dropped.
			if next < len(code) {
				r.addEntry(next)
			}
		} else if next < len(code) {
			r.blockStarts[next] = true
		}

		switch {
		case bytecode.IsBranch(op):
			if err := r.addBranchEntry(bci, bytecode.BranchTarget(code, bci)); err != nil {
				return nil, err
			}
		case op == bytecode.Tableswitch || op == bytecode.Lookupswitch:
			for _, target := range bytecode.SwitchTargets(code, bci) {
				if err := r.addBranchEntry(bci, target); err != nil {
					return nil, err
				}
			}
		case op == bytecode.Monitorenter:
			r.NumLocks++
		}
		if opts.CountNullChecks && bytecode.CanThrowNullPointer(op) {
			r.NullCheckCandidates += 2
		}
		bci = next
	}
	if bci != len(code) {
		panic(fmt.Sprintf("BUG: scan ended at %d, code length %d", bci, len(code)))
	}
	r.StackLockWords = r.NumLocks * opts.StackLockWords

	r.addEntry(0)
	for i, h := range m.ExceptionTable {
		if int(h.HandlerPC) >= len(code) {
			return nil, fmt.Errorf("%w: handler %d at %d outside of code", bytecode.ErrMalformedExceptionTable, i, h.HandlerPC)
		}
		// Handlers take two entries so that they always start a block.
		r.addEntry(int(h.HandlerPC))
		r.addEntry(int(h.HandlerPC))
	}

	for i, c := range r.Counts {
		if c >= 2 {
			r.blockStarts[i] = true
		}
	}
	return r, nil
}
