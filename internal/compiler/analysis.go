package compiler

import (
	"fmt"

	"github.com/stubjit/stubjit/internal/bytecode"
)

// stackEffect returns the change of the operand stack depth caused by the supported opcode op, and
// false for opcodes the compiler does not support.
func stackEffect(op bytecode.Opcode) (int, bool) {
	switch {
	case op == bytecode.Nop, op == bytecode.Iinc, op == bytecode.Goto, op == bytecode.GotoW,
		op == bytecode.Return, op == bytecode.Ineg:
		return 0, true
	case op >= bytecode.AconstNull && op <= bytecode.Iconst5, op >= bytecode.Bipush && op <= bytecode.LdcW,
		op == bytecode.Iload, op == bytecode.Aload,
		op >= bytecode.Iload0 && op < bytecode.Iload0+4, op >= bytecode.Aload0 && op < bytecode.Aload0+4,
		op == bytecode.Dup:
		return 1, true
	case op == bytecode.Istore, op == bytecode.Astore,
		op >= bytecode.Istore0 && op < bytecode.Istore0+4, op >= bytecode.Astore0 && op < bytecode.Astore0+4,
		op == bytecode.Pop, op >= bytecode.Ifeq && op <= bytecode.Ifle,
		op == bytecode.Ifnull, op == bytecode.Ifnonnull,
		op == bytecode.Iadd, op == bytecode.Isub, op == bytecode.Imul,
		op == bytecode.Ireturn, op == bytecode.Areturn:
		return -1, true
	case op >= bytecode.IfIcmpeq && op <= bytecode.IfAcmpne:
		return -2, true
	}
	return 0, false
}

// supportedWide returns true for the opcodes the compiler accepts after wide.
func supportedWide(op bytecode.Opcode) bool {
	switch op {
	case bytecode.Iload, bytecode.Aload, bytecode.Istore, bytecode.Astore, bytecode.Iinc:
		return true
	}
	return false
}

// analysis is the operand stack depth at every reachable instruction and the set of loop headers.
type analysis struct {
	depth      []int
	loopHeader []bool
}

// analyze computes the stack depth at every instruction by walking the control flow graph.
// Unreachable instructions keep depth -1.
func analyze(m *bytecode.Method, instrs []bytecode.Instruction) (*analysis, error) {
	code := m.Code
	index := make(map[int]int, len(instrs))
	for i, in := range instrs {
		index[in.BCI] = i
		if slot, width, ok := bytecode.LocalVariable(code, in.BCI); ok && slot+width > m.MaxLocals {
			return nil, fmt.Errorf("%w at bci %d: local %d outside of %d locals",
				bytecode.ErrMalformedBytecode, in.BCI, slot, m.MaxLocals)
		}
	}
	an := &analysis{depth: make([]int, len(code)), loopHeader: make([]bool, len(code))}
	for i := range an.depth {
		an.depth[i] = -1
	}

	var work []int
	reach := func(from, bci, depth int) error {
		if _, ok := index[bci]; !ok {
			return fmt.Errorf("%w at bci %d: target %d is not an instruction", bytecode.ErrMalformedBytecode, from, bci)
		}
		switch d := an.depth[bci]; {
		case d < 0:
			an.depth[bci] = depth
			work = append(work, bci)
		case d != depth:
			return fmt.Errorf("%w at bci %d: stack depth %d meets %d at bci %d",
				bytecode.ErrMalformedBytecode, from, depth, d, bci)
		}
		return nil
	}
	if err := reach(0, 0, 0); err != nil {
		return nil, err
	}
	for _, h := range m.ExceptionTable {
		if err := reach(int(h.StartPC), int(h.HandlerPC), 1); err != nil {
			return nil, err
		}
	}

	for len(work) > 0 {
		bci := work[len(work)-1]
		work = work[:len(work)-1]
		in := instrs[index[bci]]
		op := in.Opcode
		if op == bytecode.Wide {
			if !supportedWide(code[bci+1]) {
				return nil, unsupported(bci, "wide "+bytecode.Name(code[bci+1]))
			}
			op = code[bci+1]
		}
		effect, ok := stackEffect(op)
		if !ok {
			return nil, unsupported(bci, bytecode.Name(op))
		}
		depth := an.depth[bci] + effect
		if depth < 0 || depth > m.MaxStack {
			return nil, fmt.Errorf("%w at bci %d: stack depth %d outside of [0, %d]",
				bytecode.ErrMalformedBytecode, bci, depth, m.MaxStack)
		}
		if bytecode.IsBranch(op) {
			target := bytecode.BranchTarget(code, bci)
			if target <= bci {
				an.loopHeader[target] = true
			}
			if err := reach(bci, target, depth); err != nil {
				return nil, err
			}
		}
		if bytecode.CanFallThrough(op) {
			next := bci + in.Length
			if next >= len(code) {
				return nil, fmt.Errorf("%w at bci %d: falls off the end of the code", bytecode.ErrMalformedBytecode, bci)
			}
			if err := reach(bci, next, depth); err != nil {
				return nil, err
			}
		}
	}
	return an, nil
}
