package compiler

import (
	"github.com/stubjit/stubjit/internal/arch"
	"github.com/stubjit/stubjit/internal/asm"
	"github.com/stubjit/stubjit/internal/asm/thumb"
	"github.com/stubjit/stubjit/internal/bytecode"
	"github.com/stubjit/stubjit/internal/frame"
	"github.com/stubjit/stubjit/internal/regalloc"
)

var conditions = map[bytecode.Opcode]asm.Condition{
	bytecode.Ifeq: thumb.EQ, bytecode.Ifne: thumb.NE, bytecode.Iflt: thumb.LT,
	bytecode.Ifge: thumb.GE, bytecode.Ifgt: thumb.GT, bytecode.Ifle: thumb.LE,
	bytecode.IfIcmpeq: thumb.EQ, bytecode.IfIcmpne: thumb.NE, bytecode.IfIcmplt: thumb.LT,
	bytecode.IfIcmpge: thumb.GE, bytecode.IfIcmpgt: thumb.GT, bytecode.IfIcmple: thumb.LE,
	bytecode.IfAcmpeq: thumb.EQ, bytecode.IfAcmpne: thumb.NE,
	bytecode.Ifnull: thumb.EQ, bytecode.Ifnonnull: thumb.NE,
}

func localNotation(index int) regalloc.Notation {
	return regalloc.Notation{Kind: regalloc.NotationLocal, Index: index}
}

func (c *compiler) compileInstruction(in bytecode.Instruction) error {
	code, bci := c.m.Code, in.BCI
	switch op := in.Opcode; {
	case op == bytecode.Nop:
	case op == bytecode.AconstNull:
		c.frame.PushConstant(0, false)
	case op >= bytecode.IconstM1 && op <= bytecode.Iconst5:
		c.frame.PushConstant(int32(op)-int32(bytecode.Iconst0), false)
	case op == bytecode.Bipush:
		c.frame.PushConstant(int32(int8(code[bci+1])), false)
	case op == bytecode.Sipush:
		c.frame.PushConstant(int32(bytecode.S16(code, bci+1)), false)
	case op == bytecode.Ldc:
		return c.ldc(bci, int(code[bci+1]))
	case op == bytecode.LdcW:
		return c.ldc(bci, bytecode.U16(code, bci+1))
	case op == bytecode.Iload, op == bytecode.Aload:
		c.loadLocal(int(code[bci+1]))
	case op >= bytecode.Iload0 && op < bytecode.Iload0+4:
		c.loadLocal(int(op - bytecode.Iload0))
	case op >= bytecode.Aload0 && op < bytecode.Aload0+4:
		c.loadLocal(int(op - bytecode.Aload0))
	case op == bytecode.Istore, op == bytecode.Astore:
		c.storeLocal(int(code[bci+1]))
	case op >= bytecode.Istore0 && op < bytecode.Istore0+4:
		c.storeLocal(int(op - bytecode.Istore0))
	case op >= bytecode.Astore0 && op < bytecode.Astore0+4:
		c.storeLocal(int(op - bytecode.Astore0))
	case op == bytecode.Iinc:
		c.iinc(int(code[bci+1]), int(int8(code[bci+2])))
	case op == bytecode.Wide:
		c.wide(bci)
	case op == bytecode.Pop:
		c.frame.Pop()
	case op == bytecode.Dup:
		c.dup()
	case op == bytecode.Iadd, op == bytecode.Isub, op == bytecode.Imul:
		c.binary(op)
	case op == bytecode.Ineg:
		a := c.pop()
		rd := c.ra.Allocate()
		c.a.Emit16(thumb.NEGS(rd, a))
		c.ra.Dereference(a)
		c.push(rd)
	case op >= bytecode.Ifeq && op <= bytecode.Ifle, op == bytecode.Ifnull, op == bytecode.Ifnonnull:
		a := c.pop()
		c.frame.FlushAll()
		c.a.Emit16(thumb.CMPImm(a, 0))
		c.ra.Dereference(a)
		c.a.BranchIf(conditions[op], &c.labels[bytecode.BranchTarget(code, bci)])
	case op >= bytecode.IfIcmpeq && op <= bytecode.IfAcmpne:
		b := c.pop()
		a := c.pop()
		c.frame.FlushAll()
		c.a.Emit16(thumb.CMP(a, b))
		c.ra.Dereference(a)
		c.ra.Dereference(b)
		c.a.BranchIf(conditions[op], &c.labels[bytecode.BranchTarget(code, bci)])
	case op == bytecode.Goto, op == bytecode.GotoW:
		c.frame.FlushAll()
		c.a.Branch(&c.labels[bytecode.BranchTarget(code, bci)])
	case op == bytecode.Ireturn, op == bytecode.Areturn:
		r := c.pop()
		if r != 0 {
			c.a.Emit16(thumb.MOVS(0, r))
		}
		c.ra.Dereference(r)
		c.epilogue()
	case op == bytecode.Return:
		c.epilogue()
	default:
		return unsupported(bci, bytecode.Name(op))
	}
	return nil
}

// pop pops the top of the operand stack into a referenced register.
func (c *compiler) pop() arch.Register {
	l := c.frame.Pop()
	switch l.Kind {
	case frame.InRegister:
		c.ra.Reference(l.Register)
		return l.Register
	case frame.Constant:
		r := c.ra.Allocate()
		c.loadConstant(r, l)
		return r
	}
	r := c.ra.Allocate()
	c.a.Emit16(thumb.LDRSP(r, 4*c.frame.Slot(c.frame.Depth())))
	return r
}

// push pushes the referenced register r and drops the reference.
func (c *compiler) push(r arch.Register) {
	c.frame.PushRegister(r)
	c.ra.Dereference(r)
}

func (c *compiler) loadConstant(r arch.Register, l frame.Location) {
	v := l.Value
	switch {
	case l.Oop:
		c.a.LoadLiteral(r, uint32(v), true)
	case v >= 0 && v <= 0xFF:
		c.a.Emit16(thumb.MOVSImm(r, int(v)))
	case v < 0 && v >= -0xFF:
		c.a.Emit16(thumb.MOVSImm(r, int(-v)))
		c.a.Emit16(thumb.NEGS(r, r))
	default:
		c.a.LoadLiteral(r, uint32(v), false)
	}
}

func (c *compiler) ldc(bci, index int) error {
	k, err := c.m.Constant(index)
	if err != nil {
		return err
	}
	switch k.Tag {
	case bytecode.ConstantInt:
		c.frame.PushConstant(k.Int, false)
	case bytecode.ConstantString:
		c.frame.PushConstant(int32(k.Oop), true)
	default:
		return unsupported(bci, "ldc of an invalid constant")
	}
	return nil
}

func (c *compiler) loadLocal(index int) {
	if c.cfg.CSE {
		if r := c.ra.FindLocal(index); r != arch.NoRegister {
			c.frame.PushRegister(r)
			return
		}
	}
	r := c.ra.Allocate()
	c.a.Emit16(thumb.LDRSP(r, 4*index))
	c.ra.Notate(r, localNotation(index))
	c.push(r)
}

func (c *compiler) storeLocal(index int) {
	r := c.pop()
	c.a.Emit16(thumb.STRSP(r, 4*index))
	c.ra.KillLocals(index)
	c.ra.Notate(r, localNotation(index))
	c.ra.Dereference(r)
}

func (c *compiler) iinc(index, delta int) {
	r := c.ra.Allocate()
	c.a.Emit16(thumb.LDRSP(r, 4*index))
	switch {
	case delta >= 0 && delta <= 0xFF:
		c.a.Emit16(thumb.ADDSImm(r, delta))
	case delta < 0 && delta >= -0xFF:
		c.a.Emit16(thumb.SUBSImm(r, -delta))
	default:
		t := c.ra.Allocate()
		c.loadConstant(t, frame.Location{Kind: frame.Constant, Value: int32(delta)})
		c.a.Emit16(thumb.ADDS(r, r, t))
		c.ra.Dereference(t)
	}
	c.a.Emit16(thumb.STRSP(r, 4*index))
	c.ra.KillLocals(index)
	c.ra.Notate(r, localNotation(index))
	c.ra.Dereference(r)
}

func (c *compiler) wide(bci int) {
	code := c.m.Code
	index := bytecode.U16(code, bci+2)
	switch code[bci+1] {
	case bytecode.Iload, bytecode.Aload:
		c.loadLocal(index)
	case bytecode.Istore, bytecode.Astore:
		c.storeLocal(index)
	case bytecode.Iinc:
		c.iinc(index, bytecode.S16(code, bci+4))
	}
}

func (c *compiler) dup() {
	l := c.frame.Peek(0)
	switch l.Kind {
	case frame.InRegister:
		c.frame.PushRegister(l.Register)
	case frame.Constant:
		c.frame.PushConstant(l.Value, l.Oop)
	default:
		r := c.ra.Allocate()
		c.a.Emit16(thumb.LDRSP(r, 4*c.frame.Slot(c.frame.Depth()-1)))
		c.push(r)
	}
}

func (c *compiler) binary(op bytecode.Opcode) {
	b := c.pop()
	a := c.pop()
	rd := c.ra.Allocate()
	switch op {
	case bytecode.Iadd:
		c.a.Emit16(thumb.ADDS(rd, a, b))
	case bytecode.Isub:
		c.a.Emit16(thumb.SUBS(rd, a, b))
	case bytecode.Imul:
		c.a.Emit16(thumb.MOVS(rd, a))
		c.a.Emit16(thumb.MULS(rd, b))
	}
	c.ra.Dereference(a)
	c.ra.Dereference(b)
	c.push(rd)
}
