// Package bytecode models the method under compilation: its instruction set, code, exception table
// and constant pool.
package bytecode

import "fmt"

// Opcode is a bytecode instruction.
type Opcode = byte

const (
	Nop             Opcode = 0x00
	AconstNull      Opcode = 0x01
	IconstM1        Opcode = 0x02
	Iconst0         Opcode = 0x03
	Iconst1         Opcode = 0x04
	Iconst2         Opcode = 0x05
	Iconst3         Opcode = 0x06
	Iconst4         Opcode = 0x07
	Iconst5         Opcode = 0x08
	Bipush          Opcode = 0x10
	Sipush          Opcode = 0x11
	Ldc             Opcode = 0x12
	LdcW            Opcode = 0x13
	Ldc2W           Opcode = 0x14
	Iload           Opcode = 0x15
	Aload           Opcode = 0x19
	Iload0          Opcode = 0x1a
	Aload0          Opcode = 0x2a
	Iaload          Opcode = 0x2e
	Saload          Opcode = 0x35
	Istore          Opcode = 0x36
	Astore          Opcode = 0x3a
	Istore0         Opcode = 0x3b
	Astore0         Opcode = 0x4b
	Iastore         Opcode = 0x4f
	Sastore         Opcode = 0x56
	Pop             Opcode = 0x57
	Pop2            Opcode = 0x58
	Dup             Opcode = 0x59
	Swap            Opcode = 0x5f
	Iadd            Opcode = 0x60
	Isub            Opcode = 0x64
	Imul            Opcode = 0x68
	Ineg            Opcode = 0x74
	Iinc            Opcode = 0x84
	Ifeq            Opcode = 0x99
	Ifne            Opcode = 0x9a
	Iflt            Opcode = 0x9b
	Ifge            Opcode = 0x9c
	Ifgt            Opcode = 0x9d
	Ifle            Opcode = 0x9e
	IfIcmpeq        Opcode = 0x9f
	IfIcmpne        Opcode = 0xa0
	IfIcmplt        Opcode = 0xa1
	IfIcmpge        Opcode = 0xa2
	IfIcmpgt        Opcode = 0xa3
	IfIcmple        Opcode = 0xa4
	IfAcmpeq        Opcode = 0xa5
	IfAcmpne        Opcode = 0xa6
	Goto            Opcode = 0xa7
	Jsr             Opcode = 0xa8
	Ret             Opcode = 0xa9
	Tableswitch     Opcode = 0xaa
	Lookupswitch    Opcode = 0xab
	Ireturn         Opcode = 0xac
	Lreturn         Opcode = 0xad
	Freturn         Opcode = 0xae
	Dreturn         Opcode = 0xaf
	Areturn         Opcode = 0xb0
	Return          Opcode = 0xb1
	Getstatic       Opcode = 0xb2
	Putstatic       Opcode = 0xb3
	Getfield        Opcode = 0xb4
	Putfield        Opcode = 0xb5
	Invokevirtual   Opcode = 0xb6
	Invokespecial   Opcode = 0xb7
	Invokestatic    Opcode = 0xb8
	Invokeinterface Opcode = 0xb9
	Invokedynamic   Opcode = 0xba
	New             Opcode = 0xbb
	Newarray        Opcode = 0xbc
	Anewarray       Opcode = 0xbd
	Arraylength     Opcode = 0xbe
	Athrow          Opcode = 0xbf
	Checkcast       Opcode = 0xc0
	Instanceof      Opcode = 0xc1
	Monitorenter    Opcode = 0xc2
	Monitorexit     Opcode = 0xc3
	Wide            Opcode = 0xc4
	Multianewarray  Opcode = 0xc5
	Ifnull          Opcode = 0xc6
	Ifnonnull       Opcode = 0xc7
	GotoW           Opcode = 0xc8
	JsrW            Opcode = 0xc9
	Breakpoint      Opcode = 0xca
)

// names is indexed by opcode. An empty name marks an illegal opcode.
var names = [256]string{
	"nop", "aconst_null", "iconst_m1", "iconst_0", "iconst_1", "iconst_2", "iconst_3", "iconst_4",
	"iconst_5", "lconst_0", "lconst_1", "fconst_0", "fconst_1", "fconst_2", "dconst_0", "dconst_1",
	"bipush", "sipush", "ldc", "ldc_w", "ldc2_w", "iload", "lload", "fload",
	"dload", "aload", "iload_0", "iload_1", "iload_2", "iload_3", "lload_0", "lload_1",
	"lload_2", "lload_3", "fload_0", "fload_1", "fload_2", "fload_3", "dload_0", "dload_1",
	"dload_2", "dload_3", "aload_0", "aload_1", "aload_2", "aload_3", "iaload", "laload",
	"faload", "daload", "aaload", "baload", "caload", "saload", "istore", "lstore",
	"fstore", "dstore", "astore", "istore_0", "istore_1", "istore_2", "istore_3", "lstore_0",
	"lstore_1", "lstore_2", "lstore_3", "fstore_0", "fstore_1", "fstore_2", "fstore_3", "dstore_0",
	"dstore_1", "dstore_2", "dstore_3", "astore_0", "astore_1", "astore_2", "astore_3", "iastore",
	"lastore", "fastore", "dastore", "aastore", "bastore", "castore", "sastore", "pop",
	"pop2", "dup", "dup_x1", "dup_x2", "dup2", "dup2_x1", "dup2_x2", "swap",
	"iadd", "ladd", "fadd", "dadd", "isub", "lsub", "fsub", "dsub",
	"imul", "lmul", "fmul", "dmul", "idiv", "ldiv", "fdiv", "ddiv",
	"irem", "lrem", "frem", "drem", "ineg", "lneg", "fneg", "dneg",
	"ishl", "lshl", "ishr", "lshr", "iushr", "lushr", "iand", "land",
	"ior", "lor", "ixor", "lxor", "iinc", "i2l", "i2f", "i2d",
	"l2i", "l2f", "l2d", "f2i", "f2l", "f2d", "d2i", "d2l",
	"d2f", "i2b", "i2c", "i2s", "lcmp", "fcmpl", "fcmpg", "dcmpl",
	"dcmpg", "ifeq", "ifne", "iflt", "ifge", "ifgt", "ifle", "if_icmpeq",
	"if_icmpne", "if_icmplt", "if_icmpge", "if_icmpgt", "if_icmple", "if_acmpeq", "if_acmpne", "goto",
	"jsr", "ret", "tableswitch", "lookupswitch", "ireturn", "lreturn", "freturn", "dreturn",
	"areturn", "return", "getstatic", "putstatic", "getfield", "putfield", "invokevirtual", "invokespecial",
	"invokestatic", "invokeinterface", "invokedynamic", "new", "newarray", "anewarray", "arraylength", "athrow",
	"checkcast", "instanceof", "monitorenter", "monitorexit", "wide", "multianewarray", "ifnull", "ifnonnull",
	"goto_w", "jsr_w", "breakpoint",
}

// lengths is indexed by opcode. Zero marks a variable length instruction or an illegal opcode.
var lengths [256]byte

func init() {
	for op := 0; op <= int(Breakpoint); op++ {
		lengths[op] = 1
	}
	for _, op := range []Opcode{Bipush, Ldc, Iload, Iload + 1, Iload + 2, Iload + 3, Aload,
		Istore, Istore + 1, Istore + 2, Istore + 3, Astore, Ret, Newarray} {
		lengths[op] = 2
	}
	for _, op := range []Opcode{Sipush, LdcW, Ldc2W, Iinc, Goto, Jsr, Getstatic, Putstatic, Getfield,
		Putfield, Invokevirtual, Invokespecial, Invokestatic, New, Anewarray, Checkcast, Instanceof,
		Ifnull, Ifnonnull} {
		lengths[op] = 3
	}
	for op := Ifeq; op <= IfAcmpne; op++ {
		lengths[op] = 3
	}
	lengths[Multianewarray] = 4
	for _, op := range []Opcode{Invokeinterface, Invokedynamic, GotoW, JsrW} {
		lengths[op] = 5
	}
	for _, op := range []Opcode{Tableswitch, Lookupswitch, Wide} {
		lengths[op] = 0
	}
}

// Name returns the mnemonic of op.
func Name(op Opcode) string {
	if n := names[op]; n != "" {
		return n
	}
	return fmt.Sprintf("illegal(0x%02x)", op)
}

// IsLegal returns true if op is a defined instruction.
func IsLegal(op Opcode) bool {
	return names[op] != ""
}

// Lookup returns the opcode of the mnemonic.
func Lookup(name string) (Opcode, bool) {
	for op, n := range names {
		if n != "" && n == name {
			return Opcode(op), true
		}
	}
	return 0, false
}

// IsBranch returns true for the instructions with a single explicit branch target.
func IsBranch(op Opcode) bool {
	return (op >= Ifeq && op <= Goto) || op == Ifnull || op == Ifnonnull || op == GotoW
}

// IsConditionalBranch returns true for the two-way branches.
func IsConditionalBranch(op Opcode) bool {
	return (op >= Ifeq && op <= IfAcmpne) || op == Ifnull || op == Ifnonnull
}

// IsReturn returns true for the return instructions.
func IsReturn(op Opcode) bool {
	return op >= Ireturn && op <= Return
}

// CanFallThrough returns false for the instructions after which control never reaches the next
// instruction: unconditional jumps, switches, returns and athrow. jsr, jsr_w and ret are treated
// the same, since subroutines are removed before compilation.
func CanFallThrough(op Opcode) bool {
	switch op {
	case Goto, GotoW, Jsr, JsrW, Ret, Tableswitch, Lookupswitch, Athrow:
		return false
	}
	return !IsReturn(op)
}

// CanThrowNullPointer returns true for the instructions that dereference an object operand.
func CanThrowNullPointer(op Opcode) bool {
	switch {
	case op >= Iaload && op <= Saload, op >= Iastore && op <= Sastore:
		return true
	}
	switch op {
	case Getfield, Putfield, Invokevirtual, Invokespecial, Invokeinterface, Arraylength, Athrow,
		Monitorenter, Monitorexit:
		return true
	}
	return false
}
