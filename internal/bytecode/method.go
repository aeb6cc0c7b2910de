package bytecode

import (
	"encoding/binary"
	"errors"
	"fmt"
)

var (
	// ErrMalformedBytecode is returned for code that cannot have passed verification.
	ErrMalformedBytecode = errors.New("malformed bytecode")
	// ErrMalformedExceptionTable is returned for an exception table that does not decode.
	ErrMalformedExceptionTable = errors.New("malformed exception table")
)

// ExceptionHandler is one entry of a method's exception table.
type ExceptionHandler struct {
	StartPC, EndPC, HandlerPC, CatchType uint16
}

// ExceptionTableFromShorts decodes the flat form of an exception table, four shorts per entry.
func ExceptionTableFromShorts(table []uint16) ([]ExceptionHandler, error) {
	if len(table)%4 != 0 {
		return nil, fmt.Errorf("%w: length %d is not a multiple of 4", ErrMalformedExceptionTable, len(table))
	}
	ret := make([]ExceptionHandler, 0, len(table)/4)
	for i := 0; i < len(table); i += 4 {
		ret = append(ret, ExceptionHandler{
			StartPC: table[i], EndPC: table[i+1], HandlerPC: table[i+2], CatchType: table[i+3],
		})
	}
	return ret, nil
}

// ConstantTag is the type of a constant pool entry.
type ConstantTag byte

const (
	ConstantInvalid ConstantTag = iota
	ConstantInt
	// ConstantString is an interned string object, referenced by address.
	ConstantString
)

// Constant is a resolved constant pool entry.
type Constant struct {
	Tag ConstantTag
	Int int32
	// Oop is the address of the object for ConstantString.
	Oop uint32
	// String is the value of a ConstantString, used for diagnostics.
	String string
}

// Method is the method under compilation. It is read-only while it is being compiled.
type Method struct {
	Name      string
	Code      []byte
	MaxLocals int
	MaxStack  int
	// ArgCount is the number of argument words, including the receiver.
	ArgCount       int
	ExceptionTable []ExceptionHandler
	ConstantPool   []Constant
}

// Constant returns the constant pool entry at index.
func (m *Method) Constant(index int) (Constant, error) {
	if index <= 0 || index >= len(m.ConstantPool) {
		return Constant{}, fmt.Errorf("%w: constant pool index %d out of range", ErrMalformedBytecode, index)
	}
	return m.ConstantPool[index], nil
}

// Validate checks the shape of the method, not its code.
func (m *Method) Validate() error {
	if len(m.Code) == 0 {
		return fmt.Errorf("%w: empty code", ErrMalformedBytecode)
	}
	if len(m.Code) > 0xffff {
		return fmt.Errorf("%w: code length %d exceeds 65535", ErrMalformedBytecode, len(m.Code))
	}
	if m.ArgCount > m.MaxLocals {
		return fmt.Errorf("%w: %d argument words but %d locals", ErrMalformedBytecode, m.ArgCount, m.MaxLocals)
	}
	for i, h := range m.ExceptionTable {
		if int(h.HandlerPC) >= len(m.Code) || h.StartPC > h.EndPC || int(h.EndPC) > len(m.Code) {
			return fmt.Errorf("%w: entry %d %+v outside of code", ErrMalformedExceptionTable, i, h)
		}
	}
	return nil
}

// S16 reads a signed big-endian 16-bit operand.
func S16(code []byte, off int) int {
	return int(int16(binary.BigEndian.Uint16(code[off:])))
}

// U16 reads an unsigned big-endian 16-bit operand.
func U16(code []byte, off int) int {
	return int(binary.BigEndian.Uint16(code[off:]))
}

// S32 reads a signed big-endian 32-bit operand.
func S32(code []byte, off int) int {
	return int(int32(binary.BigEndian.Uint32(code[off:])))
}

// SwitchTable returns the offset of the 4-byte aligned table of the switch at bci.
func SwitchTable(bci int) int {
	return (bci + 1 + 3) &^ 3
}

func malformed(bci int, format string, args ...interface{}) error {
	return fmt.Errorf("%w at bci %d: %s", ErrMalformedBytecode, bci, fmt.Sprintf(format, args...))
}

// LengthAt returns the length of the instruction at bci.
func LengthAt(code []byte, bci int) (int, error) {
	if bci < 0 || bci >= len(code) {
		return 0, malformed(bci, "outside of code of length %d", len(code))
	}
	op := code[bci]
	if !IsLegal(op) {
		return 0, malformed(bci, "illegal opcode 0x%02x", op)
	}
	n := int(lengths[op])
	switch op {
	case Wide:
		if bci+1 >= len(code) {
			return 0, malformed(bci, "truncated wide")
		}
		switch code[bci+1] {
		case Iinc:
			n = 6
		case Iload, Iload + 1, Iload + 2, Iload + 3, Aload, Istore, Istore + 1, Istore + 2, Istore + 3, Astore, Ret:
			n = 4
		default:
			return 0, malformed(bci, "wide %s", Name(code[bci+1]))
		}
	case Tableswitch:
		table := SwitchTable(bci)
		if table+12 > len(code) {
			return 0, malformed(bci, "truncated tableswitch")
		}
		low, high := S32(code, table+4), S32(code, table+8)
		if low > high || high-low >= len(code) {
			return 0, malformed(bci, "tableswitch bounds [%d, %d]", low, high)
		}
		n = table + 12 + 4*(high-low+1) - bci
	case Lookupswitch:
		table := SwitchTable(bci)
		if table+8 > len(code) {
			return 0, malformed(bci, "truncated lookupswitch")
		}
		npairs := S32(code, table+4)
		if npairs < 0 || npairs >= len(code) {
			return 0, malformed(bci, "lookupswitch with %d pairs", npairs)
		}
		n = table + 8 + 8*npairs - bci
	}
	if bci+n > len(code) {
		return 0, malformed(bci, "truncated %s", Name(op))
	}
	return n, nil
}

// BranchTarget returns the absolute target of the single-target branch at bci.
func BranchTarget(code []byte, bci int) int {
	if code[bci] == GotoW || code[bci] == JsrW {
		return bci + S32(code, bci+1)
	}
	return bci + S16(code, bci+1)
}

// LocalVariable returns the first local variable slot accessed by the instruction at bci and the
// number of slots it spans. ok is false for instructions that access no local variable. The
// instruction must have been checked with LengthAt.
func LocalVariable(code []byte, bci int) (index, width int, ok bool) {
	op := code[bci]
	switch {
	case op == Wide:
		op = code[bci+1]
		index = U16(code, bci+2)
	case op >= Iload && op <= Aload, op >= Istore && op <= Astore, op == Iinc, op == Ret:
		index = int(code[bci+1])
	case op >= Iload0 && op <= Aload0+3:
		index = int(op-Iload0) % 4
		op = Iload + (op-Iload0)/4
	case op >= Istore0 && op <= Astore0+3:
		index = int(op-Istore0) % 4
		op = Istore + (op-Istore0)/4
	default:
		return 0, 0, false
	}
	switch op {
	case Iload + 1, Iload + 3, Istore + 1, Istore + 3:
		// long and double
		return index, 2, true
	case Iload, Iload + 2, Aload, Istore, Istore + 2, Astore, Iinc, Ret:
		return index, 1, true
	}
	return 0, 0, false
}

// SwitchTargets returns the default target followed by every case target of the switch at bci.
// The instruction must have been checked with LengthAt.
func SwitchTargets(code []byte, bci int) []int {
	table := SwitchTable(bci)
	ret := []int{bci + S32(code, table)}
	switch code[bci] {
	case Tableswitch:
		n := S32(code, table+8) - S32(code, table+4) + 1
		for i := 0; i < n; i++ {
			ret = append(ret, bci+S32(code, table+12+4*i))
		}
	case Lookupswitch:
		n := S32(code, table+4)
		for i := 0; i < n; i++ {
			ret = append(ret, bci+S32(code, table+12+8*i))
		}
	}
	return ret
}

// Instruction is a decoded position in the code.
type Instruction struct {
	BCI    int
	Opcode Opcode
	Length int
}

// Instructions decodes the whole code, failing if the instructions do not end exactly at the end
// of the code.
func Instructions(code []byte) ([]Instruction, error) {
	var ret []Instruction
	bci := 0
	for bci < len(code) {
		n, err := LengthAt(code, bci)
		if err != nil {
			return nil, err
		}
		ret = append(ret, Instruction{BCI: bci, Opcode: code[bci], Length: n})
		bci += n
	}
	return ret, nil
}
