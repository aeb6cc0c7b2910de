package bytecode

import (
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"
)

// Assemble translates the textual form of a method body into bytecode. Each line holds a label
// definition ("name:"), an instruction with its operands, or both. '#' starts a comment. Branch
// operands are either a label or a signed offset relative to the branch. Switches are written as
//
//	tableswitch <low> <default> <target>...
//	lookupswitch <default> <key>:<target>...
func Assemble(src string) ([]byte, error) {
	var insns []asmInsn
	labels := map[string]int{}
	bci := 0
	for i, line := range strings.Split(src, "\n") {
		if c := strings.IndexByte(line, '#'); c >= 0 {
			line = line[:c]
		}
		fields := strings.Fields(line)
		for len(fields) > 0 && strings.HasSuffix(fields[0], ":") {
			name := strings.TrimSuffix(fields[0], ":")
			if _, ok := labels[name]; ok {
				return nil, fmt.Errorf("line %d: label %s defined twice", i+1, name)
			}
			labels[name] = bci
			fields = fields[1:]
		}
		if len(fields) == 0 {
			continue
		}
		in := asmInsn{line: i + 1, bci: bci, args: fields[1:]}
		if fields[0] == "wide" {
			if len(fields) < 2 {
				return nil, fmt.Errorf("line %d: wide without instruction", in.line)
			}
			in.wide = true
			fields = fields[1:]
			in.args = fields[1:]
		}
		op, ok := Lookup(fields[0])
		if !ok {
			return nil, fmt.Errorf("line %d: unknown instruction %q", in.line, fields[0])
		}
		in.op = op
		n, err := in.size()
		if err != nil {
			return nil, err
		}
		insns = append(insns, in)
		bci += n
	}

	code := make([]byte, 0, bci)
	for _, in := range insns {
		var err error
		if code, err = in.emit(code, labels); err != nil {
			return nil, err
		}
	}
	return code, nil
}

// MustAssemble is like Assemble but panics on error. It is meant for tests and examples.
func MustAssemble(src string) []byte {
	code, err := Assemble(src)
	if err != nil {
		panic(err)
	}
	return code
}

type asmInsn struct {
	line int
	bci  int
	op   Opcode
	wide bool
	args []string
}

func (in *asmInsn) errorf(format string, args ...interface{}) error {
	return fmt.Errorf("line %d: %s: %s", in.line, Name(in.op), fmt.Sprintf(format, args...))
}

func (in *asmInsn) size() (int, error) {
	switch {
	case in.wide && in.op == Iinc:
		return 6, nil
	case in.wide:
		return 4, nil
	case in.op == Tableswitch:
		if len(in.args) < 3 {
			return 0, in.errorf("needs low, default and at least one target")
		}
		return SwitchTable(in.bci) + 12 + 4*(len(in.args)-2) - in.bci, nil
	case in.op == Lookupswitch:
		if len(in.args) < 1 {
			return 0, in.errorf("needs a default target")
		}
		return SwitchTable(in.bci) + 8 + 8*(len(in.args)-1) - in.bci, nil
	}
	return int(lengths[in.op]), nil
}

func (in *asmInsn) target(arg string, labels map[string]int) (int, error) {
	if bci, ok := labels[arg]; ok {
		return bci - in.bci, nil
	}
	v, err := strconv.ParseInt(arg, 0, 32)
	if err != nil {
		return 0, in.errorf("unknown label %s", arg)
	}
	return int(v), nil
}

func (in *asmInsn) ints(want int) ([]int, error) {
	if len(in.args) != want {
		return nil, in.errorf("expected %d operands but got %d", want, len(in.args))
	}
	ret := make([]int, want)
	for i, a := range in.args {
		v, err := strconv.ParseInt(a, 0, 32)
		if err != nil {
			return nil, in.errorf("invalid operand %s", a)
		}
		ret[i] = int(v)
	}
	return ret, nil
}

func checkRange(in *asmInsn, v, min, max int) error {
	if v < min || v > max {
		return in.errorf("operand %d out of range [%d, %d]", v, min, max)
	}
	return nil
}

func put16(code []byte, v int) []byte {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], uint16(v))
	return append(code, b[:]...)
}

func put32(code []byte, v int) []byte {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], uint32(v))
	return append(code, b[:]...)
}

func (in *asmInsn) emit(code []byte, labels map[string]int) ([]byte, error) {
	if in.wide {
		code = append(code, Wide, in.op)
		if in.op == Iinc {
			v, err := in.ints(2)
			if err != nil {
				return nil, err
			}
			return put16(put16(code, v[0]), v[1]), nil
		}
		v, err := in.ints(1)
		if err != nil {
			return nil, err
		}
		return put16(code, v[0]), nil
	}

	code = append(code, in.op)
	switch {
	case IsBranch(in.op) || in.op == Jsr || in.op == JsrW:
		if len(in.args) != 1 {
			return nil, in.errorf("expected a target")
		}
		off, err := in.target(in.args[0], labels)
		if err != nil {
			return nil, err
		}
		if in.op == GotoW || in.op == JsrW {
			return put32(code, off), nil
		}
		if err := checkRange(in, off, -0x8000, 0x7fff); err != nil {
			return nil, err
		}
		return put16(code, off), nil
	case in.op == Tableswitch || in.op == Lookupswitch:
		for len(code) < SwitchTable(in.bci) {
			code = append(code, 0)
		}
		return in.emitSwitch(code, labels)
	}

	var layout []int // operand widths, negative for signed
	switch in.op {
	case Bipush:
		layout = []int{-1}
	case Sipush:
		layout = []int{-2}
	case Iinc:
		layout = []int{1, -1}
	case Invokeinterface, Multianewarray:
		layout = []int{2, 1}
	case Invokedynamic:
		layout = []int{2}
	default:
		switch lengths[in.op] {
		case 1:
		case 2:
			layout = []int{1}
		case 3:
			layout = []int{2}
		}
	}
	v, err := in.ints(len(layout))
	if err != nil {
		return nil, err
	}
	for i, w := range layout {
		switch w {
		case 1:
			err = checkRange(in, v[i], 0, 0xff)
		case -1:
			err = checkRange(in, v[i], -0x80, 0x7f)
		case 2:
			err = checkRange(in, v[i], 0, 0xffff)
		case -2:
			err = checkRange(in, v[i], -0x8000, 0x7fff)
		}
		if err != nil {
			return nil, err
		}
		if w == 1 || w == -1 {
			code = append(code, byte(v[i]))
		} else {
			code = put16(code, v[i])
		}
	}
	switch in.op {
	case Invokeinterface:
		code = append(code, 0)
	case Invokedynamic:
		code = append(code, 0, 0)
	}
	return code, nil
}

func (in *asmInsn) emitSwitch(code []byte, labels map[string]int) ([]byte, error) {
	if in.op == Tableswitch {
		low, err := strconv.ParseInt(in.args[0], 0, 32)
		if err != nil {
			return nil, in.errorf("invalid low %s", in.args[0])
		}
		def, err := in.target(in.args[1], labels)
		if err != nil {
			return nil, err
		}
		targets := in.args[2:]
		code = put32(put32(put32(code, def), int(low)), int(low)+len(targets)-1)
		for _, a := range targets {
			off, err := in.target(a, labels)
			if err != nil {
				return nil, err
			}
			code = put32(code, off)
		}
		return code, nil
	}
	def, err := in.target(in.args[0], labels)
	if err != nil {
		return nil, err
	}
	pairs := in.args[1:]
	code = put32(put32(code, def), len(pairs))
	for _, p := range pairs {
		i := strings.IndexByte(p, ':')
		if i < 0 {
			return nil, in.errorf("pair %s is not key:target", p)
		}
		key, err := strconv.ParseInt(p[:i], 0, 32)
		if err != nil {
			return nil, in.errorf("invalid key %s", p[:i])
		}
		off, err := in.target(p[i+1:], labels)
		if err != nil {
			return nil, err
		}
		code = put32(put32(code, int(key)), off)
	}
	return code, nil
}
