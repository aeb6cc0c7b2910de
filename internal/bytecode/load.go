package bytecode

import (
	"encoding/hex"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

type methodDescription struct {
	Name           string `yaml:"name"`
	MaxLocals      int    `yaml:"max_locals"`
	MaxStack       int    `yaml:"max_stack"`
	Args           int    `yaml:"args"`
	Code           string `yaml:"code"`
	CodeHex        string `yaml:"code_hex"`
	ExceptionTable []struct {
		Start     uint16 `yaml:"start"`
		End       uint16 `yaml:"end"`
		Handler   uint16 `yaml:"handler"`
		CatchType uint16 `yaml:"catch_type"`
	} `yaml:"exception_table"`
	Constants []struct {
		Int    *int32  `yaml:"int"`
		String *string `yaml:"string"`
		Oop    uint32  `yaml:"oop"`
	} `yaml:"constants"`
}

// LoadMethod parses a YAML method description. The body is given either as assembler text in
// "code" or as hexadecimal bytes in "code_hex". Constants are numbered from 1.
//
//	name: answer
//	max_locals: 1
//	max_stack: 1
//	code: |
//	  ldc 1
//	  ireturn
//	constants:
//	  - int: 42
func LoadMethod(data []byte) (*Method, error) {
	var d methodDescription
	if err := yaml.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("invalid method description: %w", err)
	}
	m := &Method{
		Name:      d.Name,
		MaxLocals: d.MaxLocals,
		MaxStack:  d.MaxStack,
		ArgCount:  d.Args,
	}
	switch {
	case d.Code != "" && d.CodeHex != "":
		return nil, fmt.Errorf("%s: both code and code_hex are set", d.Name)
	case d.Code != "":
		code, err := Assemble(d.Code)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", d.Name, err)
		}
		m.Code = code
	default:
		code, err := hex.DecodeString(strings.Join(strings.Fields(d.CodeHex), ""))
		if err != nil {
			return nil, fmt.Errorf("%s: invalid code_hex: %w", d.Name, err)
		}
		m.Code = code
	}
	for _, h := range d.ExceptionTable {
		m.ExceptionTable = append(m.ExceptionTable, ExceptionHandler{
			StartPC: h.Start, EndPC: h.End, HandlerPC: h.Handler, CatchType: h.CatchType,
		})
	}
	m.ConstantPool = make([]Constant, 1, len(d.Constants)+1)
	for i, c := range d.Constants {
		switch {
		case c.Int != nil && c.String == nil:
			m.ConstantPool = append(m.ConstantPool, Constant{Tag: ConstantInt, Int: *c.Int})
		case c.String != nil && c.Int == nil:
			m.ConstantPool = append(m.ConstantPool, Constant{Tag: ConstantString, String: *c.String, Oop: c.Oop})
		default:
			return nil, fmt.Errorf("%s: constant %d must have exactly one of int or string", d.Name, i+1)
		}
	}
	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", d.Name, err)
	}
	return m, nil
}
