package arch

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// registerFileDescription is the YAML form of a custom register file.
type registerFileDescription struct {
	Name          string   `yaml:"name"`
	WordSize      int      `yaml:"word_size"`
	StackLockSize int      `yaml:"stack_lock_size"`
	Registers     []string `yaml:"registers"`
	General       []string `yaml:"general"`
	Byte          []string `yaml:"byte"`
	Float         []string `yaml:"float"`
	Bound         string   `yaml:"bound"`
}

// LoadRegisterFile parses a YAML register file description such as:
//
//	name: tiny
//	word_size: 4
//	registers: [r0, r1, r2, r3]
//	general: [r0, r1, r2]
//	bound: r3
func LoadRegisterFile(data []byte) (*RegisterFile, error) {
	var d registerFileDescription
	if err := yaml.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("invalid register file: %w", err)
	}
	if d.Name == "" {
		return nil, fmt.Errorf("invalid register file: missing name")
	}
	if d.WordSize == 0 {
		d.WordSize = 4
	}
	if d.StackLockSize == 0 {
		d.StackLockSize = 2 * d.WordSize
	}
	regs := make([]RegisterInfo, len(d.Registers))
	index := make(map[string]Register, len(d.Registers))
	for i, n := range d.Registers {
		if _, ok := index[n]; ok {
			return nil, fmt.Errorf("%s: register %s declared twice", d.Name, n)
		}
		regs[i] = RegisterInfo{Name: n}
		index[n] = Register(i)
	}
	resolve := func(names []string) ([]Register, error) {
		ret := make([]Register, len(names))
		for i, n := range names {
			r, ok := index[n]
			if !ok {
				return nil, fmt.Errorf("%s: undeclared register %s", d.Name, n)
			}
			ret[i] = r
		}
		return ret, nil
	}
	var order [NumClasses][]Register
	var err error
	if order[ClassGeneral], err = resolve(d.General); err != nil {
		return nil, err
	}
	if order[ClassByte], err = resolve(d.Byte); err != nil {
		return nil, err
	}
	if order[ClassFloat], err = resolve(d.Float); err != nil {
		return nil, err
	}
	bound := NoRegister
	if d.Bound != "" {
		r, ok := index[d.Bound]
		if !ok {
			return nil, fmt.Errorf("%s: undeclared bound register %s", d.Name, d.Bound)
		}
		bound = r
	}
	return NewRegisterFile(d.Name, d.WordSize, d.StackLockSize, regs, order, bound)
}
