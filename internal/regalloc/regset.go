package regalloc

import (
	"strings"

	"github.com/stubjit/stubjit/internal/arch"
)

// RegSet is a set of registers of one register file.
type RegSet uint64

// NewRegSet returns a new RegSet with the given registers.
func NewRegSet(regs ...arch.Register) RegSet {
	var ret RegSet
	for _, r := range regs {
		ret = ret.Add(r)
	}
	return ret
}

// Has returns true if r is in the set.
func (rs RegSet) Has(r arch.Register) bool {
	return r >= 0 && rs&(1<<uint(r)) != 0
}

// Add returns the set with r added.
func (rs RegSet) Add(r arch.Register) RegSet {
	if r < 0 || r >= 64 {
		return rs
	}
	return rs | 1<<uint(r)
}

// Range calls f for each register of the set in ascending order.
func (rs RegSet) Range(f func(r arch.Register)) {
	for i := 0; i < 64; i++ {
		if rs&(1<<uint(i)) != 0 {
			f(arch.Register(i))
		}
	}
}

// Format returns the register names of the set.
func (rs RegSet) Format(rf *arch.RegisterFile) string {
	var ret []string
	rs.Range(func(r arch.Register) {
		ret = append(ret, rf.RegisterName(r))
	})
	return strings.Join(ret, ", ")
}
