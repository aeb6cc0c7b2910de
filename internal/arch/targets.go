package arch

import (
	"fmt"

	"github.com/twitchyliquid64/golang-asm/obj"
	"github.com/twitchyliquid64/golang-asm/obj/arm"
	"github.com/twitchyliquid64/golang-asm/obj/arm64"
	"github.com/twitchyliquid64/golang-asm/obj/x86"
)

// Target names understood by ForName.
const (
	Thumb = "thumb"
	ARM64 = "arm64"
	AMD64 = "amd64"
)

var (
	thumbFile = mustRegisterFile(newThumb())
	arm64File = mustRegisterFile(newARM64())
	amd64File = mustRegisterFile(newAMD64())
)

// ForName returns the built-in register file of the named target.
func ForName(name string) (*RegisterFile, error) {
	switch name {
	case Thumb:
		return thumbFile, nil
	case ARM64:
		return arm64File, nil
	case AMD64:
		return amd64File, nil
	}
	return nil, fmt.Errorf("unknown architecture %q", name)
}

// Names lists the built-in targets.
func Names() []string {
	return []string{Thumb, ARM64, AMD64}
}

func mustRegisterFile(rf *RegisterFile, err error) *RegisterFile {
	if err != nil {
		panic("BUG: " + err.Error())
	}
	return rf
}

// asmRegisters returns n register descriptions backed by consecutive golang-asm constants.
func asmRegisters(base, n int) []RegisterInfo {
	ret := make([]RegisterInfo, n)
	for i := range ret {
		reg := base + i
		ret[i] = RegisterInfo{Name: obj.Rconv(reg), AsmReg: int16(reg)}
	}
	return ret
}

func span(from, to Register) []Register {
	ret := make([]Register, 0, to-from+1)
	for r := from; r <= to; r++ {
		ret = append(ret, r)
	}
	return ret
}

// newThumb describes the 16-bit Thumb instruction set, where data processing instructions only
// address the low registers r0-r7.
func newThumb() (*RegisterFile, error) {
	regs := asmRegisters(arm.REG_R0, 16)
	low := span(0, 7)
	return NewRegisterFile(Thumb, 4, 8, regs, [NumClasses][]Register{
		ClassGeneral: low,
		ClassByte:    low,
	}, NoRegister)
}

// newARM64 places R0-R30 at indexes 0-30 and F0-F31 at indexes 31-62. R19 is the bound register.
func newARM64() (*RegisterFile, error) {
	regs := append(asmRegisters(arm64.REG_R0, 31), asmRegisters(arm64.REG_F0, 32)...)
	general := span(0, 15)
	return NewRegisterFile(ARM64, 8, 8, regs, [NumClasses][]Register{
		ClassGeneral: general,
		ClassByte:    general,
		ClassFloat:   span(31, 31+15),
	}, 19)
}

// newAMD64 places AX-R15 at their encoding numbers and X0-X15 at indexes 16-31.
func newAMD64() (*RegisterFile, error) {
	regs := append(asmRegisters(x86.REG_AX, 16), asmRegisters(x86.REG_X0, 16)...)
	// SP and BP hold the frame, R12-R15 are kept for the runtime.
	general := []Register{0, 1, 2, 3, 6, 7, 8, 9, 10, 11}
	return NewRegisterFile(AMD64, 8, 8, regs, [NumClasses][]Register{
		ClassGeneral: general,
		ClassByte:    {0, 1, 2, 3},
		ClassFloat:   span(16, 31),
	}, NoRegister)
}
