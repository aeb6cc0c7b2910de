package asm_test

import (
	"encoding/binary"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/stubjit/stubjit/internal/asm"
	"github.com/stubjit/stubjit/internal/asm/amd64"
	"github.com/stubjit/stubjit/internal/asm/thumb"
	"github.com/stubjit/stubjit/internal/codebuf"
	"github.com/stubjit/stubjit/internal/relocation"
)

func newThumb(size, maxSize int) (*asm.Assembler, *codebuf.CompiledMethod) {
	cm := codebuf.New(size, maxSize)
	return asm.New(cm, thumb.Encoding{}, asm.Config{}), cm
}

func requireTarget(t *testing.T, a *asm.Assembler, at, exp int) {
	target, ok := a.Encoding().Target(a.Code(), at)
	require.True(t, ok, "no target at %d", at)
	require.Equal(t, exp, target, "target of %d", at)
}

func TestAssembler_forwardChain(t *testing.T) {
	a, _ := newThumb(1024, 1024)
	var l asm.Label
	require.Equal(t, asm.LabelUnused, l.State())

	var sites []int
	for i := 0; i < 5; i++ {
		sites = append(sites, a.CodeOffset())
		a.Branch(&l)
		a.Emit16(thumb.NOP)
	}
	require.Equal(t, asm.LabelUnbound, l.State())
	require.Equal(t, 5, l.NumUnresolved())
	require.Equal(t, []int{0, 6, 12, 18, 24}, sites)

	a.Bind(&l)
	require.Equal(t, asm.LabelBound, l.State())
	require.Equal(t, 30, l.Position())
	require.Zero(t, l.NumUnresolved())
	for _, at := range sites {
		requireTarget(t, a, at, 30)
	}
	require.Panics(t, func() { a.Bind(&l) })
}

func TestAssembler_forwardChainAMD64(t *testing.T) {
	a := asm.New(codebuf.New(256, 256), amd64.Encoding{}, asm.Config{})
	var l asm.Label
	for i := 0; i < 4; i++ {
		a.BranchIf(amd64.JNE, &l)
	}
	a.EmitBytes([]byte{0x90})
	a.Bind(&l)
	require.Equal(t, 25, l.Position())
	for _, at := range []int{0, 6, 12, 18} {
		requireTarget(t, a, at, 25)
	}

	// Backward branches pick the short form when they reach.
	a.Branch(&l)
	require.Equal(t, 27, a.CodeOffset())
	requireTarget(t, a, 25, 25)
}

func TestAssembler_forwardSitesRandomized(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	for i := 0; i < 200; i++ {
		a, _ := newThumb(64, 1<<16)
		var l asm.Label
		var branches, loads []int
		var lit *asm.Literal
		for n := rng.Intn(8) + 1; n > 0; n-- {
			if rng.Intn(2) == 0 {
				branches = append(branches, a.CodeOffset())
				a.Branch(&l)
			} else {
				loads = append(loads, a.CodeOffset())
				lit = a.LoadLiteral(0, 0x5A5A, false)
			}
			for k := rng.Intn(40); k > 0; k-- {
				a.Emit16(thumb.NOP)
			}
		}
		a.Bind(&l)
		a.WriteLiterals(true)
		require.False(t, a.HasOverflown())

		for _, at := range branches {
			requireTarget(t, a, at, l.Position())
		}
		for _, at := range loads {
			requireTarget(t, a, at, lit.Label().Position())
		}
		if len(loads) > 0 {
			require.Equal(t, uint32(0x5A5A), binary.LittleEndian.Uint32(a.Code()[lit.Label().Position():]))
		}
	}
}

func TestAssembler_forwardBranchesRandomizedAMD64(t *testing.T) {
	rng := rand.New(rand.NewSource(5))
	for i := 0; i < 200; i++ {
		a := asm.New(codebuf.New(64, 1<<16), amd64.Encoding{}, asm.Config{})
		var l asm.Label
		var sites []int
		for n := rng.Intn(20) + 1; n > 0; n-- {
			sites = append(sites, a.CodeOffset())
			if rng.Intn(2) == 0 {
				a.Branch(&l)
			} else {
				a.BranchIf(amd64.JNE, &l)
			}
			for k := rng.Intn(300); k > 0; k-- {
				a.EmitBytes([]byte{0x90})
			}
		}
		a.Bind(&l)
		require.False(t, a.HasOverflown())
		for _, at := range sites {
			requireTarget(t, a, at, l.Position())
		}
	}
}

func TestAssembler_backwardBranch(t *testing.T) {
	a, _ := newThumb(4096, 4096)
	var top asm.Label
	a.Bind(&top)
	a.Branch(&top)
	require.Equal(t, 2, a.CodeOffset())
	requireTarget(t, a, 0, 0)

	for a.CodeOffset() < 3000 {
		a.Emit16(thumb.NOP)
	}
	a.Branch(&top)
	require.Equal(t, 3004, a.CodeOffset())
	requireTarget(t, a, 3000, 0)

	// No long conditional form: an inverted branch skips a long one.
	a.BranchIf(thumb.NE, &top)
	require.Equal(t, 3010, a.CodeOffset())
	require.Equal(t, uint16(0xD001), binary.LittleEndian.Uint16(a.Code()[3004:]))
	requireTarget(t, a, 3004, 3010)
	requireTarget(t, a, 3006, 0)
}

func TestAssembler_branchLiteralResolvedDirectly(t *testing.T) {
	a, _ := newThumb(256, 256)
	var l asm.Label
	a.BranchIf(thumb.EQ, &l)
	require.Equal(t, 1, a.NumPendingBranchLiterals())
	for i := 0; i < 3; i++ {
		a.Emit16(thumb.NOP)
	}
	a.Bind(&l)
	require.Zero(t, a.NumPendingBranchLiterals())
	requireTarget(t, a, 0, 8)
}

func TestAssembler_branchLiteralTrampoline(t *testing.T) {
	a, _ := newThumb(256, 256)
	var l asm.Label
	a.BranchIf(thumb.EQ, &l)
	a.Emit16(thumb.PopPC)
	a.WriteLiterals(true)
	require.Zero(t, a.NumPendingBranchLiterals())
	require.Equal(t, 8, a.CodeOffset())
	requireTarget(t, a, 0, 4)

	a.Emit16(thumb.NOP)
	a.Bind(&l)
	requireTarget(t, a, 4, 10)
}

func TestAssembler_branchLiteralsDesperate(t *testing.T) {
	a, _ := newThumb(1024, 1024)
	labels := make([]asm.Label, 3)
	for i := range labels {
		a.BranchIf(thumb.GE, &labels[i])
	}
	for a.CodeOffset() < 200 {
		a.WriteLiteralsIfDesperate()
		a.Emit16(thumb.NOP)
	}
	require.Equal(t, 3, a.NumPendingBranchLiterals())
	a.WriteLiteralsIfDesperate()
	require.Zero(t, a.NumPendingBranchLiterals())

	// Jump around the trampolines, then one trampoline per branch.
	requireTarget(t, a, 200, 216)
	for i := range labels {
		requireTarget(t, a, 2*i, 204+4*i)
	}
	for i := range labels {
		a.Bind(&labels[i])
		requireTarget(t, a, 204+4*i, 216)
	}
}

func TestAssembler_literals(t *testing.T) {
	a, _ := newThumb(256, 256)
	l1 := a.LoadLiteral(0, 0x12345678, false)
	require.Same(t, l1, a.LoadLiteral(1, 0x12345678, false))
	l2 := a.LoadLiteral(2, 7, false)
	require.NotSame(t, l1, l2)
	require.Same(t, l2, a.FindLiteral(7, false))
	require.Equal(t, 2, a.NumPendingLiterals())
	a.Emit16(thumb.PopPC)

	a.WriteLiterals(true)
	require.Zero(t, a.NumPendingLiterals())
	require.Equal(t, 8, l1.Label().Position())
	require.Equal(t, 12, l2.Label().Position())
	requireTarget(t, a, 0, 8)
	requireTarget(t, a, 2, 8)
	requireTarget(t, a, 4, 12)
	require.Equal(t, uint32(0x12345678), binary.LittleEndian.Uint32(a.Code()[8:]))
	require.Equal(t, uint32(7), binary.LittleEndian.Uint32(a.Code()[12:]))
}

func TestAssembler_literalPoolFull(t *testing.T) {
	a, _ := newThumb(256, 256)
	var first *asm.Literal
	for i := 0; i < 10; i++ {
		l := a.LoadLiteral(0, uint32(i), false)
		if first == nil {
			first = l
		}
	}
	a.LoadLiteral(0, 100, false)
	require.Equal(t, 1, a.NumPendingLiterals())
	require.Equal(t, 66, a.CodeOffset())
	require.Equal(t, 24, first.Label().Position())
	requireTarget(t, a, 20, 64)
	requireTarget(t, a, 0, 24)
	requireTarget(t, a, 18, 60)
}

func TestAssembler_literalsDesperate(t *testing.T) {
	a, _ := newThumb(2048, 2048)
	a.LoadLiteral(0, 1, false)
	for a.CodeOffset() < 1000 {
		a.WriteLiteralsIfDesperate()
		a.Emit16(thumb.NOP)
	}
	require.Zero(t, a.NumPendingLiterals())
	requireTarget(t, a, 0, 928)
	requireTarget(t, a, 924, 932)

	a.WriteLiterals(false)
	require.Equal(t, 1000, a.CodeOffset())
}

func TestAssembler_unpatchableSite(t *testing.T) {
	a, cm := newThumb(256, 256)
	a.LoadLiteral(0, 5, false)
	binary.LittleEndian.PutUint16(cm.Bytes(), thumb.MOVSImm(0, 1))
	require.Panics(t, func() { a.WriteLiterals(true) })
}

func TestAssembler_overflow(t *testing.T) {
	a, _ := newThumb(64, 64)
	require.False(t, a.HasOverflown())
	for i := 0; i < 40; i++ {
		a.Emit32(0)
	}
	require.True(t, a.HasOverflown())
	require.Equal(t, 160, a.CodeOffset())

	// Nothing is patched once overflown.
	var l asm.Label
	a.Branch(&l)
	a.LoadLiteral(3, 42, true)
	a.Bind(&l)

	res, ok := a.Finish()
	require.False(t, ok)
	require.Nil(t, res)
}

func TestAssembler_expand(t *testing.T) {
	a, cm := newThumb(64, 1024)
	a.Emit16(thumb.NOP)
	a.EmitOSREntry(7)
	for i := 0; i < 100; i++ {
		a.Emit16(thumb.NOP)
	}
	require.Equal(t, 256, cm.ObjectSize())
	require.False(t, a.HasOverflown())

	res, ok := a.Finish()
	require.True(t, ok)
	require.Equal(t, 202, res.CodeSize)
	require.Equal(t, 6, res.RelocationSize)
	require.Equal(t, 208, res.Method.ObjectSize())
	require.NoError(t, relocation.Verify(res.Method, res.Method.ObjectSize(), res.CodeSize))

	r := relocation.NewReader(res.Method, res.Method.ObjectSize())
	require.Equal(t, []relocation.Entry{
		{Kind: relocation.KindOSRStub, CodeOffset: 2, Position: 206, BCI: 7},
	}, r.Entries())
}

func TestAssembler_relocationGrowsBuffer(t *testing.T) {
	a, cm := newThumb(32768, 65536)
	for a.CodeOffset() < 32742 {
		a.Emit16(thumb.NOP)
	}
	require.Equal(t, 26, a.FreeSpace())

	// Seven padding entries come before the header, more than the room left.
	a.EmitRelocation(relocation.KindCompilerStub)
	require.Equal(t, 65536, cm.ObjectSize())
	a.EmitOop()
	a.Emit16(thumb.PopPC)

	res, ok := a.Finish()
	require.True(t, ok)
	require.NoError(t, relocation.Verify(res.Method, res.Method.ObjectSize(), res.CodeSize))

	var kinds []relocation.Kind
	for _, e := range relocation.NewReader(res.Method, res.Method.ObjectSize()).Entries() {
		if !e.Padding {
			require.Equal(t, 32742, e.CodeOffset)
			kinds = append(kinds, e.Kind)
		}
	}
	require.Equal(t, []relocation.Kind{relocation.KindOop, relocation.KindCompilerStub}, kinds)
}

func TestAssembler_Finish(t *testing.T) {
	cm := codebuf.New(256, 256)
	a := asm.New(cm, thumb.Encoding{}, asm.Config{Comments: true})
	a.Comment("hi")
	a.LoadLiteral(0, 0xCAFE, true)
	a.Emit16(thumb.PopPC)

	res, ok := a.Finish()
	require.True(t, ok)
	require.Equal(t, 8, res.CodeSize)
	require.Equal(t, uint32(0xCAFE), binary.LittleEndian.Uint32(res.Method.Bytes()[4:]))

	r := relocation.NewReader(res.Method, res.Method.ObjectSize())
	entries := r.Entries()
	require.Equal(t, 2, len(entries))
	require.Equal(t, relocation.KindOop, entries[0].Kind)
	require.Equal(t, 4, entries[0].CodeOffset)
	require.Equal(t, relocation.KindComment, entries[1].Kind)
	require.Equal(t, "hi", entries[1].Comment)
	require.Equal(t, 0, entries[1].CodeOffset)
}

func TestAssembler_commentsDisabled(t *testing.T) {
	a, _ := newThumb(256, 256)
	a.Comment("ignored")
	a.Emit16(thumb.PopPC)
	res, ok := a.Finish()
	require.True(t, ok)
	require.Equal(t, 2, res.RelocationSize)
	require.True(t, relocation.NewReader(res.Method, res.Method.ObjectSize()).AtEnd())
}
