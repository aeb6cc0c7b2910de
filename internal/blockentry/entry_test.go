package blockentry

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/stubjit/stubjit/internal/bytecode"
)

func compute(t *testing.T, src string, opts Options) *Result {
	r, err := Compute(&bytecode.Method{Code: bytecode.MustAssemble(src)}, opts)
	require.NoError(t, err)
	return r
}

func TestCompute_straightLine(t *testing.T) {
	// bcis 0, 1, 4, 5, 8, 9. ifeq targets 7 and goto targets 8.
	r := compute(t, `
		iconst_0
		ifeq 6
		iconst_1
		goto 3
		iconst_2
		nop
	`, Options{})
	require.Equal(t, []byte{1, 1, 0, 0, 1, 1, 0, 1, 1, 1}, r.Counts)
	require.False(t, r.HasLoops)

	for bci, exp := range map[int]bool{0: true, 1: false, 4: false, 5: false, 7: false, 8: true, 9: false} {
		require.Equal(t, exp, r.IsBlockStart(bci), bci)
	}
}

func TestCompute_saturation(t *testing.T) {
	var b strings.Builder
	for i := 0; i < 12; i++ {
		b.WriteString("iconst_0\nifeq target\n")
	}
	b.WriteString("target: return\n")
	r := compute(t, b.String(), Options{})
	target := len(r.Counts) - 1
	// 12 branches and one fall through.
	require.Equal(t, MaxEntryCount, r.EntryCount(target))
	require.Equal(t, 10, MaxEntryCount)
	require.True(t, r.IsBlockStart(target))
}

func TestCompute_loops(t *testing.T) {
	for _, tc := range []struct {
		name string
		src  string
		exp  bool
	}{
		{name: "backward goto", src: "top: iinc 0 1\ngoto top", exp: true},
		{name: "self goto", src: "nop\nself: goto self", exp: true},
		{name: "backward goto_w", src: "top: nop\ngoto_w top", exp: true},
		{name: "backward conditional", src: "top: iload_0\nifne top\nreturn", exp: true},
		{name: "backward switch default", src: "top: iload_0\nlookupswitch top\nreturn", exp: true},
		{name: "backward switch case", src: "top: iload_0\ntableswitch 0 out top\nout: return", exp: true},
		{name: "forward", src: "iload_0\nifne out\ngoto out\nout: return", exp: false},
	} {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.exp, compute(t, tc.src, Options{}).HasLoops)
		})
	}
}

func TestCompute_tableswitch(t *testing.T) {
	// low=2, high=5: four case targets and a default.
	r := compute(t, `
		iload_0
		tableswitch 2 d c2 c3 c4 c5
	c2: nop
	c3: nop
	c4: nop
	c5: nop
	d:  return
	`, Options{})
	// The switch is 3 bytes of padding, 12 bytes of header and 16 bytes of targets.
	c2 := 1 + 3 + 12 + 16
	require.Equal(t, 1, r.EntryCount(c2))
	for bci := c2 + 1; bci <= c2+4; bci++ {
		// One from the switch and one from falling through.
		require.Equal(t, 2, r.EntryCount(bci), bci)
	}
	total := 0
	for _, c := range r.Counts {
		total += int(c)
	}
	// bci 0, fall through into the switch, 4 fall throughs, 5 switch targets.
	require.Equal(t, 1+1+4+5, total)
	require.True(t, r.IsBlockStart(c2))
}

func TestCompute_lookupswitch(t *testing.T) {
	r := compute(t, `
		iload_0
		lookupswitch d 1:a 7:a 9:d
	a:  return
	d:  return
	`, Options{})
	a := 1 + 3 + 8 + 24
	require.Equal(t, 2, r.EntryCount(a))
	require.Equal(t, 2, r.EntryCount(a+1))
	require.True(t, r.IsBlockStart(a+1))
}

func TestCompute_exceptionHandlers(t *testing.T) {
	m := &bytecode.Method{
		Code: bytecode.MustAssemble("nop\nnop\nreturn\nhandler: return"),
		ExceptionTable: []bytecode.ExceptionHandler{
			{StartPC: 0, EndPC: 2, HandlerPC: 3},
			{StartPC: 0, EndPC: 1, HandlerPC: 3, CatchType: 4},
		},
	}
	r, err := Compute(m, Options{})
	require.NoError(t, err)
	require.Equal(t, []byte{1, 1, 1, 4}, r.Counts)
	require.True(t, r.IsBlockStart(3))

	m.ExceptionTable = append(m.ExceptionTable, bytecode.ExceptionHandler{HandlerPC: 9})
	_, err = Compute(m, Options{})
	require.True(t, errors.Is(err, bytecode.ErrMalformedExceptionTable))
}

func TestCompute_counters(t *testing.T) {
	src := `
		aload_0
		monitorenter
		aload_0
		arraylength
		pop
		aload_0
		monitorenter
		return
	`
	r := compute(t, src, Options{StackLockWords: 3})
	require.Equal(t, 2, r.NumLocks)
	require.Equal(t, 6, r.StackLockWords)
	require.Zero(t, r.NullCheckCandidates)

	r = compute(t, src, Options{CountNullChecks: true})
	require.Equal(t, 6, r.NullCheckCandidates)
}

func TestCompute_malformed(t *testing.T) {
	for _, tc := range []struct {
		name string
		code []byte
		exp  string
	}{
		{name: "empty", code: nil, exp: "malformed bytecode: empty code"},
		{name: "target past end", code: []byte{bytecode.Goto, 0, 9}, exp: "malformed bytecode at bci 0: branch target 9 outside of code"},
		{name: "negative target", code: []byte{bytecode.Nop, bytecode.Goto, 0xff, 0xfe}, exp: "malformed bytecode at bci 1: branch target -1 outside of code"},
		{name: "truncated", code: []byte{bytecode.Nop, bytecode.Sipush}, exp: "malformed bytecode at bci 1: truncated sipush"},
		{name: "illegal", code: []byte{0xee}, exp: "malformed bytecode at bci 0: illegal opcode 0xee"},
	} {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			_, err := Compute(&bytecode.Method{Code: tc.code}, Options{})
			require.EqualError(t, err, tc.exp)
			require.True(t, errors.Is(err, bytecode.ErrMalformedBytecode))
		})
	}
}
