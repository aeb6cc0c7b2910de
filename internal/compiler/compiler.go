// Package compiler is a template compiler for the Thumb target. It walks the bytecodes of a method
// once, emitting a fixed instruction sequence per bytecode, and drives the block entry analysis,
// the register allocator, the assembler and the relocation stream.
package compiler

import (
	"errors"
	"fmt"

	"github.com/stubjit/stubjit/internal/arch"
	"github.com/stubjit/stubjit/internal/asm"
	"github.com/stubjit/stubjit/internal/asm/thumb"
	"github.com/stubjit/stubjit/internal/blockentry"
	"github.com/stubjit/stubjit/internal/bytecode"
	"github.com/stubjit/stubjit/internal/codebuf"
	"github.com/stubjit/stubjit/internal/frame"
	"github.com/stubjit/stubjit/internal/logging"
	"github.com/stubjit/stubjit/internal/regalloc"
)

var (
	// ErrUnsupportedBytecode is returned for methods using bytecodes the compiler does not handle.
	// Such methods keep running interpreted.
	ErrUnsupportedBytecode = errors.New("unsupported bytecode")
	// ErrFrameTooLarge is returned for methods whose frame is out of reach of sp-relative
	// addressing.
	ErrFrameTooLarge = errors.New("frame too large")
	// ErrCodeBufferOverflow is returned when the compiled method outgrew its maximum size.
	ErrCodeBufferOverflow = errors.New("code buffer overflow")
)

func unsupported(bci int, name string) error {
	return fmt.Errorf("%w at bci %d: %s", ErrUnsupportedBytecode, bci, name)
}

// numArgumentRegisters is the number of arguments passed in r0-r3.
const numArgumentRegisters = 4

// Config configures a compilation.
type Config struct {
	// Comments records a comment relocation per bytecode.
	Comments bool
	// CSE reuses registers that already hold the value of a local.
	CSE bool
	// DebugChecks makes register leaks fatal.
	DebugChecks bool
	// NullCheckCounting enables the null check candidate count of the entry analysis.
	NullCheckCounting bool
	Logger            logging.Logger
}

// Result is the outcome of Compile.
type Result struct {
	*asm.Result
	Entries *blockentry.Result
	// LoopHeaders lists the bcis that got an on-stack-replacement entry.
	LoopHeaders []int
}

// Compile compiles m into cm, which must be empty. rf must describe the Thumb register file.
func Compile(m *bytecode.Method, cm *codebuf.CompiledMethod, rf *arch.RegisterFile, cfg Config) (*Result, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}
	if rf.Name != arch.Thumb {
		return nil, fmt.Errorf("no template compiler for %s", rf.Name)
	}
	entries, err := blockentry.Compute(m, blockentry.Options{
		StackLockWords:  rf.StackLockWords(),
		CountNullChecks: cfg.NullCheckCounting,
	})
	if err != nil {
		return nil, err
	}
	instrs, err := bytecode.Instructions(m.Code)
	if err != nil {
		return nil, err
	}
	an, err := analyze(m, instrs)
	if err != nil {
		return nil, err
	}

	c := &compiler{
		m:       m,
		cfg:     cfg,
		entries: entries,
		an:      an,
		labels:  make([]asm.Label, len(m.Code)),
		logger:  cfg.Logger,
	}
	if err = c.layoutFrame(); err != nil {
		return nil, err
	}
	c.a = asm.New(cm, thumb.Encoding{}, asm.Config{Comments: cfg.Comments, Logger: cfg.Logger})
	c.frame = frame.New(m.MaxLocals, m.MaxStack, c, cfg.Logger)
	c.ra = regalloc.New(rf, &regalloc.Context{Frame: c.frame}, regalloc.Config{
		CSE:         cfg.CSE,
		DebugChecks: cfg.DebugChecks,
		Logger:      cfg.Logger,
	})

	c.logger.Tracef(logging.LogScopeEmit, "compile %s: %d bytes of bytecode", m.Name, len(m.Code))
	c.prologue()
	if err = c.compileInstructions(instrs); err != nil {
		return nil, err
	}
	c.ra.GuaranteeAllFree()

	res, ok := c.a.Finish()
	if !ok {
		return nil, fmt.Errorf("%w: %s needs more than %d bytes", ErrCodeBufferOverflow, m.Name, cm.MaxObjectSize())
	}
	ret := &Result{Result: res, Entries: entries}
	for bci, ok := range an.loopHeader {
		if ok {
			ret.LoopHeaders = append(ret.LoopHeaders, bci)
		}
	}
	return ret, nil
}

type compiler struct {
	m       *bytecode.Method
	cfg     Config
	entries *blockentry.Result
	an      *analysis
	labels  []asm.Label
	logger  logging.Logger

	a     *asm.Assembler
	ra    *regalloc.Allocator
	frame *frame.VirtualStackFrame

	frameBytes int
}

func (c *compiler) layoutFrame() error {
	c.frameBytes = 4 * (c.m.MaxLocals + c.m.MaxStack)
	if c.frameBytes > thumb.MaxFrameBytes {
		return fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, c.frameBytes)
	}
	if n := c.m.ArgCount; n > numArgumentRegisters && c.callerSlotOffset(n-1) > thumb.MaxSPOffset {
		return fmt.Errorf("%w: %d argument words", ErrFrameTooLarge, n)
	}
	return nil
}

// callerSlotOffset returns the sp offset of argument i passed on the stack, above the frame and the
// saved LR.
func (c *compiler) callerSlotOffset(i int) int {
	return c.frameBytes + 4 + 4*(i-numArgumentRegisters)
}

func (c *compiler) prologue() {
	c.a.Emit16(thumb.PushLR)
	if c.frameBytes > 0 {
		c.a.Emit16(thumb.SUBSP(c.frameBytes))
	}
	for i := 0; i < c.m.ArgCount && i < numArgumentRegisters; i++ {
		c.a.Emit16(thumb.STRSP(arch.Register(i), 4*i))
	}
	for i := numArgumentRegisters; i < c.m.ArgCount; i++ {
		c.a.Emit16(thumb.LDRSP(0, c.callerSlotOffset(i)))
		c.a.Emit16(thumb.STRSP(0, 4*i))
	}
}

func (c *compiler) epilogue() {
	if c.frameBytes > 0 {
		c.a.Emit16(thumb.ADDSP(c.frameBytes))
	}
	c.a.Emit16(thumb.PopPC)
}

func (c *compiler) compileInstructions(instrs []bytecode.Instruction) error {
	fellThrough := false
	for _, in := range instrs {
		bci := in.BCI
		depth := c.an.depth[bci]
		if depth < 0 {
			c.logger.Tracef(logging.LogScopeEmit, "skip unreachable bci %d", bci)
			fellThrough = false
			continue
		}
		c.a.WriteLiteralsIfDesperate()
		if c.entries.IsBlockStart(bci) {
			if fellThrough {
				c.frame.FlushAll()
			}
			c.ra.KillAll()
			c.frame.Reset(depth)
			c.a.Bind(&c.labels[bci])
			if c.an.loopHeader[bci] {
				c.a.EmitOSREntry(bci)
			}
		} else if c.frame.Depth() != depth {
			panic(fmt.Sprintf("BUG: stack depth %d at bci %d, expected %d", c.frame.Depth(), bci, depth))
		}
		c.a.Comment(fmt.Sprintf("%d: %s", bci, bytecode.Name(in.Opcode)))
		if err := c.compileInstruction(in); err != nil {
			return err
		}
		fellThrough = bytecode.CanFallThrough(in.Opcode)
		if !fellThrough {
			c.a.WriteLiterals(false)
		}
	}
	return nil
}

// StoreRegister implements frame.Storer.
func (c *compiler) StoreRegister(r arch.Register, slot int) {
	c.a.Emit16(thumb.STRSP(r, 4*slot))
}

// StoreConstant implements frame.Storer.
func (c *compiler) StoreConstant(l frame.Location, slot int) {
	r := c.ra.Allocate()
	c.loadConstant(r, l)
	c.a.Emit16(thumb.STRSP(r, 4*slot))
	c.ra.Dereference(r)
}
