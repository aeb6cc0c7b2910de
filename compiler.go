package stubjit

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/stubjit/stubjit/internal/bytecode"
	"github.com/stubjit/stubjit/internal/codebuf"
	"github.com/stubjit/stubjit/internal/compiler"
	"github.com/stubjit/stubjit/internal/logging"
	"github.com/stubjit/stubjit/internal/relocation"
)

var (
	// ErrCodeBufferOverflow is returned when a method needs more than the maximum code buffer size.
	ErrCodeBufferOverflow = compiler.ErrCodeBufferOverflow
	// ErrUnsupportedBytecode is returned for methods that use bytecodes the compiler does not handle. Such methods
	// should keep running interpreted.
	ErrUnsupportedBytecode = compiler.ErrUnsupportedBytecode
	// ErrFrameTooLarge is returned for methods with more locals and stack than the target can address.
	ErrFrameTooLarge = compiler.ErrFrameTooLarge
	// ErrMalformedBytecode is returned for code that does not verify.
	ErrMalformedBytecode = bytecode.ErrMalformedBytecode
)

// Method is a method to compile. It must not be modified while it is compiled.
type Method = bytecode.Method

// Relocation is a decoded relocation entry of a CompiledCode.
type Relocation = relocation.Entry

// LoadMethod decodes the YAML description of a method.
func LoadMethod(data []byte) (*Method, error) {
	return bytecode.LoadMethod(data)
}

// CompiledCode is the machine code of a method and its relocation stream.
type CompiledCode struct {
	// ID identifies the compilation in logs, as the "compile_id" field.
	ID uuid.UUID
	// Name is the name of the compiled method.
	Name string
	// CodeSize is the number of bytes of machine code at the start of the object.
	CodeSize int
	// RelocationSize is the number of bytes of relocation stream at the end of the object.
	RelocationSize int
	// LoopHeaders lists the bcis with an on-stack-replacement entry.
	LoopHeaders []int
	// HasLoops is true if the method branches backward.
	HasLoops bool
	// StackLockWords is the number of stack words reserved for monitors.
	StackLockWords int
	// NullCheckCandidates is twice the number of bytecodes that may raise a null pointer exception, when enabled with
	// CompilerConfig.WithNullCheckCounting.
	NullCheckCandidates int

	method       *codebuf.CompiledMethod
	entryCounts  []byte
	blockStarter func(bci int) bool
}

// Object returns the packed compiled method: machine code followed by the relocation stream.
func (c *CompiledCode) Object() []byte {
	return c.method.Bytes()
}

// Code returns the machine code.
func (c *CompiledCode) Code() []byte {
	return c.method.Bytes()[:c.CodeSize]
}

// Relocations decodes the relocation stream in stream order: oops first, then everything else by code offset.
func (c *CompiledCode) Relocations() []Relocation {
	return relocation.NewReader(c.method, c.method.ObjectSize()).Entries()
}

// SortedRelocations returns the relocation entries ordered by code offset.
func (c *CompiledCode) SortedRelocations() []Relocation {
	idx := relocation.NewIndex(relocation.NewReader(c.method, c.method.ObjectSize()))
	ret := make([]Relocation, 0, idx.Len())
	idx.Ascend(func(e relocation.Entry) bool {
		ret = append(ret, e)
		return true
	})
	return ret
}

// EntryCount returns how many ways control reaches bci, saturated at a small limit.
func (c *CompiledCode) EntryCount(bci int) int {
	return int(c.entryCounts[bci])
}

// IsBlockStart returns true if a basic block starts at bci.
func (c *CompiledCode) IsBlockStart(bci int) bool {
	return c.blockStarter(bci)
}

// Compile compiles m with the given config, or NewCompilerConfig when nil.
//
// Methods using bytecodes outside the supported subset fail with ErrUnsupportedBytecode, and methods that outgrow the
// maximum code buffer size fail with ErrCodeBufferOverflow. Both are expected outcomes for a JIT: the method keeps
// running interpreted.
func Compile(ctx context.Context, cfg *CompilerConfig, m *Method) (*CompiledCode, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if cfg == nil {
		cfg = NewCompilerConfig()
	}
	if cfg.err != nil {
		return nil, cfg.err
	}
	if cfg.sizeErr != nil {
		return nil, cfg.sizeErr
	}
	if m == nil {
		return nil, fmt.Errorf("%w: nil method", ErrMalformedBytecode)
	}

	id := uuid.New()
	logger := cfg.logger.WithField("compile_id", id.String())
	cm := codebuf.New(cfg.codeBufferSize, cfg.maxCodeBufferSize)
	res, err := compiler.Compile(m, cm, cfg.registerFile, compiler.Config{
		Comments:          cfg.comments,
		CSE:               cfg.cse,
		DebugChecks:       cfg.debugChecks,
		NullCheckCounting: cfg.nullCheckCounting,
		Logger:            logging.Logger{Log: logger, Scopes: cfg.traceScopes},
	})
	if err != nil {
		logger.WithError(err).Debugf("compile %s failed", m.Name)
		return nil, err
	}
	if cfg.debugChecks {
		if err := relocation.Verify(res.Method, res.Method.ObjectSize(), res.CodeSize); err != nil {
			panic(fmt.Sprintf("BUG: invalid relocation stream: %v", err))
		}
	}
	logger.WithFields(logrus.Fields{
		"code_size":       res.CodeSize,
		"relocation_size": res.RelocationSize,
	}).Debugf("compiled %s", m.Name)

	return &CompiledCode{
		ID:                  id,
		Name:                m.Name,
		CodeSize:            res.CodeSize,
		RelocationSize:      res.RelocationSize,
		LoopHeaders:         res.LoopHeaders,
		HasLoops:            res.Entries.HasLoops,
		StackLockWords:      res.Entries.StackLockWords,
		NullCheckCandidates: res.Entries.NullCheckCandidates,
		method:              res.Method,
		entryCounts:         res.Entries.Counts,
		blockStarter:        res.Entries.IsBlockStart,
	}, nil
}
