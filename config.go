package stubjit

import (
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/stubjit/stubjit/internal/arch"
	"github.com/stubjit/stubjit/internal/buildoptions"
	"github.com/stubjit/stubjit/internal/logging"
)

// CompilerConfig controls how methods are compiled, with the default implementation as NewCompilerConfig.
//
// Each With* method returns a modified copy, so a config can be shared between goroutines and used as a template.
type CompilerConfig struct {
	registerFile      *arch.RegisterFile
	err               error
	sizeErr           error
	codeBufferSize    int
	maxCodeBufferSize int
	comments          bool
	traceScopes       logging.LogScopes
	logger            logrus.FieldLogger
	debugChecks       bool
	cse               bool
	nullCheckCounting bool
}

// Default compiled method sizes. A method starts at defaultCodeBufferSize bytes and grows on demand.
const (
	defaultCodeBufferSize    = 1024
	defaultMaxCodeBufferSize = 64 * 1024
)

// NewCompilerConfig returns a config compiling for the thumb target with register caching enabled and a logger that
// discards everything.
func NewCompilerConfig() *CompilerConfig {
	rf, err := arch.ForName(arch.Thumb)
	return &CompilerConfig{
		registerFile:      rf,
		err:               err,
		codeBufferSize:    defaultCodeBufferSize,
		maxCodeBufferSize: defaultMaxCodeBufferSize,
		logger:            logging.Discard(),
		debugChecks:       buildoptions.IsDebugMode,
		cse:               true,
	}
}

// clone ensures all fields are copied even if nil.
func (c *CompilerConfig) clone() *CompilerConfig {
	ret := *c
	return &ret
}

// WithArchitecture selects one of the built-in register files by name. See arch.Names.
//
// Note: An unknown name is reported by Compile.
func (c *CompilerConfig) WithArchitecture(name string) *CompilerConfig {
	ret := c.clone()
	ret.registerFile, ret.err = arch.ForName(name)
	return ret
}

// WithRegisterFile uses a custom register file, for example one loaded with arch.LoadRegisterFile.
func (c *CompilerConfig) WithRegisterFile(rf *arch.RegisterFile) *CompilerConfig {
	ret := c.clone()
	if rf == nil {
		ret.registerFile, ret.err = nil, errors.New("nil register file")
	} else {
		ret.registerFile, ret.err = rf, nil
	}
	return ret
}

// WithCodeBufferSize sets the initial size in bytes of a compiled method. Defaults to 1KiB.
//
// Note: A negative size is reported by Compile.
func (c *CompilerConfig) WithCodeBufferSize(size int) *CompilerConfig {
	ret := c.clone()
	ret.codeBufferSize = size
	ret.sizeErr = validateSizes(ret.codeBufferSize, ret.maxCodeBufferSize)
	return ret
}

// WithMaxCodeBufferSize sets the size in bytes a compiled method may grow to before compilation fails with
// ErrCodeBufferOverflow. Defaults to 64KiB.
//
// Note: A negative size is reported by Compile.
func (c *CompilerConfig) WithMaxCodeBufferSize(size int) *CompilerConfig {
	ret := c.clone()
	ret.maxCodeBufferSize = size
	ret.sizeErr = validateSizes(ret.codeBufferSize, ret.maxCodeBufferSize)
	return ret
}

func validateSizes(size, maxSize int) error {
	if size < 0 {
		return fmt.Errorf("invalid code buffer size %d", size)
	}
	if maxSize < 0 {
		return fmt.Errorf("invalid max code buffer size %d", maxSize)
	}
	return nil
}

// WithCompilerComments records a comment relocation naming each compiled bytecode. Defaults to false.
func (c *CompilerConfig) WithCompilerComments(enabled bool) *CompilerConfig {
	ret := c.clone()
	ret.comments = enabled
	return ret
}

// WithTrace logs every compiler event at debug level. Defaults to false.
//
// Note: The logger set with WithLogger must be at logrus.DebugLevel for anything to show.
func (c *CompilerConfig) WithTrace(enabled bool) *CompilerConfig {
	ret := c.clone()
	if enabled {
		ret.traceScopes = logging.LogScopeAll
	} else {
		ret.traceScopes = logging.LogScopeNone
	}
	return ret
}

// WithLogger sets the logger of compilations. Defaults to one that discards everything.
func (c *CompilerConfig) WithLogger(logger logrus.FieldLogger) *CompilerConfig {
	if logger == nil {
		logger = logging.Discard()
	}
	ret := c.clone()
	ret.logger = logger
	return ret
}

// WithDebugChecks turns internal consistency warnings, such as leaked registers, into panics. Defaults to
// buildoptions.IsDebugMode.
func (c *CompilerConfig) WithDebugChecks(enabled bool) *CompilerConfig {
	ret := c.clone()
	ret.debugChecks = enabled
	return ret
}

// WithCSE reuses registers that still hold the value of a local variable instead of loading it again. Defaults to
// true.
func (c *CompilerConfig) WithCSE(enabled bool) *CompilerConfig {
	ret := c.clone()
	ret.cse = enabled
	return ret
}

// WithNullCheckCounting counts the bytecodes that may raise a null pointer exception. See
// CompiledCode.NullCheckCandidates. Defaults to false.
func (c *CompilerConfig) WithNullCheckCounting(enabled bool) *CompilerConfig {
	ret := c.clone()
	ret.nullCheckCounting = enabled
	return ret
}
