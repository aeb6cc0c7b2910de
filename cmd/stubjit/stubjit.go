package main

import (
	"context"
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/docker/go-units"
	"github.com/sirupsen/logrus"

	"github.com/stubjit/stubjit"
	"github.com/stubjit/stubjit/internal/arch"
	"github.com/stubjit/stubjit/internal/blockentry"
	"github.com/stubjit/stubjit/internal/bytecode"
	"github.com/stubjit/stubjit/internal/relocation"
	"github.com/stubjit/stubjit/internal/version"
)

func main() {
	doMain(os.Stdout, os.Stderr, os.Exit)
}

// doMain is separated out for the purpose of unit testing.
func doMain(stdOut io.Writer, stdErr io.Writer, exit func(code int)) {
	flag.CommandLine.SetOutput(stdErr)

	var help bool
	flag.BoolVar(&help, "h", false, "print usage")

	flag.Parse()

	if help || flag.NArg() == 0 {
		printUsage(stdErr)
		exit(0)
	}

	subCmd := flag.Arg(0)
	switch subCmd {
	case "entries":
		doEntries(flag.Args()[1:], stdOut, stdErr, exit)
	case "compile":
		doCompile(flag.Args()[1:], stdOut, stdErr, exit, true)
	case "relocs":
		doCompile(flag.Args()[1:], stdOut, stdErr, exit, false)
	case "version":
		fmt.Fprintln(stdOut, version.GetVersion())
		exit(0)
	default:
		fmt.Fprintln(stdErr, "invalid command")
		printUsage(stdErr)
		exit(1)
	}
}

func doEntries(args []string, stdOut, stdErr io.Writer, exit func(code int)) {
	flags := flag.NewFlagSet("entries", flag.ExitOnError)
	flags.SetOutput(stdErr)

	var help bool
	flags.BoolVar(&help, "h", false, "print usage")

	var nullChecks bool
	flags.BoolVar(&nullChecks, "nullchecks", false, "count null check candidates")

	_ = flags.Parse(args)

	if help {
		printCommandUsage(stdErr, "entries", flags)
		exit(0)
	}

	m := readMethod(flags, "entries", stdErr, exit)
	rf, _ := arch.ForName(arch.Thumb)
	res, err := blockentry.Compute(m, blockentry.Options{
		StackLockWords:  rf.StackLockWords(),
		CountNullChecks: nullChecks,
	})
	if err != nil {
		fmt.Fprintf(stdErr, "error analyzing method: %v\n", err)
		exit(1)
	}
	instrs, err := bytecode.Instructions(m.Code)
	if err != nil {
		fmt.Fprintf(stdErr, "error decoding method: %v\n", err)
		exit(1)
	}

	fmt.Fprintf(stdOut, "method: %s\n", m.Name)
	fmt.Fprintf(stdOut, "has_loops: %t\n", res.HasLoops)
	fmt.Fprintf(stdOut, "locks: %d (%d stack words)\n", res.NumLocks, res.StackLockWords)
	if nullChecks {
		fmt.Fprintf(stdOut, "null_check_candidates: %d\n", res.NullCheckCandidates)
	}
	for _, in := range instrs {
		block := ""
		if res.IsBlockStart(in.BCI) {
			block = " block"
		}
		fmt.Fprintf(stdOut, "%5d %-14s %2d%s\n", in.BCI, bytecode.Name(in.Opcode), res.EntryCount(in.BCI), block)
	}
	exit(0)
}

func doCompile(args []string, stdOut, stdErr io.Writer, exit func(code int), withCode bool) {
	name := "relocs"
	if withCode {
		name = "compile"
	}
	flags := flag.NewFlagSet(name, flag.ContinueOnError)
	flags.SetOutput(stdErr)

	var help bool
	flags.BoolVar(&help, "h", false, "print usage")

	var archName string
	flags.StringVar(&archName, "arch", arch.Thumb, "target architecture. Supported values: "+arch.Thumb)

	var comments bool
	flags.BoolVar(&comments, "comments", false, "record a comment relocation per bytecode")

	var trace bool
	flags.BoolVar(&trace, "trace", false, "log compiler events to stderr")

	var cse bool
	flags.BoolVar(&cse, "cse", true, "reuse registers holding locals")

	var size, maxSize sizeFlag
	size.bytes, maxSize.bytes = 1024, 64*1024
	flags.Var(&size, "size", "initial code buffer size, e.g. 512 or 4k")
	flags.Var(&maxSize, "max-size", "maximum code buffer size, e.g. 64k")

	if err := flags.Parse(args); err != nil {
		// The flag package already printed the error and usage.
		exit(1)
	}

	if help {
		printCommandUsage(stdErr, name, flags)
		exit(0)
	}

	m := readMethod(flags, name, stdErr, exit)

	c := stubjit.NewCompilerConfig().
		WithArchitecture(archName).
		WithCompilerComments(comments).
		WithCSE(cse).
		WithCodeBufferSize(int(size.bytes)).
		WithMaxCodeBufferSize(int(maxSize.bytes))
	if trace {
		logger := logrus.New()
		logger.SetOutput(stdErr)
		logger.SetLevel(logrus.DebugLevel)
		c = c.WithLogger(logger).WithTrace(true)
	}

	code, err := stubjit.Compile(context.Background(), c, m)
	if err != nil {
		if errors.Is(err, stubjit.ErrUnsupportedBytecode) {
			fmt.Fprintf(stdErr, "method stays interpreted: %v\n", err)
		} else {
			fmt.Fprintf(stdErr, "error compiling method: %v\n", err)
		}
		exit(1)
	}

	if withCode {
		fmt.Fprintf(stdOut, "method: %s\n", code.Name)
		fmt.Fprintf(stdOut, "code: %s, relocations: %s\n",
			units.BytesSize(float64(code.CodeSize)), units.BytesSize(float64(code.RelocationSize)))
		if len(code.LoopHeaders) > 0 {
			fmt.Fprintf(stdOut, "osr entries: %v\n", code.LoopHeaders)
		}
		fmt.Fprint(stdOut, hex.Dump(code.Code()))
	}
	printRelocations(stdOut, code.SortedRelocations())
	exit(0)
}

func printRelocations(w io.Writer, entries []stubjit.Relocation) {
	fmt.Fprintf(w, "relocations: %d\n", len(entries))
	for _, e := range entries {
		var detail string
		switch e.Kind {
		case relocation.KindOSRStub:
			detail = fmt.Sprintf("bci=%d", e.BCI)
		case relocation.KindNPEItem, relocation.KindPreLoad:
			detail = fmt.Sprintf("ldr=%d", e.Payload)
		case relocation.KindComment:
			detail = fmt.Sprintf("%q", e.Comment)
		}
		fmt.Fprintf(w, "%6d  %-13s %s\n", e.CodeOffset, e.Kind, detail)
	}
}

func readMethod(flags *flag.FlagSet, name string, stdErr io.Writer, exit func(code int)) *stubjit.Method {
	if flags.NArg() < 1 {
		fmt.Fprintln(stdErr, "missing path to method file")
		printCommandUsage(stdErr, name, flags)
		exit(1)
	}
	data, err := os.ReadFile(flags.Arg(0))
	if err != nil {
		fmt.Fprintf(stdErr, "error reading method file: %v\n", err)
		exit(1)
	}
	m, err := stubjit.LoadMethod(data)
	if err != nil {
		fmt.Fprintf(stdErr, "error loading method: %v\n", err)
		exit(1)
	}
	return m
}

func printUsage(stdErr io.Writer) {
	fmt.Fprintln(stdErr, "stubjit CLI")
	fmt.Fprintln(stdErr)
	fmt.Fprintln(stdErr, "Usage:\n  stubjit <command>")
	fmt.Fprintln(stdErr)
	fmt.Fprintln(stdErr, "Commands:")
	fmt.Fprintln(stdErr, "  entries\tPrints the branch entry counts of a method")
	fmt.Fprintln(stdErr, "  compile\tCompiles a method and prints its code and relocations")
	fmt.Fprintln(stdErr, "  relocs\tCompiles a method and prints its relocations")
	fmt.Fprintln(stdErr, "  version\tDisplays the version of stubjit CLI")
}

func printCommandUsage(stdErr io.Writer, name string, flags *flag.FlagSet) {
	fmt.Fprintln(stdErr, "stubjit CLI")
	fmt.Fprintln(stdErr)
	fmt.Fprintf(stdErr, "Usage:\n  stubjit %s <options> <path to method file>\n", name)
	fmt.Fprintln(stdErr)
	fmt.Fprintln(stdErr, "Options:")
	flags.PrintDefaults()
}

// sizeFlag parses sizes like "512", "4k" or "64KiB".
type sizeFlag struct {
	bytes int64
}

func (f *sizeFlag) String() string {
	return units.BytesSize(float64(f.bytes))
}

func (f *sizeFlag) Set(s string) error {
	n, err := units.RAMInBytes(s)
	if err != nil {
		return err
	}
	f.bytes = n
	return nil
}
