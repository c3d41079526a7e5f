// Command optree loads a serialized root program, runs it, and reports its
// final dispatch tier, modeled line-for-line on cmd/wazero's flag-based
// doMain shape.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/optree-lang/optree"
)

const version = "0.1.0-dev"

func main() {
	os.Exit(doMain(os.Stdout, os.Stderr))
}

// doMain is separated out for the purpose of unit testing.
func doMain(stdOut, stdErr io.Writer) int {
	flag.CommandLine.SetOutput(stdErr)

	var help bool
	flag.BoolVar(&help, "h", false, "Prints usage.")
	flag.Parse()

	if help || flag.NArg() == 0 {
		printUsage(stdErr)
		return 0
	}

	switch subCmd := flag.Arg(0); subCmd {
	case "run":
		return doRun(flag.Args()[1:], stdOut, stdErr)
	case "version":
		fmt.Fprintln(stdOut, version)
		return 0
	default:
		fmt.Fprintln(stdErr, "invalid command")
		printUsage(stdErr)
		return 1
	}
}

func doRun(args []string, stdOut, stdErr io.Writer) int {
	flags := flag.NewFlagSet("run", flag.ExitOnError)
	flags.SetOutput(stdErr)

	var help bool
	flags.BoolVar(&help, "h", false, "Prints usage.")

	var trace bool
	flags.BoolVar(&trace, "trace", false,
		"Prints disassembled bytecode before running.")

	_ = flags.Parse(args)

	if help {
		printRunUsage(stdErr, flags)
		return 0
	}

	if flags.NArg() < 1 {
		fmt.Fprintln(stdErr, "missing path to root program file")
		printRunUsage(stdErr, flags)
		return 1
	}
	rootPath := flags.Arg(0)

	data, err := os.ReadFile(rootPath)
	if err != nil {
		fmt.Fprintf(stdErr, "error reading root program: %v\n", err)
		return 1
	}

	tbl, err := optree.BuildTable(optree.CoreTable())
	if err != nil {
		fmt.Fprintf(stdErr, "error building instruction table: %v\n", err)
		return 1
	}

	root, err := optree.DeserializeRootProgram(rootPath, tbl, data, nil, nil)
	if err != nil {
		fmt.Fprintf(stdErr, "error deserializing root program: %v\n", err)
		return 1
	}

	if trace {
		fmt.Fprintln(stdOut, root.Disassemble(tbl))
	}

	ctx := context.Background()
	res, err := root.Execute(ctx, nil)
	if err != nil {
		fmt.Fprintf(stdErr, "error running %s: %v\n", rootPath, err)
		return 1
	}

	fmt.Fprintf(stdOut, "tier: %s\n", root.Tier())
	if res.HasValue {
		fmt.Fprintf(stdOut, "result: %d\n", res.Value)
	} else {
		fmt.Fprintln(stdOut, "result: (void)")
	}
	return 0
}

func printUsage(stdErr io.Writer) {
	fmt.Fprintln(stdErr, "optree CLI")
	fmt.Fprintln(stdErr)
	fmt.Fprintln(stdErr, "Usage:\n  optree <command>")
	fmt.Fprintln(stdErr)
	fmt.Fprintln(stdErr, "Commands:")
	fmt.Fprintln(stdErr, "  run\t\tRuns a serialized root program")
	fmt.Fprintln(stdErr, "  version\tDisplays the version of the optree CLI")
}

func printRunUsage(stdErr io.Writer, flags *flag.FlagSet) {
	fmt.Fprintln(stdErr, "optree CLI")
	fmt.Fprintln(stdErr)
	fmt.Fprintln(stdErr, "Usage:\n  optree run <options> <path to root program file>")
	fmt.Fprintln(stdErr)
	fmt.Fprintln(stdErr, "Options:")
	flags.PrintDefaults()
}
