package main

import (
	"bytes"
	"flag"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/optree-lang/optree"
)

func writeAnswerRootFile(t *testing.T) string {
	t.Helper()
	tbl, err := optree.BuildTable(optree.CoreTable())
	require.NoError(t, err)
	bd := optree.NewBuilder("answer", tbl, false)
	bd.BeginRoot(0, 0)
	bd.EmitLoadConstant(int64(42))
	bd.EmitReturn(true)
	require.NoError(t, bd.EndRoot(true))
	root := bd.Build(0, nil)

	data, err := root.Serialize(nil)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "answer.root")
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func TestDoRunPrintsTierAndResult(t *testing.T) {
	path := writeAnswerRootFile(t)

	flag.CommandLine = flag.NewFlagSet(os.Args[0], flag.ContinueOnError)
	var stdOut, stdErr bytes.Buffer
	code := doRun([]string{path}, &stdOut, &stdErr)
	require.Equal(t, 0, code)
	require.Contains(t, stdOut.String(), "tier: uncached")
	require.Contains(t, stdOut.String(), "result: 42")
}

func TestDoRunWithTraceDisassembles(t *testing.T) {
	path := writeAnswerRootFile(t)

	flag.CommandLine = flag.NewFlagSet(os.Args[0], flag.ContinueOnError)
	var stdOut, stdErr bytes.Buffer
	code := doRun([]string{"-trace", path}, &stdOut, &stdErr)
	require.Equal(t, 0, code)
	require.Contains(t, stdOut.String(), "LoadConstant")
}

func TestDoRunMissingFileReportsError(t *testing.T) {
	flag.CommandLine = flag.NewFlagSet(os.Args[0], flag.ContinueOnError)
	var stdOut, stdErr bytes.Buffer
	code := doRun([]string{"/nonexistent/path.root"}, &stdOut, &stdErr)
	require.NotEqual(t, 0, code)
	require.Contains(t, stdErr.String(), "error reading root program")
}
