package executor

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/molsim/suite-runner/gating"
	"github.com/molsim/suite-runner/types"
)

func writeScript(t *testing.T, dir, name, body string) {
	t.Helper()
	path := filepath.Join(dir, filepath.FromSlash(name))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(body), 0o755))
}

func shExecutor(t *testing.T, dir string) *ScriptExecutor {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("sh-based fixtures")
	}
	return &ScriptExecutor{TestDir: dir, Interpreter: []string{"sh"}}
}

func TestScriptExecutorOK(t *testing.T) {
	dir := t.TempDir()
	writeScript(t, dir, "ok.py", "echo running\nexit 0\n")
	e := shExecutor(t, dir)

	var out bytes.Buffer
	sc := NewScope(&out, gating.New())
	require.NoError(t, e.Execute(context.Background(), "ok.py", sc))
	assert.Contains(t, out.String(), "running")
}

func TestScriptExecutorSkip(t *testing.T) {
	dir := t.TempDir()
	writeScript(t, dir, "skip.py", "echo 'no lammps' >&2\nexit 77\n")
	e := shExecutor(t, dir)

	err := e.Execute(context.Background(), "skip.py", NewScope(nil, gating.New()))
	var skip *types.SkipError
	require.True(t, errors.As(err, &skip))
	assert.Equal(t, "no lammps", skip.Reason)
}

func TestScriptExecutorFail(t *testing.T) {
	dir := t.TempDir()
	writeScript(t, dir, "fail.py", "echo 'context line' >&2\necho 'assert broke' >&2\nexit 1\n")
	e := shExecutor(t, dir)

	err := e.Execute(context.Background(), "fail.py", NewScope(nil, gating.New()))
	var fail *types.FailError
	require.True(t, errors.As(err, &fail))
	assert.Equal(t, "assert broke", fail.Msg)
	assert.Contains(t, fail.Trace(), "context line")
}

func TestScriptExecutorExitRequest(t *testing.T) {
	dir := t.TempDir()
	writeScript(t, dir, "quit.py", "exit 7\n")
	e := shExecutor(t, dir)

	err := e.Execute(context.Background(), "quit.py", NewScope(nil, gating.New()))
	var exit *types.ExitError
	require.True(t, errors.As(err, &exit))
	assert.Equal(t, 7, exit.Code)
}

func TestScriptExecutorSignalDeathIsFault(t *testing.T) {
	dir := t.TempDir()
	writeScript(t, dir, "boom.py", "echo 'stack text' >&2\nkill -9 $$\n")
	e := shExecutor(t, dir)

	err := e.Execute(context.Background(), "boom.py", NewScope(nil, gating.New()))
	var fault *ScriptError
	require.True(t, errors.As(err, &fault))
	assert.Contains(t, fault.Trace(), "stack text")
}

func TestScriptExecutorRunsInCurrentDir(t *testing.T) {
	dir := t.TempDir()
	writeScript(t, dir, "pwd.py", "pwd\n")
	e := shExecutor(t, dir)

	workdir := t.TempDir()
	cwd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(workdir))
	t.Cleanup(func() { _ = os.Chdir(cwd) })

	var out bytes.Buffer
	require.NoError(t, e.Execute(context.Background(), "pwd.py", NewScope(&out, gating.New())))
	got, err := filepath.EvalSymlinks(lastLine(out.String()))
	require.NoError(t, err)
	want, err := filepath.EvalSymlinks(workdir)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestScriptExecutorCancelled(t *testing.T) {
	dir := t.TempDir()
	writeScript(t, dir, "slow.py", "sleep 30\n")
	e := shExecutor(t, dir)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := e.Execute(ctx, "slow.py", NewScope(nil, gating.New()))
	require.ErrorIs(t, err, context.Canceled)
}
