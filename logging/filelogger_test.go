package logging

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/molsim/suite-runner/reporting"
	"github.com/molsim/suite-runner/types"
)

func TestFileLoggerWritesSummaryAndTraces(t *testing.T) {
	base := t.TempDir()
	l, err := NewFileLogger(base, "abc123")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(base, "testrun-abc123"), l.RunDir())

	require.NoError(t, l.Consume(&types.Result{Name: "a.py", Status: types.StatusOK}))
	require.NoError(t, l.Consume(&types.Result{
		Name:      "fio/oi.py",
		Status:    types.StatusFail,
		Error:     "assert broke",
		Traceback: "stack text",
		PID:       123,
	}))

	summary := reporting.Summarize([]*types.Result{
		{Name: "a.py", Status: types.StatusOK},
		{Name: "fio/oi.py", Status: types.StatusFail},
	})
	require.NoError(t, l.Complete(summary))

	raw, err := os.ReadFile(filepath.Join(l.RunDir(), "summary.log"))
	require.NoError(t, err)
	assert.Contains(t, string(raw), "a.py")
	assert.Contains(t, string(raw), "tests=2 passes=1 failures=1 errors=0 skipped=0 passed=false")

	trace, err := os.ReadFile(filepath.Join(l.RunDir(), "failed", "fio_oi_py.log"))
	require.NoError(t, err)
	assert.Contains(t, string(trace), "assert broke")
	assert.Contains(t, string(trace), "stack text")
}

func TestFileLoggerNoTraceForPassing(t *testing.T) {
	l, err := NewFileLogger(t.TempDir(), "run1")
	require.NoError(t, err)
	require.NoError(t, l.Consume(&types.Result{Name: "a.py", Status: types.StatusOK}))

	entries, err := os.ReadDir(filepath.Join(l.RunDir(), "failed"))
	require.NoError(t, err)
	assert.Empty(t, entries)
}
