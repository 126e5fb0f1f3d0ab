package routing

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultTable(t *testing.T) {
	tbl := DefaultTable()
	assert.Equal(t, TableVersion, tbl.Version)
	assert.True(t, tbl.RunOnMaster("gui/run.py"))
	assert.False(t, tbl.RunOnMaster("atoms.py"))
}

func TestLookupNormalizesSeparators(t *testing.T) {
	tbl := DefaultTable()
	assert.True(t, tbl.RunOnMaster(`gui\run.py`))
	assert.True(t, tbl.RunOnMaster(`fio\oi.py`))
}

func TestLoadTable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "routing.yaml")
	require.NoError(t, os.WriteFile(path, []byte(
		"version: 1\ntests:\n  - special.py\n  - sub/other.py\n"), 0o644))

	tbl, err := LoadTable(path)
	require.NoError(t, err)
	assert.Equal(t, 2, tbl.Tests())
	assert.True(t, tbl.RunOnMaster("special.py"))
	assert.True(t, tbl.RunOnMaster(`sub\other.py`))
	assert.False(t, tbl.RunOnMaster("gui/run.py"))
}

func TestLoadTableRejectsUnknownVersion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "routing.yaml")
	require.NoError(t, os.WriteFile(path, []byte("version: 9\ntests: []\n"), 0o644))

	_, err := LoadTable(path)
	require.ErrorContains(t, err, "unsupported routing table version")
}

func TestLoadTableMissingFile(t *testing.T) {
	_, err := LoadTable(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}
