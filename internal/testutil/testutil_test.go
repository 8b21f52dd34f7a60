package testutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetProjectRoot(t *testing.T) {
	root, err := GetProjectRoot()
	require.NoError(t, err)
	assert.NotEmpty(t, root)
	assert.True(t, FileExists(filepath.Join(root, "go.mod")))
}

func TestGetProjectRootValidated(t *testing.T) {
	root, err := GetProjectRootValidated()
	require.NoError(t, err)
	assert.True(t, DirExists(filepath.Join(root, "cmd")))
}

func TestGetTestDataDir(t *testing.T) {
	assert.Contains(t, GetTestDataDir(t), "testdata")
	assert.Contains(t, GetScenesDir(t), filepath.Join("testdata", "scenes"))
}

func TestEnsureDir(t *testing.T) {
	testDir := filepath.Join(t.TempDir(), "test", "nested", "dir")

	require.NoError(t, EnsureDir(testDir))
	assert.True(t, DirExists(testDir))
}

func TestFileAndDirExists(t *testing.T) {
	assert.False(t, FileExists("/non/existent/file"))
	assert.False(t, DirExists("/non/existent/dir"))

	dir := t.TempDir()
	file := filepath.Join(dir, "f.txt")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o600))
	assert.True(t, FileExists(file))
	assert.False(t, DirExists(file))
	assert.True(t, DirExists(dir))
}

func TestValidateProjectRoot(t *testing.T) {
	dir := t.TempDir()
	err := ValidateProjectRoot(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "go.mod not found")

	require.NoError(t, os.WriteFile(filepath.Join(dir, "go.mod"), []byte("module x\n"), 0o600))
	err = ValidateProjectRoot(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "internal")

	require.NoError(t, EnsureDir(filepath.Join(dir, "internal")))
	require.NoError(t, EnsureDir(filepath.Join(dir, "cmd")))
	assert.NoError(t, ValidateProjectRoot(dir))
}

func TestWriteLabelFile(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "labels")
	path, err := WriteLabelFile(dir, "tiny.txt", []string{"background", "person"})
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "background\nperson\n", string(data))
}

func TestFindUp(t *testing.T) {
	root := t.TempDir()
	nested := filepath.Join(root, "a", "b", "c")
	require.NoError(t, EnsureDir(nested))
	require.NoError(t, os.WriteFile(filepath.Join(root, "marker"), nil, 0o600))

	dir, err := findUp(nested, "marker")
	require.NoError(t, err)
	assert.Equal(t, root, dir)

	_, err = findUp(nested, "no-such-marker-file")
	assert.Error(t, err)
}
