package labels

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_OneLabelPerLine(t *testing.T) {
	tbl, err := Parse(strings.NewReader("person\nbicycle\ncar\n"), "test")
	require.NoError(t, err)

	assert.Equal(t, 3, tbl.Len())
	assert.Equal(t, []string{"person", "bicycle", "car"}, tbl.Names())
	assert.Equal(t, "test", tbl.Source())
}

func TestParse_BOMAndWhitespace(t *testing.T) {
	tbl, err := Parse(strings.NewReader("\uFEFF  person \r\n\tcar\n"), "bom")
	require.NoError(t, err)

	name, ok := tbl.Lookup(1)
	require.True(t, ok)
	assert.Equal(t, "person", name)
	name, ok = tbl.Lookup(2)
	require.True(t, ok)
	assert.Equal(t, "car", name)
}

func TestParse_BlankLinesKeepSlots(t *testing.T) {
	tbl, err := Parse(strings.NewReader("a\n\nc\n\n\n"), "gaps")
	require.NoError(t, err)

	assert.Equal(t, 3, tbl.Len(), "trailing blank lines are dropped")
	name, ok := tbl.Lookup(2)
	require.True(t, ok)
	assert.Empty(t, name)
	name, ok = tbl.Lookup(3)
	require.True(t, ok)
	assert.Equal(t, "c", name)
}

func TestParse_NFCNormalization(t *testing.T) {
	// "e" followed by a combining acute accent composes to U+00E9.
	tbl, err := Parse(strings.NewReader("café\n"), "nfc")
	require.NoError(t, err)

	name, ok := tbl.Lookup(1)
	require.True(t, ok)
	assert.Equal(t, "café", name)
}

func TestParse_Empty(t *testing.T) {
	_, err := Parse(strings.NewReader("\n\n"), "empty")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "label file is empty")
}

func TestLookup_Bounds(t *testing.T) {
	tbl := New([]string{"a", "b"})

	tests := []struct {
		id   int
		ok   bool
		want string
	}{
		{0, false, ""},
		{-1, false, ""},
		{1, true, "a"},
		{2, true, "b"},
		{3, false, ""},
	}
	for _, tt := range tests {
		got, ok := tbl.Lookup(tt.id)
		assert.Equal(t, tt.ok, ok, "id %d", tt.id)
		assert.Equal(t, tt.want, got, "id %d", tt.id)
	}
}

func TestNew_CopiesInput(t *testing.T) {
	names := []string{"a", "b"}
	tbl := New(names)
	names[0] = "changed"

	got, _ := tbl.Lookup(1)
	assert.Equal(t, "a", got)

	out := tbl.Names()
	out[1] = "changed"
	got, _ = tbl.Lookup(2)
	assert.Equal(t, "b", got)
}

func TestNilTable(t *testing.T) {
	var tbl *Table
	assert.Equal(t, 0, tbl.Len())
	_, ok := tbl.Lookup(1)
	assert.False(t, ok)
	assert.Nil(t, tbl.Names())
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "labels.txt")
	require.NoError(t, os.WriteFile(path, []byte("dog\ncat\n"), 0o600))

	tbl, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 2, tbl.Len())
	assert.Equal(t, path, tbl.Source())
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "labels path cannot be empty")

	_, err = Load(filepath.Join(t.TempDir(), "missing.txt"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to open labels")
}

func TestCOCO(t *testing.T) {
	tbl := COCO()
	assert.Equal(t, 90, tbl.Len())

	name, ok := tbl.Lookup(1)
	require.True(t, ok)
	assert.Equal(t, "person", name)

	name, ok = tbl.Lookup(18)
	require.True(t, ok)
	assert.Equal(t, "dog", name)

	name, ok = tbl.Lookup(90)
	require.True(t, ok)
	assert.Equal(t, "toothbrush", name)
}

func TestLoadOrDefault(t *testing.T) {
	tbl, err := LoadOrDefault("")
	require.NoError(t, err)
	assert.Equal(t, "builtin:coco", tbl.Source())
}
