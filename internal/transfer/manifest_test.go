package transfer

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTree(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for rel, body := range files {
		path := filepath.Join(dir, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	}
	return dir
}

func TestParseManifest(t *testing.T) {
	data := []byte("5\ta.txt\n12\tsub/b.json\n\n")
	entries, malformed := ParseManifest(data)
	require.Empty(t, malformed)
	require.Len(t, entries, 2)
	assert.Equal(t, Entry{Size: 5, Path: "a.txt"}, entries[0])
	assert.Equal(t, Entry{Size: 12, Path: "sub/b.json"}, entries[1])
}

func TestParseManifestCollectsMalformedLines(t *testing.T) {
	data := []byte("5\ta.txt\nnot-a-size\tb.txt\nno-tab-here\n-3\tc.txt\n7\td.txt\n")
	entries, malformed := ParseManifest(data)
	assert.Len(t, entries, 2)
	assert.Equal(t, []string{"not-a-size\tb.txt", "no-tab-here", "-3\tc.txt"}, malformed)
}

func TestVerifyAllPresent(t *testing.T) {
	dir := writeTree(t, map[string]string{
		"a.txt":      "hello",
		"sub/b.json": "{\"k\":1}",
	})
	manifest := filepath.Join(dir, "_manifest.txt")
	require.NoError(t, os.WriteFile(manifest, []byte("5\ta.txt\n7\tsub/b.json\n"), 0o644))

	res := Verify(dir, manifest)
	assert.True(t, res.OK)
	assert.Equal(t, 2, res.Checked)
	assert.Empty(t, res.Missing)
	assert.Empty(t, res.SizeMismatch)
}

func TestVerifyReportsMissingFile(t *testing.T) {
	dir := writeTree(t, map[string]string{"a.txt": "hello"})
	manifest := filepath.Join(dir, "_manifest.txt")
	require.NoError(t, os.WriteFile(manifest, []byte("5\ta.txt\n9\tsub/b.txt\n"), 0o644))

	res := Verify(dir, manifest)
	assert.False(t, res.OK)
	assert.Equal(t, 2, res.Checked)
	assert.Equal(t, []string{"sub/b.txt"}, res.Missing)
}

func TestVerifyReportsSizeMismatch(t *testing.T) {
	dir := writeTree(t, map[string]string{"a.txt": "hello"})
	manifest := filepath.Join(dir, "_manifest.txt")
	require.NoError(t, os.WriteFile(manifest, []byte("99\ta.txt\n"), 0o644))

	res := Verify(dir, manifest)
	assert.False(t, res.OK)
	require.Len(t, res.SizeMismatch, 1)
	assert.Equal(t, Mismatch{Path: "a.txt", Expected: 99, Actual: 5}, res.SizeMismatch[0])
}

func TestVerifyUnreadableManifest(t *testing.T) {
	dir := t.TempDir()
	res := Verify(dir, filepath.Join(dir, "missing-manifest.txt"))
	assert.False(t, res.OK)
	assert.NotEmpty(t, res.Malformed)
	assert.Zero(t, res.Checked)
}

func TestVerifyMalformedLineFailsEvenWhenFilesMatch(t *testing.T) {
	dir := writeTree(t, map[string]string{"a.txt": "hello"})
	manifest := filepath.Join(dir, "_manifest.txt")
	require.NoError(t, os.WriteFile(manifest, []byte("5\ta.txt\ngarbage line\n"), 0o644))

	res := Verify(dir, manifest)
	assert.False(t, res.OK)
	assert.Equal(t, 1, res.Checked)
	assert.Len(t, res.Malformed, 1)
}
