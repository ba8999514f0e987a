package static

import (
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func writeTestFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestCollector_CollectFirstSourceWins(t *testing.T) {
	dir := t.TempDir()
	app := filepath.Join(dir, "app")
	vendor := filepath.Join(dir, "vendor")
	writeTestFile(t, filepath.Join(app, "css", "site.css"), "body{}")
	writeTestFile(t, filepath.Join(vendor, "css", "site.css"), "vendor")
	writeTestFile(t, filepath.Join(vendor, "js", "lib.js"), "var x;")

	root := filepath.Join(dir, "build")
	c := NewCollector([]string{app, filepath.Join(dir, "missing"), vendor}, root, "", zap.NewNop())

	n, err := c.Collect()
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	data, err := os.ReadFile(filepath.Join(root, "css", "site.css"))
	require.NoError(t, err)
	assert.Equal(t, "body{}", string(data))
	assert.FileExists(t, filepath.Join(root, "js", "lib.js"))
}

func TestCollector_CollectRejectsFileSource(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "not-a-dir")
	writeTestFile(t, file, "x")

	_, err := NewCollector([]string{file}, filepath.Join(dir, "out"), "", zap.NewNop()).Collect()
	assert.Error(t, err)
}

func TestCollector_Compress(t *testing.T) {
	dir := t.TempDir()
	root := filepath.Join(dir, "build")
	writeTestFile(t, filepath.Join(root, "js", "app.js"), "console.log('hi')")
	writeTestFile(t, filepath.Join(root, "img", "logo.png"), "\x89PNG")

	cacheDir := filepath.Join(dir, "compressed", "CACHE")
	c := NewCollector(nil, root, cacheDir, zap.NewNop())

	n, err := c.Compress()
	require.NoError(t, err)
	assert.Equal(t, 1, n, "png is not compressed")
	assert.NoFileExists(t, filepath.Join(cacheDir, "img", "logo.png.gz"))

	f, err := os.Open(filepath.Join(cacheDir, "js", "app.js.gz"))
	require.NoError(t, err)
	defer f.Close()
	gz, err := gzip.NewReader(f)
	require.NoError(t, err)
	data, err := io.ReadAll(gz)
	require.NoError(t, err)
	assert.Equal(t, "console.log('hi')", string(data))
}

func TestCollector_CompressDisabled(t *testing.T) {
	n, err := NewCollector(nil, t.TempDir(), "", zap.NewNop()).Compress()
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestClearCache(t *testing.T) {
	t.Run("removes cache dir", func(t *testing.T) {
		cacheDir := filepath.Join(t.TempDir(), "CACHE")
		writeTestFile(t, filepath.Join(cacheDir, "js", "app.js.gz"), "x")

		removed, err := ClearCache(cacheDir)
		require.NoError(t, err)
		assert.True(t, removed)
		assert.NoDirExists(t, cacheDir)
	})

	t.Run("missing dir is a no-op", func(t *testing.T) {
		removed, err := ClearCache(filepath.Join(t.TempDir(), "CACHE"))
		require.NoError(t, err)
		assert.False(t, removed)
	})

	t.Run("refuses other dirs", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), "static")
		writeTestFile(t, filepath.Join(dir, "keep.css"), "x")

		removed, err := ClearCache(dir)
		require.ErrorIs(t, err, ErrUnsafeCacheDir)
		assert.False(t, removed)
		assert.FileExists(t, filepath.Join(dir, "keep.css"))
	})

	t.Run("refuses files", func(t *testing.T) {
		file := filepath.Join(t.TempDir(), "CACHE")
		writeTestFile(t, file, "x")

		_, err := ClearCache(file)
		require.ErrorIs(t, err, ErrUnsafeCacheDir)
		assert.FileExists(t, file)
	})
}
