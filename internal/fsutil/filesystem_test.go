package fsutil

import (
	"errors"
	"io"
	"io/fs"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryFileSystem_CreateAndRead(t *testing.T) {
	m := NewMemoryFileSystem()
	w, err := m.Create("out/run.csv")
	require.NoError(t, err)
	_, _ = w.Write([]byte("a,b\n"))
	require.NoError(t, w.Close())

	got, err := m.ReadFile("out/./run.csv")
	require.NoError(t, err)
	assert.Equal(t, "a,b\n", string(got))

	f, err := m.Open("out/run.csv")
	require.NoError(t, err)
	body, err := io.ReadAll(f)
	require.NoError(t, err)
	assert.Equal(t, "a,b\n", string(body))
}

func TestMemoryFileSystem_ReadDirSorted(t *testing.T) {
	m := NewMemoryFileSystem()
	require.NoError(t, m.WriteFile("frames/0002.png", []byte("b"), 0o644))
	require.NoError(t, m.WriteFile("frames/0001.png", []byte("a"), 0o644))
	require.NoError(t, m.WriteFile("frames/sub/x.png", nil, 0o644))
	require.NoError(t, m.MkdirAll("frames/sub", 0o755))
	require.NoError(t, m.WriteFile("other/0000.png", nil, 0o644))

	entries, err := m.ReadDir("frames")
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	assert.Equal(t, []string{"0001.png", "0002.png", "sub"}, names)
	assert.True(t, entries[2].IsDir())

	_, err = m.ReadDir("missing")
	assert.True(t, errors.Is(err, fs.ErrNotExist))
}

func TestWriteAtomic(t *testing.T) {
	m := NewMemoryFileSystem()
	err := WriteAtomic(m, "results/run.csv", func(w io.Writer) error {
		_, err := w.Write([]byte("ok"))
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"results/run.csv"}, m.Files("results"))
	assert.True(t, m.Exists("results"))

	boom := errors.New("boom")
	err = WriteAtomic(m, "results/run.csv", func(io.Writer) error { return boom })
	assert.ErrorIs(t, err, boom)
	got, _ := m.ReadFile("results/run.csv")
	assert.Equal(t, "ok", string(got), "failed write must not replace the table")
}

func TestOSFileSystem_WriteAtomic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "out.txt")
	var fsys OSFileSystem
	require.NoError(t, WriteAtomic(fsys, path, func(w io.Writer) error {
		_, err := io.WriteString(w, "hello")
		return err
	}))
	got, err := fsys.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(got))
	assert.False(t, fsys.Exists(path+".tmp"))

	entries, err := fsys.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "out.txt", entries[0].Name())
}

func TestMemoryFileSystem_RenameMissing(t *testing.T) {
	m := NewMemoryFileSystem()
	err := m.Rename("a", "b")
	assert.True(t, errors.Is(err, fs.ErrNotExist))
}
