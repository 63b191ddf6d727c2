package storage

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPutAndRead(t *testing.T) {
	ctx := context.Background()
	fs, err := NewFilesystemStorage(filepath.Join(t.TempDir(), "downloads"))
	require.NoError(t, err)

	path, err := fs.Put(ctx, "static/highlight.mp4", strings.NewReader("reel"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(fs.BaseDir(), "static", "highlight.mp4"), path)

	ok, err := fs.Exists(ctx, "static/highlight.mp4")
	require.NoError(t, err)
	assert.True(t, ok)

	data, err := fs.ReadAll(ctx, "static/highlight.mp4")
	require.NoError(t, err)
	assert.Equal(t, "reel", string(data))

	md, err := fs.GetMetadata(ctx, "static/highlight.mp4")
	require.NoError(t, err)
	assert.EqualValues(t, 4, md.Size)

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp file is cleaned up")
}

func TestPutOverwrites(t *testing.T) {
	ctx := context.Background()
	fs, err := NewFilesystemStorage(t.TempDir())
	require.NoError(t, err)

	_, err = fs.Put(ctx, "subs.srt", strings.NewReader("first"))
	require.NoError(t, err)
	_, err = fs.Put(ctx, "subs.srt", strings.NewReader("second"))
	require.NoError(t, err)

	data, err := fs.ReadAll(ctx, "subs.srt")
	require.NoError(t, err)
	assert.Equal(t, "second", string(data))
}

func TestMissingKey(t *testing.T) {
	ctx := context.Background()
	fs, err := NewFilesystemStorage(t.TempDir())
	require.NoError(t, err)

	ok, err := fs.Exists(ctx, "nope.mp4")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = fs.GetReader(ctx, "nope.mp4")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRejectsTraversal(t *testing.T) {
	ctx := context.Background()
	fs, err := NewFilesystemStorage(t.TempDir())
	require.NoError(t, err)

	for _, key := range []string{"../escape.mp4", "a/../../escape.mp4", "", "."} {
		_, err := fs.Put(ctx, key, strings.NewReader("x"))
		assert.ErrorIs(t, err, ErrInvalidKey, key)

		_, err = fs.GetReader(ctx, key)
		assert.ErrorIs(t, err, ErrInvalidKey, key)
	}
}
