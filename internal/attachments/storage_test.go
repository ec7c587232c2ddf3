package attachments

import (
	"context"
	"os"
	"path"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalStorageSave(t *testing.T) {
	dir := t.TempDir()
	s, err := NewLocalStorage(dir, "/uploads/", 1024)
	require.NoError(t, err)

	url, err := s.Save(context.Background(), "Photo.PNG", "image/png", strings.NewReader("pixels"))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(url, "/uploads/"))
	assert.Equal(t, ".png", path.Ext(url))

	data, err := os.ReadFile(filepath.Join(dir, path.Base(url)))
	require.NoError(t, err)
	assert.Equal(t, "pixels", string(data))

	other, err := s.Save(context.Background(), "Photo.PNG", "image/png", strings.NewReader("pixels"))
	require.NoError(t, err)
	assert.NotEqual(t, url, other)
}

func TestLocalStorageStripsUnsafeNames(t *testing.T) {
	dir := t.TempDir()
	s, err := NewLocalStorage(dir, "", 0)
	require.NoError(t, err)

	url, err := s.Save(context.Background(), "../../etc/passwd", "", strings.NewReader("x"))
	require.NoError(t, err)
	assert.Equal(t, "/uploads", path.Dir(url))
	assert.Empty(t, path.Ext(url))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestLocalStorageTooLarge(t *testing.T) {
	dir := t.TempDir()
	s, err := NewLocalStorage(dir, "/files", 4)
	require.NoError(t, err)

	_, err = s.Save(context.Background(), "a.bin", "", strings.NewReader("too many bytes"))
	assert.ErrorIs(t, err, ErrTooLarge)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestLocalStorageRemove(t *testing.T) {
	dir := t.TempDir()
	s, err := NewLocalStorage(dir, "/uploads", 0)
	require.NoError(t, err)
	ctx := context.Background()

	url, err := s.Save(ctx, "leaf.jpg", "image/jpeg", strings.NewReader("green"))
	require.NoError(t, err)

	require.NoError(t, s.Remove(ctx, url))
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)

	// Already gone
	assert.NoError(t, s.Remove(ctx, url))

	for _, bad := range []string{"/elsewhere/x.jpg", "/uploads/", "/uploads/../chat.db", "/uploads/a/b.jpg"} {
		assert.ErrorIs(t, s.Remove(ctx, bad), ErrUnknownObject, bad)
	}
}
