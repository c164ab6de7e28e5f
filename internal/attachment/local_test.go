package attachment

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalStore_SaveAndDelete(t *testing.T) {
	store, err := NewLocalStore(t.TempDir(), "/uploads/")
	require.NoError(t, err)

	att, err := store.Save("../../etc/passwd", strings.NewReader("hello"))
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(att.URL, "/uploads/"))
	assert.True(t, strings.HasSuffix(att.URL, "-passwd"))
	assert.Equal(t, store.Dir(), filepath.Dir(att.LocalPath))

	data, err := os.ReadFile(att.LocalPath)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))

	require.NoError(t, store.Delete(att.LocalPath))
	_, err = os.Stat(att.LocalPath)
	assert.True(t, os.IsNotExist(err))

	assert.NoError(t, store.Delete(att.LocalPath), "deleting twice is not an error")
}

func TestLocalStore_AbsolutePublicURL(t *testing.T) {
	store, err := NewLocalStore(t.TempDir(), "https://cdn.example.com/files/")
	require.NoError(t, err)

	att, err := store.Save("photo.png", strings.NewReader("png"))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(att.URL, "https://cdn.example.com/files/"), att.URL)
	assert.True(t, strings.HasSuffix(att.URL, "-photo.png"))
}

func TestLocalStore_DeleteOutsideRoot(t *testing.T) {
	store, err := NewLocalStore(t.TempDir(), "/uploads")
	require.NoError(t, err)

	outside := filepath.Join(t.TempDir(), "keep.txt")
	require.NoError(t, os.WriteFile(outside, []byte("x"), 0o644))

	assert.ErrorIs(t, store.Delete(outside), ErrOutsideRoot)
	assert.ErrorIs(t, store.Delete(store.Dir()), ErrOutsideRoot)
	_, err = os.Stat(outside)
	assert.NoError(t, err)
}

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"photo.png", "photo.png"},
		{"a/b/c.txt", "c.txt"},
		{"..", "unnamed"},
		{"", "unnamed"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, sanitizeFilename(tt.in))
		})
	}
}
