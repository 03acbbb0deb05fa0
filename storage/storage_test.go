package storage

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalStorage_RoundTrip(t *testing.T) {
	ctx := context.Background()
	store, err := NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	id := uuid.MustParse("3f2504e0-4f89-11d3-9a0c-0305e82c3301")
	path, err := store.Upload(ctx, id, "Slab Notes.md", strings.NewReader("Cover shall be 20mm."))
	require.NoError(t, err)
	assert.Equal(t, "3f/3f2504e0-4f89-11d3-9a0c-0305e82c3301_Slab_Notes.md", path)

	rc, err := store.Download(ctx, path)
	require.NoError(t, err)
	data, err := io.ReadAll(rc)
	require.NoError(t, rc.Close())
	require.NoError(t, err)
	assert.Equal(t, "Cover shall be 20mm.", string(data))

	require.NoError(t, store.Delete(ctx, path))
	_, err = store.Download(ctx, path)
	assert.ErrorIs(t, err, ErrObjectNotFound)

	// deleting twice is fine
	assert.NoError(t, store.Delete(ctx, path))
}

func TestLocalStorage_RejectsEscapingPaths(t *testing.T) {
	store, err := NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	_, err = store.Download(context.Background(), "../../etc/passwd")
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrObjectNotFound)

	assert.Error(t, store.Delete(context.Background(), ".."))
}

func TestGenerateStoragePath_SanitizesName(t *testing.T) {
	id := uuid.MustParse("aa2504e0-4f89-11d3-9a0c-0305e82c3301")

	tests := []struct {
		filename string
		want     string
	}{
		{"report.TXT", "aa/aa2504e0-4f89-11d3-9a0c-0305e82c3301_report.txt"},
		{"../../secret.md", "aa/aa2504e0-4f89-11d3-9a0c-0305e82c3301_secret.md"},
		{`C:\docs\a b.html`, "aa/aa2504e0-4f89-11d3-9a0c-0305e82c3301_a_b.html"},
		{".md", "aa/aa2504e0-4f89-11d3-9a0c-0305e82c3301_document.md"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, generateStoragePath(id, tt.filename), tt.filename)
	}
}

func TestNewStorage_Validation(t *testing.T) {
	_, err := NewStorage(context.Background(), StorageConfig{Type: StorageTypeS3})
	assert.Error(t, err)

	_, err = NewStorage(context.Background(), StorageConfig{Type: StorageTypeGCS})
	assert.Error(t, err)

	_, err = NewStorage(context.Background(), StorageConfig{Type: "ftp"})
	assert.Error(t, err)

	s, err := NewStorage(context.Background(), StorageConfig{Type: StorageTypeLocal, LocalPath: t.TempDir()})
	require.NoError(t, err)
	assert.IsType(t, &LocalStorage{}, s)
}

func TestContentType(t *testing.T) {
	assert.Equal(t, "text/markdown; charset=utf-8", contentType("a.MD"))
	assert.Equal(t, "application/octet-stream", contentType("a.bin"))
}
