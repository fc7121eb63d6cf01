// Package local_test tests the filesystem capture store.
package local_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dropsignal/fleetpoller/internal/capture/local"
)

func TestNew(t *testing.T) {
	t.Run("ValidConfig", func(t *testing.T) {
		store, err := local.New(local.Config{BaseDir: t.TempDir()})
		require.NoError(t, err)
		assert.NotNil(t, store)
	})

	t.Run("MissingBaseDir", func(t *testing.T) {
		_, err := local.New(local.Config{})
		assert.Error(t, err)
	})

	t.Run("BaseDirIsNotADirectory", func(t *testing.T) {
		tempFile, err := os.CreateTemp("", "testfile")
		require.NoError(t, err)
		t.Cleanup(func() {
			_ = os.Remove(tempFile.Name())
		})

		_, err = local.New(local.Config{BaseDir: tempFile.Name()})
		assert.Error(t, err)
	})

	t.Run("CreatesMissingBaseDir", func(t *testing.T) {
		base := filepath.Join(t.TempDir(), "captures")
		_, err := local.New(local.Config{BaseDir: base})
		require.NoError(t, err)
		info, err := os.Stat(base)
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	})
}

func TestPut(t *testing.T) {
	tempDir := t.TempDir()
	store, err := local.New(local.Config{BaseDir: tempDir})
	require.NoError(t, err)

	t.Run("ValidPut", func(t *testing.T) {
		path := "alpha/deadbeef/1724400000000.html"
		data := []byte("<html>challenge</html>")
		uri, err := store.Put(context.Background(), path, "text/html", data)
		require.NoError(t, err)
		assert.Equal(t, "file://"+filepath.Join(tempDir, path), uri)

		read, err := os.ReadFile(filepath.Join(tempDir, path))
		require.NoError(t, err)
		assert.Equal(t, data, read)
	})

	t.Run("EmptyPath", func(t *testing.T) {
		_, err := store.Put(context.Background(), "", "text/html", []byte("data"))
		assert.Error(t, err)
	})

	t.Run("TraversalRejected", func(t *testing.T) {
		_, err := store.Put(context.Background(), "../escape.html", "text/html", []byte("data"))
		assert.Error(t, err)
	})
}
