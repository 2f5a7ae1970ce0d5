package local_test

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/vamdc-lines/internal/storage/local"
)

func TestNew(t *testing.T) {
	t.Parallel()

	t.Run("CreatesMissingDir", func(t *testing.T) {
		t.Parallel()
		dir := filepath.Join(t.TempDir(), "staging", "xsams")
		store, err := local.New(local.Config{BaseDir: dir})
		require.NoError(t, err)
		assert.DirExists(t, dir)
		assert.Equal(t, dir, store.BaseDir())
	})

	t.Run("MissingBaseDir", func(t *testing.T) {
		t.Parallel()
		_, err := local.New(local.Config{})
		assert.Error(t, err)
	})

	t.Run("BaseDirIsAFile", func(t *testing.T) {
		t.Parallel()
		file := filepath.Join(t.TempDir(), "plain")
		require.NoError(t, os.WriteFile(file, []byte("x"), 0o600))
		_, err := local.New(local.Config{BaseDir: file})
		assert.Error(t, err)
	})
}

func TestPutObject(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	store, err := local.New(local.Config{BaseDir: dir})
	require.NoError(t, err)
	ctx := context.Background()

	t.Run("NestedPath", func(t *testing.T) {
		body := []byte("<XSAMSData/>")
		uri, err := store.PutObject(ctx, "req-1/VALD_tok.xsams", "application/x-xsams+xml", bytes.NewReader(body))
		require.NoError(t, err)

		want := filepath.Join(dir, "req-1", "VALD_tok.xsams")
		assert.Equal(t, "file://"+filepath.ToSlash(want), uri)
		got, err := os.ReadFile(want) // #nosec G304 -- test reads from its temp directory.
		require.NoError(t, err)
		assert.Equal(t, body, got)
	})

	t.Run("Overwrite", func(t *testing.T) {
		_, err := store.PutObject(ctx, "same.xsams", "", bytes.NewReader([]byte("old")))
		require.NoError(t, err)
		_, err = store.PutObject(ctx, "same.xsams", "", bytes.NewReader([]byte("new")))
		require.NoError(t, err)
		got, err := os.ReadFile(filepath.Join(dir, "same.xsams")) // #nosec G304 -- test reads from its temp directory.
		require.NoError(t, err)
		assert.Equal(t, "new", string(got))
	})

	t.Run("EmptyPath", func(t *testing.T) {
		_, err := store.PutObject(ctx, " ", "", bytes.NewReader(nil))
		assert.Error(t, err)
	})

	t.Run("Traversal", func(t *testing.T) {
		_, err := store.PutObject(ctx, "../escape.xsams", "", bytes.NewReader([]byte("x")))
		assert.ErrorIs(t, err, local.ErrPathEscapes)
	})
}
