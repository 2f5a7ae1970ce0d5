package gcs

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"cloud.google.com/go/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
)

func newTestStore(t *testing.T, handler http.Handler) *BlobStore {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	client, err := storage.NewClient(context.Background(),
		option.WithEndpoint(srv.URL), option.WithoutAuthentication())
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	store, err := New(client, Config{Bucket: "vamdc-archive"})
	require.NoError(t, err)
	return store
}

func TestNewValidates(t *testing.T) {
	t.Parallel()

	_, err := New(nil, Config{Bucket: "b"})
	require.Error(t, err)
	_, err = New(&storage.Client{}, Config{})
	require.Error(t, err)
}

func TestPutObjectUploads(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	var bodies []string
	store := newTestStore(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		assert.NoError(t, err)
		mu.Lock()
		bodies = append(bodies, string(body))
		mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"bucket":"vamdc-archive","name":"lines/VALD_t.xsams"}`)
	}))

	uri, err := store.PutObject(context.Background(), "/lines/VALD_t.xsams", "application/x-xsams+xml",
		strings.NewReader("<XSAMSData/>"))
	require.NoError(t, err)
	assert.Equal(t, "gs://vamdc-archive/lines/VALD_t.xsams", uri)

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, bodies)
	assert.Contains(t, strings.Join(bodies, ""), "<XSAMSData/>")
}

func TestPutObjectServerError(t *testing.T) {
	t.Parallel()

	store := newTestStore(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	_, err := store.PutObject(context.Background(), "x.xsams", "", strings.NewReader("x"))
	require.Error(t, err)
}

type recordingPutter struct {
	names  []string
	bodies []string
}

func (p *recordingPutter) PutObject(_ context.Context, name, _ string, r io.Reader) (string, error) {
	body, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	p.names = append(p.names, name)
	p.bodies = append(p.bodies, string(body))
	return "gs://bucket/" + name, nil
}

func TestArchiverUploadsFilesUnderPrefix(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	a := filepath.Join(dir, "VALD_1.xsams")
	b := filepath.Join(dir, "CDMS_2.xsams")
	require.NoError(t, os.WriteFile(a, []byte("a"), 0o600))
	require.NoError(t, os.WriteFile(b, []byte("b"), 0o600))

	putter := &recordingPutter{}
	uris, err := NewArchiver(putter, "/runs/2026/", nil).Archive(context.Background(),
		[]string{a, filepath.Join(dir, "missing.xsams"), b})
	require.Error(t, err)
	assert.Equal(t, []string{"gs://bucket/runs/2026/VALD_1.xsams", "gs://bucket/runs/2026/CDMS_2.xsams"}, uris)
	assert.Equal(t, []string{"a", "b"}, putter.bodies)
	assert.FileExists(t, a)
}
