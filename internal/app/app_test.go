package app

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/vamdc-lines/internal/catalog/cache"
	"github.com/JakeFAU/vamdc-lines/internal/config"
)

// MockCloser mocks the Closer interface.
type MockCloser struct {
	mock.Mock
}

// Close satisfies the Closer interface for the mock.
func (m *MockCloser) Close(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func speciesDB(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/nodes":
			_, _ = w.Write([]byte(`[{"shortName":"CDMS","ivoIdentifier":"ivo://vamdc/cdms","tapEndpoint":"https://cdms.example/tap/"}]`))
		case "/species":
			_, _ = w.Write([]byte(`{"ivo://vamdc/cdms":[{"InChIKey":"UGFAIRIUMAVXCW-UHFFFAOYSA-N","name":"CO","speciesType":"molecule"}]}`))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func testConfig(t *testing.T, speciesURL string) config.Config {
	t.Helper()
	dir := t.TempDir()
	return config.Config{
		Cache: config.CacheConfig{Dir: dir, TTL: time.Hour},
		SpeciesDB: config.SpeciesDBConfig{
			NodesURL:   speciesURL + "/nodes",
			SpeciesURL: speciesURL + "/species",
			Timeout:    5 * time.Second,
		},
		Query: config.QueryConfig{
			Concurrency:  2,
			CallTimeout:  5 * time.Second,
			ProbeTimeout: 5 * time.Second,
			UserAgent:    "VAMDC Query store",
			MinWidth:     1e-3,
			MaxDepth:     24,
		},
		Output: config.OutputConfig{
			StagingDir: filepath.Join(dir, "staging"),
			XSAMSDir:   filepath.Join(dir, "xsams"),
		},
		Ledger: config.LedgerConfig{Table: "subqueries"},
		Server: config.ServerConfig{Port: 8080},
	}
}

func TestNewWithLocalServices(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t, speciesDB(t).URL)
	a, err := New(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)

	snap, err := a.Tables().Snapshot(context.Background())
	require.NoError(t, err)
	node, err := snap.ResolveNode("cdms")
	require.NoError(t, err)
	assert.Equal(t, "https://cdms.example/tap/", node.Address)

	st, err := a.Cache().Status()
	require.NoError(t, err)
	assert.True(t, st.Present)
	assert.Equal(t, 1, st.Species)

	eng, err := a.NewEngine("")
	require.NoError(t, err)
	require.NotNil(t, eng)
	assert.DirExists(t, cfg.Output.XSAMSDir)

	custom := filepath.Join(t.TempDir(), "out")
	_, err = a.NewEngine(custom)
	require.NoError(t, err)
	assert.DirExists(t, custom)

	families, err := a.Gatherer().Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)

	require.NoError(t, a.Close(context.Background()))
	require.NoError(t, a.Close(context.Background()))
}

func TestNewReleasesServicesOnFailure(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t, "http://127.0.0.1:1")
	cfg.Ledger = config.LedgerConfig{DSN: "postgres://localhost/vamdc", Table: "bad-name"}

	_, err := New(context.Background(), cfg, zap.NewNop())
	require.ErrorContains(t, err, "init ledger")

	// The cache lock must have been released.
	store, err := cache.Open(cache.Config{Dir: filepath.Join(cfg.Cache.Dir, "tables"), TTL: time.Hour})
	require.NoError(t, err)
	require.NoError(t, store.Close())
}

func TestCloseRunsInReverseOrderAndJoinsErrors(t *testing.T) {
	t.Parallel()

	var order []string
	first := &MockCloser{}
	first.On("Close", mock.Anything).Run(func(mock.Arguments) { order = append(order, "first") }).Return(nil)
	second := &MockCloser{}
	second.On("Close", mock.Anything).Run(func(mock.Arguments) { order = append(order, "second") }).
		Return(errors.New("flush failed"))

	a := &App{logger: zap.NewNop()}
	a.onClose("first", first)
	a.onClose("second", second)

	err := a.Close(context.Background())
	require.ErrorContains(t, err, "close second: flush failed")
	assert.Equal(t, []string{"second", "first"}, order)
	first.AssertExpectations(t)
	second.AssertExpectations(t)
}

func TestNilAppCloseIsSafe(t *testing.T) {
	t.Parallel()

	var a *App
	require.NoError(t, a.Close(context.Background()))
}
