package speciesdb

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	collyfetcher "github.com/JakeFAU/vamdc-lines/internal/fetcher/colly"
)

func TestClientDownloadsTables(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("/nodes", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`[{"shortName":"CDMS","ivoIdentifier":"ivo://vamdc/cdms","tapEndpoint":"https://cdms.example/tap/"}]`))
	})
	mux.HandleFunc("/species", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"ivo://vamdc/cdms":[{"InChIKey":"UGFAIRIUMAVXCW-UHFFFAOYSA-N","name":"CO","speciesType":"molecule"}]}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := New(Config{NodesURL: srv.URL + "/nodes", SpeciesURL: srv.URL + "/species"},
		collyfetcher.New(collyfetcher.Config{}), nil)

	nodes, err := c.Nodes(context.Background())
	require.NoError(t, err)
	require.Len(t, nodes, 1)
	assert.Equal(t, "CDMS", nodes[0].ShortName)

	species, err := c.Species(context.Background())
	require.NoError(t, err)
	require.Len(t, species, 1)
	assert.Equal(t, []string{"ivo://vamdc/cdms"}, species[0].Nodes)
}

func TestClientReportsBadStatus(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "down", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := New(Config{NodesURL: srv.URL, SpeciesURL: srv.URL}, collyfetcher.New(collyfetcher.Config{}), nil)
	_, err := c.Nodes(context.Background())
	require.ErrorContains(t, err, "unexpected status 503")
}

func TestNewFillsDefaults(t *testing.T) {
	t.Parallel()

	c := New(Config{}, nil, nil)
	assert.Equal(t, DefaultNodesURL, c.cfg.NodesURL)
	assert.Equal(t, DefaultSpeciesURL, c.cfg.SpeciesURL)
}
