// Package speciesdb downloads the node and species reference tables from the
// VAMDC species database web service.
package speciesdb

import (
	"context"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/JakeFAU/vamdc-lines/internal/catalog"
	collyfetcher "github.com/JakeFAU/vamdc-lines/internal/fetcher/colly"
	"github.com/JakeFAU/vamdc-lines/internal/vamdc"
)

// Default service endpoints.
const (
	DefaultNodesURL   = "https://species.vamdc.org/web-service/api/v12.07/nodes"
	DefaultSpeciesURL = "https://species.vamdc.org/web-service/api/v12.07/species"
)

// Doer performs one HTTP exchange.
type Doer interface {
	Do(ctx context.Context, request collyfetcher.Request) (collyfetcher.Response, error)
}

// Config holds the service endpoints.
type Config struct {
	NodesURL   string
	SpeciesURL string
}

// Client fetches reference tables.
type Client struct {
	http   Doer
	cfg    Config
	logger *zap.Logger
}

// New constructs a Client, filling in default endpoints.
func New(cfg Config, doer Doer, logger *zap.Logger) *Client {
	if cfg.NodesURL == "" {
		cfg.NodesURL = DefaultNodesURL
	}
	if cfg.SpeciesURL == "" {
		cfg.SpeciesURL = DefaultSpeciesURL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{http: doer, cfg: cfg, logger: logger}
}

// Nodes downloads the node table.
func (c *Client) Nodes(ctx context.Context) ([]vamdc.NodeDescriptor, error) {
	body, err := c.get(ctx, c.cfg.NodesURL)
	if err != nil {
		return nil, err
	}
	nodes, err := catalog.DecodeNodes(body)
	if err != nil {
		return nil, err
	}
	c.logger.Info("node table downloaded", zap.Int("nodes", len(nodes)))
	return nodes, nil
}

// Species downloads the species table.
func (c *Client) Species(ctx context.Context) ([]vamdc.SpeciesDescriptor, error) {
	body, err := c.get(ctx, c.cfg.SpeciesURL)
	if err != nil {
		return nil, err
	}
	species, err := catalog.DecodeSpecies(body)
	if err != nil {
		return nil, err
	}
	c.logger.Info("species table downloaded", zap.Int("species", len(species)))
	return species, nil
}

func (c *Client) get(ctx context.Context, target string) ([]byte, error) {
	resp, err := c.http.Do(ctx, collyfetcher.Request{
		Method:  http.MethodGet,
		URL:     target,
		Headers: http.Header{"Accept": {"application/json"}},
	})
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", target, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch %s: unexpected status %d", target, resp.StatusCode)
	}
	return resp.Body, nil
}
