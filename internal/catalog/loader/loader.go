// Package loader serves reference-table snapshots from the local cache,
// downloading fresh tables from the species database on a miss.
package loader

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/vamdc-lines/internal/catalog"
	"github.com/JakeFAU/vamdc-lines/internal/catalog/cache"
	"github.com/JakeFAU/vamdc-lines/internal/vamdc"
)

// Cache persists the tables between runs.
type Cache interface {
	Load() ([]vamdc.NodeDescriptor, []vamdc.SpeciesDescriptor, error)
	Save(nodes []vamdc.NodeDescriptor, species []vamdc.SpeciesDescriptor, now time.Time) error
}

// Source downloads the tables.
type Source interface {
	Nodes(ctx context.Context) ([]vamdc.NodeDescriptor, error)
	Species(ctx context.Context) ([]vamdc.SpeciesDescriptor, error)
}

// Loader builds snapshots.
type Loader struct {
	cache  Cache
	source Source
	now    func() time.Time
	logger *zap.Logger
}

// New constructs a Loader.
func New(c Cache, source Source, logger *zap.Logger) *Loader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loader{cache: c, source: source, now: time.Now, logger: logger}
}

// Snapshot returns the cached tables, refreshing them first when they are
// missing or expired.
func (l *Loader) Snapshot(ctx context.Context) (*catalog.Snapshot, error) {
	nodes, species, err := l.cache.Load()
	switch {
	case err == nil:
		return catalog.NewSnapshot(nodes, species), nil
	case errors.Is(err, cache.ErrMiss):
		l.logger.Info("reference tables not cached; downloading")
		return l.Refresh(ctx)
	default:
		return nil, fmt.Errorf("load reference tables: %w", err)
	}
}

// Refresh downloads both tables, stores them and returns the new snapshot.
func (l *Loader) Refresh(ctx context.Context) (*catalog.Snapshot, error) {
	var (
		nodes   []vamdc.NodeDescriptor
		species []vamdc.SpeciesDescriptor
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		nodes, err = l.source.Nodes(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		species, err = l.source.Species(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("refresh reference tables: %w", err)
	}
	if err := l.cache.Save(nodes, species, l.now()); err != nil {
		return nil, err
	}
	l.logger.Info("reference tables refreshed",
		zap.Int("nodes", len(nodes)),
		zap.Int("species", len(species)))
	return catalog.NewSnapshot(nodes, species), nil
}
