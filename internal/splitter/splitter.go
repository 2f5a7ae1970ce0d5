// Package splitter turns truncated query descriptors into leaf descriptors by
// bisecting their wavelength windows until every leaf answers in full.
package splitter

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/vamdc-lines/internal/progress"
	"github.com/JakeFAU/vamdc-lines/internal/vamdc"
)

// Default split bounds.
const (
	DefaultMinWidth    = 1e-3
	DefaultMaxDepth    = 24
	DefaultConcurrency = 4
)

// Config bounds the bisection.
type Config struct {
	// MinWidth stops splitting once a window is no wider than this (Å).
	MinWidth float64
	// MaxDepth stops splitting after this many bisections.
	MaxDepth int
	// Concurrency caps how many root descriptors SplitAll probes at once.
	Concurrency int
}

// Splitter probes descriptors and bisects the truncated ones.
type Splitter struct {
	cfg    Config
	prober vamdc.Prober
	events progress.Emitter
	logger *zap.Logger
	now    func() time.Time
}

// New constructs a Splitter. A nil emitter discards progress events.
func New(cfg Config, prober vamdc.Prober, events progress.Emitter, logger *zap.Logger) *Splitter {
	if cfg.MinWidth <= 0 {
		cfg.MinWidth = DefaultMinWidth
	}
	if cfg.MaxDepth <= 0 {
		cfg.MaxDepth = DefaultMaxDepth
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	if events == nil {
		events = progress.Nop{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Splitter{
		cfg:    cfg,
		prober: prober,
		events: events,
		logger: logger,
		now:    time.Now,
	}
}

// Split returns the leaves covering d in ascending wavelength order. A
// descriptor that already accepts truncation is returned unchanged. Leaves
// whose probe reports no data are dropped. Only cancellation is returned as an
// error; other probe failures keep the descriptor as an unsplit leaf.
func (s *Splitter) Split(ctx context.Context, d vamdc.QueryDescriptor) ([]vamdc.QueryDescriptor, error) {
	if d.AcceptTruncation {
		return []vamdc.QueryDescriptor{d}, nil
	}
	if err := d.Validate(); err != nil {
		return nil, fmt.Errorf("split %s: %w", d, err)
	}

	// LIFO with the upper half pushed first keeps leaves in ascending order.
	pending := []vamdc.QueryDescriptor{d}
	var leaves []vamdc.QueryDescriptor
	for len(pending) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("split %s: %w", d, err)
		}
		cur := pending[len(pending)-1]
		pending = pending[:len(pending)-1]

		res, err := s.prober.Probe(ctx, cur)
		s.emit(ctx, progress.StageProbeDone, cur, res.Duration, errNote(err))
		switch {
		case err == nil:
		case errors.Is(err, vamdc.ErrNoData):
			s.logger.Debug("no data; dropping descriptor", zap.Stringer("descriptor", cur))
			continue
		case ctx.Err() != nil:
			return nil, fmt.Errorf("split %s: %w", d, ctx.Err())
		default:
			s.logger.Warn("probe failed; dispatching descriptor unsplit",
				zap.Stringer("descriptor", cur), zap.Error(err))
			leaves = append(leaves, cur)
			continue
		}

		if !res.Truncated {
			leaves = append(leaves, cur)
			continue
		}
		if cur.Width() > s.cfg.MinWidth && cur.Depth < s.cfg.MaxDepth {
			if lower, upper, ok := cur.Bisect(); ok {
				s.emit(ctx, progress.StageSplit, cur, 0, "")
				pending = append(pending, upper, lower)
				continue
			}
		}
		cur.AcceptTruncation = true
		cur.TruncationWarning = true
		s.logger.Warn("split bound reached; accepting truncated results",
			zap.Stringer("descriptor", cur),
			zap.Int("depth", cur.Depth),
			zap.Float64("width", cur.Width()))
		s.emit(ctx, progress.StageTruncated, cur, 0, "split bound reached")
		leaves = append(leaves, cur)
	}
	return leaves, nil
}

// SplitAll splits every descriptor concurrently and concatenates the leaves in
// input order.
func (s *Splitter) SplitAll(ctx context.Context, descs []vamdc.QueryDescriptor) ([]vamdc.QueryDescriptor, error) {
	perRoot := make([][]vamdc.QueryDescriptor, len(descs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Concurrency)
	for i, d := range descs {
		g.Go(func() error {
			leaves, err := s.Split(gctx, d)
			if err != nil {
				return err
			}
			perRoot[i] = leaves
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	var out []vamdc.QueryDescriptor
	for _, leaves := range perRoot {
		out = append(out, leaves...)
	}
	return out, nil
}

func (s *Splitter) emit(ctx context.Context, stage progress.Stage, d vamdc.QueryDescriptor, dur time.Duration, note string) {
	s.events.Emit(progress.Event{
		RequestID:  progress.RequestIDFrom(ctx),
		TS:         s.now().UTC(),
		Stage:      stage,
		Node:       nodeLabel(d),
		Descriptor: d.String(),
		Dur:        dur,
		Note:       note,
	})
}

func nodeLabel(d vamdc.QueryDescriptor) string {
	if d.NodeShortName != "" {
		return d.NodeShortName
	}
	return d.NodeAddress
}

func errNote(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
