// Package engine orchestrates one line request: resolve nodes, build the query
// matrix, split truncated descriptors, dispatch the leaves and merge their
// results. Reference tables arrive as a read-only catalog.Snapshot per call.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/vamdc-lines/internal/aggregate"
	"github.com/JakeFAU/vamdc-lines/internal/catalog"
	"github.com/JakeFAU/vamdc-lines/internal/progress"
	"github.com/JakeFAU/vamdc-lines/internal/vamdc"
)

// Default request window in Ångström.
const (
	DefaultLambdaMin = 0
	DefaultLambdaMax = 1e9
)

// DefaultInspectConcurrency caps concurrent probes issued by Inspect.
const DefaultInspectConcurrency = 8

// Request is one user query.
type Request struct {
	// Species are InChIKeys or species names; empty means every species.
	Species []string `json:"species,omitempty"`
	// Nodes are addresses, IVO identifiers or short names; empty means every node.
	Nodes            []string `json:"nodes,omitempty"`
	LambdaMin        float64  `json:"lambda_min"`
	LambdaMax        float64  `json:"lambda_max"`
	AcceptTruncation bool     `json:"accept_truncation,omitempty"`
}

// DefaultRequest returns a request over the default window.
func DefaultRequest() Request {
	return Request{LambdaMin: DefaultLambdaMin, LambdaMax: DefaultLambdaMax}
}

// Plan is the outcome of resolution, matrix expansion and splitting.
type Plan struct {
	Report catalog.MatrixReport    `json:"report"`
	Roots  []vamdc.QueryDescriptor `json:"roots"`
	Leaves []vamdc.QueryDescriptor `json:"leaves"`
}

// Splitter turns matrix descriptors into leaves.
type Splitter interface {
	SplitAll(ctx context.Context, descs []vamdc.QueryDescriptor) ([]vamdc.QueryDescriptor, error)
}

// Dispatcher runs leaves through the worker pool.
type Dispatcher interface {
	Dispatch(ctx context.Context, descs []vamdc.QueryDescriptor, mode vamdc.OutputMode) ([]vamdc.SubQueryResult, error)
}

// Relocator moves staged payloads to permanent storage.
type Relocator interface {
	Relocate(ctx context.Context, results []vamdc.SubQueryResult) ([]string, error)
}

// Archiver copies relocated files to remote storage.
type Archiver interface {
	Archive(ctx context.Context, files []string) ([]string, error)
}

// RequestIDs issues binary request ids.
type RequestIDs interface {
	NewRawID() (uuid.UUID, error)
}

// Deps are the engine collaborators. Prober, Splitter and Dispatcher are
// required; the rest are optional.
type Deps struct {
	Prober     vamdc.Prober
	Splitter   Splitter
	Dispatcher Dispatcher
	Relocator  Relocator
	Archiver   Archiver
	Publisher  vamdc.Publisher
	IDs        RequestIDs
	Clock      vamdc.Clock
	Events     progress.Emitter
}

// Config tunes the engine.
type Config struct {
	// InspectConcurrency caps concurrent probes in Inspect.
	InspectConcurrency int
	// Topic receives one summary per completed Retrieve when a publisher is set.
	Topic string
}

// Summary is published after every successful Retrieve.
type Summary struct {
	RequestID   string         `json:"request_id"`
	Leaves      int            `json:"leaves"`
	Failures    int            `json:"failures"`
	Rows        int            `json:"rows"`
	Totals      vamdc.Counters `json:"totals"`
	Relocated   []string       `json:"relocated,omitempty"`
	Archived    []string       `json:"archived,omitempty"`
	Warnings    []string       `json:"warnings,omitempty"`
	CompletedAt time.Time      `json:"completed_at"`
}

// Engine runs requests.
type Engine struct {
	deps   Deps
	cfg    Config
	logger *zap.Logger
}

type wallClock struct{}

func (wallClock) Now() time.Time { return time.Now().UTC() }

type v7IDs struct{}

func (v7IDs) NewRawID() (uuid.UUID, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.Nil, fmt.Errorf("generate uuid7: %w", err)
	}
	return id, nil
}

// New validates deps and constructs an Engine.
func New(deps Deps, cfg Config, logger *zap.Logger) (*Engine, error) {
	if deps.Prober == nil || deps.Splitter == nil || deps.Dispatcher == nil {
		return nil, errors.New("engine requires a prober, a splitter and a dispatcher")
	}
	if deps.IDs == nil {
		deps.IDs = v7IDs{}
	}
	if deps.Clock == nil {
		deps.Clock = wallClock{}
	}
	if deps.Events == nil {
		deps.Events = progress.Nop{}
	}
	if cfg.InspectConcurrency <= 0 {
		cfg.InspectConcurrency = DefaultInspectConcurrency
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{deps: deps, cfg: cfg, logger: logger}, nil
}

// Plan resolves nodes, expands the query matrix and splits every truncated
// descriptor. A plan whose leaves were all dropped for lack of data returns an
// error wrapping vamdc.ErrNoDescriptors.
func (e *Engine) Plan(ctx context.Context, snap *catalog.Snapshot, req Request) (Plan, error) {
	roots, report, err := e.matrix(snap, req)
	if err != nil {
		return Plan{}, err
	}
	leaves, err := e.deps.Splitter.SplitAll(ctx, roots)
	if err != nil {
		return Plan{}, fmt.Errorf("split descriptors: %w", err)
	}
	if len(leaves) == 0 {
		return Plan{}, fmt.Errorf("every descriptor reported no data: %w", vamdc.ErrNoDescriptors)
	}
	e.logger.Debug("plan ready",
		zap.Int("roots", len(roots)),
		zap.Int("leaves", len(leaves)),
		zap.Int("species", report.MatchedSpecies),
		zap.Int("nodes", report.MatchedNodes))
	return Plan{Report: report, Roots: roots, Leaves: leaves}, nil
}

// Inspect issues one probe per matrix descriptor without splitting. Truncated
// answers are reported as warnings and no-data answers count as zero.
func (e *Engine) Inspect(ctx context.Context, snap *catalog.Snapshot, req Request) (vamdc.AggregatedResult, error) {
	ctx, id, err := e.begin(ctx)
	if err != nil {
		return vamdc.AggregatedResult{}, err
	}
	start := time.Now()
	out, err := e.inspect(ctx, snap, req)
	e.finish(id, start, len(out.Rows), err)
	return out, err
}

func (e *Engine) inspect(ctx context.Context, snap *catalog.Snapshot, req Request) (vamdc.AggregatedResult, error) {
	roots, _, err := e.matrix(snap, req)
	if err != nil {
		return vamdc.AggregatedResult{}, err
	}
	results := make([]vamdc.SubQueryResult, len(roots))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.InspectConcurrency)
	for i, d := range roots {
		g.Go(func() error {
			results[i] = e.probe(gctx, d)
			return gctx.Err()
		})
	}
	if err := g.Wait(); err != nil {
		return vamdc.AggregatedResult{}, fmt.Errorf("inspect: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return vamdc.AggregatedResult{}, fmt.Errorf("inspect: %w", err)
	}
	if err := allFailed(results); err != nil {
		return vamdc.AggregatedResult{}, err
	}
	return aggregate.Probes(results), nil
}

func (e *Engine) probe(ctx context.Context, d vamdc.QueryDescriptor) vamdc.SubQueryResult {
	start := time.Now()
	res, err := e.deps.Prober.Probe(ctx, d)
	switch {
	case errors.Is(err, vamdc.ErrNoData):
		res = vamdc.SubQueryResult{Descriptor: d, Counters: vamdc.Counters{}}
	case err != nil:
		e.logger.Warn("probe failed", zap.Stringer("descriptor", d), zap.Error(err))
		res = vamdc.FailedResult(d, err)
	}
	if res.Counters == nil {
		res.Counters = vamdc.Counters{}
	}
	evt := progress.Event{
		RequestID:  progress.RequestIDFrom(ctx),
		TS:         e.deps.Clock.Now(),
		Stage:      progress.StageProbeDone,
		Node:       nodeLabel(d),
		Descriptor: d.String(),
		Dur:        time.Since(start),
	}
	if err != nil {
		evt.Note = err.Error()
	}
	e.deps.Events.Emit(evt)
	return res
}

// Retrieve plans, dispatches and aggregates a request. Leaves answering with no
// data count as empty successes; when every leaf does, Retrieve returns an
// error wrapping vamdc.ErrNoDescriptors, as Plan does. With payload output
// the staged payloads are relocated, and archived when an archiver is set.
// Relocation and archive failures become warnings. Cancellation returns an
// error and no partial result.
func (e *Engine) Retrieve(
	ctx context.Context,
	snap *catalog.Snapshot,
	req Request,
	mode vamdc.OutputMode,
) (vamdc.AggregatedResult, error) {
	ctx, id, err := e.begin(ctx)
	if err != nil {
		return vamdc.AggregatedResult{}, err
	}
	start := time.Now()
	out, err := e.retrieve(ctx, snap, req, mode)
	e.finish(id, start, len(out.Rows), err)
	if err != nil {
		return vamdc.AggregatedResult{}, err
	}
	e.publish(ctx, id, out)
	return out, nil
}

func (e *Engine) retrieve(
	ctx context.Context,
	snap *catalog.Snapshot,
	req Request,
	mode vamdc.OutputMode,
) (vamdc.AggregatedResult, error) {
	if mode == 0 {
		mode = vamdc.OutputRows
	}
	plan, err := e.Plan(ctx, snap, req)
	if err != nil {
		return vamdc.AggregatedResult{}, err
	}
	results, err := e.deps.Dispatcher.Dispatch(ctx, plan.Leaves, mode)
	if err != nil {
		return vamdc.AggregatedResult{}, fmt.Errorf("dispatch: %w", err)
	}
	if allNoData(results) {
		return vamdc.AggregatedResult{}, fmt.Errorf("every leaf reported no data: %w", vamdc.ErrNoDescriptors)
	}
	out := aggregate.Aggregate(results)
	if !mode.Has(vamdc.OutputPayload) || e.deps.Relocator == nil {
		return out, nil
	}

	relocated, err := e.deps.Relocator.Relocate(ctx, results)
	out.Relocated = relocated
	if err != nil {
		e.logger.Warn("relocate payloads", zap.Error(err))
		out.Warnings = append(out.Warnings, fmt.Sprintf("relocate payloads: %v", err))
	}
	if e.deps.Archiver != nil && len(relocated) > 0 {
		archived, err := e.deps.Archiver.Archive(ctx, relocated)
		out.Archived = archived
		if err != nil {
			e.logger.Warn("archive payloads", zap.Error(err))
			out.Warnings = append(out.Warnings, fmt.Sprintf("archive payloads: %v", err))
		}
	}
	if err := ctx.Err(); err != nil {
		return vamdc.AggregatedResult{}, fmt.Errorf("retrieve: %w", err)
	}
	return out, nil
}

func (e *Engine) matrix(snap *catalog.Snapshot, req Request) ([]vamdc.QueryDescriptor, catalog.MatrixReport, error) {
	if snap == nil {
		return nil, catalog.MatrixReport{}, errors.New("no reference tables loaded")
	}
	window := vamdc.QueryDescriptor{LambdaMin: req.LambdaMin, LambdaMax: req.LambdaMax}
	if err := window.Validate(); err != nil {
		return nil, catalog.MatrixReport{}, err
	}
	addresses, err := snap.ResolveNodes(req.Nodes)
	if err != nil {
		return nil, catalog.MatrixReport{}, err
	}
	roots, report, err := snap.BuildMatrix(catalog.MatrixRequest{
		SpeciesIDs:       req.Species,
		NodeAddresses:    addresses,
		LambdaMin:        req.LambdaMin,
		LambdaMax:        req.LambdaMax,
		AcceptTruncation: req.AcceptTruncation,
	})
	if err != nil {
		return nil, report, err
	}
	return roots, report, nil
}

func (e *Engine) begin(ctx context.Context) (context.Context, uuid.UUID, error) {
	id, err := e.deps.IDs.NewRawID()
	if err != nil {
		return ctx, uuid.Nil, fmt.Errorf("request id: %w", err)
	}
	ctx = progress.WithRequestID(ctx, progress.UUIDToBytes(id))
	e.deps.Events.Emit(progress.Event{
		RequestID: progress.UUIDToBytes(id),
		TS:        e.deps.Clock.Now(),
		Stage:     progress.StageRequestStart,
	})
	return ctx, id, nil
}

func (e *Engine) finish(id uuid.UUID, start time.Time, rows int, err error) {
	evt := progress.Event{
		RequestID: progress.UUIDToBytes(id),
		TS:        e.deps.Clock.Now(),
		Stage:     progress.StageRequestDone,
		Rows:      int64(rows),
		Dur:       time.Since(start),
	}
	if err != nil {
		evt.Stage = progress.StageRequestError
		evt.Note = err.Error()
		e.logger.Warn("request failed", zap.String("request_id", id.String()), zap.Error(err))
	} else {
		e.logger.Info("request done",
			zap.String("request_id", id.String()),
			zap.Int("rows", rows),
			zap.Duration("dur", evt.Dur))
	}
	e.deps.Events.Emit(evt)
}

func (e *Engine) publish(ctx context.Context, id uuid.UUID, out vamdc.AggregatedResult) {
	if e.deps.Publisher == nil || e.cfg.Topic == "" {
		return
	}
	summary := Summary{
		RequestID:   id.String(),
		Leaves:      len(out.Results),
		Failures:    out.Failures(),
		Rows:        len(out.Rows),
		Totals:      out.Totals,
		Relocated:   out.Relocated,
		Archived:    out.Archived,
		Warnings:    out.Warnings,
		CompletedAt: e.deps.Clock.Now(),
	}
	msgID, err := e.deps.Publisher.Publish(ctx, e.cfg.Topic, summary)
	if err != nil {
		e.logger.Warn("publish summary", zap.String("topic", e.cfg.Topic), zap.Error(err))
		return
	}
	e.logger.Debug("summary published", zap.String("topic", e.cfg.Topic), zap.String("message_id", msgID))
}

func allFailed(results []vamdc.SubQueryResult) error {
	if len(results) == 0 {
		return nil
	}
	for _, r := range results {
		if !r.Failed() {
			return nil
		}
	}
	return &vamdc.AllFailedError{Count: len(results), First: results[0].Err}
}

func allNoData(results []vamdc.SubQueryResult) bool {
	for _, r := range results {
		if !r.NoData() {
			return false
		}
	}
	return len(results) > 0
}

func nodeLabel(d vamdc.QueryDescriptor) string {
	if d.NodeShortName != "" {
		return d.NodeShortName
	}
	return d.NodeAddress
}
