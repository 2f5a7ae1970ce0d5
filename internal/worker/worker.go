// Package worker executes one leaf descriptor: a single fetch whose headers and
// body feed both the counters and the requested output.
package worker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/vamdc-lines/internal/fetcher/tap"
	"github.com/JakeFAU/vamdc-lines/internal/progress"
	"github.com/JakeFAU/vamdc-lines/internal/relocate"
	"github.com/JakeFAU/vamdc-lines/internal/vamdc"
	"github.com/JakeFAU/vamdc-lines/internal/xsams"
)

// Defaults applied by New.
const (
	DefaultCallTimeout = 5 * time.Minute
	DefaultContentType = "application/x-xsams+xml"
)

// Config controls Worker behavior.
type Config struct {
	// CallTimeout bounds each fetch; a timeout is a soft failure.
	CallTimeout time.Duration
	// ContentType is attached to staged payloads.
	ContentType string
	// StagePrefix is prepended to staged payload paths.
	StagePrefix string
}

// Deps are the collaborators a Worker calls. Only Fetcher is required; the
// blob store is required for payload output.
type Deps struct {
	Fetcher   vamdc.Fetcher
	BlobStore vamdc.BlobStore
	Ledger    vamdc.Ledger
	Hasher    vamdc.Hasher
	Clock     vamdc.Clock
	IDs       vamdc.IDGenerator
	Events    progress.Emitter
}

// Worker turns one descriptor into one SubQueryResult.
type Worker struct {
	deps   Deps
	cfg    Config
	logger *zap.Logger
}

type wallClock struct{}

func (wallClock) Now() time.Time { return time.Now().UTC() }

type v7IDs struct{}

func (v7IDs) NewID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate uuid7: %w", err)
	}
	return id.String(), nil
}

// New constructs a Worker.
func New(deps Deps, cfg Config, logger *zap.Logger) *Worker {
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = DefaultCallTimeout
	}
	if cfg.ContentType == "" {
		cfg.ContentType = DefaultContentType
	}
	if deps.Clock == nil {
		deps.Clock = wallClock{}
	}
	if deps.IDs == nil {
		deps.IDs = v7IDs{}
	}
	if deps.Events == nil {
		deps.Events = progress.Nop{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{deps: deps, cfg: cfg, logger: logger}
}

// Handle performs exactly one fetch for d. A no-data answer is an empty
// success. Failures are returned as soft-failed results with zero counters;
// Handle never returns an error.
func (w *Worker) Handle(ctx context.Context, d vamdc.QueryDescriptor, mode vamdc.OutputMode) vamdc.SubQueryResult {
	res, body, err := w.execute(ctx, d, mode)
	if tap.IsNoData(err) {
		res, body, err = vamdc.EmptyResult(d), nil, nil
	}
	if err != nil {
		res = vamdc.FailedResult(d, err)
		w.logger.Warn("sub-query failed", zap.Stringer("descriptor", d), zap.Error(err))
		w.emit(ctx, progress.Event{
			Stage:       progress.StageFetchError,
			Descriptor:  d.String(),
			StatusClass: failureClass(err),
			Note:        err.Error(),
		}, d)
	} else {
		w.logger.Debug("sub-query done",
			zap.Stringer("descriptor", d),
			zap.String("token", res.Token),
			zap.Int("rows", len(res.Rows)),
			zap.Duration("dur", res.Duration))
		w.emit(ctx, progress.Event{
			Stage:       progress.StageFetchDone,
			Descriptor:  d.String(),
			StatusClass: progress.ClassifyStatus(res.StatusCode),
			Bytes:       int64(len(body)),
			Rows:        int64(len(res.Rows)),
			Dur:         res.Duration,
		}, d)
	}
	w.record(ctx, res)
	return res
}

func (w *Worker) execute(ctx context.Context, d vamdc.QueryDescriptor, mode vamdc.OutputMode) (vamdc.SubQueryResult, []byte, error) {
	if w.deps.Fetcher == nil {
		return vamdc.SubQueryResult{}, nil, errors.New("no fetcher configured")
	}
	callCtx, cancel := context.WithTimeout(ctx, w.cfg.CallTimeout)
	defer cancel()

	resp, err := w.deps.Fetcher.Fetch(callCtx, d)
	if err != nil {
		return vamdc.SubQueryResult{}, nil, fmt.Errorf("fetch: %w", err)
	}
	res := vamdc.SubQueryResult{
		Descriptor: d,
		Counters:   resp.Counters,
		Truncated:  resp.Truncated,
		Token:      resp.Token,
		StatusCode: resp.StatusCode,
		Duration:   resp.Duration,
	}
	if res.Counters == nil {
		res.Counters = vamdc.Counters{}
	}
	if res.Token == "" {
		token, err := w.deps.IDs.NewID()
		if err != nil {
			return vamdc.SubQueryResult{}, nil, fmt.Errorf("assign token: %w", err)
		}
		res.Token = token
	}

	if mode.Has(vamdc.OutputRows) {
		rows, err := xsams.ParseBytes(resp.Body)
		if err != nil {
			return vamdc.SubQueryResult{}, nil, fmt.Errorf("parse rows: %w", err)
		}
		res.Rows = rows
	}
	if mode.Has(vamdc.OutputPayload) {
		ref, err := w.stage(ctx, res, resp.Body)
		if err != nil {
			return vamdc.SubQueryResult{}, nil, err
		}
		res.Payload = ref
	}
	return res, resp.Body, nil
}

func (w *Worker) stage(ctx context.Context, res vamdc.SubQueryResult, body []byte) (*vamdc.PayloadRef, error) {
	if w.deps.BlobStore == nil {
		return nil, errors.New("no blob store configured for payload output")
	}
	digest := ""
	if w.deps.Hasher != nil {
		sum, err := w.deps.Hasher.Hash(body)
		if err != nil {
			return nil, fmt.Errorf("hash payload: %w", err)
		}
		digest = sum
	}
	path := w.stagePath(ctx, res)
	uri, err := w.deps.BlobStore.PutObject(ctx, path, w.cfg.ContentType, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("stage payload: %w", err)
	}
	return &vamdc.PayloadRef{URI: uri, Bytes: int64(len(body)), Digest: digest}, nil
}

func (w *Worker) stagePath(ctx context.Context, res vamdc.SubQueryResult) string {
	parts := []string{}
	if prefix := strings.Trim(w.cfg.StagePrefix, "/"); prefix != "" {
		parts = append(parts, prefix)
	}
	if id := progress.RequestIDFrom(ctx); id != [16]byte{} {
		parts = append(parts, uuid.UUID(id).String())
	}
	parts = append(parts, relocate.FileName(res.Descriptor.NodeShortName, res.Token))
	return strings.Join(parts, "/")
}

func (w *Worker) record(ctx context.Context, res vamdc.SubQueryResult) {
	if w.deps.Ledger == nil {
		return
	}
	requestID := ""
	if id := progress.RequestIDFrom(ctx); id != [16]byte{} {
		requestID = uuid.UUID(id).String()
	}
	if err := w.deps.Ledger.Record(ctx, requestID, res); err != nil {
		w.logger.Warn("ledger record failed", zap.Stringer("descriptor", res.Descriptor), zap.Error(err))
	}
}

func (w *Worker) emit(ctx context.Context, evt progress.Event, d vamdc.QueryDescriptor) {
	evt.RequestID = progress.RequestIDFrom(ctx)
	evt.TS = w.deps.Clock.Now()
	evt.Node = d.NodeShortName
	if evt.Node == "" {
		evt.Node = d.NodeAddress
	}
	w.deps.Events.Emit(evt)
}

func failureClass(err error) progress.StatusClass {
	var statusErr *tap.StatusError
	if errors.As(err, &statusErr) {
		return progress.ClassifyStatus(statusErr.Code)
	}
	return progress.StatusOther
}
