// Package postgres records sub-query outcomes in a Postgres ledger table.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/vamdc-lines/internal/vamdc"
)

// DefaultTable holds one row per dispatched sub-query.
const DefaultTable = "vamdc_subqueries"

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// LedgerStoreConfig controls the Postgres connection pool.
type LedgerStoreConfig struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type execCloser interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Close()
}

// LedgerStore implements vamdc.Ledger.
type LedgerStore struct {
	pool  execCloser
	table string
	now   func() time.Time
}

// NewLedgerStore connects a pool using cfg.
func NewLedgerStore(ctx context.Context, cfg LedgerStoreConfig) (*LedgerStore, error) {
	if cfg.DSN == "" {
		return nil, errors.New("ledger.dsn is required")
	}
	table, err := tableName(cfg.Table)
	if err != nil {
		return nil, err
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &LedgerStore{pool: pool, table: table, now: time.Now}, nil
}

// NewLedgerStoreWithPool builds a store over an existing pool.
func NewLedgerStoreWithPool(pool execCloser, table string) (*LedgerStore, error) {
	if pool == nil {
		return nil, errors.New("pool is required")
	}
	name, err := tableName(table)
	if err != nil {
		return nil, err
	}
	return &LedgerStore{pool: pool, table: name, now: time.Now}, nil
}

func tableName(table string) (string, error) {
	if table == "" {
		table = DefaultTable
	}
	if !validTableName.MatchString(table) {
		return "", fmt.Errorf("invalid table name %q", table)
	}
	return table, nil
}

// Close releases the pool.
func (s *LedgerStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Record inserts one ledger row for res.
func (s *LedgerStore) Record(ctx context.Context, requestID string, res vamdc.SubQueryResult) error {
	if s == nil || s.pool == nil {
		return errors.New("ledger store is not configured")
	}
	if requestID == "" {
		return errors.New("request id is required")
	}
	counters := res.Counters
	if counters == nil {
		counters = vamdc.Counters{}
	}
	countersJSON, err := json.Marshal(counters)
	if err != nil {
		return fmt.Errorf("marshal counters: %w", err)
	}
	payloadURI := ""
	if res.Payload != nil {
		payloadURI = res.Payload.URI
	}
	d := res.Descriptor
	query := fmt.Sprintf(`
INSERT INTO %s (
	request_id,
	node_address,
	species_id,
	lambda_min,
	lambda_max,
	min_open,
	max_closed,
	depth,
	accept_truncation,
	truncated,
	token,
	counters,
	row_count,
	payload_uri,
	status_code,
	duration_ms,
	error,
	recorded_at
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18
)`, s.table)

	args := []any{
		requestID,
		d.NodeAddress,
		d.SpeciesID,
		d.LambdaMin,
		d.LambdaMax,
		d.MinOpen,
		d.MaxClosed,
		d.Depth,
		d.AcceptTruncation,
		res.Truncated,
		res.Token,
		countersJSON,
		len(res.Rows),
		payloadURI,
		res.StatusCode,
		res.Duration.Milliseconds(),
		res.Error,
		s.now().UTC(),
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("insert ledger row: %w", err)
	}
	return nil
}
