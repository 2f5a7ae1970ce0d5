// Package cache persists the node and species reference tables in an embedded
// BadgerDB so that requests do not hit the species database every time. Entries
// expire after a configurable TTL.
package cache

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/dgraph-io/badger/v4"
	"go.uber.org/zap"

	"github.com/JakeFAU/vamdc-lines/internal/vamdc"
)

// ErrMiss is returned when the tables are absent or expired.
var ErrMiss = errors.New("reference tables not cached")

const defaultTTL = 24 * time.Hour

var (
	keyNodes     = []byte("tables/nodes")
	keySpecies   = []byte("tables/species")
	keyRefreshed = []byte("tables/refreshed_at")
)

// Config controls where and for how long tables are cached.
type Config struct {
	// Dir is the BadgerDB directory. Ignored when InMemory is set.
	Dir      string
	InMemory bool
	TTL      time.Duration
	Logger   *zap.Logger
}

// Status describes the cache contents.
type Status struct {
	Dir         string    `json:"dir"`
	Present     bool      `json:"present"`
	RefreshedAt time.Time `json:"refreshed_at,omitempty"`
	ExpiresAt   time.Time `json:"expires_at,omitempty"`
	Nodes       int       `json:"nodes"`
	Species     int       `json:"species"`
}

// Store wraps a BadgerDB handle.
type Store struct {
	db  *badger.DB
	dir string
	ttl time.Duration
}

// Open opens (creating if needed) the cache database.
func Open(cfg Config) (*Store, error) {
	if !cfg.InMemory && cfg.Dir == "" {
		return nil, errors.New("cache dir is required")
	}
	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Dir, 0o750); err != nil {
			return nil, fmt.Errorf("create cache dir %s: %w", cfg.Dir, err)
		}
		opts = badger.DefaultOptions(cfg.Dir)
	}
	opts = opts.WithNumVersionsToKeep(1)
	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger.Sugar()})
	} else {
		opts = opts.WithLogger(nil)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open cache: %w", err)
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &Store{db: db, dir: cfg.Dir, ttl: ttl}, nil
}

// Close releases the database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close cache: %w", err)
	}
	return nil
}

// Save writes both tables with a fresh TTL.
func (s *Store) Save(nodes []vamdc.NodeDescriptor, species []vamdc.SpeciesDescriptor, now time.Time) error {
	nodesJSON, err := json.Marshal(nodes)
	if err != nil {
		return fmt.Errorf("marshal nodes: %w", err)
	}
	speciesJSON, err := json.Marshal(species)
	if err != nil {
		return fmt.Errorf("marshal species: %w", err)
	}
	stamp, err := now.UTC().MarshalText()
	if err != nil {
		return fmt.Errorf("marshal timestamp: %w", err)
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		for key, val := range map[string][]byte{
			string(keyNodes):     nodesJSON,
			string(keySpecies):   speciesJSON,
			string(keyRefreshed): stamp,
		} {
			if err := txn.SetEntry(badger.NewEntry([]byte(key), val).WithTTL(s.ttl)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("save tables: %w", err)
	}
	return nil
}

// Load returns the cached tables or ErrMiss.
func (s *Store) Load() ([]vamdc.NodeDescriptor, []vamdc.SpeciesDescriptor, error) {
	var (
		nodes   []vamdc.NodeDescriptor
		species []vamdc.SpeciesDescriptor
	)
	err := s.db.View(func(txn *badger.Txn) error {
		if err := getJSON(txn, keyNodes, &nodes); err != nil {
			return err
		}
		return getJSON(txn, keySpecies, &species)
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil, ErrMiss
	}
	if err != nil {
		return nil, nil, fmt.Errorf("load tables: %w", err)
	}
	return nodes, species, nil
}

// Status reports what is cached and when it expires.
func (s *Store) Status() (Status, error) {
	st := Status{Dir: s.dir}
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(keyRefreshed)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if exp := item.ExpiresAt(); exp > 0 {
			st.ExpiresAt = time.Unix(int64(exp), 0).UTC()
		}
		if err := item.Value(func(val []byte) error {
			return st.RefreshedAt.UnmarshalText(val)
		}); err != nil {
			return err
		}
		var (
			nodes   []vamdc.NodeDescriptor
			species []vamdc.SpeciesDescriptor
		)
		if err := getJSON(txn, keyNodes, &nodes); err != nil {
			return err
		}
		if err := getJSON(txn, keySpecies, &species); err != nil {
			return err
		}
		st.Present = true
		st.Nodes = len(nodes)
		st.Species = len(species)
		return nil
	})
	if err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
		return Status{}, fmt.Errorf("cache status: %w", err)
	}
	return st, nil
}

// Clear drops every cached entry.
func (s *Store) Clear() error {
	if err := s.db.DropAll(); err != nil {
		return fmt.Errorf("clear cache: %w", err)
	}
	return nil
}

func getJSON(txn *badger.Txn, key []byte, dst any) error {
	item, err := txn.Get(key)
	if err != nil {
		return err
	}
	return item.Value(func(val []byte) error {
		if err := json.Unmarshal(val, dst); err != nil {
			return fmt.Errorf("decode %s: %w", key, err)
		}
		return nil
	})
}

type badgerLogger struct {
	logger *zap.SugaredLogger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Errorf(format, args...)
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warnf(format, args...)
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Debugf(format, args...)
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debugf(format, args...)
}
