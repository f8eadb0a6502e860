package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/dgraph-io/badger/v3"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/Pilotkosinus/mesh2gram/internal/core/domain"
)

// pairKeyPrefix namespaces pairing records inside the Badger keyspace.
const pairKeyPrefix = "pair/"

// BadgerStore implements PairStore using Badger v3.
type BadgerStore struct {
	db     *badger.DB
	cfg    Config
	logger *slog.Logger

	closed atomic.Bool

	// Prometheus metrics
	metricsLSMSize      prometheus.Gauge
	metricsValueLogSize prometheus.Gauge
	metricsRecords      prometheus.Gauge

	// Shutdown
	stopCh chan struct{}
	doneCh chan struct{}
}

// NewBadgerStore opens the pairing store.
func NewBadgerStore(cfg Config, logger *slog.Logger) (*BadgerStore, error) {
	if cfg.Dir == "" && !cfg.InMemory {
		return nil, fmt.Errorf("badger: dir is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	opts := badger.DefaultOptions(cfg.Dir)
	opts.Logger = &badgerLogger{logger: logger}
	opts.SyncWrites = cfg.SyncWrites
	if cfg.InMemory {
		opts.InMemory = true
		opts.Dir = ""
		opts.ValueDir = ""
		opts.SyncWrites = false
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("badger: open db: %w", err)
	}

	store := &BadgerStore{
		db:     db,
		cfg:    cfg,
		logger: logger,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}

	go store.gcLoop()

	logger.Info("pair store opened",
		"dir", cfg.Dir,
		"sync_writes", opts.SyncWrites,
		"gc_interval", cfg.GCInterval)

	return store, nil
}

// Put writes or overwrites one pairing record.
func (s *BadgerStore) Put(ctx context.Context, rec *domain.PairedSession) error {
	if s.closed.Load() {
		return ErrClosed
	}
	if err := rec.Validate(); err != nil {
		return err
	}

	value, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("badger: encode record: %w", err)
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(pairKey(rec.Secret), value)
	})
	if err != nil {
		return domain.ErrStorage.WithCause(err)
	}
	return nil
}

// Delete removes the record for the given secret. Idempotent.
func (s *BadgerStore) Delete(ctx context.Context, secret string) error {
	if s.closed.Load() {
		return ErrClosed
	}

	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(pairKey(secret))
	})
	if err != nil {
		return domain.ErrStorage.WithCause(err)
	}
	return nil
}

// Get retrieves the record for the given secret.
func (s *BadgerStore) Get(ctx context.Context, secret string) (*domain.PairedSession, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}

	var rec *domain.PairedSession
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(pairKey(secret))
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return ErrNotFound
			}
			return err
		}
		return item.Value(func(value []byte) error {
			rec = new(domain.PairedSession)
			return json.Unmarshal(value, rec)
		})
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, err
		}
		return nil, domain.ErrStorage.WithCause(err)
	}
	return rec, nil
}

// List returns all pairing records.
func (s *BadgerStore) List(ctx context.Context) ([]*domain.PairedSession, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}

	var records []*domain.PairedSession
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(pairKeyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			err := item.Value(func(value []byte) error {
				rec := new(domain.PairedSession)
				if err := json.Unmarshal(value, rec); err != nil {
					// A corrupt record must not take the gateway down.
					s.logger.Error("skipping undecodable pair record",
						"key", string(item.Key()),
						"error", err)
					return nil
				}
				records = append(records, rec)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, domain.ErrStorage.WithCause(err)
	}
	return records, nil
}

// Close gracefully shuts down the store.
func (s *BadgerStore) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	s.logger.Info("shutting down pair store")

	close(s.stopCh)
	<-s.doneCh

	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close db: %w", err)
	}
	return nil
}

// RegisterMetrics registers store metrics with Prometheus.
//
// This should be called once during initialization.
// Returns the store for method chaining.
func (s *BadgerStore) RegisterMetrics(registry *prometheus.Registry) *BadgerStore {
	s.metricsLSMSize = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "mesh2gram",
		Subsystem: "store",
		Name:      "lsm_size_bytes",
		Help:      "Badger LSM tree size in bytes",
	})

	s.metricsValueLogSize = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "mesh2gram",
		Subsystem: "store",
		Name:      "value_log_size_bytes",
		Help:      "Badger value log size in bytes",
	})

	s.metricsRecords = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "mesh2gram",
		Subsystem: "store",
		Name:      "pair_records",
		Help:      "Number of persisted pairing records",
	})

	registry.MustRegister(
		s.metricsLSMSize,
		s.metricsValueLogSize,
		s.metricsRecords,
	)

	go s.metricsUpdateLoop()

	return s
}

// metricsUpdateLoop periodically updates Prometheus metrics.
func (s *BadgerStore) metricsUpdateLoop() {
	if s.metricsLSMSize == nil {
		return
	}

	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			lsm, vlog := s.db.Size()
			s.metricsLSMSize.Set(float64(lsm))
			s.metricsValueLogSize.Set(float64(vlog))

			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			records, err := s.List(ctx)
			cancel()
			if err != nil {
				// Store might be closing.
				continue
			}
			s.metricsRecords.Set(float64(len(records)))

		case <-s.stopCh:
			return
		}
	}
}

// gcLoop runs periodic value log garbage collection.
func (s *BadgerStore) gcLoop() {
	defer close(s.doneCh)

	interval, err := time.ParseDuration(s.cfg.GCInterval)
	if err != nil || interval <= 0 {
		if s.cfg.GCInterval != "" {
			s.logger.Error("invalid gc_interval, using default 10m", "value", s.cfg.GCInterval)
		}
		interval = 10 * time.Minute
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.runGC()
		case <-s.stopCh:
			return
		}
	}
}

// runGC rewrites value log files until Badger reports nothing left to reclaim.
func (s *BadgerStore) runGC() {
	threshold := s.cfg.GCThreshold
	if threshold <= 0 || threshold >= 1 {
		threshold = 0.5
	}

	start := time.Now()
	cycles := 0
	for {
		err := s.db.RunValueLogGC(threshold)
		if err != nil {
			if !errors.Is(err, badger.ErrNoRewrite) && !errors.Is(err, badger.ErrGCInMemoryMode) {
				s.logger.Error("value log gc failed", "error", err)
			}
			break
		}
		cycles++
	}

	if cycles > 0 {
		s.logger.Info("gc completed", "cycles", cycles, "elapsed", time.Since(start))
	}
}

func pairKey(secret string) []byte {
	return []byte(pairKeyPrefix + secret)
}

// badgerLogger adapts slog.Logger to Badger's Logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Info(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}
