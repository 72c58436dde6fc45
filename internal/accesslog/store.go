package accesslog

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/relaypoint/gateway/internal/connection"
)

// Config holds batching settings for the store.
type Config struct {
	BatchSize     int
	FlushInterval time.Duration
}

// StoreMetrics counts store activity.
type StoreMetrics struct {
	Inserts   int64
	Conflicts int64
	Flushes   int64
	Errors    int64
	Dropped   int64
}

// Store persists access records to the access_log table in batches. Records
// arrive on connection goroutines and must never block there: Add hands them
// to a buffered channel and drops on overflow.
type Store struct {
	cfg    Config
	logger *slog.Logger

	db    *pgxpool.Pool
	input chan connection.AccessRecord

	batch       []connection.AccessRecord
	batchMu     sync.Mutex
	flushTicker *time.Ticker

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	metrics StoreMetrics
}

// NewStore creates an access record store writing through db.
func NewStore(cfg Config, db *pgxpool.Pool, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 500
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 2 * time.Second
	}
	return &Store{
		cfg:    cfg,
		db:     db,
		logger: logger,
		input:  make(chan connection.AccessRecord, cfg.BatchSize*4),
		batch:  make([]connection.AccessRecord, 0, cfg.BatchSize),
	}
}

// Start begins consuming records and writing to the database.
func (s *Store) Start(ctx context.Context) error {
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.flushTicker = time.NewTicker(s.cfg.FlushInterval)

	s.wg.Add(1)
	go s.consumeLoop()

	s.wg.Add(1)
	go s.flushLoop()

	s.logger.Info("access log store started",
		"batch_size", s.cfg.BatchSize,
		"flush_interval", s.cfg.FlushInterval,
	)
	return nil
}

// Stop gracefully shuts down the store, flushing whatever is buffered.
func (s *Store) Stop(ctx context.Context) error {
	s.logger.Info("stopping access log store")

	if s.cancel != nil {
		s.cancel()
	}

	if s.flushTicker != nil {
		s.flushTicker.Stop()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		s.logger.Warn("access log store stop timed out")
	}

	s.drainInput()
	s.flush()

	s.logger.Info("access log store stopped")
	return nil
}

// Add enqueues one record for persistence. Never blocks; records are dropped
// when the buffer is full.
func (s *Store) Add(rec connection.AccessRecord) {
	select {
	case s.input <- rec:
	default:
		s.batchMu.Lock()
		s.metrics.Dropped++
		s.batchMu.Unlock()
	}
}

// Stats returns current metrics.
func (s *Store) Stats() StoreMetrics {
	s.batchMu.Lock()
	defer s.batchMu.Unlock()
	return s.metrics
}

// Health verifies the database connection.
func (s *Store) Health(ctx context.Context) error {
	return s.db.Ping(ctx)
}

// consumeLoop accumulates records into batches.
func (s *Store) consumeLoop() {
	defer s.wg.Done()

	for {
		select {
		case <-s.ctx.Done():
			return
		case rec := <-s.input:
			s.handleRecord(rec)
		}
	}
}

// flushLoop periodically flushes the batch.
func (s *Store) flushLoop() {
	defer s.wg.Done()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-s.flushTicker.C:
			s.flush()
		}
	}
}

// handleRecord adds a record to the batch.
func (s *Store) handleRecord(rec connection.AccessRecord) {
	s.batchMu.Lock()
	s.batch = append(s.batch, rec)
	shouldFlush := len(s.batch) >= s.cfg.BatchSize
	s.batchMu.Unlock()

	if shouldFlush {
		s.flush()
	}
}

// drainInput moves records still queued at shutdown into the batch.
func (s *Store) drainInput() {
	for {
		select {
		case rec := <-s.input:
			s.batchMu.Lock()
			s.batch = append(s.batch, rec)
			s.batchMu.Unlock()
		default:
			return
		}
	}
}

// flush writes the current batch to the database.
func (s *Store) flush() {
	s.batchMu.Lock()
	if len(s.batch) == 0 {
		s.batchMu.Unlock()
		return
	}

	// Take ownership of current batch
	batch := s.batch
	s.batch = make([]connection.AccessRecord, 0, s.cfg.BatchSize)
	s.batchMu.Unlock()

	start := time.Now()

	conflicts, err := s.batchInsert(batch)
	if err != nil {
		s.logger.Error("batch insert failed", "error", err, "count", len(batch))
		s.batchMu.Lock()
		s.metrics.Errors++
		s.batchMu.Unlock()
		return
	}

	s.batchMu.Lock()
	s.metrics.Inserts += int64(len(batch) - conflicts)
	s.metrics.Conflicts += int64(conflicts)
	s.metrics.Flushes++
	s.batchMu.Unlock()

	s.logger.Debug("flushed access records",
		"count", len(batch),
		"conflicts", conflicts,
		"duration", time.Since(start),
	)
}

// batchInsert inserts records using pgx.Batch with ON CONFLICT DO NOTHING.
// The final flush runs after the store context is canceled, so inserts get
// their own bounded context.
func (s *Store) batchInsert(recs []connection.AccessRecord) (conflicts int, err error) {
	batch := &pgx.Batch{}
	for _, r := range recs {
		batch.Queue(`
			INSERT INTO access_log (conn_id, protocol, method, path, status, bytes_in, bytes_out, duration_ms, remote_ip, logged_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
			ON CONFLICT (conn_id) DO NOTHING
		`, r.ConnID, r.Protocol, r.Method, r.Path, r.Status, r.BytesIn, r.BytesOut, r.Duration.Milliseconds(), r.RemoteIP, r.At)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	results := s.db.SendBatch(ctx, batch)
	defer results.Close()

	for range recs {
		ct, err := results.Exec()
		if err != nil {
			return 0, err
		}
		if ct.RowsAffected() == 0 {
			conflicts++
		}
	}

	return conflicts, nil
}
