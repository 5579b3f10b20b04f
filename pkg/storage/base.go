package storage

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"mercator-hq/unistore/pkg/storage/cache"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Span attribute keys set on every storage span.
const (
	AttrBackend  = attribute.Key("storage.backend")
	AttrInstance = attribute.Key("storage.instance")
	AttrRecordID = attribute.Key("storage.record_id")
)

// MetricsRecorder receives operation samples from BaseStorage. It is
// implemented by *metrics.Collector.
type MetricsRecorder interface {
	RecordOperation(backend, operation, status string, duration time.Duration)
	RecordCacheHit(cache string)
	RecordCacheMiss(cache string)
	UpdateCacheStats(cache string, size int, evictions int64)
	UpdateItems(backend string, items int64)
}

// Operation names used for counters, metrics and error context.
const (
	opConnect     = "connect"
	opClose       = "close"
	opSave        = "save"
	opLoad        = "load"
	opUpdate      = "update"
	opDelete      = "delete"
	opList        = "list"
	opQuery       = "query"
	opCount       = "count"
	opExists      = "exists"
	opTransaction = "transaction"
	opBatchSave   = "batch_save"
	opBatchDelete = "batch_delete"
	opCleanup     = "cleanup"
	opStreamList  = "stream_list"
	opHealthCheck = "health_check"
)

var counterNames = []string{
	opSave, opLoad, opUpdate, opDelete, opList, opQuery, opCount, opExists,
	opTransaction, opBatchSave, opBatchDelete, opCleanup, opStreamList, opHealthCheck,
}

// BaseConfig configures the BaseStorage wrapper.
type BaseConfig struct {
	// Name identifies the instance in logs and cache metrics.
	// Defaults to the backend type.
	Name string

	// Common carries the per-call timeout and cache TTL.
	Common CommonConfig

	// Logger defaults to slog.Default().
	Logger *slog.Logger

	// Metrics is optional.
	Metrics MetricsRecorder

	// Tracer receives one span per backend call, named "storage.<op>".
	// Defaults to a no-op tracer.
	Tracer trace.Tracer
}

// BaseStorage implements Storage on top of any Backend. It adds a load-result
// cache, operation counters and metrics, and a timeout budget per call.
type BaseStorage struct {
	backend Backend
	name    string
	timeout time.Duration
	logger  *slog.Logger
	metrics MetricsRecorder
	tracer  trace.Tracer

	cache    *cache.TTL[Record]
	cacheTTL time.Duration
	// gen is bumped by every write so that a load racing a write never
	// repopulates the cache with the pre-write value.
	gen atomic.Uint64

	counters  map[string]*atomic.Int64
	errors    atomic.Int64
	lastError atomic.Value // string

	// closing is cancelled by Close and ends every open stream.
	closing     context.Context
	stopStreams context.CancelFunc
	closeOnce   sync.Once
}

// Compile-time interface check
var _ Storage = (*BaseStorage)(nil)

// NewBaseStorage wraps backend. The backend is not connected; call Connect.
func NewBaseStorage(backend Backend, cfg BaseConfig) *BaseStorage {
	if cfg.Name == "" {
		cfg.Name = backend.Type()
	}
	if cfg.Common.Timeout <= 0 {
		cfg.Common.Timeout = DefaultTimeoutSeconds
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	tracer := cfg.Tracer
	if tracer == nil {
		tracer = noop.NewTracerProvider().Tracer("")
	}

	s := &BaseStorage{
		backend:  backend,
		name:     cfg.Name,
		timeout:  cfg.Common.TimeoutDuration(),
		logger:   logger.With("component", "storage.base", "instance", cfg.Name, "backend", backend.Type()),
		metrics:  cfg.Metrics,
		tracer:   tracer,
		counters: make(map[string]*atomic.Int64, len(counterNames)),
	}
	for _, name := range counterNames {
		s.counters[name] = &atomic.Int64{}
	}
	s.closing, s.stopStreams = context.WithCancel(context.Background())
	if ttl := cfg.Common.CacheTTLDuration(); ttl > 0 {
		s.cache = cache.New[Record](cache.Config{TTL: ttl})
		s.cacheTTL = ttl
	}
	return s
}

// Backend returns the wrapped driver.
func (s *BaseStorage) Backend() Backend {
	return s.backend
}

// Name returns the instance name.
func (s *BaseStorage) Name() string {
	return s.name
}

// Connect connects the backend within the call budget.
func (s *BaseStorage) Connect(ctx context.Context) error {
	err := s.call(ctx, opConnect, "", func(ctx context.Context) error {
		if err := s.backend.Connect(ctx); err != nil {
			if KindOf(err) == KindStorage {
				return NewConnectionError(s.backend.Type(), opConnect, err)
			}
			return err
		}
		return nil
	})
	if err == nil {
		s.logger.Info("storage connected")
	}
	return err
}

// Close ends open streams, disconnects the backend and stops the cache.
// It is idempotent.
func (s *BaseStorage) Close(ctx context.Context) error {
	var err error
	s.closeOnce.Do(func() {
		s.stopStreams()
		if s.cache != nil {
			s.cache.Close()
		}
		err = s.call(ctx, opClose, "", s.backend.Disconnect)
		if err == nil {
			s.logger.Info("storage closed")
		}
	})
	return err
}

// Save persists rec and returns its id.
func (s *BaseStorage) Save(ctx context.Context, rec Record) (string, error) {
	if rec == nil {
		return "", s.fail(opSave, NewValidationError(s.backend.Type(), opSave, "record cannot be nil"))
	}
	var id string
	err := s.call(ctx, opSave, rec.ID(), func(ctx context.Context) error {
		var err error
		id, err = s.backend.Save(ctx, rec)
		return err
	})
	s.invalidate(id)
	return id, err
}

// Load returns the record or nil when absent. Results are served from the
// cache when enabled.
func (s *BaseStorage) Load(ctx context.Context, id string) (Record, error) {
	if id == "" {
		return nil, s.fail(opLoad, NewValidationError(s.backend.Type(), opLoad, "id cannot be empty"))
	}

	if s.cache != nil {
		if rec, ok := s.cache.Get(id); ok {
			s.counters[opLoad].Add(1)
			if s.metrics != nil {
				s.metrics.RecordCacheHit(s.name)
			}
			return rec.Clone(), nil
		}
		if s.metrics != nil {
			s.metrics.RecordCacheMiss(s.name)
		}
	}

	gen := s.gen.Load()
	var rec Record
	err := s.call(ctx, opLoad, id, func(ctx context.Context) error {
		var err error
		rec, err = s.backend.Load(ctx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	if rec != nil && s.cache != nil && s.gen.Load() == gen {
		s.cacheLoaded(id, rec)
	}
	return rec, nil
}

// cacheLoaded caches rec no longer than the record itself lives.
func (s *BaseStorage) cacheLoaded(id string, rec Record) {
	ttl := s.cacheTTL
	if er, ok := s.backend.(ExpiryReporter); ok {
		if at, ok := er.ExpiresAt(id); ok {
			ttl = min(ttl, time.Until(at))
		}
	}
	s.cache.SetWithTTL(id, rec.Clone(), ttl)
}

// Update merges partial into the record. It returns false when absent.
func (s *BaseStorage) Update(ctx context.Context, id string, partial Record) (bool, error) {
	if id == "" {
		return false, s.fail(opUpdate, NewValidationError(s.backend.Type(), opUpdate, "id cannot be empty"))
	}
	if partial == nil {
		return false, s.fail(opUpdate, NewValidationError(s.backend.Type(), opUpdate, "update data cannot be nil"))
	}
	var ok bool
	err := s.call(ctx, opUpdate, id, func(ctx context.Context) error {
		var err error
		ok, err = s.backend.Update(ctx, id, partial)
		return err
	})
	s.invalidate(id)
	return ok, err
}

// Delete removes the record. It returns false when absent.
func (s *BaseStorage) Delete(ctx context.Context, id string) (bool, error) {
	if id == "" {
		return false, s.fail(opDelete, NewValidationError(s.backend.Type(), opDelete, "id cannot be empty"))
	}
	var ok bool
	err := s.call(ctx, opDelete, id, func(ctx context.Context) error {
		var err error
		ok, err = s.backend.Delete(ctx, id)
		return err
	})
	s.invalidate(id)
	return ok, err
}

// List returns records matching filter, ordered by created_at then id.
func (s *BaseStorage) List(ctx context.Context, filter Filter, limit int) ([]Record, error) {
	return s.list(ctx, opList, filter, limit)
}

func (s *BaseStorage) list(ctx context.Context, op string, filter Filter, limit int) ([]Record, error) {
	if err := filter.Validate(); err != nil {
		return nil, s.fail(op, NewValidationError(s.backend.Type(), op, err.Error()))
	}
	if limit < 0 {
		return nil, s.fail(op, NewValidationError(s.backend.Type(), op, "limit cannot be negative"))
	}
	var recs []Record
	err := s.call(ctx, op, "", func(ctx context.Context) error {
		var err error
		recs, err = s.backend.List(ctx, filter, limit)
		return err
	})
	return recs, err
}

// Query runs the "filters:<json>" query language. See ParseQuery.
func (s *BaseStorage) Query(ctx context.Context, raw string, params map[string]any) ([]Record, error) {
	filter, limit, err := ParseQuery(raw, params)
	if err != nil {
		return nil, s.fail(opQuery, NewValidationError(s.backend.Type(), opQuery, err.Error()))
	}
	return s.list(ctx, opQuery, filter, limit)
}

// Count returns the number of records matching filter.
func (s *BaseStorage) Count(ctx context.Context, filter Filter) (int64, error) {
	if err := filter.Validate(); err != nil {
		return 0, s.fail(opCount, NewValidationError(s.backend.Type(), opCount, err.Error()))
	}
	var n int64
	err := s.call(ctx, opCount, "", func(ctx context.Context) error {
		var err error
		n, err = s.backend.Count(ctx, filter)
		return err
	})
	return n, err
}

// Exists reports whether id exists.
func (s *BaseStorage) Exists(ctx context.Context, id string) (bool, error) {
	if id == "" {
		return false, s.fail(opExists, NewValidationError(s.backend.Type(), opExists, "id cannot be empty"))
	}
	var ok bool
	err := s.call(ctx, opExists, id, func(ctx context.Context) error {
		var err error
		ok, err = s.backend.Exists(ctx, id)
		return err
	})
	return ok, err
}

// Transaction applies ops atomically. It returns true when every operation
// was applied and false with a TransactionError when the batch was rolled back.
func (s *BaseStorage) Transaction(ctx context.Context, ops []Operation) (bool, error) {
	if err := s.runTransaction(ctx, opTransaction, ops); err != nil {
		return false, err
	}
	return true, nil
}

func (s *BaseStorage) runTransaction(ctx context.Context, op string, ops []Operation) error {
	for i, o := range ops {
		if err := o.Validate(); err != nil {
			return s.fail(op, NewTransactionError(s.backend.Type(), i, err))
		}
	}
	if len(ops) == 0 {
		s.counters[op].Add(1)
		return nil
	}
	err := s.call(ctx, op, "", func(ctx context.Context) error {
		return s.backend.Transaction(ctx, ops)
	})
	s.invalidateAll()
	return err
}

// BatchSave saves recs in a single transaction and returns their ids in
// input order. Records without an id are assigned one up front.
func (s *BaseStorage) BatchSave(ctx context.Context, recs []Record) ([]string, error) {
	ids := make([]string, len(recs))
	ops := make([]Operation, len(recs))
	for i, rec := range recs {
		if rec == nil {
			return nil, s.fail(opBatchSave, NewValidationError(s.backend.Type(), opBatchSave, "record cannot be nil"))
		}
		if rec.ID() == "" {
			rec = rec.Clone()
			rec[FieldID] = NewID()
		}
		ids[i] = rec.ID()
		ops[i] = Operation{Kind: OpSave, Record: rec}
	}
	if err := s.runTransaction(ctx, opBatchSave, ops); err != nil {
		return nil, err
	}
	return ids, nil
}

// BatchDelete deletes ids in a single transaction and returns how many
// existed. Empty, duplicate and missing ids are skipped.
func (s *BaseStorage) BatchDelete(ctx context.Context, ids []string) (int64, error) {
	var deleted int64
	err := s.call(ctx, opBatchDelete, "", func(ctx context.Context) error {
		for attempt := 1; ; attempt++ {
			ops, err := s.deleteOps(ctx, ids)
			if err != nil || len(ops) == 0 {
				return err
			}
			err = s.backend.Transaction(ctx, ops)
			// A concurrent delete makes the batch fail as not found;
			// rebuild it without the vanished id.
			if IsNotFound(err) && attempt < maxBatchDeleteAttempts {
				continue
			}
			if err == nil {
				deleted = int64(len(ops))
			}
			return err
		}
	})
	s.invalidateAll()
	return deleted, err
}

const maxBatchDeleteAttempts = 3

// deleteOps returns one delete operation per distinct existing id.
func (s *BaseStorage) deleteOps(ctx context.Context, ids []string) ([]Operation, error) {
	seen := make(map[string]struct{}, len(ids))
	ops := make([]Operation, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		ok, err := s.backend.Exists(ctx, id)
		if err != nil {
			return nil, err
		}
		if ok {
			ops = append(ops, Operation{Kind: OpDelete, ID: id})
		}
	}
	return ops, nil
}

// GetBySession returns the records of a session.
func (s *BaseStorage) GetBySession(ctx context.Context, sessionID string) ([]Record, error) {
	return s.list(ctx, opList, Filter{FieldSessionID: sessionID}, 0)
}

// GetByThread returns the records of a thread.
func (s *BaseStorage) GetByThread(ctx context.Context, threadID string) ([]Record, error) {
	return s.list(ctx, opList, Filter{FieldThreadID: threadID}, 0)
}

// CleanupOldData deletes records older than retentionDays and returns how
// many were removed.
func (s *BaseStorage) CleanupOldData(ctx context.Context, retentionDays int) (int64, error) {
	if retentionDays < 0 {
		return 0, s.fail(opCleanup, NewValidationError(s.backend.Type(), opCleanup, "retention days cannot be negative"))
	}
	cutoff := time.Now().UTC().Add(-time.Duration(retentionDays) * 24 * time.Hour)

	var n int64
	err := s.call(ctx, opCleanup, "", func(ctx context.Context) error {
		var err error
		n, err = s.backend.CleanupOldData(ctx, cutoff)
		return err
	})
	s.invalidateAll()
	if err == nil && n > 0 {
		s.logger.Info("cleaned up old records", "deleted", n, "retention_days", retentionDays)
	}
	return n, err
}

// StreamList pages through matching records. The timeout budget applies to
// starting the scan only; the stream itself lives until it is drained, ctx
// is cancelled or the storage is closed. A caller that stops reading early
// must cancel ctx, otherwise the producer stays blocked until Close.
func (s *BaseStorage) StreamList(ctx context.Context, filter Filter, batchSize int) (<-chan []Record, <-chan error, error) {
	if err := filter.Validate(); err != nil {
		return nil, nil, s.fail(opStreamList, NewValidationError(s.backend.Type(), opStreamList, err.Error()))
	}
	if batchSize <= 0 {
		return nil, nil, s.fail(opStreamList, NewValidationError(s.backend.Type(), opStreamList, "batch size must be positive"))
	}

	sctx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(s.closing, cancel)

	start := time.Now()
	batches, errs, err := s.backend.StreamList(sctx, filter, batchSize)
	s.observe(opStreamList, start, err)
	if err != nil {
		stop()
		cancel()
		return nil, nil, Wrap(s.backend.Type(), opStreamList, "", err)
	}

	// The backend sends at most one error before closing errs, so the
	// relay never blocks.
	relayed := make(chan error, 1)
	go func() {
		defer cancel()
		defer stop()
		defer close(relayed)
		for err := range errs {
			relayed <- err
		}
	}()
	return batches, relayed, nil
}

// HealthCheck reports backend health merged with the wrapper's counters.
// When the backend check fails the returned status is unhealthy and the
// error is a ConnectionError.
func (s *BaseStorage) HealthCheck(ctx context.Context) (*HealthStatus, error) {
	start := time.Now()

	cctx, cancel := context.WithTimeout(ctx, s.timeout)
	status, err := s.backend.HealthCheck(cctx)
	cancel()
	s.observe(opHealthCheck, start, err)

	if status == nil {
		status = &HealthStatus{Backend: s.backend.Type()}
	}
	if err != nil {
		status.Status = StatusUnhealthy
		status.Connected = false
		err = NewConnectionError(s.backend.Type(), opHealthCheck, err)
		s.recordError(err)
	}

	status.ResponseTimeMS = float64(time.Since(start).Microseconds()) / 1000
	status.Operations = make(map[string]int64, len(s.counters))
	for name, c := range s.counters {
		status.Operations[name] = c.Load()
	}
	status.Errors = s.errors.Load()
	if last, ok := s.lastError.Load().(string); ok && status.LastError == "" {
		status.LastError = last
	}
	if status.CheckedAt.IsZero() {
		status.CheckedAt = time.Now().UTC()
	}
	if status.Details == nil {
		status.Details = map[string]any{}
	}
	status.Details["instance"] = s.name
	status.Details["timeout_seconds"] = s.timeout.Seconds()

	if s.cache != nil {
		stats := s.cache.Stats()
		status.Details["cache"] = stats
		if s.metrics != nil {
			s.metrics.UpdateCacheStats(s.name, int(stats.Size), stats.Evictions)
		}
	}
	if s.metrics != nil && err == nil {
		s.metrics.UpdateItems(s.backend.Type(), status.ItemCount)
	}

	return status, err
}

// CacheStats returns the load cache statistics and whether caching is enabled.
func (s *BaseStorage) CacheStats() (cache.Statistics, bool) {
	if s.cache == nil {
		return cache.Statistics{}, false
	}
	return s.cache.Stats(), true
}

// call runs fn under the timeout budget, classifies its error and records
// counters and metrics.
func (s *BaseStorage) call(ctx context.Context, op, id string, fn func(context.Context) error) error {
	start := time.Now()

	ctx, span := s.tracer.Start(ctx, "storage."+op,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(AttrBackend.String(s.backend.Type()), AttrInstance.String(s.name)))
	defer span.End()
	if id != "" {
		span.SetAttributes(AttrRecordID.String(id))
	}

	cctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	err := fn(cctx)
	if err != nil && errors.Is(cctx.Err(), context.DeadlineExceeded) && ctx.Err() == nil && KindOf(err) != KindTimeout {
		err = NewTimeoutError(s.backend.Type(), op, id, err)
	}
	err = Wrap(s.backend.Type(), op, id, err)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	s.observe(op, start, err)
	return err
}

func (s *BaseStorage) observe(op string, start time.Time, err error) {
	if c, ok := s.counters[op]; ok {
		c.Add(1)
	}
	status := "success"
	if err != nil {
		status = "error"
		s.recordError(err)
	}
	if s.metrics != nil {
		s.metrics.RecordOperation(s.backend.Type(), op, status, time.Since(start))
	}
}

// fail counts a call rejected before reaching the backend.
func (s *BaseStorage) fail(op string, err error) error {
	if c, ok := s.counters[op]; ok {
		c.Add(1)
	}
	s.recordError(err)
	if s.metrics != nil {
		s.metrics.RecordOperation(s.backend.Type(), op, "error", 0)
	}
	return err
}

func (s *BaseStorage) recordError(err error) {
	s.errors.Add(1)
	s.lastError.Store(err.Error())
	switch KindOf(err) {
	case KindNotFound, KindValidation:
		s.logger.Debug("storage operation rejected", "error", err)
	default:
		s.logger.Warn("storage operation failed", "error", err)
	}
}

func (s *BaseStorage) invalidate(id string) {
	s.gen.Add(1)
	if s.cache != nil && id != "" {
		s.cache.Delete(id)
	}
}

func (s *BaseStorage) invalidateAll() {
	s.gen.Add(1)
	if s.cache != nil {
		s.cache.Clear()
	}
}
