package factory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"mercator-hq/unistore/pkg/config"
	"mercator-hq/unistore/pkg/storage"
	"mercator-hq/unistore/pkg/storage/codec"

	"go.opentelemetry.io/otel/trace"
)

// ErrShutdown is returned by a Factory after Shutdown.
var ErrShutdown = errors.New("storage factory is shut down")

// Option configures a Factory.
type Option func(*Factory)

// WithRegistry uses r instead of a fresh registry.
func WithRegistry(r *Registry) Option {
	return func(f *Factory) { f.registry = r }
}

// WithLogger sets the logger handed to backends and wrappers.
func WithLogger(logger *slog.Logger) Option {
	return func(f *Factory) { f.base = logger }
}

// WithMetrics records every operation of every created storage.
func WithMetrics(m storage.MetricsRecorder) Option {
	return func(f *Factory) { f.metrics = m }
}

// WithTracer starts a span around every backend call of every created
// storage.
func WithTracer(t trace.Tracer) Option {
	return func(f *Factory) { f.tracer = t }
}

// Factory turns (type, options) pairs into connected storages and owns the
// named instances created through CreateOrGetStorage.
//
// Factory is safe for concurrent use.
type Factory struct {
	registry *Registry
	// base is handed to backends and wrappers, which scope it themselves.
	base    *slog.Logger
	logger  *slog.Logger
	metrics storage.MetricsRecorder
	tracer  trace.Tracer

	mu        sync.Mutex
	instances map[string]*instance
	closed    bool
}

// instance is a named storage, possibly still connecting.
type instance struct {
	storageType string
	ready       chan struct{}
	store       *storage.BaseStorage
	err         error
}

// New creates a factory.
func New(opts ...Option) *Factory {
	f := &Factory{instances: make(map[string]*instance)}
	for _, opt := range opts {
		opt(f)
	}
	if f.registry == nil {
		f.registry = NewRegistry()
	}
	if f.base == nil {
		f.base = slog.Default()
	}
	f.logger = f.base.With("component", "storage.factory")
	return f
}

// Registry returns the backend registry.
func (f *Factory) Registry() *Registry {
	return f.registry
}

// CreateStorage validates opts, builds the backend for storageType and
// returns it connected. The caller owns the result and must Close it.
func (f *Factory) CreateStorage(ctx context.Context, storageType string, opts storage.Options) (*storage.BaseStorage, error) {
	if f.isClosed() {
		return nil, ErrShutdown
	}
	return f.build(ctx, normalize(storageType), storageType, opts)
}

// CreateOrGetStorage returns the instance called name, creating and
// connecting it on first use. name defaults to storageType. Requesting an
// existing name with a different type is a configuration error.
func (f *Factory) CreateOrGetStorage(ctx context.Context, storageType string, opts storage.Options, name string) (*storage.BaseStorage, error) {
	if name == "" {
		name = normalize(storageType)
	}
	kind := normalize(storageType)

	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil, ErrShutdown
	}
	if inst, ok := f.instances[name]; ok {
		f.mu.Unlock()
		if inst.storageType != kind {
			return nil, storage.NewConfigurationError(storageType, "name",
				fmt.Sprintf("instance %q already exists with type %q", name, inst.storageType))
		}
		select {
		case <-inst.ready:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		if inst.err != nil {
			return nil, inst.err
		}
		return inst.store, nil
	}
	inst := &instance{storageType: kind, ready: make(chan struct{})}
	f.instances[name] = inst
	f.mu.Unlock()

	inst.store, inst.err = f.build(ctx, name, storageType, opts)
	close(inst.ready)

	if inst.err != nil {
		f.mu.Lock()
		if f.instances[name] == inst {
			delete(f.instances, name)
		}
		f.mu.Unlock()
		return nil, inst.err
	}

	f.logger.Info("storage instance created", "name", name, "type", kind, "total_instances", f.count())
	return inst.store, nil
}

// build resolves, constructs, wraps and connects one storage.
func (f *Factory) build(ctx context.Context, name, kind string, opts storage.Options) (*storage.BaseStorage, error) {
	if opts == nil {
		opts = storage.Options{}
	}
	common, err := opts.Common()
	if err != nil {
		return nil, withBackend(err, kind)
	}

	ctor, err := f.registry.Get(kind)
	if err != nil {
		return nil, err
	}

	serializer, err := codec.SerializerByName(common.Serializer)
	if err != nil {
		return nil, storage.NewConfigurationError(kind, storage.OptionSerializer, err.Error())
	}

	backend, err := ctor(opts, storage.Dependencies{Serializer: serializer, Logger: f.base})
	if err != nil {
		if storage.KindOf(err) == storage.KindConfiguration {
			return nil, err
		}
		return nil, storage.NewConfigurationError(kind, "", err.Error())
	}

	store := storage.NewBaseStorage(backend, storage.BaseConfig{
		Name:    name,
		Common:  common,
		Logger:  f.base,
		Metrics: f.metrics,
		Tracer:  f.tracer,
	})
	if err := store.Connect(ctx); err != nil {
		f.logger.Error("failed to connect storage", "name", name, "type", kind, "error", err)
		return nil, err
	}

	f.logger.Debug("storage created",
		"name", name,
		"type", kind,
		"config", opts.Redacted())
	return store, nil
}

// Instance returns the named instance if it exists and is connected.
func (f *Factory) Instance(name string) (*storage.BaseStorage, bool) {
	f.mu.Lock()
	inst, ok := f.instances[name]
	f.mu.Unlock()
	if !ok {
		return nil, false
	}
	select {
	case <-inst.ready:
		return inst.store, inst.err == nil
	default:
		return nil, false
	}
}

// Instances returns the names of the managed instances in sorted order.
func (f *Factory) Instances() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	names := make([]string, 0, len(f.instances))
	for name := range f.instances {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// RemoveInstance closes the named instance and forgets it. It reports
// whether the instance existed.
func (f *Factory) RemoveInstance(ctx context.Context, name string) (bool, error) {
	f.mu.Lock()
	inst, ok := f.instances[name]
	if ok {
		delete(f.instances, name)
	}
	f.mu.Unlock()
	if !ok {
		return false, nil
	}

	if err := closeInstance(ctx, inst); err != nil {
		return true, fmt.Errorf("close instance %q: %w", name, err)
	}
	f.logger.Info("storage instance removed", "name", name, "remaining_instances", f.count())
	return true, nil
}

// CloseAllInstances closes and forgets every managed instance. All
// instances are closed even when some fail; the failures are joined.
func (f *Factory) CloseAllInstances(ctx context.Context) error {
	f.mu.Lock()
	instances := f.instances
	f.instances = make(map[string]*instance)
	f.mu.Unlock()

	names := make([]string, 0, len(instances))
	for name := range instances {
		names = append(names, name)
	}
	sort.Strings(names)

	var errs []error
	for _, name := range names {
		if err := closeInstance(ctx, instances[name]); err != nil {
			errs = append(errs, fmt.Errorf("close instance %q: %w", name, err))
		}
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	if len(names) > 0 {
		f.logger.Info("all storage instances closed", "count", len(names))
	}
	return nil
}

// HealthCheckAll checks every connected instance. Failed checks are
// reported through the returned statuses, which are never nil.
func (f *Factory) HealthCheckAll(ctx context.Context) map[string]*storage.HealthStatus {
	out := make(map[string]*storage.HealthStatus)
	for _, name := range f.Instances() {
		store, ok := f.Instance(name)
		if !ok {
			continue
		}
		status, err := store.HealthCheck(ctx)
		if err != nil {
			f.logger.Warn("storage health check failed", "name", name, "error", err)
		}
		out[name] = status
	}
	return out
}

// LoadFromConfig creates every instance declared in cfg. Failures are
// collected so one bad instance does not hide the others.
func (f *Factory) LoadFromConfig(ctx context.Context, cfg *config.StorageConfig) error {
	names := make([]string, 0, len(cfg.Instances))
	for name := range cfg.Instances {
		names = append(names, name)
	}
	sort.Strings(names)

	var errs []error
	for _, name := range names {
		inst := cfg.Instances[name]
		if _, err := f.CreateOrGetStorage(ctx, inst.Type, storage.Options(inst.Options), name); err != nil {
			f.logger.Error("failed to load storage instance", "name", name, "type", inst.Type, "error", err)
			errs = append(errs, fmt.Errorf("instance %q: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

// Shutdown closes every instance and rejects further creation.
func (f *Factory) Shutdown(ctx context.Context) error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return f.CloseAllInstances(ctx)
}

func (f *Factory) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *Factory) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.instances)
}

// closeInstance waits for a pending creation before closing.
func closeInstance(ctx context.Context, inst *instance) error {
	select {
	case <-inst.ready:
	case <-ctx.Done():
		return ctx.Err()
	}
	if inst.err != nil || inst.store == nil {
		return nil
	}
	return inst.store.Close(ctx)
}

// withBackend fills the backend name of a configuration error raised by
// the common option checks.
func withBackend(err error, backend string) error {
	var se *storage.Error
	if errors.As(err, &se) && se.Backend == "" {
		cp := *se
		cp.Backend = backend
		return &cp
	}
	return err
}
