package storage

import (
	"context"
	"log/slog"
	"time"

	"mercator-hq/unistore/pkg/storage/codec"
)

// Backend is the driver contract implemented by the memory, file and
// SQLite backends. BaseStorage wraps a Backend to provide the full Storage
// contract. Implementations must be safe for concurrent use.
type Backend interface {
	// Type returns the registered backend type name.
	Type() string

	// Connect prepares the medium and starts background workers.
	Connect(ctx context.Context) error

	// Disconnect stops background workers and releases resources.
	// It is idempotent.
	Disconnect(ctx context.Context) error

	// Save persists rec, assigning an id when absent, and returns the id.
	// Saving an existing id overwrites it.
	Save(ctx context.Context, rec Record) (string, error)

	// Load returns the record or nil when it does not exist (or expired).
	Load(ctx context.Context, id string) (Record, error)

	// Update merges partial into an existing record. It returns false when
	// the record does not exist.
	Update(ctx context.Context, id string, partial Record) (bool, error)

	// Delete removes the record and its sidecars. It returns false when the
	// record does not exist.
	Delete(ctx context.Context, id string) (bool, error)

	// List returns records matching filter ordered by created_at then id.
	// A limit <= 0 means no limit.
	List(ctx context.Context, filter Filter, limit int) ([]Record, error)

	// Count returns the number of records matching filter.
	Count(ctx context.Context, filter Filter) (int64, error)

	// Exists reports whether id exists.
	Exists(ctx context.Context, id string) (bool, error)

	// Transaction applies ops atomically: all succeed or none is visible.
	Transaction(ctx context.Context, ops []Operation) error

	// CleanupOldData deletes records older than cutoff and returns the count.
	CleanupOldData(ctx context.Context, cutoff time.Time) (int64, error)

	// StreamList pages through matching records in batches of batchSize.
	// Both channels are closed when the scan ends; at most one error is sent.
	// The producer must return, sending ctx.Err(), once ctx is done.
	StreamList(ctx context.Context, filter Filter, batchSize int) (<-chan []Record, <-chan error, error)

	// HealthCheck reports backend health and statistics.
	HealthCheck(ctx context.Context) (*HealthStatus, error)
}

// ExpiryReporter is implemented by backends whose records can expire.
// BaseStorage uses it to keep cached loads from outliving their record.
type ExpiryReporter interface {
	// ExpiresAt returns when id expires. ok is false when id is absent or
	// never expires.
	ExpiresAt(id string) (at time.Time, ok bool)
}

// Storage is the unified storage contract consumed by callers. It is
// implemented by BaseStorage on top of any Backend.
type Storage interface {
	Connect(ctx context.Context) error
	Close(ctx context.Context) error

	Save(ctx context.Context, rec Record) (string, error)
	Load(ctx context.Context, id string) (Record, error)
	Update(ctx context.Context, id string, partial Record) (bool, error)
	Delete(ctx context.Context, id string) (bool, error)

	List(ctx context.Context, filter Filter, limit int) ([]Record, error)
	Query(ctx context.Context, raw string, params map[string]any) ([]Record, error)
	Count(ctx context.Context, filter Filter) (int64, error)
	Exists(ctx context.Context, id string) (bool, error)

	Transaction(ctx context.Context, ops []Operation) (bool, error)
	BatchSave(ctx context.Context, recs []Record) ([]string, error)
	BatchDelete(ctx context.Context, ids []string) (int64, error)

	GetBySession(ctx context.Context, sessionID string) ([]Record, error)
	GetByThread(ctx context.Context, threadID string) ([]Record, error)

	CleanupOldData(ctx context.Context, retentionDays int) (int64, error)

	// StreamList streams matching records in batches. Callers that stop
	// reading before the batch channel closes must cancel ctx.
	StreamList(ctx context.Context, filter Filter, batchSize int) (<-chan []Record, <-chan error, error)
	HealthCheck(ctx context.Context) (*HealthStatus, error)

	// Backend exposes the wrapped driver for backend-specific operations.
	Backend() Backend
}

// OperationKind names a transaction operation.
type OperationKind string

const (
	OpSave   OperationKind = "save"
	OpUpdate OperationKind = "update"
	OpDelete OperationKind = "delete"
)

// Operation is a single step of a transaction.
type Operation struct {
	Kind   OperationKind `json:"operation" yaml:"operation"`
	ID     string        `json:"id,omitempty" yaml:"id,omitempty"`
	Record Record        `json:"data,omitempty" yaml:"data,omitempty"`
}

// TargetID returns the id the operation acts on.
func (op Operation) TargetID() string {
	if op.ID != "" {
		return op.ID
	}
	return op.Record.ID()
}

// Validate checks the operation is well formed.
func (op Operation) Validate() error {
	switch op.Kind {
	case OpSave:
		if op.Record == nil {
			return NewValidationError("", "transaction", "save operation requires data")
		}
	case OpUpdate:
		if op.TargetID() == "" || op.Record == nil {
			return NewValidationError("", "transaction", "update operation requires id and data")
		}
	case OpDelete:
		if op.TargetID() == "" {
			return NewValidationError("", "transaction", "delete operation requires id")
		}
	default:
		return NewValidationError("", "transaction", "unknown operation "+string(op.Kind))
	}
	return nil
}

// Dependencies are the collaborators injected into a backend constructor.
type Dependencies struct {
	// Serializer encodes records for the medium. Defaults to JSON.
	Serializer codec.Serializer

	// Logger receives backend logs. Defaults to slog.Default().
	Logger *slog.Logger
}

// WithDefaults fills unset dependencies.
func (d Dependencies) WithDefaults(component string) Dependencies {
	if d.Serializer == nil {
		d.Serializer = codec.JSON{}
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	d.Logger = d.Logger.With("component", component)
	return d
}

// Health status values.
const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

// HealthStatus is the structured status surface polled by operators.
type HealthStatus struct {
	Status         string           `json:"status"`
	Backend        string           `json:"backend"`
	Connected      bool             `json:"connected"`
	ItemCount      int64            `json:"item_count"`
	SizeBytes      int64            `json:"size_bytes"`
	ResponseTimeMS float64          `json:"response_time_ms"`
	Operations     map[string]int64 `json:"operations,omitempty"`
	Errors         int64            `json:"errors"`
	LastError      string           `json:"last_error,omitempty"`
	Config         map[string]any   `json:"config,omitempty"`
	Details        map[string]any   `json:"details,omitempty"`
	CheckedAt      time.Time        `json:"checked_at"`
}
