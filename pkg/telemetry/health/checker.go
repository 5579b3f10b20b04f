package health

import (
	"context"
	"errors"
	"time"

	"mercator-hq/unistore/pkg/storage"
)

// Overall readiness values.
const (
	StatusOK        = "ok"
	StatusReady     = "ready"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

// ErrCheckTimeout is reported when the instances do not answer in time.
var ErrCheckTimeout = errors.New("health check timeout")

// Source reports the health of every managed storage instance.
// *factory.Factory implements it.
type Source interface {
	HealthCheckAll(ctx context.Context) map[string]*storage.HealthStatus
}

// InstanceResult summarizes one instance for probes.
type InstanceResult struct {
	Status         string  `json:"status"`
	Backend        string  `json:"backend"`
	ItemCount      int64   `json:"item_count"`
	ResponseTimeMS float64 `json:"response_time_ms"`
	Message        string  `json:"message,omitempty"`
}

// Report is the body of the liveness and readiness endpoints.
type Report struct {
	Status    string                    `json:"status"`
	Instances map[string]InstanceResult `json:"instances,omitempty"`
	Message   string                    `json:"message,omitempty"`
	Timestamp time.Time                 `json:"timestamp"`
}

// Checker turns storage health into liveness and readiness reports.
type Checker struct {
	source  Source
	timeout time.Duration
}

// New creates a checker over source. A zero timeout defaults to 5 seconds.
func New(source Source, timeout time.Duration) *Checker {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Checker{source: source, timeout: timeout}
}

// CheckLiveness reports that the process is serving requests.
func (c *Checker) CheckLiveness(context.Context) Report {
	return Report{Status: StatusOK, Timestamp: time.Now().UTC()}
}

// CheckReadiness probes every instance. The result is unhealthy when any
// instance is unhealthy or the probe times out, degraded when any instance
// is degraded, and ready otherwise.
func (c *Checker) CheckReadiness(ctx context.Context) Report {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	done := make(chan map[string]*storage.HealthStatus, 1)
	go func() {
		done <- c.source.HealthCheckAll(ctx)
	}()

	var statuses map[string]*storage.HealthStatus
	select {
	case statuses = <-done:
	case <-ctx.Done():
		return Report{
			Status:    StatusUnhealthy,
			Message:   ErrCheckTimeout.Error(),
			Timestamp: time.Now().UTC(),
		}
	}

	report := Report{
		Status:    StatusReady,
		Instances: make(map[string]InstanceResult, len(statuses)),
		Timestamp: time.Now().UTC(),
	}
	for name, st := range statuses {
		if st == nil {
			continue
		}
		report.Instances[name] = InstanceResult{
			Status:         st.Status,
			Backend:        st.Backend,
			ItemCount:      st.ItemCount,
			ResponseTimeMS: st.ResponseTimeMS,
			Message:        st.LastError,
		}
		switch st.Status {
		case storage.StatusUnhealthy:
			report.Status = StatusUnhealthy
		case storage.StatusDegraded:
			if report.Status == StatusReady {
				report.Status = StatusDegraded
			}
		}
	}
	return report
}
