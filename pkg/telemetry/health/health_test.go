package health

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"mercator-hq/unistore/pkg/storage"
)

// fakeSource returns fixed statuses, optionally after a delay.
type fakeSource struct {
	statuses map[string]*storage.HealthStatus
	delay    time.Duration
}

func (f fakeSource) HealthCheckAll(ctx context.Context) map[string]*storage.HealthStatus {
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
		}
	}
	return f.statuses
}

func status(s string) *storage.HealthStatus {
	return &storage.HealthStatus{Status: s, Backend: "memory", ItemCount: 3}
}

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		timeout time.Duration
		want    time.Duration
	}{
		{"default timeout", 0, 5 * time.Second},
		{"custom timeout", 10 * time.Second, 10 * time.Second},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := New(fakeSource{}, tt.timeout)
			if c.timeout != tt.want {
				t.Errorf("timeout = %v, want %v", c.timeout, tt.want)
			}
		})
	}
}

func TestCheckReadiness(t *testing.T) {
	tests := []struct {
		name     string
		statuses map[string]*storage.HealthStatus
		want     string
	}{
		{"no instances", nil, StatusReady},
		{"all healthy", map[string]*storage.HealthStatus{
			"a": status(storage.StatusHealthy),
			"b": status(storage.StatusHealthy),
		}, StatusReady},
		{"one degraded", map[string]*storage.HealthStatus{
			"a": status(storage.StatusHealthy),
			"b": status(storage.StatusDegraded),
		}, StatusDegraded},
		{"unhealthy wins over degraded", map[string]*storage.HealthStatus{
			"a": status(storage.StatusUnhealthy),
			"b": status(storage.StatusDegraded),
		}, StatusUnhealthy},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			report := New(fakeSource{statuses: tt.statuses}, time.Second).CheckReadiness(context.Background())
			if report.Status != tt.want {
				t.Errorf("Status = %q, want %q", report.Status, tt.want)
			}
			if len(report.Instances) != len(tt.statuses) {
				t.Errorf("Instances = %d, want %d", len(report.Instances), len(tt.statuses))
			}
			for name, inst := range report.Instances {
				if inst.Status != tt.statuses[name].Status || inst.ItemCount != 3 {
					t.Errorf("instance %s = %+v", name, inst)
				}
			}
		})
	}
}

func TestCheckReadinessTimeout(t *testing.T) {
	c := New(fakeSource{delay: time.Second}, 20*time.Millisecond)
	report := c.CheckReadiness(context.Background())
	if report.Status != StatusUnhealthy || report.Message != ErrCheckTimeout.Error() {
		t.Errorf("report = %+v, want unhealthy timeout", report)
	}
}

func TestHandlers(t *testing.T) {
	tests := []struct {
		name     string
		path     string
		method   string
		statuses map[string]*storage.HealthStatus
		wantCode int
		wantBody string
	}{
		{"liveness", "/health", http.MethodGet, nil, http.StatusOK, StatusOK},
		{"ready", "/ready", http.MethodGet,
			map[string]*storage.HealthStatus{"a": status(storage.StatusHealthy)}, http.StatusOK, StatusReady},
		{"degraded still serves", "/ready", http.MethodGet,
			map[string]*storage.HealthStatus{"a": status(storage.StatusDegraded)}, http.StatusOK, StatusDegraded},
		{"unhealthy", "/ready", http.MethodGet,
			map[string]*storage.HealthStatus{"a": status(storage.StatusUnhealthy)}, http.StatusServiceUnavailable, StatusUnhealthy},
		{"method not allowed", "/health", http.MethodPost, nil, http.StatusMethodNotAllowed, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mux := http.NewServeMux()
			Register(mux, New(fakeSource{statuses: tt.statuses}, time.Second), VersionInfo{Version: "1.0.0"})

			rec := httptest.NewRecorder()
			mux.ServeHTTP(rec, httptest.NewRequest(tt.method, tt.path, nil))

			if rec.Code != tt.wantCode {
				t.Fatalf("code = %d, want %d", rec.Code, tt.wantCode)
			}
			if tt.wantBody == "" {
				return
			}
			var report Report
			if err := json.NewDecoder(rec.Body).Decode(&report); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if report.Status != tt.wantBody {
				t.Errorf("status = %q, want %q", report.Status, tt.wantBody)
			}
		})
	}
}

func TestVersionHandler(t *testing.T) {
	rec := httptest.NewRecorder()
	VersionHandler("1.2.3", "abc", "today")(rec, httptest.NewRequest(http.MethodGet, "/version", nil))

	var info VersionInfo
	if err := json.NewDecoder(rec.Body).Decode(&info); err != nil {
		t.Fatal(err)
	}
	if info.Version != "1.2.3" || info.Commit != "abc" || info.GoVersion == "" {
		t.Errorf("info = %+v", info)
	}

	head := httptest.NewRecorder()
	VersionHandler("1.2.3", "abc", "today")(head, httptest.NewRequest(http.MethodHead, "/version", nil))
	if head.Body.Len() != 0 {
		t.Errorf("HEAD wrote a body of %d bytes", head.Body.Len())
	}
}
