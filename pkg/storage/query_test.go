package storage

import (
	"math"
	"testing"
)

func TestParseQuery(t *testing.T) {
	tests := []struct {
		name      string
		raw       string
		params    map[string]any
		wantLimit int
		wantKeys  []string
		wantErr   bool
	}{
		{name: "empty", raw: "", wantKeys: nil},
		{name: "filters", raw: `filters:{"type":"session","x":{"$gt":5}}`, wantKeys: []string{"type", "x"}},
		{name: "empty filters body", raw: "filters:", wantKeys: nil},
		{name: "params become equality", raw: "", params: map[string]any{"session_id": "s1"}, wantKeys: []string{"session_id"}},
		{name: "limit param", raw: `filters:{"type":"a"}`, params: map[string]any{"limit": 5}, wantLimit: 5, wantKeys: []string{"type"}},
		{name: "float limit", raw: "", params: map[string]any{"limit": 2.0}, wantLimit: 2},
		{name: "negative limit", raw: "", params: map[string]any{"limit": -1}, wantErr: true},
		{name: "limit clamped", raw: "", params: map[string]any{"limit": MaxQueryLimit + 1}, wantLimit: MaxQueryLimit},
		{name: "huge float limit clamped", raw: "", params: map[string]any{"limit": 1e300}, wantLimit: MaxQueryLimit},
		{name: "NaN limit", raw: "", params: map[string]any{"limit": math.NaN()}, wantErr: true},
		{name: "param conflicts with filter", raw: `filters:{"type":"a"}`, params: map[string]any{"type": "b"}, wantErr: true},
		{name: "bad json", raw: "filters:{", wantErr: true},
		{name: "unsupported syntax", raw: "SELECT * FROM x", wantErr: true},
		{name: "invalid operator", raw: `filters:{"x":{"$regex":"a"}}`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			filter, limit, err := ParseQuery(tt.raw, tt.params)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseQuery() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if limit != tt.wantLimit {
				t.Errorf("limit = %d, want %d", limit, tt.wantLimit)
			}
			if len(filter) != len(tt.wantKeys) {
				t.Fatalf("filter = %v, want keys %v", filter, tt.wantKeys)
			}
			for _, k := range tt.wantKeys {
				if _, ok := filter[k]; !ok {
					t.Errorf("filter missing key %q", k)
				}
			}
		})
	}
}
