package storage

import (
	"strings"
	"testing"
	"time"
)

func TestPrepareForSave(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	t.Run("assigns id and timestamps", func(t *testing.T) {
		rec, ttl, err := PrepareForSave("memory", map[string]any{"n": 1}, now)
		if err != nil {
			t.Fatalf("PrepareForSave() error = %v", err)
		}
		if rec.ID() == "" {
			t.Error("expected generated id")
		}
		if rec.String(FieldCreatedAt) != "2024-05-01T12:00:00.000000Z" {
			t.Errorf("unexpected created_at %q", rec.String(FieldCreatedAt))
		}
		if rec.String(FieldUpdatedAt) != rec.String(FieldCreatedAt) {
			t.Error("expected updated_at == created_at on first save")
		}
		if rec["n"] != 1.0 {
			t.Errorf("expected int normalised to float64, got %#v", rec["n"])
		}
		if ttl != 0 {
			t.Errorf("expected no ttl, got %v", ttl)
		}
	})

	t.Run("keeps caller id and created_at", func(t *testing.T) {
		rec, _, err := PrepareForSave("memory", map[string]any{
			"id":         "abc",
			"created_at": "2023-01-01T00:00:00Z",
		}, now)
		if err != nil {
			t.Fatalf("PrepareForSave() error = %v", err)
		}
		if rec.ID() != "abc" {
			t.Errorf("expected id abc, got %q", rec.ID())
		}
		if rec.String(FieldCreatedAt) != "2023-01-01T00:00:00.000000Z" {
			t.Errorf("expected canonical created_at, got %q", rec.String(FieldCreatedAt))
		}
	})

	t.Run("strips ttl", func(t *testing.T) {
		rec, ttl, err := PrepareForSave("memory", map[string]any{"_ttl": 1.5}, now)
		if err != nil {
			t.Fatalf("PrepareForSave() error = %v", err)
		}
		if _, ok := rec[FieldTTL]; ok {
			t.Error("expected _ttl to be stripped")
		}
		if ttl != 1500*time.Millisecond {
			t.Errorf("expected ttl 1.5s, got %v", ttl)
		}
	})

	errCases := []struct {
		name string
		rec  map[string]any
	}{
		{"nil record", nil},
		{"non-string id", map[string]any{"id": 5}},
		{"path traversal id", map[string]any{"id": "../etc"}},
		{"negative ttl", map[string]any{"_ttl": -1}},
		{"bad created_at", map[string]any{"created_at": "yesterday"}},
	}
	for _, tc := range errCases {
		t.Run(tc.name, func(t *testing.T) {
			_, _, err := PrepareForSave("memory", tc.rec, now)
			if !IsValidation(err) {
				t.Errorf("expected validation error, got %v", err)
			}
		})
	}
}

func TestMerge(t *testing.T) {
	created := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	existing, _, err := PrepareForSave("file", map[string]any{
		"id": "a", "x": 10, "keep": "yes", "nested": map[string]any{"k": 1},
	}, created)
	if err != nil {
		t.Fatalf("PrepareForSave() error = %v", err)
	}

	later := created.Add(time.Hour)
	merged, err := Merge("file", existing, map[string]any{"x": 11, "created_at": "1999-01-01T00:00:00Z"}, later)
	if err != nil {
		t.Fatalf("Merge() error = %v", err)
	}

	if merged["x"] != 11.0 || merged["keep"] != "yes" {
		t.Errorf("unexpected merge result: %v", merged)
	}
	if merged.String(FieldCreatedAt) != existing.String(FieldCreatedAt) {
		t.Error("expected created_at to be preserved")
	}
	if merged.String(FieldUpdatedAt) != FormatTime(later) {
		t.Errorf("expected updated_at bumped, got %s", merged.String(FieldUpdatedAt))
	}
	if existing["x"] != 10.0 {
		t.Error("expected existing record to be left untouched")
	}

	if _, err := Merge("file", existing, map[string]any{"id": "b"}, later); !IsValidation(err) {
		t.Errorf("expected validation error changing id, got %v", err)
	}
}

func TestRecord_Clone(t *testing.T) {
	orig := Record{"nested": map[string]any{"list": []any{1.0, 2.0}}}
	clone := orig.Clone()

	clone["nested"].(map[string]any)["list"].([]any)[0] = 99.0
	if orig["nested"].(map[string]any)["list"].([]any)[0] != 1.0 {
		t.Error("expected deep copy")
	}
}

func TestNormalize_Structs(t *testing.T) {
	type point struct {
		X int `json:"x"`
	}
	rec, err := Normalize(map[string]any{
		"when":  time.Date(2024, 1, 1, 0, 0, 0, 0, time.FixedZone("X", 3600)),
		"point": point{X: 2},
		"ints":  []int{1, 2},
	})
	if err != nil {
		t.Fatalf("Normalize() error = %v", err)
	}
	if rec["when"] != "2023-12-31T23:00:00.000000Z" {
		t.Errorf("unexpected time normalisation: %v", rec["when"])
	}
	if rec["point"].(map[string]any)["x"] != 2.0 {
		t.Errorf("unexpected struct normalisation: %v", rec["point"])
	}
	if len(rec["ints"].([]any)) != 2 {
		t.Errorf("unexpected slice normalisation: %v", rec["ints"])
	}
}

func TestValidateID(t *testing.T) {
	valid := []string{"a", "session-1", "ünïcode", strings.Repeat("x", 255)}
	for _, id := range valid {
		if err := ValidateID(id); err != nil {
			t.Errorf("ValidateID(%q) unexpected error: %v", id, err)
		}
	}
	invalid := []string{"", ".", "..", ".hidden", "a/b", `a\b`, "tab\there", strings.Repeat("x", 256)}
	for _, id := range invalid {
		if err := ValidateID(id); err == nil {
			t.Errorf("ValidateID(%q) expected error", id)
		}
	}
}
