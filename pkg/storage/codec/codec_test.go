package codec

import (
	"bytes"
	"strings"
	"testing"
)

func TestCompressors_RoundTrip(t *testing.T) {
	payload := []byte(strings.Repeat(`{"id":"abc","type":"session","x":10}`, 200))

	tests := []struct {
		name      string
		extension string
	}{
		{name: "none", extension: ""},
		{name: "gzip", extension: ".gz"},
		{name: "bz2", extension: ".bz2"},
		{name: "xz", extension: ".xz"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := CompressorByName(tt.name)
			if err != nil {
				t.Fatalf("CompressorByName(%q) failed: %v", tt.name, err)
			}
			if c.Extension() != tt.extension {
				t.Errorf("Extension() = %q, want %q", c.Extension(), tt.extension)
			}

			compressed, err := c.Compress(payload)
			if err != nil {
				t.Fatalf("Compress failed: %v", err)
			}
			if tt.name != "none" && len(compressed) >= len(payload) {
				t.Errorf("expected compressed size < %d, got %d", len(payload), len(compressed))
			}

			restored, err := c.Decompress(compressed)
			if err != nil {
				t.Fatalf("Decompress failed: %v", err)
			}
			if !bytes.Equal(restored, payload) {
				t.Error("decompressed payload does not match original")
			}
		})
	}
}

func TestCompressorByName_Unknown(t *testing.T) {
	if _, err := CompressorByName("lz4"); err == nil {
		t.Error("expected error for unknown compression type")
	}
}

func TestGzip_DecompressGarbage(t *testing.T) {
	if _, err := (Gzip{}).Decompress([]byte("not gzip")); err == nil {
		t.Error("expected error decompressing garbage")
	}
}

func TestSerializers_RoundTrip(t *testing.T) {
	record := map[string]any{
		"id":     "rec-1",
		"type":   "session",
		"count":  float64(3),
		"tags":   []any{"a", "b"},
		"nested": map[string]any{"ok": true},
	}

	for _, name := range []string{"json", "yaml"} {
		t.Run(name, func(t *testing.T) {
			s, err := SerializerByName(name)
			if err != nil {
				t.Fatalf("SerializerByName failed: %v", err)
			}
			data, err := s.Marshal(record)
			if err != nil {
				t.Fatalf("Marshal failed: %v", err)
			}
			decoded, err := s.Unmarshal(data)
			if err != nil {
				t.Fatalf("Unmarshal failed: %v", err)
			}
			if decoded["id"] != "rec-1" {
				t.Errorf("expected id rec-1, got %v", decoded["id"])
			}
			nested, ok := decoded["nested"].(map[string]any)
			if !ok || nested["ok"] != true {
				t.Errorf("expected nested.ok true, got %v", decoded["nested"])
			}
		})
	}
}

func TestJSON_UnmarshalRejectsNonObject(t *testing.T) {
	if _, err := (JSON{}).Unmarshal([]byte("null")); err == nil {
		t.Error("expected error for null payload")
	}
	if _, err := (JSON{}).Unmarshal([]byte("[1,2]")); err == nil {
		t.Error("expected error for array payload")
	}
}
