package codec

import (
	"bytes"
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"
)

// Serializer converts records to and from bytes.
type Serializer interface {
	// Name returns the serializer name used in configuration.
	Name() string

	// Extension returns the file extension, including the dot.
	Extension() string

	// Marshal encodes v.
	Marshal(v map[string]any) ([]byte, error)

	// Unmarshal decodes data into a fresh map.
	Unmarshal(data []byte) (map[string]any, error)
}

// JSON is the default serializer.
type JSON struct{}

// Name implements Serializer.
func (JSON) Name() string { return "json" }

// Extension implements Serializer.
func (JSON) Extension() string { return ".json" }

// Marshal implements Serializer.
func (JSON) Marshal(v map[string]any) ([]byte, error) {
	return json.Marshal(v)
}

// Unmarshal implements Serializer.
func (JSON) Unmarshal(data []byte) (map[string]any, error) {
	var out map[string]any
	dec := json.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&out); err != nil {
		return nil, err
	}
	if out == nil {
		return nil, fmt.Errorf("payload is not an object")
	}
	return out, nil
}

// YAML serializes records as YAML documents.
type YAML struct{}

// Name implements Serializer.
func (YAML) Name() string { return "yaml" }

// Extension implements Serializer.
func (YAML) Extension() string { return ".yaml" }

// Marshal implements Serializer.
func (YAML) Marshal(v map[string]any) ([]byte, error) {
	return yaml.Marshal(v)
}

// Unmarshal implements Serializer. Integers decode as int; callers
// normalize values to the JSON value domain.
func (YAML) Unmarshal(data []byte) (map[string]any, error) {
	var out map[string]any
	if err := yaml.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	if out == nil {
		return nil, fmt.Errorf("payload is not a mapping")
	}
	return out, nil
}

// SerializerByName returns the serializer registered under name.
func SerializerByName(name string) (Serializer, error) {
	switch name {
	case "", "json":
		return JSON{}, nil
	case "yaml", "yml":
		return YAML{}, nil
	}
	return nil, fmt.Errorf("unknown serializer %q", name)
}
