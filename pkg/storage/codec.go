package storage

import (
	"mercator-hq/unistore/pkg/storage/codec"
)

// EncodeRecord serializes rec with s.
func EncodeRecord(s codec.Serializer, rec Record) ([]byte, error) {
	return s.Marshal(map[string]any(rec))
}

// DecodeRecord deserializes data with s and normalizes the result.
func DecodeRecord(s codec.Serializer, data []byte) (Record, error) {
	m, err := s.Unmarshal(data)
	if err != nil {
		return nil, err
	}
	return Normalize(m)
}
