// Package codec provides the pluggable record serializers and payload
// compressors used by the storage backends.
//
// # Serializers
//
//   - JSON: default, compact encoding (".json")
//   - YAML: human-editable encoding (".yaml")
//
// # Compressors
//
//   - gzip (".gz"), bzip2 (".bz2"), xz (".xz"), and a pass-through "none"
//
// Serializers and compressors are stateless and safe for concurrent use.
package codec
