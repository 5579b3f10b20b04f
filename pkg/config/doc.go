// Package config provides configuration management for unistore.
//
// This package handles loading, validating, and managing configuration from
// YAML files with environment variable overrides. A configuration declares
// the named storage instances a process opens plus logging, metrics,
// tracing and secret lookup settings.
//
// # Configuration Loading
//
// Configuration can be loaded in two ways:
//
//  1. From a YAML file only:
//     cfg, err := config.LoadConfig("unistore.yaml")
//
//  2. From a YAML file with environment variable overrides:
//     cfg, err := config.LoadConfigWithEnvOverrides("unistore.yaml")
//
// # Example
//
//	storage:
//	  default: sessions
//	  instances:
//	    sessions:
//	      type: sqlite
//	      options:
//	        database_path: data/sessions.db
//	        journal_mode: WAL
//	    scratch:
//	      type: memory
//	      options:
//	        max_size: 5000
//	        default_ttl_seconds: 600
//	    archive:
//	      type: file
//	      options:
//	        base_path: data/archive
//	        encryption_key: ${secret:archive-key}
//	telemetry:
//	  logging:
//	    level: debug
//	    format: text
//	  tracing:
//	    enabled: true
//	    endpoint: localhost:4317
//	    insecure: true
//	secrets:
//	  directory: /run/secrets
//
// # Environment Variable Overrides
//
// Environment variables follow the naming convention UNISTORE_SECTION_FIELD.
// For example:
//
//   - UNISTORE_STORAGE_DEFAULT overrides storage.default
//   - UNISTORE_STORAGE_SESSIONS_DATABASE_PATH sets the database_path option of instance "sessions"
//   - UNISTORE_TELEMETRY_LOGGING_LEVEL overrides telemetry.logging.level
//   - UNISTORE_TELEMETRY_TRACING_ENDPOINT overrides telemetry.tracing.endpoint
//   - UNISTORE_SECRETS_DIRECTORY overrides secrets.directory
//
// Environment variables always take precedence over file-based configuration.
//
// # Configuration Precedence
//
// Configuration values are applied in the following order (later overrides earlier):
//
//  1. Default values (defined in defaults.go)
//  2. Values from YAML file
//  3. Environment variable overrides
//  4. Validation (fails fast if invalid)
//
// Backend options are opaque to this package. They are validated by the
// backend when the storage factory creates the instance.
package config
