// Package secrets resolves ${secret:name} references in storage instance
// options.
//
// Secrets come from an ordered list of providers: a FileProvider reading a
// directory of 0600 files and an EnvProvider reading UNISTORE_SECRET_<NAME>
// variables. Configured as
//
//	secrets:
//	  directory: /run/secrets
//	storage:
//	  instances:
//	    docs:
//	      type: file
//	      options:
//	        base_path: /var/lib/unistore/docs
//	        encryption_key: ${secret:docs-key}
//
// the file backend receives the contents of /run/secrets/docs-key, or the
// value of UNISTORE_SECRET_DOCS_KEY when no such file exists.
package secrets
