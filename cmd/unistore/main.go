// Unistore is the admin CLI for unistore storage instances.
//
// It loads the instance declarations from a YAML configuration file, opens
// the named instance through the storage factory and runs one operation.
//
// Usage:
//
//	# Store a record in the default instance
//	unistore put '{"type":"session","user":"u1"}'
//
//	# Read it back from a named instance
//	unistore get 5f0c... --instance archive --config unistore.yaml
//
//	# Filter records
//	unistore list --filter '{"type":"session","score":{"$gt":10}}' --limit 20
//
//	# Serve /metrics and health probes for every instance
//	unistore serve --listen :9090
package main

func main() {
	Execute()
}
