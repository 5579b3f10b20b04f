package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"mercator-hq/unistore/pkg/cli"
	"mercator-hq/unistore/pkg/storage"
)

// writeConfig writes a config with a file instance (default), a memory
// instance and an sqlite instance, all under a temp dir.
func writeConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	cfg := fmt.Sprintf(`
storage:
  default: docs
  shutdown_timeout: 5s
  instances:
    docs:
      type: file
      options:
        base_path: %q
    scratch:
      type: memory
    db:
      type: sqlite
      options:
        database_path: %q
        vacuum_interval_seconds: 0
telemetry:
  logging:
    level: error
  metrics:
    enabled: true
`, filepath.Join(dir, "docs"), filepath.Join(dir, "db.sqlite"))

	path := filepath.Join(dir, "unistore.yaml")
	if err := os.WriteFile(path, []byte(cfg), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

// resetFlags restores every flag variable to its default between runs.
func resetFlags() {
	cfgFile, instanceName, outputFormat, logLevel = "", "", string(cli.FormatText), ""
	putFlags.id, putFlags.file = "", ""
	listFlags.filter, listFlags.limit, listFlags.session, listFlags.thread = "", 0, "", ""
	queryFlags.params = nil
	cleanupFlags.days = 30
	healthFlags.all = false
	transferFlags.filter, transferFlags.batchSize, transferFlags.output, transferFlags.quiet = "", 100, "", false
}

// run executes the root command with args and returns stdout.
func run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	resetFlags()
	t.Cleanup(resetFlags)

	var stdout, stderr bytes.Buffer
	rootCmd.SetArgs(args)
	rootCmd.SetIn(strings.NewReader(stdin))
	rootCmd.SetOut(&stdout)
	rootCmd.SetErr(&stderr)
	err := rootCmd.ExecuteContext(context.Background())
	return stdout.String(), err
}

func mustRun(t *testing.T, args ...string) string {
	t.Helper()
	out, err := run(t, "", args...)
	if err != nil {
		t.Fatalf("unistore %s: %v", strings.Join(args, " "), err)
	}
	return strings.TrimSpace(out)
}

func TestRecordLifecycle(t *testing.T) {
	cfg := writeConfig(t)

	id := mustRun(t, "-c", cfg, "put", `{"id":"a","type":"session","x":10}`)
	if id != "a" {
		t.Fatalf("put printed %q, want a", id)
	}
	mustRun(t, "-c", cfg, "update", "a", `{"x":11}`)

	var rec map[string]any
	if err := json.Unmarshal([]byte(mustRun(t, "-c", cfg, "get", "a")), &rec); err != nil {
		t.Fatalf("get output is not JSON: %v", err)
	}
	if rec["x"] != float64(11) || rec["type"] != "session" {
		t.Errorf("record = %v", rec)
	}

	if got := mustRun(t, "-c", cfg, "count", "--filter", `{"type":"session"}`); got != "1" {
		t.Errorf("count = %s, want 1", got)
	}
	if got := mustRun(t, "-c", cfg, "delete", "a"); got != "1" {
		t.Errorf("delete = %s, want 1", got)
	}
	if got := mustRun(t, "-c", cfg, "exists", "a"); got != "false" {
		t.Errorf("exists = %s, want false", got)
	}

	_, err := run(t, "", "-c", cfg, "get", "a")
	if !storage.IsNotFound(err) || cli.ExitCode(err) != cli.ExitNotFound {
		t.Errorf("get missing error = %v, want not found", err)
	}
}

func TestPutFromStdinAndFile(t *testing.T) {
	cfg := writeConfig(t)

	out, err := run(t, `{"type":"note"}`, "-c", cfg, "put", "--id", "n1")
	if err != nil || strings.TrimSpace(out) != "n1" {
		t.Fatalf("put from stdin = %q, %v", out, err)
	}

	path := filepath.Join(t.TempDir(), "rec.json")
	if err := os.WriteFile(path, []byte(`{"id":"n2","type":"note"}`), 0o644); err != nil {
		t.Fatal(err)
	}
	if got := mustRun(t, "-c", cfg, "put", "-f", path); got != "n2" {
		t.Errorf("put from file = %q", got)
	}

	if _, err := run(t, "", "-c", cfg, "put", `[1,2]`); cli.ExitCode(err) != cli.ExitUsage {
		t.Errorf("put array error = %v, want usage error", err)
	}
}

func TestListFormatsAndFilters(t *testing.T) {
	cfg := writeConfig(t)
	for i := 1; i <= 4; i++ {
		mustRun(t, "-c", cfg, "-i", "db", "put",
			fmt.Sprintf(`{"id":"r%d","type":"event","score":%d,"session_id":"s%d"}`, i, i*10, i%2))
	}

	lines := strings.Split(mustRun(t, "-c", cfg, "-i", "db", "list", "--filter", `{"score":{"$gt":15}}`), "\n")
	if len(lines) != 3 {
		t.Errorf("list --filter returned %d lines, want 3", len(lines))
	}

	out := mustRun(t, "-c", cfg, "-i", "db", "-o", "json", "list", "--limit", "2")
	var recs []map[string]any
	if err := json.Unmarshal([]byte(out), &recs); err != nil {
		t.Fatalf("json output: %v", err)
	}
	if len(recs) != 2 || recs[0]["id"] != "r1" {
		t.Errorf("list --limit 2 = %v", recs)
	}

	csvOut := mustRun(t, "-c", cfg, "-i", "db", "-o", "csv", "list", "--session", "s1")
	if rows := strings.Split(csvOut, "\n"); len(rows) != 3 || !strings.HasPrefix(rows[0], "id,") {
		t.Errorf("csv output = %q", csvOut)
	}

	if got := mustRun(t, "-c", cfg, "-i", "db", "query", `filters:{"type":"event"}`, "--param", "limit=1"); strings.Count(got, "\n") != 0 {
		t.Errorf("query with limit=1 = %q", got)
	}

	if _, err := run(t, "", "-c", cfg, "list", "--filter", `{"x":{"$bogus":1}}`); cli.ExitCode(err) != cli.ExitUsage {
		t.Errorf("bad filter error = %v, want usage error", err)
	}
}

func TestExportImport(t *testing.T) {
	cfg := writeConfig(t)
	for i := 0; i < 5; i++ {
		mustRun(t, "-c", cfg, "put", fmt.Sprintf(`{"id":"e%d","n":%d}`, i, i))
	}

	dump := filepath.Join(t.TempDir(), "dump.jsonl")
	mustRun(t, "-c", cfg, "export", "--batch-size", "2", "--file", dump)

	data, err := os.ReadFile(dump)
	if err != nil {
		t.Fatal(err)
	}
	if n := strings.Count(string(data), "\n"); n != 5 {
		t.Fatalf("export wrote %d lines, want 5", n)
	}

	if got := mustRun(t, "-c", cfg, "-i", "db", "import", "-q", "--batch-size", "2", dump); got != "5" {
		t.Errorf("import printed %q, want 5", got)
	}
	if got := mustRun(t, "-c", cfg, "-i", "db", "count"); got != "5" {
		t.Errorf("count after import = %s, want 5", got)
	}

	if _, err := run(t, "{\"id\":\"ok\"}\nnot json\n", "-c", cfg, "-i", "db", "import", "-q", "-"); cli.ExitCode(err) != cli.ExitUsage {
		t.Errorf("import of malformed input error = %v, want usage error", err)
	}
}

func TestCleanup(t *testing.T) {
	cfg := writeConfig(t)
	mustRun(t, "-c", cfg, "-i", "db", "put", `{"id":"old","created_at":"2001-01-01T00:00:00.000000Z"}`)
	mustRun(t, "-c", cfg, "-i", "db", "put", `{"id":"new"}`)

	if got := mustRun(t, "-c", cfg, "-i", "db", "cleanup", "--days", "30"); got != "1" {
		t.Errorf("cleanup = %s, want 1", got)
	}
	if got := mustRun(t, "-c", cfg, "-i", "db", "exists", "new"); got != "true" {
		t.Errorf("new record removed by cleanup")
	}
	if _, err := run(t, "", "-c", cfg, "cleanup", "--days", "-1"); cli.ExitCode(err) != cli.ExitUsage {
		t.Errorf("negative days error = %v", err)
	}
}

func TestHealthAndTypes(t *testing.T) {
	cfg := writeConfig(t)

	out := mustRun(t, "-c", cfg, "-o", "json", "health", "--all")
	var statuses map[string]storage.HealthStatus
	if err := json.Unmarshal([]byte(out), &statuses); err != nil {
		t.Fatalf("health output: %v", err)
	}
	for _, name := range []string{"docs", "scratch", "db"} {
		if statuses[name].Status != storage.StatusHealthy {
			t.Errorf("%s status = %q", name, statuses[name].Status)
		}
	}

	if got := mustRun(t, "types"); got != "file\nmemory\nsql\nsqlite" {
		t.Errorf("types = %q", got)
	}

	if _, err := run(t, "", "-c", cfg, "-i", "nosuch", "health"); cli.ExitCode(err) != cli.ExitUsage {
		t.Errorf("unknown instance error = %v", err)
	}
}

func TestMaintain(t *testing.T) {
	cfg := writeConfig(t)
	mustRun(t, "-c", cfg, "-i", "db", "put", `{"id":"a"}`)

	mustRun(t, "-c", cfg, "-i", "db", "maintain", "vacuum")
	path := mustRun(t, "-c", cfg, "-i", "db", "maintain", "backup")
	if _, err := os.Stat(path); err != nil {
		t.Errorf("backup %q: %v", path, err)
	}
	if got := mustRun(t, "-c", cfg, "maintain", "reindex"); got != "0" {
		t.Errorf("reindex = %s, want 0", got)
	}

	_, err := run(t, "", "-c", cfg, "-i", "scratch", "maintain", "vacuum")
	var cfgErr *cli.ConfigError
	if !errors.As(err, &cfgErr) {
		t.Errorf("vacuum on memory error = %v, want ConfigError", err)
	}
}

func TestDefaultConfigUsesMemory(t *testing.T) {
	if got := mustRun(t, "put", `{"id":"m"}`); got != "m" {
		t.Errorf("put = %q", got)
	}
	// Each invocation opens a fresh in-memory instance.
	if got := mustRun(t, "exists", "m"); got != "false" {
		t.Errorf("exists = %q, want false", got)
	}
}

func TestServeMux(t *testing.T) {
	cfgPath := writeConfig(t)
	resetFlags()
	cfgFile = cfgPath
	t.Cleanup(resetFlags)

	sess, err := openSession(rootCmd)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = sess.close() })

	ctx := context.Background()
	if err := sess.factory.LoadFromConfig(ctx, &sess.cfg.Storage); err != nil {
		t.Fatal(err)
	}
	store, err := sess.open(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := store.Save(ctx, storage.Record{"id": "x"}); err != nil {
		t.Fatal(err)
	}

	srv := httptest.NewServer(newServeMux(sess, time.Second))
	defer srv.Close()

	tests := []struct {
		path     string
		contains string
	}{
		{"/health", `"ok"`},
		{"/ready", `"ready"`},
		{"/version", Version},
		{"/metrics", "unistore_storage_operations_total"},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			resp, err := http.Get(srv.URL + tt.path)
			if err != nil {
				t.Fatal(err)
			}
			defer resp.Body.Close()
			var body bytes.Buffer
			if _, err := body.ReadFrom(resp.Body); err != nil {
				t.Fatal(err)
			}
			if resp.StatusCode != http.StatusOK {
				t.Fatalf("status = %d, body %s", resp.StatusCode, body.String())
			}
			if !strings.Contains(body.String(), tt.contains) {
				t.Errorf("body does not contain %q: %s", tt.contains, body.String())
			}
		})
	}
}

func TestVersionCommand(t *testing.T) {
	out := mustRun(t, "version")
	if !strings.HasPrefix(out, "Unistore "+Version) {
		t.Errorf("version output = %q", out)
	}
}

func TestSecretReferences(t *testing.T) {
	dir := t.TempDir()
	base := filepath.Join(dir, "docs")
	cfg := filepath.Join(dir, "unistore.yaml")
	content := fmt.Sprintf(`
storage:
  default: docs
  instances:
    docs:
      type: file
      options:
        base_path: %q
        encryption_key: ${secret:docs-key}
telemetry:
  logging:
    level: error
`, base)
	if err := os.WriteFile(cfg, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	_, err := run(t, "", "-c", cfg, "put", `{"id":"s"}`)
	if cli.ExitCode(err) != cli.ExitUsage {
		t.Fatalf("unresolved secret: err = %v, want usage error", err)
	}

	t.Setenv("UNISTORE_SECRET_DOCS_KEY", "correct horse battery staple")
	mustRun(t, "-c", cfg, "put", `{"id":"s","note":"plaintext-marker"}`)
	if out := mustRun(t, "-c", cfg, "get", "s"); !strings.Contains(out, "plaintext-marker") {
		t.Errorf("get = %s", out)
	}

	err = filepath.WalkDir(base, func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		if bytes.Contains(data, []byte("plaintext-marker")) {
			t.Errorf("%s holds the record in plaintext", path)
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
}
