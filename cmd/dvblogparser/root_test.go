package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/therealutkarshpriyadarshi/dvblogparser/internal/config"
)

func executeRoot(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer

	cmd := newRootCmd()
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(args)

	err := cmd.ExecuteContext(context.Background())
	return stdout.String(), stderr.String(), err
}

func writeConfig(t *testing.T, dir, logDir string) string {
	t.Helper()
	path := filepath.Join(dir, "config.yaml")
	content := fmt.Sprintf(`log_dir: %s
retention: 87600h
state:
  path: %s
  mirrors: [gzip, zstd]
scan:
  max_concurrency: 2
`, logDir, filepath.Join(dir, "state", "data.json"))

	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestRoot_MissingPrefix(t *testing.T) {
	t.Setenv(config.EnvFilePrefix, "")

	// a config path that does not exist proves no I/O happens first
	_, _, err := executeRoot(t, "--config", filepath.Join(t.TempDir(), "missing.yaml"))
	if !errors.Is(err, config.ErrMissingPrefix) {
		t.Errorf("error = %v, want ErrMissingPrefix", err)
	}
	if err.Error() != "missing LOG_FILE_NAME_STARTS_WITH in env" {
		t.Errorf("message = %q", err.Error())
	}
}

func TestRoot_RunTwice(t *testing.T) {
	dir := t.TempDir()
	logDir := filepath.Join(dir, "logs")
	if err := os.MkdirAll(logDir, 0755); err != nil {
		t.Fatal(err)
	}

	ts := time.Now().UTC().Add(-time.Hour).Format("02/Jan/2006:15:04:05 -0700")
	lines := []string{
		fmt.Sprintf(`10.1.2.3 [%s] "curl/7.58" {"level":"ERROR","msg":"disk full"}`, ts),
		fmt.Sprintf(`10.1.2.3 [%s] "curl/7.58" {"level":"INFO","msg":"ok"}`, ts),
	}
	if err := os.WriteFile(filepath.Join(logDir, "dvb.log"), []byte(strings.Join(lines, "\n")+"\n"), 0644); err != nil {
		t.Fatal(err)
	}

	t.Setenv(config.EnvFilePrefix, "dvb")
	cfgPath := writeConfig(t, dir, logDir)

	stdout, stderr, err := executeRoot(t, "--config", cfgPath, "--log-level", "debug")
	if err != nil {
		t.Fatalf("first run error = %v\nstderr:\n%s", err, stderr)
	}

	var records []map[string]interface{}
	if err := json.Unmarshal([]byte(stdout), &records); err != nil {
		t.Fatalf("stdout is not a JSON array: %v\n%s", err, stdout)
	}
	if len(records) != 1 {
		t.Fatalf("got %d records, want 1", len(records))
	}
	if !strings.Contains(stderr, `"component":"pipeline"`) {
		t.Errorf("diagnostic logs should go to stderr, got:\n%s", stderr)
	}

	for _, suffix := range []string{"", ".gz", ".zst"} {
		if _, err := os.Stat(filepath.Join(dir, "state", "data.json"+suffix)); err != nil {
			t.Errorf("state file %q missing: %v", suffix, err)
		}
	}

	stdout, _, err = executeRoot(t, "--config", cfgPath)
	if err != nil {
		t.Fatalf("second run error = %v", err)
	}
	if stdout != "" {
		t.Errorf("second run printed:\n%s", stdout)
	}
}

func TestRoot_InvalidFlag(t *testing.T) {
	t.Setenv(config.EnvFilePrefix, "access")
	dir := t.TempDir()

	_, _, err := executeRoot(t, "--config", writeConfig(t, dir, dir), "--log-format", "xml")
	if err == nil || !strings.Contains(err.Error(), "invalid log format") {
		t.Errorf("error = %v, want invalid log format", err)
	}
}

func TestVersionCmd(t *testing.T) {
	stdout, _, err := executeRoot(t, "version")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(stdout, "dvblogparser dev") {
		t.Errorf("version output = %q", stdout)
	}
}
