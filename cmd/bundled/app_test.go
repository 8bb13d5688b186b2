package main

import (
	"bytes"
	"io"
	"strings"
	"testing"

	"gopkg.in/yaml.v3"
	"pkt.systems/bundled"
	"pkt.systems/bundled/internal/version"
	"pkt.systems/pslog"
)

func executeRootCommand(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	cmd := newRootCommand(pslog.NewStructured(io.Discard))
	var stdout bytes.Buffer
	var stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func TestVersionCommandPrintsVersion(t *testing.T) {
	stdout, stderr, err := executeRootCommand(t, "version")
	if err != nil {
		t.Fatalf("version command failed: %v", err)
	}
	if stderr != "" {
		t.Fatalf("expected empty stderr, got %q", stderr)
	}
	want := "bundled " + version.String() + "\n"
	if stdout != want {
		t.Fatalf("unexpected stdout: got %q want %q", stdout, want)
	}
}

func TestConfigGenStdoutEmitsDefaults(t *testing.T) {
	stdout, _, err := executeRootCommand(t, "config", "gen", "--stdout")
	if err != nil {
		t.Fatalf("config gen failed: %v", err)
	}
	var parsed configDefaults
	if err := yaml.Unmarshal([]byte(stdout), &parsed); err != nil {
		t.Fatalf("generated config is not YAML: %v", err)
	}
	if parsed.Listen != bundled.DefaultListen {
		t.Fatalf("unexpected listen default: %s", parsed.Listen)
	}
	if parsed.Store != bundled.DefaultStore {
		t.Fatalf("unexpected store default: %s", parsed.Store)
	}
	if parsed.MaxBundleEntries != bundled.DefaultMaxBundleEntries {
		t.Fatalf("unexpected max entries default: %d", parsed.MaxBundleEntries)
	}
	if !strings.HasPrefix(stdout, "# bundled configuration file") {
		t.Fatalf("expected header comment, got %q", stdout[:40])
	}
}

func TestBindConfigAppliesFlagValues(t *testing.T) {
	cmd := newRootCommand(pslog.NewStructured(io.Discard))
	if err := cmd.Flags().Set("store", "disk:///tmp/bundled-test"); err != nil {
		t.Fatalf("set store flag: %v", err)
	}
	if err := cmd.Flags().Set("json-max", "2MB"); err != nil {
		t.Fatalf("set json-max flag: %v", err)
	}
	if err := cmd.Flags().Set("disable-bundles", "true"); err != nil {
		t.Fatalf("set disable-bundles flag: %v", err)
	}
	var cfg bundled.Config
	if err := bindConfig(&cfg); err != nil {
		t.Fatalf("bind config: %v", err)
	}
	if cfg.Store != "disk:///tmp/bundled-test" {
		t.Fatalf("unexpected store: %s", cfg.Store)
	}
	if cfg.JSONMaxBytes != 2_000_000 {
		t.Fatalf("unexpected json max: %d", cfg.JSONMaxBytes)
	}
	if !cfg.DisableBundles {
		t.Fatal("expected bundles disabled")
	}
}

func TestHumanizeBytes(t *testing.T) {
	if got := humanizeBytes(4 << 20); got != "4.2MB" {
		t.Fatalf("unexpected humanized size: %s", got)
	}
}
