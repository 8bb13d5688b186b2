package bundled

import (
	"testing"
	"time"
)

func TestConfigNormalizedDefaults(t *testing.T) {
	cfg := Config{}.Normalized()
	if cfg.Listen != DefaultListen {
		t.Fatalf("expected listen default %q, got %q", DefaultListen, cfg.Listen)
	}
	if cfg.ListenProto != "tcp" {
		t.Fatalf("expected listen proto default tcp, got %s", cfg.ListenProto)
	}
	if cfg.Store != DefaultStore {
		t.Fatalf("expected store default %q, got %q", DefaultStore, cfg.Store)
	}
	if cfg.JSONMaxBytes != DefaultJSONMaxBytes {
		t.Fatalf("expected json max default %d, got %d", DefaultJSONMaxBytes, cfg.JSONMaxBytes)
	}
	if cfg.EntryTimeout != DefaultEntryTimeout {
		t.Fatalf("expected entry timeout default %s, got %s", DefaultEntryTimeout, cfg.EntryTimeout)
	}
	if cfg.MaxBundleEntries != DefaultMaxBundleEntries {
		t.Fatalf("expected max entries default %d, got %d", DefaultMaxBundleEntries, cfg.MaxBundleEntries)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate normalized defaults: %v", err)
	}
}

func TestConfigNormalizedKeepsExplicitValues(t *testing.T) {
	cfg := Config{
		Listen:           "127.0.0.1:8080",
		ListenProto:      "tcp4",
		Store:            "disk:///var/lib/bundled",
		JSONMaxBytes:     1 << 20,
		EntryTimeout:     2 * time.Second,
		MaxBundleEntries: 16,
		DisableBundles:   true,
	}.Normalized()
	if cfg.Listen != "127.0.0.1:8080" || cfg.ListenProto != "tcp4" {
		t.Fatalf("listener values overwritten: %+v", cfg)
	}
	if cfg.Store != "disk:///var/lib/bundled" {
		t.Fatalf("store overwritten: %s", cfg.Store)
	}
	if cfg.JSONMaxBytes != 1<<20 || cfg.EntryTimeout != 2*time.Second || cfg.MaxBundleEntries != 16 {
		t.Fatalf("limits overwritten: %+v", cfg)
	}
	if !cfg.DisableBundles {
		t.Fatal("disable bundles flag dropped")
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate explicit config: %v", err)
	}
}

func TestConfigValidateRejections(t *testing.T) {
	cases := []struct {
		name string
		cfg  Config
	}{
		{"bad proto", Config{Listen: ":9451", ListenProto: "udp", Store: "mem://", JSONMaxBytes: 1, EntryTimeout: time.Second, MaxBundleEntries: 1}},
		{"blank listen", Config{Listen: "   ", ListenProto: "tcp", Store: "mem://", JSONMaxBytes: 1, EntryTimeout: time.Second, MaxBundleEntries: 1}},
		{"unknown store scheme", Config{Listen: ":9451", ListenProto: "tcp", Store: "ftp://host/bucket", JSONMaxBytes: 1, EntryTimeout: time.Second, MaxBundleEntries: 1}},
		{"disk without path", Config{Listen: ":9451", ListenProto: "tcp", Store: "disk://", JSONMaxBytes: 1, EntryTimeout: time.Second, MaxBundleEntries: 1}},
		{"s3 without host", Config{Listen: ":9451", ListenProto: "tcp", Store: "s3:///bucket", JSONMaxBytes: 1, EntryTimeout: time.Second, MaxBundleEntries: 1}},
		{"s3 without bucket", Config{Listen: ":9451", ListenProto: "tcp", Store: "s3://localhost:9000", JSONMaxBytes: 1, EntryTimeout: time.Second, MaxBundleEntries: 1}},
		{"zero json max", Config{Listen: ":9451", ListenProto: "tcp", Store: "mem://", JSONMaxBytes: 0, EntryTimeout: time.Second, MaxBundleEntries: 1}},
		{"zero entry timeout", Config{Listen: ":9451", ListenProto: "tcp", Store: "mem://", JSONMaxBytes: 1, EntryTimeout: 0, MaxBundleEntries: 1}},
		{"zero max entries", Config{Listen: ":9451", ListenProto: "tcp", Store: "mem://", JSONMaxBytes: 1, EntryTimeout: time.Second, MaxBundleEntries: 0}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if err := tc.cfg.Validate(); err == nil {
				t.Fatalf("expected validation error for %+v", tc.cfg)
			}
		})
	}
}

func TestConfigValidateUnixSocket(t *testing.T) {
	cfg := Config{
		Listen:      "/var/run/bundled.sock",
		ListenProto: "unix",
		Store:       "mem://",
	}.Normalized()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate unix config: %v", err)
	}
}
