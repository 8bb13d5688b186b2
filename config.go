package bundled

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

const (
	// DefaultListen is the default TCP endpoint the server binds to.
	DefaultListen = ":9451"
	// DefaultListenProto controls the network used when no protocol is configured.
	DefaultListenProto = "tcp"
	// DefaultStore points the server at the in-memory backend when no store is provided.
	DefaultStore = "mem://"
	// DefaultMetricsListen is the default metrics endpoint (Prometheus scrape).
	// Empty disables metrics unless explicitly configured.
	DefaultMetricsListen = ""
	// DefaultPprofListen is the default pprof debug listener (empty disables).
	DefaultPprofListen = ""
	// DefaultJSONMaxBytes bounds incoming JSON payloads.
	DefaultJSONMaxBytes = int64(4 << 20)
	// DefaultEntryTimeout bounds how long one bundle entry waits on the
	// coordination barrier before its context expires.
	DefaultEntryTimeout = 30 * time.Second
	// DefaultMaxBundleEntries caps the entry count accepted per bundle.
	DefaultMaxBundleEntries = 1024
	// DefaultShutdownTimeout caps graceful shutdown when no deadline is supplied.
	DefaultShutdownTimeout = 10 * time.Second
)

// Config drives server construction.
type Config struct {
	// Listen is the endpoint the HTTP API binds to (host:port, or a socket
	// path when ListenProto is unix).
	Listen string
	// ListenProto is the listener network: tcp or unix.
	ListenProto string
	// Store selects the resource backend: mem://, disk:///path, or
	// s3://host[:port]/bucket[/prefix].
	Store string
	// MetricsListen exposes a Prometheus /metrics endpoint when non-empty.
	MetricsListen string
	// PprofListen exposes net/http/pprof when non-empty.
	PprofListen string
	// JSONMaxBytes bounds request payload sizes.
	JSONMaxBytes int64
	// EntryTimeout is the default per-entry coordination wait.
	EntryTimeout time.Duration
	// MaxBundleEntries caps the entries accepted per bundle.
	MaxBundleEntries int
	// DisableBundles turns off the bundle coordination path; single-resource
	// endpoints keep working.
	DisableBundles bool
}

// Normalized returns a copy of c with defaults applied.
func (c Config) Normalized() Config {
	if c.Listen == "" {
		c.Listen = DefaultListen
	}
	if c.ListenProto == "" {
		c.ListenProto = DefaultListenProto
	}
	if c.Store == "" {
		c.Store = DefaultStore
	}
	if c.JSONMaxBytes <= 0 {
		c.JSONMaxBytes = DefaultJSONMaxBytes
	}
	if c.EntryTimeout <= 0 {
		c.EntryTimeout = DefaultEntryTimeout
	}
	if c.MaxBundleEntries <= 0 {
		c.MaxBundleEntries = DefaultMaxBundleEntries
	}
	return c
}

// Validate checks the configuration after defaults are applied.
func (c *Config) Validate() error {
	switch c.ListenProto {
	case "tcp", "tcp4", "tcp6", "unix":
	default:
		return fmt.Errorf("config: listen proto %q not supported", c.ListenProto)
	}
	if strings.TrimSpace(c.Listen) == "" {
		return fmt.Errorf("config: listen address required")
	}
	u, err := url.Parse(c.Store)
	if err != nil {
		return fmt.Errorf("config: parse store URL: %w", err)
	}
	switch u.Scheme {
	case "mem", "memory", "":
	case "disk":
		if u.Path == "" && u.Host == "" {
			return fmt.Errorf("config: disk store requires a path (disk:///var/lib/bundled)")
		}
	case "s3":
		if strings.TrimSpace(u.Host) == "" {
			return fmt.Errorf("config: s3 store requires a host (s3://host[:port]/bucket)")
		}
		if strings.Trim(u.Path, "/") == "" {
			return fmt.Errorf("config: s3 store requires a bucket (s3://host[:port]/bucket)")
		}
	default:
		return fmt.Errorf("config: store scheme %q not supported", u.Scheme)
	}
	if c.JSONMaxBytes <= 0 {
		return fmt.Errorf("config: json max bytes must be positive")
	}
	if c.EntryTimeout <= 0 {
		return fmt.Errorf("config: entry timeout must be positive")
	}
	if c.MaxBundleEntries <= 0 {
		return fmt.Errorf("config: max bundle entries must be positive")
	}
	return nil
}
