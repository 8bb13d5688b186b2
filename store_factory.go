package bundled

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"pkt.systems/bundled/internal/storage"
	"pkt.systems/bundled/internal/storage/disk"
	"pkt.systems/bundled/internal/storage/memory"
	"pkt.systems/bundled/internal/storage/s3"
)

// openStore builds the backend named by cfg.Store and returns it together
// with a short human-readable summary for logs and health output.
func openStore(cfg Config) (storage.Store, string, error) {
	u, err := url.Parse(cfg.Store)
	if err != nil {
		return nil, "", fmt.Errorf("parse store URL: %w", err)
	}
	switch u.Scheme {
	case "mem", "memory", "":
		return memory.New(), "mem://", nil
	case "disk":
		diskCfg, err := buildDiskConfig(u)
		if err != nil {
			return nil, "", err
		}
		store, err := disk.New(diskCfg)
		if err != nil {
			return nil, "", err
		}
		return store, "disk://" + diskCfg.Root, nil
	case "s3":
		s3cfg, err := buildS3Config(u)
		if err != nil {
			return nil, "", err
		}
		store, err := s3.New(s3cfg)
		if err != nil {
			return nil, "", err
		}
		summary := fmt.Sprintf("s3://%s/%s", s3cfg.Endpoint, s3cfg.Bucket)
		if s3cfg.Prefix != "" {
			summary += "/" + s3cfg.Prefix
		}
		return store, summary, nil
	default:
		return nil, "", fmt.Errorf("store scheme %q not supported", u.Scheme)
	}
}

func buildDiskConfig(u *url.URL) (disk.Config, error) {
	root := u.Path
	if root == "" {
		// disk://relative/path parses the first segment as host
		root = u.Host
	} else if u.Host != "" {
		root = u.Host + u.Path
	}
	if strings.TrimSpace(root) == "" {
		return disk.Config{}, fmt.Errorf("disk store missing path (expected disk:///var/lib/bundled)")
	}
	return disk.Config{Root: root}, nil
}

func buildS3Config(u *url.URL) (s3.Config, error) {
	endpoint := strings.TrimSpace(u.Host)
	if endpoint == "" {
		return s3.Config{}, fmt.Errorf("s3 store missing host (expected s3://host[:port]/bucket[/prefix])")
	}
	path := strings.Trim(u.Path, "/")
	if path == "" {
		return s3.Config{}, fmt.Errorf("s3 store missing bucket (expected s3://host[:port]/bucket[/prefix])")
	}
	parts := strings.SplitN(path, "/", 2)
	bucket := strings.TrimSpace(parts[0])
	if bucket == "" {
		return s3.Config{}, fmt.Errorf("s3 store missing bucket name")
	}
	var prefix string
	if len(parts) == 2 {
		prefix = strings.Trim(parts[1], "/")
	}
	query := u.Query()
	secure := true
	if v := query.Get("scheme"); strings.EqualFold(v, "http") {
		secure = false
	}
	if v := query.Get("tls"); v != "" {
		if ok, err := strconv.ParseBool(v); err == nil {
			secure = ok
		}
	}
	if v := query.Get("insecure"); v != "" {
		if ok, err := strconv.ParseBool(v); err == nil {
			secure = !ok
		}
	}
	pathStyle := true
	if v := query.Get("path-style"); v != "" {
		if ok, err := strconv.ParseBool(v); err == nil {
			pathStyle = ok
		}
	}
	return s3.Config{
		Endpoint:       endpoint,
		Region:         query.Get("region"),
		Bucket:         bucket,
		Prefix:         prefix,
		Insecure:       !secure,
		ForcePathStyle: pathStyle,
	}, nil
}
