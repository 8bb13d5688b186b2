package disk

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"pkt.systems/bundled/internal/storage"
	"pkt.systems/bundled/internal/uuidv7"
)

// Config captures the tunables for the disk backend.
type Config struct {
	Root string
	Now  func() time.Time
}

// Store implements storage.Store backed by the local filesystem. Resources
// live under <root>/resources/<type>/<id>.json; every write lands in
// <root>/tmp first and is published with an atomic rename.
type Store struct {
	root        string
	resourceDir string
	tmpDir      string
	now         func() time.Time
}

// New initialises a disk-backed store rooted at cfg.Root.
func New(cfg Config) (*Store, error) {
	if cfg.Root == "" {
		return nil, fmt.Errorf("disk: root path required")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	root := filepath.Clean(cfg.Root)
	resourceDir := filepath.Join(root, "resources")
	tmpDir := filepath.Join(root, "tmp")
	for _, dir := range []string{resourceDir, tmpDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("disk: prepare directory %q: %w", dir, err)
		}
	}
	return &Store{
		root:        root,
		resourceDir: resourceDir,
		tmpDir:      tmpDir,
		now:         cfg.Now,
	}, nil
}

// Close satisfies storage.Store; the disk backend holds no long-lived handles.
func (s *Store) Close() error { return nil }

// PutResource stores or replaces one resource document.
func (s *Store) PutResource(_ context.Context, res storage.Resource) (storage.Resource, error) {
	stored, err := s.prepare(res)
	if err != nil {
		return storage.Resource{}, err
	}
	if err := s.writeResource(stored); err != nil {
		return storage.Resource{}, err
	}
	return stored, nil
}

// GetResource loads the resource document for type/id.
func (s *Store) GetResource(_ context.Context, resourceType, id string) (storage.Resource, error) {
	path, err := s.resourcePath(resourceType, id)
	if err != nil {
		return storage.Resource{}, err
	}
	payload, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return storage.Resource{}, storage.ErrNotFound
		}
		return storage.Resource{}, fmt.Errorf("disk: read %s/%s: %w", resourceType, id, err)
	}
	var res storage.Resource
	if err := json.Unmarshal(payload, &res); err != nil {
		return storage.Resource{}, fmt.Errorf("disk: decode %s/%s: %w", resourceType, id, err)
	}
	return res, nil
}

// DeleteResource removes type/id if present.
func (s *Store) DeleteResource(_ context.Context, resourceType, id string) error {
	path, err := s.resourcePath(resourceType, id)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return storage.ErrNotFound
		}
		return fmt.Errorf("disk: delete %s/%s: %w", resourceType, id, err)
	}
	return nil
}

// ListResourceIDs enumerates the ids stored under resourceType, ascending.
func (s *Store) ListResourceIDs(_ context.Context, resourceType string) ([]string, error) {
	if err := validateComponent(resourceType); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(filepath.Join(s.resourceDir, resourceType))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("disk: list %s: %w", resourceType, err)
	}
	ids := make([]string, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		ids = append(ids, strings.TrimSuffix(name, ".json"))
	}
	sort.Strings(ids)
	return ids, nil
}

// Merge stages the whole batch inside a per-merge txn directory before any
// rename, so a failed write aborts with nothing published and leaves a single
// directory to reclaim. Commits are per-file renames out of the txn directory;
// a crash mid-publish can still leave a prefix applied, which the caller
// surfaces as a failed commit.
func (s *Store) Merge(_ context.Context, req storage.MergeRequest) (*storage.MergeResult, error) {
	type staged struct {
		tmpPath string
		dest    string
		bytes   int64
	}
	txnDir := filepath.Join(s.tmpDir, "txn-"+uuidv7.NewString())
	if err := os.MkdirAll(txnDir, 0o755); err != nil {
		return nil, fmt.Errorf("disk: prepare txn directory %q: %w", txnDir, err)
	}
	defer os.RemoveAll(txnDir)

	stagedFiles := make([]staged, 0, len(req.Resources))
	for _, res := range req.Resources {
		stored, err := s.prepare(res)
		if err != nil {
			return nil, err
		}
		dest, err := s.resourcePath(stored.Type, stored.ID)
		if err != nil {
			return nil, err
		}
		payload, err := json.Marshal(stored)
		if err != nil {
			return nil, fmt.Errorf("disk: encode %s: %w", stored.Key(), err)
		}
		tmpPath, err := s.stageIn(txnDir, payload)
		if err != nil {
			return nil, err
		}
		stagedFiles = append(stagedFiles, staged{
			tmpPath: tmpPath,
			dest:    dest,
			bytes:   int64(len(stored.Body)),
		})
	}
	result := &storage.MergeResult{}
	for _, st := range stagedFiles {
		if err := os.MkdirAll(filepath.Dir(st.dest), 0o755); err != nil {
			return nil, fmt.Errorf("disk: prepare %q: %w", filepath.Dir(st.dest), err)
		}
		if err := os.Rename(st.tmpPath, st.dest); err != nil {
			return nil, fmt.Errorf("disk: publish %q: %w", st.dest, err)
		}
		result.Written++
		result.BytesWritten += st.bytes
	}
	return result, nil
}

func (s *Store) prepare(res storage.Resource) (storage.Resource, error) {
	if err := validateComponent(res.Type); err != nil {
		return storage.Resource{}, err
	}
	if err := validateComponent(res.ID); err != nil {
		return storage.Resource{}, err
	}
	stored := res.Clone()
	if stored.ETag == "" {
		stored.ETag = uuidv7.NewString()
	}
	if stored.UpdatedAtUnix == 0 {
		stored.UpdatedAtUnix = s.now().UTC().Unix()
	}
	return stored, nil
}

func (s *Store) writeResource(res storage.Resource) error {
	dest, err := s.resourcePath(res.Type, res.ID)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("disk: encode %s: %w", res.Key(), err)
	}
	tmpPath, err := s.stage(payload)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("disk: prepare %q: %w", filepath.Dir(dest), err)
	}
	if err := os.Rename(tmpPath, dest); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("disk: publish %q: %w", dest, err)
	}
	return nil
}

func (s *Store) stage(payload []byte) (string, error) {
	return s.stageIn(s.tmpDir, payload)
}

func (s *Store) stageIn(dir string, payload []byte) (string, error) {
	tmp, err := os.CreateTemp(dir, "bundled-resource-*")
	if err != nil {
		return "", fmt.Errorf("disk: create temp file: %w", err)
	}
	if _, err := tmp.Write(payload); err != nil {
		tmp.Close()
		_ = os.Remove(tmp.Name())
		return "", fmt.Errorf("disk: write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		_ = os.Remove(tmp.Name())
		return "", fmt.Errorf("disk: sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return "", fmt.Errorf("disk: close temp file: %w", err)
	}
	return tmp.Name(), nil
}

func (s *Store) resourcePath(resourceType, id string) (string, error) {
	if err := validateComponent(resourceType); err != nil {
		return "", err
	}
	if err := validateComponent(id); err != nil {
		return "", err
	}
	return filepath.Join(s.resourceDir, resourceType, id+".json"), nil
}

func validateComponent(component string) error {
	if component == "" || strings.ContainsAny(component, `/\`) ||
		component == "." || component == ".." {
		return fmt.Errorf("disk: invalid path component %q", component)
	}
	return nil
}
