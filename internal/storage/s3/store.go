package s3

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"path"
	"sort"
	"strings"
	"time"

	minio "github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"pkt.systems/bundled/internal/storage"
	"pkt.systems/bundled/internal/uuidv7"
)

// Config controls the behaviour of the S3 storage backend.
type Config struct {
	Endpoint       string
	Region         string
	Bucket         string
	Prefix         string
	Insecure       bool
	ForcePathStyle bool
	CustomCreds    *credentials.Credentials
	Transport      http.RoundTripper
}

// Store implements storage.Store backed by S3-compatible object storage.
// Resources live at <prefix>/resources/<type>/<id>.json, one object per
// resource, serialized as the storage.Resource envelope.
type Store struct {
	client *minio.Client
	cfg    Config
}

// New constructs a Store using the provided configuration.
func New(cfg Config) (*Store, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3: bucket is required")
	}
	endpoint := cfg.Endpoint
	if endpoint == "" {
		if cfg.Region != "" {
			endpoint = fmt.Sprintf("s3.%s.amazonaws.com", cfg.Region)
		} else {
			endpoint = "s3.amazonaws.com"
		}
	}
	if cfg.Transport == nil {
		cfg.Transport = defaultTransport()
	}
	var creds *credentials.Credentials
	if cfg.CustomCreds != nil {
		creds = cfg.CustomCreds
	} else {
		creds = credentials.NewChainCredentials([]credentials.Provider{
			&credentials.EnvAWS{},
			&credentials.EnvMinio{},
			&credentials.FileAWSCredentials{},
			&credentials.IAM{},
		})
	}
	options := &minio.Options{
		Creds:     creds,
		Secure:    !cfg.Insecure,
		Region:    cfg.Region,
		Transport: cfg.Transport,
	}
	if cfg.ForcePathStyle {
		options.BucketLookup = minio.BucketLookupPath
	}
	client, err := minio.New(endpoint, options)
	if err != nil {
		return nil, fmt.Errorf("s3: create client: %w", err)
	}
	cfg.Prefix = strings.Trim(cfg.Prefix, "/")
	return &Store{client: client, cfg: cfg}, nil
}

func defaultTransport() http.RoundTripper {
	base, ok := http.DefaultTransport.(*http.Transport)
	if !ok {
		return http.DefaultTransport
	}
	clone := base.Clone()
	if clone.MaxIdleConns == 0 {
		clone.MaxIdleConns = 256
	}
	if clone.MaxIdleConnsPerHost == 0 {
		clone.MaxIdleConnsPerHost = 64
	}
	if clone.IdleConnTimeout == 0 {
		clone.IdleConnTimeout = 90 * time.Second
	}
	if clone.TLSHandshakeTimeout == 0 {
		clone.TLSHandshakeTimeout = 10 * time.Second
	}
	return clone
}

// Close satisfies storage.Store and is a no-op for the S3 client.
func (s *Store) Close() error { return nil }

// BucketExists reports whether the configured bucket exists.
func (s *Store) BucketExists(ctx context.Context) (bool, error) {
	return s.client.BucketExists(ctx, s.cfg.Bucket)
}

// PutResource uploads one resource document.
func (s *Store) PutResource(ctx context.Context, res storage.Resource) (storage.Resource, error) {
	stored, err := s.prepare(res)
	if err != nil {
		return storage.Resource{}, err
	}
	if err := s.putObject(ctx, stored); err != nil {
		return storage.Resource{}, err
	}
	return stored, nil
}

// GetResource downloads the resource document for type/id.
func (s *Store) GetResource(ctx context.Context, resourceType, id string) (storage.Resource, error) {
	object, err := s.resourceObject(resourceType, id)
	if err != nil {
		return storage.Resource{}, err
	}
	obj, err := s.client.GetObject(ctx, s.cfg.Bucket, object, minio.GetObjectOptions{})
	if err != nil {
		if isNotFound(err) {
			return storage.Resource{}, storage.ErrNotFound
		}
		return storage.Resource{}, s.wrapError(err, "s3: get resource")
	}
	defer obj.Close()
	payload, err := io.ReadAll(obj)
	if err != nil {
		if isNotFound(err) {
			return storage.Resource{}, storage.ErrNotFound
		}
		return storage.Resource{}, s.wrapError(err, "s3: read resource")
	}
	var res storage.Resource
	if err := json.Unmarshal(payload, &res); err != nil {
		return storage.Resource{}, fmt.Errorf("s3: decode %s/%s: %w", resourceType, id, err)
	}
	return res, nil
}

// DeleteResource removes type/id if present.
func (s *Store) DeleteResource(ctx context.Context, resourceType, id string) error {
	object, err := s.resourceObject(resourceType, id)
	if err != nil {
		return err
	}
	if _, err := s.client.StatObject(ctx, s.cfg.Bucket, object, minio.StatObjectOptions{}); err != nil {
		if isNotFound(err) {
			return storage.ErrNotFound
		}
		return s.wrapError(err, "s3: stat resource")
	}
	if err := s.client.RemoveObject(ctx, s.cfg.Bucket, object, minio.RemoveObjectOptions{}); err != nil {
		if isNotFound(err) {
			return storage.ErrNotFound
		}
		return s.wrapError(err, "s3: delete resource")
	}
	return nil
}

// ListResourceIDs enumerates ids stored under resourceType in ascending order.
func (s *Store) ListResourceIDs(ctx context.Context, resourceType string) ([]string, error) {
	if err := validateComponent(resourceType); err != nil {
		return nil, err
	}
	prefix := s.objectPrefix() + resourceType + "/"
	var ids []string
	for info := range s.client.ListObjects(ctx, s.cfg.Bucket, minio.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: true,
	}) {
		if info.Err != nil {
			return nil, s.wrapError(info.Err, "s3: list resources")
		}
		name := path.Base(info.Key)
		if !strings.HasSuffix(name, ".json") {
			continue
		}
		ids = append(ids, strings.TrimSuffix(name, ".json"))
	}
	sort.Strings(ids)
	return ids, nil
}

// Merge uploads each resource in turn. Object stores offer no cross-object
// transaction, so an atomic request degrades to sequential puts; the caller
// treats any error as a failed commit.
func (s *Store) Merge(ctx context.Context, req storage.MergeRequest) (*storage.MergeResult, error) {
	prepared := make([]storage.Resource, 0, len(req.Resources))
	for _, res := range req.Resources {
		stored, err := s.prepare(res)
		if err != nil {
			return nil, err
		}
		prepared = append(prepared, stored)
	}
	result := &storage.MergeResult{}
	for _, stored := range prepared {
		if err := s.putObject(ctx, stored); err != nil {
			return nil, err
		}
		result.Written++
		result.BytesWritten += int64(len(stored.Body))
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
		stored.UpdatedAtUnix = time.Now().UTC().Unix()
	}
	return stored, nil
}

func (s *Store) putObject(ctx context.Context, res storage.Resource) error {
	object, err := s.resourceObject(res.Type, res.ID)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("s3: encode %s: %w", res.Key(), err)
	}
	_, err = s.client.PutObject(ctx, s.cfg.Bucket, object,
		bytes.NewReader(payload), int64(len(payload)),
		minio.PutObjectOptions{ContentType: storage.ContentTypeJSON},
	)
	if err != nil {
		return s.wrapError(err, "s3: put resource")
	}
	return nil
}

func (s *Store) objectPrefix() string {
	if s.cfg.Prefix == "" {
		return "resources/"
	}
	return s.cfg.Prefix + "/resources/"
}

func (s *Store) resourceObject(resourceType, id string) (string, error) {
	if err := validateComponent(resourceType); err != nil {
		return "", err
	}
	if err := validateComponent(id); err != nil {
		return "", err
	}
	return s.objectPrefix() + resourceType + "/" + id + ".json", nil
}

func validateComponent(component string) error {
	if component == "" || strings.Contains(component, "/") ||
		component == "." || component == ".." {
		return fmt.Errorf("s3: invalid key component %q", component)
	}
	return nil
}

func isNotFound(err error) bool {
	errResp := minio.ErrorResponse{}
	if errors.As(err, &errResp) {
		return errResp.StatusCode == http.StatusNotFound
	}
	return false
}

func (s *Store) wrapError(err error, msg string) error {
	if err == nil {
		return nil
	}
	retryable := isRetryable(err)
	if msg != "" {
		err = fmt.Errorf("%s: %w", msg, err)
	}
	if retryable {
		return storage.NewTransientError(err)
	}
	return err
}

func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, net.ErrClosed) {
		return true
	}
	resp := minio.ToErrorResponse(err)
	switch {
	case resp.StatusCode >= http.StatusInternalServerError:
		return true
	case resp.StatusCode == http.StatusTooManyRequests,
		resp.StatusCode == http.StatusRequestTimeout:
		return true
	}
	return false
}
