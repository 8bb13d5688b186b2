package s3

import (
	"context"
	"errors"
	"fmt"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/johannesboyne/gofakes3"
	"github.com/johannesboyne/gofakes3/backend/s3mem"

	"pkt.systems/bundled/internal/storage"
)

func setupFakeS3(t *testing.T) (*httptest.Server, Config) {
	t.Helper()
	backend := s3mem.New()
	fs := gofakes3.New(backend)
	server := httptest.NewServer(fs.Server())
	bucket := "bundled-test"
	if err := backend.CreateBucket(bucket); err != nil {
		t.Fatalf("create bucket: %v", err)
	}
	endpoint := strings.TrimPrefix(server.URL, "http://")
	os.Setenv("AWS_ACCESS_KEY_ID", "test")
	os.Setenv("AWS_SECRET_ACCESS_KEY", "test")
	cfg := Config{
		Endpoint:       endpoint,
		Region:         "us-east-1",
		Bucket:         bucket,
		Insecure:       true,
		ForcePathStyle: true,
	}
	return server, cfg
}

func TestS3ResourceLifecycle(t *testing.T) {
	server, cfg := setupFakeS3(t)
	defer server.Close()

	store, err := New(cfg)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	ctx := context.Background()

	stored, err := store.PutResource(ctx, storage.Resource{
		Type: "observation",
		ID:   "obs-1",
		Body: []byte(`{"v":1}`),
	})
	if err != nil {
		t.Fatalf("put resource: %v", err)
	}
	if stored.ETag == "" {
		t.Fatal("expected backend-assigned etag")
	}

	got, err := store.GetResource(ctx, "observation", "obs-1")
	if err != nil {
		t.Fatalf("get resource: %v", err)
	}
	if string(got.Body) != `{"v":1}` || got.ETag != stored.ETag {
		t.Fatalf("unexpected resource %+v", got)
	}

	if err := store.DeleteResource(ctx, "observation", "obs-1"); err != nil {
		t.Fatalf("delete resource: %v", err)
	}
	if _, err := store.GetResource(ctx, "observation", "obs-1"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := store.DeleteResource(ctx, "observation", "obs-1"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound on second delete, got %v", err)
	}
}

func TestS3ListResourceIDs(t *testing.T) {
	server, cfg := setupFakeS3(t)
	defer server.Close()
	cfg.Prefix = "tenant-a"

	store, err := New(cfg)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	ctx := context.Background()
	for _, id := range []string{"c", "a", "b"} {
		if _, err := store.PutResource(ctx, storage.Resource{Type: "observation", ID: id, Body: []byte(`{}`)}); err != nil {
			t.Fatalf("put %s: %v", id, err)
		}
	}
	if _, err := store.PutResource(ctx, storage.Resource{Type: "other", ID: "x", Body: []byte(`{}`)}); err != nil {
		t.Fatalf("put other: %v", err)
	}
	ids, err := store.ListResourceIDs(ctx, "observation")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(ids) != 3 || ids[0] != "a" || ids[1] != "b" || ids[2] != "c" {
		t.Fatalf("unexpected ids %v", ids)
	}
}

func TestS3Merge(t *testing.T) {
	server, cfg := setupFakeS3(t)
	defer server.Close()

	store, err := New(cfg)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	req := storage.MergeRequest{Atomic: true}
	for i := 0; i < 8; i++ {
		req.Resources = append(req.Resources, storage.Resource{
			Type: "observation",
			ID:   fmt.Sprintf("obs-%d", i),
			Body: []byte(`{"v":1}`),
		})
	}
	result, err := store.Merge(context.Background(), req)
	if err != nil {
		t.Fatalf("merge: %v", err)
	}
	if result.Written != 8 {
		t.Fatalf("expected 8 written, got %d", result.Written)
	}
	ids, err := store.ListResourceIDs(context.Background(), "observation")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(ids) != 8 {
		t.Fatalf("expected 8 ids, got %v", ids)
	}
}

func TestS3KeyValidation(t *testing.T) {
	server, cfg := setupFakeS3(t)
	defer server.Close()

	store, err := New(cfg)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	if _, err := store.GetResource(context.Background(), "a/b", "obs"); err == nil {
		t.Fatal("expected error for slash in type")
	}
	if _, err := store.PutResource(context.Background(), storage.Resource{Type: "observation", ID: "..", Body: []byte(`{}`)}); err == nil {
		t.Fatal("expected error for dot-dot id")
	}
}

func TestNewRequiresBucket(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Fatal("expected error for missing bucket")
	}
}
