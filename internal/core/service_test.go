package core

import (
	"context"
	"errors"
	"testing"
	"time"

	"pkt.systems/bundled/internal/clock"
	"pkt.systems/bundled/internal/storage"
)

type fakeStore struct {
	resources map[string]storage.Resource
}

func newFakeStore() *fakeStore {
	return &fakeStore{resources: make(map[string]storage.Resource)}
}

func (f *fakeStore) PutResource(_ context.Context, res storage.Resource) (storage.Resource, error) {
	f.resources[res.Key()] = res.Clone()
	return res, nil
}

func (f *fakeStore) GetResource(_ context.Context, resourceType, id string) (storage.Resource, error) {
	res, ok := f.resources[resourceType+"/"+id]
	if !ok {
		return storage.Resource{}, storage.ErrNotFound
	}
	return res.Clone(), nil
}

func (f *fakeStore) DeleteResource(_ context.Context, resourceType, id string) error {
	key := resourceType + "/" + id
	if _, ok := f.resources[key]; !ok {
		return storage.ErrNotFound
	}
	delete(f.resources, key)
	return nil
}

func (f *fakeStore) ListResourceIDs(_ context.Context, resourceType string) ([]string, error) {
	var ids []string
	for _, res := range f.resources {
		if res.Type == resourceType {
			ids = append(ids, res.ID)
		}
	}
	return ids, nil
}

func (f *fakeStore) Merge(_ context.Context, req storage.MergeRequest) (*storage.MergeResult, error) {
	result := &storage.MergeResult{}
	for _, res := range req.Resources {
		f.resources[res.Key()] = res.Clone()
		result.Written++
		result.BytesWritten += int64(len(res.Body))
	}
	return result, nil
}

func (f *fakeStore) Close() error { return nil }

func TestBuildResourceAssignsVersionAndETag(t *testing.T) {
	svc := New(Config{Store: newFakeStore()})
	res, err := svc.BuildResource("observation", "obs-1", []byte(`{"v":1}`))
	if err != nil {
		t.Fatalf("BuildResource: %v", err)
	}
	if res.VersionID == "" || res.ETag == "" {
		t.Fatalf("expected version id and etag, got %+v", res)
	}
	again, err := svc.BuildResource("observation", "obs-1", []byte(`{"v":1}`))
	if err != nil {
		t.Fatalf("BuildResource: %v", err)
	}
	if again.VersionID == res.VersionID || again.ETag == res.ETag {
		t.Fatalf("expected fresh version id and etag per build")
	}
}

func TestBuildResourceStampsClockTime(t *testing.T) {
	frozen := time.Date(2026, time.February, 2, 8, 0, 0, 0, time.UTC)
	svc := New(Config{Store: newFakeStore(), Clock: clock.NewManual(frozen)})
	res, err := svc.BuildResource("observation", "obs-1", []byte(`{"v":1}`))
	if err != nil {
		t.Fatalf("BuildResource: %v", err)
	}
	if res.UpdatedAtUnix != frozen.Unix() {
		t.Fatalf("UpdatedAtUnix = %d, want %d", res.UpdatedAtUnix, frozen.Unix())
	}
}

func TestBuildResourceAssignsServerID(t *testing.T) {
	svc := New(Config{Store: newFakeStore()})
	res, err := svc.BuildResource("observation", "", []byte(`{}`))
	if err != nil {
		t.Fatalf("BuildResource: %v", err)
	}
	if res.ID == "" {
		t.Fatal("expected server-assigned id")
	}
}

func TestBuildResourceValidation(t *testing.T) {
	svc := New(Config{Store: newFakeStore()})
	cases := []struct {
		name         string
		resourceType string
		id           string
		body         string
	}{
		{"empty type", "", "obs-1", `{}`},
		{"bad type chars", "obs/ervation", "obs-1", `{}`},
		{"dot-prefixed type", ".hidden", "obs-1", `{}`},
		{"bad id chars", "observation", "obs 1", `{}`},
		{"empty body", "observation", "obs-1", ``},
		{"array body", "observation", "obs-1", `[1,2]`},
		{"scalar body", "observation", "obs-1", `42`},
		{"invalid json", "observation", "obs-1", `{"v":`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.BuildResource(tc.resourceType, tc.id, []byte(tc.body))
			if FailureCode(err) != CodeInvalidArgument {
				t.Fatalf("expected invalid_argument, got %v", err)
			}
		})
	}
}

func TestPutGetDeleteRoundTrip(t *testing.T) {
	store := newFakeStore()
	svc := New(Config{Store: store})
	ctx := context.Background()

	stored, err := svc.PutResource(ctx, "observation", "obs-1", []byte(`{"v":1}`))
	if err != nil {
		t.Fatalf("PutResource: %v", err)
	}
	got, err := svc.GetResource(ctx, "observation", "obs-1")
	if err != nil {
		t.Fatalf("GetResource: %v", err)
	}
	if got.VersionID != stored.VersionID || string(got.Body) != `{"v":1}` {
		t.Fatalf("unexpected resource: %+v", got)
	}
	if err := svc.DeleteResource(ctx, "observation", "obs-1"); err != nil {
		t.Fatalf("DeleteResource: %v", err)
	}
	if _, err := svc.GetResource(ctx, "observation", "obs-1"); FailureCode(err) != CodeResourceNotFound {
		t.Fatalf("expected resource_not_found, got %v", err)
	}
}

func TestGetResourceMapsNotFound(t *testing.T) {
	svc := New(Config{Store: newFakeStore()})
	_, err := svc.GetResource(context.Background(), "observation", "missing")
	var failure Failure
	if !errors.As(err, &failure) || failure.Code != CodeResourceNotFound {
		t.Fatalf("expected resource_not_found failure, got %v", err)
	}
	if failure.HTTPStatus != 404 {
		t.Fatalf("expected 404, got %d", failure.HTTPStatus)
	}
}
