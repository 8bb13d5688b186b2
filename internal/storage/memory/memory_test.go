package memory

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"pkt.systems/bundled/internal/storage"
)

func TestPutGetDelete(t *testing.T) {
	store := New()
	ctx := context.Background()

	stored, err := store.PutResource(ctx, storage.Resource{
		Type: "observation",
		ID:   "obs-1",
		Body: []byte(`{"v":1}`),
	})
	if err != nil {
		t.Fatalf("PutResource: %v", err)
	}
	if stored.ETag == "" || stored.UpdatedAtUnix == 0 {
		t.Fatalf("expected etag and timestamp, got %+v", stored)
	}

	got, err := store.GetResource(ctx, "observation", "obs-1")
	if err != nil {
		t.Fatalf("GetResource: %v", err)
	}
	if string(got.Body) != `{"v":1}` {
		t.Fatalf("unexpected body %q", got.Body)
	}

	if err := store.DeleteResource(ctx, "observation", "obs-1"); err != nil {
		t.Fatalf("DeleteResource: %v", err)
	}
	if _, err := store.GetResource(ctx, "observation", "obs-1"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := store.DeleteResource(ctx, "observation", "obs-1"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound on double delete, got %v", err)
	}
}

func TestGetReturnsCopy(t *testing.T) {
	store := New()
	ctx := context.Background()
	if _, err := store.PutResource(ctx, storage.Resource{Type: "observation", ID: "obs-1", Body: []byte(`{"v":1}`)}); err != nil {
		t.Fatalf("PutResource: %v", err)
	}
	got, err := store.GetResource(ctx, "observation", "obs-1")
	if err != nil {
		t.Fatalf("GetResource: %v", err)
	}
	got.Body[1] = 'X'
	again, err := store.GetResource(ctx, "observation", "obs-1")
	if err != nil {
		t.Fatalf("GetResource: %v", err)
	}
	if string(again.Body) != `{"v":1}` {
		t.Fatalf("stored body mutated through returned copy: %q", again.Body)
	}
}

func TestListResourceIDsSorted(t *testing.T) {
	store := New()
	ctx := context.Background()
	for _, id := range []string{"c", "a", "b"} {
		if _, err := store.PutResource(ctx, storage.Resource{Type: "observation", ID: id, Body: []byte(`{}`)}); err != nil {
			t.Fatalf("PutResource %s: %v", id, err)
		}
	}
	ids, err := store.ListResourceIDs(ctx, "observation")
	if err != nil {
		t.Fatalf("ListResourceIDs: %v", err)
	}
	if len(ids) != 3 || ids[0] != "a" || ids[1] != "b" || ids[2] != "c" {
		t.Fatalf("unexpected ids %v", ids)
	}
}

func TestMergeWritesEverything(t *testing.T) {
	store := New()
	ctx := context.Background()
	req := storage.MergeRequest{Atomic: true}
	for i := 0; i < 10; i++ {
		req.Resources = append(req.Resources, storage.Resource{
			Type: "observation",
			ID:   fmt.Sprintf("obs-%d", i),
			Body: []byte(`{"v":1}`),
		})
	}
	result, err := store.Merge(ctx, req)
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if result.Written != 10 {
		t.Fatalf("expected 10 written, got %d", result.Written)
	}
	if store.Len() != 10 {
		t.Fatalf("expected 10 stored, got %d", store.Len())
	}
}

func TestPutPreservesCallerTimestamp(t *testing.T) {
	store := New()
	stored, err := store.PutResource(context.Background(), storage.Resource{
		Type:          "observation",
		ID:            "obs-1",
		Body:          []byte(`{"v":1}`),
		UpdatedAtUnix: 1700000000,
	})
	if err != nil {
		t.Fatalf("PutResource: %v", err)
	}
	if stored.UpdatedAtUnix != 1700000000 {
		t.Fatalf("UpdatedAtUnix = %d, want 1700000000", stored.UpdatedAtUnix)
	}
}

func TestOperationsFailAfterClose(t *testing.T) {
	store := New()
	ctx := context.Background()
	if _, err := store.PutResource(ctx, storage.Resource{Type: "observation", ID: "obs-1", Body: []byte(`{}`)}); err != nil {
		t.Fatalf("PutResource: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if _, err := store.PutResource(ctx, storage.Resource{Type: "observation", ID: "obs-2", Body: []byte(`{}`)}); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed from put, got %v", err)
	}
	if _, err := store.GetResource(ctx, "observation", "obs-1"); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed from get, got %v", err)
	}
	if err := store.DeleteResource(ctx, "observation", "obs-1"); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed from delete, got %v", err)
	}
	if _, err := store.ListResourceIDs(ctx, "observation"); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed from list, got %v", err)
	}
	if _, err := store.Merge(ctx, storage.MergeRequest{}); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed from merge, got %v", err)
	}
}
