package storage

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ContentTypeJSON is the content type recorded for resource payloads.
const ContentTypeJSON = "application/json"

var (
	// ErrNotFound indicates the requested resource is missing.
	ErrNotFound = errors.New("storage: not found")
	// ErrCASMismatch indicates a conditional write lost against a newer version.
	ErrCASMismatch = errors.New("storage: cas mismatch")
	// ErrHandleUsed indicates a handle's merge capability was already consumed.
	ErrHandleUsed = errors.New("storage: handle already used")
	// ErrHandleClosed indicates the handle was released before the call.
	ErrHandleClosed = errors.New("storage: handle closed")
	// ErrNotImplemented marks optional capabilities a backend does not provide.
	ErrNotImplemented = errors.New("storage: not implemented")
)

// Resource is one stored document: an opaque JSON body addressed by type and id.
type Resource struct {
	Type          string `json:"type"`
	ID            string `json:"id"`
	VersionID     string `json:"version_id,omitempty"`
	ETag          string `json:"etag,omitempty"`
	UpdatedAtUnix int64  `json:"updated_at_unix,omitempty"`
	Body          []byte `json:"body,omitempty"`
}

// Key returns the canonical type/id address for the resource.
func (r Resource) Key() string {
	return r.Type + "/" + r.ID
}

// Clone returns a deep copy so callers may retain results safely.
func (r Resource) Clone() Resource {
	out := r
	if len(r.Body) > 0 {
		out.Body = append([]byte(nil), r.Body...)
	}
	return out
}

// MergeRequest carries the full set of resources a bundle commit writes in one
// call. Atomic requires the backend to apply every resource or none.
type MergeRequest struct {
	Resources []Resource
	Atomic    bool
}

// MergeResult reports what a merge wrote.
type MergeResult struct {
	Written      int
	BytesWritten int64
}

// Store is the durable resource engine consumed by the coordination core and
// the single-resource request path.
type Store interface {
	// PutResource stores or replaces one resource and returns the stored copy
	// with its backend-assigned etag.
	PutResource(ctx context.Context, res Resource) (Resource, error)
	// GetResource returns the current copy for type/id.
	GetResource(ctx context.Context, resourceType, id string) (Resource, error)
	// DeleteResource removes type/id if present.
	DeleteResource(ctx context.Context, resourceType, id string) error
	// ListResourceIDs enumerates ids stored under resourceType in ascending order.
	ListResourceIDs(ctx context.Context, resourceType string) ([]string, error)
	// Merge applies a batched write. When req.Atomic is set the backend must
	// apply all resources or none.
	Merge(ctx context.Context, req MergeRequest) (*MergeResult, error)
	// Close releases backend resources.
	Close() error
}

// Handle is an exclusively-owned session over a Store, scoped to one bundle
// operation's lifetime. Its Merge capability may be consumed at most once.
type Handle struct {
	mu     sync.Mutex
	store  Store
	used   bool
	closed bool
}

// NewHandle wraps store in a fresh single-use handle.
func NewHandle(store Store) *Handle {
	return &Handle{store: store}
}

// Merge performs the handle's one batched write. A second call fails with
// ErrHandleUsed; calls after Close fail with ErrHandleClosed.
func (h *Handle) Merge(ctx context.Context, req MergeRequest) (*MergeResult, error) {
	if h == nil || h.store == nil {
		return nil, fmt.Errorf("storage: handle not configured")
	}
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil, ErrHandleClosed
	}
	if h.used {
		h.mu.Unlock()
		return nil, ErrHandleUsed
	}
	h.used = true
	h.mu.Unlock()
	return h.store.Merge(ctx, req)
}

// Used reports whether the merge capability was consumed.
func (h *Handle) Used() bool {
	if h == nil {
		return false
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.used
}

// Close releases the handle. The underlying store stays open; handles are
// sessions, not owners.
func (h *Handle) Close() error {
	if h == nil {
		return nil
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	return nil
}

// HandleFactory produces a fresh, exclusively-owned handle. Invoked exactly
// once per bundle operation creation.
type HandleFactory func() (*Handle, error)

// HandleFactoryFor returns a factory minting handles over store.
func HandleFactoryFor(store Store) HandleFactory {
	return func() (*Handle, error) {
		if store == nil {
			return nil, fmt.Errorf("storage: store required")
		}
		return NewHandle(store), nil
	}
}

type transientError struct {
	err error
}

func (t transientError) Error() string { return t.err.Error() }
func (t transientError) Unwrap() error { return t.err }

// NewTransientError marks err as retryable.
func NewTransientError(err error) error {
	if err == nil {
		return nil
	}
	return transientError{err: err}
}

// IsTransient reports whether err was marked as retryable.
func IsTransient(err error) bool {
	var te transientError
	return errors.As(err, &te)
}
