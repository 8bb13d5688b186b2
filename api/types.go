package api

import "encoding/json"

// Bundle kinds accepted by POST /v1/bundle.
const (
	// KindBatch applies each entry independently; per-entry outcomes may differ.
	KindBatch = "batch"
	// KindTransaction requires the whole bundle to commit atomically.
	KindTransaction = "transaction"
)

// Entry methods accepted inside a bundle.
const (
	// MethodPut stores or replaces the entry's resource.
	MethodPut = "put"
	// MethodSkip withdraws the entry from the bundle without contributing a resource.
	MethodSkip = "skip"
)

// BundleRequest models the JSON payload for POST /v1/bundle.
type BundleRequest struct {
	// Kind selects batch or transaction semantics for the bundle.
	Kind string `json:"kind"`
	// Label is the caller-supplied human-readable bundle name.
	Label string `json:"label"`
	// Entries carries the bundled resource operations; at least one is required.
	Entries []BundleEntry `json:"entries"`
	// TimeoutSeconds bounds each entry's coordination wait; 0 uses the server default.
	TimeoutSeconds int64 `json:"timeout_seconds,omitempty"`
}

// BundleEntry is one resource operation inside a bundle.
type BundleEntry struct {
	// Method is the operation to perform for this entry (put or skip).
	Method string `json:"method"`
	// ResourceType addresses the stored document collection.
	ResourceType string `json:"resource_type,omitempty"`
	// ResourceID addresses the document within its type; empty means server-assigned.
	ResourceID string `json:"resource_id,omitempty"`
	// Resource is the opaque JSON object body for put entries.
	Resource json.RawMessage `json:"resource,omitempty"`
	// Reason documents why a skip entry withdrew; logged server-side.
	Reason string `json:"reason,omitempty"`
}

// BundleResponse reports the outcome of a bundle.
type BundleResponse struct {
	// OperationID identifies the coordination operation that served the bundle.
	OperationID string `json:"operation_id"`
	// Kind echoes the bundle kind.
	Kind string `json:"kind"`
	// Label echoes the bundle label.
	Label string `json:"label"`
	// Status is the terminal bundle status: completed or canceled.
	Status string `json:"status"`
	// Written is the number of resources the commit wrote.
	Written int `json:"written"`
	// BytesWritten is the total body bytes the commit wrote.
	BytesWritten int64 `json:"bytes_written"`
	// Entries carries the per-entry outcomes in request order.
	Entries []BundleEntryResult `json:"entries"`
	// CorrelationID links related operations across request/response logs.
	CorrelationID string `json:"correlation_id,omitempty"`
}

// BundleEntryResult is the outcome for one bundle entry.
type BundleEntryResult struct {
	// Status is ok, released, or error.
	Status string `json:"status"`
	// ResourceType echoes the entry's resource type when present.
	ResourceType string `json:"resource_type,omitempty"`
	// ResourceID is the stored id, including server-assigned ids.
	ResourceID string `json:"resource_id,omitempty"`
	// VersionID is the version stamped on the stored resource.
	VersionID string `json:"version_id,omitempty"`
	// ETag is the entity tag stamped on the stored resource.
	ETag string `json:"etag,omitempty"`
	// Error is the stable error code for failed entries.
	Error string `json:"error,omitempty"`
	// Detail is the human-readable error description for failed entries.
	Detail string `json:"detail,omitempty"`
}

// Per-entry statuses reported in BundleEntryResult.Status.
const (
	EntryStatusOK       = "ok"
	EntryStatusReleased = "released"
	EntryStatusError    = "error"
)

// Bundle statuses reported in BundleResponse.Status.
const (
	BundleStatusCompleted = "completed"
	BundleStatusCanceled  = "canceled"
)

// ResourceResponse is returned by the single-resource endpoints.
type ResourceResponse struct {
	// ResourceType addresses the stored document collection.
	ResourceType string `json:"resource_type"`
	// ResourceID addresses the document within its type.
	ResourceID string `json:"resource_id"`
	// VersionID is the version stamped on the stored resource.
	VersionID string `json:"version_id,omitempty"`
	// ETag is the entity tag stamped on the stored resource.
	ETag string `json:"etag,omitempty"`
	// UpdatedAt is the last write time as a Unix timestamp in seconds.
	UpdatedAt int64 `json:"updated_at_unix,omitempty"`
	// Resource is the opaque JSON object body.
	Resource json.RawMessage `json:"resource,omitempty"`
	// CorrelationID links related operations across request/response logs.
	CorrelationID string `json:"correlation_id,omitempty"`
}

// ResourceListResponse enumerates the ids stored under one resource type.
type ResourceListResponse struct {
	// ResourceType addresses the stored document collection.
	ResourceType string `json:"resource_type"`
	// IDs lists the stored ids in ascending order.
	IDs []string `json:"ids"`
}

// ErrorResponse is the uniform error payload.
type ErrorResponse struct {
	// Error is the stable error code.
	Error string `json:"error"`
	// Detail is the human-readable error description.
	Detail string `json:"detail,omitempty"`
	// RetryAfter is the server hint (seconds) before retrying.
	RetryAfter int64 `json:"retry_after_seconds,omitempty"`
	// CorrelationID links related operations across request/response logs.
	CorrelationID string `json:"correlation_id,omitempty"`
}

// HealthResponse is returned by the health endpoints.
type HealthResponse struct {
	// Status is "ok" when the server is serving.
	Status string `json:"status"`
	// Store is the backend summary the server runs against.
	Store string `json:"store,omitempty"`
	// Version is the running server version.
	Version string `json:"version,omitempty"`
}
