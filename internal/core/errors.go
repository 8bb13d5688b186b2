package core

import (
	"errors"
	"fmt"
)

// Stable error codes surfaced by the bundle coordination path.
const (
	CodeInvalidArgument          = "invalid_argument"
	CodeOperationNotFound        = "operation_not_found"
	CodeDuplicateOperation       = "duplicate_operation"
	CodeOperationAlreadyTerminal = "operation_already_terminal"
	CodeBundleCanceled           = "bundle_canceled"
	CodeStorageWriteFailed       = "storage_write_failed"
	CodeResourceNotFound         = "resource_not_found"
	CodeBundlesDisabled          = "bundles_disabled"
)

// Failure captures transport-neutral error details that adapters can map to
// HTTP or other protocols.
type Failure struct {
	Code       string
	Detail     string
	RetryAfter int64 // seconds
	HTTPStatus int   // optional hint for HTTP adapters
}

func (f Failure) Error() string {
	if f.Detail != "" {
		return fmt.Sprintf("%s: %s", f.Code, f.Detail)
	}
	return f.Code
}

// FailureCode extracts the stable code from err, or "" when err carries none.
func FailureCode(err error) string {
	var f Failure
	if errors.As(err, &f) {
		return f.Code
	}
	return ""
}

// IsCanceled reports whether err is the shared bundle cancellation outcome.
func IsCanceled(err error) bool {
	return FailureCode(err) == CodeBundleCanceled
}

// IsStorageWriteFailed reports whether err is the completer's broadcast write failure.
func IsStorageWriteFailed(err error) bool {
	return FailureCode(err) == CodeStorageWriteFailed
}
