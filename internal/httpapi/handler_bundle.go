package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"pkt.systems/bundled/api"
	"pkt.systems/bundled/internal/bundle"
	"pkt.systems/bundled/internal/core"
	"pkt.systems/bundled/internal/correlation"
	"pkt.systems/pslog"
)

// handleBundle is the caller side of the coordination core: it sizes an
// operation to the bundle's entry count, fans out one worker per entry, and
// reports per-entry outcomes once the operation reaches a terminal state.
func (h *Handler) handleBundle(w http.ResponseWriter, r *http.Request) error {
	if !h.orchestrator.Enabled() {
		return httpError{
			Status: http.StatusServiceUnavailable,
			Code:   core.CodeBundlesDisabled,
			Detail: "bundle coordination is disabled on this server",
		}
	}
	var req api.BundleRequest
	if err := h.decodeJSONBody(w, r, &req); err != nil {
		return err
	}
	kind, err := bundleKind(req.Kind)
	if err != nil {
		return err
	}
	if len(req.Entries) == 0 {
		return httpError{
			Status: http.StatusBadRequest,
			Code:   core.CodeInvalidArgument,
			Detail: "bundle requires at least one entry",
		}
	}
	if len(req.Entries) > h.maxEntries {
		return httpError{
			Status: http.StatusBadRequest,
			Code:   core.CodeInvalidArgument,
			Detail: fmt.Sprintf("bundle exceeds %d entries", h.maxEntries),
		}
	}
	timeout := h.entryTimeout
	if req.TimeoutSeconds > 0 {
		timeout = time.Duration(req.TimeoutSeconds) * time.Second
	}

	ctx := r.Context()
	logger := pslog.LoggerFromContext(ctx)
	if logger == nil {
		logger = h.logger
	}

	op, err := h.orchestrator.Create(ctx, kind, req.Label, int64(len(req.Entries)))
	if err != nil {
		return err
	}
	defer func() {
		if completeErr := h.orchestrator.Complete(op); completeErr != nil {
			logger.Debug("bundle.retire_failed", "op", op.ID(), "error", completeErr)
		}
	}()

	results := make([]api.BundleEntryResult, len(req.Entries))
	var wg sync.WaitGroup
	for i := range req.Entries {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			entryCtx, cancel := context.WithDeadline(ctx, h.clock.Now().Add(timeout))
			defer cancel()
			results[idx] = h.runBundleEntry(entryCtx, op, req.Entries[idx])
		}(i)
	}
	wg.Wait()

	resp := api.BundleResponse{
		OperationID:   op.ID(),
		Kind:          req.Kind,
		Label:         op.Label(),
		Entries:       results,
		CorrelationID: correlation.ID(ctx),
	}
	status := http.StatusConflict
	switch op.Status() {
	case bundle.StatusCompleted:
		resp.Status = api.BundleStatusCompleted
		status = http.StatusOK
		if result := op.Result(); result != nil {
			resp.Written = result.Written
			resp.BytesWritten = result.BytesWritten
		}
	default:
		resp.Status = api.BundleStatusCanceled
		if allEntriesReleased(results) {
			// Every entry withdrew; nothing failed, nothing was written.
			status = http.StatusOK
		}
	}
	h.writeJSON(w, status, resp, nil)
	return nil
}

// runBundleEntry drives exactly one Append or Release against op, so the
// operation's tally always accounts for this entry even when it is invalid.
func (h *Handler) runBundleEntry(ctx context.Context, op *bundle.Operation, entry api.BundleEntry) api.BundleEntryResult {
	switch entry.Method {
	case api.MethodPut:
		res, err := h.core.BuildResource(entry.ResourceType, entry.ResourceID, entry.Resource)
		if err != nil {
			_ = op.Release(ctx, "invalid entry: "+err.Error())
			return entryError(entry, err)
		}
		if err := op.Append(ctx, res); err != nil {
			out := entryError(entry, err)
			out.ResourceID = res.ID
			return out
		}
		return api.BundleEntryResult{
			Status:       api.EntryStatusOK,
			ResourceType: res.Type,
			ResourceID:   res.ID,
			VersionID:    res.VersionID,
			ETag:         res.ETag,
		}
	case api.MethodSkip:
		reason := strings.TrimSpace(entry.Reason)
		if reason == "" {
			reason = "caller skip"
		}
		if err := op.Release(ctx, reason); err != nil {
			return entryError(entry, err)
		}
		return api.BundleEntryResult{
			Status:       api.EntryStatusReleased,
			ResourceType: entry.ResourceType,
			ResourceID:   entry.ResourceID,
		}
	default:
		err := core.Failure{
			Code:       core.CodeInvalidArgument,
			Detail:     fmt.Sprintf("unknown entry method %q", entry.Method),
			HTTPStatus: http.StatusBadRequest,
		}
		_ = op.Release(ctx, "invalid entry: "+err.Detail)
		return entryError(entry, err)
	}
}

func entryError(entry api.BundleEntry, err error) api.BundleEntryResult {
	result := api.BundleEntryResult{
		Status:       api.EntryStatusError,
		ResourceType: entry.ResourceType,
		ResourceID:   entry.ResourceID,
	}
	var failure core.Failure
	if errors.As(err, &failure) {
		result.Error = failure.Code
		result.Detail = failure.Detail
	} else {
		result.Error = "internal"
		result.Detail = err.Error()
	}
	return result
}

func allEntriesReleased(results []api.BundleEntryResult) bool {
	for _, r := range results {
		if r.Status != api.EntryStatusReleased {
			return false
		}
	}
	return true
}

func bundleKind(kind string) (bundle.Kind, error) {
	switch kind {
	case api.KindBatch:
		return bundle.KindBatch, nil
	case api.KindTransaction:
		return bundle.KindTransaction, nil
	default:
		return "", httpError{
			Status: http.StatusBadRequest,
			Code:   core.CodeInvalidArgument,
			Detail: fmt.Sprintf("unknown bundle kind %q", kind),
		}
	}
}
