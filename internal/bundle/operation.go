package bundle

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"pkt.systems/bundled/internal/core"
	"pkt.systems/bundled/internal/storage"
	"pkt.systems/pslog"
)

// Kind selects the atomicity contract for the operation's batched write.
type Kind string

const (
	// KindBatch writes each appended resource independently.
	KindBatch Kind = "batch"
	// KindTransaction writes all appended resources as one atomic unit.
	KindTransaction Kind = "transaction"
)

// Valid reports whether k names a known bundle kind.
func (k Kind) Valid() bool {
	return k == KindBatch || k == KindTransaction
}

// Status is the coordination state of an operation.
type Status string

const (
	// StatusOpen means the operation exists but no call arrived yet.
	StatusOpen Status = "open"
	// StatusWaitingForResources means at least one call arrived and the tally
	// is still short of the expected count.
	StatusWaitingForResources Status = "waiting_for_resources"
	// StatusCompleted is terminal: the tally completed and the batched write succeeded.
	StatusCompleted Status = "completed"
	// StatusCanceled is terminal: cancellation won, every entry was released,
	// or the batched write failed.
	StatusCanceled Status = "canceled"
)

// Terminal reports whether s is a terminal status.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCanceled
}

// Operation is the per-bundle coordination state machine: a many-producers,
// single-commit barrier. One concurrent caller per bundle entry converges on
// it via Append or Release; the arrival that completes the tally performs the
// batched write, everyone else observes the shared outcome.
type Operation struct {
	id       string
	kind     Kind
	label    string
	expected int64

	handle  *storage.Handle
	logger  pslog.Logger
	metrics *bundleMetrics
	started time.Time

	// observed counts accepted append+release arrivals. The increment that
	// reaches expected elects the completer without locking the whole path.
	observed atomic.Int64
	released atomic.Int64

	mu         sync.Mutex
	status     Status
	committing bool
	resources  []storage.Resource
	outcome    error
	result     *storage.MergeResult
	done       chan struct{}
}

func newOperation(id string, kind Kind, label string, expected int64, handle *storage.Handle, logger pslog.Logger, metrics *bundleMetrics) *Operation {
	if logger == nil {
		logger = pslog.NoopLogger()
	}
	return &Operation{
		id:       id,
		kind:     kind,
		label:    label,
		expected: expected,
		handle:   handle,
		logger:   logger,
		metrics:  metrics,
		started:  time.Now(),
		status:   StatusOpen,
		done:     make(chan struct{}),
	}
}

// ID returns the registry key for the operation.
func (op *Operation) ID() string { return op.id }

// Kind returns the operation's atomicity kind.
func (op *Operation) Kind() Kind { return op.kind }

// Label returns the diagnostic tag supplied at creation.
func (op *Operation) Label() string { return op.label }

// OriginalExpected returns the immutable entry count declared at creation.
func (op *Operation) OriginalExpected() int64 { return op.expected }

// CurrentExpected returns the expected count minus completed releases.
func (op *Operation) CurrentExpected() int64 {
	current := op.expected - op.released.Load()
	if current < 0 {
		return 0
	}
	return current
}

// Status returns the current coordination state. Safe from any goroutine.
func (op *Operation) Status() Status {
	op.mu.Lock()
	defer op.mu.Unlock()
	return op.status
}

// Result returns the merge result once the operation completed successfully.
func (op *Operation) Result() *storage.MergeResult {
	op.mu.Lock()
	defer op.mu.Unlock()
	return op.result
}

// Done exposes the one-shot completion signal shared by every waiter.
func (op *Operation) Done() <-chan struct{} { return op.done }

// Append records resource for the batched write and joins the commit barrier.
// The call that completes the tally performs the single batched write; all
// other calls block until the shared outcome resolves or ctx fires.
func (op *Operation) Append(ctx context.Context, res storage.Resource) error {
	if len(res.Body) == 0 {
		return core.Failure{
			Code:       core.CodeInvalidArgument,
			Detail:     "append requires a resource body",
			HTTPStatus: http.StatusBadRequest,
		}
	}
	completer, err := op.admit(&res)
	if err != nil {
		return err
	}
	if completer {
		return op.commit(ctx)
	}
	return op.wait(ctx)
}

// Release withdraws one expected entry without contributing a resource. The
// tally mechanics match Append; currentExpected drops by one. When the final
// arrival is a release and nothing was appended the operation terminates
// Canceled with no write.
func (op *Operation) Release(ctx context.Context, reason string) error {
	completer, err := op.admit(nil)
	if err != nil {
		return err
	}
	if reason != "" {
		op.logger.Debug("bundle.op.entry_released", "op_id", op.id, "reason", reason)
	}
	if completer {
		return op.commit(ctx)
	}
	return op.wait(ctx)
}

// admit validates the arrival, records the resource when present, and reports
// whether this arrival completes the tally.
func (op *Operation) admit(res *storage.Resource) (bool, error) {
	op.mu.Lock()
	if op.status.Terminal() {
		status := op.status
		op.mu.Unlock()
		return false, core.Failure{
			Code:       core.CodeOperationAlreadyTerminal,
			Detail:     "bundle operation already " + string(status),
			HTTPStatus: http.StatusConflict,
		}
	}
	if op.observed.Load() >= op.expected {
		op.mu.Unlock()
		return false, core.Failure{
			Code:       core.CodeInvalidArgument,
			Detail:     "bundle operation tally exceeded: more calls than declared entries",
			HTTPStatus: http.StatusBadRequest,
		}
	}
	if op.status == StatusOpen {
		op.status = StatusWaitingForResources
	}
	if res != nil {
		op.resources = append(op.resources, res.Clone())
	} else {
		op.released.Add(1)
	}
	n := op.observed.Add(1)
	op.mu.Unlock()
	return n == op.expected, nil
}

// commit runs on the completer only: it owns the storage handle for the single
// batched write and resolves the shared outcome for every waiter.
func (op *Operation) commit(ctx context.Context) error {
	op.mu.Lock()
	if op.status.Terminal() {
		// Cancellation won between the last arrival and the commit.
		op.mu.Unlock()
		return op.sharedOutcome()
	}
	resources := op.resources
	op.resources = nil
	if len(resources) == 0 {
		op.terminateLocked(StatusCanceled, nil, nil)
		op.mu.Unlock()
		op.logger.Info("bundle.op.all_released",
			"op_id", op.id,
			"kind", op.kind,
			"expected", op.expected,
		)
		return nil
	}
	op.committing = true
	op.mu.Unlock()

	start := time.Now()
	result, err := op.handle.Merge(ctx, storage.MergeRequest{
		Resources: resources,
		Atomic:    op.kind == KindTransaction,
	})
	op.mu.Lock()
	defer op.mu.Unlock()
	op.committing = false
	if err != nil {
		outcome := error(core.Failure{
			Code:       core.CodeStorageWriteFailed,
			Detail:     err.Error(),
			HTTPStatus: http.StatusBadGateway,
		})
		if ctx.Err() != nil {
			outcome = canceledFailure()
		}
		op.terminateLocked(StatusCanceled, outcome, nil)
		op.logger.Warn("bundle.op.commit_failed",
			"op_id", op.id,
			"kind", op.kind,
			"resources", len(resources),
			"duration_ms", time.Since(start).Milliseconds(),
			"error", err,
		)
		return op.outcome
	}
	op.terminateLocked(StatusCompleted, nil, result)
	op.metrics.recordCommit(ctx, op.kind, len(resources), time.Since(start))
	op.logger.Info("bundle.op.committed",
		"op_id", op.id,
		"kind", op.kind,
		"resources", result.Written,
		"bytes", result.BytesWritten,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return nil
}

// wait blocks a non-completer arrival until the shared outcome resolves or its
// own cancellation fires. A cancellation before the tally completes cancels
// the whole operation for every waiter; partial progress is never committed.
func (op *Operation) wait(ctx context.Context) error {
	select {
	case <-op.done:
		return op.sharedOutcome()
	case <-ctx.Done():
	}
	op.mu.Lock()
	if op.status.Terminal() {
		op.mu.Unlock()
		return op.sharedOutcome()
	}
	if op.committing || op.observed.Load() >= op.expected {
		// The tally completed and the commit is in flight; this caller's
		// deadline lapses locally without tearing down the shared write.
		op.mu.Unlock()
		return canceledFailure()
	}
	op.terminateLocked(StatusCanceled, canceledFailure(), nil)
	op.mu.Unlock()
	op.logger.Info("bundle.op.canceled",
		"op_id", op.id,
		"kind", op.kind,
		"observed", op.observed.Load(),
		"expected", op.expected,
	)
	return op.sharedOutcome()
}

// terminateLocked performs the single terminal transition. Callers hold op.mu.
func (op *Operation) terminateLocked(status Status, outcome error, result *storage.MergeResult) {
	if op.status.Terminal() {
		return
	}
	op.status = status
	op.outcome = outcome
	op.result = result
	op.metrics.recordTerminal(op.kind, status, time.Since(op.started))
	close(op.done)
}

func (op *Operation) sharedOutcome() error {
	<-op.done
	op.mu.Lock()
	defer op.mu.Unlock()
	return op.outcome
}

func canceledFailure() core.Failure {
	return core.Failure{
		Code:       core.CodeBundleCanceled,
		Detail:     "bundle canceled before all entries arrived",
		HTTPStatus: http.StatusConflict,
	}
}
