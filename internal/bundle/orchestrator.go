package bundle

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"

	"github.com/rs/xid"

	"pkt.systems/bundled/internal/core"
	"pkt.systems/bundled/internal/storage"
	"pkt.systems/pslog"
)

// Config defines orchestrator behaviour.
type Config struct {
	// HandleFactory mints one fresh storage handle per created operation.
	HandleFactory storage.HandleFactory
	Logger        pslog.Logger
	// Enabled gates whether callers route bundle processing through the
	// coordination path at all.
	Enabled bool
}

// Orchestrator is the process-wide registry of live bundle operations. It is
// constructed explicitly once per server and passed by reference to the
// request-processing layer; there is no ambient singleton.
type Orchestrator struct {
	factory storage.HandleFactory
	logger  pslog.Logger
	metrics *bundleMetrics
	enabled bool

	mu         sync.RWMutex
	operations map[string]*Operation
}

// New constructs an Orchestrator.
func New(cfg Config) (*Orchestrator, error) {
	if cfg.HandleFactory == nil {
		return nil, errors.New("bundle: handle factory required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = pslog.NoopLogger()
	}
	return &Orchestrator{
		factory:    cfg.HandleFactory,
		logger:     logger,
		metrics:    newBundleMetrics(logger),
		enabled:    cfg.Enabled,
		operations: make(map[string]*Operation),
	}, nil
}

// Enabled reports whether bundle coordination is switched on for this process.
func (o *Orchestrator) Enabled() bool {
	return o != nil && o.enabled
}

// Len returns the number of live operations in the registry.
func (o *Orchestrator) Len() int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return len(o.operations)
}

// Create registers a new operation expecting exactly expected entries. The
// handle factory is invoked exactly once; the resulting handle is owned by the
// operation and never shared, so concurrently running bundles write in
// isolation from each other.
func (o *Orchestrator) Create(ctx context.Context, kind Kind, label string, expected int64) (*Operation, error) {
	if !kind.Valid() {
		return nil, core.Failure{
			Code:       core.CodeInvalidArgument,
			Detail:     "bundle kind must be batch or transaction",
			HTTPStatus: http.StatusBadRequest,
		}
	}
	if strings.TrimSpace(label) == "" {
		return nil, core.Failure{
			Code:       core.CodeInvalidArgument,
			Detail:     "bundle operation label required",
			HTTPStatus: http.StatusBadRequest,
		}
	}
	if expected <= 0 {
		return nil, core.Failure{
			Code:       core.CodeInvalidArgument,
			Detail:     "bundle operation requires at least one expected entry",
			HTTPStatus: http.StatusBadRequest,
		}
	}
	handle, err := o.factory()
	if err != nil {
		return nil, err
	}
	id := xid.New().String()
	op := newOperation(id, kind, label, expected, handle, o.logger, o.metrics)
	o.mu.Lock()
	if _, exists := o.operations[id]; exists {
		o.mu.Unlock()
		_ = handle.Close()
		return nil, core.Failure{
			Code:       core.CodeDuplicateOperation,
			Detail:     "bundle operation id already registered: " + id,
			HTTPStatus: http.StatusConflict,
		}
	}
	o.operations[id] = op
	o.mu.Unlock()
	o.metrics.recordCreated(ctx, kind)
	o.logger.Debug("bundle.op.created",
		"op_id", id,
		"kind", kind,
		"label", label,
		"expected", expected,
	)
	return op, nil
}

// Get looks up a live operation by id.
func (o *Orchestrator) Get(id string) (*Operation, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	op, ok := o.operations[id]
	return op, ok
}

// Complete retires op from the registry and releases its storage handle. It is
// a pure retirement step: it neither requires nor inspects a terminal status.
// Retiring an operation twice, or one never created here, is an error.
func (o *Orchestrator) Complete(op *Operation) error {
	if op == nil {
		return core.Failure{
			Code:       core.CodeInvalidArgument,
			Detail:     "operation required",
			HTTPStatus: http.StatusBadRequest,
		}
	}
	o.mu.Lock()
	registered, ok := o.operations[op.id]
	if !ok || registered != op {
		o.mu.Unlock()
		return core.Failure{
			Code:       core.CodeOperationNotFound,
			Detail:     "bundle operation not registered: " + op.id,
			HTTPStatus: http.StatusNotFound,
		}
	}
	delete(o.operations, op.id)
	o.mu.Unlock()
	_ = op.handle.Close()
	o.metrics.recordRetired(context.Background(), op.kind, op.Status())
	o.logger.Debug("bundle.op.retired", "op_id", op.id, "status", op.Status())
	return nil
}
