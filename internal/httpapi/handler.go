package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"pkt.systems/bundled/api"
	"pkt.systems/bundled/internal/bundle"
	"pkt.systems/bundled/internal/clock"
	"pkt.systems/bundled/internal/core"
	"pkt.systems/bundled/internal/correlation"
	"pkt.systems/bundled/internal/storage"
	"pkt.systems/bundled/internal/svcfields"
	"pkt.systems/bundled/internal/uuidv7"
	"pkt.systems/pslog"
)

const headerCorrelationID = "X-Correlation-Id"

const (
	defaultJSONMaxBytes = 4 << 20
	defaultEntryTimeout = 30 * time.Second
	defaultMaxEntries   = 1024
)

// Config wires the HTTP handler.
type Config struct {
	Core         *core.Service
	Orchestrator *bundle.Orchestrator
	Logger       pslog.Logger
	Clock        clock.Clock
	JSONMaxBytes int64
	EntryTimeout time.Duration
	MaxEntries   int
	StoreSummary string
	Version      string
	Ready        func() bool
}

// Handler wires HTTP endpoints to the coordination core and the resource service.
type Handler struct {
	core         *core.Service
	orchestrator *bundle.Orchestrator
	logger       pslog.Logger
	clock        clock.Clock
	tracer       trace.Tracer
	jsonMaxBytes int64
	entryTimeout time.Duration
	maxEntries   int
	storeSummary string
	version      string
	ready        func() bool
}

// New constructs a Handler.
func New(cfg Config) (*Handler, error) {
	if cfg.Core == nil {
		return nil, fmt.Errorf("httpapi: core service required")
	}
	if cfg.Orchestrator == nil {
		return nil, fmt.Errorf("httpapi: orchestrator required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = pslog.NoopLogger()
	}
	clk := cfg.Clock
	if clk == nil {
		clk = clock.Real{}
	}
	if cfg.JSONMaxBytes <= 0 {
		cfg.JSONMaxBytes = defaultJSONMaxBytes
	}
	if cfg.EntryTimeout <= 0 {
		cfg.EntryTimeout = defaultEntryTimeout
	}
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = defaultMaxEntries
	}
	ready := cfg.Ready
	if ready == nil {
		ready = func() bool { return true }
	}
	return &Handler{
		core:         cfg.Core,
		orchestrator: cfg.Orchestrator,
		logger:       logger,
		clock:        clk,
		tracer:       otel.Tracer("pkt.systems/bundled/httpapi"),
		jsonMaxBytes: cfg.JSONMaxBytes,
		entryTimeout: cfg.EntryTimeout,
		maxEntries:   cfg.MaxEntries,
		storeSummary: cfg.StoreSummary,
		version:      cfg.Version,
		ready:        ready,
	}, nil
}

// Register attaches all routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.Handle("POST /v1/bundle", h.wrap("bundle", h.handleBundle))
	mux.Handle("GET /v1/resource/{type}/{id}", h.wrap("resource.get", h.handleResourceGet))
	mux.Handle("PUT /v1/resource/{type}/{id}", h.wrap("resource.put", h.handleResourcePut))
	mux.Handle("DELETE /v1/resource/{type}/{id}", h.wrap("resource.delete", h.handleResourceDelete))
	mux.Handle("POST /v1/resource/{type}", h.wrap("resource.create", h.handleResourceCreate))
	mux.Handle("GET /v1/resources/{type}", h.wrap("resource.list", h.handleResourceList))
	mux.Handle("GET /healthz", h.wrap("healthz", h.handleHealth))
	mux.Handle("GET /readyz", h.wrap("readyz", h.handleReady))
}

type handlerFunc func(http.ResponseWriter, *http.Request) error

func (h *Handler) wrap(operation string, fn handlerFunc) http.Handler {
	sys := "http." + operation
	spanName := "bundled.http." + operation

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := h.clock.Now()
		ctx := r.Context()
		reqID := uuidv7.NewString()

		ctx, span := h.tracer.Start(ctx, spanName,
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(
				attribute.String("bundled.operation", operation),
				attribute.String("bundled.route", r.URL.Path),
			),
		)
		defer span.End()

		if corr := strings.TrimSpace(r.Header.Get(headerCorrelationID)); corr != "" {
			if normalized, ok := correlation.Normalize(corr); ok {
				ctx = correlation.Set(ctx, normalized)
			}
		}
		if correlation.ID(ctx) == "" {
			ctx = correlation.Set(ctx, correlation.Generate())
		}
		corr := correlation.ID(ctx)
		span.SetAttributes(attribute.String("bundled.correlation_id", corr))

		logger := svcfields.WithSubsystem(h.logger, sys).With(
			"req_id", reqID,
			"cid", corr,
			"method", r.Method,
			"path", r.URL.Path,
		)
		ctx = pslog.ContextWithLogger(ctx, logger)
		r = r.WithContext(ctx)

		logger.Trace("http.request.start", "remote_addr", r.RemoteAddr)
		w.Header().Set(headerCorrelationID, corr)

		if err := fn(w, r); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "handler_error")
			logger.Debug("http.request.error", "elapsed", h.clock.Now().Sub(start), "error", err)
			h.handleError(ctx, w, err)
			return
		}
		span.SetStatus(codes.Ok, "")
		logger.Trace("http.request.complete", "elapsed", h.clock.Now().Sub(start))
	})

	return otelhttp.NewHandler(handler, spanName,
		otelhttp.WithMessageEvents(otelhttp.ReadEvents, otelhttp.WriteEvents))
}

type httpError struct {
	Status     int
	Code       string
	Detail     string
	RetryAfter int64
}

func (e httpError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Detail)
	}
	return e.Code
}

func (h *Handler) handleError(ctx context.Context, w http.ResponseWriter, err error) {
	converted := convertCoreError(err)
	var httpErr httpError
	if !errors.As(converted, &httpErr) {
		httpErr = httpError{
			Status: http.StatusInternalServerError,
			Code:   "internal",
			Detail: "internal server error",
		}
	}
	resp := api.ErrorResponse{
		Error:         httpErr.Code,
		Detail:        httpErr.Detail,
		RetryAfter:    httpErr.RetryAfter,
		CorrelationID: correlation.ID(ctx),
	}
	headers := map[string]string{}
	if httpErr.RetryAfter > 0 {
		headers["Retry-After"] = strconv.FormatInt(httpErr.RetryAfter, 10)
	}
	h.writeJSON(w, httpErr.Status, resp, headers)
}

func convertCoreError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, storage.ErrNotFound):
		return httpError{Status: http.StatusNotFound, Code: "not_found", Detail: "resource not found"}
	case errors.Is(err, storage.ErrCASMismatch):
		return httpError{Status: http.StatusConflict, Code: "cas_mismatch", Detail: "storage cas mismatch"}
	}
	var httpErr httpError
	if errors.As(err, &httpErr) {
		return httpErr
	}
	var failure core.Failure
	if errors.As(err, &failure) {
		status := failure.HTTPStatus
		if status == 0 {
			status = http.StatusInternalServerError
		}
		return httpError{
			Status:     status,
			Code:       failure.Code,
			Detail:     failure.Detail,
			RetryAfter: failure.RetryAfter,
		}
	}
	return err
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, payload any, headers map[string]string) {
	w.Header().Set("Content-Type", "application/json")
	for k, v := range headers {
		w.Header().Set(k, v)
	}
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	enc := json.NewEncoder(w)
	_ = enc.Encode(payload)
}

func (h *Handler) decodeJSONBody(w http.ResponseWriter, r *http.Request, dst any) error {
	body := http.MaxBytesReader(w, r.Body, h.jsonMaxBytes)
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return httpError{
				Status: http.StatusRequestEntityTooLarge,
				Code:   "payload_too_large",
				Detail: fmt.Sprintf("request body exceeds %d bytes", maxErr.Limit),
			}
		}
		return httpError{
			Status: http.StatusBadRequest,
			Code:   "invalid_json",
			Detail: err.Error(),
		}
	}
	var trailing json.RawMessage
	if err := dec.Decode(&trailing); err == nil || !errors.Is(err, io.EOF) {
		return httpError{
			Status: http.StatusBadRequest,
			Code:   "invalid_json",
			Detail: "unexpected trailing JSON value",
		}
	}
	return nil
}

func (h *Handler) handleHealth(w http.ResponseWriter, _ *http.Request) error {
	h.writeJSON(w, http.StatusOK, api.HealthResponse{
		Status:  "ok",
		Store:   h.storeSummary,
		Version: h.version,
	}, nil)
	return nil
}

func (h *Handler) handleReady(w http.ResponseWriter, _ *http.Request) error {
	if !h.ready() {
		return httpError{
			Status:     http.StatusServiceUnavailable,
			Code:       "not_ready",
			Detail:     "server is not ready",
			RetryAfter: 1,
		}
	}
	h.writeJSON(w, http.StatusOK, api.HealthResponse{
		Status:  "ok",
		Store:   h.storeSummary,
		Version: h.version,
	}, nil)
	return nil
}
