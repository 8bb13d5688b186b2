package logging

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"pkt.systems/bundled/internal/correlation"
	"pkt.systems/bundled/internal/storage"
	"pkt.systems/pslog"
)

type store struct {
	inner  storage.Store
	logger pslog.Logger
	tracer trace.Tracer
	sys    string
}

// Wrap decorates inner with trace/debug logging.
func Wrap(inner storage.Store, logger pslog.Logger, sys string) storage.Store {
	if logger == nil {
		logger = pslog.NoopLogger()
	}
	return &store{
		inner:  inner,
		logger: logger,
		tracer: otel.Tracer("pkt.systems/bundled/storage"),
		sys:    sys,
	}
}

func (s *store) start(ctx context.Context, op string) (context.Context, trace.Span, pslog.Logger, time.Time, func(error)) {
	begin := time.Now()
	ctx, span := s.tracer.Start(ctx, "bundled.storage."+op, trace.WithSpanKind(trace.SpanKindInternal))
	span.SetAttributes(
		attribute.String("bundled.storage.operation", op),
		attribute.String("bundled.sys", s.sys),
	)

	logger := s.logger
	if corr := correlation.ID(ctx); corr != "" {
		logger = logger.With("cid", corr)
		span.SetAttributes(attribute.String("bundled.correlation_id", corr))
	}

	return ctx, span, logger, begin, func(err error) {
		duration := time.Since(begin).Milliseconds()
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "storage_error")
		} else {
			span.SetStatus(codes.Ok, "")
		}
		span.SetAttributes(attribute.Int64("bundled.storage.duration_ms", duration))
	}
}

func (s *store) PutResource(ctx context.Context, res storage.Resource) (storage.Resource, error) {
	ctx, span, logger, begin, finish := s.start(ctx, "put_resource")
	defer span.End()

	stored, err := s.inner.PutResource(ctx, res)
	finish(err)
	if err != nil {
		logger.Debug("storage.put_resource.error", "resource", res.Key(), "error", err, "elapsed", time.Since(begin))
		return stored, err
	}
	logger.Debug("storage.put_resource.success",
		"resource", stored.Key(),
		"etag", stored.ETag,
		"bytes", len(stored.Body),
		"elapsed", time.Since(begin),
	)
	return stored, nil
}

func (s *store) GetResource(ctx context.Context, resourceType, id string) (storage.Resource, error) {
	ctx, span, logger, begin, finish := s.start(ctx, "get_resource")
	defer span.End()

	res, err := s.inner.GetResource(ctx, resourceType, id)
	finish(err)
	if err != nil {
		logger.Debug("storage.get_resource.error", "resource", resourceType+"/"+id, "error", err, "elapsed", time.Since(begin))
		return res, err
	}
	logger.Debug("storage.get_resource.success",
		"resource", res.Key(),
		"etag", res.ETag,
		"bytes", len(res.Body),
		"elapsed", time.Since(begin),
	)
	return res, nil
}

func (s *store) DeleteResource(ctx context.Context, resourceType, id string) error {
	ctx, span, logger, begin, finish := s.start(ctx, "delete_resource")
	defer span.End()

	err := s.inner.DeleteResource(ctx, resourceType, id)
	finish(err)
	if err != nil {
		logger.Debug("storage.delete_resource.error", "resource", resourceType+"/"+id, "error", err, "elapsed", time.Since(begin))
		return err
	}
	logger.Debug("storage.delete_resource.success", "resource", resourceType+"/"+id, "elapsed", time.Since(begin))
	return nil
}

func (s *store) ListResourceIDs(ctx context.Context, resourceType string) ([]string, error) {
	ctx, span, logger, begin, finish := s.start(ctx, "list_resource_ids")
	defer span.End()

	ids, err := s.inner.ListResourceIDs(ctx, resourceType)
	finish(err)
	if err != nil {
		logger.Debug("storage.list_resource_ids.error", "resource_type", resourceType, "error", err, "elapsed", time.Since(begin))
		return nil, err
	}
	logger.Debug("storage.list_resource_ids.success", "resource_type", resourceType, "count", len(ids), "elapsed", time.Since(begin))
	return ids, nil
}

func (s *store) Merge(ctx context.Context, req storage.MergeRequest) (*storage.MergeResult, error) {
	ctx, span, logger, begin, finish := s.start(ctx, "merge")
	defer span.End()
	span.SetAttributes(
		attribute.Int("bundled.storage.merge_resources", len(req.Resources)),
		attribute.Bool("bundled.storage.merge_atomic", req.Atomic),
	)

	result, err := s.inner.Merge(ctx, req)
	finish(err)
	if err != nil {
		logger.Debug("storage.merge.error", "resources", len(req.Resources), "atomic", req.Atomic, "error", err, "elapsed", time.Since(begin))
		return nil, err
	}
	logger.Debug("storage.merge.success",
		"written", result.Written,
		"bytes", result.BytesWritten,
		"atomic", req.Atomic,
		"elapsed", time.Since(begin),
	)
	return result, nil
}

func (s *store) Close() error {
	err := s.inner.Close()
	if err != nil {
		s.logger.Debug("storage.close.error", "error", err)
	}
	return err
}
