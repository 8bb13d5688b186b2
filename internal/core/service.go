package core

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/rs/xid"

	"pkt.systems/bundled/internal/clock"
	"pkt.systems/bundled/internal/storage"
	"pkt.systems/bundled/internal/uuidv7"
	"pkt.systems/pslog"
)

const (
	maxResourceTypeLength = 128
	maxResourceIDLength   = 64
)

// Config wires the resource service.
type Config struct {
	Store  storage.Store
	Logger pslog.Logger
	Clock  clock.Clock
}

// Service validates resources and executes single-resource operations against
// the store. Bundle entry workers use BuildResource only; the batched write
// itself goes through the coordination core's storage handle.
type Service struct {
	store  storage.Store
	logger pslog.Logger
	clock  clock.Clock
}

// New constructs a Service.
func New(cfg Config) *Service {
	logger := cfg.Logger
	if logger == nil {
		logger = pslog.NoopLogger()
	}
	clk := cfg.Clock
	if clk == nil {
		clk = clock.Real{}
	}
	return &Service{store: cfg.Store, logger: logger, clock: clk}
}

// Logger exposes the service logger for subsystem reuse by adapters.
func (s *Service) Logger() pslog.Logger {
	return s.logger
}

// BuildResource validates type, id, and body, and stamps a fresh version id,
// etag, and write time. An empty id is server-assigned.
func (s *Service) BuildResource(resourceType, id string, body []byte) (storage.Resource, error) {
	if err := validateResourceType(resourceType); err != nil {
		return storage.Resource{}, err
	}
	if id == "" {
		id = xid.New().String()
	} else if err := validateResourceID(id); err != nil {
		return storage.Resource{}, err
	}
	if err := validateResourceBody(body); err != nil {
		return storage.Resource{}, err
	}
	return storage.Resource{
		Type:          resourceType,
		ID:            id,
		VersionID:     xid.New().String(),
		ETag:          uuidv7.NewString(),
		Body:          append([]byte(nil), body...),
		UpdatedAtUnix: s.clock.Now().Unix(),
	}, nil
}

// PutResource stores one resource outside any bundle.
func (s *Service) PutResource(ctx context.Context, resourceType, id string, body []byte) (storage.Resource, error) {
	res, err := s.BuildResource(resourceType, id, body)
	if err != nil {
		return storage.Resource{}, err
	}
	stored, err := s.store.PutResource(ctx, res)
	if err != nil {
		return storage.Resource{}, convertStorageError(err)
	}
	s.logger.Debug("core.resource.put",
		"resource", stored.Key(),
		"version_id", stored.VersionID,
		"bytes", len(stored.Body),
	)
	return stored, nil
}

// GetResource returns the current copy of type/id.
func (s *Service) GetResource(ctx context.Context, resourceType, id string) (storage.Resource, error) {
	if err := validateResourceType(resourceType); err != nil {
		return storage.Resource{}, err
	}
	if err := validateResourceID(id); err != nil {
		return storage.Resource{}, err
	}
	res, err := s.store.GetResource(ctx, resourceType, id)
	if err != nil {
		return storage.Resource{}, convertStorageError(err)
	}
	return res, nil
}

// ListResourceIDs enumerates the ids stored under resourceType, ascending.
func (s *Service) ListResourceIDs(ctx context.Context, resourceType string) ([]string, error) {
	if err := validateResourceType(resourceType); err != nil {
		return nil, err
	}
	ids, err := s.store.ListResourceIDs(ctx, resourceType)
	if err != nil {
		return nil, convertStorageError(err)
	}
	return ids, nil
}

// DeleteResource removes type/id.
func (s *Service) DeleteResource(ctx context.Context, resourceType, id string) error {
	if err := validateResourceType(resourceType); err != nil {
		return err
	}
	if err := validateResourceID(id); err != nil {
		return err
	}
	if err := s.store.DeleteResource(ctx, resourceType, id); err != nil {
		return convertStorageError(err)
	}
	s.logger.Debug("core.resource.deleted", "resource", resourceType+"/"+id)
	return nil
}

func convertStorageError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, storage.ErrNotFound):
		return Failure{
			Code:       CodeResourceNotFound,
			Detail:     "resource not found",
			HTTPStatus: http.StatusNotFound,
		}
	default:
		return err
	}
}

func validateResourceType(resourceType string) error {
	if resourceType == "" || len(resourceType) > maxResourceTypeLength || !validToken(resourceType) {
		return Failure{
			Code:       CodeInvalidArgument,
			Detail:     "invalid resource type",
			HTTPStatus: http.StatusBadRequest,
		}
	}
	return nil
}

func validateResourceID(id string) error {
	if id == "" || len(id) > maxResourceIDLength || !validToken(id) {
		return Failure{
			Code:       CodeInvalidArgument,
			Detail:     "invalid resource id",
			HTTPStatus: http.StatusBadRequest,
		}
	}
	return nil
}

func validateResourceBody(body []byte) error {
	trimmed := bytes.TrimLeft(body, " \t\r\n")
	if len(trimmed) == 0 || trimmed[0] != '{' || !json.Valid(body) {
		return Failure{
			Code:       CodeInvalidArgument,
			Detail:     "resource body must be a JSON object",
			HTTPStatus: http.StatusBadRequest,
		}
	}
	return nil
}

func validToken(s string) bool {
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z':
		case r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9':
		case r == '-' || r == '_' || r == '.':
		default:
			return false
		}
	}
	return !strings.HasPrefix(s, ".")
}
