package httpapi

import (
	"errors"
	"io"
	"net/http"

	"pkt.systems/bundled/api"
	"pkt.systems/bundled/internal/correlation"
	"pkt.systems/bundled/internal/storage"
)

func (h *Handler) handleResourceGet(w http.ResponseWriter, r *http.Request) error {
	res, err := h.core.GetResource(r.Context(), r.PathValue("type"), r.PathValue("id"))
	if err != nil {
		return err
	}
	h.writeJSON(w, http.StatusOK, resourceResponse(r, res), nil)
	return nil
}

func (h *Handler) handleResourcePut(w http.ResponseWriter, r *http.Request) error {
	body, err := h.readResourceBody(w, r)
	if err != nil {
		return err
	}
	res, err := h.core.PutResource(r.Context(), r.PathValue("type"), r.PathValue("id"), body)
	if err != nil {
		return err
	}
	h.writeJSON(w, http.StatusOK, resourceResponse(r, res), nil)
	return nil
}

// handleResourceCreate stores a resource under a server-assigned id.
func (h *Handler) handleResourceCreate(w http.ResponseWriter, r *http.Request) error {
	body, err := h.readResourceBody(w, r)
	if err != nil {
		return err
	}
	res, err := h.core.PutResource(r.Context(), r.PathValue("type"), "", body)
	if err != nil {
		return err
	}
	h.writeJSON(w, http.StatusCreated, resourceResponse(r, res), nil)
	return nil
}

func (h *Handler) handleResourceDelete(w http.ResponseWriter, r *http.Request) error {
	if err := h.core.DeleteResource(r.Context(), r.PathValue("type"), r.PathValue("id")); err != nil {
		return err
	}
	h.writeJSON(w, http.StatusNoContent, nil, nil)
	return nil
}

func (h *Handler) handleResourceList(w http.ResponseWriter, r *http.Request) error {
	resourceType := r.PathValue("type")
	ids, err := h.core.ListResourceIDs(r.Context(), resourceType)
	if err != nil {
		return err
	}
	if ids == nil {
		ids = []string{}
	}
	h.writeJSON(w, http.StatusOK, api.ResourceListResponse{
		ResourceType: resourceType,
		IDs:          ids,
	}, nil)
	return nil
}

func (h *Handler) readResourceBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.jsonMaxBytes))
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return nil, httpError{
				Status: http.StatusRequestEntityTooLarge,
				Code:   "payload_too_large",
				Detail: "resource body too large",
			}
		}
		return nil, httpError{
			Status: http.StatusBadRequest,
			Code:   "invalid_body",
			Detail: err.Error(),
		}
	}
	return body, nil
}

func resourceResponse(r *http.Request, res storage.Resource) api.ResourceResponse {
	return api.ResourceResponse{
		ResourceType:  res.Type,
		ResourceID:    res.ID,
		VersionID:     res.VersionID,
		ETag:          res.ETag,
		UpdatedAt:     res.UpdatedAtUnix,
		Resource:      res.Body,
		CorrelationID: correlation.ID(r.Context()),
	}
}
