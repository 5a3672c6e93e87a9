// ClarusRCM | 2026
// handler.go

package org

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/clarusrcm/platform-api/internal/core"
	"github.com/clarusrcm/platform-api/internal/middleware"
)

type Handler struct {
	service *Service
}

func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) RegisterRoutes(
	r chi.Router,
	authenticator func(http.Handler) http.Handler,
) {
	r.Route("/organization", func(r chi.Router) {
		r.Use(authenticator)
		r.Get("/", h.Get)
	})
}

type organizationResponse struct {
	Organization *Organization `json:"organization"`
	MemberCount  int           `json:"member_count"`
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	orgID, ok := middleware.GetOrgID(r.Context())
	if !ok {
		core.BadRequest(w, "no organization on session")
		return
	}

	organization, err := h.service.Get(r.Context(), orgID)
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			core.NotFound(w, "organization")
			return
		}
		core.InternalServerError(w, err)
		return
	}

	count, err := h.service.MemberCount(r.Context(), orgID)
	if err != nil {
		core.InternalServerError(w, err)
		return
	}

	core.OK(w, organizationResponse{
		Organization: organization,
		MemberCount:  count,
	})
}
