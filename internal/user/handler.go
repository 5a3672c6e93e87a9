// ClarusRCM | 2026
// handler.go

package user

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/clarusrcm/platform-api/internal/core"
	"github.com/clarusrcm/platform-api/internal/middleware"
)

type Handler struct {
	service   *Service
	validator *validator.Validate
}

func NewHandler(service *Service) *Handler {
	return &Handler{
		service:   service,
		validator: validator.New(validator.WithRequiredStructEnabled()),
	}
}

// Member management is scoped to the caller's organization and gated on
// the admin role.
func (h *Handler) RegisterRoutes(
	r chi.Router,
	authenticator func(http.Handler) http.Handler,
) {
	r.Route("/users", func(r chi.Router) {
		r.Use(authenticator)
		r.Use(middleware.RequireAdmin)

		r.Get("/", h.ListMembers)
		r.Patch("/{userID}/role", h.UpdateRole)
		r.Patch("/{userID}/active", h.UpdateActive)
	})
}

func (h *Handler) ListMembers(w http.ResponseWriter, r *http.Request) {
	orgID, ok := middleware.GetOrgID(r.Context())
	if !ok {
		core.BadRequest(w, "no organization on session")
		return
	}

	members, err := h.service.ListByOrg(r.Context(), orgID)
	if err != nil {
		core.InternalServerError(w, err)
		return
	}

	out := make([]Response, 0, len(members))
	for i := range members {
		out = append(out, ToResponse(&members[i]))
	}

	core.OK(w, out)
}

func (h *Handler) UpdateRole(w http.ResponseWriter, r *http.Request) {
	target, ok := h.targetUser(w, r)
	if !ok {
		return
	}

	var req UpdateRoleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		core.BadRequest(w, "invalid request body")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		core.BadRequest(w, core.FormatValidationError(err))
		return
	}

	if err := h.service.SetRole(r.Context(), target.ID, req.Role); err != nil {
		core.JSONError(w, err)
		return
	}

	core.NoContent(w)
}

func (h *Handler) UpdateActive(w http.ResponseWriter, r *http.Request) {
	target, ok := h.targetUser(w, r)
	if !ok {
		return
	}

	var req UpdateActiveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		core.BadRequest(w, "invalid request body")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		core.BadRequest(w, core.FormatValidationError(err))
		return
	}

	// Admins cannot lock themselves out.
	if callerID, _ := middleware.GetUserID(r.Context()); callerID == target.ID &&
		!*req.Active {
		core.BadRequest(w, "cannot deactivate your own account")
		return
	}

	if err := h.service.SetActive(r.Context(), target.ID, *req.Active); err != nil {
		if errors.Is(err, core.ErrNotFound) {
			core.NotFound(w, "user")
			return
		}
		core.InternalServerError(w, err)
		return
	}

	core.NoContent(w)
}

func (h *Handler) targetUser(
	w http.ResponseWriter,
	r *http.Request,
) (*User, bool) {
	orgID, ok := middleware.GetOrgID(r.Context())
	if !ok {
		core.BadRequest(w, "no organization on session")
		return nil, false
	}

	targetID, err := uuid.Parse(chi.URLParam(r, "userID"))
	if err != nil {
		core.BadRequest(w, "invalid user id")
		return nil, false
	}

	target, err := h.service.EnsureSameOrg(r.Context(), targetID, orgID)
	if err != nil {
		switch {
		case errors.Is(err, core.ErrNotFound):
			core.NotFound(w, "user")
		case errors.Is(err, core.ErrForbidden):
			core.Forbidden(w, "user belongs to another organization")
		default:
			core.InternalServerError(w, err)
		}
		return nil, false
	}

	return target, true
}
