package httpapi

import (
	"net/http"

	"github.com/R3E-Network/agentbank/internal/app/domain/identity"
	"github.com/R3E-Network/agentbank/internal/app/services/actors"
	"github.com/R3E-Network/agentbank/internal/app/services/provisioning"
	"github.com/R3E-Network/agentbank/internal/app/storage"
	apperrors "github.com/R3E-Network/agentbank/internal/errors"
	"github.com/R3E-Network/agentbank/internal/httputil"
)

func (h *handler) getUser(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		UserID string `json:"user_id"`
	}
	actor, ok := h.decode(w, r, &payload)
	if !ok {
		return
	}
	if payload.UserID == "" {
		payload.UserID = actor
	}
	viewer, err := actors.Active(r.Context(), h.app.Store(), actor)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	user, err := h.app.Provisioning.Get(r.Context(), payload.UserID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if !actors.CanView(viewer, user) {
		h.fail(w, r, apperrors.Forbidden("user %s is outside your scope", user.ID))
		return
	}
	httputil.WriteOK(w, map[string]any{"user": user})
}

func (h *handler) listUsers(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Role       string `json:"role"`
		AgencyID   string `json:"agency_id"`
		ActiveOnly bool   `json:"active_only"`
	}
	actor, ok := h.decode(w, r, &payload)
	if !ok {
		return
	}
	filter := storage.UserFilter{AgencyID: payload.AgencyID, ActiveOnly: payload.ActiveOnly}
	if payload.Role != "" {
		role, err := identity.ParseRole(payload.Role)
		if err != nil {
			h.fail(w, r, apperrors.Validation("%v", err))
			return
		}
		filter.Role = role
	}
	users, err := h.app.Provisioning.List(r.Context(), actor, filter)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httputil.WriteOK(w, map[string]any{"users": users})
}

func (h *handler) provisionUser(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Role        string `json:"role"`
		Identifier  string `json:"identifier"`
		DisplayName string `json:"display_name"`
		Password    string `json:"password"`
		AgencyID    string `json:"agency_id"`
	}
	actor, ok := h.decode(w, r, &payload)
	if !ok {
		return
	}
	role, err := identity.ParseRole(payload.Role)
	if err != nil {
		h.fail(w, r, apperrors.Validation("%v", err))
		return
	}
	user, err := h.app.Provisioning.Provision(r.Context(), actor, identity.Spec{
		Role:        role,
		Identifier:  payload.Identifier,
		DisplayName: payload.DisplayName,
		Password:    payload.Password,
		AgencyID:    payload.AgencyID,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httputil.WriteOK(w, map[string]any{"user_id": user.ID, "user": user})
}

func (h *handler) setUserActive(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		UserID string `json:"user_id"`
		Active *bool  `json:"active"`
	}
	actor, ok := h.decode(w, r, &payload)
	if !ok {
		return
	}
	if payload.Active == nil {
		h.fail(w, r, apperrors.Validation("active is required"))
		return
	}
	user, err := h.app.Provisioning.SetActive(r.Context(), actor, payload.UserID, *payload.Active)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httputil.WriteOK(w, map[string]any{"user": user})
}

func (h *handler) createAgency(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Code string `json:"code"`
		Name string `json:"name"`
		City string `json:"city"`
	}
	actor, ok := h.decode(w, r, &payload)
	if !ok {
		return
	}
	agency, err := h.app.Provisioning.CreateAgency(r.Context(), actor, provisioning.AgencySpec{
		Code: payload.Code,
		Name: payload.Name,
		City: payload.City,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httputil.WriteOK(w, map[string]any{"agency_id": agency.ID, "agency": agency})
}

func (h *handler) listAgencies(w http.ResponseWriter, r *http.Request) {
	var payload struct{}
	if _, ok := h.decode(w, r, &payload); !ok {
		return
	}
	agencies, err := h.app.Provisioning.Agencies(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httputil.WriteOK(w, map[string]any{"agencies": agencies})
}
