package httpapi

import (
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/R3E-Network/agentbank/internal/app/domain/ticket"
	"github.com/R3E-Network/agentbank/internal/app/services/tickets"
	"github.com/R3E-Network/agentbank/internal/httputil"
)

type ticketRef struct {
	TicketID string `json:"ticket_id"`
}

func (h *handler) openTicket(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Type        string          `json:"ticket_type"`
		Amount      decimal.Decimal `json:"amount"`
		Priority    string          `json:"priority"`
		Title       string          `json:"title"`
		Description string          `json:"description"`
	}
	actor, ok := h.decode(w, r, &payload)
	if !ok {
		return
	}
	t, err := h.app.Tickets.Open(r.Context(), tickets.OpenRequest{
		RequesterID: actor,
		Type:        ticket.Type(payload.Type),
		Priority:    payload.Priority,
		Amount:      payload.Amount,
		Title:       payload.Title,
		Description: payload.Description,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httputil.WriteState(w, string(t.Status), map[string]any{
		"ticket_id": t.ID,
		"ticket":    t,
	})
}

func (h *handler) getTicket(w http.ResponseWriter, r *http.Request) {
	var payload ticketRef
	actor, ok := h.decode(w, r, &payload)
	if !ok {
		return
	}
	t, err := h.app.Tickets.Get(r.Context(), payload.TicketID, actor)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httputil.WriteOK(w, map[string]any{"ticket": t})
}

func (h *handler) listTickets(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Status     string `json:"status"`
		AssigneeID string `json:"assignee_id"`
		AgencyID   string `json:"agency_id"`
	}
	actor, ok := h.decode(w, r, &payload)
	if !ok {
		return
	}
	list, err := h.app.Tickets.List(r.Context(), actor, ticket.Filter{
		Status:     ticket.Status(payload.Status),
		AssigneeID: payload.AssigneeID,
		AgencyID:   payload.AgencyID,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httputil.WriteOK(w, map[string]any{"tickets": list})
}

func (h *handler) resolveTicket(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		TicketID     string          `json:"ticket_id"`
		Notes        string          `json:"notes"`
		CreditAmount decimal.Decimal `json:"credit_amount"`
	}
	actor, ok := h.decode(w, r, &payload)
	if !ok {
		return
	}
	t, err := h.app.Tickets.Resolve(r.Context(), tickets.ResolveRequest{
		TicketID:     payload.TicketID,
		ResolverID:   actor,
		Notes:        payload.Notes,
		CreditAmount: payload.CreditAmount,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httputil.WriteState(w, string(t.Status), map[string]any{"ticket": t})
}

func (h *handler) cancelTicket(w http.ResponseWriter, r *http.Request) {
	var payload ticketRef
	actor, ok := h.decode(w, r, &payload)
	if !ok {
		return
	}
	t, err := h.app.Tickets.Cancel(r.Context(), payload.TicketID, actor)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httputil.WriteState(w, string(t.Status), map[string]any{"ticket": t})
}

func (h *handler) addTicketComment(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		TicketID string `json:"ticket_id"`
		Body     string `json:"body"`
		Internal bool   `json:"is_internal"`
	}
	actor, ok := h.decode(w, r, &payload)
	if !ok {
		return
	}
	c, err := h.app.Tickets.Comment(r.Context(), payload.TicketID, actor, payload.Body, payload.Internal)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httputil.WriteOK(w, map[string]any{"comment_id": c.ID, "comment": c})
}

func (h *handler) listTicketComments(w http.ResponseWriter, r *http.Request) {
	var payload ticketRef
	actor, ok := h.decode(w, r, &payload)
	if !ok {
		return
	}
	comments, err := h.app.Tickets.Comments(r.Context(), payload.TicketID, actor)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httputil.WriteOK(w, map[string]any{"comments": comments})
}
