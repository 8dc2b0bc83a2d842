package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/R3E-Network/agentbank/internal/app/domain/operation"
	"github.com/R3E-Network/agentbank/internal/app/services/operations"
	"github.com/R3E-Network/agentbank/internal/app/services/queue"
	apperrors "github.com/R3E-Network/agentbank/internal/errors"
	"github.com/R3E-Network/agentbank/internal/httputil"
)

type operationRef struct {
	OperationID string `json:"operation_id"`
}

func (h *handler) createOperationType(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Name           string   `json:"name"`
		Description    string   `json:"description"`
		ImpactsBalance *bool    `json:"impacts_balance"`
		Direction      string   `json:"direction"`
		RequiresAgency *bool    `json:"requires_agency"`
		RequiredFields []string `json:"required_fields"`
	}
	actor, ok := h.decode(w, r, &payload)
	if !ok {
		return
	}
	spec := operations.TypeSpec{
		Name:           payload.Name,
		Description:    payload.Description,
		ImpactsBalance: true,
		Direction:      operation.Direction(payload.Direction),
		RequiresAgency: true,
		RequiredFields: payload.RequiredFields,
	}
	if payload.ImpactsBalance != nil {
		spec.ImpactsBalance = *payload.ImpactsBalance
	}
	if payload.RequiresAgency != nil {
		spec.RequiresAgency = *payload.RequiresAgency
	}
	typ, err := h.app.Operations.CreateType(r.Context(), actor, spec)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httputil.WriteOK(w, map[string]any{"operation_type_id": typ.ID, "operation_type": typ})
}

func (h *handler) listOperationTypes(w http.ResponseWriter, r *http.Request) {
	var payload struct{}
	if _, ok := h.decode(w, r, &payload); !ok {
		return
	}
	types, err := h.app.Operations.Types(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httputil.WriteOK(w, map[string]any{"operation_types": types})
}

func (h *handler) createOperation(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		OperationTypeID string          `json:"operation_type_id"`
		Amount          decimal.Decimal `json:"amount"`
		Currency        string          `json:"currency"`
		Payload         json.RawMessage `json:"payload"`
	}
	actor, ok := h.decode(w, r, &payload)
	if !ok {
		return
	}
	op, err := h.app.Operations.Create(r.Context(), operations.CreateRequest{
		InitiatorID: actor,
		TypeID:      payload.OperationTypeID,
		Amount:      payload.Amount,
		Currency:    payload.Currency,
		Payload:     payload.Payload,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httputil.WriteState(w, string(op.Status), map[string]any{
		"operation_id": op.ID,
		"operation":    op,
	})
}

func (h *handler) getOperation(w http.ResponseWriter, r *http.Request) {
	var payload operationRef
	actor, ok := h.decode(w, r, &payload)
	if !ok {
		return
	}
	op, err := h.app.Operations.View(r.Context(), actor, payload.OperationID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httputil.WriteOK(w, map[string]any{"operation": op})
}

func (h *handler) listOperations(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		InitiatorID string `json:"initiator_id"`
		AgencyID    string `json:"agency_id"`
		ValidatorID string `json:"validator_id"`
		Status      string `json:"status"`
		Limit       int    `json:"limit"`
	}
	actor, ok := h.decode(w, r, &payload)
	if !ok {
		return
	}
	status, err := statusFilter(payload.Status)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	ops, err := h.app.Operations.List(r.Context(), actor, operation.Filter{
		InitiatorID: payload.InitiatorID,
		AgencyID:    payload.AgencyID,
		ValidatorID: payload.ValidatorID,
		Status:      status,
		Limit:       payload.Limit,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httputil.WriteOK(w, map[string]any{"operations": ops})
}

func (h *handler) cancelOperation(w http.ResponseWriter, r *http.Request) {
	var payload operationRef
	actor, ok := h.decode(w, r, &payload)
	if !ok {
		return
	}
	op, err := h.app.Operations.Cancel(r.Context(), payload.OperationID, actor)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httputil.WriteOK(w, map[string]any{"new_status": op.Status, "operation": op})
}

func (h *handler) settleOperation(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		OperationID string `json:"operation_id"`
		Decision    string `json:"decision"`
		Reason      string `json:"reason"`
	}
	actor, ok := h.decode(w, r, &payload)
	if !ok {
		return
	}
	op, err := h.app.Operations.Settle(r.Context(), operations.SettleRequest{
		OperationID: payload.OperationID,
		ValidatorID: actor,
		Decision:    operation.Decision(payload.Decision),
		Reason:      payload.Reason,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httputil.WriteOK(w, map[string]any{"new_status": op.Status, "operation": op})
}

func (h *handler) recharge(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		AgentID string          `json:"agent_id"`
		Amount  decimal.Decimal `json:"amount"`
		Note    string          `json:"note"`
	}
	actor, ok := h.decode(w, r, &payload)
	if !ok {
		return
	}
	op, err := h.app.Operations.Recharge(r.Context(), actor, payload.AgentID, payload.Amount, payload.Note)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httputil.WriteOK(w, map[string]any{"operation_id": op.ID, "operation": op})
}

type userRef struct {
	UserID string `json:"user_id"`
}

func (h *handler) listLedger(w http.ResponseWriter, r *http.Request) {
	var payload userRef
	actor, ok := h.decode(w, r, &payload)
	if !ok {
		return
	}
	if payload.UserID == "" {
		payload.UserID = actor
	}
	entries, err := h.app.Operations.Ledger(r.Context(), actor, payload.UserID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httputil.WriteOK(w, map[string]any{"entries": entries})
}

func (h *handler) verifyBalance(w http.ResponseWriter, r *http.Request) {
	var payload userRef
	actor, ok := h.decode(w, r, &payload)
	if !ok {
		return
	}
	if payload.UserID == "" {
		payload.UserID = actor
	}
	v, err := h.app.Operations.VerifyBalance(r.Context(), actor, payload.UserID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httputil.WriteOK(w, map[string]any{"verification": v})
}

func (h *handler) claimNextOperation(w http.ResponseWriter, r *http.Request) {
	var payload struct{}
	actor, ok := h.decode(w, r, &payload)
	if !ok {
		return
	}
	op, err := h.app.Queue.Claim(r.Context(), actor)
	if errors.Is(err, queue.ErrQueueEmpty) {
		httputil.WriteJSON(w, http.StatusOK, map[string]any{"status": httputil.StatusEmpty})
		return
	}
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httputil.WriteOK(w, map[string]any{"operation_id": op.ID, "operation": op})
}

func (h *handler) claimOperation(w http.ResponseWriter, r *http.Request) {
	var payload operationRef
	actor, ok := h.decode(w, r, &payload)
	if !ok {
		return
	}
	op, err := h.app.Queue.ClaimOperation(r.Context(), payload.OperationID, actor)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httputil.WriteOK(w, map[string]any{"operation_id": op.ID, "operation": op})
}

func (h *handler) releaseOperation(w http.ResponseWriter, r *http.Request) {
	var payload operationRef
	actor, ok := h.decode(w, r, &payload)
	if !ok {
		return
	}
	op, err := h.app.Queue.Release(r.Context(), payload.OperationID, actor)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httputil.WriteOK(w, map[string]any{"new_status": op.Status, "operation": op})
}

func (h *handler) listPendingOperations(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Limit int `json:"limit"`
	}
	actor, ok := h.decode(w, r, &payload)
	if !ok {
		return
	}
	ops, err := h.app.Queue.Pending(r.Context(), actor, payload.Limit)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httputil.WriteOK(w, map[string]any{"operations": ops})
}

func (h *handler) queueStats(w http.ResponseWriter, r *http.Request) {
	var payload struct{}
	actor, ok := h.decode(w, r, &payload)
	if !ok {
		return
	}
	stats, err := h.app.Queue.Stats(r.Context(), actor)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httputil.WriteOK(w, map[string]any{"stats": stats})
}

// statusFilter rejects unknown operation statuses early.
func statusFilter(s string) (operation.Status, error) {
	switch st := operation.Status(s); st {
	case "", operation.StatusPending, operation.StatusAssigned, operation.StatusCompleted, operation.StatusFailed, operation.StatusCancelled:
		return st, nil
	}
	return "", apperrors.Validation("unknown operation status %q", s)
}
