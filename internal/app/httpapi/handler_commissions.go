package httpapi

import (
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/R3E-Network/agentbank/internal/app/domain/commission"
	"github.com/R3E-Network/agentbank/internal/app/services/commissions"
	apperrors "github.com/R3E-Network/agentbank/internal/errors"
	"github.com/R3E-Network/agentbank/internal/httputil"
)

func (h *handler) setCommissionRule(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		OperationTypeID string              `json:"operation_type_id"`
		Kind            string              `json:"kind"`
		Rate            decimal.Decimal     `json:"rate"`
		FixedAmount     decimal.Decimal     `json:"fixed_amount"`
		Min             decimal.NullDecimal `json:"min"`
		Max             decimal.NullDecimal `json:"max"`
	}
	actor, ok := h.decode(w, r, &payload)
	if !ok {
		return
	}
	rule, err := h.app.Commissions.SetRule(r.Context(), actor, commissions.RuleSpec{
		OperationTypeID: payload.OperationTypeID,
		Kind:            commission.Kind(payload.Kind),
		Rate:            payload.Rate,
		FixedAmount:     payload.FixedAmount,
		Min:             payload.Min,
		Max:             payload.Max,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httputil.WriteOK(w, map[string]any{"rule_id": rule.ID, "rule": rule})
}

func (h *handler) listCommissionRules(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		OperationTypeID string `json:"operation_type_id"`
	}
	if _, ok := h.decode(w, r, &payload); !ok {
		return
	}
	rules, err := h.app.Commissions.Rules(r.Context(), payload.OperationTypeID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httputil.WriteOK(w, map[string]any{"rules": rules})
}

func (h *handler) listCommissionRecords(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		AgencyID string `json:"agency_id"`
		AgentID  string `json:"agent_id"`
		Status   string `json:"status"`
		Period   string `json:"period"`
		From     string `json:"from"`
		To       string `json:"to"`
	}
	actor, ok := h.decode(w, r, &payload)
	if !ok {
		return
	}
	from, to, err := parsePeriod(payload.Period, payload.From, payload.To)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	records, err := h.app.Commissions.Records(r.Context(), actor, commission.RecordFilter{
		AgencyID: payload.AgencyID,
		AgentID:  payload.AgentID,
		Status:   commission.RecordStatus(payload.Status),
		From:     from,
		To:       to,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httputil.WriteOK(w, map[string]any{"records": records})
}

func (h *handler) commissionSummary(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		AgencyID string `json:"agency_id"`
		Period   string `json:"period"`
		From     string `json:"from"`
		To       string `json:"to"`
	}
	actor, ok := h.decode(w, r, &payload)
	if !ok {
		return
	}
	from, to, err := parsePeriod(payload.Period, payload.From, payload.To)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	summary, err := h.app.Commissions.Summary(r.Context(), actor, payload.AgencyID, from, to)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httputil.WriteOK(w, map[string]any{"summary": summary})
}

func (h *handler) payCommission(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		RecordID string `json:"record_id"`
	}
	actor, ok := h.decode(w, r, &payload)
	if !ok {
		return
	}
	transfer, err := h.app.Operations.PayCommission(r.Context(), actor, payload.RecordID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httputil.WriteOK(w, map[string]any{"transfer_id": transfer.ID, "transfer": transfer})
}

func (h *handler) listCommissionTransfers(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		RecordID string `json:"record_id"`
	}
	actor, ok := h.decode(w, r, &payload)
	if !ok {
		return
	}
	transfers, err := h.app.Operations.Transfers(r.Context(), actor, payload.RecordID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httputil.WriteOK(w, map[string]any{"transfers": transfers})
}

// parsePeriod accepts either a calendar month ("2026-10") or explicit
// RFC 3339 bounds. Missing bounds stay open.
func parsePeriod(period, from, to string) (time.Time, time.Time, error) {
	if period != "" {
		start, err := time.Parse("2006-01", period)
		if err != nil {
			return time.Time{}, time.Time{}, apperrors.Validation("period must look like YYYY-MM")
		}
		return start, start.AddDate(0, 1, 0), nil
	}
	var start, end time.Time
	var err error
	if from != "" {
		if start, err = time.Parse(time.RFC3339, from); err != nil {
			return time.Time{}, time.Time{}, apperrors.Validation("from must be RFC 3339")
		}
	}
	if to != "" {
		if end, err = time.Parse(time.RFC3339, to); err != nil {
			return time.Time{}, time.Time{}, apperrors.Validation("to must be RFC 3339")
		}
	}
	return start, end, nil
}
