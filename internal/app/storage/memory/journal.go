package memory

import (
	"context"
	"sort"
	"time"

	"github.com/R3E-Network/agentbank/internal/app/domain/commission"
	"github.com/R3E-Network/agentbank/internal/app/domain/ledger"
	"github.com/R3E-Network/agentbank/internal/app/domain/ticket"
	"github.com/R3E-Network/agentbank/internal/app/storage"
)

// --- ledger -----------------------------------------------------------------

func (t *tx) AppendLedgerEntry(_ context.Context, entry ledger.Entry) (ledger.Entry, error) {
	defer t.lock()()
	st := t.st()
	if _, ok := st.users[entry.UserID]; !ok {
		return ledger.Entry{}, storage.ErrNotFound
	}
	if entry.ID == "" {
		entry.ID = newID()
	}
	st.entries = append(st.entries, entry)
	return entry, nil
}

func (t *tx) ListLedgerEntries(_ context.Context, userID string) ([]ledger.Entry, error) {
	defer t.lock()()
	var out []ledger.Entry
	for _, e := range t.st().entries {
		if e.UserID == userID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (t *tx) ListLedgerEntriesByOperation(_ context.Context, operationID string) ([]ledger.Entry, error) {
	defer t.lock()()
	var out []ledger.Entry
	for _, e := range t.st().entries {
		if e.OperationID == operationID {
			out = append(out, e)
		}
	}
	return out, nil
}

// --- commission records -----------------------------------------------------

func (t *tx) CreateCommissionRecord(_ context.Context, rec commission.Record) (commission.Record, error) {
	defer t.lock()()
	st := t.st()
	for _, existing := range st.records {
		if existing.OperationID == rec.OperationID {
			return commission.Record{}, storage.ErrDuplicate
		}
	}
	if rec.ID == "" {
		rec.ID = newID()
	}
	st.records[rec.ID] = rec
	st.recordOrder = append(st.recordOrder, rec.ID)
	return rec, nil
}

func (t *tx) GetCommissionRecord(_ context.Context, id string) (commission.Record, error) {
	defer t.lock()()
	rec, ok := t.st().records[id]
	if !ok {
		return commission.Record{}, storage.ErrNotFound
	}
	return rec, nil
}

func (t *tx) LockCommissionRecord(ctx context.Context, id string) (commission.Record, error) {
	return t.GetCommissionRecord(ctx, id)
}

func (t *tx) GetCommissionRecordByOperation(_ context.Context, operationID string) (commission.Record, error) {
	defer t.lock()()
	for _, rec := range t.st().records {
		if rec.OperationID == operationID {
			return rec, nil
		}
	}
	return commission.Record{}, storage.ErrNotFound
}

func (t *tx) MarkCommissionRecordPaid(_ context.Context, id string, at time.Time) error {
	defer t.lock()()
	st := t.st()
	rec, ok := st.records[id]
	if !ok {
		return storage.ErrNotFound
	}
	rec.Status = commission.RecordPaid
	paid := at
	rec.PaidAt = &paid
	st.records[id] = rec
	return nil
}

func (t *tx) ListCommissionRecords(_ context.Context, filter commission.RecordFilter) ([]commission.Record, error) {
	defer t.lock()()
	st := t.st()
	var out []commission.Record
	for _, id := range st.recordOrder {
		rec := st.records[id]
		if filter.AgencyID != "" && rec.AgencyID != filter.AgencyID {
			continue
		}
		if filter.AgentID != "" && rec.AgentID != filter.AgentID {
			continue
		}
		if filter.Status != "" && rec.Status != filter.Status {
			continue
		}
		if !filter.From.IsZero() && rec.CreatedAt.Before(filter.From) {
			continue
		}
		if !filter.To.IsZero() && !rec.CreatedAt.Before(filter.To) {
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

func (t *tx) CreateCommissionTransfer(_ context.Context, tr commission.Transfer) (commission.Transfer, error) {
	defer t.lock()()
	st := t.st()
	if _, ok := st.records[tr.RecordID]; !ok {
		return commission.Transfer{}, storage.ErrNotFound
	}
	if tr.ID == "" {
		tr.ID = newID()
	}
	st.transfers = append(st.transfers, tr)
	return tr, nil
}

func (t *tx) ListCommissionTransfers(_ context.Context, recordID string) ([]commission.Transfer, error) {
	defer t.lock()()
	var out []commission.Transfer
	for _, tr := range t.st().transfers {
		if recordID == "" || tr.RecordID == recordID {
			out = append(out, tr)
		}
	}
	return out, nil
}

// --- tickets ----------------------------------------------------------------

func (t *tx) CreateTicket(_ context.Context, tk ticket.Ticket) (ticket.Ticket, error) {
	defer t.lock()()
	st := t.st()
	if tk.ID == "" {
		tk.ID = newID()
	} else if _, exists := st.tickets[tk.ID]; exists {
		return ticket.Ticket{}, storage.ErrDuplicate
	}
	st.tickets[tk.ID] = tk
	return tk, nil
}

func (t *tx) GetTicket(_ context.Context, id string) (ticket.Ticket, error) {
	defer t.lock()()
	tk, ok := t.st().tickets[id]
	if !ok {
		return ticket.Ticket{}, storage.ErrNotFound
	}
	return tk, nil
}

func (t *tx) LockTicket(ctx context.Context, id string) (ticket.Ticket, error) {
	return t.GetTicket(ctx, id)
}

func (t *tx) UpdateTicket(_ context.Context, tk ticket.Ticket) (ticket.Ticket, error) {
	defer t.lock()()
	st := t.st()
	if _, ok := st.tickets[tk.ID]; !ok {
		return ticket.Ticket{}, storage.ErrNotFound
	}
	st.tickets[tk.ID] = tk
	return tk, nil
}

func (t *tx) ListTickets(_ context.Context, filter ticket.Filter) ([]ticket.Ticket, error) {
	defer t.lock()()
	var out []ticket.Ticket
	for _, tk := range t.st().tickets {
		if filter.RequesterID != "" && tk.RequesterID != filter.RequesterID {
			continue
		}
		if filter.AssigneeID != "" && tk.AssigneeID != filter.AssigneeID {
			continue
		}
		if filter.AgencyID != "" && tk.AgencyID != filter.AgencyID {
			continue
		}
		if filter.Status != "" && tk.Status != filter.Status {
			continue
		}
		out = append(out, tk)
	}
	sort.Slice(out, func(i, j int) bool { return ticket.Before(out[i], out[j]) })
	return out, nil
}

func (t *tx) AddTicketComment(_ context.Context, c ticket.Comment) (ticket.Comment, error) {
	defer t.lock()()
	st := t.st()
	if _, ok := st.tickets[c.TicketID]; !ok {
		return ticket.Comment{}, storage.ErrNotFound
	}
	if c.ID == "" {
		c.ID = newID()
	}
	st.comments = append(st.comments, c)
	return c, nil
}

func (t *tx) ListTicketComments(_ context.Context, ticketID string) ([]ticket.Comment, error) {
	defer t.lock()()
	var out []ticket.Comment
	for _, c := range t.st().comments {
		if c.TicketID == ticketID {
			out = append(out, c)
		}
	}
	return out, nil
}
