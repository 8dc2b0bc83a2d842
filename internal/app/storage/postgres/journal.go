package postgres

import (
	"context"
	"time"

	"github.com/R3E-Network/agentbank/internal/app/domain/commission"
	"github.com/R3E-Network/agentbank/internal/app/domain/ledger"
	"github.com/R3E-Network/agentbank/internal/app/domain/ticket"
)

const ledgerColumns = `id, user_id, operation_id, direction, amount, balance_before, balance_after,
	description, created_at`

const recordColumns = `id, operation_id, COALESCE(agency_id, '') AS agency_id, agent_id,
	COALESCE(chief_id, '') AS chief_id, rule_id, agent_commission, chief_commission, total_commission,
	currency, status, created_at, paid_at`

const ticketColumns = `id, ticket_number, requester_id, assignee_id, COALESCE(agency_id, '') AS agency_id,
	ticket_type, priority, status, title, description, requested_amount,
	COALESCE(resolution_notes, '') AS resolution_notes, COALESCE(resolved_by, '') AS resolved_by,
	COALESCE(recharge_operation_id, '') AS recharge_operation_id, created_at, updated_at, resolved_at`

// --- ledger -----------------------------------------------------------------

func (q *queries) AppendLedgerEntry(ctx context.Context, entry ledger.Entry) (ledger.Entry, error) {
	entry.ID = ensureID(entry.ID)
	_, err := q.ext.ExecContext(ctx, `
		INSERT INTO ledger_entries (id, user_id, operation_id, direction, amount, balance_before,
			balance_after, description, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, entry.ID, entry.UserID, entry.OperationID, entry.Direction, entry.Amount, entry.BalanceBefore,
		entry.BalanceAfter, entry.Description, entry.CreatedAt)
	if err != nil {
		return ledger.Entry{}, mapErr(err)
	}
	return entry, nil
}

func (q *queries) ListLedgerEntries(ctx context.Context, userID string) ([]ledger.Entry, error) {
	var entries []ledger.Entry
	err := q.selectAll(ctx, &entries, `
		SELECT `+ledgerColumns+` FROM ledger_entries WHERE user_id = $1 ORDER BY created_at, seq
	`, userID)
	return entries, err
}

func (q *queries) ListLedgerEntriesByOperation(ctx context.Context, operationID string) ([]ledger.Entry, error) {
	var entries []ledger.Entry
	err := q.selectAll(ctx, &entries, `
		SELECT `+ledgerColumns+` FROM ledger_entries WHERE operation_id = $1 ORDER BY created_at, seq
	`, operationID)
	return entries, err
}

// --- commission records -----------------------------------------------------

func (q *queries) CreateCommissionRecord(ctx context.Context, rec commission.Record) (commission.Record, error) {
	rec.ID = ensureID(rec.ID)
	_, err := q.ext.ExecContext(ctx, `
		INSERT INTO commission_records (id, operation_id, agency_id, agent_id, chief_id, rule_id,
			agent_commission, chief_commission, total_commission, currency, status, created_at, paid_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`, rec.ID, rec.OperationID, nullIfEmpty(rec.AgencyID), rec.AgentID, nullIfEmpty(rec.ChiefID), rec.RuleID,
		rec.AgentCommission, rec.ChiefCommission, rec.TotalCommission, rec.Currency, rec.Status,
		rec.CreatedAt, rec.PaidAt)
	if err != nil {
		return commission.Record{}, mapErr(err)
	}
	return rec, nil
}

func (q *queries) GetCommissionRecord(ctx context.Context, id string) (commission.Record, error) {
	var rec commission.Record
	err := q.get(ctx, &rec, `SELECT `+recordColumns+` FROM commission_records WHERE id = $1`, id)
	return rec, err
}

func (q *queries) LockCommissionRecord(ctx context.Context, id string) (commission.Record, error) {
	var rec commission.Record
	err := q.get(ctx, &rec, `SELECT `+recordColumns+` FROM commission_records WHERE id = $1 FOR UPDATE`, id)
	return rec, err
}

func (q *queries) GetCommissionRecordByOperation(ctx context.Context, operationID string) (commission.Record, error) {
	var rec commission.Record
	err := q.get(ctx, &rec, `SELECT `+recordColumns+` FROM commission_records WHERE operation_id = $1`, operationID)
	return rec, err
}

func (q *queries) MarkCommissionRecordPaid(ctx context.Context, id string, at time.Time) error {
	return q.execOne(ctx, `UPDATE commission_records SET status = 'paid', paid_at = $2 WHERE id = $1`, id, at)
}

func (q *queries) ListCommissionRecords(ctx context.Context, filter commission.RecordFilter) ([]commission.Record, error) {
	var records []commission.Record
	err := q.selectAll(ctx, &records, `
		SELECT `+recordColumns+`
		FROM commission_records
		WHERE ($1::text = '' OR agency_id = $1)
		  AND ($2::text = '' OR agent_id = $2)
		  AND ($3::text = '' OR status = $3)
		  AND ($4::timestamptz IS NULL OR created_at >= $4)
		  AND ($5::timestamptz IS NULL OR created_at < $5)
		ORDER BY created_at, id
	`, filter.AgencyID, filter.AgentID, string(filter.Status), nullTime(filter.From), nullTime(filter.To))
	return records, err
}

func (q *queries) CreateCommissionTransfer(ctx context.Context, tr commission.Transfer) (commission.Transfer, error) {
	tr.ID = ensureID(tr.ID)
	_, err := q.ext.ExecContext(ctx, `
		INSERT INTO commission_transfers (id, reference, record_id, paid_by, agent_amount, chief_amount, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, tr.ID, tr.Reference, tr.RecordID, tr.PaidBy, tr.AgentAmount, tr.ChiefAmount, tr.CreatedAt)
	if err != nil {
		return commission.Transfer{}, mapErr(err)
	}
	return tr, nil
}

func (q *queries) ListCommissionTransfers(ctx context.Context, recordID string) ([]commission.Transfer, error) {
	var transfers []commission.Transfer
	err := q.selectAll(ctx, &transfers, `
		SELECT id, reference, record_id, paid_by, agent_amount, chief_amount, created_at
		FROM commission_transfers
		WHERE ($1::text = '' OR record_id = $1)
		ORDER BY created_at
	`, recordID)
	return transfers, err
}

// --- tickets ----------------------------------------------------------------

func (q *queries) CreateTicket(ctx context.Context, t ticket.Ticket) (ticket.Ticket, error) {
	t.ID = ensureID(t.ID)
	_, err := q.ext.ExecContext(ctx, `
		INSERT INTO tickets (id, ticket_number, requester_id, assignee_id, agency_id, ticket_type, priority,
			status, title, description, requested_amount, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`, t.ID, t.Number, t.RequesterID, t.AssigneeID, nullIfEmpty(t.AgencyID), t.Type, t.Priority,
		t.Status, t.Title, t.Description, t.RequestedAmount, t.CreatedAt, t.UpdatedAt)
	if err != nil {
		return ticket.Ticket{}, mapErr(err)
	}
	return t, nil
}

func (q *queries) GetTicket(ctx context.Context, id string) (ticket.Ticket, error) {
	var t ticket.Ticket
	err := q.get(ctx, &t, `SELECT `+ticketColumns+` FROM tickets WHERE id = $1`, id)
	return t, err
}

func (q *queries) LockTicket(ctx context.Context, id string) (ticket.Ticket, error) {
	var t ticket.Ticket
	err := q.get(ctx, &t, `SELECT `+ticketColumns+` FROM tickets WHERE id = $1 FOR UPDATE`, id)
	return t, err
}

func (q *queries) UpdateTicket(ctx context.Context, t ticket.Ticket) (ticket.Ticket, error) {
	err := q.execOne(ctx, `
		UPDATE tickets
		SET status = $2, resolution_notes = $3, resolved_by = $4, recharge_operation_id = $5,
			updated_at = $6, resolved_at = $7
		WHERE id = $1
	`, t.ID, t.Status, nullIfEmpty(t.ResolutionNotes), nullIfEmpty(t.ResolvedBy),
		nullIfEmpty(t.RechargeOperationID), t.UpdatedAt, t.ResolvedAt)
	if err != nil {
		return ticket.Ticket{}, err
	}
	return t, nil
}

func (q *queries) ListTickets(ctx context.Context, filter ticket.Filter) ([]ticket.Ticket, error) {
	var tickets []ticket.Ticket
	err := q.selectAll(ctx, &tickets, `
		SELECT `+ticketColumns+`
		FROM tickets
		WHERE ($1::text = '' OR requester_id = $1)
		  AND ($2::text = '' OR assignee_id = $2)
		  AND ($3::text = '' OR agency_id = $3)
		  AND ($4::text = '' OR status = $4)
		ORDER BY CASE priority WHEN 'urgent' THEN 4 WHEN 'high' THEN 3 WHEN 'medium' THEN 2 ELSE 1 END DESC,
			created_at, id
	`, filter.RequesterID, filter.AssigneeID, filter.AgencyID, string(filter.Status))
	return tickets, err
}

func (q *queries) AddTicketComment(ctx context.Context, c ticket.Comment) (ticket.Comment, error) {
	c.ID = ensureID(c.ID)
	_, err := q.ext.ExecContext(ctx, `
		INSERT INTO ticket_comments (id, ticket_id, author_id, body, is_internal, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, c.ID, c.TicketID, c.AuthorID, c.Body, c.Internal, c.CreatedAt)
	if err != nil {
		return ticket.Comment{}, mapErr(err)
	}
	return c, nil
}

func (q *queries) ListTicketComments(ctx context.Context, ticketID string) ([]ticket.Comment, error) {
	var comments []ticket.Comment
	err := q.selectAll(ctx, &comments, `
		SELECT id, ticket_id, author_id, body, is_internal, created_at
		FROM ticket_comments WHERE ticket_id = $1 ORDER BY created_at, id
	`, ticketID)
	return comments, err
}
