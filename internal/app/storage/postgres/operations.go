package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/R3E-Network/agentbank/internal/app/domain/operation"
	"github.com/R3E-Network/agentbank/internal/app/storage"
)

const operationColumns = `id, reference, type_id, initiator_id, COALESCE(agency_id, '') AS agency_id,
	amount, currency, status, COALESCE(validator_id, '') AS validator_id,
	COALESCE(payload, '{}'::jsonb) AS payload, COALESCE(failure_reason, '') AS failure_reason,
	created_at, assigned_at, validated_at, completed_at, updated_at`

func payloadText(raw []byte) string {
	if len(raw) == 0 {
		return "{}"
	}
	return string(raw)
}

func (q *queries) CreateOperation(ctx context.Context, op operation.Operation) (operation.Operation, error) {
	op.ID = ensureID(op.ID)
	_, err := q.ext.ExecContext(ctx, `
		INSERT INTO operations (id, reference, type_id, initiator_id, agency_id, amount, currency, status,
			validator_id, payload, failure_reason, created_at, assigned_at, validated_at, completed_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10::jsonb, $11, $12, $13, $14, $15, $16)
	`, op.ID, op.Reference, op.TypeID, op.InitiatorID, nullIfEmpty(op.AgencyID), op.Amount, op.Currency,
		op.Status, nullIfEmpty(op.ValidatorID), payloadText(op.Payload), nullIfEmpty(op.FailureReason),
		op.CreatedAt, op.AssignedAt, op.ValidatedAt, op.CompletedAt, op.UpdatedAt)
	if err != nil {
		return operation.Operation{}, mapErr(err)
	}
	return op, nil
}

func (q *queries) GetOperation(ctx context.Context, id string) (operation.Operation, error) {
	var op operation.Operation
	err := q.get(ctx, &op, `SELECT `+operationColumns+` FROM operations WHERE id = $1`, id)
	return op, err
}

func (q *queries) LockOperation(ctx context.Context, id string) (operation.Operation, error) {
	var op operation.Operation
	err := q.get(ctx, &op, `SELECT `+operationColumns+` FROM operations WHERE id = $1 FOR UPDATE`, id)
	return op, err
}

func (q *queries) UpdateOperation(ctx context.Context, op operation.Operation) (operation.Operation, error) {
	err := q.execOne(ctx, `
		UPDATE operations
		SET status = $2, validator_id = $3, failure_reason = $4, assigned_at = $5,
			validated_at = $6, completed_at = $7, updated_at = $8
		WHERE id = $1
	`, op.ID, op.Status, nullIfEmpty(op.ValidatorID), nullIfEmpty(op.FailureReason), op.AssignedAt,
		op.ValidatedAt, op.CompletedAt, op.UpdatedAt)
	if err != nil {
		return operation.Operation{}, err
	}
	return op, nil
}

func (q *queries) ListOperations(ctx context.Context, filter operation.Filter) ([]operation.Operation, error) {
	var ops []operation.Operation
	err := q.selectAll(ctx, &ops, `
		SELECT `+operationColumns+`
		FROM operations
		WHERE ($1::text = '' OR initiator_id = $1)
		  AND ($2::text = '' OR agency_id = $2)
		  AND ($3::text = '' OR validator_id = $3)
		  AND ($4::text = '' OR status = $4)
		ORDER BY created_at, id
		LIMIT NULLIF($5, 0)
	`, filter.InitiatorID, filter.AgencyID, filter.ValidatorID, string(filter.Status), filter.Limit)
	return ops, err
}

// ClaimNextOperation binds in a single statement. The inner select skips
// rows locked by concurrent claimants and the outer predicate re-checks
// that no validator was bound in the meantime.
func (q *queries) ClaimNextOperation(ctx context.Context, req storage.ClaimRequest) (operation.Operation, error) {
	var op operation.Operation
	err := q.get(ctx, &op, `
		UPDATE operations
		SET status = 'assigned', validator_id = $1, assigned_at = $2, updated_at = $2
		WHERE id = (
			SELECT id FROM operations
			WHERE status = 'pending' AND validator_id IS NULL
			  AND ($3::text = '' OR agency_id = $3)
			ORDER BY created_at, id
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		AND status = 'pending' AND validator_id IS NULL
		RETURNING `+operationColumns, req.ValidatorID, req.At, req.AgencyID)
	if err == nil {
		return op, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return operation.Operation{}, err
	}

	var remaining bool
	if err := q.get(ctx, &remaining, `
		SELECT EXISTS (
			SELECT 1 FROM operations
			WHERE status = 'pending' AND validator_id IS NULL
			  AND ($1::text = '' OR agency_id = $1)
		)
	`, req.AgencyID); err != nil {
		return operation.Operation{}, err
	}
	if remaining {
		return operation.Operation{}, storage.ErrClaimLost
	}
	return operation.Operation{}, storage.ErrNotFound
}

func (q *queries) ClaimOperation(ctx context.Context, id, validatorID string, at time.Time) (operation.Operation, error) {
	var op operation.Operation
	err := q.get(ctx, &op, `
		UPDATE operations
		SET status = 'assigned', validator_id = $2, assigned_at = $3, updated_at = $3
		WHERE id = $1 AND status = 'pending' AND validator_id IS NULL
		RETURNING `+operationColumns, id, validatorID, at)
	if err == nil {
		return op, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return operation.Operation{}, err
	}
	if _, getErr := q.GetOperation(ctx, id); getErr != nil {
		return operation.Operation{}, getErr
	}
	return operation.Operation{}, storage.ErrClaimLost
}

func (q *queries) ReleaseOperation(ctx context.Context, id, validatorID string, at time.Time) (operation.Operation, error) {
	var op operation.Operation
	err := q.get(ctx, &op, `
		UPDATE operations
		SET status = 'pending', validator_id = NULL, assigned_at = NULL, updated_at = $3
		WHERE id = $1 AND status = 'assigned' AND validator_id = $2
		RETURNING `+operationColumns, id, validatorID, at)
	if err == nil {
		return op, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return operation.Operation{}, err
	}
	if _, getErr := q.GetOperation(ctx, id); getErr != nil {
		return operation.Operation{}, getErr
	}
	return operation.Operation{}, storage.ErrClaimLost
}

func (q *queries) ListStaleAssignments(ctx context.Context, assignedBefore time.Time) ([]operation.Operation, error) {
	var ops []operation.Operation
	err := q.selectAll(ctx, &ops, `
		SELECT `+operationColumns+`
		FROM operations
		WHERE status = 'assigned' AND assigned_at < $1
		ORDER BY assigned_at
	`, assignedBefore)
	return ops, err
}

func (q *queries) QueueStats(ctx context.Context, scope storage.QueueScope) (operation.QueueStats, error) {
	var stats operation.QueueStats
	row := q.ext.QueryRowxContext(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE status = 'pending' AND validator_id IS NULL),
			COUNT(*) FILTER (WHERE status = 'assigned' AND $1::text <> '' AND validator_id = $1),
			COUNT(*),
			COUNT(*) FILTER (WHERE $3::timestamptz IS NOT NULL AND created_at < $3)
		FROM operations
		WHERE status IN ('pending', 'assigned')
		  AND ($2::text = '' OR agency_id = $2)
	`, scope.ValidatorID, scope.AgencyID, nullTime(scope.UrgentBefore))
	if err := row.Scan(&stats.Unassigned, &stats.AssignedToMe, &stats.AllActive, &stats.Urgent); err != nil {
		return operation.QueueStats{}, mapErr(err)
	}
	return stats, nil
}
