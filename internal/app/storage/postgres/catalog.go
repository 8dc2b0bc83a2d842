package postgres

import (
	"context"

	"github.com/lib/pq"

	"github.com/R3E-Network/agentbank/internal/app/domain/commission"
	"github.com/R3E-Network/agentbank/internal/app/domain/operation"
)

const typeColumns = `id, name, description, impacts_balance, direction, requires_agency,
	required_fields, active, system, created_at, updated_at`

const ruleColumns = `id, operation_type_id, kind, rate, fixed_amount, min_amount, max_amount,
	active, COALESCE(created_by, '') AS created_by, created_at`

// typeRow adds the array column the domain type does not map.
type typeRow struct {
	operation.Type
	RequiredFields pq.StringArray `db:"required_fields"`
}

func (r typeRow) toDomain() operation.Type {
	typ := r.Type
	typ.RequiredFields = []string(r.RequiredFields)
	return typ
}

func (q *queries) CreateOperationType(ctx context.Context, typ operation.Type) (operation.Type, error) {
	typ.ID = ensureID(typ.ID)
	if typ.RequiredFields == nil {
		typ.RequiredFields = []string{}
	}
	_, err := q.ext.ExecContext(ctx, `
		INSERT INTO operation_types (id, name, description, impacts_balance, direction, requires_agency,
			required_fields, active, system, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, typ.ID, typ.Name, typ.Description, typ.ImpactsBalance, typ.Direction, typ.RequiresAgency,
		pq.Array(typ.RequiredFields), typ.Active, typ.System, typ.CreatedAt, typ.UpdatedAt)
	if err != nil {
		return operation.Type{}, mapErr(err)
	}
	return typ, nil
}

func (q *queries) GetOperationType(ctx context.Context, id string) (operation.Type, error) {
	var row typeRow
	if err := q.get(ctx, &row, `SELECT `+typeColumns+` FROM operation_types WHERE id = $1`, id); err != nil {
		return operation.Type{}, err
	}
	return row.toDomain(), nil
}

func (q *queries) GetOperationTypeByName(ctx context.Context, name string) (operation.Type, error) {
	var row typeRow
	if err := q.get(ctx, &row, `SELECT `+typeColumns+` FROM operation_types WHERE name = $1`, name); err != nil {
		return operation.Type{}, err
	}
	return row.toDomain(), nil
}

func (q *queries) ListOperationTypes(ctx context.Context) ([]operation.Type, error) {
	var rows []typeRow
	if err := q.selectAll(ctx, &rows, `SELECT `+typeColumns+` FROM operation_types ORDER BY name`); err != nil {
		return nil, err
	}
	out := make([]operation.Type, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toDomain())
	}
	return out, nil
}

func (q *queries) CreateCommissionRule(ctx context.Context, rule commission.Rule) (commission.Rule, error) {
	rule.ID = ensureID(rule.ID)
	_, err := q.ext.ExecContext(ctx, `
		INSERT INTO commission_rules (id, operation_type_id, kind, rate, fixed_amount, min_amount, max_amount,
			active, created_by, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, rule.ID, rule.OperationTypeID, rule.Kind, rule.Rate, rule.FixedAmount, rule.MinAmount, rule.MaxAmount,
		rule.Active, nullIfEmpty(rule.CreatedBy), rule.CreatedAt)
	if err != nil {
		return commission.Rule{}, mapErr(err)
	}
	return rule, nil
}

func (q *queries) DeactivateCommissionRules(ctx context.Context, operationTypeID string) (int, error) {
	result, err := q.ext.ExecContext(ctx, `
		UPDATE commission_rules SET active = FALSE WHERE operation_type_id = $1 AND active
	`, operationTypeID)
	if err != nil {
		return 0, mapErr(err)
	}
	n, _ := result.RowsAffected()
	return int(n), nil
}

func (q *queries) GetActiveCommissionRule(ctx context.Context, operationTypeID string) (commission.Rule, error) {
	var rule commission.Rule
	err := q.get(ctx, &rule, `
		SELECT `+ruleColumns+` FROM commission_rules WHERE operation_type_id = $1 AND active
	`, operationTypeID)
	return rule, err
}

func (q *queries) ListCommissionRules(ctx context.Context, operationTypeID string) ([]commission.Rule, error) {
	var rules []commission.Rule
	err := q.selectAll(ctx, &rules, `
		SELECT `+ruleColumns+` FROM commission_rules
		WHERE ($1::text = '' OR operation_type_id = $1)
		ORDER BY created_at
	`, operationTypeID)
	return rules, err
}
