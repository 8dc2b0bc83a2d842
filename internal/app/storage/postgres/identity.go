package postgres

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/R3E-Network/agentbank/internal/app/domain/identity"
	"github.com/R3E-Network/agentbank/internal/app/storage"
)

const userColumns = `id, identifier, display_name, role, COALESCE(agency_id, '') AS agency_id,
	balance, active, created_at, updated_at`

const agencyColumns = `id, code, name, city, COALESCE(chief_id, '') AS chief_id, active, created_at, updated_at`

func (q *queries) CreateUser(ctx context.Context, user identity.User) (identity.User, error) {
	user.ID = ensureID(user.ID)
	_, err := q.ext.ExecContext(ctx, `
		INSERT INTO users (id, identifier, display_name, role, agency_id, balance, active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, user.ID, user.Identifier, user.DisplayName, user.Role, nullIfEmpty(user.AgencyID),
		user.Balance, user.Active, user.CreatedAt, user.UpdatedAt)
	if err != nil {
		return identity.User{}, mapErr(err)
	}
	return user, nil
}

func (q *queries) GetUser(ctx context.Context, id string) (identity.User, error) {
	var user identity.User
	err := q.get(ctx, &user, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	return user, err
}

func (q *queries) GetUserByIdentifier(ctx context.Context, identifier string) (identity.User, error) {
	var user identity.User
	err := q.get(ctx, &user, `SELECT `+userColumns+` FROM users WHERE identifier = $1`, identifier)
	return user, err
}

func (q *queries) LockUser(ctx context.Context, id string) (identity.User, error) {
	var user identity.User
	err := q.get(ctx, &user, `SELECT `+userColumns+` FROM users WHERE id = $1 FOR UPDATE`, id)
	return user, err
}

func (q *queries) ListUsers(ctx context.Context, filter storage.UserFilter) ([]identity.User, error) {
	var users []identity.User
	err := q.selectAll(ctx, &users, `
		SELECT `+userColumns+`
		FROM users
		WHERE ($1::text = '' OR role = $1)
		  AND ($2::text = '' OR agency_id = $2)
		  AND (NOT $3 OR active)
		ORDER BY created_at, identifier
	`, string(filter.Role), filter.AgencyID, filter.ActiveOnly)
	return users, err
}

func (q *queries) UpdateUserBalance(ctx context.Context, id string, balance decimal.Decimal, at time.Time) error {
	return q.execOne(ctx, `UPDATE users SET balance = $2, updated_at = $3 WHERE id = $1`, id, balance, at)
}

func (q *queries) SetUserActive(ctx context.Context, id string, active bool, at time.Time) (identity.User, error) {
	var user identity.User
	err := q.get(ctx, &user, `
		UPDATE users SET active = $2, updated_at = $3
		WHERE id = $1
		RETURNING `+userColumns, id, active, at)
	return user, err
}

func (q *queries) CountUsersByRole(ctx context.Context, role identity.Role) (int, error) {
	var n int
	err := q.get(ctx, &n, `SELECT COUNT(*) FROM users WHERE role = $1`, role)
	return n, err
}

func (q *queries) CreateCredential(ctx context.Context, cred identity.Credential) error {
	_, err := q.ext.ExecContext(ctx, `
		INSERT INTO credentials (user_id, password_hash, created_at) VALUES ($1, $2, $3)
	`, cred.UserID, cred.PasswordHash, cred.CreatedAt)
	return mapErr(err)
}

func (q *queries) GetCredential(ctx context.Context, userID string) (identity.Credential, error) {
	var cred identity.Credential
	err := q.get(ctx, &cred, `SELECT user_id, password_hash, created_at FROM credentials WHERE user_id = $1`, userID)
	return cred, err
}

func (q *queries) CreateRoleBinding(ctx context.Context, binding identity.RoleBinding) error {
	_, err := q.ext.ExecContext(ctx, `
		INSERT INTO role_bindings (user_id, role, granted_by, created_at) VALUES ($1, $2, $3, $4)
	`, binding.UserID, binding.Role, nullIfEmpty(binding.GrantedBy), binding.CreatedAt)
	return mapErr(err)
}

func (q *queries) ListRoleBindings(ctx context.Context, userID string) ([]identity.RoleBinding, error) {
	var bindings []identity.RoleBinding
	err := q.selectAll(ctx, &bindings, `
		SELECT user_id, role, COALESCE(granted_by, '') AS granted_by, created_at
		FROM role_bindings WHERE user_id = $1 ORDER BY id
	`, userID)
	return bindings, err
}

// --- agencies ---------------------------------------------------------------

func (q *queries) CreateAgency(ctx context.Context, agency identity.Agency) (identity.Agency, error) {
	agency.ID = ensureID(agency.ID)
	_, err := q.ext.ExecContext(ctx, `
		INSERT INTO agencies (id, code, name, city, chief_id, active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, agency.ID, agency.Code, agency.Name, agency.City, nullIfEmpty(agency.ChiefID),
		agency.Active, agency.CreatedAt, agency.UpdatedAt)
	if err != nil {
		return identity.Agency{}, mapErr(err)
	}
	return agency, nil
}

func (q *queries) GetAgency(ctx context.Context, id string) (identity.Agency, error) {
	var agency identity.Agency
	err := q.get(ctx, &agency, `SELECT `+agencyColumns+` FROM agencies WHERE id = $1`, id)
	return agency, err
}

func (q *queries) LockAgency(ctx context.Context, id string) (identity.Agency, error) {
	var agency identity.Agency
	err := q.get(ctx, &agency, `SELECT `+agencyColumns+` FROM agencies WHERE id = $1 FOR UPDATE`, id)
	return agency, err
}

func (q *queries) GetAgencyByCode(ctx context.Context, code string) (identity.Agency, error) {
	var agency identity.Agency
	err := q.get(ctx, &agency, `SELECT `+agencyColumns+` FROM agencies WHERE code = $1`, code)
	return agency, err
}

func (q *queries) ListAgencies(ctx context.Context) ([]identity.Agency, error) {
	var agencies []identity.Agency
	err := q.selectAll(ctx, &agencies, `SELECT `+agencyColumns+` FROM agencies ORDER BY code`)
	return agencies, err
}

func (q *queries) SetAgencyChief(ctx context.Context, id, chiefID string, at time.Time) error {
	return q.execOne(ctx, `UPDATE agencies SET chief_id = $2, updated_at = $3 WHERE id = $1`,
		id, nullIfEmpty(chiefID), at)
}
