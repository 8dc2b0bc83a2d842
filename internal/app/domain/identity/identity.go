// Package identity models users, agencies and the role hierarchy.
package identity

import (
	"time"

	"github.com/shopspring/decimal"
)

// User is a platform participant. Balance is only mutated through the ledger.
type User struct {
	ID          string          `json:"id" db:"id"`
	Identifier  string          `json:"identifier" db:"identifier"`
	DisplayName string          `json:"display_name" db:"display_name"`
	Role        Role            `json:"role" db:"role"`
	AgencyID    string          `json:"agency_id,omitempty" db:"agency_id"`
	Balance     decimal.Decimal `json:"balance" db:"balance"`
	Active      bool            `json:"active" db:"active"`
	CreatedAt   time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at" db:"updated_at"`
}

// Supervises reports whether u oversees other. Administrators supervise
// everyone; a chief supervises the agents of their agency.
func (u User) Supervises(other User) bool {
	if u.Role.IsAdministrator() {
		return true
	}
	return u.Role == RoleChefAgence && u.AgencyID != "" && u.AgencyID == other.AgencyID && other.Role == RoleAgent
}

// Credential is the password hash bound to a user.
type Credential struct {
	UserID       string    `db:"user_id"`
	PasswordHash string    `db:"password_hash"`
	CreatedAt    time.Time `db:"created_at"`
}

// RoleBinding records who granted a role. It is an audit record; the
// user's Role field is authoritative.
type RoleBinding struct {
	UserID    string    `json:"user_id" db:"user_id"`
	Role      Role      `json:"role" db:"role"`
	GrantedBy string    `json:"granted_by,omitempty" db:"granted_by"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// Agency is a local branch. Code is the identifier prefix of its agents.
type Agency struct {
	ID        string    `json:"id" db:"id"`
	Code      string    `json:"code" db:"code"`
	Name      string    `json:"name" db:"name"`
	City      string    `json:"city" db:"city"`
	ChiefID   string    `json:"chief_id,omitempty" db:"chief_id"`
	Active    bool      `json:"active" db:"active"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// Spec describes a user to provision.
type Spec struct {
	Role        Role
	Identifier  string
	DisplayName string
	Password    string
	AgencyID    string
}
