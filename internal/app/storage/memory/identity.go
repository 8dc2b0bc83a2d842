package memory

import (
	"context"
	"slices"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/R3E-Network/agentbank/internal/app/domain/identity"
	"github.com/R3E-Network/agentbank/internal/app/storage"
)

func (t *tx) CreateUser(_ context.Context, user identity.User) (identity.User, error) {
	defer t.lock()()
	st := t.st()

	if user.ID == "" {
		user.ID = newID()
	} else if _, exists := st.users[user.ID]; exists {
		return identity.User{}, storage.ErrDuplicate
	}
	if _, taken := st.userByIdent[user.Identifier]; taken {
		return identity.User{}, storage.ErrDuplicate
	}
	st.users[user.ID] = user
	st.userByIdent[user.Identifier] = user.ID
	return user, nil
}

func (t *tx) GetUser(_ context.Context, id string) (identity.User, error) {
	defer t.lock()()
	user, ok := t.st().users[id]
	if !ok {
		return identity.User{}, storage.ErrNotFound
	}
	return user, nil
}

func (t *tx) GetUserByIdentifier(_ context.Context, identifier string) (identity.User, error) {
	defer t.lock()()
	st := t.st()
	id, ok := st.userByIdent[identifier]
	if !ok {
		return identity.User{}, storage.ErrNotFound
	}
	return st.users[id], nil
}

func (t *tx) LockUser(ctx context.Context, id string) (identity.User, error) {
	return t.GetUser(ctx, id)
}

func (t *tx) ListUsers(_ context.Context, filter storage.UserFilter) ([]identity.User, error) {
	defer t.lock()()
	var out []identity.User
	for _, u := range t.st().users {
		if filter.Role != "" && u.Role != filter.Role {
			continue
		}
		if filter.AgencyID != "" && u.AgencyID != filter.AgencyID {
			continue
		}
		if filter.ActiveOnly && !u.Active {
			continue
		}
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].Identifier < out[j].Identifier
	})
	return out, nil
}

func (t *tx) UpdateUserBalance(_ context.Context, id string, balance decimal.Decimal, at time.Time) error {
	defer t.lock()()
	st := t.st()
	user, ok := st.users[id]
	if !ok {
		return storage.ErrNotFound
	}
	user.Balance = balance
	user.UpdatedAt = at
	st.users[id] = user
	return nil
}

func (t *tx) SetUserActive(_ context.Context, id string, active bool, at time.Time) (identity.User, error) {
	defer t.lock()()
	st := t.st()
	user, ok := st.users[id]
	if !ok {
		return identity.User{}, storage.ErrNotFound
	}
	user.Active = active
	user.UpdatedAt = at
	st.users[id] = user
	return user, nil
}

func (t *tx) CountUsersByRole(_ context.Context, role identity.Role) (int, error) {
	defer t.lock()()
	n := 0
	for _, u := range t.st().users {
		if u.Role == role {
			n++
		}
	}
	return n, nil
}

func (t *tx) CreateCredential(_ context.Context, cred identity.Credential) error {
	defer t.lock()()
	st := t.st()
	if _, ok := st.users[cred.UserID]; !ok {
		return storage.ErrNotFound
	}
	if _, exists := st.credentials[cred.UserID]; exists {
		return storage.ErrDuplicate
	}
	st.credentials[cred.UserID] = cred
	return nil
}

func (t *tx) GetCredential(_ context.Context, userID string) (identity.Credential, error) {
	defer t.lock()()
	cred, ok := t.st().credentials[userID]
	if !ok {
		return identity.Credential{}, storage.ErrNotFound
	}
	return cred, nil
}

func (t *tx) CreateRoleBinding(_ context.Context, binding identity.RoleBinding) error {
	defer t.lock()()
	st := t.st()
	if _, ok := st.users[binding.UserID]; !ok {
		return storage.ErrNotFound
	}
	st.bindings[binding.UserID] = append(st.bindings[binding.UserID], binding)
	return nil
}

func (t *tx) ListRoleBindings(_ context.Context, userID string) ([]identity.RoleBinding, error) {
	defer t.lock()()
	return slices.Clone(t.st().bindings[userID]), nil
}

// --- agencies ---------------------------------------------------------------

func (t *tx) CreateAgency(_ context.Context, agency identity.Agency) (identity.Agency, error) {
	defer t.lock()()
	st := t.st()
	if agency.ID == "" {
		agency.ID = newID()
	} else if _, exists := st.agencies[agency.ID]; exists {
		return identity.Agency{}, storage.ErrDuplicate
	}
	if _, taken := st.agencyByCode[agency.Code]; taken {
		return identity.Agency{}, storage.ErrDuplicate
	}
	st.agencies[agency.ID] = agency
	st.agencyByCode[agency.Code] = agency.ID
	return agency, nil
}

func (t *tx) GetAgency(_ context.Context, id string) (identity.Agency, error) {
	defer t.lock()()
	agency, ok := t.st().agencies[id]
	if !ok {
		return identity.Agency{}, storage.ErrNotFound
	}
	return agency, nil
}

func (t *tx) LockAgency(ctx context.Context, id string) (identity.Agency, error) {
	return t.GetAgency(ctx, id)
}

func (t *tx) GetAgencyByCode(_ context.Context, code string) (identity.Agency, error) {
	defer t.lock()()
	st := t.st()
	id, ok := st.agencyByCode[code]
	if !ok {
		return identity.Agency{}, storage.ErrNotFound
	}
	return st.agencies[id], nil
}

func (t *tx) ListAgencies(_ context.Context) ([]identity.Agency, error) {
	defer t.lock()()
	out := make([]identity.Agency, 0, len(t.st().agencies))
	for _, a := range t.st().agencies {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

func (t *tx) SetAgencyChief(_ context.Context, id, chiefID string, at time.Time) error {
	defer t.lock()()
	st := t.st()
	agency, ok := st.agencies[id]
	if !ok {
		return storage.ErrNotFound
	}
	agency.ChiefID = chiefID
	agency.UpdatedAt = at
	st.agencies[id] = agency
	return nil
}
