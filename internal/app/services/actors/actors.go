// Package actors resolves the caller identity supplied with every request.
package actors

import (
	"context"
	"errors"

	"github.com/R3E-Network/agentbank/internal/app/domain/identity"
	"github.com/R3E-Network/agentbank/internal/app/storage"
	apperrors "github.com/R3E-Network/agentbank/internal/errors"
)

// Active loads the user id and requires it to be an active account.
func Active(ctx context.Context, users storage.UserStore, id string) (identity.User, error) {
	if id == "" {
		return identity.User{}, apperrors.Unauthorized("actor identity is required")
	}
	user, err := users.GetUser(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return identity.User{}, apperrors.Unauthorized("unknown actor " + id)
	}
	if err != nil {
		return identity.User{}, storage.Classify(err, "user", id)
	}
	if !user.Active {
		return identity.User{}, apperrors.Forbidden("user %s is inactive", user.Identifier)
	}
	return user, nil
}

// Administrator loads an active admin_general or sous_admin.
func Administrator(ctx context.Context, users storage.UserStore, id string) (identity.User, error) {
	user, err := Active(ctx, users, id)
	if err != nil {
		return identity.User{}, err
	}
	if !user.Role.IsAdministrator() {
		return identity.User{}, apperrors.Forbidden("role %s is not an administrator", user.Role)
	}
	return user, nil
}

// CanView reports whether viewer may read records owned by owner.
func CanView(viewer, owner identity.User) bool {
	return viewer.ID == owner.ID || viewer.Supervises(owner)
}
