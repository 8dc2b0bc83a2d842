package actors

import (
	"context"
	"testing"

	"github.com/R3E-Network/agentbank/internal/app/domain/identity"
	"github.com/R3E-Network/agentbank/internal/app/storage/memory"
	apperrors "github.com/R3E-Network/agentbank/internal/errors"
)

func TestActive(t *testing.T) {
	store := memory.New()
	ctx := context.Background()
	admin, _ := store.CreateUser(ctx, identity.User{Identifier: "admin.monel", Role: identity.RoleAdminGeneral, Active: true})
	agent, _ := store.CreateUser(ctx, identity.User{Identifier: "dkr01.fatou", Role: identity.RoleAgent, AgencyID: "a1", Active: false})

	if _, err := Active(ctx, store, ""); !apperrors.IsKind(err, apperrors.KindUnauthenticated) {
		t.Fatalf("expected unauthenticated for empty id, got %v", err)
	}
	if _, err := Active(ctx, store, "ghost"); !apperrors.IsKind(err, apperrors.KindUnauthenticated) {
		t.Fatalf("expected unauthenticated for unknown id, got %v", err)
	}
	if _, err := Active(ctx, store, agent.ID); !apperrors.IsKind(err, apperrors.KindAuthorization) {
		t.Fatalf("expected authorization error for inactive user, got %v", err)
	}
	if _, err := Administrator(ctx, store, admin.ID); err != nil {
		t.Fatalf("administrator: %v", err)
	}
}
