package provisioning

import (
	"context"
	"testing"

	"golang.org/x/crypto/bcrypt"

	"github.com/R3E-Network/agentbank/internal/app/domain/identity"
	"github.com/R3E-Network/agentbank/internal/app/storage"
	"github.com/R3E-Network/agentbank/internal/app/storage/memory"
	apperrors "github.com/R3E-Network/agentbank/internal/errors"
)

const password = "s3cret-pass"

func setup(t *testing.T) (*Service, *memory.Store, identity.User) {
	t.Helper()
	store := memory.New()
	svc := New(store, nil).WithBcryptCost(bcrypt.MinCost)
	admin, err := svc.Bootstrap(context.Background(), BootstrapRequest{Identifier: "admin.monel", DisplayName: "Monel", Password: password})
	if err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	return svc, store, admin
}

func TestBootstrapOnlyOnce(t *testing.T) {
	svc, store, admin := setup(t)
	if admin.Role != identity.RoleAdminGeneral || !admin.Active || !admin.Balance.IsZero() {
		t.Fatalf("unexpected bootstrap admin %+v", admin)
	}
	_, err := svc.Bootstrap(context.Background(), BootstrapRequest{Identifier: "admin.other", Password: password})
	if !apperrors.IsKind(err, apperrors.KindConflict) {
		t.Fatalf("expected conflict on second bootstrap, got %v", err)
	}
	if n, _ := store.CountUsersByRole(context.Background(), identity.RoleAdminGeneral); n != 1 {
		t.Fatalf("expected one admin_general, got %d", n)
	}
}

func TestProvisionHierarchy(t *testing.T) {
	svc, store, admin := setup(t)
	ctx := context.Background()

	agency, err := svc.CreateAgency(ctx, admin.ID, AgencySpec{Code: "dkr01", Name: "Dakar Plateau", City: "Dakar"})
	if err != nil {
		t.Fatalf("create agency: %v", err)
	}

	chief, err := svc.Provision(ctx, admin.ID, identity.Spec{Role: identity.RoleChefAgence, Identifier: "chef.dakar.diallo", Password: password, AgencyID: agency.ID})
	if err != nil {
		t.Fatalf("provision chief: %v", err)
	}
	stored, _ := store.GetAgency(ctx, agency.ID)
	if stored.ChiefID != chief.ID {
		t.Fatalf("agency chief not assigned: %+v", stored)
	}

	agent, err := svc.Provision(ctx, chief.ID, identity.Spec{Role: identity.RoleAgent, Identifier: "dkr01.fatou", Password: password})
	if err != nil {
		t.Fatalf("provision agent: %v", err)
	}
	if agent.AgencyID != agency.ID {
		t.Fatalf("agent should default to chief agency, got %q", agent.AgencyID)
	}

	bindings, _ := store.ListRoleBindings(ctx, agent.ID)
	if len(bindings) != 1 || bindings[0].Role != identity.RoleAgent || bindings[0].GrantedBy != chief.ID {
		t.Fatalf("unexpected role bindings %+v", bindings)
	}
	if _, err := store.GetCredential(ctx, agent.ID); err != nil {
		t.Fatalf("credential missing: %v", err)
	}

	cases := []struct {
		name    string
		creator string
		spec    identity.Spec
		kind    apperrors.Kind
	}{
		{"bad admin identifier", admin.ID, identity.Spec{Role: identity.RoleSousAdmin, Identifier: "admin.123", Password: password}, apperrors.KindValidation},
		{"bad chief identifier", admin.ID, identity.Spec{Role: identity.RoleChefAgence, Identifier: "chef.dakar", Password: password, AgencyID: agency.ID}, apperrors.KindValidation},
		{"short password", admin.ID, identity.Spec{Role: identity.RoleSousAdmin, Identifier: "sadmin.awa", Password: "short"}, apperrors.KindValidation},
		{"agent cannot create agent", agent.ID, identity.Spec{Role: identity.RoleAgent, Identifier: "dkr01.moussa", Password: password}, apperrors.KindAuthorization},
		{"chief cannot create chief", chief.ID, identity.Spec{Role: identity.RoleChefAgence, Identifier: "chef.dakar.ba", Password: password, AgencyID: agency.ID}, apperrors.KindAuthorization},
		{"admin cannot create peer", admin.ID, identity.Spec{Role: identity.RoleAdminGeneral, Identifier: "admin.peer", Password: password}, apperrors.KindAuthorization},
		{"admin cannot create agent", admin.ID, identity.Spec{Role: identity.RoleAgent, Identifier: "dkr01.awa", Password: password, AgencyID: agency.ID}, apperrors.KindAuthorization},
		{"agent prefix mismatch", chief.ID, identity.Spec{Role: identity.RoleAgent, Identifier: "thies.awa", Password: password}, apperrors.KindValidation},
		{"duplicate identifier", chief.ID, identity.Spec{Role: identity.RoleAgent, Identifier: "dkr01.fatou", Password: password}, apperrors.KindConflict},
		{"second active chief", admin.ID, identity.Spec{Role: identity.RoleChefAgence, Identifier: "chef.dakar.ndiaye", Password: password, AgencyID: agency.ID}, apperrors.KindConflict},
		{"sous admin with agency", admin.ID, identity.Spec{Role: identity.RoleSousAdmin, Identifier: "sadmin.awa", Password: password, AgencyID: agency.ID}, apperrors.KindValidation},
		{"chief without agency", admin.ID, identity.Spec{Role: identity.RoleChefAgence, Identifier: "chef.thies.sow", Password: password}, apperrors.KindValidation},
		{"unknown agency", admin.ID, identity.Spec{Role: identity.RoleChefAgence, Identifier: "chef.thies.sow", Password: password, AgencyID: "nope"}, apperrors.KindNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			before, _ := store.ListUsers(ctx, storage.UserFilter{})
			_, err := svc.Provision(ctx, tc.creator, tc.spec)
			if !apperrors.IsKind(err, tc.kind) {
				t.Fatalf("expected %s, got %v", tc.kind, err)
			}
			after, _ := store.ListUsers(ctx, storage.UserFilter{})
			if len(after) != len(before) {
				t.Fatalf("failed provisioning left %d users behind", len(after)-len(before))
			}
		})
	}
}

func TestChiefRestrictedToOwnAgency(t *testing.T) {
	svc, _, admin := setup(t)
	ctx := context.Background()
	dakar, _ := svc.CreateAgency(ctx, admin.ID, AgencySpec{Code: "dkr01", Name: "Dakar"})
	thies, _ := svc.CreateAgency(ctx, admin.ID, AgencySpec{Code: "ths01", Name: "Thies"})
	chief, err := svc.Provision(ctx, admin.ID, identity.Spec{Role: identity.RoleChefAgence, Identifier: "chef.dakar.diallo", Password: password, AgencyID: dakar.ID})
	if err != nil {
		t.Fatalf("provision chief: %v", err)
	}
	_, err = svc.Provision(ctx, chief.ID, identity.Spec{Role: identity.RoleAgent, Identifier: "ths01.awa", Password: password, AgencyID: thies.ID})
	if !apperrors.IsKind(err, apperrors.KindAuthorization) {
		t.Fatalf("expected authorization error, got %v", err)
	}
}

func TestReplacingInactiveChief(t *testing.T) {
	svc, store, admin := setup(t)
	ctx := context.Background()
	agency, _ := svc.CreateAgency(ctx, admin.ID, AgencySpec{Code: "dkr01", Name: "Dakar"})
	first, _ := svc.Provision(ctx, admin.ID, identity.Spec{Role: identity.RoleChefAgence, Identifier: "chef.dakar.diallo", Password: password, AgencyID: agency.ID})

	if _, err := svc.SetActive(ctx, admin.ID, first.ID, false); err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	second, err := svc.Provision(ctx, admin.ID, identity.Spec{Role: identity.RoleChefAgence, Identifier: "chef.dakar.ndiaye", Password: password, AgencyID: agency.ID})
	if err != nil {
		t.Fatalf("replacement chief: %v", err)
	}
	stored, _ := store.GetAgency(ctx, agency.ID)
	if stored.ChiefID != second.ID {
		t.Fatalf("chief not replaced")
	}
}

func TestAuthenticateAndSetActive(t *testing.T) {
	svc, _, admin := setup(t)
	ctx := context.Background()

	user, err := svc.Authenticate(ctx, "admin.monel", password)
	if err != nil || user.ID != admin.ID {
		t.Fatalf("authenticate: %v", err)
	}
	if _, err := svc.Authenticate(ctx, "admin.monel", "wrong-password"); !apperrors.IsKind(err, apperrors.KindUnauthenticated) {
		t.Fatalf("expected unauthenticated, got %v", err)
	}
	if _, err := svc.Authenticate(ctx, "admin.ghost", password); !apperrors.IsKind(err, apperrors.KindUnauthenticated) {
		t.Fatalf("expected unauthenticated for unknown user, got %v", err)
	}

	sub, err := svc.Provision(ctx, admin.ID, identity.Spec{Role: identity.RoleSousAdmin, Identifier: "sadmin.awa", Password: password})
	if err != nil {
		t.Fatalf("provision sous admin: %v", err)
	}
	if _, err := svc.SetActive(ctx, sub.ID, admin.ID, false); !apperrors.IsKind(err, apperrors.KindAuthorization) {
		t.Fatalf("sous_admin must not deactivate admin_general, got %v", err)
	}
	if _, err := svc.SetActive(ctx, admin.ID, admin.ID, false); !apperrors.IsKind(err, apperrors.KindValidation) {
		t.Fatalf("self deactivation should fail, got %v", err)
	}
	if _, err := svc.SetActive(ctx, admin.ID, sub.ID, false); err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	if _, err := svc.Authenticate(ctx, "sadmin.awa", password); !apperrors.IsKind(err, apperrors.KindUnauthenticated) {
		t.Fatalf("inactive user must not log in, got %v", err)
	}
	if _, err := svc.Provision(ctx, sub.ID, identity.Spec{Role: identity.RoleDeveloper, Identifier: "dev.ibra", Password: password}); !apperrors.IsKind(err, apperrors.KindAuthorization) {
		t.Fatalf("inactive creator should be rejected, got %v", err)
	}
}

func TestCreateAgencyValidation(t *testing.T) {
	svc, _, admin := setup(t)
	ctx := context.Background()
	if _, err := svc.CreateAgency(ctx, admin.ID, AgencySpec{Code: "DKR 01", Name: "Bad"}); !apperrors.IsKind(err, apperrors.KindValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if _, err := svc.CreateAgency(ctx, admin.ID, AgencySpec{Code: "dkr01", Name: "Dakar"}); err != nil {
		t.Fatalf("create agency: %v", err)
	}
	if _, err := svc.CreateAgency(ctx, admin.ID, AgencySpec{Code: "dkr01", Name: "Again"}); !apperrors.IsKind(err, apperrors.KindConflict) {
		t.Fatalf("expected conflict on duplicate code, got %v", err)
	}
}
