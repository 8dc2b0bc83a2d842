// Package provisioning creates users and agencies under the role hierarchy.
package provisioning

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"github.com/R3E-Network/agentbank/internal/app/domain/identity"
	"github.com/R3E-Network/agentbank/internal/app/services/actors"
	"github.com/R3E-Network/agentbank/internal/app/storage"
	apperrors "github.com/R3E-Network/agentbank/internal/errors"
	"github.com/R3E-Network/agentbank/pkg/logger"
)

const minPasswordLength = 8

var agencyCodePattern = regexp.MustCompile(`^[a-z0-9]+$`)

// Service provisions identities.
type Service struct {
	store      storage.Store
	log        *logger.Logger
	clock      func() time.Time
	bcryptCost int
}

// New constructs a provisioning service.
func New(store storage.Store, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("provisioning")
	}
	return &Service{
		store:      store,
		log:        log,
		clock:      func() time.Time { return time.Now().UTC() },
		bcryptCost: bcrypt.DefaultCost,
	}
}

// WithClock overrides the time source.
func (s *Service) WithClock(clock func() time.Time) *Service {
	s.clock = clock
	return s
}

// WithBcryptCost overrides the hashing cost; tests use bcrypt.MinCost.
func (s *Service) WithBcryptCost(cost int) *Service {
	s.bcryptCost = cost
	return s
}

// BootstrapRequest describes the first admin_general.
type BootstrapRequest struct {
	Identifier  string
	DisplayName string
	Password    string
}

// Bootstrap creates the initial admin_general. It fails once any
// admin_general exists.
func (s *Service) Bootstrap(ctx context.Context, req BootstrapRequest) (identity.User, error) {
	spec := identity.Spec{
		Role:        identity.RoleAdminGeneral,
		Identifier:  strings.TrimSpace(req.Identifier),
		DisplayName: req.DisplayName,
		Password:    req.Password,
	}
	if err := validateSpec(&spec); err != nil {
		return identity.User{}, err
	}
	hash, err := s.hash(spec.Password)
	if err != nil {
		return identity.User{}, err
	}

	var created identity.User
	err = s.store.Atomic(ctx, func(tx storage.Tx) error {
		n, err := tx.CountUsersByRole(ctx, identity.RoleAdminGeneral)
		if err != nil {
			return storage.Classify(err, "user", string(identity.RoleAdminGeneral))
		}
		if n > 0 {
			return apperrors.Conflict("an admin_general already exists")
		}
		created, err = s.insert(ctx, tx, spec, hash, "")
		return err
	})
	if err != nil {
		s.log.WithError(err).Warn("bootstrap admin rejected")
		return identity.User{}, err
	}
	s.log.WithField("user_id", created.ID).WithField("identifier", created.Identifier).Info("bootstrap admin created")
	return created, nil
}

// Provision creates a user on behalf of creatorID. The credential, profile
// and role binding are written in one transaction.
func (s *Service) Provision(ctx context.Context, creatorID string, spec identity.Spec) (identity.User, error) {
	spec.Identifier = strings.TrimSpace(spec.Identifier)
	spec.AgencyID = strings.TrimSpace(spec.AgencyID)
	if err := validateSpec(&spec); err != nil {
		return identity.User{}, err
	}
	hash, err := s.hash(spec.Password)
	if err != nil {
		return identity.User{}, err
	}

	var created identity.User
	err = s.store.Atomic(ctx, func(tx storage.Tx) error {
		creator, err := actors.Active(ctx, tx, creatorID)
		if err != nil {
			return err
		}
		if !creator.Role.CanCreate(spec.Role) {
			return apperrors.Forbidden("role %s may not create %s", creator.Role, spec.Role)
		}

		if spec.Role.RequiresAgency() {
			if creator.Role == identity.RoleChefAgence {
				if spec.AgencyID == "" {
					spec.AgencyID = creator.AgencyID
				}
				if spec.AgencyID != creator.AgencyID {
					return apperrors.Forbidden("chef_agence may only create users in their own agency")
				}
			}
			if spec.AgencyID == "" {
				return apperrors.Validation("agency_id is required for role %s", spec.Role)
			}
			agency, err := tx.LockAgency(ctx, spec.AgencyID)
			if err != nil {
				return storage.Classify(err, "agency", spec.AgencyID)
			}
			if !agency.Active {
				return apperrors.Validation("agency %s is inactive", agency.Code)
			}
			if err := s.checkAgencyFit(ctx, tx, spec, agency); err != nil {
				return err
			}
		} else if spec.AgencyID != "" {
			return apperrors.Validation("role %s must not belong to an agency", spec.Role)
		}

		created, err = s.insert(ctx, tx, spec, hash, creator.ID)
		if err != nil {
			return err
		}
		if spec.Role == identity.RoleChefAgence {
			if err := tx.SetAgencyChief(ctx, spec.AgencyID, created.ID, created.CreatedAt); err != nil {
				return storage.Classify(err, "agency", spec.AgencyID)
			}
		}
		return nil
	})
	if err != nil {
		s.log.WithContext(ctx).WithError(err).
			WithField("role", spec.Role).
			WithField("identifier", spec.Identifier).
			Warn("provisioning rejected")
		return identity.User{}, err
	}

	s.log.WithContext(ctx).WithFields(map[string]any{
		"user_id":    created.ID,
		"role":       created.Role,
		"agency_id":  created.AgencyID,
		"created_by": creatorID,
	}).Info("user provisioned")
	return created, nil
}

func (s *Service) checkAgencyFit(ctx context.Context, tx storage.Tx, spec identity.Spec, agency identity.Agency) error {
	switch spec.Role {
	case identity.RoleAgent:
		if identity.IdentifierPrefix(spec.Identifier) != agency.Code {
			return apperrors.Validation("agent identifier %s must start with agency code %s", spec.Identifier, agency.Code)
		}
	case identity.RoleChefAgence:
		if agency.ChiefID == "" {
			return nil
		}
		chief, err := tx.GetUser(ctx, agency.ChiefID)
		if err != nil && !errors.Is(err, storage.ErrNotFound) {
			return storage.Classify(err, "user", agency.ChiefID)
		}
		if err == nil && chief.Active {
			return apperrors.Conflict("agency %s already has an active chief", agency.Code)
		}
	}
	return nil
}

func (s *Service) insert(ctx context.Context, tx storage.Tx, spec identity.Spec, hash, grantedBy string) (identity.User, error) {
	if _, err := tx.GetUserByIdentifier(ctx, spec.Identifier); err == nil {
		return identity.User{}, apperrors.Conflict("identifier %s is already taken", spec.Identifier)
	} else if !errors.Is(err, storage.ErrNotFound) {
		return identity.User{}, storage.Classify(err, "user", spec.Identifier)
	}

	now := s.clock()
	user, err := tx.CreateUser(ctx, identity.User{
		Identifier:  spec.Identifier,
		DisplayName: spec.DisplayName,
		Role:        spec.Role,
		AgencyID:    spec.AgencyID,
		Balance:     decimal.Zero,
		Active:      true,
		CreatedAt:   now,
		UpdatedAt:   now,
	})
	if err != nil {
		return identity.User{}, storage.Classify(err, "user", spec.Identifier)
	}
	if err := tx.CreateCredential(ctx, identity.Credential{UserID: user.ID, PasswordHash: hash, CreatedAt: now}); err != nil {
		return identity.User{}, storage.Classify(err, "credential", user.ID)
	}
	if err := tx.CreateRoleBinding(ctx, identity.RoleBinding{UserID: user.ID, Role: user.Role, GrantedBy: grantedBy, CreatedAt: now}); err != nil {
		return identity.User{}, storage.Classify(err, "role binding", user.ID)
	}
	return user, nil
}

func validateSpec(spec *identity.Spec) error {
	if !spec.Role.Valid() {
		return apperrors.Validation("unknown role %q", spec.Role)
	}
	if !spec.Role.ValidIdentifier(spec.Identifier) {
		return apperrors.Validation("identifier %q is not valid for role %s", spec.Identifier, spec.Role)
	}
	if len(spec.Password) < minPasswordLength {
		return apperrors.Validation("password must be at least %d characters", minPasswordLength)
	}
	spec.DisplayName = strings.TrimSpace(spec.DisplayName)
	if spec.DisplayName == "" {
		spec.DisplayName = spec.Identifier
	}
	return nil
}

func (s *Service) hash(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.bcryptCost)
	if err != nil {
		return "", apperrors.Internal("hash password", err)
	}
	return string(hash), nil
}

// Authenticate verifies a login. All failures are reported alike.
func (s *Service) Authenticate(ctx context.Context, identifier, password string) (identity.User, error) {
	invalid := apperrors.Unauthorized("invalid credentials")
	user, err := s.store.GetUserByIdentifier(ctx, strings.TrimSpace(identifier))
	if errors.Is(err, storage.ErrNotFound) {
		return identity.User{}, invalid
	}
	if err != nil {
		return identity.User{}, storage.Classify(err, "user", identifier)
	}
	cred, err := s.store.GetCredential(ctx, user.ID)
	if err != nil {
		return identity.User{}, invalid
	}
	if bcrypt.CompareHashAndPassword([]byte(cred.PasswordHash), []byte(password)) != nil {
		s.log.WithField("user_id", user.ID).Warn("login failed")
		return identity.User{}, invalid
	}
	if !user.Active {
		return identity.User{}, invalid
	}
	return user, nil
}

// SetActive activates or deactivates a user. Users are never deleted.
func (s *Service) SetActive(ctx context.Context, actorID, userID string, active bool) (identity.User, error) {
	var updated identity.User
	err := s.store.Atomic(ctx, func(tx storage.Tx) error {
		admin, err := actors.Administrator(ctx, tx, actorID)
		if err != nil {
			return err
		}
		if admin.ID == userID && !active {
			return apperrors.Validation("administrators cannot deactivate themselves")
		}
		target, err := tx.LockUser(ctx, userID)
		if err != nil {
			return storage.Classify(err, "user", userID)
		}
		if target.Role == identity.RoleAdminGeneral && admin.Role != identity.RoleAdminGeneral {
			return apperrors.Forbidden("only admin_general may change an admin_general")
		}
		updated, err = tx.SetUserActive(ctx, userID, active, s.clock())
		return storage.Classify(err, "user", userID)
	})
	if err != nil {
		return identity.User{}, err
	}
	s.log.WithContext(ctx).WithField("user_id", userID).WithField("active", active).Info("user activation changed")
	return updated, nil
}

// AgencySpec describes an agency to create.
type AgencySpec struct {
	Code string
	Name string
	City string
}

// CreateAgency registers an agency. Only administrators may do so.
func (s *Service) CreateAgency(ctx context.Context, actorID string, spec AgencySpec) (identity.Agency, error) {
	spec.Code = strings.ToLower(strings.TrimSpace(spec.Code))
	spec.Name = strings.TrimSpace(spec.Name)
	if !agencyCodePattern.MatchString(spec.Code) {
		return identity.Agency{}, apperrors.Validation("agency code %q must be lowercase letters and digits", spec.Code)
	}
	if spec.Name == "" {
		return identity.Agency{}, apperrors.Validation("agency name is required")
	}

	var created identity.Agency
	err := s.store.Atomic(ctx, func(tx storage.Tx) error {
		if _, err := actors.Administrator(ctx, tx, actorID); err != nil {
			return err
		}
		now := s.clock()
		var err error
		created, err = tx.CreateAgency(ctx, identity.Agency{
			Code:      spec.Code,
			Name:      spec.Name,
			City:      strings.ToLower(strings.TrimSpace(spec.City)),
			Active:    true,
			CreatedAt: now,
			UpdatedAt: now,
		})
		return storage.Classify(err, "agency", spec.Code)
	})
	if err != nil {
		return identity.Agency{}, err
	}
	s.log.WithField("agency_id", created.ID).WithField("code", created.Code).Info("agency created")
	return created, nil
}

// Get returns a user.
func (s *Service) Get(ctx context.Context, id string) (identity.User, error) {
	user, err := s.store.GetUser(ctx, id)
	return user, storage.Classify(err, "user", id)
}

// List returns users visible to the viewer. Chiefs see their agency only.
func (s *Service) List(ctx context.Context, viewerID string, filter storage.UserFilter) ([]identity.User, error) {
	viewer, err := actors.Active(ctx, s.store, viewerID)
	if err != nil {
		return nil, err
	}
	switch {
	case viewer.Role.IsAdministrator():
	case viewer.Role == identity.RoleChefAgence:
		filter.AgencyID = viewer.AgencyID
	default:
		return nil, apperrors.Forbidden("role %s may not list users", viewer.Role)
	}
	users, err := s.store.ListUsers(ctx, filter)
	return users, storage.Classify(err, "user", "list")
}

// Agency returns an agency.
func (s *Service) Agency(ctx context.Context, id string) (identity.Agency, error) {
	agency, err := s.store.GetAgency(ctx, id)
	return agency, storage.Classify(err, "agency", id)
}

// Agencies lists every agency.
func (s *Service) Agencies(ctx context.Context) ([]identity.Agency, error) {
	agencies, err := s.store.ListAgencies(ctx)
	return agencies, storage.Classify(err, "agency", "list")
}
