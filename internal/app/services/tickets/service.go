// Package tickets runs the recharge and support request workflow.
package tickets

import (
	"context"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/R3E-Network/agentbank/internal/app/domain/commission"
	"github.com/R3E-Network/agentbank/internal/app/domain/identity"
	"github.com/R3E-Network/agentbank/internal/app/domain/operation"
	"github.com/R3E-Network/agentbank/internal/app/domain/ticket"
	"github.com/R3E-Network/agentbank/internal/app/metrics"
	"github.com/R3E-Network/agentbank/internal/app/services/actors"
	"github.com/R3E-Network/agentbank/internal/app/services/refs"
	"github.com/R3E-Network/agentbank/internal/app/storage"
	apperrors "github.com/R3E-Network/agentbank/internal/errors"
	"github.com/R3E-Network/agentbank/pkg/logger"
)

// Recharger credits an agent inside an open transaction.
type Recharger interface {
	RechargeTx(ctx context.Context, tx storage.Tx, resolverID, agentID string, amount decimal.Decimal, note string) (operation.Operation, error)
}

// Service implements the ticket workflow.
type Service struct {
	store     storage.Store
	recharger Recharger
	policy    commission.Policy
	log       *logger.Logger
	clock     func() time.Time
}

// New constructs the ticket service. recharger may be nil, in which case
// resolutions cannot carry a credit.
func New(store storage.Store, recharger Recharger, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("tickets")
	}
	return &Service{
		store:     store,
		recharger: recharger,
		policy:    commission.DefaultPolicy(),
		log:       log,
		clock:     func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the time source.
func (s *Service) WithClock(clock func() time.Time) *Service {
	s.clock = clock
	return s
}

// WithPolicy sets the rounding policy used to check requested and credited
// amounts.
func (s *Service) WithPolicy(policy commission.Policy) *Service {
	s.policy = policy
	return s
}

func (s *Service) checkPrecision(amount decimal.Decimal) error {
	if !s.policy.Representable(amount) {
		return apperrors.Validation("amount %s has more than %d decimal places", amount, s.policy.Precision).
			WithDetails("precision", s.policy.Precision)
	}
	return nil
}

// OpenRequest describes a new ticket.
type OpenRequest struct {
	RequesterID string
	Type        ticket.Type
	Priority    string
	Amount      decimal.Decimal
	Title       string
	Description string
}

// Open files a ticket for an agent and routes it to the agency chief, or
// to an administrator when the agency has no active chief.
func (s *Service) Open(ctx context.Context, req OpenRequest) (ticket.Ticket, error) {
	if req.Type == "" {
		req.Type = ticket.TypeRecharge
	}
	if !req.Type.Valid() {
		return ticket.Ticket{}, apperrors.Validation("unknown ticket type %q", req.Type)
	}
	priority, err := ticket.ParsePriority(req.Priority)
	if err != nil {
		return ticket.Ticket{}, apperrors.Validation("%s", err.Error())
	}
	amount := req.Amount
	if req.Type == ticket.TypeRecharge {
		if !amount.IsPositive() {
			return ticket.Ticket{}, apperrors.Validation("requested amount must be positive")
		}
	} else if amount.IsNegative() {
		return ticket.Ticket{}, apperrors.Validation("requested amount cannot be negative")
	}
	if err := s.checkPrecision(amount); err != nil {
		return ticket.Ticket{}, err
	}

	var opened ticket.Ticket
	err = s.store.Atomic(ctx, func(tx storage.Tx) error {
		requester, err := actors.Active(ctx, tx, req.RequesterID)
		if err != nil {
			return err
		}
		if requester.Role != identity.RoleAgent {
			return apperrors.Forbidden("only agents can open tickets")
		}
		assignee, err := s.routeTo(ctx, tx, requester)
		if err != nil {
			return err
		}

		title := strings.TrimSpace(req.Title)
		if title == "" {
			title = defaultTitle(req.Type, amount)
		}
		now := s.clock()
		opened, err = tx.CreateTicket(ctx, ticket.Ticket{
			Number:          refs.New(refs.Ticket, now),
			RequesterID:     requester.ID,
			AssigneeID:      assignee.ID,
			AgencyID:        requester.AgencyID,
			Type:            req.Type,
			Priority:        priority,
			Status:          ticket.StatusOpen,
			Title:           title,
			Description:     strings.TrimSpace(req.Description),
			RequestedAmount: amount,
			CreatedAt:       now,
			UpdatedAt:       now,
		})
		return storage.Classify(err, "ticket", requester.ID)
	})
	if err != nil {
		return ticket.Ticket{}, err
	}
	metrics.RecordTicket(string(opened.Type), string(opened.Status))
	s.log.WithContext(ctx).WithFields(map[string]any{
		"ticket_id":   opened.ID,
		"number":      opened.Number,
		"assignee_id": opened.AssigneeID,
		"priority":    opened.Priority,
	}).Info("ticket opened")
	return opened, nil
}

func defaultTitle(t ticket.Type, amount decimal.Decimal) string {
	if t == ticket.TypeRecharge {
		return "Recharge request " + amount.StringFixed(2)
	}
	return "Support request"
}

// routeTo picks the active agency chief, then an active admin_general, then
// an active sous_admin.
func (s *Service) routeTo(ctx context.Context, tx storage.Tx, requester identity.User) (identity.User, error) {
	if requester.AgencyID != "" {
		agency, err := tx.GetAgency(ctx, requester.AgencyID)
		if err != nil {
			return identity.User{}, storage.Classify(err, "agency", requester.AgencyID)
		}
		if agency.ChiefID != "" {
			chief, err := tx.GetUser(ctx, agency.ChiefID)
			if err == nil && chief.Active {
				return chief, nil
			}
		}
	}
	for _, role := range []identity.Role{identity.RoleAdminGeneral, identity.RoleSousAdmin} {
		admins, err := tx.ListUsers(ctx, storage.UserFilter{Role: role, ActiveOnly: true})
		if err != nil {
			return identity.User{}, storage.Classify(err, "user", string(role))
		}
		if len(admins) > 0 {
			return admins[0], nil
		}
	}
	return identity.User{}, apperrors.Conflict("no active chief or administrator can take the ticket")
}

// ResolveRequest closes a ticket. A positive CreditAmount recharges the
// requester in the same transaction.
type ResolveRequest struct {
	TicketID     string
	ResolverID   string
	Notes        string
	CreditAmount decimal.Decimal
}

// Resolve marks an open ticket resolved. Only the assignee or an
// administrator may resolve.
func (s *Service) Resolve(ctx context.Context, req ResolveRequest) (ticket.Ticket, error) {
	if req.CreditAmount.IsNegative() {
		return ticket.Ticket{}, apperrors.Validation("credit amount cannot be negative")
	}
	if err := s.checkPrecision(req.CreditAmount); err != nil {
		return ticket.Ticket{}, err
	}
	var resolved ticket.Ticket
	err := s.store.Atomic(ctx, func(tx storage.Tx) error {
		t, err := tx.LockTicket(ctx, req.TicketID)
		if err != nil {
			return storage.Classify(err, "ticket", req.TicketID)
		}
		if t.Status != ticket.StatusOpen {
			return apperrors.Conflict("ticket %s is already %s", t.Number, t.Status)
		}
		resolver, err := actors.Active(ctx, tx, req.ResolverID)
		if err != nil {
			return err
		}
		if resolver.ID != t.AssigneeID && !resolver.Role.IsAdministrator() {
			return apperrors.Forbidden("only the assignee or an administrator may resolve %s", t.Number)
		}

		if req.CreditAmount.IsPositive() {
			if t.Type != ticket.TypeRecharge {
				return apperrors.Validation("ticket %s is not a recharge request", t.Number)
			}
			if s.recharger == nil {
				return apperrors.Internal("recharge is not configured", nil)
			}
			op, err := s.recharger.RechargeTx(ctx, tx, resolver.ID, t.RequesterID, req.CreditAmount, "ticket "+t.Number)
			if err != nil {
				return err
			}
			t.RechargeOperationID = op.ID
		}

		now := s.clock()
		t.Status = ticket.StatusResolved
		t.ResolutionNotes = strings.TrimSpace(req.Notes)
		t.ResolvedBy = resolver.ID
		t.ResolvedAt = &now
		t.UpdatedAt = now
		resolved, err = tx.UpdateTicket(ctx, t)
		return storage.Classify(err, "ticket", t.ID)
	})
	if err != nil {
		s.log.WithContext(ctx).WithError(err).WithField("ticket_id", req.TicketID).Warn("ticket resolution rejected")
		return ticket.Ticket{}, err
	}
	metrics.RecordTicket(string(resolved.Type), string(resolved.Status))
	s.log.WithContext(ctx).WithFields(map[string]any{
		"ticket_id":             resolved.ID,
		"resolver_id":           resolved.ResolvedBy,
		"recharge_operation_id": resolved.RechargeOperationID,
	}).Info("ticket resolved")
	return resolved, nil
}

// Cancel withdraws an open ticket. Only the requester may cancel.
func (s *Service) Cancel(ctx context.Context, ticketID, actorID string) (ticket.Ticket, error) {
	var cancelled ticket.Ticket
	err := s.store.Atomic(ctx, func(tx storage.Tx) error {
		t, err := tx.LockTicket(ctx, ticketID)
		if err != nil {
			return storage.Classify(err, "ticket", ticketID)
		}
		actor, err := actors.Active(ctx, tx, actorID)
		if err != nil {
			return err
		}
		if t.RequesterID != actor.ID {
			return apperrors.Forbidden("only the requester may cancel %s", t.Number)
		}
		if t.Status != ticket.StatusOpen {
			return apperrors.Conflict("ticket %s is already %s", t.Number, t.Status)
		}
		now := s.clock()
		t.Status = ticket.StatusCancelled
		t.UpdatedAt = now
		cancelled, err = tx.UpdateTicket(ctx, t)
		return storage.Classify(err, "ticket", t.ID)
	})
	if err != nil {
		return ticket.Ticket{}, err
	}
	metrics.RecordTicket(string(cancelled.Type), string(cancelled.Status))
	s.log.WithContext(ctx).WithField("ticket_id", cancelled.ID).Info("ticket cancelled")
	return cancelled, nil
}

// staff reports whether viewer handles t rather than requested it.
func staff(viewer identity.User, t ticket.Ticket) bool {
	if viewer.Role.IsAdministrator() || viewer.ID == t.AssigneeID {
		return true
	}
	return viewer.Role == identity.RoleChefAgence && viewer.AgencyID != "" && viewer.AgencyID == t.AgencyID
}

func (s *Service) visible(ctx context.Context, ticketID, viewerID string) (ticket.Ticket, identity.User, error) {
	viewer, err := actors.Active(ctx, s.store, viewerID)
	if err != nil {
		return ticket.Ticket{}, identity.User{}, err
	}
	t, err := s.store.GetTicket(ctx, ticketID)
	if err != nil {
		return ticket.Ticket{}, identity.User{}, storage.Classify(err, "ticket", ticketID)
	}
	if viewer.ID != t.RequesterID && !staff(viewer, t) {
		return ticket.Ticket{}, identity.User{}, apperrors.Forbidden("%s cannot read ticket %s", viewer.Identifier, t.Number)
	}
	return t, viewer, nil
}

// Get returns a ticket visible to the viewer.
func (s *Service) Get(ctx context.Context, ticketID, viewerID string) (ticket.Ticket, error) {
	t, _, err := s.visible(ctx, ticketID, viewerID)
	return t, err
}

// List returns tickets visible to the viewer, most pressing first.
func (s *Service) List(ctx context.Context, viewerID string, filter ticket.Filter) ([]ticket.Ticket, error) {
	viewer, err := actors.Active(ctx, s.store, viewerID)
	if err != nil {
		return nil, err
	}
	switch {
	case viewer.Role.IsAdministrator():
	case viewer.Role == identity.RoleChefAgence:
		filter.AgencyID = viewer.AgencyID
	case viewer.Role == identity.RoleAgent:
		filter.RequesterID = viewer.ID
	default:
		return nil, apperrors.Forbidden("role %s has no ticket queue", viewer.Role)
	}
	out, err := s.store.ListTickets(ctx, filter)
	return out, storage.Classify(err, "ticket", "list")
}

// Comment appends a note. Internal notes are reserved to staff.
func (s *Service) Comment(ctx context.Context, ticketID, authorID, body string, internal bool) (ticket.Comment, error) {
	body = strings.TrimSpace(body)
	if body == "" {
		return ticket.Comment{}, apperrors.Validation("comment body is required")
	}
	t, author, err := s.visible(ctx, ticketID, authorID)
	if err != nil {
		return ticket.Comment{}, err
	}
	if internal && !staff(author, t) {
		return ticket.Comment{}, apperrors.Forbidden("only staff may add internal comments")
	}
	c, err := s.store.AddTicketComment(ctx, ticket.Comment{
		TicketID:  t.ID,
		AuthorID:  author.ID,
		Body:      body,
		Internal:  internal,
		CreatedAt: s.clock(),
	})
	if err != nil {
		return ticket.Comment{}, storage.Classify(err, "ticket comment", t.ID)
	}
	return c, nil
}

// Comments lists notes; internal ones are hidden from non-staff viewers.
func (s *Service) Comments(ctx context.Context, ticketID, viewerID string) ([]ticket.Comment, error) {
	t, viewer, err := s.visible(ctx, ticketID, viewerID)
	if err != nil {
		return nil, err
	}
	all, err := s.store.ListTicketComments(ctx, t.ID)
	if err != nil {
		return nil, storage.Classify(err, "ticket comment", t.ID)
	}
	if staff(viewer, t) {
		return all, nil
	}
	out := make([]ticket.Comment, 0, len(all))
	for _, c := range all {
		if !c.Internal {
			out = append(out, c)
		}
	}
	return out, nil
}
