// Package ticket models recharge and support requests raised by agents.
package ticket

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Type distinguishes float requests from general support.
type Type string

const (
	TypeRecharge Type = "recharge"
	TypeSupport  Type = "support"
)

// Valid reports whether t is a known ticket type.
func (t Type) Valid() bool {
	return t == TypeRecharge || t == TypeSupport
}

// Priority orders tickets in listings. It never affects transitions.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

var priorityRank = map[Priority]int{
	PriorityLow:    1,
	PriorityMedium: 2,
	PriorityHigh:   3,
	PriorityUrgent: 4,
}

// ParsePriority defaults an empty value to medium.
func ParsePriority(s string) (Priority, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return PriorityMedium, nil
	}
	p := Priority(s)
	if _, ok := priorityRank[p]; !ok {
		return "", fmt.Errorf("unknown priority %q", s)
	}
	return p, nil
}

// Rank is higher for more pressing priorities.
func (p Priority) Rank() int {
	return priorityRank[p]
}

// Status is the ticket lifecycle state.
type Status string

const (
	StatusOpen      Status = "open"
	StatusResolved  Status = "resolved"
	StatusCancelled Status = "cancelled"
)

// Ticket is a request routed to a chief or an administrator.
type Ticket struct {
	ID                  string          `json:"id" db:"id"`
	Number              string          `json:"ticket_number" db:"ticket_number"`
	RequesterID         string          `json:"requester_id" db:"requester_id"`
	AssigneeID          string          `json:"assignee_id" db:"assignee_id"`
	AgencyID            string          `json:"agency_id,omitempty" db:"agency_id"`
	Type                Type            `json:"ticket_type" db:"ticket_type"`
	Priority            Priority        `json:"priority" db:"priority"`
	Status              Status          `json:"status" db:"status"`
	Title               string          `json:"title" db:"title"`
	Description         string          `json:"description,omitempty" db:"description"`
	RequestedAmount     decimal.Decimal `json:"requested_amount" db:"requested_amount"`
	ResolutionNotes     string          `json:"resolution_notes,omitempty" db:"resolution_notes"`
	ResolvedBy          string          `json:"resolved_by,omitempty" db:"resolved_by"`
	RechargeOperationID string          `json:"recharge_operation_id,omitempty" db:"recharge_operation_id"`
	CreatedAt           time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt           time.Time       `json:"updated_at" db:"updated_at"`
	ResolvedAt          *time.Time      `json:"resolved_at,omitempty" db:"resolved_at"`
}

// Before orders tickets by priority, then oldest first.
func Before(a, b Ticket) bool {
	if a.Priority.Rank() != b.Priority.Rank() {
		return a.Priority.Rank() > b.Priority.Rank()
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}

// Comment is a note attached to a ticket. Internal comments are hidden
// from the requester.
type Comment struct {
	ID        string    `json:"id" db:"id"`
	TicketID  string    `json:"ticket_id" db:"ticket_id"`
	AuthorID  string    `json:"author_id" db:"author_id"`
	Body      string    `json:"body" db:"body"`
	Internal  bool      `json:"is_internal" db:"is_internal"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// Filter narrows ticket listings.
type Filter struct {
	RequesterID string
	AssigneeID  string
	AgencyID    string
	Status      Status
}
