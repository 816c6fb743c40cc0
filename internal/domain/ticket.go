package domain

import (
	"fmt"
	"time"
)

// TicketStatus enumerates lifecycle states for tickets.
type TicketStatus string

const (
	TicketStatusOpen       TicketStatus = "open"
	TicketStatusInProgress TicketStatus = "in_progress"
	TicketStatusResolved   TicketStatus = "resolved"
	TicketStatusClosed     TicketStatus = "closed"
)

// Valid reports whether s is a known status.
func (s TicketStatus) Valid() bool {
	switch s {
	case TicketStatusOpen, TicketStatusInProgress, TicketStatusResolved, TicketStatusClosed:
		return true
	}
	return false
}

// TicketPriority enumerates urgency.
type TicketPriority string

const (
	TicketPriorityLow    TicketPriority = "low"
	TicketPriorityMedium TicketPriority = "medium"
	TicketPriorityHigh   TicketPriority = "high"
	TicketPriorityUrgent TicketPriority = "urgent"
)

func (p TicketPriority) Valid() bool {
	switch p {
	case TicketPriorityLow, TicketPriorityMedium, TicketPriorityHigh, TicketPriorityUrgent:
		return true
	}
	return false
}

// EscalationLevel is the severity tier reached by an unattended ticket.
// Levels only move forward: none, L2, L3.
type EscalationLevel string

const (
	EscalationNone EscalationLevel = "none"
	EscalationL2   EscalationLevel = "L2"
	EscalationL3   EscalationLevel = "L3"
)

func (l EscalationLevel) Valid() bool {
	return l.rank() >= 0
}

// Above reports whether l is a strictly higher tier than other.
func (l EscalationLevel) Above(other EscalationLevel) bool {
	return l.rank() > other.rank()
}

func (l EscalationLevel) rank() int {
	switch l {
	case EscalationNone:
		return 0
	case EscalationL2:
		return 1
	case EscalationL3:
		return 2
	}
	return -1
}

// ResolutionWindow is the time a picker has to resolve a ticket.
const ResolutionWindow = 7 * 24 * time.Hour

// TicketNumberPrefix prefixes the human readable ticket number.
const TicketNumberPrefix = "TKT-"

// FormatTicketNumber renders a sequence value as TKT-000042.
func FormatTicketNumber(seq int64) string {
	return fmt.Sprintf("%s%06d", TicketNumberPrefix, seq)
}

// Ticket is the aggregate for support requests.
type Ticket struct {
	ID                    string
	TicketNumber          string
	Title                 string
	Description           string
	Priority              TicketPriority
	Status                TicketStatus
	CreatedBy             string
	AssignedTo            *string
	PickedBy              *string
	PickedAt              *time.Time
	EscalationLevel       EscalationLevel
	EscalatedAt           *time.Time
	ResolutionDeadline    *time.Time
	ResolvedAt            *time.Time
	EmailNotificationSent bool
	Updates               []TicketUpdate
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// IsPicked reports whether someone has claimed the ticket.
func (t *Ticket) IsPicked() bool {
	return t.PickedBy != nil
}

// IsAssignedTo reports whether userID is the current assignee.
func (t *Ticket) IsAssignedTo(userID string) bool {
	return t.AssignedTo != nil && *t.AssignedTo == userID
}

// AppendUpdate adds an audit entry to the end of the log.
func (t *Ticket) AppendUpdate(update TicketUpdate) {
	t.Updates = append(t.Updates, update)
}

// Clone returns a deep copy so callers cannot alias stored state.
func (t *Ticket) Clone() *Ticket {
	if t == nil {
		return nil
	}
	cp := *t
	cp.AssignedTo = cloneString(t.AssignedTo)
	cp.PickedBy = cloneString(t.PickedBy)
	cp.PickedAt = cloneTime(t.PickedAt)
	cp.EscalatedAt = cloneTime(t.EscalatedAt)
	cp.ResolutionDeadline = cloneTime(t.ResolutionDeadline)
	cp.ResolvedAt = cloneTime(t.ResolvedAt)
	cp.Updates = make([]TicketUpdate, len(t.Updates))
	for i, u := range t.Updates {
		u.UpdatedBy = cloneString(u.UpdatedBy)
		cp.Updates[i] = u
	}
	return &cp
}

func cloneString(v *string) *string {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

func cloneTime(v *time.Time) *time.Time {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}
