package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ticketdesk/ticket-service/internal/domain"
)

// MemoryTicketRepository keeps tickets in process memory. It is used when no
// Postgres DSN is configured and by tests. A single mutex gives every Update
// the same exclusivity the Postgres row lock provides.
type MemoryTicketRepository struct {
	mu      sync.Mutex
	seq     int64
	tickets map[string]*domain.Ticket
	numbers map[string]string
}

// NewMemoryTicketRepository builds an empty store.
func NewMemoryTicketRepository() *MemoryTicketRepository {
	return &MemoryTicketRepository{
		tickets: make(map[string]*domain.Ticket),
		numbers: make(map[string]string),
	}
}

func (r *MemoryTicketRepository) Create(_ context.Context, ticket *domain.Ticket) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if ticket.ID == "" {
		ticket.ID = uuid.NewString()
	}
	if _, exists := r.tickets[ticket.ID]; exists {
		return ErrDuplicate
	}
	r.seq++
	number := domain.FormatTicketNumber(r.seq)
	if _, exists := r.numbers[number]; exists {
		return ErrDuplicate
	}
	ticket.TicketNumber = number
	if ticket.CreatedAt.IsZero() {
		ticket.CreatedAt = time.Now().UTC()
	}
	ticket.UpdatedAt = ticket.CreatedAt

	r.tickets[ticket.ID] = ticket.Clone()
	r.numbers[number] = ticket.ID
	return nil
}

func (r *MemoryTicketRepository) GetByID(_ context.Context, id string) (*domain.Ticket, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ticket, ok := r.tickets[id]
	if !ok {
		return nil, ErrNotFound
	}
	return ticket.Clone(), nil
}

func (r *MemoryTicketRepository) List(_ context.Context, filter TicketFilter) ([]domain.Ticket, error) {
	r.mu.Lock()
	matched := r.matching(filter)
	r.mu.Unlock()

	sort.Slice(matched, func(i, j int) bool {
		a, b := matched[i], matched[j]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			if filter.OldestFirst {
				return a.CreatedAt.Before(b.CreatedAt)
			}
			return a.CreatedAt.After(b.CreatedAt)
		}
		if filter.OldestFirst {
			return a.TicketNumber < b.TicketNumber
		}
		return a.TicketNumber > b.TicketNumber
	})

	start := filter.Offset
	if start < 0 {
		start = 0
	}
	if start > len(matched) {
		start = len(matched)
	}
	end := len(matched)
	if filter.Limit > 0 && start+filter.Limit < end {
		end = start + filter.Limit
	}

	result := make([]domain.Ticket, 0, end-start)
	for _, ticket := range matched[start:end] {
		result = append(result, *ticket)
	}
	return result, nil
}

func (r *MemoryTicketRepository) Count(_ context.Context, filter TicketFilter) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.matching(filter)), nil
}

func (r *MemoryTicketRepository) Update(_ context.Context, id string, mutate TicketMutation) (*domain.Ticket, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.tickets[id]
	if !ok {
		return nil, ErrNotFound
	}
	working := stored.Clone()
	persisted := len(working.Updates)
	if err := mutate(working); err != nil {
		return nil, err
	}
	if len(working.Updates) < persisted {
		return nil, ErrUpdateLogRewritten
	}
	// Identity and already written audit entries are not writable.
	working.ID = stored.ID
	working.TicketNumber = stored.TicketNumber
	working.CreatedBy = stored.CreatedBy
	working.CreatedAt = stored.CreatedAt
	copy(working.Updates, stored.Updates)
	working.UpdatedAt = time.Now().UTC()

	r.tickets[id] = working
	return working.Clone(), nil
}

// matching returns clones of tickets satisfying filter. Caller holds mu.
func (r *MemoryTicketRepository) matching(filter TicketFilter) []*domain.Ticket {
	result := make([]*domain.Ticket, 0, len(r.tickets))
	for _, ticket := range r.tickets {
		if matchesFilter(ticket, filter) {
			result = append(result, ticket.Clone())
		}
	}
	return result
}

func matchesFilter(t *domain.Ticket, f TicketFilter) bool {
	if f.Status != nil && t.Status != *f.Status {
		return false
	}
	if f.Priority != nil && t.Priority != *f.Priority {
		return false
	}
	if f.EscalationLevel != nil && t.EscalationLevel != *f.EscalationLevel {
		return false
	}
	if f.CreatedBy != nil && t.CreatedBy != *f.CreatedBy {
		return false
	}
	if f.AssignedTo != nil && !t.IsAssignedTo(*f.AssignedTo) {
		return false
	}
	if f.Unpicked && t.IsPicked() {
		return false
	}
	if f.NotificationSent != nil && t.EmailNotificationSent != *f.NotificationSent {
		return false
	}
	if f.CreatedBefore != nil && t.CreatedAt.After(*f.CreatedBefore) {
		return false
	}
	if f.CreatedFrom != nil && t.CreatedAt.Before(*f.CreatedFrom) {
		return false
	}
	return true
}
