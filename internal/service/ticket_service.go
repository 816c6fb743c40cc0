package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/ticketdesk/ticket-service/internal/auth"
	"github.com/ticketdesk/ticket-service/internal/domain"
	"github.com/ticketdesk/ticket-service/internal/events"
	"github.com/ticketdesk/ticket-service/internal/notification"
	"github.com/ticketdesk/ticket-service/internal/observability"
	"github.com/ticketdesk/ticket-service/internal/repository"
	apperrors "github.com/ticketdesk/ticket-service/pkg/util/errorutil"
)

const (
	maxTitleLength       = 200
	maxDescriptionLength = 2000
	maxCommentLength     = 2000

	defaultPageSize = 10
	maxPageSize     = 100
)

var errNotEligible = apperrors.NewConflict("ticket is no longer eligible for escalation", nil)

// TicketService enforces the ticket lifecycle: creation, picking, status
// changes, comments and escalation. Every state change appends one entry to
// the ticket's update log inside the store's per-ticket atomic section.
type TicketService struct {
	tickets       repository.TicketRepository
	gateway       notification.Gateway
	dispatcher    events.Dispatcher
	metrics       *observability.Metrics
	logger        *zap.Logger
	notifyTimeout time.Duration

	// Now is the clock used for every timestamp the service writes.
	Now func() time.Time
}

// TicketDependencies bundles collaborators for the ticket service.
type TicketDependencies struct {
	TicketRepo    repository.TicketRepository
	Gateway       notification.Gateway
	Dispatcher    events.Dispatcher
	Metrics       *observability.Metrics
	Logger        *zap.Logger
	NotifyTimeout time.Duration
}

// TicketCreateInput describes ticket creation payload.
type TicketCreateInput struct {
	Title       string
	Description string
	Priority    string
}

// TicketQuery filters and pages ticket listings. Empty strings mean no filter.
type TicketQuery struct {
	Status          string
	Priority        string
	EscalationLevel string
	Page            int
	PageSize        int
}

// TicketPage is one page of a listing.
type TicketPage struct {
	Tickets     []domain.Ticket
	Total       int
	TotalPages  int
	CurrentPage int
	PageSize    int
}

// NewTicketService constructs the service.
func NewTicketService(deps TicketDependencies) *TicketService {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	gateway := deps.Gateway
	if gateway == nil {
		gateway = notification.NopGateway{}
	}
	timeout := deps.NotifyTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &TicketService{
		tickets:       deps.TicketRepo,
		gateway:       gateway,
		dispatcher:    deps.Dispatcher,
		metrics:       deps.Metrics,
		logger:        logger.Named("tickets"),
		notifyTimeout: timeout,
		Now:           time.Now,
	}
}

// CreateTicket opens a new ticket on behalf of a client.
func (s *TicketService) CreateTicket(ctx context.Context, actor *domain.User, input TicketCreateInput) (*domain.Ticket, error) {
	if err := auth.Authorize(actor, auth.ActionCreateTicket); err != nil {
		return nil, err
	}

	title := strings.TrimSpace(input.Title)
	description := strings.TrimSpace(input.Description)
	if title == "" || description == "" {
		return nil, apperrors.NewValidationError("Title and description are required", nil)
	}
	if utf8.RuneCountInString(title) > maxTitleLength {
		return nil, apperrors.NewValidationError("Title is too long", map[string]any{"max": maxTitleLength})
	}
	if utf8.RuneCountInString(description) > maxDescriptionLength {
		return nil, apperrors.NewValidationError("Description is too long", map[string]any{"max": maxDescriptionLength})
	}

	priority := domain.TicketPriorityMedium
	if input.Priority != "" {
		priority = domain.TicketPriority(strings.ToLower(strings.TrimSpace(input.Priority)))
		if !priority.Valid() {
			return nil, apperrors.NewValidationError("Invalid priority", map[string]any{"priority": input.Priority})
		}
	}

	now := s.now()
	ticket := &domain.Ticket{
		Title:           title,
		Description:     description,
		Priority:        priority,
		Status:          domain.TicketStatusOpen,
		CreatedBy:       actor.ID,
		EscalationLevel: domain.EscalationNone,
		CreatedAt:       now,
	}
	ticket.AppendUpdate(domain.TicketUpdate{
		UpdatedBy:   stringPtr(actor.ID),
		Type:        domain.UpdateTypeStatusChange,
		Description: "Ticket created with status open",
		Timestamp:   now,
	})

	// The store allocates the ticket number from its sequence.
	if err := s.tickets.Create(ctx, ticket); err != nil {
		return nil, mapTicketError(err)
	}

	s.publishEvent(ctx, events.EventTicketCreated, ticket, stringPtr(actor.ID), events.TicketCreatedPayload{
		Priority: ticket.Priority,
		Title:    ticket.Title,
	})
	return ticket, nil
}

// PickTicket claims an unpicked ticket for the actor and starts the
// resolution clock.
func (s *TicketService) PickTicket(ctx context.Context, ticketID string, actor *domain.User) (*domain.Ticket, error) {
	if err := auth.Authorize(actor, auth.ActionPickTicket); err != nil {
		return nil, err
	}

	ticket, err := s.tickets.Update(ctx, ticketID, func(t *domain.Ticket) error {
		if t.IsPicked() {
			return apperrors.NewConflict("Ticket already picked by another user", nil)
		}
		now := s.now()
		deadline := now.Add(domain.ResolutionWindow)
		t.PickedBy = stringPtr(actor.ID)
		t.AssignedTo = stringPtr(actor.ID)
		t.PickedAt = &now
		t.Status = domain.TicketStatusInProgress
		t.ResolutionDeadline = &deadline
		t.AppendUpdate(domain.TicketUpdate{
			UpdatedBy:   stringPtr(actor.ID),
			Type:        domain.UpdateTypeAssignment,
			Description: fmt.Sprintf("Ticket picked by %s (%s)", actor.Username, actor.LevelLabel()),
			Timestamp:   now,
		})
		return nil
	})
	if err != nil {
		return nil, mapTicketError(err)
	}

	s.publishEvent(ctx, events.EventTicketPicked, ticket, stringPtr(actor.ID), events.TicketPickedPayload{
		PickedBy:           actor.ID,
		ResolutionDeadline: *ticket.ResolutionDeadline,
	})
	return ticket, nil
}

// UpdateStatus moves the ticket to newStatus. Any transition between known
// statuses is accepted, including moving back from resolved; ResolvedAt is
// never cleared once set.
func (s *TicketService) UpdateStatus(ctx context.Context, ticketID string, actor *domain.User, newStatus, comment string) (*domain.Ticket, error) {
	status := domain.TicketStatus(strings.ToLower(strings.TrimSpace(newStatus)))
	if !status.Valid() {
		return nil, apperrors.NewValidationError("Invalid status", map[string]any{"status": newStatus})
	}
	comment = strings.TrimSpace(comment)

	var previous domain.TicketStatus
	ticket, err := s.tickets.Update(ctx, ticketID, func(t *domain.Ticket) error {
		if err := auth.AuthorizeTicket(actor, auth.ActionUpdateStatus, t); err != nil {
			return err
		}
		now := s.now()
		previous = t.Status
		t.Status = status
		if status == domain.TicketStatusResolved {
			t.ResolvedAt = &now
		}
		description := fmt.Sprintf("Status changed from %s to %s", previous, status)
		if comment != "" {
			description += ": " + comment
		}
		t.AppendUpdate(domain.TicketUpdate{
			UpdatedBy:   stringPtr(actor.ID),
			Type:        domain.UpdateTypeStatusChange,
			Description: description,
			Timestamp:   now,
		})
		return nil
	})
	if err != nil {
		return nil, mapTicketError(err)
	}

	s.publishEvent(ctx, events.EventTicketStatusChanged, ticket, stringPtr(actor.ID), events.TicketStatusChangedPayload{
		OldStatus: previous,
		NewStatus: status,
	})
	return ticket, nil
}

// AddComment appends a free-text comment to the ticket's update log.
func (s *TicketService) AddComment(ctx context.Context, ticketID string, actor *domain.User, text string) (*domain.Ticket, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, apperrors.NewValidationError("Comment text is required", nil)
	}
	if utf8.RuneCountInString(text) > maxCommentLength {
		return nil, apperrors.NewValidationError("Comment is too long", map[string]any{"max": maxCommentLength})
	}

	ticket, err := s.tickets.Update(ctx, ticketID, func(t *domain.Ticket) error {
		if err := auth.AuthorizeTicket(actor, auth.ActionComment, t); err != nil {
			return err
		}
		t.AppendUpdate(domain.TicketUpdate{
			UpdatedBy:   stringPtr(actor.ID),
			Type:        domain.UpdateTypeComment,
			Description: text,
			Timestamp:   s.now(),
		})
		return nil
	})
	if err != nil {
		return nil, mapTicketError(err)
	}

	s.publishEvent(ctx, events.EventTicketCommented, ticket, stringPtr(actor.ID), events.TicketCommentedPayload{
		BodyPreview: stringPreview(text, 120),
	})
	return ticket, nil
}

// Escalate raises an open, unpicked ticket to tier. The escalation commits
// first; when sendNotification is set the gateway is called afterwards and
// only its outcome is recorded, so a failed alert never undoes the
// escalation.
func (s *TicketService) Escalate(ctx context.Context, ticketID string, tier domain.EscalationLevel, sendNotification bool) (*domain.Ticket, error) {
	if tier != domain.EscalationL2 && tier != domain.EscalationL3 {
		return nil, apperrors.NewValidationError("Invalid escalation level", map[string]any{"level": tier})
	}

	var from domain.EscalationLevel
	ticket, err := s.tickets.Update(ctx, ticketID, func(t *domain.Ticket) error {
		if t.Status != domain.TicketStatusOpen || t.IsPicked() || !tier.Above(t.EscalationLevel) {
			return errNotEligible
		}
		now := s.now()
		from = t.EscalationLevel
		t.EscalationLevel = tier
		t.EscalatedAt = &now
		t.AppendUpdate(domain.TicketUpdate{
			Type:        domain.UpdateTypeEscalation,
			Description: fmt.Sprintf("Ticket automatically escalated to %s due to no response", tier),
			Timestamp:   now,
		})
		return nil
	})
	if err != nil {
		return nil, mapTicketError(err)
	}
	s.metrics.RecordEscalation(string(tier))
	s.logger.Info("ticket escalated",
		zap.String("ticket_number", ticket.TicketNumber),
		zap.String("from", string(from)),
		zap.String("to", string(tier)))

	if sendNotification {
		ticket = s.notifyEscalation(ctx, ticket, tier)
	}

	s.publishEvent(ctx, events.EventTicketEscalated, ticket, nil, events.TicketEscalatedPayload{
		From:             from,
		To:               tier,
		NotificationSent: ticket.EmailNotificationSent,
	})
	return ticket, nil
}

func (s *TicketService) notifyEscalation(ctx context.Context, ticket *domain.Ticket, tier domain.EscalationLevel) *domain.Ticket {
	notifyCtx, cancel := context.WithTimeout(ctx, s.notifyTimeout)
	sent := s.gateway.SendEscalationEmail(notifyCtx, ticket, tier)
	cancel()
	s.metrics.RecordNotification(sent)

	updated, err := s.tickets.Update(ctx, ticket.ID, func(t *domain.Ticket) error {
		t.EmailNotificationSent = sent
		return nil
	})
	if err != nil {
		s.logger.Error("record escalation notification",
			zap.Error(err),
			zap.String("ticket_number", ticket.TicketNumber),
			zap.Bool("sent", sent))
		ticket.EmailNotificationSent = sent
		return ticket
	}
	return updated
}

// GetTicket returns a single ticket with its update log.
func (s *TicketService) GetTicket(ctx context.Context, actor *domain.User, ticketID string) (*domain.Ticket, error) {
	if err := auth.Authorize(actor, auth.ActionViewTickets); err != nil {
		return nil, err
	}
	ticket, err := s.tickets.GetByID(ctx, ticketID)
	if err != nil {
		return nil, mapTicketError(err)
	}
	return ticket, nil
}

// ListTickets returns tickets matching every given filter, newest first.
func (s *TicketService) ListTickets(ctx context.Context, actor *domain.User, query TicketQuery) (*TicketPage, error) {
	if err := auth.Authorize(actor, auth.ActionViewTickets); err != nil {
		return nil, err
	}

	var filter repository.TicketFilter
	if query.Status != "" {
		status := domain.TicketStatus(query.Status)
		if !status.Valid() {
			return nil, apperrors.NewValidationError("Invalid status filter", map[string]any{"status": query.Status})
		}
		filter.Status = &status
	}
	if query.Priority != "" {
		priority := domain.TicketPriority(query.Priority)
		if !priority.Valid() {
			return nil, apperrors.NewValidationError("Invalid priority filter", map[string]any{"priority": query.Priority})
		}
		filter.Priority = &priority
	}
	if query.EscalationLevel != "" {
		level := domain.EscalationLevel(query.EscalationLevel)
		if !level.Valid() {
			return nil, apperrors.NewValidationError("Invalid escalation level filter", map[string]any{"escalationLevel": query.EscalationLevel})
		}
		filter.EscalationLevel = &level
	}
	return s.page(ctx, filter, query.Page, query.PageSize)
}

// ListMine returns the tickets a client created, or the tickets assigned to a
// staff member.
func (s *TicketService) ListMine(ctx context.Context, actor *domain.User, page, pageSize int) (*TicketPage, error) {
	if err := auth.Authorize(actor, auth.ActionViewTickets); err != nil {
		return nil, err
	}
	var filter repository.TicketFilter
	if actor.Role == domain.RoleClient {
		filter.CreatedBy = stringPtr(actor.ID)
	} else {
		filter.AssignedTo = stringPtr(actor.ID)
	}
	return s.page(ctx, filter, page, pageSize)
}

// Stats summarizes ticket counts. Today counts tickets created since local
// midnight.
func (s *TicketService) Stats(ctx context.Context, actor *domain.User) (*domain.TicketStats, error) {
	if err := auth.Authorize(actor, auth.ActionViewTickets); err != nil {
		return nil, err
	}

	now := s.now().Local()
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	open := domain.TicketStatusOpen
	inProgress := domain.TicketStatusInProgress
	resolved := domain.TicketStatusResolved

	var stats domain.TicketStats
	counts := []struct {
		dst    *int
		filter repository.TicketFilter
	}{
		{&stats.Total, repository.TicketFilter{}},
		{&stats.Open, repository.TicketFilter{Status: &open}},
		{&stats.InProgress, repository.TicketFilter{Status: &inProgress}},
		{&stats.Resolved, repository.TicketFilter{Status: &resolved}},
		{&stats.Today, repository.TicketFilter{CreatedFrom: &midnight}},
	}
	for _, c := range counts {
		n, err := s.tickets.Count(ctx, c.filter)
		if err != nil {
			return nil, err
		}
		*c.dst = n
	}
	return &stats, nil
}

// EscalationCandidates lists open, unpicked tickets at level created at or
// before cutoff, oldest first. Only tickets not yet notified are returned
// when unnotifiedOnly is set.
func (s *TicketService) EscalationCandidates(ctx context.Context, level domain.EscalationLevel, cutoff time.Time, unnotifiedOnly bool, limit int) ([]domain.Ticket, error) {
	status := domain.TicketStatusOpen
	filter := repository.TicketFilter{
		Status:          &status,
		EscalationLevel: &level,
		Unpicked:        true,
		CreatedBefore:   &cutoff,
		OldestFirst:     true,
		Limit:           limit,
	}
	if unnotifiedOnly {
		notSent := false
		filter.NotificationSent = &notSent
	}
	return s.tickets.List(ctx, filter)
}

func (s *TicketService) page(ctx context.Context, filter repository.TicketFilter, page, pageSize int) (*TicketPage, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = defaultPageSize
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}

	total, err := s.tickets.Count(ctx, filter)
	if err != nil {
		return nil, err
	}
	filter.Limit = pageSize
	filter.Offset = (page - 1) * pageSize
	tickets, err := s.tickets.List(ctx, filter)
	if err != nil {
		return nil, err
	}
	return &TicketPage{
		Tickets:     tickets,
		Total:       total,
		TotalPages:  int(math.Ceil(float64(total) / float64(pageSize))),
		CurrentPage: page,
		PageSize:    pageSize,
	}, nil
}

func (s *TicketService) now() time.Time {
	if s.Now == nil {
		return time.Now().UTC()
	}
	return s.Now().UTC()
}

func (s *TicketService) publishEvent(ctx context.Context, eventType events.EventType, ticket *domain.Ticket, actorID *string, payload any) {
	if s.dispatcher == nil {
		return
	}
	event := events.Event{
		Type:         eventType,
		TicketID:     ticket.ID,
		TicketNumber: ticket.TicketNumber,
		ActorID:      actorID,
		Timestamp:    s.now(),
		Payload:      payload,
	}
	if err := s.dispatcher.Publish(ctx, event); err != nil {
		s.logger.Warn("event handler failed", zap.String("event", string(eventType)), zap.Error(err))
	}
}

func mapTicketError(err error) error {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return apperrors.NewNotFound("Ticket", nil)
	case errors.Is(err, repository.ErrDuplicate):
		return apperrors.NewConflict("Ticket number already allocated", nil)
	}
	return err
}

func stringPtr(v string) *string {
	return &v
}

func stringPreview(body string, max int) string {
	body = strings.TrimSpace(body)
	if utf8.RuneCountInString(body) <= max {
		return body
	}
	runes := []rune(body)
	if max <= 3 {
		return string(runes[:max])
	}
	return string(runes[:max-3]) + "..."
}
