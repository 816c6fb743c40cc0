package dto

import (
	"time"

	"github.com/ticketdesk/ticket-service/internal/domain"
	"github.com/ticketdesk/ticket-service/internal/service"
)

// CreateTicketRequest payload.
type CreateTicketRequest struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Priority    string `json:"priority"`
}

// UpdateStatusRequest payload.
type UpdateStatusRequest struct {
	Status  string `json:"status"`
	Comment string `json:"comment"`
}

// AddCommentRequest payload.
type AddCommentRequest struct {
	Text string `json:"text"`
}

// TicketUpdateResponse is one audit log entry.
type TicketUpdateResponse struct {
	UpdatedBy   *string                 `json:"updated_by"`
	Type        domain.TicketUpdateType `json:"update_type"`
	Description string                  `json:"description"`
	Timestamp   time.Time               `json:"timestamp"`
}

// TicketResponse provides full ticket info.
type TicketResponse struct {
	ID                    string                 `json:"id"`
	TicketNumber          string                 `json:"ticket_number"`
	Title                 string                 `json:"title"`
	Description           string                 `json:"description"`
	Priority              domain.TicketPriority  `json:"priority"`
	Status                domain.TicketStatus    `json:"status"`
	CreatedBy             string                 `json:"created_by"`
	AssignedTo            *string                `json:"assigned_to"`
	PickedBy              *string                `json:"picked_by"`
	PickedAt              *time.Time             `json:"picked_at"`
	EscalationLevel       domain.EscalationLevel `json:"escalation_level"`
	EscalatedAt           *time.Time             `json:"escalated_at"`
	ResolutionDeadline    *time.Time             `json:"resolution_deadline"`
	ResolvedAt            *time.Time             `json:"resolved_at"`
	EmailNotificationSent bool                   `json:"email_notification_sent"`
	Updates               []TicketUpdateResponse `json:"updates"`
	CreatedAt             time.Time              `json:"created_at"`
	UpdatedAt             time.Time              `json:"updated_at"`
}

// TicketListResponse is a page of tickets.
type TicketListResponse struct {
	Tickets     []TicketResponse `json:"tickets"`
	Total       int              `json:"total"`
	TotalPages  int              `json:"total_pages"`
	CurrentPage int              `json:"current_page"`
	PageSize    int              `json:"page_size"`
}

// TicketStatsResponse summarizes counts.
type TicketStatsResponse struct {
	Total      int `json:"total"`
	Open       int `json:"open"`
	InProgress int `json:"in_progress"`
	Resolved   int `json:"resolved"`
	Today      int `json:"today"`
}

// NewTicketResponse maps a ticket.
func NewTicketResponse(t *domain.Ticket) TicketResponse {
	updates := make([]TicketUpdateResponse, 0, len(t.Updates))
	for _, u := range t.Updates {
		updates = append(updates, TicketUpdateResponse{
			UpdatedBy:   u.UpdatedBy,
			Type:        u.Type,
			Description: u.Description,
			Timestamp:   u.Timestamp,
		})
	}
	return TicketResponse{
		ID:                    t.ID,
		TicketNumber:          t.TicketNumber,
		Title:                 t.Title,
		Description:           t.Description,
		Priority:              t.Priority,
		Status:                t.Status,
		CreatedBy:             t.CreatedBy,
		AssignedTo:            t.AssignedTo,
		PickedBy:              t.PickedBy,
		PickedAt:              t.PickedAt,
		EscalationLevel:       t.EscalationLevel,
		EscalatedAt:           t.EscalatedAt,
		ResolutionDeadline:    t.ResolutionDeadline,
		ResolvedAt:            t.ResolvedAt,
		EmailNotificationSent: t.EmailNotificationSent,
		Updates:               updates,
		CreatedAt:             t.CreatedAt,
		UpdatedAt:             t.UpdatedAt,
	}
}

// NewTicketListResponse maps a listing page.
func NewTicketListResponse(page *service.TicketPage) TicketListResponse {
	items := make([]TicketResponse, 0, len(page.Tickets))
	for i := range page.Tickets {
		items = append(items, NewTicketResponse(&page.Tickets[i]))
	}
	return TicketListResponse{
		Tickets:     items,
		Total:       page.Total,
		TotalPages:  page.TotalPages,
		CurrentPage: page.CurrentPage,
		PageSize:    page.PageSize,
	}
}

// NewTicketStatsResponse maps stats.
func NewTicketStatsResponse(s *domain.TicketStats) TicketStatsResponse {
	return TicketStatsResponse{
		Total:      s.Total,
		Open:       s.Open,
		InProgress: s.InProgress,
		Resolved:   s.Resolved,
		Today:      s.Today,
	}
}
