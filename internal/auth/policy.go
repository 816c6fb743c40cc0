package auth

import (
	"github.com/ticketdesk/ticket-service/internal/domain"
	apperrors "github.com/ticketdesk/ticket-service/pkg/util/errorutil"
)

// Action names something a caller may attempt.
type Action string

const (
	ActionCreateTicket   Action = "ticket:create"
	ActionPickTicket     Action = "ticket:pick"
	ActionUpdateStatus   Action = "ticket:status"
	ActionComment        Action = "ticket:comment"
	ActionViewTickets    Action = "ticket:view"
	ActionRegisterClient Action = "user:register_client"
	ActionManageUsers    Action = "user:manage"
)

// rule grants an action to roles, and optionally to the ticket's current
// assignee or its creator whatever their role.
type rule struct {
	roles    []domain.UserRole
	assignee bool
	creator  bool
	denied   string
}

var allRoles = []domain.UserRole{
	domain.RoleAdmin, domain.RoleDeveloper, domain.RoleClientManagement, domain.RoleClient,
}

var rules = map[Action]rule{
	ActionCreateTicket: {
		roles:  []domain.UserRole{domain.RoleClient},
		denied: "Only clients can create tickets",
	},
	ActionPickTicket: {
		roles:  []domain.UserRole{domain.RoleDeveloper, domain.RoleClientManagement},
		denied: "Access denied",
	},
	ActionUpdateStatus: {
		roles:    []domain.UserRole{domain.RoleAdmin},
		assignee: true,
		denied:   "You can only update tickets assigned to you",
	},
	ActionComment: {
		roles:    []domain.UserRole{domain.RoleAdmin, domain.RoleDeveloper, domain.RoleClientManagement},
		assignee: true,
		creator:  true,
		denied:   "You cannot comment on this ticket",
	},
	ActionViewTickets: {
		roles:  allRoles,
		denied: "Access denied",
	},
	ActionRegisterClient: {
		roles:  []domain.UserRole{domain.RoleAdmin},
		denied: "Access denied. Admin privileges required.",
	},
	ActionManageUsers: {
		roles:  []domain.UserRole{domain.RoleAdmin},
		denied: "Access denied. Admin privileges required.",
	},
}

// Authorize checks role grants only. Actions that also grant by relation to a
// ticket must go through AuthorizeTicket to honor those grants.
func Authorize(user *domain.User, action Action) error {
	return AuthorizeTicket(user, action, nil)
}

// AuthorizeTicket decides whether user may perform action on ticket.
func AuthorizeTicket(user *domain.User, action Action, ticket *domain.Ticket) error {
	if user == nil || !user.IsActive {
		return apperrors.NewUnauthorized("authentication required")
	}
	r, ok := rules[action]
	if !ok {
		return apperrors.NewForbidden("Access denied")
	}
	for _, role := range r.roles {
		if user.Role == role {
			return nil
		}
	}
	if ticket != nil {
		if r.assignee && ticket.IsAssignedTo(user.ID) {
			return nil
		}
		if r.creator && ticket.CreatedBy == user.ID {
			return nil
		}
	}
	return apperrors.NewForbidden(r.denied)
}
