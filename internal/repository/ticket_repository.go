package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ticketdesk/ticket-service/internal/domain"
)

// TicketFilter captures search parameters. All set fields are combined with AND.
type TicketFilter struct {
	Status           *domain.TicketStatus
	Priority         *domain.TicketPriority
	EscalationLevel  *domain.EscalationLevel
	CreatedBy        *string
	AssignedTo       *string
	Unpicked         bool
	NotificationSent *bool
	CreatedBefore    *time.Time
	CreatedFrom      *time.Time
	OldestFirst      bool
	Limit            int
	Offset           int
}

// TicketMutation edits a ticket inside the store's per-ticket atomic section.
// Returning an error aborts the write. Updates may only be appended.
type TicketMutation func(ticket *domain.Ticket) error

// ErrUpdateLogRewritten is returned when a mutation removes audit entries.
var ErrUpdateLogRewritten = errors.New("ticket update log is append-only")

// TicketRepository encapsulates ticket persistence.
type TicketRepository interface {
	// Create allocates the ticket number from an atomic sequence and stores
	// the ticket together with its initial updates.
	Create(ctx context.Context, ticket *domain.Ticket) error
	GetByID(ctx context.Context, id string) (*domain.Ticket, error)
	List(ctx context.Context, filter TicketFilter) ([]domain.Ticket, error)
	Count(ctx context.Context, filter TicketFilter) (int, error)
	// Update runs mutate against the current record while holding the
	// record exclusively, then persists the result.
	Update(ctx context.Context, id string, mutate TicketMutation) (*domain.Ticket, error)
}

type ticketRepository struct {
	pool *pgxpool.Pool
}

// NewTicketRepository instantiates the Postgres repository.
func NewTicketRepository(pool *pgxpool.Pool) TicketRepository {
	return &ticketRepository{pool: pool}
}

const ticketColumns = `id, ticket_number, title, description, priority, status, created_by,
        assigned_to, picked_by, picked_at, escalation_level, escalated_at, resolution_deadline,
        resolved_at, email_notification_sent, created_at, updated_at`

func (r *ticketRepository) Create(ctx context.Context, ticket *domain.Ticket) error {
	if ticket.ID == "" {
		ticket.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if ticket.CreatedAt.IsZero() {
		ticket.CreatedAt = now
	}
	ticket.UpdatedAt = ticket.CreatedAt

	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		var seq int64
		if err := tx.QueryRow(ctx, `SELECT nextval('ticket_number_seq')`).Scan(&seq); err != nil {
			return err
		}
		ticket.TicketNumber = domain.FormatTicketNumber(seq)

		const query = `
        INSERT INTO tickets (id, ticket_number, title, description, priority, status, created_by,
            assigned_to, picked_by, picked_at, escalation_level, escalated_at, resolution_deadline,
            resolved_at, email_notification_sent, created_at, updated_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)`
		if _, err := tx.Exec(ctx, query,
			ticket.ID,
			ticket.TicketNumber,
			ticket.Title,
			ticket.Description,
			ticket.Priority,
			ticket.Status,
			ticket.CreatedBy,
			ticket.AssignedTo,
			ticket.PickedBy,
			ticket.PickedAt,
			ticket.EscalationLevel,
			ticket.EscalatedAt,
			ticket.ResolutionDeadline,
			ticket.ResolvedAt,
			ticket.EmailNotificationSent,
			ticket.CreatedAt,
			ticket.UpdatedAt,
		); err != nil {
			return err
		}
		return insertUpdates(ctx, tx, ticket.ID, 0, ticket.Updates)
	})
	if err != nil {
		ticket.TicketNumber = ""
		return translateError(err)
	}
	return nil
}

func (r *ticketRepository) GetByID(ctx context.Context, id string) (*domain.Ticket, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrNotFound
	}
	query := `SELECT ` + ticketColumns + ` FROM tickets WHERE id=$1`
	ticket, err := scanTicket(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		return nil, translateError(err)
	}
	updates, err := loadUpdates(ctx, r.pool, []string{ticket.ID})
	if err != nil {
		return nil, err
	}
	ticket.Updates = updates[ticket.ID]
	return ticket, nil
}

func (r *ticketRepository) List(ctx context.Context, filter TicketFilter) ([]domain.Ticket, error) {
	where, args := buildTicketWhere(filter)
	order := "DESC"
	if filter.OldestFirst {
		order = "ASC"
	}
	query := fmt.Sprintf(`SELECT %s FROM tickets WHERE %s ORDER BY created_at %s, ticket_number %s`,
		ticketColumns, where, order, order)
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}
	if filter.Offset > 0 {
		query += fmt.Sprintf(" OFFSET %d", filter.Offset)
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.Ticket
	for rows.Next() {
		ticket, err := scanTicket(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *ticket)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(result) == 0 {
		return result, nil
	}

	ids := make([]string, len(result))
	for i := range result {
		ids[i] = result[i].ID
	}
	updates, err := loadUpdates(ctx, r.pool, ids)
	if err != nil {
		return nil, err
	}
	for i := range result {
		result[i].Updates = updates[result[i].ID]
	}
	return result, nil
}

func (r *ticketRepository) Count(ctx context.Context, filter TicketFilter) (int, error) {
	where, args := buildTicketWhere(filter)
	var count int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM tickets WHERE `+where, args...).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

func (r *ticketRepository) Update(ctx context.Context, id string, mutate TicketMutation) (*domain.Ticket, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrNotFound
	}
	var result *domain.Ticket
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		query := `SELECT ` + ticketColumns + ` FROM tickets WHERE id=$1 FOR UPDATE`
		ticket, err := scanTicket(tx.QueryRow(ctx, query, id))
		if err != nil {
			return err
		}
		updates, err := loadUpdates(ctx, tx, []string{id})
		if err != nil {
			return err
		}
		ticket.Updates = updates[id]
		persisted := len(ticket.Updates)

		if err := mutate(ticket); err != nil {
			return err
		}
		if len(ticket.Updates) < persisted {
			return ErrUpdateLogRewritten
		}

		const update = `
        UPDATE tickets SET title=$1, description=$2, priority=$3, status=$4, assigned_to=$5,
            picked_by=$6, picked_at=$7, escalation_level=$8, escalated_at=$9, resolution_deadline=$10,
            resolved_at=$11, email_notification_sent=$12, updated_at=NOW()
        WHERE id=$13
        RETURNING updated_at`
		if err := tx.QueryRow(ctx, update,
			ticket.Title,
			ticket.Description,
			ticket.Priority,
			ticket.Status,
			ticket.AssignedTo,
			ticket.PickedBy,
			ticket.PickedAt,
			ticket.EscalationLevel,
			ticket.EscalatedAt,
			ticket.ResolutionDeadline,
			ticket.ResolvedAt,
			ticket.EmailNotificationSent,
			id,
		).Scan(&ticket.UpdatedAt); err != nil {
			return err
		}
		if err := insertUpdates(ctx, tx, id, persisted, ticket.Updates[persisted:]); err != nil {
			return err
		}
		result = ticket
		return nil
	})
	if err != nil {
		return nil, translateError(err)
	}
	return result, nil
}

func buildTicketWhere(filter TicketFilter) (string, []any) {
	clauses := []string{"1=1"}
	args := []any{}

	if filter.Status != nil {
		args = append(args, *filter.Status)
		clauses = append(clauses, fmt.Sprintf("status=$%d", len(args)))
	}
	if filter.Priority != nil {
		args = append(args, *filter.Priority)
		clauses = append(clauses, fmt.Sprintf("priority=$%d", len(args)))
	}
	if filter.EscalationLevel != nil {
		args = append(args, *filter.EscalationLevel)
		clauses = append(clauses, fmt.Sprintf("escalation_level=$%d", len(args)))
	}
	if filter.CreatedBy != nil {
		args = append(args, *filter.CreatedBy)
		clauses = append(clauses, fmt.Sprintf("created_by=$%d", len(args)))
	}
	if filter.AssignedTo != nil {
		args = append(args, *filter.AssignedTo)
		clauses = append(clauses, fmt.Sprintf("assigned_to=$%d", len(args)))
	}
	if filter.Unpicked {
		clauses = append(clauses, "picked_by IS NULL")
	}
	if filter.NotificationSent != nil {
		args = append(args, *filter.NotificationSent)
		clauses = append(clauses, fmt.Sprintf("email_notification_sent=$%d", len(args)))
	}
	if filter.CreatedBefore != nil {
		args = append(args, *filter.CreatedBefore)
		clauses = append(clauses, fmt.Sprintf("created_at <= $%d", len(args)))
	}
	if filter.CreatedFrom != nil {
		args = append(args, *filter.CreatedFrom)
		clauses = append(clauses, fmt.Sprintf("created_at >= $%d", len(args)))
	}
	return strings.Join(clauses, " AND "), args
}

func scanTicket(row pgx.Row) (*domain.Ticket, error) {
	var ticket domain.Ticket
	if err := row.Scan(
		&ticket.ID,
		&ticket.TicketNumber,
		&ticket.Title,
		&ticket.Description,
		&ticket.Priority,
		&ticket.Status,
		&ticket.CreatedBy,
		&ticket.AssignedTo,
		&ticket.PickedBy,
		&ticket.PickedAt,
		&ticket.EscalationLevel,
		&ticket.EscalatedAt,
		&ticket.ResolutionDeadline,
		&ticket.ResolvedAt,
		&ticket.EmailNotificationSent,
		&ticket.CreatedAt,
		&ticket.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &ticket, nil
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func loadUpdates(ctx context.Context, q querier, ticketIDs []string) (map[string][]domain.TicketUpdate, error) {
	const query = `
        SELECT ticket_id, updated_by, update_type, description, created_at
        FROM ticket_updates WHERE ticket_id = ANY($1::uuid[]) ORDER BY ticket_id, seq ASC`
	rows, err := q.Query(ctx, query, ticketIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make(map[string][]domain.TicketUpdate, len(ticketIDs))
	for rows.Next() {
		var (
			ticketID string
			update   domain.TicketUpdate
		)
		if err := rows.Scan(&ticketID, &update.UpdatedBy, &update.Type, &update.Description, &update.Timestamp); err != nil {
			return nil, err
		}
		result[ticketID] = append(result[ticketID], update)
	}
	return result, rows.Err()
}

func insertUpdates(ctx context.Context, tx pgx.Tx, ticketID string, startSeq int, updates []domain.TicketUpdate) error {
	const query = `
        INSERT INTO ticket_updates (ticket_id, seq, updated_by, update_type, description, created_at)
        VALUES ($1,$2,$3,$4,$5,$6)`
	for i, update := range updates {
		if _, err := tx.Exec(ctx, query,
			ticketID,
			startSeq+i,
			update.UpdatedBy,
			update.Type,
			update.Description,
			update.Timestamp,
		); err != nil {
			return err
		}
	}
	return nil
}
