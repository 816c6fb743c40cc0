package service

import (
	"context"
	"fmt"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ticketdesk/ticket-service/internal/domain"
	"github.com/ticketdesk/ticket-service/internal/events"
	"github.com/ticketdesk/ticket-service/internal/observability"
	"github.com/ticketdesk/ticket-service/internal/repository"
	apperrors "github.com/ticketdesk/ticket-service/pkg/util/errorutil"
)

var ticketNumberPattern = regexp.MustCompile(`^TKT-\d{6}$`)

type fakeGateway struct {
	mu     sync.Mutex
	calls  []string
	result bool
}

func (g *fakeGateway) SendEscalationEmail(_ context.Context, ticket *domain.Ticket, tier domain.EscalationLevel) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls = append(g.calls, ticket.TicketNumber+":"+string(tier))
	return g.result
}

func (g *fakeGateway) Calls() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.calls...)
}

type ticketFixture struct {
	svc     *TicketService
	repo    *repository.MemoryTicketRepository
	gateway *fakeGateway
	metrics *observability.Metrics
	now     time.Time
}

func newTicketFixture(t *testing.T) *ticketFixture {
	t.Helper()
	f := &ticketFixture{
		repo:    repository.NewMemoryTicketRepository(),
		gateway: &fakeGateway{result: true},
		metrics: observability.NewMetrics(prometheus.NewRegistry()),
		now:     time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}
	f.svc = NewTicketService(TicketDependencies{
		TicketRepo: f.repo,
		Gateway:    f.gateway,
		Dispatcher: events.NewBus(),
		Metrics:    f.metrics,
	})
	f.svc.Now = func() time.Time { return f.now }
	return f
}

func (f *ticketFixture) advance(d time.Duration) {
	f.now = f.now.Add(d)
}

func (f *ticketFixture) create(t *testing.T, owner *domain.User, title string) *domain.Ticket {
	t.Helper()
	ticket, err := f.svc.CreateTicket(context.Background(), owner, TicketCreateInput{
		Title:       title,
		Description: "details for " + title,
	})
	require.NoError(t, err)
	return ticket
}

func (f *ticketFixture) reload(t *testing.T, id string) *domain.Ticket {
	t.Helper()
	ticket, err := f.repo.GetByID(context.Background(), id)
	require.NoError(t, err)
	return ticket
}

func newUser(id string, role domain.UserRole, level *domain.UserLevel) *domain.User {
	return &domain.User{ID: id, Username: id, Role: role, Level: level, IsActive: true}
}

func levelPtr(l domain.UserLevel) *domain.UserLevel {
	return &l
}

var (
	client      = newUser("client-1", domain.RoleClient, nil)
	otherClient = newUser("client-2", domain.RoleClient, nil)
	developer   = newUser("dev-1", domain.RoleDeveloper, levelPtr(domain.LevelL2))
	otherDev    = newUser("dev-2", domain.RoleDeveloper, levelPtr(domain.LevelL1))
	manager     = newUser("cm-1", domain.RoleClientManagement, nil)
	admin       = newUser("admin-1", domain.RoleAdmin, nil)
)

func assertCode(t *testing.T, err error, code string) {
	t.Helper()
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, code), "want %s, got %v", code, err)
}

func TestCreateTicket(t *testing.T) {
	f := newTicketFixture(t)

	ticket, err := f.svc.CreateTicket(context.Background(), client, TicketCreateInput{
		Title:       "  Login broken  ",
		Description: " Cannot sign in ",
	})
	require.NoError(t, err)

	assert.Regexp(t, ticketNumberPattern, ticket.TicketNumber)
	assert.Equal(t, "Login broken", ticket.Title)
	assert.Equal(t, "Cannot sign in", ticket.Description)
	assert.Equal(t, domain.TicketPriorityMedium, ticket.Priority)
	assert.Equal(t, domain.TicketStatusOpen, ticket.Status)
	assert.Equal(t, domain.EscalationNone, ticket.EscalationLevel)
	assert.Equal(t, client.ID, ticket.CreatedBy)
	assert.Nil(t, ticket.AssignedTo)
	assert.Nil(t, ticket.PickedBy)
	assert.Equal(t, f.now, ticket.CreatedAt)

	require.Len(t, ticket.Updates, 1)
	assert.Equal(t, domain.UpdateTypeStatusChange, ticket.Updates[0].Type)
	assert.Equal(t, "Ticket created with status open", ticket.Updates[0].Description)
	require.NotNil(t, ticket.Updates[0].UpdatedBy)
	assert.Equal(t, client.ID, *ticket.Updates[0].UpdatedBy)
}

func TestCreateTicketValidation(t *testing.T) {
	f := newTicketFixture(t)
	ctx := context.Background()

	_, err := f.svc.CreateTicket(ctx, client, TicketCreateInput{Title: "  ", Description: "x"})
	assertCode(t, err, apperrors.CodeValidation)

	_, err = f.svc.CreateTicket(ctx, client, TicketCreateInput{Title: "x", Description: "x", Priority: "critical"})
	assertCode(t, err, apperrors.CodeValidation)

	_, err = f.svc.CreateTicket(ctx, developer, TicketCreateInput{Title: "x", Description: "x"})
	assertCode(t, err, apperrors.CodeForbidden)

	ticket, err := f.svc.CreateTicket(ctx, client, TicketCreateInput{Title: "x", Description: "x", Priority: "URGENT"})
	require.NoError(t, err)
	assert.Equal(t, domain.TicketPriorityUrgent, ticket.Priority)
}

func TestConcurrentCreatesYieldDistinctNumbers(t *testing.T) {
	f := newTicketFixture(t)
	const n = 40

	numbers := make(chan string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ticket, err := f.svc.CreateTicket(context.Background(), client, TicketCreateInput{
				Title:       fmt.Sprintf("ticket %d", i),
				Description: "concurrent",
			})
			if assert.NoError(t, err) {
				numbers <- ticket.TicketNumber
			}
		}(i)
	}
	wg.Wait()
	close(numbers)

	seen := make(map[string]bool, n)
	for number := range numbers {
		assert.Regexp(t, ticketNumberPattern, number)
		assert.False(t, seen[number], "duplicate %s", number)
		seen[number] = true
	}
	require.Len(t, seen, n)
	for i := 1; i <= n; i++ {
		assert.True(t, seen[domain.FormatTicketNumber(int64(i))], "missing sequence %d", i)
	}
}

func TestPickTicket(t *testing.T) {
	f := newTicketFixture(t)
	ticket := f.create(t, client, "Printer")
	f.advance(time.Hour)

	picked, err := f.svc.PickTicket(context.Background(), ticket.ID, developer)
	require.NoError(t, err)

	require.NotNil(t, picked.PickedBy)
	require.NotNil(t, picked.AssignedTo)
	require.NotNil(t, picked.PickedAt)
	require.NotNil(t, picked.ResolutionDeadline)
	assert.Equal(t, developer.ID, *picked.PickedBy)
	assert.Equal(t, developer.ID, *picked.AssignedTo)
	assert.Equal(t, domain.TicketStatusInProgress, picked.Status)
	assert.Equal(t, f.now, *picked.PickedAt)
	assert.Equal(t, picked.PickedAt.Add(7*24*time.Hour), *picked.ResolutionDeadline)

	require.Len(t, picked.Updates, 2)
	last := picked.Updates[1]
	assert.Equal(t, domain.UpdateTypeAssignment, last.Type)
	assert.Equal(t, "Ticket picked by dev-1 (L2)", last.Description)
}

func TestPickTicketTwiceConflictsAndLeavesStateUnchanged(t *testing.T) {
	f := newTicketFixture(t)
	ticket := f.create(t, client, "Printer")
	_, err := f.svc.PickTicket(context.Background(), ticket.ID, developer)
	require.NoError(t, err)
	before := f.reload(t, ticket.ID)

	f.advance(time.Minute)
	_, err = f.svc.PickTicket(context.Background(), ticket.ID, manager)
	assertCode(t, err, apperrors.CodeConflict)
	assert.Contains(t, err.Error(), "Ticket already picked by another user")

	after := f.reload(t, ticket.ID)
	assert.Equal(t, before, after)
}

func TestPickTicketLevelLabelFallback(t *testing.T) {
	f := newTicketFixture(t)
	ticket := f.create(t, client, "Printer")

	picked, err := f.svc.PickTicket(context.Background(), ticket.ID, manager)
	require.NoError(t, err)
	assert.Equal(t, "Ticket picked by cm-1 (N/A)", picked.Updates[1].Description)
}

func TestPickTicketRejections(t *testing.T) {
	f := newTicketFixture(t)
	ticket := f.create(t, client, "Printer")

	_, err := f.svc.PickTicket(context.Background(), ticket.ID, client)
	assertCode(t, err, apperrors.CodeForbidden)
	_, err = f.svc.PickTicket(context.Background(), ticket.ID, admin)
	assertCode(t, err, apperrors.CodeForbidden)
	_, err = f.svc.PickTicket(context.Background(), "missing", developer)
	assertCode(t, err, apperrors.CodeNotFound)

	assert.Len(t, f.reload(t, ticket.ID).Updates, 1)
}

func TestConcurrentPicksHaveOneWinner(t *testing.T) {
	f := newTicketFixture(t)
	ticket := f.create(t, client, "Printer")

	pickers := []*domain.User{developer, otherDev, manager}
	results := make(chan error, len(pickers))
	var wg sync.WaitGroup
	for _, picker := range pickers {
		wg.Add(1)
		go func(u *domain.User) {
			defer wg.Done()
			_, err := f.svc.PickTicket(context.Background(), ticket.ID, u)
			results <- err
		}(picker)
	}
	wg.Wait()
	close(results)

	wins := 0
	for err := range results {
		if err == nil {
			wins++
			continue
		}
		assert.True(t, apperrors.HasCode(err, apperrors.CodeConflict))
	}
	assert.Equal(t, 1, wins)
	assert.Len(t, f.reload(t, ticket.ID).Updates, 2)
}

func TestUpdateStatusResolvedAtIsNeverCleared(t *testing.T) {
	f := newTicketFixture(t)
	ctx := context.Background()
	ticket := f.create(t, client, "Printer")
	_, err := f.svc.PickTicket(ctx, ticket.ID, developer)
	require.NoError(t, err)

	f.advance(2 * time.Hour)
	resolved, err := f.svc.UpdateStatus(ctx, ticket.ID, developer, "resolved", "replaced toner")
	require.NoError(t, err)
	require.NotNil(t, resolved.ResolvedAt)
	resolvedAt := *resolved.ResolvedAt
	assert.Equal(t, "Status changed from in_progress to resolved: replaced toner", resolved.Updates[2].Description)

	f.advance(time.Hour)
	reopened, err := f.svc.UpdateStatus(ctx, ticket.ID, developer, "open", "")
	require.NoError(t, err)
	assert.Equal(t, domain.TicketStatusOpen, reopened.Status)
	require.NotNil(t, reopened.ResolvedAt)
	assert.Equal(t, resolvedAt, *reopened.ResolvedAt)
	assert.Equal(t, "Status changed from resolved to open", reopened.Updates[3].Description)
}

func TestUpdateStatusPolicy(t *testing.T) {
	f := newTicketFixture(t)
	ctx := context.Background()
	ticket := f.create(t, client, "Printer")

	_, err := f.svc.UpdateStatus(ctx, ticket.ID, developer, "closed", "")
	assertCode(t, err, apperrors.CodeForbidden)

	_, err = f.svc.PickTicket(ctx, ticket.ID, developer)
	require.NoError(t, err)

	_, err = f.svc.UpdateStatus(ctx, ticket.ID, otherDev, "resolved", "")
	assertCode(t, err, apperrors.CodeForbidden)
	_, err = f.svc.UpdateStatus(ctx, ticket.ID, client, "closed", "")
	assertCode(t, err, apperrors.CodeForbidden)
	_, err = f.svc.UpdateStatus(ctx, ticket.ID, developer, "done", "")
	assertCode(t, err, apperrors.CodeValidation)
	_, err = f.svc.UpdateStatus(ctx, "missing", admin, "closed", "")
	assertCode(t, err, apperrors.CodeNotFound)

	closed, err := f.svc.UpdateStatus(ctx, ticket.ID, admin, "closed", "")
	require.NoError(t, err)
	assert.Equal(t, domain.TicketStatusClosed, closed.Status)
	assert.Len(t, closed.Updates, 3)
}

func TestAddComment(t *testing.T) {
	f := newTicketFixture(t)
	ctx := context.Background()
	ticket := f.create(t, client, "Printer")

	commented, err := f.svc.AddComment(ctx, ticket.ID, client, "  any update?  ")
	require.NoError(t, err)
	require.Len(t, commented.Updates, 2)
	assert.Equal(t, domain.UpdateTypeComment, commented.Updates[1].Type)
	assert.Equal(t, "any update?", commented.Updates[1].Description)

	_, err = f.svc.AddComment(ctx, ticket.ID, otherClient, "hello")
	assertCode(t, err, apperrors.CodeForbidden)
	_, err = f.svc.AddComment(ctx, ticket.ID, client, "   ")
	assertCode(t, err, apperrors.CodeValidation)

	_, err = f.svc.AddComment(ctx, ticket.ID, manager, "looking into it")
	require.NoError(t, err)
}

func TestEveryOperationAppendsExactlyOneUpdate(t *testing.T) {
	f := newTicketFixture(t)
	ctx := context.Background()

	ticket := f.create(t, client, "Printer")
	log := ticket.Updates
	require.Len(t, log, 1)

	step := func(name string, op func() (*domain.Ticket, error)) {
		f.advance(time.Minute)
		updated, err := op()
		require.NoError(t, err, name)
		require.Len(t, updated.Updates, len(log)+1, name)
		assert.Equal(t, log, updated.Updates[:len(log)], "%s rewrote history", name)
		log = updated.Updates
	}

	step("escalate", func() (*domain.Ticket, error) {
		return f.svc.Escalate(ctx, ticket.ID, domain.EscalationL2, false)
	})
	step("comment", func() (*domain.Ticket, error) {
		return f.svc.AddComment(ctx, ticket.ID, client, "still broken")
	})
	step("pick", func() (*domain.Ticket, error) {
		return f.svc.PickTicket(ctx, ticket.ID, developer)
	})
	step("status", func() (*domain.Ticket, error) {
		return f.svc.UpdateStatus(ctx, ticket.ID, developer, "resolved", "")
	})
}

func TestEscalateToL2(t *testing.T) {
	f := newTicketFixture(t)
	ticket := f.create(t, client, "Printer")
	f.advance(4 * time.Hour)

	escalated, err := f.svc.Escalate(context.Background(), ticket.ID, domain.EscalationL2, false)
	require.NoError(t, err)

	assert.Equal(t, domain.EscalationL2, escalated.EscalationLevel)
	require.NotNil(t, escalated.EscalatedAt)
	assert.Equal(t, f.now, *escalated.EscalatedAt)
	assert.False(t, escalated.EmailNotificationSent)
	require.Len(t, escalated.Updates, 2)
	last := escalated.Updates[1]
	assert.Equal(t, domain.UpdateTypeEscalation, last.Type)
	assert.Nil(t, last.UpdatedBy)
	assert.Equal(t, "Ticket automatically escalated to L2 due to no response", last.Description)
	assert.Empty(t, f.gateway.Calls())
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.EscalationsTotal.WithLabelValues("L2")))
}

func TestEscalateToL3RecordsNotificationOutcome(t *testing.T) {
	for _, sent := range []bool{true, false} {
		t.Run(fmt.Sprintf("sent=%v", sent), func(t *testing.T) {
			f := newTicketFixture(t)
			f.gateway.result = sent
			ticket := f.create(t, client, "Printer")
			_, err := f.svc.Escalate(context.Background(), ticket.ID, domain.EscalationL2, false)
			require.NoError(t, err)

			escalated, err := f.svc.Escalate(context.Background(), ticket.ID, domain.EscalationL3, true)
			require.NoError(t, err)

			assert.Equal(t, domain.EscalationL3, escalated.EscalationLevel)
			assert.Equal(t, sent, escalated.EmailNotificationSent)
			assert.Equal(t, []string{ticket.TicketNumber + ":L3"}, f.gateway.Calls())

			stored := f.reload(t, ticket.ID)
			assert.Equal(t, domain.EscalationL3, stored.EscalationLevel)
			assert.Equal(t, sent, stored.EmailNotificationSent)
			assert.Len(t, stored.Updates, 3)
		})
	}
}

func TestEscalateIneligibleTickets(t *testing.T) {
	f := newTicketFixture(t)
	ctx := context.Background()

	picked := f.create(t, client, "picked")
	_, err := f.svc.PickTicket(ctx, picked.ID, developer)
	require.NoError(t, err)
	_, err = f.svc.Escalate(ctx, picked.ID, domain.EscalationL2, false)
	assertCode(t, err, apperrors.CodeConflict)

	already := f.create(t, client, "already L2")
	_, err = f.svc.Escalate(ctx, already.ID, domain.EscalationL2, false)
	require.NoError(t, err)
	_, err = f.svc.Escalate(ctx, already.ID, domain.EscalationL2, false)
	assertCode(t, err, apperrors.CodeConflict)

	top := f.create(t, client, "top")
	_, err = f.svc.Escalate(ctx, top.ID, domain.EscalationL3, false)
	require.NoError(t, err)
	_, err = f.svc.Escalate(ctx, top.ID, domain.EscalationL2, false)
	assertCode(t, err, apperrors.CodeConflict)

	_, err = f.svc.Escalate(ctx, top.ID, domain.EscalationNone, false)
	assertCode(t, err, apperrors.CodeValidation)
	_, err = f.svc.Escalate(ctx, "missing", domain.EscalationL2, false)
	assertCode(t, err, apperrors.CodeNotFound)

	assert.Len(t, f.reload(t, picked.ID).Updates, 2)
	assert.Len(t, f.reload(t, already.ID).Updates, 2)
	assert.Empty(t, f.gateway.Calls())
}

func TestListTicketsFiltersAndPages(t *testing.T) {
	f := newTicketFixture(t)
	ctx := context.Background()

	var ids []string
	for i := 0; i < 12; i++ {
		f.advance(time.Minute)
		ids = append(ids, f.create(t, client, fmt.Sprintf("t%02d", i)).ID)
	}
	for _, id := range ids[:4] {
		_, err := f.svc.PickTicket(ctx, id, developer)
		require.NoError(t, err)
	}

	page, err := f.svc.ListTickets(ctx, client, TicketQuery{Status: "open", PageSize: 5})
	require.NoError(t, err)
	assert.Equal(t, 8, page.Total)
	assert.Equal(t, 2, page.TotalPages)
	assert.Equal(t, 1, page.CurrentPage)
	require.Len(t, page.Tickets, 5)
	for _, ticket := range page.Tickets {
		assert.Equal(t, domain.TicketStatusOpen, ticket.Status)
	}
	assert.Equal(t, "t11", page.Tickets[0].Title)

	last, err := f.svc.ListTickets(ctx, client, TicketQuery{Status: "open", Page: 2, PageSize: 5})
	require.NoError(t, err)
	assert.Len(t, last.Tickets, 3)

	all, err := f.svc.ListTickets(ctx, admin, TicketQuery{})
	require.NoError(t, err)
	assert.Equal(t, 12, all.Total)
	assert.Equal(t, 10, all.PageSize)
	assert.Equal(t, 2, all.TotalPages)

	capped, err := f.svc.ListTickets(ctx, admin, TicketQuery{PageSize: 1000})
	require.NoError(t, err)
	assert.Equal(t, 100, capped.PageSize)

	_, err = f.svc.ListTickets(ctx, admin, TicketQuery{Status: "pending"})
	assertCode(t, err, apperrors.CodeValidation)
	_, err = f.svc.ListTickets(ctx, admin, TicketQuery{EscalationLevel: "L9"})
	assertCode(t, err, apperrors.CodeValidation)
}

func TestStats(t *testing.T) {
	f := newTicketFixture(t)
	ctx := context.Background()

	f.now = f.now.Add(-72 * time.Hour)
	old := f.create(t, client, "old")
	f.now = f.now.Add(72 * time.Hour)

	var ids []string
	for i := 0; i < 5; i++ {
		ids = append(ids, f.create(t, client, fmt.Sprintf("t%d", i)).ID)
	}
	for _, id := range []string{ids[0], ids[1], old.ID} {
		_, err := f.svc.PickTicket(ctx, id, developer)
		require.NoError(t, err)
	}
	_, err := f.svc.UpdateStatus(ctx, old.ID, developer, "resolved", "")
	require.NoError(t, err)

	stats, err := f.svc.Stats(ctx, developer)
	require.NoError(t, err)
	assert.Equal(t, domain.TicketStats{Total: 6, Open: 3, InProgress: 2, Resolved: 1, Today: 5}, *stats)
}

func TestListMine(t *testing.T) {
	f := newTicketFixture(t)
	ctx := context.Background()

	mine := f.create(t, client, "mine")
	f.create(t, otherClient, "theirs")
	_, err := f.svc.PickTicket(ctx, mine.ID, developer)
	require.NoError(t, err)

	clientPage, err := f.svc.ListMine(ctx, client, 1, 10)
	require.NoError(t, err)
	require.Len(t, clientPage.Tickets, 1)
	assert.Equal(t, mine.ID, clientPage.Tickets[0].ID)

	devPage, err := f.svc.ListMine(ctx, developer, 1, 10)
	require.NoError(t, err)
	require.Len(t, devPage.Tickets, 1)
	assert.Equal(t, mine.ID, devPage.Tickets[0].ID)

	otherPage, err := f.svc.ListMine(ctx, otherDev, 1, 10)
	require.NoError(t, err)
	assert.Empty(t, otherPage.Tickets)
}

func TestEscalationCandidates(t *testing.T) {
	f := newTicketFixture(t)
	ctx := context.Background()

	oldest := f.create(t, client, "oldest")
	f.advance(time.Hour)
	older := f.create(t, client, "older")
	f.advance(time.Hour)
	picked := f.create(t, client, "picked")
	_, err := f.svc.PickTicket(ctx, picked.ID, developer)
	require.NoError(t, err)
	f.advance(time.Hour)
	f.create(t, client, "fresh")

	cutoff := f.now.Add(-90 * time.Minute)
	candidates, err := f.svc.EscalationCandidates(ctx, domain.EscalationNone, cutoff, false, 10)
	require.NoError(t, err)
	require.Len(t, candidates, 2)
	assert.Equal(t, oldest.ID, candidates[0].ID)
	assert.Equal(t, older.ID, candidates[1].ID)

	limited, err := f.svc.EscalationCandidates(ctx, domain.EscalationNone, cutoff, false, 1)
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, oldest.ID, limited[0].ID)
}

func TestGetTicket(t *testing.T) {
	f := newTicketFixture(t)
	ticket := f.create(t, client, "Printer")

	got, err := f.svc.GetTicket(context.Background(), otherDev, ticket.ID)
	require.NoError(t, err)
	assert.Equal(t, ticket.TicketNumber, got.TicketNumber)

	_, err = f.svc.GetTicket(context.Background(), otherDev, "missing")
	assertCode(t, err, apperrors.CodeNotFound)
}
