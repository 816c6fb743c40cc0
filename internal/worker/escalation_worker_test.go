package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ticketdesk/ticket-service/internal/domain"
	"github.com/ticketdesk/ticket-service/internal/observability"
	"github.com/ticketdesk/ticket-service/internal/repository"
	"github.com/ticketdesk/ticket-service/internal/service"
)

type recordingGateway struct {
	mu     sync.Mutex
	calls  int
	result bool
}

func (g *recordingGateway) SendEscalationEmail(context.Context, *domain.Ticket, domain.EscalationLevel) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	return g.result
}

func (g *recordingGateway) Calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

type workerFixture struct {
	repo    *repository.MemoryTicketRepository
	engine  *service.TicketService
	gateway *recordingGateway
	metrics *observability.Metrics
	worker  *EscalationWorker
	now     time.Time
}

func newWorkerFixture(t *testing.T) *workerFixture {
	t.Helper()
	f := &workerFixture{
		repo:    repository.NewMemoryTicketRepository(),
		gateway: &recordingGateway{result: true},
		metrics: observability.NewMetrics(prometheus.NewRegistry()),
		now:     time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}
	clock := func() time.Time { return f.now }
	f.engine = service.NewTicketService(service.TicketDependencies{
		TicketRepo: f.repo,
		Gateway:    f.gateway,
		Metrics:    f.metrics,
	})
	f.engine.Now = clock
	f.worker = NewEscalationWorker(f.engine, EscalationWorkerConfig{}, f.metrics, zap.NewNop())
	f.worker.Now = clock
	return f
}

func (f *workerFixture) seed(t *testing.T, age time.Duration, level domain.EscalationLevel, picked bool) *domain.Ticket {
	t.Helper()
	created := f.now.Add(-age)
	ticket := &domain.Ticket{
		Title:           "stale",
		Description:     "nobody answered",
		Priority:        domain.TicketPriorityMedium,
		Status:          domain.TicketStatusOpen,
		CreatedBy:       "client-1",
		EscalationLevel: level,
		CreatedAt:       created,
		Updates: []domain.TicketUpdate{{
			Type:        domain.UpdateTypeStatusChange,
			Description: "Ticket created with status open",
			Timestamp:   created,
		}},
	}
	if picked {
		picker := "dev-1"
		ticket.PickedBy = &picker
		ticket.AssignedTo = &picker
		ticket.PickedAt = &created
		ticket.Status = domain.TicketStatusInProgress
	}
	require.NoError(t, f.repo.Create(context.Background(), ticket))
	return ticket
}

func (f *workerFixture) reload(t *testing.T, id string) *domain.Ticket {
	t.Helper()
	ticket, err := f.repo.GetByID(context.Background(), id)
	require.NoError(t, err)
	return ticket
}

func TestRunOnceEscalatesStaleTicketToL2(t *testing.T) {
	f := newWorkerFixture(t)
	ticket := f.seed(t, 4*time.Hour, domain.EscalationNone, false)

	report, err := f.worker.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, RunReport{EscalatedL2: 1}, report)

	stored := f.reload(t, ticket.ID)
	assert.Equal(t, domain.EscalationL2, stored.EscalationLevel)
	require.NotNil(t, stored.EscalatedAt)
	assert.Equal(t, f.now, *stored.EscalatedAt)
	require.Len(t, stored.Updates, 2)
	assert.Equal(t, domain.UpdateTypeEscalation, stored.Updates[1].Type)
	assert.False(t, stored.EmailNotificationSent)
	assert.Zero(t, f.gateway.Calls())
}

func TestRunOnceEscalatesL2ToL3WithOneNotification(t *testing.T) {
	for _, sent := range []bool{true, false} {
		f := newWorkerFixture(t)
		f.gateway.result = sent
		ticket := f.seed(t, 11*time.Hour, domain.EscalationL2, false)

		report, err := f.worker.RunOnce(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 1, report.EscalatedL3)

		stored := f.reload(t, ticket.ID)
		assert.Equal(t, domain.EscalationL3, stored.EscalationLevel)
		assert.Equal(t, sent, stored.EmailNotificationSent)
		assert.Len(t, stored.Updates, 2)
		assert.Equal(t, 1, f.gateway.Calls())

		f.now = f.now.Add(time.Hour)
		_, err = f.worker.RunOnce(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 1, f.gateway.Calls(), "L3 tickets are alerted at most once")
		assert.Len(t, f.reload(t, ticket.ID).Updates, 2)
	}
}

func TestRunOnceLeavesYoungTicketsAlone(t *testing.T) {
	f := newWorkerFixture(t)
	fresh := f.seed(t, 2*time.Hour, domain.EscalationNone, false)
	l2 := f.seed(t, 9*time.Hour, domain.EscalationL2, false)

	report, err := f.worker.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, RunReport{}, report)
	assert.Equal(t, domain.EscalationNone, f.reload(t, fresh.ID).EscalationLevel)
	assert.Equal(t, domain.EscalationL2, f.reload(t, l2.ID).EscalationLevel)
}

func TestRunOnceNeverEscalatesPickedTickets(t *testing.T) {
	f := newWorkerFixture(t)
	picked := f.seed(t, 48*time.Hour, domain.EscalationNone, true)
	pickedL2 := f.seed(t, 48*time.Hour, domain.EscalationL2, true)

	// A picked ticket moved back to open is still owned by its picker.
	_, err := f.repo.Update(context.Background(), pickedL2.ID, func(t *domain.Ticket) error {
		t.Status = domain.TicketStatusOpen
		return nil
	})
	require.NoError(t, err)

	report, err := f.worker.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, RunReport{}, report)
	assert.Equal(t, domain.EscalationNone, f.reload(t, picked.ID).EscalationLevel)
	assert.Equal(t, domain.EscalationL2, f.reload(t, pickedL2.ID).EscalationLevel)
	assert.Zero(t, f.gateway.Calls())
}

func TestRunOnceRespectsBatchSize(t *testing.T) {
	f := newWorkerFixture(t)
	f.worker.Config.BatchSize = 2
	oldest := f.seed(t, 6*time.Hour, domain.EscalationNone, false)
	middle := f.seed(t, 5*time.Hour, domain.EscalationNone, false)
	newest := f.seed(t, 4*time.Hour, domain.EscalationNone, false)

	report, err := f.worker.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, report.EscalatedL2)
	assert.Equal(t, domain.EscalationL2, f.reload(t, oldest.ID).EscalationLevel)
	assert.Equal(t, domain.EscalationL2, f.reload(t, middle.ID).EscalationLevel)
	assert.Equal(t, domain.EscalationNone, f.reload(t, newest.ID).EscalationLevel)

	report, err = f.worker.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.EscalatedL2)
	assert.Equal(t, domain.EscalationL2, f.reload(t, newest.ID).EscalationLevel)
}

type flakyEscalator struct {
	Escalator
	failID string
}

func (e flakyEscalator) Escalate(ctx context.Context, id string, tier domain.EscalationLevel, notify bool) (*domain.Ticket, error) {
	if id == e.failID {
		return nil, errors.New("database unavailable")
	}
	return e.Escalator.Escalate(ctx, id, tier, notify)
}

func TestRunOnceIsolatesPerTicketFailures(t *testing.T) {
	f := newWorkerFixture(t)
	broken := f.seed(t, 5*time.Hour, domain.EscalationNone, false)
	healthy := f.seed(t, 4*time.Hour, domain.EscalationNone, false)
	f.worker.Engine = flakyEscalator{Escalator: f.engine, failID: broken.ID}

	report, err := f.worker.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, 1, report.EscalatedL2)
	assert.Equal(t, domain.EscalationNone, f.reload(t, broken.ID).EscalationLevel)
	assert.Equal(t, domain.EscalationL2, f.reload(t, healthy.ID).EscalationLevel)
}

type blockingEscalator struct {
	Escalator
	entered chan struct{}
	release chan struct{}
}

func (e blockingEscalator) EscalationCandidates(ctx context.Context, level domain.EscalationLevel, cutoff time.Time, unnotified bool, limit int) ([]domain.Ticket, error) {
	if level == domain.EscalationNone {
		close(e.entered)
		<-e.release
	}
	return e.Escalator.EscalationCandidates(ctx, level, cutoff, unnotified, limit)
}

func TestRunOnceSkipsWhileAnotherRunIsInFlight(t *testing.T) {
	f := newWorkerFixture(t)
	ticket := f.seed(t, 4*time.Hour, domain.EscalationNone, false)
	blocker := blockingEscalator{
		Escalator: f.engine,
		entered:   make(chan struct{}),
		release:   make(chan struct{}),
	}
	f.worker.Engine = blocker

	done := make(chan RunReport, 1)
	go func() {
		report, _ := f.worker.RunOnce(context.Background())
		done <- report
	}()
	<-blocker.entered

	_, err := f.worker.RunOnce(context.Background())
	assert.ErrorIs(t, err, ErrRunInProgress)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.SchedulerRuns.WithLabelValues("skipped")))

	close(blocker.release)
	report := <-done
	assert.Equal(t, 1, report.EscalatedL2)
	assert.Len(t, f.reload(t, ticket.ID).Updates, 2)
}

func TestStartAndStop(t *testing.T) {
	f := newWorkerFixture(t)
	f.worker.Config.Interval = 10 * time.Millisecond
	ticket := f.seed(t, 4*time.Hour, domain.EscalationNone, false)

	f.worker.Start(context.Background())
	require.Eventually(t, func() bool {
		return f.reload(t, ticket.ID).EscalationLevel == domain.EscalationL2
	}, 2*time.Second, 10*time.Millisecond)
	f.worker.Stop()
	f.worker.Stop()

	assert.Len(t, f.reload(t, ticket.ID).Updates, 2)
}
